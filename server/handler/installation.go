// Copyright 2018 Gitmill Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package handler

import (
	"context"

	"github.com/google/go-github/v65/github"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/gitmill/gitmill/githubapp"
)

// Installation records changes to the app's installations.
type Installation struct {
	Base
}

func (h *Installation) Handles() []string {
	return []string{"installation", "installation_repositories"}
}

func (h *Installation) Handle(ctx context.Context, event githubapp.Event) error {
	logger := zerolog.Ctx(ctx)

	switch payload := event.Payload.(type) {
	case *github.InstallationEvent:
		logger.Info().
			Int64(githubapp.LogKeyInstallationID, payload.GetInstallation().GetID()).
			Str("account", payload.GetInstallation().GetAccount().GetLogin()).
			Msgf("Installation %s", payload.GetAction())

	case *github.InstallationRepositoriesEvent:
		logger.Info().
			Int64(githubapp.LogKeyInstallationID, payload.GetInstallation().GetID()).
			Int("added", len(payload.RepositoriesAdded)).
			Int("removed", len(payload.RepositoriesRemoved)).
			Msg("Installation repositories changed")

	default:
		return errors.Errorf("unexpected payload type %T for %s event", event.Payload, event.Type)
	}
	return nil
}
