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

// Ping acknowledges the delivery GitHub sends when the webhook is first
// configured.
type Ping struct{}

func (h *Ping) Handles() []string {
	return []string{"ping"}
}

func (h *Ping) Handle(ctx context.Context, event githubapp.Event) error {
	payload, ok := event.Payload.(*github.PingEvent)
	if !ok {
		return errors.Errorf("unexpected payload type %T for ping event", event.Payload)
	}

	zerolog.Ctx(ctx).Info().
		Int64("hook_id", payload.GetHookID()).
		Msgf("Webhook configured: %s", payload.GetZen())
	return nil
}
