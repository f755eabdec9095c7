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
	"net/http"
	"path"

	"github.com/google/go-github/v65/github"
	"github.com/pkg/errors"

	"github.com/gitmill/gitmill/githubapp"
)

// PullRequest deletes the head branch of pull requests after they merge.
type PullRequest struct {
	Base
}

func (h *PullRequest) Handles() []string {
	return []string{"pull_request"}
}

func (h *PullRequest) Handle(ctx context.Context, event githubapp.Event) error {
	payload, ok := event.Payload.(*github.PullRequestEvent)
	if !ok {
		return errors.Errorf("unexpected payload type %T for pull_request event", event.Payload)
	}

	if payload.GetAction() != "closed" {
		return nil
	}

	installationID := githubapp.GetInstallationIDFromEvent(event)
	repo := payload.GetRepo()
	pr := payload.GetPullRequest()

	ctx, logger := githubapp.PreparePRContext(ctx, installationID, repo, pr.GetNumber())

	if !h.Options.DeleteMergedBranches {
		return nil
	}
	if !pr.GetMerged() {
		logger.Debug().Msg("Pull request closed without merging, leaving head branch alone")
		return nil
	}

	head := pr.GetHead()
	branch := head.GetRef()

	// branches in forks belong to someone else
	if head.GetRepo().GetID() != repo.GetID() {
		logger.Debug().Msgf("Head branch %q is in a fork, leaving it alone", branch)
		return nil
	}

	if h.isProtected(branch, repo.GetDefaultBranch()) {
		logger.Debug().Msgf("Head branch %q is protected, leaving it alone", branch)
		return nil
	}

	client, err := h.NewInstallationClient(installationID)
	if err != nil {
		return err
	}

	if _, err := client.Git.DeleteRef(ctx, repo.GetOwner().GetLogin(), repo.GetName(), "heads/"+branch); err != nil {
		// another process or GitHub's own cleanup may have beaten us to it
		if isRefMissing(err) {
			logger.Debug().Msgf("Head branch %q is already gone", branch)
			return nil
		}
		return errors.Wrapf(err, "failed to delete branch %q", branch)
	}

	logger.Info().Msgf("Deleted merged branch %q", branch)
	return nil
}

func (h *PullRequest) isProtected(branch, defaultBranch string) bool {
	if branch == defaultBranch {
		return true
	}
	for _, pattern := range h.Options.ProtectedBranchPatterns {
		if ok, _ := path.Match(pattern, branch); ok {
			return true
		}
	}
	return false
}

func isRefMissing(err error) bool {
	var rerr *github.ErrorResponse
	if errors.As(err, &rerr) && rerr.Response != nil {
		code := rerr.Response.StatusCode
		return code == http.StatusNotFound || code == http.StatusUnprocessableEntity
	}
	return false
}
