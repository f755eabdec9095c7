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
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gitmill/gitmill/githubapp"
)

type fakeRepoServer struct {
	deleted []string
	status  int
}

func (f *fakeRepoServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/app/installations/42/access_tokens", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		expiry := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
		fmt.Fprintf(w, `{"token":"v1.test","expires_at":%q}`, expiry)
	})
	mux.HandleFunc("/repos/mill/widgets/git/refs/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			http.Error(w, "unexpected method", http.StatusMethodNotAllowed)
			return
		}
		f.deleted = append(f.deleted, r.URL.Path)

		status := f.status
		if status == 0 {
			status = http.StatusNoContent
		}
		if status >= 400 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			fmt.Fprint(w, `{"message":"Reference does not exist"}`)
			return
		}
		w.WriteHeader(status)
	})
	return mux
}

func newPullRequestHandler(t *testing.T, baseURL string, opts BranchCleanup) *PullRequest {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	pemBytes := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})

	cc, err := githubapp.NewClientCreator(baseURL, baseURL, 1234, pemBytes)
	require.NoError(t, err)

	return &PullRequest{
		Base: Base{
			ClientCreator: cc,
			Options:       &opts,
		},
	}
}

func pullRequestEvent(t *testing.T, action, branch string, merged, fork bool) githubapp.Event {
	t.Helper()

	headRepoID := 1
	if fork {
		headRepoID = 2
	}

	payload := fmt.Sprintf(`{
		"action": %q,
		"number": 7,
		"installation": {"id": 42},
		"repository": {
			"id": 1,
			"name": "widgets",
			"default_branch": "main",
			"owner": {"login": "mill"}
		},
		"pull_request": {
			"number": 7,
			"merged": %t,
			"head": {
				"ref": %q,
				"repo": {"id": %d}
			}
		}
	}`, action, merged, branch, headRepoID)

	event, err := githubapp.ParseEvent("pull_request", "test-delivery", []byte(payload))
	require.NoError(t, err)
	return event
}

func TestPullRequestDeletesMergedBranch(t *testing.T) {
	srv := &fakeRepoServer{}
	ts := httptest.NewServer(srv.handler())
	defer ts.Close()

	h := newPullRequestHandler(t, ts.URL+"/", BranchCleanup{DeleteMergedBranches: true})

	err := h.Handle(context.Background(), pullRequestEvent(t, "closed", "feature", true, false))
	require.NoError(t, err)

	assert.Equal(t, []string{"/repos/mill/widgets/git/refs/heads/feature"}, srv.deleted)
}

func TestPullRequestSkipsBranches(t *testing.T) {
	tests := map[string]githubapp.Event{}

	srv := &fakeRepoServer{}
	ts := httptest.NewServer(srv.handler())
	defer ts.Close()

	h := newPullRequestHandler(t, ts.URL+"/", BranchCleanup{
		DeleteMergedBranches:    true,
		ProtectedBranchPatterns: []string{"release/*"},
	})

	tests["closedWithoutMerge"] = pullRequestEvent(t, "closed", "feature", false, false)
	tests["opened"] = pullRequestEvent(t, "opened", "feature", false, false)
	tests["forkBranch"] = pullRequestEvent(t, "closed", "feature", true, true)
	tests["defaultBranch"] = pullRequestEvent(t, "closed", "main", true, false)
	tests["protectedPattern"] = pullRequestEvent(t, "closed", "release/1.2", true, false)

	for name, event := range tests {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, h.Handle(context.Background(), event))
			assert.Empty(t, srv.deleted, "no branch should be deleted")
		})
	}
}

func TestPullRequestDisabled(t *testing.T) {
	srv := &fakeRepoServer{}
	ts := httptest.NewServer(srv.handler())
	defer ts.Close()

	h := newPullRequestHandler(t, ts.URL+"/", BranchCleanup{})

	err := h.Handle(context.Background(), pullRequestEvent(t, "closed", "feature", true, false))
	require.NoError(t, err)
	assert.Empty(t, srv.deleted)
}

func TestPullRequestBranchAlreadyGone(t *testing.T) {
	srv := &fakeRepoServer{status: http.StatusUnprocessableEntity}
	ts := httptest.NewServer(srv.handler())
	defer ts.Close()

	h := newPullRequestHandler(t, ts.URL+"/", BranchCleanup{DeleteMergedBranches: true})

	err := h.Handle(context.Background(), pullRequestEvent(t, "closed", "feature", true, false))
	assert.NoError(t, err, "a missing ref is not an error")
}
