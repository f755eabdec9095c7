// Copyright 2019 Gitmill Authors
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

package githubapp

import (
	"net/http"
)

// appsTransport authenticates requests as the application by attaching a
// bearer JWT. It is used for app-level endpoints, including the token
// exchange that creates installation tokens.
type appsTransport struct {
	source *appTokenSource
	next   http.RoundTripper
}

func (t *appsTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	token, err := t.source.Token()
	if err != nil {
		return nil, err
	}

	r = cloneRequest(r)
	r.Header.Set("Authorization", "Bearer "+token)
	return t.next.RoundTrip(r)
}

// installationTransport authenticates requests as an installation. The token
// is resolved from the shared cache on every request, so a long-lived client
// always sends a token that was valid when the request started.
type installationTransport struct {
	tokens         *installationTokens
	installationID int64
	next           http.RoundTripper
}

func (t *installationTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	token, err := t.tokens.Token(r.Context(), t.installationID)
	if err != nil {
		return nil, err
	}

	r = cloneRequest(r)
	r.Header.Set("Authorization", "token "+token)
	return t.next.RoundTrip(r)
}

// cloneRequest returns a shallow copy of r with a copied header map, since a
// RoundTripper must not modify its input request.
func cloneRequest(r *http.Request) *http.Request {
	clone := new(http.Request)
	*clone = *r
	clone.Header = r.Header.Clone()
	return clone
}
