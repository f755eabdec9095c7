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
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeGitHub serves the endpoints the client creator touches: the token
// exchange and a probe endpoint that echoes the Authorization header.
type fakeGitHub struct {
	exchanges int64
	token     string
}

func (f *fakeGitHub) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/app/installations/42/access_tokens", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&f.exchanges, 1)

		if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
			http.Error(w, "expected app JWT", http.StatusUnauthorized)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		expiry := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
		fmt.Fprintf(w, `{"token":%q,"expires_at":%q}`, f.token, expiry)
	})
	mux.HandleFunc("/auth/echo", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"authorization":%q,"user_agent":%q}`, r.Header.Get("Authorization"), r.Header.Get("User-Agent"))
	})
	return mux
}

func newTestClientCreator(t *testing.T, baseURL string, opts ...ClientOption) ClientCreator {
	t.Helper()

	_, pemBytes := generateKey(t)

	cc, err := NewClientCreator(baseURL, baseURL, 1234, pemBytes, opts...)
	require.NoError(t, err)
	return cc
}

type echoResponse struct {
	Authorization string `json:"authorization"`
	UserAgent     string `json:"user_agent"`
}

func TestClientCreatorAppClient(t *testing.T) {
	fake := &fakeGitHub{token: "v1.install"}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	cc := newTestClientCreator(t, srv.URL+"/", WithClientUserAgent("gitmill/test"))

	client, err := cc.NewAppClient()
	require.NoError(t, err)

	req, err := client.NewRequest(http.MethodGet, "auth/echo", nil)
	require.NoError(t, err)

	var echo echoResponse
	_, err = client.Do(context.Background(), req, &echo)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(echo.Authorization, "Bearer "), "app clients authenticate with a JWT, got %q", echo.Authorization)
	assert.Equal(t, "gitmill/test (application)", echo.UserAgent)
}

func TestClientCreatorInstallationClient(t *testing.T) {
	fake := &fakeGitHub{token: "v1.install"}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	cc := newTestClientCreator(t, srv.URL+"/", WithClientUserAgent("gitmill/test"))

	client, err := cc.NewInstallationClient(42)
	require.NoError(t, err)

	var echo echoResponse
	for i := 0; i < 3; i++ {
		req, err := client.NewRequest(http.MethodGet, "auth/echo", nil)
		require.NoError(t, err)

		_, err = client.Do(context.Background(), req, &echo)
		require.NoError(t, err)

		assert.Equal(t, "token v1.install", echo.Authorization)
	}

	assert.EqualValues(t, 1, atomic.LoadInt64(&fake.exchanges), "the installation token must be exchanged once and cached")
	assert.Equal(t, "gitmill/test (installation: 42)", echo.UserAgent)
}

func TestClientCreatorSharedTokenCache(t *testing.T) {
	fake := &fakeGitHub{token: "v1.install"}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	cc := newTestClientCreator(t, srv.URL+"/")

	// separate clients for the same installation share the token cache
	for i := 0; i < 2; i++ {
		client, err := cc.NewInstallationClient(42)
		require.NoError(t, err)

		req, err := client.NewRequest(http.MethodGet, "auth/echo", nil)
		require.NoError(t, err)

		_, err = client.Do(context.Background(), req, nil)
		require.NoError(t, err)
	}

	assert.EqualValues(t, 1, atomic.LoadInt64(&fake.exchanges))
}

func TestClientCreatorTokenClient(t *testing.T) {
	fake := &fakeGitHub{}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	cc := newTestClientCreator(t, srv.URL+"/")

	client, err := cc.NewTokenClient("v1.personal")
	require.NoError(t, err)

	req, err := client.NewRequest(http.MethodGet, "auth/echo", nil)
	require.NoError(t, err)

	var echo echoResponse
	_, err = client.Do(context.Background(), req, &echo)
	require.NoError(t, err)

	assert.Equal(t, "Bearer v1.personal", echo.Authorization)
	assert.EqualValues(t, 0, atomic.LoadInt64(&fake.exchanges), "token clients never exchange")
}

func TestClientCreatorUserAgentDefault(t *testing.T) {
	assert.Equal(t, "gitmill/undefined (application)", makeUserAgent("", "application"))
	assert.Equal(t, "gitmill/test (installation: 7)", makeUserAgent("gitmill/test", "installation: 7"))
}

func TestCachingClientCreator(t *testing.T) {
	_, pemBytes := generateKey(t)

	delegate, err := NewClientCreator("https://api.github.com/", "https://api.github.com/graphql", 1234, pemBytes)
	require.NoError(t, err)

	cc, err := NewCachingClientCreator(delegate, DefaultCachingClientCapacity)
	require.NoError(t, err)

	first, err := cc.NewInstallationClient(42)
	require.NoError(t, err)
	second, err := cc.NewInstallationClient(42)
	require.NoError(t, err)
	assert.Same(t, first, second, "clients for the same installation are memoized")

	other, err := cc.NewInstallationClient(43)
	require.NoError(t, err)
	assert.NotSame(t, first, other)

	firstApp, err := cc.NewAppClient()
	require.NoError(t, err)
	secondApp, err := cc.NewAppClient()
	require.NoError(t, err)
	assert.NotSame(t, firstApp, secondApp, "app clients are not cached")
}

func TestNewClientCreatorBaseURLs(t *testing.T) {
	_, pemBytes := generateKey(t)

	cc, err := NewClientCreator("https://github.example.com/api/v3", "https://github.example.com/api/graphql/", 1234, pemBytes)
	require.NoError(t, err)

	creator := cc.(*clientCreator)
	assert.Equal(t, "https://github.example.com/api/v3/", creator.v3BaseURL, "v3 URL gains a trailing slash")
	assert.Equal(t, "https://github.example.com/api/graphql", creator.v4BaseURL, "v4 URL loses the trailing slash")
}
