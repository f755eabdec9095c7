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
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	// DefaultTokenRefreshMargin is the remaining validity below which a
	// cached installation token is refreshed instead of returned.
	DefaultTokenRefreshMargin = 30 * time.Second
)

// installationToken is an access token scoped to a single installation.
type installationToken struct {
	token     string
	expiresAt time.Time
}

func (t installationToken) isValid(now time.Time, margin time.Duration) bool {
	return t.token != "" && t.expiresAt.Sub(now) > margin
}

// tokenExchange trades an app JWT for an installation access token by
// calling GitHub's access token endpoint.
type tokenExchange func(ctx context.Context, installationID int64) (installationToken, error)

// installationTokens caches installation access tokens and refreshes them
// lazily when a lookup finds the cached token missing or expiring within the
// margin. Refreshes are deduplicated per installation: all callers that
// observe the same expired entry join a single exchange call and share its
// token or error. A failed exchange is not cached, so the next lookup
// retries, and it never affects entries for other installations.
type installationTokens struct {
	exchange tokenExchange
	margin   time.Duration
	now      func() time.Time

	mu     sync.RWMutex
	tokens map[int64]installationToken
	group  singleflight.Group
}

func newInstallationTokens(exchange tokenExchange, margin time.Duration) *installationTokens {
	if margin <= 0 {
		margin = DefaultTokenRefreshMargin
	}
	return &installationTokens{
		exchange: exchange,
		margin:   margin,
		now:      time.Now,
		tokens:   make(map[int64]installationToken),
	}
}

// Token returns a valid access token for the installation, performing at
// most one concurrent exchange call per installation ID.
func (c *installationTokens) Token(ctx context.Context, installationID int64) (string, error) {
	if tok, ok := c.cached(installationID); ok {
		return tok.token, nil
	}

	key := strconv.FormatInt(installationID, 10)
	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		// The refresh this caller queued behind may have already stored a
		// fresh token.
		if tok, ok := c.cached(installationID); ok {
			return tok, nil
		}

		tok, err := c.exchange(ctx, installationID)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.tokens[installationID] = tok
		c.mu.Unlock()
		return tok, nil
	})
	if err != nil {
		return "", err
	}
	return v.(installationToken).token, nil
}

func (c *installationTokens) cached(installationID int64) (installationToken, bool) {
	c.mu.RLock()
	tok, ok := c.tokens[installationID]
	c.mu.RUnlock()

	if !ok || !tok.isValid(c.now(), c.margin) {
		return installationToken{}, false
	}
	return tok, true
}
