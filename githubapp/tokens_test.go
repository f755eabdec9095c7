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
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeExchange struct {
	calls  int64
	tokens map[int64]installationToken
	errs   map[int64]error
	delay  time.Duration
}

func (f *fakeExchange) exchange(ctx context.Context, installationID int64) (installationToken, error) {
	atomic.AddInt64(&f.calls, 1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if err := f.errs[installationID]; err != nil {
		return installationToken{}, err
	}
	tok, ok := f.tokens[installationID]
	if !ok {
		return installationToken{}, errors.Errorf("no token for installation %d", installationID)
	}
	return tok, nil
}

func (f *fakeExchange) count() int64 {
	return atomic.LoadInt64(&f.calls)
}

func TestInstallationTokensCaching(t *testing.T) {
	start := time.Date(2022, 6, 15, 12, 0, 0, 0, time.UTC)
	expiry := start.Add(10 * time.Minute)

	fake := &fakeExchange{
		tokens: map[int64]installationToken{
			42: {token: "v1.first", expiresAt: expiry},
		},
	}

	cache := newInstallationTokens(fake.exchange, 30*time.Second)
	now := start
	cache.now = func() time.Time { return now }

	ctx := context.Background()

	tok, err := cache.Token(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, "v1.first", tok)
	assert.EqualValues(t, 1, fake.count())

	// later lookups with plenty of validity left hit the cache
	now = start.Add(500 * time.Second)
	tok, err = cache.Token(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, "v1.first", tok)
	assert.EqualValues(t, 1, fake.count(), "valid token must not trigger an exchange")

	// within the refresh margin of expiry, the token is exchanged again
	fake.tokens[42] = installationToken{token: "v1.second", expiresAt: expiry.Add(time.Hour)}
	now = start.Add(590 * time.Second)
	tok, err = cache.Token(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, "v1.second", tok)
	assert.EqualValues(t, 2, fake.count(), "token inside the margin must be refreshed")
}

func TestInstallationTokensExpiredToken(t *testing.T) {
	start := time.Date(2022, 6, 15, 12, 0, 0, 0, time.UTC)

	fake := &fakeExchange{
		tokens: map[int64]installationToken{
			42: {token: "v1.first", expiresAt: start.Add(time.Hour)},
		},
	}

	cache := newInstallationTokens(fake.exchange, 30*time.Second)
	now := start
	cache.now = func() time.Time { return now }

	_, err := cache.Token(context.Background(), 42)
	require.NoError(t, err)

	fake.tokens[42] = installationToken{token: "v1.second", expiresAt: start.Add(3 * time.Hour)}
	now = start.Add(2 * time.Hour)

	tok, err := cache.Token(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, "v1.second", tok, "expired token must never be returned")
}

func TestInstallationTokensSingleExchange(t *testing.T) {
	start := time.Date(2022, 6, 15, 12, 0, 0, 0, time.UTC)

	fake := &fakeExchange{
		tokens: map[int64]installationToken{
			42: {token: "v1.shared", expiresAt: start.Add(time.Hour)},
		},
		delay: 20 * time.Millisecond,
	}

	cache := newInstallationTokens(fake.exchange, 30*time.Second)
	cache.now = func() time.Time { return start }

	const callers = 16

	var wg sync.WaitGroup
	results := make([]string, callers)
	errs := make([]error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = cache.Token(context.Background(), 42)
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "v1.shared", results[i])
	}
	assert.EqualValues(t, 1, fake.count(), "concurrent lookups must share one exchange call")
}

func TestInstallationTokensSharedError(t *testing.T) {
	exchangeErr := errors.New("exchange failed")
	fake := &fakeExchange{
		errs:  map[int64]error{42: exchangeErr},
		delay: 20 * time.Millisecond,
	}

	cache := newInstallationTokens(fake.exchange, 30*time.Second)

	const callers = 8

	var wg sync.WaitGroup
	errs := make([]error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = cache.Token(context.Background(), 42)
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		assert.EqualError(t, errors.Cause(errs[i]), "exchange failed")
	}
	assert.EqualValues(t, 1, fake.count(), "concurrent lookups must share one failure")

	// failures are not cached, so the next lookup retries
	delete(fake.errs, 42)
	fake.tokens = map[int64]installationToken{
		42: {token: "v1.recovered", expiresAt: time.Now().Add(time.Hour)},
	}

	tok, err := cache.Token(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, "v1.recovered", tok)
}

func TestInstallationTokensIndependentInstallations(t *testing.T) {
	start := time.Date(2022, 6, 15, 12, 0, 0, 0, time.UTC)

	fake := &fakeExchange{
		tokens: map[int64]installationToken{},
		errs:   map[int64]error{},
	}
	for id := int64(1); id <= 4; id++ {
		fake.tokens[id] = installationToken{
			token:     fmt.Sprintf("v1.install-%d", id),
			expiresAt: start.Add(time.Hour),
		}
	}
	fake.errs[3] = errors.New("installation suspended")

	cache := newInstallationTokens(fake.exchange, 30*time.Second)
	cache.now = func() time.Time { return start }

	ctx := context.Background()

	for id := int64(1); id <= 4; id++ {
		tok, err := cache.Token(ctx, id)
		if id == 3 {
			assert.Error(t, err, "installation 3 must fail")
			continue
		}
		require.NoError(t, err, "installation %d", id)
		assert.Equal(t, fmt.Sprintf("v1.install-%d", id), tok)
	}

	// the failure for installation 3 must not evict or block the others
	calls := fake.count()
	for _, id := range []int64{1, 2, 4} {
		tok, err := cache.Token(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("v1.install-%d", id), tok)
	}
	assert.Equal(t, calls, fake.count(), "healthy installations must stay cached")
}

func TestInstallationTokensDefaultMargin(t *testing.T) {
	cache := newInstallationTokens(nil, 0)
	assert.Equal(t, DefaultTokenRefreshMargin, cache.margin)
}
