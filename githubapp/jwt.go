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
	"crypto/rsa"
	"strconv"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/pkg/errors"
)

const (
	// DefaultJWTLifetime is the validity window of minted app JWTs. GitHub
	// rejects tokens that expire more than ten minutes after its own clock,
	// so the default stays slightly under that cap to tolerate drift.
	DefaultJWTLifetime = 9*time.Minute + 30*time.Second

	// DefaultJWTClockSkew is subtracted from the issued-at claim so that a
	// token minted on a fast local clock is not rejected as "issued in the
	// future" by GitHub.
	DefaultJWTClockSkew = time.Minute

	// jwtReuseMargin is the minimum remaining validity for a previously
	// minted JWT to be reused instead of minting a fresh one. Reuse is an
	// optimization only; overlapping validity windows are harmless.
	jwtReuseMargin = 30 * time.Second
)

// appTokenSource mints RS256-signed JWTs that authenticate the application
// itself, as opposed to one of its installations. The most recent token is
// reused while it has more than jwtReuseMargin of validity left.
type appTokenSource struct {
	integrationID int64
	key           *rsa.PrivateKey
	lifetime      time.Duration
	skew          time.Duration
	now           func() time.Time

	mu      sync.Mutex
	current string
	expiry  time.Time
}

func newAppTokenSource(integrationID int64, privKey []byte, lifetime, skew time.Duration) (*appTokenSource, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM(privKey)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse private key")
	}

	if lifetime <= 0 {
		lifetime = DefaultJWTLifetime
	}
	if skew <= 0 {
		skew = DefaultJWTClockSkew
	}

	return &appTokenSource{
		integrationID: integrationID,
		key:           key,
		lifetime:      lifetime,
		skew:          skew,
		now:           time.Now,
	}, nil
}

// Token returns a JWT for the application, minting one if the cached token
// is missing or expires within jwtReuseMargin.
func (s *appTokenSource) Token() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if s.current != "" && s.expiry.Sub(now) > jwtReuseMargin {
		return s.current, nil
	}

	token, expiry, err := s.mint(now)
	if err != nil {
		return "", err
	}

	s.current = token
	s.expiry = expiry
	return token, nil
}

func (s *appTokenSource) mint(now time.Time) (string, time.Time, error) {
	// GitHub requires integer timestamps.
	now = now.Truncate(time.Second)
	expiry := now.Add(s.lifetime)

	claims := &jwt.RegisteredClaims{
		Issuer:    strconv.FormatInt(s.integrationID, 10),
		IssuedAt:  jwt.NewNumericDate(now.Add(-s.skew)),
		ExpiresAt: jwt.NewNumericDate(expiry),
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(s.key)
	if err != nil {
		return "", time.Time{}, errors.Wrap(err, "failed to sign app JWT")
	}
	return token, expiry, nil
}
