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
	"net/url"
	"strings"
	"time"

	"github.com/google/go-github/v65/github"
	"github.com/gregjones/httpcache"
	"github.com/pkg/errors"
	"github.com/shurcooL/githubv4"
	"golang.org/x/oauth2"
)

type ClientCreator interface {
	// NewAppClient returns a new github.Client that authenticates as the
	// application itself using a signed JWT. App clients can retrieve
	// management information about the app and create installation tokens,
	// but cannot act on repository contents.
	NewAppClient() (*github.Client, error)

	// NewAppV4Client returns an app-authenticated v4 API client, similar to
	// NewAppClient.
	NewAppV4Client() (*githubv4.Client, error)

	// NewInstallationClient returns a new github.Client that authenticates
	// as the given installation of the app. The installation access token is
	// resolved from a shared cache on every request and is refreshed through
	// a single exchange call per installation when it is missing or close to
	// expiry, no matter how many clients or requests trigger the refresh.
	NewInstallationClient(installationID int64) (*github.Client, error)

	// NewInstallationV4Client returns an installation-authenticated v4 API
	// client, similar to NewInstallationClient.
	NewInstallationV4Client(installationID int64) (*githubv4.Client, error)

	// NewTokenClient returns a *github.Client that uses the passed in OAuth
	// token for authentication.
	NewTokenClient(token string) (*github.Client, error)

	// NewTokenV4Client returns a *githubv4.Client that uses the passed in
	// OAuth token for authentication.
	NewTokenV4Client(token string) (*githubv4.Client, error)
}

// NewClientCreator returns a ClientCreator for installations of the app
// specified by the provided arguments. The key bytes must be a PEM-encoded
// PKCS1 or PKCS8 RSA private key for the application.
func NewClientCreator(v3BaseURL, v4BaseURL string, integrationID int64, privKeyBytes []byte, opts ...ClientOption) (ClientCreator, error) {
	cc := &clientCreator{
		v3BaseURL:     v3BaseURL,
		v4BaseURL:     v4BaseURL,
		integrationID: integrationID,
	}

	for _, opt := range opts {
		opt(cc)
	}

	if !strings.HasSuffix(cc.v3BaseURL, "/") {
		cc.v3BaseURL += "/"
	}

	// graphql URL should not end in trailing slash
	cc.v4BaseURL = strings.TrimSuffix(cc.v4BaseURL, "/")

	source, err := newAppTokenSource(integrationID, privKeyBytes, cc.jwtLifetime, cc.jwtSkew)
	if err != nil {
		return nil, errors.Wrap(err, "failed to initialize app token source")
	}
	cc.appSource = source

	// The exchange uses an app client without user middleware so that
	// metrics and logs configured by the host do not count token renewals
	// as API traffic twice.
	exchangeClient, err := cc.newClient(&http.Client{
		Transport: &appsTransport{source: source, next: http.DefaultTransport},
		Timeout:   cc.timeout,
	}, nil, "token exchange")
	if err != nil {
		return nil, err
	}
	cc.tokens = newInstallationTokens(newTokenExchange(exchangeClient), cc.tokenMargin)

	return cc, nil
}

type clientCreator struct {
	v3BaseURL     string
	v4BaseURL     string
	integrationID int64
	userAgent     string
	timeout       time.Duration
	middleware    []ClientMiddleware

	cacheFunc      func() httpcache.Cache
	alwaysValidate bool

	jwtLifetime time.Duration
	jwtSkew     time.Duration
	tokenMargin time.Duration

	appSource *appTokenSource
	tokens    *installationTokens
}

var _ ClientCreator = &clientCreator{}

type ClientOption func(c *clientCreator)

// ClientMiddleware modifies the transport of a GitHub client to add common
// functionality, like logging or metrics collection.
type ClientMiddleware func(http.RoundTripper) http.RoundTripper

// WithClientUserAgent sets the base user agent for all created clients.
func WithClientUserAgent(agent string) ClientOption {
	return func(c *clientCreator) {
		c.userAgent = agent
	}
}

// WithClientTimeout sets a request timeout for requests made by all created
// clients.
func WithClientTimeout(timeout time.Duration) ClientOption {
	return func(c *clientCreator) {
		c.timeout = timeout
	}
}

// WithClientCaching sets an HTTP cache for all created clients using the
// provided cache implementation. If alwaysValidate is true, the cache
// revalidates stale entries with GitHub instead of serving them directly.
func WithClientCaching(alwaysValidate bool, cache func() httpcache.Cache) ClientOption {
	return func(c *clientCreator) {
		c.cacheFunc = cache
		c.alwaysValidate = alwaysValidate
	}
}

// WithClientMiddleware adds middleware that is applied to all created
// clients.
func WithClientMiddleware(middleware ...ClientMiddleware) ClientOption {
	return func(c *clientCreator) {
		c.middleware = middleware
	}
}

// WithJWTExpiry sets the validity window and the clock-skew allowance of
// minted app JWTs. GitHub caps the lifetime at ten minutes.
func WithJWTExpiry(lifetime, skew time.Duration) ClientOption {
	return func(c *clientCreator) {
		c.jwtLifetime = lifetime
		c.jwtSkew = skew
	}
}

// WithTokenRefreshMargin sets the remaining validity below which a cached
// installation token is refreshed before use.
func WithTokenRefreshMargin(margin time.Duration) ClientOption {
	return func(c *clientCreator) {
		c.tokenMargin = margin
	}
}

func (c *clientCreator) NewAppClient() (*github.Client, error) {
	base := c.newHTTPClient(&appsTransport{source: c.appSource, next: http.DefaultTransport}, false)
	return c.newClient(base, c.middleware, "application")
}

func (c *clientCreator) NewAppV4Client() (*githubv4.Client, error) {
	base := c.newHTTPClient(&appsTransport{source: c.appSource, next: http.DefaultTransport}, false)
	return c.newV4Client(base, c.middleware, "application")
}

func (c *clientCreator) NewInstallationClient(installationID int64) (*github.Client, error) {
	base := c.newHTTPClient(c.installationAuth(installationID), true)
	middleware := append([]ClientMiddleware{setInstallationID(installationID)}, c.middleware...)
	return c.newClient(base, middleware, fmt.Sprintf("installation: %d", installationID))
}

func (c *clientCreator) NewInstallationV4Client(installationID int64) (*githubv4.Client, error) {
	base := c.newHTTPClient(c.installationAuth(installationID), true)
	middleware := append([]ClientMiddleware{setInstallationID(installationID)}, c.middleware...)
	return c.newV4Client(base, middleware, fmt.Sprintf("installation: %d", installationID))
}

func (c *clientCreator) NewTokenClient(token string) (*github.Client, error) {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	tc := oauth2.NewClient(context.Background(), ts)
	tc.Timeout = c.timeout
	return c.newClient(tc, c.middleware, "oauth token")
}

func (c *clientCreator) NewTokenV4Client(token string) (*githubv4.Client, error) {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	tc := oauth2.NewClient(context.Background(), ts)
	tc.Timeout = c.timeout
	return c.newV4Client(tc, c.middleware, "oauth token")
}

func (c *clientCreator) installationAuth(installationID int64) http.RoundTripper {
	return &installationTransport{
		tokens:         c.tokens,
		installationID: installationID,
		next:           http.DefaultTransport,
	}
}

// newHTTPClient assembles the base client around an authenticating
// transport. Response caching, when enabled, sits outside authentication so
// revalidation requests carry current credentials. App endpoints are not
// cached because token exchange responses must always be fresh.
func (c *clientCreator) newHTTPClient(auth http.RoundTripper, cacheable bool) *http.Client {
	transport := auth
	if cacheable && c.cacheFunc != nil {
		transport = &httpcache.Transport{
			Cache:               c.cacheFunc(),
			MarkCachedResponses: true,
			Transport:           transport,
		}
		if c.alwaysValidate {
			transport = forceValidation(transport)
		}
	}
	return &http.Client{Transport: transport, Timeout: c.timeout}
}

func (c *clientCreator) newClient(base *http.Client, middleware []ClientMiddleware, details string) (*github.Client, error) {
	applyMiddleware(base, middleware)

	baseURL, err := url.Parse(c.v3BaseURL)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse base URL: %q", c.v3BaseURL)
	}

	client := github.NewClient(base)
	client.BaseURL = baseURL
	client.UserAgent = makeUserAgent(c.userAgent, details)

	return client, nil
}

func (c *clientCreator) newV4Client(base *http.Client, middleware []ClientMiddleware, details string) (*githubv4.Client, error) {
	ua := makeUserAgent(c.userAgent, details)

	middleware = append([]ClientMiddleware{setUserAgentHeader(ua)}, middleware...)
	applyMiddleware(base, middleware)

	v4BaseURL, err := url.Parse(c.v4BaseURL)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse base URL: %q", c.v4BaseURL)
	}

	client := githubv4.NewEnterpriseClient(v4BaseURL.String(), base)
	return client, nil
}

// newTokenExchange adapts an app-authenticated client into the exchange
// function used by the installation token cache.
func newTokenExchange(appClient *github.Client) tokenExchange {
	return func(ctx context.Context, installationID int64) (installationToken, error) {
		tok, _, err := appClient.Apps.CreateInstallationToken(ctx, installationID, nil)
		if err != nil {
			return installationToken{}, errors.Wrapf(err, "failed to create token for installation %d", installationID)
		}
		return installationToken{
			token:     tok.GetToken(),
			expiresAt: tok.GetExpiresAt().Time,
		}, nil
	}
}

func applyMiddleware(base *http.Client, middleware []ClientMiddleware) {
	for i := len(middleware) - 1; i >= 0; i-- {
		base.Transport = middleware[i](base.Transport)
	}
}

func makeUserAgent(base, details string) string {
	if base == "" {
		base = "gitmill/undefined"
	}
	return fmt.Sprintf("%s (%s)", base, details)
}

func setUserAgentHeader(agent string) ClientMiddleware {
	return func(next http.RoundTripper) http.RoundTripper {
		return roundTripperFunc(func(r *http.Request) (*http.Response, error) {
			r.Header.Set("User-Agent", agent)
			return next.RoundTrip(r)
		})
	}
}

func forceValidation(next http.RoundTripper) http.RoundTripper {
	return roundTripperFunc(func(r *http.Request) (*http.Response, error) {
		r = cloneRequest(r)
		r.Header.Set("Cache-Control", "no-cache")
		return next.RoundTrip(r)
	})
}
