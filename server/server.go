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

package server

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/bluekeyes/hatpear"
	"github.com/c2h5oh/datasize"
	"github.com/die-net/lrucache"
	"github.com/gregjones/httpcache"
	"github.com/pkg/errors"
	"github.com/rcrowley/go-metrics"
	"github.com/rs/zerolog"
	"goji.io"
	"goji.io/pat"

	"github.com/gitmill/gitmill/githubapp"
	appmetrics "github.com/gitmill/gitmill/metrics"
	"github.com/gitmill/gitmill/server/handler"
	"github.com/gitmill/gitmill/version"
)

const (
	DefaultGitHubTimeout = 10 * time.Second

	DefaultWebhookWorkers   = 10
	DefaultWebhookQueueSize = 100

	DefaultHTTPCacheSize = 50 * datasize.MB

	DefaultShutdownWaitTime = 10 * time.Second
)

type Server struct {
	config   *Config
	logger   zerolog.Logger
	registry metrics.Registry
	mux      *goji.Mux
	server   *http.Server
}

// New instantiates a new Server.
// Callers must then invoke Start to run the Server.
func New(c *Config) (*Server, error) {
	logger := NewLogger(c.Logging)
	zerolog.ErrorMarshalFunc = richErrorMarshalFunc

	registry := metrics.NewPrefixedRegistry("gitmill.")
	registerDefaultMetrics(registry)
	appmetrics.SetRegistry(registry)

	maxSize := int64(DefaultHTTPCacheSize)
	if c.Cache.MaxSize != 0 {
		maxSize = int64(c.Cache.MaxSize)
	}

	httpCache := lrucache.New(maxSize, 0)
	appmetrics.GitHubCacheApproxSize(httpCache.Size)

	githubTimeout := c.Workers.GithubTimeout
	if githubTimeout == 0 {
		githubTimeout = DefaultGitHubTimeout
	}

	v4URL, err := url.Parse(c.Github.V4APIURL)
	if err != nil {
		return nil, errors.Wrap(err, "invalid v4 API URL")
	}

	userAgent := fmt.Sprintf("gitmill/%s", version.GetVersion())
	cc, err := githubapp.NewDefaultCachingClientCreator(
		c.Github,
		githubapp.WithClientUserAgent(userAgent),
		githubapp.WithClientTimeout(githubTimeout),
		githubapp.WithClientCaching(true, func() httpcache.Cache {
			return httpCache
		}),
		githubapp.WithClientMiddleware(
			githubapp.ClientLogging(
				zerolog.DebugLevel,
				githubapp.LogRequestBody("^"+v4URL.Path+"$"),
			),
			githubapp.ClientMetrics(registry),
		),
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to initialize client creator")
	}

	appClient, err := cc.NewAppClient()
	if err != nil {
		return nil, errors.Wrap(err, "failed to initialize GitHub app client")
	}

	app, _, err := appClient.Apps.Get(context.Background(), "")
	if err != nil {
		return nil, errors.Wrap(err, "failed to get configured GitHub app")
	}

	baseHandler := handler.Base{
		ClientCreator: cc,
		Installations: githubapp.NewInstallationsService(appClient),
		Options:       &c.Options,
		AppName:       app.GetSlug(),
	}

	queueSize := c.Workers.QueueSize
	if queueSize < 1 {
		queueSize = DefaultWebhookQueueSize
	}

	workers := c.Workers.Workers
	if workers < 1 {
		workers = DefaultWebhookWorkers
	}

	dispatcher := githubapp.NewEventDispatcher(
		[]githubapp.EventHandler{
			&handler.Ping{},
			&handler.Installation{Base: baseHandler},
			&handler.PullRequest{Base: baseHandler},
		},
		c.Github.App.WebhookSecret,
		githubapp.WithErrorCallback(githubapp.MetricsErrorCallback(registry)),
		githubapp.WithScheduler(
			githubapp.QueueAsyncScheduler(
				queueSize, workers,
				githubapp.WithSchedulingMetrics(registry),
				githubapp.WithAsyncErrorCallback(githubapp.MetricsAsyncErrorCallback(registry)),
			),
		),
	)

	mux := goji.NewMux()
	for _, middleware := range DefaultMiddleware(logger, registry) {
		mux.Use(middleware)
	}

	// webhook route
	mux.Handle(pat.Post(githubapp.DefaultWebhookRoute), dispatcher)

	// additional API routes
	mux.Handle(pat.Get("/api/health"), handler.Health())
	mux.Handle(pat.Get("/api/installations"), hatpear.Try(&handler.ListInstallations{
		Base: baseHandler,
	}))

	return &Server{
		config:   c,
		logger:   logger,
		registry: registry,
		mux:      mux,
		server: &http.Server{
			Addr:    c.Server.Address + ":" + strconv.Itoa(c.Server.Port),
			Handler: mux,
		},
	}, nil
}

// Mux returns the root mux for the server.
func (s *Server) Mux() *goji.Mux {
	return s.mux
}

// Registry returns the root metrics registry for the server.
func (s *Server) Registry() metrics.Registry {
	return s.registry
}

func (s *Server) listen() error {
	s.logger.Info().Msgf("Server listening on %s", s.server.Addr)

	tlsConfig := s.config.Server.TLSConfig
	if tlsConfig != nil {
		return s.server.ListenAndServeTLS(tlsConfig.CertFile, tlsConfig.KeyFile)
	}
	return s.server.ListenAndServe()
}

// Start runs the server until it fails or the process receives SIGINT or
// SIGTERM, then drains in-flight requests before returning.
func (s *Server) Start() error {
	quit := make(chan error)
	go func() {
		if err := s.listen(); err != nil {
			quit <- err
		}
	}()

	// SIGKILL and SIGSTOP cannot be caught, so don't bother adding them here
	interrupt := make(chan os.Signal, 2)
	signal.Notify(interrupt, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-interrupt:
		s.logger.Info().Msg("Caught interrupt, gracefully shutting down")
	case err := <-quit:
		if err != http.ErrServerClosed {
			return err
		}
	}

	wait := DefaultShutdownWaitTime
	if s.config.Server.ShutdownWaitTime != nil {
		wait = *s.config.Server.ShutdownWaitTime
	}

	ctx, cancel := context.WithTimeout(context.Background(), wait)
	defer cancel()
	return errors.Wrap(s.server.Shutdown(ctx), "failed shutting down gracefully")
}
