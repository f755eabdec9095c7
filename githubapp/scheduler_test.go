// Copyright 2020 Gitmill Authors
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
	"sync"
	"testing"
	"time"

	"github.com/rcrowley/go-metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type panickingHandler struct{}

func (panickingHandler) Handles() []string {
	return []string{"pull_request"}
}

func (panickingHandler) Handle(ctx context.Context, event Event) error {
	panic("boom")
}

func TestDispatchExecuteRecoversPanics(t *testing.T) {
	d := Dispatch{
		Handler: panickingHandler{},
		Event:   Event{Type: "pull_request"},
	}

	err := d.Execute(context.Background())
	require.Error(t, err)

	perr, ok := err.(HandlerPanicError)
	require.True(t, ok, "expected HandlerPanicError, got %T", err)
	assert.Equal(t, "boom", perr.Value())
	assert.NotEmpty(t, perr.StackTrace())
}

func TestQueueSchedulerCapacity(t *testing.T) {
	registry := metrics.NewRegistry()

	s := &queueScheduler{
		scheduler: scheduler{
			queue: make(chan queueDispatch, 1),
		},
	}
	WithSchedulingMetrics(registry)(&s.scheduler)

	d := Dispatch{Handler: panickingHandler{}, Event: Event{Type: "pull_request"}}

	// no workers drain the queue, so the second event has nowhere to go
	require.NoError(t, s.Schedule(context.Background(), d))

	err := s.Schedule(context.Background(), d)
	assert.ErrorIs(t, err, ErrCapacityExceeded)
	assert.EqualValues(t, 1, registry.Get(MetricsKeyDroppedEvents).(metrics.Counter).Count())
}

func TestAsyncSchedulerReportsHandlerErrors(t *testing.T) {
	var mu sync.Mutex
	var reported error
	done := make(chan struct{})

	s := AsyncScheduler(
		WithAsyncErrorCallback(func(ctx context.Context, d Dispatch, err error) {
			mu.Lock()
			reported = err
			mu.Unlock()
			close(done)
		}),
	)

	d := Dispatch{Handler: panickingHandler{}, Event: Event{Type: "pull_request"}}
	require.NoError(t, s.Schedule(context.Background(), d), "async scheduling must not surface handler errors")

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("error callback was not invoked")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.IsType(t, HandlerPanicError{}, reported)
}
