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
	"github.com/google/go-github/v65/github"
	"github.com/pkg/errors"
)

// Event is a verified, deserialized webhook delivery. Payload holds the
// typed event struct for Type, one of the event types defined by
// github.com/google/go-github: *github.PullRequestEvent, *github.PushEvent,
// *github.PingEvent, and so on. Events are constructed once per delivery and
// discarded after the handler returns.
type Event struct {
	Type       string
	DeliveryID string
	Payload    interface{}
}

// ParseEvent deserializes a webhook payload into the typed event indicated
// by eventType. Event kinds that GitHub does not define fail with an error
// rather than producing an untyped payload.
func ParseEvent(eventType, deliveryID string, payload []byte) (Event, error) {
	p, err := github.ParseWebHook(eventType, payload)
	if err != nil {
		return Event{}, errors.Wrapf(err, "failed to parse %q event payload", eventType)
	}

	return Event{
		Type:       eventType,
		DeliveryID: deliveryID,
		Payload:    p,
	}, nil
}

// InstallationSource is implemented by all webhook event payloads that carry
// the installation they were delivered for.
type InstallationSource interface {
	GetInstallation() *github.Installation
}

// GetInstallationIDFromEvent returns the installation ID of an event's
// payload, or zero if the payload does not reference an installation.
func GetInstallationIDFromEvent(event Event) int64 {
	if src, ok := event.Payload.(InstallationSource); ok {
		return src.GetInstallation().GetID()
	}
	return 0
}
