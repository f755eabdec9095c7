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

// Package githubapp implements the authentication and webhook plumbing
// needed for a process to act as a GitHub App.
//
// On the inbound path, an event dispatcher verifies the HMAC signature of
// each webhook delivery against the app's shared secret, deserializes the
// body into a typed event, and routes it to a registered handler. On the
// outbound path, a ClientCreator hands out API clients that authenticate
// either as the app itself, via a short-lived RS256 JWT, or as one of its
// installations, via access tokens that are cached per installation and
// renewed lazily through a single token-exchange call per installation at a
// time.
package githubapp
