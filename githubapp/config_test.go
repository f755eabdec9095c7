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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSetValuesFromEnv(t *testing.T) {
	t.Setenv("TEST_GITHUB_V3_API_URL", "https://github.example.com/api/v3/")
	t.Setenv("TEST_GITHUB_APP_INTEGRATION_ID", "1234")
	t.Setenv("TEST_GITHUB_APP_WEBHOOK_SECRET", "sosecret")
	t.Setenv("TEST_GITHUB_APP_JWT_LIFETIME", "5m")

	var c Config
	c.WebURL = "https://github.example.com"
	c.SetValuesFromEnv("TEST_")

	assert.Equal(t, "https://github.example.com", c.WebURL, "unset variables leave existing values alone")
	assert.Equal(t, "https://github.example.com/api/v3/", c.V3APIURL)
	assert.EqualValues(t, 1234, c.App.IntegrationID)
	assert.Equal(t, "sosecret", c.App.WebhookSecret)
	assert.Equal(t, 5*time.Minute, c.JWT.Lifetime)
	assert.Zero(t, c.TokenRefreshMargin)
}
