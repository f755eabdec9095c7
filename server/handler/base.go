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

package handler

import (
	"os"
	"strconv"
	"strings"

	"github.com/gitmill/gitmill/githubapp"
)

// Base collects the dependencies shared by all webhook handlers.
type Base struct {
	githubapp.ClientCreator

	Installations githubapp.InstallationsService
	Options       *BranchCleanup

	// AppName is the slug of the GitHub App, used to recognize actions the
	// app performed itself.
	AppName string
}

// BranchCleanup controls which merged head branches are deleted.
type BranchCleanup struct {
	// DeleteMergedBranches enables deleting the head branch of a pull
	// request after it merges.
	DeleteMergedBranches bool `yaml:"delete_merged_branches"`

	// ProtectedBranchPatterns lists branch names that are never deleted,
	// matched with path.Match patterns. The repository's default branch is
	// always protected.
	ProtectedBranchPatterns []string `yaml:"protected_branches"`
}

func (o *BranchCleanup) SetValuesFromEnv(prefix string) {
	if v, ok := os.LookupEnv(prefix + "DELETE_MERGED_BRANCHES"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			o.DeleteMergedBranches = b
		}
	}
	if v, ok := os.LookupEnv(prefix + "PROTECTED_BRANCHES"); ok {
		o.ProtectedBranchPatterns = strings.Split(v, ",")
	}
}
