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

package handler

import (
	"encoding/json"
	"net/http"

	"github.com/pkg/errors"
)

// ListInstallations is an API route that reports where the app is installed.
type ListInstallations struct {
	Base
}

type installationInfo struct {
	ID    int64  `json:"id"`
	Owner string `json:"owner"`
}

func (h *ListInstallations) ServeHTTP(w http.ResponseWriter, r *http.Request) error {
	installations, err := h.Installations.ListAll(r.Context())
	if err != nil {
		return errors.Wrap(err, "failed to list installations")
	}

	infos := make([]installationInfo, 0, len(installations))
	for _, inst := range installations {
		infos = append(infos, installationInfo{ID: inst.ID, Owner: inst.Owner})
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	return json.NewEncoder(w).Encode(infos)
}
