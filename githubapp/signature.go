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
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"strings"

	"github.com/pkg/errors"
)

var (
	// ErrSignatureMismatch is returned when a webhook signature is
	// well-formed but does not match the digest of the payload.
	ErrSignatureMismatch = errors.New("webhook signature does not match payload")

	// ErrMalformedSignature is returned when a webhook signature is missing,
	// has an unrecognized algorithm prefix, or is not valid hex.
	ErrMalformedSignature = errors.New("webhook signature is malformed")
)

// ValidateSignature checks that signature is a valid HMAC digest of payload
// computed with secret. The signature must be in GitHub's header format,
// "sha256=<hex>" or "sha1=<hex>". The digest comparison is constant time.
//
// It returns ErrMalformedSignature if the signature cannot be parsed and
// ErrSignatureMismatch if the digests are not equal, including when their
// lengths differ.
func ValidateSignature(signature string, payload, secret []byte) error {
	method, hexDigest, ok := strings.Cut(strings.TrimSpace(signature), "=")
	if !ok {
		return errors.Wrap(ErrMalformedSignature, "missing algorithm prefix")
	}

	var newHash func() hash.Hash
	switch method {
	case "sha256":
		newHash = sha256.New
	case "sha1":
		newHash = sha1.New
	default:
		return errors.Wrapf(ErrMalformedSignature, "unsupported algorithm %q", method)
	}

	provided, err := hex.DecodeString(hexDigest)
	if err != nil {
		return errors.Wrap(ErrMalformedSignature, "digest is not hex encoded")
	}

	mac := hmac.New(newHash, secret)
	mac.Write(payload)

	// hmac.Equal is constant time for equal-length inputs and a length
	// mismatch is a verification failure, not a parse error.
	if !hmac.Equal(mac.Sum(nil), provided) {
		return ErrSignatureMismatch
	}
	return nil
}
