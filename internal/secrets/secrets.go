// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Deskmate Contributors

// Package secrets keeps credentials out of config files. A config value of
// the form keyring://<service>/<key> is resolved through a Store at load time.
package secrets

import dmerr "github.com/deskmate-dev/deskmate/pkg/errors"

// DefaultService is the keyring service deskmate stores its credentials
// under, e.g. keyring://deskmate/llm-api-key.
const DefaultService = "deskmate"

// Store is a service/key addressed secret backend. Retrieve and Delete of a
// missing key fail with secret.not_found; see NotFound.
type Store interface {
	Store(service, key, value string) error
	Retrieve(service, key string) (string, error)
	Delete(service, key string) error
	// List returns the key names under service in insertion order.
	List(service string) ([]string, error)
}

// NotFound is the error a Store returns for a missing key.
func NotFound(service, key string) error {
	return dmerr.Errorf(dmerr.CodeSecretNotFound, "secret %s/%s not found", service, key)
}

// CheckRef rejects an empty service or key before it reaches a backend.
func CheckRef(op, service, key string) error {
	if service == "" {
		return dmerr.Errorf(dmerr.CodeSecretInvalidInput, "secret %s: service must not be empty", op)
	}
	if key == "" {
		return dmerr.Errorf(dmerr.CodeSecretInvalidInput, "secret %s: key must not be empty", op)
	}
	return nil
}
