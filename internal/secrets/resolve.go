// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Deskmate Contributors

package secrets

import (
	"errors"
	"log/slog"
	"strings"

	"github.com/spf13/viper"

	dmerr "github.com/deskmate-dev/deskmate/pkg/errors"
)

const keyringScheme = "keyring://"

func IsKeyringURI(value string) bool {
	return strings.HasPrefix(value, keyringScheme)
}

// URI formats a keyring reference suitable for a config value.
func URI(service, key string) string {
	return keyringScheme + service + "/" + key
}

// ParseKeyringURI splits keyring://service/key. The key may contain slashes.
func ParseKeyringURI(uri string) (service, key string, err error) {
	if !IsKeyringURI(uri) {
		return "", "", dmerr.Errorf(dmerr.CodeSecretInvalidInput, "not a keyring URI: %q", uri)
	}

	service, key, ok := strings.Cut(strings.TrimPrefix(uri, keyringScheme), "/")
	if !ok || service == "" || key == "" {
		return "", "", dmerr.Errorf(dmerr.CodeSecretInvalidInput,
			"invalid keyring URI %q: expected keyring://service/key", uri)
	}
	return service, key, nil
}

// ResolveKeyringURI returns the secret a keyring:// value points at, or the
// value unchanged when it is a literal.
func ResolveKeyringURI(store Store, value string) (string, error) {
	if !IsKeyringURI(value) {
		return value, nil
	}

	service, key, err := ParseKeyringURI(value)
	if err != nil {
		return "", err
	}

	secret, err := store.Retrieve(service, key)
	if err != nil {
		return "", dmerr.Wrapf(err, dmerr.CodeSecretResolveFailure, "resolving keyring URI %q", value)
	}
	return secret, nil
}

// ResolveViperSecrets replaces every keyring:// string in v with the secret it
// references. All keys are attempted; the returned error names each key that
// could not be resolved, and those keys keep their URI value.
func ResolveViperSecrets(v *viper.Viper, store Store) error {
	var errs []error
	for _, key := range v.AllKeys() {
		val := v.GetString(key)
		if !IsKeyringURI(val) {
			continue
		}

		secret, err := ResolveKeyringURI(store, val)
		if err != nil {
			slog.Debug("keyring URI not resolved", "config_key", key, "error", err)
			errs = append(errs, dmerr.Wrapf(err, dmerr.CodeSecretResolveFailure, "config key %s", key))
			continue
		}

		v.Set(key, secret)
	}

	if len(errs) > 0 {
		return dmerr.Wrapf(errors.Join(errs...), dmerr.CodeSecretResolveFailure, "resolving %d keyring secret(s)", len(errs))
	}
	return nil
}
