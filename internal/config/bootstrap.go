// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Deskmate Contributors

package config

import (
	_ "embed"
	"log/slog"
	"os"
	"path/filepath"

	dmerr "github.com/deskmate-dev/deskmate/pkg/errors"
)

//go:embed deskmate.yaml.default
var DefaultConfigYAML []byte

// userConfigDir is swapped in tests.
var userConfigDir = os.UserConfigDir

// DefaultConfigPath returns the per-user config file, e.g.
// ~/.config/deskmate/deskmate.yaml on Linux.
func DefaultConfigPath() (string, error) {
	dir, err := userConfigDir()
	if err != nil {
		return "", dmerr.Wrapf(err, dmerr.CodeConfigLoadReadFailure, "resolving user config directory")
	}
	return filepath.Join(dir, "deskmate", "deskmate.yaml"), nil
}

// Discover returns the config file to use when none was given explicitly:
// $CONFIG, then ./config.yaml, then the per-user file. It returns "" when
// none exists.
func Discover() string {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p
	}

	candidates := []string{"config.yaml"}
	if p, err := DefaultConfigPath(); err == nil {
		candidates = append(candidates, p)
	}
	for _, p := range candidates {
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p
		}
	}
	return ""
}

// BootstrapConfig writes the commented default config to DefaultConfigPath
// if no file exists there yet. It returns the path written, or "" when the
// file already existed or could not be written; failures are logged and
// never fatal.
func BootstrapConfig() string {
	cfgPath, err := DefaultConfigPath()
	if err != nil {
		slog.Debug("skipping config bootstrap", "error", err)
		return ""
	}

	if _, err := os.Stat(cfgPath); err == nil {
		return ""
	}

	dir := filepath.Dir(cfgPath)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		slog.Debug("skipping config bootstrap: cannot create directory", "path", dir, "error", err)
		return ""
	}

	if err := os.WriteFile(cfgPath, DefaultConfigYAML, 0o600); err != nil {
		slog.Debug("skipping config bootstrap: cannot write config", "path", cfgPath, "error", err)
		return ""
	}

	slog.Info("created default config", "path", cfgPath)
	return cfgPath
}
