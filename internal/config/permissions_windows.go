// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Deskmate Contributors

//go:build windows

package config

import (
	"log/slog"
	"os"
)

// WarnInsecurePermissions only confirms the file exists on Windows. Access is
// governed by ACLs, which the mode bits Go reports do not reflect.
func WarnInsecurePermissions(path string) {
	if path == "" {
		return
	}
	if _, err := os.Stat(path); err != nil {
		slog.Debug("could not stat config file for permission check", "path", path, "error", err)
		return
	}
	slog.Debug("skipping config permission check, ACLs are not inspected", "path", path)
}
