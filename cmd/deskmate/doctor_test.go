// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Deskmate Contributors

package main

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deskmate-dev/deskmate/internal/provider"
)

func TestDoctor_Offline(t *testing.T) {
	path := writeTestConfig(t, configOpts{})

	out, _, err := run(t, "", "doctor", "--offline", "--config", path)
	require.NoError(t, err)

	for _, check := range []string{"Binary:", "Platform:", "Config:", "Provider:", "API Key:", "Reachability:", "Transcript:", "Disk Space:"} {
		assert.Contains(t, out, check)
	}
	assert.Contains(t, out, "loaded from "+path)
	assert.Contains(t, out, "openai, model test-model, base URL https://api.example.com")
	assert.Contains(t, out, "set (************1234)")
	assert.Contains(t, out, "skipped (--offline)")
	assert.Contains(t, out, "disabled")
}

func TestDoctor_Reachability(t *testing.T) {
	path := writeTestConfig(t, configOpts{transcriptPath: filepath.Join(t.TempDir(), "t.db")})
	useFakeProvider(t, &fakeProvider{models: []provider.ModelInfo{{ID: "a"}, {ID: "b"}}})

	out, _, err := run(t, "", "doctor", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "ok, 2 model(s)")
	assert.Contains(t, out, "ok at ")
}

func TestDoctor_ReachabilityError(t *testing.T) {
	path := writeTestConfig(t, configOpts{})
	useFakeProvider(t, &fakeProvider{err: errors.New("dial tcp: refused")})

	out, _, err := run(t, "", "doctor", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "error: dial tcp: refused")
}

func TestDoctor_BadConfig(t *testing.T) {
	_ = writeTestConfig(t, configOpts{})

	out, _, err := run(t, "", "doctor", "--config", "/nonexistent/deskmate.yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "error:")
	assert.Contains(t, out, "skipped (config not loaded)")
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		in   uint64
		want string
	}{
		{512, "512 bytes"},
		{5 * 1024 * 1024, "5.0 MB"},
		{3 * 1024 * 1024 * 1024, "3.0 GB"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatBytes(tt.in))
	}
}
