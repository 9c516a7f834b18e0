// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Deskmate Contributors

package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/deskmate-dev/deskmate/internal/conversation"
	"github.com/deskmate-dev/deskmate/internal/provider"
	"github.com/deskmate-dev/deskmate/internal/secrets"
	"github.com/stretchr/testify/require"
)

// fakeProvider is a scripted completion backend.
type fakeProvider struct {
	name      string
	cfg       provider.Config
	reply     string
	fragments []string
	models    []provider.ModelInfo
	err       error
	requests  [][]conversation.Message
}

func (f *fakeProvider) Name() string { return "fake" }
func (f *fakeProvider) Close() error { return nil }

func (f *fakeProvider) Complete(_ context.Context, _ string, msgs []conversation.Message) (provider.Completion, error) {
	f.requests = append(f.requests, msgs)
	if f.err != nil {
		return provider.Completion{}, f.err
	}
	msg := conversation.AssistantMessage(f.reply)
	return provider.Completion{Content: f.reply, Message: &msg}, nil
}

func (f *fakeProvider) CompleteStream(_ context.Context, _ string, msgs []conversation.Message) (provider.Stream, error) {
	f.requests = append(f.requests, msgs)
	return func(yield func(string, error) bool) {
		for _, frag := range f.fragments {
			if !yield(frag, nil) {
				return
			}
		}
		if f.err != nil {
			yield("", f.err)
		}
	}, nil
}

func (f *fakeProvider) ListModels(context.Context) ([]provider.ModelInfo, error) {
	return f.models, f.err
}

// useFakeProvider routes provider construction to fp for the test.
func useFakeProvider(t *testing.T, fp *fakeProvider) {
	t.Helper()
	old := newProvider
	newProvider = func(name string, cfg provider.Config) (provider.Provider, error) {
		fp.name = name
		fp.cfg = cfg
		return fp, nil
	}
	t.Cleanup(func() { newProvider = old })
}

// mockSecretStore is an in-memory secrets.Store for testing.
type mockSecretStore struct {
	data map[string]string // key -> value; the service is always deskmate
}

func newMockSecretStore(kv ...string) *mockSecretStore {
	m := &mockSecretStore{data: make(map[string]string)}
	for i := 0; i+1 < len(kv); i += 2 {
		m.data[kv[i]] = kv[i+1]
	}
	return m
}

func (m *mockSecretStore) Store(_, key, value string) error {
	m.data[key] = value
	return nil
}

func (m *mockSecretStore) Retrieve(service, key string) (string, error) {
	v, ok := m.data[key]
	if !ok {
		return "", secrets.NotFound(service, key)
	}
	return v, nil
}

func (m *mockSecretStore) Delete(service, key string) error {
	if _, ok := m.data[key]; !ok {
		return secrets.NotFound(service, key)
	}
	delete(m.data, key)
	return nil
}

func (m *mockSecretStore) List(string) ([]string, error) {
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func useSecretStore(t *testing.T, store secrets.Store) {
	t.Helper()
	old := secretStoreFactory
	secretStoreFactory = func() secrets.Store { return store }
	t.Cleanup(func() { secretStoreFactory = old })
}

type configOpts struct {
	key            string
	stream         bool
	transcriptPath string
}

// writeTestConfig writes a config file and clears environment overrides.
func writeTestConfig(t *testing.T, o configOpts) string {
	t.Helper()
	for _, name := range []string{"CONFIG", "LLM_API_KEY", "DESKMATE_LLM_MODEL", "DESKMATE_LLM_CLOUD_API_KEY"} {
		t.Setenv(name, "")
		require.NoError(t, os.Unsetenv(name))
	}
	useSecretStore(t, newMockSecretStore())

	if o.key == "" {
		o.key = "sk-test-key-1234"
	}
	content := strings.Join([]string{
		"llm:",
		"  provider: openai",
		"  model: test-model",
		"  stream: " + map[bool]string{true: "true", false: "false"}[o.stream],
		"  max_turns: 10",
		`  system_prompt: "persona"`,
		"  cloud_api:",
		"    key: " + o.key,
		"    base_url: https://api.example.com",
		"storage:",
		`  transcript_path: "` + o.transcriptPath + `"`,
		"",
	}, "\n")

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// run executes the root command and returns stdout and stderr.
func run(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	root := NewRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), errOut.String(), err
}
