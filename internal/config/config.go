// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Deskmate Contributors

package config

import (
	"errors"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"slices"
	"strings"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
	"gopkg.in/yaml.v3"

	"github.com/deskmate-dev/deskmate/internal/conversation"
	"github.com/deskmate-dev/deskmate/internal/provider"
	"github.com/deskmate-dev/deskmate/internal/secrets"
	dmerr "github.com/deskmate-dev/deskmate/pkg/errors"
)

const (
	// EnvPrefix prefixes environment overrides: llm.model is DESKMATE_LLM_MODEL.
	EnvPrefix = "DESKMATE"
	// EnvConfigPath names the config file when no path is given.
	EnvConfigPath = "CONFIG"
	// EnvAPIKey overrides llm.cloud_api.key.
	EnvAPIKey = "LLM_API_KEY"

	KeyAPIKey = "llm.cloud_api.key"
)

var validProviders = []string{
	string(provider.NameOpenAI),
	string(provider.NameAnthropic),
	string(provider.NameGoogle),
}

// Config is the deskmate configuration. Values come from, in decreasing
// precedence: environment, config file, defaults.
type Config struct {
	LLM     LLMConfig     `mapstructure:"llm" yaml:"llm"`
	Storage StorageConfig `mapstructure:"storage" yaml:"storage"`

	v    *viper.Viper
	raw  map[string]any // file contents plus Set calls; what Save writes
	path string
}

// LLMConfig selects the completion backend and shapes the conversation.
type LLMConfig struct {
	Provider     string         `mapstructure:"provider" yaml:"provider"`
	Model        string         `mapstructure:"model" yaml:"model"`
	Stream       bool           `mapstructure:"stream" yaml:"stream"`
	MaxTurns     int            `mapstructure:"max_turns" yaml:"max_turns"`
	SystemPrompt string         `mapstructure:"system_prompt" yaml:"system_prompt"`
	CloudAPI     CloudAPIConfig `mapstructure:"cloud_api" yaml:"cloud_api"`
}

// CloudAPIConfig holds connection parameters handed to the provider as-is.
type CloudAPIConfig struct {
	Key     string `mapstructure:"key" yaml:"key"`
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`
}

// StorageConfig controls the transcript archive. An empty TranscriptPath
// disables it.
type StorageConfig struct {
	TranscriptPath string `mapstructure:"transcript_path" yaml:"transcript_path"`
}

type loadOptions struct {
	dotEnv      string
	secretStore secrets.Store
}

// Option customises Load.
type Option func(*loadOptions)

// WithDotEnv loads variables from the given file instead of ./.env. An empty
// path disables .env loading.
func WithDotEnv(path string) Option {
	return func(o *loadOptions) { o.dotEnv = path }
}

// WithSecretStore resolves keyring:// values through store. Without it such
// values are left as URIs.
func WithSecretStore(store secrets.Store) Option {
	return func(o *loadOptions) { o.secretStore = store }
}

// SetDefaults registers the built-in defaults on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("llm.provider", string(provider.NameOpenAI))
	v.SetDefault("llm.model", "deepseek-chat")
	v.SetDefault("llm.stream", false)
	v.SetDefault("llm.max_turns", 10)
	v.SetDefault("llm.system_prompt", conversation.DefaultSystemPrompt)
	v.SetDefault("llm.cloud_api.key", "")
	v.SetDefault("llm.cloud_api.base_url", "")
	v.SetDefault("storage.transcript_path", "")
}

// SetupEnv binds DESKMATE_* overrides and the LLM_API_KEY shortcut.
func SetupEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv(KeyAPIKey, EnvAPIKey, EnvPrefix+"_LLM_CLOUD_API_KEY")
}

// Load reads the configuration at path. When path is empty the CONFIG
// environment variable is consulted; with neither, only defaults and the
// environment apply.
func Load(path string, opts ...Option) (*Config, error) {
	o := loadOptions{dotEnv: ".env"}
	for _, opt := range opts {
		opt(&o)
	}

	if err := loadDotEnv(o.dotEnv); err != nil {
		return nil, err
	}
	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}

	v := viper.New()
	SetDefaults(v)
	SetupEnv(v)

	raw := map[string]any{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, dmerr.Wrapf(err, dmerr.CodeConfigLoadReadFailure, "reading config %s", path)
		}
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, dmerr.Wrapf(err, dmerr.CodeConfigParseInvalidFormat, "parsing config %s", path)
		}
		if raw == nil {
			raw = map[string]any{}
		}
		if err := v.MergeConfigMap(raw); err != nil {
			return nil, dmerr.Wrapf(err, dmerr.CodeConfigParseInvalidFormat, "merging config %s", path)
		}
	}

	if o.secretStore != nil {
		if err := secrets.ResolveViperSecrets(v, o.secretStore); err != nil {
			return nil, err
		}
	}

	cfg := &Config{v: v, raw: raw, path: path}
	if err := cfg.decode(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	// Existing environment variables win over .env entries.
	err := gotenv.Load(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return dmerr.Wrapf(err, dmerr.CodeConfigParseInvalidFormat, "loading %s", path)
}

func (c *Config) decode() error {
	if err := c.v.Unmarshal(c); err != nil {
		return dmerr.Wrapf(err, dmerr.CodeConfigParseInvalidFormat, "unmarshalling config")
	}
	if errs := c.Validate(); len(errs) > 0 {
		return dmerr.Wrapf(errors.Join(errs...), dmerr.CodeConfigValidateInvalidValue, "validating config")
	}
	return nil
}

// Validate reports every problem found rather than stopping at the first.
func (c *Config) Validate() []error {
	var errs []error

	if !slices.Contains(validProviders, c.LLM.Provider) {
		errs = append(errs, dmerr.Errorf(dmerr.CodeConfigValidateInvalidValue,
			"config: llm.provider must be one of [%s], got %q",
			strings.Join(validProviders, ", "), c.LLM.Provider,
		))
	}

	if strings.TrimSpace(c.LLM.Model) == "" {
		errs = append(errs, dmerr.New(dmerr.CodeConfigValidateInvalidValue, "config: llm.model must not be empty"))
	}

	if c.LLM.MaxTurns <= 1 {
		errs = append(errs, dmerr.Errorf(dmerr.CodeConfigValidateInvalidValue,
			"config: llm.max_turns must be greater than 1, got %d", c.LLM.MaxTurns,
		))
	}

	if base := c.LLM.CloudAPI.BaseURL; base != "" {
		u, err := url.Parse(base)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, dmerr.Errorf(dmerr.CodeConfigValidateInvalidValue,
				"config: llm.cloud_api.base_url must be an http(s) URL, got %q", base,
			))
		}
	}

	return errs
}

// Path returns the file the configuration was read from, or "".
func (c *Config) Path() string { return c.path }

// Get returns the effective value at a dot-separated key, or nil.
func (c *Config) Get(key string) any {
	if !c.v.IsSet(key) {
		return nil
	}
	return c.v.Get(key)
}

// Set updates a dot-separated key, creating intermediate sections. value is
// parsed as a YAML scalar so "10" becomes an int and "true" a bool. The
// change is validated but only persisted by Save.
func (c *Config) Set(key, value string) error {
	if key == "" || strings.Contains(key, "..") || strings.HasPrefix(key, ".") || strings.HasSuffix(key, ".") {
		return dmerr.Errorf(dmerr.CodeConfigValidateInvalidValue, "config: invalid key %q", key)
	}

	var typed any
	if err := yaml.Unmarshal([]byte(value), &typed); err != nil || typed == nil || isCollection(typed) {
		typed = value
	}

	setPath(c.raw, strings.Split(key, "."), typed)
	c.v.Set(key, typed)
	return c.decode()
}

// Save writes the file contents, with any Set changes applied, to path, or
// to the path the configuration was loaded from when path is empty.
// Environment overrides and resolved secrets are never written.
func (c *Config) Save(path string) error {
	if path == "" {
		path = c.path
	}
	if path == "" {
		return dmerr.New(dmerr.CodeConfigSaveFailure, "config: no file to save to")
	}

	data, err := yaml.Marshal(c.raw)
	if err != nil {
		return dmerr.Wrapf(err, dmerr.CodeConfigSaveFailure, "encoding config")
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return dmerr.Wrapf(err, dmerr.CodeConfigSaveFailure, "writing config %s", path)
	}

	slog.Debug("config saved", "path", path)
	c.path = path
	return nil
}

// Settings returns the effective configuration as nested maps. With redact
// set a literal API key is masked; keyring:// references are shown as is.
func (c *Config) Settings(redact bool) map[string]any {
	all := c.v.AllSettings()
	if !redact {
		return all
	}

	key := c.v.GetString(KeyAPIKey)
	if key != "" && !secrets.IsKeyringURI(key) {
		setPath(all, strings.Split(KeyAPIKey, "."), Redact(key))
	}
	return all
}

// ProviderConfig returns the connection parameters for the configured backend.
func (c *Config) ProviderConfig() provider.Config {
	return provider.Config{APIKey: c.LLM.CloudAPI.Key, BaseURL: c.LLM.CloudAPI.BaseURL}
}

// Redact masks all but the last four characters of a secret.
func Redact(secret string) string {
	if len(secret) <= 4 {
		return strings.Repeat("*", len(secret))
	}
	return strings.Repeat("*", len(secret)-4) + secret[len(secret)-4:]
}

func setPath(m map[string]any, keys []string, value any) {
	for _, k := range keys[:len(keys)-1] {
		next, ok := m[k].(map[string]any)
		if !ok {
			next = map[string]any{}
			m[k] = next
		}
		m = next
	}
	m[keys[len(keys)-1]] = value
}

func isCollection(v any) bool {
	switch v.(type) {
	case map[string]any, []any:
		return true
	default:
		return false
	}
}
