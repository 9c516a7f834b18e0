// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Deskmate Contributors

package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/deskmate-dev/deskmate/internal/config"
	"github.com/deskmate-dev/deskmate/internal/provider"
	"github.com/deskmate-dev/deskmate/internal/secrets"
	dmerr "github.com/deskmate-dev/deskmate/pkg/errors"

	// Completion backends register themselves with the provider registry.
	_ "github.com/deskmate-dev/deskmate/internal/provider/anthropic"
	_ "github.com/deskmate-dev/deskmate/internal/provider/google"
	_ "github.com/deskmate-dev/deskmate/internal/provider/openai"
)

// Package-level constructors so tests can substitute fakes.
var (
	secretStoreFactory = func() secrets.Store {
		return secrets.NewKeyringStore()
	}
	newProvider = provider.New
)

// app carries state shared by subcommands for one invocation.
type app struct {
	cfgFile string
	verbose bool
	logger  *slog.Logger
}

// NewRootCmd creates the root deskmate command with all subcommands registered.
func NewRootCmd() *cobra.Command {
	a := &app{logger: slog.Default()}

	root := &cobra.Command{
		Use:           "deskmate",
		Short:         "deskmate: a desktop assistant for conversational LLM APIs",
		Long:          "deskmate keeps a bounded conversation with an OpenAI-compatible, Anthropic or Google model and prints its replies whole or as they stream.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			a.initLogging(cmd)
			return nil
		},
	}

	root.PersistentFlags().StringVarP(&a.cfgFile, "config", "c", "", "path to config file (default $CONFIG, ./config.yaml, then the user config dir)")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		newInitCmd(a),
		newChatCmd(a),
		newModelsCmd(a),
		newConfigCmd(a),
		newSecretCmd(),
		newHistoryCmd(a),
		newDoctorCmd(a),
		newVersionCmd(),
	)

	return root
}

func (a *app) initLogging(cmd *cobra.Command) {
	level := slog.LevelInfo
	if a.verbose {
		level = slog.LevelDebug
	}
	a.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
	slog.SetDefault(a.logger)
}

// configPath resolves the config file: --config, then discovery, then a
// freshly bootstrapped default.
func (a *app) configPath() string {
	if a.cfgFile != "" {
		return a.cfgFile
	}
	if p := config.Discover(); p != "" {
		return p
	}
	return config.BootstrapConfig()
}

// loadConfig loads the configuration. With resolveSecrets, keyring:// values
// are replaced by the secrets they reference.
func (a *app) loadConfig(resolveSecrets bool) (*config.Config, error) {
	path := a.configPath()

	var opts []config.Option
	if resolveSecrets {
		opts = append(opts, config.WithSecretStore(secretStoreFactory()))
	}

	cfg, err := config.Load(path, opts...)
	if err != nil {
		return nil, err
	}
	config.WarnInsecurePermissions(cfg.Path())
	a.logger.Debug("config loaded", "path", cfg.Path(), "provider", cfg.LLM.Provider, "model", cfg.LLM.Model)
	return cfg, nil
}

// openProvider builds the configured completion backend.
func (a *app) openProvider(cfg *config.Config) (provider.Provider, error) {
	p, err := newProvider(cfg.LLM.Provider, cfg.ProviderConfig())
	if err != nil {
		return nil, dmerr.With(err, dmerr.FieldProvider(cfg.LLM.Provider))
	}
	return p, nil
}
