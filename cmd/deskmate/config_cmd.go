// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Deskmate Contributors

package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/deskmate-dev/deskmate/internal/config"
	dmerr "github.com/deskmate-dev/deskmate/pkg/errors"
)

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and edit the configuration",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Print the effective configuration with the API key masked",
			Args:  cobra.NoArgs,
			RunE:  a.runConfigShow,
		},
		&cobra.Command{
			Use:   "get <key>",
			Short: "Print one value, e.g. llm.model",
			Args:  cobra.ExactArgs(1),
			RunE:  a.runConfigGet,
		},
		&cobra.Command{
			Use:   "set <key> <value>",
			Short: "Update one value and save the config file",
			Args:  cobra.ExactArgs(2),
			RunE:  a.runConfigSet,
		},
		&cobra.Command{
			Use:   "path",
			Short: "Print the config file in use",
			Args:  cobra.NoArgs,
			RunE:  a.runConfigPath,
		},
	)

	return cmd
}

func (a *app) runConfigShow(cmd *cobra.Command, _ []string) error {
	cfg, err := a.loadConfig(false)
	if err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg.Settings(true))
	if err != nil {
		return dmerr.Wrapf(err, dmerr.CodeInternalFailure, "encoding config")
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}

func (a *app) runConfigGet(cmd *cobra.Command, args []string) error {
	cfg, err := a.loadConfig(false)
	if err != nil {
		return err
	}

	key := args[0]
	val := cfg.Get(key)
	switch v := val.(type) {
	case nil:
		return dmerr.Errorf(dmerr.CodeCLIInputInvalid, "config key %q is not set", key)
	case map[string]any:
		data, err := yaml.Marshal(v)
		if err != nil {
			return dmerr.Wrapf(err, dmerr.CodeInternalFailure, "encoding %s", key)
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	default:
		if key == config.KeyAPIKey {
			if s, ok := v.(string); ok {
				v = maskKey(s)
			}
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), v)
		return err
	}
}

func (a *app) runConfigSet(cmd *cobra.Command, args []string) error {
	cfg, err := a.loadConfig(false)
	if err != nil {
		return err
	}

	if err := cfg.Set(args[0], args[1]); err != nil {
		return err
	}

	path := cfg.Path()
	if path == "" {
		if path, err = config.DefaultConfigPath(); err != nil {
			return err
		}
	}
	if err := cfg.Save(path); err != nil {
		return err
	}

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Set %s in %s\n", args[0], path)
	return nil
}

func (a *app) runConfigPath(cmd *cobra.Command, _ []string) error {
	cfg, err := a.loadConfig(false)
	if err != nil {
		return err
	}
	if cfg.Path() == "" {
		_, err = fmt.Fprintln(cmd.OutOrStdout(), "(none, using defaults)")
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), cfg.Path())
	return err
}
