// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Deskmate Contributors

package main

import (
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/deskmate-dev/deskmate/internal/provider"
	"github.com/deskmate-dev/deskmate/internal/session"
)

func newModelsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List the models served by the configured provider",
		Args:  cobra.NoArgs,
		RunE:  a.runModels,
	}
}

func (a *app) runModels(cmd *cobra.Command, _ []string) error {
	cfg, err := a.loadConfig(true)
	if err != nil {
		return err
	}

	p, err := a.openProvider(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = p.Close() }()

	s, err := session.New(p, session.Config{MaxTurns: cfg.LLM.MaxTurns, SystemPrompt: cfg.LLM.SystemPrompt},
		session.WithLogger(a.logger))
	if err != nil {
		return err
	}

	models, err := s.ListModels(cmd.Context())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(models) == 0 {
		_, _ = fmt.Fprintln(out, "No models available.")
		return nil
	}

	slices.SortFunc(models, func(x, y provider.ModelInfo) int { return strings.Compare(x.ID, y.ID) })
	for _, m := range models {
		marker := " "
		if m.ID == cfg.LLM.Model {
			marker = "*"
		}
		if m.Name != "" && m.Name != m.ID {
			_, _ = fmt.Fprintf(out, "%s %-40s %s\n", marker, m.ID, m.Name)
		} else {
			_, _ = fmt.Fprintf(out, "%s %s\n", marker, m.ID)
		}
	}
	return nil
}
