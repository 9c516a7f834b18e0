// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Deskmate Contributors

package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/deskmate-dev/deskmate/internal/config"
	"github.com/deskmate-dev/deskmate/internal/provider"
)

const reachabilityTimeout = 10 * time.Second

func newDoctorCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostics",
		Long:  "Check the configuration, API key, provider reachability, transcript archive and disk space.",
		Args:  cobra.NoArgs,
		RunE:  a.runDoctor,
	}

	cmd.Flags().Bool("offline", false, "skip the provider reachability check")

	return cmd
}

func (a *app) runDoctor(cmd *cobra.Command, _ []string) error {
	w := cmd.OutOrStdout()
	offline, _ := cmd.Flags().GetBool("offline")

	cfg, cfgErr := a.loadConfig(true)
	needConfig := func(fn func(*config.Config) string) func() string {
		return func() string {
			if cfgErr != nil {
				return "skipped (config not loaded)"
			}
			return fn(cfg)
		}
	}

	checks := []struct {
		name string
		fn   func() string
	}{
		{"Binary", checkBinary},
		{"Platform", checkPlatform},
		{"Config", func() string { return checkConfig(cfg, cfgErr) }},
		{"Provider", needConfig(checkProvider)},
		{"API Key", needConfig(checkAPIKey)},
		{"Reachability", needConfig(func(cfg *config.Config) string {
			if offline {
				return "skipped (--offline)"
			}
			return a.checkReachability(cmd.Context(), cfg)
		})},
		{"Transcript", needConfig(checkTranscript)},
		{"Disk Space", func() string { return checkDiskSpace(dataDir(cfg)) }},
	}

	for _, c := range checks {
		if _, err := fmt.Fprintf(w, "%-20s %s\n", c.name+":", c.fn()); err != nil {
			return err
		}
	}

	return nil
}

func checkBinary() string {
	return fmt.Sprintf("deskmate %s (commit %s)", buildVersion(), commit)
}

func checkPlatform() string {
	return fmt.Sprintf("%s/%s, Go %s", runtime.GOOS, runtime.GOARCH, runtime.Version())
}

func checkConfig(cfg *config.Config, err error) string {
	switch {
	case err != nil:
		return fmt.Sprintf("error: %s", err)
	case cfg.Path() == "":
		return "using defaults (no config file found)"
	default:
		return fmt.Sprintf("loaded from %s", cfg.Path())
	}
}

func checkProvider(cfg *config.Config) string {
	s := fmt.Sprintf("%s, model %s", cfg.LLM.Provider, cfg.LLM.Model)
	if cfg.LLM.CloudAPI.BaseURL != "" {
		s += ", base URL " + cfg.LLM.CloudAPI.BaseURL
	}
	return s
}

func checkAPIKey(cfg *config.Config) string {
	key := cfg.LLM.CloudAPI.Key
	if key == "" {
		return fmt.Sprintf("missing (set llm.cloud_api.key or %s)", config.EnvAPIKey)
	}
	return "set (" + maskKey(key) + ")"
}

func (a *app) checkReachability(ctx context.Context, cfg *config.Config) string {
	p, err := a.openProvider(cfg)
	if err != nil {
		return fmt.Sprintf("error: %s", err)
	}
	defer func() { _ = p.Close() }()

	lister, ok := p.(provider.ModelLister)
	if !ok {
		return "unknown (provider cannot list models)"
	}

	ctx, cancel := context.WithTimeout(ctx, reachabilityTimeout)
	defer cancel()

	start := time.Now()
	models, err := lister.ListModels(ctx)
	if err != nil {
		return fmt.Sprintf("error: %s", err)
	}
	return fmt.Sprintf("ok, %d model(s) in %s", len(models), time.Since(start).Round(time.Millisecond))
}

func checkTranscript(cfg *config.Config) string {
	path := cfg.Storage.TranscriptPath
	if path == "" {
		return "disabled (storage.transcript_path not set)"
	}
	archive, err := openArchive(cfg)
	if err != nil {
		return fmt.Sprintf("error: %s", err)
	}
	defer func() { _ = archive.Close() }()
	return fmt.Sprintf("ok at %s", path)
}

// dataDir picks the directory whose filesystem holds deskmate's files.
func dataDir(cfg *config.Config) string {
	if cfg != nil && cfg.Storage.TranscriptPath != "" {
		return filepath.Dir(cfg.Storage.TranscriptPath)
	}
	if p, err := config.DefaultConfigPath(); err == nil {
		return filepath.Dir(p)
	}
	home, _ := os.UserHomeDir()
	return home
}

func checkDiskSpace(dir string) string {
	path := dir
	if _, err := os.Stat(path); os.IsNotExist(err) {
		path, _ = os.UserHomeDir()
	}

	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return fmt.Sprintf("unable to check: %s", err)
	}

	availBytes := stat.Bavail * uint64(stat.Bsize)
	return formatBytes(availBytes) + " available"
}

// formatBytes formats a byte count as a human-readable string.
func formatBytes(b uint64) string {
	const (
		gb = 1024 * 1024 * 1024
		mb = 1024 * 1024
	)
	switch {
	case b >= gb:
		return fmt.Sprintf("%.1f GB", float64(b)/float64(gb))
	case b >= mb:
		return fmt.Sprintf("%.1f MB", float64(b)/float64(mb))
	default:
		return fmt.Sprintf("%d bytes", b)
	}
}
