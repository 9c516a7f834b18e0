// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Deskmate Contributors

package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	dmerr "github.com/deskmate-dev/deskmate/pkg/errors"
)

func newHistoryCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history [session-id]",
		Short: "List archived conversations or print one",
		Long:  "Without arguments, list archived sessions, most recent first. With a session ID, print that conversation. Requires storage.transcript_path.",
		Args:  cobra.MaximumNArgs(1),
		RunE:  a.runHistory,
	}
	cmd.Flags().Bool("delete", false, "delete the given session instead of printing it")
	return cmd
}

func (a *app) runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := a.loadConfig(false)
	if err != nil {
		return err
	}

	archive, err := openArchive(cfg)
	if err != nil {
		return err
	}
	if archive == nil {
		return dmerr.New(dmerr.CodeCLIInputInvalid, "history needs storage.transcript_path to be configured")
	}
	defer func() { _ = archive.Close() }()

	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	del, _ := cmd.Flags().GetBool("delete")

	if len(args) == 0 {
		if del {
			return dmerr.New(dmerr.CodeCLIInputInvalid, "--delete needs a session ID")
		}
		sessions, err := archive.Sessions(ctx)
		if err != nil {
			return err
		}
		if len(sessions) == 0 {
			_, _ = fmt.Fprintln(out, "No archived sessions.")
			return nil
		}

		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		_, _ = fmt.Fprintln(tw, "SESSION\tMESSAGES\tLAST ACTIVITY")
		for _, s := range sessions {
			_, _ = fmt.Fprintf(tw, "%s\t%d\t%s\n", s.ID, s.Messages, s.LastActivity.Local().Format(time.DateTime))
		}
		return tw.Flush()
	}

	id := args[0]
	if del {
		if err := archive.Delete(ctx, id); err != nil {
			return err
		}
		_, _ = fmt.Fprintf(out, "Deleted session: %s\n", id)
		return nil
	}

	msgs, err := archive.Load(ctx, id)
	if err != nil {
		return err
	}
	for _, msg := range msgs {
		_, _ = fmt.Fprintf(out, "%s: %s\n", msg.Role, msg.Content)
	}
	return nil
}
