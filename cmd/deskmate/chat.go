// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Deskmate Contributors

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/deskmate-dev/deskmate/internal/config"
	"github.com/deskmate-dev/deskmate/internal/session"
	"github.com/deskmate-dev/deskmate/internal/transcript"
	dmerr "github.com/deskmate-dev/deskmate/pkg/errors"
)

var (
	promptStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	noticeStyle = lipgloss.NewStyle().Faint(true)
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

const replHelp = `/clear    forget the conversation, keep the system prompt
/reset    forget everything, including the system prompt
          (both also drop the archived copy of this session)
/history  print the conversation
/exit     leave`

func newChatCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat [message...]",
		Short: "Chat with the configured model",
		Long:  "Send a single message when arguments are given; otherwise start an interactive session reading lines from stdin.",
		RunE:  a.runChat,
	}

	cmd.Flags().StringP("model", "m", "", "model override")
	cmd.Flags().Bool("stream", false, "print the reply as it streams (default from llm.stream)")
	cmd.Flags().StringP("resume", "r", "", "resume an archived session by ID")

	return cmd
}

func (a *app) runChat(cmd *cobra.Command, args []string) error {
	cfg, err := a.loadConfig(true)
	if err != nil {
		return err
	}

	model := cfg.LLM.Model
	if m, _ := cmd.Flags().GetString("model"); m != "" {
		model = m
	}
	stream := cfg.LLM.Stream
	if cmd.Flags().Changed("stream") {
		stream, _ = cmd.Flags().GetBool("stream")
	}
	resumeID, _ := cmd.Flags().GetString("resume")

	p, err := a.openProvider(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = p.Close() }()

	archive, err := openArchive(cfg)
	if err != nil {
		return err
	}
	opts := []session.Option{session.WithLogger(a.logger)}
	if archive != nil {
		defer func() { _ = archive.Close() }()
		opts = append(opts, session.WithRecorder(archive))
	}

	s, err := session.New(p, session.Config{
		ID:           resumeID,
		MaxTurns:     cfg.LLM.MaxTurns,
		SystemPrompt: cfg.LLM.SystemPrompt,
	}, opts...)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if resumeID != "" {
		if archive == nil {
			return dmerr.New(dmerr.CodeCLIInputInvalid, "--resume needs storage.transcript_path to be configured")
		}
		msgs, err := archive.Load(ctx, resumeID)
		if err != nil {
			return err
		}
		if err := s.Restore(msgs); err != nil {
			return err
		}
	}

	c := &chatter{
		session: s,
		archive: archive,
		model:   model,
		stream:  stream,
		out:     cmd.OutOrStdout(),
		errOut:  cmd.ErrOrStderr(),
	}

	if len(args) > 0 {
		return c.turn(ctx, strings.Join(args, " "))
	}

	if resumeID != "" {
		c.notice("resumed session %s (%d messages)", s.ID(), len(s.History()))
	} else if archive != nil {
		c.notice("session %s", s.ID())
	}
	return c.repl(ctx, cmd.InOrStdin())
}

// openArchive opens the transcript archive, or returns nil when disabled.
func openArchive(cfg *config.Config) (*transcript.Archive, error) {
	if cfg.Storage.TranscriptPath == "" {
		return nil, nil
	}
	return transcript.Open(cfg.Storage.TranscriptPath)
}

// chatter renders session turns to a terminal.
type chatter struct {
	session *session.Session
	archive *transcript.Archive
	model   string
	stream  bool
	out     io.Writer
	errOut  io.Writer
}

func (c *chatter) turn(ctx context.Context, text string) error {
	if !c.stream {
		reply, err := c.session.Ask(ctx, c.model, text)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(c.out, reply)
		return err
	}

	fragments, err := c.session.AskStream(ctx, c.model, text)
	if err != nil {
		return err
	}
	for fragment, err := range fragments {
		if err != nil {
			_, _ = fmt.Fprintln(c.out)
			return err
		}
		if _, err := fmt.Fprint(c.out, fragment); err != nil {
			return err
		}
	}
	_, err = fmt.Fprintln(c.out)
	return err
}

// repl reads one message per line until EOF or /exit. A failed turn is
// reported and the loop continues; the user message stays in the history.
func (c *chatter) repl(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		_, _ = fmt.Fprint(c.out, promptStyle.Render("you>")+" ")
		if !scanner.Scan() {
			_, _ = fmt.Fprintln(c.out)
			return scanner.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/exit", "/quit":
			return nil
		case "/clear":
			c.session.Clear(true)
			c.forget(ctx)
			c.notice("conversation cleared")
			continue
		case "/reset":
			c.session.Clear(false)
			c.forget(ctx)
			c.notice("conversation and system prompt cleared")
			continue
		case "/history":
			c.printHistory()
			continue
		case "/help":
			_, _ = fmt.Fprintln(c.out, replHelp)
			continue
		}

		if err := c.turn(ctx, line); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			_, _ = fmt.Fprintln(c.errOut, errorStyle.Render("error: "+err.Error()))
		}
	}
}

// forget drops the archived copy of the session so a later --resume starts
// from the cleared state.
func (c *chatter) forget(ctx context.Context) {
	if c.archive == nil {
		return
	}
	if err := c.archive.Delete(ctx, c.session.ID()); err != nil && !dmerr.IsNotFound(err) {
		_, _ = fmt.Fprintln(c.errOut, errorStyle.Render("warning: "+err.Error()))
	}
}

func (c *chatter) printHistory() {
	history := c.session.History()
	if len(history) == 0 {
		c.notice("history is empty")
		return
	}
	for _, msg := range history {
		_, _ = fmt.Fprintf(c.out, "%s: %s\n", promptStyle.Render(string(msg.Role)), msg.Content)
	}
}

func (c *chatter) notice(format string, args ...any) {
	_, _ = fmt.Fprintln(c.out, noticeStyle.Render(fmt.Sprintf(format, args...)))
}
