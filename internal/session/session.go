// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Deskmate Contributors

package session

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/deskmate-dev/deskmate/internal/conversation"
	"github.com/deskmate-dev/deskmate/internal/provider"
	dmerr "github.com/deskmate-dev/deskmate/pkg/errors"
)

// State is the position of a Session within the current turn.
type State int

const (
	StateIdle State = iota
	StateAwaitingUserAppend
	StateRequesting
	StateReconciling
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingUserAppend:
		return "awaiting_user_append"
	case StateRequesting:
		return "requesting"
	case StateReconciling:
		return "reconciling"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Recorder receives every message the session appends on behalf of a turn.
// Recording failures are logged and never fail the turn.
type Recorder interface {
	Record(ctx context.Context, sessionID string, msg conversation.Message) error
}

// Config holds the construction parameters of a Session.
type Config struct {
	// ID names the session for the recorder. A UUIDv7 is generated when empty.
	ID           string
	MaxTurns     int
	SystemPrompt string
}

// Option configures optional Session collaborators.
type Option func(*Session)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithRecorder attaches a transcript recorder.
func WithRecorder(r Recorder) Option {
	return func(s *Session) { s.recorder = r }
}

// Session drives request/response turns against one provider and keeps the
// transcript in sync with what was sent and received. Synchronous and
// streaming turns share the same reconciliation rules:
//
//   - the user message is appended before the provider is contacted and
//     stays in the transcript if the request fails;
//   - the assistant message is appended exactly once per successful turn.
//
// A Session is not safe for concurrent use.
type Session struct {
	id       string
	provider provider.Provider
	store    *conversation.Store
	logger   *slog.Logger
	recorder Recorder
	state    State
}

// New creates a Session whose transcript is seeded with the system prompt.
func New(p provider.Provider, cfg Config, opts ...Option) (*Session, error) {
	if p == nil {
		return nil, dmerr.New(dmerr.CodeSessionInputInvalid, "session: provider is required")
	}

	store, err := conversation.New(cfg.MaxTurns, cfg.SystemPrompt)
	if err != nil {
		return nil, err
	}

	id := cfg.ID
	if id == "" {
		v7, err := uuid.NewV7()
		if err != nil {
			return nil, dmerr.Wrap(err, dmerr.CodeInternalFailure, "session: generating id")
		}
		id = v7.String()
	}

	s := &Session{
		id:       id,
		provider: p,
		store:    store,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("session_id", s.id, "provider", p.Name())

	return s, nil
}

func (s *Session) ID() string { return s.id }

func (s *Session) State() State { return s.state }

// Ask runs a synchronous turn and returns the assistant's reply.
func (s *Session) Ask(ctx context.Context, model, text string) (string, error) {
	completer, ok := s.provider.(provider.Completer)
	if !ok {
		return "", s.unsupported("synchronous completion")
	}
	if err := validateModel(model); err != nil {
		return "", err
	}

	s.appendUser(ctx, text)

	s.state = StateRequesting
	completion, err := completer.Complete(ctx, model, s.store.Snapshot())
	if err != nil {
		return "", s.fail(err, model)
	}

	s.state = StateReconciling
	msg := completion.Message
	if msg == nil || msg.Role != conversation.RoleAssistant {
		return "", s.fail(dmerr.New(dmerr.CodeProviderResponseInvalid,
			"session: completion carries no assistant message",
			dmerr.FieldProvider(s.provider.Name()), dmerr.FieldModel(model)), model)
	}

	s.append(ctx, *msg)
	s.state = StateIdle
	if completion.Usage != nil {
		s.logger.Debug("turn completed",
			"model", model,
			"input_tokens", completion.Usage.InputTokens,
			"output_tokens", completion.Usage.OutputTokens)
	}
	return completion.Content, nil
}

// AskStream runs a streaming turn. The user message is appended before
// AskStream returns. The returned sequence yields fragments in arrival order
// and, when ranging stops for any reason, appends their concatenation as one
// assistant message unless nothing was received. A provider error is yielded
// once as ("", err) and ends the sequence.
//
// The sequence may be ranged over once; later ranges yield a
// session.stream.consumed error.
func (s *Session) AskStream(ctx context.Context, model, text string) (provider.Stream, error) {
	streamer, ok := s.provider.(provider.Streamer)
	if !ok {
		return nil, s.unsupported("streaming completion")
	}
	if err := validateModel(model); err != nil {
		return nil, err
	}

	s.appendUser(ctx, text)

	s.state = StateRequesting
	fragments, err := streamer.CompleteStream(ctx, model, s.store.Snapshot())
	if err != nil {
		return nil, s.fail(err, model)
	}

	consumed := false
	return func(yield func(string, error) bool) {
		if consumed {
			yield("", dmerr.New(dmerr.CodeSessionStreamConsumed, "session: stream already consumed",
				dmerr.FieldSessionID(s.id)))
			return
		}
		consumed = true

		var (
			buf       strings.Builder
			count     int
			streamErr error
			returned  bool
		)
		// returned stays false only when the loop body panicked.
		defer func() { s.flush(ctx, model, buf.String(), count, streamErr, !returned) }()

		for fragment, err := range fragments {
			if err != nil {
				streamErr = s.classify(err, model)
				yield("", streamErr)
				returned = true
				return
			}
			if fragment == "" {
				continue
			}
			buf.WriteString(fragment)
			count++
			if !yield(fragment, nil) {
				returned = true
				return
			}
		}
		returned = true
	}, nil
}

// flush writes the accumulated stream buffer into the transcript. An aborted
// turn keeps its partial reply but leaves the session in StateFailed.
func (s *Session) flush(ctx context.Context, model, content string, fragments int, streamErr error, aborted bool) {
	s.state = StateReconciling
	if content != "" {
		s.append(ctx, conversation.AssistantMessage(content))
	}

	if aborted {
		s.state = StateFailed
		s.logger.Warn("stream aborted by consumer", "model", model, "fragments", fragments)
		return
	}
	if streamErr != nil {
		s.state = StateFailed
		s.logger.Warn("stream ended with error",
			"model", model, "fragments", fragments, "error", streamErr)
		return
	}
	s.state = StateIdle
	s.logger.Debug("stream reconciled", "model", model, "fragments", fragments, "appended", content != "")
}

// History returns a copy of the transcript.
func (s *Session) History() []conversation.Message {
	return s.store.Snapshot()
}

// Clear empties the transcript, re-seeding the system message when keepSystem.
func (s *Session) Clear(keepSystem bool) {
	s.store.Reset(keepSystem)
	s.state = StateIdle
}

// ListModels asks the provider which models it serves.
func (s *Session) ListModels(ctx context.Context) ([]provider.ModelInfo, error) {
	lister, ok := s.provider.(provider.ModelLister)
	if !ok {
		return nil, s.unsupported("model listing")
	}

	models, err := lister.ListModels(ctx)
	if err != nil {
		return nil, s.classify(err, "")
	}
	return models, nil
}

// Restore replaces the transcript with previously recorded messages, keeping
// the configured system message at index 0. System messages in msgs are
// skipped and the retention cap applies as if the messages were appended one
// by one. Restored messages are not passed to the recorder.
func (s *Session) Restore(msgs []conversation.Message) error {
	for i, msg := range msgs {
		if !msg.Role.Valid() {
			return dmerr.New(dmerr.CodeSessionInputInvalid, "session: restoring message with unknown role",
				dmerr.FieldSessionID(s.id), dmerr.Field("index", i), dmerr.Field("role", string(msg.Role)))
		}
	}

	s.store.Reset(true)
	for _, msg := range msgs {
		if msg.Role == conversation.RoleSystem {
			continue
		}
		s.store.Append(msg)
	}
	s.state = StateIdle
	return nil
}

func (s *Session) appendUser(ctx context.Context, text string) {
	s.state = StateAwaitingUserAppend
	s.append(ctx, conversation.UserMessage(text))
}

func (s *Session) append(ctx context.Context, msg conversation.Message) {
	s.store.Append(msg)
	if s.recorder == nil {
		return
	}
	// The turn already happened; record it even if the caller's context ended.
	if err := s.recorder.Record(context.WithoutCancel(ctx), s.id, msg); err != nil {
		s.logger.Warn("recording message failed", "role", string(msg.Role), "error", err)
	}
}

// fail marks the turn failed and returns err classified for the caller.
func (s *Session) fail(err error, model string) error {
	s.state = StateFailed
	err = s.classify(err, model)
	s.logger.Warn("turn failed", "model", model, "error", err)
	return err
}

// classify passes coded errors through and treats anything else as an
// upstream failure of the provider.
func (s *Session) classify(err error, model string) error {
	if dmerr.CodeOf(err) != "" {
		return err
	}
	fields := []dmerr.Attr{dmerr.FieldProvider(s.provider.Name()), dmerr.FieldSessionID(s.id)}
	if model != "" {
		fields = append(fields, dmerr.FieldModel(model))
	}
	return dmerr.Wrap(err, dmerr.CodeProviderUpstreamFailure, "session: provider request failed", fields...)
}

func (s *Session) unsupported(mode string) error {
	return dmerr.New(dmerr.CodeProviderModeUnsupported, "session: provider does not support "+mode,
		dmerr.FieldProvider(s.provider.Name()), dmerr.FieldSessionID(s.id))
}

func validateModel(model string) error {
	if strings.TrimSpace(model) == "" {
		return dmerr.New(dmerr.CodeSessionInputInvalid, "session: model must not be empty")
	}
	return nil
}
