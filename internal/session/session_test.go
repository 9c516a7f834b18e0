// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Deskmate Contributors

package session_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/deskmate-dev/deskmate/internal/conversation"
	"github.com/deskmate-dev/deskmate/internal/provider"
	"github.com/deskmate-dev/deskmate/internal/session"
	dmerr "github.com/deskmate-dev/deskmate/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testModel = "test-model"

// bareProvider implements no optional capability.
type bareProvider struct{}

func (bareProvider) Name() string { return "bare" }
func (bareProvider) Close() error { return nil }

// syncProvider returns a fixed completion and remembers what it was sent.
type syncProvider struct {
	bareProvider
	completion provider.Completion
	err        error
	sent       [][]conversation.Message
}

func (p *syncProvider) Complete(_ context.Context, _ string, msgs []conversation.Message) (provider.Completion, error) {
	p.sent = append(p.sent, msgs)
	return p.completion, p.err
}

func reply(content string) provider.Completion {
	msg := conversation.AssistantMessage(content)
	return provider.Completion{Content: content, Message: &msg}
}

// streamProvider yields fragments then optionally an error.
type streamProvider struct {
	bareProvider
	fragments []string
	err       error
	openErr   error
	pulled    int
}

func (p *streamProvider) CompleteStream(_ context.Context, _ string, _ []conversation.Message) (provider.Stream, error) {
	if p.openErr != nil {
		return nil, p.openErr
	}
	return func(yield func(string, error) bool) {
		for _, f := range p.fragments {
			p.pulled++
			if !yield(f, nil) {
				return
			}
		}
		if p.err != nil {
			yield("", p.err)
		}
	}, nil
}

func (p *streamProvider) ListModels(context.Context) ([]provider.ModelInfo, error) {
	return []provider.ModelInfo{{ID: "m1", Provider: "stream"}}, nil
}

type recordedMessage struct {
	sessionID string
	msg       conversation.Message
}

type memRecorder struct {
	records []recordedMessage
	err     error
}

func (r *memRecorder) Record(_ context.Context, sessionID string, msg conversation.Message) error {
	r.records = append(r.records, recordedMessage{sessionID: sessionID, msg: msg})
	return r.err
}

func newSession(t *testing.T, p provider.Provider, maxTurns int, opts ...session.Option) *session.Session {
	t.Helper()
	s, err := session.New(p, session.Config{MaxTurns: maxTurns, SystemPrompt: "persona"}, opts...)
	require.NoError(t, err)
	return s
}

func collect(t *testing.T, stream provider.Stream) ([]string, error) {
	t.Helper()
	var (
		got     []string
		lastErr error
	)
	for text, err := range stream {
		if err != nil {
			lastErr = err
			continue
		}
		got = append(got, text)
	}
	return got, lastErr
}

func TestNew(t *testing.T) {
	s := newSession(t, bareProvider{}, 5)

	assert.NotEmpty(t, s.ID())
	assert.Equal(t, session.StateIdle, s.State())
	assert.Equal(t, []conversation.Message{conversation.SystemMessage("persona")}, s.History())
}

func TestNew_Errors(t *testing.T) {
	_, err := session.New(nil, session.Config{MaxTurns: 5})
	assert.True(t, dmerr.HasCode(err, dmerr.CodeSessionInputInvalid))

	_, err = session.New(bareProvider{}, session.Config{MaxTurns: 1})
	assert.True(t, dmerr.HasCode(err, dmerr.CodeConversationConfigInvalid))
}

func TestNew_ExplicitID(t *testing.T) {
	s, err := session.New(bareProvider{}, session.Config{ID: "fixed", MaxTurns: 3})
	require.NoError(t, err)
	assert.Equal(t, "fixed", s.ID())
	assert.Equal(t, conversation.DefaultSystemPrompt, s.History()[0].Content)
}

func TestAsk_RoundTrip(t *testing.T) {
	p := &syncProvider{completion: reply("Hi there")}
	s := newSession(t, p, 10)

	got, err := s.Ask(context.Background(), testModel, "hello")
	require.NoError(t, err)

	assert.Equal(t, "Hi there", got)
	assert.Equal(t, session.StateIdle, s.State())
	assert.Equal(t, []conversation.Message{
		conversation.SystemMessage("persona"),
		conversation.UserMessage("hello"),
		conversation.AssistantMessage("Hi there"),
	}, s.History())

	// The request carries the user message appended first.
	require.Len(t, p.sent, 1)
	assert.Equal(t, []conversation.Message{
		conversation.SystemMessage("persona"),
		conversation.UserMessage("hello"),
	}, p.sent[0])
}

func TestAsk_FailureKeepsUserMessage(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode dmerr.Code
	}{
		{
			name:     "plain error is upstream failure",
			err:      errors.New("connection refused"),
			wantCode: dmerr.CodeProviderUpstreamFailure,
		},
		{
			name:     "coded error passes through",
			err:      dmerr.New(dmerr.CodeProviderRequestInvalid, "bad request"),
			wantCode: dmerr.CodeProviderRequestInvalid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newSession(t, &syncProvider{err: tt.err}, 10)

			_, err := s.Ask(context.Background(), testModel, "hello")
			require.Error(t, err)
			assert.True(t, dmerr.HasCode(err, tt.wantCode))
			assert.Equal(t, session.StateFailed, s.State())

			assert.Equal(t, []conversation.Message{
				conversation.SystemMessage("persona"),
				conversation.UserMessage("hello"),
			}, s.History())
		})
	}
}

func TestAsk_RetryDuplicatesUserMessage(t *testing.T) {
	p := &syncProvider{err: errors.New("timeout")}
	s := newSession(t, p, 10)

	_, err := s.Ask(context.Background(), testModel, "hello")
	require.Error(t, err)

	p.err = nil
	p.completion = reply("ok")
	_, err = s.Ask(context.Background(), testModel, "hello")
	require.NoError(t, err)

	assert.Equal(t, []conversation.Message{
		conversation.SystemMessage("persona"),
		conversation.UserMessage("hello"),
		conversation.UserMessage("hello"),
		conversation.AssistantMessage("ok"),
	}, s.History())
	assert.Equal(t, session.StateIdle, s.State())
}

func TestAsk_MalformedCompletion(t *testing.T) {
	userMsg := conversation.UserMessage("not me")
	tests := []struct {
		name       string
		completion provider.Completion
	}{
		{name: "bare content", completion: provider.Completion{Content: "Hi there"}},
		{name: "wrong role", completion: provider.Completion{Content: "not me", Message: &userMsg}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newSession(t, &syncProvider{completion: tt.completion}, 10)

			got, err := s.Ask(context.Background(), testModel, "hello")
			require.Error(t, err)
			assert.Empty(t, got)
			assert.True(t, dmerr.HasCode(err, dmerr.CodeProviderResponseInvalid))
			assert.Equal(t, session.StateFailed, s.State())

			assert.Equal(t, []conversation.Message{
				conversation.SystemMessage("persona"),
				conversation.UserMessage("hello"),
			}, s.History())
		})
	}
}

func TestAsk_ProtectedSystemAcrossTurns(t *testing.T) {
	for _, maxTurns := range []int{2, 3, 4, 7} {
		t.Run(fmt.Sprintf("max_turns=%d", maxTurns), func(t *testing.T) {
			p := &syncProvider{}
			s := newSession(t, p, maxTurns)

			for i := range 10 {
				p.completion = reply(fmt.Sprintf("a%d", i))
				_, err := s.Ask(context.Background(), testModel, fmt.Sprintf("u%d", i))
				require.NoError(t, err)

				h := s.History()
				assert.LessOrEqual(t, len(h), maxTurns)
				assert.Equal(t, conversation.SystemMessage("persona"), h[0])
			}
		})
	}
}

func TestAsk_EvictsOldestFirst(t *testing.T) {
	p := &syncProvider{}
	s := newSession(t, p, 3)

	p.completion = reply("a1")
	_, err := s.Ask(context.Background(), testModel, "u1")
	require.NoError(t, err)
	assert.Equal(t, []conversation.Message{
		conversation.SystemMessage("persona"),
		conversation.UserMessage("u1"),
		conversation.AssistantMessage("a1"),
	}, s.History())

	p.completion = reply("a2")
	_, err = s.Ask(context.Background(), testModel, "u2")
	require.NoError(t, err)
	assert.Equal(t, []conversation.Message{
		conversation.SystemMessage("persona"),
		conversation.UserMessage("u2"),
		conversation.AssistantMessage("a2"),
	}, s.History())

	// The second request was sent after u1 had been evicted by u2.
	require.Len(t, p.sent, 2)
	assert.Equal(t, []conversation.Message{
		conversation.SystemMessage("persona"),
		conversation.AssistantMessage("a1"),
		conversation.UserMessage("u2"),
	}, p.sent[1])
}

func TestAsk_ModeUnsupported(t *testing.T) {
	s := newSession(t, &streamProvider{}, 10)

	_, err := s.Ask(context.Background(), testModel, "hello")
	require.Error(t, err)
	assert.True(t, dmerr.HasCode(err, dmerr.CodeProviderModeUnsupported))
	assert.Len(t, s.History(), 1)
}

func TestAsk_EmptyModel(t *testing.T) {
	s := newSession(t, &syncProvider{completion: reply("x")}, 10)

	_, err := s.Ask(context.Background(), "  ", "hello")
	require.Error(t, err)
	assert.True(t, dmerr.IsInvalidInput(err))
	assert.Len(t, s.History(), 1)
}

func TestAskStream_Accumulates(t *testing.T) {
	fragments := []string{"Hel", "lo", " world"}
	s := newSession(t, &streamProvider{fragments: fragments}, 10)

	stream, err := s.AskStream(context.Background(), testModel, "hello")
	require.NoError(t, err)
	assert.Equal(t, conversation.UserMessage("hello"), s.History()[1])

	got, streamErr := collect(t, stream)
	require.NoError(t, streamErr)
	assert.Equal(t, fragments, got)

	assert.Equal(t, []conversation.Message{
		conversation.SystemMessage("persona"),
		conversation.UserMessage("hello"),
		conversation.AssistantMessage("Hello world"),
	}, s.History())
	assert.Equal(t, session.StateIdle, s.State())
}

func TestAskStream_EarlyBreakFlushesOnce(t *testing.T) {
	p := &streamProvider{fragments: []string{"f0", "f1", "f2", "f3", "f4"}}
	s := newSession(t, p, 10)

	stream, err := s.AskStream(context.Background(), testModel, "hello")
	require.NoError(t, err)

	var got []string
	for text, err := range stream {
		require.NoError(t, err)
		got = append(got, text)
		if len(got) == 2 {
			break
		}
	}

	assert.Equal(t, []string{"f0", "f1"}, got)
	assert.Equal(t, 2, p.pulled)

	h := s.History()
	require.Len(t, h, 3)
	assert.Equal(t, conversation.AssistantMessage("f0f1"), h[2])
}

func TestAskStream_PanicInLoopFlushesAndFails(t *testing.T) {
	p := &streamProvider{fragments: []string{"a", "b", "c"}}
	s := newSession(t, p, 10)

	stream, err := s.AskStream(context.Background(), testModel, "hello")
	require.NoError(t, err)

	assert.PanicsWithValue(t, "render failed", func() {
		for text, err := range stream {
			require.NoError(t, err)
			if text == "b" {
				panic("render failed")
			}
		}
	})

	h := s.History()
	require.Len(t, h, 3)
	assert.Equal(t, conversation.AssistantMessage("ab"), h[2])
	assert.Equal(t, session.StateFailed, s.State())
	assert.Equal(t, 2, p.pulled)
}

func TestAskStream_SkipsEmptyFragments(t *testing.T) {
	s := newSession(t, &streamProvider{fragments: []string{"", "a", "", "b"}}, 10)

	stream, err := s.AskStream(context.Background(), testModel, "hello")
	require.NoError(t, err)

	got, streamErr := collect(t, stream)
	require.NoError(t, streamErr)
	assert.Equal(t, []string{"a", "b"}, got)
	assert.Equal(t, conversation.AssistantMessage("ab"), s.History()[2])
}

func TestAskStream_EmptyStreamAppendsNothing(t *testing.T) {
	s := newSession(t, &streamProvider{fragments: []string{"", ""}}, 10)

	stream, err := s.AskStream(context.Background(), testModel, "hello")
	require.NoError(t, err)

	got, streamErr := collect(t, stream)
	require.NoError(t, streamErr)
	assert.Empty(t, got)

	assert.Equal(t, []conversation.Message{
		conversation.SystemMessage("persona"),
		conversation.UserMessage("hello"),
	}, s.History())
	assert.Equal(t, session.StateIdle, s.State())
}

func TestAskStream_ErrorFlushesPartialBuffer(t *testing.T) {
	s := newSession(t, &streamProvider{fragments: []string{"par", "tial"}, err: errors.New("connection reset")}, 10)

	stream, err := s.AskStream(context.Background(), testModel, "hello")
	require.NoError(t, err)

	got, streamErr := collect(t, stream)
	assert.Equal(t, []string{"par", "tial"}, got)
	require.Error(t, streamErr)
	assert.True(t, dmerr.IsUpstreamFailure(streamErr))

	assert.Equal(t, []conversation.Message{
		conversation.SystemMessage("persona"),
		conversation.UserMessage("hello"),
		conversation.AssistantMessage("partial"),
	}, s.History())
	assert.Equal(t, session.StateFailed, s.State())
}

func TestAskStream_OpenFailureKeepsUserMessage(t *testing.T) {
	s := newSession(t, &streamProvider{openErr: errors.New("dial tcp: refused")}, 10)

	stream, err := s.AskStream(context.Background(), testModel, "hello")
	require.Error(t, err)
	assert.Nil(t, stream)
	assert.True(t, dmerr.IsUpstreamFailure(err))
	assert.Equal(t, session.StateFailed, s.State())

	assert.Equal(t, []conversation.Message{
		conversation.SystemMessage("persona"),
		conversation.UserMessage("hello"),
	}, s.History())
}

func TestAskStream_SingleUse(t *testing.T) {
	s := newSession(t, &streamProvider{fragments: []string{"once"}}, 10)

	stream, err := s.AskStream(context.Background(), testModel, "hello")
	require.NoError(t, err)

	_, streamErr := collect(t, stream)
	require.NoError(t, streamErr)

	got, streamErr := collect(t, stream)
	assert.Empty(t, got)
	assert.True(t, dmerr.HasCode(streamErr, dmerr.CodeSessionStreamConsumed))
	assert.Len(t, s.History(), 3)
}

func TestAskStream_ModeUnsupported(t *testing.T) {
	s := newSession(t, &syncProvider{}, 10)

	_, err := s.AskStream(context.Background(), testModel, "hello")
	require.Error(t, err)
	assert.True(t, dmerr.HasCode(err, dmerr.CodeProviderModeUnsupported))
	assert.Len(t, s.History(), 1)
}

func TestRecorder(t *testing.T) {
	rec := &memRecorder{}
	s := newSession(t, &syncProvider{completion: reply("Hi")}, 10, session.WithRecorder(rec))

	_, err := s.Ask(context.Background(), testModel, "hello")
	require.NoError(t, err)

	require.Len(t, rec.records, 2)
	assert.Equal(t, s.ID(), rec.records[0].sessionID)
	assert.Equal(t, conversation.UserMessage("hello"), rec.records[0].msg)
	assert.Equal(t, conversation.AssistantMessage("Hi"), rec.records[1].msg)
}

func TestRecorder_FailureDoesNotFailTurn(t *testing.T) {
	rec := &memRecorder{err: errors.New("disk full")}
	s := newSession(t, &streamProvider{fragments: []string{"a"}}, 10, session.WithRecorder(rec))

	stream, err := s.AskStream(context.Background(), testModel, "hello")
	require.NoError(t, err)
	_, streamErr := collect(t, stream)
	require.NoError(t, streamErr)

	assert.Len(t, rec.records, 2)
	assert.Len(t, s.History(), 3)
}

func TestClear(t *testing.T) {
	s := newSession(t, &syncProvider{completion: reply("Hi")}, 10)
	_, err := s.Ask(context.Background(), testModel, "hello")
	require.NoError(t, err)

	s.Clear(true)
	assert.Equal(t, []conversation.Message{conversation.SystemMessage("persona")}, s.History())

	s.Clear(false)
	assert.Empty(t, s.History())
}

func TestListModels(t *testing.T) {
	s := newSession(t, &streamProvider{}, 10)

	models, err := s.ListModels(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []provider.ModelInfo{{ID: "m1", Provider: "stream"}}, models)
	assert.Len(t, s.History(), 1)

	_, err = newSession(t, bareProvider{}, 10).ListModels(context.Background())
	assert.True(t, dmerr.HasCode(err, dmerr.CodeProviderModeUnsupported))
}

func TestRestore(t *testing.T) {
	rec := &memRecorder{}
	s := newSession(t, bareProvider{}, 3, session.WithRecorder(rec))

	err := s.Restore([]conversation.Message{
		conversation.SystemMessage("old persona"),
		conversation.UserMessage("u1"),
		conversation.AssistantMessage("a1"),
		conversation.UserMessage("u2"),
	})
	require.NoError(t, err)

	assert.Equal(t, []conversation.Message{
		conversation.SystemMessage("persona"),
		conversation.AssistantMessage("a1"),
		conversation.UserMessage("u2"),
	}, s.History())
	assert.Empty(t, rec.records)
}

func TestRestore_UnknownRole(t *testing.T) {
	s := newSession(t, bareProvider{}, 3)

	err := s.Restore([]conversation.Message{{Role: "tool", Content: "x"}})
	require.Error(t, err)
	assert.True(t, dmerr.IsInvalidInput(err))
	assert.Len(t, s.History(), 1)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", session.StateIdle.String())
	assert.Equal(t, "awaiting_user_append", session.StateAwaitingUserAppend.String())
	assert.Equal(t, "requesting", session.StateRequesting.String())
	assert.Equal(t, "reconciling", session.StateReconciling.String())
	assert.Equal(t, "failed", session.StateFailed.String())
	assert.Equal(t, "unknown", session.State(99).String())
}
