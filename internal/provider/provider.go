// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Deskmate Contributors

package provider

import (
	"context"
	"iter"

	"github.com/deskmate-dev/deskmate/internal/conversation"
)

// Provider is the common surface of every remote completion backend.
// Which response modes a backend offers is declared by the optional
// interfaces it implements: Completer, Streamer and ModelLister.
type Provider interface {
	Name() string
	Close() error
}

// Completer returns a whole assistant message per request.
type Completer interface {
	Complete(ctx context.Context, model string, msgs []conversation.Message) (Completion, error)
}

// Streamer returns the assistant output as an ordered sequence of text
// fragments. A non-nil error ends the sequence.
type Streamer interface {
	CompleteStream(ctx context.Context, model string, msgs []conversation.Message) (Stream, error)
}

// ModelLister enumerates the model identifiers a backend serves.
type ModelLister interface {
	ListModels(ctx context.Context) ([]ModelInfo, error)
}

// Stream is a pull-based fragment sequence. Breaking out of a range over a
// Stream releases the underlying connection.
type Stream = iter.Seq2[string, error]

// Completion is the result of a synchronous request. Message is the
// canonical assistant message to record in the transcript; a nil Message
// means the backend returned an unusable response.
type Completion struct {
	Content string
	Message *conversation.Message
	Usage   *Usage
}

// Usage tracks token consumption.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// ModelInfo describes one model served by a backend.
type ModelInfo struct {
	ID       string
	Name     string
	Provider string
}

// Config carries connection parameters. They are passed to the backend
// SDK untouched.
type Config struct {
	APIKey  string
	BaseURL string // optional; OpenAI-compatible hosts such as DeepSeek
}

// Name identifies a registered backend.
type Name string

const (
	NameOpenAI    Name = "openai"
	NameAnthropic Name = "anthropic"
	NameGoogle    Name = "google"
)
