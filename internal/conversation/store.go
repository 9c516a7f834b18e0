// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Deskmate Contributors

package conversation

import (
	"slices"

	dmerr "github.com/deskmate-dev/deskmate/pkg/errors"
)

// DefaultSystemPrompt seeds the system message when none is configured.
const DefaultSystemPrompt = "You are a helpful assistant."

// Store holds the ordered transcript of one conversation and keeps it within
// a message-count cap. Index 0 is never evicted; every other message,
// including later system messages, may be evicted oldest-first.
//
// A Store is not safe for concurrent use.
type Store struct {
	maxTurns int
	system   Message
	messages []Message
}

// New returns a Store seeded with the system message. maxTurns is the maximum
// number of retained messages and must be greater than 1.
func New(maxTurns int, systemPrompt string) (*Store, error) {
	if maxTurns <= 1 {
		return nil, dmerr.Errorf(dmerr.CodeConversationConfigInvalid,
			"conversation: max_turns must be greater than 1, got %d", maxTurns)
	}
	if systemPrompt == "" {
		systemPrompt = DefaultSystemPrompt
	}

	s := &Store{
		maxTurns: maxTurns,
		system:   SystemMessage(systemPrompt),
		messages: make([]Message, 0, maxTurns+1),
	}
	s.Append(s.system)
	return s, nil
}

// Append adds msg at the tail and evicts until the cap holds. A message with
// an unknown role is ignored and Append reports false.
func (s *Store) Append(msg Message) bool {
	if !msg.Role.Valid() {
		return false
	}
	s.messages = append(s.messages, msg)
	s.evict()
	return true
}

// evict drops index 1 while the cap is exceeded. Index 0 always survives,
// whatever its role; maxTurns > 1 keeps index 1 in range.
func (s *Store) evict() {
	for len(s.messages) > s.maxTurns {
		s.messages = slices.Delete(s.messages, 1, 2)
	}
}

// Snapshot returns a copy of the transcript in turn order.
func (s *Store) Snapshot() []Message {
	return slices.Clone(s.messages)
}

// Reset clears the transcript. With keepSystem the configured system message
// is appended again; without it the store is left empty.
func (s *Store) Reset(keepSystem bool) {
	s.messages = s.messages[:0]
	if keepSystem {
		s.Append(s.system)
	}
}

func (s *Store) Len() int { return len(s.messages) }

func (s *Store) MaxTurns() int { return s.maxTurns }

// SystemPrompt returns the configured system prompt, even after a Reset
// that dropped it from the transcript.
func (s *Store) SystemPrompt() string { return s.system.Content }
