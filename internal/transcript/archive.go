// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Deskmate Contributors

// Package transcript archives conversation messages in SQLite so a chat can
// be listed and resumed later.
package transcript

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/deskmate-dev/deskmate/internal/conversation"
	"github.com/deskmate-dev/deskmate/internal/session"
	dmerr "github.com/deskmate-dev/deskmate/pkg/errors"
)

var _ session.Recorder = (*Archive)(nil)

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Summary describes one archived session.
type Summary struct {
	ID           string
	Messages     int
	StartedAt    time.Time
	LastActivity time.Time
}

// Archive stores messages per session in a SQLite database.
type Archive struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (or creates) the archive at path, creating parent directories.
func Open(path string) (*Archive, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, dmerr.Wrapf(err, dmerr.CodeTranscriptOpenFailure, "creating transcript directory %s", dir)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, dmerr.Wrapf(err, dmerr.CodeTranscriptOpenFailure, "opening transcript db %s", path)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, dmerr.Wrapf(err, dmerr.CodeTranscriptOpenFailure, "pinging transcript db %s", path)
	}

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, dmerr.Wrapf(err, dmerr.CodeTranscriptOpenFailure, "migrating transcript db %s", path)
	}

	return &Archive{db: db, now: time.Now}, nil
}

func migrate(db *sql.DB) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS transcript_messages (
	rowid      INTEGER PRIMARY KEY AUTOINCREMENT,
	id         TEXT UNIQUE NOT NULL,
	session_id TEXT NOT NULL,
	role       TEXT NOT NULL,
	content    TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transcript_messages_session ON transcript_messages(session_id, rowid);
`
	_, err := db.Exec(ddl)
	return err
}

func (a *Archive) Close() error {
	return a.db.Close()
}

// Record appends msg to the session's archived transcript.
func (a *Archive) Record(ctx context.Context, sessionID string, msg conversation.Message) error {
	if sessionID == "" {
		return dmerr.New(dmerr.CodeSessionInputInvalid, "transcript: session id must not be empty")
	}
	if !msg.Role.Valid() {
		return dmerr.New(dmerr.CodeSessionInputInvalid, "transcript: unknown message role",
			dmerr.FieldSessionID(sessionID), dmerr.Field("role", string(msg.Role)))
	}

	id, err := uuid.NewV7()
	if err != nil {
		return dmerr.Wrap(err, dmerr.CodeInternalFailure, "transcript: generating message id")
	}

	const q = `INSERT INTO transcript_messages (id, session_id, role, content, created_at) VALUES (?, ?, ?, ?, ?)`
	if _, err := a.db.ExecContext(ctx, q, id.String(), sessionID, string(msg.Role), msg.Content, a.formatNow()); err != nil {
		return dmerr.Wrap(err, dmerr.CodeTranscriptDatabase, "transcript: recording message", dmerr.FieldSessionID(sessionID))
	}
	return nil
}

// Load returns the archived messages of a session in the order recorded.
func (a *Archive) Load(ctx context.Context, sessionID string) ([]conversation.Message, error) {
	const q = `SELECT role, content FROM transcript_messages WHERE session_id = ? ORDER BY rowid ASC`

	rows, err := a.db.QueryContext(ctx, q, sessionID)
	if err != nil {
		return nil, dmerr.Wrap(err, dmerr.CodeTranscriptDatabase, "transcript: loading session", dmerr.FieldSessionID(sessionID))
	}
	defer func() { _ = rows.Close() }()

	var msgs []conversation.Message
	for rows.Next() {
		var role, content string
		if err := rows.Scan(&role, &content); err != nil {
			return nil, dmerr.Wrap(err, dmerr.CodeTranscriptDatabase, "transcript: scanning message", dmerr.FieldSessionID(sessionID))
		}
		msgs = append(msgs, conversation.Message{Role: conversation.Role(role), Content: content})
	}
	if err := rows.Err(); err != nil {
		return nil, dmerr.Wrap(err, dmerr.CodeTranscriptDatabase, "transcript: iterating messages", dmerr.FieldSessionID(sessionID))
	}

	if len(msgs) == 0 {
		return nil, dmerr.New(dmerr.CodeTranscriptNotFound, "transcript: session not found", dmerr.FieldSessionID(sessionID))
	}
	return msgs, nil
}

// Sessions lists archived sessions, most recently active first.
func (a *Archive) Sessions(ctx context.Context) ([]Summary, error) {
	const q = `SELECT session_id, COUNT(*), MIN(created_at), MAX(created_at)
FROM transcript_messages
GROUP BY session_id
ORDER BY MAX(rowid) DESC`

	rows, err := a.db.QueryContext(ctx, q)
	if err != nil {
		return nil, dmerr.Wrap(err, dmerr.CodeTranscriptDatabase, "transcript: listing sessions")
	}
	defer func() { _ = rows.Close() }()

	var out []Summary
	for rows.Next() {
		var (
			s             Summary
			started, last string
		)
		if err := rows.Scan(&s.ID, &s.Messages, &started, &last); err != nil {
			return nil, dmerr.Wrap(err, dmerr.CodeTranscriptDatabase, "transcript: scanning session")
		}
		s.StartedAt = parseTime(started)
		s.LastActivity = parseTime(last)
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, dmerr.Wrap(err, dmerr.CodeTranscriptDatabase, "transcript: iterating sessions")
	}
	return out, nil
}

// Delete removes every archived message of a session.
func (a *Archive) Delete(ctx context.Context, sessionID string) error {
	res, err := a.db.ExecContext(ctx, `DELETE FROM transcript_messages WHERE session_id = ?`, sessionID)
	if err != nil {
		return dmerr.Wrap(err, dmerr.CodeTranscriptDatabase, "transcript: deleting session", dmerr.FieldSessionID(sessionID))
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return dmerr.New(dmerr.CodeTranscriptNotFound, "transcript: session not found", dmerr.FieldSessionID(sessionID))
	}
	return nil
}

func (a *Archive) formatNow() string {
	return a.now().UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}
