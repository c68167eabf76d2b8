package session

import (
	"context"
	"errors"
)

// Common errors for journal operations.
var (
	// ErrSessionNotFound is returned when a journal has no record of a session.
	ErrSessionNotFound = errors.New("session not found")
	// ErrJournalClosed is returned when operating on a closed journal.
	ErrJournalClosed = errors.New("journal is closed")
)

// Journal mirrors committed turns outside the process so a session can be
// resumed or inspected while it is alive. The in-memory Store stays the
// source of truth; a journal failure never rolls back a commit.
// Implementations must be safe for concurrent use.
type Journal interface {
	// AppendPair records a committed USER/ASSISTANT pair. Both turns are
	// written or neither is.
	AppendPair(ctx context.Context, sessionID string, pair [2]Turn) error

	// Reset drops every recorded turn of the session.
	Reset(ctx context.Context, sessionID string) error

	// Load returns the recorded turns in order.
	// Returns ErrSessionNotFound if nothing was recorded.
	Load(ctx context.Context, sessionID string) ([]Turn, error)

	// Close releases any resources held by the journal.
	Close() error
}

// Lister is implemented by journals that can enumerate recorded sessions.
type Lister interface {
	// Sessions returns session IDs, most recently written first.
	Sessions(ctx context.Context) ([]string, error)
}

// NopJournal is a Journal that records nothing.
type NopJournal struct{}

// AppendPair implements Journal.
func (NopJournal) AppendPair(context.Context, string, [2]Turn) error { return nil }

// Reset implements Journal.
func (NopJournal) Reset(context.Context, string) error { return nil }

// Load implements Journal.
func (NopJournal) Load(context.Context, string) ([]Turn, error) { return nil, ErrSessionNotFound }

// Close implements Journal.
func (NopJournal) Close() error { return nil }
