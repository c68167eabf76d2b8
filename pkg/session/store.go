package session

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

// Common errors for store operations.
var (
	// ErrStaleVersion is returned by CommitPair when the store was reset
	// after the caller captured its version token.
	ErrStaleVersion = errors.New("session store was reset since the version was captured")
	// ErrInvalidPair is returned by CommitPair when the turns are not a
	// USER turn followed by an ASSISTANT turn.
	ErrInvalidPair = errors.New("commit requires a user turn followed by an assistant turn")
)

// Store holds the transcript and at most one staged attachment for a
// single session. Store is safe for concurrent use; no method blocks on
// anything but its own mutex.
type Store struct {
	id     string
	primer *SystemPrimer

	mu      sync.RWMutex
	turns   []Turn
	staged  *Attachment
	version uint64
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithPrimer seeds the store with a system primer. An empty text means no primer.
func WithPrimer(text string) StoreOption {
	return func(s *Store) {
		if text == "" {
			s.primer = nil
			return
		}
		s.primer = &SystemPrimer{Text: text}
	}
}

// WithID sets the session identifier instead of generating one.
func WithID(id string) StoreOption {
	return func(s *Store) {
		if id != "" {
			s.id = id
		}
	}
}

// NewStore creates an empty store for a new session.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		id:    uuid.New().String(),
		turns: make([]Turn, 0),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ID returns the session identifier.
func (s *Store) ID() string {
	return s.id
}

// Stage replaces any staged attachment unconditionally. No validation is
// performed here; size and type checks belong to the caller.
func (s *Store) Stage(a Attachment) Attachment {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	data := make([]byte, len(a.Data))
	copy(data, a.Data)
	a.Data = data

	s.mu.Lock()
	s.staged = &a
	s.mu.Unlock()
	return a
}

// Staged returns the staged attachment, if any.
func (s *Store) Staged() (Attachment, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.staged == nil {
		return Attachment{}, false
	}
	return *s.staged, true
}

// StagedAt returns the staged attachment together with the version it was
// observed at, read under one lock.
func (s *Store) StagedAt() (Attachment, uint64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.staged == nil {
		return Attachment{}, s.version, false
	}
	return *s.staged, s.version, true
}

// ClearAttachment discards the staged attachment.
func (s *Store) ClearAttachment() {
	s.mu.Lock()
	s.staged = nil
	s.mu.Unlock()
}

// Append inserts a turn at the end of the transcript. The caller
// guarantees role alternation. The turn's Seq and, when empty, its ID are
// assigned by the store.
func (s *Store) Append(t Turn) Turn {
	s.mu.Lock()
	t = s.appendLocked(t)
	s.mu.Unlock()
	return t
}

// CommitPair appends a USER turn and its ASSISTANT reply as one atomic
// step. Nothing is written when version no longer matches the store's
// version. When consumeAttachmentID is non-empty and equals the staged
// attachment's ID, the attachment is cleared in the same step.
func (s *Store) CommitPair(version uint64, user, assistant Turn, consumeAttachmentID string) ([2]Turn, error) {
	if user.Role != RoleUser || assistant.Role != RoleAssistant {
		return [2]Turn{}, ErrInvalidPair
	}

	s.mu.Lock()
	if s.version != version {
		s.mu.Unlock()
		return [2]Turn{}, ErrStaleVersion
	}
	committed := [2]Turn{s.appendLocked(user), s.appendLocked(assistant)}
	if consumeAttachmentID != "" && s.staged != nil && s.staged.ID == consumeAttachmentID {
		s.staged = nil
	}
	s.mu.Unlock()
	return committed, nil
}

// Reset empties the transcript (keeping the primer), clears the staged
// attachment and advances the version token. Calling Reset repeatedly
// leaves the same observable state.
func (s *Store) Reset() {
	s.mu.Lock()
	s.turns = make([]Turn, 0)
	s.staged = nil
	s.version++
	s.mu.Unlock()
}

// Restore replaces the turn history, for example when resuming a session
// from a journal. The staged attachment is kept and the version advances.
func (s *Store) Restore(turns []Turn) {
	s.mu.Lock()
	s.turns = make([]Turn, 0, len(turns))
	for _, t := range turns {
		s.appendLocked(t)
	}
	s.version++
	s.mu.Unlock()
}

// Snapshot returns an immutable copy of the transcript. It never mutates
// the store.
func (s *Store) Snapshot() Transcript {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// Version returns the reset generation token.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Primer returns the configured system primer.
func (s *Store) Primer() (SystemPrimer, bool) {
	if s.primer == nil {
		return SystemPrimer{}, false
	}
	return *s.primer, true
}

func (s *Store) appendLocked(t Turn) Turn {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	t.Seq = len(s.turns)
	if s.primer != nil {
		t.Seq++
	}
	s.turns = append(s.turns, t)
	return t
}

func (s *Store) snapshotLocked() Transcript {
	exchanges := make([]Exchange, 0, len(s.turns)+1)
	if s.primer != nil {
		exchanges = append(exchanges, *s.primer)
	}
	for _, t := range s.turns {
		exchanges = append(exchanges, t)
	}
	return Transcript{exchanges: exchanges}
}
