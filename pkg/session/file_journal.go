package session

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"
)

// ErrInvalidPathComponent is returned when a session ID contains unsafe characters.
var ErrInvalidPathComponent = errors.New("invalid path component: contains path separator or traversal sequence")

// validatePathComponent checks that a string is safe to use as a file name.
func validatePathComponent(s string) error {
	if s == "" {
		return errors.New("path component cannot be empty")
	}
	if strings.ContainsAny(s, `/\`) || strings.Contains(s, "..") {
		return ErrInvalidPathComponent
	}
	return nil
}

// FileJournal implements Journal using one JSONL file per session:
//
//	<base-dir>/
//	  └── <session-id>.jsonl
type FileJournal struct {
	baseDir string
	mu      sync.RWMutex
	closed  bool
}

// NewFileJournal creates a file journal rooted at baseDir.
// If baseDir is empty, uses ~/.tourmate/sessions.
func NewFileJournal(baseDir string) (*FileJournal, error) {
	if baseDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("get home directory: %w", err)
		}
		baseDir = filepath.Join(home, ".tourmate", "sessions")
	}

	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("create base directory: %w", err)
	}

	return &FileJournal{baseDir: baseDir}, nil
}

func (f *FileJournal) path(sessionID string) (string, error) {
	if err := validatePathComponent(sessionID); err != nil {
		return "", fmt.Errorf("invalid session ID: %w", err)
	}
	return filepath.Join(f.baseDir, sessionID+".jsonl"), nil
}

// maxJournalLine bounds one encoded turn when reading a journal back.
const maxJournalLine = 16 << 20

// AppendPair writes both turns with a single write call.
func (f *FileJournal) AppendPair(ctx context.Context, sessionID string, pair [2]Turn) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ErrJournalClosed
	}

	p, err := f.path(sessionID)
	if err != nil {
		return err
	}

	var buf []byte
	for _, t := range pair {
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("marshal turn: %w", err)
		}
		if len(data) >= maxJournalLine {
			return fmt.Errorf("turn %s is %d bytes encoded, exceeds the %d byte journal line limit", t.ID, len(data), maxJournalLine)
		}
		buf = append(buf, data...)
		buf = append(buf, '\n')
	}

	file, err := os.OpenFile(p, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600) // #nosec G304 - session ID validated
	if err != nil {
		return fmt.Errorf("open journal file: %w", err)
	}
	defer func() { _ = file.Close() }()

	if _, err := file.Write(buf); err != nil {
		return fmt.Errorf("write turns: %w", err)
	}
	return nil
}

// Reset removes the session's file.
func (f *FileJournal) Reset(ctx context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ErrJournalClosed
	}

	p, err := f.path(sessionID)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove journal file: %w", err)
	}
	return nil
}

// Load reads the session's file in order.
func (f *FileJournal) Load(ctx context.Context, sessionID string) ([]Turn, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.closed {
		return nil, ErrJournalClosed
	}

	p, err := f.path(sessionID)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(p) // #nosec G304 - session ID validated
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("open journal file: %w", err)
	}
	defer func() { _ = file.Close() }()

	var turns []Turn
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), maxJournalLine)
	for scanner.Scan() {
		var t Turn
		if err := json.Unmarshal(scanner.Bytes(), &t); err != nil {
			return nil, fmt.Errorf("parse turn: %w", err)
		}
		turns = append(turns, t)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan turns: %w", err)
	}
	if len(turns) == 0 {
		return nil, ErrSessionNotFound
	}
	return turns, nil
}

// Sessions lists journal files, most recently modified first.
func (f *FileJournal) Sessions(ctx context.Context) ([]string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.closed {
		return nil, ErrJournalClosed
	}

	entries, err := os.ReadDir(f.baseDir)
	if err != nil {
		return nil, fmt.Errorf("read journal directory: %w", err)
	}

	type item struct {
		id  string
		mod time.Time
	}
	var items []item
	for _, e := range entries {
		id, ok := strings.CutSuffix(e.Name(), ".jsonl")
		if !ok || e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		items = append(items, item{id: id, mod: info.ModTime()})
	}
	slices.SortFunc(items, func(a, b item) int {
		if c := b.mod.Compare(a.mod); c != 0 {
			return c
		}
		return strings.Compare(a.id, b.id)
	})

	ids := make([]string, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.id)
	}
	return ids, nil
}

// Close marks the journal closed.
func (f *FileJournal) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}
