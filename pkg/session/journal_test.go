package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupMiniredis(t *testing.T, ttl time.Duration) (*miniredis.Miniredis, *RedisJournal) {
	t.Helper()

	mr := miniredis.RunT(t)

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	journal := NewRedisJournalFromClient(client, "test:", ttl)

	t.Cleanup(func() {
		_ = journal.Close()
	})

	return mr, journal
}

func samplePair() [2]Turn {
	return [2]Turn{
		{ID: "u1", Role: RoleUser, Text: "What is this statue?", Seq: 1},
		{ID: "a1", Role: RoleAssistant, Text: "It is a marble figure.", Seq: 2},
	}
}

func TestRedisJournal_AppendAndLoad(t *testing.T) {
	_, journal := setupMiniredis(t, 0)
	ctx := context.Background()

	if err := journal.AppendPair(ctx, "sess-1", samplePair()); err != nil {
		t.Fatalf("AppendPair failed: %v", err)
	}

	turns, err := journal.Load(ctx, "sess-1")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(turns) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(turns))
	}
	if turns[0].Role != RoleUser || turns[1].Role != RoleAssistant {
		t.Errorf("unexpected roles: %s, %s", turns[0].Role, turns[1].Role)
	}
	if turns[1].Text != "It is a marble figure." {
		t.Errorf("Text mismatch: got %q", turns[1].Text)
	}
}

func TestRedisJournal_Load_NotFound(t *testing.T) {
	_, journal := setupMiniredis(t, 0)

	_, err := journal.Load(context.Background(), "nonexistent")
	if !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestRedisJournal_Reset(t *testing.T) {
	_, journal := setupMiniredis(t, 0)
	ctx := context.Background()

	if err := journal.AppendPair(ctx, "sess-1", samplePair()); err != nil {
		t.Fatalf("AppendPair failed: %v", err)
	}
	if err := journal.Reset(ctx, "sess-1"); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}

	_, err := journal.Load(ctx, "sess-1")
	if !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound after reset, got %v", err)
	}
}

func TestRedisJournal_TTL(t *testing.T) {
	mr, journal := setupMiniredis(t, time.Hour)
	ctx := context.Background()

	if err := journal.AppendPair(ctx, "sess-ttl", samplePair()); err != nil {
		t.Fatalf("AppendPair failed: %v", err)
	}

	mr.FastForward(2 * time.Hour)

	_, err := journal.Load(ctx, "sess-ttl")
	if !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound after TTL expiry, got %v", err)
	}
}

func TestRedisJournal_Close(t *testing.T) {
	_, journal := setupMiniredis(t, 0)

	if err := journal.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	_, err := journal.Load(context.Background(), "sess-1")
	if !errors.Is(err, ErrJournalClosed) {
		t.Errorf("expected ErrJournalClosed after close, got %v", err)
	}
}

func TestRedisJournal_Ping(t *testing.T) {
	_, journal := setupMiniredis(t, 0)

	if err := journal.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestNewRedisJournal_RequiresAddr(t *testing.T) {
	if _, err := NewRedisJournal(RedisConfig{}); err == nil {
		t.Error("expected error for empty address")
	}
}

func TestFileJournal_AppendLoadReset(t *testing.T) {
	journal, err := NewFileJournal(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileJournal() error = %v", err)
	}
	defer func() { _ = journal.Close() }()

	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := journal.AppendPair(ctx, "sess-1", samplePair()); err != nil {
			t.Fatalf("AppendPair() error = %v", err)
		}
	}

	turns, err := journal.Load(ctx, "sess-1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(turns) != 4 {
		t.Fatalf("Load() returned %d turns, want 4", len(turns))
	}

	if err := journal.Reset(ctx, "sess-1"); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	if _, err := journal.Load(ctx, "sess-1"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Load() after Reset error = %v, want ErrSessionNotFound", err)
	}

	// Resetting an unknown session is not an error.
	if err := journal.Reset(ctx, "never-written"); err != nil {
		t.Errorf("Reset() of unknown session error = %v", err)
	}
}

func TestFileJournal_LongTurnRoundTrip(t *testing.T) {
	journal, err := NewFileJournal(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileJournal failed: %v", err)
	}
	ctx := context.Background()

	pair := samplePair()
	pair[1].Text = strings.Repeat("这是一座大理石雕像。", 2500)
	if len(pair[1].Text) <= 64*1024 {
		t.Fatalf("reply is %d bytes, want more than 64 KiB", len(pair[1].Text))
	}
	if err := journal.AppendPair(ctx, "long", pair); err != nil {
		t.Fatalf("AppendPair failed: %v", err)
	}

	turns, err := journal.Load(ctx, "long")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(turns) != 2 || turns[1].Text != pair[1].Text {
		t.Errorf("long reply did not round-trip: %d turns", len(turns))
	}
}

func TestFileJournal_DefaultDir(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	journal, err := NewFileJournal("")
	if err != nil {
		t.Fatalf("NewFileJournal() error = %v", err)
	}
	defer func() { _ = journal.Close() }()

	if _, err := os.Stat(filepath.Join(home, ".tourmate", "sessions")); err != nil {
		t.Errorf("default directory not created: %v", err)
	}
}

func TestFileJournal_Closed(t *testing.T) {
	journal, err := NewFileJournal(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileJournal() error = %v", err)
	}
	_ = journal.Close()

	if err := journal.AppendPair(context.Background(), "sess-1", samplePair()); !errors.Is(err, ErrJournalClosed) {
		t.Errorf("AppendPair() after Close error = %v, want ErrJournalClosed", err)
	}
}

func TestFileJournal_PathTraversalPrevention(t *testing.T) {
	journal, err := NewFileJournal(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileJournal() error = %v", err)
	}
	defer func() { _ = journal.Close() }()

	ctx := context.Background()

	cases := []struct {
		name      string
		sessionID string
	}{
		{"slash", "../etc"},
		{"backslash", "..\\etc"},
		{"dotdot", "foo..bar"},
		{"empty", ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := journal.AppendPair(ctx, tc.sessionID, samplePair()); err == nil {
				t.Errorf("AppendPair() should reject session ID %q", tc.sessionID)
			}
		})
	}
}

func TestNewJournal(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "default", cfg: Config{}},
		{name: "none", cfg: Config{Journal: "none"}},
		{name: "file", cfg: Config{Journal: "file", BaseDir: t.TempDir()}},
		{name: "sqlite", cfg: Config{Journal: "sqlite", SQLite: SQLiteConfig{Path: filepath.Join(t.TempDir(), "s.db")}}},
		{name: "firestore without project", cfg: Config{Journal: "firestore"}, wantErr: true},
		{name: "redis without addr", cfg: Config{Journal: "redis"}, wantErr: true},
		{name: "unknown", cfg: Config{Journal: "postgres"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j, err := NewJournal(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewJournal() error = %v, wantErr %v", err, tt.wantErr)
			}
			if j != nil {
				_ = j.Close()
			}
		})
	}
}

func TestNopJournal(t *testing.T) {
	var j Journal = NopJournal{}
	ctx := context.Background()

	if err := j.AppendPair(ctx, "s", samplePair()); err != nil {
		t.Errorf("AppendPair() error = %v", err)
	}
	if _, err := j.Load(ctx, "s"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Load() error = %v, want ErrSessionNotFound", err)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Journal != "none" {
		t.Errorf("Journal = %q, want none", cfg.Journal)
	}
	if cfg.Primer == "" {
		t.Error("Primer should default to the companion instruction")
	}
}
