package session

import (
	"context"
	"fmt"
)

// Config holds session configuration from YAML.
type Config struct {
	// Primer is the system instruction seeded at session start.
	Primer string `yaml:"primer"`

	// Journal specifies where committed turns are mirrored.
	// Options: "none", "file", "sqlite", "redis", "firestore"
	// Default: "none"
	Journal string `yaml:"journal"`

	// BaseDir is the base directory for the file journal.
	// Default: ~/.tourmate/sessions
	BaseDir string `yaml:"base_dir"`

	// SQLite holds settings for the sqlite journal.
	SQLite SQLiteConfig `yaml:"sqlite,omitempty"`

	// Redis holds settings for the redis journal.
	Redis RedisConfig `yaml:"redis,omitempty"`

	// Firestore holds settings for the firestore journal.
	Firestore FirestoreConfig `yaml:"firestore,omitempty"`
}

// DefaultPrimer is the instruction the companion is seeded with.
const DefaultPrimer = "You are CulturalTourMate, a trustworthy, insightful, and articulate cultural companion. " +
	"When a tourist uploads or captures an image of a landmark, artifact, or artwork, you provide engaging, " +
	"accurate, and culturally rich information to deepen their understanding. You explain historical context, " +
	"symbolism, artistic style, and local significance in a concise yet refined way. Your tone is friendly, " +
	"professional, and easy to understand."

// DefaultConfig returns the default session configuration.
func DefaultConfig() Config {
	return Config{
		Primer:  DefaultPrimer,
		Journal: "none",
		BaseDir: "",
	}
}

// NewJournal builds the journal selected by cfg.
func NewJournal(cfg Config) (Journal, error) {
	switch cfg.Journal {
	case "", "none":
		return NopJournal{}, nil
	case "file":
		j, err := NewFileJournal(cfg.BaseDir)
		if err != nil {
			return nil, err
		}
		return j, nil
	case "sqlite":
		j, err := NewSQLiteJournal(cfg.SQLite)
		if err != nil {
			return nil, err
		}
		return j, nil
	case "redis":
		j, err := NewRedisJournal(cfg.Redis)
		if err != nil {
			return nil, err
		}
		return j, nil
	case "firestore":
		j, err := NewFirestoreJournal(context.Background(), cfg.Firestore)
		if err != nil {
			return nil, err
		}
		return j, nil
	default:
		return nil, fmt.Errorf("unknown journal type: %s", cfg.Journal)
	}
}
