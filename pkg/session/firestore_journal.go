package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

const defaultFirestoreCollection = "tourmate_sessions"

// FirestoreJournal implements Journal on Google Cloud Firestore:
//
//	<collection>/<session-id>              updated_at, expires_at
//	<collection>/<session-id>/turns/<seq>  id, role, text, seq, expires_at
//
// Set a Firestore TTL policy on expires_at to drop journals once the
// session lifetime has passed.
type FirestoreJournal struct {
	client     *firestore.Client
	collection string
	ttl        time.Duration
	now        func() time.Time

	mu     sync.RWMutex
	closed bool
}

// FirestoreConfig holds Firestore connection configuration.
type FirestoreConfig struct {
	// ProjectID is the GCP project (required).
	ProjectID string `yaml:"project_id"`
	// CredentialsFile is a service account key; empty uses ADC.
	CredentialsFile string `yaml:"credentials_file,omitempty"`
	// Collection is the top-level collection (default: "tourmate_sessions").
	Collection string `yaml:"collection"`
	// TTL sets expires_at on written documents (0 = never expire).
	TTL time.Duration `yaml:"ttl"`
}

// firestoreTurn is the stored form of a Turn.
type firestoreTurn struct {
	ID        string    `firestore:"id"`
	Role      string    `firestore:"role"`
	Text      string    `firestore:"text"`
	Seq       int       `firestore:"seq"`
	ExpiresAt time.Time `firestore:"expires_at,omitempty"`
}

// NewFirestoreJournal connects to Firestore. FIRESTORE_EMULATOR_HOST is
// honoured by the client.
func NewFirestoreJournal(ctx context.Context, cfg FirestoreConfig) (*FirestoreJournal, error) {
	if cfg.ProjectID == "" {
		return nil, errors.New("firestore project ID is required")
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := firestore.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client: %w", err)
	}

	return NewFirestoreJournalFromClient(client, cfg.Collection, cfg.TTL), nil
}

// NewFirestoreJournalFromClient creates a journal from an existing client.
func NewFirestoreJournalFromClient(client *firestore.Client, collection string, ttl time.Duration) *FirestoreJournal {
	if collection == "" {
		collection = defaultFirestoreCollection
	}
	return &FirestoreJournal{
		client:     client,
		collection: collection,
		ttl:        ttl,
		now:        time.Now,
	}
}

func (j *FirestoreJournal) checkOpen() error {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		return ErrJournalClosed
	}
	return nil
}

func (j *FirestoreJournal) sessionDoc(sessionID string) (*firestore.DocumentRef, error) {
	if err := validatePathComponent(sessionID); err != nil {
		return nil, fmt.Errorf("invalid session ID: %w", err)
	}
	return j.client.Collection(j.collection).Doc(sessionID), nil
}

// turnDocID orders documents by Seq under a lexical listing.
func turnDocID(seq int) string {
	return fmt.Sprintf("%010d", seq)
}

func (j *FirestoreJournal) expiry() time.Time {
	if j.ttl <= 0 {
		return time.Time{}
	}
	return j.now().Add(j.ttl)
}

func toFirestoreTurn(t Turn, expires time.Time) firestoreTurn {
	return firestoreTurn{
		ID:        t.ID,
		Role:      string(t.Role),
		Text:      t.Text,
		Seq:       t.Seq,
		ExpiresAt: expires,
	}
}

func (ft firestoreTurn) turn() Turn {
	return Turn{ID: ft.ID, Role: Role(ft.Role), Text: ft.Text, Seq: ft.Seq}
}

// AppendPair writes both turns and touches the session document in one
// transaction.
func (j *FirestoreJournal) AppendPair(ctx context.Context, sessionID string, pair [2]Turn) error {
	if err := j.checkOpen(); err != nil {
		return err
	}
	ref, err := j.sessionDoc(sessionID)
	if err != nil {
		return err
	}

	expires := j.expiry()
	meta := map[string]any{"updated_at": j.now()}
	if !expires.IsZero() {
		meta["expires_at"] = expires
	}

	err = j.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if err := tx.Set(ref, meta, firestore.MergeAll); err != nil {
			return err
		}
		for _, t := range pair {
			doc := ref.Collection("turns").Doc(turnDocID(t.Seq))
			if err := tx.Set(doc, toFirestoreTurn(t, expires)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("append pair: %w", err)
	}
	return nil
}

// Reset deletes every turn document and the session document.
func (j *FirestoreJournal) Reset(ctx context.Context, sessionID string) error {
	if err := j.checkOpen(); err != nil {
		return err
	}
	ref, err := j.sessionDoc(sessionID)
	if err != nil {
		return err
	}

	bulkWriter := j.client.BulkWriter(ctx)
	defer bulkWriter.End()

	iter := ref.Collection("turns").Documents(ctx)
	defer iter.Stop()
	for {
		doc, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return fmt.Errorf("reset session: %w", err)
		}
		if _, err := bulkWriter.Delete(doc.Ref); err != nil {
			return fmt.Errorf("failed to queue delete: %w", err)
		}
	}
	if _, err := bulkWriter.Delete(ref); err != nil {
		return fmt.Errorf("failed to queue delete: %w", err)
	}
	return nil
}

// Load reads every recorded turn ordered by Seq.
func (j *FirestoreJournal) Load(ctx context.Context, sessionID string) ([]Turn, error) {
	if err := j.checkOpen(); err != nil {
		return nil, err
	}
	ref, err := j.sessionDoc(sessionID)
	if err != nil {
		return nil, err
	}

	iter := ref.Collection("turns").OrderBy("seq", firestore.Asc).Documents(ctx)
	defer iter.Stop()

	var turns []Turn
	for {
		doc, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("load turns: %w", err)
		}
		var ft firestoreTurn
		if err := doc.DataTo(&ft); err != nil {
			return nil, fmt.Errorf("decode turn %s: %w", doc.Ref.ID, err)
		}
		turns = append(turns, ft.turn())
	}
	if len(turns) == 0 {
		return nil, ErrSessionNotFound
	}
	return turns, nil
}

// Ping reads at most one document to check connectivity.
func (j *FirestoreJournal) Ping(ctx context.Context) error {
	if err := j.checkOpen(); err != nil {
		return err
	}
	iter := j.client.Collection(j.collection).Limit(1).Documents(ctx)
	defer iter.Stop()
	if _, err := iter.Next(); err != nil && !errors.Is(err, iterator.Done) {
		return err
	}
	return nil
}

// Close releases the client.
func (j *FirestoreJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return nil
	}
	j.closed = true
	return j.client.Close()
}
