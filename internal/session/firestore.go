package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/wearwise/checkout/internal/platform/firestore"
)

const defaultFirestoreCollection = "checkout_sessions"

// ClientProvider yields a lazily initialised Firestore client.
type ClientProvider interface {
	Client(ctx context.Context) (*firestore.Client, error)
}

// FirestoreStore keeps one document per key. Expiry is enforced on read through expires_at;
// a Firestore TTL policy on that field reclaims storage.
type FirestoreStore struct {
	provider   ClientProvider
	collection string
	now        func() time.Time
}

// FirestoreOption customises the FirestoreStore.
type FirestoreOption func(*FirestoreStore)

// WithCollection overrides the collection name.
func WithCollection(name string) FirestoreOption {
	return func(s *FirestoreStore) {
		if name != "" {
			s.collection = name
		}
	}
}

// WithClock overrides the clock used for expiry checks.
func WithClock(clock func() time.Time) FirestoreOption {
	return func(s *FirestoreStore) {
		if clock != nil {
			s.now = clock
		}
	}
}

// NewFirestoreStore constructs a Firestore-backed store.
func NewFirestoreStore(provider ClientProvider, opts ...FirestoreOption) *FirestoreStore {
	store := &FirestoreStore{
		provider:   provider,
		collection: defaultFirestoreCollection,
		now:        time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	return store
}

type firestoreEntry struct {
	Key       string    `firestore:"key"`
	Value     []byte    `firestore:"value"`
	UpdatedAt time.Time `firestore:"updated_at"`
	ExpiresAt time.Time `firestore:"expires_at,omitempty"`
}

// Get implements Store.
func (s *FirestoreStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	ref, err := s.doc(ctx, key)
	if err != nil {
		return nil, false, err
	}
	snap, err := ref.Get(ctx)
	if err = pfirestore.WrapError("session.get", err); err != nil {
		if pfirestore.IsNotFound(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	var entry firestoreEntry
	if err := snap.DataTo(&entry); err != nil {
		return nil, false, fmt.Errorf("session: decode entry: %w", err)
	}
	if !entry.ExpiresAt.IsZero() && !s.now().UTC().Before(entry.ExpiresAt) {
		return nil, false, nil
	}
	return entry.Value, true, nil
}

// Set implements Store.
func (s *FirestoreStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	ref, err := s.doc(ctx, key)
	if err != nil {
		return err
	}
	now := s.now().UTC()
	entry := firestoreEntry{Key: key, Value: value, UpdatedAt: now}
	if ttl > 0 {
		entry.ExpiresAt = now.Add(ttl)
	}
	if _, err := ref.Set(ctx, entry); err != nil {
		return pfirestore.WrapError("session.set", err)
	}
	return nil
}

// Clear implements Store.
func (s *FirestoreStore) Clear(ctx context.Context, key string) error {
	ref, err := s.doc(ctx, key)
	if err != nil {
		return err
	}
	if _, err := ref.Delete(ctx); err != nil && !pfirestore.IsNotFound(err) {
		return pfirestore.WrapError("session.delete", err)
	}
	return nil
}

func (s *FirestoreStore) doc(ctx context.Context, key string) (*firestore.DocumentRef, error) {
	client, err := s.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	// Keys contain ':' and arbitrary scope text, so the document id is a digest.
	sum := sha256.Sum256([]byte(key))
	return client.Collection(s.collection).Doc(hex.EncodeToString(sum[:])), nil
}
