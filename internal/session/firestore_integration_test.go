//go:build integration

package session_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	pconfig "github.com/wearwise/checkout/internal/platform/config"
	pfirestore "github.com/wearwise/checkout/internal/platform/firestore"
	"github.com/wearwise/checkout/internal/session"
)

func TestFirestoreStoreAgainstEmulator(t *testing.T) {
	host := os.Getenv("FIRESTORE_EMULATOR_HOST")
	if host == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}

	provider := pfirestore.NewProvider(pconfig.FirestoreConfig{ProjectID: "test-project", EmulatorHost: host})
	t.Cleanup(func() { _ = provider.Close() })

	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	store := session.NewFirestoreStore(provider, session.WithClock(func() time.Time { return now }))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	key := "checkout:user-1:pending:abc"
	require.NoError(t, store.Set(ctx, key, []byte(`{"status":"initiated"}`), time.Hour))

	value, ok, err := store.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	require.JSONEq(t, `{"status":"initiated"}`, string(value))

	now = now.Add(2 * time.Hour)
	_, ok, err = store.Get(ctx, key)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, store.Clear(ctx, key))
}
