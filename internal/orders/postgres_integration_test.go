package orders

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"
)

func TestPostgresStoreCreateOrderIsIdempotent(t *testing.T) {
	dsn := os.Getenv("CHECKOUT_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("CHECKOUT_TEST_POSTGRES_DSN not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := Connect(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)

	store, err := NewPostgresStore(pool, nil)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if err := store.EnsureSchema(ctx); err != nil {
		t.Fatalf("schema: %v", err)
	}

	payload := samplePayload()
	payload.TransactionID = "tx-it-" + time.Now().UTC().Format("20060102150405.000000000")
	t.Cleanup(func() {
		_, _ = pool.Exec(context.Background(), `DELETE FROM checkout_orders WHERE transaction_id = $1`, payload.TransactionID)
	})

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		ids = map[string]struct{}{}
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			order, err := store.CreateOrder(ctx, payload)
			if err != nil {
				t.Errorf("create order: %v", err)
				return
			}
			mu.Lock()
			ids[order.ID] = struct{}{}
			mu.Unlock()
		}()
	}
	wg.Wait()
	if len(ids) != 1 {
		t.Fatalf("expected a single order id, got %v", ids)
	}
}
