package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"

	"github.com/wearwise/checkout/internal/domain"
	"github.com/wearwise/checkout/internal/services"
)

const uniqueViolation = "23505"

const schema = `
CREATE TABLE IF NOT EXISTS checkout_orders (
    id                   TEXT PRIMARY KEY,
    transaction_id       TEXT NOT NULL UNIQUE,
    user_id              TEXT NOT NULL,
    payment_method       TEXT NOT NULL,
    currency             TEXT NOT NULL DEFAULT '',
    original_amount      BIGINT NOT NULL,
    discount_amount      BIGINT NOT NULL,
    discount_percentage  TEXT NOT NULL DEFAULT '0',
    total_amount         BIGINT NOT NULL,
    phone                TEXT NOT NULL DEFAULT '',
    email                TEXT NOT NULL DEFAULT '',
    address              TEXT NOT NULL DEFAULT '',
    status               TEXT NOT NULL DEFAULT 'created',
    created_at           TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS checkout_order_items (
    order_id          TEXT NOT NULL REFERENCES checkout_orders(id) ON DELETE CASCADE,
    line_no           INT NOT NULL,
    product_id        TEXT NOT NULL,
    product_color_id  TEXT NOT NULL,
    product_size_id   TEXT NOT NULL,
    quantity          BIGINT NOT NULL,
    original_price    BIGINT NOT NULL,
    discount_amount   BIGINT NOT NULL,
    total_price       BIGINT NOT NULL,
    PRIMARY KEY (order_id, line_no)
);
`

// DB is the subset of *pgxpool.Pool used by PostgresStore.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

var _ DB = (*pgxpool.Pool)(nil)

// PostgresStore writes orders directly to Postgres. The unique transaction_id makes
// creation idempotent across instances.
type PostgresStore struct {
	db    DB
	now   func() time.Time
	newID func(time.Time) string
}

var _ services.OrderCreator = (*PostgresStore)(nil)

// Connect opens a pool for dsn and verifies it with a ping.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("orders: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("orders: ping: %w", err)
	}
	return pool, nil
}

// NewPostgresStore constructs the store over db.
func NewPostgresStore(db DB, clock func() time.Time) (*PostgresStore, error) {
	if db == nil {
		return nil, errors.New("orders: database is required")
	}
	if clock == nil {
		clock = time.Now
	}
	return &PostgresStore{
		db:  db,
		now: clock,
		newID: func(now time.Time) string {
			return ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String()
		},
	}, nil
}

// EnsureSchema creates the order tables when missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("orders: apply schema: %w", err)
	}
	return nil
}

// CreateOrder implements services.OrderCreator. A second call with the same transaction id
// returns the order created by the first.
func (s *PostgresStore) CreateOrder(ctx context.Context, payload services.OrderPayload) (domain.Order, error) {
	if payload.TransactionID == "" {
		return domain.Order{}, errors.New("orders: transaction id is required")
	}
	now := s.now().UTC()
	order := domain.Order{
		ID:            s.newID(now),
		TransactionID: payload.TransactionID,
		Status:        "created",
		CreatedAt:     now,
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return domain.Order{}, fmt.Errorf("orders: begin: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	_, err = tx.Exec(ctx, `
		INSERT INTO checkout_orders
			(id, transaction_id, user_id, payment_method, currency, original_amount, discount_amount,
			 discount_percentage, total_amount, phone, email, address, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		order.ID, payload.TransactionID, payload.UserID, payload.PaymentMethod, payload.Currency,
		payload.OriginalAmount, payload.DiscountAmount, payload.DiscountPercentage, payload.TotalAmount,
		payload.Phone, payload.Email, payload.Address, order.Status, order.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			_ = tx.Rollback(ctx)
			return s.existing(ctx, payload.TransactionID)
		}
		return domain.Order{}, fmt.Errorf("orders: insert order: %w", err)
	}

	batch := &pgx.Batch{}
	for i, item := range payload.Items {
		batch.Queue(`
			INSERT INTO checkout_order_items
				(order_id, line_no, product_id, product_color_id, product_size_id, quantity,
				 original_price, discount_amount, total_price)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			order.ID, i+1, item.ProductID, item.ProductColorID, item.ProductSizeID, item.Quantity,
			item.OriginalPrice, item.DiscountAmount, item.TotalPrice,
		)
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return domain.Order{}, fmt.Errorf("orders: insert items: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		if isUniqueViolation(err) {
			return s.existing(ctx, payload.TransactionID)
		}
		return domain.Order{}, fmt.Errorf("orders: commit: %w", err)
	}
	return order, nil
}

func (s *PostgresStore) existing(ctx context.Context, transactionID string) (domain.Order, error) {
	order := domain.Order{TransactionID: transactionID}
	err := s.db.QueryRow(ctx,
		`SELECT id, status, created_at FROM checkout_orders WHERE transaction_id = $1`, transactionID,
	).Scan(&order.ID, &order.Status, &order.CreatedAt)
	if err != nil {
		return domain.Order{}, fmt.Errorf("orders: load existing order for %s: %w", transactionID, err)
	}
	order.CreatedAt = order.CreatedAt.UTC()
	return order, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
