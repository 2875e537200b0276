// Package audit stores the checkout audit trail in SQLite.
//
// The table is append-only. Each row is one lifecycle event of a checkout attempt.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/wearwise/checkout/internal/services"

	_ "modernc.org/sqlite"
)

// Fixed-width so that created_at sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const schema = `
CREATE TABLE IF NOT EXISTS checkout_audit (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    action          TEXT NOT NULL,
    scope_hash      TEXT NOT NULL DEFAULT '',
    correlation_id  TEXT NOT NULL DEFAULT '',
    provider        TEXT NOT NULL DEFAULT '',
    order_id        TEXT NOT NULL DEFAULT '',
    status          TEXT NOT NULL DEFAULT '',
    detail          TEXT,
    trace_id        TEXT NOT NULL DEFAULT '',
    created_at      TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_checkout_audit_correlation ON checkout_audit(correlation_id, created_at);
CREATE INDEX IF NOT EXISTS idx_checkout_audit_action ON checkout_audit(action, created_at);
`

// SQLiteLog implements services.AuditLogRepository.
type SQLiteLog struct {
	db *sql.DB
}

var _ services.AuditLogRepository = (*SQLiteLog)(nil)

// Open opens (or creates) the database at path and applies the schema.
func Open(path string) (*SQLiteLog, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("audit: database path is required")
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("audit: open %q: %w", path, err)
	}
	// one writer
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("audit: apply schema: %w", err)
	}
	return &SQLiteLog{db: db}, nil
}

// Close releases the database.
func (l *SQLiteLog) Close() error {
	return l.db.Close()
}

// Append inserts entry. The trace id of the active span, if any, is stored alongside it.
func (l *SQLiteLog) Append(ctx context.Context, entry services.AuditLogEntry) error {
	var detail any
	if len(entry.Detail) > 0 {
		raw, err := json.Marshal(entry.Detail)
		if err != nil {
			return fmt.Errorf("audit: encode detail: %w", err)
		}
		detail = string(raw)
	}
	var traceID string
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		traceID = sc.TraceID().String()
	}
	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	const q = `
		INSERT INTO checkout_audit
			(action, scope_hash, correlation_id, provider, order_id, status, detail, trace_id, created_at)
		VALUES
			(?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := l.db.ExecContext(ctx, q,
		entry.Action,
		entry.ScopeHash,
		entry.CorrelationID,
		entry.Provider,
		entry.OrderID,
		entry.Status,
		detail,
		traceID,
		createdAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("audit: append %q: %w", entry.Action, err)
	}
	return nil
}

// List returns entries matching filter, oldest first.
func (l *SQLiteLog) List(ctx context.Context, filter services.AuditLogFilter) ([]services.AuditLogEntry, error) {
	var (
		where []string
		args  []any
	)
	if filter.CorrelationID != "" {
		where = append(where, "correlation_id = ?")
		args = append(args, filter.CorrelationID)
	}
	if filter.Action != "" {
		where = append(where, "action = ?")
		args = append(args, filter.Action)
	}
	if !filter.Since.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, filter.Since.UTC().Format(timeLayout))
	}
	q := `SELECT id, action, scope_hash, correlation_id, provider, order_id, status, COALESCE(detail, ''), created_at FROM checkout_audit`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY created_at ASC, id ASC"
	if filter.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := l.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: list: %w", err)
	}
	defer rows.Close()

	var out []services.AuditLogEntry
	for rows.Next() {
		var (
			entry     services.AuditLogEntry
			detail    string
			createdAt string
		)
		if err := rows.Scan(&entry.ID, &entry.Action, &entry.ScopeHash, &entry.CorrelationID, &entry.Provider,
			&entry.OrderID, &entry.Status, &detail, &createdAt); err != nil {
			return nil, fmt.Errorf("audit: scan: %w", err)
		}
		if detail != "" {
			if err := json.Unmarshal([]byte(detail), &entry.Detail); err != nil {
				return nil, fmt.Errorf("audit: decode detail of %d: %w", entry.ID, err)
			}
		}
		entry.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("audit: parse time %q: %w", createdAt, err)
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}
