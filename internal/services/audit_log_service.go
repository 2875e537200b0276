package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	defaultHasherPrefix = "sha256:"
	defaultAuditLimit   = 100
	maxAuditLimit       = 1000
)

// AuditLogger defines the logging contract used by the audit writer service.
type AuditLogger interface {
	Warnf(format string, args ...any)
}

type auditLogService struct {
	repo     AuditLogRepository
	clock    func() time.Time
	logger   AuditLogger
	hashSalt string
}

// AuditLogServiceDeps bundles constructor inputs for the audit writer service.
type AuditLogServiceDeps struct {
	Repository AuditLogRepository
	Clock      func() time.Time
	Logger     AuditLogger
	HashSalt   string
}

// NewAuditLogService creates an audit log writer backed by the supplied repository.
func NewAuditLogService(deps AuditLogServiceDeps) (AuditLogService, error) {
	if deps.Repository == nil {
		return nil, errors.New("audit log service: repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := deps.Logger
	if logger == nil {
		logger = noopAuditLogger{}
	}

	return &auditLogService{
		repo:     deps.Repository,
		clock:    func() time.Time { return clock().UTC() },
		logger:   logger,
		hashSalt: deps.HashSalt,
	}, nil
}

// Record persists an audit log entry. Shopper scopes are stored as salted hashes. Repository
// failures are logged and never reach the caller.
func (s *auditLogService) Record(ctx context.Context, record AuditLogRecord) {
	if s.repo == nil {
		return
	}
	entry := s.buildEntry(record)
	if err := s.repo.Append(ctx, entry); err != nil {
		s.logger.Warnf("audit log append failed: %v", err)
	}
}

// List delegates to the repository with a bounded limit.
func (s *auditLogService) List(ctx context.Context, filter AuditLogFilter) ([]AuditLogEntry, error) {
	if s.repo == nil {
		return nil, errors.New("audit log service: repository is required")
	}
	filter.CorrelationID = strings.TrimSpace(filter.CorrelationID)
	filter.Action = sanitizeAction(filter.Action)
	switch {
	case filter.Limit <= 0:
		filter.Limit = defaultAuditLimit
	case filter.Limit > maxAuditLimit:
		filter.Limit = maxAuditLimit
	}
	if !filter.Since.IsZero() {
		filter.Since = filter.Since.UTC()
	}
	entries, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("audit log service: list: %w", err)
	}
	return entries, nil
}

func (s *auditLogService) buildEntry(record AuditLogRecord) AuditLogEntry {
	occurred := record.OccurredAt
	if occurred.IsZero() {
		occurred = s.clock()
	} else {
		occurred = occurred.UTC()
	}

	entry := AuditLogEntry{
		Action:        sanitizeAction(record.Action),
		CorrelationID: sanitizeText(record.CorrelationID, 64),
		Provider:      sanitizeText(record.Provider, 32),
		OrderID:       sanitizeText(record.OrderID, 128),
		Status:        sanitizeText(record.Status, 32),
		CreatedAt:     occurred,
	}
	if scope := strings.TrimSpace(record.Scope); scope != "" {
		entry.ScopeHash = defaultHasherPrefix + s.hashString(scope)
	}
	if len(record.Detail) > 0 {
		detail := make(map[string]any, len(record.Detail))
		for key, value := range record.Detail {
			trimmed := sanitizeText(key, 80)
			if trimmed == "" {
				continue
			}
			detail[trimmed] = sanitizeDetailValue(value)
		}
		if len(detail) > 0 {
			entry.Detail = detail
		}
	}
	return entry
}

func (s *auditLogService) hashString(value string) string {
	sum := sha256.Sum256([]byte(s.hashSalt + strings.TrimSpace(value)))
	return hex.EncodeToString(sum[:])
}

type noopAuditLogger struct{}

func (noopAuditLogger) Warnf(string, ...any) {}

func sanitizeAction(action string) string {
	return strings.ToLower(sanitizeText(action, 120))
}

func sanitizeDetailValue(value any) any {
	switch v := value.(type) {
	case string:
		return sanitizeText(v, 512)
	case fmt.Stringer:
		return sanitizeText(v.String(), 512)
	case time.Time:
		return v.UTC().Format(time.RFC3339)
	default:
		return v
	}
}

func sanitizeText(input string, limit int) string {
	if limit <= 0 {
		limit = 256
	}
	input = strings.TrimSpace(input)
	if input == "" {
		return ""
	}
	var builder strings.Builder
	for _, r := range input {
		if r < 32 && r != '\n' && r != '\r' && r != '\t' {
			continue
		}
		builder.WriteRune(r)
		if builder.Len() >= limit {
			break
		}
	}
	return builder.String()
}
