package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/wearwise/checkout/internal/platform/audit"
	"github.com/wearwise/checkout/internal/services"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestQuoteJSON(t *testing.T) {
	out, err := execute(t, "quote", "--line", "100.000 VND:1", "--line", "250000:2", "--discount", "10%", "--json")
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	var got quoteOutput
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("decode output %q: %v", out, err)
	}
	if got.OriginalAmount != 600000 || got.DiscountAmount != 60000 || got.FinalAmount != 540000 {
		t.Fatalf("unexpected quote %+v", got)
	}
	if len(got.Lines) != 2 || got.Lines[1].LineTotal != 500000 {
		t.Fatalf("unexpected lines %+v", got.Lines)
	}
	if !got.WithinBounds {
		t.Fatal("expected quote within default bounds")
	}
}

func TestQuoteTableReportsBounds(t *testing.T) {
	out, err := execute(t, "quote", "--line", "500")
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if !strings.Contains(out, "outside [1000, 50000000]") {
		t.Fatalf("expected bounds warning, got %q", out)
	}
}

func TestQuoteRejectsBadLines(t *testing.T) {
	for _, line := range []string{"abc", "1000:0", "1000:x"} {
		if _, err := execute(t, "quote", "--line", line); err == nil {
			t.Fatalf("expected error for line %q", line)
		}
	}
	if _, err := execute(t, "quote"); err == nil {
		t.Fatal("expected error without lines")
	}
}

func TestAuditListJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")
	log, err := audit.Open(path)
	if err != nil {
		t.Fatalf("open audit: %v", err)
	}
	now := time.Now().UTC()
	for _, entry := range []services.AuditLogEntry{
		{Action: "checkout_initiated", CorrelationID: "01HZX", Provider: "cod", Status: "pending", CreatedAt: now},
		{Action: "checkout_initiated", CorrelationID: "01HZY", Provider: "card", Status: "pending", CreatedAt: now},
	} {
		if err := log.Append(context.Background(), entry); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if err := log.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	out, err := execute(t, "audit", "list", "--db", path, "--correlation-id", "01HZX", "--json")
	if err != nil {
		t.Fatalf("audit list: %v", err)
	}
	var entries []services.AuditLogEntry
	if err := json.Unmarshal([]byte(out), &entries); err != nil {
		t.Fatalf("decode output %q: %v", out, err)
	}
	if len(entries) != 1 || entries[0].Provider != "cod" {
		t.Fatalf("unexpected entries %+v", entries)
	}
}

func TestRecoverRequiresUser(t *testing.T) {
	if _, err := execute(t, "recover", "01HZX"); err == nil || !strings.Contains(err.Error(), "--user") {
		t.Fatalf("expected --user error, got %v", err)
	}
}
