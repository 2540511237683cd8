package audit

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"corebank.io/internal/auth"
)

type memAuditStore struct {
	entries []auth.AuditEntry
	err     error
}

func (m *memAuditStore) Append(ctx context.Context, entry *auth.AuditEntry) error {
	if m.err != nil {
		return m.err
	}
	m.entries = append(m.entries, *entry)
	return nil
}

func TestRecordEnrichesEntry(t *testing.T) {
	store := &memAuditStore{}
	core, logs := observer.New(zap.InfoLevel)
	rec := NewRecorder(store, zap.New(core))

	ctx := WithRequestID(context.Background(), "req-123")
	rec.Record(ctx, auth.AuditEntry{
		Event:   "auth.login",
		ActorID: "user-42",
		Outcome: auth.OutcomeSuccess,
	})

	if len(store.entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(store.entries))
	}
	entry := store.entries[0]
	if entry.RequestID != "req-123" {
		t.Fatalf("unexpected request id: %q", entry.RequestID)
	}
	if entry.OccurredAt.IsZero() {
		t.Fatal("expected occurred_at to be stamped")
	}
	if logs.FilterMessage("audit").Len() != 1 {
		t.Fatal("expected audit log line")
	}
}

func TestRecordSwallowsStoreFailure(t *testing.T) {
	store := &memAuditStore{err: errors.New("disk full")}
	core, logs := observer.New(zap.ErrorLevel)
	rec := NewRecorder(store, zap.New(core))

	rec.Record(context.Background(), auth.AuditEntry{
		Event:   "auth.session.rotate",
		Outcome: auth.OutcomeSuccess,
	})

	if logs.FilterMessage("audit append failed").Len() != 1 {
		t.Fatal("expected local error log for failed append")
	}
}
