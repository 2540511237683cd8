// Package audit appends immutable records of security-relevant events.
package audit

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"corebank.io/internal/auth"
	"corebank.io/internal/obs"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context so every
// audit entry written under it can be correlated with the request log.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext extracts the audit request id if present.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// Recorder writes audit entries to durable storage. A failed append never
// propagates to the security decision that triggered it; instead it is
// logged locally and counted, because a silent gap in the trail is itself
// a compliance incident.
type Recorder struct {
	store auth.AuditStore
	log   *zap.Logger
	now   func() time.Time
}

var _ auth.Recorder = (*Recorder)(nil)

// NewRecorder constructs a Recorder. A nil logger falls back to the shared
// obs logger.
func NewRecorder(store auth.AuditStore, log *zap.Logger) *Recorder {
	if log == nil {
		log = obs.Logger()
	}
	return &Recorder{store: store, log: log, now: time.Now}
}

// Record appends the entry synchronously.
func (r *Recorder) Record(ctx context.Context, entry auth.AuditEntry) {
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = r.now().UTC()
	}
	if entry.RequestID == "" {
		entry.RequestID = RequestIDFromContext(ctx)
	}

	if err := r.store.Append(ctx, &entry); err != nil {
		obs.ObserveAuditWriteFailure()
		r.log.Error("audit append failed",
			zap.String("event", entry.Event),
			zap.String("actor_id", entry.ActorID),
			zap.String("outcome", entry.Outcome),
			zap.Error(err),
		)
		return
	}

	r.log.Info("audit",
		zap.String("event", entry.Event),
		zap.String("actor_id", entry.ActorID),
		zap.String("outcome", entry.Outcome),
		zap.String("request_id", entry.RequestID),
		zap.Any("metadata", entry.Metadata),
	)
}
