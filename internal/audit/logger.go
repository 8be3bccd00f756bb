// Package audit appends immutable change records to the audit log.
package audit

import (
	"context"
	"time"

	"github.com/bissquit/incident-tracker/internal/domain"
	"github.com/bissquit/incident-tracker/internal/pkg/ctxlog"
	"github.com/google/uuid"
)

// Sink stores audit entries.
type Sink interface {
	AppendAudit(ctx context.Context, entry *domain.AuditLogEntry) error
}

// Reader lists stored audit entries.
type Reader interface {
	ListAudit(ctx context.Context, filter domain.AuditFilter) ([]*domain.AuditLogEntry, error)
}

// Entry is the input to Record. Empty strings are stored as NULL.
type Entry struct {
	EntityType   string
	EntityKey    string
	Action       domain.AuditAction
	FieldChanged string
	OldValue     string
	NewValue     string
}

// Logger records audit entries. Failures never propagate to the caller.
type Logger struct {
	sink Sink
	now  func() time.Time
}

// NewLogger creates a new audit logger. A nil sink disables recording.
func NewLogger(sink Sink) *Logger {
	return &Logger{sink: sink, now: time.Now}
}

// Record appends an entry. Sink failures are logged and counted, not returned.
func (l *Logger) Record(ctx context.Context, e Entry) {
	logger := ctxlog.FromContext(ctx)

	if l == nil || l.sink == nil {
		logger.Warn("audit sink not configured, entry dropped",
			"entity_type", e.EntityType,
			"action", e.Action,
		)
		return
	}

	entry := &domain.AuditLogEntry{
		ID:           uuid.New().String(),
		EntityType:   e.EntityType,
		EntityKey:    nullable(e.EntityKey),
		Action:       e.Action,
		FieldChanged: nullable(e.FieldChanged),
		OldValue:     nullable(e.OldValue),
		NewValue:     nullable(e.NewValue),
		CreatedAt:    l.now().UTC(),
	}

	if err := l.sink.AppendAudit(ctx, entry); err != nil {
		recordAuditWrite(string(e.Action), "failed")
		logger.Error("failed to write audit entry",
			"entity_type", e.EntityType,
			"entity_key", e.EntityKey,
			"action", e.Action,
			"error", err,
		)
		return
	}

	recordAuditWrite(string(e.Action), "success")
	logger.Debug("audit entry recorded",
		"entity_type", e.EntityType,
		"entity_key", e.EntityKey,
		"action", e.Action,
		"field_changed", e.FieldChanged,
	)
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
