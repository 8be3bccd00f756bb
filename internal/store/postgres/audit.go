package postgres

import (
	"context"
	"fmt"

	"github.com/bissquit/incident-tracker/internal/domain"
)

// AppendAudit inserts an audit log entry.
func (r *Repository) AppendAudit(ctx context.Context, entry *domain.AuditLogEntry) error {
	query := `
		INSERT INTO audit_log (id, entity_type, entity_key, action, field_changed, old_value, new_value, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.q.Exec(ctx, query,
		entry.ID,
		entry.EntityType,
		entry.EntityKey,
		entry.Action,
		entry.FieldChanged,
		entry.OldValue,
		entry.NewValue,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

// ListAudit retrieves audit entries matching the filter, newest first.
func (r *Repository) ListAudit(ctx context.Context, filter domain.AuditFilter) ([]*domain.AuditLogEntry, error) {
	query := `
		SELECT id, entity_type, entity_key, action, field_changed, old_value, new_value, created_at
		FROM audit_log
		WHERE 1=1
	`
	args := []interface{}{}
	argNum := 1

	if filter.EntityType != "" {
		query += fmt.Sprintf(" AND entity_type = $%d", argNum)
		args = append(args, filter.EntityType)
		argNum++
	}

	if filter.EntityKey != "" {
		query += fmt.Sprintf(" AND entity_key = $%d", argNum)
		args = append(args, filter.EntityKey)
		argNum++
	}

	if filter.Action != nil {
		query += fmt.Sprintf(" AND action = $%d", argNum)
		args = append(args, *filter.Action)
		argNum++
	}

	query += " ORDER BY created_at DESC, id"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argNum)
		args = append(args, filter.Limit)
	}

	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	entries := make([]*domain.AuditLogEntry, 0)
	for rows.Next() {
		var e domain.AuditLogEntry
		if err := rows.Scan(
			&e.ID,
			&e.EntityType,
			&e.EntityKey,
			&e.Action,
			&e.FieldChanged,
			&e.OldValue,
			&e.NewValue,
			&e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}
	return entries, nil
}
