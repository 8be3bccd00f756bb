// Package postgres provides PostgreSQL implementation of the incident store.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bissquit/incident-tracker/internal/domain"
	"github.com/bissquit/incident-tracker/internal/store"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// querier is an interface for database operations that both *pgxpool.Pool and pgx.Tx implement.
type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository implements store.Store using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
	q  querier
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db, q: db}
}

// BeginTx starts a new transaction.
func (r *Repository) BeginTx(ctx context.Context) (pgx.Tx, error) {
	return r.db.Begin(ctx)
}

// RunInTx runs fn inside a transaction. The tenant token from ctx, if any, is
// exposed to SQL as the transaction-local setting app.tenant.
func (r *Repository) RunInTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	tx, err := r.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			slog.Error("failed to rollback transaction", "error", err)
		}
	}()

	if tenant := store.TenantFromContext(ctx); tenant != "" {
		if _, err := tx.Exec(ctx, `SELECT set_config('app.tenant', $1, true)`, tenant); err != nil {
			return fmt.Errorf("set tenant: %w", err)
		}
	}

	if err := fn(ctx, &Repository{db: r.db, q: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// GetReport retrieves a report by ID.
func (r *Repository) GetReport(ctx context.Context, id string) (*domain.Report, error) {
	query := `
		SELECT id, title, description, type, customer_id, created_at
		FROM reports
		WHERE id = $1
	`
	var report domain.Report
	err := r.q.QueryRow(ctx, query, id).Scan(
		&report.ID,
		&report.Title,
		&report.Description,
		&report.Type,
		&report.CustomerID,
		&report.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("get report: %w", err)
	}
	return &report, nil
}

// CreateReport inserts a report. A concurrent insert of the same ID yields
// store.ErrAlreadyExists instead of a unique violation.
func (r *Repository) CreateReport(ctx context.Context, report *domain.Report) error {
	query := `
		INSERT INTO reports (id, title, description, type, customer_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING
	`
	tag, err := r.q.Exec(ctx, query,
		report.ID,
		report.Title,
		report.Description,
		report.Type,
		report.CustomerID,
		report.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create report: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrAlreadyExists
	}
	return nil
}

const incidentColumns = `
	id, title, type, status, priority, assigned_user_id,
	created_at, updated_at, resolved_at,
	sla_duration, sla_start_time, sla_due_date, sla_status, sla_breached_at
`

func scanIncident(row pgx.Row) (*domain.Incident, error) {
	var inc domain.Incident
	err := row.Scan(
		&inc.ID,
		&inc.Title,
		&inc.Type,
		&inc.Status,
		&inc.Priority,
		&inc.AssignedUserID,
		&inc.CreatedAt,
		&inc.UpdatedAt,
		&inc.ResolvedAt,
		&inc.SLADuration,
		&inc.SLAStartTime,
		&inc.SLADueDate,
		&inc.SLAStatus,
		&inc.SLABreachedAt,
	)
	if err != nil {
		return nil, err
	}
	return &inc, nil
}

// GetIncident retrieves an incident by ID.
func (r *Repository) GetIncident(ctx context.Context, id string) (*domain.Incident, error) {
	return r.getIncident(ctx, id, "")
}

// GetIncidentForUpdate retrieves an incident and locks its row until the transaction ends.
func (r *Repository) GetIncidentForUpdate(ctx context.Context, id string) (*domain.Incident, error) {
	return r.getIncident(ctx, id, " FOR UPDATE")
}

func (r *Repository) getIncident(ctx context.Context, id, lock string) (*domain.Incident, error) {
	query := `SELECT ` + incidentColumns + ` FROM incidents WHERE id = $1` + lock

	inc, err := scanIncident(r.q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("get incident: %w", err)
	}
	return inc, nil
}

// CreateIncident inserts an incident.
func (r *Repository) CreateIncident(ctx context.Context, inc *domain.Incident) error {
	query := `
		INSERT INTO incidents (
			id, title, type, status, priority, assigned_user_id,
			created_at, updated_at, resolved_at,
			sla_duration, sla_start_time, sla_due_date, sla_status, sla_breached_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $7, $8, $9, $10, $11, $12, $13)
		RETURNING updated_at
	`
	err := r.q.QueryRow(ctx, query,
		inc.ID,
		inc.Title,
		inc.Type,
		inc.Status,
		inc.Priority,
		inc.AssignedUserID,
		inc.CreatedAt,
		inc.ResolvedAt,
		inc.SLADuration,
		inc.SLAStartTime,
		inc.SLADueDate,
		inc.SLAStatus,
		inc.SLABreachedAt,
	).Scan(&inc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create incident: %w", err)
	}
	return nil
}

// UpdateIncident writes every mutable incident column.
func (r *Repository) UpdateIncident(ctx context.Context, inc *domain.Incident) error {
	query := `
		UPDATE incidents
		SET status = $2, priority = $3, assigned_user_id = $4, resolved_at = $5,
		    sla_duration = $6, sla_start_time = $7, sla_due_date = $8,
		    sla_status = $9, sla_breached_at = $10, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`
	err := r.q.QueryRow(ctx, query,
		inc.ID,
		inc.Status,
		inc.Priority,
		inc.AssignedUserID,
		inc.ResolvedAt,
		inc.SLADuration,
		inc.SLAStartTime,
		inc.SLADueDate,
		inc.SLAStatus,
		inc.SLABreachedAt,
	).Scan(&inc.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.ErrNotFound
		}
		return fmt.Errorf("update incident: %w", err)
	}
	return nil
}

// ListIncidents retrieves incidents with optional filters, newest first.
func (r *Repository) ListIncidents(ctx context.Context, filter domain.IncidentFilter) ([]*domain.Incident, error) {
	query := `SELECT ` + incidentColumns + ` FROM incidents WHERE 1=1`
	args := []interface{}{}
	argNum := 1

	if filter.Title != "" {
		query += fmt.Sprintf(" AND title ILIKE $%d", argNum)
		args = append(args, "%"+escapeLike(filter.Title)+"%")
		argNum++
	}

	if filter.Status != nil {
		query += fmt.Sprintf(" AND status = $%d", argNum)
		args = append(args, *filter.Status)
		argNum++
	}

	if filter.MinPriority != nil {
		allowed := make([]string, 0, 4)
		for _, p := range domain.Priorities() {
			if p.Rank() >= filter.MinPriority.Rank() {
				allowed = append(allowed, string(p))
			}
		}
		query += fmt.Sprintf(" AND priority = ANY($%d)", argNum)
		args = append(args, allowed)
		argNum++
	}

	query += " ORDER BY created_at DESC, id"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argNum)
		args = append(args, filter.Limit)
		argNum++
	}

	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argNum)
		args = append(args, filter.Offset)
	}

	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list incidents: %w", err)
	}
	defer rows.Close()

	incidents := make([]*domain.Incident, 0)
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, fmt.Errorf("scan incident: %w", err)
		}
		incidents = append(incidents, inc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate incidents: %w", err)
	}
	return incidents, nil
}

// ListOpenIncidentIDs returns the IDs of incidents that are not CLOSED.
func (r *Repository) ListOpenIncidentIDs(ctx context.Context) ([]string, error) {
	rows, err := r.q.Query(ctx, `SELECT id FROM incidents WHERE status <> 'CLOSED' ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list open incidents: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan incident id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate incident ids: %w", err)
	}
	return ids, nil
}

// DeleteClosedIncidents removes CLOSED incidents resolved at or before closedBefore.
// A zero closedBefore removes every CLOSED incident.
func (r *Repository) DeleteClosedIncidents(ctx context.Context, closedBefore time.Time) (int64, error) {
	var (
		tag pgconn.CommandTag
		err error
	)
	if closedBefore.IsZero() {
		tag, err = r.q.Exec(ctx, `DELETE FROM incidents WHERE status = 'CLOSED'`)
	} else {
		tag, err = r.q.Exec(ctx,
			`DELETE FROM incidents WHERE status = 'CLOSED' AND (resolved_at IS NULL OR resolved_at <= $1)`,
			closedBefore,
		)
	}
	if err != nil {
		return 0, fmt.Errorf("delete closed incidents: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CreateResolveTime inserts a resolve time row.
func (r *Repository) CreateResolveTime(ctx context.Context, rt *domain.ResolveTime) error {
	query := `
		INSERT INTO resolve_times (id, incident_id, incident_type, time_spent, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := r.q.Exec(ctx, query, rt.ID, rt.IncidentID, rt.IncidentType, rt.TimeSpent, rt.CreatedAt)
	if err != nil {
		return fmt.Errorf("create resolve time: %w", err)
	}
	return nil
}

// GetUser retrieves a user reference by ID.
func (r *Repository) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	var user domain.User
	err := r.q.QueryRow(ctx, `SELECT id, display_name FROM users WHERE id = $1`, userID).
		Scan(&user.ID, &user.DisplayName)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &user, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
