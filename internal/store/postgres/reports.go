package postgres

import (
	"context"
	"fmt"

	"github.com/bissquit/incident-tracker/internal/domain"
)

// CountIncidents counts incidents, optionally restricted to one status.
func (r *Repository) CountIncidents(ctx context.Context, status *domain.IncidentStatus) (int64, error) {
	var (
		count int64
		err   error
	)
	if status == nil {
		err = r.q.QueryRow(ctx, `SELECT COUNT(*) FROM incidents`).Scan(&count)
	} else {
		err = r.q.QueryRow(ctx, `SELECT COUNT(*) FROM incidents WHERE status = $1`, *status).Scan(&count)
	}
	if err != nil {
		return 0, fmt.Errorf("count incidents: %w", err)
	}
	return count, nil
}

// AvgResolutionTimeByType groups resolve time rows by incident type.
func (r *Repository) AvgResolutionTimeByType(ctx context.Context) ([]domain.ResolutionByType, error) {
	query := `
		SELECT incident_type, COUNT(*), AVG(time_spent)::float8
		FROM resolve_times
		GROUP BY incident_type
		ORDER BY incident_type
	`
	rows, err := r.q.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("average resolution time: %w", err)
	}
	defer rows.Close()

	result := make([]domain.ResolutionByType, 0)
	for rows.Next() {
		var row domain.ResolutionByType
		if err := rows.Scan(&row.IncidentType, &row.Count, &row.AvgTime); err != nil {
			return nil, fmt.Errorf("scan resolution time: %w", err)
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate resolution times: %w", err)
	}
	return result, nil
}

// CountOpenByPriority counts OPEN incidents per priority, highest priority first.
func (r *Repository) CountOpenByPriority(ctx context.Context) ([]domain.PriorityCount, error) {
	query := `
		SELECT priority, COUNT(*)
		FROM incidents
		WHERE status = 'OPEN'
		GROUP BY priority
		ORDER BY CASE priority
			WHEN 'CRITICAL' THEN 0
			WHEN 'HIGH' THEN 1
			WHEN 'MEDIUM' THEN 2
			WHEN 'LOW' THEN 3
			ELSE 4
		END
	`
	rows, err := r.q.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("count open incidents by priority: %w", err)
	}
	defer rows.Close()

	result := make([]domain.PriorityCount, 0)
	for rows.Next() {
		var row domain.PriorityCount
		if err := rows.Scan(&row.Priority, &row.Count); err != nil {
			return nil, fmt.Errorf("scan priority count: %w", err)
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate priority counts: %w", err)
	}
	return result, nil
}
