// Package reporting computes read-only incident statistics.
package reporting

import (
	"context"
	"fmt"

	"github.com/bissquit/incident-tracker/internal/audit"
	"github.com/bissquit/incident-tracker/internal/domain"
	"golang.org/x/sync/errgroup"
)

// Repository provides the aggregate queries reporting needs.
type Repository interface {
	// CountIncidents counts incidents, optionally restricted to one status.
	CountIncidents(ctx context.Context, status *domain.IncidentStatus) (int64, error)
	AvgResolutionTimeByType(ctx context.Context) ([]domain.ResolutionByType, error)
	CountOpenByPriority(ctx context.Context) ([]domain.PriorityCount, error)
}

// Stats holds aggregate incident counts.
type Stats struct {
	Total        int64 `json:"total"`
	Open         int64 `json:"open"`
	Closed       int64 `json:"closed"`
	IsConsistent bool  `json:"is_consistent"`
}

// Service provides reporting operations.
type Service struct {
	repo  Repository
	audit *audit.Logger
}

// NewService creates a new reporting service.
func NewService(repo Repository, auditLogger *audit.Logger) *Service {
	return &Service{repo: repo, audit: auditLogger}
}

// IncidentStats returns total, open and closed counts.
func (s *Service) IncidentStats(ctx context.Context) (Stats, error) {
	var stats Stats
	open := domain.IncidentStatusOpen
	closed := domain.IncidentStatusClosed

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := s.repo.CountIncidents(gctx, nil)
		stats.Total = n
		return err
	})
	g.Go(func() error {
		n, err := s.repo.CountIncidents(gctx, &open)
		stats.Open = n
		return err
	})
	g.Go(func() error {
		n, err := s.repo.CountIncidents(gctx, &closed)
		stats.Closed = n
		return err
	})
	if err := g.Wait(); err != nil {
		return Stats{}, fmt.Errorf("count incidents: %w", err)
	}

	stats.IsConsistent = stats.Total == stats.Open+stats.Closed

	s.audit.Record(ctx, audit.Entry{EntityType: domain.EntityIncidents, Action: domain.AuditActionGet})
	return stats, nil
}

// AvgResolutionTimeByType returns the mean resolution time in minutes per incident type.
func (s *Service) AvgResolutionTimeByType(ctx context.Context) ([]domain.ResolutionByType, error) {
	rows, err := s.repo.AvgResolutionTimeByType(ctx)
	if err != nil {
		return nil, fmt.Errorf("average resolution time: %w", err)
	}
	if rows == nil {
		rows = []domain.ResolutionByType{}
	}

	s.audit.Record(ctx, audit.Entry{EntityType: domain.EntityResolveTime, Action: domain.AuditActionGet})
	return rows, nil
}

// IncidentsByPriority returns open incident counts grouped by priority.
func (s *Service) IncidentsByPriority(ctx context.Context) ([]domain.PriorityCount, error) {
	rows, err := s.repo.CountOpenByPriority(ctx)
	if err != nil {
		return nil, fmt.Errorf("count by priority: %w", err)
	}
	if rows == nil {
		rows = []domain.PriorityCount{}
	}

	s.audit.Record(ctx, audit.Entry{EntityType: domain.EntityIncidents, Action: domain.AuditActionGet})
	return rows, nil
}
