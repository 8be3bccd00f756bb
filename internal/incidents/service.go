// Package incidents implements the incident lifecycle: create, close, reopen, assign and read.
package incidents

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/bissquit/incident-tracker/internal/audit"
	"github.com/bissquit/incident-tracker/internal/domain"
	"github.com/bissquit/incident-tracker/internal/pkg/apperr"
	"github.com/bissquit/incident-tracker/internal/pkg/clock"
	"github.com/bissquit/incident-tracker/internal/pkg/ctxlog"
	"github.com/bissquit/incident-tracker/internal/sla"
	"github.com/bissquit/incident-tracker/internal/store"
	"github.com/google/uuid"
)

// Result messages.
const (
	MessageCreated       = "incident created"
	MessageAlreadyExists = "incident already exists"
)

// Audited field names.
const (
	fieldStatus         = "status"
	fieldAssignedUserID = "assignedUserId"
)

// Service implements the incident lifecycle.
type Service struct {
	store  store.Store
	engine *sla.Engine
	audit  *audit.Logger
	clock  clock.Clock
}

// NewService creates a new incidents service.
func NewService(st store.Store, engine *sla.Engine, auditLogger *audit.Logger, clk clock.Clock) *Service {
	if clk == nil {
		clk = clock.System{}
	}
	return &Service{
		store:  st,
		engine: engine,
		audit:  auditLogger,
		clock:  clk,
	}
}

// CreateIncidentInput contains data for creating an incident from a report.
type CreateIncidentInput struct {
	ID          string
	Title       string
	Description string
	Type        domain.IncidentType
	CustomerID  *string
}

// CreateResult is returned by CreateIncident. Created is false when a report with
// the same ID already exists; nothing is written in that case.
type CreateResult struct {
	ID       string           `json:"id"`
	Created  bool             `json:"created"`
	Message  string           `json:"message"`
	Incident *domain.Incident `json:"incident,omitempty"`
}

// StatusResult is returned by CloseIncident and ReopenIncident.
type StatusResult struct {
	ID     string                `json:"id"`
	Status domain.IncidentStatus `json:"status"`
}

// CreateIncident stores a report and opens an incident for it.
func (s *Service) CreateIncident(ctx context.Context, input CreateIncidentInput) (*CreateResult, error) {
	if err := validateCreate(input); err != nil {
		return nil, err
	}

	logger := ctxlog.FromContext(ctx).With("incident_id", input.ID)

	now := s.clock.Now()
	priority := s.engine.PriorityForType(input.Type)
	if !s.engine.IsKnownType(input.Type) && input.Type != domain.IncidentTypeUnclassified {
		logger.Warn("unknown incident type, using default priority",
			"type", input.Type,
			"priority", priority,
		)
	}

	var (
		result  *CreateResult
		created *domain.Incident
	)
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := tx.GetReport(ctx, input.ID); err == nil {
			result = &CreateResult{ID: input.ID, Created: false, Message: MessageAlreadyExists}
			return nil
		} else if !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("get report: %w", err)
		}

		report := &domain.Report{
			ID:          input.ID,
			Title:       input.Title,
			Description: input.Description,
			Type:        input.Type,
			CustomerID:  input.CustomerID,
			CreatedAt:   now,
		}
		if err := tx.CreateReport(ctx, report); err != nil {
			if errors.Is(err, store.ErrAlreadyExists) {
				// Lost a race with a concurrent create of the same ID.
				result = &CreateResult{ID: input.ID, Created: false, Message: MessageAlreadyExists}
				return nil
			}
			return err
		}

		incident := &domain.Incident{
			ID:        input.ID,
			Title:     input.Title,
			Type:      input.Type,
			Status:    domain.IncidentStatusOpen,
			Priority:  priority,
			CreatedAt: now,
		}
		s.engine.ComputeInitial(priority, now.UnixMilli()).Apply(incident)

		if err := tx.CreateIncident(ctx, incident); err != nil {
			return err
		}

		stored, err := tx.GetIncident(ctx, input.ID)
		if err != nil {
			return fmt.Errorf("read back incident: %w", err)
		}

		created = stored
		result = &CreateResult{ID: input.ID, Created: true, Message: MessageCreated, Incident: stored}
		return nil
	})
	if err != nil {
		logger.Error("failed to create incident", "error", err)
		return nil, apperr.PersistFailed(err)
	}

	if created == nil {
		logger.Info("incident already exists")
		return result, nil
	}

	s.audit.Record(ctx, audit.Entry{
		EntityType: domain.EntityIncident,
		EntityKey:  created.ID,
		Action:     domain.AuditActionCreate,
	})

	logger.Info("incident created",
		"type", created.Type,
		"priority", created.Priority,
		"sla_due_date", created.SLADueDate,
	)
	return result, nil
}

// CloseIncident closes an open incident and records how long it took to resolve.
func (s *Service) CloseIncident(ctx context.Context, id string) (*StatusResult, error) {
	if id == "" {
		return nil, apperr.MissingField("id")
	}

	logger := ctxlog.FromContext(ctx).With("incident_id", id)

	var prior domain.IncidentStatus
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		incident, err := checkOpen(ctx, tx, id)
		if err != nil {
			return err
		}
		prior = incident.Status

		now := s.clock.Now()
		incident.Status = domain.IncidentStatusClosed
		incident.ResolvedAt = &now

		if err := tx.UpdateIncident(ctx, incident); err != nil {
			return apperr.PersistFailed(err)
		}

		rt := &domain.ResolveTime{
			ID:           uuid.New().String(),
			IncidentID:   incident.ID,
			IncidentType: incident.Type,
			TimeSpent:    timeSpentMinutes(incident.CreatedAt, now),
			CreatedAt:    now,
		}
		if err := tx.CreateResolveTime(ctx, rt); err != nil {
			return apperr.PersistFailed(err)
		}
		return nil
	})
	if err != nil {
		return nil, s.operationError(logger, "close", err)
	}

	s.audit.Record(ctx, audit.Entry{
		EntityType:   domain.EntityIncident,
		EntityKey:    id,
		Action:       domain.AuditActionClose,
		FieldChanged: fieldStatus,
		OldValue:     string(prior),
		NewValue:     string(domain.IncidentStatusClosed),
	})

	logger.Info("incident closed")
	return &StatusResult{ID: id, Status: domain.IncidentStatusClosed}, nil
}

// ReopenIncident reopens a closed incident and restarts its SLA timer.
func (s *Service) ReopenIncident(ctx context.Context, id string) (*StatusResult, error) {
	if id == "" {
		return nil, apperr.MissingField("id")
	}

	logger := ctxlog.FromContext(ctx).With("incident_id", id)

	err := s.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		incident, err := lockIncident(ctx, tx, id)
		if err != nil {
			return err
		}
		if !incident.IsClosed() {
			return apperr.InvalidState("incident must be closed to reopen")
		}

		incident.Status = domain.IncidentStatusOpen
		incident.ResolvedAt = nil
		sla.Restart(incident, s.clock.Now().UnixMilli())

		if err := tx.UpdateIncident(ctx, incident); err != nil {
			return apperr.PersistFailed(err)
		}
		return nil
	})
	if err != nil {
		return nil, s.operationError(logger, "reopen", err)
	}

	s.audit.Record(ctx, audit.Entry{
		EntityType:   domain.EntityIncident,
		EntityKey:    id,
		Action:       domain.AuditActionReopen,
		FieldChanged: fieldStatus,
		OldValue:     string(domain.IncidentStatusClosed),
		NewValue:     string(domain.IncidentStatusOpen),
	})

	logger.Info("incident reopened")
	return &StatusResult{ID: id, Status: domain.IncidentStatusOpen}, nil
}

// AssignIncident assigns an open, unassigned incident to an existing user.
func (s *Service) AssignIncident(ctx context.Context, id, userID string) error {
	if id == "" {
		return apperr.MissingField("id")
	}
	if userID == "" {
		return apperr.MissingField("userId")
	}

	logger := ctxlog.FromContext(ctx).With("incident_id", id)

	var previous string
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		incident, err := checkAssignable(ctx, tx, id, userID)
		if err != nil {
			return err
		}
		if incident.AssignedUserID != nil {
			previous = *incident.AssignedUserID
		}

		assignee := userID
		incident.AssignedUserID = &assignee
		if err := tx.UpdateIncident(ctx, incident); err != nil {
			return apperr.PersistFailed(err)
		}
		return nil
	})
	if err != nil {
		return s.operationError(logger, "assign", err)
	}

	s.audit.Record(ctx, audit.Entry{
		EntityType:   domain.EntityIncident,
		EntityKey:    id,
		Action:       domain.AuditActionUpdate,
		FieldChanged: fieldAssignedUserID,
		OldValue:     previous,
		NewValue:     userID,
	})

	logger.Info("incident assigned", "user_id", userID)
	return nil
}

// GetIncident returns an incident by ID.
func (s *Service) GetIncident(ctx context.Context, id string) (*domain.Incident, error) {
	if id == "" {
		return nil, apperr.MissingField("id")
	}

	incident, err := s.store.GetIncident(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.NotFound("incident not found")
		}
		return nil, fmt.Errorf("get incident: %w", err)
	}
	return incident, nil
}

// ListIncidents returns incidents matching the filter, newest first.
func (s *Service) ListIncidents(ctx context.Context, filter domain.IncidentFilter) ([]*domain.Incident, error) {
	filter.Title = strings.TrimSpace(filter.Title)

	incidents, err := s.store.ListIncidents(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list incidents: %w", err)
	}
	if incidents == nil {
		incidents = []*domain.Incident{}
	}
	return incidents, nil
}

// operationError logs store failures with the incident id. Guard errors pass through.
func (s *Service) operationError(logger *slog.Logger, op string, err error) error {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		if errors.Is(err, apperr.ErrPersistFailed) {
			logger.Error("failed to persist incident change", "operation", op, "error", err)
		}
		return err
	}
	logger.Error("failed to persist incident change", "operation", op, "error", err)
	return apperr.PersistFailed(err)
}

func validateCreate(input CreateIncidentInput) error {
	switch {
	case strings.TrimSpace(input.ID) == "":
		return apperr.MissingField("id")
	case strings.TrimSpace(input.Title) == "":
		return apperr.MissingField("title")
	case strings.TrimSpace(input.Description) == "":
		return apperr.MissingField("description")
	case strings.TrimSpace(string(input.Type)) == "":
		return apperr.MissingField("type")
	}
	return nil
}

// timeSpentMinutes rounds the elapsed time to whole minutes, never below zero.
func timeSpentMinutes(createdAt, resolvedAt time.Time) int {
	if createdAt.IsZero() {
		return 0
	}
	minutes := math.Round(float64(resolvedAt.Sub(createdAt).Milliseconds()) / 60000)
	if minutes < 0 {
		return 0
	}
	return int(minutes)
}
