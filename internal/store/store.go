// Package store defines the data access contract shared by the incident components.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/bissquit/incident-tracker/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// ErrAlreadyExists is returned when an insert collides with an existing primary key.
var ErrAlreadyExists = errors.New("record already exists")

// Tx is the set of record operations available inside a unit of work.
// Implementations bound to a pool (outside RunInTx) run each call on its own.
type Tx interface {
	GetReport(ctx context.Context, id string) (*domain.Report, error)
	// CreateReport returns ErrAlreadyExists when a report with the same ID is stored.
	CreateReport(ctx context.Context, report *domain.Report) error

	GetIncident(ctx context.Context, id string) (*domain.Incident, error)
	// GetIncidentForUpdate reads the incident and holds a row lock until the unit of work ends.
	GetIncidentForUpdate(ctx context.Context, id string) (*domain.Incident, error)
	CreateIncident(ctx context.Context, incident *domain.Incident) error
	UpdateIncident(ctx context.Context, incident *domain.Incident) error
	ListIncidents(ctx context.Context, filter domain.IncidentFilter) ([]*domain.Incident, error)
	ListOpenIncidentIDs(ctx context.Context) ([]string, error)
	// DeleteClosedIncidents removes CLOSED incidents resolved at or before closedBefore.
	// A zero closedBefore removes every CLOSED incident.
	DeleteClosedIncidents(ctx context.Context, closedBefore time.Time) (int64, error)

	CreateResolveTime(ctx context.Context, rt *domain.ResolveTime) error

	GetUser(ctx context.Context, userID string) (*domain.User, error)
}

// UnitOfWork runs fn atomically. The Tx passed to fn is only valid inside fn.
// Returning an error from fn rolls back every write made through the Tx.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Store is a Tx that can also open units of work.
type Store interface {
	Tx
	UnitOfWork
}
