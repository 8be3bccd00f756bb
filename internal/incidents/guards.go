package incidents

import (
	"context"
	"errors"
	"fmt"

	"github.com/bissquit/incident-tracker/internal/domain"
	"github.com/bissquit/incident-tracker/internal/pkg/apperr"
	"github.com/bissquit/incident-tracker/internal/store"
)

// lockIncident reads the incident and holds its row lock for the rest of the unit of work.
func lockIncident(ctx context.Context, tx store.Tx, id string) (*domain.Incident, error) {
	incident, err := tx.GetIncidentForUpdate(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.NotFound("incident not found")
		}
		return nil, fmt.Errorf("lock incident: %w", err)
	}
	return incident, nil
}

// checkOpen locks the incident and requires it to be open.
func checkOpen(ctx context.Context, tx store.Tx, id string) (*domain.Incident, error) {
	if id == "" {
		return nil, apperr.MissingField("id")
	}

	incident, err := lockIncident(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if incident.IsClosed() {
		return nil, apperr.AlreadyClosed("incident is already closed")
	}
	return incident, nil
}

// checkAssignable locks the incident and requires it to be open and unassigned,
// and the user to exist.
func checkAssignable(ctx context.Context, tx store.Tx, id, userID string) (*domain.Incident, error) {
	if userID == "" {
		return nil, apperr.MissingField("userId")
	}

	incident, err := checkOpen(ctx, tx, id)
	if err != nil {
		return nil, err
	}

	if _, err := tx.GetUser(ctx, userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.NotFound("user not found")
		}
		return nil, fmt.Errorf("get user: %w", err)
	}

	if incident.IsAssigned() {
		return nil, apperr.AlreadyAssigned("incident is already assigned")
	}
	return incident, nil
}
