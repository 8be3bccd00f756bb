package domain

import "time"

// AuditAction is the kind of change recorded in the audit log.
type AuditAction string

// Audit actions.
const (
	AuditActionCreate AuditAction = "CREATE"
	AuditActionUpdate AuditAction = "UPDATE"
	AuditActionClose  AuditAction = "CLOSE"
	AuditActionReopen AuditAction = "REOPEN"
	AuditActionGet    AuditAction = "GET"
)

// IsValid checks if the action is known.
func (a AuditAction) IsValid() bool {
	switch a {
	case AuditActionCreate, AuditActionUpdate, AuditActionClose, AuditActionReopen, AuditActionGet:
		return true
	}
	return false
}

// Audited entity types.
const (
	EntityIncident    = "Incident"
	EntityIncidents   = "Incidents"
	EntityResolveTime = "IncidentResolveTime"
)

// AuditLogEntry is an immutable record of a change or read.
type AuditLogEntry struct {
	ID           string      `json:"id"`
	EntityType   string      `json:"entity_type"`
	EntityKey    *string     `json:"entity_key,omitempty"`
	Action       AuditAction `json:"action"`
	FieldChanged *string     `json:"field_changed,omitempty"`
	OldValue     *string     `json:"old_value,omitempty"`
	NewValue     *string     `json:"new_value,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
}

// AuditFilter holds filter options for listing audit entries.
type AuditFilter struct {
	EntityType string
	EntityKey  string
	Action     *AuditAction
	Limit      int
}
