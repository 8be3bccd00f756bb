// Package domain contains the incident tracker's core types.
package domain

import (
	"strings"
	"time"
)

// IncidentType classifies an incident at intake.
type IncidentType string

// Known incident types.
const (
	IncidentTypeSystemOutage     IncidentType = "SYSTEM_OUTAGE"
	IncidentTypeAPIFailure       IncidentType = "API_FAILURE"
	IncidentTypeLoginProblem     IncidentType = "LOGIN_PROBLEM"
	IncidentTypePerformanceIssue IncidentType = "PERFORMANCE_ISSUE"
	IncidentTypeApplicationError IncidentType = "APPLICATION_ERROR"
	IncidentTypeDataSyncIssue    IncidentType = "DATA_SYNC_ISSUE"
	IncidentTypeUnclassified     IncidentType = "UNCLASSIFIED"
)

// IncidentStatus represents the lifecycle state of an incident.
type IncidentStatus string

// Incident statuses.
const (
	IncidentStatusOpen   IncidentStatus = "OPEN"
	IncidentStatusClosed IncidentStatus = "CLOSED"
)

// IsValid checks if the status is valid.
func (s IncidentStatus) IsValid() bool {
	return s == IncidentStatusOpen || s == IncidentStatusClosed
}

// Priority represents incident urgency.
type Priority string

// Priorities, lowest first.
const (
	PriorityLow      Priority = "LOW"
	PriorityMedium   Priority = "MEDIUM"
	PriorityHigh     Priority = "HIGH"
	PriorityCritical Priority = "CRITICAL"
)

// priorityScale is the escalation order.
var priorityScale = []Priority{PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical}

// Priorities returns all priorities ordered from lowest to highest.
func Priorities() []Priority {
	out := make([]Priority, len(priorityScale))
	copy(out, priorityScale)
	return out
}

// Rank returns the position of the priority on the escalation scale,
// or -1 if the priority is unknown.
func (p Priority) Rank() int {
	for i, v := range priorityScale {
		if v == p {
			return i
		}
	}
	return -1
}

// IsValid checks if the priority is on the escalation scale.
func (p Priority) IsValid() bool {
	return p.Rank() >= 0
}

// Next returns the next priority up the scale. CRITICAL and unknown
// priorities are returned unchanged.
func (p Priority) Next() Priority {
	rank := p.Rank()
	if rank < 0 || rank == len(priorityScale)-1 {
		return p
	}
	return priorityScale[rank+1]
}

// ParsePriority converts a case-insensitive string to a Priority.
func ParsePriority(s string) (Priority, bool) {
	p := Priority(strings.ToUpper(strings.TrimSpace(s)))
	return p, p.IsValid()
}

// SLAStatus is the state of an incident's SLA timer.
type SLAStatus string

// SLA statuses.
const (
	SLAStatusOnTrack  SLAStatus = "ONTRACK"
	SLAStatusAtRisk   SLAStatus = "ATRISK"
	SLAStatusBreached SLAStatus = "BREACHED"
)

// MillisPerHour converts SLA durations (hours) to epoch milliseconds.
const MillisPerHour int64 = 60 * 60 * 1000

// Incident is the central tracked entity.
// SLA timestamps are epoch milliseconds.
type Incident struct {
	ID             string         `json:"id"`
	Title          string         `json:"title"`
	Type           IncidentType   `json:"type"`
	Status         IncidentStatus `json:"status"`
	Priority       Priority       `json:"priority"`
	AssignedUserID *string        `json:"assigned_user_id"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	ResolvedAt     *time.Time     `json:"resolved_at"`
	SLADuration    int            `json:"sla_duration"`
	SLAStartTime   int64          `json:"sla_start_time"`
	SLADueDate     int64          `json:"sla_due_date"`
	SLAStatus      SLAStatus      `json:"sla_status"`
	SLABreachedAt  *int64         `json:"sla_breached_at"`
}

// IsClosed returns true if the incident is closed.
func (i *Incident) IsClosed() bool {
	return i.Status == IncidentStatusClosed
}

// IsAssigned returns true if the incident has an assignee.
func (i *Incident) IsAssigned() bool {
	return i.AssignedUserID != nil && *i.AssignedUserID != ""
}

// Report is the intake record an incident is created from. It shares the incident's ID.
type Report struct {
	ID          string       `json:"id"`
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Type        IncidentType `json:"type"`
	CustomerID  *string      `json:"customer_id"`
	CreatedAt   time.Time    `json:"created_at"`
}

// ResolveTime records how long a closed incident took to resolve.
type ResolveTime struct {
	ID           string       `json:"id"`
	IncidentID   string       `json:"incident_id"`
	IncidentType IncidentType `json:"incident_type"`
	TimeSpent    int          `json:"time_spent"` // minutes
	CreatedAt    time.Time    `json:"created_at"`
}

// IncidentFilter holds filter options for listing incidents.
type IncidentFilter struct {
	Title       string
	MinPriority *Priority
	Status      *IncidentStatus
	Limit       int
	Offset      int
}

// Matches reports whether the incident satisfies the filter (pagination aside).
func (f IncidentFilter) Matches(inc *Incident) bool {
	if f.Title != "" && !strings.Contains(strings.ToLower(inc.Title), strings.ToLower(f.Title)) {
		return false
	}
	if f.Status != nil && inc.Status != *f.Status {
		return false
	}
	if f.MinPriority != nil && inc.Priority.Rank() < f.MinPriority.Rank() {
		return false
	}
	return true
}
