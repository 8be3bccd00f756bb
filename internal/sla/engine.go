// Package sla computes SLA due dates, classifies SLA status and escalates priority.
package sla

import (
	"errors"
	"fmt"

	"github.com/bissquit/incident-tracker/internal/domain"
)

// Config holds the SLA lookup tables.
type Config struct {
	PriorityByType  map[domain.IncidentType]domain.Priority
	DurationHours   map[domain.Priority]int
	DefaultPriority domain.Priority
}

// DefaultConfig returns the standard priority and SLA duration tables.
func DefaultConfig() Config {
	return Config{
		PriorityByType: map[domain.IncidentType]domain.Priority{
			domain.IncidentTypeSystemOutage:     domain.PriorityCritical,
			domain.IncidentTypeAPIFailure:       domain.PriorityHigh,
			domain.IncidentTypeLoginProblem:     domain.PriorityHigh,
			domain.IncidentTypePerformanceIssue: domain.PriorityMedium,
			domain.IncidentTypeApplicationError: domain.PriorityMedium,
			domain.IncidentTypeDataSyncIssue:    domain.PriorityMedium,
		},
		DurationHours: map[domain.Priority]int{
			domain.PriorityCritical: 4,
			domain.PriorityHigh:     24,
			domain.PriorityMedium:   72,
			domain.PriorityLow:      168,
		},
		DefaultPriority: domain.PriorityMedium,
	}
}

// Validate checks that every priority has a positive duration and the tables
// only reference known priorities.
func (c Config) Validate() error {
	for _, p := range domain.Priorities() {
		hours, ok := c.DurationHours[p]
		if !ok {
			return fmt.Errorf("sla: no duration for priority %s", p)
		}
		if hours <= 0 {
			return fmt.Errorf("sla: duration for priority %s must be positive", p)
		}
	}
	for t, p := range c.PriorityByType {
		if !p.IsValid() {
			return fmt.Errorf("sla: type %s maps to unknown priority %q", t, p)
		}
	}
	if !c.DefaultPriority.IsValid() {
		return errors.New("sla: default priority must be one of LOW, MEDIUM, HIGH, CRITICAL")
	}
	return nil
}

// SLA is the set of SLA fields assigned at creation.
type SLA struct {
	DurationHours int
	StartTime     int64
	DueDate       int64
	Status        domain.SLAStatus
	BreachedAt    *int64
}

// Evaluation is the outcome of re-evaluating one open incident.
type Evaluation struct {
	Status     domain.SLAStatus
	Priority   domain.Priority
	BreachedAt *int64

	StatusChanged bool
	Breached      bool // breach detected in this pass
	Escalated     bool // priority moved one step up due to SLA risk
}

// Changed reports whether the evaluation requires a write.
func (e Evaluation) Changed() bool {
	return e.StatusChanged || e.Breached || e.Escalated
}

// Engine applies the SLA rules with a fixed configuration.
type Engine struct {
	cfg Config
}

// NewEngine creates an engine after validating cfg.
func NewEngine(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{cfg: cfg}, nil
}

// ClassifyStatus derives the SLA status from the due date, the SLA duration in hours
// and the current time, all in epoch milliseconds. Less than a quarter of the
// duration remaining is at risk; exactly a quarter is still on track.
func ClassifyStatus(dueDate int64, durationHours int, now int64) domain.SLAStatus {
	remaining := dueDate - now
	total := int64(durationHours) * domain.MillisPerHour

	if remaining <= 0 {
		return domain.SLAStatusBreached
	}
	if remaining*4 < total {
		return domain.SLAStatusAtRisk
	}
	return domain.SLAStatusOnTrack
}

// PriorityForType returns the configured priority for the incident type.
// Unknown types get the default priority.
func (e *Engine) PriorityForType(t domain.IncidentType) domain.Priority {
	if p, ok := e.cfg.PriorityByType[t]; ok {
		return p
	}
	return e.cfg.DefaultPriority
}

// IsKnownType reports whether the type has a configured priority.
func (e *Engine) IsKnownType(t domain.IncidentType) bool {
	_, ok := e.cfg.PriorityByType[t]
	return ok
}

// DurationFor returns the SLA duration in hours for the priority.
func (e *Engine) DurationFor(p domain.Priority) int {
	if hours, ok := e.cfg.DurationHours[p]; ok {
		return hours
	}
	return e.cfg.DurationHours[e.cfg.DefaultPriority]
}

// ComputeInitial returns the SLA fields for a new incident of the given priority.
func (e *Engine) ComputeInitial(p domain.Priority, now int64) SLA {
	hours := e.DurationFor(p)
	return SLA{
		DurationHours: hours,
		StartTime:     now,
		DueDate:       now + int64(hours)*domain.MillisPerHour,
		Status:        domain.SLAStatusOnTrack,
	}
}

// Apply copies the SLA fields onto the incident.
func (s SLA) Apply(inc *domain.Incident) {
	inc.SLADuration = s.DurationHours
	inc.SLAStartTime = s.StartTime
	inc.SLADueDate = s.DueDate
	inc.SLAStatus = s.Status
	inc.SLABreachedAt = s.BreachedAt
}

// Restart resets the SLA timer of a reopened incident. The duration fixed at
// creation is kept.
func Restart(inc *domain.Incident, now int64) {
	inc.SLAStartTime = now
	inc.SLADueDate = now + int64(inc.SLADuration)*domain.MillisPerHour
	inc.SLAStatus = domain.SLAStatusOnTrack
	inc.SLABreachedAt = nil
}

// Reevaluate computes the new SLA status and priority of an incident.
//
// A first breach stamps BreachedAt and forces CRITICAL. Entering ATRISK moves the
// priority one step up the scale; an incident that stays ATRISK across sweeps is
// escalated once, not on every sweep. Closed incidents are returned unchanged.
// Running it again on the applied result with the same now yields no change.
func Reevaluate(inc *domain.Incident, now int64) Evaluation {
	ev := Evaluation{
		Status:     inc.SLAStatus,
		Priority:   inc.Priority,
		BreachedAt: inc.SLABreachedAt,
	}
	if inc.IsClosed() {
		return ev
	}

	status := ClassifyStatus(inc.SLADueDate, inc.SLADuration, now)
	if status != inc.SLAStatus {
		ev.Status = status
		ev.StatusChanged = true
	}

	switch {
	case status == domain.SLAStatusBreached && inc.SLABreachedAt == nil:
		at := now
		ev.BreachedAt = &at
		ev.Priority = domain.PriorityCritical
		ev.Breached = true
	case status == domain.SLAStatusAtRisk && inc.SLAStatus != domain.SLAStatusAtRisk:
		next := inc.Priority.Next()
		if next != inc.Priority {
			ev.Priority = next
			ev.Escalated = true
		}
	}

	return ev
}

// Apply copies the evaluation result onto the incident.
func (e Evaluation) Apply(inc *domain.Incident) {
	inc.SLAStatus = e.Status
	inc.Priority = e.Priority
	inc.SLABreachedAt = e.BreachedAt
}
