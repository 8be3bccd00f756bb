package domain

import "time"

// Escalation describes an SLA-driven change to an open incident: a first breach
// or a priority bump on entering ATRISK.
type Escalation struct {
	IncidentID       string
	Title            string
	Type             IncidentType
	PreviousPriority Priority
	Priority         Priority
	PreviousStatus   SLAStatus
	Status           SLAStatus
	Breached         bool
	DueDate          int64
	At               time.Time
}
