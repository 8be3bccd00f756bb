package domain

// ResolutionByType is the average resolution time for one incident type.
type ResolutionByType struct {
	IncidentType IncidentType `json:"incident_type"`
	Count        int64        `json:"count"`
	AvgTime      float64      `json:"avg_time"` // minutes
}

// PriorityCount is the number of open incidents at one priority.
type PriorityCount struct {
	Priority Priority `json:"priority"`
	Count    int64    `json:"count"`
}
