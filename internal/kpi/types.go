package kpi

import (
	"time"

	"kpiboard/internal/period"
)

// Priority ranks a deliverable within its KPI.
type Priority string

const (
	PriorityHigh   Priority = "High"
	PriorityMedium Priority = "Medium"
	PriorityLow    Priority = "Low"
)

// Status is the progress state of a deliverable or occurrence.
type Status string

const (
	StatusPending    Status = "Pending"
	StatusInProgress Status = "In Progress"
	StatusCompleted  Status = "Completed"
	StatusApproved   Status = "Approved"
)

// AllStatuses lists statuses in display order.
var AllStatuses = []Status{StatusPending, StatusInProgress, StatusCompleted, StatusApproved}

// Mode says whether a deliverable is scored once or per period.
type Mode string

const (
	ModeSingle    Mode = "single"
	ModeRecurring Mode = "recurring"
)

// Score is one party's evaluation of a scorable unit.
type Score struct {
	Value               float64   `json:"value"`
	Notes               string    `json:"notes"`
	EnteredBy           string    `json:"entered_by"`
	Timestamp           time.Time `json:"timestamp"`
	SupportingDocuments []string  `json:"supporting_documents,omitempty"`
	// CorrectedFrom holds the originally submitted value once a discrepancy
	// resolution has overwritten Value.
	CorrectedFrom *float64 `json:"corrected_from,omitempty"`
}

// Occurrence is one due instance of a recurring deliverable.
type Occurrence struct {
	ID            string `json:"id"`
	PeriodLabel   string `json:"period_label"`
	Status        Status `json:"status"`
	AssigneeScore *Score `json:"assignee_score,omitempty"`
	CreatorScore  *Score `json:"creator_score,omitempty"`
}

// Deliverable is a unit of work inside a KPI.
type Deliverable struct {
	ID                string         `json:"id"`
	KPIID             string         `json:"kpi_id"`
	Index             int            `json:"index"`
	Title             string         `json:"title"`
	Action            string         `json:"action,omitempty"`
	Indicator         string         `json:"indicator,omitempty"`
	PerformanceTarget string         `json:"performance_target,omitempty"`
	Priority          Priority       `json:"priority"`
	Mode              Mode           `json:"mode"`
	Timeline          string         `json:"timeline,omitempty"`
	Recurrence        period.Pattern `json:"recurrence,omitempty"`
	// RecurrenceText keeps the authored free-text pattern for Custom schedules.
	RecurrenceText string       `json:"recurrence_text,omitempty"`
	Status         Status       `json:"status"`
	AssigneeScore  *Score       `json:"assignee_score,omitempty"`
	CreatorScore   *Score       `json:"creator_score,omitempty"`
	Occurrences    []Occurrence `json:"occurrences,omitempty"`
}

// Assignment is the set of users and departments a KPI targets.
type Assignment struct {
	Users       []string `json:"users,omitempty"`
	Departments []string `json:"departments,omitempty"`
}

// KPI groups deliverables under one creator.
type KPI struct {
	ID           string        `json:"id"`
	Title        string        `json:"title"`
	CreatorID    string        `json:"creator_id"`
	Assignment   Assignment    `json:"assignment"`
	Deliverables []Deliverable `json:"deliverables,omitempty"`
	Source       string        `json:"source,omitempty"`
}

// Identity is the caller of an operation as supplied by the session layer.
type Identity struct {
	UserID     string
	Department string
}
