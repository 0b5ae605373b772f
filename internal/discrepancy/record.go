// Package discrepancy detects disagreements between assignee and creator
// scores and carries the flagged record through meeting and resolution.
package discrepancy

import (
	"time"
)

// State is the lifecycle position of a record.
type State string

const (
	StateNone          State = "NONE"
	StateOpen          State = "OPEN"
	StateMeetingBooked State = "MEETING_BOOKED"
	StateResolved      State = "RESOLVED"
)

// Action names a history entry.
type Action string

const (
	ActionCreated            Action = "created"
	ActionMeetingBooked      Action = "meeting-booked"
	ActionMeetingRescheduled Action = "meeting-rescheduled"
	ActionResolved           Action = "resolved"
)

// DefaultReason is stored on records raised by the detector.
const DefaultReason = "Score discrepancy detected"

// SystemActor is recorded as the author of detector-created entries.
const SystemActor = "system"

// Key correlates a record with exactly one assignee and one scorable unit.
// PeriodLabel is empty for single-mode deliverables.
type Key struct {
	KPIID            string `json:"kpi_id"`
	DeliverableID    string `json:"deliverable_id"`
	DeliverableIndex int    `json:"deliverable_index"`
	PeriodLabel      string `json:"period_label,omitempty"`
	AssigneeID       string `json:"assignee_id"`
}

// Meeting is an advisory resolution meeting.
type Meeting struct {
	Timestamp time.Time `json:"timestamp"`
	Notes     string    `json:"notes,omitempty"`
	BookedBy  string    `json:"booked_by"`
}

// HistoryEntry is one append-only audit line on a record.
type HistoryEntry struct {
	Action    Action    `json:"action"`
	By        string    `json:"by"`
	Timestamp time.Time `json:"timestamp"`
}

// Record is a persisted discrepancy flag.
type Record struct {
	ID string `json:"id"`
	Key
	CreatorID       string         `json:"creator_id"`
	AssigneeScore   float64        `json:"assignee_score"`
	CreatorScore    float64        `json:"creator_score"`
	Difference      float64        `json:"difference"`
	Reason          string         `json:"reason"`
	Resolved        bool           `json:"resolved"`
	Meeting         *Meeting       `json:"meeting,omitempty"`
	ResolutionNotes string         `json:"resolution_notes,omitempty"`
	ResolvedScore   *float64       `json:"resolved_score,omitempty"`
	ResolutionFile  string         `json:"resolution_file,omitempty"`
	CorrectionDiff  string         `json:"correction_diff,omitempty"`
	ResolvedBy      string         `json:"resolved_by,omitempty"`
	ResolvedAt      *time.Time     `json:"resolved_at,omitempty"`
	History         []HistoryEntry `json:"history"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// State derives the lifecycle state from the stored fields.
func (r *Record) State() State {
	switch {
	case r == nil:
		return StateNone
	case r.Resolved:
		return StateResolved
	case r.Meeting != nil:
		return StateMeetingBooked
	default:
		return StateOpen
	}
}

func (r Record) withEntry(action Action, by string, at time.Time) Record {
	history := make([]HistoryEntry, len(r.History), len(r.History)+1)
	copy(history, r.History)
	r.History = append(history, HistoryEntry{Action: action, By: by, Timestamp: at})
	r.UpdatedAt = at
	return r
}
