package discrepancy

import (
	"strings"
	"time"

	"kpiboard/internal/apperr"
	"kpiboard/internal/kpi"
)

// MeetingRequest books or reschedules a resolution meeting.
type MeetingRequest struct {
	Date  time.Time
	Notes string
}

// ResolveRequest closes a record.
type ResolveRequest struct {
	NewScore        *float64
	ResolutionNotes string
	// EvidenceURL is the stored location of an optional supporting file.
	EvidenceURL string
}

var meetingLayouts = []string{"2006-01-02 15:04", "2006-01-02T15:04", "2006-01-02"}

// ParseMeetingTime reads a meeting date. RFC 3339 values keep their offset;
// the shorter local forms are read in loc. An empty value gives the zero time.
func ParseMeetingTime(value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	if loc == nil {
		loc = time.UTC
	}
	for _, layout := range meetingLayouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, apperr.New(apperr.KindValidation, "meeting date %q is not a recognised time", value)
}

// BookMeeting attaches a meeting to an open record, or replaces the existing
// one. Either party may book. The input record is never modified.
func BookMeeting(rec Record, caller string, req MeetingRequest, now time.Time) (Record, error) {
	if caller == "" || (caller != rec.AssigneeID && caller != rec.CreatorID) {
		return rec, apperr.New(apperr.KindNotAuthorized, "only the assignee or creator may book a meeting for discrepancy %s", rec.ID)
	}
	if rec.Resolved {
		return rec, apperr.New(apperr.KindValidation, "discrepancy %s is already resolved", rec.ID)
	}
	if req.Date.IsZero() {
		return rec, apperr.New(apperr.KindValidation, "meeting date is required")
	}
	if req.Date.Before(now.Truncate(time.Minute)) {
		return rec, apperr.New(apperr.KindValidation, "meeting date %s is in the past", req.Date.Format(time.RFC3339))
	}

	action := ActionMeetingBooked
	if rec.Meeting != nil {
		action = ActionMeetingRescheduled
	}
	rec.Meeting = &Meeting{
		Timestamp: req.Date,
		Notes:     strings.TrimSpace(req.Notes),
		BookedBy:  caller,
	}
	return rec.withEntry(action, caller, now), nil
}

// CheckResolve runs every precondition of Resolve without changing anything,
// so callers can reject a request before uploading its evidence.
func CheckResolve(rec Record, caller string, req ResolveRequest) error {
	if caller == "" || caller != rec.CreatorID {
		return apperr.New(apperr.KindNotAuthorized, "only the KPI creator may resolve discrepancy %s", rec.ID)
	}
	if rec.Resolved {
		return apperr.New(apperr.KindValidation, "discrepancy %s is already resolved", rec.ID)
	}
	if strings.TrimSpace(req.ResolutionNotes) == "" {
		return apperr.New(apperr.KindValidation, "resolution notes are required")
	}
	if req.NewScore != nil {
		if err := kpi.ValidateScoreValue(*req.NewScore); err != nil {
			return err
		}
	}
	return nil
}

// Resolve closes a record. Meeting booking is optional.
func Resolve(rec Record, caller string, req ResolveRequest, now time.Time) (Record, error) {
	if err := CheckResolve(rec, caller, req); err != nil {
		return rec, err
	}
	rec.Resolved = true
	rec.ResolutionNotes = strings.TrimSpace(req.ResolutionNotes)
	if req.NewScore != nil {
		v := *req.NewScore
		rec.ResolvedScore = &v
	}
	rec.ResolutionFile = req.EvidenceURL
	rec.ResolvedBy = caller
	at := now
	rec.ResolvedAt = &at
	return rec.withEntry(ActionResolved, caller, now), nil
}

// ApplyCorrection writes the reconciled value into both score slots so the
// pair can no longer be flagged. Each slot remembers its first value.
func ApplyCorrection(u kpi.Unit, value float64) kpi.Unit {
	u.AssigneeScore = correct(u.AssigneeScore, value)
	u.CreatorScore = correct(u.CreatorScore, value)
	return u
}

func correct(s *kpi.Score, value float64) *kpi.Score {
	if s == nil {
		return nil
	}
	out := *s
	if out.CorrectedFrom == nil {
		orig := out.Value
		out.CorrectedFrom = &orig
	}
	out.Value = value
	return &out
}
