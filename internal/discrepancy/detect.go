package discrepancy

import (
	"math"
	"time"

	"github.com/google/uuid"

	"kpiboard/internal/kpi"
)

// DiffThreshold is the largest tolerated gap, in points, between the two
// scores of a unit.
const DiffThreshold = 10.0

// Finding is the detector's verdict for one score pair.
type Finding struct {
	// Evaluable is false while either score is missing.
	Evaluable  bool
	Difference float64
	Flagged    bool
}

// Detect compares the two scores of a unit.
func Detect(assignee, creator *kpi.Score) Finding {
	if assignee == nil || creator == nil {
		return Finding{}
	}
	diff := math.Abs(assignee.Value - creator.Value)
	return Finding{
		Evaluable:  true,
		Difference: diff,
		Flagged:    diff > DiffThreshold,
	}
}

// NewRecord builds the OPEN record for a flagged pair.
func NewRecord(key Key, creatorID string, assignee, creator *kpi.Score, now time.Time) Record {
	f := Detect(assignee, creator)
	rec := Record{
		ID:            uuid.NewString(),
		Key:           key,
		CreatorID:     creatorID,
		AssigneeScore: assignee.Value,
		CreatorScore:  creator.Value,
		Difference:    f.Difference,
		Reason:        DefaultReason,
		CreatedAt:     now,
	}
	return rec.withEntry(ActionCreated, SystemActor, now)
}
