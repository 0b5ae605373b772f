package kpi

import (
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"kpiboard/internal/apperr"
	"kpiboard/internal/period"
)

const (
	MinScore = 0
	MaxScore = 100
)

// Unit is the scorable part of a deliverable: the deliverable itself in single
// mode, or one occurrence in recurring mode.
type Unit struct {
	PeriodLabel   string
	OccurrenceID  string
	Status        Status
	AssigneeScore *Score
	CreatorScore  *Score
	// Synthetic is true for an occurrence that exists only because it was read.
	Synthetic bool
}

// IsRecurring reports whether scores live on occurrences.
func (d *Deliverable) IsRecurring() bool {
	return d.Mode == ModeRecurring
}

// Pattern returns the effective recurrence pattern, inferring it from stored
// labels when the declared one has no fixed granularity.
func (d *Deliverable) Pattern() period.Pattern {
	labels := make([]string, 0, len(d.Occurrences))
	for _, occ := range d.Occurrences {
		labels = append(labels, occ.PeriodLabel)
	}
	return period.Resolve(d.Recurrence, labels)
}

// Occurrence returns the stored occurrence for label.
func (d *Deliverable) Occurrence(label string) (Occurrence, bool) {
	for _, occ := range d.Occurrences {
		if occ.PeriodLabel == label {
			return occ, true
		}
	}
	return Occurrence{}, false
}

// CurrentOccurrence returns the occurrence for the period containing now,
// synthesizing a Pending one when none is stored. The synthesized occurrence
// is not added to d.
func (d *Deliverable) CurrentOccurrence(now time.Time) (Occurrence, bool) {
	if !d.IsRecurring() {
		return Occurrence{}, false
	}
	label := period.CurrentLabel(d.Pattern(), now)
	if occ, ok := d.Occurrence(label); ok {
		return occ, true
	}
	return d.synthesize(label), true
}

func (d *Deliverable) synthesize(label string) Occurrence {
	return Occurrence{
		ID:          OccurrenceID(d.ID, label),
		PeriodLabel: label,
		Status:      StatusPending,
	}
}

// OccurrenceID is the stable id of the occurrence labelled label.
func OccurrenceID(deliverableID, label string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(deliverableID+"#"+label)).String()
}

// Unit resolves the scorable unit addressed by label.
func (d *Deliverable) Unit(label string) (Unit, error) {
	label = strings.TrimSpace(label)
	if !d.IsRecurring() {
		if label != "" {
			return Unit{}, apperr.New(apperr.KindValidation, "deliverable %s is not recurring; period %q not allowed", d.ID, label)
		}
		return Unit{
			Status:        d.Status,
			AssigneeScore: d.AssigneeScore,
			CreatorScore:  d.CreatorScore,
		}, nil
	}
	if label == "" {
		return Unit{}, apperr.New(apperr.KindMissingOccurrence, "deliverable %s is recurring; a period label is required", d.ID)
	}
	pattern := d.Pattern()
	if !period.Valid(pattern, label) {
		return Unit{}, apperr.New(apperr.KindValidation, "period %q does not match %s recurrence", label, pattern)
	}
	occ, ok := d.Occurrence(label)
	if !ok {
		occ = d.synthesize(label)
	}
	return Unit{
		PeriodLabel:   occ.PeriodLabel,
		OccurrenceID:  occ.ID,
		Status:        occ.Status,
		AssigneeScore: occ.AssigneeScore,
		CreatorScore:  occ.CreatorScore,
		Synthetic:     !ok,
	}, nil
}

// Apply writes u back into d. A synthetic occurrence is persisted here, which
// is the only way occurrences come into being.
func (d *Deliverable) Apply(u Unit) {
	if !d.IsRecurring() {
		d.Status = u.Status
		d.AssigneeScore = u.AssigneeScore
		d.CreatorScore = u.CreatorScore
		return
	}
	for i := range d.Occurrences {
		if d.Occurrences[i].PeriodLabel == u.PeriodLabel {
			d.Occurrences[i].Status = u.Status
			d.Occurrences[i].AssigneeScore = u.AssigneeScore
			d.Occurrences[i].CreatorScore = u.CreatorScore
			return
		}
	}
	d.Occurrences = append(d.Occurrences, Occurrence{
		ID:            u.OccurrenceID,
		PeriodLabel:   u.PeriodLabel,
		Status:        u.Status,
		AssigneeScore: u.AssigneeScore,
		CreatorScore:  u.CreatorScore,
	})
}

// ValidateScoreValue checks the [0,100] range.
func ValidateScoreValue(value float64) error {
	if math.IsNaN(value) || math.IsInf(value, 0) || value < MinScore || value > MaxScore {
		return apperr.New(apperr.KindValidation, "score %v must be between %d and %d", value, MinScore, MaxScore)
	}
	return nil
}

// ParseStatus maps text to a Status.
func ParseStatus(value string) (Status, error) {
	value = strings.TrimSpace(value)
	for _, s := range AllStatuses {
		if strings.EqualFold(value, string(s)) {
			return s, nil
		}
	}
	return "", apperr.New(apperr.KindValidation, "unknown status %q", value)
}

// Validate checks the structural invariants of a deliverable.
func (d *Deliverable) Validate() error {
	if strings.TrimSpace(d.ID) == "" {
		return apperr.New(apperr.KindValidation, "deliverable id is required")
	}
	if _, err := ParseStatus(string(d.Status)); err != nil {
		return err
	}
	switch d.Mode {
	case ModeSingle:
		if len(d.Occurrences) > 0 {
			return apperr.New(apperr.KindValidation, "single deliverable %s cannot hold occurrences", d.ID)
		}
		for _, s := range []*Score{d.AssigneeScore, d.CreatorScore} {
			if s != nil {
				if err := ValidateScoreValue(s.Value); err != nil {
					return err
				}
			}
		}
	case ModeRecurring:
		if d.AssigneeScore != nil || d.CreatorScore != nil {
			return apperr.New(apperr.KindValidation, "recurring deliverable %s cannot hold top-level scores", d.ID)
		}
		pattern := d.Pattern()
		seen := make(map[string]struct{}, len(d.Occurrences))
		for _, occ := range d.Occurrences {
			if _, dup := seen[occ.PeriodLabel]; dup {
				return apperr.New(apperr.KindValidation, "duplicate occurrence %q in deliverable %s", occ.PeriodLabel, d.ID)
			}
			seen[occ.PeriodLabel] = struct{}{}
			if !period.Valid(pattern, occ.PeriodLabel) {
				return apperr.New(apperr.KindValidation, "occurrence %q does not match %s recurrence", occ.PeriodLabel, pattern)
			}
			for _, s := range []*Score{occ.AssigneeScore, occ.CreatorScore} {
				if s != nil {
					if err := ValidateScoreValue(s.Value); err != nil {
						return err
					}
				}
			}
		}
	default:
		return apperr.New(apperr.KindValidation, "deliverable %s has unknown mode %q", d.ID, d.Mode)
	}
	return nil
}

// IsAssigned reports whether the caller belongs to the KPI's assignment set.
func (k *KPI) IsAssigned(caller Identity) bool {
	if k == nil || strings.TrimSpace(caller.UserID) == "" {
		return false
	}
	for _, u := range k.Assignment.Users {
		if strings.TrimSpace(u) == caller.UserID {
			return true
		}
	}
	dept := strings.TrimSpace(caller.Department)
	if dept == "" {
		return false
	}
	for _, d := range k.Assignment.Departments {
		if strings.EqualFold(strings.TrimSpace(d), dept) {
			return true
		}
	}
	return false
}

// IsCreator reports whether userID authored the KPI.
func (k *KPI) IsCreator(userID string) bool {
	return k != nil && userID != "" && k.CreatorID == userID
}
