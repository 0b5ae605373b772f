// Package period derives the labels that identify occurrences of recurring
// deliverables. Labels are the only correlation key between an occurrence,
// its stored scores, and any discrepancy raised against it.
package period

import (
	"regexp"
	"strings"
	"time"
)

// Pattern is the recurrence granularity of a deliverable.
type Pattern string

const (
	Hourly  Pattern = "Hourly"
	Daily   Pattern = "Daily"
	Weekly  Pattern = "Weekly"
	Monthly Pattern = "Monthly"
	Yearly  Pattern = "Yearly"
	Custom  Pattern = "Custom"
)

const (
	layoutYear  = "2006"
	layoutMonth = "2006-01"
	layoutDay   = "2006-01-02"
	layoutHour  = "2006-01-02 15:00"
)

var (
	yearShape  = regexp.MustCompile(`^\d{4}$`)
	monthShape = regexp.MustCompile(`^\d{4}-\d{2}$`)
	dayShape   = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	hourShape  = regexp.MustCompile(`^\d{4}-\d{2}-\d{2} \d{2}:\d{2}$`)
)

// ParsePattern maps free text to a Pattern. Matching is case-insensitive and
// anything unrecognised is Custom.
func ParsePattern(value string) Pattern {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "hourly":
		return Hourly
	case "daily":
		return Daily
	case "weekly":
		return Weekly
	case "monthly":
		return Monthly
	case "yearly", "annual", "annually":
		return Yearly
	case "":
		return ""
	default:
		return Custom
	}
}

// CurrentLabel returns the label of the period containing now. The result
// depends only on (pattern, now) in now's location.
func CurrentLabel(pattern Pattern, now time.Time) string {
	switch pattern {
	case Yearly:
		return now.Format(layoutYear)
	case Daily:
		return now.Format(layoutDay)
	case Hourly:
		return now.Format(layoutHour)
	case Weekly:
		return startOfWeek(now).Format(layoutDay)
	default:
		return now.Format(layoutMonth)
	}
}

// Infer guesses the pattern from existing labels. The first label whose shape
// is recognised wins; no recognisable label means Monthly.
func Infer(labels []string) Pattern {
	for _, label := range labels {
		label = strings.TrimSpace(label)
		switch {
		case hourShape.MatchString(label):
			return Hourly
		case dayShape.MatchString(label):
			return Daily
		case monthShape.MatchString(label):
			return Monthly
		case yearShape.MatchString(label):
			return Yearly
		}
	}
	return Monthly
}

// Resolve returns the declared pattern when it has a fixed granularity,
// otherwise the pattern inferred from labels.
func Resolve(declared Pattern, labels []string) Pattern {
	switch declared {
	case Hourly, Daily, Weekly, Monthly, Yearly:
		return declared
	default:
		return Infer(labels)
	}
}

// Valid reports whether label has the shape and calendar value expected for
// pattern. Weekly labels must fall on a Monday.
func Valid(pattern Pattern, label string) bool {
	var layout string
	switch pattern {
	case Yearly:
		layout = layoutYear
	case Daily, Weekly:
		layout = layoutDay
	case Hourly:
		if !hourShape.MatchString(label) || !strings.HasSuffix(label, ":00") {
			return false
		}
		layout = layoutHour
	default:
		layout = layoutMonth
	}
	ts, err := time.Parse(layout, label)
	if err != nil {
		return false
	}
	if pattern == Weekly && ts.Weekday() != time.Monday {
		return false
	}
	return true
}

func startOfWeek(t time.Time) time.Time {
	offset := (int(t.Weekday()) + 6) % 7
	y, m, d := t.Date()
	return time.Date(y, m, d-offset, 0, 0, 0, 0, t.Location())
}
