package kpi

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"kpiboard/internal/period"
)

type rawDocument struct {
	KPIs []rawKPI `yaml:"kpis"`
}

type rawAssignment struct {
	Users       []string `yaml:"users"`
	Departments []string `yaml:"departments"`
}

type rawKPI struct {
	ID           string           `yaml:"kpi_id"`
	Title        string           `yaml:"title"`
	CreatorID    string           `yaml:"creator_id"`
	Assignment   rawAssignment    `yaml:"assignment"`
	Deliverables []rawDeliverable `yaml:"deliverables"`
}

type rawDeliverable struct {
	ID                string `yaml:"deliverable_id"`
	Title             string `yaml:"title"`
	Action            string `yaml:"action"`
	Indicator         string `yaml:"indicator"`
	PerformanceTarget string `yaml:"performance_target"`
	Priority          string `yaml:"priority"`
	Timeline          string `yaml:"timeline"`
	Recurrence        string `yaml:"recurrence"`
	Status            string `yaml:"status"`
}

// ValidationError captures a single field-specific validation issue.
type ValidationError struct {
	File    string
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", e.File, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.File, e.Field, e.Message)
}

// ValidationErrors aggregates multiple validation problems.
type ValidationErrors []ValidationError

func (errs ValidationErrors) Error() string {
	parts := make([]string, 0, len(errs))
	for _, e := range errs {
		parts = append(parts, e.Error())
	}
	return strings.Join(parts, "\n")
}

// ParseAndValidateDocument unmarshals and validates a YAML KPI document.
func ParseAndValidateDocument(data []byte, source string) ([]KPI, error) {
	var raw rawDocument
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, ValidationErrors{{
			File:    source,
			Field:   "yaml",
			Message: err.Error(),
		}}
	}

	var errs ValidationErrors
	if len(raw.KPIs) == 0 {
		errs = append(errs, ValidationError{
			File:    source,
			Field:   "kpis",
			Message: "must contain at least one KPI",
		})
	}

	ids := make(map[string]struct{})
	var kpis []KPI
	for idx, rk := range raw.KPIs {
		path := fmt.Sprintf("kpis[%d]", idx)
		k, kErrs := validateKPI(rk, path, source)
		errs = append(errs, kErrs...)
		if k.ID != "" {
			if _, exists := ids[k.ID]; exists {
				errs = append(errs, ValidationError{
					File:    source,
					Field:   path + ".kpi_id",
					Message: fmt.Sprintf("duplicate kpi_id %q", k.ID),
				})
			}
			ids[k.ID] = struct{}{}
		}
		kpis = append(kpis, k)
	}

	if len(errs) > 0 {
		return nil, errs
	}
	return kpis, nil
}

func validateKPI(raw rawKPI, fieldPath, source string) (KPI, ValidationErrors) {
	var errs ValidationErrors

	id := strings.TrimSpace(raw.ID)
	if id == "" {
		errs = append(errs, ValidationError{File: source, Field: fieldPath + ".kpi_id", Message: "kpi_id is required"})
	}
	if strings.TrimSpace(raw.Title) == "" {
		errs = append(errs, ValidationError{File: source, Field: fieldPath + ".title", Message: "title is required"})
	}
	if strings.TrimSpace(raw.CreatorID) == "" {
		errs = append(errs, ValidationError{File: source, Field: fieldPath + ".creator_id", Message: "creator_id is required"})
	}
	if len(raw.Assignment.Users) == 0 && len(raw.Assignment.Departments) == 0 {
		errs = append(errs, ValidationError{File: source, Field: fieldPath + ".assignment", Message: "must name at least one user or department"})
	}
	if len(raw.Deliverables) == 0 {
		errs = append(errs, ValidationError{File: source, Field: fieldPath + ".deliverables", Message: "must contain at least one deliverable"})
	}

	deliverableIDs := make(map[string]struct{})
	var deliverables []Deliverable
	for idx, rd := range raw.Deliverables {
		dPath := fmt.Sprintf("%s.deliverables[%d]", fieldPath, idx)
		d, dErrs := validateDeliverable(rd, dPath, source)
		errs = append(errs, dErrs...)

		if d.ID == "" && id != "" {
			d.ID = uuid.NewSHA1(uuid.NameSpaceOID, []byte(id+"/deliverable/"+strconv.Itoa(idx))).String()
		}
		if d.ID != "" {
			if _, exists := deliverableIDs[d.ID]; exists {
				errs = append(errs, ValidationError{
					File:    source,
					Field:   dPath + ".deliverable_id",
					Message: fmt.Sprintf("duplicate deliverable_id %q within KPI", d.ID),
				})
			}
			deliverableIDs[d.ID] = struct{}{}
		}
		d.KPIID = id
		d.Index = idx
		deliverables = append(deliverables, d)
	}

	return KPI{
		ID:        id,
		Title:     strings.TrimSpace(raw.Title),
		CreatorID: strings.TrimSpace(raw.CreatorID),
		Assignment: Assignment{
			Users:       trimAll(raw.Assignment.Users),
			Departments: trimAll(raw.Assignment.Departments),
		},
		Deliverables: deliverables,
		Source:       source,
	}, errs
}

func validateDeliverable(raw rawDeliverable, fieldPath, source string) (Deliverable, ValidationErrors) {
	var errs ValidationErrors

	if strings.TrimSpace(raw.Title) == "" {
		errs = append(errs, ValidationError{File: source, Field: fieldPath + ".title", Message: "title is required"})
	}

	priority, err := parsePriority(raw.Priority)
	if err != nil {
		errs = append(errs, ValidationError{File: source, Field: fieldPath + ".priority", Message: err.Error()})
	}

	status := StatusPending
	if strings.TrimSpace(raw.Status) != "" {
		parsed, err := ParseStatus(raw.Status)
		if err != nil {
			errs = append(errs, ValidationError{File: source, Field: fieldPath + ".status", Message: err.Error()})
		} else {
			status = parsed
		}
	}

	timeline := strings.TrimSpace(raw.Timeline)
	recurrence := strings.TrimSpace(raw.Recurrence)
	var mode Mode
	switch {
	case timeline != "" && recurrence != "":
		errs = append(errs, ValidationError{File: source, Field: fieldPath, Message: "timeline and recurrence are mutually exclusive"})
	case recurrence != "":
		mode = ModeRecurring
	case timeline != "":
		mode = ModeSingle
		if _, err := parseISO8601(timeline); err != nil {
			errs = append(errs, ValidationError{File: source, Field: fieldPath + ".timeline", Message: "must be ISO-8601 date or datetime"})
		}
	default:
		errs = append(errs, ValidationError{File: source, Field: fieldPath, Message: "one of timeline or recurrence is required"})
	}

	d := Deliverable{
		ID:                strings.TrimSpace(raw.ID),
		Title:             strings.TrimSpace(raw.Title),
		Action:            strings.TrimSpace(raw.Action),
		Indicator:         strings.TrimSpace(raw.Indicator),
		PerformanceTarget: strings.TrimSpace(raw.PerformanceTarget),
		Priority:          priority,
		Mode:              mode,
		Timeline:          timeline,
		Status:            status,
	}
	if mode == ModeRecurring {
		d.Recurrence = period.ParsePattern(recurrence)
		if d.Recurrence == period.Custom {
			d.RecurrenceText = recurrence
		}
	}
	return d, errs
}

func parsePriority(value string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "high":
		return PriorityHigh, nil
	case "medium", "":
		return PriorityMedium, nil
	case "low":
		return PriorityLow, nil
	default:
		return Priority(value), fmt.Errorf("invalid priority %q (expected High, Medium, or Low)", value)
	}
}

func parseISO8601(value string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, value); err == nil {
		return ts, nil
	}
	return time.Parse("2006-01-02", value)
}

func trimAll(values []string) []string {
	var out []string
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
