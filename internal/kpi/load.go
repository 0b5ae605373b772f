package kpi

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// LoadFromDir loads and validates all KPI YAML files from the provided directory.
func LoadFromDir(dir string) ([]KPI, error) {
	if dir == "" {
		dir = "kpis"
	}

	var files []string
	for _, pattern := range []string{"*.yml", "*.yaml"} {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, fmt.Errorf("scan kpi dir: %w", err)
		}
		files = append(files, matches...)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no KPI YAML files found in %s", dir)
	}
	sort.Strings(files)

	var kpis []KPI
	var vErrs ValidationErrors

	for _, path := range files {
		data, readErr := os.ReadFile(path)
		if readErr != nil {
			return nil, fmt.Errorf("read %s: %w", path, readErr)
		}
		docKPIs, parseErr := ParseAndValidateDocument(data, path)
		if parseErr != nil {
			if ve, ok := parseErr.(ValidationErrors); ok {
				vErrs = append(vErrs, ve...)
				continue
			}
			return nil, parseErr
		}
		kpis = append(kpis, docKPIs...)
	}

	if len(vErrs) > 0 {
		return nil, vErrs
	}

	if dupErrs := validateCrossDocumentUniqueness(kpis); len(dupErrs) > 0 {
		return nil, dupErrs
	}
	return kpis, nil
}

// validateCrossDocumentUniqueness rejects KPI ids defined twice and
// deliverable ids shared by two KPIs; stored deliverables are keyed by id
// alone.
func validateCrossDocumentUniqueness(kpis []KPI) ValidationErrors {
	var errs ValidationErrors
	seen := make(map[string]string)
	deliverableOwners := make(map[string]string)
	for _, k := range kpis {
		if origin, exists := seen[k.ID]; exists {
			errs = append(errs, ValidationError{
				File:    k.Source,
				Field:   "kpi_id",
				Message: fmt.Sprintf("kpi_id %q already defined in %s", k.ID, origin),
			})
			continue
		}
		seen[k.ID] = k.Source
		for idx, d := range k.Deliverables {
			if owner, exists := deliverableOwners[d.ID]; exists {
				errs = append(errs, ValidationError{
					File:    k.Source,
					Field:   fmt.Sprintf("%s.deliverables[%d].deliverable_id", k.ID, idx),
					Message: fmt.Sprintf("deliverable_id %q already belongs to kpi %s", d.ID, owner),
				})
				continue
			}
			deliverableOwners[d.ID] = k.ID
		}
	}
	return errs
}
