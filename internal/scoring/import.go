package scoring

import (
	"context"
	"errors"

	"kpiboard/internal/apperr"
	"kpiboard/internal/audit"
	"kpiboard/internal/discrepancy"
	"kpiboard/internal/kpi"
	"kpiboard/internal/store"
)

// ImportSummary counts what ImportKPIs wrote.
type ImportSummary struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
}

// ImportKPIs loads every KPI document under dir and stores them in one
// transaction. Documents are validated before the first write and a failure
// while storing leaves nothing behind.
func (s *Service) ImportKPIs(ctx context.Context, actor, dir string) (ImportSummary, error) {
	kpis, err := kpi.LoadFromDir(dir)
	if err != nil {
		var vErrs kpi.ValidationErrors
		if errors.As(err, &vErrs) {
			return ImportSummary{}, apperr.Wrap(apperr.KindValidation, err, "invalid KPI documents")
		}
		return ImportSummary{}, err
	}
	created, err := s.repo.PutKPIs(ctx, kpis...)
	if err != nil {
		return ImportSummary{}, err
	}

	var summary ImportSummary
	for i, k := range kpis {
		if created[i] {
			summary.Created++
		} else {
			summary.Updated++
		}
		s.record(actor, audit.EventKPIImported, map[string]any{
			"kpi_id":       k.ID,
			"source":       k.Source,
			"deliverables": len(k.Deliverables),
			"created":      created[i],
		})
		s.log.Info("kpi imported", "kpi_id", k.ID, "source", k.Source, "created", created[i])
	}
	return summary, nil
}

// Rescan re-runs detection over every stored unit and creates the records
// that are missing. Existing records, resolved or not, are left untouched,
// so running it repeatedly is harmless. Returns the records created.
func (s *Service) Rescan(ctx context.Context) ([]discrepancy.Record, error) {
	kpis, err := s.repo.ListKPIs(ctx)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	var created []discrepancy.Record
	err = s.repo.WithTx(ctx, func(tx *store.Tx) error {
		for _, k := range kpis {
			for _, d := range k.Deliverables {
				for _, u := range scoredUnits(d) {
					if !discrepancy.Detect(u.AssigneeScore, u.CreatorScore).Flagged {
						continue
					}
					rec := discrepancy.NewRecord(
						keyFor(d, u.PeriodLabel, u.AssigneeScore.EnteredBy),
						k.CreatorID, u.AssigneeScore, u.CreatorScore, now,
					)
					saved, ok, err := tx.InsertDiscrepancyIfAbsent(rec)
					if err != nil {
						return err
					}
					if ok {
						created = append(created, saved)
					}
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, rec := range created {
		s.record(discrepancy.SystemActor, audit.EventDiscrepancyCreated, map[string]any{
			"discrepancy_id": rec.ID,
			"kpi_id":         rec.KPIID,
			"deliverable_id": rec.DeliverableID,
			"period_label":   rec.PeriodLabel,
			"assignee_id":    rec.AssigneeID,
			"difference":     rec.Difference,
		})
	}
	s.log.Info("rescan finished", "created", len(created))
	return created, nil
}

// scoredUnits returns the stored units of d that carry both scores.
func scoredUnits(d kpi.Deliverable) []kpi.Unit {
	var out []kpi.Unit
	if !d.IsRecurring() {
		if d.AssigneeScore != nil && d.CreatorScore != nil {
			out = append(out, kpi.Unit{Status: d.Status, AssigneeScore: d.AssigneeScore, CreatorScore: d.CreatorScore})
		}
		return out
	}
	for _, occ := range d.Occurrences {
		if occ.AssigneeScore != nil && occ.CreatorScore != nil {
			out = append(out, kpi.Unit{
				PeriodLabel:   occ.PeriodLabel,
				OccurrenceID:  occ.ID,
				Status:        occ.Status,
				AssigneeScore: occ.AssigneeScore,
				CreatorScore:  occ.CreatorScore,
			})
		}
	}
	return out
}
