package scoring

import (
	"context"

	"kpiboard/internal/audit"
	"kpiboard/internal/kpi"
	"kpiboard/internal/status"
	"kpiboard/internal/store"
)

// StatusRequest changes the status of a deliverable or one occurrence.
// BoardOwnerID names whose board the caller is acting from; empty is the
// caller's own.
type StatusRequest struct {
	DeliverableID string
	PeriodLabel   string
	Status        string
	BoardOwnerID  string
}

// ChangeStatus applies the status table of the status package. Setting the
// current status again is accepted and writes nothing.
func (s *Service) ChangeStatus(ctx context.Context, caller kpi.Identity, req StatusRequest) (kpi.Deliverable, error) {
	d, err := s.changeStatus(ctx, caller, req)
	if err != nil {
		return kpi.Deliverable{}, s.reject("change_status", caller, req.DeliverableID, err)
	}
	return d, nil
}

func (s *Service) changeStatus(ctx context.Context, caller kpi.Identity, req StatusRequest) (kpi.Deliverable, error) {
	next, err := kpi.ParseStatus(req.Status)
	if err != nil {
		return kpi.Deliverable{}, err
	}
	d, err := s.repo.GetDeliverable(ctx, req.DeliverableID)
	if err != nil {
		return kpi.Deliverable{}, err
	}
	unit, err := d.Unit(req.PeriodLabel)
	if err != nil {
		return kpi.Deliverable{}, err
	}
	k, err := s.repo.GetKPI(ctx, d.KPIID)
	if err != nil {
		return kpi.Deliverable{}, err
	}
	rel := status.RelationFor(&k, caller, req.BoardOwnerID)
	if err := status.Authorize(rel, unit.AssigneeScore != nil, unit.Status, next); err != nil {
		return kpi.Deliverable{}, err
	}
	if next == unit.Status {
		return d, nil
	}

	var (
		updated  kpi.Deliverable
		previous kpi.Status
	)
	err = s.repo.WithTx(ctx, func(tx *store.Tx) error {
		current, err := tx.Deliverable(d.ID)
		if err != nil {
			return err
		}
		u, err := current.Unit(req.PeriodLabel)
		if err != nil {
			return err
		}
		if err := status.Authorize(rel, u.AssigneeScore != nil, u.Status, next); err != nil {
			return err
		}
		previous = u.Status
		u.Status = next
		current.Apply(u)
		if err := tx.SaveDeliverable(current); err != nil {
			return err
		}
		updated = current
		return nil
	})
	if err != nil {
		return kpi.Deliverable{}, err
	}

	s.record(caller.UserID, audit.EventStatusChanged, map[string]any{
		"kpi_id":         d.KPIID,
		"deliverable_id": d.ID,
		"period_label":   unit.PeriodLabel,
		"from":           previous,
		"to":             next,
		"relation":       rel,
	})
	s.log.Info("status changed",
		"deliverable_id", d.ID,
		"period_label", unit.PeriodLabel,
		"actor", caller.UserID,
		"from", previous,
		"to", next,
	)
	return updated, nil
}

// StatusOptions returns the statuses caller may pick for the addressed unit.
func (s *Service) StatusOptions(ctx context.Context, caller kpi.Identity, deliverableID, periodLabel, boardOwnerID string) ([]kpi.Status, error) {
	d, err := s.repo.GetDeliverable(ctx, deliverableID)
	if err != nil {
		return nil, err
	}
	unit, err := d.Unit(periodLabel)
	if err != nil {
		return nil, err
	}
	k, err := s.repo.GetKPI(ctx, d.KPIID)
	if err != nil {
		return nil, err
	}
	rel := status.RelationFor(&k, caller, boardOwnerID)
	return status.Options(rel, unit.AssigneeScore != nil, unit.Status), nil
}
