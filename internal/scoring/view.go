package scoring

import (
	"context"

	"kpiboard/internal/discrepancy"
	"kpiboard/internal/kpi"
	"kpiboard/internal/status"
	"kpiboard/internal/store"
)

// ViewRequest addresses the read model of one deliverable. For recurring
// deliverables an empty PeriodLabel selects the current period.
type ViewRequest struct {
	DeliverableID string
	PeriodLabel   string
	BoardOwnerID  string
}

// DeliverableView is what a board renders for one deliverable.
type DeliverableView struct {
	KPIID            string              `json:"kpi_id"`
	KPITitle         string              `json:"kpi_title"`
	Scheduling       kpi.Mode            `json:"scheduling"`
	Deliverable      kpi.Deliverable     `json:"deliverable"`
	PeriodLabel      string              `json:"period_label,omitempty"`
	Occurrences      []kpi.Occurrence    `json:"occurrences,omitempty"`
	Status           kpi.Status          `json:"status"`
	AssigneeScore    *kpi.Score          `json:"assignee_score,omitempty"`
	CreatorScore     *kpi.Score          `json:"creator_score,omitempty"`
	Relation         status.Relation     `json:"relation"`
	StatusOptions    []kpi.Status        `json:"status_options"`
	Discrepancy      *discrepancy.Record `json:"discrepancy"`
	DiscrepancyState discrepancy.State   `json:"discrepancy_state"`
}

// View builds the read model of a deliverable for caller.
func (s *Service) View(ctx context.Context, caller kpi.Identity, req ViewRequest) (DeliverableView, error) {
	d, err := s.repo.GetDeliverable(ctx, req.DeliverableID)
	if err != nil {
		return DeliverableView{}, err
	}
	k, err := s.repo.GetKPI(ctx, d.KPIID)
	if err != nil {
		return DeliverableView{}, err
	}

	label := req.PeriodLabel
	if label == "" {
		if occ, ok := d.CurrentOccurrence(s.now()); ok {
			label = occ.PeriodLabel
		}
	}
	unit, err := d.Unit(label)
	if err != nil {
		return DeliverableView{}, err
	}

	rel := status.RelationFor(&k, caller, req.BoardOwnerID)
	view := DeliverableView{
		KPIID:         k.ID,
		KPITitle:      k.Title,
		Scheduling:    d.Mode,
		Deliverable:   d,
		PeriodLabel:   unit.PeriodLabel,
		Status:        unit.Status,
		AssigneeScore: unit.AssigneeScore,
		CreatorScore:  unit.CreatorScore,
		Relation:      rel,
		StatusOptions: status.Options(rel, unit.AssigneeScore != nil, unit.Status),
	}
	if d.IsRecurring() {
		view.Occurrences = append([]kpi.Occurrence(nil), d.Occurrences...)
		if unit.Synthetic {
			view.Occurrences = append(view.Occurrences, kpi.Occurrence{
				ID:          unit.OccurrenceID,
				PeriodLabel: unit.PeriodLabel,
				Status:      unit.Status,
			})
		}
	}

	assignee := boardAssignee(unit, caller, req.BoardOwnerID)
	if assignee != "" {
		records, err := s.repo.ListDiscrepancies(ctx, store.Filter{KPIID: k.ID, AssigneeID: assignee})
		if err != nil {
			return DeliverableView{}, err
		}
		rec, ok, err := discrepancy.Find(records, discrepancy.Lookup{
			KPIID:            k.ID,
			DeliverableIndex: d.Index,
			DeliverableID:    d.ID,
			PeriodLabel:      unit.PeriodLabel,
			AssigneeID:       assignee,
		})
		if err != nil {
			return DeliverableView{}, err
		}
		if ok {
			view.Discrepancy = &rec
		}
	}
	view.DiscrepancyState = view.Discrepancy.State()
	return view, nil
}

// boardAssignee picks the assignee whose discrepancy the view shows: the
// author of the assignee score, else the board owner, else the caller.
func boardAssignee(u kpi.Unit, caller kpi.Identity, boardOwnerID string) string {
	switch {
	case u.AssigneeScore != nil:
		return u.AssigneeScore.EnteredBy
	case boardOwnerID != "":
		return boardOwnerID
	default:
		return caller.UserID
	}
}
