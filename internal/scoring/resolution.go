package scoring

import (
	"context"

	"kpiboard/internal/apperr"
	"kpiboard/internal/audit"
	"kpiboard/internal/discrepancy"
	"kpiboard/internal/evidence"
	"kpiboard/internal/kpi"
	"kpiboard/internal/store"
)

// ResolveRequest closes a discrepancy. File is optional evidence for the
// resolution.
type ResolveRequest struct {
	DiscrepancyID   string
	NewScore        *float64
	ResolutionNotes string
	File            *evidence.File
}

// ResolveResult carries the closed record and, when a corrected score was
// applied, the updated deliverable.
type ResolveResult struct {
	Discrepancy discrepancy.Record `json:"discrepancy"`
	Deliverable *kpi.Deliverable   `json:"deliverable,omitempty"`
}

// GetDiscrepancy returns one record.
func (s *Service) GetDiscrepancy(ctx context.Context, id string) (discrepancy.Record, error) {
	return s.repo.GetDiscrepancy(ctx, id)
}

// ListDiscrepancies returns records matching f, oldest first.
func (s *Service) ListDiscrepancies(ctx context.Context, f store.Filter) ([]discrepancy.Record, error) {
	return s.repo.ListDiscrepancies(ctx, f)
}

// BookMeeting attaches or replaces the resolution meeting of a record.
func (s *Service) BookMeeting(ctx context.Context, caller kpi.Identity, id string, req discrepancy.MeetingRequest) (discrepancy.Record, error) {
	rec, err := s.bookMeeting(ctx, caller, id, req)
	if err != nil {
		return discrepancy.Record{}, s.reject("book_meeting", caller, id, err)
	}
	return rec, nil
}

func (s *Service) bookMeeting(ctx context.Context, caller kpi.Identity, id string, req discrepancy.MeetingRequest) (discrepancy.Record, error) {
	if err := requireCaller(caller); err != nil {
		return discrepancy.Record{}, err
	}
	now := s.now()
	var booked discrepancy.Record
	err := s.repo.WithTx(ctx, func(tx *store.Tx) error {
		rec, err := tx.Discrepancy(id)
		if err != nil {
			return err
		}
		next, err := discrepancy.BookMeeting(rec, caller.UserID, req, now.UTC())
		if err != nil {
			return err
		}
		if err := tx.SaveDiscrepancy(next); err != nil {
			return err
		}
		booked = next
		return nil
	})
	if err != nil {
		return discrepancy.Record{}, err
	}

	last := booked.History[len(booked.History)-1]
	s.record(caller.UserID, audit.EventMeetingBooked, map[string]any{
		"discrepancy_id": booked.ID,
		"deliverable_id": booked.DeliverableID,
		"period_label":   booked.PeriodLabel,
		"meeting_at":     booked.Meeting.Timestamp,
		"action":         last.Action,
	})
	s.log.Info("meeting booked",
		"discrepancy_id", booked.ID,
		"deliverable_id", booked.DeliverableID,
		"period_label", booked.PeriodLabel,
		"actor", caller.UserID,
		"action", last.Action,
	)
	return booked, nil
}

// ResolveDiscrepancy closes a record. A NewScore is written into both score
// slots of the unit so the pair cannot be flagged again; the record keeps a
// diff of the scores before and after.
func (s *Service) ResolveDiscrepancy(ctx context.Context, caller kpi.Identity, req ResolveRequest) (ResolveResult, error) {
	res, err := s.resolve(ctx, caller, req)
	if err != nil {
		return ResolveResult{}, s.reject("resolve_discrepancy", caller, req.DiscrepancyID, err)
	}
	return res, nil
}

func (s *Service) resolve(ctx context.Context, caller kpi.Identity, req ResolveRequest) (ResolveResult, error) {
	if err := requireCaller(caller); err != nil {
		return ResolveResult{}, err
	}
	rec, err := s.repo.GetDiscrepancy(ctx, req.DiscrepancyID)
	if err != nil {
		return ResolveResult{}, err
	}
	workflowReq := discrepancy.ResolveRequest{
		NewScore:        req.NewScore,
		ResolutionNotes: req.ResolutionNotes,
	}
	if err := discrepancy.CheckResolve(rec, caller.UserID, workflowReq); err != nil {
		return ResolveResult{}, err
	}

	now := s.now()
	var files []evidence.File
	if req.File != nil {
		files = append(files, *req.File)
	}
	stored, err := evidence.UploadAll(ctx, s.evidence, files, s.uploadTimeout, now)
	if err != nil {
		return ResolveResult{}, err
	}
	if urls := evidence.URLs(stored); len(urls) > 0 {
		workflowReq.EvidenceURL = urls[0]
	}

	var result ResolveResult
	err = s.repo.WithTx(ctx, func(tx *store.Tx) error {
		current, err := tx.Discrepancy(req.DiscrepancyID)
		if err != nil {
			return err
		}
		resolved, err := discrepancy.Resolve(current, caller.UserID, workflowReq, now.UTC())
		if err != nil {
			return err
		}
		if req.NewScore != nil {
			d, diff, err := correctUnit(tx, current, *req.NewScore)
			if err != nil {
				return err
			}
			resolved.CorrectionDiff = diff
			result.Deliverable = &d
		}
		if err := tx.SaveDiscrepancy(resolved); err != nil {
			return err
		}
		result.Discrepancy = resolved
		return nil
	})
	if err != nil {
		s.discard(ctx, stored)
		return ResolveResult{}, err
	}

	payload := map[string]any{
		"discrepancy_id": result.Discrepancy.ID,
		"deliverable_id": result.Discrepancy.DeliverableID,
		"period_label":   result.Discrepancy.PeriodLabel,
		"evidence":       result.Discrepancy.ResolutionFile != "",
	}
	if req.NewScore != nil {
		payload["resolved_score"] = *req.NewScore
	}
	s.record(caller.UserID, audit.EventDiscrepancyResolved, payload)
	s.log.Info("discrepancy resolved",
		"discrepancy_id", result.Discrepancy.ID,
		"deliverable_id", result.Discrepancy.DeliverableID,
		"period_label", result.Discrepancy.PeriodLabel,
		"actor", caller.UserID,
	)
	return result, nil
}

// correctUnit writes value into both score slots of the unit rec refers to.
func correctUnit(tx *store.Tx, rec discrepancy.Record, value float64) (kpi.Deliverable, string, error) {
	d, err := tx.Deliverable(rec.DeliverableID)
	if err != nil {
		return kpi.Deliverable{}, "", err
	}
	before, err := d.Unit(rec.PeriodLabel)
	if err != nil {
		return kpi.Deliverable{}, "", err
	}
	if before.Synthetic || before.AssigneeScore == nil || before.CreatorScore == nil {
		return kpi.Deliverable{}, "", apperr.New(apperr.KindInternal,
			"discrepancy %s refers to a unit without both scores", rec.ID)
	}
	after := discrepancy.ApplyCorrection(before, value)
	diff, err := discrepancy.CorrectionDiff(rec.PeriodLabel, before, after)
	if err != nil {
		return kpi.Deliverable{}, "", err
	}
	d.Apply(after)
	if err := tx.SaveDeliverable(d); err != nil {
		return kpi.Deliverable{}, "", err
	}
	return d, diff, nil
}
