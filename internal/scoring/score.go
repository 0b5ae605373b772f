package scoring

import (
	"context"
	"strings"

	"kpiboard/internal/apperr"
	"kpiboard/internal/audit"
	"kpiboard/internal/discrepancy"
	"kpiboard/internal/evidence"
	"kpiboard/internal/kpi"
	"kpiboard/internal/store"
)

// Party names the score slot being written.
type Party string

const (
	PartyAssignee Party = "assignee"
	PartyCreator  Party = "creator"
)

// ScoreRequest submits one score. PeriodLabel is required for recurring
// deliverables and must be empty otherwise.
type ScoreRequest struct {
	DeliverableID string
	PeriodLabel   string
	Value         float64
	Notes         string
	Files         []evidence.File
}

// ScoreResult is the outcome of a successful submission.
type ScoreResult struct {
	Score       kpi.Score           `json:"score"`
	Deliverable kpi.Deliverable     `json:"deliverable"`
	PeriodLabel string              `json:"period_label,omitempty"`
	Difference  *float64            `json:"difference,omitempty"`
	Discrepancy *discrepancy.Record `json:"discrepancy,omitempty"`
	// DiscrepancyCreated is false when the key already had a record.
	DiscrepancyCreated bool `json:"discrepancy_created"`
}

// SubmitAssigneeScore records the assignee's self-reported score and marks
// the unit Completed. The slot is written once.
func (s *Service) SubmitAssigneeScore(ctx context.Context, caller kpi.Identity, req ScoreRequest) (ScoreResult, error) {
	return s.submit(ctx, PartyAssignee, caller, req)
}

// SubmitCreatorScore records the KPI creator's review score. An assignee
// score must exist first. The slot is written once.
func (s *Service) SubmitCreatorScore(ctx context.Context, caller kpi.Identity, req ScoreRequest) (ScoreResult, error) {
	return s.submit(ctx, PartyCreator, caller, req)
}

func (s *Service) submit(ctx context.Context, party Party, caller kpi.Identity, req ScoreRequest) (ScoreResult, error) {
	op := string(party) + "_score"
	result, err := s.submitScore(ctx, party, caller, req)
	if err != nil {
		s.record(caller.UserID, audit.EventScoreRejected, map[string]any{
			"party":          party,
			"deliverable_id": req.DeliverableID,
			"period_label":   req.PeriodLabel,
			"kind":           apperr.KindOf(err),
			"message":        err.Error(),
		})
		return ScoreResult{}, s.reject(op, caller, req.DeliverableID, err)
	}
	return result, nil
}

func (s *Service) submitScore(ctx context.Context, party Party, caller kpi.Identity, req ScoreRequest) (ScoreResult, error) {
	if err := kpi.ValidateScoreValue(req.Value); err != nil {
		return ScoreResult{}, err
	}
	notes := strings.TrimSpace(req.Notes)
	if notes == "" {
		return ScoreResult{}, apperr.New(apperr.KindValidation, "notes are required")
	}
	if err := requireCaller(caller); err != nil {
		return ScoreResult{}, err
	}

	d, err := s.repo.GetDeliverable(ctx, req.DeliverableID)
	if err != nil {
		return ScoreResult{}, err
	}
	unit, err := d.Unit(req.PeriodLabel)
	if err != nil {
		return ScoreResult{}, err
	}
	k, err := s.repo.GetKPI(ctx, d.KPIID)
	if err != nil {
		return ScoreResult{}, err
	}
	if err := authorizeScore(party, &k, caller); err != nil {
		return ScoreResult{}, err
	}
	if err := checkSlot(party, d.ID, unit); err != nil {
		return ScoreResult{}, err
	}

	now := s.now()
	stored, err := evidence.UploadAll(ctx, s.evidence, req.Files, s.uploadTimeout, now)
	if err != nil {
		return ScoreResult{}, err
	}

	score := kpi.Score{
		Value:               req.Value,
		Notes:               notes,
		EnteredBy:           caller.UserID,
		Timestamp:           now.UTC(),
		SupportingDocuments: evidence.URLs(stored),
	}

	var result ScoreResult
	err = s.repo.WithTx(ctx, func(tx *store.Tx) error {
		current, err := tx.Deliverable(d.ID)
		if err != nil {
			return err
		}
		u, err := current.Unit(req.PeriodLabel)
		if err != nil {
			return err
		}
		// Re-check under the transaction: the other party may have raced us.
		if err := checkSlot(party, current.ID, u); err != nil {
			return err
		}
		entry := score
		switch party {
		case PartyAssignee:
			u.AssigneeScore = &entry
			u.Status = kpi.StatusCompleted
		case PartyCreator:
			u.CreatorScore = &entry
		}
		current.Apply(u)
		if err := tx.SaveDeliverable(current); err != nil {
			return err
		}

		result = ScoreResult{Score: score, Deliverable: current, PeriodLabel: u.PeriodLabel}
		finding := discrepancy.Detect(u.AssigneeScore, u.CreatorScore)
		if !finding.Evaluable {
			return nil
		}
		diff := finding.Difference
		result.Difference = &diff
		if !finding.Flagged {
			return nil
		}
		rec := discrepancy.NewRecord(
			keyFor(current, u.PeriodLabel, u.AssigneeScore.EnteredBy),
			k.CreatorID, u.AssigneeScore, u.CreatorScore, now.UTC(),
		)
		saved, created, err := tx.InsertDiscrepancyIfAbsent(rec)
		if err != nil {
			return err
		}
		result.Discrepancy = &saved
		result.DiscrepancyCreated = created
		return nil
	})
	if err != nil {
		s.discard(ctx, stored)
		return ScoreResult{}, err
	}

	eventType := audit.EventAssigneeScoreSubmitted
	if party == PartyCreator {
		eventType = audit.EventCreatorScoreSubmitted
	}
	s.record(caller.UserID, eventType, map[string]any{
		"kpi_id":         d.KPIID,
		"deliverable_id": d.ID,
		"period_label":   result.PeriodLabel,
		"value":          score.Value,
		"documents":      len(score.SupportingDocuments),
	})
	s.log.Info("score submitted",
		"party", party,
		"deliverable_id", d.ID,
		"period_label", result.PeriodLabel,
		"actor", caller.UserID,
	)
	if result.DiscrepancyCreated {
		s.record(discrepancy.SystemActor, audit.EventDiscrepancyCreated, map[string]any{
			"discrepancy_id": result.Discrepancy.ID,
			"kpi_id":         d.KPIID,
			"deliverable_id": d.ID,
			"period_label":   result.PeriodLabel,
			"assignee_id":    result.Discrepancy.AssigneeID,
			"difference":     result.Discrepancy.Difference,
		})
		s.log.Info("discrepancy created",
			"discrepancy_id", result.Discrepancy.ID,
			"deliverable_id", d.ID,
			"period_label", result.PeriodLabel,
			"difference", result.Discrepancy.Difference,
		)
	}
	return result, nil
}

func authorizeScore(party Party, k *kpi.KPI, caller kpi.Identity) error {
	switch party {
	case PartyAssignee:
		if !k.IsAssigned(caller) {
			return apperr.New(apperr.KindNotAuthorized, "%s is not assigned to kpi %s", caller.UserID, k.ID)
		}
	case PartyCreator:
		if !k.IsCreator(caller.UserID) {
			return apperr.New(apperr.KindNotAuthorized, "only the creator of kpi %s may submit a review score", k.ID)
		}
	}
	return nil
}

func checkSlot(party Party, deliverableID string, u kpi.Unit) error {
	where := deliverableID
	if u.PeriodLabel != "" {
		where += " period " + u.PeriodLabel
	}
	switch party {
	case PartyAssignee:
		if u.AssigneeScore != nil {
			return apperr.New(apperr.KindAlreadyScored, "assignee score for %s is already recorded", where)
		}
	case PartyCreator:
		if u.AssigneeScore == nil {
			return apperr.New(apperr.KindAssigneeScoreMissing, "%s has no assignee score to review yet", where)
		}
		if u.CreatorScore != nil {
			return apperr.New(apperr.KindAlreadyScored, "creator score for %s is already recorded", where)
		}
	}
	return nil
}
