package api

import (
	"context"
	"fmt"

	"kpiboard/internal/apperr"
	"kpiboard/internal/discrepancy"
	"kpiboard/internal/kpi"
	"kpiboard/internal/logger"
	"kpiboard/internal/scoring"
	"kpiboard/internal/store"
)

// Board exposes the scoring service as Result-returning operations.
type Board struct {
	svc *scoring.Service
	log *logger.Logger
}

// NewBoard wraps svc. log may be nil.
func NewBoard(svc *scoring.Service, log *logger.Logger) *Board {
	if log == nil {
		log = logger.Nop()
	}
	return &Board{svc: svc, log: log}
}

// SubmitAssigneeScore records the assignee self-score and its evidence.
func (b *Board) SubmitAssigneeScore(ctx context.Context, caller kpi.Identity, req scoring.ScoreRequest) Result {
	return b.guard("submit_assignee_score", func() (any, error) {
		return b.svc.SubmitAssigneeScore(ctx, caller, req)
	})
}

// SubmitCreatorScore records the creator score; a gap above the threshold
// opens a discrepancy.
func (b *Board) SubmitCreatorScore(ctx context.Context, caller kpi.Identity, req scoring.ScoreRequest) Result {
	return b.guard("submit_creator_score", func() (any, error) {
		return b.svc.SubmitCreatorScore(ctx, caller, req)
	})
}

// ChangeStatus moves a unit to req.Status when caller's relation allows it.
func (b *Board) ChangeStatus(ctx context.Context, caller kpi.Identity, req scoring.StatusRequest) Result {
	return b.guard("change_status", func() (any, error) {
		return b.svc.ChangeStatus(ctx, caller, req)
	})
}

// BookMeeting schedules the review meeting for an open discrepancy.
func (b *Board) BookMeeting(ctx context.Context, caller kpi.Identity, id string, req discrepancy.MeetingRequest) Result {
	return b.guard("book_meeting", func() (any, error) {
		return b.svc.BookMeeting(ctx, caller, id, req)
	})
}

// ResolveDiscrepancy closes a discrepancy and writes the agreed score back.
func (b *Board) ResolveDiscrepancy(ctx context.Context, caller kpi.Identity, req scoring.ResolveRequest) Result {
	return b.guard("resolve_discrepancy", func() (any, error) {
		return b.svc.ResolveDiscrepancy(ctx, caller, req)
	})
}

// Deliverable returns the read model of one deliverable.
func (b *Board) Deliverable(ctx context.Context, caller kpi.Identity, req scoring.ViewRequest) Result {
	return b.guard("view_deliverable", func() (any, error) {
		return b.svc.View(ctx, caller, req)
	})
}

// StatusOptions lists the statuses caller may pick for the unit req
// addresses.
func (b *Board) StatusOptions(ctx context.Context, caller kpi.Identity, req scoring.ViewRequest) Result {
	return b.guard("status_options", func() (any, error) {
		return b.svc.StatusOptions(ctx, caller, req.DeliverableID, req.PeriodLabel, req.BoardOwnerID)
	})
}

// Discrepancies lists records matching f.
func (b *Board) Discrepancies(ctx context.Context, f store.Filter) Result {
	return b.guard("list_discrepancies", func() (any, error) {
		return b.svc.ListDiscrepancies(ctx, f)
	})
}

// Discrepancy returns one record.
func (b *Board) Discrepancy(ctx context.Context, id string) Result {
	return b.guard("get_discrepancy", func() (any, error) {
		return b.svc.GetDiscrepancy(ctx, id)
	})
}

func (b *Board) guard(op string, fn func() (any, error)) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("operation panicked", "op", op, "panic", fmt.Sprint(r))
			res = Fail(apperr.New(apperr.KindInternal, "%s failed", op))
		}
	}()
	data, err := fn()
	if err != nil && apperr.KindOf(err) == apperr.KindInternal {
		b.log.Error("operation failed", "op", op, "error", err)
	}
	return from(data, err)
}
