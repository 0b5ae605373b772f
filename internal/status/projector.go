// Package status decides which statuses a viewer may pick for a deliverable.
// The same table gates both the options offered to a client and the writes
// the service accepts.
package status

import (
	"kpiboard/internal/apperr"
	"kpiboard/internal/kpi"
)

// Relation is the viewer's relationship to the board being shown.
type Relation string

const (
	RelationAssignee      Relation = "assignee"
	RelationCreatorOwn    Relation = "creator_own_board"
	RelationCreatorReview Relation = "creator_assignee_board"
	RelationReadOnly      Relation = "read_only"
)

// RelationFor classifies caller against k. boardOwnerID names whose board is
// being viewed; empty means the caller's own.
func RelationFor(k *kpi.KPI, caller kpi.Identity, boardOwnerID string) Relation {
	if k == nil || caller.UserID == "" {
		return RelationReadOnly
	}
	ownBoard := boardOwnerID == "" || boardOwnerID == caller.UserID
	if k.IsCreator(caller.UserID) {
		if ownBoard {
			return RelationCreatorOwn
		}
		return RelationCreatorReview
	}
	if ownBoard && k.IsAssigned(caller) {
		return RelationAssignee
	}
	return RelationReadOnly
}

// Options returns the statuses rel may choose, in display order.
func Options(rel Relation, hasSelfScore bool, current kpi.Status) []kpi.Status {
	switch rel {
	case RelationCreatorOwn:
		return append([]kpi.Status(nil), kpi.AllStatuses...)
	case RelationCreatorReview:
		if hasSelfScore {
			return append([]kpi.Status(nil), kpi.AllStatuses...)
		}
		return []kpi.Status{kpi.StatusPending, kpi.StatusInProgress}
	case RelationAssignee:
		if hasSelfScore {
			return []kpi.Status{kpi.StatusPending, kpi.StatusInProgress, kpi.StatusCompleted}
		}
		return []kpi.Status{kpi.StatusPending, kpi.StatusInProgress}
	default:
		return []kpi.Status{current}
	}
}

// Authorize rejects a transition to next that rel may not make.
func Authorize(rel Relation, hasSelfScore bool, current, next kpi.Status) error {
	for _, s := range Options(rel, hasSelfScore, current) {
		if s == next {
			return nil
		}
	}
	if next == kpi.StatusApproved && rel == RelationAssignee {
		return apperr.New(apperr.KindNotAuthorized, "only the KPI creator may approve a deliverable")
	}
	return apperr.New(apperr.KindNotAuthorized, "%s may not set status %q", rel, next)
}
