package api

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kpiboard/internal/apperr"
	"kpiboard/internal/discrepancy"
	"kpiboard/internal/kpi"
	"kpiboard/internal/scoring"
	"kpiboard/internal/store"
)

func newBoard(t *testing.T) *Board {
	t.Helper()
	repo, err := store.Open(filepath.Join(t.TempDir(), "kpiboard.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	_, err = repo.PutKPIs(context.Background(), kpi.KPI{
		ID:         "KPI-1",
		Title:      "Quarterly delivery",
		CreatorID:  "alice",
		Assignment: kpi.Assignment{Users: []string{"bob"}},
		Deliverables: []kpi.Deliverable{
			{ID: "D-1", Title: "Ship report", Priority: kpi.PriorityHigh, Mode: kpi.ModeSingle, Timeline: "2025-04-30", Status: kpi.StatusPending},
		},
	})
	require.NoError(t, err)
	svc := scoring.NewService(repo, scoring.Options{
		Clock: func() time.Time { return time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC) },
	})
	return NewBoard(svc, nil)
}

func TestFailHidesInternalDetails(t *testing.T) {
	res := Fail(errors.New("sql: database is locked"))
	assert.False(t, res.Success)
	require.NotNil(t, res.Error)
	assert.Equal(t, apperr.KindInternal, res.Error.Kind)
	assert.Equal(t, "internal error", res.Error.Message)

	res = Fail(apperr.New(apperr.KindValidation, "notes are required"))
	assert.Equal(t, apperr.KindValidation, res.Error.Kind)
	assert.Equal(t, "notes are required", res.Error.Message)
}

func TestBoardReturnsErrorsAsValues(t *testing.T) {
	b := newBoard(t)
	ctx := context.Background()

	res := b.SubmitCreatorScore(ctx, kpi.Identity{UserID: "alice"}, scoring.ScoreRequest{DeliverableID: "D-1", Value: 50, Notes: "n"})
	assert.False(t, res.Success)
	assert.Nil(t, res.Data)
	assert.Equal(t, apperr.KindAssigneeScoreMissing, res.Error.Kind)

	res = b.Deliverable(ctx, kpi.Identity{UserID: "bob"}, scoring.ViewRequest{DeliverableID: "missing"})
	assert.Equal(t, apperr.KindNotFound, res.Error.Kind)
}

func TestBoardFlow(t *testing.T) {
	b := newBoard(t)
	ctx := context.Background()
	bob := kpi.Identity{UserID: "bob"}
	alice := kpi.Identity{UserID: "alice"}

	res := b.SubmitAssigneeScore(ctx, bob, scoring.ScoreRequest{DeliverableID: "D-1", Value: 60, Notes: "done"})
	require.True(t, res.Success, "%+v", res.Error)
	res = b.SubmitCreatorScore(ctx, alice, scoring.ScoreRequest{DeliverableID: "D-1", Value: 75, Notes: "checked"})
	require.True(t, res.Success, "%+v", res.Error)
	rec := res.Data.(scoring.ScoreResult).Discrepancy
	require.NotNil(t, rec)

	res = b.BookMeeting(ctx, bob, rec.ID, discrepancy.MeetingRequest{Date: time.Date(2025, 4, 1, 10, 0, 0, 0, time.UTC)})
	require.True(t, res.Success, "%+v", res.Error)

	score := 65.0
	res = b.ResolveDiscrepancy(ctx, alice, scoring.ResolveRequest{DiscrepancyID: rec.ID, NewScore: &score, ResolutionNotes: "agreed on 65"})
	require.True(t, res.Success, "%+v", res.Error)

	res = b.Discrepancy(ctx, rec.ID)
	require.True(t, res.Success)
	assert.True(t, res.Data.(discrepancy.Record).Resolved)

	res = b.Discrepancies(ctx, store.Filter{AssigneeID: "bob"})
	require.True(t, res.Success)
	assert.Len(t, res.Data.([]discrepancy.Record), 1)

	res = b.ChangeStatus(ctx, alice, scoring.StatusRequest{DeliverableID: "D-1", Status: "Approved"})
	require.True(t, res.Success, "%+v", res.Error)
}

func TestGuardRecoversPanics(t *testing.T) {
	b := NewBoard(nil, nil)
	res := b.Discrepancy(context.Background(), "x")
	assert.False(t, res.Success)
	assert.Equal(t, apperr.KindInternal, res.Error.Kind)
}

func TestBoardStatusOptions(t *testing.T) {
	b := newBoard(t)
	ctx := context.Background()
	bob := kpi.Identity{UserID: "bob"}
	req := scoring.ViewRequest{DeliverableID: "D-1"}

	res := b.StatusOptions(ctx, bob, req)
	require.True(t, res.Success, "%+v", res.Error)
	assert.Equal(t, []kpi.Status{kpi.StatusPending, kpi.StatusInProgress}, res.Data)

	res = b.SubmitAssigneeScore(ctx, bob, scoring.ScoreRequest{DeliverableID: "D-1", Value: 60, Notes: "done"})
	require.True(t, res.Success, "%+v", res.Error)
	res = b.StatusOptions(ctx, bob, req)
	require.True(t, res.Success, "%+v", res.Error)
	assert.Equal(t, []kpi.Status{kpi.StatusPending, kpi.StatusInProgress, kpi.StatusCompleted}, res.Data)

	res = b.StatusOptions(ctx, bob, scoring.ViewRequest{DeliverableID: "missing"})
	assert.Equal(t, apperr.KindNotFound, res.Error.Kind)
}
