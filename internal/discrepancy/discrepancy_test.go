package discrepancy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kpiboard/internal/apperr"
	"kpiboard/internal/kpi"
)

var fixedNow = time.Date(2025, 3, 20, 12, 0, 0, 0, time.UTC)

func score(v float64, by string) *kpi.Score {
	return &kpi.Score{Value: v, Notes: "n", EnteredBy: by, Timestamp: fixedNow}
}

func openRecord() Record {
	key := Key{KPIID: "KPI-1", DeliverableID: "D-1", DeliverableIndex: 0, AssigneeID: "bob"}
	return NewRecord(key, "alice", score(60, "bob"), score(75, "alice"), fixedNow)
}

func TestDetectThreshold(t *testing.T) {
	cases := []struct {
		name     string
		a, c     float64
		flagged  bool
		wantDiff float64
	}{
		{"equal", 50, 50, false, 0},
		{"small gap", 80, 82, false, 2},
		{"boundary", 60, 70, false, 10},
		{"boundary reversed", 70, 60, false, 10},
		{"boundary decimals", 60.5, 70.5, false, 10},
		{"just over", 60, 70.01, true, 10.01},
		{"scenario", 60, 75, true, 15},
		{"extremes", 0, 100, true, 100},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := Detect(score(tc.a, "bob"), score(tc.c, "alice"))
			assert.True(t, f.Evaluable)
			assert.Equal(t, tc.flagged, f.Flagged)
			assert.InDelta(t, tc.wantDiff, f.Difference, 1e-9)
		})
	}
}

func TestDetectMissingScore(t *testing.T) {
	assert.Equal(t, Finding{}, Detect(nil, score(10, "alice")))
	assert.Equal(t, Finding{}, Detect(score(10, "bob"), nil))
}

func TestNewRecord(t *testing.T) {
	rec := openRecord()
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, StateOpen, rec.State())
	assert.Equal(t, 15.0, rec.Difference)
	assert.Equal(t, DefaultReason, rec.Reason)
	assert.False(t, rec.Resolved)
	require.Len(t, rec.History, 1)
	assert.Equal(t, ActionCreated, rec.History[0].Action)
}

func TestBookMeeting(t *testing.T) {
	rec := openRecord()
	date := time.Date(2025, 4, 1, 10, 0, 0, 0, time.UTC)

	booked, err := BookMeeting(rec, "alice", MeetingRequest{Date: date, Notes: "sync"}, fixedNow)
	require.NoError(t, err)
	assert.Equal(t, StateMeetingBooked, booked.State())
	assert.Equal(t, "alice", booked.Meeting.BookedBy)
	require.Len(t, booked.History, 2)
	assert.Equal(t, ActionMeetingBooked, booked.History[1].Action)
	assert.Len(t, rec.History, 1, "input record must not be modified")
	assert.Nil(t, rec.Meeting)

	later := date.Add(24 * time.Hour)
	rebooked, err := BookMeeting(booked, "bob", MeetingRequest{Date: later}, fixedNow)
	require.NoError(t, err)
	assert.Equal(t, later, rebooked.Meeting.Timestamp)
	assert.Equal(t, "bob", rebooked.Meeting.BookedBy)
	require.Len(t, rebooked.History, 3)
	assert.Equal(t, ActionMeetingRescheduled, rebooked.History[2].Action)
}

func TestParseMeetingTime(t *testing.T) {
	loc, err := time.LoadLocation("America/Chicago")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}

	got, err := ParseMeetingTime("2025-04-01T10:00:00Z", loc)
	require.NoError(t, err)
	assert.True(t, got.Equal(time.Date(2025, 4, 1, 10, 0, 0, 0, time.UTC)))

	for _, value := range []string{"2025-04-01 10:00", "2025-04-01T10:00"} {
		got, err = ParseMeetingTime(value, loc)
		require.NoError(t, err, value)
		assert.True(t, got.Equal(time.Date(2025, 4, 1, 10, 0, 0, 0, loc)), "%s parsed as %s", value, got)
	}

	got, err = ParseMeetingTime("2025-04-01T10:00", nil)
	require.NoError(t, err)
	assert.True(t, got.Equal(time.Date(2025, 4, 1, 10, 0, 0, 0, time.UTC)))

	got, err = ParseMeetingTime("  ", loc)
	require.NoError(t, err)
	assert.True(t, got.IsZero())

	_, err = ParseMeetingTime("next tuesday", loc)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestBookMeetingRejections(t *testing.T) {
	rec := openRecord()
	date := fixedNow.Add(time.Hour)

	_, err := BookMeeting(rec, "mallory", MeetingRequest{Date: date}, fixedNow)
	assert.Equal(t, apperr.KindNotAuthorized, apperr.KindOf(err))

	_, err = BookMeeting(rec, "bob", MeetingRequest{}, fixedNow)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = BookMeeting(rec, "bob", MeetingRequest{Date: fixedNow.Add(-time.Hour)}, fixedNow)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	present, err := BookMeeting(rec, "bob", MeetingRequest{Date: fixedNow}, fixedNow)
	require.NoError(t, err)

	resolved, err := Resolve(present, "alice", ResolveRequest{ResolutionNotes: "done"}, fixedNow)
	require.NoError(t, err)
	_, err = BookMeeting(resolved, "bob", MeetingRequest{Date: date}, fixedNow)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestResolve(t *testing.T) {
	rec := openRecord()
	booked, err := BookMeeting(rec, "alice", MeetingRequest{Date: time.Date(2025, 4, 1, 10, 0, 0, 0, time.UTC)}, fixedNow)
	require.NoError(t, err)

	v := 65.0
	resolved, err := Resolve(booked, "alice", ResolveRequest{NewScore: &v, ResolutionNotes: "agreed on 65"}, fixedNow)
	require.NoError(t, err)
	assert.True(t, resolved.Resolved)
	assert.Equal(t, StateResolved, resolved.State())
	assert.Equal(t, "agreed on 65", resolved.ResolutionNotes)
	require.NotNil(t, resolved.ResolvedScore)
	assert.Equal(t, 65.0, *resolved.ResolvedScore)
	require.Len(t, resolved.History, 3)
	assert.Equal(t, []Action{ActionCreated, ActionMeetingBooked, ActionResolved},
		[]Action{resolved.History[0].Action, resolved.History[1].Action, resolved.History[2].Action})

	_, err = Resolve(resolved, "alice", ResolveRequest{ResolutionNotes: "again"}, fixedNow)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestResolveWithoutMeeting(t *testing.T) {
	resolved, err := Resolve(openRecord(), "alice", ResolveRequest{ResolutionNotes: "fine"}, fixedNow)
	require.NoError(t, err)
	assert.True(t, resolved.Resolved)
	assert.Nil(t, resolved.ResolvedScore)
	assert.Len(t, resolved.History, 2)
}

func TestResolveRejections(t *testing.T) {
	rec := openRecord()

	_, err := Resolve(rec, "bob", ResolveRequest{ResolutionNotes: "mine"}, fixedNow)
	assert.Equal(t, apperr.KindNotAuthorized, apperr.KindOf(err))

	_, err = Resolve(rec, "alice", ResolveRequest{ResolutionNotes: "  "}, fixedNow)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	bad := 101.0
	out, err := Resolve(rec, "alice", ResolveRequest{NewScore: &bad, ResolutionNotes: "x"}, fixedNow)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	assert.False(t, out.Resolved)
	assert.Len(t, out.History, 1)
}

func TestApplyCorrectionClosesLoop(t *testing.T) {
	u := kpi.Unit{Status: kpi.StatusCompleted, AssigneeScore: score(60, "bob"), CreatorScore: score(75, "alice")}
	corrected := ApplyCorrection(u, 65)

	assert.Equal(t, 65.0, corrected.AssigneeScore.Value)
	assert.Equal(t, 65.0, corrected.CreatorScore.Value)
	require.NotNil(t, corrected.AssigneeScore.CorrectedFrom)
	assert.Equal(t, 60.0, *corrected.AssigneeScore.CorrectedFrom)
	assert.Equal(t, 75.0, *corrected.CreatorScore.CorrectedFrom)
	assert.Equal(t, 60.0, u.AssigneeScore.Value, "input unit must not be modified")
	assert.False(t, Detect(corrected.AssigneeScore, corrected.CreatorScore).Flagged)
}

func TestCorrectionDiff(t *testing.T) {
	u := kpi.Unit{Status: kpi.StatusCompleted, AssigneeScore: score(60, "bob"), CreatorScore: score(75, "alice")}
	text, err := CorrectionDiff("D-1", u, ApplyCorrection(u, 65))
	require.NoError(t, err)
	assert.Contains(t, text, "-assignee: 60 (by bob)")
	assert.Contains(t, text, "+assignee: 65 (by bob)")
	assert.Contains(t, text, "+creator: 65 (by alice)")

	same, err := CorrectionDiff("D-1", u, u)
	require.NoError(t, err)
	assert.Empty(t, same)
}

func TestFind(t *testing.T) {
	base := Record{ID: "r1", Key: Key{KPIID: "K", DeliverableID: "D-1", DeliverableIndex: 0, AssigneeID: "bob"}}
	shifted := Record{ID: "r2", Key: Key{KPIID: "K", DeliverableID: "D-2", DeliverableIndex: 3, AssigneeID: "bob"}}
	recurring := Record{ID: "r3", Key: Key{KPIID: "K", DeliverableID: "D-3", DeliverableIndex: 1, PeriodLabel: "2025-03", AssigneeID: "bob"}}
	other := Record{ID: "r4", Key: Key{KPIID: "K", DeliverableID: "D-1", DeliverableIndex: 0, AssigneeID: "carol"}}
	records := []Record{base, shifted, recurring, other}

	rec, ok, err := Find(records, Lookup{KPIID: "K", DeliverableIndex: 0, DeliverableID: "D-1", AssigneeID: "bob"})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "r1", rec.ID)

	// D-2 moved from index 3 to index 1; the id fallback still finds it.
	rec, ok, err = Find(records, Lookup{KPIID: "K", DeliverableIndex: 1, DeliverableID: "D-2", AssigneeID: "bob"})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "r2", rec.ID)

	// Index-only lookups still resolve.
	rec, ok, err = Find(records, Lookup{KPIID: "K", DeliverableIndex: 3, AssigneeID: "bob"})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "r2", rec.ID)

	// Period context is required to see recurring records and vice versa.
	_, ok, err = Find(records, Lookup{KPIID: "K", DeliverableIndex: 1, DeliverableID: "D-3", AssigneeID: "bob"})
	require.NoError(t, err)
	assert.False(t, ok)
	rec, ok, err = Find(records, Lookup{KPIID: "K", DeliverableIndex: 1, DeliverableID: "D-3", PeriodLabel: "2025-03", AssigneeID: "bob"})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "r3", rec.ID)
	_, ok, err = Find(records, Lookup{KPIID: "K", DeliverableIndex: 0, DeliverableID: "D-1", PeriodLabel: "2025-03", AssigneeID: "bob"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFindDuplicateIsIntegrityFailure(t *testing.T) {
	dup := Record{ID: "a", Key: Key{KPIID: "K", DeliverableID: "D-1", AssigneeID: "bob"}}
	dup2 := dup
	dup2.ID = "b"

	_, ok, err := Find([]Record{dup, dup2}, Lookup{KPIID: "K", DeliverableID: "D-1", AssigneeID: "bob"})
	assert.False(t, ok)
	assert.Equal(t, apperr.KindInternal, apperr.KindOf(err))
}
