package sla

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/execution-hub/bizrules/internal/domain/calendar"
	"github.com/execution-hub/bizrules/internal/domain/ticket"
)

// 2026-10-19 is a Monday.
var monday9 = time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)

func wallClockTracker(t *testing.T) *Tracker {
	t.Helper()
	p := samplePolicy()
	tr, err := NewTracker(&ticket.Ticket{ID: "T-1", Priority: ticket.PriorityMedium}, p, monday9)
	require.NoError(t, err)
	return tr
}

func TestNewTracker(t *testing.T) {
	tr := wallClockTracker(t)

	assert.Equal(t, "T-1", tr.TicketID)
	assert.Equal(t, monday9.Add(60*time.Minute), tr.FirstResponseTarget)
	assert.Equal(t, monday9.Add(480*time.Minute), tr.ResolutionTarget)
	assert.False(t, tr.Breached)
	assert.Empty(t, tr.WarningsSent)
}

func TestNewTracker_BusinessHours(t *testing.T) {
	p := samplePolicy()
	p.Targets[1].BusinessHoursOnly = true
	bh := calendar.DefaultBusinessHours()
	p.BusinessHours = &bh

	friday := time.Date(2026, 10, 23, 17, 30, 0, 0, time.UTC)
	tr, err := NewTracker(&ticket.Ticket{ID: "T-2", Priority: ticket.PriorityMedium}, p, friday)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 10, 26, 9, 30, 0, 0, time.UTC), tr.FirstResponseTarget)
}

func TestNewTracker_NoTarget(t *testing.T) {
	_, err := NewTracker(&ticket.Ticket{ID: "T-3", Priority: ticket.PriorityLow}, &Policy{}, monday9)
	assert.ErrorIs(t, err, ErrNoTarget)
}

func TestTracker_PauseResume(t *testing.T) {
	tr := wallClockTracker(t)
	fr, res := tr.FirstResponseTarget, tr.ResolutionTarget

	require.True(t, tr.Pause("waiting on customer", monday9.Add(10*time.Minute)))
	assert.False(t, tr.Pause("again", monday9.Add(12*time.Minute)))
	assert.Equal(t, []string{"waiting on customer"}, tr.PauseReasons)
	assert.Equal(t, monday9.Add(10*time.Minute), *tr.PausedAt)

	d, ok := tr.Resume(monday9.Add(40 * time.Minute))
	require.True(t, ok)
	assert.Equal(t, 30*time.Minute, d)
	assert.Equal(t, fr.Add(d), tr.FirstResponseTarget)
	assert.Equal(t, res.Add(d), tr.ResolutionTarget)
	assert.Equal(t, 30*time.Minute, tr.PausedDuration)
	assert.Equal(t, 30, tr.PausedMinutes)
	assert.Nil(t, tr.PausedAt)

	_, ok = tr.Resume(monday9.Add(50 * time.Minute))
	assert.False(t, ok)
	assert.Equal(t, 30*time.Minute, tr.PausedDuration)
}

func TestTracker_CheckWarnings(t *testing.T) {
	tr := wallClockTracker(t)

	assert.Empty(t, tr.Check(monday9.Add(20*time.Minute), nil))

	got := tr.Check(monday9.Add(31*time.Minute), nil)
	require.Len(t, got, 1)
	assert.Equal(t, FindingWarning, got[0].Kind)
	assert.Equal(t, "first_response_50", got[0].Key)

	for i := 0; i < 3; i++ {
		assert.Empty(t, tr.Check(monday9.Add(32*time.Minute), nil))
	}
	assert.Equal(t, []string{"first_response_50"}, tr.WarningsSent)
}

func TestTracker_CheckReportsHighestWarningOnly(t *testing.T) {
	tr := wallClockTracker(t)

	got := tr.Check(monday9.Add(50*time.Minute), nil)
	require.Len(t, got, 1)
	assert.Equal(t, "first_response_75", got[0].Key)
	assert.Equal(t, []int{50}, got[0].LowerThresholds)
	assert.Equal(t, []int{50, 75}, got[0].Thresholds())
	assert.ElementsMatch(t, []string{"first_response_50", "first_response_75"}, tr.WarningsSent)
}

func TestTracker_PausedMinutesPersisted(t *testing.T) {
	tr := wallClockTracker(t)
	tr.Pause("hold", monday9.Add(10*time.Minute))
	tr.Resume(monday9.Add(55*time.Minute + 30*time.Second))

	raw, err := json.Marshal(tr)
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.EqualValues(t, 45, doc["pausedMinutes"])

	var back Tracker
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, 45*time.Minute+30*time.Second, back.PausedDuration)
	assert.Equal(t, 45, back.PausedMinutes)
}

func TestTracker_CheckBreachOnce(t *testing.T) {
	tr := wallClockTracker(t)
	at := monday9.Add(61 * time.Minute)

	got := tr.Check(at, nil)
	require.Len(t, got, 1)
	assert.Equal(t, FindingBreach, got[0].Kind)
	assert.Equal(t, WindowFirstResponse, got[0].Window)
	assert.True(t, tr.Breached)
	assert.Equal(t, WindowFirstResponse, *tr.BreachType)
	assert.Equal(t, at, *tr.BreachedAt)

	assert.Empty(t, tr.Check(at.Add(5*time.Minute), nil))

	got = tr.Check(monday9.Add(481*time.Minute), nil)
	require.Len(t, got, 1)
	assert.Equal(t, WindowResolution, got[0].Window)
	assert.Equal(t, WindowFirstResponse, *tr.BreachType, "first breach type is kept")
	assert.Equal(t, at, *tr.BreachedAt)
	assert.ElementsMatch(t, []Window{WindowFirstResponse, WindowResolution}, tr.BreachedWindows)
}

func TestTracker_CheckApproaching(t *testing.T) {
	tr := wallClockTracker(t)

	got := tr.Check(monday9.Add(37*time.Minute), []int{60})
	require.Len(t, got, 2)
	assert.Equal(t, FindingWarning, got[0].Kind)
	assert.Equal(t, FindingApproaching, got[1].Kind)
	assert.Equal(t, "first_response_approaching_60", got[1].Key)
	assert.Equal(t, TriggerApproaching, got[1].Trigger())

	assert.Empty(t, tr.Check(monday9.Add(38*time.Minute), []int{60}))
}

func TestTracker_CheckSkipsPausedAndRecorded(t *testing.T) {
	tr := wallClockTracker(t)
	tr.Pause("hold", monday9.Add(5*time.Minute))
	assert.Empty(t, tr.Check(monday9.Add(70*time.Minute), nil))

	tr = wallClockTracker(t)
	_, ok := tr.Record(WindowFirstResponse, monday9.Add(10*time.Minute))
	require.True(t, ok)
	assert.Empty(t, tr.Check(monday9.Add(70*time.Minute), nil))
}

func TestTracker_Record(t *testing.T) {
	tr := wallClockTracker(t)
	tr.Pause("hold", monday9.Add(10*time.Minute))
	tr.Resume(monday9.Add(30 * time.Minute))

	out, ok := tr.Record(WindowFirstResponse, monday9.Add(70*time.Minute))
	require.True(t, ok)
	assert.True(t, out.Met)
	assert.Equal(t, 50, out.ActualMinutes)
	assert.Equal(t, 50, *tr.FirstResponseMinutes)

	_, ok = tr.Record(WindowFirstResponse, monday9.Add(90*time.Minute))
	assert.False(t, ok)
	assert.Equal(t, monday9.Add(70*time.Minute), *tr.FirstResponseAt)
}

func TestTracker_RecordWhilePaused(t *testing.T) {
	tr := wallClockTracker(t)
	tr.Pause("hold", monday9.Add(50*time.Minute))

	out, ok := tr.Record(WindowFirstResponse, monday9.Add(80*time.Minute))
	require.True(t, ok)
	assert.True(t, out.Met)
	assert.Equal(t, 50, out.ActualMinutes)
}

func TestTracker_RecordLate(t *testing.T) {
	tr := wallClockTracker(t)

	out, ok := tr.Record(WindowResolution, monday9.Add(9*time.Hour))
	require.True(t, ok)
	assert.False(t, out.Met)
	assert.Equal(t, 540, out.ActualMinutes)
	assert.False(t, tr.IsComplete())
}

func TestTracker_Close(t *testing.T) {
	tr := wallClockTracker(t)

	assert.True(t, tr.Close(monday9))
	assert.False(t, tr.Close(monday9.Add(time.Minute)))
	assert.Empty(t, tr.Check(monday9.Add(2*time.Hour), nil))
}

func TestScheduleChecks(t *testing.T) {
	tr := wallClockTracker(t)

	entries := ScheduleChecks(tr, monday9)
	require.Len(t, entries, 6)

	byType := map[string]time.Time{}
	for _, e := range entries {
		assert.Equal(t, CheckPending, e.Status)
		assert.Equal(t, "T-1", e.TicketID)
		byType[e.CheckType] = e.CheckTime
	}
	assert.Equal(t, monday9.Add(30*time.Minute), byType["first_response_50"])
	assert.Equal(t, monday9.Add(45*time.Minute), byType["first_response_75"])
	assert.Equal(t, monday9.Add(60*time.Minute), byType["first_response_100"])
	assert.Equal(t, monday9.Add(360*time.Minute), byType["resolution_75"])
	assert.Equal(t, monday9.Add(432*time.Minute), byType["resolution_90"])
	assert.Equal(t, monday9.Add(480*time.Minute), byType["resolution_100"])
}

func TestScheduleChecks_AfterResume(t *testing.T) {
	tr := wallClockTracker(t)
	tr.Pause("hold", monday9.Add(10*time.Minute))
	tr.Resume(monday9.Add(40 * time.Minute))
	tr.Record(WindowFirstResponse, monday9.Add(45*time.Minute))

	entries := ScheduleChecks(tr, monday9.Add(45*time.Minute))
	require.Len(t, entries, 3)
	assert.Equal(t, "resolution_75", entries[0].CheckType)
	assert.Equal(t, monday9.Add(390*time.Minute), entries[0].CheckTime)
}
