package sla

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/execution-hub/bizrules/internal/domain/ticket"
)

func boolPtr(b bool) *bool { return &b }
func intPtr(i int) *int    { return &i }

func TestBuildReport(t *testing.T) {
	start := monday9
	end := start.Add(7 * 24 * time.Hour)

	var trackers []*Tracker
	for i := 0; i < 10; i++ {
		tr := &Tracker{
			TicketID:  fmt.Sprintf("T-%d", i),
			Priority:  ticket.PriorityMedium,
			StartTime: start.Add(time.Duration(i) * time.Hour),
		}
		if i < 7 {
			tr.FirstResponseMet = boolPtr(true)
			tr.FirstResponseMinutes = intPtr(30)
		} else {
			tr.BreachedWindows = []Window{WindowFirstResponse}
			tr.Breached = true
		}
		if i == 0 {
			tr.Priority = ticket.PriorityCritical
			tr.EscalationLevel = 1
			tr.PausedDuration = 10 * time.Minute
		}
		if i == 1 {
			tr.ResolutionMet = boolPtr(false)
			tr.ResolutionMinutes = intPtr(600)
		}
		trackers = append(trackers, tr)
	}
	trackers = append(trackers, &Tracker{TicketID: "old", StartTime: start.Add(-time.Hour)})
	trackers = append(trackers, &Tracker{TicketID: "late", StartTime: end})

	r := BuildReport(trackers, start, end, end)

	assert.Equal(t, 10, r.TotalTickets)
	assert.Equal(t, 9, r.ByPriority[ticket.PriorityMedium])
	assert.Equal(t, 1, r.ByPriority[ticket.PriorityCritical])
	assert.Equal(t, 7, r.FirstResponseMetrics.Met)
	assert.Equal(t, 3, r.FirstResponseMetrics.Breached)
	assert.Equal(t, 70.0, r.FirstResponseMetrics.SuccessRate)
	assert.Equal(t, 30.0, r.FirstResponseMetrics.BreachRate)
	assert.Equal(t, 30.0, r.FirstResponseMetrics.AverageMinutes)
	assert.Equal(t, 1, r.ResolutionMetrics.Breached)
	assert.Equal(t, 9, r.ResolutionMetrics.Pending)
	assert.Equal(t, 600.0, r.ResolutionMetrics.AverageMinutes)
	assert.Equal(t, 1, r.EscalatedTickets)
	assert.Equal(t, 1, r.PausedTickets)
}

func TestBuildReport_Empty(t *testing.T) {
	r := BuildReport(nil, monday9, monday9.Add(time.Hour), monday9)

	assert.Equal(t, 0, r.TotalTickets)
	assert.Equal(t, 0.0, r.FirstResponseMetrics.SuccessRate)
	assert.NotNil(t, r.ByPriority)
}
