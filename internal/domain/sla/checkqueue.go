package sla

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CheckStatus is the state of a queued check point.
type CheckStatus string

const (
	CheckPending   CheckStatus = "pending"
	CheckProcessed CheckStatus = "processed"
	CheckFailed    CheckStatus = "failed"
	CheckCancelled CheckStatus = "cancelled"
)

// CheckEntry is a durable request to run a status check for a ticket at CheckTime.
type CheckEntry struct {
	ID          uuid.UUID   `json:"id"`
	TicketID    string      `json:"ticketId"`
	CheckTime   time.Time   `json:"checkTime"`
	CheckType   string      `json:"checkType"`
	Status      CheckStatus `json:"status"`
	Error       *string     `json:"error,omitempty"`
	ProcessedAt *time.Time  `json:"processedAt,omitempty"`
	CreatedAt   time.Time   `json:"createdAt"`
}

// checkpoints are the fractions of each window at which a check is queued.
var checkpoints = map[Window][]int{
	WindowFirstResponse: {50, 75, 100},
	WindowResolution:    {75, 90, 100},
}

// CheckType names a check point, e.g. "first_response_75".
func CheckType(w Window, pct int) string {
	return fmt.Sprintf("%s_%d", w, pct)
}

// ScheduleChecks builds the check points for every open window of t. Points already in
// the past at now are still returned so that an overdue tracker is checked promptly.
func ScheduleChecks(t *Tracker, now time.Time) []*CheckEntry {
	var out []*CheckEntry
	for _, w := range Windows {
		if t.Recorded(w) {
			continue
		}
		span := t.WindowSpan(w)
		base := t.Target(w).Add(-span)
		for _, pct := range checkpoints[w] {
			at := base.Add(span * time.Duration(pct) / 100)
			out = append(out, &CheckEntry{
				ID:        uuid.New(),
				TicketID:  t.TicketID,
				CheckTime: at,
				CheckType: CheckType(w, pct),
				Status:    CheckPending,
				CreatedAt: now,
			})
		}
	}
	return out
}
