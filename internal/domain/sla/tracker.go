package sla

import (
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/execution-hub/bizrules/internal/domain/calendar"
	"github.com/execution-hub/bizrules/internal/domain/ticket"
)

// Window is one of the two measured SLA windows.
type Window string

const (
	WindowFirstResponse Window = "first_response"
	WindowResolution    Window = "resolution"
)

// Windows lists both windows in check order.
var Windows = []Window{WindowFirstResponse, WindowResolution}

// WarningThresholds returns the elapsed percentages that raise a warning, ascending.
func (w Window) WarningThresholds() []int {
	switch w {
	case WindowFirstResponse:
		return []int{50, 75}
	case WindowResolution:
		return []int{75, 90}
	default:
		return nil
	}
}

// WarningKey identifies a warning in Tracker.WarningsSent.
func WarningKey(w Window, pct int) string {
	return fmt.Sprintf("%s_%d", w, pct)
}

// ApproachingKey identifies an approaching-rule firing in Tracker.WarningsSent.
func ApproachingKey(w Window, pct int) string {
	return fmt.Sprintf("%s_approaching_%d", w, pct)
}

// Tracker is the durable SLA state of one ticket.
type Tracker struct {
	TrackerID           uuid.UUID       `json:"trackerId"`
	TicketID            string          `json:"ticketId"`
	PolicyID            uuid.UUID       `json:"policyId"`
	Priority            ticket.Priority `json:"priority"`
	AssigneeID          *string         `json:"assigneeId,omitempty"`
	BusinessHoursOnly   bool            `json:"businessHoursOnly"`
	StartTime           time.Time       `json:"startTime"`
	FirstResponseTarget time.Time       `json:"firstResponseTarget"`
	ResolutionTarget    time.Time       `json:"resolutionTarget"`

	FirstResponseAt      *time.Time `json:"firstResponseAt,omitempty"`
	FirstResponseMet     *bool      `json:"firstResponseMet,omitempty"`
	FirstResponseMinutes *int       `json:"firstResponseMinutes,omitempty"`
	ResolutionAt         *time.Time `json:"resolutionAt,omitempty"`
	ResolutionMet        *bool      `json:"resolutionMet,omitempty"`
	ResolutionMinutes    *int       `json:"resolutionMinutes,omitempty"`

	PausedAt *time.Time `json:"pausedAt,omitempty"`
	// PausedDuration is the exact total of finished pauses. PausedMinutes mirrors it in
	// whole minutes for readers of the persisted document.
	PausedDuration time.Duration `json:"pausedDuration"`
	PausedMinutes  int           `json:"pausedMinutes"`
	PauseReasons   []string      `json:"pauseReasons"`

	Breached        bool       `json:"breached"`
	BreachType      *Window    `json:"breachType,omitempty"`
	BreachedAt      *time.Time `json:"breachedAt,omitempty"`
	BreachedWindows []Window   `json:"breachedWindows"`
	WarningsSent    []string   `json:"warningsSent"`
	EscalationLevel int        `json:"escalationLevel"`

	Closed   bool       `json:"closed"`
	ClosedAt *time.Time `json:"closedAt,omitempty"`

	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NewTracker computes both targets for t under p starting at now.
func NewTracker(t *ticket.Ticket, p *Policy, now time.Time) (*Tracker, error) {
	target, ok := p.TargetFor(t.Priority)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoTarget, t.Priority)
	}
	cal, err := p.Calendar()
	if err != nil {
		return nil, err
	}
	frTarget, err := calendar.AddMinutes(cal, now, target.FirstResponseMinutes, target.BusinessHoursOnly)
	if err != nil {
		return nil, fmt.Errorf("first response target: %w", err)
	}
	resTarget, err := calendar.AddMinutes(cal, now, target.ResolutionMinutes, target.BusinessHoursOnly)
	if err != nil {
		return nil, fmt.Errorf("resolution target: %w", err)
	}
	return &Tracker{
		TrackerID:           uuid.New(),
		TicketID:            t.ID,
		PolicyID:            p.ID,
		Priority:            t.Priority,
		AssigneeID:          t.AssigneeID,
		BusinessHoursOnly:   target.BusinessHoursOnly,
		StartTime:           now,
		FirstResponseTarget: frTarget,
		ResolutionTarget:    resTarget,
		PauseReasons:        []string{},
		BreachedWindows:     []Window{},
		WarningsSent:        []string{},
		CreatedAt:           now,
		UpdatedAt:           now,
	}, nil
}

// IsPaused reports whether the clock is stopped.
func (t *Tracker) IsPaused() bool {
	return t.PausedAt != nil
}

// Target returns the current deadline of w.
func (t *Tracker) Target(w Window) time.Time {
	if w == WindowFirstResponse {
		return t.FirstResponseTarget
	}
	return t.ResolutionTarget
}

// Recorded reports whether the event closing w has been recorded.
func (t *Tracker) Recorded(w Window) bool {
	if w == WindowFirstResponse {
		return t.FirstResponseAt != nil
	}
	return t.ResolutionAt != nil
}

// IsComplete reports whether both events are recorded.
func (t *Tracker) IsComplete() bool {
	return t.FirstResponseAt != nil && t.ResolutionAt != nil
}

// HasBreached reports whether w has already breached.
func (t *Tracker) HasBreached(w Window) bool {
	return slices.Contains(t.BreachedWindows, w)
}

// WarningSent reports whether key is recorded.
func (t *Tracker) WarningSent(key string) bool {
	return slices.Contains(t.WarningsSent, key)
}

func (t *Tracker) markWarning(key string) bool {
	if t.WarningSent(key) {
		return false
	}
	t.WarningsSent = append(t.WarningsSent, key)
	return true
}

// WindowSpan is the allowance of w net of pauses.
func (t *Tracker) WindowSpan(w Window) time.Duration {
	return t.Target(w).Sub(t.StartTime) - t.PausedDuration
}

// ElapsedPct is how much of w's allowance has been consumed at now.
func (t *Tracker) ElapsedPct(w Window, now time.Time) float64 {
	span := t.WindowSpan(w)
	if span <= 0 {
		return 100
	}
	remaining := t.Target(w).Sub(now)
	return float64(span-remaining) / float64(span) * 100
}

// Pause stops the clock. It reports false when already paused.
func (t *Tracker) Pause(reason string, now time.Time) bool {
	if t.PausedAt != nil {
		return false
	}
	at := now
	t.PausedAt = &at
	if reason != "" {
		t.PauseReasons = append(t.PauseReasons, reason)
	}
	t.UpdatedAt = now
	return true
}

// Resume restarts the clock and shifts both targets forward by the pause length.
// It reports false when not paused.
func (t *Tracker) Resume(now time.Time) (time.Duration, bool) {
	if t.PausedAt == nil {
		return 0, false
	}
	d := now.Sub(*t.PausedAt)
	if d < 0 {
		d = 0
	}
	t.PausedDuration += d
	t.PausedMinutes = int(t.PausedDuration / time.Minute)
	t.FirstResponseTarget = t.FirstResponseTarget.Add(d)
	t.ResolutionTarget = t.ResolutionTarget.Add(d)
	t.PausedAt = nil
	t.UpdatedAt = now
	return d, true
}

func (t *Tracker) pausedUntil(now time.Time) time.Duration {
	d := t.PausedDuration
	if t.PausedAt != nil && now.After(*t.PausedAt) {
		d += now.Sub(*t.PausedAt)
	}
	return d
}

// Outcome of recording a first response or resolution.
type Outcome struct {
	Window        Window
	Met           bool
	ActualMinutes int
}

// Record stamps the event closing w. It reports false when already recorded.
func (t *Tracker) Record(w Window, now time.Time) (Outcome, bool) {
	if t.Recorded(w) {
		return Outcome{}, false
	}
	paused := t.pausedUntil(now)
	actual := int((now.Sub(t.StartTime) - paused) / time.Minute)
	if actual < 0 {
		actual = 0
	}
	deadline := t.Target(w).Add(paused - t.PausedDuration)
	met := !now.After(deadline)
	at := now

	switch w {
	case WindowFirstResponse:
		t.FirstResponseAt = &at
		t.FirstResponseMet = &met
		t.FirstResponseMinutes = &actual
	case WindowResolution:
		t.ResolutionAt = &at
		t.ResolutionMet = &met
		t.ResolutionMinutes = &actual
	}
	t.UpdatedAt = now
	return Outcome{Window: w, Met: met, ActualMinutes: actual}, true
}

// Close marks the tracker as needing no further checks.
func (t *Tracker) Close(now time.Time) bool {
	if t.Closed {
		return false
	}
	at := now
	t.Closed = true
	t.ClosedAt = &at
	t.UpdatedAt = now
	return true
}

// FindingKind classifies what a status check detected.
type FindingKind string

const (
	FindingBreach      FindingKind = "breach"
	FindingWarning     FindingKind = "warning"
	FindingApproaching FindingKind = "approaching"
)

// Finding is a new transition produced by Check. Each finding is produced at most once
// over the tracker's lifetime.
type Finding struct {
	Kind         FindingKind `json:"kind"`
	Window       Window      `json:"window"`
	ThresholdPct int         `json:"thresholdPct,omitempty"`
	Key          string      `json:"key,omitempty"`
	ElapsedPct   float64     `json:"elapsedPct"`
	// LowerThresholds lists warning thresholds below ThresholdPct crossed by the same check.
	LowerThresholds []int `json:"lowerThresholds,omitempty"`
}

// Thresholds lists every threshold the finding crossed in ascending order.
func (f Finding) Thresholds() []int {
	return append(slices.Clone(f.LowerThresholds), f.ThresholdPct)
}

// Trigger maps the finding to the escalation trigger it fires.
func (f Finding) Trigger() Trigger {
	switch f.Kind {
	case FindingBreach:
		return TriggerBreach
	case FindingWarning:
		return TriggerWarning
	default:
		return TriggerApproaching
	}
}

// Check evaluates both open windows at now, records every new breach, warning and
// approaching key on the tracker, and returns the transitions to act on. Paused and
// closed trackers yield nothing. When several warning thresholds are crossed at once
// one finding is returned for the highest and the lower ones go in LowerThresholds.
func (t *Tracker) Check(now time.Time, approaching []int) []Finding {
	if t.Closed || t.IsPaused() {
		return nil
	}
	var out []Finding
	for _, w := range Windows {
		if t.Recorded(w) {
			continue
		}
		pct := t.ElapsedPct(w, now)
		if !now.Before(t.Target(w)) {
			if t.HasBreached(w) {
				continue
			}
			t.breach(w, now)
			out = append(out, Finding{Kind: FindingBreach, Window: w, ElapsedPct: pct})
			continue
		}

		var warn *Finding
		for _, th := range w.WarningThresholds() {
			if pct < float64(th) {
				break
			}
			key := WarningKey(w, th)
			if !t.markWarning(key) {
				continue
			}
			var lower []int
			if warn != nil {
				lower = append(warn.LowerThresholds, warn.ThresholdPct)
			}
			warn = &Finding{Kind: FindingWarning, Window: w, ThresholdPct: th, Key: key, ElapsedPct: pct, LowerThresholds: lower}
		}
		if warn != nil {
			out = append(out, *warn)
		}

		ths := slices.Clone(approaching)
		slices.Sort(ths)
		for _, th := range ths {
			if pct < float64(th) {
				break
			}
			key := ApproachingKey(w, th)
			if t.markWarning(key) {
				out = append(out, Finding{Kind: FindingApproaching, Window: w, ThresholdPct: th, Key: key, ElapsedPct: pct})
			}
		}
	}
	if len(out) > 0 {
		t.UpdatedAt = now
	}
	return out
}

func (t *Tracker) breach(w Window, now time.Time) {
	t.BreachedWindows = append(t.BreachedWindows, w)
	if t.Breached {
		return
	}
	at := now
	bt := w
	t.Breached = true
	t.BreachType = &bt
	t.BreachedAt = &at
}
