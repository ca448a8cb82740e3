package sla

import (
	"math"
	"time"

	"github.com/execution-hub/bizrules/internal/domain/ticket"
)

// WindowMetrics summarises one window across a set of trackers.
type WindowMetrics struct {
	Met            int     `json:"met"`
	Breached       int     `json:"breached"`
	Pending        int     `json:"pending"`
	SuccessRate    float64 `json:"successRate"`
	BreachRate     float64 `json:"breachRate"`
	AverageMinutes float64 `json:"averageMinutes"`
}

// Report aggregates compliance for trackers started in [PeriodStart, PeriodEnd).
type Report struct {
	PeriodStart          time.Time               `json:"periodStart"`
	PeriodEnd            time.Time               `json:"periodEnd"`
	TotalTickets         int                     `json:"totalTickets"`
	ByPriority           map[ticket.Priority]int `json:"byPriority"`
	FirstResponseMetrics WindowMetrics           `json:"firstResponseMetrics"`
	ResolutionMetrics    WindowMetrics           `json:"resolutionMetrics"`
	EscalatedTickets     int                     `json:"escalatedTickets"`
	PausedTickets        int                     `json:"pausedTickets"`
	GeneratedAt          time.Time               `json:"generatedAt"`
}

// BuildReport aggregates trackers. Trackers outside the period are ignored.
func BuildReport(trackers []*Tracker, start, end, now time.Time) *Report {
	r := &Report{
		PeriodStart: start,
		PeriodEnd:   end,
		ByPriority:  map[ticket.Priority]int{},
		GeneratedAt: now,
	}
	var fr, res accumulator
	for _, t := range trackers {
		if t.StartTime.Before(start) || !t.StartTime.Before(end) {
			continue
		}
		r.TotalTickets++
		r.ByPriority[t.Priority]++
		fr.add(t.FirstResponseMet, t.FirstResponseMinutes, t.HasBreached(WindowFirstResponse))
		res.add(t.ResolutionMet, t.ResolutionMinutes, t.HasBreached(WindowResolution))
		if t.EscalationLevel > 0 {
			r.EscalatedTickets++
		}
		if t.PausedDuration > 0 || t.PausedAt != nil {
			r.PausedTickets++
		}
	}
	r.FirstResponseMetrics = fr.metrics(r.TotalTickets)
	r.ResolutionMetrics = res.metrics(r.TotalTickets)
	return r
}

type accumulator struct {
	met, breached, pending int
	minutes, samples       int
}

func (a *accumulator) add(met *bool, minutes *int, breached bool) {
	switch {
	case met != nil && *met:
		a.met++
	case met != nil || breached:
		a.breached++
	default:
		a.pending++
	}
	if minutes != nil {
		a.minutes += *minutes
		a.samples++
	}
}

func (a *accumulator) metrics(total int) WindowMetrics {
	m := WindowMetrics{Met: a.met, Breached: a.breached, Pending: a.pending}
	if total > 0 {
		m.SuccessRate = round2(float64(a.met) * 100 / float64(total))
		m.BreachRate = round2(float64(a.breached) * 100 / float64(total))
	}
	if a.samples > 0 {
		m.AverageMinutes = round2(float64(a.minutes) / float64(a.samples))
	}
	return m
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
