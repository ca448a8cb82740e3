package report

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/execution-hub/bizrules/internal/domain/sla"
)

var ErrInvalidPeriod = errors.New("report period end must be after start")

// Service builds SLA compliance reports.
type Service struct {
	trackers sla.TrackerRepository
	now      func() time.Time
	logger   zerolog.Logger
}

// NewService creates a new report service
func NewService(trackers sla.TrackerRepository, logger zerolog.Logger) *Service {
	return &Service{
		trackers: trackers,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   logger.With().Str("service", "report").Logger(),
	}
}

// WithClock overrides the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// GenerateSLAReport aggregates every tracker started in [start, end).
func (s *Service) GenerateSLAReport(ctx context.Context, start, end time.Time) (*sla.Report, error) {
	if !end.After(start) {
		return nil, ErrInvalidPeriod
	}
	trackers, err := s.trackers.List(ctx, sla.TrackerFilter{StartFrom: &start, StartTo: &end})
	if err != nil {
		return nil, fmt.Errorf("list trackers: %w", err)
	}
	r := sla.BuildReport(trackers, start, end, s.now())

	s.logger.Info().
		Time("from", start).
		Time("to", end).
		Int("tickets", r.TotalTickets).
		Float64("firstResponseSuccessRate", r.FirstResponseMetrics.SuccessRate).
		Float64("resolutionSuccessRate", r.ResolutionMetrics.SuccessRate).
		Msg("sla report generated")
	return r, nil
}
