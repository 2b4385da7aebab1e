package stream

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	cron "github.com/netresearch/go-cron"
)

// Sweeper runs Registry.Sweep on a cron schedule.
type Sweeper struct {
	registry *Registry
	schedule cron.Schedule
	raw      string
}

// NewSweeper parses a standard 5-field cron expression.
func NewSweeper(registry *Registry, expr string) (*Sweeper, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	schedule, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("parse sweep schedule %q: %w", expr, err)
	}
	return &Sweeper{registry: registry, schedule: schedule, raw: expr}, nil
}

// Run blocks until ctx is cancelled, sweeping at each scheduled activation.
func (s *Sweeper) Run(ctx context.Context) {
	slog.Info("stream sweeper started", "schedule", s.raw)
	for {
		now := time.Now()
		next := s.schedule.Next(now)
		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			slog.Info("stream sweeper stopped")
			return
		case tick := <-timer.C:
			s.registry.Sweep(tick)
		}
	}
}
