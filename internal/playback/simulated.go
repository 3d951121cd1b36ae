package playback

import (
	"context"
	"log/slog"
	"time"

	"announce_scheduler/internal/domain"
)

// Simulated stands in for real speakers by holding each delivery for a fixed
// duration.
type Simulated struct {
	duration time.Duration
	logger   *slog.Logger
}

func NewSimulated(duration time.Duration, logger *slog.Logger) *Simulated {
	return &Simulated{duration: duration, logger: logger}
}

func (s *Simulated) Play(ctx context.Context, d *domain.Delivery) error {
	s.logger.Debug("simulating playback",
		"queue_id", d.ID,
		"priority", d.Priority,
		"text", d.Text(),
		"duration", s.duration,
	)

	timer := time.NewTimer(s.duration)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
