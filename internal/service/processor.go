package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"announce_scheduler/internal/config"
	"announce_scheduler/internal/domain"
)

// ScheduleProcessor turns due schedules into pending queue entries and
// retires schedules whose window has elapsed.
type ScheduleProcessor struct {
	schedules   ScheduleStore
	queue       QueueStore
	txManager   TransactionManager
	gate        *tickGate
	logger      *slog.Logger
	dedupWindow time.Duration
	now         func() time.Time
}

func NewScheduleProcessor(
	schedules ScheduleStore,
	queue QueueStore,
	txManager TransactionManager,
	locker Locker,
	logger *slog.Logger,
	cfg config.SchedulerConfig,
) *ScheduleProcessor {
	logger = logger.With("processor", "schedule")
	return &ScheduleProcessor{
		schedules:   schedules,
		queue:       queue,
		txManager:   txManager,
		gate:        newTickGate("process", locker, cfg.LockTTL, logger),
		logger:      logger,
		dedupWindow: cfg.DedupWindow,
		now:         time.Now,
	}
}

func (p *ScheduleProcessor) Process(ctx context.Context) (*domain.ProcessStats, error) {
	release, err := p.gate.enter(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	startTime := time.Now()
	now := p.now()

	schedules, err := p.schedules.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active schedules: %w", err)
	}

	p.logger.Debug("processing schedules", "count", len(schedules), "now", now)

	stats := &domain.ProcessStats{Scanned: len(schedules)}

	for i := range schedules {
		if err := ctx.Err(); err != nil {
			stats.Duration = time.Since(startTime)
			return stats, err
		}

		sched := &schedules[i]
		if err := p.processSchedule(ctx, sched, now, stats); err != nil {
			stats.Errors++
			p.logger.Error("process schedule",
				"schedule_id", sched.ID,
				"announcement_id", sched.AnnouncementID,
				"error", err,
			)
		}
	}

	stats.Duration = time.Since(startTime)

	p.logger.Info("schedule processing completed",
		"scanned", stats.Scanned,
		"fired", stats.Fired,
		"duplicates", stats.Duplicates,
		"completed", stats.Completed,
		"errors", stats.Errors,
		"duration", stats.Duration,
	)

	return stats, nil
}

func (p *ScheduleProcessor) processSchedule(ctx context.Context, sched *domain.Schedule, now time.Time, stats *domain.ProcessStats) error {
	rec, err := domain.DecodeRecurrence(sched.Recurrence)
	if err != nil {
		return err
	}

	if rec.Due(now) {
		fired, err := p.fire(ctx, sched, rec)
		if err != nil {
			return fmt.Errorf("fire: %w", err)
		}
		if fired {
			stats.Fired++
		} else {
			stats.Duplicates++
		}
	}

	if rec.Expired(now) {
		done, err := p.schedules.Complete(ctx, sched.ID)
		if err != nil {
			return fmt.Errorf("complete: %w", err)
		}
		if done {
			stats.Completed++
			p.logger.Info("schedule completed", "schedule_id", sched.ID, "repeat_until", rec.RepeatUntil)
		}
	}

	return nil
}

// fire enqueues the firing at rec.NextExecution and advances the schedule.
// It reports false when a pending entry already covers the slot.
func (p *ScheduleProcessor) fire(ctx context.Context, sched *domain.Schedule, rec domain.Recurrence) (bool, error) {
	fired := false

	err := p.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		from := rec.NextExecution.Add(-p.dedupWindow)
		to := rec.NextExecution.Add(p.dedupWindow)

		exists, err := p.queue.HasPendingInWindow(txCtx, sched.AnnouncementID, sched.ID, from, to)
		if err != nil {
			return fmt.Errorf("check pending window: %w", err)
		}
		if exists {
			p.logger.Debug("pending entry already queued",
				"schedule_id", sched.ID,
				"next_execution", rec.NextExecution,
			)
			return nil
		}

		scheduleID := sched.ID
		entry := &domain.QueueEntry{
			AnnouncementID: sched.AnnouncementID,
			ScheduleID:     &scheduleID,
			Priority:       sched.Priority,
			OrgID:          sched.OrgID,
			ScheduledFor:   rec.NextExecution,
		}
		if _, err := p.queue.Enqueue(txCtx, entry); err != nil {
			return fmt.Errorf("enqueue: %w", err)
		}

		if err := p.schedules.Advance(txCtx, sched.ID, rec.Advance()); err != nil {
			return fmt.Errorf("advance: %w", err)
		}

		fired = true
		p.logger.Debug("schedule fired",
			"schedule_id", sched.ID,
			"queue_id", entry.ID,
			"scheduled_for", entry.ScheduledFor,
		)
		return nil
	})

	return fired, err
}
