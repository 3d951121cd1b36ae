package service

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"announce_scheduler/internal/config"
	"announce_scheduler/internal/domain"
)

// QueueExecutor drains ready queue entries in priority order, one at a time.
type QueueExecutor struct {
	queue       QueueStore
	schedules   ScheduleStore
	history     HistoryStore
	txManager   TransactionManager
	player      Player
	publisher   Publisher
	gate        *tickGate
	logger      *slog.Logger
	batchSize   int
	playTimeout time.Duration
	now         func() time.Time
}

func NewQueueExecutor(
	queue QueueStore,
	schedules ScheduleStore,
	history HistoryStore,
	txManager TransactionManager,
	player Player,
	publisher Publisher,
	locker Locker,
	logger *slog.Logger,
	cfg config.SchedulerConfig,
) *QueueExecutor {
	logger = logger.With("processor", "queue")
	return &QueueExecutor{
		queue:       queue,
		schedules:   schedules,
		history:     history,
		txManager:   txManager,
		player:      player,
		publisher:   publisher,
		gate:        newTickGate("execute", locker, cfg.LockTTL, logger),
		logger:      logger,
		batchSize:   cfg.BatchSize,
		playTimeout: cfg.Playback.Timeout,
		now:         time.Now,
	}
}

func (e *QueueExecutor) Execute(ctx context.Context) (*domain.ExecuteStats, error) {
	release, err := e.gate.enter(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	startTime := time.Now()

	deliveries, err := e.queue.ListReady(ctx, e.now(), e.batchSize)
	if err != nil {
		return nil, fmt.Errorf("list ready entries: %w", err)
	}
	domain.SortDeliveries(deliveries)

	stats := &domain.ExecuteStats{Selected: len(deliveries)}
	if len(deliveries) > 0 {
		e.logger.Info("executing queue batch", "count", len(deliveries))
	}

	for i := range deliveries {
		if err := ctx.Err(); err != nil {
			stats.Duration = time.Since(startTime)
			return stats, err
		}
		e.deliver(ctx, &deliveries[i], stats)
	}

	stats.Duration = time.Since(startTime)

	if stats.Selected > 0 {
		e.logger.Info("queue batch completed",
			"selected", stats.Selected,
			"completed", stats.Completed,
			"failed", stats.Failed,
			"cancelled", stats.Cancelled,
			"skipped", stats.Skipped,
			"duration", stats.Duration,
		)
	}

	return stats, nil
}

func (e *QueueExecutor) deliver(ctx context.Context, d *domain.Delivery, stats *domain.ExecuteStats) {
	logger := e.logger.With("queue_id", d.ID, "announcement_id", d.AnnouncementID, "priority", d.Priority)

	claimed, err := e.queue.MarkPlaying(ctx, d.ID)
	if err != nil {
		e.fail(ctx, d, 0, fmt.Errorf("mark playing: %w", err), domain.OutcomeFailed, stats, logger)
		return
	}
	if !claimed {
		stats.Skipped++
		logger.Debug("entry no longer pending")
		return
	}
	d.State = domain.QueuePlaying

	started := e.now()
	if err := e.play(ctx, d); err != nil {
		outcome := domain.OutcomeFailed
		// The tick itself ended mid-play, not the per-entry timeout.
		if ctx.Err() != nil {
			outcome = domain.OutcomeCancelled
		}
		e.fail(ctx, d, e.now().Sub(started), fmt.Errorf("play: %w", err), outcome, stats, logger)
		return
	}
	executedAt := e.now()

	record := e.record(d, executedAt, executedAt.Sub(started), domain.OutcomeSuccess)

	// Playback already happened; a shutdown must not turn it into a failure.
	bookCtx := context.WithoutCancel(ctx)

	err = e.txManager.WithTransaction(bookCtx, func(txCtx context.Context) error {
		if err := e.queue.MarkCompleted(txCtx, d.ID, executedAt); err != nil {
			return fmt.Errorf("mark completed: %w", err)
		}
		if _, err := e.history.Insert(txCtx, record); err != nil {
			return fmt.Errorf("insert history: %w", err)
		}
		if d.ScheduleID != nil {
			if err := e.schedules.IncrementCompleted(txCtx, *d.ScheduleID); err != nil {
				return fmt.Errorf("increment completed firings: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		e.fail(ctx, d, executedAt.Sub(started), err, domain.OutcomeFailed, stats, logger)
		return
	}

	d.State = domain.QueueCompleted
	d.ExecutedAt = &executedAt
	stats.Completed++
	logger.Info("announcement delivered", "duration_seconds", record.DurationSeconds)

	e.publish(bookCtx, record, logger)
}

func (e *QueueExecutor) play(ctx context.Context, d *domain.Delivery) error {
	if e.playTimeout <= 0 {
		return e.player.Play(ctx, d)
	}

	playCtx, cancel := context.WithTimeout(ctx, e.playTimeout)
	defer cancel()
	return e.player.Play(playCtx, d)
}

// fail marks the entry failed and records the outcome, failed or cancelled.
// Bookkeeping outlives a cancelled tick so an entry is never left playing.
func (e *QueueExecutor) fail(ctx context.Context, d *domain.Delivery, elapsed time.Duration, cause error, outcome domain.Outcome, stats *domain.ExecuteStats, logger *slog.Logger) {
	if outcome == domain.OutcomeCancelled {
		stats.Cancelled++
		logger.Warn("delivery interrupted", "error", cause)
	} else {
		stats.Failed++
		logger.Error("delivery failed", "error", cause)
	}

	bookCtx := context.WithoutCancel(ctx)

	if err := e.queue.MarkFailed(bookCtx, d.ID); err != nil {
		logger.Error("mark failed", "error", err)
		return
	}
	d.State = domain.QueueFailed

	record := e.record(d, e.now(), elapsed, outcome)
	if _, err := e.history.Insert(bookCtx, record); err != nil {
		logger.Error("insert failure history", "error", err, "outcome", outcome)
		return
	}

	e.publish(bookCtx, record, logger)
}

func (e *QueueExecutor) record(d *domain.Delivery, executedAt time.Time, elapsed time.Duration, outcome domain.Outcome) *domain.HistoryRecord {
	queueID := d.ID
	return &domain.HistoryRecord{
		QueueID:         &queueID,
		AnnouncementID:  d.AnnouncementID,
		ScheduleID:      d.ScheduleID,
		OrgID:           d.OrgID,
		Priority:        d.Priority,
		ExecutedAt:      executedAt,
		AudioURL:        d.AudioURL,
		DurationSeconds: int(math.Round(elapsed.Seconds())),
		Outcome:         outcome,
	}
}

func (e *QueueExecutor) publish(ctx context.Context, record *domain.HistoryRecord, logger *slog.Logger) {
	if e.publisher == nil {
		return
	}
	if err := e.publisher.Publish(ctx, record); err != nil {
		logger.Warn("publish delivery event", "error", err)
	}
}
