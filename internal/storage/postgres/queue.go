package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"announce_scheduler/internal/domain"
)

// priorityRank mirrors domain.Priority.Rank for ORDER BY clauses.
const priorityRank = `
	CASE q.priority
		WHEN 'Urgente' THEN 1
		WHEN 'Alta' THEN 2
		WHEN 'Media' THEN 3
		WHEN 'Bassa' THEN 4
		ELSE 5
	END`

const deliveryColumns = `q.id, q.announcement_id, q.schedule_id, q.priority, q.org_id, q.state,
	q.scheduled_for, q.executed_at, q.created_at, a.content, a.clean_content, a.audio_url`

type QueueStore struct {
	db *sqlx.DB
}

func NewQueueStore(db *sqlx.DB) *QueueStore {
	return &QueueStore{db: db}
}

// HasPendingInWindow reports whether a pending entry for the pair is
// scheduled within [from, to].
func (s *QueueStore) HasPendingInWindow(ctx context.Context, announcementID, scheduleID int64, from, to time.Time) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM announcement_queue
			WHERE announcement_id = $1 AND schedule_id = $2
			AND scheduled_for BETWEEN $3 AND $4
			AND state = $5
		)`

	var exists bool
	err := sqlx.GetContext(ctx, GetExecutor(ctx, s.db), &exists, query,
		announcementID, scheduleID, from, to, domain.QueuePending,
	)
	return exists, err
}

func (s *QueueStore) Enqueue(ctx context.Context, e *domain.QueueEntry) (int64, error) {
	query := `
		INSERT INTO announcement_queue (announcement_id, schedule_id, priority, org_id, scheduled_for, state)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`

	err := GetExecutor(ctx, s.db).QueryRowxContext(ctx, query,
		e.AnnouncementID,
		e.ScheduleID,
		e.Priority,
		e.OrgID,
		e.ScheduledFor,
		domain.QueuePending,
	).Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		return 0, err
	}
	e.State = domain.QueuePending
	return e.ID, nil
}

// ListReady returns up to limit pending entries due at now, most urgent first.
func (s *QueueStore) ListReady(ctx context.Context, now time.Time, limit int) ([]domain.Delivery, error) {
	query := `
		SELECT ` + deliveryColumns + `
		FROM announcement_queue q
		JOIN announcements a ON a.id = q.announcement_id
		WHERE q.state = $1 AND q.scheduled_for <= $2
		ORDER BY ` + priorityRank + `, q.scheduled_for ASC, q.id ASC
		LIMIT $3`

	var result []domain.Delivery
	err := sqlx.SelectContext(ctx, GetExecutor(ctx, s.db), &result, query, domain.QueuePending, now, limit)
	return result, err
}

// ListPending returns the pending entries of an organization in delivery order.
func (s *QueueStore) ListPending(ctx context.Context, orgID int64, limit int) ([]domain.Delivery, error) {
	query := `
		SELECT ` + deliveryColumns + `
		FROM announcement_queue q
		JOIN announcements a ON a.id = q.announcement_id
		WHERE q.org_id = $1 AND q.state = $2
		ORDER BY ` + priorityRank + `, q.scheduled_for ASC, q.id ASC
		LIMIT $3`

	var result []domain.Delivery
	err := sqlx.SelectContext(ctx, GetExecutor(ctx, s.db), &result, query, orgID, domain.QueuePending, limit)
	return result, err
}

// MarkPlaying claims a pending entry. It reports false when the entry was
// no longer pending.
func (s *QueueStore) MarkPlaying(ctx context.Context, id int64) (bool, error) {
	res, err := GetExecutor(ctx, s.db).ExecContext(ctx,
		`UPDATE announcement_queue SET state = $2 WHERE id = $1 AND state = $3`,
		id, domain.QueuePlaying, domain.QueuePending,
	)
	if err != nil {
		return false, err
	}

	n, err := rowsAffected(res)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *QueueStore) MarkCompleted(ctx context.Context, id int64, executedAt time.Time) error {
	res, err := GetExecutor(ctx, s.db).ExecContext(ctx,
		`UPDATE announcement_queue SET state = $2, executed_at = $3 WHERE id = $1 AND state = $4`,
		id, domain.QueueCompleted, executedAt, domain.QueuePlaying,
	)
	if err != nil {
		return err
	}

	n, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("complete queue entry %d: %w", id, domain.ErrStateConflict)
	}
	return nil
}

// MarkFailed fails a non-terminal entry. Terminal entries are left alone.
func (s *QueueStore) MarkFailed(ctx context.Context, id int64) error {
	_, err := GetExecutor(ctx, s.db).ExecContext(ctx,
		`UPDATE announcement_queue SET state = $2 WHERE id = $1 AND state IN ($3, $4)`,
		id, domain.QueueFailed, domain.QueuePending, domain.QueuePlaying,
	)
	return err
}

func (s *QueueStore) GetByID(ctx context.Context, id int64) (*domain.QueueEntry, error) {
	var e domain.QueueEntry
	err := sqlx.GetContext(ctx, GetExecutor(ctx, s.db), &e, `
		SELECT id, announcement_id, schedule_id, priority, org_id, state, scheduled_for, executed_at, created_at
		FROM announcement_queue WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	return &e, nil
}
