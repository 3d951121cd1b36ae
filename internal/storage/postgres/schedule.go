package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"announce_scheduler/internal/domain"
)

type ScheduleStore struct {
	db *sqlx.DB
}

func NewScheduleStore(db *sqlx.DB) *ScheduleStore {
	return &ScheduleStore{db: db}
}

func (s *ScheduleStore) Create(ctx context.Context, sched *domain.Schedule, rec domain.Recurrence) (int64, error) {
	query := `
		INSERT INTO announcement_schedules (announcement_id, priority, recurrence, state)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at`

	err := GetExecutor(ctx, s.db).QueryRowxContext(ctx, query,
		sched.AnnouncementID,
		sched.Priority,
		rec,
		sched.State,
	).Scan(&sched.ID, &sched.CreatedAt, &sched.UpdatedAt)
	if err != nil {
		return 0, err
	}
	return sched.ID, nil
}

func (s *ScheduleStore) GetByID(ctx context.Context, id int64) (*domain.Schedule, error) {
	query := `
		SELECT s.id, s.announcement_id, s.priority, s.recurrence, s.state,
			s.total_firings, s.completed_firings, s.created_at, s.updated_at, a.org_id
		FROM announcement_schedules s
		JOIN announcements a ON a.id = s.announcement_id
		WHERE s.id = $1`

	var sched domain.Schedule
	err := sqlx.GetContext(ctx, GetExecutor(ctx, s.db), &sched, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("schedule %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &sched, nil
}

// ListActive returns every active schedule with its announcement's org.
// The recurrence is returned raw.
func (s *ScheduleStore) ListActive(ctx context.Context) ([]domain.Schedule, error) {
	query := `
		SELECT s.id, s.announcement_id, s.priority, s.recurrence, s.state,
			s.total_firings, s.completed_firings, s.created_at, s.updated_at, a.org_id
		FROM announcement_schedules s
		JOIN announcements a ON a.id = s.announcement_id
		WHERE s.state = $1
		ORDER BY s.id`

	var result []domain.Schedule
	err := sqlx.SelectContext(ctx, GetExecutor(ctx, s.db), &result, query, domain.ScheduleActive)
	return result, err
}

// Advance stores the next recurrence and counts one firing. Only active
// schedules are advanced.
func (s *ScheduleStore) Advance(ctx context.Context, id int64, rec domain.Recurrence) error {
	res, err := GetExecutor(ctx, s.db).ExecContext(ctx, `
		UPDATE announcement_schedules
		SET recurrence = $2, total_firings = total_firings + 1, updated_at = NOW()
		WHERE id = $1 AND state = $3`,
		id, rec, domain.ScheduleActive,
	)
	if err != nil {
		return err
	}

	n, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("advance schedule %d: %w", id, domain.ErrStateConflict)
	}
	return nil
}

// Complete moves an active schedule to completed. It reports false when the
// schedule was no longer active.
func (s *ScheduleStore) Complete(ctx context.Context, id int64) (bool, error) {
	return s.transition(ctx, id, domain.ScheduleCompleted, domain.ScheduleActive)
}

// SetState moves a schedule to state if it is currently in one of from.
func (s *ScheduleStore) SetState(ctx context.Context, id int64, state domain.ScheduleState, from ...domain.ScheduleState) (bool, error) {
	return s.transition(ctx, id, state, from...)
}

func (s *ScheduleStore) transition(ctx context.Context, id int64, to domain.ScheduleState, from ...domain.ScheduleState) (bool, error) {
	states := make([]string, len(from))
	for i, st := range from {
		states[i] = string(st)
	}

	res, err := GetExecutor(ctx, s.db).ExecContext(ctx, `
		UPDATE announcement_schedules
		SET state = $2, updated_at = NOW()
		WHERE id = $1 AND state = ANY($3)`,
		id, to, pq.Array(states),
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

func (s *ScheduleStore) IncrementCompleted(ctx context.Context, id int64) error {
	_, err := GetExecutor(ctx, s.db).ExecContext(ctx, `
		UPDATE announcement_schedules
		SET completed_firings = completed_firings + 1, updated_at = NOW()
		WHERE id = $1`,
		id,
	)
	return err
}
