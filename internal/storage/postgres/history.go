package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"announce_scheduler/internal/domain"
)

type HistoryStore struct {
	db *sqlx.DB
}

func NewHistoryStore(db *sqlx.DB) *HistoryStore {
	return &HistoryStore{db: db}
}

func (s *HistoryStore) Insert(ctx context.Context, r *domain.HistoryRecord) (int64, error) {
	query := `
		INSERT INTO announcement_history (
			queue_id, announcement_id, schedule_id, org_id, priority,
			executed_at, audio_url, duration_seconds, outcome
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9
		)
		RETURNING id`

	err := GetExecutor(ctx, s.db).QueryRowxContext(ctx, query,
		r.QueueID,
		r.AnnouncementID,
		r.ScheduleID,
		r.OrgID,
		r.Priority,
		r.ExecutedAt,
		r.AudioURL,
		r.DurationSeconds,
		r.Outcome,
	).Scan(&r.ID)
	if err != nil {
		return 0, err
	}
	return r.ID, nil
}

// ListByOrg returns the newest records of an organization first.
func (s *HistoryStore) ListByOrg(ctx context.Context, orgID int64, limit int) ([]domain.HistoryRecord, error) {
	query := `
		SELECT id, queue_id, announcement_id, schedule_id, org_id, priority,
			executed_at, audio_url, duration_seconds, outcome
		FROM announcement_history
		WHERE org_id = $1
		ORDER BY executed_at DESC, id DESC
		LIMIT $2`

	var result []domain.HistoryRecord
	err := sqlx.SelectContext(ctx, GetExecutor(ctx, s.db), &result, query, orgID, limit)
	return result, err
}

func (s *HistoryStore) Delete(ctx context.Context, id int64) error {
	res, err := GetExecutor(ctx, s.db).ExecContext(ctx, `DELETE FROM announcement_history WHERE id = $1`, id)
	if err != nil {
		return err
	}

	n, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("history record %d: %w", id, domain.ErrNotFound)
	}
	return nil
}
