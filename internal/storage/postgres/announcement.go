package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"announce_scheduler/internal/domain"
)

const announcementColumns = `id, content, clean_content, speaker, speed, pitch, audio_path, audio_url,
	kind, priority, org_id, created_by, created_at, updated_at`

type AnnouncementStore struct {
	db *sqlx.DB
}

func NewAnnouncementStore(db *sqlx.DB) *AnnouncementStore {
	return &AnnouncementStore{db: db}
}

func (s *AnnouncementStore) Create(ctx context.Context, a *domain.Announcement) (int64, error) {
	query := `
		INSERT INTO announcements (
			content, clean_content, speaker, speed, pitch, audio_path,
			kind, priority, org_id, created_by
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10
		)
		RETURNING id, created_at, updated_at`

	err := GetExecutor(ctx, s.db).QueryRowxContext(ctx, query,
		a.Content,
		a.CleanContent,
		a.Speaker,
		a.Speed,
		a.Pitch,
		a.AudioPath,
		a.Kind,
		a.Priority,
		a.OrgID,
		a.CreatedBy,
	).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return 0, err
	}
	return a.ID, nil
}

func (s *AnnouncementStore) GetByID(ctx context.Context, id int64) (*domain.Announcement, error) {
	var a domain.Announcement
	query := `SELECT ` + announcementColumns + ` FROM announcements WHERE id = $1`

	err := sqlx.GetContext(ctx, GetExecutor(ctx, s.db), &a, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("announcement %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *AnnouncementStore) ListByOrg(ctx context.Context, orgID int64) ([]domain.Announcement, error) {
	query := `SELECT ` + announcementColumns + ` FROM announcements WHERE org_id = $1 ORDER BY created_at DESC`

	var result []domain.Announcement
	err := sqlx.SelectContext(ctx, GetExecutor(ctx, s.db), &result, query, orgID)
	return result, err
}

func (s *AnnouncementStore) SetAudioURL(ctx context.Context, id int64, url string) error {
	res, err := GetExecutor(ctx, s.db).ExecContext(ctx,
		`UPDATE announcements SET audio_url = $2, updated_at = NOW() WHERE id = $1`,
		id, url,
	)
	if err != nil {
		return err
	}

	n, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("announcement %d: %w", id, domain.ErrNotFound)
	}
	return nil
}
