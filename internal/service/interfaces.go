package service

//go:generate mockgen -source=interfaces.go -destination=mocks/mocks.go -package=mocks

import (
	"context"
	"time"

	"announce_scheduler/internal/domain"
)

type AnnouncementStore interface {
	Create(ctx context.Context, a *domain.Announcement) (int64, error)
	GetByID(ctx context.Context, id int64) (*domain.Announcement, error)
	ListByOrg(ctx context.Context, orgID int64) ([]domain.Announcement, error)
	SetAudioURL(ctx context.Context, id int64, url string) error
}

type ScheduleStore interface {
	Create(ctx context.Context, sched *domain.Schedule, rec domain.Recurrence) (int64, error)
	GetByID(ctx context.Context, id int64) (*domain.Schedule, error)
	ListActive(ctx context.Context) ([]domain.Schedule, error)
	Advance(ctx context.Context, id int64, rec domain.Recurrence) error
	Complete(ctx context.Context, id int64) (bool, error)
	SetState(ctx context.Context, id int64, state domain.ScheduleState, from ...domain.ScheduleState) (bool, error)
	IncrementCompleted(ctx context.Context, id int64) error
}

type QueueStore interface {
	HasPendingInWindow(ctx context.Context, announcementID, scheduleID int64, from, to time.Time) (bool, error)
	Enqueue(ctx context.Context, e *domain.QueueEntry) (int64, error)
	ListReady(ctx context.Context, now time.Time, limit int) ([]domain.Delivery, error)
	ListPending(ctx context.Context, orgID int64, limit int) ([]domain.Delivery, error)
	MarkPlaying(ctx context.Context, id int64) (bool, error)
	MarkCompleted(ctx context.Context, id int64, executedAt time.Time) error
	MarkFailed(ctx context.Context, id int64) error
}

type HistoryStore interface {
	Insert(ctx context.Context, r *domain.HistoryRecord) (int64, error)
	ListByOrg(ctx context.Context, orgID int64, limit int) ([]domain.HistoryRecord, error)
	Delete(ctx context.Context, id int64) error
}

type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// Player performs the audible delivery of a queue entry.
type Player interface {
	Play(ctx context.Context, d *domain.Delivery) error
}

type Publisher interface {
	Publish(ctx context.Context, record *domain.HistoryRecord) error
	Close() error
}

// Locker guards a tick across replicas. Acquire reports false when another
// holder owns the key.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

type Synthesizer interface {
	Synthesize(ctx context.Context, req domain.SpeechRequest) (*domain.SpeechResult, error)
}
