package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"announce_scheduler/internal/domain"
)

const (
	DefaultSpeaker      = "Giulia"
	DefaultWindow       = 2 * time.Hour
	DefaultPendingLimit = 50
	DefaultHistoryLimit = 100
)

var (
	ErrInvalidRequest    = errors.New("invalid request")
	ErrSpeechUnavailable = errors.New("speech synthesis not configured")
)

type AnnouncementRequest struct {
	Content      string
	CleanContent string
	Speaker      string
	Speed        float64
	Pitch        float64
	Priority     domain.Priority
	Kind         domain.AnnouncementKind
	OrgID        int64
	CreatedBy    *int64
}

// ScheduleRequest leaves zero fields to defaults derived from the announcement.
type ScheduleRequest struct {
	Priority           domain.Priority
	RepeatEveryMinutes int
	RepeatUntil        time.Time
}

// AnnouncementService is the authoring side: it creates announcements and
// schedules and exposes the queue and history views.
type AnnouncementService struct {
	announcements AnnouncementStore
	schedules     ScheduleStore
	queue         QueueStore
	history       HistoryStore
	txManager     TransactionManager
	synthesizer   Synthesizer
	logger        *slog.Logger
	now           func() time.Time
}

func NewAnnouncementService(
	announcements AnnouncementStore,
	schedules ScheduleStore,
	queue QueueStore,
	history HistoryStore,
	txManager TransactionManager,
	synthesizer Synthesizer,
	logger *slog.Logger,
) *AnnouncementService {
	return &AnnouncementService{
		announcements: announcements,
		schedules:     schedules,
		queue:         queue,
		history:       history,
		txManager:     txManager,
		synthesizer:   synthesizer,
		logger:        logger,
		now:           time.Now,
	}
}

func (s *AnnouncementService) CreateAnnouncement(ctx context.Context, req AnnouncementRequest) (*domain.Announcement, error) {
	a, err := buildAnnouncement(req)
	if err != nil {
		return nil, err
	}

	if _, err := s.announcements.Create(ctx, a); err != nil {
		return nil, fmt.Errorf("create announcement: %w", err)
	}

	s.logger.Info("announcement created", "announcement_id", a.ID, "org_id", a.OrgID, "priority", a.Priority)
	return a, nil
}

func (s *AnnouncementService) CreateSchedule(ctx context.Context, announcementID int64, req ScheduleRequest) (*domain.Schedule, error) {
	a, err := s.announcements.GetByID(ctx, announcementID)
	if err != nil {
		return nil, fmt.Errorf("get announcement: %w", err)
	}
	return s.createSchedule(ctx, a, req)
}

// Announce creates an announcement and its schedule atomically.
func (s *AnnouncementService) Announce(ctx context.Context, areq AnnouncementRequest, sreq ScheduleRequest) (*domain.Announcement, *domain.Schedule, error) {
	a, err := buildAnnouncement(areq)
	if err != nil {
		return nil, nil, err
	}

	var sched *domain.Schedule
	err = s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if _, err := s.announcements.Create(txCtx, a); err != nil {
			return fmt.Errorf("create announcement: %w", err)
		}

		var err error
		sched, err = s.createSchedule(txCtx, a, sreq)
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	return a, sched, nil
}

func (s *AnnouncementService) createSchedule(ctx context.Context, a *domain.Announcement, req ScheduleRequest) (*domain.Schedule, error) {
	now := s.now()

	priority := req.Priority
	if priority == "" {
		priority = a.Priority
	}
	if !priority.Valid() {
		return nil, fmt.Errorf("%w: unknown priority %q", ErrInvalidRequest, priority)
	}
	if req.RepeatEveryMinutes < 0 {
		return nil, fmt.Errorf("%w: negative interval", ErrInvalidRequest)
	}

	rec := domain.Recurrence{
		RepeatEveryMinutes: req.RepeatEveryMinutes,
		RepeatUntil:        req.RepeatUntil,
		NextExecution:      now,
	}
	if rec.RepeatEveryMinutes == 0 {
		rec.RepeatEveryMinutes = priority.DefaultRepeatEvery()
	}
	if rec.RepeatUntil.IsZero() {
		rec.RepeatUntil = now.Add(DefaultWindow)
	}
	if !rec.RepeatUntil.After(now) {
		return nil, fmt.Errorf("%w: repeat_until %s already elapsed", ErrInvalidRequest, rec.RepeatUntil.Format(time.RFC3339))
	}

	sched := &domain.Schedule{
		AnnouncementID: a.ID,
		Priority:       priority,
		State:          domain.ScheduleActive,
		OrgID:          a.OrgID,
	}
	if _, err := s.schedules.Create(ctx, sched, rec); err != nil {
		return nil, fmt.Errorf("create schedule: %w", err)
	}

	raw, err := rec.Value()
	if err != nil {
		return nil, err
	}
	sched.Recurrence = domain.RawRecurrence(raw.(string))

	s.logger.Info("schedule created",
		"schedule_id", sched.ID,
		"announcement_id", a.ID,
		"repeat_every_minutes", rec.RepeatEveryMinutes,
		"repeat_until", rec.RepeatUntil,
	)
	return sched, nil
}

func (s *AnnouncementService) PauseSchedule(ctx context.Context, id int64) error {
	return s.transition(ctx, id, domain.SchedulePaused, domain.ScheduleActive)
}

func (s *AnnouncementService) ResumeSchedule(ctx context.Context, id int64) error {
	return s.transition(ctx, id, domain.ScheduleActive, domain.SchedulePaused)
}

func (s *AnnouncementService) CancelSchedule(ctx context.Context, id int64) error {
	return s.transition(ctx, id, domain.ScheduleCancelled, domain.ScheduleActive, domain.SchedulePaused)
}

func (s *AnnouncementService) transition(ctx context.Context, id int64, to domain.ScheduleState, from ...domain.ScheduleState) error {
	ok, err := s.schedules.SetState(ctx, id, to, from...)
	if err != nil {
		return fmt.Errorf("set schedule state: %w", err)
	}
	if !ok {
		sched, err := s.schedules.GetByID(ctx, id)
		if err != nil {
			return err
		}
		return fmt.Errorf("schedule %d is %s, cannot become %s: %w", id, sched.State, to, domain.ErrStateConflict)
	}

	s.logger.Info("schedule state changed", "schedule_id", id, "state", to)
	return nil
}

// GenerateAudio synthesizes the announcement's speech text and stores the
// resulting audio URL on it.
func (s *AnnouncementService) GenerateAudio(ctx context.Context, announcementID int64) (*domain.SpeechResult, error) {
	if s.synthesizer == nil {
		return nil, ErrSpeechUnavailable
	}

	a, err := s.announcements.GetByID(ctx, announcementID)
	if err != nil {
		return nil, fmt.Errorf("get announcement: %w", err)
	}

	result, err := s.synthesizer.Synthesize(ctx, domain.SpeechRequest{
		Text:    a.SpeechText(),
		Speaker: a.Speaker,
		Speed:   a.Speed,
		Pitch:   a.Pitch,
	})
	if err != nil {
		return nil, fmt.Errorf("synthesize: %w", err)
	}

	if err := s.announcements.SetAudioURL(ctx, a.ID, result.AudioURL); err != nil {
		return nil, fmt.Errorf("store audio url: %w", err)
	}

	s.logger.Info("audio generated", "announcement_id", a.ID, "duration", result.Duration)
	return result, nil
}

func (s *AnnouncementService) Announcements(ctx context.Context, orgID int64) ([]domain.Announcement, error) {
	return s.announcements.ListByOrg(ctx, orgID)
}

func (s *AnnouncementService) PendingQueue(ctx context.Context, orgID int64, limit int) ([]domain.Delivery, error) {
	if limit <= 0 {
		limit = DefaultPendingLimit
	}
	return s.queue.ListPending(ctx, orgID, limit)
}

func (s *AnnouncementService) History(ctx context.Context, orgID int64, limit int) ([]domain.HistoryRecord, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return s.history.ListByOrg(ctx, orgID, limit)
}

func (s *AnnouncementService) DeleteHistory(ctx context.Context, id int64) error {
	return s.history.Delete(ctx, id)
}

func buildAnnouncement(req AnnouncementRequest) (*domain.Announcement, error) {
	content := strings.TrimSpace(req.Content)
	if content == "" {
		return nil, fmt.Errorf("%w: content is required", ErrInvalidRequest)
	}

	a := &domain.Announcement{
		Content:      content,
		CleanContent: strings.TrimSpace(req.CleanContent),
		Speaker:      req.Speaker,
		Speed:        req.Speed,
		Pitch:        req.Pitch,
		Kind:         req.Kind,
		Priority:     req.Priority,
		OrgID:        req.OrgID,
		CreatedBy:    req.CreatedBy,
	}
	if a.CleanContent == "" {
		a.CleanContent = content
	}
	if a.Speaker == "" {
		a.Speaker = DefaultSpeaker
	}
	if a.Speed == 0 {
		a.Speed = 1.0
	}
	if a.Pitch == 0 {
		a.Pitch = 1.0
	}
	if a.Kind == "" {
		a.Kind = domain.KindText
	}
	if a.Priority == "" {
		a.Priority = domain.PriorityMedium
	}
	if !a.Priority.Valid() {
		return nil, fmt.Errorf("%w: unknown priority %q", ErrInvalidRequest, a.Priority)
	}
	return a, nil
}
