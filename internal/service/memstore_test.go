package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"announce_scheduler/internal/domain"
)

// memStore is an in-memory stand-in for the postgres stores. ListReady
// returns entries in insertion order so callers must order them.
type memStore struct {
	mu            sync.Mutex
	nextID        int64
	announcements map[int64]*domain.Announcement
	schedules     map[int64]*domain.Schedule
	queue         []*domain.QueueEntry
	history       []domain.HistoryRecord

	listErr error
}

func newMemStore() *memStore {
	return &memStore{
		announcements: make(map[int64]*domain.Announcement),
		schedules:     make(map[int64]*domain.Schedule),
	}
}

func (m *memStore) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *memStore) addAnnouncement(orgID int64, priority domain.Priority) *domain.Announcement {
	m.mu.Lock()
	defer m.mu.Unlock()
	a := &domain.Announcement{
		ID:           m.id(),
		Content:      "announcement",
		CleanContent: "announcement",
		Priority:     priority,
		OrgID:        orgID,
	}
	m.announcements[a.ID] = a
	return a
}

func (m *memStore) addSchedule(a *domain.Announcement, raw []byte) *domain.Schedule {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := &domain.Schedule{
		ID:             m.id(),
		AnnouncementID: a.ID,
		Priority:       a.Priority,
		Recurrence:     domain.RawRecurrence(raw),
		State:          domain.ScheduleActive,
		OrgID:          a.OrgID,
	}
	m.schedules[s.ID] = s
	return s
}

func (m *memStore) addEntry(a *domain.Announcement, scheduleID *int64, priority domain.Priority, at time.Time) *domain.QueueEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := &domain.QueueEntry{
		ID:             m.id(),
		AnnouncementID: a.ID,
		ScheduleID:     scheduleID,
		Priority:       priority,
		OrgID:          a.OrgID,
		State:          domain.QueuePending,
		ScheduledFor:   at,
	}
	m.queue = append(m.queue, e)
	return e
}

func (m *memStore) schedule(id int64) domain.Schedule {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.schedules[id]
}

func (m *memStore) entries() []domain.QueueEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.QueueEntry, len(m.queue))
	for i, e := range m.queue {
		out[i] = *e
	}
	return out
}

func (m *memStore) records() []domain.HistoryRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.HistoryRecord(nil), m.history...)
}

func (m *memStore) entry(id int64) *domain.QueueEntry {
	for _, e := range m.queue {
		if e.ID == id {
			return e
		}
	}
	return nil
}

// TransactionManager

func (m *memStore) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(ctx)
}

// ScheduleStore

func (m *memStore) Create(ctx context.Context, sched *domain.Schedule, rec domain.Recurrence) (int64, error) {
	raw, err := rec.Value()
	if err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	sched.ID = m.id()
	stored := *sched
	stored.Recurrence = domain.RawRecurrence(raw.(string))
	m.schedules[sched.ID] = &stored
	return sched.ID, nil
}

func (m *memStore) GetByID(ctx context.Context, id int64) (*domain.Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.schedules[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *memStore) ListActive(ctx context.Context) ([]domain.Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []domain.Schedule
	for _, s := range m.schedules {
		if s.State == domain.ScheduleActive {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) Advance(ctx context.Context, id int64, rec domain.Recurrence) error {
	raw, err := rec.Value()
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.schedules[id]
	if !ok || s.State != domain.ScheduleActive {
		return domain.ErrStateConflict
	}
	s.Recurrence = domain.RawRecurrence(raw.(string))
	s.TotalFirings++
	return nil
}

func (m *memStore) Complete(ctx context.Context, id int64) (bool, error) {
	return m.SetState(ctx, id, domain.ScheduleCompleted, domain.ScheduleActive)
}

func (m *memStore) SetState(ctx context.Context, id int64, state domain.ScheduleState, from ...domain.ScheduleState) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.schedules[id]
	if !ok {
		return false, nil
	}
	for _, f := range from {
		if s.State == f {
			s.State = state
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) IncrementCompleted(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.schedules[id]
	if !ok {
		return domain.ErrNotFound
	}
	s.CompletedFirings++
	return nil
}

// QueueStore

func (m *memStore) HasPendingInWindow(ctx context.Context, announcementID, scheduleID int64, from, to time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.queue {
		if e.AnnouncementID != announcementID || e.ScheduleID == nil || *e.ScheduleID != scheduleID {
			continue
		}
		if e.State == domain.QueuePending && !e.ScheduledFor.Before(from) && !e.ScheduledFor.After(to) {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) Enqueue(ctx context.Context, e *domain.QueueEntry) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.ID = m.id()
	e.State = domain.QueuePending
	cp := *e
	m.queue = append(m.queue, &cp)
	return e.ID, nil
}

func (m *memStore) ListReady(ctx context.Context, now time.Time, limit int) ([]domain.Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Delivery
	for _, e := range m.queue {
		if e.State == domain.QueuePending && !e.ScheduledFor.After(now) {
			out = append(out, m.delivery(e))
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) ListPending(ctx context.Context, orgID int64, limit int) ([]domain.Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Delivery
	for _, e := range m.queue {
		if e.OrgID == orgID && e.State == domain.QueuePending {
			out = append(out, m.delivery(e))
		}
	}
	domain.SortDeliveries(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) delivery(e *domain.QueueEntry) domain.Delivery {
	d := domain.Delivery{QueueEntry: *e}
	if a, ok := m.announcements[e.AnnouncementID]; ok {
		d.Content = a.Content
		d.CleanContent = a.CleanContent
		d.AudioURL = a.AudioURL
	}
	return d
}

func (m *memStore) MarkPlaying(ctx context.Context, id int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.entry(id)
	if e == nil || e.State != domain.QueuePending {
		return false, nil
	}
	e.State = domain.QueuePlaying
	return true, nil
}

func (m *memStore) MarkCompleted(ctx context.Context, id int64, executedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.entry(id)
	if e == nil || e.State != domain.QueuePlaying {
		return domain.ErrStateConflict
	}
	e.State = domain.QueueCompleted
	e.ExecutedAt = &executedAt
	return nil
}

func (m *memStore) MarkFailed(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.entry(id)
	if e != nil && !e.State.Terminal() {
		e.State = domain.QueueFailed
	}
	return nil
}

// HistoryStore

func (m *memStore) Insert(ctx context.Context, r *domain.HistoryRecord) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r.ID = m.id()
	m.history = append(m.history, *r)
	return r.ID, nil
}

func (m *memStore) ListByOrg(ctx context.Context, orgID int64, limit int) ([]domain.HistoryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.HistoryRecord
	for i := len(m.history) - 1; i >= 0 && len(out) < limit; i-- {
		if m.history[i].OrgID == orgID {
			out = append(out, m.history[i])
		}
	}
	return out, nil
}

func (m *memStore) Delete(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, r := range m.history {
		if r.ID == id {
			m.history = append(m.history[:i], m.history[i+1:]...)
			return nil
		}
	}
	return domain.ErrNotFound
}

// recordingPlayer remembers the order of deliveries and fails the ones
// listed in failOn.
type recordingPlayer struct {
	mu     sync.Mutex
	played []int64
	failOn map[int64]bool
}

func (p *recordingPlayer) Play(ctx context.Context, d *domain.Delivery) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.played = append(p.played, d.ID)
	if p.failOn[d.ID] {
		return errors.New("speaker offline")
	}
	return nil
}

func (p *recordingPlayer) order() []int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]int64(nil), p.played...)
}
