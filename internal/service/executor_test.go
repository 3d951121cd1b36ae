package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"announce_scheduler/internal/domain"
	"announce_scheduler/internal/service/mocks"
)

type QueueExecutorTestSuite struct {
	suite.Suite
	ctrl *gomock.Controller

	queue     *mocks.MockQueueStore
	schedules *mocks.MockScheduleStore
	history   *mocks.MockHistoryStore
	txManager *mocks.MockTransactionManager
	player    *mocks.MockPlayer
	publisher *mocks.MockPublisher

	executor *QueueExecutor
	now      time.Time
}

func (s *QueueExecutorTestSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())

	s.queue = mocks.NewMockQueueStore(s.ctrl)
	s.schedules = mocks.NewMockScheduleStore(s.ctrl)
	s.history = mocks.NewMockHistoryStore(s.ctrl)
	s.txManager = mocks.NewMockTransactionManager(s.ctrl)
	s.player = mocks.NewMockPlayer(s.ctrl)
	s.publisher = mocks.NewMockPublisher(s.ctrl)

	s.now = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	s.executor = NewQueueExecutor(
		s.queue,
		s.schedules,
		s.history,
		s.txManager,
		s.player,
		s.publisher,
		nil,
		testLogger(),
		testSchedulerConfig(),
	)
	s.executor.now = func() time.Time { return s.now }

	s.txManager.EXPECT().WithTransaction(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, fn func(context.Context) error) error {
			return fn(ctx)
		},
	).AnyTimes()
}

func (s *QueueExecutorTestSuite) TearDownTest() {
	s.ctrl.Finish()
}

func TestQueueExecutorTestSuite(t *testing.T) {
	suite.Run(t, new(QueueExecutorTestSuite))
}

func (s *QueueExecutorTestSuite) delivery(id int64, scheduleID *int64, priority domain.Priority) domain.Delivery {
	return domain.Delivery{
		QueueEntry: domain.QueueEntry{
			ID:             id,
			AnnouncementID: 10,
			ScheduleID:     scheduleID,
			Priority:       priority,
			OrgID:          3,
			State:          domain.QueuePending,
			ScheduledFor:   s.now.Add(-5 * time.Second),
		},
		Content:      "Attenzione",
		CleanContent: "Attenzione",
	}
}

func (s *QueueExecutorTestSuite) TestExecute_Success() {
	ctx := context.Background()
	scheduleID := int64(7)
	d := s.delivery(1, &scheduleID, domain.PriorityMedium)

	s.queue.EXPECT().ListReady(ctx, s.now, 10).Return([]domain.Delivery{d}, nil)

	gomock.InOrder(
		s.queue.EXPECT().MarkPlaying(ctx, int64(1)).Return(true, nil),
		s.player.EXPECT().Play(gomock.Any(), gomock.Any()).Return(nil),
		s.queue.EXPECT().MarkCompleted(gomock.Any(), int64(1), s.now).Return(nil),
		s.history.EXPECT().Insert(gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ context.Context, r *domain.HistoryRecord) (int64, error) {
				s.Equal(domain.OutcomeSuccess, r.Outcome)
				s.Require().NotNil(r.QueueID)
				s.Equal(int64(1), *r.QueueID)
				s.Equal(int64(3), r.OrgID)
				s.Equal(&scheduleID, r.ScheduleID)
				return 1, nil
			},
		),
		s.schedules.EXPECT().IncrementCompleted(gomock.Any(), int64(7)).Return(nil),
		s.publisher.EXPECT().Publish(gomock.Any(), gomock.Any()).Return(nil),
	)

	stats, err := s.executor.Execute(ctx)

	s.NoError(err)
	s.Equal(1, stats.Selected)
	s.Equal(1, stats.Completed)
	s.Equal(0, stats.Failed)
}

func (s *QueueExecutorTestSuite) TestExecute_ManualEntrySkipsScheduleCounter() {
	ctx := context.Background()
	d := s.delivery(2, nil, domain.PriorityHigh)

	s.queue.EXPECT().ListReady(ctx, s.now, 10).Return([]domain.Delivery{d}, nil)
	s.queue.EXPECT().MarkPlaying(ctx, int64(2)).Return(true, nil)
	s.player.EXPECT().Play(gomock.Any(), gomock.Any()).Return(nil)
	s.queue.EXPECT().MarkCompleted(gomock.Any(), int64(2), s.now).Return(nil)
	s.history.EXPECT().Insert(gomock.Any(), gomock.Any()).Return(int64(1), nil)
	s.publisher.EXPECT().Publish(gomock.Any(), gomock.Any()).Return(nil)

	stats, err := s.executor.Execute(ctx)

	s.NoError(err)
	s.Equal(1, stats.Completed)
}

func (s *QueueExecutorTestSuite) TestExecute_PlaybackFailureMarksFailed() {
	ctx := context.Background()
	scheduleID := int64(7)
	d := s.delivery(1, &scheduleID, domain.PriorityMedium)

	s.queue.EXPECT().ListReady(ctx, s.now, 10).Return([]domain.Delivery{d}, nil)
	s.queue.EXPECT().MarkPlaying(ctx, int64(1)).Return(true, nil)
	s.player.EXPECT().Play(gomock.Any(), gomock.Any()).Return(errors.New("speaker offline"))
	s.queue.EXPECT().MarkFailed(gomock.Any(), int64(1)).Return(nil)
	s.history.EXPECT().Insert(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, r *domain.HistoryRecord) (int64, error) {
			s.Equal(domain.OutcomeFailed, r.Outcome)
			return 1, nil
		},
	)
	s.publisher.EXPECT().Publish(gomock.Any(), gomock.Any()).Return(nil)

	stats, err := s.executor.Execute(ctx)

	s.NoError(err)
	s.Equal(0, stats.Completed)
	s.Equal(1, stats.Failed)
}

func (s *QueueExecutorTestSuite) TestExecute_HistoryFailureMarksFailed() {
	ctx := context.Background()
	d := s.delivery(1, nil, domain.PriorityMedium)

	s.queue.EXPECT().ListReady(ctx, s.now, 10).Return([]domain.Delivery{d}, nil)
	s.queue.EXPECT().MarkPlaying(ctx, int64(1)).Return(true, nil)
	s.player.EXPECT().Play(gomock.Any(), gomock.Any()).Return(nil)
	s.queue.EXPECT().MarkCompleted(gomock.Any(), int64(1), s.now).Return(nil)
	s.history.EXPECT().Insert(gomock.Any(), gomock.Any()).Return(int64(0), errors.New("disk full"))
	s.queue.EXPECT().MarkFailed(gomock.Any(), int64(1)).Return(nil)
	s.history.EXPECT().Insert(gomock.Any(), gomock.Any()).Return(int64(2), nil)
	s.publisher.EXPECT().Publish(gomock.Any(), gomock.Any()).Return(nil)

	stats, err := s.executor.Execute(ctx)

	s.NoError(err)
	s.Equal(1, stats.Failed)
}

func (s *QueueExecutorTestSuite) TestExecute_SkipsEntryNoLongerPending() {
	ctx := context.Background()
	d := s.delivery(1, nil, domain.PriorityMedium)

	s.queue.EXPECT().ListReady(ctx, s.now, 10).Return([]domain.Delivery{d}, nil)
	s.queue.EXPECT().MarkPlaying(ctx, int64(1)).Return(false, nil)

	stats, err := s.executor.Execute(ctx)

	s.NoError(err)
	s.Equal(1, stats.Skipped)
	s.Equal(0, stats.Completed)
}

func (s *QueueExecutorTestSuite) TestExecute_PublishErrorIsNotAFailure() {
	ctx := context.Background()
	d := s.delivery(1, nil, domain.PriorityMedium)

	s.queue.EXPECT().ListReady(ctx, s.now, 10).Return([]domain.Delivery{d}, nil)
	s.queue.EXPECT().MarkPlaying(ctx, int64(1)).Return(true, nil)
	s.player.EXPECT().Play(gomock.Any(), gomock.Any()).Return(nil)
	s.queue.EXPECT().MarkCompleted(gomock.Any(), int64(1), s.now).Return(nil)
	s.history.EXPECT().Insert(gomock.Any(), gomock.Any()).Return(int64(1), nil)
	s.publisher.EXPECT().Publish(gomock.Any(), gomock.Any()).Return(errors.New("channel closed"))

	stats, err := s.executor.Execute(ctx)

	s.NoError(err)
	s.Equal(1, stats.Completed)
	s.Equal(0, stats.Failed)
}

func (s *QueueExecutorTestSuite) TestExecute_ListErrorAbortsTick() {
	ctx := context.Background()
	s.queue.EXPECT().ListReady(ctx, s.now, 10).Return(nil, errors.New("connection refused"))

	stats, err := s.executor.Execute(ctx)

	s.Error(err)
	s.Nil(stats)
}

func (s *QueueExecutorTestSuite) TestExecute_PlaysInPriorityOrder() {
	ctx := context.Background()
	medium := s.delivery(1, nil, domain.PriorityMedium)
	urgent := s.delivery(2, nil, domain.PriorityUrgent)
	low := s.delivery(3, nil, domain.PriorityLow)

	s.queue.EXPECT().ListReady(ctx, s.now, 10).Return([]domain.Delivery{medium, urgent, low}, nil)
	s.queue.EXPECT().MarkPlaying(ctx, gomock.Any()).Return(true, nil).Times(3)
	s.queue.EXPECT().MarkCompleted(gomock.Any(), gomock.Any(), s.now).Return(nil).Times(3)
	s.history.EXPECT().Insert(gomock.Any(), gomock.Any()).Return(int64(1), nil).Times(3)
	s.publisher.EXPECT().Publish(gomock.Any(), gomock.Any()).Return(nil).Times(3)

	var order []int64
	s.player.EXPECT().Play(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, d *domain.Delivery) error {
			order = append(order, d.ID)
			return nil
		},
	).Times(3)

	_, err := s.executor.Execute(ctx)

	s.NoError(err)
	s.Equal([]int64{2, 1, 3}, order)
}

func TestQueueExecutor_PlaybackTimeout(t *testing.T) {
	store := newMemStore()
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	a := store.addAnnouncement(1, domain.PriorityMedium)
	e := store.addEntry(a, nil, domain.PriorityMedium, now)

	cfg := testSchedulerConfig()
	cfg.Playback.Timeout = 20 * time.Millisecond

	executor := NewQueueExecutor(store, store, store, store, blockingPlayer{}, nil, nil, testLogger(), cfg)
	executor.now = func() time.Time { return now }

	stats, err := executor.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 0, stats.Cancelled)

	entries := store.entries()
	require.Len(t, entries, 1)
	assert.Equal(t, e.ID, entries[0].ID)
	assert.Equal(t, domain.QueueFailed, entries[0].State)

	records := store.records()
	require.Len(t, records, 1)
	assert.Equal(t, domain.OutcomeFailed, records[0].Outcome)
}

func TestQueueExecutor_ShutdownMidPlayRecordsCancelled(t *testing.T) {
	store := newMemStore()
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	a := store.addAnnouncement(1, domain.PriorityMedium)
	sched := store.addSchedule(a, recurrenceJSON(15, now, now.Add(time.Hour)))
	e := store.addEntry(a, &sched.ID, domain.PriorityMedium, now)

	cfg := testSchedulerConfig()
	cfg.Playback.Timeout = 0

	executor := NewQueueExecutor(store, store, store, store, blockingPlayer{}, nil, nil, testLogger(), cfg)
	executor.now = func() time.Time { return now }

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	stats, err := executor.Execute(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Cancelled)
	assert.Equal(t, 0, stats.Failed)

	assert.Equal(t, domain.QueueFailed, store.entry(e.ID).State)
	assert.Equal(t, int64(0), store.schedule(sched.ID).CompletedFirings)

	records := store.records()
	require.Len(t, records, 1)
	assert.Equal(t, domain.OutcomeCancelled, records[0].Outcome)
}

func TestQueueExecutor_FinishedPlaybackSurvivesShutdown(t *testing.T) {
	store := newMemStore()
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	a := store.addAnnouncement(1, domain.PriorityMedium)
	sched := store.addSchedule(a, recurrenceJSON(15, now, now.Add(time.Hour)))
	e := store.addEntry(a, &sched.ID, domain.PriorityMedium, now)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	executor := NewQueueExecutor(store, store, store, store, cancellingPlayer{cancel: cancel}, nil, nil, testLogger(), testSchedulerConfig())
	executor.now = func() time.Time { return now }

	stats, err := executor.Execute(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Completed)
	assert.Equal(t, 0, stats.Failed)
	assert.Equal(t, 0, stats.Cancelled)

	assert.Equal(t, domain.QueueCompleted, store.entry(e.ID).State)
	assert.Equal(t, int64(1), store.schedule(sched.ID).CompletedFirings)

	records := store.records()
	require.Len(t, records, 1)
	assert.Equal(t, domain.OutcomeSuccess, records[0].Outcome)
}

// cancellingPlayer finishes playback and then the tick is cancelled.
type cancellingPlayer struct {
	cancel context.CancelFunc
}

func (p cancellingPlayer) Play(context.Context, *domain.Delivery) error {
	p.cancel()
	return nil
}

type blockingPlayer struct{}

func (blockingPlayer) Play(ctx context.Context, _ *domain.Delivery) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestQueueExecutor_PriorityScenario(t *testing.T) {
	store := newMemStore()
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	a := store.addAnnouncement(1, domain.PriorityMedium)

	medium := store.addEntry(a, nil, domain.PriorityMedium, now.Add(-5*time.Second))
	urgent := store.addEntry(a, nil, domain.PriorityUrgent, now.Add(-5*time.Second))
	low := store.addEntry(a, nil, domain.PriorityLow, now.Add(-5*time.Second))
	high := store.addEntry(a, nil, domain.PriorityHigh, now.Add(-5*time.Second))
	earlierLow := store.addEntry(a, nil, domain.PriorityLow, now.Add(-time.Minute))

	player := &recordingPlayer{}
	executor := NewQueueExecutor(store, store, store, store, player, nil, nil, testLogger(), testSchedulerConfig())
	executor.now = func() time.Time { return now }

	stats, err := executor.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, stats.Completed)
	assert.Equal(t, []int64{urgent.ID, high.ID, medium.ID, earlierLow.ID, low.ID}, player.order())
}

func TestQueueExecutor_TerminalStatesAreFinal(t *testing.T) {
	store := newMemStore()
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	a := store.addAnnouncement(1, domain.PriorityMedium)
	sched := store.addSchedule(a, recurrenceJSON(15, now, now.Add(time.Hour)))

	ok := store.addEntry(a, &sched.ID, domain.PriorityMedium, now)
	bad := store.addEntry(a, &sched.ID, domain.PriorityMedium, now)

	player := &recordingPlayer{failOn: map[int64]bool{bad.ID: true}}
	executor := NewQueueExecutor(store, store, store, store, player, nil, nil, testLogger(), testSchedulerConfig())
	executor.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		_, err := executor.Execute(context.Background())
		require.NoError(t, err)
	}

	assert.Len(t, player.order(), 2, "terminal entries must not be replayed")

	states := map[int64]domain.QueueState{}
	for _, e := range store.entries() {
		states[e.ID] = e.State
	}
	assert.Equal(t, domain.QueueCompleted, states[ok.ID])
	assert.Equal(t, domain.QueueFailed, states[bad.ID])

	assert.Equal(t, int64(1), store.schedule(sched.ID).CompletedFirings)

	records := store.records()
	require.Len(t, records, 2)
	assert.Equal(t, domain.OutcomeSuccess, records[0].Outcome)
	assert.Equal(t, domain.OutcomeFailed, records[1].Outcome)
}

func TestQueueExecutor_SkipsWhileRunning(t *testing.T) {
	store := newMemStore()
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	a := store.addAnnouncement(1, domain.PriorityMedium)
	store.addEntry(a, nil, domain.PriorityMedium, now)

	player := &gatedPlayer{entered: make(chan struct{}), release: make(chan struct{})}
	executor := NewQueueExecutor(store, store, store, store, player, nil, nil, testLogger(), testSchedulerConfig())
	executor.now = func() time.Time { return now }

	done := make(chan error, 1)
	go func() {
		_, err := executor.Execute(context.Background())
		done <- err
	}()

	<-player.entered
	_, err := executor.Execute(context.Background())
	assert.ErrorIs(t, err, ErrTickInProgress)

	close(player.release)
	require.NoError(t, <-done)
}

type gatedPlayer struct {
	entered chan struct{}
	release chan struct{}
}

func (p *gatedPlayer) Play(ctx context.Context, _ *domain.Delivery) error {
	close(p.entered)
	<-p.release
	return nil
}
