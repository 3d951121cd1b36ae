package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"announce_scheduler/internal/domain"
	"announce_scheduler/internal/service"
)

type Processor interface {
	Process(ctx context.Context) (*domain.ProcessStats, error)
}

type Executor interface {
	Execute(ctx context.Context) (*domain.ExecuteStats, error)
}

type Config struct {
	ProcessSpec string
	ExecuteSpec string
	Timezone    string
	TickTimeout time.Duration
}

// Scheduler drives the schedule processor and the queue executor on their
// own cron entries. Both run once right away.
type Scheduler struct {
	processor Processor
	executor  Executor
	cfg       Config
	parser    cron.Parser
	logger    *slog.Logger

	wg sync.WaitGroup
}

func NewScheduler(processor Processor, executor Executor, cfg Config, logger *slog.Logger) *Scheduler {
	if cfg.TickTimeout <= 0 {
		cfg.TickTimeout = 5 * time.Minute
	}
	return &Scheduler{
		processor: processor,
		executor:  executor,
		cfg:       cfg,
		// SecondOptional allows both 5-field and 6-field (with seconds) specs.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		logger: logger,
	}
}

// Start blocks until ctx is cancelled, then waits for in-flight ticks.
func (s *Scheduler) Start(ctx context.Context) error {
	loc, err := s.location()
	if err != nil {
		return err
	}

	c := cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))

	if _, err := c.AddFunc(s.cfg.ProcessSpec, func() { s.runProcess(ctx) }); err != nil {
		return fmt.Errorf("process spec %q: %w", s.cfg.ProcessSpec, err)
	}
	if _, err := c.AddFunc(s.cfg.ExecuteSpec, func() { s.runExecute(ctx) }); err != nil {
		return fmt.Errorf("execute spec %q: %w", s.cfg.ExecuteSpec, err)
	}

	s.logger.Info("scheduler started",
		"process_spec", s.cfg.ProcessSpec,
		"execute_spec", s.cfg.ExecuteSpec,
		"tz", loc.String(),
	)

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.runProcess(ctx)
	}()
	go func() {
		defer s.wg.Done()
		s.runExecute(ctx)
	}()

	c.Start()

	<-ctx.Done()

	<-c.Stop().Done()
	s.wg.Wait()

	s.logger.Info("scheduler stopped")
	return ctx.Err()
}

func (s *Scheduler) location() (*time.Location, error) {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", tz, err)
	}
	return loc, nil
}

func (s *Scheduler) runProcess(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	tickCtx, cancel := context.WithTimeout(ctx, s.cfg.TickTimeout)
	defer cancel()

	if _, err := s.processor.Process(tickCtx); err != nil {
		s.logTickError("process", err)
	}
}

func (s *Scheduler) runExecute(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	tickCtx, cancel := context.WithTimeout(ctx, s.cfg.TickTimeout)
	defer cancel()

	if _, err := s.executor.Execute(tickCtx); err != nil {
		s.logTickError("execute", err)
	}
}

func (s *Scheduler) logTickError(name string, err error) {
	if service.IsSkip(err) {
		s.logger.Info("tick skipped", "job", name, "reason", err)
		return
	}
	s.logger.Error("tick failed", "job", name, "error", err)
}
