package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

var (
	ErrTickInProgress = errors.New("tick already in progress")
	ErrTickLocked     = errors.New("tick held by another instance")
)

// tickGate keeps a processor single-flight. The atomic flag covers this
// process; the optional locker covers other replicas.
type tickGate struct {
	name    string
	running atomic.Bool
	locker  Locker
	ttl     time.Duration
	logger  *slog.Logger
}

func newTickGate(name string, locker Locker, ttl time.Duration, logger *slog.Logger) *tickGate {
	return &tickGate{
		name:   name,
		locker: locker,
		ttl:    ttl,
		logger: logger,
	}
}

func (g *tickGate) key() string {
	return "announcer:tick:" + g.name
}

// enter claims the gate. The returned func must be called to release it.
func (g *tickGate) enter(ctx context.Context) (func(), error) {
	if !g.running.CompareAndSwap(false, true) {
		return nil, ErrTickInProgress
	}

	if g.locker != nil {
		ok, err := g.locker.Acquire(ctx, g.key(), g.ttl)
		if err != nil {
			g.running.Store(false)
			return nil, fmt.Errorf("acquire tick lock: %w", err)
		}
		if !ok {
			g.running.Store(false)
			return nil, ErrTickLocked
		}
	}

	return func() {
		if g.locker != nil {
			if err := g.locker.Release(context.WithoutCancel(ctx), g.key()); err != nil {
				g.logger.Warn("release tick lock", "key", g.key(), "error", err)
			}
		}
		g.running.Store(false)
	}, nil
}

// IsSkip reports whether err means a tick was skipped rather than failed.
func IsSkip(err error) bool {
	return errors.Is(err, ErrTickInProgress) || errors.Is(err, ErrTickLocked)
}
