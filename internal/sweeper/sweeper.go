// Package sweeper owns the timer that completes idle sessions.
package sweeper

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultInterval is how often open sessions are checked for inactivity.
const DefaultInterval = 60 * time.Second

// Target is what the sweeper drives. canvass.Service satisfies it.
type Target interface {
	SweepInactive(ctx context.Context) (int, error)
}

// Sweeper periodically completes sessions that went idle.
type Sweeper struct {
	mu       sync.RWMutex
	target   Target
	interval time.Duration
	logger   *slog.Logger
	cancel   context.CancelFunc
	done     chan struct{}
}

func New(target Target, interval time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Sweeper{
		target:   target,
		interval: interval,
		logger:   logger.With("component", "sweeper"),
	}
}

// Start begins the sweep loop. The first sweep runs after one interval.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	s.mu.Unlock()

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Tick(ctx)
			}
		}
	}()
}

// Stop halts the loop and waits for an in-flight sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.RLock()
	cancel := s.cancel
	done := s.done
	s.mu.RUnlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// Tick runs one sweep and logs the outcome.
func (s *Sweeper) Tick(ctx context.Context) int {
	n, err := s.target.SweepInactive(ctx)
	if err != nil {
		s.logger.Error("sweep inactive sessions", "error", err, "completed", n)
		return n
	}
	if n > 0 {
		s.logger.Info("completed inactive sessions", "count", n)
	}
	return n
}
