package pool

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/entrhq/browserpool/pkg/session"
)

// Default sweeper timings.
const (
	DefaultSweepInterval = time.Minute
	DefaultIdleTimeout   = 5 * time.Minute
)

// Sweeper periodically asks the session manager to close browsers that have
// been idle past the threshold. It holds no other logic and owns no state
// beyond its timer; stop it before tearing down the manager at shutdown.
type Sweeper struct {
	manager     *session.Manager
	interval    time.Duration
	idleTimeout time.Duration
	log         *zap.Logger

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	wg      sync.WaitGroup
}

// SweeperOption configures a Sweeper.
type SweeperOption func(*Sweeper)

// WithSweeperLogger sets the sweeper's logger.
func WithSweeperLogger(log *zap.Logger) SweeperOption {
	return func(s *Sweeper) { s.log = log }
}

// NewSweeper creates a sweeper over the given manager. Non-positive
// durations fall back to the defaults.
func NewSweeper(manager *session.Manager, interval, idleTimeout time.Duration, opts ...SweeperOption) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	s := &Sweeper{
		manager:     manager,
		interval:    interval,
		idleTimeout: idleTimeout,
		log:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start begins periodic sweeping. Starting a running sweeper is a no-op.
func (s *Sweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}
	s.running = true
	s.stop = make(chan struct{})

	s.wg.Add(1)
	go s.run(s.stop)

	s.log.Debug("sweeper started",
		zap.Duration("interval", s.interval),
		zap.Duration("idle_timeout", s.idleTimeout))
}

// Stop halts sweeping and waits for any in-flight sweep to finish. Safe to
// call multiple times and on a sweeper that was never started.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stop)
	s.mu.Unlock()

	s.wg.Wait()
	s.log.Debug("sweeper stopped")
}

func (s *Sweeper) run(stop chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if n := s.manager.Sweep(context.Background(), s.idleTimeout); n > 0 {
				s.log.Info("sweep closed idle browsers", zap.Int("closed", n))
			}
		}
	}
}
