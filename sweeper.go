package venueauth

import (
	"context"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Sweeper periodically deletes expired and blacklisted token records.
type Sweeper struct {
	engine   *Engine
	interval time.Duration
	logger   *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSweeper returns a Sweeper running every Config.Token.CleanupInterval.
func NewSweeper(e *Engine) *Sweeper {
	return &Sweeper{
		engine:   e,
		interval: e.config.Token.CleanupInterval,
		logger:   e.logger.With(zap.String("module", "sweeper")),
	}
}

// Start launches the sweep loop. It runs until ctx is cancelled or Stop is
// called. Calling Start on a running Sweeper does nothing.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.loop(ctx, s.done)
}

// Stop cancels the loop and waits for an in-flight sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// RunOnce performs a single sweep and returns how many records were deleted.
func (s *Sweeper) RunOnce(ctx context.Context) (int64, error) {
	if err := s.engine.ready(); err != nil {
		return 0, err
	}

	n, err := s.engine.tokens.CleanupExpiredAndBlacklisted(ctx)
	if err != nil {
		s.logger.Error("token cleanup failed", zap.Error(err))
		s.engine.emitAudit(ctx, auditEventTokenCleanup, false, "", err, nil)
		return 0, err
	}

	s.logger.Info("token cleanup finished", zap.Int64("deleted", n))
	if n > 0 {
		s.engine.emitAudit(ctx, auditEventTokenCleanup, true, "", nil, func() map[string]string {
			return map[string]string{"deleted": strconv.FormatInt(n, 10)}
		})
	}
	return n, nil
}

func (s *Sweeper) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = s.RunOnce(ctx)
		}
	}
}
