// Package scheduler runs the periodic rescoring passes. When an Elector is
// configured only the instance holding the leader lock rescans documents.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"forumkarma/internal/config"
	"forumkarma/internal/services"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Rescorer is the pass the scheduler drives
type Rescorer interface {
	Run(ctx context.Context, opts services.RescoreOptions) (*services.RescoreResult, error)
}

// Scheduler owns the cron loop for the active and inactive passes
type Scheduler struct {
	cron     *cron.Cron
	rescorer Rescorer
	elector  Elector
	timeout  time.Duration
	logger   *zap.Logger

	mu      sync.Mutex
	leading bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// New registers both passes. A nil elector makes this instance always lead.
func New(rescorer Rescorer, cfg config.SchedulerConfig, elector Elector, logger *zap.Logger) (*Scheduler, error) {
	if rescorer == nil {
		return nil, fmt.Errorf("rescorer is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Scheduler{
		rescorer: rescorer,
		elector:  elector,
		timeout:  cfg.LeaderLockTTL,
		logger:   logger,
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	cronLogger := &zapCronLogger{logger: logger.Named("cron")}
	s.cron = cron.New(
		cron.WithLogger(cronLogger),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)

	passes := []struct {
		spec string
		opts services.RescoreOptions
	}{
		{spec: cfg.ActiveSpec, opts: services.RescoreOptions{Inactive: false}},
		{spec: cfg.InactiveSpec, opts: services.RescoreOptions{Inactive: true}},
	}
	for _, p := range passes {
		opts := p.opts
		if _, err := s.cron.AddFunc(p.spec, func() { s.RunPass(s.ctx, opts) }); err != nil {
			return nil, fmt.Errorf("invalid %s rescore schedule %q: %w", opts.Pass(), p.spec, err)
		}
	}

	return s, nil
}

// Start launches the cron loop
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("Rescore scheduler started", zap.Int("jobs", len(s.cron.Entries())))
}

// Stop waits for a running pass, then releases the lease
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()

	select {
	case <-done.Done():
	case <-ctx.Done():
		s.cancel()
		return fmt.Errorf("scheduler stop: %w", ctx.Err())
	}
	s.cancel()

	s.mu.Lock()
	leading := s.leading
	s.leading = false
	s.mu.Unlock()

	if leading && s.elector != nil {
		if err := s.elector.Release(ctx); err != nil {
			return err
		}
		s.logger.Info("Released rescorer leadership")
	}

	s.logger.Info("Rescore scheduler stopped")
	return nil
}

// Run starts the scheduler and blocks until ctx is done
func (s *Scheduler) Run(ctx context.Context, gracefulTimeout time.Duration) error {
	s.Start()
	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), gracefulTimeout)
	defer cancel()
	return s.Stop(stopCtx)
}

// RunPass executes one pass if this instance leads. Errors are logged; the
// next tick retries.
func (s *Scheduler) RunPass(ctx context.Context, opts services.RescoreOptions) {
	if !s.ensureLeader(ctx) {
		s.logger.Debug("Skipping rescore pass, not leader", zap.String("pass", opts.Pass()))
		return
	}

	if s.timeout > 0 && !opts.Inactive {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	if _, err := s.rescorer.Run(ctx, opts); err != nil {
		s.logger.Error("Scheduled rescore failed", zap.String("pass", opts.Pass()), zap.Error(err))
	}
}

// IsLeader reports whether the last election check won
func (s *Scheduler) IsLeader() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.elector == nil || s.leading
}

func (s *Scheduler) ensureLeader(ctx context.Context) bool {
	if s.elector == nil {
		return true
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.leading {
		err := s.elector.Renew(ctx)
		if err == nil {
			return true
		}
		s.logger.Warn("Lost rescorer leadership", zap.Error(err))
		s.leading = false
	}

	acquired, err := s.elector.TryAcquire(ctx)
	if err != nil {
		s.logger.Error("Leader election failed", zap.Error(err))
		return false
	}
	if acquired {
		s.logger.Info("Acquired rescorer leadership")
	}
	s.leading = acquired
	return acquired
}

// zapCronLogger adapts zap to cron.Logger
type zapCronLogger struct {
	logger *zap.Logger
}

func (l *zapCronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Debugw(msg, keysAndValues...)
}

func (l *zapCronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
