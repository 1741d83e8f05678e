package revocation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler drives ScanAndRevoke on two triggers: a daily cron expression
// (the primary sweep) and a shorter interval safety net so a missed cron
// window never leaves expired grants live for a full day.
type Scheduler struct {
	cron   *cron.Cron
	svc    *Service
	logger *slog.Logger

	spec     string
	interval time.Duration
}

// NewScheduler creates the sweep scheduler. spec is a standard 5-field cron
// expression; interval is the safety-net period between full sweeps.
func NewScheduler(svc *Service, spec string, interval time.Duration, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cron:     cron.New(),
		svc:      svc,
		logger:   logger,
		spec:     spec,
		interval: interval,
	}
}

// Start registers both triggers and starts the cron runner.
func (s *Scheduler) Start(ctx context.Context) error {
	run := func() {
		if _, err := s.svc.ScanAndRevoke(context.Background()); err != nil {
			s.logger.Error("scheduled expiration sweep failed", "error", err)
		}
	}
	if _, err := s.cron.AddFunc(s.spec, run); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", s.spec, err)
	}
	if s.interval > 0 {
		if _, err := s.cron.AddFunc(fmt.Sprintf("@every %s", s.interval), run); err != nil {
			return fmt.Errorf("invalid sweep interval %s: %w", s.interval, err)
		}
	}
	s.cron.Start()
	s.logger.Info("revocation scheduler started", "schedule", s.spec, "interval", s.interval.String())

	// Sweep once immediately: grants that lapsed while the service was down
	// must not stay live until the first trigger fires.
	if _, err := s.svc.ScanAndRevoke(ctx); err != nil {
		s.logger.Error("startup expiration sweep failed", "error", err)
	}
	return nil
}

// Stop stops the cron runner and waits for an in-flight sweep to finish.
func (s *Scheduler) Stop() {
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	s.logger.Info("revocation scheduler stopped")
}
