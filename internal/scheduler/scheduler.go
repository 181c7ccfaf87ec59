// Package scheduler runs the daily renewal jobs using robfig/cron.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"subtrack/internal/logger"
	"subtrack/internal/services"
)

// jobTimeout bounds one scheduled run.
const jobTimeout = 30 * time.Minute

// RunResult summarises one run of the daily jobs.
type RunResult struct {
	RolledOver int                      `json:"rolled_over"`
	Alerts     *services.DispatchResult `json:"alerts"`
}

// Scheduler advances past-due renewals and dispatches renewal alerts on a
// cron schedule. Runs never overlap.
type Scheduler struct {
	cron   *cron.Cron
	spec   string
	subs   services.SubscriptionServicer
	alerts services.AlertServicer
	now    func() time.Time
	log    *zap.SugaredLogger
	mu     sync.Mutex
}

// New creates a scheduler for the given 5-field cron spec, evaluated in UTC.
func New(spec string, subs services.SubscriptionServicer, alerts services.AlertServicer) *Scheduler {
	log := logger.Named("scheduler")
	cl := cronLogger{log}
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	return &Scheduler{
		cron:   c,
		spec:   spec,
		subs:   subs,
		alerts: alerts,
		now:    time.Now,
		log:    log,
	}
}

// Start registers the daily job and starts the cron loop.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.spec, s.scheduledRun); err != nil {
		return fmt.Errorf("invalid alert schedule %q: %w", s.spec, err)
	}
	s.cron.Start()
	s.log.Infow("cron scheduler started", "spec", s.spec, "jobs", len(s.cron.Entries()))
	return nil
}

// Stop stops the cron loop. The returned context is done once a running
// job has finished.
func (s *Scheduler) Stop() context.Context {
	s.log.Info("cron scheduler stopping")
	return s.cron.Stop()
}

func (s *Scheduler) scheduledRun() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()
	if _, err := s.RunNow(ctx); err != nil {
		s.log.Errorw("scheduled run failed", "error", err)
	}
}

// RunNow rolls renewals forward and then dispatches due alerts. Concurrent
// callers wait for the run in progress.
func (s *Scheduler) RunNow(ctx context.Context) (*RunResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	rolled, err := s.subs.RollOverRenewals(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("rolling over renewals: %w", err)
	}
	dispatched, err := s.alerts.Dispatch(ctx, now)
	if err != nil {
		return &RunResult{RolledOver: rolled}, fmt.Errorf("dispatching alerts: %w", err)
	}
	return &RunResult{RolledOver: rolled, Alerts: dispatched}, nil
}

// cronLogger adapts the zap logger to cron.Logger.
type cronLogger struct {
	log *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Errorw(msg, append(keysAndValues, "error", err)...)
}
