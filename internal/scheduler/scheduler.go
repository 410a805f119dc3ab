// Package scheduler drives the recurring capture and report jobs off cron
// expressions. Each job has a single running flag: a trigger that fires
// while the previous run is still going is skipped, never queued.
package scheduler

import (
	"context"
	"sync"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Jobs is what the scheduler triggers. The runner fans each trigger out
// across every ready tenant session.
type Jobs interface {
	RunCapture(ctx context.Context)
	RunReport(ctx context.Context)
}

// Scheduler owns the cron instance and the per-job overlap guards.
type Scheduler struct {
	captureCron string
	reportCron  string
	jobs        Jobs
	logger      *zap.Logger

	cron   *cron.Cron
	cancel context.CancelFunc

	mu             sync.Mutex
	captureRunning bool
	reportRunning  bool
}

// New creates a scheduler. Cron expressions are validated at config load;
// Start treats a parse failure here as a programming error.
func New(captureCron, reportCron string, jobs Jobs, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		captureCron: captureCron,
		reportCron:  reportCron,
		jobs:        jobs,
		logger:      logger.Named("scheduler"),
	}
}

// Start registers both jobs and starts the cron loop.
func (s *Scheduler) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.cron = cron.New()

	if _, err := s.cron.AddFunc(s.captureCron, func() {
		s.runCapture(ctx)
	}); err != nil {
		cancel()
		return err
	}
	if _, err := s.cron.AddFunc(s.reportCron, func() {
		s.runReport(ctx)
	}); err != nil {
		cancel()
		return err
	}

	s.cron.Start()
	s.logger.Info("scheduler started",
		zap.String("capture_cron", s.captureCron),
		zap.String("report_cron", s.reportCron))
	return nil
}

// Stop halts the cron loop and cancels in-flight runs. Idempotent.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.cron != nil {
		<-s.cron.Stop().Done()
		s.cron = nil
	}
}

// RunCaptureNow triggers a capture run outside the cron cadence. It shares
// the overlap guard with scheduled runs; returns false if one is already
// in flight.
func (s *Scheduler) RunCaptureNow(ctx context.Context) bool {
	return s.runCapture(ctx)
}

// RunReportNow triggers a report run outside the cron cadence.
func (s *Scheduler) RunReportNow(ctx context.Context) bool {
	return s.runReport(ctx)
}

func (s *Scheduler) runCapture(ctx context.Context) bool {
	s.mu.Lock()
	if s.captureRunning {
		s.mu.Unlock()
		s.logger.Warn("capture trigger skipped, previous run still in flight")
		return false
	}
	s.captureRunning = true
	s.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("capture run panicked", zap.Any("panic", r))
		}
		s.mu.Lock()
		s.captureRunning = false
		s.mu.Unlock()
	}()
	s.jobs.RunCapture(ctx)
	return true
}

func (s *Scheduler) runReport(ctx context.Context) bool {
	s.mu.Lock()
	if s.reportRunning {
		s.mu.Unlock()
		s.logger.Warn("report trigger skipped, previous run still in flight")
		return false
	}
	s.reportRunning = true
	s.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("report run panicked", zap.Any("panic", r))
		}
		s.mu.Lock()
		s.reportRunning = false
		s.mu.Unlock()
	}()
	s.jobs.RunReport(ctx)
	return true
}
