// Package schedule drives the periodic delivery pass on a fixed cadence.
package schedule

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "countdownbot/pkg/logx"
)

// Runner is the periodic work the scheduler triggers.
type Runner interface {
	RunPeriodic(ctx context.Context, now time.Time) error
}

// Service runs the delivery pass every interval. The interval can be
// changed at runtime via SetInterval.
type Service struct {
	run Runner
	log logx.Logger

	mu       sync.Mutex
	cron     *cron.Cron
	entry    cron.EntryID
	interval time.Duration
	ctx      context.Context
}

func New(run Runner, interval time.Duration, log logx.Logger) *Service {
	if interval <= 0 {
		interval = time.Minute
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{run: run, interval: interval, log: log}
}

func (s *Service) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return nil
	}
	s.ctx = ctx
	s.cron = cron.New(cron.WithChain(
		cron.Recover(cronLogger{s.log}),
	))
	id, err := s.cron.AddFunc(everySpec(s.interval), s.tick)
	if err != nil {
		s.cron = nil
		return err
	}
	s.entry = id
	s.cron.Start()
	s.log.Info("delivery schedule started", logx.Duration("interval", s.interval))
	return nil
}

func (s *Service) tick() {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}
	if err := s.run.RunPeriodic(ctx, time.Now()); err != nil {
		s.log.Warn("delivery pass failed", logx.Err(err))
	}
}

// SetInterval reschedules the delivery pass. A no-op when unchanged.
func (s *Service) SetInterval(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("delivery interval must be positive, got %v", d)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if d == s.interval {
		return nil
	}
	if s.cron == nil {
		s.interval = d
		return nil
	}
	id, err := s.cron.AddFunc(everySpec(d), s.tick)
	if err != nil {
		return err
	}
	s.cron.Remove(s.entry)
	s.entry = id
	s.interval = d
	s.log.Info("delivery schedule updated", logx.Duration("interval", d))
	return nil
}

// Stop halts scheduling and waits for a running pass, bounded by ctx.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	done := c.Stop().Done()
	if ctx == nil {
		<-done
		return
	}
	select {
	case <-done:
	case <-ctx.Done():
	}
}

func everySpec(d time.Duration) string {
	return fmt.Sprintf("@every %s", d)
}

// cronLogger adapts logx to cron's logging interface; only errors from
// recovered panics are surfaced.
type cronLogger struct {
	log logx.Logger
}

func (c cronLogger) Info(string, ...any) {}

func (c cronLogger) Error(err error, msg string, _ ...any) {
	c.log.Error("cron: "+msg, logx.Err(err))
}
