package subscription

import (
	"context"
	"sync"
	"time"

	logx "countdownbot/pkg/logx"
)

// Lister supplies the current subscriptions for a delivery pass.
type Lister interface {
	All(ctx context.Context) ([]Subscription, error)
}

// DeliverFunc sends one subscription's countdown message. Returning an
// error marks that delivery failed; the pass continues with the rest.
type DeliverFunc func(ctx context.Context, chatID int64, at TimeOfDay) error

// Engine decides which subscriptions are due and hands them to deliver.
//
// Each subscription has one occurrence per day: its time of day placed on
// the current date (or the previous date, when that time is still ahead of
// now). A periodic pass delivers occurrences that fall inside the window
// since the previous pass AND are no older than maxAge; the freshness bound
// keeps a process that was down for hours from flooding old messages on
// startup, because the checkpoint is not persisted.
type Engine struct {
	subs    Lister
	deliver DeliverFunc
	log     logx.Logger

	mu          sync.Mutex
	lastChecked time.Time
	maxAge      time.Duration
}

func NewEngine(subs Lister, deliver DeliverFunc, maxAge time.Duration, log logx.Logger) *Engine {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Engine{subs: subs, deliver: deliver, maxAge: maxAge, log: log}
}

// SetMaxAge adjusts the freshness bound; d <= 0 means unbounded.
func (e *Engine) SetMaxAge(d time.Duration) {
	e.mu.Lock()
	e.maxAge = d
	e.mu.Unlock()
}

// RunPeriodic evaluates the window (lastChecked, now]. The checkpoint is
// advanced to now before evaluating, so consecutive passes see contiguous,
// non-overlapping windows and each occurrence is delivered at most once.
func (e *Engine) RunPeriodic(ctx context.Context, now time.Time) error {
	now = now.UTC()
	e.mu.Lock()
	start := e.lastChecked
	e.lastChecked = now
	maxAge := e.maxAge
	e.mu.Unlock()
	return e.run(ctx, now, start, true, maxAge)
}

// RunAll delivers every subscription regardless of window or age. It does
// not touch the periodic checkpoint, so a forced send can duplicate the
// next periodic delivery.
func (e *Engine) RunAll(ctx context.Context, now time.Time) error {
	return e.run(ctx, now.UTC(), time.Time{}, false, 0)
}

func (e *Engine) run(ctx context.Context, now, start time.Time, windowed bool, maxAge time.Duration) error {
	subs, err := e.subs.All(ctx)
	if err != nil {
		return err
	}

	var sent, failed int
	for _, s := range subs {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		occ := s.Time.At(now)
		if occ.After(now) {
			occ = occ.AddDate(0, 0, -1)
		}
		if windowed && !(occ.After(start) && !occ.After(now)) {
			continue
		}
		if maxAge > 0 && now.Sub(occ) > maxAge {
			continue
		}

		e.log.Debug("delivering subscription",
			logx.Int64("chat_id", s.ChatID), logx.String("time", s.Time.String()))
		if err := e.deliver(ctx, s.ChatID, s.Time); err != nil {
			failed++
			e.log.Warn("subscription delivery failed",
				logx.Int64("chat_id", s.ChatID), logx.Err(err))
			continue
		}
		sent++
	}
	if sent > 0 || failed > 0 {
		e.log.Info("delivery pass done",
			logx.Int("sent", sent), logx.Int("failed", failed), logx.Bool("windowed", windowed))
	}
	return nil
}
