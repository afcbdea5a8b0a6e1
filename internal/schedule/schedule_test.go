package schedule

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	logx "countdownbot/pkg/logx"
)

type countingRunner struct {
	n atomic.Int64
}

func (r *countingRunner) RunPeriodic(context.Context, time.Time) error {
	r.n.Add(1)
	return nil
}

func TestStartTicksPeriodically(t *testing.T) {
	t.Parallel()
	run := &countingRunner{}
	svc := New(run, 50*time.Millisecond, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := svc.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer svc.Stop(context.Background())

	deadline := time.After(3 * time.Second)
	for run.n.Load() < 2 {
		select {
		case <-deadline:
			t.Fatalf("got %d ticks, want >= 2", run.n.Load())
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestStopEndsTicking(t *testing.T) {
	t.Parallel()
	run := &countingRunner{}
	svc := New(run, 20*time.Millisecond, logx.Nop())
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	svc.Stop(context.Background())

	before := run.n.Load()
	time.Sleep(100 * time.Millisecond)
	if after := run.n.Load(); after != before {
		t.Fatalf("ticks after stop: %d -> %d", before, after)
	}
}

func TestSetIntervalValidation(t *testing.T) {
	t.Parallel()
	svc := New(&countingRunner{}, time.Minute, logx.Nop())
	if err := svc.SetInterval(0); err == nil {
		t.Fatal("zero interval accepted")
	}
	if err := svc.SetInterval(30 * time.Second); err != nil {
		t.Fatalf("set interval before start: %v", err)
	}
}
