package notifier

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	kit "countdownbot/internal/transport"
	logx "countdownbot/pkg/logx"
)

type fakeAdapter struct {
	mu       sync.Mutex
	sent     []string
	failLeft int
}

func (f *fakeAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (f *fakeAdapter) Stop(context.Context) error                     { return nil }

func (f *fakeAdapter) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failLeft > 0 {
		f.failLeft--
		return kit.MessageRef{}, errors.New("telegram unavailable")
	}
	f.sent = append(f.sent, text)
	return kit.MessageRef{ChatID: to.ChatID, MessageID: 1}, nil
}

func (f *fakeAdapter) EditText(context.Context, kit.MessageRef, string, *kit.SendOptions) error {
	return nil
}
func (f *fakeAdapter) AnswerCallback(context.Context, string, string) error { return nil }

func (f *fakeAdapter) sentTexts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func notification(chatID int64, text string) kit.Notification {
	return kit.Notification{Target: kit.ChatTarget{ChatID: chatID}, Text: text}
}

func TestNotifyDeliversQueued(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{}
	svc := New(Config{Workers: 2, QueueSize: 16, RatePerSec: 100}, ad, logx.Nop())
	svc.Start(context.Background())
	defer svc.Stop(context.Background())

	for i := 0; i < 5; i++ {
		if err := svc.Notify(context.Background(), notification(1, "hallo")); err != nil {
			t.Fatalf("notify: %v", err)
		}
	}

	deadline := time.After(3 * time.Second)
	for len(ad.sentTexts()) < 5 {
		select {
		case <-deadline:
			t.Fatalf("sent %d of 5", len(ad.sentTexts()))
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestNotifyRetriesThenSucceeds(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{failLeft: 2}
	svc := New(Config{
		Workers: 1, QueueSize: 4, RatePerSec: 100,
		RetryMax: 3, RetryBase: 5 * time.Millisecond, RetryMaxDelay: 20 * time.Millisecond,
	}, ad, logx.Nop())
	svc.Start(context.Background())
	defer svc.Stop(context.Background())

	if err := svc.Notify(context.Background(), notification(7, "retry me")); err != nil {
		t.Fatalf("notify: %v", err)
	}

	deadline := time.After(3 * time.Second)
	for len(ad.sentTexts()) == 0 {
		select {
		case <-deadline:
			t.Fatal("message never delivered despite retries")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestNotifyAfterStop(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{}
	svc := New(Config{Workers: 1, QueueSize: 4}, ad, logx.Nop())
	svc.Start(context.Background())
	svc.Stop(context.Background())

	if err := svc.Notify(context.Background(), notification(1, "late")); !errors.Is(err, ErrStopped) {
		t.Fatalf("notify after stop: got %v, want ErrStopped", err)
	}
}

func TestStopDrainsQueue(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{}
	svc := New(Config{Workers: 1, QueueSize: 32, RatePerSec: 1000}, ad, logx.Nop())
	svc.Start(context.Background())

	for i := 0; i < 10; i++ {
		_ = svc.Notify(context.Background(), notification(1, "drain"))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	svc.Stop(ctx)

	if got := len(ad.sentTexts()); got != 10 {
		t.Fatalf("drained %d of 10", got)
	}
}
