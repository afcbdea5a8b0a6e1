package router

import (
	"context"
	"sync"
	"testing"
	"time"

	kit "countdownbot/internal/transport"
	logx "countdownbot/pkg/logx"
)

type fakeAdapter struct {
	mu      sync.Mutex
	texts   []string
	answers []string
}

func (f *fakeAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (f *fakeAdapter) Stop(context.Context) error                     { return nil }

func (f *fakeAdapter) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	return kit.MessageRef{ChatID: to.ChatID}, nil
}

func (f *fakeAdapter) EditText(context.Context, kit.MessageRef, string, *kit.SendOptions) error {
	return nil
}

func (f *fakeAdapter) AnswerCallback(_ context.Context, id, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers = append(f.answers, text)
	return nil
}

func (f *fakeAdapter) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...)
}

func messageUpdate(chatID, fromID int64, text string, group bool) kit.Update {
	return kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{
		ChatID: chatID, FromID: fromID, Text: text, IsGroup: group,
	}}
}

// dispatch runs a manager loop, feeds updates, and waits for handlers.
func dispatch(t *testing.T, m *Manager, ups ...kit.Update) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	updates := make(chan kit.Update, len(ups))
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.DispatchLoop(ctx, updates)
	}()
	for _, up := range ups {
		updates <- up
	}
	time.Sleep(200 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("dispatch loop did not stop")
	}
}

func TestDispatchRunsHandler(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{}
	m := NewManager(logx.Nop(), ad, nil)

	var mu sync.Mutex
	var gotArgs []string
	var gotText string
	m.SetRegistry([]Command{{
		Name: "countdown",
		Handle: func(_ context.Context, req *Request) error {
			mu.Lock()
			gotArgs = req.Args
			gotText = req.ArgText
			mu.Unlock()
			return nil
		},
	}}, nil)

	dispatch(t, m, messageUpdate(1, 2, "/countdown Sommer Akademie", false))

	mu.Lock()
	defer mu.Unlock()
	if gotText != "Sommer Akademie" || len(gotArgs) != 2 {
		t.Fatalf("args = %v, text = %q", gotArgs, gotText)
	}
}

func TestBotSuffixAndCaseStripped(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{}
	m := NewManager(logx.Nop(), ad, nil)

	var called sync.WaitGroup
	called.Add(1)
	m.SetRegistry([]Command{{
		Name: "list",
		Handle: func(context.Context, *Request) error {
			called.Done()
			return nil
		},
	}}, nil)

	dispatch(t, m, messageUpdate(1, 2, "/List@some_bot", true))

	waitDone := make(chan struct{})
	go func() { called.Wait(); close(waitDone) }()
	select {
	case <-waitDone:
	case <-time.After(time.Second):
		t.Fatal("suffixed command not routed")
	}
}

func TestUnknownCommandReplyOnlyInPrivate(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{}
	m := NewManager(logx.Nop(), ad, nil)
	m.SetRegistry(nil, nil)

	dispatch(t, m,
		messageUpdate(1, 2, "/nope", false),
		messageUpdate(-100, 2, "/nope", true),
		messageUpdate(1, 2, "kein Befehl", false),
	)

	sent := ad.sent()
	if len(sent) != 1 || sent[0] != msgUnknownCommand {
		t.Fatalf("unknown-command replies: %v", sent)
	}
}

func TestAdminOnlyCommandDenied(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{}
	m := NewManager(logx.Nop(), ad, []int64{99})

	var ran sync.Mutex
	count := 0
	m.SetRegistry([]Command{{
		Name:   "add_akademie",
		Access: AccessAdminOnly,
		Handle: func(context.Context, *Request) error {
			ran.Lock()
			count++
			ran.Unlock()
			return nil
		},
	}}, nil)

	dispatch(t, m,
		messageUpdate(1, 2, "/add_akademie X", false),  // denied
		messageUpdate(1, 99, "/add_akademie X", false), // allowed
	)

	ran.Lock()
	defer ran.Unlock()
	if count != 1 {
		t.Fatalf("handler ran %d times, want 1", count)
	}
	sent := ad.sent()
	if len(sent) != 1 || sent[0] != msgUnauthorized {
		t.Fatalf("denial replies: %v", sent)
	}
}

func TestCallbackRouting(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{}
	m := NewManager(logx.Nop(), ad, []int64{99})

	var mu sync.Mutex
	var gotPayload string
	m.SetRegistry(nil, []CallbackRoute{{
		Scope:  "akademie",
		Action: "delete",
		Handle: func(_ context.Context, _ *Request, payload string) error {
			mu.Lock()
			gotPayload = payload
			mu.Unlock()
			return nil
		},
	}})

	cb := func(fromID int64, data string) kit.Update {
		return kit.Update{Kind: kit.UpdateCallback, Callback: &kit.Callback{
			ID: "cb1", FromID: fromID, ChatID: 1, Data: data,
		}}
	}

	// Non-admin pressing an admin-only button gets refused via the
	// callback answer, not a chat message.
	dispatch(t, m, cb(2, "akademie:delete:abc"), cb(99, "akademie:delete:pay:load"))

	mu.Lock()
	defer mu.Unlock()
	if gotPayload != "pay:load" {
		t.Fatalf("payload = %q", gotPayload)
	}
	if len(ad.answers) != 1 {
		t.Fatalf("callback answers: %v", ad.answers)
	}
}

func TestSetAdminsHotReload(t *testing.T) {
	t.Parallel()
	m := NewManager(logx.Nop(), &fakeAdapter{}, []int64{1})
	if !m.IsAdmin(1) || m.IsAdmin(2) {
		t.Fatal("initial admins wrong")
	}
	m.SetAdmins([]int64{2, 3})
	if m.IsAdmin(1) || !m.IsAdmin(2) || !m.IsAdmin(3) {
		t.Fatal("admin reload not applied")
	}
}
