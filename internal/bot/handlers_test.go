package bot

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"countdownbot/internal/catalog"
	"countdownbot/internal/notifier"
	"countdownbot/internal/ratelimit"
	"countdownbot/internal/storage"
	"countdownbot/internal/subscription"
	kit "countdownbot/internal/transport"
	"countdownbot/internal/transport/telegram/router"
	logx "countdownbot/pkg/logx"
	"countdownbot/pkg/tgui"
)

type captureAdapter struct {
	mu    sync.Mutex
	texts []string
	edits []string
}

func (c *captureAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (c *captureAdapter) Stop(context.Context) error                     { return nil }

func (c *captureAdapter) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.texts = append(c.texts, text)
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(c.texts)}, nil
}

func (c *captureAdapter) EditText(_ context.Context, _ kit.MessageRef, text string, _ *kit.SendOptions) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.edits = append(c.edits, text)
	return nil
}

func (c *captureAdapter) AnswerCallback(context.Context, string, string) error { return nil }

func (c *captureAdapter) sent() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.texts...)
}

func (c *captureAdapter) edited() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.edits...)
}

// waitFor polls until cond is true or the deadline expires.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatal("condition not reached in time")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func newTestDeps(t *testing.T) (Deps, *captureAdapter) {
	t.Helper()
	st, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "bot.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	ad := &captureAdapter{}
	nt := notifier.New(notifier.Config{Workers: 1, QueueSize: 64, RatePerSec: 1000}, ad, logx.Nop())
	nt.Start(context.Background())
	t.Cleanup(func() { nt.Stop(context.Background()) })

	d := Deps{
		Catalog:  catalog.NewService(st, logx.Nop()),
		Subs:     subscription.NewService(st, logx.Nop()),
		Limiter:  ratelimit.New(st, 5*time.Minute, logx.Nop()),
		Notifier: nt,
		Adapter:  ad,
		Log:      logx.Nop(),
	}
	d.Engine = subscription.NewEngine(d.Subs, d.Deliver, 5*time.Minute, logx.Nop())
	return d, ad
}

func request(chatID int64, argText string, group bool) *router.Request {
	args := []string{}
	if argText != "" {
		args = strings.Fields(argText)
	}
	return &router.Request{
		Chat:    kit.ChatTarget{ChatID: chatID},
		FromID:  chatID,
		IsGroup: group,
		Args:    args,
		ArgText: argText,
		Logger:  logx.Nop(),
	}
}

func TestSubscribeVariants(t *testing.T) {
	t.Parallel()
	d, ad := newTestDeps(t)
	ctx := context.Background()

	if err := d.handleSubscribe(ctx, request(1, "09:30", false)); err != nil {
		t.Fatal(err)
	}
	if err := d.handleSubscribe(ctx, request(2, "halb zehn", false)); err != nil {
		t.Fatal(err)
	}
	if err := d.handleSubscribe(ctx, request(3, "", false)); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return len(ad.sent()) == 3 })

	sent := ad.sent()
	if !strings.Contains(sent[0], "09:30:00") {
		t.Fatalf("explicit time reply: %q", sent[0])
	}
	if !strings.Contains(sent[1], "Uhrzeit konnte nicht gelesen werden") {
		t.Fatalf("fallback reply: %q", sent[1])
	}
	if !strings.Contains(sent[2], "06:00 Uhr(UTC) erfolgreich") {
		t.Fatalf("default reply: %q", sent[2])
	}

	subs, err := d.Subs.All(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(subs) != 3 {
		t.Fatalf("subscriptions: %+v", subs)
	}
	if subs[0].Time != (subscription.TimeOfDay{Hour: 9, Minute: 30}) ||
		subs[1].Time != subscription.DefaultTime ||
		subs[2].Time != subscription.DefaultTime {
		t.Fatalf("stored times: %+v", subs)
	}
}

func TestAddAkademie(t *testing.T) {
	t.Parallel()
	d, ad := newTestDeps(t)
	ctx := context.Background()

	if err := d.handleAdd(ctx, request(1, "SommerAkademie;Die große Aka;2026-08-01", false)); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return len(ad.sent()) >= 2 })
	sent := ad.sent()
	if !strings.Contains(sent[0], "hinzugefügt") {
		t.Fatalf("confirmation: %q", sent[0])
	}
	if !strings.Contains(sent[1], "01.08.2026") {
		t.Fatalf("list after add: %q", sent[1])
	}

	// Duplicate name is rejected.
	if err := d.handleAdd(ctx, request(1, "SommerAkademie", false)); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return len(ad.sent()) >= 3 })
	if got := ad.sent()[2]; !strings.Contains(got, "existiert bereits") {
		t.Fatalf("duplicate reply: %q", got)
	}

	// Missing arguments yields the usage text.
	if err := d.handleAdd(ctx, request(1, "", false)); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return len(ad.sent()) >= 4 })
	if got := ad.sent()[3]; !strings.Contains(got, "Syntax") {
		t.Fatalf("usage reply: %q", got)
	}
}

func TestEditAkademie(t *testing.T) {
	t.Parallel()
	d, ad := newTestDeps(t)
	ctx := context.Background()

	if err := d.Catalog.Create(ctx, "Aka", "alt", "2026-01-01"); err != nil {
		t.Fatal(err)
	}

	// Too few semicolons is a parse error.
	if err := d.handleEdit(ctx, request(1, "Aka; NeuerName", false)); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return len(ad.sent()) >= 1 })
	if got := ad.sent()[0]; !strings.Contains(got, "Fehler") {
		t.Fatalf("parse error reply: %q", got)
	}

	// Empty fields keep stored values.
	if err := d.handleEdit(ctx, request(1, "Aka;;neue Beschreibung;", false)); err != nil {
		t.Fatal(err)
	}
	got, err := d.Catalog.Get(ctx, "Aka")
	if err != nil {
		t.Fatal(err)
	}
	if got.Description != "neue Beschreibung" || got.Date == nil {
		t.Fatalf("partial edit: %+v", got)
	}

	// Unknown event gets a user-visible message, not silence.
	if err := d.handleEdit(ctx, request(1, "Fehlt;;;", false)); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool {
		for _, s := range ad.sent() {
			if s == catalog.MsgNoMatch {
				return true
			}
		}
		return false
	})
}

func TestDeleteCallback(t *testing.T) {
	t.Parallel()
	d, ad := newTestDeps(t)
	ctx := context.Background()

	if err := d.Catalog.Create(ctx, "WinterAka", "", ""); err != nil {
		t.Fatal(err)
	}

	req := request(1, "", false)
	req.Update = kit.Update{Kind: kit.UpdateCallback, Callback: &kit.Callback{
		ID: "cb", ChatID: 1, MessageID: 7,
	}}
	payload := mustPack(t, "WinterAka")
	if err := d.handleDeleteCallback(ctx, req, payload); err != nil {
		t.Fatal(err)
	}
	edits := ad.edited()
	if len(edits) != 1 || !strings.Contains(edits[0], "gelöscht") {
		t.Fatalf("edit after delete: %v", edits)
	}
	if _, err := d.Catalog.Get(ctx, "WinterAka"); err == nil {
		t.Fatal("event still present")
	}

	// Deleting again reports not-found via message edit.
	if err := d.handleDeleteCallback(ctx, req, payload); err != nil {
		t.Fatal(err)
	}
	edits = ad.edited()
	if len(edits) != 2 || edits[1] != catalog.MsgNoMatch {
		t.Fatalf("not-found edit: %v", edits)
	}
}

func TestListEmptyCatalog(t *testing.T) {
	t.Parallel()
	d, ad := newTestDeps(t)

	if err := d.handleList(context.Background(), request(1, "", false)); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return len(ad.sent()) == 1 })
	if got := ad.sent()[0]; got != catalog.MsgNoEvents {
		t.Fatalf("empty list reply: %q", got)
	}
}

func TestListingRateLimitedInGroups(t *testing.T) {
	t.Parallel()
	d, ad := newTestDeps(t)
	ctx := context.Background()

	if err := d.handleList(ctx, request(-10, "", true)); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return len(ad.sent()) == 1 })
	// A second listing inside the window is swallowed.
	if err := d.handleCountdown(ctx, request(-10, "", true)); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)
	if got := len(ad.sent()); got != 1 {
		t.Fatalf("group spam not suppressed: %d messages", got)
	}
	// /start and /help are never rate limited.
	if err := d.handleStart(ctx, request(-10, "", true)); err != nil {
		t.Fatal(err)
	}
	if err := d.handleHelp(ctx, request(-10, "", true)); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return len(ad.sent()) == 3 })
}

func TestRegistryAccess(t *testing.T) {
	t.Parallel()
	d, _ := newTestDeps(t)
	cmds, _ := Registry(d)

	adminOnly := map[string]bool{
		"add_akademie":    true,
		"delete_akademie": true,
		"edit_akademie":   true,
	}
	for _, c := range cmds {
		want := router.AccessEveryone
		if adminOnly[c.Name] {
			want = router.AccessAdminOnly
		}
		if c.Access != want {
			t.Fatalf("/%s access = %v, want %v", c.Name, c.Access, want)
		}
	}
}

func mustPack(t *testing.T, v any) string {
	t.Helper()
	s, err := tgui.PackJSON(v)
	if err != nil {
		t.Fatal(err)
	}
	return s
}
