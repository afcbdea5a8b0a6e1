// Package bot wires the user-facing commands to the catalog, subscription,
// and delivery services.
package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"countdownbot/internal/catalog"
	"countdownbot/internal/notifier"
	"countdownbot/internal/ratelimit"
	"countdownbot/internal/subscription"
	kit "countdownbot/internal/transport"
	"countdownbot/internal/transport/telegram/router"
	logx "countdownbot/pkg/logx"
	"countdownbot/pkg/tgui"
)

const (
	msgHello = "Hallo! Ich bin ein Bot, um die Tage bis zur nächsten CdE Akademie zu zählen!"

	msgHelp = "/start - Initialisiere den Bot.\n" +
		"/help - Zeige diese Liste an.\n" +
		"/list - Liste alle gespeicherten Veranstaltungen alphabetisch auf.\n" +
		"/countdown - Erstelle einen Countdown zu allen mit Datum gespeicherten Veranstaltungen. " +
		"Alternativ kann der Name einer Veranstaltung angegeben werden und der Countdown wird nur zu dieser Veranstaltung erstellt.\n" +
		"/subscribe - Abonniere tägliche Countdowns um eine bestimmte Uhrzeit (HH:MM) (UTC).\n" +
		"/unsubscribe - Entferne alle Abonnements für diesen Chat.\n" +
		"/now - Gib die aktuelle Uhrzeit (UTC) aus.\n" +
		"/add_akademie - Füge eine neue Veranstaltung hinzu. (Nur mit Administratorrechten möglich).\n" +
		"/delete_akademie - Lösche eine existierende Veranstaltung. (Nur mit Administratorrechten möglich).\n" +
		"/edit_akademie - Editiere eine existierende Veranstaltung. (Nur mit Administratorrechten möglich).\n"

	msgAddUsage = "Bitte gib einen Namen für die neue Akademie ein. Du kannst außerdem eine Beschreibung " +
		"und ein Startdatum angeben.\nDie Syntax lautet: Name;Beschreibung;Datum(YYYY-MM-DD)"
	msgAddDuplicate = "Es existiert bereits eine Akademie mit diesem Namen!"

	msgEditUsage = "Bitte gib an, welche Akademie du ändern willst.\n" +
		"Die Syntax lautet: /edit_akademie Name; Neuer Name; Neue Beschreibung; Neues Datum. " +
		"Leere Angaben bleiben unverändert."
	msgEditParseError = "Beim Einlesen deiner Änderung ist ein Fehler aufgetreten :(\n" +
		"Wahrscheinlich hast du zu wenige Argumente angegeben."

	msgDeleteChoose = "Wähle eine Akademie aus die gelöscht werden soll"

	msgSubscribedAt      = "Countdownbenachrichtigungen für täglich %s Uhr(UTC) erfolgreich abonniert!"
	msgSubscribedDefault = "Tägliche Benachrichtigungen für 06:00 Uhr(UTC) erfolgreich abonniert!"
	msgSubscribedBadTime = "Uhrzeit konnte nicht gelesen werden. Tägliche Benachrichtigungen wurden für " +
		"06:00 Uhr(UTC) abonniert!"
	msgUnsubscribed = "Alle täglichen Benachrichtigungen für diesen Chat wurden erfolgreich gelöscht!"

	// Prefixed to every delivered subscription message.
	msgSubscriptionPrefix = "Dies ist deine für %s Uhr(UTC) abonnierte Nachricht:\n\n"

	callbackScope = "akademie"
)

// Deps are the services the handlers operate on.
type Deps struct {
	Catalog  *catalog.Service
	Subs     *subscription.Service
	Engine   *subscription.Engine
	Limiter  *ratelimit.Limiter
	Notifier *notifier.Service
	Adapter  kit.Adapter
	Log      logx.Logger
}

// Registry returns the full command and callback tables.
func Registry(d Deps) ([]router.Command, []router.CallbackRoute) {
	cmds := []router.Command{
		{Name: "start", Description: "Initialisiere den Bot", Handle: d.handleStart},
		{Name: "help", Description: "Zeige alle Befehle an", Handle: d.handleHelp},
		{Name: "list", Description: "Liste alle Veranstaltungen auf", Handle: d.handleList},
		{Name: "countdown", Description: "Countdown zu allen Veranstaltungen mit Datum", Handle: d.handleCountdown},
		{Name: "subscribe", Description: "Abonniere tägliche Countdowns", Handle: d.handleSubscribe},
		{Name: "unsubscribe", Description: "Entferne alle Abonnements", Handle: d.handleUnsubscribe},
		{Name: "now", Description: "Aktuelle Uhrzeit (UTC)", Handle: d.handleNow},
		{Name: "add_akademie", Access: router.AccessAdminOnly, Description: "Veranstaltung hinzufügen", Handle: d.handleAdd},
		{Name: "delete_akademie", Access: router.AccessAdminOnly, Description: "Veranstaltung löschen", Handle: d.handleDelete},
		{Name: "edit_akademie", Access: router.AccessAdminOnly, Description: "Veranstaltung ändern", Handle: d.handleEdit},
		{Name: "send_subscriptions", Description: "Alle Abonnements sofort senden", Handle: d.handleSendSubscriptions},
		{Name: "get_subscriptions", Description: "Alle Abonnements anzeigen", Handle: d.handleGetSubscriptions},
	}
	cbs := []router.CallbackRoute{
		{Scope: callbackScope, Action: "delete", Handle: d.handleDeleteCallback},
	}
	return cmds, cbs
}

// Deliver sends one subscription's countdown message; it is the delivery
// engine's send hook.
func (d Deps) Deliver(ctx context.Context, chatID int64, at subscription.TimeOfDay) error {
	events, err := d.Catalog.All(ctx)
	if err != nil {
		return err
	}
	text := catalog.RenderCountdown(events, time.Now().UTC(), "")
	return d.Notifier.Notify(ctx, kit.Notification{
		Target:  kit.ChatTarget{ChatID: chatID},
		Text:    fmt.Sprintf(msgSubscriptionPrefix, at) + text,
		Options: &kit.SendOptions{ParseMode: "HTML"},
	})
}

func (d Deps) reply(ctx context.Context, req *router.Request, text string) error {
	return d.Notifier.Notify(ctx, kit.Notification{Target: req.Chat, Text: text})
}

func (d Deps) replyHTML(ctx context.Context, req *router.Request, text string) error {
	return d.Notifier.Notify(ctx, kit.Notification{
		Target:  req.Chat,
		Text:    text,
		Options: &kit.SendOptions{ParseMode: "HTML", DisablePreview: true},
	})
}

func (d Deps) allowListing(ctx context.Context, req *router.Request) bool {
	return d.Limiter.Allow(ctx, req.Chat.ChatID, req.IsGroup, time.Now().UTC())
}

func (d Deps) handleStart(ctx context.Context, req *router.Request) error {
	return d.reply(ctx, req, msgHello)
}

func (d Deps) handleHelp(ctx context.Context, req *router.Request) error {
	return d.reply(ctx, req, msgHelp)
}

func (d Deps) handleList(ctx context.Context, req *router.Request) error {
	if !d.allowListing(ctx, req) {
		return nil
	}
	return d.sendCurrentList(ctx, req)
}

func (d Deps) handleCountdown(ctx context.Context, req *router.Request) error {
	if !d.allowListing(ctx, req) {
		return nil
	}
	events, err := d.Catalog.All(ctx)
	if err != nil {
		return err
	}
	text := catalog.RenderCountdown(events, time.Now().UTC(), req.ArgText)
	if text == "" {
		return nil
	}
	return d.replyHTML(ctx, req, text)
}

func (d Deps) handleSubscribe(ctx context.Context, req *router.Request) error {
	t := subscription.DefaultTime
	reply := msgSubscribedDefault
	if len(req.Args) > 0 {
		parsed, err := subscription.ParseHourMinute(req.Args[0])
		if err != nil {
			reply = msgSubscribedBadTime
		} else {
			t = parsed
			reply = fmt.Sprintf(msgSubscribedAt, t)
		}
	}
	if _, err := d.Subs.Subscribe(ctx, req.Chat.ChatID, t); err != nil {
		return err
	}
	return d.reply(ctx, req, reply)
}

func (d Deps) handleUnsubscribe(ctx context.Context, req *router.Request) error {
	if _, err := d.Subs.Unsubscribe(ctx, req.Chat.ChatID); err != nil {
		return err
	}
	return d.reply(ctx, req, msgUnsubscribed)
}

func (d Deps) handleNow(ctx context.Context, req *router.Request) error {
	return d.reply(ctx, req, time.Now().UTC().Format("15:04:05"))
}

func (d Deps) handleAdd(ctx context.Context, req *router.Request) error {
	if req.ArgText == "" {
		return d.reply(ctx, req, msgAddUsage)
	}

	name, description, date := splitSemicolon3(req.ArgText)
	switch err := d.Catalog.Create(ctx, name, description, date); {
	case errors.Is(err, catalog.ErrExists):
		return d.reply(ctx, req, msgAddDuplicate)
	case err != nil:
		return err
	}
	if err := d.reply(ctx, req, fmt.Sprintf("Akademie %s hinzugefügt", name)); err != nil {
		return err
	}
	return d.sendCurrentList(ctx, req)
}

func (d Deps) handleDelete(ctx context.Context, req *router.Request) error {
	events, err := d.Catalog.All(ctx)
	if err != nil {
		return err
	}
	kb := tgui.NewInline()
	for _, a := range events {
		payload := tgui.MustPackJSON(a.Name)
		kb.Row(tgui.Btn(a.Name, tgui.Data(callbackScope, "delete", payload)))
	}
	return d.Notifier.Notify(ctx, kit.Notification{
		Target:  req.Chat,
		Text:    msgDeleteChoose,
		Options: &kit.SendOptions{ReplyMarkup: kb.Markup()},
	})
}

func (d Deps) handleDeleteCallback(ctx context.Context, req *router.Request, payload string) error {
	cb := req.Update.Callback
	if cb == nil {
		return nil
	}
	defer func() { _ = d.Adapter.AnswerCallback(ctx, cb.ID, "") }()

	var name string
	if err := tgui.UnpackJSON(payload, &name); err != nil {
		return fmt.Errorf("bad delete payload: %w", err)
	}

	ref := kit.MessageRef{ChatID: cb.ChatID, MessageID: cb.MessageID}
	switch err := d.Catalog.Delete(ctx, name); {
	case errors.Is(err, catalog.ErrNotFound):
		return d.Adapter.EditText(ctx, ref, catalog.MsgNoMatch, nil)
	case err != nil:
		return err
	}
	return d.Adapter.EditText(ctx, ref, fmt.Sprintf("Akademie %s wurde gelöscht", name), nil)
}

func (d Deps) handleEdit(ctx context.Context, req *router.Request) error {
	if req.ArgText == "" {
		return d.reply(ctx, req, msgEditUsage)
	}

	parts := strings.SplitN(req.ArgText, ";", 4)
	if len(parts) < 4 {
		return d.reply(ctx, req, msgEditParseError)
	}
	name := strings.TrimSpace(parts[0])
	upd := catalog.Update{
		Name:        optional(parts[1]),
		Description: optional(parts[2]),
		Date:        optional(parts[3]),
	}
	switch err := d.Catalog.Edit(ctx, name, upd); {
	case errors.Is(err, catalog.ErrNotFound):
		return d.reply(ctx, req, catalog.MsgNoMatch)
	case errors.Is(err, catalog.ErrExists):
		return d.reply(ctx, req, msgAddDuplicate)
	case err != nil:
		return err
	}
	return d.sendCurrentList(ctx, req)
}

func (d Deps) handleSendSubscriptions(ctx context.Context, req *router.Request) error {
	return d.Engine.RunAll(ctx, time.Now().UTC())
}

func (d Deps) handleGetSubscriptions(ctx context.Context, req *router.Request) error {
	subs, err := d.Subs.All(ctx)
	if err != nil {
		return err
	}
	if len(subs) == 0 {
		return d.reply(ctx, req, "Keine Abonnements vorhanden.")
	}
	var b strings.Builder
	for _, s := range subs {
		fmt.Fprintf(&b, "%d\t%s\t%s\n", s.ChatID, s.Topic, s.Time)
	}
	return d.replyHTML(ctx, req, tgui.Pre(b.String()).String())
}

func (d Deps) sendCurrentList(ctx context.Context, req *router.Request) error {
	events, err := d.Catalog.All(ctx)
	if err != nil {
		return err
	}
	text := catalog.RenderList(events)
	if text == "" {
		return d.reply(ctx, req, catalog.MsgNoEvents)
	}
	return d.replyHTML(ctx, req, text)
}

// splitSemicolon3 splits "Name;Beschreibung;Datum" with both trailing parts
// optional.
func splitSemicolon3(s string) (name, description, date string) {
	parts := strings.SplitN(s, ";", 3)
	name = strings.TrimSpace(parts[0])
	if len(parts) > 1 {
		description = strings.TrimSpace(parts[1])
	}
	if len(parts) > 2 {
		date = strings.TrimSpace(parts[2])
	}
	return name, description, date
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
