// Package router dispatches incoming Telegram updates to the bot's fixed
// command set, with a bounded worker pool and per-request middleware.
package router

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"runtime"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	rtsup "countdownbot/internal/runtime/supervisor"
	kit "countdownbot/internal/transport"
	logx "countdownbot/pkg/logx"
	"countdownbot/pkg/tgui"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessAdminOnly
)

// Command is one slash command. The command set is fixed at registration;
// there is no dynamic extension.
type Command struct {
	Name        string // without leading slash, e.g. "countdown"
	Description string
	Access      Access
	Timeout     time.Duration // optional override of the default
	Handle      HandlerFunc
}

type CallbackHandlerFunc func(ctx context.Context, req *Request, payload string) error

// CallbackAccess controls who can trigger an inline-button callback.
// Default is admin-only: the button's origin message proves nothing about
// who pressed it.
type CallbackAccess int

const (
	CallbackAccessAdminOnly CallbackAccess = iota
	CallbackAccessEveryone
)

type CallbackRoute struct {
	Scope   string
	Action  string
	Access  CallbackAccess
	Timeout time.Duration
	Handle  CallbackHandlerFunc
}

// Request carries one update through the middleware chain into a handler.
type Request struct {
	Update   kit.Update
	Chat     kit.ChatTarget
	FromID   int64
	FromName string
	IsGroup  bool

	Command string
	Args    []string // whitespace-split argument words
	ArgText string   // raw argument text after the command word
	Payload string   // callback payload (raw string)

	ReqID  string
	Logger logx.Logger
}

const (
	// Unknown commands get this reply in private chats only; in groups the
	// bot stays quiet to avoid clashing with other bots.
	msgUnknownCommand = "Unbekannter Befehl. Versuch es mal mit /help"
	msgUnauthorized   = "Du hast leider nicht die erforderliche Berechtigung um diesen Befehl auszuführen :/"

	defaultHandlerTimeout = 30 * time.Second
)

type Manager struct {
	mu        sync.RWMutex
	commands  map[string]Command
	callbacks map[string]map[string]CallbackRoute // scope -> action -> route
	admins    []int64

	log     logx.Logger
	adapter kit.Adapter

	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor

	jobs chan func()
}

func NewManager(log logx.Logger, adapter kit.Adapter, admins []int64) *Manager {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Manager{
		commands:  map[string]Command{},
		callbacks: map[string]map[string]CallbackRoute{},
		admins:    append([]int64(nil), admins...),
		log:       log,
		adapter:   adapter,
		jobs:      make(chan func(), 256),
	}
}

// SetRegistry installs the command and callback tables.
func (m *Manager) SetRegistry(cmds []Command, cbs []CallbackRoute) {
	commands := map[string]Command{}
	for _, c := range cmds {
		name := strings.ToLower(strings.TrimSpace(c.Name))
		if name == "" || c.Handle == nil {
			continue
		}
		commands[name] = c
	}
	callbacks := map[string]map[string]CallbackRoute{}
	for _, r := range cbs {
		scope := strings.TrimSpace(r.Scope)
		action := strings.TrimSpace(r.Action)
		if scope == "" || action == "" || r.Handle == nil {
			continue
		}
		if callbacks[scope] == nil {
			callbacks[scope] = map[string]CallbackRoute{}
		}
		callbacks[scope][action] = r
	}

	m.mu.Lock()
	m.commands = commands
	m.callbacks = callbacks
	m.mu.Unlock()
}

// SetAdmins updates the admin list used for AccessAdminOnly checks.
// Safe to call during hot-reload.
func (m *Manager) SetAdmins(admins []int64) {
	cp := append([]int64(nil), admins...)
	m.mu.Lock()
	m.admins = cp
	m.mu.Unlock()
}

func (m *Manager) IsAdmin(userID int64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, id := range m.admins {
		if id == userID {
			return true
		}
	}
	return false
}

// tryEnqueue is a panic-safe enqueue helper (handles the jobs channel being closed).
func (m *Manager) tryEnqueue(fn func()) (ok bool) {
	if fn == nil {
		return false
	}
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()
	select {
	case m.jobs <- fn:
		return true
	default:
		return false
	}
}

// DispatchLoop consumes updates until ctx is done or the channel closes.
// Handlers run on a bounded worker pool so one slow command cannot stall
// the intake.
func (m *Manager) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	workers := runtime.NumCPU()
	if workers < 2 {
		workers = 2
	}

	sup := rtsup.New(ctx,
		rtsup.WithLogger(m.log.With(logx.String("comp", "telegram.router"))),
		rtsup.WithCancelOnError(false),
	)
	m.runMu.Lock()
	m.sup = sup
	m.running = true
	m.runMu.Unlock()

	m.log.Info("command dispatcher started",
		logx.Int("workers", workers), logx.Int("job_queue_cap", cap(m.jobs)))

	var closeOnce sync.Once
	closeJobs := func() {
		closeOnce.Do(func() {
			m.runMu.Lock()
			m.running = false
			m.runMu.Unlock()
			close(m.jobs)
		})
	}

	for i := 0; i < workers; i++ {
		idx := i
		sup.GoRestart("command.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job, ok := <-m.jobs:
					if !ok {
						return nil
					}
					if job == nil {
						continue
					}
					// Middleware already recovers; this keeps the worker
					// alive if a job panics outside the chain.
					func() {
						defer func() {
							if r := recover(); r != nil {
								m.log.Error("panic in command job",
									logx.Int("worker", idx), logx.Any("panic", r),
									logx.String("stack", string(debug.Stack())))
							}
						}()
						job()
					}()
				}
			}
		},
			rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			rtsup.WithPublishFirstError(true),
			rtsup.WithStopOnCleanExit(true),
		)
	}

	defer func() {
		closeJobs()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		m.runMu.Lock()
		m.sup = nil
		m.running = false
		m.runMu.Unlock()
		m.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				m.log.Info("command dispatcher stopped (updates channel closed)")
				return nil
			}
			m.routeUpdate(ctx, up)
		}
	}
}

func (m *Manager) routeUpdate(root context.Context, up kit.Update) {
	switch up.Kind {
	case kit.UpdateMessage:
		m.routeMessage(root, up)
	case kit.UpdateCallback:
		m.routeCallback(root, up)
	}
}

func (m *Manager) routeMessage(root context.Context, up kit.Update) {
	if up.Message == nil {
		return
	}
	msg := up.Message
	text := strings.TrimSpace(msg.Text)
	if !strings.HasPrefix(text, "/") {
		return
	}

	word, rest, _ := strings.Cut(text, " ")
	word = strings.ToLower(strings.TrimPrefix(word, "/"))
	// Strip the "@botname" suffix used in group chats.
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	rest = strings.TrimSpace(rest)

	m.mu.RLock()
	cmd, ok := m.commands[word]
	m.mu.RUnlock()
	if !ok {
		m.log.Warn("unknown command", logx.Int64("chat_id", msg.ChatID), logx.String("text", text))
		if !msg.IsGroup {
			_, _ = m.adapter.SendText(root, kit.ChatTarget{ChatID: msg.ChatID}, msgUnknownCommand, nil)
		}
		return
	}

	if cmd.Access == AccessAdminOnly && !m.IsAdmin(msg.FromID) {
		_, _ = m.adapter.SendText(root, kit.ChatTarget{ChatID: msg.ChatID}, msgUnauthorized, nil)
		return
	}

	rid := newReqID()
	req := &Request{
		Update:   up,
		Chat:     kit.ChatTarget{ChatID: msg.ChatID},
		FromID:   msg.FromID,
		FromName: msg.FromUsername,
		IsGroup:  msg.IsGroup,
		Command:  cmd.Name,
		Args:     strings.Fields(rest),
		ArgText:  rest,
		ReqID:    rid,
		Logger: m.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", msg.ChatID),
			logx.Int64("from_id", msg.FromID),
			logx.String("cmd", cmd.Name),
		),
	}
	m.enqueue(root, cmd.Handle, cmd.Timeout, req)
}

func (m *Manager) routeCallback(root context.Context, up kit.Update) {
	if up.Callback == nil {
		return
	}
	cb := up.Callback
	scope, action, payload := tgui.Split(strings.TrimSpace(cb.Data))
	if action == "" {
		return
	}

	m.mu.RLock()
	route, ok := m.callbacks[scope][action]
	m.mu.RUnlock()
	if !ok {
		m.log.Warn("unknown callback", logx.String("data", cb.Data))
		return
	}

	if route.Access == CallbackAccessAdminOnly && !m.IsAdmin(cb.FromID) {
		_ = m.adapter.AnswerCallback(root, cb.ID, msgUnauthorized)
		return
	}

	rid := newReqID()
	req := &Request{
		Update:  up,
		Chat:    kit.ChatTarget{ChatID: cb.ChatID},
		FromID:  cb.FromID,
		Command: scope + ":" + action,
		Payload: payload,
		ReqID:   rid,
		Logger: m.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", cb.ChatID),
			logx.Int64("from_id", cb.FromID),
			logx.String("cb", scope+":"+action),
		),
	}
	handle := func(ctx context.Context, r *Request) error {
		return route.Handle(ctx, r, payload)
	}
	m.enqueue(root, handle, route.Timeout, req)
}

func (m *Manager) enqueue(root context.Context, handle HandlerFunc, timeout time.Duration, req *Request) {
	if timeout <= 0 {
		timeout = defaultHandlerTimeout
	}
	final := Chain(
		handle,
		MWPanicRecover(m.log),
		MWRequestLog(m.log),
		MWTimeout(timeout),
	)
	if !m.tryEnqueue(func() { _ = final(root, req) }) {
		m.log.Warn("command dropped (job queue full)",
			logx.Int64("chat_id", req.Chat.ChatID), logx.String("cmd", req.Command))
	}
}

func newReqID() string {
	var b [6]byte
	if _, err := rand.Read(b[:]); err != nil {
		return strconv.FormatInt(time.Now().UnixNano(), 36)
	}
	return hex.EncodeToString(b[:])
}
