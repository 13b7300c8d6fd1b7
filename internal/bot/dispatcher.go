package bot

import (
	"context"
	"log/slog"
	"strings"
	"sync"
)

// HandlerFunc handles one dispatched message or callback. args is the
// text after the matched prefix, trimmed.
type HandlerFunc func(ctx context.Context, b Boundary, msg *Message, args string) error

type route struct {
	prefix string
	admin  bool
	fn     HandlerFunc
}

// Dispatcher routes inbound messages and callback presses to registered
// handlers. Commands match their /prefix case-insensitively at a command
// boundary (end of text, a space, or an @bot suffix); callbacks match
// their data prefix case-sensitively. The first registered route that
// matches wins. Admin routes are gated on the boundary's sudo predicate
// before the handler runs.
type Dispatcher struct {
	mu        sync.RWMutex
	botName   string
	commands  []route
	callbacks []route
	fallback  HandlerFunc
}

// NewDispatcher creates an empty dispatcher. botName, when non-empty,
// restricts /command@name matches to that bot.
func NewDispatcher(botName string) *Dispatcher {
	return &Dispatcher{botName: botName}
}

// SetBotName updates the @name used for command matching. The Telegram
// adapter calls this once it learns its own username.
func (d *Dispatcher) SetBotName(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.botName = name
}

// RegisterCommand registers a handler for /name.
func (d *Dispatcher) RegisterCommand(name string, fn HandlerFunc) {
	d.register(&d.commands, "/"+strings.ToLower(name), false, fn)
}

// RegisterAdminCommand registers a sudo-gated handler for /name.
func (d *Dispatcher) RegisterAdminCommand(name string, fn HandlerFunc) {
	d.register(&d.commands, "/"+strings.ToLower(name), true, fn)
}

// RegisterCallback registers a handler for callback data starting with
// prefix.
func (d *Dispatcher) RegisterCallback(prefix string, fn HandlerFunc) {
	d.register(&d.callbacks, prefix, false, fn)
}

// RegisterAdminCallback registers a sudo-gated callback handler.
func (d *Dispatcher) RegisterAdminCallback(prefix string, fn HandlerFunc) {
	d.register(&d.callbacks, prefix, true, fn)
}

// RegisterFallback registers the handler for plain text messages that
// carry no command.
func (d *Dispatcher) RegisterFallback(fn HandlerFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fallback = fn
}

func (d *Dispatcher) register(routes *[]route, prefix string, admin bool, fn HandlerFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	*routes = append(*routes, route{prefix: prefix, admin: admin, fn: fn})
}

// Dispatch routes msg to the first matching handler. Unknown commands
// and callbacks are acknowledged with a localized notice; plain text
// goes to the fallback handler. Handler errors are returned to the
// transport loop for logging.
func (d *Dispatcher) Dispatch(ctx context.Context, b Boundary, msg *Message) error {
	if msg.IsCallback() {
		return d.dispatchCallback(ctx, b, msg)
	}
	return d.dispatchCommand(ctx, b, msg)
}

func (d *Dispatcher) dispatchCommand(ctx context.Context, b Boundary, msg *Message) error {
	d.mu.RLock()
	routes := d.commands
	fallback := d.fallback
	botName := d.botName
	d.mu.RUnlock()

	if !strings.HasPrefix(msg.Text, "/") {
		if fallback == nil {
			return nil
		}
		return fallback(ctx, b, msg, strings.TrimSpace(msg.Text))
	}

	for _, rt := range routes {
		args, ok := matchCommand(msg.Text, rt.prefix, botName)
		if !ok {
			continue
		}
		if rt.admin && !b.IsSudo(msg.UserID) {
			slog.Warn("bot: admin command denied",
				"command", rt.prefix, "user_id", msg.UserID)
			_, err := b.SendMessage(ctx, msg.ChatID, b.T(msg.Language, "errors.not_admin", nil))
			return err
		}
		return rt.fn(ctx, b, msg, args)
	}

	slog.Warn("bot: unknown command", "text", firstWord(msg.Text), "user_id", msg.UserID)
	_, err := b.SendMessage(ctx, msg.ChatID, b.T(msg.Language, "errors.unknown_command", nil))
	return err
}

func (d *Dispatcher) dispatchCallback(ctx context.Context, b Boundary, msg *Message) error {
	d.mu.RLock()
	routes := d.callbacks
	d.mu.RUnlock()

	for _, rt := range routes {
		if !strings.HasPrefix(msg.Text, rt.prefix) {
			continue
		}
		if rt.admin && !b.IsSudo(msg.UserID) {
			slog.Warn("bot: admin callback denied",
				"prefix", rt.prefix, "user_id", msg.UserID)
			return b.AnswerCallback(ctx, msg.CallbackID, b.T(msg.Language, "errors.not_admin", nil))
		}
		args := strings.TrimSpace(msg.Text[len(rt.prefix):])
		return rt.fn(ctx, b, msg, args)
	}

	slog.Warn("bot: unknown callback", "data", msg.Text, "user_id", msg.UserID)
	return b.AnswerCallback(ctx, msg.CallbackID, "")
}

// matchCommand reports whether text invokes the command prefix and
// returns the trailing arguments. The prefix must be followed by end of
// text, a space, or an @mention of this bot; "/starting" does not match
// "/start".
func matchCommand(text, prefix, botName string) (string, bool) {
	if len(text) < len(prefix) || !strings.EqualFold(text[:len(prefix)], prefix) {
		return "", false
	}
	rest := text[len(prefix):]
	switch {
	case rest == "":
		return "", true
	case rest[0] == ' ':
		return strings.TrimSpace(rest), true
	case rest[0] == '@':
		mention, args, _ := strings.Cut(rest[1:], " ")
		if botName != "" && !strings.EqualFold(mention, botName) {
			return "", false
		}
		return strings.TrimSpace(args), true
	default:
		return "", false
	}
}

func firstWord(s string) string {
	if i := strings.IndexByte(s, ' '); i >= 0 {
		return s[:i]
	}
	return s
}
