// Package telegram presents notifications as Telegram messages via telebot.
//
// Broadcast-click notifications get an inline "Open" button; pressing it
// resolves the tap the same way the phone would and answers the callback with
// the launch target.
package telegram

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	tele "gopkg.in/telebot.v4"

	"sflnotify/internal/render"
	"sflnotify/internal/transport"
	logx "sflnotify/pkg/logx"
)

const (
	tapUnique     = "tap"
	maxTapCache   = 512
	maxTitleRunes = 256
	stopGrace     = 2 * time.Second
)

type Config struct {
	Token       string
	ChatID      int64
	ThreadID    int
	PollTimeout time.Duration
}

// TapHandler resolves a tap on a broadcast notification.
type TapHandler func(ctx context.Context, p render.Payload) (render.ClickAction, error)

// CommandHandler answers a bot command with plain text.
type CommandHandler func(ctx context.Context) (string, error)

// Command is a bot command registered in the chat menu.
type Command struct {
	Name        string // without the leading slash
	Description string
	Handler     CommandHandler
}

type Presenter struct {
	cfg  Config
	log  logx.Logger
	bot  *tele.Bot
	chat *tele.Chat

	onTap    TapHandler
	commands []Command

	tmu      sync.Mutex
	taps     map[string]render.Payload
	tapOrder []string

	runMu   sync.Mutex
	running bool
	cancel  context.CancelFunc
	runWG   sync.WaitGroup
}

type Option func(*Presenter)

func WithTapHandler(fn TapHandler) Option { return func(p *Presenter) { p.onTap = fn } }

func WithCommands(cmds ...Command) Option {
	return func(p *Presenter) { p.commands = append(p.commands, cmds...) }
}

func New(cfg Config, log logx.Logger, opts ...Option) (*Presenter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat_id is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  strings.TrimSpace(cfg.Token),
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	p := &Presenter{
		cfg:  cfg,
		log:  log,
		bot:  b,
		chat: &tele.Chat{ID: cfg.ChatID},
		taps: map[string]render.Payload{},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

func (p *Presenter) Name() string { return "telegram" }

// Present sends n to the configured chat.
func (p *Presenter) Present(ctx context.Context, n transport.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	opts := &tele.SendOptions{
		ParseMode:             tele.ModeHTML,
		DisableWebPagePreview: true,
		ThreadID:              p.cfg.ThreadID,
	}
	if n.Rendered.Click.Kind == render.ClickBroadcast && tapDataFits(n.DeliveryID) {
		markup := &tele.ReplyMarkup{}
		markup.Inline(markup.Row(markup.Data("Open", tapUnique, n.DeliveryID)))
		opts.ReplyMarkup = markup
		p.rememberTap(n.DeliveryID, n.Payload)
	}

	text := FormatMessage(n.Rendered)
	errCh := make(chan error, 1)
	go func() {
		_, err := p.bot.Send(p.chat, text, opts)
		errCh <- err
	}()
	select {
	case err := <-errCh:
		return classify(err)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// FormatMessage renders title and body as Telegram HTML. Long bodies are
// cut to the longest prefix whose escaped message fits in one Telegram
// message.
func FormatMessage(r render.Rendered) string {
	title := bold(truncRunes(r.Title, maxTitleRunes))
	build := func(body string) string {
		part := esc(body)
		if r.Plain && body != "" {
			part = pre(body)
		}
		return string(joinHTML("\n", title, part))
	}
	fits := func(msg string) bool { return utf8.RuneCountInString(msg) <= maxMessageRunes }

	if msg := build(r.Body); fits(msg) || r.Body == "" {
		return msg
	}
	// Escaping only grows text, so fit is monotonic in the prefix length.
	lo, hi := 0, utf8.RuneCountInString(r.Body)-1
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if fits(build(truncRunes(r.Body, mid))) {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return build(truncRunes(r.Body, lo))
}

// tapDataFits reports whether id fits in callback_data as "\ftap|<id>".
func tapDataFits(id string) bool {
	return id != "" && len(tapUnique)+len(id)+2 <= maxCallbackDataLen
}

// classify marks client errors (bad chat, blocked bot, bad token) permanent.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var te *tele.Error
	if errors.As(err, &te) {
		switch te.Code {
		case 400, 401, 403, 404:
			return transport.Permanent(err)
		}
	}
	return err
}

func (p *Presenter) rememberTap(id string, payload render.Payload) {
	p.tmu.Lock()
	defer p.tmu.Unlock()
	if _, ok := p.taps[id]; !ok {
		p.tapOrder = append(p.tapOrder, id)
	}
	p.taps[id] = payload
	for len(p.tapOrder) > maxTapCache {
		delete(p.taps, p.tapOrder[0])
		p.tapOrder = p.tapOrder[1:]
	}
}

func (p *Presenter) lookupTap(id string) (render.Payload, bool) {
	p.tmu.Lock()
	defer p.tmu.Unlock()
	payload, ok := p.taps[id]
	return payload, ok
}

// Start registers handlers and begins long polling. It is idempotent.
func (p *Presenter) Start(ctx context.Context) error {
	p.runMu.Lock()
	if p.running {
		p.runMu.Unlock()
		return nil
	}
	p.running = true
	rctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.runWG.Add(1)
	p.runMu.Unlock()

	p.bot.Handle(&tele.Btn{Unique: tapUnique}, func(c tele.Context) error {
		return c.Respond(&tele.CallbackResponse{Text: p.handleTap(rctx, c.Data())})
	})

	menu := make([]tele.Command, 0, len(p.commands))
	for _, cmd := range p.commands {
		cmd := cmd
		if cmd.Name == "" || cmd.Handler == nil {
			continue
		}
		menu = append(menu, tele.Command{Text: cmd.Name, Description: cmd.Description})
		p.bot.Handle("/"+cmd.Name, func(c tele.Context) error {
			if c.Chat() == nil || c.Chat().ID != p.cfg.ChatID {
				return nil
			}
			text, err := cmd.Handler(rctx)
			if err != nil {
				p.log.Warn("telegram command failed", logx.String("command", cmd.Name), logx.Err(err))
				text = "Error: " + err.Error()
			}
			return c.Send(text, &tele.SendOptions{ThreadID: p.cfg.ThreadID, DisableWebPagePreview: true})
		})
	}
	if len(menu) > 0 {
		if err := p.bot.SetCommands(menu); err != nil {
			p.log.Warn("telegram menu update failed", logx.Err(err))
		}
	}

	go func() {
		defer p.runWG.Done()
		go func() {
			<-rctx.Done()
			p.bot.Stop()
		}()
		p.log.Info("telegram polling started", logx.Int64("chat_id", p.cfg.ChatID))
		p.bot.Start()
	}()
	return nil
}

func (p *Presenter) handleTap(ctx context.Context, id string) string {
	payload, ok := p.lookupTap(strings.TrimSpace(id))
	if !ok {
		return "Notification expired"
	}
	if p.onTap == nil {
		return "Opening game"
	}
	action, err := p.onTap(ctx, payload)
	if errors.Is(err, render.ErrSuppressed) {
		return "Notifications for this item are off"
	}
	if err != nil {
		p.log.Warn("telegram tap failed", logx.String("delivery_id", id), logx.Err(err))
		return "Could not open app"
	}
	return TapReply(action)
}

// TapReply describes a resolved click for the callback toast.
func TapReply(a render.ClickAction) string {
	if a.Kind == render.ClickOpenConfiguredApp && a.Target != nil {
		return "Opening " + a.Target.String()
	}
	return "Opening game"
}

// Stop ends polling, waiting at most a short grace window.
func (p *Presenter) Stop(ctx context.Context) error {
	p.runMu.Lock()
	cancel := p.cancel
	wasRunning := p.running
	p.cancel = nil
	p.running = false
	p.runMu.Unlock()
	if !wasRunning {
		return nil
	}
	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		p.runWG.Wait()
		close(done)
	}()

	grace := stopGrace
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < grace {
			grace = rem
		}
	}
	t := time.NewTimer(grace)
	defer t.Stop()

	select {
	case <-done:
		p.log.Info("telegram polling stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		p.log.Warn("telegram stop grace elapsed; continuing shutdown")
		return nil
	}
}
