package ghost

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ManuelReschke/GhostRelay/app/models"
	"github.com/ManuelReschke/GhostRelay/internal/pkg/engine"
	"github.com/ManuelReschke/GhostRelay/internal/pkg/entitlements"
	"github.com/ManuelReschke/GhostRelay/internal/pkg/patterns"
	"github.com/ManuelReschke/GhostRelay/internal/pkg/security"
	"github.com/ManuelReschke/GhostRelay/internal/pkg/telegram"
	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
)

var (
	// ErrEntitlementDenied marks a message dropped by gating. It is a normal
	// outcome, not a failure.
	ErrEntitlementDenied = errors.New("tenant is not entitled")
	ErrIgnored           = errors.New("message ignored")
	ErrStopped           = errors.New("worker stopped")
)

const DefaultComposeDelay = time.Second

// DefaultCommands is the command menu registered for every ghost bot.
var DefaultCommands = []telegram.BotCommand{
	{Command: "start", Description: "Start a conversation"},
	{Command: "help", Description: "How to talk to me"},
}

// Store is the persistence a worker needs.
type Store interface {
	LoadTenant(ctx context.Context, id uint) (*models.TenantBot, error)
	SaveProfile(ctx context.Context, bot *models.TenantBot) error
	SaveConversation(ctx context.Context, conv *models.Conversation) error
	LoadPatternStore(ctx context.Context, tenantBotID uint) (*patterns.Store, error)
	SavePatternStore(ctx context.Context, store *patterns.Store) error
}

// ActivityRecorder receives the per-message activity of a tenant.
type ActivityRecorder interface {
	RecordActivity(ctx context.Context, tenantBotID uint, ts time.Time, count int64) error
}

// Responder produces a reply for a message.
type Responder interface {
	Respond(req engine.Request, store *patterns.Store) engine.Reply
}

// Deps are shared by all workers of a runtime.
type Deps struct {
	Store        Store
	Provider     telegram.Provider
	Decryptor    security.CredentialDecryptor
	Engine       Responder
	Activity     ActivityRecorder
	ComposeDelay time.Duration
	Commands     []telegram.BotCommand
	Now          func() time.Time
}

func (d *Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now().UTC()
}

// Info is a snapshot of a running worker.
type Info struct {
	TenantBotID uint      `json:"tenant_bot_id"`
	Username    string    `json:"username"`
	SessionID   string    `json:"session_id"`
	StartedAt   time.Time `json:"started_at"`
	Handled     int64     `json:"handled"`
}

type command struct {
	fn     func(ctx context.Context) error
	result chan error
}

// Worker owns the session of one tenant bot. Messages are handled one at a
// time on the worker goroutine, which is also the only writer of the cached
// pattern store.
type Worker struct {
	deps      Deps
	tenantID  uint
	session   telegram.Session
	self      telegram.User
	sessionID string
	startedAt time.Time

	// Owned by the worker goroutine.
	patterns *patterns.Store
	dirty    bool

	cancel   context.CancelFunc
	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
	cmds     chan command
	handled  atomic.Int64
}

// Start decrypts the credential, opens the session and starts the message
// loop. A rejected credential is returned as *telegram.AuthError.
func Start(ctx context.Context, bot *models.TenantBot, deps Deps) (*Worker, error) {
	if deps.ComposeDelay < 0 {
		deps.ComposeDelay = 0
	}
	if deps.Commands == nil {
		deps.Commands = DefaultCommands
	}

	credential, err := deps.Decryptor.DecryptCredential(bot.CredentialEnc)
	if err != nil {
		return nil, fmt.Errorf("bot %d: %w", bot.ID, err)
	}
	session, err := deps.Provider.Open(ctx, credential)
	if err != nil {
		return nil, fmt.Errorf("bot %d: %w", bot.ID, err)
	}

	w := &Worker{
		deps:      deps,
		tenantID:  bot.ID,
		session:   session,
		self:      session.Self(),
		sessionID: uuid.New().String(),
		startedAt: deps.now(),
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
		cmds:      make(chan command),
	}

	w.prepare(ctx, bot)

	loopCtx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	inbound := session.Receive(loopCtx)
	go w.run(loopCtx, inbound)

	log.Infof("[Ghost] Bot %d (@%s) started, session %s", bot.ID, w.self.Username, w.sessionID)
	return w, nil
}

// prepare syncs the bot identity, captures the owner profile to clone and
// registers the command menu. Failures are logged only.
func (w *Worker) prepare(ctx context.Context, bot *models.TenantBot) {
	changed := false
	if w.self.Username != "" && bot.BotUsername != w.self.Username {
		bot.BotUsername = w.self.Username
		changed = true
	}
	if name := w.self.FullName(); name != "" && bot.BotName != name {
		bot.BotName = name
		changed = true
	}

	if bot.BotSettings().Impersonation && bot.AdminChatID != 0 {
		chat, err := w.session.GetChat(ctx, bot.AdminChatID)
		if err != nil {
			log.Warnf("[Ghost] Bot %d could not load owner profile: %v", bot.ID, err)
		} else {
			profile := models.CloneProfile{
				ID:        chat.ID,
				Username:  chat.Username,
				FirstName: chat.FirstName,
				LastName:  chat.LastName,
			}
			if profile != bot.Profile() {
				bot.SetProfile(profile)
				changed = true
			}
		}
	}

	if changed {
		if err := w.deps.Store.SaveProfile(ctx, bot); err != nil {
			log.Warnf("[Ghost] Bot %d could not save profile: %v", bot.ID, err)
		}
	}

	if len(w.deps.Commands) > 0 {
		if err := w.session.SetCommands(ctx, w.deps.Commands); err != nil {
			log.Warnf("[Ghost] Bot %d could not register commands: %v", bot.ID, err)
		}
	}
}

func (w *Worker) run(loopCtx context.Context, inbound <-chan telegram.Inbound) {
	defer close(w.done)
	defer func() {
		if err := w.session.Close(); err != nil {
			log.Warnf("[Ghost] Bot %d session close: %v", w.tenantID, err)
		}
		log.Infof("[Ghost] Bot %d (@%s) stopped after %d messages", w.tenantID, w.self.Username, w.handled.Load())
	}()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		w.flushPatterns(ctx)
	}()

	// Exchanges in flight finish even when a stop cancels loopCtx.
	exchangeCtx := context.WithoutCancel(loopCtx)

	for {
		select {
		case <-w.stopCh:
			return
		case cmd := <-w.cmds:
			cmd.result <- cmd.fn(exchangeCtx)
		case in, ok := <-inbound:
			if !ok {
				return
			}
			select {
			case <-w.stopCh:
				return
			default:
			}
			w.session.Ack(in.UpdateID)
			if err := w.handle(exchangeCtx, in); err != nil && !errors.Is(err, ErrIgnored) && !errors.Is(err, ErrEntitlementDenied) {
				log.Warnf("[Ghost] Bot %d message %d: %v", w.tenantID, in.MessageID, err)
			}
		}
	}
}

// handle runs one exchange. Panics are contained to the message.
func (w *Worker) handle(ctx context.Context, in telegram.Inbound) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while handling message: %v", r)
		}
	}()

	if in.SenderID == w.self.ID {
		return ErrIgnored
	}

	private := in.IsPrivate()
	text := in.Text
	messageType := models.MessageTypePrivate
	if !private {
		if !telegram.MentionsBot(in, w.self) {
			return ErrIgnored
		}
		text = telegram.StripMention(text, w.self.Username)
		if text == "" {
			return ErrIgnored
		}
		messageType = models.MessageTypeGroupMention
	}

	bot, err := w.deps.Store.LoadTenant(ctx, w.tenantID)
	if err != nil {
		return err
	}
	if in.SenderID == bot.AdminChatID {
		return ErrIgnored
	}
	now := w.deps.now()
	if !entitlements.IsEntitled(bot, now) {
		log.Debugf("[Ghost] Bot %d not entitled, dropping message", bot.ID)
		return ErrEntitlementDenied
	}
	settings := bot.BotSettings()

	if settings.AutoReply {
		store, loadErr := w.patternStore(ctx)
		if loadErr != nil {
			log.Warnf("[Ghost] Bot %d pattern store unavailable: %v", bot.ID, loadErr)
		}

		conv := models.NewConversation(bot.ID, in.SenderID, in.ChatID, bot.AdminChatID, messageType, text, in.ReceivedAt)
		reply := w.deps.Engine.Respond(engine.Request{
			Text:        text,
			TenantBotID: bot.ID,
			SenderID:    in.SenderID,
			SenderName:  in.SenderName,
			Language:    settings.LanguageMode(),
		}, store)

		impersonate := settings.Impersonation && private
		if impersonate {
			w.compose(ctx, in.ChatID)
		}
		out := telegram.Outbound{ChatID: in.ChatID, Text: reply.Text}
		if !private {
			out.ReplyToMessageID = in.MessageID
		}
		sendErr := w.session.Send(ctx, out)
		if sendErr != nil {
			log.Warnf("[Ghost] Bot %d failed to send reply: %v", bot.ID, sendErr)
		} else {
			conv.SetReply(reply.Text, string(reply.Stage), impersonate, w.deps.now())
		}

		if err := w.deps.Store.SaveConversation(ctx, conv); err != nil {
			log.Errorf("[Ghost] Bot %d failed to save conversation: %v", bot.ID, err)
		}

		if sendErr == nil && settings.Learning && store != nil {
			if private {
				store.RememberName(in.SenderName)
			}
			store.Update(text, reply.Text, now)
			w.dirty = true
			w.flushPatterns(ctx)
		}
	}

	if w.deps.Activity != nil {
		if err := w.deps.Activity.RecordActivity(ctx, bot.ID, now, 1); err != nil {
			log.Warnf("[Ghost] Bot %d failed to record activity: %v", bot.ID, err)
		}
	}
	w.handled.Add(1)
	return nil
}

// compose shows the typing indicator and waits the compose delay.
func (w *Worker) compose(ctx context.Context, chatID int64) {
	if err := w.session.Typing(ctx, chatID); err != nil {
		log.Debugf("[Ghost] Bot %d typing action failed: %v", w.tenantID, err)
	}
	if w.deps.ComposeDelay <= 0 {
		return
	}
	t := time.NewTimer(w.deps.ComposeDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func (w *Worker) patternStore(ctx context.Context) (*patterns.Store, error) {
	if w.patterns != nil {
		return w.patterns, nil
	}
	store, err := w.deps.Store.LoadPatternStore(ctx, w.tenantID)
	if err != nil {
		return nil, err
	}
	w.patterns = store
	return store, nil
}

// flushPatterns persists the cached store. On failure the update stays in
// memory and is written by the next flush.
func (w *Worker) flushPatterns(ctx context.Context) {
	if !w.dirty || w.patterns == nil {
		return
	}
	if err := w.deps.Store.SavePatternStore(ctx, w.patterns); err != nil {
		log.Warnf("[Ghost] Bot %d pattern flush deferred: %v", w.tenantID, err)
		return
	}
	w.dirty = false
}

// Retrain replays history into the cached pattern store. It runs on the
// worker goroutine so the store keeps a single writer.
func (w *Worker) Retrain(ctx context.Context, history []models.Conversation) error {
	return w.exec(ctx, func(ctx context.Context) error {
		store, err := w.patternStore(ctx)
		if err != nil {
			return err
		}
		if store.Train(history) == 0 {
			return nil
		}
		w.dirty = true
		if err := w.deps.Store.SavePatternStore(ctx, store); err != nil {
			return err
		}
		w.dirty = false
		return nil
	})
}

func (w *Worker) exec(ctx context.Context, fn func(ctx context.Context) error) error {
	cmd := command{fn: fn, result: make(chan error, 1)}
	select {
	case w.cmds <- cmd:
	case <-w.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-cmd.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Send delivers an operator authored message through the bot.
func (w *Worker) Send(ctx context.Context, chatID int64, text string) error {
	select {
	case <-w.stopCh:
		return ErrStopped
	default:
	}
	return w.session.Send(ctx, telegram.Outbound{ChatID: chatID, Text: text})
}

// Stop requests shutdown and returns immediately. The exchange in flight
// completes, no further message is accepted and the session is closed once
// the loop exits.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		w.cancel()
	})
}

// Done is closed after the loop exited and the session was closed.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// Stopping reports whether Stop was called.
func (w *Worker) Stopping() bool {
	select {
	case <-w.stopCh:
		return true
	default:
		return false
	}
}

func (w *Worker) TenantID() uint {
	return w.tenantID
}

func (w *Worker) Info() Info {
	return Info{
		TenantBotID: w.tenantID,
		Username:    w.self.Username,
		SessionID:   w.sessionID,
		StartedAt:   w.startedAt,
		Handled:     w.handled.Load(),
	}
}
