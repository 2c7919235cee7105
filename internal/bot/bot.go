package bot

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	tele "gopkg.in/telebot.v3"
	tbmw "gopkg.in/telebot.v3/middleware"

	"vpnshop/internal/config"
	"vpnshop/internal/service"
)

// handlerTimeout bounds the outbound calls made while handling one update.
const handlerTimeout = 30 * time.Second

// queueTimeout bounds how long a webhook request waits for room on the
// update queue.
const queueTimeout = 5 * time.Second

// Exporter produces the backup files sent by /backup.
type Exporter interface {
	Export() (map[string][]byte, error)
}

// Deps bundles the services the bot handlers drive.
type Deps struct {
	Catalog *service.Catalog
	Orders  *service.OrderManager
	Users   *service.Users
	Store   Exporter
}

// Bot wraps the telebot instance and handlers.
type Bot struct {
	tb       *tele.Bot
	cfg      *config.Config
	catalog  *service.Catalog
	orders   *service.OrderManager
	users    *service.Users
	store    Exporter
	sessions *sessions
	limiter  *rateLimiter
	logger   *zap.Logger

	queueTimeout time.Duration
}

// New creates a webhook-driven bot. Updates arrive through WebhookHandler,
// which the HTTP router mounts; telebot never listens on its own.
func New(cfg *config.Config, deps Deps, logger *zap.Logger) (*Bot, error) {
	webhook := &tele.Webhook{
		Listen:         "",
		SecretToken:    cfg.Bot.WebhookSecret,
		AllowedUpdates: []string{"message", "callback_query"},
		Endpoint:       &tele.WebhookEndpoint{PublicURL: cfg.Bot.WebhookEndpoint()},
	}
	pref := tele.Settings{
		Token:  cfg.Bot.Token,
		Poller: webhook,
	}
	return newBot(cfg, deps, pref, logger)
}

func newBot(cfg *config.Config, deps Deps, pref tele.Settings, logger *zap.Logger) (*Bot, error) {
	pref.ParseMode = tele.ModeHTML
	pref.OnError = logHandlerError(logger, "telebot error")

	tb, err := tele.NewBot(pref)
	if err != nil {
		return nil, fmt.Errorf("failed to create telebot: %w", err)
	}

	b := &Bot{
		tb:       tb,
		cfg:      cfg,
		catalog:  deps.Catalog,
		orders:   deps.Orders,
		users:    deps.Users,
		store:    deps.Store,
		sessions: newSessions(),
		limiter:  newRateLimiter(cfg.Shop.RateLimitPerMinute),
		logger:   logger,

		queueTimeout: queueTimeout,
	}
	b.registerHandlers()
	return b, nil
}

func logHandlerError(logger *zap.Logger, msg string) func(error, tele.Context) {
	return func(err error, c tele.Context) {
		fields := []zap.Field{zap.Error(err)}
		if c != nil && c.Sender() != nil {
			fields = append(fields, zap.Int64("user_id", c.Sender().ID))
		}
		logger.Error(msg, fields...)
	}
}

// WebhookHandler returns the webhook handler for mounting on Echo.
// Updates go straight onto the bot's update queue, which exists from
// construction, so requests that arrive before the poller has registered
// the webhook are queued rather than blocked. A request whose update
// cannot be queued in time gets 503 and Telegram retries it.
func (b *Bot) WebhookHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var update tele.Update
		if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
			http.Error(w, "bad update", http.StatusBadRequest)
			return
		}

		timer := time.NewTimer(b.queueTimeout)
		defer timer.Stop()
		select {
		case b.tb.Updates <- update:
			w.WriteHeader(http.StatusOK)
		case <-timer.C:
			b.logger.Warn("Update queue full", zap.Int("update_id", update.ID))
			http.Error(w, "busy", http.StatusServiceUnavailable)
		case <-r.Context().Done():
			http.Error(w, "cancelled", http.StatusServiceUnavailable)
		}
	})
}

// Start registers the webhook with Telegram and processes updates until
// Stop is called.
func (b *Bot) Start() {
	b.logger.Info("Starting Telegram bot", zap.String("webhook_url", b.cfg.Bot.WebhookURL))
	b.tb.Start()
}

// Stop gracefully shuts down the bot.
func (b *Bot) Stop() {
	b.tb.Stop()
}

func (b *Bot) registerHandlers() {
	b.tb.Use(tbmw.Recover(logHandlerError(b.logger, "Handler panic")))
	b.tb.Use(tbmw.AutoRespond(), b.guard)

	b.tb.Handle("/start", b.handleStart)
	b.tb.Handle("/my_orders", b.handleMyOrders)
	b.tb.Handle("/cancel", b.handleCancel)
	b.tb.Handle(tele.OnText, b.handleText)
	b.tb.Handle(tele.OnPhoto, b.handlePhoto)

	b.tb.Handle(&btnBuy, b.handleBuyMenu)
	b.tb.Handle(&btnPick, b.handlePick)
	b.tb.Handle(&btnReceipt, b.handleReceiptButton)
	b.tb.Handle(&btnMyOrders, b.handleMyOrders)
	b.tb.Handle(&btnSupport, b.handleSupport)
	b.tb.Handle(&btnBack, b.handleBack)

	admin := b.tb.Group()
	admin.Use(b.adminOnly)
	admin.Handle("/add_config", b.handleAddConfig)
	admin.Handle("/remove_config", b.handleRemoveConfig)
	admin.Handle("/list_orders", b.handleListOrders)
	admin.Handle("/approve_order", b.handleDecideCommand(service.DecisionApprove))
	admin.Handle("/reject_order", b.handleDecideCommand(service.DecisionReject))
	admin.Handle("/stats", b.handleStats)
	admin.Handle("/ban", b.handleBan)
	admin.Handle("/unban", b.handleUnban)
	admin.Handle("/backup", b.handleBackup)
	admin.Handle(&btnAdminPanel, b.handleAdminPanel)
	admin.Handle(&btnApprove, b.handleDecisionButton(service.DecisionApprove))
	admin.Handle(&btnReject, b.handleDecisionButton(service.DecisionReject))
}

func (b *Bot) context() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), handlerTimeout)
}

// editOrSend edits the message behind a callback, or sends a new one for
// plain messages and for callbacks whose message can no longer be edited.
func (b *Bot) editOrSend(c tele.Context, text string, markup *tele.ReplyMarkup) error {
	if c.Callback() == nil {
		return c.Send(text, markup)
	}
	err := c.Edit(text, markup)
	if err == nil || strings.Contains(err.Error(), "message is not modified") {
		return nil
	}
	b.logger.Debug("Edit failed, sending instead", zap.Error(err))
	return c.Send(text, markup)
}

func isPrivate(c tele.Context) bool {
	return c.Chat() != nil && c.Chat().Type == tele.ChatPrivate
}
