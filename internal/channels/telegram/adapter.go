// Package telegram implements the Telegram channel adapter using
// go-telegram/bot, long-polling only.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	tgbot "github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"
	"github.com/nanobot-run/nanobot/internal/bus"
	"github.com/nanobot-run/nanobot/internal/channels"
	"github.com/nanobot-run/nanobot/pkg/models"
)

// Config holds Telegram adapter configuration.
type Config struct {
	Token     string
	RateLimit float64
	RateBurst int
	Logger    *slog.Logger
}

// Validate applies defaults and checks required fields.
func (c *Config) Validate() error {
	if c.Token == "" {
		return &channels.ErrConfig{Field: "token", Message: "required"}
	}
	if c.RateLimit == 0 {
		c.RateLimit = 30
	}
	if c.RateBurst == 0 {
		c.RateBurst = 20
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}

// Adapter implements channels.Adapter for Telegram long polling.
type Adapter struct {
	config      Config
	bot         *tgbot.Bot
	bus         *bus.Bus
	rateLimiter *channels.RateLimiter
	logger      *slog.Logger

	mu     sync.RWMutex
	status channels.Status
}

// NewAdapter validates config and builds an adapter wired to b.
func NewAdapter(config Config, b *bus.Bus) (*Adapter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Adapter{
		config:      config,
		bus:         b,
		rateLimiter: channels.NewRateLimiter(config.RateLimit, config.RateBurst),
		logger:      config.Logger.With("adapter", "telegram"),
	}, nil
}

func (a *Adapter) Name() string { return "telegram" }

// Start creates the bot client, registers the message handler and blocks
// in long-polling mode until ctx is cancelled.
func (a *Adapter) Start(ctx context.Context) error {
	b, err := tgbot.New(a.config.Token,
		tgbot.WithDefaultHandler(a.handleUpdate))
	if err != nil {
		return fmt.Errorf("create telegram bot: %w", err)
	}
	a.bot = b
	a.setStatus(channels.Status{Connected: true, LastPing: time.Now()})

	b.Start(ctx)

	a.setStatus(channels.Status{Connected: false})
	return nil
}

func (a *Adapter) Stop(_ context.Context) error {
	a.setStatus(channels.Status{Connected: false})
	return nil
}

// Send delivers msg.Content to the Telegram chat encoded in msg.ChatID.
func (a *Adapter) Send(ctx context.Context, msg models.OutboundMessage) error {
	if err := a.rateLimiter.Wait(ctx); err != nil {
		return err
	}
	chatID, err := strconv.ParseInt(msg.ChatID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid telegram chat id %q: %w", msg.ChatID, err)
	}
	_, err = a.bot.SendMessage(ctx, &tgbot.SendMessageParams{ChatID: chatID, Text: msg.Content})
	if err != nil {
		a.logger.Error("telegram send failed", "chat_id", chatID, "error", err)
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}

func (a *Adapter) Status() channels.Status {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.status
}

func (a *Adapter) setStatus(s channels.Status) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.status = s
}

func (a *Adapter) handleUpdate(_ context.Context, _ *tgbot.Bot, update *tgmodels.Update) {
	if update.Message == nil || update.Message.From == nil || update.Message.From.IsBot {
		return
	}
	if update.Message.Text == "" {
		return
	}
	a.bus.PublishInbound(models.InboundMessage{
		Channel:  a.Name(),
		SenderID: strconv.FormatInt(update.Message.From.ID, 10),
		ChatID:   strconv.FormatInt(update.Message.Chat.ID, 10),
		Content:  update.Message.Text,
	})
}
