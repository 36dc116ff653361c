// Package discord implements the Discord channel adapter using discordgo.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/nanobot-run/nanobot/internal/bus"
	"github.com/nanobot-run/nanobot/internal/channels"
	"github.com/nanobot-run/nanobot/pkg/models"
)

// discordSession narrows *discordgo.Session to what Adapter needs, so tests
// can substitute a fake.
type discordSession interface {
	Open() error
	Close() error
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	AddHandler(handler interface{}) func()
}

// Config holds Discord adapter configuration.
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
		c.RateLimit = 5
	}
	if c.RateBurst == 0 {
		c.RateBurst = 10
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}

// Adapter implements channels.Adapter for Discord, publishing each
// non-bot message onto the bus and sending bus outbound replies back to
// the originating channel.
type Adapter struct {
	config      Config
	session     discordSession
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
		logger:      config.Logger.With("adapter", "discord"),
	}, nil
}

func (a *Adapter) Name() string { return "discord" }

// Start opens the Discord gateway session and registers the message handler.
func (a *Adapter) Start(ctx context.Context) error {
	if a.session == nil {
		dg, err := discordgo.New("Bot " + a.config.Token)
		if err != nil {
			return fmt.Errorf("create discord session: %w", err)
		}
		a.session = dg
	}
	a.session.AddHandler(a.handleMessageCreate)

	if err := a.session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}
	a.setStatus(channels.Status{Connected: true, LastPing: time.Now()})

	<-ctx.Done()
	return a.Stop(context.Background())
}

func (a *Adapter) Stop(_ context.Context) error {
	a.mu.RLock()
	connected := a.status.Connected
	a.mu.RUnlock()
	if !connected {
		return nil
	}
	err := a.session.Close()
	a.setStatus(channels.Status{Connected: false})
	return err
}

// Send posts msg.Content to the Discord channel named by msg.ChatID.
func (a *Adapter) Send(ctx context.Context, msg models.OutboundMessage) error {
	if err := a.rateLimiter.Wait(ctx); err != nil {
		return err
	}
	_, err := a.session.ChannelMessageSend(msg.ChatID, msg.Content)
	if err != nil {
		a.logger.Error("discord send failed", "channel_id", msg.ChatID, "error", err)
		return fmt.Errorf("discord send: %w", err)
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

func (a *Adapter) handleMessageCreate(_ *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot || m.Content == "" {
		return
	}
	a.bus.PublishInbound(models.InboundMessage{
		Channel:  a.Name(),
		SenderID: m.Author.ID,
		ChatID:   m.ChannelID,
		Content:  m.Content,
	})
}
