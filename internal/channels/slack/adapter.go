// Package slack implements the Slack channel adapter using Socket Mode.
package slack

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	goslack "github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/nanobot-run/nanobot/internal/bus"
	"github.com/nanobot-run/nanobot/internal/channels"
	"github.com/nanobot-run/nanobot/pkg/models"
)

// Config holds Slack adapter configuration. BotToken is an xoxb- token for
// API calls, AppToken an xapp- token for Socket Mode.
type Config struct {
	BotToken string
	AppToken string
	Logger   *slog.Logger
}

// Validate checks required fields and applies defaults.
func (c *Config) Validate() error {
	if c.BotToken == "" {
		return &channels.ErrConfig{Field: "bot_token", Message: "required"}
	}
	if c.AppToken == "" {
		return &channels.ErrConfig{Field: "app_token", Message: "required"}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}

// Adapter implements channels.Adapter for Slack via Socket Mode.
type Adapter struct {
	config       Config
	client       *goslack.Client
	socketClient *socketmode.Client
	bus          *bus.Bus
	logger       *slog.Logger

	mu     sync.RWMutex
	status channels.Status
}

// NewAdapter validates config and builds an adapter wired to b.
func NewAdapter(config Config, b *bus.Bus) (*Adapter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	client := goslack.New(config.BotToken, goslack.OptionAppLevelToken(config.AppToken))
	socketClient := socketmode.New(client)
	return &Adapter{
		config:       config,
		client:       client,
		socketClient: socketClient,
		bus:          b,
		logger:       config.Logger.With("adapter", "slack"),
	}, nil
}

func (a *Adapter) Name() string { return "slack" }

// Start authenticates, begins the Socket Mode event loop and blocks until
// ctx is cancelled.
func (a *Adapter) Start(ctx context.Context) error {
	if _, err := a.client.AuthTestContext(ctx); err != nil {
		return fmt.Errorf("slack auth test: %w", err)
	}

	go a.handleEvents(ctx)

	a.setStatus(channels.Status{Connected: true, LastPing: time.Now()})
	err := a.socketClient.RunContext(ctx)
	a.setStatus(channels.Status{Connected: false})
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("slack socket mode: %w", err)
	}
	return nil
}

func (a *Adapter) Stop(_ context.Context) error {
	a.setStatus(channels.Status{Connected: false})
	return nil
}

// Send posts msg.Content to the Slack channel named by msg.ChatID.
func (a *Adapter) Send(ctx context.Context, msg models.OutboundMessage) error {
	_, _, err := a.client.PostMessageContext(ctx, msg.ChatID, goslack.MsgOptionText(msg.Content, false))
	if err != nil {
		a.logger.Error("slack send failed", "channel", msg.ChatID, "error", err)
		return fmt.Errorf("slack send: %w", err)
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

func (a *Adapter) handleEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-a.socketClient.Events:
			if !ok {
				return
			}
			switch event.Type {
			case socketmode.EventTypeEventsAPI:
				a.handleEventsAPI(event)
			}
		}
	}
}

func (a *Adapter) handleEventsAPI(event socketmode.Event) {
	eventsAPIEvent, ok := event.Data.(slackevents.EventsAPIEvent)
	if !ok {
		return
	}
	if event.Request != nil {
		a.socketClient.Ack(*event.Request)
	}
	if eventsAPIEvent.Type != slackevents.CallbackEvent {
		return
	}
	ev, ok := eventsAPIEvent.InnerEvent.Data.(*slackevents.MessageEvent)
	if !ok {
		return
	}
	if ev.BotID != "" || ev.User == "" || ev.Text == "" {
		return
	}
	if ev.SubType != "" && ev.SubType != "file_share" {
		return
	}
	a.bus.PublishInbound(models.InboundMessage{
		Channel:  a.Name(),
		SenderID: ev.User,
		ChatID:   ev.Channel,
		Content:  ev.Text,
	})
}
