// Package whatsapp implements a contract-only WhatsApp channel adapter
// using whatsmeow. Pairing, multi-device session recovery and media
// handling are intentionally minimal: this adapter proves out the bus
// wiring (inbound text messages in, outbound text messages out) rather
// than reimplementing whatsmeow's full feature surface.
package whatsapp

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"

	"github.com/nanobot-run/nanobot/internal/bus"
	"github.com/nanobot-run/nanobot/internal/channels"
	"github.com/nanobot-run/nanobot/pkg/models"
)

// Config holds WhatsApp adapter configuration.
type Config struct {
	// SessionDBPath is the sqlite file whatsmeow persists its device/session
	// state to across restarts.
	SessionDBPath string
	Logger        *slog.Logger
}

// Validate applies defaults.
func (c *Config) Validate() error {
	if c.SessionDBPath == "" {
		return &channels.ErrConfig{Field: "session_db_path", Message: "required"}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}

// Adapter implements channels.Adapter for WhatsApp.
type Adapter struct {
	config Config
	client *whatsmeow.Client
	bus    *bus.Bus
	logger *slog.Logger

	mu     sync.RWMutex
	status channels.Status
}

// NewAdapter validates config and builds an adapter wired to b. It does
// not connect until Start is called.
func NewAdapter(ctx context.Context, config Config, b *bus.Bus) (*Adapter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	container, err := sqlstore.New(ctx, "sqlite3", "file:"+config.SessionDBPath+"?_foreign_keys=on", waLog.Noop)
	if err != nil {
		return nil, fmt.Errorf("open whatsapp session store: %w", err)
	}
	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("load whatsapp device: %w", err)
	}

	a := &Adapter{
		config: config,
		bus:    b,
		logger: config.Logger.With("adapter", "whatsapp"),
	}
	a.client = whatsmeow.NewClient(device, waLog.Noop)
	a.client.AddEventHandler(a.handleEvent)
	return a, nil
}

func (a *Adapter) Name() string { return "whatsapp" }

// Start connects the client. If no device is paired yet, the caller must
// obtain a pairing/QR code out of band (whatsmeow's QRChannel or
// PairPhone) before messages will flow — left to operator tooling since
// it requires interactive confirmation.
func (a *Adapter) Start(ctx context.Context) error {
	if a.client.Store.ID == nil {
		return fmt.Errorf("whatsapp device not paired: run pairing before starting the adapter")
	}
	if err := a.client.Connect(); err != nil {
		return fmt.Errorf("connect whatsapp client: %w", err)
	}
	a.setStatus(channels.Status{Connected: true, LastPing: time.Now()})

	<-ctx.Done()
	return a.Stop(context.Background())
}

func (a *Adapter) Stop(_ context.Context) error {
	a.client.Disconnect()
	a.setStatus(channels.Status{Connected: false})
	return nil
}

// Send delivers msg.Content as a text message to the WhatsApp JID in
// msg.ChatID.
func (a *Adapter) Send(ctx context.Context, msg models.OutboundMessage) error {
	jid, err := parseJID(msg.ChatID)
	if err != nil {
		return err
	}
	_, err = a.client.SendMessage(ctx, jid, textMessage(msg.Content))
	if err != nil {
		a.logger.Error("whatsapp send failed", "jid", msg.ChatID, "error", err)
		return fmt.Errorf("whatsapp send: %w", err)
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

func (a *Adapter) handleEvent(evt interface{}) {
	msg, ok := evt.(*events.Message)
	if !ok || msg.Info.IsFromMe {
		return
	}
	text := msg.Message.GetConversation()
	if text == "" {
		if ext := msg.Message.GetExtendedTextMessage(); ext != nil {
			text = ext.GetText()
		}
	}
	if text == "" {
		return
	}
	a.bus.PublishInbound(models.InboundMessage{
		Channel:  a.Name(),
		SenderID: msg.Info.Sender.String(),
		ChatID:   msg.Info.Chat.String(),
		Content:  text,
	})
}
