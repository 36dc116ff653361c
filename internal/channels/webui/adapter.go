// Package webui implements the local Web-UI channel: a small HTTP server
// serving an authenticated chat endpoint, session identity carried by a
// signed JWT (spec §1 lists the local web UI as a channel).
package webui

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/nanobot-run/nanobot/internal/bus"
	"github.com/nanobot-run/nanobot/internal/channels"
	"github.com/nanobot-run/nanobot/pkg/models"
)

// Config holds Web-UI adapter configuration.
type Config struct {
	ListenAddr string
	// SigningKey signs and verifies the session JWT handed to the
	// single-page client after it presents Password.
	SigningKey []byte
	Password   string
	TokenTTL   time.Duration
	Logger     *slog.Logger
}

// Validate applies defaults and checks required fields.
func (c *Config) Validate() error {
	if len(c.SigningKey) == 0 {
		return &channels.ErrConfig{Field: "signing_key", Message: "required"}
	}
	if c.ListenAddr == "" {
		c.ListenAddr = "127.0.0.1:8787"
	}
	if c.TokenTTL <= 0 {
		c.TokenTTL = 24 * time.Hour
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}

type sessionClaims struct {
	ChatID string `json:"chat_id"`
	jwt.RegisteredClaims
}

// Adapter implements channels.Adapter, serving a minimal chat HTTP API:
// POST /login issues a session token, POST /chat publishes an inbound
// message and writes the matching outbound reply back as one JSON object.
type Adapter struct {
	config Config
	bus    *bus.Bus
	logger *slog.Logger
	server *http.Server

	mu       sync.RWMutex
	status   channels.Status
	waiters  map[string]chan models.OutboundMessage
	waiterMu sync.Mutex
}

// NewAdapter validates config and builds an adapter wired to b.
func NewAdapter(config Config, b *bus.Bus) (*Adapter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Adapter{
		config:  config,
		bus:     b,
		logger:  config.Logger.With("adapter", "webui"),
		waiters: make(map[string]chan models.OutboundMessage),
	}, nil
}

func (a *Adapter) Name() string { return "webui" }

// Start runs the HTTP server until ctx is cancelled.
func (a *Adapter) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/login", a.handleLogin)
	mux.HandleFunc("/chat", a.handleChat)

	a.server = &http.Server{Addr: a.config.ListenAddr, Handler: mux}
	a.setStatus(channels.Status{Connected: true, LastPing: time.Now()})

	errCh := make(chan error, 1)
	go func() { errCh <- a.server.ListenAndServe() }()

	select {
	case <-ctx.Done():
		return a.Stop(context.Background())
	case err := <-errCh:
		a.setStatus(channels.Status{Connected: false, Error: err.Error()})
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("webui server: %w", err)
		}
		return nil
	}
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.setStatus(channels.Status{Connected: false})
	if a.server == nil {
		return nil
	}
	return a.server.Shutdown(ctx)
}

// Send delivers an outbound reply to whichever /chat request is waiting on
// msg.ChatID, if any.
func (a *Adapter) Send(_ context.Context, msg models.OutboundMessage) error {
	a.waiterMu.Lock()
	ch, ok := a.waiters[msg.ChatID]
	a.waiterMu.Unlock()
	if !ok {
		return fmt.Errorf("no webui client waiting for chat %s", msg.ChatID)
	}
	select {
	case ch <- msg:
	default:
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

func (a *Adapter) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Password string `json:"password"`
		ChatID   string `json:"chat_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if body.Password != a.config.Password {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}
	if body.ChatID == "" {
		body.ChatID = "webui-default"
	}

	now := time.Now()
	claims := sessionClaims{
		ChatID: body.ChatID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.config.TokenTTL)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.config.SigningKey)
	if err != nil {
		http.Error(w, "failed to issue session token", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"token": token})
}

func (a *Adapter) handleChat(w http.ResponseWriter, r *http.Request) {
	claims, err := a.verify(r.Header.Get("Authorization"))
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var body struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	reply := make(chan models.OutboundMessage, 1)
	a.waiterMu.Lock()
	a.waiters[claims.ChatID] = reply
	a.waiterMu.Unlock()
	defer func() {
		a.waiterMu.Lock()
		delete(a.waiters, claims.ChatID)
		a.waiterMu.Unlock()
	}()

	a.bus.PublishInbound(models.InboundMessage{
		Channel: a.Name(), SenderID: claims.ChatID, ChatID: claims.ChatID, Content: body.Content,
	})

	select {
	case msg := <-reply:
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"content": msg.Content})
	case <-r.Context().Done():
	case <-time.After(2 * time.Minute):
		http.Error(w, "timed out waiting for a reply", http.StatusGatewayTimeout)
	}
}

func (a *Adapter) verify(authHeader string) (*sessionClaims, error) {
	const prefix = "Bearer "
	if len(authHeader) <= len(prefix) {
		return nil, fmt.Errorf("missing bearer token")
	}
	raw := authHeader[len(prefix):]

	claims := &sessionClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return a.config.SigningKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid session token: %w", err)
	}
	return claims, nil
}
