// Package cli implements a stdin/stdout channel adapter, used for the
// interactive "nanobot chat" command and for local development without any
// chat platform configured.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/nanobot-run/nanobot/internal/bus"
	"github.com/nanobot-run/nanobot/internal/channels"
	"github.com/nanobot-run/nanobot/pkg/models"
)

// ChatID is the fixed chat identity for the local terminal session.
const ChatID = "local"

// Adapter reads lines from stdin as inbound messages and writes outbound
// replies addressed to ChatID to stdout.
type Adapter struct {
	Bus *bus.Bus
	In  io.Reader
	Out io.Writer

	mu     sync.RWMutex
	status channels.Status
}

// NewAdapter builds a CLI adapter wired to b, reading os.Stdin and writing
// os.Stdout.
func NewAdapter(b *bus.Bus) *Adapter {
	return &Adapter{Bus: b, In: os.Stdin, Out: os.Stdout}
}

func (a *Adapter) Name() string { return "cli" }

// Start reads stdin line by line until ctx is cancelled or stdin closes,
// publishing each line as an inbound message from ChatID.
func (a *Adapter) Start(ctx context.Context) error {
	a.setStatus(channels.Status{Connected: true, LastPing: time.Now()})

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(a.In)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			a.setStatus(channels.Status{Connected: false})
			return nil
		case line, ok := <-lines:
			if !ok {
				a.setStatus(channels.Status{Connected: false})
				return nil
			}
			a.setStatus(channels.Status{Connected: true, LastPing: time.Now()})
			a.Bus.PublishInbound(models.InboundMessage{
				Channel: a.Name(), SenderID: "local-user", ChatID: ChatID, Content: line,
			})
		}
	}
}

// Stop marks the adapter disconnected; the stdin-reading goroutine started
// by Start exits on its own once the caller cancels Start's ctx.
func (a *Adapter) Stop(_ context.Context) error {
	a.setStatus(channels.Status{Connected: false})
	return nil
}

// Send writes an outbound reply to stdout.
func (a *Adapter) Send(_ context.Context, msg models.OutboundMessage) error {
	_, err := fmt.Fprintln(a.Out, msg.Content)
	return err
}

// Status reports the adapter's current connection state.
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
