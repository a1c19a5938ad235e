package chat

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog/log"

	"github.com/isqad/ptconnect/internal/core"
	"github.com/isqad/ptconnect/internal/telemetry"
)

const (
	DefaultPollInterval = 3 * time.Second
	fetchTimeout        = 10 * time.Second
)

type API interface {
	Messages(ctx context.Context, id core.ConnectionID) ([]core.Message, error)
	SendMessage(ctx context.Context, id core.ConnectionID, text string) error
}

// ActiveConnection resolves the connection messages are sent to
type ActiveConnection interface {
	Active() (core.Connection, bool)
}

// Chat keeps the transcript of the watched connection fresh by polling
type Chat struct {
	api      API
	active   ActiveConnection
	clock    clock.Clock
	interval time.Duration

	lock         sync.RWMutex
	connectionID core.ConnectionID
	transcript   []core.Message
	cancel       context.CancelFunc
	done         chan struct{}

	listenersLock sync.Mutex
	listeners     []func(core.ConnectionID, []core.Message)
}

type Options struct {
	Clock        clock.Clock
	PollInterval time.Duration
}

func New(api API, active ActiveConnection, opts Options) *Chat {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}

	return &Chat{
		api:      api,
		active:   active,
		clock:    opts.Clock,
		interval: opts.PollInterval,
	}
}

// OnUpdate registers a callback fired whenever a fetched transcript is applied
func (c *Chat) OnUpdate(fn func(core.ConnectionID, []core.Message)) {
	c.listenersLock.Lock()
	defer c.listenersLock.Unlock()

	c.listeners = append(c.listeners, fn)
}

// Watch switches polling to id. The previous loop is stopped before the new one starts.
// An empty id only stops polling.
func (c *Chat) Watch(id core.ConnectionID) {
	c.lock.Lock()
	if id == c.connectionID && c.cancel != nil {
		c.lock.Unlock()
		return
	}
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.connectionID = id
	c.transcript = nil
	c.lock.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	if id == "" {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	done = make(chan struct{})
	// created here so a tick right after Watch returns is not lost
	ticker := c.clock.Ticker(c.interval)

	c.lock.Lock()
	if c.connectionID != id {
		// switched again while we were waiting for the old loop
		c.lock.Unlock()
		cancel()
		ticker.Stop()
		return
	}
	c.cancel, c.done = cancel, done
	c.lock.Unlock()

	go c.poll(ctx, id, ticker, done)
}

// Stop ends polling
func (c *Chat) Stop() {
	c.Watch("")
}

func (c *Chat) poll(ctx context.Context, id core.ConnectionID, ticker *clock.Ticker, done chan struct{}) {
	defer close(done)
	defer ticker.Stop()

	c.fetch(ctx, id)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.fetch(ctx, id)
		}
	}
}

// fetch applies the transcript of id unless the watched connection changed meanwhile.
// Concurrent fetches for the same connection are last-write-wins.
func (c *Chat) fetch(ctx context.Context, id core.ConnectionID) {
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	messages, err := c.api.Messages(ctx, id)
	if err != nil {
		if ctx.Err() == nil {
			log.Debug().Err(err).Str("service", "chat").Str("connectionID", string(id)).Msg("poll skipped")
		}
		telemetry.ChatPolled(false)
		return
	}
	telemetry.ChatPolled(true)

	c.lock.Lock()
	if c.connectionID != id {
		c.lock.Unlock()
		return
	}
	c.transcript = messages
	c.lock.Unlock()

	c.notify(id, messages)
}

// Refresh fetches the watched transcript now
func (c *Chat) Refresh(ctx context.Context) {
	c.lock.RLock()
	id := c.connectionID
	c.lock.RUnlock()

	if id == "" {
		return
	}
	c.fetch(ctx, id)
}

// Send posts text to the active connection and refreshes the transcript right away.
// Blank text or a connection that is not active is a no-op.
func (c *Chat) Send(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	conn, ok := c.active.Active()
	if !ok || !conn.IsActive() {
		return nil
	}

	if err := c.api.SendMessage(ctx, conn.ID, text); err != nil {
		return err
	}

	c.fetch(ctx, conn.ID)

	return nil
}

func (c *Chat) ConnectionID() core.ConnectionID {
	c.lock.RLock()
	defer c.lock.RUnlock()

	return c.connectionID
}

func (c *Chat) Transcript() []core.Message {
	c.lock.RLock()
	defer c.lock.RUnlock()

	return append([]core.Message(nil), c.transcript...)
}

func (c *Chat) notify(id core.ConnectionID, messages []core.Message) {
	c.listenersLock.Lock()
	listeners := append(([]func(core.ConnectionID, []core.Message))(nil), c.listeners...)
	c.listenersLock.Unlock()

	for _, fn := range listeners {
		fn(id, append([]core.Message(nil), messages...))
	}
}
