package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog/log"

	"github.com/isqad/ptconnect/internal/call"
	"github.com/isqad/ptconnect/internal/chat"
	"github.com/isqad/ptconnect/internal/core"
	"github.com/isqad/ptconnect/internal/directory"
	"github.com/isqad/ptconnect/internal/media"
	"github.com/isqad/ptconnect/internal/rtc"
	"github.com/isqad/ptconnect/internal/signaling"
	"github.com/isqad/ptconnect/internal/signaling/rpc"
)

// API is the REST surface a workspace consumes
type API interface {
	directory.API
	chat.API
}

type Options struct {
	Clock        clock.Clock
	PollInterval time.Duration
}

// Workspace is one signed-in participant: the connection list, the chat of the selected
// connection and the call session, all sharing one signaling channel.
type Workspace struct {
	channel   signaling.Channel
	router    *signaling.Router
	directory *directory.Directory
	chat      *chat.Chat
	call      *call.Controller

	lock   sync.Mutex
	joined map[core.ConnectionID]bool

	listenOnce sync.Once
	done       chan struct{}
	listenErr  error
}

func New(
	channel signaling.Channel,
	api API,
	role core.Role,
	devices media.Devices,
	newTransport rtc.TransportFactory,
	opts Options,
) *Workspace {
	dir := directory.New(api, role)

	w := &Workspace{
		channel:   channel,
		router:    signaling.NewRouter(),
		directory: dir,
		chat:      chat.New(api, dir, chat.Options{Clock: opts.Clock, PollInterval: opts.PollInterval}),
		call:      call.NewController(channel, devices, newTransport, dir, call.Options{Clock: opts.Clock}),
		joined:    make(map[core.ConnectionID]bool),
		done:      make(chan struct{}),
	}

	w.call.Register(w.router)
	w.router.OnChat(w.onChat)
	dir.OnChange(w.onDirectoryChange)

	return w
}

// Start loads the directory and begins listening for signaling frames
func (w *Workspace) Start(ctx context.Context) {
	w.directory.Load(ctx)

	// an empty directory does not notify, the active chat still needs a watcher
	w.onDirectoryChange(w.directory.Snapshot())

	w.listenOnce.Do(func() {
		go func() {
			defer close(w.done)

			if err := w.channel.Listen(w.router); err != nil {
				log.Warn().Err(err).Str("service", "workspace").Msg("signaling channel stopped")
				w.lock.Lock()
				w.listenErr = err
				w.lock.Unlock()
			}
		}()
	})
}

func (w *Workspace) Directory() *directory.Directory {
	return w.directory
}

func (w *Workspace) Chat() *chat.Chat {
	return w.chat
}

func (w *Workspace) Call() *call.Controller {
	return w.call
}

// Done is closed when the signaling channel stops
func (w *Workspace) Done() <-chan struct{} {
	return w.done
}

func (w *Workspace) Err() error {
	w.lock.Lock()
	defer w.lock.Unlock()

	return w.listenErr
}

// SendMessage posts text to the active connection and nudges the counterpart to refresh
func (w *Workspace) SendMessage(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	conn, ok := w.directory.Active()
	if !ok || !conn.IsActive() {
		return nil
	}

	if err := w.chat.Send(ctx, text); err != nil {
		return err
	}

	if err := w.channel.Send(rpc.NewChatRpc(conn.ID)); err != nil {
		log.Debug().Err(err).Str("service", "workspace").Str("connectionID", string(conn.ID)).Msg("chat nudge not sent")
	}

	return nil
}

// Close hangs up, stops polling and closes the signaling channel
func (w *Workspace) Close() error {
	_ = w.call.Close()
	w.chat.Stop()

	return w.channel.Close()
}

func (w *Workspace) onDirectoryChange(snapshot directory.Snapshot) {
	ids := core.ConnectionIDs(snapshot.Connections)

	w.lock.Lock()
	changed := len(ids) != len(w.joined)
	for _, id := range ids {
		if !w.joined[id] {
			changed = true
		}
	}
	if changed {
		w.joined = make(map[core.ConnectionID]bool, len(ids))
		for _, id := range ids {
			w.joined[id] = true
		}
	}
	w.lock.Unlock()

	if changed && len(ids) > 0 {
		if err := w.channel.Join(ids...); err != nil {
			log.Warn().Err(err).Str("service", "workspace").Msg("join rooms")

			// retry on the next change
			w.lock.Lock()
			w.joined = make(map[core.ConnectionID]bool)
			w.lock.Unlock()
		}
	}

	w.chat.Watch(snapshot.Active)
}

func (w *Workspace) onChat(connID core.ConnectionID) error {
	if w.chat.ConnectionID() != connID {
		return nil
	}

	// keep the signaling loop free while the transcript is fetched
	go w.chat.Refresh(context.Background())

	return nil
}
