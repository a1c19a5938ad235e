package bot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pion/webrtc/v3"
	"github.com/rs/zerolog/log"
	"go.uber.org/atomic"

	"github.com/isqad/ptconnect/internal/call"
	"github.com/isqad/ptconnect/internal/config"
	"github.com/isqad/ptconnect/internal/core"
	"github.com/isqad/ptconnect/internal/media"
	"github.com/isqad/ptconnect/internal/restapi"
	"github.com/isqad/ptconnect/internal/rtc"
	"github.com/isqad/ptconnect/internal/service"
	"github.com/isqad/ptconnect/internal/signaling"
)

const statsInterval = 10 * time.Second

type Options struct {
	Role core.Role
	// AutoAnswer accepts every incoming call
	AutoAnswer bool
	// Call starts a call on the active connection once the directory is loaded
	Call    bool
	Video   bool
	Message string
}

// Bot is a headless participant. It plays media files into calls and counts what it receives.
type Bot struct {
	opts      Options
	workspace *service.Workspace
	api       *restapi.Client

	packets *atomic.Uint64
	bytes   *atomic.Uint64

	lock      sync.Mutex
	draining  map[string]bool
	lastPeer  webrtc.PeerConnectionState
	lastPhase call.Phase
}

// New signs in to the REST API and the signaling relay described by cfg
func New(ctx context.Context, cfg *config.Config, opts Options) (*Bot, error) {
	api, err := restapi.New(cfg.API.BaseURL, cfg.API.Token)
	if err != nil {
		return nil, err
	}

	channel, err := signaling.Dial(ctx, signaling.DialOptions{
		URL:   cfg.Signaling.URL,
		Token: cfg.API.Token,
		Jar:   api.Jar(),
	})
	if err != nil {
		api.Close()
		return nil, fmt.Errorf("dial signaling: %w", err)
	}

	rtcConf, err := config.NewWebRTCConfig(cfg)
	if err != nil {
		_ = channel.Close()
		api.Close()
		return nil, err
	}

	devices := &media.FileDevices{
		AudioFile:  cfg.Media.AudioFile,
		VideoFile:  cfg.Media.VideoFile,
		AllowAudio: cfg.Media.AllowAudio,
		AllowVideo: cfg.Media.AllowVideo,
		Clock:      clock.New(),
	}

	transports := rtc.NewTransportFactory(rtc.TransportParams{
		EnabledCodecs: cfg.Peer.EnabledCodecs,
		Config:        rtcConf,
	})

	w := service.New(channel, api, opts.Role, devices, transports, service.Options{PollInterval: cfg.Chat.PollInterval})

	b := newBot(w, opts)
	b.api = api

	return b, nil
}

func newBot(w *service.Workspace, opts Options) *Bot {
	b := &Bot{
		opts:      opts,
		workspace: w,
		packets:   atomic.NewUint64(0),
		bytes:     atomic.NewUint64(0),
		draining:  make(map[string]bool),
	}

	w.Chat().OnUpdate(func(id core.ConnectionID, messages []core.Message) {
		log.Debug().Str("service", "bot").Str("connectionID", string(id)).Int("messages", len(messages)).Msg("transcript updated")
	})

	return b
}

// Run drives the bot until ctx is cancelled or the signaling channel stops
func (b *Bot) Run(ctx context.Context) error {
	defer func() {
		if b.api != nil {
			b.api.Close()
		}
	}()

	states, unsubscribe := b.workspace.Call().Subscribe()
	defer unsubscribe()

	b.workspace.Start(ctx)

	if b.opts.Message != "" {
		if err := b.workspace.SendMessage(ctx, b.opts.Message); err != nil {
			log.Warn().Err(err).Str("service", "bot").Msg("send message")
		}
	}

	if b.opts.Call {
		if err := b.workspace.Call().StartCall(ctx, b.opts.Video); err != nil {
			log.Error().Err(err).Str("service", "bot").Msg("start call")
		}
	}

	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return b.workspace.Close()
		case <-b.workspace.Done():
			_ = b.workspace.Close()
			return b.workspace.Err()
		case state := <-states:
			b.onState(ctx, state)
		case <-ticker.C:
			packets, bytes := b.Stats()
			log.Info().Str("service", "bot").Uint64("packets", packets).Uint64("bytes", bytes).Msg("remote media")
		}
	}
}

// Stats returns RTP packets and payload bytes received so far
func (b *Bot) Stats() (uint64, uint64) {
	return b.packets.Load(), b.bytes.Load()
}

func (b *Bot) onState(ctx context.Context, state call.State) {
	b.lock.Lock()
	phaseChanged := state.Phase != b.lastPhase
	peerChanged := state.PeerState != b.lastPeer
	b.lastPhase = state.Phase
	b.lastPeer = state.PeerState
	b.lock.Unlock()

	if phaseChanged {
		log.Info().Str("service", "bot").Str("phase", state.Phase.String()).Str("connectionID", string(state.ConnectionID)).Msg("call phase")
	}

	if state.Incoming && state.HasPendingOffer && b.opts.AutoAnswer {
		if err := b.workspace.Call().AcceptIncoming(ctx, b.opts.Video); err != nil {
			log.Error().Err(err).Str("service", "bot").Str("connectionID", string(state.IncomingFrom)).Msg("accept call")
		}
	}

	// only the caller restarts, otherwise both sides would offer at once
	if peerChanged && state.PeerState == webrtc.PeerConnectionStateFailed && b.opts.Call {
		if err := b.workspace.Call().Reconnect(ctx); err != nil {
			log.Error().Err(err).Str("service", "bot").Msg("reconnect")
		}
	}

	for _, track := range state.RemoteTracks {
		b.lock.Lock()
		seen := b.draining[track.ID()]
		b.draining[track.ID()] = true
		b.lock.Unlock()

		if !seen {
			go b.drain(track)
		}
	}
}

// drain reads a remote track until its peer connection closes
func (b *Bot) drain(track rtc.RemoteTrack) {
	logger := log.With().Str("service", "bot").Str("track", track.ID()).Str("kind", track.Kind().String()).Logger()
	logger.Info().Msg("receiving remote track")

	var packets uint64
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			logger.Info().Err(err).Uint64("packets", packets).Msg("remote track finished")
			return
		}
		packets++
		b.packets.Inc()
		b.bytes.Add(uint64(len(pkt.Payload)))
	}
}
