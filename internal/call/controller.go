package call

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pion/webrtc/v3"
	"github.com/rs/zerolog/log"

	"github.com/isqad/ptconnect/internal/core"
	"github.com/isqad/ptconnect/internal/media"
	"github.com/isqad/ptconnect/internal/rtc"
	"github.com/isqad/ptconnect/internal/signaling"
	"github.com/isqad/ptconnect/internal/signaling/rpc"
	"github.com/isqad/ptconnect/internal/telemetry"
)

const timerInterval = time.Second

// Signaler emits frames to the counterpart
type Signaler interface {
	Send(r rpc.Rpc) error
}

// Directory is the part of the connection directory the call session reads and steers
type Directory interface {
	Active() (core.Connection, bool)
	Select(id core.ConnectionID) bool
}

type Options struct {
	Clock clock.Clock
}

// Controller is the call session of one participant. It owns the peer connection and the local stream.
//
// op serializes user operations and inbound signaling, mu guards the session fields.
// Transport and track methods are never called with mu held.
type Controller struct {
	signaler     Signaler
	devices      media.Devices
	newTransport rtc.TransportFactory
	dir          Directory
	clock        clock.Clock

	op sync.Mutex

	mu                sync.Mutex
	connectionID      core.ConnectionID
	outgoing          bool
	inCall            bool
	callStartAt       time.Time
	elapsed           string
	micMuted          bool
	camOff            bool
	incoming          bool
	incomingFrom      core.ConnectionID
	pendingOffer      *webrtc.SessionDescription
	pendingCandidates []webrtc.ICECandidateInit
	stream            *media.Stream
	transport         rtc.Transport
	remoteTracks      []rtc.RemoteTrack
	peerState         webrtc.PeerConnectionState
	stopTimer         chan struct{}

	subsLock sync.Mutex
	subs     map[chan State]struct{}
}

func NewController(
	signaler Signaler,
	devices media.Devices,
	newTransport rtc.TransportFactory,
	dir Directory,
	opts Options,
) *Controller {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}

	return &Controller{
		signaler:     signaler,
		devices:      devices,
		newTransport: newTransport,
		dir:          dir,
		clock:        opts.Clock,
		subs:         make(map[chan State]struct{}),
	}
}

// Register routes inbound call frames to the controller
func (c *Controller) Register(router *signaling.Router) {
	router.OnOffer(c.onOffer)
	router.OnAnswer(c.onAnswer)
	router.OnAddICECandidate(c.onICECandidate)
	router.OnEnd(c.onEnd)
}

// StartCall calls the active connection. Audio is always captured, video only when asked.
// It is a no-op without an active connection or while already in a call.
func (c *Controller) StartCall(ctx context.Context, withVideo bool) error {
	c.op.Lock()
	defer c.op.Unlock()

	conn, ok := c.dir.Active()
	if !ok || !conn.IsActive() {
		return nil
	}

	c.mu.Lock()
	busy := c.inCall
	c.mu.Unlock()
	if busy {
		return nil
	}

	stream, err := c.acquire(ctx, withVideo)
	if err != nil {
		return fmt.Errorf("start call: %w", err)
	}

	c.mu.Lock()
	c.stream = stream
	c.connectionID = conn.ID
	c.outgoing = true
	c.mu.Unlock()
	c.publish()

	logger := log.With().Str("service", "call").Str("connectionID", string(conn.ID)).Logger()

	tr, err := c.ensureTransport(conn.ID)
	if err != nil {
		c.teardown()
		return fmt.Errorf("start call: %w", err)
	}

	if err := c.attachTracks(tr, stream); err != nil {
		c.teardown()
		return fmt.Errorf("start call: %w", err)
	}

	if err := c.sendOffer(tr, conn.ID); err != nil {
		c.teardown()
		return fmt.Errorf("start call: %w", err)
	}

	logger.Info().Bool("video", withVideo).Msg("offer sent")

	c.enterCall()

	return nil
}

// AcceptIncoming answers the pending offer. It is a no-op without one.
func (c *Controller) AcceptIncoming(ctx context.Context, withVideo bool) error {
	c.op.Lock()
	defer c.op.Unlock()

	c.mu.Lock()
	offer := c.pendingOffer
	from := c.incomingFrom
	candidates := c.pendingCandidates
	inCall := c.inCall
	current := c.connectionID
	c.mu.Unlock()

	if offer == nil {
		return nil
	}

	if inCall && from != current {
		// another connection calls in: hang up the current call first
		c.mu.Lock()
		c.clearIncomingLocked()
		c.mu.Unlock()
		c.end(true)

		c.mu.Lock()
		c.incoming = true
		c.incomingFrom = from
		c.pendingOffer = offer
		c.pendingCandidates = candidates
		c.mu.Unlock()

		inCall = false
	}

	stream, err := c.acquire(ctx, withVideo)
	if err != nil {
		return fmt.Errorf("accept call: %w", err)
	}

	c.mu.Lock()
	c.stream = stream
	c.connectionID = from
	old := c.transport
	if inCall {
		// the counterpart renegotiates with a fresh peer connection
		c.transport = nil
		c.remoteTracks = nil
		c.peerState = webrtc.PeerConnectionStateNew
	}
	c.mu.Unlock()

	if inCall && old != nil {
		_ = old.Close()
	}

	tr, err := c.ensureTransport(from)
	if err != nil {
		c.teardown()
		return fmt.Errorf("accept call: %w", err)
	}

	if err := c.attachTracks(tr, stream); err != nil {
		c.teardown()
		return fmt.Errorf("accept call: %w", err)
	}

	if err := c.answer(tr, from, *offer); err != nil {
		c.teardown()
		return fmt.Errorf("accept call: %w", err)
	}

	log.Info().Str("service", "call").Str("connectionID", string(from)).Bool("video", withVideo).Msg("answer sent")

	c.enterCall()

	return nil
}

// DeclineIncoming rejects the pending offer without touching media
func (c *Controller) DeclineIncoming() error {
	c.op.Lock()
	defer c.op.Unlock()

	c.mu.Lock()
	from := c.incomingFrom
	had := c.incoming || c.pendingOffer != nil
	// declining a renegotiation of the running call ends that call on both sides
	renegotiation := c.inCall && from != "" && from == c.connectionID
	c.clearIncomingLocked()
	c.mu.Unlock()

	if !had {
		return nil
	}
	c.publish()

	if from == "" {
		return nil
	}

	err := c.signaler.Send(rpc.NewEndRpc(from))
	if renegotiation {
		c.end(false)
	}

	return err
}

// EndCall hangs up. Calling it again, or after the counterpart hung up, does nothing.
func (c *Controller) EndCall() error {
	c.op.Lock()
	defer c.op.Unlock()

	c.end(true)

	return nil
}

// ToggleMute flips the local audio track without stopping capture
func (c *Controller) ToggleMute() {
	c.toggle(webrtc.RTPCodecTypeAudio)
}

// ToggleCamera flips the local video track without stopping capture
func (c *Controller) ToggleCamera() {
	c.toggle(webrtc.RTPCodecTypeVideo)
}

func (c *Controller) toggle(kind webrtc.RTPCodecType) {
	c.op.Lock()
	defer c.op.Unlock()

	c.mu.Lock()
	stream := c.stream
	c.mu.Unlock()

	if stream == nil {
		return
	}
	track := stream.Track(kind)
	if track == nil {
		return
	}

	enabled := !track.Enabled()
	track.SetEnabled(enabled)

	c.mu.Lock()
	if kind == webrtc.RTPCodecTypeAudio {
		c.micMuted = !enabled
	} else {
		c.camOff = !enabled
	}
	c.mu.Unlock()

	c.publish()
}

// Reconnect replaces the peer connection and sends a fresh offer. The local stream and the timer survive.
func (c *Controller) Reconnect(ctx context.Context) error {
	c.op.Lock()
	defer c.op.Unlock()

	c.mu.Lock()
	if !c.inCall {
		c.mu.Unlock()
		return nil
	}
	old := c.transport
	connID := c.connectionID
	stream := c.stream
	c.transport = nil
	c.remoteTracks = nil
	c.peerState = webrtc.PeerConnectionStateNew
	c.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}

	log.Info().Str("service", "call").Str("connectionID", string(connID)).Msg("reconnecting")

	tr, err := c.ensureTransport(connID)
	if err != nil {
		return fmt.Errorf("reconnect: %w", err)
	}

	if stream != nil {
		if err := c.attachTracks(tr, stream); err != nil {
			return fmt.Errorf("reconnect: %w", err)
		}
	}

	if err := c.sendOffer(tr, connID); err != nil {
		return fmt.Errorf("reconnect: %w", err)
	}

	c.publish()

	return nil
}

// State returns the current snapshot
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.stateLocked()
}

// Subscribe delivers the latest state after every change. A slow reader only sees the newest snapshot.
func (c *Controller) Subscribe() (<-chan State, func()) {
	ch := make(chan State, 1)
	ch <- c.State()

	c.subsLock.Lock()
	c.subs[ch] = struct{}{}
	c.subsLock.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.subsLock.Lock()
			delete(c.subs, ch)
			c.subsLock.Unlock()
		})
	}
}

// Close releases the session as a local hang up would
func (c *Controller) Close() error {
	return c.EndCall()
}

func (c *Controller) onOffer(connID core.ConnectionID, sdp webrtc.SessionDescription) error {
	c.op.Lock()
	defer c.op.Unlock()

	c.mu.Lock()
	c.incoming = true
	c.incomingFrom = connID
	c.pendingOffer = &sdp
	c.pendingCandidates = nil
	c.mu.Unlock()

	log.Info().Str("service", "call").Str("connectionID", string(connID)).Msg("incoming call")

	c.dir.Select(connID)
	c.publish()

	return nil
}

func (c *Controller) onAnswer(connID core.ConnectionID, sdp webrtc.SessionDescription) error {
	c.op.Lock()
	defer c.op.Unlock()

	c.mu.Lock()
	tr := c.transport
	current := c.connectionID
	c.mu.Unlock()

	if tr == nil {
		return nil
	}
	if connID != current {
		log.Debug().Str("service", "call").Str("connectionID", string(connID)).Msg("answer for another connection dropped")
		return nil
	}

	return tr.SetRemoteDescription(sdp)
}

// onICECandidate keeps candidates of a pending offer until it is accepted
func (c *Controller) onICECandidate(connID core.ConnectionID, candidate webrtc.ICECandidateInit) error {
	c.op.Lock()
	defer c.op.Unlock()

	c.mu.Lock()
	if c.pendingOffer != nil && connID == c.incomingFrom {
		c.pendingCandidates = append(c.pendingCandidates, candidate)
		c.mu.Unlock()
		return nil
	}
	tr := c.transport
	c.mu.Unlock()

	if tr == nil {
		return nil
	}

	return tr.AddICECandidate(candidate)
}

func (c *Controller) onEnd(connID core.ConnectionID) error {
	c.op.Lock()
	defer c.op.Unlock()

	log.Debug().Str("service", "call").Str("connectionID", string(connID)).Msg("remote end")

	c.end(false)

	return nil
}

func (c *Controller) acquire(ctx context.Context, withVideo bool) (*media.Stream, error) {
	c.mu.Lock()
	stream := c.stream
	c.mu.Unlock()

	if stream != nil && (!withVideo || stream.Track(webrtc.RTPCodecTypeVideo) != nil) {
		return stream, nil
	}

	fresh, err := c.devices.GetUserMedia(ctx, media.Constraints{Audio: true, Video: withVideo})
	if err != nil {
		return nil, err
	}
	if stream != nil {
		stream.Stop()
	}

	return fresh, nil
}

// ensureTransport returns the current peer connection, creating it for connID if there is none
func (c *Controller) ensureTransport(connID core.ConnectionID) (rtc.Transport, error) {
	c.mu.Lock()
	tr := c.transport
	c.mu.Unlock()
	if tr != nil {
		return tr, nil
	}

	tr, err := c.newTransport()
	if err != nil {
		return nil, err
	}

	tr.OnICECandidate(func(candidate webrtc.ICECandidateInit) {
		if err := c.signaler.Send(rpc.NewICECandidateRpc(connID, candidate)); err != nil {
			log.Debug().Err(err).Str("service", "call").Str("connectionID", string(connID)).Msg("could not send ICE candidate")
		}
	})
	tr.OnTrack(func(track rtc.RemoteTrack) {
		c.mu.Lock()
		if c.transport != tr {
			c.mu.Unlock()
			return
		}
		c.remoteTracks = append(c.remoteTracks, track)
		c.mu.Unlock()

		c.publish()
	})
	tr.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		c.mu.Lock()
		if c.transport != tr {
			c.mu.Unlock()
			return
		}
		c.peerState = state
		c.mu.Unlock()

		log.Debug().Str("service", "call").Str("connectionID", string(connID)).Str("state", state.String()).Msg("connection state changed")

		switch state {
		case webrtc.PeerConnectionStateConnected:
			telemetry.Operation("ice_connection", "")
		case webrtc.PeerConnectionStateFailed:
			telemetry.Operation("ice_connection", "state_failed")
		}

		c.publish()
	})

	c.mu.Lock()
	c.transport = tr
	c.mu.Unlock()

	return tr, nil
}

// attachTracks adds every local track whose kind the transport does not carry yet
func (c *Controller) attachTracks(tr rtc.Transport, stream *media.Stream) error {
	for _, track := range stream.Tracks() {
		if tr.HasTrack(track.Kind()) {
			continue
		}
		if err := tr.AddTrack(track.Local()); err != nil {
			return err
		}
	}
	return nil
}

func (c *Controller) sendOffer(tr rtc.Transport, connID core.ConnectionID) error {
	offer, err := tr.CreateOffer()
	if err != nil {
		return err
	}
	if err := tr.SetLocalDescription(offer); err != nil {
		return err
	}
	return c.signaler.Send(rpc.NewSDPOfferRpc(connID, offer))
}

func (c *Controller) answer(tr rtc.Transport, connID core.ConnectionID, offer webrtc.SessionDescription) error {
	if err := tr.SetRemoteDescription(offer); err != nil {
		return err
	}

	c.mu.Lock()
	candidates := c.pendingCandidates
	c.pendingCandidates = nil
	c.mu.Unlock()

	for _, candidate := range candidates {
		if err := tr.AddICECandidate(candidate); err != nil {
			log.Debug().Err(err).Str("service", "call").Msg("drop buffered ICE candidate")
		}
	}

	answer, err := tr.CreateAnswer()
	if err != nil {
		return err
	}
	if err := tr.SetLocalDescription(answer); err != nil {
		return err
	}
	return c.signaler.Send(rpc.NewSDPAnswerRpc(connID, answer))
}

func (c *Controller) enterCall() {
	c.mu.Lock()
	started := !c.inCall
	c.inCall = true
	c.outgoing = false
	c.clearIncomingLocked()
	if c.callStartAt.IsZero() {
		c.callStartAt = c.clock.Now()
		c.elapsed = formatElapsed(0)
	}
	if c.stream != nil {
		if t := c.stream.Track(webrtc.RTPCodecTypeAudio); t != nil {
			c.micMuted = !t.Enabled()
		}
		if t := c.stream.Track(webrtc.RTPCodecTypeVideo); t != nil {
			c.camOff = !t.Enabled()
		}
	}
	if c.stopTimer == nil {
		c.stopTimer = make(chan struct{})
		go c.runTimer(c.clock.Ticker(timerInterval), c.stopTimer)
	}
	c.mu.Unlock()

	if started {
		telemetry.CallStarted()
	}
	c.publish()
}

func (c *Controller) runTimer(ticker *clock.Ticker, stop <-chan struct{}) {
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.tick()
		}
	}
}

// tick recomputes the elapsed display from the current session
func (c *Controller) tick() {
	c.mu.Lock()
	if c.callStartAt.IsZero() {
		c.mu.Unlock()
		return
	}
	c.elapsed = formatElapsed(c.clock.Since(c.callStartAt))
	c.mu.Unlock()

	c.publish()
}

// end tears the session down, emitting end first when asked and there was something to end
func (c *Controller) end(emit bool) {
	c.mu.Lock()
	connID := c.connectionID
	ringing := c.incomingFrom
	if c.pendingOffer == nil {
		ringing = ""
	}
	active := c.inCall || c.outgoing || c.transport != nil || c.stream != nil
	c.mu.Unlock()

	if emit {
		if active && connID != "" {
			c.sendEnd(connID)
		}
		if ringing != "" && ringing != connID {
			c.sendEnd(ringing)
		}
	}

	wasInCall := c.teardown()
	if wasInCall {
		telemetry.CallEnded()
		log.Info().Str("service", "call").Str("connectionID", string(connID)).Msg("call ended")
	}
}

func (c *Controller) sendEnd(connID core.ConnectionID) {
	if err := c.signaler.Send(rpc.NewEndRpc(connID)); err != nil {
		log.Warn().Err(err).Str("service", "call").Str("connectionID", string(connID)).Msg("could not send end")
	}
}

// teardown releases media and the peer connection and resets every session field
func (c *Controller) teardown() bool {
	c.mu.Lock()
	tr := c.transport
	stream := c.stream
	stop := c.stopTimer
	wasInCall := c.inCall

	c.transport = nil
	c.stream = nil
	c.stopTimer = nil
	c.connectionID = ""
	c.outgoing = false
	c.inCall = false
	c.callStartAt = time.Time{}
	c.elapsed = ""
	c.micMuted = false
	c.camOff = false
	c.remoteTracks = nil
	c.peerState = webrtc.PeerConnectionStateNew
	c.clearIncomingLocked()
	c.mu.Unlock()

	if stop != nil {
		close(stop)
	}
	if stream != nil {
		stream.Stop()
	}
	if tr != nil {
		if err := tr.Close(); err != nil {
			log.Debug().Err(err).Str("service", "call").Msg("close transport")
		}
	}

	c.publish()

	return wasInCall
}

func (c *Controller) clearIncomingLocked() {
	c.incoming = false
	c.incomingFrom = ""
	c.pendingOffer = nil
	c.pendingCandidates = nil
}

func (c *Controller) stateLocked() State {
	phase := PhaseIdle
	switch {
	case c.inCall:
		phase = PhaseInCall
	case c.outgoing:
		phase = PhaseOutgoing
	case c.incoming:
		phase = PhaseIncoming
	}

	return State{
		Phase:           phase,
		ConnectionID:    c.connectionID,
		InCall:          c.inCall,
		CallStartAt:     c.callStartAt,
		Elapsed:         c.elapsed,
		MicMuted:        c.micMuted,
		CamOff:          c.camOff,
		Incoming:        c.incoming,
		IncomingFrom:    c.incomingFrom,
		HasPendingOffer: c.pendingOffer != nil,
		LocalStream:     c.stream,
		RemoteTracks:    append([]rtc.RemoteTrack(nil), c.remoteTracks...),
		PeerState:       c.peerState,
	}
}

func (c *Controller) publish() {
	state := c.State()

	c.subsLock.Lock()
	defer c.subsLock.Unlock()

	for ch := range c.subs {
		select {
		case ch <- state:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- state:
			default:
			}
		}
	}
}
