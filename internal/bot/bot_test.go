package bot

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isqad/ptconnect/internal/call"
	"github.com/isqad/ptconnect/internal/core"
	"github.com/isqad/ptconnect/internal/media"
	"github.com/isqad/ptconnect/internal/rtc"
	"github.com/isqad/ptconnect/internal/service"
	"github.com/isqad/ptconnect/internal/signaling"
	"github.com/isqad/ptconnect/internal/signaling/rpc"
)

type MockChannel struct {
	lock    sync.Mutex
	sent    []rpc.Rpc
	inbound chan rpc.Rpc
	stop    chan struct{}
	once    sync.Once
}

func (c *MockChannel) Send(r rpc.Rpc) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.sent = append(c.sent, r)
	return nil
}

func (c *MockChannel) Join(ids ...core.ConnectionID) error {
	return nil
}

func (c *MockChannel) Listen(router *signaling.Router) error {
	for {
		select {
		case <-c.stop:
			return nil
		case r := <-c.inbound:
			_ = router.Route(r)
		}
	}
}

func (c *MockChannel) Close() error {
	c.once.Do(func() { close(c.stop) })
	return nil
}

func (c *MockChannel) count(method rpc.Method) int {
	c.lock.Lock()
	defer c.lock.Unlock()
	n := 0
	for _, r := range c.sent {
		if r.GetMethod() == method {
			n++
		}
	}
	return n
}

type MockAPI struct{}

func (MockAPI) Trainers(ctx context.Context) ([]core.Trainer, error) { return nil, nil }

func (MockAPI) MyConnections(ctx context.Context) ([]core.Connection, error) {
	return []core.Connection{{ID: "A", Status: core.ConnectionActive}}, nil
}

func (MockAPI) TrainerConnections(ctx context.Context) ([]core.Connection, error) {
	return []core.Connection{{ID: "A", Status: core.ConnectionActive}}, nil
}

func (MockAPI) RequestConnection(ctx context.Context, trainerID string) error { return nil }

func (MockAPI) AcceptConnection(ctx context.Context, id core.ConnectionID) error { return nil }

func (MockAPI) CancelConnection(ctx context.Context, id core.ConnectionID) error { return nil }

func (MockAPI) Messages(ctx context.Context, id core.ConnectionID) ([]core.Message, error) {
	return nil, nil
}

func (MockAPI) SendMessage(ctx context.Context, id core.ConnectionID, text string) error { return nil }

type MockDevices struct{}

func (MockDevices) GetUserMedia(ctx context.Context, constraints media.Constraints) (*media.Stream, error) {
	audio, err := media.NewTrack(webrtc.RTPCodecTypeAudio, webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}, "audio", "bot")
	if err != nil {
		return nil, err
	}
	return media.NewStream(audio), nil
}

type MockRemoteTrack struct {
	lock    sync.Mutex
	packets int
}

func (t *MockRemoteTrack) ID() string { return "remote-audio" }
func (t *MockRemoteTrack) StreamID() string { return "remote" }
func (t *MockRemoteTrack) Kind() webrtc.RTPCodecType { return webrtc.RTPCodecTypeAudio }

func (t *MockRemoteTrack) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) {
	t.lock.Lock()
	defer t.lock.Unlock()
	if t.packets == 0 {
		return nil, nil, io.EOF
	}
	t.packets--
	return &rtp.Packet{Payload: []byte{1, 2, 3, 4}}, nil, nil
}

// MockTransport delivers one remote track as soon as the remote description is set
type MockTransport struct {
	lock    sync.Mutex
	kinds   map[webrtc.RTPCodecType]bool
	onTrack func(rtc.RemoteTrack)
}

func (t *MockTransport) AddTrack(track webrtc.TrackLocal) error {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.kinds[track.Kind()] = true
	return nil
}

func (t *MockTransport) HasTrack(kind webrtc.RTPCodecType) bool {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.kinds[kind]
}

func (t *MockTransport) CreateOffer() (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "offer"}, nil
}

func (t *MockTransport) CreateAnswer() (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer"}, nil
}

func (t *MockTransport) SetLocalDescription(sdp webrtc.SessionDescription) error { return nil }

func (t *MockTransport) SetRemoteDescription(sdp webrtc.SessionDescription) error {
	t.lock.Lock()
	onTrack := t.onTrack
	t.lock.Unlock()

	go onTrack(&MockRemoteTrack{packets: 5})
	return nil
}

func (t *MockTransport) AddICECandidate(candidate webrtc.ICECandidateInit) error { return nil }
func (t *MockTransport) OnICECandidate(fn func(webrtc.ICECandidateInit)) {}

func (t *MockTransport) OnTrack(fn func(rtc.RemoteTrack)) {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.onTrack = fn
}

func (t *MockTransport) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {}
func (t *MockTransport) Close() error { return nil }

func newMockTransport() (rtc.Transport, error) {
	return &MockTransport{kinds: map[webrtc.RTPCodecType]bool{}}, nil
}

func TestAutoAnswerDrainsRemoteMedia(t *testing.T) {
	channel := &MockChannel{inbound: make(chan rpc.Rpc), stop: make(chan struct{})}
	w := service.New(channel, MockAPI{}, core.RoleTrainer, MockDevices{}, newMockTransport, service.Options{Clock: clock.NewMock()})
	b := newBot(w, Options{Role: core.RoleTrainer, AutoAnswer: true})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	channel.inbound <- rpc.NewSDPOfferRpc("A", webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0"})

	assert.Eventually(t, func() bool {
		return w.Call().State().Phase == call.PhaseInCall
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, channel.count(rpc.SDPAnswerMethod))

	assert.Eventually(t, func() bool {
		packets, bytes := b.Stats()
		return packets == 5 && bytes == 20
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.Nil(t, err)
	case <-time.After(time.Second):
		t.Fatal("bot did not stop")
	}
	assert.Equal(t, 1, channel.count(rpc.EndMethod))
}
