package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isqad/ptconnect/internal/call"
	"github.com/isqad/ptconnect/internal/core"
	"github.com/isqad/ptconnect/internal/media"
	"github.com/isqad/ptconnect/internal/rtc"
	"github.com/isqad/ptconnect/internal/signaling"
	"github.com/isqad/ptconnect/internal/signaling/rpc"
)

type MockChannel struct {
	lock   sync.Mutex
	sent   []rpc.Rpc
	joins  [][]core.ConnectionID
	closed bool

	inbound chan rpc.Rpc
	stop    chan struct{}
	once    sync.Once
}

func NewMockChannel() *MockChannel {
	return &MockChannel{
		inbound: make(chan rpc.Rpc),
		stop:    make(chan struct{}),
	}
}

func (c *MockChannel) Send(r rpc.Rpc) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.closed {
		return signaling.ErrChannelClosed
	}
	c.sent = append(c.sent, r)
	return nil
}

func (c *MockChannel) Join(ids ...core.ConnectionID) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.joins = append(c.joins, append([]core.ConnectionID(nil), ids...))
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
	c.once.Do(func() {
		c.lock.Lock()
		c.closed = true
		c.lock.Unlock()
		close(c.stop)
	})
	return nil
}

func (c *MockChannel) deliver(r rpc.Rpc) {
	c.inbound <- r
}

func (c *MockChannel) frames(method rpc.Method) []rpc.Rpc {
	c.lock.Lock()
	defer c.lock.Unlock()
	var out []rpc.Rpc
	for _, r := range c.sent {
		if r.GetMethod() == method {
			out = append(out, r)
		}
	}
	return out
}

func (c *MockChannel) joinCalls() [][]core.ConnectionID {
	c.lock.Lock()
	defer c.lock.Unlock()
	return append([][]core.ConnectionID(nil), c.joins...)
}

type MockAPI struct {
	lock        sync.Mutex
	connections []core.Connection
	messages    map[core.ConnectionID][]core.Message
	fetches     map[core.ConnectionID]int
	requested   []string
}

func NewMockAPI(connections ...core.Connection) *MockAPI {
	return &MockAPI{
		connections: connections,
		messages:    map[core.ConnectionID][]core.Message{},
		fetches:     map[core.ConnectionID]int{},
	}
}

func (a *MockAPI) Trainers(ctx context.Context) ([]core.Trainer, error) {
	return []core.Trainer{{ID: "t1"}, {ID: "t2"}}, nil
}

func (a *MockAPI) MyConnections(ctx context.Context) ([]core.Connection, error) {
	a.lock.Lock()
	defer a.lock.Unlock()
	return append([]core.Connection(nil), a.connections...), nil
}

func (a *MockAPI) TrainerConnections(ctx context.Context) ([]core.Connection, error) {
	return a.MyConnections(ctx)
}

func (a *MockAPI) RequestConnection(ctx context.Context, trainerID string) error {
	a.lock.Lock()
	defer a.lock.Unlock()
	a.requested = append(a.requested, trainerID)
	a.connections = append(a.connections, core.Connection{
		ID:      core.ConnectionID("c-" + trainerID),
		Status:  core.ConnectionPending,
		Trainer: core.Trainer{ID: trainerID},
	})
	return nil
}

func (a *MockAPI) AcceptConnection(ctx context.Context, id core.ConnectionID) error {
	return nil
}

func (a *MockAPI) CancelConnection(ctx context.Context, id core.ConnectionID) error {
	return nil
}

func (a *MockAPI) Messages(ctx context.Context, id core.ConnectionID) ([]core.Message, error) {
	a.lock.Lock()
	defer a.lock.Unlock()
	a.fetches[id]++
	return append([]core.Message(nil), a.messages[id]...), nil
}

func (a *MockAPI) SendMessage(ctx context.Context, id core.ConnectionID, text string) error {
	a.lock.Lock()
	defer a.lock.Unlock()
	a.messages[id] = append(a.messages[id], core.Message{ConnectionID: id, Text: text, SenderType: core.SenderUser})
	return nil
}

func (a *MockAPI) fetchCount(id core.ConnectionID) int {
	a.lock.Lock()
	defer a.lock.Unlock()
	return a.fetches[id]
}

type MockDevices struct {
	lock  sync.Mutex
	calls int
}

func (d *MockDevices) GetUserMedia(ctx context.Context, constraints media.Constraints) (*media.Stream, error) {
	d.lock.Lock()
	d.calls++
	d.lock.Unlock()

	audio, err := media.NewTrack(webrtc.RTPCodecTypeAudio, webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}, "audio", "local")
	if err != nil {
		return nil, err
	}
	return media.NewStream(audio), nil
}

func (d *MockDevices) callCount() int {
	d.lock.Lock()
	defer d.lock.Unlock()
	return d.calls
}

func noTransport() (rtc.Transport, error) {
	panic("no peer connection expected")
}

func newTestWorkspace(t *testing.T, api *MockAPI) (*Workspace, *MockChannel, *MockDevices) {
	t.Helper()

	channel := NewMockChannel()
	devices := &MockDevices{}
	w := New(channel, api, core.RoleClient, devices, noTransport, Options{Clock: clock.NewMock()})
	w.Start(context.Background())
	t.Cleanup(func() { _ = w.Close() })

	return w, channel, devices
}

func TestStartJoinsEveryConnection(t *testing.T) {
	api := NewMockAPI(
		core.Connection{ID: "A", Status: core.ConnectionActive, Trainer: core.Trainer{ID: "t1"}},
		core.Connection{ID: "B", Status: core.ConnectionActive, Trainer: core.Trainer{ID: "t3"}},
	)
	w, channel, _ := newTestWorkspace(t, api)

	assert.Equal(t, [][]core.ConnectionID{{"A", "B"}}, channel.joinCalls())
	assert.Equal(t, core.ConnectionID("A"), w.Chat().ConnectionID())
	assert.Eventually(t, func() bool { return api.fetchCount("A") == 1 }, time.Second, 5*time.Millisecond)

	// selection alone does not re-join
	require.True(t, w.Directory().Select("B"))
	assert.Len(t, channel.joinCalls(), 1)
	assert.Equal(t, core.ConnectionID("B"), w.Chat().ConnectionID())

	w.Directory().RequestConnect(context.Background(), "t2")
	joins := channel.joinCalls()
	require.Len(t, joins, 2)
	assert.Equal(t, []core.ConnectionID{"A", "B", "c-t2"}, joins[1])
}

func TestIncomingOfferSelectsConnection(t *testing.T) {
	api := NewMockAPI(
		core.Connection{ID: "A", Status: core.ConnectionActive},
		core.Connection{ID: "B", Status: core.ConnectionActive},
	)
	w, channel, devices := newTestWorkspace(t, api)

	channel.deliver(rpc.NewSDPOfferRpc("B", webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0"}))

	assert.Eventually(t, func() bool {
		return w.Call().State().Phase == call.PhaseIncoming
	}, time.Second, 5*time.Millisecond)

	active, ok := w.Directory().Active()
	require.True(t, ok)
	assert.Equal(t, core.ConnectionID("B"), active.ID)
	assert.Equal(t, core.ConnectionID("B"), w.Chat().ConnectionID())
	assert.Equal(t, 0, devices.callCount())

	require.Nil(t, w.Call().DeclineIncoming())
	ends := channel.frames(rpc.EndMethod)
	require.Len(t, ends, 1)
	assert.Equal(t, core.ConnectionID("B"), ends[0].GetConnectionID())
}

func TestSendMessageNudgesCounterpart(t *testing.T) {
	api := NewMockAPI(core.Connection{ID: "A", Status: core.ConnectionActive})
	w, channel, _ := newTestWorkspace(t, api)

	require.Nil(t, w.SendMessage(context.Background(), "   "))
	assert.Len(t, channel.frames(rpc.ChatMethod), 0)

	require.Nil(t, w.SendMessage(context.Background(), "legs today"))

	nudges := channel.frames(rpc.ChatMethod)
	require.Len(t, nudges, 1)
	assert.Equal(t, core.ConnectionID("A"), nudges[0].GetConnectionID())

	transcript := w.Chat().Transcript()
	require.Len(t, transcript, 1)
	assert.Equal(t, "legs today", transcript[0].Text)
}

func TestSendMessageOnPendingConnection(t *testing.T) {
	api := NewMockAPI(core.Connection{ID: "A", Status: core.ConnectionPending})
	w, channel, _ := newTestWorkspace(t, api)

	require.Nil(t, w.SendMessage(context.Background(), "hello"))
	assert.Len(t, channel.frames(rpc.ChatMethod), 0)
	assert.Empty(t, api.messages["A"])
}

func TestChatNudgeRefreshesActiveTranscript(t *testing.T) {
	api := NewMockAPI(
		core.Connection{ID: "A", Status: core.ConnectionActive},
		core.Connection{ID: "B", Status: core.ConnectionActive},
	)
	_, channel, _ := newTestWorkspace(t, api)
	require.Eventually(t, func() bool { return api.fetchCount("A") == 1 }, time.Second, 5*time.Millisecond)

	channel.deliver(rpc.NewChatRpc("A"))
	assert.Eventually(t, func() bool { return api.fetchCount("A") == 2 }, time.Second, 5*time.Millisecond)

	channel.deliver(rpc.NewChatRpc("B"))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, api.fetchCount("B"))
}

func TestCloseStopsListening(t *testing.T) {
	api := NewMockAPI()
	w, channel, _ := newTestWorkspace(t, api)

	assert.Len(t, channel.joinCalls(), 0)
	require.Nil(t, w.Close())

	select {
	case <-w.Done():
	case <-time.After(time.Second):
		t.Fatal("listener did not stop")
	}
	assert.Nil(t, w.Err())
}
