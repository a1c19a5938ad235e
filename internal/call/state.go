package call

import (
	"fmt"
	"time"

	"github.com/pion/webrtc/v3"

	"github.com/isqad/ptconnect/internal/core"
	"github.com/isqad/ptconnect/internal/media"
	"github.com/isqad/ptconnect/internal/rtc"
)

type Phase int

const (
	PhaseIdle Phase = iota
	// PhaseOutgoing lasts from media acquisition until the offer is sent
	PhaseOutgoing
	PhaseIncoming
	PhaseInCall
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseOutgoing:
		return "outgoing"
	case PhaseIncoming:
		return "incoming"
	case PhaseInCall:
		return "in_call"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// State is a snapshot of the call session for rendering.
// An incoming offer can be pending while in a call, so Incoming is reported separately from Phase.
type State struct {
	Phase           Phase
	ConnectionID    core.ConnectionID
	InCall          bool
	CallStartAt     time.Time
	Elapsed         string
	MicMuted        bool
	CamOff          bool
	Incoming        bool
	IncomingFrom    core.ConnectionID
	HasPendingOffer bool
	LocalStream     *media.Stream
	RemoteTracks    []rtc.RemoteTrack
	PeerState       webrtc.PeerConnectionState
}

// formatElapsed renders d as MM:SS. Minutes keep counting past an hour.
func formatElapsed(d time.Duration) string {
	secs := int(d / time.Second)
	if secs < 0 {
		secs = 0
	}
	return fmt.Sprintf("%02d:%02d", secs/60, secs%60)
}
