package media

import (
	"github.com/pion/webrtc/v3"
	pionmedia "github.com/pion/webrtc/v3/pkg/media"
	"go.uber.org/atomic"
)

// Track is a local capture track that can be muted without renegotiation
type Track struct {
	kind  webrtc.RTPCodecType
	local *webrtc.TrackLocalStaticSample

	enabled *atomic.Bool
	stopped *atomic.Bool
	samples *atomic.Uint64
	done    chan struct{}
}

func NewTrack(kind webrtc.RTPCodecType, codec webrtc.RTPCodecCapability, id, streamID string) (*Track, error) {
	local, err := webrtc.NewTrackLocalStaticSample(codec, id, streamID)
	if err != nil {
		return nil, err
	}

	return &Track{
		kind:    kind,
		local:   local,
		enabled: atomic.NewBool(true),
		stopped: atomic.NewBool(false),
		samples: atomic.NewUint64(0),
		done:    make(chan struct{}),
	}, nil
}

func (t *Track) ID() string {
	return t.local.ID()
}

func (t *Track) Kind() webrtc.RTPCodecType {
	return t.kind
}

// Local is what gets attached to a peer connection
func (t *Track) Local() webrtc.TrackLocal {
	return t.local
}

func (t *Track) Enabled() bool {
	return t.enabled.Load()
}

func (t *Track) SetEnabled(enabled bool) {
	t.enabled.Store(enabled)
}

func (t *Track) Stop() {
	if t.stopped.CAS(false, true) {
		close(t.done)
	}
}

func (t *Track) Stopped() bool {
	return t.stopped.Load()
}

// Done is closed once the track is stopped
func (t *Track) Done() <-chan struct{} {
	return t.done
}

// Samples is the number of samples actually sent
func (t *Track) Samples() uint64 {
	return t.samples.Load()
}

// WriteSample drops the sample while the track is disabled or stopped
func (t *Track) WriteSample(sample pionmedia.Sample) error {
	if !t.enabled.Load() || t.stopped.Load() {
		return nil
	}
	if err := t.local.WriteSample(sample); err != nil {
		return err
	}
	t.samples.Inc()
	return nil
}
