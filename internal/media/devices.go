package media

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
)

var (
	ErrPermissionDenied = errors.New("media: permission denied")
	ErrDeviceNotFound   = errors.New("media: device not found")
)

// Constraints selects the kinds of capture a caller needs
type Constraints struct {
	Audio bool
	Video bool
}

// Devices acquires local capture streams
type Devices interface {
	GetUserMedia(ctx context.Context, constraints Constraints) (*Stream, error)
}

// Stream groups the local tracks acquired by one GetUserMedia call
type Stream struct {
	id     string
	tracks []*Track
}

func NewStream(tracks ...*Track) *Stream {
	return &Stream{
		id:     uuid.NewString(),
		tracks: tracks,
	}
}

func (s *Stream) ID() string {
	return s.id
}

func (s *Stream) Tracks() []*Track {
	return append([]*Track(nil), s.tracks...)
}

// Track returns the first track of kind or nil
func (s *Stream) Track(kind webrtc.RTPCodecType) *Track {
	for _, t := range s.tracks {
		if t.Kind() == kind {
			return t
		}
	}
	return nil
}

// Stop stops every track of the stream
func (s *Stream) Stop() {
	for _, t := range s.tracks {
		t.Stop()
	}
}
