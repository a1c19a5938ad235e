package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
	pionmedia "github.com/pion/webrtc/v3/pkg/media"
	"github.com/pion/webrtc/v3/pkg/media/ivfreader"
	"github.com/pion/webrtc/v3/pkg/media/oggreader"
	"github.com/rs/zerolog/log"
)

const (
	oggPageDuration      = 20 * time.Millisecond
	defaultFrameDuration = 33 * time.Millisecond
)

// FileDevices stands in for a camera and a microphone by looping an IVF and an Ogg/Opus file
type FileDevices struct {
	AudioFile  string
	VideoFile  string
	AllowAudio bool
	AllowVideo bool
	Clock      clock.Clock
}

func NewFileDevices(audioFile, videoFile string) *FileDevices {
	return &FileDevices{
		AudioFile:  audioFile,
		VideoFile:  videoFile,
		AllowAudio: true,
		AllowVideo: true,
		Clock:      clock.New(),
	}
}

func (d *FileDevices) GetUserMedia(ctx context.Context, constraints Constraints) (*Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !constraints.Audio && !constraints.Video {
		return nil, fmt.Errorf("%w: nothing requested", ErrDeviceNotFound)
	}

	if constraints.Audio {
		if err := check(d.AllowAudio, d.AudioFile); err != nil {
			return nil, err
		}
	}
	var videoCodec string
	if constraints.Video {
		if err := check(d.AllowVideo, d.VideoFile); err != nil {
			return nil, err
		}
		codec, err := probeIVF(d.VideoFile)
		if err != nil {
			return nil, err
		}
		videoCodec = codec
	}

	streamID := uuid.NewString()
	tracks := make([]*Track, 0, 2)

	if constraints.Audio {
		track, err := NewTrack(webrtc.RTPCodecTypeAudio, webrtc.RTPCodecCapability{
			MimeType:  webrtc.MimeTypeOpus,
			ClockRate: 48000,
			Channels:  2,
		}, "audio-"+streamID, streamID)
		if err != nil {
			return nil, err
		}
		tracks = append(tracks, track)
		go d.pump(track, d.openOgg)
	}

	if constraints.Video {
		track, err := NewTrack(webrtc.RTPCodecTypeVideo, webrtc.RTPCodecCapability{
			MimeType:  videoCodec,
			ClockRate: 90000,
		}, "video-"+streamID, streamID)
		if err != nil {
			NewStream(tracks...).Stop()
			return nil, err
		}
		tracks = append(tracks, track)
		go d.pump(track, d.openIVF)
	}

	stream := &Stream{id: streamID, tracks: tracks}

	log.Debug().Str("service", "media").Str("stream", streamID).Bool("audio", constraints.Audio).Bool("video", constraints.Video).Msg("capture started")

	return stream, nil
}

func check(allowed bool, path string) error {
	if !allowed {
		return ErrPermissionDenied
	}
	if path == "" {
		return ErrDeviceNotFound
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("%w: %v", ErrDeviceNotFound, err)
	}
	return nil
}

func probeIVF(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDeviceNotFound, err)
	}
	defer f.Close()

	_, header, err := ivfreader.NewWith(f)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDeviceNotFound, err)
	}

	switch header.FourCC {
	case "VP80":
		return webrtc.MimeTypeVP8, nil
	case "VP90":
		return webrtc.MimeTypeVP9, nil
	default:
		return "", fmt.Errorf("%w: unsupported fourcc %q", ErrDeviceNotFound, header.FourCC)
	}
}

type sampleSource struct {
	next     func() ([]byte, error)
	interval time.Duration
	close    func() error
}

// pump writes the file to the track at its natural pace, rewinding on EOF, until the track is stopped
func (d *FileDevices) pump(track *Track, open func() (*sampleSource, error)) {
	for {
		src, err := open()
		if err != nil {
			log.Error().Err(err).Str("service", "media").Str("track", track.ID()).Msg("could not open source")
			return
		}

		written, stopped := d.drain(track, src)
		_ = src.close()

		if stopped {
			return
		}
		if written == 0 {
			log.Warn().Str("service", "media").Str("track", track.ID()).Msg("source has no samples")
			return
		}
	}
}

func (d *FileDevices) drain(track *Track, src *sampleSource) (int, bool) {
	ticker := d.Clock.Ticker(src.interval)
	defer ticker.Stop()

	written := 0
	for {
		select {
		case <-track.Done():
			return written, true
		case <-ticker.C:
		}

		data, err := src.next()
		if errors.Is(err, io.EOF) {
			return written, false
		}
		if err != nil {
			log.Debug().Err(err).Str("service", "media").Str("track", track.ID()).Msg("read sample")
			return written, false
		}

		if err := track.WriteSample(pionmedia.Sample{Data: data, Duration: src.interval}); err != nil {
			log.Debug().Err(err).Str("service", "media").Str("track", track.ID()).Msg("write sample")
		}
		written++
	}
}

func (d *FileDevices) openIVF() (*sampleSource, error) {
	f, err := os.Open(d.VideoFile)
	if err != nil {
		return nil, err
	}

	reader, header, err := ivfreader.NewWith(f)
	if err != nil {
		_ = f.Close()
		return nil, err
	}

	interval := defaultFrameDuration
	if header.TimebaseDenominator != 0 && header.TimebaseNumerator != 0 {
		interval = time.Duration(float64(header.TimebaseNumerator) / float64(header.TimebaseDenominator) * float64(time.Second))
	}

	return &sampleSource{
		next: func() ([]byte, error) {
			frame, _, err := reader.ParseNextFrame()
			return frame, err
		},
		interval: interval,
		close:    f.Close,
	}, nil
}

func (d *FileDevices) openOgg() (*sampleSource, error) {
	f, err := os.Open(d.AudioFile)
	if err != nil {
		return nil, err
	}

	reader, _, err := oggreader.NewWith(f)
	if err != nil {
		_ = f.Close()
		return nil, err
	}

	return &sampleSource{
		next: func() ([]byte, error) {
			for {
				page, _, err := reader.ParseNextPage()
				if err != nil {
					return nil, err
				}
				if isOpusHeaderPage(page) {
					continue
				}
				return page, nil
			}
		},
		interval: oggPageDuration,
		close:    f.Close,
	}, nil
}

func isOpusHeaderPage(page []byte) bool {
	return len(page) >= 8 && (string(page[:8]) == "OpusHead" || string(page[:8]) == "OpusTags")
}
