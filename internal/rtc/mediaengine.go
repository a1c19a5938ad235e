package rtc

import (
	"errors"
	"fmt"
	"strings"

	"github.com/isqad/ptconnect/internal/config"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v3"
)

var ErrNoAudioCodec = errors.New("no audio codec enabled")

// createMediaEngine registers the enabled codecs and returns the interceptor registry
// (NACK, RTCP reports) the peer connection must be built with
func createMediaEngine(enabledCodecs []config.CodecSpec, directionConfig config.DirectionConfig) (*webrtc.MediaEngine, *interceptor.Registry, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := registerCodecs(mediaEngine, enabledCodecs, directionConfig.RTCPFeedback); err != nil {
		return nil, nil, err
	}

	if err := registerHeaderExtensions(mediaEngine, directionConfig.RTPHeaderExtension); err != nil {
		return nil, nil, err
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return nil, nil, err
	}

	return mediaEngine, registry, nil
}

type callCodec struct {
	kind   webrtc.RTPCodecType
	params webrtc.RTPCodecParameters
}

// callCodecs lists what a 1:1 call can negotiate with a browser peer. File devices produce Opus, VP8 and VP9,
// H.264 baseline stays for browsers that offer nothing else.
func callCodecs(feedback config.RTCPFeedbackConfig) []callCodec {
	video := func(mime string, fmtp string, pt webrtc.PayloadType) callCodec {
		return callCodec{
			kind: webrtc.RTPCodecTypeVideo,
			params: webrtc.RTPCodecParameters{
				RTPCodecCapability: webrtc.RTPCodecCapability{
					MimeType:     mime,
					ClockRate:    90000,
					SDPFmtpLine:  fmtp,
					RTCPFeedback: feedback.Video,
				},
				PayloadType: pt,
			},
		}
	}

	return []callCodec{
		{
			kind: webrtc.RTPCodecTypeAudio,
			params: webrtc.RTPCodecParameters{
				RTPCodecCapability: webrtc.RTPCodecCapability{
					MimeType:     webrtc.MimeTypeOpus,
					ClockRate:    48000,
					Channels:     2,
					SDPFmtpLine:  "minptime=10;useinbandfec=1",
					RTCPFeedback: feedback.Audio,
				},
				PayloadType: 111,
			},
		},
		video(webrtc.MimeTypeVP8, "", 96),
		video(webrtc.MimeTypeVP9, "profile-id=0", 98),
		video(webrtc.MimeTypeH264, "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f", 125),
	}
}

// registerCodecs registers the enabled call codecs. A call always carries audio, so a config without
// an audio codec is rejected.
func registerCodecs(
	mediaEngine *webrtc.MediaEngine,
	enabledCodecs []config.CodecSpec,
	rtcpFeedback config.RTCPFeedbackConfig,
) error {
	audio := false
	for _, codec := range callCodecs(rtcpFeedback) {
		if !isCodecEnabled(enabledCodecs, codec.params.RTPCodecCapability) {
			continue
		}
		if err := mediaEngine.RegisterCodec(codec.params, codec.kind); err != nil {
			return fmt.Errorf("register %s: %w", codec.params.MimeType, err)
		}
		if codec.kind == webrtc.RTPCodecTypeAudio {
			audio = true
		}
	}

	if !audio {
		return ErrNoAudioCodec
	}

	return nil
}

func registerHeaderExtensions(me *webrtc.MediaEngine, rtpHeaderExtension config.RTPHeaderExtensionConfig) error {
	for _, extension := range rtpHeaderExtension.Video {
		if err := me.RegisterHeaderExtension(webrtc.RTPHeaderExtensionCapability{URI: extension}, webrtc.RTPCodecTypeVideo); err != nil {
			return err
		}
	}

	for _, extension := range rtpHeaderExtension.Audio {
		if err := me.RegisterHeaderExtension(webrtc.RTPHeaderExtensionCapability{URI: extension}, webrtc.RTPCodecTypeAudio); err != nil {
			return err
		}
	}

	return nil
}

func isCodecEnabled(codecs []config.CodecSpec, cap webrtc.RTPCodecCapability) bool {
	for _, codec := range codecs {
		if !strings.EqualFold(codec.Mime, cap.MimeType) {
			continue
		}
		if codec.FmtpLine == "" || strings.EqualFold(codec.FmtpLine, cap.SDPFmtpLine) {
			return true
		}
	}
	return false
}
