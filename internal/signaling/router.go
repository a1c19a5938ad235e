package signaling

import (
	"errors"

	"github.com/pion/webrtc/v3"
	"github.com/rs/zerolog/log"

	"github.com/isqad/ptconnect/internal/core"
	"github.com/isqad/ptconnect/internal/signaling/rpc"
)

var (
	errConvertIceCandidate = errors.New("can't convert to ice candidate")
	errConvertSDP          = errors.New("can't convert to sdp")
	errUndefinedMethod     = errors.New("undefined method")
)

// Router dispatches inbound signaling frames to registered callbacks.
// Frames without a callback are dropped.
type Router struct {
	onOffer           func(core.ConnectionID, webrtc.SessionDescription) error
	onAnswer          func(core.ConnectionID, webrtc.SessionDescription) error
	onAddICECandidate func(core.ConnectionID, webrtc.ICECandidateInit) error
	onEnd             func(core.ConnectionID) error
	onChat            func(core.ConnectionID) error
}

func NewRouter() *Router {
	return &Router{}
}

// Route handles one frame. Callback errors are logged, only conversion errors are returned.
func (router *Router) Route(r rpc.Rpc) error {
	connectionID := r.GetConnectionID()
	logger := log.With().Str("service", "router").Str("connectionID", string(connectionID)).Logger()

	switch r.GetMethod() {
	case rpc.SDPOfferMethod, rpc.SDPAnswerMethod:
		msg, ok := r.(*rpc.SDPRpc)
		if !ok || msg.Params.SDP == nil {
			return errConvertSDP
		}

		callback := router.onOffer
		if r.GetMethod() == rpc.SDPAnswerMethod {
			callback = router.onAnswer
		}
		if callback == nil {
			return nil
		}

		if err := callback(connectionID, *msg.Params.SDP); err != nil {
			logger.Error().Err(err).Str("rpcMethod", string(r.GetMethod())).Msg("sdp callback failed")
		}
	case rpc.ICECandidateMethod:
		msg, ok := r.(*rpc.ICECandidateRpc)
		if !ok {
			return errConvertIceCandidate
		}
		if router.onAddICECandidate == nil {
			return nil
		}

		if err := router.onAddICECandidate(connectionID, msg.Params.Candidate); err != nil {
			logger.Debug().Err(err).Msg("ice candidate dropped")
		}
	case rpc.EndMethod:
		if router.onEnd == nil {
			return nil
		}
		if err := router.onEnd(connectionID); err != nil {
			logger.Error().Err(err).Msg("end callback failed")
		}
	case rpc.ChatMethod:
		if router.onChat == nil {
			return nil
		}
		if err := router.onChat(connectionID); err != nil {
			logger.Warn().Err(err).Msg("chat callback failed")
		}
	default:
		logger.Error().Err(errUndefinedMethod).Str("rpcMethod", string(r.GetMethod())).Msg("")
	}

	return nil
}

func (router *Router) OnOffer(callback func(core.ConnectionID, webrtc.SessionDescription) error) {
	router.onOffer = callback
}

func (router *Router) OnAnswer(callback func(core.ConnectionID, webrtc.SessionDescription) error) {
	router.onAnswer = callback
}

func (router *Router) OnAddICECandidate(callback func(core.ConnectionID, webrtc.ICECandidateInit) error) {
	router.onAddICECandidate = callback
}

func (router *Router) OnEnd(callback func(core.ConnectionID) error) {
	router.onEnd = callback
}

func (router *Router) OnChat(callback func(core.ConnectionID) error) {
	router.onChat = callback
}
