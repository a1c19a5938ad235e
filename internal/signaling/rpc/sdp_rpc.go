package rpc

import (
	"encoding/json"

	"github.com/isqad/ptconnect/internal/core"
	"github.com/pion/webrtc/v3"
)

type SDPParams struct {
	ConnectionID core.ConnectionID          `json:"connectionId"`
	SDP          *webrtc.SessionDescription `json:"sdp"`
}

// SDP RPC
type SDPRpc struct {
	jsonRpcHead
	Params SDPParams `json:"params"`
}

func NewSDPOfferRpc(connectionID core.ConnectionID, sdp webrtc.SessionDescription) *SDPRpc {
	return &SDPRpc{
		jsonRpcHead: jsonRpcHead{
			Version: jsonRpcVersion,
			Method:  SDPOfferMethod,
		},
		Params: SDPParams{
			ConnectionID: connectionID,
			SDP:          &sdp,
		},
	}
}

func NewSDPAnswerRpc(connectionID core.ConnectionID, sdp webrtc.SessionDescription) *SDPRpc {
	return &SDPRpc{
		jsonRpcHead: jsonRpcHead{
			Version: jsonRpcVersion,
			Method:  SDPAnswerMethod,
		},
		Params: SDPParams{
			ConnectionID: connectionID,
			SDP:          &sdp,
		},
	}
}

func (r SDPRpc) GetMethod() Method {
	return r.Method
}

func (r SDPRpc) GetConnectionID() core.ConnectionID {
	return r.Params.ConnectionID
}

func (r SDPRpc) ToJSON() ([]byte, error) {
	return json.Marshal(r)
}
