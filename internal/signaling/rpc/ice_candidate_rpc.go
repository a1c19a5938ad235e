package rpc

import (
	"encoding/json"

	"github.com/isqad/ptconnect/internal/core"
	"github.com/pion/webrtc/v3"
)

type ICECandidateParams struct {
	ConnectionID core.ConnectionID       `json:"connectionId"`
	Candidate    webrtc.ICECandidateInit `json:"candidate"`
}

// ICE candidate RPC
type ICECandidateRpc struct {
	jsonRpcHead
	Params ICECandidateParams `json:"params"`
}

func NewICECandidateRpc(connectionID core.ConnectionID, candidate webrtc.ICECandidateInit) *ICECandidateRpc {
	return &ICECandidateRpc{
		jsonRpcHead: jsonRpcHead{
			Version: jsonRpcVersion,
			Method:  ICECandidateMethod,
		},
		Params: ICECandidateParams{
			ConnectionID: connectionID,
			Candidate:    candidate,
		},
	}
}

func (r ICECandidateRpc) GetMethod() Method {
	return r.Method
}

func (r ICECandidateRpc) GetConnectionID() core.ConnectionID {
	return r.Params.ConnectionID
}

func (r ICECandidateRpc) ToJSON() ([]byte, error) {
	return json.Marshal(r)
}
