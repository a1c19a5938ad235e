package rpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"

	"github.com/isqad/ptconnect/internal/core"
)

const jsonRpcVersion = "2.0"

type Method string

const (
	JoinMethod         Method = "join"
	SDPOfferMethod     Method = "offer"
	SDPAnswerMethod    Method = "answer"
	ICECandidateMethod Method = "ice"
	EndMethod          Method = "end"
	ChatMethod         Method = "chat"
)

var (
	ErrUnknownRpcType = errors.New("unknown RPC type")
	ErrMalformedRpc   = errors.New("malformed RPC")
)

// Rpc is a signaling frame. Every frame names its connection explicitly.
type Rpc interface {
	GetMethod() Method
	GetConnectionID() core.ConnectionID
	ToJSON() ([]byte, error)
}

type jsonRpcHead struct {
	Version string `json:"jsonrpc"`
	Method  Method `json:"method"`
}

type jsonRpc struct {
	jsonRpcHead
	Params json.RawMessage `json:"params"`
}

// ConnectionParams are params of join, end and chat frames
type ConnectionParams struct {
	ConnectionID core.ConnectionID `json:"connectionId"`
}

func RpcFromReader(reader io.Reader) (Rpc, error) {
	frame := &jsonRpc{}

	if err := json.NewDecoder(reader).Decode(frame); err != nil {
		return nil, err
	}

	if len(frame.Params) == 0 {
		return nil, ErrMalformedRpc
	}

	var r Rpc

	switch frame.Method {
	case SDPOfferMethod, SDPAnswerMethod:
		params := SDPParams{}
		if err := json.Unmarshal(frame.Params, &params); err != nil {
			return nil, err
		}
		if params.SDP == nil {
			return nil, ErrMalformedRpc
		}
		r = &SDPRpc{jsonRpcHead: jsonRpcHead{Version: jsonRpcVersion, Method: frame.Method}, Params: params}
	case ICECandidateMethod:
		params := ICECandidateParams{}
		if err := json.Unmarshal(frame.Params, &params); err != nil {
			return nil, err
		}
		r = NewICECandidateRpc(params.ConnectionID, params.Candidate)
	case JoinMethod, EndMethod, ChatMethod:
		params := ConnectionParams{}
		if err := json.Unmarshal(frame.Params, &params); err != nil {
			return nil, err
		}
		r = newConnectionRpc(frame.Method, params.ConnectionID)
	default:
		return nil, ErrUnknownRpcType
	}

	if r.GetConnectionID() == "" {
		return nil, ErrMalformedRpc
	}

	return r, nil
}

// RpcFromBytes parses a single frame
func RpcFromBytes(data []byte) (Rpc, error) {
	return RpcFromReader(bytes.NewReader(data))
}
