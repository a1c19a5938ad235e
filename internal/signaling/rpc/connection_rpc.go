package rpc

import (
	"encoding/json"

	"github.com/isqad/ptconnect/internal/core"
)

// ConnectionRpc carries only a connection id: join, end and chat
type ConnectionRpc struct {
	jsonRpcHead
	Params ConnectionParams `json:"params"`
}

func newConnectionRpc(method Method, connectionID core.ConnectionID) *ConnectionRpc {
	return &ConnectionRpc{
		jsonRpcHead: jsonRpcHead{
			Version: jsonRpcVersion,
			Method:  method,
		},
		Params: ConnectionParams{ConnectionID: connectionID},
	}
}

// NewJoinRpc subscribes the sender to the connection room
func NewJoinRpc(connectionID core.ConnectionID) *ConnectionRpc {
	return newConnectionRpc(JoinMethod, connectionID)
}

func NewEndRpc(connectionID core.ConnectionID) *ConnectionRpc {
	return newConnectionRpc(EndMethod, connectionID)
}

// NewChatRpc nudges the peer to refresh the transcript
func NewChatRpc(connectionID core.ConnectionID) *ConnectionRpc {
	return newConnectionRpc(ChatMethod, connectionID)
}

func (r ConnectionRpc) GetMethod() Method {
	return r.Method
}

func (r ConnectionRpc) GetConnectionID() core.ConnectionID {
	return r.Params.ConnectionID
}

func (r ConnectionRpc) ToJSON() ([]byte, error) {
	return json.Marshal(r)
}
