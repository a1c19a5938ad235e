package rpc

import (
	"strings"
	"testing"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isqad/ptconnect/internal/core"
)

func TestRpcFromReader(t *testing.T) {
	t.Run("offer", func(t *testing.T) {
		r, err := RpcFromReader(strings.NewReader(
			`{"jsonrpc":"2.0","method":"offer","params":{"connectionId":"A","sdp":{"type":"offer","sdp":"v=0"}}}`,
		))
		require.Nil(t, err)

		msg, ok := r.(*SDPRpc)
		require.True(t, ok)
		assert.Equal(t, SDPOfferMethod, msg.GetMethod())
		assert.Equal(t, core.ConnectionID("A"), msg.GetConnectionID())
		assert.Equal(t, webrtc.SDPTypeOffer, msg.Params.SDP.Type)
		assert.Equal(t, "v=0", msg.Params.SDP.SDP)
	})

	t.Run("answer", func(t *testing.T) {
		r, err := RpcFromReader(strings.NewReader(
			`{"jsonrpc":"2.0","method":"answer","params":{"connectionId":"A","sdp":{"type":"answer","sdp":"X"}}}`,
		))
		require.Nil(t, err)
		assert.Equal(t, SDPAnswerMethod, r.GetMethod())
		assert.Equal(t, "X", r.(*SDPRpc).Params.SDP.SDP)
	})

	t.Run("ice", func(t *testing.T) {
		r, err := RpcFromReader(strings.NewReader(
			`{"jsonrpc":"2.0","method":"ice","params":{"connectionId":"B","candidate":{"candidate":"candidate:1 1 udp 1 10.0.0.1 5000 typ host","sdpMid":"0","sdpMLineIndex":0}}}`,
		))
		require.Nil(t, err)

		msg, ok := r.(*ICECandidateRpc)
		require.True(t, ok)
		assert.Equal(t, core.ConnectionID("B"), msg.GetConnectionID())
		assert.Equal(t, "0", *msg.Params.Candidate.SDPMid)
	})

	t.Run("join end chat", func(t *testing.T) {
		for _, method := range []Method{JoinMethod, EndMethod, ChatMethod} {
			r, err := RpcFromReader(strings.NewReader(
				`{"jsonrpc":"2.0","method":"` + string(method) + `","params":{"connectionId":"C"}}`,
			))
			require.Nil(t, err)
			assert.Equal(t, method, r.GetMethod())
			assert.Equal(t, core.ConnectionID("C"), r.GetConnectionID())
		}
	})

	t.Run("unknown method", func(t *testing.T) {
		_, err := RpcFromReader(strings.NewReader(`{"jsonrpc":"2.0","method":"dance","params":{"connectionId":"C"}}`))
		assert.ErrorIs(t, err, ErrUnknownRpcType)
	})

	t.Run("missing connection id", func(t *testing.T) {
		_, err := RpcFromReader(strings.NewReader(`{"jsonrpc":"2.0","method":"end","params":{}}`))
		assert.ErrorIs(t, err, ErrMalformedRpc)

		_, err = RpcFromReader(strings.NewReader(`{"jsonrpc":"2.0","method":"end"}`))
		assert.ErrorIs(t, err, ErrMalformedRpc)
	})

	t.Run("offer without sdp", func(t *testing.T) {
		_, err := RpcFromReader(strings.NewReader(`{"jsonrpc":"2.0","method":"offer","params":{"connectionId":"A"}}`))
		assert.ErrorIs(t, err, ErrMalformedRpc)
	})

	t.Run("broken json", func(t *testing.T) {
		_, err := RpcFromReader(strings.NewReader(`{"jsonrpc":`))
		assert.NotNil(t, err)
	})
}

func TestToJSON(t *testing.T) {
	payload, err := NewSDPOfferRpc("A", webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0"}).ToJSON()
	require.Nil(t, err)
	assert.JSONEq(t,
		`{"jsonrpc":"2.0","method":"offer","params":{"connectionId":"A","sdp":{"type":"offer","sdp":"v=0"}}}`,
		string(payload),
	)

	payload, err = NewEndRpc("B").ToJSON()
	require.Nil(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","method":"end","params":{"connectionId":"B"}}`, string(payload))

	r, err := RpcFromBytes(payload)
	require.Nil(t, err)
	assert.Equal(t, EndMethod, r.GetMethod())
}
