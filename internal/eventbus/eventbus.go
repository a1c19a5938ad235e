package eventbus

import (
	"context"
	"encoding/json"

	"github.com/isqad/ptconnect/internal/core"
)

type Channel string

const (
	SignalingMessages Channel = "signaling"
)

func (c Channel) buildChannel(room core.ConnectionID) string {
	return string(c) + ":" + string(room)
}

func (c Channel) buildSubject(room core.ConnectionID) string {
	return string(c) + "." + string(room)
}

// Envelope is a signaling frame travelling between relay nodes
type Envelope struct {
	From    string            `json:"from"`
	Room    core.ConnectionID `json:"room"`
	Payload json.RawMessage   `json:"payload"`
}

func decodeEnvelope(data []byte) (*Envelope, error) {
	env := &Envelope{}
	if err := json.Unmarshal(data, env); err != nil {
		return nil, err
	}
	return env, nil
}

type Publisher interface {
	Publish(ctx context.Context, env Envelope) error
}

type Subscriber interface {
	Subscribe(ctx context.Context) (Subscription, error)
}

// Subscription receives envelopes of every joined room on one channel.
// The channel is closed after Close.
type Subscription interface {
	Join(ctx context.Context, room core.ConnectionID) error
	Channel() <-chan *Envelope
	Close() error
}

type Bus interface {
	Publisher
	Subscriber
	Close() error
}
