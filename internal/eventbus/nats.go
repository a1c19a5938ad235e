package eventbus

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/isqad/ptconnect/internal/core"
)

const natsPendingMessages = 64

type NatsBus struct {
	nc *nats.Conn
}

func NewNatsBus(nc *nats.Conn) *NatsBus {
	return &NatsBus{nc: nc}
}

func (b *NatsBus) Publish(ctx context.Context, env Envelope) error {
	msg, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return b.nc.Publish(SignalingMessages.buildSubject(env.Room), msg)
}

func (b *NatsBus) Subscribe(ctx context.Context) (Subscription, error) {
	s := &natsSubscription{
		nc:    b.nc,
		raw:   make(chan *nats.Msg, natsPendingMessages),
		out:   make(chan *Envelope, natsPendingMessages),
		done:  make(chan struct{}),
		rooms: make(map[core.ConnectionID]*nats.Subscription),
	}
	go s.pump()

	return s, nil
}

func (b *NatsBus) Close() error {
	b.nc.Close()
	return nil
}

type natsSubscription struct {
	nc   *nats.Conn
	raw  chan *nats.Msg
	out  chan *Envelope
	done chan struct{}

	lock      sync.Mutex
	rooms     map[core.ConnectionID]*nats.Subscription
	closeOnce sync.Once
}

func (s *natsSubscription) pump() {
	defer close(s.out)

	for {
		select {
		case <-s.done:
			return
		case msg := <-s.raw:
			env, err := decodeEnvelope(msg.Data)
			if err != nil {
				log.Error().Err(err).Str("service", "eventbus").Str("subject", msg.Subject).Msg("")
				continue
			}
			select {
			case s.out <- env:
			case <-s.done:
				return
			}
		}
	}
}

func (s *natsSubscription) Join(ctx context.Context, room core.ConnectionID) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if _, ok := s.rooms[room]; ok {
		return nil
	}

	sub, err := s.nc.ChanSubscribe(SignalingMessages.buildSubject(room), s.raw)
	if err != nil {
		return err
	}
	s.rooms[room] = sub

	return nil
}

func (s *natsSubscription) Channel() <-chan *Envelope {
	return s.out
}

func (s *natsSubscription) Close() error {
	var err error

	s.closeOnce.Do(func() {
		s.lock.Lock()
		for room, sub := range s.rooms {
			if uerr := sub.Unsubscribe(); uerr != nil && err == nil {
				err = uerr
			}
			delete(s.rooms, room)
		}
		s.lock.Unlock()

		close(s.done)
	})

	return err
}
