package eventbus

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/isqad/ptconnect/internal/core"
)

const localBufferSize = 64

// LocalBus fans envelopes out inside one process. Used for single node deployments and tests.
type LocalBus struct {
	lock  sync.RWMutex
	rooms map[core.ConnectionID]map[*localSubscription]struct{}
}

func NewLocalBus() *LocalBus {
	return &LocalBus{
		rooms: make(map[core.ConnectionID]map[*localSubscription]struct{}),
	}
}

func (b *LocalBus) Publish(ctx context.Context, env Envelope) error {
	b.lock.RLock()
	defer b.lock.RUnlock()

	for sub := range b.rooms[env.Room] {
		e := env
		select {
		case sub.out <- &e:
		default:
			log.Warn().Str("service", "eventbus").Str("room", string(env.Room)).Msg("subscriber is full, envelope dropped")
		}
	}

	return nil
}

func (b *LocalBus) Subscribe(ctx context.Context) (Subscription, error) {
	return &localSubscription{
		bus: b,
		out: make(chan *Envelope, localBufferSize),
	}, nil
}

func (b *LocalBus) Close() error {
	return nil
}

type localSubscription struct {
	bus    *LocalBus
	out    chan *Envelope
	joined []core.ConnectionID
	closed bool
}

func (s *localSubscription) Join(ctx context.Context, room core.ConnectionID) error {
	s.bus.lock.Lock()
	defer s.bus.lock.Unlock()

	if s.closed {
		return nil
	}

	subs, ok := s.bus.rooms[room]
	if !ok {
		subs = make(map[*localSubscription]struct{})
		s.bus.rooms[room] = subs
	}
	if _, ok := subs[s]; !ok {
		subs[s] = struct{}{}
		s.joined = append(s.joined, room)
	}

	return nil
}

func (s *localSubscription) Channel() <-chan *Envelope {
	return s.out
}

func (s *localSubscription) Close() error {
	s.bus.lock.Lock()
	defer s.bus.lock.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	for _, room := range s.joined {
		delete(s.bus.rooms[room], s)
		if len(s.bus.rooms[room]) == 0 {
			delete(s.bus.rooms, room)
		}
	}
	close(s.out)

	return nil
}

// Subscribers returns the number of subscriptions joined to room
func (b *LocalBus) Subscribers(room core.ConnectionID) int {
	b.lock.RLock()
	defer b.lock.RUnlock()

	return len(b.rooms[room])
}
