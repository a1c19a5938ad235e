package eventbus

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"

	"github.com/isqad/ptconnect/internal/core"
)

type RedisBus struct {
	rdb *redis.Client
}

// RedisPubSub is factory for building Bus based on redis pubsub
func RedisPubSub(rdb *redis.Client) *RedisBus {
	return &RedisBus{rdb: rdb}
}

func (b *RedisBus) Publish(ctx context.Context, env Envelope) error {
	msg, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, SignalingMessages.buildChannel(env.Room), msg).Err()
}

func (b *RedisBus) Subscribe(ctx context.Context) (Subscription, error) {
	pubsub := b.rdb.Subscribe(ctx)

	s := &redisSubscription{
		pubsub: pubsub,
		out:    make(chan *Envelope, 64),
	}
	go s.pump()

	return s, nil
}

func (b *RedisBus) Close() error {
	return b.rdb.Close()
}

type redisSubscription struct {
	pubsub *redis.PubSub
	out    chan *Envelope

	closeOnce sync.Once
}

func (s *redisSubscription) pump() {
	defer close(s.out)

	// closed by pubsub.Close
	for msg := range s.pubsub.Channel() {
		env, err := decodeEnvelope([]byte(msg.Payload))
		if err != nil {
			log.Error().Err(err).Str("service", "eventbus").Str("channel", msg.Channel).Msg("")
			continue
		}
		s.out <- env
	}
}

func (s *redisSubscription) Join(ctx context.Context, room core.ConnectionID) error {
	return s.pubsub.Subscribe(ctx, SignalingMessages.buildChannel(room))
}

func (s *redisSubscription) Channel() <-chan *Envelope {
	return s.out
}

func (s *redisSubscription) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.pubsub.Close()
	})
	return err
}
