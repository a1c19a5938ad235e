package ws

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/isqad/melody"
	"github.com/rs/zerolog/log"

	"github.com/isqad/ptconnect/internal/auth"
	"github.com/isqad/ptconnect/internal/core"
	"github.com/isqad/ptconnect/internal/eventbus"
	"github.com/isqad/ptconnect/internal/signaling/rpc"
	"github.com/isqad/ptconnect/internal/telemetry"
)

const (
	wsPeerKey   = "peer"
	joinTimeout = 5 * time.Second
)

var (
	errNoPeer        = errors.New("can't get peer from session")
	errNotJoined     = errors.New("room is not joined")
	errNotActive     = errors.New("connection is not active")
	errNotAuthorized = errors.New("user is not a participant")
)

// peer is the relay side of one signaling websocket
type peer struct {
	id           string
	userID       string
	subscription eventbus.Subscription

	lock  sync.RWMutex
	rooms map[core.ConnectionID]struct{}
}

func (p *peer) joined(room core.ConnectionID) bool {
	p.lock.RLock()
	defer p.lock.RUnlock()

	_, ok := p.rooms[room]
	return ok
}

func (p *peer) join(room core.ConnectionID) {
	p.lock.Lock()
	defer p.lock.Unlock()

	p.rooms[room] = struct{}{}
}

func WsHandler(websocket *melody.Melody, subscriber eventbus.Subscriber) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := auth.UserIDFromRequest(r)
		if err != nil {
			log.Error().Err(err).Str("service", "websockets").Msg("can't get the user from request context")
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		subscription, err := subscriber.Subscribe(r.Context())
		if err != nil {
			log.Error().Err(err).Str("service", "websockets").Msg("can't subscribe the user to signaling bus")
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		p := &peer{
			id:           uuid.NewString(),
			userID:       userID,
			subscription: subscription,
			rooms:        make(map[core.ConnectionID]struct{}),
		}

		keys := map[string]interface{}{wsPeerKey: p}

		if err := websocket.HandleRequestWithKeys(w, r, keys); err != nil {
			log.Error().Err(err).Str("service", "websockets").Msg("can't handle request")
			subscription.Close()
		}
	}
}

func ConnectHandler() func(session *melody.Session) {
	return func(session *melody.Session) {
		p, err := getPeer(session)
		if err != nil {
			log.Error().Err(err).Str("service", "websockets").Msg("extract peer")
			session.Close()
			return
		}

		telemetry.SignalingSessionOpened()
		log.Debug().Str("service", "websockets").Str("userID", p.userID).Str("peerID", p.id).Msg("connected")

		go func() {
			for env := range p.subscription.Channel() {
				if env.From == p.id {
					continue
				}

				if err := session.Write(env.Payload); err != nil {
					// keep draining until the subscription is closed on disconnect
					log.Debug().Err(err).Str("service", "websockets").Str("userID", p.userID).Msg("write to closed session")
				}
			}
		}()
	}
}

func DisconnectHandler() func(session *melody.Session) {
	return func(session *melody.Session) {
		p, err := getPeer(session)
		if err != nil {
			log.Error().Err(err).Str("service", "websockets").Msg("extract peer")
			return
		}

		telemetry.SignalingSessionClosed()

		if err := p.subscription.Close(); err != nil {
			log.Error().Err(err).Str("service", "websockets").Str("userID", p.userID).Msg("close subscription")
		}
	}
}

func HandleMessage(publisher eventbus.Publisher, connections core.ConnectionsStorer) func(s *melody.Session, msg []byte) {
	return func(s *melody.Session, msg []byte) {
		p, err := getPeer(s)
		if err != nil {
			log.Error().Err(err).Str("service", "websockets").Msg("extract peer")
			s.Close()
			return
		}

		r, err := rpc.RpcFromBytes(msg)
		if err != nil {
			log.Warn().Err(err).Str("service", "websockets").Str("userID", p.userID).Msg("malformed frame")
			telemetry.Operation("relay", "malformed")
			return
		}

		room := r.GetConnectionID()
		logger := log.With().
			Str("service", "websockets").
			Str("userID", p.userID).
			Str("connectionID", string(room)).
			Str("rpcMethod", string(r.GetMethod())).
			Logger()

		ctx, cancel := context.WithTimeout(context.Background(), joinTimeout)
		defer cancel()

		switch r.GetMethod() {
		case rpc.JoinMethod:
			if p.joined(room) {
				return
			}
			if _, err := authorize(connections, room, p.userID); err != nil {
				logger.Warn().Err(err).Msg("join rejected")
				telemetry.Operation("join", "unauthorized")
				return
			}
			if err := p.subscription.Join(ctx, room); err != nil {
				logger.Error().Err(err).Msg("join failed")
				telemetry.Operation("join", "bus")
				return
			}
			p.join(room)
			telemetry.Operation("join", "")
			return
		case rpc.SDPOfferMethod:
			if !p.joined(room) {
				logger.Warn().Err(errNotJoined).Msg("")
				telemetry.Operation("relay", "not_joined")
				return
			}
			conn, err := authorize(connections, room, p.userID)
			if err != nil {
				logger.Warn().Err(err).Msg("offer rejected")
				telemetry.Operation("relay", "unauthorized")
				return
			}
			if !conn.IsActive() {
				logger.Warn().Err(errNotActive).Msg("offer rejected")
				telemetry.Operation("relay", "not_active")
				return
			}
		default:
			if !p.joined(room) {
				logger.Warn().Err(errNotJoined).Msg("")
				telemetry.Operation("relay", "not_joined")
				return
			}
		}

		if err := publisher.Publish(ctx, eventbus.Envelope{From: p.id, Room: room, Payload: msg}); err != nil {
			logger.Error().Err(err).Msg("publish rpc")
			telemetry.Operation("relay", "bus")
			return
		}
		telemetry.Operation("relay", "")
	}
}

func authorize(connections core.ConnectionsStorer, room core.ConnectionID, userID string) (*core.ParticipantConnection, error) {
	conn, err := connections.FindForParticipant(room, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errNotAuthorized
	}
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func getPeer(s *melody.Session) (*peer, error) {
	p, ok := s.Keys[wsPeerKey].(*peer)
	if !ok {
		return nil, errNoPeer
	}
	return p, nil
}
