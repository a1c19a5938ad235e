package signaling

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/isqad/ptconnect/internal/core"
	"github.com/isqad/ptconnect/internal/signaling/rpc"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 200 * 1024
)

var ErrChannelClosed = errors.New("signaling channel closed")

// Channel is the duplex signaling transport shared by chat and calls
type Channel interface {
	Send(r rpc.Rpc) error
	Join(ids ...core.ConnectionID) error
	Listen(router *Router) error
	Close() error
}

type DialOptions struct {
	URL    string
	Token  string
	Header http.Header
	Jar    http.CookieJar
}

// WSChannel is a Channel over a single websocket
type WSChannel struct {
	conn *websocket.Conn

	writeLock sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
}

func Dial(ctx context.Context, opts DialOptions) (*WSChannel, error) {
	dialer := &websocket.Dialer{
		Jar:              opts.Jar,
		HandshakeTimeout: 45 * time.Second,
	}

	header := http.Header{}
	for k, v := range opts.Header {
		header[k] = v
	}
	if opts.Token != "" {
		header.Set("Authorization", "Bearer "+opts.Token)
	}

	conn, resp, err := dialer.DialContext(ctx, opts.URL, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}

	return newWSChannel(conn), nil
}

func newWSChannel(conn *websocket.Conn) *WSChannel {
	c := &WSChannel{
		conn: conn,
		done: make(chan struct{}),
	}

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go c.pingLoop()

	return c
}

func (c *WSChannel) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				log.Debug().Err(err).Str("service", "signaling").Msg("ping failed")
				return
			}
		}
	}
}

func (c *WSChannel) Send(r rpc.Rpc) error {
	select {
	case <-c.done:
		return ErrChannelClosed
	default:
	}

	payload, err := r.ToJSON()
	if err != nil {
		return err
	}

	c.writeLock.Lock()
	defer c.writeLock.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

// Join subscribes to every given connection room. The relay treats repeated joins as no-ops.
func (c *WSChannel) Join(ids ...core.ConnectionID) error {
	for _, id := range ids {
		if err := c.Send(rpc.NewJoinRpc(id)); err != nil {
			return err
		}
	}
	return nil
}

// Listen reads frames until the channel is closed. Frames are routed in arrival order.
func (c *WSChannel) Listen(router *Router) error {
	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				return nil
			default:
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}

		r, err := rpc.RpcFromBytes(message)
		if err != nil {
			log.Warn().Err(err).Str("service", "signaling").Msg("skip malformed frame")
			continue
		}

		if err := router.Route(r); err != nil {
			log.Error().Err(err).Str("service", "signaling").Str("rpcMethod", string(r.GetMethod())).Msg("")
		}
	}
}

func (c *WSChannel) Close() error {
	var err error

	c.closeOnce.Do(func() {
		close(c.done)

		_ = c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait),
		)
		err = c.conn.Close()
	})

	return err
}
