package unraid

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultPingInterval     = 30 * time.Second
	wsWriteWait             = 10 * time.Second
	wsMaxMessageSize        = 8 * 1024 * 1024
)

// StreamDialer opens push event streams against the agent websocket endpoint.
type StreamDialer struct {
	URL              string
	HandshakeTimeout time.Duration
	NetDialContext   DialContextFunc
	TLSConfig        *tls.Config
	Logger           zerolog.Logger

	// PingInterval is the heartbeat period. The read deadline is twice this value.
	PingInterval time.Duration
}

// NewStreamDialer builds a dialer for the client's websocket endpoint,
// sharing its TLS settings and dialer.
func NewStreamDialer(client *Client, handshakeTimeout time.Duration) *StreamDialer {
	return &StreamDialer{
		URL:              client.WebSocketURL(),
		HandshakeTimeout: handshakeTimeout,
		PingInterval:     defaultPingInterval,
		NetDialContext:   client.config.DialContext,
		TLSConfig:        client.tlsConfig,
		Logger:           log.Logger.With().Str("component", "unraid_stream").Logger(),
	}
}

// Stream is one open websocket session delivering decoded events.
type Stream struct {
	conn      *websocket.Conn
	logger    zerolog.Logger
	pongWait  time.Duration
	done      chan struct{}
	closeOnce sync.Once
}

// Open dials the websocket endpoint. The handshake is bounded by HandshakeTimeout.
func (d *StreamDialer) Open(ctx context.Context) (*Stream, error) {
	if d.URL == "" {
		return nil, fmt.Errorf("unraid stream url is required")
	}
	handshake := d.HandshakeTimeout
	if handshake <= 0 {
		handshake = defaultHandshakeTimeout
	}
	ping := d.PingInterval
	if ping <= 0 {
		ping = defaultPingInterval
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: handshake,
		TLSClientConfig:  d.TLSConfig,
		Proxy:            http.ProxyFromEnvironment,
	}
	if d.NetDialContext != nil {
		dialer.NetDialContext = d.NetDialContext
	}

	dialCtx, cancel := context.WithTimeout(ctx, handshake)
	defer cancel()

	d.Logger.Debug().Str("url", d.URL).Msg("Connecting to unraid websocket")
	conn, resp, err := dialer.DialContext(dialCtx, d.URL, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial unraid websocket: %w", err)
	}

	s := &Stream{
		conn:     conn,
		logger:   d.Logger,
		pongWait: 2 * ping,
		done:     make(chan struct{}),
	}

	// Each pong extends the read deadline.
	conn.SetReadLimit(wsMaxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(s.pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.pongWait))
	})

	go s.pingPump(ping)
	return s, nil
}

// Next blocks until an event with a data payload arrives, the stream fails,
// or ctx is cancelled. Frames without data and undecodable frames are skipped.
func (s *Stream) Next(ctx context.Context) (Event, error) {
	stop := context.AfterFunc(ctx, func() {
		_ = s.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	for {
		if err := ctx.Err(); err != nil {
			return Event{}, err
		}

		messageType, msg, err := s.conn.ReadMessage()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return Event{}, ctxErr
			}
			return Event{}, fmt.Errorf("read unraid websocket: %w", err)
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(s.pongWait))

		if messageType != websocket.TextMessage && messageType != websocket.BinaryMessage {
			continue
		}

		ev, err := DecodeEvent(msg)
		if err != nil {
			if errors.Is(err, ErrNoData) {
				s.logger.Debug().Msg("Received message without data field")
			} else {
				s.logger.Warn().Err(err).Msg("Failed to decode websocket message, skipping")
			}
			continue
		}
		return ev, nil
	}
}

// Close sends a close frame and releases the connection. Safe to call twice.
func (s *Stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(wsWriteWait))
		err = s.conn.Close()
	})
	return err
}

func (s *Stream) pingPump(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				s.logger.Debug().Err(err).Msg("Websocket ping failed")
				// Unblock the reader so the session is torn down.
				_ = s.conn.Close()
				return
			}
		}
	}
}
