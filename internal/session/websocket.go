package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/bryanchriswhite/EmotionStreamer/internal/logger"
)

const wsWriteTimeout = 10 * time.Second

// WebSocketTransport dials the detection service with gorilla/websocket.
// The dial runs in the background so the controller owns the deadline.
type WebSocketTransport struct {
	Dialer *websocket.Dialer
	Header http.Header
	log    *zerolog.Logger
}

// NewWebSocketTransport returns a transport using the default dialer settings
func NewWebSocketTransport() *WebSocketTransport {
	return &WebSocketTransport{
		Dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 2 * DefaultHandshakeTimeout,
		},
		log: logger.WithComponent("websocket"),
	}
}

func (t *WebSocketTransport) Open(endpoint string, ev Events) (Socket, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint %q: %w", endpoint, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("unsupported endpoint scheme %q", u.Scheme)
	}

	dialer := t.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	log := t.log
	if log == nil {
		log = logger.WithComponent("websocket")
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &wsSocket{ev: ev, cancel: cancel, log: log}
	go s.run(ctx, dialer, endpoint, t.Header)
	return s, nil
}

type wsSocket struct {
	ev     Events
	cancel context.CancelFunc
	log    *zerolog.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool

	writeMu sync.Mutex
}

func (s *wsSocket) run(ctx context.Context, dialer *websocket.Dialer, endpoint string, header http.Header) {
	conn, resp, err := dialer.DialContext(ctx, endpoint, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		if resp != nil {
			err = fmt.Errorf("%w (http status %d)", err, resp.StatusCode)
		}
		s.emitError(err)
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.conn = conn
	s.mu.Unlock()

	s.log.Debug().Str("remote", conn.RemoteAddr().String()).Msg("WebSocket connected")
	if s.ev.OnOpen != nil {
		s.ev.OnOpen()
	}
	s.readLoop(conn)
}

func (s *wsSocket) readLoop(conn *websocket.Conn) {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if s.isClosed() {
				return
			}
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				if s.ev.OnClose != nil {
					s.ev.OnClose(closeErr.Code, closeErr.Text)
				}
				return
			}
			s.emitError(err)
			return
		}

		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}
		if s.ev.OnMessage != nil {
			s.ev.OnMessage(data)
		}
	}
}

func (s *wsSocket) emitError(err error) {
	if s.ev.OnError != nil {
		s.ev.OnError(err)
	}
}

func (s *wsSocket) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *wsSocket) WriteBinary(data []byte) error {
	s.mu.Lock()
	conn, closed := s.conn, s.closed
	s.mu.Unlock()

	if closed {
		return websocket.ErrCloseSent
	}
	if conn == nil {
		return errors.New("websocket is not open yet")
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return conn.WriteMessage(websocket.BinaryMessage, data)
}

func (s *wsSocket) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	conn := s.conn
	s.mu.Unlock()

	s.cancel()
	if conn == nil {
		return nil
	}

	s.writeMu.Lock()
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	s.writeMu.Unlock()
	return conn.Close()
}
