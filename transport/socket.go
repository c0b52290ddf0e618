package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const (
	writeWait        = 10 * time.Second
	closeWait        = time.Second
	handshakeTimeout = 15 * time.Second
	maxMessageLen    = 8 << 20
)

// ErrNotOpen is returned by Send when the socket is not in the open state.
var ErrNotOpen = errors.New("socket is not open")

// State mirrors the ready state of a browser WebSocket.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Handlers receive socket lifecycle events on the socket's own goroutine.
// OnOpen fires at most once, OnMessage once per text frame in arrival order,
// OnError for dial or read failures, and OnClose exactly once, last.
// An error never closes the socket by itself; OnClose is the only close signal.
type Handlers struct {
	OnOpen    func()
	OnMessage func(data []byte)
	OnError   func(err error)
	OnClose   func(code int, reason string)
}

// Conn is one connection attempt. It is never reused after it closes.
type Conn interface {
	ID() string
	State() State
	Send(v any) error
	Close() error
}

// Dialer starts connection attempts. Connect must not block: it returns a
// connecting Conn and reports the outcome through the handlers.
type Dialer interface {
	Connect(url string, h Handlers) Conn
}

// WSDialer connects to the agent over gorilla websockets.
type WSDialer struct {
	Dialer *websocket.Dialer
	Header http.Header
	Logger zerolog.Logger
}

func NewWSDialer(logger zerolog.Logger) *WSDialer {
	return &WSDialer{
		Dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		},
		Logger: logger.With().Str("component", "transport").Logger(),
	}
}

func (d *WSDialer) Connect(url string, h Handlers) Conn {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Socket{
		id:     uuid.NewString(),
		url:    url,
		dialer: d.Dialer,
		header: d.Header,
		h:      h,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	s.log = d.Logger.With().Str("conn_id", s.id).Logger()
	s.state.Store(int32(StateConnecting))

	go s.run(ctx)
	return s
}

// Socket is a single gorilla websocket connection with browser-like semantics.
type Socket struct {
	id     string
	url    string
	dialer *websocket.Dialer
	header http.Header
	h      Handlers
	log    zerolog.Logger

	state  atomic.Int32
	cancel context.CancelFunc
	done   chan struct{}

	// mu guards conn and serializes writes.
	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *Socket) ID() string { return s.id }

func (s *Socket) State() State { return State(s.state.Load()) }

// Done is closed after OnClose has returned.
func (s *Socket) Done() <-chan struct{} { return s.done }

func (s *Socket) run(ctx context.Context) {
	defer close(s.done)
	defer s.cancel()

	s.log.Debug().Str("url", s.url).Msg("dialing agent")
	conn, _, err := s.dialer.DialContext(ctx, s.url, s.header)
	if err != nil {
		s.state.Store(int32(StateClosed))
		if ctx.Err() == nil {
			s.emitError(errors.Wrap(err, "dial agent"))
		}
		s.emitClose(websocket.CloseAbnormalClosure, "")
		return
	}

	s.mu.Lock()
	if s.State() != StateConnecting {
		// Close was called while the handshake was in flight.
		s.mu.Unlock()
		conn.Close()
		s.state.Store(int32(StateClosed))
		s.emitClose(websocket.CloseNormalClosure, "closed before open")
		return
	}
	conn.SetReadLimit(maxMessageLen)
	s.conn = conn
	s.state.Store(int32(StateOpen))
	s.mu.Unlock()

	s.log.Info().Msg("✅ connected to agent")
	if s.h.OnOpen != nil {
		s.h.OnOpen()
	}

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			code, reason := closeInfo(err)
			closing := s.State() == StateClosing
			s.state.Store(int32(StateClosed))
			if !closing && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.emitError(errors.Wrap(err, "read agent frame"))
			}
			conn.Close()
			s.emitClose(code, reason)
			return
		}
		if messageType != websocket.TextMessage {
			s.log.Debug().Int("type", messageType).Msg("skipping non-text frame")
			continue
		}
		if s.h.OnMessage != nil {
			s.h.OnMessage(data)
		}
	}
}

// Send encodes v as JSON and writes it as one text frame.
func (s *Socket) Send(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.State() != StateOpen {
		return ErrNotOpen
	}
	data, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "encode frame")
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return errors.Wrap(err, "write frame")
	}
	return nil
}

// Close starts the closing handshake. OnClose still fires once the read loop ends.
func (s *Socket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.State() {
	case StateClosing, StateClosed:
		return nil
	case StateConnecting:
		s.state.Store(int32(StateClosing))
		s.cancel()
		return nil
	}

	s.state.Store(int32(StateClosing))
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait)); err != nil {
		// peer is gone; unblock the reader right away
		return s.conn.Close()
	}
	return s.conn.SetReadDeadline(time.Now().Add(closeWait))
}

func (s *Socket) emitError(err error) {
	s.log.Warn().Err(err).Msg("socket error")
	if s.h.OnError != nil {
		s.h.OnError(err)
	}
}

func (s *Socket) emitClose(code int, reason string) {
	s.log.Info().Int("code", code).Str("reason", reason).Msg("disconnected from agent")
	if s.h.OnClose != nil {
		s.h.OnClose(code, reason)
	}
}

func closeInfo(err error) (int, string) {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code, ce.Text
	}
	return websocket.CloseAbnormalClosure, ""
}
