// Package session manages the duplex connection to the detection service:
// handshake with a bounded deadline, open/closed lifecycle and message framing.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/bryanchriswhite/EmotionStreamer/internal/detection"
	"github.com/bryanchriswhite/EmotionStreamer/internal/fault"
	"github.com/bryanchriswhite/EmotionStreamer/internal/logger"
)

// DefaultHandshakeTimeout bounds the time between opening the transport and
// its open event
const DefaultHandshakeTimeout = 5000 * time.Millisecond

// State of the connection session
type State int

const (
	Idle State = iota
	Connecting
	Open
	Closing
	Closed
	Error
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Closing:
		return "closing"
	case Closed:
		return "closed"
	case Error:
		return "error"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// MarshalText renders the state by name in status payloads
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Events are the transport callbacks. They may be called from any goroutine.
type Events struct {
	OnOpen    func()
	OnMessage func(data []byte)
	OnError   func(err error)
	OnClose   func(code int, reason string)
}

// Transport opens duplex connections. Open must not block on the handshake;
// readiness is reported through ev.OnOpen.
type Transport interface {
	Open(endpoint string, ev Events) (Socket, error)
}

// Socket is an opened (or opening) connection
type Socket interface {
	WriteBinary(data []byte) error
	Close() error
}

// Config configures a Controller
type Config struct {
	// Host is host[:port] of the detection service
	Host             string
	Secure           bool
	HandshakeTimeout time.Duration
	Logger           *zerolog.Logger
}

// Handlers receive session output. Every handler is optional and is invoked
// without any controller lock held.
type Handlers struct {
	OnResult      func(dets []detection.Detection)
	OnError       func(err *fault.Error)
	OnReply       func()
	OnTeardown    func()
	OnStateChange func(from, to State)
}

// Controller owns the single connection session
type Controller struct {
	transport Transport
	cfg       Config
	log       *zerolog.Logger

	mu         sync.Mutex
	state      State
	gen        uint64
	id         string
	detector   string
	recognizer string
	socket     Socket
	pending    *handshake
	handlers   Handlers
}

type handshake struct {
	done  chan error
	timer *time.Timer
}

// NewController creates a controller in the Idle state
func NewController(transport Transport, cfg Config) *Controller {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
	log := cfg.Logger
	if log == nil {
		log = logger.WithComponent("session")
	}
	return &Controller{
		transport: transport,
		cfg:       cfg,
		log:       log,
	}
}

// SetHandlers replaces the output handlers
func (c *Controller) SetHandlers(h Handlers) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = h
}

// Endpoint builds the service URL for a model pair
func (c *Controller) Endpoint(detectorID, recognizerID string) string {
	scheme := "ws"
	if c.cfg.Secure {
		scheme = "wss"
	}
	u := url.URL{
		Scheme:   scheme,
		Host:     c.cfg.Host,
		Path:     "/ws",
		RawQuery: url.Values{"detector": {detectorID}, "recognizer": {recognizerID}}.Encode(),
	}
	return u.String()
}

// Establish tears down any prior session and connects with the given
// models. It returns nil once the transport reports open, or an error for
// whichever of transport error, early close, handshake timeout or ctx
// cancellation happens first.
func (c *Controller) Establish(ctx context.Context, detectorID, recognizerID string) error {
	if detectorID == "" || recognizerID == "" {
		return fault.Newf(fault.InvalidModelSelection, "detector=%q recognizer=%q", detectorID, recognizerID)
	}

	c.mu.Lock()
	after := c.shutdownLocked(nil)
	c.gen++
	gen := c.gen
	c.id = uuid.NewString()
	c.detector = detectorID
	c.recognizer = recognizerID
	hs := &handshake{done: make(chan error, 1)}
	c.pending = hs
	after = append(after, c.setStateLocked(Connecting))
	hs.timer = time.AfterFunc(c.cfg.HandshakeTimeout, func() { c.handshakeExpired(gen) })
	log := c.log.With().Str("session_id", c.id).Logger()
	c.mu.Unlock()
	run(after)

	endpoint := c.Endpoint(detectorID, recognizerID)
	log.Info().
		Str("endpoint", endpoint).
		Dur("timeout", c.cfg.HandshakeTimeout).
		Msg("Connecting to detection service")

	sock, err := c.transport.Open(endpoint, c.events(gen))
	if err != nil {
		c.fail(gen, err)
		return <-hs.done
	}

	c.mu.Lock()
	if c.gen == gen && (c.state == Connecting || c.state == Open) {
		c.socket = sock
		sock = nil
	}
	c.mu.Unlock()
	if sock != nil {
		// session ended while Open was still returning
		sock.Close()
	}

	select {
	case err := <-hs.done:
		if err == nil {
			log.Info().Msg("Connected to detection service")
		} else {
			log.Warn().Err(err).Msg("Handshake failed")
		}
		return err
	case <-ctx.Done():
		c.abandon(hs, ctx.Err())
		return <-hs.done
	}
}

// Send transmits one binary frame. Only valid while Open.
func (c *Controller) Send(frame []byte) error {
	c.mu.Lock()
	state, sock := c.state, c.socket
	c.mu.Unlock()

	if state != Open || sock == nil {
		return fault.Newf(fault.NotConnected, "session is %s", state)
	}
	if err := sock.WriteBinary(frame); err != nil {
		return fault.Classify(fmt.Errorf("failed to send frame: %w", err))
	}
	return nil
}

// Close ends the session. While connecting the handshake is abandoned and the
// session ends Closed rather than Error. Idempotent.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.state != Connecting && c.state != Open {
		c.mu.Unlock()
		return
	}
	after := c.shutdownLocked(abandonedError(nil))
	c.mu.Unlock()
	run(after)
}

// State returns the current state
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SessionID returns the id of the current or last session
func (c *Controller) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

// Models returns the detector and recognizer of the current or last session
func (c *Controller) Models() (detectorID, recognizerID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.detector, c.recognizer
}

func abandonedError(cause error) *fault.Error {
	if cause == nil {
		cause = errors.New("handshake abandoned")
	}
	return fault.New(fault.ConnectionClosed, cause).
		WithHint("the connection was closed before the handshake completed")
}

func (c *Controller) events(gen uint64) Events {
	return Events{
		OnOpen:    func() { c.opened(gen) },
		OnMessage: func(data []byte) { c.received(gen, data) },
		OnError:   func(err error) { c.fail(gen, err) },
		OnClose:   func(code int, reason string) { c.closed(gen, code, reason) },
	}
}

func (c *Controller) opened(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || c.state != Connecting {
		c.mu.Unlock()
		return
	}
	after := []func(){c.setStateLocked(Open)}
	c.settleLocked(nil)
	c.mu.Unlock()
	run(after)
}

func (c *Controller) received(gen uint64, data []byte) {
	c.mu.Lock()
	if gen != c.gen || c.state != Open {
		c.mu.Unlock()
		return
	}
	h := c.handlers
	c.mu.Unlock()

	dets, err := detection.Parse(data)
	if err != nil {
		c.log.Warn().Err(err).Int("bytes", len(data)).Msg("Discarding malformed message")
		if h.OnError != nil {
			h.OnError(fault.Classify(err))
		}
	} else if h.OnResult != nil {
		h.OnResult(dets)
	}

	if h.OnReply != nil {
		h.OnReply()
	}
}

// fail handles a transport error. While connecting it rejects the
// handshake; while open it is reported to the error handler. Both end in
// the Error state.
func (c *Controller) fail(gen uint64, err error) {
	fe := fault.Classify(err)

	c.mu.Lock()
	if gen != c.gen || (c.state != Connecting && c.state != Open) {
		c.mu.Unlock()
		return
	}
	wasOpen := c.state == Open
	after := c.endLocked(Error, fe)
	h := c.handlers
	c.mu.Unlock()

	c.log.Error().Err(err).Str("kind", fe.Kind.String()).Msg("Transport error")
	if wasOpen && h.OnError != nil {
		after = append(after, func() { h.OnError(fe) })
	}
	run(after)
}

func (c *Controller) closed(gen uint64, code int, reason string) {
	c.mu.Lock()
	if gen != c.gen || (c.state != Connecting && c.state != Open) {
		c.mu.Unlock()
		return
	}
	fe := fault.Newf(fault.ConnectionClosed, "closed by peer (code %d: %s)", code, reason)

	var after []func()
	if c.state == Connecting {
		after = c.endLocked(Error, fe)
	} else {
		after = c.endLocked(Closed, nil)
		if h := c.handlers; h.OnError != nil {
			after = append(after, func() { h.OnError(fe) })
		}
	}
	c.mu.Unlock()

	c.log.Warn().Int("code", code).Str("reason", reason).Msg("Connection closed by peer")
	run(after)
}

func (c *Controller) handshakeExpired(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || c.state != Connecting {
		c.mu.Unlock()
		return
	}
	fe := fault.Newf(fault.ConnectionTimeout, "no open event within %s", c.cfg.HandshakeTimeout)
	after := c.shutdownLocked(fe)
	c.mu.Unlock()

	c.log.Warn().Dur("timeout", c.cfg.HandshakeTimeout).Msg("Handshake timed out")
	run(after)
}

// abandon gives up on a handshake that is still pending
func (c *Controller) abandon(hs *handshake, cause error) {
	c.mu.Lock()
	if c.pending != hs {
		c.mu.Unlock()
		return
	}
	var fe *fault.Error
	if errors.Is(cause, context.DeadlineExceeded) {
		fe = fault.New(fault.ConnectionTimeout, cause)
	} else {
		fe = abandonedError(cause)
	}
	after := c.shutdownLocked(fe)
	c.mu.Unlock()
	run(after)
}

// shutdownLocked closes a live session through Closing to Closed. A pending
// handshake is rejected with reject.
func (c *Controller) shutdownLocked(reject *fault.Error) []func() {
	if c.state != Connecting && c.state != Open {
		return nil
	}
	after := []func(){c.setStateLocked(Closing)}
	return append(after, c.endLocked(Closed, reject)...)
}

// endLocked moves a live session to a final state, releasing the socket,
// settling any pending handshake and firing the teardown hook.
func (c *Controller) endLocked(final State, reject *fault.Error) []func() {
	after := []func(){c.setStateLocked(final)}

	if c.pending != nil {
		if reject == nil {
			reject = fault.Newf(fault.ConnectionClosed, "session ended during handshake")
		}
		c.settleLocked(reject)
	}

	if sock := c.socket; sock != nil {
		c.socket = nil
		after = append(after, func() { sock.Close() })
	}
	if h := c.handlers; h.OnTeardown != nil {
		after = append(after, h.OnTeardown)
	}
	return after
}

// settleLocked resolves the pending handshake once and stops its timer
func (c *Controller) settleLocked(err *fault.Error) {
	hs := c.pending
	if hs == nil {
		return
	}
	c.pending = nil
	if hs.timer != nil {
		hs.timer.Stop()
	}
	if err == nil {
		hs.done <- nil
	} else {
		hs.done <- err
	}
}

func (c *Controller) setStateLocked(to State) func() {
	from := c.state
	c.state = to
	h := c.handlers.OnStateChange
	return func() {
		c.log.Debug().Stringer("from", from).Stringer("to", to).Msg("State change")
		if h != nil && from != to {
			h(from, to)
		}
	}
}

func run(fns []func()) {
	for _, fn := range fns {
		fn()
	}
}
