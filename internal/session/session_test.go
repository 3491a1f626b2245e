package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bryanchriswhite/EmotionStreamer/internal/detection"
	"github.com/bryanchriswhite/EmotionStreamer/internal/fault"
	"github.com/bryanchriswhite/EmotionStreamer/internal/logger"
)

type fakeSocket struct {
	endpoint string
	ev       Events

	mu       sync.Mutex
	frames   [][]byte
	writeErr error
	closes   int
}

func (s *fakeSocket) WriteBinary(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return s.writeErr
	}
	s.frames = append(s.frames, append([]byte(nil), data...))
	return nil
}

func (s *fakeSocket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	return nil
}

func (s *fakeSocket) Frames() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

func (s *fakeSocket) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

type fakeTransport struct {
	opened  chan *fakeSocket
	openErr error
	calls   atomic.Int32
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{opened: make(chan *fakeSocket, 8)}
}

func (t *fakeTransport) Open(endpoint string, ev Events) (Socket, error) {
	t.calls.Add(1)
	if t.openErr != nil {
		return nil, t.openErr
	}
	s := &fakeSocket{endpoint: endpoint, ev: ev}
	t.opened <- s
	return s, nil
}

// recorder collects handler calls
type recorder struct {
	mu        sync.Mutex
	results   [][]detection.Detection
	errs      []*fault.Error
	replies   int
	teardowns int
	states    []State
}

func (r *recorder) handlers() Handlers {
	return Handlers{
		OnResult: func(d []detection.Detection) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.results = append(r.results, d)
		},
		OnError: func(err *fault.Error) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.errs = append(r.errs, err)
		},
		OnReply: func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.replies++
		},
		OnTeardown: func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.teardowns++
		},
		OnStateChange: func(_, to State) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.states = append(r.states, to)
		},
	}
}

func (r *recorder) snapshot() recorder {
	r.mu.Lock()
	defer r.mu.Unlock()
	return recorder{
		results:   append([][]detection.Detection(nil), r.results...),
		errs:      append([]*fault.Error(nil), r.errs...),
		replies:   r.replies,
		teardowns: r.teardowns,
		states:    append([]State(nil), r.states...),
	}
}

func newTestController(t *testing.T, tr Transport, timeout time.Duration) (*Controller, *recorder) {
	t.Helper()
	c := NewController(tr, Config{Host: "svc:8000", HandshakeTimeout: timeout, Logger: logger.Nop()})
	rec := &recorder{}
	c.SetHandlers(rec.handlers())
	return c, rec
}

func establishAsync(c *Controller, d, r string) <-chan error {
	result := make(chan error, 1)
	go func() { result <- c.Establish(context.Background(), d, r) }()
	return result
}

func nextSocket(t *testing.T, tr *fakeTransport) *fakeSocket {
	t.Helper()
	select {
	case s := <-tr.opened:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("transport was never opened")
		return nil
	}
}

func awaitResult(t *testing.T, ch <-chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("establish did not settle")
		return nil
	}
}

// openSession establishes a session and completes its handshake
func openSession(t *testing.T, c *Controller, tr *fakeTransport) *fakeSocket {
	t.Helper()
	result := establishAsync(c, "haar", "cnn7")
	sock := nextSocket(t, tr)
	sock.ev.OnOpen()
	if err := awaitResult(t, result); err != nil {
		t.Fatalf("establish failed: %v", err)
	}
	return sock
}

func TestDefaultHandshakeTimeout(t *testing.T) {
	c := NewController(newFakeTransport(), Config{Host: "svc:8000"})
	if c.cfg.HandshakeTimeout != 5000*time.Millisecond {
		t.Errorf("expected 5000ms default, got %s", c.cfg.HandshakeTimeout)
	}
	if c.State() != Idle {
		t.Errorf("expected Idle, got %s", c.State())
	}
}

func TestEndpoint(t *testing.T) {
	c := NewController(newFakeTransport(), Config{Host: "svc:8000"})
	if got := c.Endpoint("haar", "cnn7"); got != "ws://svc:8000/ws?detector=haar&recognizer=cnn7" {
		t.Errorf("unexpected endpoint %s", got)
	}

	secure := NewController(newFakeTransport(), Config{Host: "svc", Secure: true})
	if got := secure.Endpoint("a b", "c"); got != "wss://svc/ws?detector=a+b&recognizer=c" {
		t.Errorf("unexpected endpoint %s", got)
	}
}

func TestEstablishResolvesOnOpen(t *testing.T) {
	tr := newFakeTransport()
	c, rec := newTestController(t, tr, time.Second)

	sock := openSession(t, c, tr)

	if sock.endpoint != "ws://svc:8000/ws?detector=haar&recognizer=cnn7" {
		t.Errorf("unexpected endpoint %s", sock.endpoint)
	}
	if c.State() != Open {
		t.Errorf("expected Open, got %s", c.State())
	}
	d, r := c.Models()
	if d != "haar" || r != "cnn7" {
		t.Errorf("unexpected models %s/%s", d, r)
	}
	if c.SessionID() == "" {
		t.Error("expected a session id")
	}

	states := rec.snapshot().states
	if len(states) != 2 || states[0] != Connecting || states[1] != Open {
		t.Errorf("unexpected transitions %v", states)
	}
}

func TestEstablishRequiresBothModels(t *testing.T) {
	tr := newFakeTransport()
	c, _ := newTestController(t, tr, time.Second)

	for _, pair := range [][2]string{{"", "cnn7"}, {"haar", ""}, {"", ""}} {
		err := c.Establish(context.Background(), pair[0], pair[1])
		if !errors.Is(err, fault.ErrInvalidModelSelection) {
			t.Errorf("%v: expected InvalidModelSelection, got %v", pair, err)
		}
	}
	if tr.calls.Load() != 0 {
		t.Error("expected no transport to be opened")
	}
	if c.State() != Idle {
		t.Errorf("expected Idle, got %s", c.State())
	}
}

func TestEstablishTimesOut(t *testing.T) {
	tr := newFakeTransport()
	c, rec := newTestController(t, tr, 50*time.Millisecond)

	start := time.Now()
	result := establishAsync(c, "haar", "cnn7")
	sock := nextSocket(t, tr)

	err := awaitResult(t, result)
	if !errors.Is(err, fault.ErrConnectionTimeout) {
		t.Fatalf("expected ConnectionTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("settled before the deadline: %s", elapsed)
	}
	if c.State() != Closed {
		t.Errorf("expected Closed after timeout, got %s", c.State())
	}
	if sock.Closes() != 1 {
		t.Errorf("expected the socket to be closed once, got %d", sock.Closes())
	}

	// a late open event must not revive the session
	sock.ev.OnOpen()
	if c.State() != Closed {
		t.Errorf("late open changed state to %s", c.State())
	}

	snap := rec.snapshot()
	if snap.teardowns != 1 {
		t.Errorf("expected one teardown, got %d", snap.teardowns)
	}
	for _, s := range snap.states {
		if s == Error {
			t.Error("timeout must not pass through Error")
		}
	}
}

func TestEstablishTransportError(t *testing.T) {
	tr := newFakeTransport()
	c, rec := newTestController(t, tr, time.Second)

	result := establishAsync(c, "haar", "cnn7")
	sock := nextSocket(t, tr)
	sock.ev.OnError(errors.New("connection refused"))

	if err := awaitResult(t, result); err == nil {
		t.Fatal("expected establish to fail")
	}
	if c.State() != Error {
		t.Errorf("expected Error, got %s", c.State())
	}
	if rec.snapshot().teardowns != 1 {
		t.Error("expected teardown on handshake failure")
	}
	if len(rec.snapshot().errs) != 0 {
		t.Error("handshake failures are reported through Establish, not the error handler")
	}
}

func TestEstablishOpenFails(t *testing.T) {
	tr := newFakeTransport()
	tr.openErr = errors.New("unsupported endpoint scheme \"ftp\"")
	c, _ := newTestController(t, tr, time.Second)

	err := c.Establish(context.Background(), "haar", "cnn7")
	if err == nil {
		t.Fatal("expected an error")
	}
	if c.State() != Error {
		t.Errorf("expected Error, got %s", c.State())
	}
}

func TestEstablishPeerClosesWhileConnecting(t *testing.T) {
	tr := newFakeTransport()
	c, rec := newTestController(t, tr, time.Second)

	result := establishAsync(c, "haar", "cnn7")
	sock := nextSocket(t, tr)
	sock.ev.OnClose(1006, "")

	err := awaitResult(t, result)
	if !errors.Is(err, fault.ErrConnectionClosed) {
		t.Fatalf("expected ConnectionClosed, got %v", err)
	}
	if c.State() != Error {
		t.Errorf("expected Error, got %s", c.State())
	}
	if len(rec.snapshot().errs) != 0 {
		t.Error("early close must only surface through Establish")
	}
}

func TestCloseWhileConnectingAbandonsHandshake(t *testing.T) {
	tr := newFakeTransport()
	c, rec := newTestController(t, tr, time.Second)

	result := establishAsync(c, "haar", "cnn7")
	sock := nextSocket(t, tr)
	c.Close()

	err := awaitResult(t, result)
	if !errors.Is(err, fault.ErrConnectionClosed) {
		t.Fatalf("expected ConnectionClosed, got %v", err)
	}
	if c.State() != Closed {
		t.Errorf("expected Closed, got %s", c.State())
	}
	if sock.Closes() != 1 {
		t.Errorf("expected the socket to be closed, got %d closes", sock.Closes())
	}

	// the transport reporting its own close afterwards changes nothing
	sock.ev.OnClose(1000, "")
	sock.ev.OnError(errors.New("late"))

	for _, s := range rec.snapshot().states {
		if s == Error {
			t.Fatal("close during connecting must not enter Error")
		}
	}
	if c.State() != Closed {
		t.Errorf("expected Closed, got %s", c.State())
	}
}

func TestEstablishContextCancelled(t *testing.T) {
	tr := newFakeTransport()
	c, _ := newTestController(t, tr, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)
	go func() { result <- c.Establish(ctx, "haar", "cnn7") }()
	nextSocket(t, tr)
	cancel()

	err := awaitResult(t, result)
	if !errors.Is(err, fault.ErrConnectionClosed) {
		t.Fatalf("expected ConnectionClosed, got %v", err)
	}
	if c.State() != Closed {
		t.Errorf("expected Closed, got %s", c.State())
	}
}

func TestSendRequiresOpen(t *testing.T) {
	tr := newFakeTransport()
	c, _ := newTestController(t, tr, time.Second)

	if err := c.Send([]byte{0xFF, 0xD8}); !errors.Is(err, fault.ErrNotConnected) {
		t.Errorf("expected NotConnected while idle, got %v", err)
	}

	result := establishAsync(c, "haar", "cnn7")
	sock := nextSocket(t, tr)
	if err := c.Send([]byte{0xFF, 0xD8}); !errors.Is(err, fault.ErrNotConnected) {
		t.Errorf("expected NotConnected while connecting, got %v", err)
	}
	sock.ev.OnOpen()
	awaitResult(t, result)

	c.Close()
	if err := c.Send([]byte{0xFF, 0xD8}); !errors.Is(err, fault.ErrNotConnected) {
		t.Errorf("expected NotConnected after close, got %v", err)
	}
	if len(sock.Frames()) != 0 {
		t.Error("no frame should have reached the socket")
	}
}

func TestSendWriteFailure(t *testing.T) {
	tr := newFakeTransport()
	c, _ := newTestController(t, tr, time.Second)
	sock := openSession(t, c, tr)

	sock.mu.Lock()
	sock.writeErr = errors.New("broken pipe")
	sock.mu.Unlock()

	if err := c.Send([]byte{1}); err == nil {
		t.Fatal("expected send to fail")
	}
	if c.State() != Open {
		t.Errorf("a failed write alone does not change state, got %s", c.State())
	}
}

func TestHaarCnn7Scenario(t *testing.T) {
	tr := newFakeTransport()
	c, rec := newTestController(t, tr, 5000*time.Millisecond)
	sock := openSession(t, c, tr)

	jpegBytes := []byte{0xFF, 0xD8, 0xFF, 0xD9}
	if err := c.Send(jpegBytes); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if frames := sock.Frames(); len(frames) != 1 || string(frames[0]) != string(jpegBytes) {
		t.Fatalf("expected exactly one binary message, got %v", frames)
	}

	sock.ev.OnMessage([]byte(`[[3,10,10,50,50]]`))

	snap := rec.snapshot()
	if len(snap.results) != 1 {
		t.Fatalf("expected one result, got %d", len(snap.results))
	}
	dets := snap.results[0]
	if len(dets) != 1 || dets[0].Emotion != detection.Happy {
		t.Fatalf("unexpected detections %v", dets)
	}
	if dets[0].X1 != 10 || dets[0].Y1 != 10 || dets[0].X2 != 50 || dets[0].Y2 != 50 {
		t.Errorf("unexpected box %+v", dets[0])
	}
	if snap.replies != 1 {
		t.Errorf("expected one reply notification, got %d", snap.replies)
	}
}

func TestMalformedMessageKeepsSessionOpen(t *testing.T) {
	tr := newFakeTransport()
	c, rec := newTestController(t, tr, time.Second)
	sock := openSession(t, c, tr)

	sock.ev.OnMessage([]byte("Internal Server Error"))

	snap := rec.snapshot()
	if len(snap.errs) != 1 || snap.errs[0].Kind != fault.MalformedServerMessage {
		t.Fatalf("expected one MalformedServerMessage, got %v", snap.errs)
	}
	if len(snap.results) != 0 {
		t.Error("expected no result")
	}
	if snap.replies != 1 {
		t.Error("expected the reply notification so the gate reopens")
	}
	if c.State() != Open {
		t.Errorf("expected Open, got %s", c.State())
	}
	if err := c.Send([]byte{1}); err != nil {
		t.Errorf("expected the next send to succeed, got %v", err)
	}
}

func TestUnexpectedCloseWhileOpen(t *testing.T) {
	tr := newFakeTransport()
	c, rec := newTestController(t, tr, time.Second)
	sock := openSession(t, c, tr)

	sock.ev.OnClose(1011, "internal error")

	snap := rec.snapshot()
	if len(snap.errs) != 1 || snap.errs[0].Kind != fault.ConnectionClosed {
		t.Fatalf("expected ConnectionClosed, got %v", snap.errs)
	}
	if c.State() != Closed {
		t.Errorf("expected Closed, got %s", c.State())
	}
	if snap.teardowns != 1 {
		t.Errorf("expected one teardown, got %d", snap.teardowns)
	}
}

func TestTransportErrorWhileOpen(t *testing.T) {
	tr := newFakeTransport()
	c, rec := newTestController(t, tr, time.Second)
	sock := openSession(t, c, tr)

	sock.ev.OnError(errors.New("read: connection reset by peer"))

	if c.State() != Error {
		t.Errorf("expected Error, got %s", c.State())
	}
	snap := rec.snapshot()
	if len(snap.errs) != 1 {
		t.Fatalf("expected one reported error, got %d", len(snap.errs))
	}
	if snap.teardowns != 1 {
		t.Errorf("expected one teardown, got %d", snap.teardowns)
	}

	// Error is terminal until re-established
	c.Close()
	if c.State() != Error {
		t.Errorf("close must not leave Error, got %s", c.State())
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	tr := newFakeTransport()
	c, rec := newTestController(t, tr, time.Second)
	sock := openSession(t, c, tr)

	c.Close()
	c.Close()

	if c.State() != Closed {
		t.Errorf("expected Closed, got %s", c.State())
	}
	if sock.Closes() != 1 {
		t.Errorf("expected one socket close, got %d", sock.Closes())
	}
	if rec.snapshot().teardowns != 1 {
		t.Errorf("expected one teardown, got %d", rec.snapshot().teardowns)
	}

	states := rec.snapshot().states
	if len(states) < 2 || states[len(states)-2] != Closing || states[len(states)-1] != Closed {
		t.Errorf("expected Closing then Closed, got %v", states)
	}
}

func TestReestablishTearsDownPriorSession(t *testing.T) {
	tr := newFakeTransport()
	c, rec := newTestController(t, tr, time.Second)
	first := openSession(t, c, tr)
	firstID := c.SessionID()

	second := openSession(t, c, tr)
	if first.Closes() != 1 {
		t.Error("expected the prior socket to be closed")
	}
	if c.SessionID() == firstID {
		t.Error("expected a new session id")
	}
	if rec.snapshot().teardowns != 1 {
		t.Errorf("expected the prior session to be torn down once, got %d", rec.snapshot().teardowns)
	}

	// events from the old socket are stale
	first.ev.OnMessage([]byte(`[[1,0,0,1,1]]`))
	first.ev.OnClose(1000, "")
	if len(rec.snapshot().results) != 0 {
		t.Error("stale message was delivered")
	}
	if c.State() != Open {
		t.Errorf("stale close changed state to %s", c.State())
	}

	second.ev.OnMessage([]byte(`[]`))
	if len(rec.snapshot().results) != 1 {
		t.Error("expected the live socket's message to be delivered")
	}
}

func TestStateString(t *testing.T) {
	if Connecting.String() != "connecting" || Error.String() != "error" {
		t.Error("unexpected state names")
	}
	if State(42).String() != "state(42)" {
		t.Errorf("unexpected name %s", State(42))
	}
}
