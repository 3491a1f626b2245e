// Package stream runs the capture loop: every tick it offers one frame to the
// backpressure gate, which sends it over the connection session, and it
// forwards replies and classified errors to the presenter.
package stream

import (
	"context"
	"errors"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/bryanchriswhite/EmotionStreamer/internal/capture"
	"github.com/bryanchriswhite/EmotionStreamer/internal/detection"
	"github.com/bryanchriswhite/EmotionStreamer/internal/fault"
	"github.com/bryanchriswhite/EmotionStreamer/internal/gate"
	"github.com/bryanchriswhite/EmotionStreamer/internal/logger"
	"github.com/bryanchriswhite/EmotionStreamer/internal/session"
)

// ErrAlreadyRunning is returned by Start on a running streamer
var ErrAlreadyRunning = errors.New("stream: already running")

var errStoppedWhileStarting = errors.New("stream: stopped while starting")

// DefaultFPS is the capture tick rate
const DefaultFPS = 10

// Result is one answered frame
type Result struct {
	SessionID  string                `json:"session_id"`
	Sequence   uint64                `json:"sequence"`
	Frame      image.Image           `json:"-"`
	Detections []detection.Detection `json:"detections"`
	Latency    time.Duration         `json:"latency_ns"`
}

// Presenter consumes results and classified errors. It never owns the
// capture or the connection.
type Presenter interface {
	OnResult(Result)
	OnError(*fault.Error)
}

type multi []Presenter

func (m multi) OnResult(r Result) {
	for _, p := range m {
		p.OnResult(r)
	}
}

func (m multi) OnError(err *fault.Error) {
	for _, p := range m {
		p.OnError(err)
	}
}

// Multi fans out to several presenters in order
func Multi(presenters ...Presenter) Presenter {
	return multi(presenters)
}

// Config for a Streamer
type Config struct {
	FPS         int
	JPEGQuality int
	Logger      *zerolog.Logger
}

// Status is a point-in-time snapshot
type Status struct {
	Running    bool          `json:"running"`
	State      session.State `json:"state"`
	SessionID  string        `json:"session_id,omitempty"`
	Detector   string        `json:"detector,omitempty"`
	Recognizer string        `json:"recognizer,omitempty"`
	CameraID   string        `json:"camera_id,omitempty"`
	Facing     string        `json:"facing,omitempty"`
	Fallback   bool          `json:"fallback"`
	GateOpen   bool          `json:"gate_open"`
	Gate       gate.Stats    `json:"gate"`
	Results    uint64        `json:"results"`
	Errors     uint64        `json:"errors"`
	LastError  string        `json:"last_error,omitempty"`
}

type inflight struct {
	frame image.Image
	seq   uint64
	sent  time.Time
}

// Streamer wires camera, gate, connection and presenter together
type Streamer struct {
	camera    *capture.Controller
	conn      *session.Controller
	gate      *gate.Gate
	presenter Presenter
	cfg       Config
	log       *zerolog.Logger

	mu       sync.Mutex
	gen      uint64
	starting bool
	running  bool
	cancel   context.CancelFunc
	done     chan struct{}
	seq      uint64
	pending  *inflight
	lastErr  *fault.Error

	resultCount atomic.Uint64
	errorCount  atomic.Uint64
}

// New wires a streamer. It registers itself as the connection's handler
// set and the camera's release hook.
func New(camera *capture.Controller, conn *session.Controller, presenter Presenter, cfg Config) *Streamer {
	if cfg.FPS <= 0 {
		cfg.FPS = DefaultFPS
	}
	if cfg.JPEGQuality <= 0 {
		cfg.JPEGQuality = DefaultJPEGQuality
	}
	log := cfg.Logger
	if log == nil {
		log = logger.WithComponent("stream")
	}

	s := &Streamer{
		camera:    camera,
		conn:      conn,
		presenter: presenter,
		cfg:       cfg,
		log:       log,
	}
	s.gate = gate.New(conn, s.reportError)

	conn.SetHandlers(session.Handlers{
		OnResult:   s.handleResult,
		OnError:    s.reportError,
		OnReply:    s.releaseGate,
		OnTeardown: s.releaseGate,
		OnStateChange: func(from, to session.State) {
			s.log.Info().Stringer("from", from).Stringer("to", to).Msg("Connection state changed")
		},
	})
	camera.OnRelease(func(*capture.Session) { s.releaseGate() })

	return s
}

// Start acquires the camera, establishes the connection and begins ticking.
// A running streamer whose connection has ended re-establishes it, keeping
// the camera and the tick loop.
func (s *Streamer) Start(ctx context.Context, detectorID, recognizerID string) error {
	state := s.conn.State()

	s.mu.Lock()
	if s.starting || (s.running && state == session.Open) {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.gen++
	gen := s.gen
	s.starting = true
	s.running = true
	s.mu.Unlock()

	fail := func(err error) error {
		s.mu.Lock()
		var cancel context.CancelFunc
		var done chan struct{}
		if s.gen == gen {
			s.starting = false
			s.running = false
			cancel, done = s.cancel, s.done
			s.cancel, s.done = nil, nil
		}
		s.mu.Unlock()
		if cancel != nil {
			cancel()
			<-done
		}
		s.reportError(fault.Classify(err))
		return err
	}

	if s.camera.Session() == nil {
		if _, err := s.camera.AcquirePreferred(ctx); err != nil {
			return fail(err)
		}
	}
	if err := s.superseded(gen); err != nil {
		return err
	}

	if err := s.conn.Establish(ctx, detectorID, recognizerID); err != nil {
		return fail(err)
	}

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return s.superseded(gen)
	}
	s.starting = false
	var loopCtx context.Context
	var done chan struct{}
	if s.cancel == nil {
		var cancel context.CancelFunc
		loopCtx, cancel = context.WithCancel(context.Background())
		done = make(chan struct{})
		s.cancel = cancel
		s.done = done
	}
	s.mu.Unlock()

	if done != nil {
		go s.loop(loopCtx, done)
	}

	s.log.Info().
		Str("detector", detectorID).
		Str("recognizer", recognizerID).
		Int("fps", s.cfg.FPS).
		Bool("resumed", done == nil).
		Msg("Streaming started")
	return nil
}

// superseded reports a Stop that ran after the Start of generation gen began.
// Unless a newer Start is running, whatever this Start set up is torn down.
func (s *Streamer) superseded(gen uint64) error {
	s.mu.Lock()
	if s.gen == gen {
		s.mu.Unlock()
		return nil
	}
	idle := !s.running
	s.mu.Unlock()

	if idle {
		s.conn.Close()
		s.camera.Release()
	}
	return fault.New(fault.ConnectionClosed, errStoppedWhileStarting)
}

// Stop ends the tick loop, closes the connection and releases the camera.
// A Start still in progress fails with ConnectionClosed.
func (s *Streamer) Stop() {
	s.mu.Lock()
	s.gen++
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	wasRunning := s.running
	s.running = false
	s.starting = false
	s.pending = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	s.conn.Close()
	s.camera.Release()
	s.gate.Release()

	if wasRunning {
		s.log.Info().Msg("Streaming stopped")
	}
}

// Running reports whether streaming was started and not stopped. The
// connection may have ended since; see Status.
func (s *Streamer) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Gate exposes the backpressure gate for status reporting
func (s *Streamer) Gate() *gate.Gate {
	return s.gate
}

func (s *Streamer) Status() Status {
	s.mu.Lock()
	running := s.running
	lastErr := s.lastErr
	s.mu.Unlock()

	d, r := s.conn.Models()
	st := Status{
		Running:    running,
		State:      s.conn.State(),
		SessionID:  s.conn.SessionID(),
		Detector:   d,
		Recognizer: r,
		Facing:     string(s.camera.Facing()),
		GateOpen:   s.gate.IsOpen(),
		Gate:       s.gate.Stats(),
		Results:    s.resultCount.Load(),
		Errors:     s.errorCount.Load(),
	}
	if sess := s.camera.Session(); sess != nil {
		st.CameraID = sess.DeviceID
		st.Fallback = sess.Fallback
	}
	if lastErr != nil {
		st.LastError = lastErr.Error()
	}
	return st
}

func (s *Streamer) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(time.Second / time.Duration(s.cfg.FPS))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// frames are only offered to a live connection; re-establishing
			// is up to the caller
			if s.conn.State() != session.Open {
				continue
			}
			s.gate.TrySubmit(func() ([]byte, error) { return s.nextFrame(ctx) })
		}
	}
}

// nextFrame reads and encodes one frame and records it as in flight
func (s *Streamer) nextFrame(ctx context.Context) ([]byte, error) {
	img, err := s.camera.ReadFrame(ctx)
	if err != nil {
		return nil, err
	}

	var native capture.JPEGEncoder
	if sess := s.camera.Session(); sess != nil {
		native, _ = sess.Stream.(capture.JPEGEncoder)
	}
	data, err := EncodeJPEG(img, s.cfg.JPEGQuality, native)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.seq++
	s.pending = &inflight{frame: img, seq: s.seq, sent: time.Now()}
	s.mu.Unlock()
	return data, nil
}

func (s *Streamer) handleResult(dets []detection.Detection) {
	s.mu.Lock()
	p := s.pending
	s.pending = nil
	s.mu.Unlock()

	res := Result{
		SessionID:  s.conn.SessionID(),
		Detections: dets,
	}
	if p != nil {
		res.Sequence = p.seq
		res.Frame = p.frame
		res.Latency = time.Since(p.sent)
	}
	s.resultCount.Add(1)

	s.log.Debug().
		Uint64("sequence", res.Sequence).
		Int("faces", len(dets)).
		Dur("latency", res.Latency).
		Msg("Result received")

	if s.presenter != nil {
		s.presenter.OnResult(res)
	}
}

func (s *Streamer) reportError(err *fault.Error) {
	if err == nil {
		return
	}
	s.errorCount.Add(1)
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()

	s.log.Warn().Str("kind", err.Kind.String()).Str("hint", err.Hint).Err(err.Err).Msg("Stream error")
	if s.presenter != nil {
		s.presenter.OnError(err)
	}
}

func (s *Streamer) releaseGate() {
	s.gate.Release()
}
