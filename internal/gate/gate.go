// Package gate paces frame submission so at most one frame is ever in
// flight between capture and its acknowledged result. Frames offered while
// a frame is outstanding are dropped, never queued.
package gate

import (
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/bryanchriswhite/EmotionStreamer/internal/fault"
	"github.com/bryanchriswhite/EmotionStreamer/internal/logger"
)

// FrameSupplier produces one encoded frame on demand
type FrameSupplier func() ([]byte, error)

// Sender transmits one frame
type Sender interface {
	Send(frame []byte) error
}

// SenderFunc adapts a function to Sender
type SenderFunc func(frame []byte) error

func (f SenderFunc) Send(frame []byte) error { return f(frame) }

// Stats are cumulative counters
type Stats struct {
	Submitted    uint64 `json:"submitted"`
	Dropped      uint64 `json:"dropped"`
	Released     uint64 `json:"released"`
	SendFailures uint64 `json:"send_failures"`
}

// Gate holds the single frame ticket
type Gate struct {
	sender  Sender
	onError func(*fault.Error)
	log     *zerolog.Logger

	closed atomic.Bool

	submitted    atomic.Uint64
	dropped      atomic.Uint64
	released     atomic.Uint64
	sendFailures atomic.Uint64
}

// New creates an open gate. onError receives supplier and send failures and
// may be nil.
func New(sender Sender, onError func(*fault.Error)) *Gate {
	return &Gate{
		sender:  sender,
		onError: onError,
		log:     logger.WithComponent("gate"),
	}
}

// TrySubmit sends one frame if no frame is outstanding. It returns false
// when the frame was dropped (or could not be produced) and true once a send
// was attempted. A failed send reopens the gate immediately.
func (g *Gate) TrySubmit(supply FrameSupplier) bool {
	if !g.closed.CompareAndSwap(false, true) {
		g.dropped.Add(1)
		return false
	}

	frame, err := supply()
	if err != nil {
		g.closed.Store(false)
		g.report(err)
		return false
	}

	g.submitted.Add(1)
	if err := g.sender.Send(frame); err != nil {
		g.sendFailures.Add(1)
		g.closed.Store(false)
		g.report(err)
	}
	return true
}

// Release forces the ticket open. It reports whether the gate was closed.
func (g *Gate) Release() bool {
	if g.closed.CompareAndSwap(true, false) {
		g.released.Add(1)
		return true
	}
	return false
}

// IsOpen reports whether a frame may be submitted
func (g *Gate) IsOpen() bool {
	return !g.closed.Load()
}

func (g *Gate) Stats() Stats {
	return Stats{
		Submitted:    g.submitted.Load(),
		Dropped:      g.dropped.Load(),
		Released:     g.released.Load(),
		SendFailures: g.sendFailures.Load(),
	}
}

func (g *Gate) report(err error) {
	fe := fault.Classify(err)
	g.log.Debug().Err(err).Str("kind", fe.Kind.String()).Msg("Frame submission failed")
	if g.onError != nil {
		g.onError(fe)
	}
}
