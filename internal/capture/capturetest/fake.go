// Package capturetest provides an in-memory MediaDevices for tests
package capturetest

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"sync"
	"sync/atomic"

	"github.com/bryanchriswhite/EmotionStreamer/internal/capture"
)

// Devices is a scriptable capture.MediaDevices
type Devices struct {
	mu       sync.Mutex
	list     []capture.DeviceDescriptor
	listErr  error
	fail     func(req capture.Request) error
	requests []capture.Request
	streams  []*Stream
	count    int

	// OnRequest, when set, runs before each GetUserMedia call is answered
	OnRequest func(req capture.Request, open []*Stream)
}

// NewDevices returns a fake exposing the given devices
func NewDevices(list ...capture.DeviceDescriptor) *Devices {
	return &Devices{list: list}
}

// FailWith makes GetUserMedia return the result of fn when non-nil
func (d *Devices) FailWith(fn func(req capture.Request) error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fail = fn
}

// FailEnumerate makes EnumerateDevices fail
func (d *Devices) FailEnumerate(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listErr = err
}

func (d *Devices) EnumerateDevices(ctx context.Context) ([]capture.DeviceDescriptor, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.listErr != nil {
		return nil, d.listErr
	}
	out := make([]capture.DeviceDescriptor, len(d.list))
	copy(out, d.list)
	return out, nil
}

func (d *Devices) GetUserMedia(ctx context.Context, req capture.Request) (capture.Stream, error) {
	d.mu.Lock()
	d.requests = append(d.requests, req)
	hook := d.OnRequest
	open := append([]*Stream(nil), d.streams...)
	fail := d.fail
	d.mu.Unlock()

	if hook != nil {
		hook(req, open)
	}
	if fail != nil {
		if err := fail(req); err != nil {
			return nil, err
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.count++
	deviceID := req.DeviceID
	if deviceID == "" {
		deviceID = "default"
		for _, dev := range d.list {
			if req.FacingMode == "" || dev.Facing.FacingMode() == req.FacingMode {
				deviceID = dev.ID
				break
			}
		}
	}
	s := &Stream{
		id:       fmt.Sprintf("stream-%d", d.count),
		deviceID: deviceID,
		track:    &Track{id: fmt.Sprintf("track-%d", d.count)},
		width:    max(req.Width, 64),
		height:   max(req.Height, 48),
	}
	d.streams = append(d.streams, s)
	return s, nil
}

// Requests returns every request received so far
func (d *Devices) Requests() []capture.Request {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]capture.Request(nil), d.requests...)
}

// Streams returns every stream opened so far
func (d *Devices) Streams() []*Stream {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Stream(nil), d.streams...)
}

// Stream is a fake stream with a single track producing solid frames
type Stream struct {
	id       string
	deviceID string
	track    *Track
	width    int
	height   int
	frames   atomic.Int64
}

func (s *Stream) ID() string       { return s.id }
func (s *Stream) DeviceID() string { return s.deviceID }

func (s *Stream) Tracks() []capture.Track {
	return []capture.Track{s.track}
}

// Track returns the concrete track
func (s *Stream) Track() *Track {
	return s.track
}

// FramesRead reports how many frames were read
func (s *Stream) FramesRead() int64 {
	return s.frames.Load()
}

func (s *Stream) ReadFrame(ctx context.Context) (image.Image, error) {
	if s.track.Stopped() {
		return nil, fmt.Errorf("track %s stopped", s.track.id)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n := s.frames.Add(1)
	img := image.NewRGBA(image.Rect(0, 0, s.width, s.height))
	fill := color.RGBA{uint8(n * 16), 0x80, 0x40, 0xFF}
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = fill.R, fill.G, fill.B, fill.A
	}
	return img, nil
}

// Track is a fake media track
type Track struct {
	id      string
	stopped atomic.Bool
	stops   atomic.Int32
}

func (t *Track) ID() string { return t.id }

func (t *Track) Stop() {
	t.stops.Add(1)
	t.stopped.Store(true)
}

func (t *Track) Stopped() bool { return t.stopped.Load() }

// StopCalls reports how many times Stop was called
func (t *Track) StopCalls() int {
	return int(t.stops.Load())
}
