// Package mediadev implements capture.MediaDevices on top of
// pion/mediadevices camera drivers.
package mediadev

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/rs/zerolog"

	// registers the camera adapter
	_ "github.com/pion/mediadevices/pkg/driver/camera"

	"github.com/bryanchriswhite/EmotionStreamer/internal/capture"
	"github.com/bryanchriswhite/EmotionStreamer/internal/logger"
)

// Devices is the pion/mediadevices capture backend
type Devices struct {
	log *zerolog.Logger
}

// New creates the backend
func New() *Devices {
	return &Devices{log: logger.WithComponent("mediadevices")}
}

func (d *Devices) EnumerateDevices(ctx context.Context) ([]capture.DeviceDescriptor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []capture.DeviceDescriptor
	for _, info := range mediadevices.EnumerateDevices() {
		if info.Kind != mediadevices.VideoInput {
			continue
		}
		out = append(out, capture.DeviceDescriptor{
			ID:     info.DeviceID,
			Label:  info.Label,
			Facing: facingFromLabel(info.Label),
		})
	}
	return out, nil
}

// facingFromLabel guesses the facing from the driver label, which is the only
// hint the camera drivers expose
func facingFromLabel(label string) capture.Facing {
	l := strings.ToLower(label)
	switch {
	case strings.Contains(l, "front"), strings.Contains(l, "user"), strings.Contains(l, "facetime"),
		strings.Contains(l, "integrated"):
		return capture.FacingFront
	case strings.Contains(l, "back"), strings.Contains(l, "rear"), strings.Contains(l, "environment"):
		return capture.FacingBack
	}
	return capture.FacingNone
}

func (d *Devices) GetUserMedia(ctx context.Context, req capture.Request) (capture.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	devices, err := d.EnumerateDevices(ctx)
	if err != nil {
		return nil, err
	}
	if len(devices) == 0 {
		return nil, capture.NewPlatformError(capture.NotFoundError, errors.New("no video input devices"))
	}

	deviceID, err := resolveDevice(devices, req)
	if err != nil {
		return nil, err
	}

	constraints := mediadevices.MediaStreamConstraints{
		Video: func(c *mediadevices.MediaTrackConstraints) {
			if deviceID != "" {
				c.DeviceID = prop.StringExact(deviceID)
			}
			if req.Width > 0 {
				c.Width = prop.Int(req.Width)
			}
			if req.Height > 0 {
				c.Height = prop.Int(req.Height)
			}
		},
	}

	d.log.Debug().Str("device_id", deviceID).Str("request", req.String()).Msg("Requesting camera stream")

	ms, err := mediadevices.GetUserMedia(constraints)
	if err != nil {
		return nil, platformError(err)
	}

	tracks := ms.GetVideoTracks()
	if len(tracks) == 0 {
		return nil, capture.NewPlatformError(capture.NotReadableError, errors.New("stream has no video track"))
	}

	vt, ok := tracks[0].(*mediadevices.VideoTrack)
	if !ok {
		for _, t := range tracks {
			t.Close()
		}
		return nil, capture.NewPlatformError(capture.TypeError, fmt.Errorf("track is not a video track: %T", tracks[0]))
	}

	s := &stream{
		id:       uuid.NewString(),
		deviceID: deviceID,
		reader:   vt.NewReader(false),
	}
	if s.deviceID == "" {
		s.deviceID = devices[0].ID
	}
	for _, t := range tracks {
		s.tracks = append(s.tracks, &track{t: t})
	}
	return s, nil
}

// resolveDevice picks the device id to constrain on. An explicit id must
// exist. A facing mode is ideal: without a matching label any camera will do.
func resolveDevice(devices []capture.DeviceDescriptor, req capture.Request) (string, error) {
	if req.DeviceID != "" {
		for _, dev := range devices {
			if dev.ID == req.DeviceID {
				return dev.ID, nil
			}
		}
		return "", capture.NewPlatformError(capture.NotFoundError, fmt.Errorf("device %q not found", req.DeviceID))
	}

	if req.FacingMode != "" {
		for _, dev := range devices {
			if dev.Facing.FacingMode() == req.FacingMode {
				return dev.ID, nil
			}
		}
	}
	return "", nil
}

// mediadevices reports every selection failure as the same driver error;
// the device was already found so what is left is the constraints
func platformError(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "permission denied"):
		return capture.NewPlatformError(capture.NotAllowedError, err)
	case strings.Contains(msg, "busy"):
		return capture.NewPlatformError(capture.NotReadableError, err)
	case strings.Contains(msg, "failed to find"):
		return capture.NewPlatformError(capture.OverconstrainedError, err)
	}
	return err
}

type frameReader interface {
	Read() (image.Image, func(), error)
}

type stream struct {
	id       string
	deviceID string
	reader   frameReader
	tracks   []capture.Track

	mu sync.Mutex
}

func (s *stream) ID() string              { return s.id }
func (s *stream) DeviceID() string        { return s.deviceID }
func (s *stream) Tracks() []capture.Track { return s.tracks }

func (s *stream) ReadFrame(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	img, release, err := s.reader.Read()
	if err != nil {
		return nil, err
	}
	if release != nil {
		defer release()
	}
	if img == nil {
		return nil, errors.New("empty frame")
	}

	// the driver reuses its buffer after release
	bounds := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(out, out.Bounds(), img, bounds.Min, draw.Src)
	return out, nil
}

type track struct {
	t       mediadevices.Track
	once    sync.Once
	stopped bool
	mu      sync.Mutex
}

func (t *track) ID() string { return t.t.ID() }

func (t *track) Stop() {
	t.once.Do(func() {
		t.t.Close()
		t.mu.Lock()
		t.stopped = true
		t.mu.Unlock()
	})
}

func (t *track) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}
