//go:build opencv

// Package opencv implements capture.MediaDevices with gocv VideoCapture.
// Devices are addressed by their numeric index.
package opencv

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gocv.io/x/gocv"

	"github.com/bryanchriswhite/EmotionStreamer/internal/capture"
	"github.com/bryanchriswhite/EmotionStreamer/internal/logger"
)

// DefaultProbe is how many indices EnumerateDevices tries
const DefaultProbe = 4

// Devices is the OpenCV capture backend
type Devices struct {
	probe int
	log   *zerolog.Logger
}

// New creates the backend probing up to probe device indices
func New(probe int) *Devices {
	if probe <= 0 {
		probe = DefaultProbe
	}
	return &Devices{probe: probe, log: logger.WithComponent("opencv")}
}

func (d *Devices) EnumerateDevices(ctx context.Context) ([]capture.DeviceDescriptor, error) {
	var out []capture.DeviceDescriptor
	for i := 0; i < d.probe; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		vc, err := gocv.OpenVideoCapture(i)
		if err != nil {
			continue
		}
		if vc.IsOpened() {
			out = append(out, capture.DeviceDescriptor{
				ID:    strconv.Itoa(i),
				Label: fmt.Sprintf("Camera %d (%s)", i, vc.CodecString()),
			})
		}
		vc.Close()
	}
	return out, nil
}

// deviceIndex maps a request onto a device index. OpenCV knows nothing about
// facing; by convention index 0 is the front camera and 1 the back camera.
func deviceIndex(req capture.Request) (int, error) {
	if req.DeviceID != "" {
		idx, err := strconv.Atoi(req.DeviceID)
		if err != nil || idx < 0 {
			return 0, capture.NewPlatformError(capture.NotFoundError, fmt.Errorf("device %q is not a camera index", req.DeviceID))
		}
		return idx, nil
	}
	if req.FacingMode == "environment" {
		return 1, nil
	}
	return 0, nil
}

func (d *Devices) GetUserMedia(ctx context.Context, req capture.Request) (capture.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	idx, err := deviceIndex(req)
	if err != nil {
		return nil, err
	}

	vc, err := gocv.OpenVideoCapture(idx)
	if err != nil {
		return nil, capture.NewPlatformError(capture.NotFoundError, fmt.Errorf("failed to open camera %d: %w", idx, err))
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, capture.NewPlatformError(capture.NotReadableError, fmt.Errorf("camera %d could not be opened", idx))
	}

	if req.Width > 0 {
		vc.Set(gocv.VideoCaptureFrameWidth, float64(req.Width))
	}
	if req.Height > 0 {
		vc.Set(gocv.VideoCaptureFrameHeight, float64(req.Height))
	}

	s := &stream{
		id:       uuid.NewString(),
		deviceID: strconv.Itoa(idx),
		vc:       vc,
		mat:      gocv.NewMat(),
	}

	// a camera that opens but never delivers is held by someone else
	if ok := vc.Read(&s.mat); !ok || s.mat.Empty() {
		s.close()
		return nil, capture.NewPlatformError(capture.NotReadableError, fmt.Errorf("camera %d delivered no frame", idx))
	}

	d.log.Info().
		Int("index", idx).
		Float64("width", vc.Get(gocv.VideoCaptureFrameWidth)).
		Float64("height", vc.Get(gocv.VideoCaptureFrameHeight)).
		Msg("Camera opened")

	s.track = &track{id: s.id + "/video", stop: s.close}
	return s, nil
}

type stream struct {
	id       string
	deviceID string
	track    *track

	mu     sync.Mutex
	vc     *gocv.VideoCapture
	mat    gocv.Mat
	closed bool
}

func (s *stream) ID() string       { return s.id }
func (s *stream) DeviceID() string { return s.deviceID }

func (s *stream) Tracks() []capture.Track {
	return []capture.Track{s.track}
}

func (s *stream) ReadFrame(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, errors.New("camera closed")
	}
	if ok := s.vc.Read(&s.mat); !ok || s.mat.Empty() {
		return nil, capture.NewPlatformError(capture.NotReadableError, errors.New("failed to read frame"))
	}
	return s.mat.ToImage()
}

// EncodeJPEG encodes natively, skipping the Go image/jpeg path
func (s *stream) EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return nil, fmt.Errorf("failed to convert frame: %w", err)
	}
	defer mat.Close()

	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, mat, []int{gocv.IMWriteJpegQuality, quality})
	if err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}
	defer buf.Close()

	return append([]byte(nil), buf.GetBytes()...), nil
}

func (s *stream) close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	s.vc.Close()
	s.mat.Close()
}

type track struct {
	id   string
	stop func()

	mu      sync.Mutex
	stopped bool
}

func (t *track) ID() string { return t.id }

func (t *track) Stop() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.stopped = true
	t.mu.Unlock()
	t.stop()
}

func (t *track) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}
