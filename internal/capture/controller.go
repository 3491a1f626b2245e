package capture

import (
	"context"
	"errors"
	"image"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/bryanchriswhite/EmotionStreamer/internal/fault"
	"github.com/bryanchriswhite/EmotionStreamer/internal/logger"
)

// ErrNoSession is returned when reading frames without a live session
var ErrNoSession = errors.New("capture: no active session")

// Default resolution hint
const (
	DefaultWidth  = 1280
	DefaultHeight = 720
)

// Session is the live capture session
type Session struct {
	ID       string
	DeviceID string
	Facing   Facing
	Request  Request
	Stream   Stream
	Fallback bool
	Started  time.Time
}

// Constraints describe the camera to acquire
type Constraints struct {
	DeviceID string
	Facing   Facing
	Width    int
	Height   int
}

func (c Constraints) request() Request {
	req := Request{Width: c.Width, Height: c.Height}
	if c.DeviceID != "" {
		req.DeviceID = c.DeviceID
	} else {
		req.FacingMode = c.Facing.FacingMode()
	}
	return req
}

// Options configures a Controller
type Options struct {
	Mode     Mode
	Facing   Facing
	DeviceID string
	Width    int
	Height   int

	// Secure is false when capture is reached over a non-local plain text
	// transport; failures then carry the secure transport hint
	Secure bool

	Logger *zerolog.Logger
}

// Controller owns the camera and the single live capture session
type Controller struct {
	devices MediaDevices
	mode    Mode
	width   int
	height  int
	secure  bool
	log     *zerolog.Logger

	// serializes acquire/release/switch so two acquisitions never overlap
	opMu sync.Mutex

	mu        sync.RWMutex
	session   *Session
	facing    Facing
	deviceID  string
	onRelease func(*Session)
}

// NewController creates a controller. devices may be nil when the platform
// has no capture support; every operation then fails with CaptureUnsupported.
func NewController(devices MediaDevices, opts Options) *Controller {
	if opts.Mode == "" {
		opts.Mode = ModeDesktop
	}
	if opts.Mode == ModeMobile && opts.Facing == FacingNone {
		opts.Facing = FacingFront
	}
	if opts.Width <= 0 {
		opts.Width = DefaultWidth
	}
	if opts.Height <= 0 {
		opts.Height = DefaultHeight
	}
	log := opts.Logger
	if log == nil {
		log = logger.WithComponent("capture")
	}

	return &Controller{
		devices:  devices,
		mode:     opts.Mode,
		width:    opts.Width,
		height:   opts.Height,
		secure:   opts.Secure,
		log:      log,
		facing:   opts.Facing,
		deviceID: opts.DeviceID,
	}
}

// OnRelease registers a hook called after a session's tracks are stopped
func (c *Controller) OnRelease(fn func(*Session)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onRelease = fn
}

// ListDevices returns the video inputs. In mobile mode the list is empty.
// On desktop the first device becomes the selection if none is set.
func (c *Controller) ListDevices(ctx context.Context) ([]DeviceDescriptor, error) {
	if c.devices == nil {
		return nil, c.unsupported()
	}
	if c.mode == ModeMobile {
		return []DeviceDescriptor{}, nil
	}

	devices, err := c.devices.EnumerateDevices(ctx)
	if err != nil {
		return nil, c.classify(err)
	}

	if len(devices) > 0 {
		c.mu.Lock()
		if c.deviceID == "" {
			c.deviceID = devices[0].ID
			c.log.Info().Str("device_id", c.deviceID).Str("label", devices[0].Label).Msg("Selected default camera")
		}
		c.mu.Unlock()
	}
	return devices, nil
}

// Preferred returns constraints built from the mode and recorded preferences
func (c *Controller) Preferred() Constraints {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.preferredLocked()
}

func (c *Controller) preferredLocked() Constraints {
	cons := Constraints{Width: c.width, Height: c.height}
	if c.mode == ModeMobile || c.deviceID == "" {
		cons.Facing = c.facing
	} else {
		cons.DeviceID = c.deviceID
	}
	return cons
}

// Acquire releases any live session and opens a new one. A failed request is
// retried once with the most permissive request; if that fails too the
// first failure is returned.
func (c *Controller) Acquire(ctx context.Context, cons Constraints) (*Session, error) {
	if c.devices == nil {
		return nil, c.unsupported()
	}

	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.release()
	return c.acquire(ctx, cons)
}

// AcquirePreferred acquires with the recorded preferences
func (c *Controller) AcquirePreferred(ctx context.Context) (*Session, error) {
	return c.Acquire(ctx, c.Preferred())
}

func (c *Controller) acquire(ctx context.Context, cons Constraints) (*Session, error) {
	req := cons.request()
	log := c.log.With().Str("request", req.String()).Logger()

	stream, err := c.devices.GetUserMedia(ctx, req)
	fallback := false
	if err != nil {
		first := c.classify(err)
		log.Warn().Err(err).Str("kind", first.Kind.String()).Msg("Camera acquisition failed, retrying with any camera")

		if ctx.Err() != nil {
			return nil, first
		}

		stream, err = c.devices.GetUserMedia(ctx, Request{})
		if err != nil {
			log.Error().Err(err).Str("kind", first.Kind.String()).Msg("Fallback camera acquisition failed")
			return nil, first
		}
		fallback = true
		req = Request{}
	}

	sess := &Session{
		ID:       uuid.NewString(),
		DeviceID: stream.DeviceID(),
		Facing:   cons.Facing,
		Request:  req,
		Stream:   stream,
		Fallback: fallback,
		Started:  time.Now(),
	}

	c.mu.Lock()
	c.session = sess
	c.mu.Unlock()

	c.log.Info().
		Str("session_id", sess.ID).
		Str("device_id", sess.DeviceID).
		Str("stream_id", stream.ID()).
		Bool("fallback", fallback).
		Msg("Camera acquired")
	return sess, nil
}

// Release stops every track of the live session. Safe without a session.
func (c *Controller) Release() {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	c.release()
}

func (c *Controller) release() {
	c.mu.Lock()
	sess := c.session
	c.session = nil
	hook := c.onRelease
	c.mu.Unlock()

	if sess == nil {
		return
	}

	for _, track := range sess.Stream.Tracks() {
		track.Stop()
	}
	c.log.Info().Str("session_id", sess.ID).Str("device_id", sess.DeviceID).Msg("Camera released")

	if hook != nil {
		hook(sess)
	}
}

// SwitchFacing records the facing preference and, with a live session,
// re-acquires with it. No-op when already the active facing.
// On desktop the explicit device selection is cleared so facing applies.
func (c *Controller) SwitchFacing(ctx context.Context, facing Facing) error {
	if c.devices == nil {
		return c.unsupported()
	}

	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	if facing == c.facing && (c.mode == ModeMobile || c.deviceID == "") {
		c.mu.Unlock()
		return nil
	}
	c.facing = facing
	if c.mode == ModeDesktop {
		c.deviceID = ""
	}
	live := c.session != nil
	cons := c.preferredLocked()
	c.mu.Unlock()

	c.log.Info().Str("facing", string(facing)).Bool("live", live).Msg("Switching camera facing")
	if !live {
		return nil
	}

	c.release()
	_, err := c.acquire(ctx, cons)
	return err
}

// ChangeDevice records the device selection and, with a live session,
// re-acquires with it. No-op when already selected.
func (c *Controller) ChangeDevice(ctx context.Context, deviceID string) error {
	if c.devices == nil {
		return c.unsupported()
	}
	if c.mode == ModeMobile {
		return fault.Newf(fault.CaptureUnsupported, "device selection is not available in mobile mode").
			WithHint("switch between the front and back camera instead")
	}

	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	if deviceID == c.deviceID {
		c.mu.Unlock()
		return nil
	}
	c.deviceID = deviceID
	live := c.session != nil
	cons := c.preferredLocked()
	c.mu.Unlock()

	c.log.Info().Str("device_id", deviceID).Bool("live", live).Msg("Changing camera device")
	if !live {
		return nil
	}

	c.release()
	_, err := c.acquire(ctx, cons)
	return err
}

// ReadFrame reads the next frame of the live session
func (c *Controller) ReadFrame(ctx context.Context) (image.Image, error) {
	c.mu.RLock()
	sess := c.session
	c.mu.RUnlock()

	if sess == nil {
		return nil, ErrNoSession
	}
	return sess.Stream.ReadFrame(ctx)
}

// Session returns the live session or nil
func (c *Controller) Session() *Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session
}

func (c *Controller) Facing() Facing {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.facing
}

func (c *Controller) SelectedDevice() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.deviceID
}

func (c *Controller) Mode() Mode {
	return c.mode
}

func (c *Controller) classify(err error) *fault.Error {
	fe := fault.Classify(err)
	if !c.secure {
		fe = fe.WithInsecureHint()
	}
	return fe
}

func (c *Controller) unsupported() *fault.Error {
	return c.classify(fault.Newf(fault.CaptureUnsupported, "no capture backend available"))
}
