package capture

import (
	"context"
	"fmt"
	"image"
	"strings"
)

// Facing selects the front (user) or back (environment) camera
type Facing string

const (
	FacingNone  Facing = ""
	FacingFront Facing = "front"
	FacingBack  Facing = "back"
)

// ParseFacing accepts front/back as well as the user/environment mode names
func ParseFacing(s string) (Facing, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "front", "user":
		return FacingFront, nil
	case "back", "environment":
		return FacingBack, nil
	case "":
		return FacingNone, nil
	}
	return FacingNone, fmt.Errorf("invalid facing %q (want front or back)", s)
}

// FacingMode returns the capture API mode name: "user" or "environment"
func (f Facing) FacingMode() string {
	switch f {
	case FacingFront:
		return "user"
	case FacingBack:
		return "environment"
	}
	return ""
}

// Mode decides how a camera is selected: by explicit device id on desktops,
// by facing on mobile devices that do not expose per-device selection
type Mode string

const (
	ModeDesktop Mode = "desktop"
	ModeMobile  Mode = "mobile"
)

// ParseMode parses a config value, defaulting to desktop
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "desktop":
		return ModeDesktop, nil
	case "mobile":
		return ModeMobile, nil
	}
	return ModeDesktop, fmt.Errorf("invalid camera mode %q (want desktop or mobile)", s)
}

// DeviceDescriptor describes one video input
type DeviceDescriptor struct {
	ID     string `json:"id"`
	Label  string `json:"label"`
	Facing Facing `json:"facing,omitempty"`
}

// Request is what a MediaDevices implementation is asked to open. DeviceID is
// an exact match; Width and Height are ideal values. The zero Request accepts
// any camera at any resolution.
type Request struct {
	DeviceID   string
	FacingMode string
	Width      int
	Height     int
}

// IsZero reports whether r is the most permissive request
func (r Request) IsZero() bool {
	return r == Request{}
}

func (r Request) String() string {
	if r.IsZero() {
		return "{video:true}"
	}
	var parts []string
	if r.DeviceID != "" {
		parts = append(parts, "deviceId:"+r.DeviceID)
	}
	if r.FacingMode != "" {
		parts = append(parts, "facingMode:"+r.FacingMode)
	}
	if r.Width > 0 || r.Height > 0 {
		parts = append(parts, fmt.Sprintf("ideal:%dx%d", r.Width, r.Height))
	}
	return "{" + strings.Join(parts, ",") + "}"
}

// MediaDevices is the platform capture API
type MediaDevices interface {
	// EnumerateDevices lists the video inputs
	EnumerateDevices(ctx context.Context) ([]DeviceDescriptor, error)

	// GetUserMedia opens a stream satisfying the request.
	// Failures should be *PlatformError values where the platform can tell
	// what went wrong.
	GetUserMedia(ctx context.Context, req Request) (Stream, error)
}

// Stream is an open camera stream
type Stream interface {
	ID() string

	// DeviceID is the device actually backing the stream
	DeviceID() string

	Tracks() []Track

	// ReadFrame blocks for the next frame. The returned image is owned by
	// the caller.
	ReadFrame(ctx context.Context) (image.Image, error)
}

// Track is a single media track of a stream
type Track interface {
	ID() string
	Stop()
	Stopped() bool
}

// JPEGEncoder is implemented by streams that can encode their frames natively
type JPEGEncoder interface {
	EncodeJPEG(img image.Image, quality int) ([]byte, error)
}

// PlatformError carries a browser-style error name so a single classifier
// covers every driver
type PlatformError struct {
	ErrName string
	Err     error
}

// Platform error names used by the drivers
const (
	NotFoundError        = "NotFoundError"
	NotAllowedError      = "NotAllowedError"
	NotReadableError     = "NotReadableError"
	OverconstrainedError = "OverconstrainedError"
	TypeError            = "TypeError"
)

// NewPlatformError wraps err under the given name
func NewPlatformError(name string, err error) *PlatformError {
	return &PlatformError{ErrName: name, Err: err}
}

func (e *PlatformError) Name() string {
	return e.ErrName
}

func (e *PlatformError) Error() string {
	if e.Err == nil {
		return e.ErrName
	}
	return e.ErrName + ": " + e.Err.Error()
}

func (e *PlatformError) Unwrap() error {
	return e.Err
}
