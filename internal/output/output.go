package output

import (
	"image"
)

// Output is a sink for annotated frames. The MJPEG HTTP stream is the only
// implementation today; the interface lets the preview target change without
// touching the presenter.
type Output interface {
	// Start initializes the output mechanism
	Start() error

	// Stop cleanly shuts down the output
	Stop() error

	// WriteFrame sends a frame to the output
	WriteFrame(frame *image.RGBA) error

	// Name returns a human-readable name for this output type
	Name() string

	// IsRunning returns true if the output is currently active
	IsRunning() bool
}

// Config holds common configuration for all output types
type Config struct {
	FPS     int
	Quality int
}
