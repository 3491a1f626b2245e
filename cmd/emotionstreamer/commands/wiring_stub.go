//go:build !opencv

package commands

import (
	"errors"

	"github.com/bryanchriswhite/EmotionStreamer/internal/capture"
)

// ErrOpenCVUnavailable is returned for the opencv driver in builds without it
var ErrOpenCVUnavailable = errors.New("the opencv camera driver requires a build with -tags opencv")

// newOpenCVDevices returns an error in builds without the opencv tag
func newOpenCVDevices() (capture.MediaDevices, error) {
	return nil, ErrOpenCVUnavailable
}
