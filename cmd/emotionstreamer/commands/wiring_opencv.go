//go:build opencv

package commands

import (
	"github.com/bryanchriswhite/EmotionStreamer/internal/capture"
	"github.com/bryanchriswhite/EmotionStreamer/internal/capture/opencv"
)

// newOpenCVDevices probes /dev/video* through gocv
func newOpenCVDevices() (capture.MediaDevices, error) {
	return opencv.New(opencv.DefaultProbe), nil
}
