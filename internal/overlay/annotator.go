// Package overlay draws detection results onto frames: a colored box per face
// and the emotion label on a translucent strip above it.
package overlay

import (
	"image"
	"sync"

	"github.com/bryanchriswhite/EmotionStreamer/internal/detection"
	"github.com/bryanchriswhite/EmotionStreamer/internal/logger"
)

// BoxWidth is the stroke width of a detection box
const BoxWidth = 3

// Annotator renders detections onto copies of frames
type Annotator struct {
	mu          sync.RWMutex
	enabled     bool
	showLabels  bool
	boxWidth    int
	lastFaces   int
	renderCount uint64
}

// NewAnnotator creates an annotator with labels enabled
func NewAnnotator() *Annotator {
	return &Annotator{
		enabled:    true,
		showLabels: true,
		boxWidth:   BoxWidth,
	}
}

// SetEnabled enables or disables drawing; a disabled annotator still copies
func (a *Annotator) SetEnabled(enabled bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.enabled = enabled
	logger.WithComponent("overlay").Info().Bool("enabled", enabled).Msg("Overlay toggled")
}

func (a *Annotator) IsEnabled() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.enabled
}

// SetShowLabels toggles the text strips
func (a *Annotator) SetShowLabels(show bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.showLabels = show
}

// Annotate returns a copy of frame with the detections drawn on it. The
// source frame is never modified.
func (a *Annotator) Annotate(frame image.Image, dets []detection.Detection) *image.RGBA {
	out := ToRGBA(frame)
	offset := frame.Bounds().Min

	a.mu.Lock()
	enabled, showLabels, width := a.enabled, a.showLabels, a.boxWidth
	a.lastFaces = len(dets)
	a.renderCount++
	a.mu.Unlock()

	if !enabled {
		return out
	}

	for _, d := range dets {
		box := d.Rect().Sub(offset)
		c := d.Emotion.Color()
		StrokeRect(out, box, c, width)

		if !showLabels {
			continue
		}
		y := box.Min.Y - LabelHeight
		if y < 0 {
			y = box.Min.Y
		}
		NewLabel(d.Emotion.Label(), c).Render(out, box.Min.X, y)
	}
	return out
}

// Stats returns the face count of the last render and the number of renders
func (a *Annotator) Stats() (lastFaces int, renders uint64) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.lastFaces, a.renderCount
}
