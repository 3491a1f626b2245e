package output

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/bryanchriswhite/EmotionStreamer/internal/detection"
	"github.com/bryanchriswhite/EmotionStreamer/internal/fault"
	"github.com/bryanchriswhite/EmotionStreamer/internal/logger"
	"github.com/bryanchriswhite/EmotionStreamer/internal/overlay"
	"github.com/bryanchriswhite/EmotionStreamer/internal/stream"
)

// Preview is a stream presenter that annotates each answered frame and
// writes it to an Output
type Preview struct {
	annotator *overlay.Annotator
	out       Output
	log       *zerolog.Logger

	mu      sync.Mutex
	last    []detection.Detection
	lastErr *fault.Error
}

// NewPreview creates a preview presenter
func NewPreview(annotator *overlay.Annotator, out Output) *Preview {
	if annotator == nil {
		annotator = overlay.NewAnnotator()
	}
	return &Preview{
		annotator: annotator,
		out:       out,
		log:       logger.WithComponent("preview"),
	}
}

// OnResult draws the detections onto the frame that produced them
func (p *Preview) OnResult(res stream.Result) {
	p.mu.Lock()
	p.last = res.Detections
	p.lastErr = nil
	p.mu.Unlock()

	if res.Frame == nil || p.out == nil || !p.out.IsRunning() {
		return
	}
	annotated := p.annotator.Annotate(res.Frame, res.Detections)
	if err := p.out.WriteFrame(annotated); err != nil {
		p.log.Warn().Err(err).Uint64("sequence", res.Sequence).Msg("Failed to write preview frame")
	}
}

// OnError keeps the last error for display; the preview keeps its last frame
func (p *Preview) OnError(err *fault.Error) {
	p.mu.Lock()
	p.lastErr = err
	p.mu.Unlock()
}

// Last returns the most recent detections and error
func (p *Preview) Last() ([]detection.Detection, *fault.Error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last, p.lastErr
}
