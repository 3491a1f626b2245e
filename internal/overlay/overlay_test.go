package overlay

import (
	"image"
	"image/color"
	"image/draw"
	"testing"

	"github.com/bryanchriswhite/EmotionStreamer/internal/detection"
)

func solid(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), image.NewUniform(c), image.Point{}, draw.Src)
	return img
}

var white = color.RGBA{255, 255, 255, 255}

func TestAnnotateDrawsBox(t *testing.T) {
	frame := solid(200, 200, white)
	a := NewAnnotator()

	out := a.Annotate(frame, []detection.Detection{{Emotion: detection.Happy, X1: 50, Y1: 60, X2: 150, Y2: 160}})

	want := detection.Happy.Color()
	tests := []struct {
		name string
		x, y int
		want color.RGBA
	}{
		{"top edge", 100, 60, want},
		{"inner top edge", 100, 62, want},
		{"inside stroke", 100, 63, white},
		{"left edge", 50, 100, want},
		{"right edge", 149, 100, want},
		{"bottom edge", 100, 159, want},
		{"center", 100, 110, white},
		{"outside", 10, 190, white},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := out.RGBAAt(tt.x, tt.y); got != tt.want {
				t.Errorf("pixel (%d,%d) = %v, want %v", tt.x, tt.y, got, tt.want)
			}
		})
	}

	if got := frame.RGBAAt(100, 60); got != white {
		t.Error("the source frame was modified")
	}
}

func TestAnnotateLabelStrip(t *testing.T) {
	frame := solid(200, 200, white)
	out := NewAnnotator().Annotate(frame, []detection.Detection{{Emotion: detection.Sad, X1: 50, Y1: 60, X2: 150, Y2: 160}})

	// just inside the strip's top-left corner, before any glyph
	got := out.RGBAAt(51, 31)
	if got.R != 102 || got.G != 102 || got.B != 102 {
		t.Errorf("expected 60%% black over white (102), got %v", got)
	}
	if got := out.RGBAAt(51, 29); got != white {
		t.Errorf("expected nothing above the strip, got %v", got)
	}
}

func TestAnnotateLabelClampedToTop(t *testing.T) {
	frame := solid(100, 100, white)
	out := NewAnnotator().Annotate(frame, []detection.Detection{{Emotion: detection.Angry, X1: 10, Y1: 5, X2: 90, Y2: 90}})

	// the strip moves inside the box instead of off the frame
	got := out.RGBAAt(15, 10)
	if got == white {
		t.Error("expected the label strip inside the box")
	}
}

func TestAnnotateDisabled(t *testing.T) {
	frame := solid(50, 50, white)
	a := NewAnnotator()
	a.SetEnabled(false)

	out := a.Annotate(frame, []detection.Detection{{Emotion: detection.Fear, X1: 0, Y1: 0, X2: 40, Y2: 40}})
	if got := out.RGBAAt(0, 0); got != white {
		t.Errorf("expected no drawing, got %v", got)
	}
	faces, renders := a.Stats()
	if faces != 1 || renders != 1 {
		t.Errorf("unexpected stats %d/%d", faces, renders)
	}
}

func TestAnnotateOffsetFrame(t *testing.T) {
	frame := solid(100, 100, white).SubImage(image.Rect(20, 20, 80, 80))
	out := NewAnnotator().Annotate(frame, []detection.Detection{{Emotion: detection.Happy, X1: 30, Y1: 60, X2: 70, Y2: 75}})

	if out.Bounds().Min != (image.Point{}) {
		t.Fatalf("expected a zero-origin copy, got %v", out.Bounds())
	}
	if got := out.RGBAAt(20, 40); got != detection.Happy.Color() {
		t.Errorf("expected the box in frame-relative coordinates, got %v", got)
	}
}

func TestStrokeRectClips(t *testing.T) {
	img := solid(10, 10, white)
	StrokeRect(img, image.Rect(-5, -5, 5, 5), color.RGBA{0, 0, 0, 255}, 2)
	if got := img.RGBAAt(0, 0); got.R != 0 {
		t.Errorf("expected the clipped corner to be drawn, got %v", got)
	}
	if got := img.RGBAAt(9, 9); got != white {
		t.Errorf("expected the far corner untouched, got %v", got)
	}
}

func TestBlendImageOpacity(t *testing.T) {
	dst := solid(4, 4, white)
	FillRect(dst, image.Rect(0, 0, 2, 2), color.RGBA{0, 0, 0, 255}, 0.5)

	got := dst.RGBAAt(0, 0)
	if got.R < 127 || got.R > 128 || got.A != 255 {
		t.Errorf("expected mid grey, got %v", got)
	}
	if got := dst.RGBAAt(3, 3); got != white {
		t.Errorf("expected untouched pixel, got %v", got)
	}
}

func TestLabelWidth(t *testing.T) {
	l := NewLabel("Happy", white)
	// basicfont glyphs are 7px wide
	if got := l.Width(); got != 5*7+10 {
		t.Errorf("unexpected width %d", got)
	}
}
