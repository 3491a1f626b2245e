package overlay

import (
	"image"
	"image/color"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// LabelHeight is the height of the label strip drawn above a box
const LabelHeight = 30

// Label is a line of text on a translucent background strip
type Label struct {
	Text       string
	TextColor  color.RGBA
	Background color.RGBA
	Opacity    float64 // background opacity, 0.0 to 1.0
	Padding    int
}

// NewLabel returns a label with white text on a 60% black strip
func NewLabel(text string, textColor color.RGBA) *Label {
	return &Label{
		Text:       text,
		TextColor:  textColor,
		Background: color.RGBA{0, 0, 0, 255},
		Opacity:    0.6,
		Padding:    5,
	}
}

// Width returns the rendered width of the strip in pixels
func (l *Label) Width() int {
	d := &font.Drawer{Face: basicfont.Face7x13}
	return d.MeasureString(l.Text).Ceil() + l.Padding*2
}

// Render draws the strip with its top-left corner at (x, y)
func (l *Label) Render(img *image.RGBA, x, y int) {
	if l.Text == "" {
		return
	}

	face := basicfont.Face7x13
	strip := image.Rect(x, y, x+l.Width(), y+LabelHeight)
	FillRect(img, strip, l.Background, l.Opacity)

	// vertically centered baseline
	metrics := face.Metrics()
	textH := (metrics.Ascent + metrics.Descent).Ceil()
	baseline := y + (LabelHeight-textH)/2 + metrics.Ascent.Ceil()

	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(l.TextColor),
		Face: face,
		Dot:  fixed.P(x+l.Padding, baseline),
	}
	d.DrawString(l.Text)
}
