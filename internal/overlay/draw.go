package overlay

import (
	"image"
	"image/color"
	"image/draw"
)

// BlendImage blends a source image onto a destination image at the given position
// with the specified opacity
func BlendImage(dst *image.RGBA, src image.Image, x, y int, opacity float64) {
	srcBounds := src.Bounds()
	dstBounds := dst.Bounds()

	for sy := srcBounds.Min.Y; sy < srcBounds.Max.Y; sy++ {
		dy := y + (sy - srcBounds.Min.Y)
		if dy < dstBounds.Min.Y || dy >= dstBounds.Max.Y {
			continue
		}

		for sx := srcBounds.Min.X; sx < srcBounds.Max.X; sx++ {
			dx := x + (sx - srcBounds.Min.X)
			if dx < dstBounds.Min.X || dx >= dstBounds.Max.X {
				continue
			}

			// RGBA() values are alpha-premultiplied, as is image.RGBA storage
			sr, sg, sb, sa := src.At(sx, sy).RGBA()
			alpha := float64(sa) * opacity / 65535.0
			if alpha <= 0 {
				continue
			}

			dr, dg, db, da := dst.At(dx, dy).RGBA()
			mix := func(s, d uint32) uint8 {
				return uint8((float64(s)*opacity+float64(d)*(1-alpha))/257 + 0.5)
			}
			dst.SetRGBA(dx, dy, color.RGBA{
				R: mix(sr, dr),
				G: mix(sg, dg),
				B: mix(sb, db),
				A: mix(sa, da),
			})
		}
	}
}

// FillRect blends a solid rectangle onto dst
func FillRect(dst *image.RGBA, r image.Rectangle, c color.Color, opacity float64) {
	r = r.Canon()
	if r.Empty() {
		return
	}
	tmp := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(tmp, tmp.Bounds(), image.NewUniform(c), image.Point{}, draw.Src)
	BlendImage(dst, tmp, r.Min.X, r.Min.Y, opacity)
}

// StrokeRect draws an opaque outline of the given width inside r
func StrokeRect(dst *image.RGBA, r image.Rectangle, c color.Color, width int) {
	r = r.Canon().Intersect(dst.Bounds())
	if r.Empty() || width <= 0 {
		return
	}
	src := image.NewUniform(c)
	edges := []image.Rectangle{
		image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+width),
		image.Rect(r.Min.X, r.Max.Y-width, r.Max.X, r.Max.Y),
		image.Rect(r.Min.X, r.Min.Y, r.Min.X+width, r.Max.Y),
		image.Rect(r.Max.X-width, r.Min.Y, r.Max.X, r.Max.Y),
	}
	for _, e := range edges {
		draw.Draw(dst, e.Intersect(r), src, image.Point{}, draw.Src)
	}
}

// ToRGBA returns img as a fresh RGBA copy that is safe to draw on
func ToRGBA(img image.Image) *image.RGBA {
	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)
	return out
}
