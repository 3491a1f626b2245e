package stream

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	"github.com/bryanchriswhite/EmotionStreamer/internal/capture"
)

// DefaultJPEGQuality matches a 0.8 canvas export quality
const DefaultJPEGQuality = 80

// EncodeJPEG encodes a frame, preferring the stream's native encoder
func EncodeJPEG(img image.Image, quality int, native capture.JPEGEncoder) ([]byte, error) {
	if quality <= 0 || quality > 100 {
		quality = DefaultJPEGQuality
	}
	if native != nil {
		return native.EncodeJPEG(img, quality)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("failed to encode JPEG: %w", err)
	}
	return buf.Bytes(), nil
}
