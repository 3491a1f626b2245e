// Package detection holds the face/emotion records returned by the
// detection service and the parser for its result documents.
package detection

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/bryanchriswhite/EmotionStreamer/internal/fault"
)

// Emotion is the classifier output code, 0 through 6
type Emotion int

const (
	Angry Emotion = iota
	Disgust
	Fear
	Happy
	Neutral
	Sad
	Surprise
)

// NumEmotions is the number of valid emotion codes
const NumEmotions = 7

type emotionInfo struct {
	label string
	emoji string
	color color.RGBA
}

var emotions = [NumEmotions]emotionInfo{
	Angry:    {"Angry", "😠", color.RGBA{0xFF, 0x41, 0x36, 0xFF}},
	Disgust:  {"Disgust", "🤢", color.RGBA{0x85, 0x14, 0x4B, 0xFF}},
	Fear:     {"Fear", "😨", color.RGBA{0xFF, 0x85, 0x1B, 0xFF}},
	Happy:    {"Happy", "😄", color.RGBA{0x2E, 0xCC, 0x40, 0xFF}},
	Neutral:  {"Neutral", "😐", color.RGBA{0xAA, 0xAA, 0xAA, 0xFF}},
	Sad:      {"Sad", "😢", color.RGBA{0x00, 0x74, 0xD9, 0xFF}},
	Surprise: {"Surprise", "😲", color.RGBA{0xFF, 0xDC, 0x00, 0xFF}},
}

// Valid reports whether e is one of the seven known codes
func (e Emotion) Valid() bool {
	return e >= 0 && e < NumEmotions
}

// Label returns the English name, or "Unknown"
func (e Emotion) Label() string {
	if !e.Valid() {
		return "Unknown"
	}
	return emotions[e].label
}

// Emoji returns the emoji for the emotion, empty when unknown
func (e Emotion) Emoji() string {
	if !e.Valid() {
		return ""
	}
	return emotions[e].emoji
}

// Color returns the box color; white for unknown codes
func (e Emotion) Color() color.RGBA {
	if !e.Valid() {
		return color.RGBA{0xFF, 0xFF, 0xFF, 0xFF}
	}
	return emotions[e].color
}

func (e Emotion) String() string {
	return e.Label()
}

// Detection is one classified face in source-frame pixel coordinates
type Detection struct {
	Emotion Emotion `json:"emotion"`
	X1      float64 `json:"x1"`
	Y1      float64 `json:"y1"`
	X2      float64 `json:"x2"`
	Y2      float64 `json:"y2"`
}

// Rect returns the bounding box as an image rectangle
func (d Detection) Rect() image.Rectangle {
	return image.Rect(
		int(math.Round(d.X1)), int(math.Round(d.Y1)),
		int(math.Round(d.X2)), int(math.Round(d.Y2)),
	)
}

// MarshalJSON writes the 5-element wire record
func (d Detection) MarshalJSON() ([]byte, error) {
	return json.Marshal([5]float64{float64(d.Emotion), d.X1, d.Y1, d.X2, d.Y2})
}

// UnmarshalJSON reads a [emotionCode, x1, y1, x2, y2] record
func (d *Detection) UnmarshalJSON(data []byte) error {
	var rec []float64
	if err := json.Unmarshal(data, &rec); err != nil {
		return err
	}
	if len(rec) != 5 {
		return fmt.Errorf("detection record has %d fields, want 5", len(rec))
	}

	code := rec[0]
	if code != math.Trunc(code) || !Emotion(code).Valid() {
		return fmt.Errorf("emotion code %v out of range 0..%d", code, NumEmotions-1)
	}

	*d = Detection{
		Emotion: Emotion(code),
		X1:      rec[1],
		Y1:      rec[2],
		X2:      rec[3],
		Y2:      rec[4],
	}
	return nil
}

// Parse decodes one result document. Any failure is reported as
// MalformedServerMessage.
func Parse(data []byte) ([]Detection, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fault.Newf(fault.MalformedServerMessage, "empty message")
	}

	var dets []Detection
	if err := json.Unmarshal(trimmed, &dets); err != nil {
		return nil, fault.New(fault.MalformedServerMessage, err)
	}
	if dets == nil {
		// "null" decodes without error
		return nil, fault.Newf(fault.MalformedServerMessage, "result is not an array")
	}
	return dets, nil
}
