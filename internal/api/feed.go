package api

import (
	"sync"
	"time"

	"github.com/bryanchriswhite/EmotionStreamer/internal/detection"
	"github.com/bryanchriswhite/EmotionStreamer/internal/fault"
	"github.com/bryanchriswhite/EmotionStreamer/internal/stream"
)

// Face is one detection with its label spelled out for viewers
type Face struct {
	Emotion string     `json:"emotion"`
	Emoji   string     `json:"emoji"`
	Color   string     `json:"color"`
	Box     [4]float64 `json:"box"`
}

// ErrorBody is the JSON form of a classified error
type ErrorBody struct {
	Kind    fault.Kind `json:"kind"`
	Message string     `json:"message"`
	Hint    string     `json:"hint,omitempty"`
}

// Event is one message on the detection feed
type Event struct {
	Type       string                `json:"type"`
	Time       time.Time             `json:"time"`
	SessionID  string                `json:"session_id,omitempty"`
	Sequence   uint64                `json:"sequence,omitempty"`
	LatencyMS  int64                 `json:"latency_ms,omitempty"`
	Detections []detection.Detection `json:"detections,omitempty"`
	Faces      []Face                `json:"faces,omitempty"`
	Error      *ErrorBody            `json:"error,omitempty"`
}

const (
	EventResult = "result"
	EventError  = "error"
)

func errorBody(err *fault.Error) *ErrorBody {
	msg := err.Kind.String()
	if err.Err != nil {
		msg = err.Err.Error()
	}
	return &ErrorBody{Kind: err.Kind, Message: msg, Hint: err.Hint}
}

// Feed fans stream results out to websocket subscribers. It is a
// stream.Presenter; subscribers that fall behind miss events.
type Feed struct {
	mu          sync.RWMutex
	subscribers map[chan Event]struct{}
	last        *Event
}

// NewFeed creates an empty feed
func NewFeed() *Feed {
	return &Feed{subscribers: make(map[chan Event]struct{})}
}

// Subscribe returns a channel receiving every subsequent event
func (f *Feed) Subscribe() chan Event {
	ch := make(chan Event, 16)
	f.mu.Lock()
	f.subscribers[ch] = struct{}{}
	f.mu.Unlock()
	return ch
}

// Unsubscribe removes and closes ch
func (f *Feed) Unsubscribe(ch chan Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.subscribers[ch]; ok {
		delete(f.subscribers, ch)
		close(ch)
	}
}

// Last returns the most recent event, nil before the first one
func (f *Feed) Last() *Event {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.last
}

func (f *Feed) OnResult(res stream.Result) {
	faces := make([]Face, 0, len(res.Detections))
	for _, d := range res.Detections {
		c := d.Emotion.Color()
		faces = append(faces, Face{
			Emotion: d.Emotion.Label(),
			Emoji:   d.Emotion.Emoji(),
			Color:   hexColor(c.R, c.G, c.B),
			Box:     [4]float64{d.X1, d.Y1, d.X2, d.Y2},
		})
	}
	f.publish(Event{
		Type:       EventResult,
		Time:       time.Now(),
		SessionID:  res.SessionID,
		Sequence:   res.Sequence,
		LatencyMS:  res.Latency.Milliseconds(),
		Detections: res.Detections,
		Faces:      faces,
	})
}

func (f *Feed) OnError(err *fault.Error) {
	if err == nil {
		return
	}
	f.publish(Event{Type: EventError, Time: time.Now(), Error: errorBody(err)})
}

func (f *Feed) publish(ev Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.last = &ev
	for ch := range f.subscribers {
		select {
		case ch <- ev:
		default:
		}
	}
}

func hexColor(r, g, b uint8) string {
	const digits = "0123456789ABCDEF"
	return string([]byte{'#',
		digits[r>>4], digits[r&0xF],
		digits[g>>4], digits[g&0xF],
		digits[b>>4], digits[b&0xF],
	})
}
