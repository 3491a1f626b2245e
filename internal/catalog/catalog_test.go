package catalog

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bryanchriswhite/EmotionStreamer/internal/detection"
	"github.com/bryanchriswhite/EmotionStreamer/internal/fault"
	"github.com/bryanchriswhite/EmotionStreamer/internal/logger"
)

func newTestClient(srv *httptest.Server) *Client {
	return New(strings.TrimPrefix(srv.URL, "http://"), false,
		WithHTTPClient(srv.Client()),
		WithRetries(3, time.Millisecond),
		WithLogger(logger.Nop()),
	)
}

func TestModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models" || r.Method != http.MethodGet {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `[["haar","hog"],["cnn7","vgg"]]`)
	}))
	defer srv.Close()

	models, err := newTestClient(srv).Models(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(models.Detectors) != 2 || models.Detectors[0] != "haar" {
		t.Errorf("unexpected detectors %v", models.Detectors)
	}
	d, r := models.Default()
	if d != "haar" || r != "cnn7" {
		t.Errorf("unexpected defaults %s/%s", d, r)
	}
}

func TestModelsRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "warming up", http.StatusServiceUnavailable)
			return
		}
		io.WriteString(w, `[["haar"],["cnn7"]]`)
	}))
	defer srv.Close()

	if _, err := newTestClient(srv).Models(context.Background()); err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestModelsDoesNotRetryMalformed(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		io.WriteString(w, `[["haar"]]`)
	}))
	defer srv.Close()

	_, err := newTestClient(srv).Models(context.Background())
	if !errors.Is(err, fault.ErrMalformedServerMessage) {
		t.Fatalf("expected MalformedServerMessage, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("expected a single attempt, got %d", calls.Load())
	}
}

func TestModelsGivesUp(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	if _, err := newTestClient(srv).Models(context.Background()); err == nil {
		t.Fatal("expected an error")
	}
	if calls.Load() != 4 {
		t.Errorf("expected 1 attempt plus 3 retries, got %d", calls.Load())
	}
}

func TestPredict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/predict" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		if r.URL.Query().Get("detector_name") != "haar" || r.URL.Query().Get("recognizer_name") != "cnn7" {
			http.Error(w, "bad models", http.StatusBadRequest)
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		if header.Filename != "face.jpg" || string(data) != "jpeg-bytes" {
			http.Error(w, "unexpected upload", http.StatusBadRequest)
			return
		}
		io.WriteString(w, `[[6,1,2,3,4]]`)
	}))
	defer srv.Close()

	dets, err := newTestClient(srv).Predict(context.Background(), "haar", "cnn7", "face.jpg", strings.NewReader("jpeg-bytes"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(dets) != 1 || dets[0].Emotion != detection.Surprise {
		t.Errorf("unexpected detections %v", dets)
	}
}

func TestPredictRequiresModels(t *testing.T) {
	c := New("localhost:8000", false, WithLogger(logger.Nop()))
	_, err := c.Predict(context.Background(), "", "cnn7", "x.jpg", strings.NewReader(""))
	if !errors.Is(err, fault.ErrInvalidModelSelection) {
		t.Errorf("expected InvalidModelSelection, got %v", err)
	}
}

func TestPredictServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"no face"}`, http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	_, err := newTestClient(srv).Predict(context.Background(), "haar", "cnn7", "x.jpg", strings.NewReader("x"))
	if err == nil || !strings.Contains(err.Error(), "no face") {
		t.Errorf("expected the server message in the error, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	m := Models{Detectors: []string{"haar"}, Recognizers: []string{"cnn7"}}
	if err := m.Validate("haar", "cnn7"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	for _, pair := range [][2]string{{"hog", "cnn7"}, {"haar", "vgg"}, {"", "cnn7"}} {
		if err := m.Validate(pair[0], pair[1]); !errors.Is(err, fault.ErrInvalidModelSelection) {
			t.Errorf("%v: expected InvalidModelSelection, got %v", pair, err)
		}
	}
}

func TestNewBaseURL(t *testing.T) {
	if got := New("svc:8000", true).BaseURL(); got != "https://svc:8000" {
		t.Errorf("unexpected base URL %s", got)
	}
}
