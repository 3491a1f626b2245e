// Package catalog talks to the REST side of the detection service: the model
// catalog and single-shot image prediction.
package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/bryanchriswhite/EmotionStreamer/internal/detection"
	"github.com/bryanchriswhite/EmotionStreamer/internal/fault"
	"github.com/bryanchriswhite/EmotionStreamer/internal/logger"
)

const (
	defaultRetries      = 3
	defaultRetryBackoff = 200 * time.Millisecond
	maxBodySize         = 4 << 20
)

// Models is the catalog of available detector and recognizer names
type Models struct {
	Detectors   []string `json:"detectors"`
	Recognizers []string `json:"recognizers"`
}

// Default returns the first detector and recognizer, empty when missing
func (m Models) Default() (detectorID, recognizerID string) {
	if len(m.Detectors) > 0 {
		detectorID = m.Detectors[0]
	}
	if len(m.Recognizers) > 0 {
		recognizerID = m.Recognizers[0]
	}
	return detectorID, recognizerID
}

// Validate checks that both names are present in the catalog
func (m Models) Validate(detectorID, recognizerID string) error {
	if detectorID == "" || recognizerID == "" {
		return fault.Newf(fault.InvalidModelSelection, "detector=%q recognizer=%q", detectorID, recognizerID)
	}
	if !contains(m.Detectors, detectorID) {
		return fault.Newf(fault.InvalidModelSelection, "unknown detector %q", detectorID)
	}
	if !contains(m.Recognizers, recognizerID) {
		return fault.Newf(fault.InvalidModelSelection, "unknown recognizer %q", recognizerID)
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// Client is the REST client
type Client struct {
	baseURL      string
	http         *http.Client
	retries      uint64
	retryBackoff time.Duration
	log          *zerolog.Logger
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithRetries sets how many times GET /models is retried
func WithRetries(n uint64, initial time.Duration) Option {
	return func(c *Client) {
		c.retries = n
		if initial > 0 {
			c.retryBackoff = initial
		}
	}
}

func WithLogger(l *zerolog.Logger) Option {
	return func(c *Client) { c.log = l }
}

// New creates a client for host[:port]
func New(host string, secure bool, opts ...Option) *Client {
	scheme := "http"
	if secure {
		scheme = "https"
	}
	c := &Client{
		baseURL:      (&url.URL{Scheme: scheme, Host: host}).String(),
		http:         &http.Client{Timeout: 30 * time.Second},
		retries:      defaultRetries,
		retryBackoff: defaultRetryBackoff,
		log:          logger.WithComponent("catalog"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the service root
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Models fetches the catalog. Transport failures and 5xx responses are
// retried with exponential backoff.
func (c *Client) Models(ctx context.Context) (Models, error) {
	var models Models

	newBackoff := func() backoff.BackOff {
		ebo := backoff.NewExponentialBackOff()
		ebo.InitialInterval = c.retryBackoff
		ebo.Reset()
		return backoff.WithMaxRetries(ebo, c.retries)
	}

	attempt := 0
	op := func() error {
		attempt++

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to build request: %w", err))
		}
		resp, err := c.http.Do(req)
		if err != nil {
			c.log.Debug().Err(err).Int("attempt", attempt).Msg("Model catalog request failed")
			return err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
		if err != nil {
			return err
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			c.log.Debug().Int("status", resp.StatusCode).Int("attempt", attempt).Msg("Model catalog unavailable")
			return fmt.Errorf("models: server returned %s", resp.Status)
		}
		if resp.StatusCode != http.StatusOK {
			return backoff.Permanent(fmt.Errorf("models: server returned %s", resp.Status))
		}

		parsed, err := parseModels(body)
		if err != nil {
			return backoff.Permanent(err)
		}
		models = parsed
		return nil
	}

	if err := backoff.Retry(op, backoff.WithContext(newBackoff(), ctx)); err != nil {
		return Models{}, fmt.Errorf("failed to fetch models: %w", err)
	}

	c.log.Debug().
		Strs("detectors", models.Detectors).
		Strs("recognizers", models.Recognizers).
		Msg("Fetched model catalog")
	return models, nil
}

// parseModels accepts exactly [[detectors...], [recognizers...]]
func parseModels(body []byte) (Models, error) {
	var raw [][]string
	if err := json.Unmarshal(body, &raw); err != nil {
		return Models{}, fault.New(fault.MalformedServerMessage, err)
	}
	if len(raw) != 2 {
		return Models{}, fault.Newf(fault.MalformedServerMessage, "model catalog has %d lists, want 2", len(raw))
	}
	return Models{Detectors: raw[0], Recognizers: raw[1]}, nil
}

// Predict uploads one image and returns its detections
func (c *Client) Predict(ctx context.Context, detectorID, recognizerID, filename string, image io.Reader) ([]detection.Detection, error) {
	if detectorID == "" || recognizerID == "" {
		return nil, fault.Newf(fault.InvalidModelSelection, "detector=%q recognizer=%q", detectorID, recognizerID)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, image); err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish form: %w", err)
	}

	q := url.Values{"detector_name": {detectorID}, "recognizer_name": {recognizerID}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/predict?"+q.Encode(), &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("predict request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("predict: server returned %s: %s", resp.Status, bytes.TrimSpace(body))
	}

	dets, err := detection.Parse(body)
	if err != nil {
		return nil, err
	}

	c.log.Debug().Str("file", filename).Int("faces", len(dets)).Msg("Prediction complete")
	return dets, nil
}
