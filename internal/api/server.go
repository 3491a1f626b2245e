package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/bryanchriswhite/EmotionStreamer/internal/capture"
	"github.com/bryanchriswhite/EmotionStreamer/internal/catalog"
	"github.com/bryanchriswhite/EmotionStreamer/internal/fault"
	"github.com/bryanchriswhite/EmotionStreamer/internal/logger"
	"github.com/bryanchriswhite/EmotionStreamer/internal/output"
	"github.com/bryanchriswhite/EmotionStreamer/internal/session"
	"github.com/bryanchriswhite/EmotionStreamer/internal/stream"
)

// Version is reported by the health endpoint
const Version = "0.1.0"

// Options wires the server to the running components. Preview and Catalog
// are optional.
type Options struct {
	Camera     *capture.Controller
	Streamer   *stream.Streamer
	Catalog    *catalog.Client
	Preview    *output.MJPEGOutput
	Feed       *Feed
	Detector   string
	Recognizer string
	Logger     *zerolog.Logger
}

// Server represents the HTTP API server
type Server struct {
	router     *mux.Router
	camera     *capture.Controller
	streamer   *stream.Streamer
	catalog    *catalog.Client
	preview    *output.MJPEGOutput
	feed       *Feed
	detector   string
	recognizer string
	upgrader   websocket.Upgrader
	httpServer *http.Server
	log        *zerolog.Logger
}

// NewServer creates a new API server
func NewServer(opts Options) *Server {
	log := opts.Logger
	if log == nil {
		log = logger.WithComponent("api")
	}
	feed := opts.Feed
	if feed == nil {
		feed = NewFeed()
	}
	s := &Server{
		router:     mux.NewRouter(),
		camera:     opts.Camera,
		streamer:   opts.Streamer,
		catalog:    opts.Catalog,
		preview:    opts.Preview,
		feed:       feed,
		detector:   opts.Detector,
		recognizer: opts.Recognizer,
		log:        log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // the viewer may be opened from any local origin
			},
		},
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/health", s.handleHealth).Methods("GET")
	api.HandleFunc("/status", s.handleStatus).Methods("GET")

	// Camera
	api.HandleFunc("/devices", s.handleDevices).Methods("GET")
	api.HandleFunc("/camera/facing", s.handleSwitchFacing).Methods("PUT")
	api.HandleFunc("/camera/device", s.handleChangeDevice).Methods("PUT")

	// Detection service
	api.HandleFunc("/models", s.handleModels).Methods("GET")
	api.HandleFunc("/stream/start", s.handleStartStream).Methods("POST")
	api.HandleFunc("/stream/stop", s.handleStopStream).Methods("POST")
	api.HandleFunc("/detections", s.handleDetections)

	// Preview
	if s.preview != nil {
		api.HandleFunc("/preview/stats", s.preview.GetStatsHandler()).Methods("GET")
		s.router.HandleFunc("/stream", s.preview.GetHTTPHandler()).Methods("GET")
		s.router.HandleFunc("/snapshot.jpg", s.preview.GetSnapshotHandler()).Methods("GET")
	}

	s.router.HandleFunc("/", s.handleIndex).Methods("GET")
}

// Handler returns the routed handler with CORS applied
func (s *Server) Handler() http.Handler {
	return s.enableCORS(s.router)
}

// Feed returns the detection feed, for registering as a presenter
func (s *Server) Feed() *Feed {
	return s.feed
}

// Start listens on port until Shutdown is called
func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.log.Info().Msgf("Starting server on http://localhost%s", addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the HTTP server gracefully
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// enableCORS adds CORS headers
func (s *Server) enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// statusFor maps a classified failure onto an HTTP status
func statusFor(kind fault.Kind) int {
	switch kind {
	case fault.InvalidModelSelection:
		return http.StatusBadRequest
	case fault.PermissionDenied:
		return http.StatusForbidden
	case fault.DeviceNotFound:
		return http.StatusNotFound
	case fault.DeviceBusy:
		return http.StatusConflict
	case fault.ConstraintUnsatisfiable:
		return http.StatusUnprocessableEntity
	case fault.CaptureUnsupported:
		return http.StatusNotImplemented
	case fault.ConnectionTimeout:
		return http.StatusGatewayTimeout
	case fault.ConnectionClosed, fault.NotConnected, fault.MalformedServerMessage:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	if errors.Is(err, stream.ErrAlreadyRunning) {
		writeJSON(w, http.StatusConflict, map[string]any{"error": ErrorBody{Message: err.Error()}})
		return
	}
	fe := fault.Classify(err)
	writeJSON(w, statusFor(fe.Kind), map[string]any{"error": errorBody(fe)})
}

// statusText is the short connection line shown by viewers
func statusText(st session.State) string {
	switch st {
	case session.Connecting:
		return "Connecting to detection service..."
	case session.Open:
		return "Connected"
	case session.Closing:
		return "Disconnecting..."
	case session.Closed:
		return "Disconnected"
	case session.Error:
		return "Connection error"
	}
	return "Not connected"
}

// HTTP Handlers

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": Version,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := s.streamer.Status()
	resp := map[string]any{
		"stream":          st,
		"connection_text": statusText(st.State),
		"camera": map[string]any{
			"mode":            s.camera.Mode(),
			"facing":          s.camera.Facing(),
			"selected_device": s.camera.SelectedDevice(),
			"active":          s.camera.Session() != nil,
		},
	}
	if s.preview != nil {
		resp["preview"] = s.preview.Stats()
	}
	if last := s.feed.Last(); last != nil {
		resp["last_event"] = last
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.camera.ListDevices(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":     s.camera.Mode(),
		"selected": s.camera.SelectedDevice(),
		"devices":  devices,
	})
}

func (s *Server) handleSwitchFacing(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Facing string `json:"facing"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	facing, err := capture.ParseFacing(req.Facing)
	if err != nil || facing == capture.FacingNone {
		http.Error(w, fmt.Sprintf("invalid facing %q", req.Facing), http.StatusBadRequest)
		return
	}

	if err := s.camera.SwitchFacing(r.Context(), facing); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "facing": s.camera.Facing()})
}

func (s *Server) handleChangeDevice(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DeviceID string `json:"device_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.DeviceID == "" {
		http.Error(w, "device_id is required", http.StatusBadRequest)
		return
	}

	if err := s.camera.ChangeDevice(r.Context(), req.DeviceID); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "device_id": s.camera.SelectedDevice()})
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	if s.catalog == nil {
		http.Error(w, "model catalog not configured", http.StatusNotImplemented)
		return
	}
	models, err := s.catalog.Models(r.Context())
	if err != nil {
		if fault.KindOf(err) == fault.Unknown {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, models)
}

func (s *Server) handleStartStream(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Detector   string `json:"detector"`
		Recognizer string `json:"recognizer"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Detector == "" {
		req.Detector = s.detector
	}
	if req.Recognizer == "" {
		req.Recognizer = s.recognizer
	}

	// fall back to the first entries of the catalog
	if (req.Detector == "" || req.Recognizer == "") && s.catalog != nil {
		if models, err := s.catalog.Models(r.Context()); err == nil {
			d, rec := models.Default()
			if req.Detector == "" {
				req.Detector = d
			}
			if req.Recognizer == "" {
				req.Recognizer = rec
			}
		} else {
			s.log.Warn().Err(err).Msg("Could not fetch default models")
		}
	}

	if err := s.streamer.Start(r.Context(), req.Detector, req.Recognizer); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.streamer.Status())
}

func (s *Server) handleStopStream(w http.ResponseWriter, r *http.Request) {
	s.streamer.Stop()
	writeJSON(w, http.StatusOK, s.streamer.Status())
}

// handleDetections pushes feed events to a websocket client
func (s *Server) handleDetections(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error().Err(err).Msg("WebSocket upgrade error")
		return
	}
	defer conn.Close()

	updates := s.feed.Subscribe()
	defer s.feed.Unsubscribe(updates)

	// the client never sends anything; reading surfaces its close
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if last := s.feed.Last(); last != nil {
		if err := conn.WriteJSON(last); err != nil {
			return
		}
	}

	for {
		select {
		case <-gone:
			return
		case ev, ok := <-updates:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(ev); err != nil {
				s.log.Debug().Err(err).Msg("WebSocket write error")
				return
			}
		}
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	io.WriteString(w, viewerHTML)
}
