package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/bryanchriswhite/EmotionStreamer/internal/api"
	"github.com/bryanchriswhite/EmotionStreamer/internal/catalog"
	"github.com/bryanchriswhite/EmotionStreamer/internal/logger"
	"github.com/bryanchriswhite/EmotionStreamer/internal/output"
	"github.com/bryanchriswhite/EmotionStreamer/internal/overlay"
	"github.com/bryanchriswhite/EmotionStreamer/internal/stream"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the EmotionStreamer server",
	Long: `Start the EmotionStreamer HTTP server.

The server exposes a control API, an annotated MJPEG preview at /stream and
a WebSocket detection feed at /api/detections. Streaming to the detection
service starts with POST /api/stream/start, or immediately with --start.`,
	Example: `  # Start server on default port (8080)
  emotionstreamer serve

  # Start streaming right away against a remote service
  emotionstreamer serve --host detector.local:8000 --start

  # Use the OpenCV capture backend with the back camera
  emotionstreamer serve --driver opencv --facing back

  # Start with debug logging
  emotionstreamer serve --log-level debug`,
	RunE: runServe,
}

var (
	serveStart      bool
	serveDriver     string
	serveFacing     string
	serveDetector   string
	serveRecognizer string
)

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().BoolVar(&serveStart, "start", false, "start streaming on launch")
	serveCmd.Flags().StringVar(&serveDriver, "driver", "", "camera driver (mediadevices, or opencv in builds with -tags opencv)")
	serveCmd.Flags().StringVar(&serveFacing, "facing", "", "camera facing (front or back)")
	serveCmd.Flags().StringVar(&serveDetector, "detector", "", "face detector model")
	serveCmd.Flags().StringVar(&serveRecognizer, "recognizer", "", "emotion recognizer model")
}

func runServe(cmd *cobra.Command, args []string) error {
	fmt.Println("🎭 EmotionStreamer - Live Facial Emotion Recognition")
	fmt.Println("====================================================")

	configMgr, cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveDriver != "" {
		cfg.Camera.Driver = serveDriver
	}
	if serveFacing != "" {
		cfg.Camera.Facing = serveFacing
	}
	if serveDetector != "" {
		cfg.Service.Detector = serveDetector
	}
	if serveRecognizer != "" {
		cfg.Service.Recognizer = serveRecognizer
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log := logger.WithComponent("serve")
	log.Info().
		Str("config", configMgr.GetConfigPath()).
		Str("service", cfg.Service.Host).
		Bool("secure", cfg.Service.Secure).
		Str("driver", cfg.Camera.Driver).
		Str("mode", cfg.Camera.Mode).
		Msg("Configuration loaded")

	camera, err := newCamera(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize camera: %w", err)
	}
	conn := newConnection(cfg)
	cat := newCatalog(cfg)

	feed := api.NewFeed()
	presenters := []stream.Presenter{feed}

	var preview *output.MJPEGOutput
	if cfg.Preview.Enabled {
		annotator := overlay.NewAnnotator()
		annotator.SetShowLabels(cfg.Preview.Labels)
		preview = output.NewMJPEGOutput(output.Config{FPS: cfg.Stream.FPS, Quality: cfg.Preview.Quality})
		if err := preview.Start(); err != nil {
			return fmt.Errorf("failed to start preview: %w", err)
		}
		defer preview.Stop()
		presenters = append(presenters, output.NewPreview(annotator, preview))
	}

	streamer := stream.New(camera, conn, stream.Multi(presenters...), stream.Config{
		FPS:         cfg.Stream.FPS,
		JPEGQuality: cfg.Stream.JPEGQuality,
		Logger:      logger.WithComponent("stream"),
	})
	defer streamer.Stop()

	server := api.NewServer(api.Options{
		Camera:     camera,
		Streamer:   streamer,
		Catalog:    cat,
		Preview:    preview,
		Feed:       feed,
		Detector:   cfg.Service.Detector,
		Recognizer: cfg.Service.Recognizer,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(cfg.ServerPort)
	}()

	if serveStart || cfg.Stream.AutoStart {
		go autoStart(cfg.Service.Detector, cfg.Service.Recognizer, cat, streamer)
	}

	fmt.Println()
	log.Info().Msg("✅ EmotionStreamer is running!")
	log.Info().Msgf("   - Viewer: http://localhost:%d", cfg.ServerPort)
	log.Info().Msgf("   - API: http://localhost:%d/api", cfg.ServerPort)
	log.Info().Msg("   - Press Ctrl+C to stop")
	fmt.Println()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	fmt.Println()
	log.Info().Msg("Shutting down gracefully...")
	streamer.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(ctx)
}

// autoStart resolves missing model names from the catalog, then starts
// streaming. Failures are logged; the server keeps running.
func autoStart(detector, recognizer string, cat *catalog.Client, streamer *stream.Streamer) {
	log := logger.WithComponent("serve")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if detector == "" || recognizer == "" {
		models, err := cat.Models(ctx)
		if err != nil {
			log.Error().Err(err).Msg("Could not fetch the model catalog")
			return
		}
		d, r := models.Default()
		if detector == "" {
			detector = d
		}
		if recognizer == "" {
			recognizer = r
		}
	}

	if err := streamer.Start(ctx, detector, recognizer); err != nil {
		log.Error().Err(err).Msg("Could not start streaming")
	}
}
