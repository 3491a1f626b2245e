package commands

import (
	"fmt"

	"github.com/bryanchriswhite/EmotionStreamer/internal/capture"
	"github.com/bryanchriswhite/EmotionStreamer/internal/capture/mediadev"
	"github.com/bryanchriswhite/EmotionStreamer/internal/catalog"
	"github.com/bryanchriswhite/EmotionStreamer/internal/config"
	"github.com/bryanchriswhite/EmotionStreamer/internal/fault"
	"github.com/bryanchriswhite/EmotionStreamer/internal/logger"
	"github.com/bryanchriswhite/EmotionStreamer/internal/session"
)

// newDevices picks the capture backend named by camera.driver
func newDevices(driver string) (capture.MediaDevices, error) {
	switch driver {
	case config.DriverMediaDevices:
		return mediadev.New(), nil
	case config.DriverOpenCV:
		return newOpenCVDevices()
	}
	return nil, fmt.Errorf("unknown camera driver %q", driver)
}

func newCamera(cfg *config.Config) (*capture.Controller, error) {
	devices, err := newDevices(cfg.Camera.Driver)
	if err != nil {
		return nil, err
	}
	mode, err := capture.ParseMode(cfg.Camera.Mode)
	if err != nil {
		return nil, err
	}
	facing, err := capture.ParseFacing(cfg.Camera.Facing)
	if err != nil {
		return nil, err
	}

	return capture.NewController(devices, capture.Options{
		Mode:     mode,
		Facing:   facing,
		DeviceID: cfg.Camera.DeviceID,
		Width:    cfg.Camera.Width,
		Height:   cfg.Camera.Height,
		Secure:   secureContext(cfg),
		Logger:   logger.WithComponent("capture"),
	}), nil
}

// secureContext reports whether the service is reached over TLS or locally
func secureContext(cfg *config.Config) bool {
	scheme := "http"
	if cfg.Service.Secure {
		scheme = "https"
	}
	return fault.IsSecureOrigin(scheme, cfg.Service.Host)
}

func newConnection(cfg *config.Config) *session.Controller {
	return session.NewController(session.NewWebSocketTransport(), session.Config{
		Host:             cfg.Service.Host,
		Secure:           cfg.Service.Secure,
		HandshakeTimeout: cfg.Service.HandshakeTimeout,
		Logger:           logger.WithComponent("session"),
	})
}

func newCatalog(cfg *config.Config) *catalog.Client {
	return catalog.New(cfg.Service.Host, cfg.Service.Secure, catalog.WithLogger(logger.WithComponent("catalog")))
}
