package config

import (
	"fmt"
	"time"

	"github.com/bryanchriswhite/EmotionStreamer/internal/capture"
)

// Camera drivers
const (
	DriverMediaDevices = "mediadevices"
	DriverOpenCV       = "opencv"
)

// Config is the complete application configuration
type Config struct {
	LogLevel   string        `mapstructure:"log_level" json:"log_level" yaml:"log_level"`
	LogPretty  bool          `mapstructure:"log_pretty" json:"log_pretty" yaml:"log_pretty"`
	ServerPort int           `mapstructure:"server_port" json:"server_port" yaml:"server_port"`
	Service    ServiceConfig `mapstructure:"service" json:"service" yaml:"service"`
	Camera     CameraConfig  `mapstructure:"camera" json:"camera" yaml:"camera"`
	Stream     StreamConfig  `mapstructure:"stream" json:"stream" yaml:"stream"`
	Preview    PreviewConfig `mapstructure:"preview" json:"preview" yaml:"preview"`
}

// ServiceConfig locates the detection service and the models to run
type ServiceConfig struct {
	Host             string        `mapstructure:"host" json:"host" yaml:"host"`
	Secure           bool          `mapstructure:"secure" json:"secure" yaml:"secure"`
	Detector         string        `mapstructure:"detector" json:"detector" yaml:"detector"`
	Recognizer       string        `mapstructure:"recognizer" json:"recognizer" yaml:"recognizer"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout" json:"handshake_timeout" yaml:"handshake_timeout"`
}

// CameraConfig selects the capture backend and device
type CameraConfig struct {
	Driver   string `mapstructure:"driver" json:"driver" yaml:"driver"`
	Mode     string `mapstructure:"mode" json:"mode" yaml:"mode"`
	DeviceID string `mapstructure:"device_id" json:"device_id" yaml:"device_id"`
	Facing   string `mapstructure:"facing" json:"facing" yaml:"facing"`
	Width    int    `mapstructure:"width" json:"width" yaml:"width"`
	Height   int    `mapstructure:"height" json:"height" yaml:"height"`
}

// StreamConfig controls the capture tick
type StreamConfig struct {
	FPS         int  `mapstructure:"fps" json:"fps" yaml:"fps"`
	JPEGQuality int  `mapstructure:"jpeg_quality" json:"jpeg_quality" yaml:"jpeg_quality"`
	AutoStart   bool `mapstructure:"auto_start" json:"auto_start" yaml:"auto_start"`
}

// PreviewConfig controls the annotated MJPEG preview
type PreviewConfig struct {
	Enabled bool `mapstructure:"enabled" json:"enabled" yaml:"enabled"`
	Labels  bool `mapstructure:"labels" json:"labels" yaml:"labels"`
	Quality int  `mapstructure:"quality" json:"quality" yaml:"quality"`
}

// defaults is the flat key/value table seeded into viper
var defaults = map[string]any{
	"log_level":                 "info",
	"log_pretty":                true,
	"server_port":               8080,
	"service.host":              "localhost:8000",
	"service.secure":            false,
	"service.detector":          "",
	"service.recognizer":        "",
	"service.handshake_timeout": "5s",
	"camera.driver":             DriverMediaDevices,
	"camera.mode":               string(capture.ModeDesktop),
	"camera.device_id":          "",
	"camera.facing":             string(capture.FacingFront),
	"camera.width":              capture.DefaultWidth,
	"camera.height":             capture.DefaultHeight,
	"stream.fps":                10,
	"stream.jpeg_quality":       80,
	"stream.auto_start":         false,
	"preview.enabled":           true,
	"preview.labels":            true,
	"preview.quality":           90,
}

// Keys returns every known configuration key
func Keys() []string {
	keys := make([]string, 0, len(defaults))
	for k := range defaults {
		keys = append(keys, k)
	}
	return keys
}

// Validate checks value ranges and enumerations
func (c *Config) Validate() error {
	if c.ServerPort <= 0 || c.ServerPort > 65535 {
		return fmt.Errorf("invalid server_port %d", c.ServerPort)
	}
	if c.Service.Host == "" {
		return fmt.Errorf("service.host is required")
	}
	if c.Service.HandshakeTimeout <= 0 {
		return fmt.Errorf("service.handshake_timeout must be positive")
	}
	switch c.Camera.Driver {
	case DriverMediaDevices, DriverOpenCV:
	default:
		return fmt.Errorf("invalid camera.driver %q (use %s or %s)", c.Camera.Driver, DriverMediaDevices, DriverOpenCV)
	}
	if _, err := capture.ParseMode(c.Camera.Mode); err != nil {
		return err
	}
	if _, err := capture.ParseFacing(c.Camera.Facing); err != nil {
		return err
	}
	if c.Stream.FPS <= 0 || c.Stream.FPS > 60 {
		return fmt.Errorf("invalid stream.fps %d (1-60)", c.Stream.FPS)
	}
	if c.Stream.JPEGQuality <= 0 || c.Stream.JPEGQuality > 100 {
		return fmt.Errorf("invalid stream.jpeg_quality %d (1-100)", c.Stream.JPEGQuality)
	}
	return nil
}
