package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	m, err := NewManager(path)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	return m
}

func TestNewManagerCreatesDefaults(t *testing.T) {
	m := newTestManager(t)

	data, err := os.ReadFile(m.GetConfigPath())
	if err != nil {
		t.Fatalf("expected the config file to be created: %v", err)
	}
	if !strings.Contains(string(data), "server_port: 8080") {
		t.Errorf("expected defaults on disk, got:\n%s", data)
	}

	cfg, err := m.Get()
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if cfg.Service.HandshakeTimeout != 5*time.Second {
		t.Errorf("expected a 5s handshake timeout, got %v", cfg.Service.HandshakeTimeout)
	}
	if cfg.Camera.Driver != DriverMediaDevices || cfg.Stream.FPS != 10 || cfg.Stream.JPEGQuality != 80 {
		t.Errorf("unexpected defaults %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestSetSaveReload(t *testing.T) {
	m := newTestManager(t)

	for key, value := range map[string]string{
		"server_port":               "9090",
		"service.host":              "detector.local:8443",
		"service.secure":            "true",
		"service.handshake_timeout": "2500ms",
		"camera.mode":               "mobile",
		"camera.facing":             "back",
	} {
		if err := m.Set(key, value); err != nil {
			t.Fatalf("Set(%s) failed: %v", key, err)
		}
	}
	if err := m.Save(); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	reloaded, err := NewManager(m.GetConfigPath())
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	cfg, err := reloaded.Get()
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if cfg.ServerPort != 9090 || !cfg.Service.Secure || cfg.Service.Host != "detector.local:8443" {
		t.Errorf("unexpected reloaded config %+v", cfg)
	}
	if cfg.Service.HandshakeTimeout != 2500*time.Millisecond {
		t.Errorf("unexpected timeout %v", cfg.Service.HandshakeTimeout)
	}
	if cfg.Camera.Mode != "mobile" || cfg.Camera.Facing != "back" {
		t.Errorf("unexpected camera config %+v", cfg.Camera)
	}
}

func TestSetRejectsInvalid(t *testing.T) {
	m := newTestManager(t)

	tests := []struct {
		key, value string
	}{
		{"server_port", "http"},
		{"server_port", "70000"},
		{"service.secure", "maybe"},
		{"service.handshake_timeout", "soon"},
		{"log_level", "loud"},
		{"camera.driver", "v4l"},
		{"camera.mode", "tablet"},
		{"camera.facing", "sideways"},
		{"stream.fps", "0"},
		{"stream.jpeg_quality", "101"},
		{"no.such.key", "1"},
	}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			if err := m.Set(tt.key, tt.value); err == nil {
				t.Errorf("expected %s=%s to be rejected", tt.key, tt.value)
			}
		})
	}

	cfg, err := m.Get()
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if cfg.ServerPort != 8080 || cfg.Camera.Driver != DriverMediaDevices {
		t.Errorf("rejected values must not stick: %+v", cfg)
	}
}

func TestApplyOverrides(t *testing.T) {
	m := newTestManager(t)

	src := viper.New()
	src.Set("server_port", 7070)
	src.Set("unrelated", "x")
	m.ApplyOverrides(src)

	cfg, _ := m.Get()
	if cfg.ServerPort != 7070 {
		t.Errorf("expected the override to apply, got %d", cfg.ServerPort)
	}
	if m.IsSet("unrelated") {
		t.Error("unknown keys must not be copied")
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("EMOTIONSTREAMER_SERVICE_HOST", "env-host:9000")
	m := newTestManager(t)

	cfg, _ := m.Get()
	if cfg.Service.Host != "env-host:9000" {
		t.Errorf("expected the environment to win, got %s", cfg.Service.Host)
	}
}

func TestMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("server_port: [unterminated"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewManager(path); err == nil {
		t.Error("expected a parse error")
	}
}
