package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"

	"github.com/bryanchriswhite/EmotionStreamer/internal/logger"
)

// EnvPrefix prefixes environment overrides, e.g. EMOTIONSTREAMER_SERVICE_HOST
const EnvPrefix = "EMOTIONSTREAMER"

// Manager handles configuration
type Manager struct {
	configPath string
	v          *viper.Viper
	mu         sync.RWMutex
}

// DefaultPath returns $HOME/.config/emotionstreamer/config.yaml
func DefaultPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "emotionstreamer", "config.yaml"), nil
}

// NewManager loads configFile, or the default path when empty. A missing
// file is created with the defaults.
func NewManager(configFile string) (*Manager, error) {
	path := configFile
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	m := &Manager{configPath: path, v: v}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.Is(err, fs.ErrNotExist) && !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		logger.WithComponent("config").Info().
			Str("path", m.configPath).
			Msg("Config file not found, creating new config")
		if err := m.Save(); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
	}

	logger.WithComponent("config").Debug().
		Str("path", m.configPath).
		Msg("Config loaded")
	return m, nil
}

// Get decodes the current settings
func (m *Manager) Get() (*Config, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var cfg Config
	if err := m.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// IsSet reports whether key has a value from any source
func (m *Manager) IsSet(key string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.v.IsSet(key)
}

// Value returns the raw value for key
func (m *Manager) Value(key string) any {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.v.Get(key)
}

// ApplyOverrides copies every known key explicitly set on src (typically the
// global viper carrying bound command-line flags) without saving
func (m *Manager) ApplyOverrides(src *viper.Viper) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range Keys() {
		if src.IsSet(key) {
			m.v.Set(key, src.Get(key))
		}
	}
}

// Set parses raw according to the type of key's default and stores it
func (m *Manager) Set(key, raw string) error {
	def, ok := defaults[key]
	if !ok {
		return fmt.Errorf("unknown configuration key: %s", key)
	}

	var value any
	switch def.(type) {
	case int:
		n, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("invalid number for %s: %s", key, raw)
		}
		value = n
	case bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("invalid boolean for %s: %s (use: true or false)", key, raw)
		}
		value = b
	default:
		value = raw
	}

	switch key {
	case "log_level":
		valid := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true}
		if !valid[raw] {
			return fmt.Errorf("invalid log level: %s (use: debug, info, warn, error)", raw)
		}
	case "service.handshake_timeout":
		if d, err := time.ParseDuration(raw); err != nil || d <= 0 {
			return fmt.Errorf("invalid duration for %s: %s", key, raw)
		}
	}

	m.mu.Lock()
	prev := m.v.Get(key)
	m.v.Set(key, value)
	m.mu.Unlock()

	cfg, err := m.Get()
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		m.mu.Lock()
		m.v.Set(key, prev)
		m.mu.Unlock()
		return err
	}
	return nil
}

// Save writes the current settings to disk
func (m *Manager) Save() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	configDir := filepath.Dir(m.configPath)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		logger.WithComponent("config").Error().
			Err(err).
			Str("config_dir", configDir).
			Msg("Failed to create config directory")
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := m.v.WriteConfigAs(m.configPath); err != nil {
		logger.WithComponent("config").Error().
			Err(err).
			Str("path", m.configPath).
			Msg("Failed to write config")
		return err
	}

	logger.WithComponent("config").Info().
		Str("path", m.configPath).
		Msg("Config saved successfully")
	return nil
}

// GetConfigPath returns the path to the config file
func (m *Manager) GetConfigPath() string {
	return m.configPath
}
