package config

import (
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/Sentinel-Gate/rpcgate/internal/domain/gate"
)

// Source publishes the current gate.Settings snapshot. Readers get an
// immutable pointer; a reload swaps the whole snapshot atomically, so a
// request in flight keeps the settings it started with.
type Source struct {
	current atomic.Pointer[gate.Settings]
	logger  *slog.Logger
}

// NewSource creates a Source holding initial.
func NewSource(initial *gate.Settings, logger *slog.Logger) *Source {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Source{logger: logger}
	s.current.Store(initial)
	return s
}

// Current implements gate.SettingsSource.
func (s *Source) Current() *gate.Settings {
	if cur := s.current.Load(); cur != nil {
		return cur
	}
	return gate.DefaultSettings()
}

// Reload builds a new snapshot from load. On any error the previous
// snapshot stays in place.
func (s *Source) Reload(load func() (*Config, error)) error {
	cfg, err := load()
	if err != nil {
		return fmt.Errorf("reload config: %w", err)
	}
	settings, err := cfg.ToSettings()
	if err != nil {
		return fmt.Errorf("reload config: %w", err)
	}
	s.current.Store(settings)
	return nil
}

// WatchConfig reloads the snapshot whenever Viper sees the config file
// change. devMode is carried over so a --dev flag survives reloads.
// Listener, store and upstream settings are not reloaded.
func (s *Source) WatchConfig(devMode bool) {
	viper.OnConfigChange(func(e fsnotify.Event) {
		err := s.Reload(func() (*Config, error) {
			cfg, err := LoadConfigRaw()
			if err != nil {
				return nil, err
			}
			if devMode {
				cfg.DevMode = true
			}
			cfg.SetDevDefaults()
			if err := cfg.Validate(); err != nil {
				return nil, err
			}
			return cfg, nil
		})
		if err != nil {
			s.logger.Error("config reload rejected, keeping previous settings", "file", e.Name, "error", err)
			return
		}
		s.logger.Info("config reloaded", "file", e.Name)
	})
	viper.WatchConfig()
}

var _ gate.SettingsSource = (*Source)(nil)
