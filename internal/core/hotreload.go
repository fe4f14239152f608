package core

import (
	"log/slog"
	"reflect"

	"github.com/phiasco12/liveocr/internal/config"
)

// ApplyConfig swaps the session defaults for sessions started from now on.
// Running sessions keep their gate. Other settings need a restart and
// are only reported.
func (s *Service) ApplyConfig(cfg *config.Config) {
	old := s.defaults.Load()
	s.storeDefaults(cfg)
	updated := s.defaults.Load()

	changes := 0
	if old.engine != updated.engine {
		changes++
		slog.Info("config changed: engine defaults",
			"strategy", updated.engine.Strategy,
			"mode", updated.engine.Mode,
			"required_count", updated.engine.RequiredCount,
			"hold_duration", updated.engine.HoldDuration(),
		)
	}
	if old.timeout != updated.timeout {
		changes++
		slog.Info("config changed: session timeout", "old", old.timeout, "new", updated.timeout)
	}
	if old.progressHz != updated.progressHz {
		changes++
		slog.Info("config changed: progress rate", "old", old.progressHz, "new", updated.progressHz)
	}

	if !reflect.DeepEqual(cfg.Source, s.cfg.Source) || cfg.MQTT != s.cfg.MQTT || cfg.Metrics != s.cfg.Metrics {
		slog.Warn("restart-only settings changed, ignoring until restart")
	}

	slog.Info("config update applied", "changes_count", changes)
}
