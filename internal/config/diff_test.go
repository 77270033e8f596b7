package config_test

import (
	"slices"
	"testing"
	"time"

	"github.com/stephen37/voice-assistant/internal/config"
)

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	d := config.Diff(cfg, cfg)
	if d.Changed() {
		t.Errorf("expected no changes for identical configs, got %+v", d)
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()
	old := config.Default()
	new := config.Default()
	new.Server.LogLevel = config.LogDebug

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("expected NewLogLevel=debug, got %q", d.NewLogLevel)
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("log level alone should not require a restart, got %v", d.RestartRequired)
	}
}

func TestDiff_RouterChanged(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*config.RouterConfig)
	}{
		{"threshold", func(r *config.RouterConfig) { r.KnowledgeThreshold = 0.6 }},
		{"keywords", func(r *config.RouterConfig) { r.CalendarKeywords = []string{"agenda"} }},
		{"window", func(r *config.RouterConfig) { r.CalendarWindow = 48 * time.Hour }},
		{"learn", func(r *config.RouterConfig) { r.LearnFromWeb = true }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			old := config.Default()
			new := config.Default()
			tt.mutate(&new.Router)
			d := config.Diff(old, new)
			if !d.RouterChanged {
				t.Error("expected RouterChanged=true")
			}
			if d.LogLevelChanged || len(d.RestartRequired) != 0 {
				t.Errorf("unexpected extra changes: %+v", d)
			}
		})
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()
	old := config.Default()
	new := config.Default()
	new.Providers.TTS.APIKey = "rotated"
	new.Cache.RedisAddr = "localhost:6379"
	new.Server.ListenAddr = ":9999"
	seed := false
	new.Knowledge.Seed = &seed

	d := config.Diff(old, new)
	for _, section := range []string{"server", "providers", "cache", "knowledge"} {
		if !slices.Contains(d.RestartRequired, section) {
			t.Errorf("RestartRequired = %v, want it to contain %q", d.RestartRequired, section)
		}
	}
	if d.RouterChanged {
		t.Error("router did not change")
	}
}
