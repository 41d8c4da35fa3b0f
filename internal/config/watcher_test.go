package config

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func contains(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}

func TestReloadAppliesHotFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	cfg := validConfig()
	if err := cfg.Save(path); err != nil {
		t.Fatal(err)
	}

	cfg2 := validConfig()
	cfg2.Server.LogLevel = "debug"
	cfg2.Journal.RetentionHours = 48
	cfg2.Producers = append(cfg2.Producers, ProducerDef{ID: "mic-2", Kind: "audio"})
	if err := cfg2.Save(path); err != nil {
		t.Fatal(err)
	}

	result, err := cfg.Reload(path)
	if err != nil {
		t.Fatalf("Reload failed: %v", err)
	}

	for _, field := range []string{"Server.LogLevel", "Journal.RetentionHours", "Producers"} {
		if !contains(result.Applied, field) {
			t.Errorf("expected %s in applied, got %v", field, result.Applied)
		}
	}
	if len(result.Skipped) != 0 {
		t.Errorf("expected nothing skipped, got %v", result.Skipped)
	}

	if cfg.Server.LogLevel != "debug" || cfg.Journal.RetentionHours != 48 || len(cfg.Producers) != 3 {
		t.Errorf("config not updated: %+v", cfg)
	}
}

func TestReloadSkipsRestartFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg := validConfig()
	if err := cfg.Save(path); err != nil {
		t.Fatal(err)
	}

	cfg2 := validConfig()
	cfg2.Channel.MQTT.Host = "other-broker"
	cfg2.Router.ID = "router-2"
	cfg2.AudioLevelObserver.Interval = 2000
	cfg2.Journal.PruneSchedule = "*/10 * * * *"
	if err := cfg2.Save(path); err != nil {
		t.Fatal(err)
	}

	result, err := cfg.Reload(path)
	if err != nil {
		t.Fatalf("Reload failed: %v", err)
	}

	for _, field := range []string{"Channel", "Router.ID", "AudioLevelObserver", "Journal"} {
		if !contains(result.Changed, field) {
			t.Errorf("expected %s in changed, got %v", field, result.Changed)
		}
		if !contains(result.Skipped, field+" (requires restart)") {
			t.Errorf("expected %s in skipped, got %v", field, result.Skipped)
		}
	}
	if len(result.Applied) != 0 {
		t.Errorf("expected nothing applied, got %v", result.Applied)
	}

	// Restart-only fields are left alone.
	if cfg.Channel.MQTT.Host != "127.0.0.1" || cfg.Router.ID != "router-1" {
		t.Errorf("restart-only fields mutated: %+v", cfg)
	}
}

func TestReloadNoChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	cfg := validConfig()
	if err := cfg.Save(path); err != nil {
		t.Fatal(err)
	}

	result, err := cfg.Reload(path)
	if err != nil {
		t.Fatalf("Reload failed: %v", err)
	}
	if len(result.Changed) != 0 {
		t.Errorf("expected no changes, got %v", result.Changed)
	}
	result.LogResult(testLogger())
}

func TestReloadInvalidFileKeepsConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"channel": {"transport": "carrier-pigeon"}}`), 0644); err != nil {
		t.Fatal(err)
	}

	cfg := validConfig()
	if _, err := cfg.Reload(path); err == nil {
		t.Fatal("expected validation error")
	}
	if cfg.Channel.Transport != "mqtt" {
		t.Error("invalid reload must not mutate config")
	}
}

func TestReloadMissingFile(t *testing.T) {
	cfg := validConfig()
	if _, err := cfg.Reload(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("expected error")
	}
}

func TestWatcherDetectsChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{}`), 0644); err != nil {
		t.Fatal(err)
	}

	var changes atomic.Int32
	w := NewWatcher(path, 10*time.Millisecond, testLogger(), func() { changes.Add(1) })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// Give the watcher time to record the initial mod time.
	time.Sleep(30 * time.Millisecond)

	future := time.Now().Add(time.Hour)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for changes.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	if err := <-done; err != nil {
		t.Errorf("Run returned %v", err)
	}
	if changes.Load() != 1 {
		t.Errorf("expected 1 change, got %d", changes.Load())
	}
}

func TestWatcherMissingFile(t *testing.T) {
	w := NewWatcher(filepath.Join(t.TempDir(), "gone.json"), time.Millisecond, testLogger(), func() {
		t.Error("onChange called for missing file")
	})
	w.check()
}
