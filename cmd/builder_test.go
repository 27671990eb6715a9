package cmd

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"library/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		App:    config.AppConfig{Name: "library", Version: "test", Env: "test"},
		Server: config.ServerConfig{Port: "0", ShutdownTimeout: time.Second},
		Database: config.DatabaseConfig{
			Driver:      "sqlite",
			Path:        filepath.Join(t.TempDir(), "data", "library.db"),
			LogLevel:    "silent",
			AutoMigrate: true,
		},
		Outbox: config.OutboxConfig{
			Enabled:      true,
			PollInterval: time.Second,
			BatchSize:    10,
			MaxRetries:   3,
		},
		Broker:    config.BrokerConfig{Driver: "memory", PublishTimeout: time.Second},
		Projector: config.ProjectorConfig{Group: "read-model", Patterns: []string{"library.#"}},
		ReadStore: config.ReadStoreConfig{Driver: "memory"},
		Command:   config.CommandConfig{Timeout: 5 * time.Second},
	}
}

func TestBuildSingleProcessApp(t *testing.T) {
	ctx := context.Background()
	app, err := NewBuilder(testConfig(t)).Build(ctx)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	defer app.Close(ctx)

	names := make([]string, 0, len(app.workers))
	for _, w := range app.workers {
		names = append(names, w.Name)
	}
	if got := strings.Join(names, ","); got != "projector,outbox-relay" {
		t.Errorf("workers = %s", got)
	}

	w := httptest.NewRecorder()
	app.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/health/ready", nil))
	if w.Code != http.StatusOK {
		t.Errorf("ready = %d body = %s", w.Code, w.Body.String())
	}
}

func TestBuildFailsOnUnknownReadStore(t *testing.T) {
	cfg := testConfig(t)
	cfg.ReadStore.Driver = "cassandra"
	if _, err := NewBuilder(cfg).Build(context.Background()); err == nil {
		t.Fatal("Build() succeeded with unsupported read store")
	}
}

func TestOutboxRelayRejectsZeroPollInterval(t *testing.T) {
	cfg := testConfig(t)
	cfg.Outbox.PollInterval = 0
	if _, err := NewBuilder(cfg).Build(context.Background()); err == nil {
		t.Fatal("Build() succeeded with zero poll interval")
	}
}
