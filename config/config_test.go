package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Database.Driver != "sqlite" {
		t.Errorf("database.driver = %s, want sqlite", cfg.Database.Driver)
	}
	if cfg.Broker.Stream != "library.events" {
		t.Errorf("broker.stream = %s", cfg.Broker.Stream)
	}
	if cfg.Projector.MaxDeliveries != 5 || cfg.Projector.MinIdle != 30*time.Second {
		t.Errorf("projector = %+v", cfg.Projector)
	}
	if len(cfg.Projector.Patterns) != 2 {
		t.Errorf("projector.patterns = %v", cfg.Projector.Patterns)
	}
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := []byte(`
database:
  driver: postgres
  port: "5432"
broker:
  driver: redis
read_store:
  driver: mongo
`)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("LIBRARY_DATABASE_PORT", "6543")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Database.Driver != "postgres" {
		t.Errorf("database.driver = %s, want postgres", cfg.Database.Driver)
	}
	if cfg.Database.Port != "6543" {
		t.Errorf("database.port = %s, want env override 6543", cfg.Database.Port)
	}
}

func TestLoadRejectsMemoryBrokerWithMongo(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("read_store:\n  driver: mongo\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestExampleFileLoads(t *testing.T) {
	cfg, err := Load("config.example.yaml")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Database.Driver != "mysql" || cfg.Broker.Driver != "redis" || cfg.ReadStore.Driver != "mongo" {
		t.Errorf("drivers = %s/%s/%s", cfg.Database.Driver, cfg.Broker.Driver, cfg.ReadStore.Driver)
	}
	if !cfg.Server.RateLimit.WritesOnly || cfg.Log.Output != "both" || cfg.Log.MaxBackups != 5 {
		t.Errorf("server.rate_limit = %+v, log = %+v", cfg.Server.RateLimit, cfg.Log)
	}
	if cfg.Outbox.ProcessingTimeout != time.Minute {
		t.Errorf("outbox.processing_timeout = %s", cfg.Outbox.ProcessingTimeout)
	}
}
