package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/payrun")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("KAFKA_BROKERS", "")

	cfg := Load(filepath.Join(t.TempDir(), "missing.env"))
	if cfg.Addr != ":8080" {
		t.Fatalf("expected default addr, got %q", cfg.Addr)
	}
	if cfg.DraftConcurrency != 8 || cfg.ResolveTimeout != 5*time.Second || cfg.NetVarianceThreshold != 0.5 {
		t.Fatalf("unexpected engine defaults: %+v", cfg)
	}
	if len(cfg.KafkaBrokers) != 0 {
		t.Fatalf("expected no brokers, got %v", cfg.KafkaBrokers)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestLoadReadsDotEnvWithoutOverridingEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	content := "KAFKA_TOPIC=from-file\nDRAFT_CONCURRENCY=3\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("KAFKA_TOPIC", "from-env")
	t.Setenv("DRAFT_CONCURRENCY", "")
	os.Unsetenv("DRAFT_CONCURRENCY")

	cfg := Load(path)
	if cfg.KafkaTopic != "from-env" {
		t.Fatalf("expected environment to win, got %q", cfg.KafkaTopic)
	}
	if cfg.DraftConcurrency != 3 {
		t.Fatalf("expected value from file, got %d", cfg.DraftConcurrency)
	}
}

func TestGetEnvList(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", " a:9092, ,b:9092 ")
	got := getEnvList("KAFKA_BROKERS")
	if len(got) != 2 || got[0] != "a:9092" || got[1] != "b:9092" {
		t.Fatalf("unexpected brokers %v", got)
	}
}

func TestValidate(t *testing.T) {
	base := Config{
		DatabaseURL:          "postgres://localhost/payrun",
		JWTSecret:            "secret",
		MaxBodyBytes:         4096,
		RateLimitPerMinute:   60,
		DraftConcurrency:     4,
		ResolveTimeout:       time.Second,
		NetVarianceThreshold: 0.5,
		OutboxBatchSize:      10,
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("expected valid, got %v", err)
	}

	prod := base
	prod.Environment = "production"
	if err := prod.Validate(); err == nil {
		t.Fatal("expected encryption key to be required in production")
	}

	noConcurrency := base
	noConcurrency.DraftConcurrency = 0
	if err := noConcurrency.Validate(); err == nil {
		t.Fatal("expected concurrency error")
	}

	if err := base.ValidateWorker(); err == nil {
		t.Fatal("expected brokers to be required for the worker")
	}
	base.KafkaBrokers = []string{"localhost:9092"}
	base.KafkaTopic = "payroll.runs"
	if err := base.ValidateWorker(); err != nil {
		t.Fatalf("expected valid worker config, got %v", err)
	}
}
