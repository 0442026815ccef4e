package config

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Domain != "https://app.olakai.ai" {
		t.Fatalf("unexpected default domain %q", cfg.Domain)
	}
	if cfg.BatchSize != 10 || cfg.BatchTimeout != 300*time.Millisecond {
		t.Fatalf("unexpected batch defaults: %d / %v", cfg.BatchSize, cfg.BatchTimeout)
	}
	if cfg.Retries != 3 || cfg.RequestTimeout != 20*time.Second {
		t.Fatalf("unexpected delivery defaults: %d / %v", cfg.Retries, cfg.RequestTimeout)
	}
	if !cfg.StorageEnabled || cfg.MaxStorageBytes != 1000000 {
		t.Fatalf("unexpected storage defaults: %v / %d", cfg.StorageEnabled, cfg.MaxStorageBytes)
	}
	if cfg.MaxQueueSize != 1000 {
		t.Fatalf("unexpected queue cap: %d", cfg.MaxQueueSize)
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("OLAKAI_API_KEY", "env-key")
	t.Setenv("OLAKAI_DOMAIN", "https://staging.olakai.ai")
	t.Setenv("OLAKAI_BATCH_SIZE", "25")
	t.Setenv("OLAKAI_BATCH_TIMEOUT", "2s")
	t.Setenv("OLAKAI_CONTROL_TIMEOUT", "5s")
	t.Setenv("OLAKAI_STORAGE_ENABLED", "false")

	cfg, err := Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.APIKey != "env-key" || cfg.Domain != "https://staging.olakai.ai" {
		t.Fatalf("env identity not applied: %q %q", cfg.APIKey, cfg.Domain)
	}
	if cfg.BatchSize != 25 || cfg.BatchTimeout != 2*time.Second {
		t.Fatalf("env batching not applied: %d / %v", cfg.BatchSize, cfg.BatchTimeout)
	}
	if cfg.ControlTimeout != 5*time.Second {
		t.Fatalf("env control timeout not applied: %v", cfg.ControlTimeout)
	}
	if cfg.StorageEnabled {
		t.Fatalf("env storage toggle not applied")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	valid := Config{APIKey: "k", Domain: "https://app.olakai.ai", BatchSize: 10, MaxQueueSize: 100}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	missingKey := valid
	missingKey.APIKey = "   "
	if err := missingKey.Validate(); err == nil {
		t.Fatalf("blank api key accepted")
	}

	badBatch := valid
	badBatch.BatchSize = 0
	if err := badBatch.Validate(); err == nil {
		t.Fatalf("zero batch size accepted")
	}

	badQueue := valid
	badQueue.MaxQueueSize = -1
	if err := badQueue.Validate(); err == nil {
		t.Fatalf("negative queue cap accepted")
	}
}

func TestEndpointURLs(t *testing.T) {
	t.Parallel()

	cfg := Config{Domain: "https://app.olakai.ai/"}
	if got := cfg.MonitoringURL(); got != "https://app.olakai.ai/api/monitoring/prompt" {
		t.Fatalf("monitoring url: %q", got)
	}
	if got := cfg.ControlURL(); got != "https://app.olakai.ai/api/control/prompt" {
		t.Fatalf("control url: %q", got)
	}
}

func TestEffectiveControlTimeout(t *testing.T) {
	t.Parallel()

	cfg := Config{RequestTimeout: 20 * time.Second}
	if got := cfg.EffectiveControlTimeout(); got != 20*time.Second {
		t.Fatalf("fallback timeout: %v", got)
	}
	cfg.ControlTimeout = time.Second
	if got := cfg.EffectiveControlTimeout(); got != time.Second {
		t.Fatalf("explicit timeout: %v", got)
	}
}

func TestWriteHelp(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	WriteHelp(&buf, "1.2.3")
	out := buf.String()
	if !strings.Contains(out, "1.2.3") {
		t.Fatalf("version missing from help")
	}
	for _, v := range []string{"OLAKAI_API_KEY", "OLAKAI_BATCH_SIZE", "OLAKAI_STORAGE_PATH"} {
		if !strings.Contains(out, v) {
			t.Fatalf("help missing %s:\n%s", v, out)
		}
	}
}
