package config

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func validConfig() Config {
	return Config{
		API: APIConfig{BaseURL: "http://localhost:8080"},
		Sync: SyncConfig{
			PageSize:     10,
			BaseDelay:    time.Second,
			MaxBackoff:   30 * time.Second,
			PollInterval: 15 * time.Second,
			FetchTimeout: 30 * time.Second,
		},
		Cache:    CacheConfig{Backend: BackendFile},
		Submit:   SubmitConfig{MaxAttempts: 15},
		Prefetch: PrefetchConfig{Workers: 3},
		Logging:  LoggingConfig{Level: "info"},
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected no error for valid config, got: %v", err)
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := validConfig()
	cfg.Sync.PageSize = 0
	cfg.Cache.Backend = "redis"
	cfg.Logging.Level = "loud"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}

	var verrs *ValidationErrors
	if !errors.As(err, &verrs) {
		t.Fatalf("expected *ValidationErrors, got %T", err)
	}
	if len(verrs.Fields) != 3 {
		t.Errorf("expected 3 field errors, got %d: %v", len(verrs.Fields), verrs.Fields)
	}

	msg := err.Error()
	for _, key := range []string{"sync.page_size", "cache.backend", "logging.level"} {
		if !strings.Contains(msg, key) {
			t.Errorf("expected error message to mention %s:\n%s", key, msg)
		}
	}
	if !strings.Contains(msg, "file, none, sqlite") {
		t.Errorf("expected valid backends listed:\n%s", msg)
	}
}

func TestValidate_BackoffBounds(t *testing.T) {
	cfg := validConfig()
	cfg.Sync.MaxBackoff = 500 * time.Millisecond
	if err := cfg.Validate(); err == nil {
		t.Error("expected error when max backoff is below base delay")
	}
}

func TestValidate_Notify(t *testing.T) {
	cfg := validConfig()
	cfg.Notify = NotifyConfig{Enabled: true, Priority: "default"}
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "notify.topic") {
		t.Errorf("expected notify.topic error, got %v", err)
	}

	cfg.Notify = NotifyConfig{Enabled: true, Topic: "parties", Priority: "loud"}
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "notify.priority") {
		t.Errorf("expected notify.priority error, got %v", err)
	}

	// disabled notify settings are not checked
	cfg.Notify = NotifyConfig{Priority: "loud"}
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected disabled notify to pass, got %v", err)
	}
}

func TestLoadFakerConfig(t *testing.T) {
	t.Setenv("FAKER_TOKENS", "a, b,,c")
	t.Setenv("FAKER_RATE_PER_SEC", "2.5")
	t.Setenv("PORT", "9090")

	cfg, err := LoadFakerConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.Tokens) != 3 || cfg.Tokens[1] != "b" {
		t.Errorf("unexpected tokens %v", cfg.Tokens)
	}
	if cfg.RatePerSec != 2.5 || cfg.Port != "9090" || cfg.PageLimit != 20 {
		t.Errorf("unexpected faker config %+v", cfg)
	}

	if !cfg.Allows("c") || cfg.Allows("d") || cfg.Allows("") {
		t.Error("unexpected token acceptance")
	}
	if open := (&FakerConfig{}); !open.Allows("anyone") || open.Allows("") {
		t.Error("expected any non-empty token without configured tokens")
	}

	t.Setenv("FAKER_PAGE_LIMIT", "0")
	if _, err := LoadFakerConfig(); err == nil {
		t.Error("expected error for zero page limit")
	}
}
