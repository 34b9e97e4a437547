package config

import (
	"testing"
	"time"
)

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(NewViper())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTPAddress != "127.0.0.1:0" || cfg.DatabasePath != "schemerge.db" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.TokenTTL != 12*time.Hour || cfg.XProbeRetryDelay != 5*time.Second || cfg.XProbePollTimeout != 30*time.Second {
		t.Fatalf("unexpected durations %+v", cfg)
	}
	if cfg.SearchPageSize != 10 || cfg.CacheMaxPages != 8 || cfg.MergeMode != "merge" {
		t.Fatalf("unexpected viewer defaults %+v", cfg)
	}
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("SCHEMERGE_SEARCH_PAGE_SIZE", "25")
	t.Setenv("SCHEMERGE_MERGE_MODE", "Diff")
	t.Setenv("SCHEMERGE_SESSION_SIGNING_SECRET", "secret")

	cfg, err := Load(NewViper())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.SearchPageSize != 25 || cfg.MergeMode != "diff" || cfg.SigningSecret != "secret" {
		t.Fatalf("expected environment overrides, got %+v", cfg)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value interface{}
	}{
		{name: "empty-database", key: "database.path", value: " "},
		{name: "zero-ttl", key: "session.token_ttl_minutes", value: 0},
		{name: "bad-xprobe-url", key: "xprobe.url", value: "ftp://localhost/xprobe"},
		{name: "zero-retry", key: "xprobe.retry_seconds", value: 0},
		{name: "zero-poll", key: "xprobe.poll_timeout_seconds", value: 0},
		{name: "zero-page-size", key: "search.page_size", value: 0},
		{name: "zero-cache", key: "cache.max_pages", value: 0},
		{name: "unknown-mode", key: "merge.mode", value: "edit"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configViper := NewViper()
			configViper.Set(tt.key, tt.value)
			if _, err := Load(configViper); err == nil {
				t.Fatalf("expected %s=%v to be rejected", tt.key, tt.value)
			}
		})
	}
}
