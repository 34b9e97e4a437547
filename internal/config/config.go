package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                 = "SCHEMERGE"
	defaultHTTPAddress        = "127.0.0.1:0"
	defaultDatabasePath       = "schemerge.db"
	defaultLogLevel           = "info"
	defaultTokenTTLMinutes    = 720
	defaultXProbeURL          = "http://localhost:4241/xprobe"
	defaultXProbeRetrySeconds = 5
	defaultXProbePollSeconds  = 30
	defaultSearchPageSize     = 10
	defaultCacheMaxPages      = 8
	defaultMergeMode          = "merge"
)

var mergeModes = map[string]bool{"view": true, "diff": true, "merge": true}

// AppConfig captures runtime configuration for the viewer service and CLI.
type AppConfig struct {
	HTTPAddress       string
	DatabasePath      string
	LogLevel          string
	SigningSecret     string
	TokenTTL          time.Duration
	XProbeURL         string
	XProbeRetryDelay  time.Duration
	XProbePollTimeout time.Duration
	SearchPageSize    int
	CacheMaxPages     int
	MergeMode         string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("session.signing_secret", "")
	configViper.SetDefault("session.token_ttl_minutes", defaultTokenTTLMinutes)
	configViper.SetDefault("xprobe.url", defaultXProbeURL)
	configViper.SetDefault("xprobe.retry_seconds", defaultXProbeRetrySeconds)
	configViper.SetDefault("xprobe.poll_timeout_seconds", defaultXProbePollSeconds)
	configViper.SetDefault("search.page_size", defaultSearchPageSize)
	configViper.SetDefault("cache.max_pages", defaultCacheMaxPages)
	configViper.SetDefault("merge.mode", defaultMergeMode)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:       configViper.GetString("http.address"),
		DatabasePath:      configViper.GetString("database.path"),
		LogLevel:          configViper.GetString("log.level"),
		SigningSecret:     configViper.GetString("session.signing_secret"),
		TokenTTL:          time.Duration(configViper.GetInt("session.token_ttl_minutes")) * time.Minute,
		XProbeURL:         configViper.GetString("xprobe.url"),
		XProbeRetryDelay:  time.Duration(configViper.GetInt("xprobe.retry_seconds")) * time.Second,
		XProbePollTimeout: time.Duration(configViper.GetInt("xprobe.poll_timeout_seconds")) * time.Second,
		SearchPageSize:    configViper.GetInt("search.page_size"),
		CacheMaxPages:     configViper.GetInt("cache.max_pages"),
		MergeMode:         strings.ToLower(strings.TrimSpace(configViper.GetString("merge.mode"))),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("session.token_ttl_minutes must be positive")
	}
	if c.XProbeURL != "" {
		parsed, err := url.Parse(c.XProbeURL)
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
			return fmt.Errorf("xprobe.url must be an http(s) url")
		}
	}
	if c.XProbeRetryDelay <= 0 {
		return fmt.Errorf("xprobe.retry_seconds must be positive")
	}
	if c.XProbePollTimeout <= 0 {
		return fmt.Errorf("xprobe.poll_timeout_seconds must be positive")
	}
	if c.SearchPageSize <= 0 {
		return fmt.Errorf("search.page_size must be positive")
	}
	if c.CacheMaxPages <= 0 {
		return fmt.Errorf("cache.max_pages must be positive")
	}
	if !mergeModes[c.MergeMode] {
		return fmt.Errorf("merge.mode must be one of view, diff, merge")
	}
	return nil
}
