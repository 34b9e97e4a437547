// Package settings persists the viewer preferences that survive across
// sessions.
package settings

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrUnknownSetting indicates a key outside the known settings.
var ErrUnknownSetting = errors.New("settings: unknown setting")

// DefaultValues holds the value reported for a key that was never set.
var DefaultValues = map[string]string{
	KeyTheme:         "default",
	KeyZoomControls:  "true",
	KeyZoomToContent: "true",
}

// ServiceConfig describes the dependencies of the settings service.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Defaults map[string]string
}

// Service reads and writes viewer settings.
type Service struct {
	db       *gorm.DB
	now      func() time.Time
	defaults map[string]string
	cache    sync.Map
}

// NewService constructs the settings service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("settings: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	defaults := make(map[string]string, len(DefaultValues))
	for key, value := range DefaultValues {
		defaults[key] = value
	}
	for key, value := range cfg.Defaults {
		if canonical, ok := CanonicalKey(key); ok {
			defaults[canonical] = value
		}
	}
	return &Service{db: cfg.Database, now: clock, defaults: defaults}, nil
}

// Get returns the stored value of key, or its default when unset.
func (s *Service) Get(ctx context.Context, key string) (string, error) {
	canonical, ok := CanonicalKey(key)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownSetting, key)
	}
	if cached, ok := s.cache.Load(canonical); ok {
		if value, ok := cached.(string); ok {
			return value, nil
		}
	}

	var setting Setting
	err := s.db.WithContext(ctx).Where("setting_key = ?", canonical).Take(&setting).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return s.defaults[canonical], nil
	}
	if err != nil {
		return "", err
	}
	s.cache.Store(canonical, setting.Value)
	return setting.Value, nil
}

// Set stores value under key and returns the canonical key.
func (s *Service) Set(ctx context.Context, key, value string) (string, error) {
	canonical, ok := CanonicalKey(key)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownSetting, key)
	}
	setting := Setting{Key: canonical, Value: normalize(value), UpdatedAt: s.now()}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "setting_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"setting_value", "updated_at"}),
	}).Create(&setting).Error
	if err != nil {
		return "", err
	}
	s.cache.Store(canonical, setting.Value)
	return canonical, nil
}

// All returns every known setting with defaults filled in.
func (s *Service) All(ctx context.Context) (map[string]string, error) {
	values := make(map[string]string, len(knownKeys))
	for _, key := range knownKeys {
		value, err := s.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		values[key] = value
	}
	return values, nil
}
