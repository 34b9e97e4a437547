package settings

import (
	"strings"
	"time"
)

// Known setting keys.
const (
	KeyTheme         = "theme"
	KeyZoomControls  = "zoomControls"
	KeyZoomToContent = "zoomToContent"
)

var knownKeys = []string{KeyTheme, KeyZoomControls, KeyZoomToContent}

// Setting is one persisted viewer preference.
type Setting struct {
	Key       string    `gorm:"column:setting_key;primaryKey;size:64;not null"`
	Value     string    `gorm:"column:setting_value;size:512;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing viewer settings.
func (Setting) TableName() string {
	return "viewer_settings"
}

// CanonicalKey maps a key to its canonical spelling, ignoring case and
// surrounding space. It reports false for unknown keys.
func CanonicalKey(key string) (string, bool) {
	trimmed := normalize(key)
	for _, known := range knownKeys {
		if strings.EqualFold(trimmed, known) {
			return known, true
		}
	}
	return "", false
}

// Keys returns the known setting keys.
func Keys() []string {
	return append([]string(nil), knownKeys...)
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}
