package database

import (
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/schemerge/internal/settings"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationNormalizeSettingKeys = "2026-10-01_normalize_setting_keys"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationNormalizeSettingKeys, apply: normalizeSettingKeys},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// normalizeSettingKeys rewrites settings stored under a non-canonical key
// spelling. When the canonical row already exists it wins and the stray row
// is dropped; unknown keys are dropped as well.
func normalizeSettingKeys(db *gorm.DB) error {
	return db.Transaction(func(tx *gorm.DB) error {
		var stored []settings.Setting
		if err := tx.Find(&stored).Error; err != nil {
			return err
		}
		present := make(map[string]bool, len(stored))
		for _, setting := range stored {
			present[setting.Key] = true
		}
		for _, setting := range stored {
			canonical, ok := settings.CanonicalKey(setting.Key)
			if ok && canonical == setting.Key {
				continue
			}
			if !ok || present[canonical] {
				if err := tx.Where("setting_key = ?", setting.Key).Delete(&settings.Setting{}).Error; err != nil {
					return err
				}
				continue
			}
			if err := tx.Model(&settings.Setting{}).
				Where("setting_key = ?", setting.Key).
				Update("setting_key", canonical).Error; err != nil {
				return err
			}
			present[canonical] = true
		}
		return nil
	})
}
