package main

import (
	"crypto/rand"
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/schemerge/internal/config"
	"github.com/MarcoPoloResearchLab/schemerge/internal/database"
	"github.com/MarcoPoloResearchLab/schemerge/internal/logging"
	"github.com/MarcoPoloResearchLab/schemerge/internal/mergelog"
	"github.com/MarcoPoloResearchLab/schemerge/internal/schematic"
	"github.com/MarcoPoloResearchLab/schemerge/internal/settings"
	"github.com/MarcoPoloResearchLab/schemerge/internal/xprobe"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const signingSecretBytes = 32

// application holds the collaborators shared by serve and shell.
type application struct {
	config   config.AppConfig
	logger   *zap.Logger
	db       *gorm.DB
	settings *settings.Service
	mergeLog *mergelog.Service
}

func openApplication(console bool) (*application, error) {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, err
	}

	var logger *zap.Logger
	if console {
		logger, err = logging.NewConsoleLogger(appConfig.LogLevel)
	} else {
		logger, err = logging.NewLogger(appConfig.LogLevel)
	}
	if err != nil {
		return nil, err
	}

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return nil, err
	}

	settingsService, err := settings.NewService(settings.ServiceConfig{Database: db})
	if err != nil {
		closeDatabase(db)
		return nil, err
	}
	mergeLog, err := mergelog.NewService(mergelog.ServiceConfig{Database: db, Logger: logger})
	if err != nil {
		closeDatabase(db)
		return nil, err
	}

	return &application{
		config:   appConfig,
		logger:   logger,
		db:       db,
		settings: settingsService,
		mergeLog: mergeLog,
	}, nil
}

func (a *application) Close() {
	closeDatabase(a.db)
	_ = a.logger.Sync()
}

func closeDatabase(db *gorm.DB) {
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

func (a *application) openDatabase(payload schematic.Payload) (*schematic.Database, error) {
	return schematic.Open(schematic.Config{
		Payload:   payload,
		CacheSize: a.config.CacheMaxPages,
		Logger:    a.logger,
	})
}

func (a *application) newPoller() (*xprobe.Poller, error) {
	return xprobe.NewPoller(xprobe.PollerConfig{
		URL:         a.config.XProbeURL,
		RetryDelay:  a.config.XProbeRetryDelay,
		PollTimeout: a.config.XProbePollTimeout,
		Logger:      a.logger,
	})
}

// signingSecret returns the configured secret or a fresh random one.
func (a *application) signingSecret() ([]byte, error) {
	if secret := strings.TrimSpace(a.config.SigningSecret); secret != "" {
		return []byte(secret), nil
	}
	secret := make([]byte, signingSecretBytes)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generate signing secret: %w", err)
	}
	a.logger.Debug("using an ephemeral signing secret")
	return secret, nil
}

// modeFor maps a configured merge.mode to the viewer mode.
func modeFor(value string) schematic.Mode {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "view":
		return schematic.ModeView
	case "diff":
		return schematic.ModeDiff
	default:
		return schematic.ModeMerge
	}
}
