// Package mergelog keeps an audit trail of applied merges.
package mergelog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	errMissingDocument = errors.New("document identifier is required")
	noOpLogger         = zap.NewNop()
)

type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew = "mergelog.service.new"
	opRecord     = "mergelog.record"
	opList       = "mergelog.list"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

type IDProvider interface {
	NewID() (string, error)
}

type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	idProvider := cfg.IDProvider
	if idProvider == nil {
		idProvider = NewUUIDProvider()
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: idProvider,
		logger:     logger,
	}, nil
}

// Record stores one application of document discarding the given diff IDs.
func (s *Service) Record(ctx context.Context, document string, discarded []string) (Application, error) {
	document = strings.TrimSpace(document)
	if document == "" {
		s.logError(opRecord, "missing_document", errMissingDocument)
		return Application{}, newServiceError(opRecord, "missing_document", errMissingDocument)
	}
	if discarded == nil {
		discarded = []string{}
	}
	payload, err := json.Marshal(discarded)
	if err != nil {
		s.logError(opRecord, "encode_failed", err, zap.String("document", document))
		return Application{}, newServiceError(opRecord, "encode_failed", err)
	}
	applicationID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opRecord, "id_generation_failed", err, zap.String("document", document))
		return Application{}, newServiceError(opRecord, "id_generation_failed", err)
	}

	application := Application{
		ApplicationID:    applicationID,
		Document:         document,
		DiscardedIDs:     string(payload),
		DiscardedCount:   len(discarded),
		AppliedAtSeconds: s.clock().UTC().Unix(),
	}
	if err := s.db.WithContext(ctx).Create(&application).Error; err != nil {
		s.logError(opRecord, "insert_failed", err, zap.String("document", document))
		return Application{}, newServiceError(opRecord, "insert_failed", err)
	}
	s.logger.Info("merge application recorded",
		zap.String("application_id", applicationID),
		zap.String("document", document),
		zap.Int("discarded", len(discarded)))
	return application, nil
}

// List returns the applications of document, oldest first.
func (s *Service) List(ctx context.Context, document string) ([]Application, error) {
	document = strings.TrimSpace(document)
	if document == "" {
		s.logError(opList, "missing_document", errMissingDocument)
		return nil, newServiceError(opList, "missing_document", errMissingDocument)
	}
	var applications []Application
	err := s.db.WithContext(ctx).
		Where("document = ?", document).
		Order("applied_at_s ASC").
		Order("application_id ASC").
		Find(&applications).Error
	if err != nil {
		s.logError(opList, "query_failed", err, zap.String("document", document))
		return nil, newServiceError(opList, "query_failed", err)
	}
	return applications, nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("mergelog service error", attrs...)
}
