package documents

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	noOpLogger         = zap.NewNop()

	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("documents: record not found")
)

// ServiceError wraps a failure with a dotted operation code.
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

// Code returns the dotted operation code for the failure.
func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew      = "documents.service.new"
	opGetCaseStudy    = "documents.get_case_study"
	opListCaseStudies = "documents.list_case_studies"
	opSaveCaseStudy   = "documents.save_case_study"
	opDeleteCaseStudy = "documents.delete_case_study"
	opGetEvent        = "documents.get_event"
	opListEvents      = "documents.list_events"
	opSaveEvent       = "documents.save_event"
	opDeleteEvent     = "documents.delete_event"
	opListSchools     = "documents.list_schools"
	opListResources   = "documents.list_resources"
)

func newServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// ServiceConfig describes the dependencies of the documents catalog.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service exposes the records the collaboration subsystem locks.
type Service struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// NewService constructs the catalog service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{db: cfg.Database, clock: clock, logger: logger}, nil
}

// GetCaseStudy loads a single case study by id.
func (s *Service) GetCaseStudy(ctx context.Context, id DocumentID) (CaseStudy, error) {
	var record CaseStudy
	err := s.db.WithContext(ctx).Where("case_study_id = ?", id.String()).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return CaseStudy{}, ErrNotFound
	}
	if err != nil {
		s.logError(opGetCaseStudy, "query_failed", err, zap.String("case_study_id", id.String()))
		return CaseStudy{}, newServiceError(opGetCaseStudy, "query_failed", err)
	}
	return record, nil
}

// ListCaseStudies returns case studies ordered by last update.
func (s *Service) ListCaseStudies(ctx context.Context) ([]CaseStudy, error) {
	var records []CaseStudy
	if err := s.db.WithContext(ctx).Order("updated_at DESC").Find(&records).Error; err != nil {
		s.logError(opListCaseStudies, "query_failed", err)
		return nil, newServiceError(opListCaseStudies, "query_failed", err)
	}
	return records, nil
}

// SaveCaseStudy inserts or updates a case study, assigning an id when absent.
func (s *Service) SaveCaseStudy(ctx context.Context, record CaseStudy) (CaseStudy, error) {
	if strings.TrimSpace(record.Title) == "" {
		return CaseStudy{}, newServiceError(opSaveCaseStudy, "invalid_title", ErrInvalidTitle)
	}
	if strings.TrimSpace(record.CaseStudyID) == "" {
		record.CaseStudyID = uuid.NewString()
	}
	if record.BodyJSON == "" {
		record.BodyJSON = "{}"
	}
	record.UpdatedAt = s.clock().UTC()
	if err := s.db.WithContext(ctx).Save(&record).Error; err != nil {
		s.logError(opSaveCaseStudy, "save_failed", err, zap.String("case_study_id", record.CaseStudyID))
		return CaseStudy{}, newServiceError(opSaveCaseStudy, "save_failed", err)
	}
	return record, nil
}

// DeleteCaseStudy removes a case study; deleting a missing record is a no-op.
func (s *Service) DeleteCaseStudy(ctx context.Context, id DocumentID) error {
	if err := s.db.WithContext(ctx).Where("case_study_id = ?", id.String()).Delete(&CaseStudy{}).Error; err != nil {
		s.logError(opDeleteCaseStudy, "delete_failed", err, zap.String("case_study_id", id.String()))
		return newServiceError(opDeleteCaseStudy, "delete_failed", err)
	}
	return nil
}

// GetEvent loads a single event by id.
func (s *Service) GetEvent(ctx context.Context, id DocumentID) (Event, error) {
	var record Event
	err := s.db.WithContext(ctx).Where("event_id = ?", id.String()).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Event{}, ErrNotFound
	}
	if err != nil {
		s.logError(opGetEvent, "query_failed", err, zap.String("event_id", id.String()))
		return Event{}, newServiceError(opGetEvent, "query_failed", err)
	}
	return record, nil
}

// ListEvents returns events ordered by start time.
func (s *Service) ListEvents(ctx context.Context) ([]Event, error) {
	var records []Event
	if err := s.db.WithContext(ctx).Order("starts_at DESC").Find(&records).Error; err != nil {
		s.logError(opListEvents, "query_failed", err)
		return nil, newServiceError(opListEvents, "query_failed", err)
	}
	return records, nil
}

// SaveEvent inserts or updates an event, assigning an id when absent.
func (s *Service) SaveEvent(ctx context.Context, record Event) (Event, error) {
	if strings.TrimSpace(record.Title) == "" {
		return Event{}, newServiceError(opSaveEvent, "invalid_title", ErrInvalidTitle)
	}
	if strings.TrimSpace(record.EventID) == "" {
		record.EventID = uuid.NewString()
	}
	if record.BodyJSON == "" {
		record.BodyJSON = "{}"
	}
	record.UpdatedAt = s.clock().UTC()
	if err := s.db.WithContext(ctx).Save(&record).Error; err != nil {
		s.logError(opSaveEvent, "save_failed", err, zap.String("event_id", record.EventID))
		return Event{}, newServiceError(opSaveEvent, "save_failed", err)
	}
	return record, nil
}

// DeleteEvent removes an event; deleting a missing record is a no-op.
func (s *Service) DeleteEvent(ctx context.Context, id DocumentID) error {
	if err := s.db.WithContext(ctx).Where("event_id = ?", id.String()).Delete(&Event{}).Error; err != nil {
		s.logError(opDeleteEvent, "delete_failed", err, zap.String("event_id", id.String()))
		return newServiceError(opDeleteEvent, "delete_failed", err)
	}
	return nil
}

// ListSchools returns the school reference rows.
func (s *Service) ListSchools(ctx context.Context) ([]School, error) {
	var records []School
	if err := s.db.WithContext(ctx).Order("name ASC").Find(&records).Error; err != nil {
		s.logError(opListSchools, "query_failed", err)
		return nil, newServiceError(opListSchools, "query_failed", err)
	}
	return records, nil
}

// ListResources returns the resource library rows.
func (s *Service) ListResources(ctx context.Context) ([]Resource, error) {
	var records []Resource
	if err := s.db.WithContext(ctx).Order("updated_at DESC").Find(&records).Error; err != nil {
		s.logError(opListResources, "query_failed", err)
		return nil, newServiceError(opListResources, "query_failed", err)
	}
	return records, nil
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
	s.logger.Error("documents service error", attrs...)
}
