package notes

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	errMissingUserID   = errors.New("user identifier is required")
	noOpLogger         = zap.NewNop()
)

const (
	opServiceNew = "notes.service.new"
	opList       = "notes.list"
	opCreate     = "notes.create"
	opGet        = "notes.get"
	opUpdate     = "notes.update"
	opDelete     = "notes.delete"
)

// ServiceError carries an operation.reason code alongside the underlying cause.
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

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// ServiceConfig describes the dependencies required by the notes manager.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service owns note CRUD with strict per-user scoping: every lookup filters
// by the caller's identity, so a foreign note id behaves exactly like a
// missing one.
type Service struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// NewService constructs the notes manager.
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

	return &Service{
		db:     cfg.Database,
		clock:  clock,
		logger: logger,
	}, nil
}

// List returns the user's notes newest-first, ties broken by insertion order.
func (s *Service) List(ctx context.Context, userID string) ([]Note, error) {
	if userID == "" {
		return nil, newServiceError(opList, "missing_user_id", errMissingUserID)
	}

	var result []Note
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC, id DESC").
		Find(&result).Error; err != nil {
		s.logError(opList, "query_failed", err, zap.String("user_id", userID))
		return nil, newServiceError(opList, "query_failed", err)
	}

	return result, nil
}

// Create validates the payload and inserts a note with the next palette
// color. The color derives from the pre-insertion count of the user's notes
// modulo the palette size; the read and insert are not serialized, so two
// concurrent creates may pick the same color. That collision is cosmetic
// and kept as-is.
func (s *Service) Create(ctx context.Context, userID, title, content string) (*Note, error) {
	if userID == "" {
		return nil, newServiceError(opCreate, "missing_user_id", errMissingUserID)
	}
	if err := validateTitle(title); err != nil {
		return nil, err
	}
	if content == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidContent)
	}

	var existing int64
	if err := s.db.WithContext(ctx).Model(&Note{}).
		Where("user_id = ?", userID).
		Count(&existing).Error; err != nil {
		s.logError(opCreate, "count_failed", err, zap.String("user_id", userID))
		return nil, newServiceError(opCreate, "count_failed", err)
	}

	now := s.clock()
	record := Note{
		UserID:     userID,
		Title:      title,
		Content:    content,
		ColorIndex: existing % paletteSize,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		s.logError(opCreate, "insert_failed", err, zap.String("user_id", userID))
		return nil, newServiceError(opCreate, "insert_failed", err)
	}

	return &record, nil
}

// Get returns the note only when it belongs to the calling user.
func (s *Service) Get(ctx context.Context, userID string, noteID int64) (*Note, error) {
	if userID == "" {
		return nil, newServiceError(opGet, "missing_user_id", errMissingUserID)
	}

	var record Note
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND id = ?", userID, noteID).
		Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNoteNotFound
	}
	if err != nil {
		s.logError(opGet, "query_failed", err, zap.String("user_id", userID), zap.Int64("note_id", noteID))
		return nil, newServiceError(opGet, "query_failed", err)
	}

	return &record, nil
}

// Update applies a full or partial change to title and content. The update
// timestamp is refreshed; everything else stays immutable.
func (s *Service) Update(ctx context.Context, userID string, noteID int64, input UpdateInput) (*Note, error) {
	record, err := s.Get(ctx, userID, noteID)
	if err != nil {
		return nil, err
	}

	if input.Title != nil {
		if err := validateTitle(*input.Title); err != nil {
			return nil, err
		}
		record.Title = *input.Title
	}
	if input.Content != nil {
		if *input.Content == "" {
			return nil, fmt.Errorf("%w: empty", ErrInvalidContent)
		}
		record.Content = *input.Content
	}
	record.UpdatedAt = s.clock()

	if err := s.db.WithContext(ctx).Model(&Note{}).
		Where("user_id = ? AND id = ?", userID, noteID).
		Updates(map[string]interface{}{
			"title":      record.Title,
			"content":    record.Content,
			"updated_at": record.UpdatedAt,
		}).Error; err != nil {
		s.logError(opUpdate, "update_failed", err, zap.String("user_id", userID), zap.Int64("note_id", noteID))
		return nil, newServiceError(opUpdate, "update_failed", err)
	}

	return record, nil
}

// Delete removes the note when it belongs to the calling user.
func (s *Service) Delete(ctx context.Context, userID string, noteID int64) error {
	if userID == "" {
		return newServiceError(opDelete, "missing_user_id", errMissingUserID)
	}

	result := s.db.WithContext(ctx).
		Where("user_id = ? AND id = ?", userID, noteID).
		Delete(&Note{})
	if result.Error != nil {
		s.logError(opDelete, "delete_failed", result.Error, zap.String("user_id", userID), zap.Int64("note_id", noteID))
		return newServiceError(opDelete, "delete_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNoteNotFound
	}
	return nil
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
	s.logger.Error("notes service error", attrs...)
}
