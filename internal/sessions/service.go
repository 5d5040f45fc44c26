package sessions

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
	opServiceNew     = "sessions.service.new"
	opCreate         = "sessions.create"
	opLifetimeTotals = "sessions.lifetime_totals"
	opTodayTotals    = "sessions.today_totals"
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

// ServiceConfig describes the dependencies required by the session aggregator.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Location *time.Location
	Logger   *zap.Logger
}

// Service records session rows and computes per-user totals. Aggregation
// always recomputes from raw rows; per-user row counts are expected to
// stay small enough that no maintained rollup is needed.
type Service struct {
	db       *gorm.DB
	clock    func() time.Time
	location *time.Location
	logger   *zap.Logger
}

// NewService constructs the session aggregator.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	location := cfg.Location
	if location == nil {
		location = time.Local
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:       cfg.Database,
		clock:    clock,
		location: location,
		logger:   logger,
	}, nil
}

// Create persists one session row stamped with the caller and the current
// server time. Client values are stored without range validation.
func (s *Service) Create(ctx context.Context, userID string, input CreateInput) (*Session, error) {
	if userID == "" {
		return nil, newServiceError(opCreate, "missing_user_id", errMissingUserID)
	}

	record := Session{
		UserID:       userID,
		FocusTime:    input.FocusTime,
		BreakTime:    input.BreakTime,
		SessionCount: input.SessionCount,
		Balance:      input.Balance,
		CreatedAt:    s.clock().In(s.location),
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		s.logError(opCreate, "insert_failed", err, zap.String("user_id", userID))
		return nil, newServiceError(opCreate, "insert_failed", err)
	}

	return &record, nil
}

type totalsRow struct {
	FocusTime int64
	BreakTime int64
	Sessions  int64
	Balance   int64
}

// LifetimeTotals sums every session row owned by the user. Users with no
// rows get all-zero totals, never nulls.
func (s *Service) LifetimeTotals(ctx context.Context, userID string) (LifetimeTotals, error) {
	if userID == "" {
		return LifetimeTotals{}, newServiceError(opLifetimeTotals, "missing_user_id", errMissingUserID)
	}

	var row totalsRow
	err := s.db.WithContext(ctx).Model(&Session{}).
		Select("COALESCE(SUM(focus_time), 0) AS focus_time, " +
			"COALESCE(SUM(break_time), 0) AS break_time, " +
			"COALESCE(SUM(session_count), 0) AS sessions, " +
			"COALESCE(SUM(balance), 0) AS balance").
		Where("user_id = ?", userID).
		Scan(&row).Error
	if err != nil {
		s.logError(opLifetimeTotals, "query_failed", err, zap.String("user_id", userID))
		return LifetimeTotals{}, newServiceError(opLifetimeTotals, "query_failed", err)
	}

	return LifetimeTotals{
		FocusTime: row.FocusTime,
		BreakTime: row.BreakTime,
		AllTime:   row.FocusTime + row.BreakTime,
		Sessions:  row.Sessions,
		Balance:   row.Balance,
	}, nil
}

// TodayTotals restricts focus_time and sessions to rows created on the
// current calendar date in the configured location. Balance deliberately
// remains the lifetime sum, mirroring the reference behavior.
func (s *Service) TodayTotals(ctx context.Context, userID string) (TodayTotals, error) {
	if userID == "" {
		return TodayTotals{}, newServiceError(opTodayTotals, "missing_user_id", errMissingUserID)
	}

	now := s.clock().In(s.location)
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.location)
	dayEnd := dayStart.Add(24 * time.Hour)

	var today totalsRow
	err := s.db.WithContext(ctx).Model(&Session{}).
		Select("COALESCE(SUM(focus_time), 0) AS focus_time, "+
			"COALESCE(SUM(session_count), 0) AS sessions").
		Where("user_id = ? AND created_at >= ? AND created_at < ?", userID, dayStart, dayEnd).
		Scan(&today).Error
	if err != nil {
		s.logError(opTodayTotals, "query_failed", err, zap.String("user_id", userID))
		return TodayTotals{}, newServiceError(opTodayTotals, "query_failed", err)
	}

	var lifetime totalsRow
	err = s.db.WithContext(ctx).Model(&Session{}).
		Select("COALESCE(SUM(balance), 0) AS balance").
		Where("user_id = ?", userID).
		Scan(&lifetime).Error
	if err != nil {
		s.logError(opTodayTotals, "balance_query_failed", err, zap.String("user_id", userID))
		return TodayTotals{}, newServiceError(opTodayTotals, "balance_query_failed", err)
	}

	return TodayTotals{
		FocusTime: today.FocusTime,
		Sessions:  today.Sessions,
		Balance:   lifetime.Balance,
	}, nil
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
	s.logger.Error("sessions service error", attrs...)
}
