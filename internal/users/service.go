package users

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

const (
	opServiceNew     = "users.service.new"
	opRegister       = "users.register"
	opAuthenticate   = "users.authenticate"
	opChangePassword = "users.change_password"
	opDelete         = "users.delete"
	opGetByID        = "users.get_by_id"
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

// IDProvider issues identifiers for newly registered accounts.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig describes the dependencies required by the account service.
type ServiceConfig struct {
	Database   *gorm.DB
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Service manages account registration, credential checks, and deletion.
type Service struct {
	db         *gorm.DB
	idProvider IDProvider
	logger     *zap.Logger
}

// NewService constructs the account service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:         cfg.Database,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// Register validates the registration payload and creates a new account.
func (s *Service) Register(ctx context.Context, input RegisterInput) (*User, error) {
	username := strings.TrimSpace(input.Username)
	email := strings.TrimSpace(input.Email)

	if username == "" {
		return nil, newFieldError("username", "this field is required")
	}
	if len(username) > maxUsernameLength {
		return nil, newFieldError("username", fmt.Sprintf("must not exceed %d characters", maxUsernameLength))
	}
	if email == "" {
		return nil, newFieldError("email", "this field is required")
	}
	if len(email) > maxEmailLength || !strings.Contains(email, "@") {
		return nil, newFieldError("email", "enter a valid email address")
	}
	if input.Password == "" {
		return nil, newFieldError("password", "this field is required")
	}
	if input.Password != input.Password2 {
		return nil, newFieldError("password", "password fields did not match")
	}

	var taken int64
	if err := s.db.WithContext(ctx).Model(&User{}).
		Where("email = ?", email).
		Count(&taken).Error; err != nil {
		s.logError(opRegister, "email_lookup_failed", err)
		return nil, newServiceError(opRegister, "email_lookup_failed", err)
	}
	if taken > 0 {
		return nil, newFieldError("email", "a user with this email already exists")
	}
	if err := s.db.WithContext(ctx).Model(&User{}).
		Where("username = ?", username).
		Count(&taken).Error; err != nil {
		s.logError(opRegister, "username_lookup_failed", err)
		return nil, newServiceError(opRegister, "username_lookup_failed", err)
	}
	if taken > 0 {
		return nil, newFieldError("username", "a user with this username already exists")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		s.logError(opRegister, "password_hash_failed", err)
		return nil, newServiceError(opRegister, "password_hash_failed", err)
	}

	userID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opRegister, "id_generation_failed", err)
		return nil, newServiceError(opRegister, "id_generation_failed", err)
	}

	account := User{
		ID:           userID,
		Username:     username,
		Email:        email,
		PasswordHash: string(hash),
	}
	if err := s.db.WithContext(ctx).Create(&account).Error; err != nil {
		s.logError(opRegister, "insert_failed", err, zap.String("username", username))
		return nil, newServiceError(opRegister, "insert_failed", err)
	}

	s.logger.Info("user registered", zap.String("user_id", account.ID))
	return &account, nil
}

// Authenticate verifies the username/password pair and returns the account.
// Unknown users and wrong passwords are indistinguishable to the caller.
func (s *Service) Authenticate(ctx context.Context, username, password string) (*User, error) {
	var account User
	err := s.db.WithContext(ctx).
		Where("username = ?", strings.TrimSpace(username)).
		Take(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		s.logError(opAuthenticate, "lookup_failed", err)
		return nil, newServiceError(opAuthenticate, "lookup_failed", err)
	}

	if bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}
	return &account, nil
}

// ChangePassword verifies the caller's current password and stores a new hash.
func (s *Service) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error {
	if newPassword == "" {
		return newFieldError("new_password", "this field is required")
	}

	account, err := s.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(currentPassword)) != nil {
		return newFieldError("current_password", "current password is incorrect")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		s.logError(opChangePassword, "password_hash_failed", err)
		return newServiceError(opChangePassword, "password_hash_failed", err)
	}

	if err := s.db.WithContext(ctx).Model(&User{}).
		Where("id = ?", userID).
		Update("password_hash", string(hash)).Error; err != nil {
		s.logError(opChangePassword, "update_failed", err, zap.String("user_id", userID))
		return newServiceError(opChangePassword, "update_failed", err)
	}

	s.logger.Info("password changed", zap.String("user_id", userID))
	return nil
}

// Delete removes the account and every row it owns in a single transaction.
func (s *Service) Delete(ctx context.Context, userID string) error {
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("DELETE FROM sessions WHERE user_id = ?", userID).Error; err != nil {
			return newServiceError(opDelete, "session_cascade_failed", err)
		}
		if err := tx.Exec("DELETE FROM notes WHERE user_id = ?", userID).Error; err != nil {
			return newServiceError(opDelete, "note_cascade_failed", err)
		}
		if err := tx.Exec("DELETE FROM revoked_tokens WHERE user_id = ?", userID).Error; err != nil {
			return newServiceError(opDelete, "token_cascade_failed", err)
		}
		result := tx.Where("id = ?", userID).Delete(&User{})
		if result.Error != nil {
			return newServiceError(opDelete, "user_delete_failed", result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrUserNotFound
		}
		return nil
	})
	if txErr != nil {
		if !errors.Is(txErr, ErrUserNotFound) {
			s.logError(opDelete, "transaction_failed", txErr, zap.String("user_id", userID))
		}
		return txErr
	}

	s.logger.Info("account deleted", zap.String("user_id", userID))
	return nil
}

// GetByID looks up an account by its identifier.
func (s *Service) GetByID(ctx context.Context, userID string) (*User, error) {
	var account User
	err := s.db.WithContext(ctx).Where("id = ?", userID).Take(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		s.logError(opGetByID, "lookup_failed", err, zap.String("user_id", userID))
		return nil, newServiceError(opGetByID, "lookup_failed", err)
	}
	return &account, nil
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
	s.logger.Error("users service error", attrs...)
}
