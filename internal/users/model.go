package users

import (
	"errors"
	"fmt"
	"time"
)

const (
	maxUsernameLength = 150
	maxEmailLength    = 320
)

var (
	// ErrInvalidCredentials indicates a failed username/password check.
	ErrInvalidCredentials = errors.New("users: invalid credentials")
	// ErrUserNotFound indicates the requested account does not exist.
	ErrUserNotFound = errors.New("users: user not found")
)

// FieldError reports a validation failure for a single request field.
type FieldError struct {
	Field   string
	Message string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("users: %s: %s", e.Field, e.Message)
}

func newFieldError(field, message string) error {
	return &FieldError{Field: field, Message: message}
}

// User is the account row owning all session records and notes.
type User struct {
	ID           string    `gorm:"column:id;primaryKey;size:190;not null"`
	Username     string    `gorm:"column:username;size:150;not null;uniqueIndex"`
	Email        string    `gorm:"column:email;size:320;not null;uniqueIndex"`
	PasswordHash string    `gorm:"column:password_hash;size:190;not null"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName provides the explicit table binding for GORM.
func (User) TableName() string {
	return "users"
}

// RegisterInput carries the fields accepted by account registration.
type RegisterInput struct {
	Username  string
	Email     string
	Password  string
	Password2 string
}
