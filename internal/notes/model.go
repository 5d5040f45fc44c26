package notes

import (
	"errors"
	"fmt"
	"time"
)

const (
	maxTitleLength = 200
	paletteSize    = 6
)

var (
	// ErrNoteNotFound covers both missing notes and notes owned by another
	// user; callers cannot tell the two apart.
	ErrNoteNotFound = errors.New("notes: note not found")
	// ErrInvalidTitle indicates an empty or oversized title.
	ErrInvalidTitle = errors.New("notes: invalid title")
	// ErrInvalidContent indicates missing note content.
	ErrInvalidContent = errors.New("notes: invalid content")
)

// Note is a colored note owned by exactly one user. The color index is
// assigned at creation and never client-writable.
type Note struct {
	ID         int64     `gorm:"column:id;primaryKey;autoIncrement"`
	UserID     string    `gorm:"column:user_id;size:190;not null;index:idx_notes_user_created,priority:1"`
	Title      string    `gorm:"column:title;size:200;not null"`
	Content    string    `gorm:"column:content;type:text;not null"`
	ColorIndex int64     `gorm:"column:color_index;not null;default:0"`
	CreatedAt  time.Time `gorm:"column:created_at;not null;index:idx_notes_user_created,priority:2"`
	UpdatedAt  time.Time `gorm:"column:updated_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Note) TableName() string {
	return "notes"
}

// UpdateInput carries a full or partial note update. Nil fields are left
// untouched; color index, owner, and creation time are never writable.
type UpdateInput struct {
	Title   *string
	Content *string
}

func validateTitle(title string) error {
	if title == "" {
		return fmt.Errorf("%w: empty", ErrInvalidTitle)
	}
	if len(title) > maxTitleLength {
		return fmt.Errorf("%w: exceeds %d characters", ErrInvalidTitle, maxTitleLength)
	}
	return nil
}
