package auth

import "time"

// RevokedToken records a refresh token that must no longer be accepted.
// Rows become garbage once expires_at passes; they are kept for simplicity
// and removed when the owning account is deleted.
type RevokedToken struct {
	JTI       string    `gorm:"column:jti;primaryKey;size:190;not null"`
	UserID    string    `gorm:"column:user_id;size:190;not null;index"`
	ExpiresAt time.Time `gorm:"column:expires_at;not null"`
	RevokedAt time.Time `gorm:"column:revoked_at;autoCreateTime"`
}

// TableName provides the explicit table binding for GORM.
func (RevokedToken) TableName() string {
	return "revoked_tokens"
}
