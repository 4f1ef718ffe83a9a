package domain

import (
	"time"
)

// User is a local account. PasswordHash is nil for accounts created through an
// OAuth2 provider; those users authenticate with a bearer token only.
type User struct {
	ID           uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Email        string    `gorm:"uniqueIndex;not null;column:email" json:"email"`
	Username     string    `gorm:"uniqueIndex;not null;column:username" json:"username"`
	PasswordHash *string   `gorm:"column:password_hash" json:"-"`
	Verified     bool      `gorm:"not null;default:false;column:verified" json:"verified"`
	CreatedAt    time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt    time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (User) TableName() string { return "app_user" }

// HasPassword reports whether the account carries a local credential.
func (u *User) HasPassword() bool {
	return u.PasswordHash != nil && *u.PasswordHash != ""
}
