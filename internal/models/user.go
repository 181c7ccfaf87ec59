package models

import "time"

// User represents an account holder. The first user created through setup
// becomes an administrator.
type User struct {
	Base
	Username            string         `gorm:"uniqueIndex;size:80;not null" json:"username"`
	Email               string         `gorm:"uniqueIndex;not null" json:"email"`
	Password            string         `gorm:"not null" json:"-"`
	IsAdmin             bool           `gorm:"default:false" json:"is_admin"`
	IsActive            bool           `gorm:"default:true" json:"is_active"`
	RefreshTokenHash    string         `gorm:"size:64" json:"-"`
	FailedLoginAttempts int            `gorm:"default:0" json:"-"`
	LockedUntil         *time.Time     `json:"-"`
	LastLoginAt         *time.Time     `json:"last_login_at,omitempty"`
	Subscriptions       []Subscription `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"subscriptions,omitempty"`
}
