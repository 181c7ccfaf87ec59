package models

import (
	"time"

	"gorm.io/gorm"

	"subtrack/internal/uuid"
)

// Base carries the identity and bookkeeping columns shared by every table.
// Rows are soft-deleted; DeletedAt is never serialised.
type Base struct {
	ID        string         `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// BeforeCreate assigns a UUIDv7 when the caller has not set one.
func (b *Base) BeforeCreate(_ *gorm.DB) error {
	if b.ID == "" {
		b.ID = uuid.New()
	}
	return nil
}
