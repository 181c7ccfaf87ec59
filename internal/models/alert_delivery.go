package models

import "time"

// AlertDelivery records a renewal alert that was sent for a specific due date.
type AlertDelivery struct {
	Base
	SubscriptionID string    `gorm:"type:uuid;not null;index:idx_alert_delivery_lookup" json:"subscription_id"`
	UserID         string    `gorm:"type:uuid;not null;index" json:"user_id"`
	DueDate        time.Time `gorm:"type:date;not null;index:idx_alert_delivery_lookup" json:"due_date"`
	SentOn         time.Time `gorm:"type:date;not null" json:"sent_on"`
	Channel        string    `gorm:"size:20;not null" json:"channel"`
}
