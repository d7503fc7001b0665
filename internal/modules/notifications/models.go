package notifications

import (
	"time"

	"gorm.io/datatypes"
)

type Notification struct {
	ID        string         `gorm:"type:char(36);primaryKey"`
	UserID    string         `gorm:"type:char(36);not null;index:ix_notifications_user_created,priority:1"`
	Type      string         `gorm:"type:varchar(64);not null"`
	Message   string         `gorm:"type:varchar(512);not null"`
	Data      datatypes.JSON `gorm:"type:json"`
	ReadAt    *time.Time
	CreatedAt time.Time `gorm:"not null;index:ix_notifications_user_created,priority:2"`
}

func (Notification) TableName() string { return "notifications" }

// recipient is the slice of the users table email delivery needs.
type recipient struct {
	ID        string
	Email     string
	FirstName *string
}

func (recipient) TableName() string { return "users" }
