package models

import (
	"time"

	"gorm.io/datatypes"
)

// User is the directory entry the notification core targets.
type User struct {
	ID          string    `gorm:"column:id;type:text;primaryKey"`
	Email       string    `gorm:"column:email;type:text"`
	DisplayName string    `gorm:"column:display_name;type:text"`
	IsActive    bool      `gorm:"column:is_active;not null"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (User) TableName() string {
	return "users"
}

// UserPreferences gates the live stream and the email escalation channel.
type UserPreferences struct {
	UserID                 string                      `gorm:"column:user_id;type:text;primaryKey"`
	EmailEnabled           bool                        `gorm:"column:email_enabled;not null"`
	StreamEnabled          bool                        `gorm:"column:sse_enabled;not null"`
	MutedNotificationTypes datatypes.JSONSlice[string] `gorm:"column:muted_notification_types"`
	UpdatedAt              time.Time                   `gorm:"column:updated_at;autoUpdateTime"`
}

func (UserPreferences) TableName() string {
	return "user_preferences"
}

// DefaultPreferences applies when a user has never saved preferences.
func DefaultPreferences(userID string) UserPreferences {
	return UserPreferences{
		UserID:        userID,
		EmailEnabled:  true,
		StreamEnabled: true,
	}
}

// IsMuted reports whether notificationType is on the user's mute list.
func (p UserPreferences) IsMuted(notificationType string) bool {
	for _, muted := range p.MutedNotificationTypes {
		if muted == notificationType {
			return true
		}
	}
	return false
}
