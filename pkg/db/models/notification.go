package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/angelmondragon/notifyhub/pkg/enums"
)

// Notification is one persisted (eventId, userId) assignment.
type Notification struct {
	ID                     uuid.UUID                   `gorm:"type:uuid;primaryKey"`
	EventID                string                      `gorm:"column:event_id;type:text;not null;uniqueIndex:ux_notifications_event_user,priority:1"`
	UserID                 string                      `gorm:"column:user_id;type:text;not null;uniqueIndex:ux_notifications_event_user,priority:2;index:ix_notifications_user_created,priority:1"`
	SourceService          string                      `gorm:"column:source_service;type:text;not null"`
	NotificationType       string                      `gorm:"column:notification_type;type:text;not null"`
	Priority               enums.NotificationPriority  `gorm:"column:priority;type:text;not null"`
	Title                  string                      `gorm:"column:title;type:text"`
	Content                string                      `gorm:"column:content;type:text;not null"`
	Metadata               datatypes.JSONMap           `gorm:"column:metadata"`
	Tags                   datatypes.JSONSlice[string] `gorm:"column:tags"`
	ReadStatus             enums.ReadStatus            `gorm:"column:read_status;type:text;not null"`
	ReadAt                 *time.Time                  `gorm:"column:read_at"`
	EscalationDispatchedAt *time.Time                  `gorm:"column:escalation_dispatched_at"`
	CreatedAt              time.Time                   `gorm:"column:created_at;not null;index:ix_notifications_user_created,priority:2"`
	// Pruned rows stay soft-deleted so the (event_id, user_id) key still dedups replays.
	DeletedAt              gorm.DeletedAt              `gorm:"column:deleted_at;index:ix_notifications_deleted_at"`
}

func (Notification) TableName() string {
	return "notifications"
}
