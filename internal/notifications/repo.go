package notifications

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/notifyhub/pkg/db"
	"github.com/angelmondragon/notifyhub/pkg/db/models"
	"github.com/angelmondragon/notifyhub/pkg/enums"
	"github.com/angelmondragon/notifyhub/pkg/pagination"
)

// ErrNotFound is returned when a record lookup misses.
var ErrNotFound = errors.New("notification not found")

// Repository exposes persistence helpers for notifications.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Persist(ctx context.Context, event Event, userID string) (models.Notification, bool, error)
	PersistBatch(ctx context.Context, event Event, userIDs []string) []PersistResult
	FindByID(ctx context.Context, id uuid.UUID) (models.Notification, error)
	FindByEventAndUser(ctx context.Context, eventID, userID string) (models.Notification, error)
	MarkEscalated(ctx context.Context, id uuid.UUID, now time.Time) (bool, error)
	List(ctx context.Context, params listNotificationsParams) ([]models.Notification, *pagination.Cursor, error)
	MarkRead(ctx context.Context, userID string, notificationID uuid.UUID, now time.Time) (notificationMarkResult, error)
	MarkAllRead(ctx context.Context, userID string, now time.Time) (int64, error)
	CountUnread(ctx context.Context, userID string) (int64, error)
}

// PersistResult is the outcome of persisting one (eventId, userId) pair.
type PersistResult struct {
	UserID  string
	Record  models.Notification
	Created bool
	Err     error
}

type repositoryImpl struct {
	db  *gorm.DB
	now func() time.Time
}

// NewRepository returns a notifications repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repositoryImpl{db: db, now: func() time.Time { return time.Now().UTC() }}
}

type listNotificationsParams struct {
	UserID     string
	Limit      int
	Cursor     *pagination.Cursor
	UnreadOnly bool
}

type notificationMarkResult struct {
	Updated bool
	Found   bool
}

func (r *repositoryImpl) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repositoryImpl{db: tx, now: r.now}
}

// Persist inserts the record for (event.EventID, userID) unless one exists,
// pruned rows included. The boolean is true only when this call created the row.
func (r *repositoryImpl) Persist(ctx context.Context, event Event, userID string) (models.Notification, bool, error) {
	if event.EventID == "" {
		return models.Notification{}, false, errors.New("event id is required")
	}
	if userID == "" {
		return models.Notification{}, false, errors.New("user id is required")
	}

	record := newRecord(event, userID, r.now())
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "event_id"}, {Name: "user_id"}},
			DoNothing: true,
		}).
		Create(&record)
	if result.Error != nil && !db.IsUniqueViolation(result.Error, "") {
		return models.Notification{}, false, result.Error
	}
	if result.Error == nil && result.RowsAffected > 0 {
		return record, true, nil
	}

	existing, err := r.FindByEventAndUser(ctx, event.EventID, userID)
	if err != nil {
		return models.Notification{}, false, err
	}
	return existing, false, nil
}

// PersistBatch runs Persist for each user and reports per-user results; one
// failure never stops the rest. Dispatch does not use it: it persists per
// user inside its worker pool.
func (r *repositoryImpl) PersistBatch(ctx context.Context, event Event, userIDs []string) []PersistResult {
	results := make([]PersistResult, 0, len(userIDs))
	for _, userID := range userIDs {
		record, created, err := r.Persist(ctx, event, userID)
		results = append(results, PersistResult{
			UserID:  userID,
			Record:  record,
			Created: created,
			Err:     err,
		})
	}
	return results
}

func (r *repositoryImpl) FindByID(ctx context.Context, id uuid.UUID) (models.Notification, error) {
	var record models.Notification
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&record).Error
	if db.IsNotFound(err) {
		return models.Notification{}, ErrNotFound
	}
	return record, err
}

// FindByEventAndUser also returns pruned rows; callers check DeletedAt.
func (r *repositoryImpl) FindByEventAndUser(ctx context.Context, eventID, userID string) (models.Notification, error) {
	var record models.Notification
	err := r.db.WithContext(ctx).Unscoped().
		Where("event_id = ? AND user_id = ?", eventID, userID).
		Take(&record).Error
	if db.IsNotFound(err) {
		return models.Notification{}, ErrNotFound
	}
	return record, err
}

// MarkEscalated sets escalation_dispatched_at once. It reports false when the
// marker was already set.
func (r *repositoryImpl) MarkEscalated(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Notification{}).
		Where("id = ? AND escalation_dispatched_at IS NULL", id).
		UpdateColumn("escalation_dispatched_at", now)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repositoryImpl) List(ctx context.Context, params listNotificationsParams) ([]models.Notification, *pagination.Cursor, error) {
	limit := pagination.LimitWithBuffer(params.Limit)
	normalized := pagination.NormalizeLimit(params.Limit)
	query := r.db.WithContext(ctx).Model(&models.Notification{}).Where("user_id = ?", params.UserID)
	if params.UnreadOnly {
		query = query.Where("read_status = ?", enums.ReadStatusUnread)
	}
	if params.Cursor != nil {
		query = query.Where("(created_at < ?) OR (created_at = ? AND id < ?)",
			params.Cursor.CreatedAt, params.Cursor.CreatedAt, params.Cursor.ID)
	}

	var notifications []models.Notification
	if err := query.Order("created_at DESC, id DESC").Limit(limit).Find(&notifications).Error; err != nil {
		return nil, nil, err
	}

	if len(notifications) > normalized {
		last := notifications[normalized-1]
		notifications = notifications[:normalized]
		return notifications, &pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID}, nil
	}
	return notifications, nil, nil
}

func (r *repositoryImpl) MarkRead(ctx context.Context, userID string, notificationID uuid.UUID, now time.Time) (notificationMarkResult, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Notification{}).
		Where("id = ? AND user_id = ? AND read_status = ?", notificationID, userID, enums.ReadStatusUnread).
		UpdateColumns(map[string]any{
			"read_status": enums.ReadStatusRead,
			"read_at":     now,
		})
	if result.Error != nil {
		return notificationMarkResult{}, result.Error
	}

	mark := notificationMarkResult{Updated: result.RowsAffected > 0}
	if result.RowsAffected > 0 {
		mark.Found = true
		return mark, nil
	}

	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.Notification{}).
		Where("id = ? AND user_id = ?", notificationID, userID).
		Count(&count).Error; err != nil {
		return notificationMarkResult{}, err
	}
	mark.Found = count > 0
	return mark, nil
}

func (r *repositoryImpl) MarkAllRead(ctx context.Context, userID string, now time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Notification{}).
		Where("user_id = ? AND read_status = ?", userID, enums.ReadStatusUnread).
		UpdateColumns(map[string]any{
			"read_status": enums.ReadStatusRead,
			"read_at":     now,
		})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (r *repositoryImpl) CountUnread(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Notification{}).
		Where("user_id = ? AND read_status = ?", userID, enums.ReadStatusUnread).
		Count(&count).Error
	return count, err
}
