package users

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/notifyhub/pkg/db"
	"github.com/angelmondragon/notifyhub/pkg/db/models"
)

// ErrNotFound is returned when the user does not exist.
var ErrNotFound = errors.New("user not found")

// Repository exposes user directory and preference persistence.
type Repository struct {
	db *gorm.DB
}

// NewRepository constructs a users repo bound to the provided GORM DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Create inserts a new user and returns the persisted model.
func (r *Repository) Create(ctx context.Context, dto CreateUserDTO) (*models.User, error) {
	user := dto.ToModel()
	if err := r.db.WithContext(ctx).Create(user).Error; err != nil {
		return nil, err
	}
	return user, nil
}

// FindByID loads a user by id.
func (r *Repository) FindByID(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	err := r.db.WithContext(ctx).First(&user, "id = ?", id).Error
	if db.IsNotFound(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// List returns active users ordered by id.
func (r *Repository) List(ctx context.Context) ([]models.User, error) {
	var out []models.User
	err := r.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("id ASC").
		Find(&out).Error
	return out, err
}

// AllUserIDs returns the id of every active user; this is the ALL expansion.
func (r *Repository) AllUserIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).
		Model(&models.User{}).
		Where("is_active = ?", true).
		Order("id ASC").
		Pluck("id", &ids).Error
	return ids, err
}

// Email returns the address used by the escalation channel.
func (r *Repository) Email(ctx context.Context, userID string) (string, error) {
	user, err := r.FindByID(ctx, userID)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(user.Email), nil
}

// Preferences returns the saved preferences, or the defaults when none exist.
func (r *Repository) Preferences(ctx context.Context, userID string) (models.UserPreferences, error) {
	var prefs models.UserPreferences
	err := r.db.WithContext(ctx).First(&prefs, "user_id = ?", userID).Error
	if db.IsNotFound(err) {
		return models.DefaultPreferences(userID), nil
	}
	if err != nil {
		return models.UserPreferences{}, err
	}
	return prefs, nil
}

// SavePreferences upserts the preference row for prefs.UserID.
func (r *Repository) SavePreferences(ctx context.Context, prefs models.UserPreferences, now time.Time) error {
	prefs.UpdatedAt = now
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"email_enabled", "sse_enabled", "muted_notification_types", "updated_at"}),
		}).
		Create(&prefs).Error
}
