package users

import (
	"sort"
	"strings"
	"time"

	"github.com/angelmondragon/notifyhub/pkg/db/models"
)

// UserDTO is the transport shape of a directory entry.
type UserDTO struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
}

// CreateUserDTO holds the data required by the repo to persist a new user.
type CreateUserDTO struct {
	ID          string
	Email       string
	DisplayName string
	IsActive    *bool
}

// PreferencesDTO is the caller-facing view of UserPreferences.
type PreferencesDTO struct {
	EmailEnabled           bool     `json:"emailEnabled"`
	SSEEnabled             bool     `json:"sseEnabled"`
	MutedNotificationTypes []string `json:"mutedNotificationTypes"`
}

func FromModel(u *models.User) *UserDTO {
	if u == nil {
		return nil
	}
	return &UserDTO{
		ID:          u.ID,
		Email:       u.Email,
		DisplayName: u.DisplayName,
		IsActive:    u.IsActive,
		CreatedAt:   u.CreatedAt,
	}
}

func (c CreateUserDTO) ToModel() *models.User {
	isActive := true
	if c.IsActive != nil {
		isActive = *c.IsActive
	}
	return &models.User{
		ID:          strings.TrimSpace(c.ID),
		Email:       strings.TrimSpace(c.Email),
		DisplayName: c.DisplayName,
		IsActive:    isActive,
	}
}

func PreferencesFromModel(p models.UserPreferences) PreferencesDTO {
	muted := append([]string{}, p.MutedNotificationTypes...)
	return PreferencesDTO{
		EmailEnabled:           p.EmailEnabled,
		SSEEnabled:             p.StreamEnabled,
		MutedNotificationTypes: muted,
	}
}

// ToModel trims, dedupes and sorts the muted types.
func (p PreferencesDTO) ToModel(userID string) models.UserPreferences {
	seen := map[string]struct{}{}
	muted := make([]string, 0, len(p.MutedNotificationTypes))
	for _, t := range p.MutedNotificationTypes {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		muted = append(muted, t)
	}
	sort.Strings(muted)
	return models.UserPreferences{
		UserID:                 userID,
		EmailEnabled:           p.EmailEnabled,
		StreamEnabled:          p.SSEEnabled,
		MutedNotificationTypes: muted,
	}
}
