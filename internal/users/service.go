package users

import (
	"context"
	"strings"
	"time"

	pkgerrors "github.com/angelmondragon/notifyhub/pkg/errors"
)

// Service exposes directory reads and preference updates to controllers.
type Service struct {
	repo *Repository
}

func NewService(repo *Repository) (*Service, error) {
	if repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "users repository required")
	}
	return &Service{repo: repo}, nil
}

func (s *Service) ListUsers(ctx context.Context) ([]UserDTO, error) {
	rows, err := s.repo.List(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list users")
	}
	out := make([]UserDTO, 0, len(rows))
	for i := range rows {
		out = append(out, *FromModel(&rows[i]))
	}
	return out, nil
}

func (s *Service) GetPreferences(ctx context.Context, userID string) (PreferencesDTO, error) {
	if strings.TrimSpace(userID) == "" {
		return PreferencesDTO{}, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	prefs, err := s.repo.Preferences(ctx, userID)
	if err != nil {
		return PreferencesDTO{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load preferences")
	}
	return PreferencesFromModel(prefs), nil
}

func (s *Service) UpdatePreferences(ctx context.Context, userID string, input PreferencesDTO) (PreferencesDTO, error) {
	if strings.TrimSpace(userID) == "" {
		return PreferencesDTO{}, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	if _, err := s.repo.FindByID(ctx, userID); err != nil {
		if err == ErrNotFound {
			return PreferencesDTO{}, pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
		}
		return PreferencesDTO{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load user")
	}
	model := input.ToModel(userID)
	if err := s.repo.SavePreferences(ctx, model, time.Now().UTC()); err != nil {
		return PreferencesDTO{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save preferences")
	}
	return PreferencesFromModel(model), nil
}
