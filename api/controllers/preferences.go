package controllers

import (
	"context"
	"net/http"

	"github.com/angelmondragon/notifyhub/api/responses"
	"github.com/angelmondragon/notifyhub/api/validators"
	"github.com/angelmondragon/notifyhub/internal/users"
	pkgerrors "github.com/angelmondragon/notifyhub/pkg/errors"
	"github.com/angelmondragon/notifyhub/pkg/logger"
)

// PreferenceService reads and replaces delivery preferences.
type PreferenceService interface {
	PreferenceReader
	UpdatePreferences(ctx context.Context, userID string, input users.PreferencesDTO) (users.PreferencesDTO, error)
}

func GetMyPreferences(svc PreferenceService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "users service unavailable"))
			return
		}
		userID, ok := requireUser(w, r, logg)
		if !ok {
			return
		}
		prefs, err := svc.GetPreferences(r.Context(), userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, prefs)
	}
}

// UpdateMyPreferences replaces the caller's preferences with the request body.
func UpdateMyPreferences(svc PreferenceService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "users service unavailable"))
			return
		}
		userID, ok := requireUser(w, r, logg)
		if !ok {
			return
		}

		var body users.PreferencesDTO
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		prefs, err := svc.UpdatePreferences(r.Context(), userID, body)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, prefs)
	}
}
