package controllers

import (
	"context"
	"net/http"

	"github.com/angelmondragon/notifyhub/api/responses"
	"github.com/angelmondragon/notifyhub/api/validators"
	"github.com/angelmondragon/notifyhub/internal/connections"
	"github.com/angelmondragon/notifyhub/internal/notifications"
	"github.com/angelmondragon/notifyhub/internal/users"
	pkgerrors "github.com/angelmondragon/notifyhub/pkg/errors"
	"github.com/angelmondragon/notifyhub/pkg/logger"
)

// EventPublisher hands events to the ingestion topics.
type EventPublisher interface {
	Publish(ctx context.Context, event notifications.Event) (string, error)
	PublishBroadcast(ctx context.Context, event notifications.Event) (string, error)
}

// UserLister reads the user directory.
type UserLister interface {
	ListUsers(ctx context.Context) ([]users.UserDTO, error)
}

// ConnectionLister exposes this instance's live connections.
type ConnectionLister interface {
	InstanceID() string
	Snapshot() []connections.Info
}

type publishResponse struct {
	EventID string `json:"eventId"`
	Topic   string `json:"topic"`
}

// AdminPublishNotification accepts an event for targeted delivery. It returns
// 202 once the event is on the bus; delivery outcomes are never reported here.
func AdminPublishNotification(publisher EventPublisher, logg *logger.Logger) http.HandlerFunc {
	return publishHandler(publisher, false, logg)
}

// AdminBroadcastNotification accepts an event for every active user.
func AdminBroadcastNotification(publisher EventPublisher, logg *logger.Logger) http.HandlerFunc {
	return publishHandler(publisher, true, logg)
}

func publishHandler(publisher EventPublisher, broadcast bool, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if publisher == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "producer unavailable"))
			return
		}

		var event notifications.Event
		if err := validators.DecodeJSON(r, &event); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		event = event.Normalize()

		var (
			topic string
			err   error
		)
		if broadcast {
			topic, err = publisher.PublishBroadcast(r.Context(), event)
		} else {
			topic, err = publisher.Publish(r.Context(), event)
		}
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if logg != nil {
			ctx := logg.WithField(logg.WithEventID(r.Context(), event.EventID), "topic", topic)
			logg.Info(ctx, "notification accepted")
		}
		responses.WriteSuccessStatus(w, http.StatusAccepted, publishResponse{EventID: event.EventID, Topic: topic})
	}
}

func AdminListUsers(svc UserLister, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "users service unavailable"))
			return
		}
		list, err := svc.ListUsers(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"users": list})
	}
}

// AdminListConnections reports the live connections held by this instance.
func AdminListConnections(conns ConnectionLister, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if conns == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "connection manager unavailable"))
			return
		}
		snapshot := conns.Snapshot()
		responses.WriteSuccess(w, map[string]any{
			"instanceId":  conns.InstanceID(),
			"count":       len(snapshot),
			"connections": snapshot,
		})
	}
}
