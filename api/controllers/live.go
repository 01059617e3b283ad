package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/angelmondragon/notifyhub/api/responses"
	"github.com/angelmondragon/notifyhub/internal/connections"
	"github.com/angelmondragon/notifyhub/internal/notifications"
	"github.com/angelmondragon/notifyhub/internal/offline"
	"github.com/angelmondragon/notifyhub/internal/users"
	pkgerrors "github.com/angelmondragon/notifyhub/pkg/errors"
	"github.com/angelmondragon/notifyhub/pkg/logger"
)

var offlineResweepDelay = 2 * time.Second

// LiveConnections is the connection manager surface the live endpoints use.
type LiveConnections interface {
	Open(ctx context.Context, userID string, transport connections.Transport) (*connections.Connection, error)
	Push(ctx context.Context, userID string, payload notifications.Payload) error
}

// PreferenceReader loads the caller's delivery preferences.
type PreferenceReader interface {
	GetPreferences(ctx context.Context, userID string) (users.PreferencesDTO, error)
}

// NotificationStream upgrades the request to a server-sent event stream,
// replays the offline queue, and holds the response open until the
// connection closes.
func NotificationStream(conns LiveConnections, queue offline.Queue, prefs PreferenceReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if conns == nil || queue == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "live delivery unavailable"))
			return
		}
		userID, ok := requireUser(w, r, logg)
		if !ok {
			return
		}
		if !streamAllowed(w, r, prefs, userID, logg) {
			return
		}

		transport, err := connections.NewSSETransport(w, r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "open event stream"))
			return
		}
		serveLive(r.Context(), conns, queue, userID, transport, logg)
	}
}

// NotificationSocket is the WebSocket variant of NotificationStream.
func NotificationSocket(conns LiveConnections, queue offline.Queue, prefs PreferenceReader, upgrader *websocket.Upgrader, writeTimeout time.Duration, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if conns == nil || queue == nil || upgrader == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "live delivery unavailable"))
			return
		}
		userID, ok := requireUser(w, r, logg)
		if !ok {
			return
		}
		if !streamAllowed(w, r, prefs, userID, logg) {
			return
		}

		// Upgrade writes its own error response on failure.
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			if logg != nil {
				logg.Warn(logg.WithField(r.Context(), "error", err.Error()), "websocket upgrade failed")
			}
			return
		}
		serveLive(r.Context(), conns, queue, userID, connections.NewWebSocketTransport(ws, writeTimeout), logg)
	}
}

// PendingNotifications drains the caller's offline queue and returns it.
func PendingNotifications(queue offline.Queue, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if queue == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "offline queue unavailable"))
			return
		}
		userID, ok := requireUser(w, r, logg)
		if !ok {
			return
		}

		items, err := queue.DrainAndClear(r.Context(), userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "drain offline queue"))
			return
		}
		if items == nil {
			items = []notifications.Payload{}
		}
		responses.WriteSuccess(w, map[string]any{"items": items, "count": len(items)})
	}
}

func streamAllowed(w http.ResponseWriter, r *http.Request, prefs PreferenceReader, userID string, logg *logger.Logger) bool {
	if prefs == nil {
		return true
	}
	p, err := prefs.GetPreferences(r.Context(), userID)
	if err != nil {
		responses.WriteError(r.Context(), logg, w, err)
		return false
	}
	if !p.SSEEnabled {
		responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "live delivery disabled for user"))
		return false
	}
	return true
}

// serveLive registers the transport and blocks until the connection is done.
// The connection's writer owns the transport until then.
func serveLive(ctx context.Context, conns LiveConnections, queue offline.Queue, userID string, transport connections.Transport, logg *logger.Logger) {
	conn, err := conns.Open(ctx, userID, transport)
	if err != nil {
		if logg != nil {
			logg.Error(logg.WithUserID(ctx, userID), "open live connection", err)
		}
		_ = transport.Close(err)
		return
	}

	replay := func() {
		if _, err := replayOffline(ctx, conns, queue, userID, logg); err != nil && logg != nil {
			logg.Error(logg.WithConnectionID(logg.WithUserID(ctx, userID), conn.ID()), "replay offline queue", err)
		}
	}
	replay()

	// A dispatch that looked up presence just before Open may enqueue after
	// the first drain. One more pass picks it up.
	timer := time.NewTimer(offlineResweepDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
		replay()
		<-conn.Done()
	case <-conn.Done():
	}
}

// replayOffline pushes queued payloads in order. Payloads not delivered are
// queued again so a later reconnect can pick them up.
func replayOffline(ctx context.Context, conns LiveConnections, queue offline.Queue, userID string, logg *logger.Logger) (int, error) {
	pending, err := queue.DrainAndClear(ctx, userID)
	if err != nil {
		return 0, err
	}
	for i, payload := range pending {
		if pushErr := conns.Push(ctx, userID, payload); pushErr != nil {
			for _, rest := range pending[i:] {
				if err := queue.Enqueue(context.WithoutCancel(ctx), userID, rest); err != nil && logg != nil {
					logg.Error(logg.WithEventID(logg.WithUserID(ctx, userID), rest.EventID), "requeue offline payload", err)
				}
			}
			return i, pushErr
		}
	}
	return len(pending), nil
}
