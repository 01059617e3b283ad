package presence

import (
	"context"
	"errors"
	"strings"
	"sync"

	"go.uber.org/multierr"

	"github.com/angelmondragon/notifyhub/pkg/logger"
)

// Entry records which instance holds a user's live connection.
type Entry struct {
	UserID          string
	ConnectionID    string
	OwnerInstanceID string
}

// SharedStore gives other instances visibility of this instance's entries.
// Values are opaque owner tokens; "" means absent.
type SharedStore interface {
	Swap(ctx context.Context, userID, owner string) (string, error)
	Get(ctx context.Context, userID string) (string, error)
	CompareAndDelete(ctx context.Context, userID, owner string) (bool, error)
	Refresh(ctx context.Context, userID, owner string) (bool, error)
}

// Registration describes what RegisterLocal displaced.
type Registration struct {
	Entry Entry
	// Previous is the prior local entry for the user, if any.
	Previous *Entry
	// Remote is set when the shared store pointed at another instance.
	Remote *Entry
}

// Registry is the per-process presence map. It is safe for concurrent use.
type Registry struct {
	instanceID string
	shared     SharedStore
	logg       *logger.Logger

	mu      sync.RWMutex
	entries map[string]Entry
}

var errInstanceIDRequired = errors.New("instance id is required")

// NewRegistry builds a registry for instanceID. shared may be nil for a
// single-instance deployment.
func NewRegistry(instanceID string, shared SharedStore, logg *logger.Logger) (*Registry, error) {
	if strings.TrimSpace(instanceID) == "" {
		return nil, errInstanceIDRequired
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &Registry{
		instanceID: instanceID,
		shared:     shared,
		logg:       logg,
		entries:    make(map[string]Entry),
	}, nil
}

// InstanceID returns the identity this registry registers entries under.
func (r *Registry) InstanceID() string {
	return r.instanceID
}

// RegisterLocal makes connectionID the only entry for userID. The displaced
// local entry (and the remote owner, when another instance held the user) is
// returned so the caller can close it.
func (r *Registry) RegisterLocal(ctx context.Context, userID, connectionID string) (Registration, error) {
	if userID == "" || connectionID == "" {
		return Registration{}, errors.New("user id and connection id are required")
	}
	entry := Entry{UserID: userID, ConnectionID: connectionID, OwnerInstanceID: r.instanceID}

	r.mu.Lock()
	prev, had := r.entries[userID]
	r.entries[userID] = entry
	r.mu.Unlock()

	reg := Registration{Entry: entry}
	if had {
		reg.Previous = &prev
	}
	if r.shared == nil {
		return reg, nil
	}

	prevToken, err := r.shared.Swap(ctx, userID, encodeOwner(entry))
	if err != nil {
		// The local entry stays; reconcile republishes it.
		return reg, err
	}
	if owner, conn, ok := decodeOwner(prevToken); ok && owner != r.instanceID {
		reg.Remote = &Entry{UserID: userID, ConnectionID: conn, OwnerInstanceID: owner}
	}
	return reg, nil
}

// Lookup resolves the owner of userID. Local entries win; otherwise the
// shared store is consulted.
func (r *Registry) Lookup(ctx context.Context, userID string) (Entry, bool, error) {
	r.mu.RLock()
	entry, ok := r.entries[userID]
	r.mu.RUnlock()
	if ok {
		return entry, true, nil
	}
	if r.shared == nil {
		return Entry{}, false, nil
	}

	token, err := r.shared.Get(ctx, userID)
	if err != nil {
		return Entry{}, false, err
	}
	owner, conn, ok := decodeOwner(token)
	if !ok {
		return Entry{}, false, nil
	}
	if owner == r.instanceID {
		// Stale pointer at ourselves with no local connection behind it.
		return Entry{}, false, nil
	}
	return Entry{UserID: userID, ConnectionID: conn, OwnerInstanceID: owner}, true, nil
}

// LocalEntry returns the local entry for userID without touching the shared store.
func (r *Registry) LocalEntry(userID string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[userID]
	return entry, ok
}

// Remove drops the entry for userID when it still belongs to connectionID.
// It reports whether an entry was removed.
func (r *Registry) Remove(ctx context.Context, userID, connectionID string) (bool, error) {
	r.mu.Lock()
	entry, ok := r.entries[userID]
	if !ok || (connectionID != "" && entry.ConnectionID != connectionID) {
		r.mu.Unlock()
		return false, nil
	}
	delete(r.entries, userID)
	r.mu.Unlock()

	if r.shared == nil {
		return true, nil
	}
	if _, err := r.shared.CompareAndDelete(ctx, userID, encodeOwner(entry)); err != nil {
		return true, err
	}
	return true, nil
}

// Snapshot copies the local entries.
func (r *Registry) Snapshot() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, 0, len(r.entries))
	for _, entry := range r.entries {
		out = append(out, entry)
	}
	return out
}

// Len returns the number of local entries.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Reconcile refreshes the shared TTL of every local entry and returns the
// entries another instance has since claimed.
func (r *Registry) Reconcile(ctx context.Context) ([]Entry, error) {
	if r.shared == nil {
		return nil, nil
	}
	var lost []Entry
	var errs error
	for _, entry := range r.Snapshot() {
		token := encodeOwner(entry)
		refreshed, err := r.shared.Refresh(ctx, entry.UserID, token)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if refreshed {
			continue
		}

		current, err := r.shared.Get(ctx, entry.UserID)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		owner, _, ok := decodeOwner(current)
		if ok && owner != r.instanceID {
			lost = append(lost, entry)
			continue
		}
		// Expired or pointing at an older connection of ours: claim it again,
		// unless the entry was removed meanwhile.
		if local, still := r.LocalEntry(entry.UserID); !still || local.ConnectionID != entry.ConnectionID {
			continue
		}
		if _, err := r.shared.Swap(ctx, entry.UserID, token); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		r.logg.Debug(r.logg.WithUserID(ctx, entry.UserID), "presence entry reclaimed")
	}
	return lost, errs
}

const ownerSeparator = "|"

func encodeOwner(entry Entry) string {
	return entry.OwnerInstanceID + ownerSeparator + entry.ConnectionID
}

func decodeOwner(token string) (owner, connectionID string, ok bool) {
	if token == "" {
		return "", "", false
	}
	idx := strings.LastIndex(token, ownerSeparator)
	if idx < 0 {
		return token, "", true
	}
	return token[:idx], token[idx+1:], token[:idx] != ""
}
