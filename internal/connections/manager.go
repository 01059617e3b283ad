package connections

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/notifyhub/internal/notifications"
	"github.com/angelmondragon/notifyhub/internal/presence"
	"github.com/angelmondragon/notifyhub/pkg/enums"
	"github.com/angelmondragon/notifyhub/pkg/logger"
	"github.com/angelmondragon/notifyhub/pkg/metrics"
)

const (
	defaultHeartbeatInterval = 20 * time.Second
	defaultSendTimeout       = 5 * time.Second
	defaultBuffer            = 64
	cleanupTimeout           = 5 * time.Second
)

var (
	ErrNotConnected   = errors.New("user has no live connection on this instance")
	ErrManagerClosed  = errors.New("connection manager closed")
	errUserIDRequired = errors.New("user id is required")
)

// RemoteSuperseder closes a connection held by another instance.
type RemoteSuperseder interface {
	SupersedeRemote(ctx context.Context, entry presence.Entry) error
}

// Options tunes a Manager. Zero values fall back to defaults.
type Options struct {
	HeartbeatInterval time.Duration
	SendTimeout       time.Duration
	Buffer            int
	Metrics           *metrics.DeliveryMetrics
	Remote            RemoteSuperseder
	Logger            *logger.Logger
}

// Info is a point-in-time view of one connection.
type Info struct {
	UserID          string    `json:"userId"`
	ConnectionID    string    `json:"connectionId"`
	State           string    `json:"state"`
	OpenedAt        time.Time `json:"openedAt"`
	LastHeartbeatAt time.Time `json:"lastHeartbeatAt"`
}

// Manager owns the live connections of this instance, at most one per user.
type Manager struct {
	registry    *presence.Registry
	heartbeat   time.Duration
	sendTimeout time.Duration
	buffer      int
	metrics     *metrics.DeliveryMetrics
	remote      RemoteSuperseder
	logg        *logger.Logger

	mu     sync.RWMutex
	conns  map[string]*Connection
	closed bool
	wg     sync.WaitGroup
}

func NewManager(registry *presence.Registry, opts Options) (*Manager, error) {
	if registry == nil {
		return nil, errors.New("presence registry required")
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = defaultHeartbeatInterval
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = defaultSendTimeout
	}
	if opts.Buffer <= 0 {
		opts.Buffer = defaultBuffer
	}
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	return &Manager{
		registry:    registry,
		heartbeat:   opts.HeartbeatInterval,
		sendTimeout: opts.SendTimeout,
		buffer:      opts.Buffer,
		metrics:     opts.Metrics,
		remote:      opts.Remote,
		logg:        opts.Logger,
		conns:       make(map[string]*Connection),
	}, nil
}

// InstanceID returns the identity connections are registered under.
func (m *Manager) InstanceID() string {
	return m.registry.InstanceID()
}

type initFrame struct {
	Status       string `json:"status"`
	ConnectionID string `json:"connectionId"`
	InstanceID   string `json:"instanceId"`
}

// Open registers a new live connection for userID, superseding any previous
// one, starts its heartbeat, and writes the INIT frame ahead of any push.
func (m *Manager) Open(ctx context.Context, userID string, transport Transport) (*Connection, error) {
	if userID == "" {
		return nil, errUserIDRequired
	}
	conn := newConnection(uuid.NewString(), userID, transport, m.buffer, time.Now())
	logCtx := m.logg.WithConnectionID(m.logg.WithUserID(ctx, userID), conn.id)

	// INIT is queued before the connection is published, so no push overtakes it.
	data, _ := json.Marshal(initFrame{Status: "connected", ConnectionID: conn.id, InstanceID: m.InstanceID()})
	initResult := conn.queueFirst(Frame{Name: enums.FrameInit, ID: conn.id, Data: data})

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrManagerClosed
	}
	prev := m.conns[userID]
	m.conns[userID] = conn
	m.wg.Add(1)
	m.mu.Unlock()

	// The old heartbeat must be gone before the new one starts.
	if prev != nil {
		prev.requestClose(ReasonSuperseded)
		<-prev.Done()
	}

	reg, err := m.registry.RegisterLocal(ctx, userID, conn.id)
	if err != nil {
		m.logg.Error(logCtx, "shared presence update failed, connection is local-only until reconcile", err)
	}
	if reg.Remote != nil && m.remote != nil {
		if err := m.remote.SupersedeRemote(ctx, *reg.Remote); err != nil {
			m.logg.Error(m.logg.WithField(logCtx, "previous_instance_id", reg.Remote.OwnerInstanceID), "remote supersede failed", err)
		}
	}

	go func() {
		defer m.wg.Done()
		conn.run(m.heartbeat, m.sendTimeout, m.onExit)
	}()
	m.metrics.ConnectionOpened()

	timer := time.NewTimer(m.sendTimeout)
	defer timer.Stop()
	if err := conn.await(ctx, initResult, timer.C); err != nil {
		conn.requestClose(ReasonSendFailed)
		return nil, err
	}
	conn.state.CompareAndSwap(int32(StateOpening), int32(StateOpen))
	m.logg.Info(logCtx, "live connection opened")
	return conn, nil
}

// Push writes payload to the user's connection on this instance.
func (m *Manager) Push(ctx context.Context, userID string, payload notifications.Payload) error {
	conn, ok := m.Get(userID)
	if !ok {
		return ErrNotConnected
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	err = conn.send(ctx, Frame{Name: enums.FrameNotification, ID: payload.ID.String(), Data: data}, m.sendTimeout)
	if errors.Is(err, ErrSendTimeout) {
		// A consumer too slow to take one frame is evicted.
		conn.requestClose(ReasonSendFailed)
	}
	return err
}

// Supersede closes the user's connection when its id matches connectionID
// (any connection when connectionID is empty). It reports whether one closed.
func (m *Manager) Supersede(ctx context.Context, userID, connectionID string) bool {
	conn, ok := m.Get(userID)
	if !ok || (connectionID != "" && conn.id != connectionID) {
		return false
	}
	conn.requestClose(ReasonSuperseded)
	_ = conn.Wait(ctx)
	return true
}

// Get returns the live connection for userID.
func (m *Manager) Get(userID string) (*Connection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conn, ok := m.conns[userID]
	return conn, ok
}

// Len returns the number of live connections.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.conns)
}

// Snapshot copies the current connection set; callers iterate the copy so
// removals during iteration are harmless.
func (m *Manager) Snapshot() []Info {
	m.mu.RLock()
	conns := make([]*Connection, 0, len(m.conns))
	for _, conn := range m.conns {
		conns = append(conns, conn)
	}
	m.mu.RUnlock()

	out := make([]Info, 0, len(conns))
	for _, conn := range conns {
		out = append(out, Info{
			UserID:          conn.userID,
			ConnectionID:    conn.id,
			State:           conn.State().String(),
			OpenedAt:        conn.openedAt,
			LastHeartbeatAt: conn.LastHeartbeatAt(),
		})
	}
	return out
}

// CloseAll closes every connection and refuses new ones. It waits for the
// writers to exit or ctx to end.
func (m *Manager) CloseAll(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	conns := make([]*Connection, 0, len(m.conns))
	for _, conn := range m.conns {
		conns = append(conns, conn)
	}
	m.mu.Unlock()

	for _, conn := range conns {
		conn.requestClose(ReasonShutdown)
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// onExit runs on the connection's goroutine once its transport is closed.
func (m *Manager) onExit(conn *Connection) {
	m.mu.Lock()
	if current, ok := m.conns[conn.userID]; ok && current == conn {
		delete(m.conns, conn.userID)
	}
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	logCtx := m.logg.WithConnectionID(m.logg.WithUserID(ctx, conn.userID), conn.id)

	if _, err := m.registry.Remove(ctx, conn.userID, conn.id); err != nil {
		m.logg.Error(logCtx, "presence cleanup failed", err)
	}
	m.metrics.ConnectionClosed()

	reason, cause := conn.Reason()
	logCtx = m.logg.WithField(logCtx, "reason", string(reason))
	switch reason {
	case ReasonHeartbeatFailed, ReasonSendFailed:
		if reason == ReasonHeartbeatFailed {
			m.metrics.IncHeartbeatEviction()
		}
		if cause == nil || IsTransient(cause) || errors.Is(cause, context.DeadlineExceeded) {
			m.logg.Info(logCtx, "live connection dropped")
			return
		}
		m.logg.Error(logCtx, "live connection failed", cause)
	default:
		m.logg.Info(logCtx, "live connection closed")
	}
}
