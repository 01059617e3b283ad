package connections

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/angelmondragon/notifyhub/pkg/enums"
)

// State is the lifecycle position of a live connection.
type State int32

const (
	StateOpening State = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpening:
		return "opening"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// CloseReason records why a connection left the Open state.
type CloseReason string

const (
	ReasonPeerGone        CloseReason = "peer_gone"
	ReasonSuperseded      CloseReason = "superseded"
	ReasonHeartbeatFailed CloseReason = "heartbeat_failed"
	ReasonSendFailed      CloseReason = "send_failed"
	ReasonShutdown        CloseReason = "shutdown"
)

var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrSendTimeout      = errors.New("send timed out")
)

var keepAliveData = []byte("ping")

type sendRequest struct {
	frame  Frame
	result chan error
}

// Connection is one live stream owned by the Manager. A single goroutine
// writes to the transport; pushes and heartbeats are serialized through it.
type Connection struct {
	id        string
	userID    string
	transport Transport
	openedAt  time.Time

	state         atomic.Int32
	lastHeartbeat atomic.Int64

	requests chan sendRequest
	stop     chan struct{}
	done     chan struct{}

	mu        sync.Mutex
	stopOnce  sync.Once
	reason    CloseReason
	lastError error
}

func newConnection(id, userID string, transport Transport, buffer int, now time.Time) *Connection {
	if buffer < 1 {
		buffer = 1
	}
	c := &Connection{
		id:        id,
		userID:    userID,
		transport: transport,
		openedAt:  now,
		requests:  make(chan sendRequest, buffer),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	c.state.Store(int32(StateOpening))
	c.lastHeartbeat.Store(now.UnixNano())
	return c
}

func (c *Connection) ID() string { return c.id }
func (c *Connection) UserID() string { return c.userID }
func (c *Connection) OpenedAt() time.Time { return c.openedAt }
func (c *Connection) State() State { return State(c.state.Load()) }
func (c *Connection) Done() <-chan struct{} { return c.done }

// LastHeartbeatAt is the time of the last successful keep-alive (or open).
func (c *Connection) LastHeartbeatAt() time.Time {
	return time.Unix(0, c.lastHeartbeat.Load())
}

// Reason returns why the connection closed, and the transport error if any.
func (c *Connection) Reason() (CloseReason, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason, c.lastError
}

// Wait blocks until the connection is closed or ctx ends.
func (c *Connection) Wait(ctx context.Context) error {
	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// requestClose asks the writer goroutine to stop. The first reason wins.
func (c *Connection) requestClose(reason CloseReason) {
	c.stopOnce.Do(func() {
		c.mu.Lock()
		if c.reason == "" {
			c.reason = reason
		}
		c.mu.Unlock()
		close(c.stop)
	})
}

func (c *Connection) setExit(reason CloseReason, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.reason == "" {
		c.reason = reason
	}
	if err != nil {
		c.lastError = err
	}
}

// send hands frame to the writer goroutine and waits for the write result.
func (c *Connection) send(ctx context.Context, frame Frame, timeout time.Duration) error {
	if s := c.State(); s == StateClosing || s == StateClosed {
		return ErrConnectionClosed
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	req := sendRequest{frame: frame, result: make(chan error, 1)}
	select {
	case c.requests <- req:
	case <-c.done:
		return ErrConnectionClosed
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrSendTimeout
	}
	return c.await(ctx, req.result, timer.C)
}

// queueFirst puts frame at the head of a connection nobody else can see yet.
// The writer handles requests in order, so frame is written before any push.
func (c *Connection) queueFirst(frame Frame) <-chan error {
	req := sendRequest{frame: frame, result: make(chan error, 1)}
	c.requests <- req
	return req.result
}

func (c *Connection) await(ctx context.Context, result <-chan error, timeout <-chan time.Time) error {
	select {
	case err := <-result:
		return err
	case <-c.done:
		select {
		case err := <-result:
			return err
		default:
			return ErrConnectionClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	case <-timeout:
		return ErrSendTimeout
	}
}

// run owns the transport until the connection closes. The heartbeat ticker
// lives and dies with this goroutine.
func (c *Connection) run(heartbeat, sendTimeout time.Duration, onExit func(*Connection)) {
	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()

	reason, cause := c.loop(ticker.C, sendTimeout)
	c.setExit(reason, cause)
	c.state.Store(int32(StateClosing))

	// Pending pushes are refused; they never reach a closing transport.
drain:
	for {
		select {
		case req := <-c.requests:
			req.result <- ErrConnectionClosed
		default:
			break drain
		}
	}

	var closeCause error
	if reason == ReasonSendFailed || reason == ReasonHeartbeatFailed {
		closeCause = cause
	}
	_ = c.transport.Close(closeCause)
	onExit(c)
	c.state.Store(int32(StateClosed))
	close(c.done)
}

func (c *Connection) loop(tick <-chan time.Time, sendTimeout time.Duration) (CloseReason, error) {
	for {
		select {
		case <-c.stop:
			c.mu.Lock()
			reason := c.reason
			c.mu.Unlock()
			return reason, nil
		case <-c.transport.Done():
			return ReasonPeerGone, nil
		case req := <-c.requests:
			err := c.write(req.frame, sendTimeout)
			req.result <- err
			if err != nil {
				return ReasonSendFailed, err
			}
		case <-tick:
			if err := c.write(Frame{Name: enums.FrameKeepAlive, Data: keepAliveData}, sendTimeout); err != nil {
				return ReasonHeartbeatFailed, err
			}
			c.lastHeartbeat.Store(time.Now().UnixNano())
		}
	}
}

func (c *Connection) write(frame Frame, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return c.transport.Send(ctx, frame)
}
