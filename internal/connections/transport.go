package connections

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"syscall"

	"github.com/gorilla/websocket"

	"github.com/angelmondragon/notifyhub/pkg/enums"
)

// Frame is one named message on a live connection.
type Frame struct {
	Name enums.StreamFrame
	ID   string
	Data []byte
}

// Transport is the capability a live connection is built on: push one frame,
// signal completion, and report when the peer has gone away.
type Transport interface {
	Send(ctx context.Context, frame Frame) error
	// Close completes the stream. cause is nil for an orderly close.
	Close(cause error) error
	// Done is closed once the peer disconnects.
	Done() <-chan struct{}
}

// ErrTransportClosed is returned by Send after Close or once the peer is gone.
var ErrTransportClosed = errors.New("transport closed")

var transientMarkers = []string{
	"broken pipe",
	"connection reset by peer",
	"use of closed network connection",
	"client disconnected",
}

// IsTransient reports whether err means the peer went away, as opposed to an
// unexpected transport failure.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTransportClosed) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
