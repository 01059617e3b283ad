package connections

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
)

// SSETransport writes frames as text/event-stream events.
type SSETransport struct {
	w       http.ResponseWriter
	flusher http.Flusher
	rc      *http.ResponseController

	mu     sync.Mutex
	closed bool
	done   chan struct{}
	once   sync.Once
}

// NewSSETransport prepares w for streaming. The request context ending marks
// the peer as gone.
func NewSSETransport(w http.ResponseWriter, r *http.Request) (*SSETransport, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, errors.New("streaming unsupported by response writer")
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	t := &SSETransport{w: w, flusher: flusher, rc: http.NewResponseController(w), done: make(chan struct{})}
	go func() {
		<-r.Context().Done()
		t.markDone()
	}()
	return t, nil
}

func (t *SSETransport) Send(ctx context.Context, frame Frame) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrTransportClosed
	}
	select {
	case <-t.done:
		return ErrTransportClosed
	default:
	}

	var buf bytes.Buffer
	if frame.ID != "" {
		fmt.Fprintf(&buf, "id: %s\n", frame.ID)
	}
	fmt.Fprintf(&buf, "event: %s\n", frame.Name)
	for _, line := range bytes.Split(frame.Data, []byte("\n")) {
		buf.WriteString("data: ")
		buf.Write(line)
		buf.WriteByte('\n')
	}
	buf.WriteByte('\n')

	// Writers without deadline support (tests, some proxies) report
	// ErrNotSupported; the send timeout upstream still applies.
	if deadline, ok := ctx.Deadline(); ok {
		_ = t.rc.SetWriteDeadline(deadline)
	}
	if _, err := t.w.Write(buf.Bytes()); err != nil {
		return err
	}
	t.flusher.Flush()
	return nil
}

func (t *SSETransport) Close(cause error) error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	t.markDone()
	return nil
}

func (t *SSETransport) Done() <-chan struct{} {
	return t.done
}

func (t *SSETransport) markDone() {
	t.once.Do(func() { close(t.done) })
}
