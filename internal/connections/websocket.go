package connections

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/gorilla/websocket"
)

const (
	wsCloseGrace    = time.Second
	wsMaxCloseText  = 120
	wsMaxReadBytes  = 4 << 10
	wsDefaultWrite  = 5 * time.Second
	wsHandshakeWait = 10 * time.Second
)

// NewUpgrader returns an upgrader that only accepts the given origins.
// An empty list or "*" accepts any origin.
func NewUpgrader(allowedOrigins []string) *websocket.Upgrader {
	allowAll := len(allowedOrigins) == 0
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		if origin == "*" {
			allowAll = true
		}
		allowed[origin] = struct{}{}
	}
	return &websocket.Upgrader{
		HandshakeTimeout: wsHandshakeWait,
		ReadBufferSize:   1024,
		WriteBufferSize:  4096,
		CheckOrigin: func(r *http.Request) bool {
			if allowAll {
				return true
			}
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			_, ok := allowed[origin]
			return ok
		},
	}
}

// wsEnvelope is the JSON text message carrying one frame.
type wsEnvelope struct {
	Event string          `json:"event"`
	ID    string          `json:"id,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// WebSocketTransport writes frames as JSON text messages. Inbound messages
// are discarded; the read loop only detects the peer closing.
type WebSocketTransport struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	mu     sync.Mutex
	closed bool
	done   chan struct{}
	once   sync.Once
}

func NewWebSocketTransport(conn *websocket.Conn, writeTimeout time.Duration) *WebSocketTransport {
	if writeTimeout <= 0 {
		writeTimeout = wsDefaultWrite
	}
	t := &WebSocketTransport{conn: conn, writeTimeout: writeTimeout, done: make(chan struct{})}
	conn.SetReadLimit(wsMaxReadBytes)
	go t.readLoop()
	return t
}

func (t *WebSocketTransport) readLoop() {
	defer t.markDone()
	for {
		if _, _, err := t.conn.NextReader(); err != nil {
			return
		}
	}
}

func (t *WebSocketTransport) Send(ctx context.Context, frame Frame) error {
	data := frame.Data
	if len(data) > 0 && !json.Valid(data) {
		quoted, err := json.Marshal(string(data))
		if err != nil {
			return err
		}
		data = quoted
	}
	msg, err := json.Marshal(wsEnvelope{Event: string(frame.Name), ID: frame.ID, Data: data})
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrTransportClosed
	}
	deadline := time.Now().Add(t.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = t.conn.SetWriteDeadline(deadline)
	return t.conn.WriteMessage(websocket.TextMessage, msg)
}

func (t *WebSocketTransport) Close(cause error) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	code, text := websocket.CloseNormalClosure, "closed"
	if cause != nil {
		code, text = websocket.CloseGoingAway, cause.Error()
	}
	_ = t.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, truncateCloseText(text)), time.Now().Add(wsCloseGrace))
	t.mu.Unlock()

	err := t.conn.Close()
	t.markDone()
	return err
}

// truncateCloseText caps text for a close frame (125 byte control payload,
// two of them the code) without splitting a rune.
func truncateCloseText(text string) string {
	if len(text) <= wsMaxCloseText {
		return text
	}
	cut := wsMaxCloseText
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}

func (t *WebSocketTransport) Done() <-chan struct{} {
	return t.done
}

func (t *WebSocketTransport) markDone() {
	t.once.Do(func() { close(t.done) })
}
