package bridge

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
)

var _ Notifier = (*WSNotifier)(nil)

// writeTimeout bounds each event broadcast per connection.
const writeTimeout = 2 * time.Second

// WSNotifier broadcasts bridge events to the hosting page over WebSocket.
// It is both a [Notifier] and an http.Handler: mount it on a mux and point
// the page's socket at it. Safe for concurrent use.
type WSNotifier struct {
	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

// NewWSNotifier creates an empty notifier with no connected peers.
func NewWSNotifier() *WSNotifier {
	return &WSNotifier{conns: make(map[*websocket.Conn]struct{})}
}

// ServeHTTP upgrades the request and keeps the connection registered until
// the peer goes away. Inbound frames are drained and discarded; the socket
// is a one-way event feed.
func (n *WSNotifier) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// The widget is embedded cross-origin by the course player.
		InsecureSkipVerify: true,
	})
	if err != nil {
		slog.Warn("websocket accept failed", "error", err)
		return
	}

	n.mu.Lock()
	n.conns[conn] = struct{}{}
	n.mu.Unlock()

	defer func() {
		n.drop(conn)
		conn.Close(websocket.StatusNormalClosure, "closing")
	}()

	for {
		if _, _, err := conn.Read(r.Context()); err != nil {
			return
		}
	}
}

// Notify implements Notifier. Events are written best-effort; a connection
// that cannot keep up within the write timeout is dropped.
func (n *WSNotifier) Notify(e Event) {
	data, err := json.Marshal(e)
	if err != nil {
		slog.Error("marshal bridge event", "error", err)
		return
	}

	n.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(n.conns))
	for c := range n.conns {
		conns = append(conns, c)
	}
	n.mu.Unlock()

	for _, c := range conns {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		if err := c.Write(ctx, websocket.MessageText, data); err != nil {
			n.drop(c)
			c.Close(websocket.StatusPolicyViolation, "write failed")
		}
		cancel()
	}
}

func (n *WSNotifier) drop(conn *websocket.Conn) {
	n.mu.Lock()
	delete(n.conns, conn)
	n.mu.Unlock()
}
