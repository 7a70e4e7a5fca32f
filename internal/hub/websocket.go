package hub

import (
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/gorilla/websocket"
	"github.com/kozaktomas/face-attendance/internal/constants"
)

// Constants for WebSocket connections
const (
	// Time allowed to read the next frame (any frame, including pongs) from the client
	pongWait = 60 * time.Second

	// Send pings to client with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Time allowed to write a control frame
	controlWait = 5 * time.Second

	// Time allowed to send the close frame when a subscriber is dropped
	closeWait = time.Second
)

// wsConn adapts a gorilla connection to Conn.
type wsConn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration
}

func (c *wsConn) WriteMessage(data []byte) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) Close() error {
	// Best effort; the peer may already be gone.
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(closeWait))
	return c.ws.Close()
}

// Handler upgrades HTTP requests to WebSocket subscribers of a hub.
type Handler struct {
	hub          *Hub
	upgrader     websocket.Upgrader
	writeTimeout time.Duration
}

// NewHandler creates a WebSocket endpoint for h. Browser origins must be in
// allowedOrigins ("*" allows any); requests without an Origin header are accepted.
func NewHandler(h *Hub, allowedOrigins []string, writeTimeout time.Duration) *Handler {
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	allowAll := slices.Contains(allowedOrigins, "*")
	return &Handler{
		hub:          h,
		writeTimeout: writeTimeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || allowAll || slices.Contains(allowedOrigins, origin)
			},
		},
	}
}

// ServeHTTP serves one subscriber for the lifetime of its connection.
func (wh *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := wh.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already written an HTTP error response.
		slog.Debug("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	sub, err := wh.hub.Subscribe(&wsConn{ws: ws, writeTimeout: wh.writeTimeout})
	if err != nil {
		ws.Close()
		return
	}
	defer wh.hub.Unsubscribe(sub)

	slog.Debug("subscriber connected", "subscriber", sub.ID(), "remote", r.RemoteAddr)

	go keepalive(ws, sub.Done())
	wh.readPump(ws, sub)
}

// readPump reads client frames until the connection fails or the hub drops the subscriber.
func (wh *Handler) readPump(ws *websocket.Conn, sub *Subscriber) {
	ws.SetReadLimit(constants.MaxClientMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				slog.Debug("websocket read error", "subscriber", sub.ID(), "error", err)
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))
		wh.hub.HandleClientMessage(sub, data)
	}
}

// keepalive sends protocol-level pings until done is closed. A write still
// pending at that point is cut short so the delivery goroutine can exit.
func keepalive(ws *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			_ = ws.UnderlyingConn().SetWriteDeadline(time.Now())
			return
		case <-ticker.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(controlWait)); err != nil {
				return
			}
		}
	}
}
