package internal

import (
	"context"
	"net/http"
	"slices"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"gorinidrive.com/vault/internal/audit"
	"gorinidrive.com/vault/internal/errs"
	"gorinidrive.com/vault/internal/middleware"
)

const (
	SOCKET_PING_EVERY   = time.Second * 30 // Ping sockets every 30 seconds
	SOCKET_PING_TIMEOUT = time.Second * 10 // Timeout ping after 10 seconds and close socket
	SOCKET_WRITE_WAIT   = time.Second * 10
)

// Websocket messages always match this structure
type SocketMsg struct {
	Command string `json:"command"`
	Data    any    `json:"data,omitempty"`
}

// socketConn is a live audit stream of one user.
type socketConn struct {
	userID int32
	conn   *websocket.Conn
}

func (h *Handler) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || slices.Contains(h.Config.AllowedOrigins, origin)
		},
	}
}

// PingSockets pings all connected sockets in Handler until ctx is done; any that fail or timeout are closed and deleted.
func (h *Handler) PingSockets(ctx context.Context) {
	ticker := time.NewTicker(SOCKET_PING_EVERY)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		h.WebSockets.Range(func(key, value any) bool {
			sc := value.(*socketConn)
			if err := sc.conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(SOCKET_PING_TIMEOUT)); err != nil {
				h.Logger.Warnf("[WS] ping error for user %d: %s", sc.userID, err)
				if err := sc.conn.Close(); err != nil {
					h.Logger.Errorf("[WS] ping close error: %s", err)
				}
				h.WebSockets.Delete(key)
			}
			return true
		})
	}
}

// AuditStream upgrades to a websocket and pushes the caller's new audit
// entries as they are persisted.
func (h *Handler) AuditStream(c *gin.Context) {
	userID := middleware.UserID(c)
	conn, err := h.upgrader().Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already replied to the client
		h.Logger.Warnf("[WS] upgrade failed for user %d: %s", userID, err)
		return
	}
	h.HandleSocket(uuid.NewString(), &socketConn{userID: userID, conn: conn})
}

// HandleSocket stores the socket in WebSockets and streams audit entries
// to it until either side goes away.
func (h *Handler) HandleSocket(socketKey string, sc *socketConn) {
	conn := sc.conn
	// Cache socket for pings
	h.WebSockets.Store(socketKey, sc)
	entries, cancel := h.Audit.Feed().Subscribe(sc.userID)
	// Defer cleanup and closing of socket
	defer func() {
		cancel()
		conn.Close()
		h.WebSockets.Delete(socketKey)
	}()

	// Log closure
	defaultCloseHandler := conn.CloseHandler()
	conn.SetCloseHandler(func(code int, text string) error {
		h.Logger.Infof("[WS] closing conn for '%s'", socketKey)
		return defaultCloseHandler(code, text)
	})

	// The stream is one-way; reading only notices the client leaving
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					h.Logger.Errorf("[WS] unexpected close error: %v", err)
				}
				return
			}
		}
	}()

	if err := h.socketWrite(conn, &SocketMsg{Command: "subscribed"}); err != nil {
		h.Logger.Errorf("[WS] failed to greet client: %s", err)
		return
	}
	for {
		select {
		case <-gone:
			return
		case e, ok := <-entries:
			if !ok { // recorder shut down
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), time.Now().Add(SOCKET_WRITE_WAIT))
				return
			}
			if err := h.socketWrite(conn, &SocketMsg{Command: "audit-entry", Data: e}); err != nil {
				h.Logger.Warnf("[WS] write error: %s", err)
				return
			}
		}
	}
}

func (h *Handler) socketWrite(conn *websocket.Conn, msg *SocketMsg) error {
	if err := conn.SetWriteDeadline(time.Now().Add(SOCKET_WRITE_WAIT)); err != nil {
		return err
	}
	return conn.WriteJSON(msg)
}

// AuditLogs returns one page of the caller's audit trail.
func (h *Handler) AuditLogs(c *gin.Context) {
	userID := middleware.UserID(c)
	var raw audit.RawFilter
	if err := c.ShouldBindQuery(&raw); err != nil {
		middleware.Abort(c, errs.Validation("invalid query: %s", err))
		return
	}
	q, err := audit.ParseQuery(userID, raw, h.now())
	if err != nil {
		middleware.Abort(c, err)
		return
	}
	page, err := h.Audit.Query(c.Request.Context(), q)
	if err != nil {
		middleware.Abort(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}
