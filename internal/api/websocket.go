package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ernie/warden/internal/domain"
)

// getClientIP extracts the real client IP, checking proxy headers first
func getClientIP(r *http.Request) string {
	// Check X-Forwarded-For header (may contain multiple IPs, first is the client)
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		if len(ips) > 0 {
			return strings.TrimSpace(ips[0])
		}
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // token auth, not cookies
	},
}

// WebSocketClient represents a connected WebSocket client
type WebSocketClient struct {
	hub        *WebSocketHub
	conn       *websocket.Conn
	send       chan []byte
	remoteAddr string
	serverID   int64 // zero receives every server
}

type hubMessage struct {
	serverID int64
	data     []byte
}

// WebSocketHub fans manager events out to WebSocket clients
type WebSocketHub struct {
	clients    map[*WebSocketClient]bool
	broadcast  chan hubMessage
	register   chan *WebSocketClient
	unregister chan *WebSocketClient
	done       chan struct{} // closed when Run returns
	mu         sync.RWMutex
	log        *slog.Logger
}

// NewWebSocketHub creates a new WebSocket hub
func NewWebSocketHub(logger *slog.Logger) *WebSocketHub {
	return &WebSocketHub{
		clients:    make(map[*WebSocketClient]bool),
		broadcast:  make(chan hubMessage, 256),
		register:   make(chan *WebSocketClient),
		unregister: make(chan *WebSocketClient),
		done:       make(chan struct{}),
		log:        logger,
	}
}

// Run starts the hub's main loop and closes every client once ctx is done
func (h *WebSocketHub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.log.Info("websocket client connected", "remote", client.remoteAddr, "server_id", client.serverID, "total", n)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.log.Info("websocket client disconnected", "remote", client.remoteAddr, "total", n)

		case msg := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				if client.serverID != 0 && client.serverID != msg.serverID {
					continue
				}
				select {
				case client.send <- msg.data:
				default:
					// slow reader
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// add registers a client; it reports false once the hub has stopped
func (h *WebSocketHub) add(c *WebSocketClient) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *WebSocketHub) remove(c *WebSocketClient) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Broadcast sends an event to all interested clients
func (h *WebSocketHub) Broadcast(event domain.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.log.Error("failed to marshal event", "type", event.Type, "error", err)
		return
	}

	select {
	case h.broadcast <- hubMessage{serverID: event.ServerID, data: data}:
	default:
		h.log.Warn("broadcast channel full, dropping event", "type", event.Type)
	}
}

// ClientCount returns the number of connected clients
func (h *WebSocketHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

var errStreamAuth = errors.New("authentication required")

// authorizeStream checks a stream request. Browsers cannot set headers on a
// WebSocket handshake, so the token and actor come from the query string
// (token, server_id, user_id, guild_id, role_ids). Admin clients may omit the
// user; everyone else needs perm on the requested server.
func (r *Router) authorizeStream(req *http.Request, perm domain.Permission) (int64, error) {
	q := req.URL.Query()
	claims, err := r.auth.ValidateToken(q.Get("token"))
	if err != nil {
		return 0, errStreamAuth
	}

	var serverID int64
	if s := q.Get("server_id"); s != "" {
		if serverID, err = strconv.ParseInt(s, 10, 64); err != nil {
			return 0, fmt.Errorf("invalid server_id")
		}
	}
	if q.Get("user_id") == "" && claims.IsAdmin {
		return serverID, nil
	}
	if serverID == 0 {
		return 0, fmt.Errorf("server_id required")
	}

	userID, err := strconv.ParseInt(q.Get("user_id"), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("user_id required")
	}
	var guildID int64
	if g := q.Get("guild_id"); g != "" {
		if guildID, err = strconv.ParseInt(g, 10, 64); err != nil {
			return 0, fmt.Errorf("invalid guild_id")
		}
	}
	roles, err := parseIDList(q.Get("role_ids"))
	if err != nil {
		return 0, fmt.Errorf("invalid role_ids")
	}

	perms, err := r.manager.Permissions(req.Context(), serverID, guildID, userID, roles)
	if err != nil {
		return 0, err
	}
	if !perms.Has(perm) {
		return 0, fmt.Errorf("missing permission %s", perm)
	}
	return serverID, nil
}

func writeStreamError(w http.ResponseWriter, err error) {
	if errors.Is(err, errStreamAuth) {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	writeError(w, http.StatusForbidden, err.Error())
}

// handleWebSocket upgrades HTTP to WebSocket and streams live events
func (r *Router) handleWebSocket(w http.ResponseWriter, req *http.Request) {
	serverID, err := r.authorizeStream(req, domain.PermPublic)
	if err != nil {
		writeStreamError(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := &WebSocketClient{
		hub:        r.wsHub,
		conn:       conn,
		send:       make(chan []byte, 256),
		remoteAddr: getClientIP(req),
		serverID:   serverID,
	}

	if !r.wsHub.add(client) {
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// readPump reads messages from the WebSocket (and handles close)
func (c *WebSocketClient) readPump() {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
	}()
	readUntilClosed(c.conn, c.hub.log)
}

// readUntilClosed discards client messages, keeping the read deadline fresh
// on pongs, until the connection fails
func readUntilClosed(conn *websocket.Conn, log *slog.Logger) {
	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNoStatusReceived) {
				log.Debug("websocket read error", "error", err)
			}
			return
		}
	}
}

// writePump sends messages to the WebSocket
func (c *WebSocketClient) writePump() {
	writePump(c.conn, c.send)
}

// writePump writes queued messages, batching whatever is already buffered
// into one frame, and pings every 30s. It returns when send is closed.
func writePump(conn *websocket.Conn, send chan []byte) {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case message, ok := <-send:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			n := len(send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
