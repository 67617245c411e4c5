package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ernie/warden/internal/domain"
	"github.com/ernie/warden/internal/storage"
)

const (
	logBacklog      = 100
	logPollInterval = time.Second
)

// LogMessage is the message format for log streaming
type LogMessage struct {
	Type    string            `json:"type"`              // "initial", "entries", "error"
	Entries []domain.LogEntry `json:"entries,omitempty"` // oldest first
	Message string            `json:"message,omitempty"` // error message
}

// LogStreamClient represents a client subscribed to a server's log
type LogStreamClient struct {
	conn     *websocket.Conn
	send     chan []byte
	serverID int64
	category string // empty for every category
	manager  *LogStreamManager
}

func (c *LogStreamClient) wants(e domain.LogEntry) bool {
	return c.category == "" || c.category == e.Category
}

// LogStreamManager tails stored server logs for WebSocket clients
type LogStreamManager struct {
	mu      sync.Mutex
	store   *storage.Store
	cursors map[int64]int64                      // serverID -> last id sent
	clients map[int64]map[*LogStreamClient]bool // serverID -> set of clients
	log     *slog.Logger
}

// NewLogStreamManager creates a new log stream manager
func NewLogStreamManager(store *storage.Store, logger *slog.Logger) *LogStreamManager {
	return &LogStreamManager{
		store:   store,
		cursors: make(map[int64]int64),
		clients: make(map[int64]map[*LogStreamClient]bool),
		log:     logger,
	}
}

// Subscribe adds a client and returns the most recent entries, oldest first
func (m *LogStreamManager) Subscribe(ctx context.Context, client *LogStreamClient) ([]domain.LogEntry, error) {
	recent, err := m.store.ListLogs(ctx, client.serverID, storage.LogFilter{Category: client.category, Limit: logBacklog})
	if err != nil {
		return nil, err
	}
	slices.Reverse(recent)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.clients[client.serverID] == nil {
		m.clients[client.serverID] = make(map[*LogStreamClient]bool)
		cursor, err := m.latestID(ctx, client.serverID)
		if err != nil {
			delete(m.clients, client.serverID)
			return nil, err
		}
		m.cursors[client.serverID] = cursor
	}
	m.clients[client.serverID][client] = true

	// entries past the cursor arrive through Run
	cursor := m.cursors[client.serverID]
	recent = slices.DeleteFunc(recent, func(e domain.LogEntry) bool { return e.ID > cursor })

	m.log.Info("log stream client subscribed", "server_id", client.serverID, "total", len(m.clients[client.serverID]))
	return recent, nil
}

func (m *LogStreamManager) latestID(ctx context.Context, serverID int64) (int64, error) {
	newest, err := m.store.ListLogs(ctx, serverID, storage.LogFilter{Limit: 1})
	if err != nil || len(newest) == 0 {
		return 0, err
	}
	return newest[0].ID, nil
}

// Unsubscribe removes a client from log streaming
func (m *LogStreamManager) Unsubscribe(client *LogStreamClient) {
	m.mu.Lock()
	defer m.mu.Unlock()

	clients, ok := m.clients[client.serverID]
	if !ok || !clients[client] {
		return
	}
	delete(clients, client)
	close(client.send)
	m.log.Info("log stream client unsubscribed", "server_id", client.serverID, "remaining", len(clients))

	if len(clients) == 0 {
		delete(m.clients, client.serverID)
		delete(m.cursors, client.serverID)
	}
}

// Run polls the store for new entries of every watched server until ctx is
// done, then disconnects all clients
func (m *LogStreamManager) Run(ctx context.Context) {
	ticker := time.NewTicker(logPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.mu.Lock()
			for serverID, clients := range m.clients {
				for client := range clients {
					close(client.send)
				}
				delete(m.clients, serverID)
			}
			m.mu.Unlock()
			return
		case <-ticker.C:
			m.poll(ctx)
		}
	}
}

func (m *LogStreamManager) poll(ctx context.Context) {
	m.mu.Lock()
	cursors := make(map[int64]int64, len(m.cursors))
	for id, c := range m.cursors {
		cursors[id] = c
	}
	m.mu.Unlock()

	for serverID, cursor := range cursors {
		var entries []domain.LogEntry
		var err error
		if cursor == 0 {
			entries, err = m.store.ListLogs(ctx, serverID, storage.LogFilter{Limit: logBacklog})
			slices.Reverse(entries)
		} else {
			entries, err = m.store.ListLogs(ctx, serverID, storage.LogFilter{AfterID: cursor, Limit: logBacklog})
		}
		if err != nil {
			m.log.Warn("log stream poll failed", "server_id", serverID, "error", err)
			continue
		}
		if len(entries) > 0 {
			m.deliver(serverID, entries)
		}
	}
}

func (m *LogStreamManager) deliver(serverID int64, entries []domain.LogEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()

	clients, ok := m.clients[serverID]
	if !ok {
		return
	}
	m.cursors[serverID] = entries[len(entries)-1].ID

	for client := range clients {
		var wanted []domain.LogEntry
		for _, e := range entries {
			if client.wants(e) {
				wanted = append(wanted, e)
			}
		}
		if len(wanted) == 0 {
			continue
		}
		data, _ := json.Marshal(LogMessage{Type: "entries", Entries: wanted})
		select {
		case client.send <- data:
		default:
			// client buffer full, drop
		}
	}
}

// ClientCount returns the number of log stream clients
func (m *LogStreamManager) ClientCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, clients := range m.clients {
		n += len(clients)
	}
	return n
}

// handleLogWebSocket streams a server's activity log. Query parameters are
// those of authorizeStream plus an optional category.
func (r *Router) handleLogWebSocket(w http.ResponseWriter, req *http.Request) {
	serverID, err := r.authorizeStream(req, domain.PermLogs)
	if err != nil {
		writeStreamError(w, err)
		return
	}
	if serverID == 0 {
		writeError(w, http.StatusBadRequest, "server_id required")
		return
	}
	if _, err := r.store.GetInstance(req.Context(), serverID); err != nil {
		writeManagerError(w, err)
		return
	}
	category := req.URL.Query().Get("category")
	if category != "" && !domain.IsLogCategory(category) {
		writeError(w, http.StatusBadRequest, "unknown category")
		return
	}

	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.log.Warn("log websocket upgrade failed", "error", err)
		return
	}

	client := &LogStreamClient{
		conn:     conn,
		send:     make(chan []byte, 256),
		serverID: serverID,
		category: category,
		manager:  r.logStream,
	}

	initial, err := r.logStream.Subscribe(req.Context(), client)
	if err != nil {
		r.log.Error("log subscription failed", "server_id", serverID, "error", err)
		data, _ := json.Marshal(LogMessage{Type: "error", Message: "failed to subscribe to logs"})
		conn.WriteMessage(websocket.TextMessage, data)
		conn.Close()
		return
	}

	data, _ := json.Marshal(LogMessage{Type: "initial", Entries: initial})
	conn.WriteMessage(websocket.TextMessage, data)

	go writePump(conn, client.send)
	go client.readPump()
}

// readPump reads messages from the WebSocket (handles close)
func (c *LogStreamClient) readPump() {
	defer func() {
		c.manager.Unsubscribe(c)
		c.conn.Close()
	}()
	readUntilClosed(c.conn, c.manager.log)
}
