package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ernie/warden/internal/auth"
	"github.com/ernie/warden/internal/collector"
	"github.com/ernie/warden/internal/domain"
	"github.com/ernie/warden/internal/storage"
)

// Router holds the HTTP routes and dependencies
type Router struct {
	mux       *http.ServeMux
	store     *storage.Store
	manager   *collector.ServerManager
	wsHub     *WebSocketHub
	logStream *LogStreamManager
	auth      *auth.Service
	log       *slog.Logger
}

// NewRouter creates a new HTTP router
func NewRouter(store *storage.Store, manager *collector.ServerManager, authService *auth.Service, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Router{
		mux:       http.NewServeMux(),
		store:     store,
		manager:   manager,
		wsHub:     NewWebSocketHub(logger),
		logStream: NewLogStreamManager(store, logger),
		auth:      authService,
		log:       logger,
	}

	// Auth routes
	r.mux.HandleFunc("POST /api/auth/login", r.handleLogin)
	r.mux.HandleFunc("GET /api/auth/check", r.handleAuthCheck)

	// Instances
	r.mux.HandleFunc("GET /api/servers", r.requireAuth(r.handleGetServers))
	r.mux.HandleFunc("POST /api/servers", r.requireAdmin(r.handleCreateServer))
	r.mux.HandleFunc("GET /api/servers/{id}", r.requirePerm(0, r.handleGetServer))
	r.mux.HandleFunc("PATCH /api/servers/{id}", r.requirePerm(domain.PermCreds, r.handleUpdateServer))
	r.mux.HandleFunc("DELETE /api/servers/{id}", r.requirePerm(domain.PermInstance, r.handleDeleteServer))
	r.mux.HandleFunc("POST /api/servers/{id}/connect", r.requirePerm(domain.PermInstance, r.handleConnect))
	r.mux.HandleFunc("POST /api/servers/{id}/disconnect", r.requirePerm(domain.PermInstance, r.handleDisconnect))

	// Live state
	r.mux.HandleFunc("GET /api/servers/{id}/status", r.requirePerm(domain.PermPublic, r.handleGetServerStatus))
	r.mux.HandleFunc("GET /api/servers/{id}/players", r.requirePerm(domain.PermPlayers, r.handleGetServerPlayers))
	r.mux.HandleFunc("GET /api/servers/{id}/players/find", r.requirePerm(domain.PermPlayers, r.handleFindPlayer))

	// Commands
	r.mux.HandleFunc("POST /api/servers/{id}/rcon", r.requirePerm(domain.PermExecute, r.handleRconCommand))
	r.mux.HandleFunc("POST /api/servers/{id}/commands/{name}", r.requirePerm(0, r.handleCommand))

	// Logs
	r.mux.HandleFunc("GET /api/servers/{id}/logs", r.requirePerm(domain.PermLogs, r.handleGetLogs))
	r.mux.HandleFunc("GET /api/servers/{id}/logs/export", r.requirePerm(domain.PermLogs, r.handleExportLogs))

	// Configuration
	r.mux.HandleFunc("GET /api/servers/{id}/config", r.requirePerm(domain.PermConfig, r.handleGetConfig))
	r.mux.HandleFunc("PATCH /api/servers/{id}/config", r.requirePerm(domain.PermConfig, r.handleUpdateConfig))
	r.mux.HandleFunc("GET /api/servers/{id}/rotation", r.requirePerm(domain.PermConfig, r.handleGetRotation))
	r.mux.HandleFunc("PUT /api/servers/{id}/rotation", r.requirePerm(domain.PermConfig, r.handlePutRotation))
	r.mux.HandleFunc("DELETE /api/servers/{id}/rotation", r.requirePerm(domain.PermConfig, r.handleDeleteRotation))

	// Permissions
	r.mux.HandleFunc("GET /api/servers/{id}/permissions", r.requireAuth(r.handleResolvePermissions))
	r.mux.HandleFunc("GET /api/servers/{id}/permissions/grants", r.requirePerm(domain.PermManage, r.handleListGrants))
	r.mux.HandleFunc("PUT /api/servers/{id}/permissions/{target}", r.requirePerm(domain.PermManage, r.handleSetGrant))
	r.mux.HandleFunc("DELETE /api/servers/{id}/permissions/{target}", r.requirePerm(domain.PermManage, r.handleDeleteGrant))

	// Selected server of a chat user
	r.mux.HandleFunc("GET /api/selection", r.requireAuth(r.handleGetSelection))
	r.mux.HandleFunc("PUT /api/selection", r.requireAuth(r.handlePutSelection))

	// WebSocket endpoints
	r.mux.HandleFunc("GET /ws", r.handleWebSocket)
	r.mux.HandleFunc("GET /ws/logs", r.handleLogWebSocket)

	// Health check
	r.mux.HandleFunc("GET /health", r.handleHealth)

	return r
}

// ServeHTTP implements http.Handler
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	// CORS headers for API
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+headerUser+", "+headerGuild+", "+headerRoles)

	if req.Method == "OPTIONS" {
		w.WriteHeader(http.StatusOK)
		return
	}

	r.mux.ServeHTTP(w, req)
}

// StartWebSocketHub starts broadcasting manager events to WebSocket clients
// until ctx is done
func (r *Router) StartWebSocketHub(ctx context.Context) {
	go r.wsHub.Run(ctx)

	events, cancel := r.manager.Subscribe()
	go func() {
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-events:
				if !ok {
					return
				}
				r.wsHub.Broadcast(event)
			}
		}
	}()

	go r.logStream.Run(ctx)
}
