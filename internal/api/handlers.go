package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/ernie/warden/internal/collector"
	"github.com/ernie/warden/internal/domain"
	"github.com/ernie/warden/internal/rcon"
	"github.com/ernie/warden/internal/rotation"
	"github.com/ernie/warden/internal/storage"
)

// maxRotationSize bounds rotation uploads
const maxRotationSize = 1 << 20

// writeJSON writes a JSON response
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeManagerError maps registry, session and store errors onto HTTP statuses
func writeManagerError(w http.ResponseWriter, err error) {
	var cmdErr *rcon.CommandError
	var rotErr *rotation.Error
	switch {
	case errors.Is(err, collector.ErrUnknownServer), errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "server not found")
	case errors.Is(err, collector.ErrNotConnected):
		writeError(w, http.StatusConflict, "server is not connected")
	case errors.Is(err, collector.ErrPlayerNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, collector.ErrNoSelection):
		writeError(w, http.StatusNotFound, "no server selected")
	case errors.Is(err, storage.ErrDuplicateAddress):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, rcon.ErrAuth):
		writeError(w, http.StatusBadRequest, "RCON authentication failed")
	case errors.Is(err, collector.ErrConnectionLost), rcon.IsTransport(err), errors.Is(err, rcon.ErrClosed):
		writeError(w, http.StatusBadGateway, err.Error())
	case errors.As(err, &cmdErr):
		writeError(w, http.StatusUnprocessableEntity, cmdErr.Message)
	case errors.As(err, &rotErr):
		writeError(w, http.StatusBadRequest, rotErr.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// parseID parses an ID from the URL path
func parseID(req *http.Request, param string) (int64, error) {
	idStr := req.PathValue(param)
	return strconv.ParseInt(idStr, 10, 64)
}

// ServerResponse is an instance with its connection state
type ServerResponse struct {
	domain.Instance
	Connected bool `json:"connected"`
}

func (r *Router) serverResponse(inst domain.Instance) ServerResponse {
	_, err := r.manager.Poller(inst.ID)
	return ServerResponse{Instance: inst, Connected: err == nil}
}

// handleGetServers returns all servers
func (r *Router) handleGetServers(w http.ResponseWriter, req *http.Request) {
	instances, err := r.store.ListInstances(req.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	servers := make([]ServerResponse, len(instances))
	for i, inst := range instances {
		servers[i] = r.serverResponse(inst)
	}
	writeJSON(w, http.StatusOK, servers)
}

// handleGetServer returns a single server
func (r *Router) handleGetServer(w http.ResponseWriter, req *http.Request) {
	id, _ := parseID(req, "id")
	inst, err := r.store.GetInstance(req.Context(), id)
	if err != nil {
		writeManagerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, r.serverResponse(*inst))
}

// CreateServerRequest is the request body for registering a server
type CreateServerRequest struct {
	Name         string `json:"name"`
	Address      string `json:"address"`
	Port         int    `json:"port"`
	QueryPort    int    `json:"query_port"`
	Password     string `json:"password"`
	OwnerID      int64  `json:"owner_id"`
	GuildID      int64  `json:"guild_id"`
	Game         string `json:"game"`
	DefaultPerms string `json:"default_perms"` // integer or permission names
}

// handleCreateServer verifies the credentials, stores the server and connects it
func (r *Router) handleCreateServer(w http.ResponseWriter, req *http.Request) {
	var body CreateServerRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.Name == "" || body.Address == "" || body.Password == "" || body.OwnerID == 0 {
		writeError(w, http.StatusBadRequest, "name, address, password and owner_id are required")
		return
	}
	if !validPort(body.Port) || (body.QueryPort != 0 && !validPort(body.QueryPort)) {
		writeError(w, http.StatusBadRequest, "invalid port")
		return
	}

	game := domain.GameSquad
	if body.Game != "" {
		var ok bool
		if game, ok = domain.ParseGame(body.Game); !ok {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown game %q", body.Game))
			return
		}
	}
	var perms domain.PermissionSet
	if body.DefaultPerms != "" {
		var err error
		if perms, err = domain.ParsePermissions(body.DefaultPerms); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	inst := &domain.Instance{
		Name:         body.Name,
		Address:      body.Address,
		Port:         body.Port,
		QueryPort:    body.QueryPort,
		Password:     body.Password,
		OwnerID:      body.OwnerID,
		GuildID:      body.GuildID,
		Game:         game,
		DefaultPerms: perms,
	}
	if err := r.manager.AddInstance(req.Context(), inst); err != nil {
		writeManagerError(w, err)
		return
	}
	r.log.Info("server added", "server_id", inst.ID, "name", inst.Name, "client", claimsFrom(req).ClientName)
	writeJSON(w, http.StatusCreated, r.serverResponse(*inst))
}

// UpdateServerRequest changes credentials or settings; omitted fields are kept
type UpdateServerRequest struct {
	Name         *string `json:"name"`
	Address      *string `json:"address"`
	Port         *int    `json:"port"`
	QueryPort    *int    `json:"query_port"`
	Password     *string `json:"password"`
	DefaultPerms *string `json:"default_perms"`
}

// handleUpdateServer saves new settings and reconnects a connected server
func (r *Router) handleUpdateServer(w http.ResponseWriter, req *http.Request) {
	id, _ := parseID(req, "id")
	var body UpdateServerRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	inst, err := r.store.GetInstance(req.Context(), id)
	if err != nil {
		writeManagerError(w, err)
		return
	}
	if body.Name != nil {
		inst.Name = *body.Name
	}
	if body.Address != nil {
		inst.Address = *body.Address
	}
	if body.Port != nil {
		if !validPort(*body.Port) {
			writeError(w, http.StatusBadRequest, "invalid port")
			return
		}
		inst.Port = *body.Port
	}
	if body.QueryPort != nil {
		if *body.QueryPort != 0 && !validPort(*body.QueryPort) {
			writeError(w, http.StatusBadRequest, "invalid query port")
			return
		}
		inst.QueryPort = *body.QueryPort
	}
	if body.Password != nil {
		inst.Password = *body.Password
	}
	if body.DefaultPerms != nil {
		perms, err := domain.ParsePermissions(*body.DefaultPerms)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		inst.DefaultPerms = perms
	}

	if err := r.store.UpdateInstance(req.Context(), inst); err != nil {
		writeManagerError(w, err)
		return
	}

	// the session still uses the old credentials
	if err := r.manager.Disconnect(id); err == nil {
		if err := r.manager.Connect(req.Context(), id); err != nil {
			r.log.Warn("reconnect after update failed", "server_id", id, "error", err)
		}
	}
	writeJSON(w, http.StatusOK, r.serverResponse(*inst))
}

// handleDeleteServer removes a server with all its data
func (r *Router) handleDeleteServer(w http.ResponseWriter, req *http.Request) {
	id, _ := parseID(req, "id")
	if err := r.manager.Delete(req.Context(), id); err != nil {
		writeManagerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "server deleted"})
}

func (r *Router) handleConnect(w http.ResponseWriter, req *http.Request) {
	id, _ := parseID(req, "id")
	if err := r.manager.Connect(req.Context(), id); err != nil {
		writeManagerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "connected"})
}

func (r *Router) handleDisconnect(w http.ResponseWriter, req *http.Request) {
	id, _ := parseID(req, "id")
	if err := r.manager.Disconnect(id); err != nil {
		writeManagerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "disconnected"})
}

// handleGetServerStatus returns the current status, refreshing a stale snapshot
func (r *Router) handleGetServerStatus(w http.ResponseWriter, req *http.Request) {
	id, _ := parseID(req, "id")
	status, err := r.manager.GetServerStatus(req.Context(), id)
	if err != nil {
		writeManagerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// handleGetServerPlayers returns current players and teams on a server
func (r *Router) handleGetServerPlayers(w http.ResponseWriter, req *http.Request) {
	id, _ := parseID(req, "id")
	status, err := r.manager.GetServerStatus(req.Context(), id)
	if err != nil {
		writeManagerError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"players": status.Players,
		"teams":   status.Teams,
		"total":   status.PlayerCount,
	})
}

// handleFindPlayer looks a player up by steam id, in-game id or name
func (r *Router) handleFindPlayer(w http.ResponseWriter, req *http.Request) {
	id, _ := parseID(req, "id")
	q := req.URL.Query().Get("q")
	if q == "" {
		writeError(w, http.StatusBadRequest, "q is required")
		return
	}
	p, err := r.manager.Poller(id)
	if err != nil {
		writeManagerError(w, err)
		return
	}
	player, err := p.FindPlayer(q)
	if err != nil {
		writeManagerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, player)
}

// handleGetLogs returns stored log entries, newest first
func (r *Router) handleGetLogs(w http.ResponseWriter, req *http.Request) {
	id, _ := parseID(req, "id")
	category := req.URL.Query().Get("category")
	if category != "" && !domain.IsLogCategory(category) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown category %q", category))
		return
	}

	filter := storage.LogFilter{
		Category: category,
		Limit:    parseLimit(req, 50, 500),
	}
	if before := parseBeforeID(req); before != nil {
		filter.BeforeID = *before
	}
	entries, err := r.store.ListLogs(req.Context(), id, filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// handleExportLogs streams every log entry as a gzip-compressed text file
func (r *Router) handleExportLogs(w http.ResponseWriter, req *http.Request) {
	id, _ := parseID(req, "id")
	if _, err := r.store.GetInstance(req.Context(), id); err != nil {
		writeManagerError(w, err)
		return
	}

	name := fmt.Sprintf("server-%d-logs-%s.txt", id, time.Now().UTC().Format("20060102"))
	w.Header().Set("Content-Type", "application/gzip")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.gz"`, name))

	gz, _ := gzip.NewWriterLevel(w, gzip.BestCompression)
	gz.Name = name
	n, err := r.store.ExportLogs(req.Context(), id, gz)
	if err != nil {
		// headers are already sent
		r.log.Error("log export failed", "server_id", id, "entries", n, "error", err)
	}
	if err := gz.Close(); err != nil {
		r.log.Warn("log export truncated", "server_id", id, "error", err)
	}
}

// handleGetConfig returns the server configuration
func (r *Router) handleGetConfig(w http.ResponseWriter, req *http.Request) {
	id, _ := parseID(req, "id")
	cfg, err := r.store.GetConfig(req.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// handleUpdateConfig sets configuration keys and applies them to the live session
func (r *Router) handleUpdateConfig(w http.ResponseWriter, req *http.Request) {
	id, _ := parseID(req, "id")
	var values map[string]string
	if err := json.NewDecoder(req.Body).Decode(&values); err != nil {
		writeError(w, http.StatusBadRequest, "body must be an object of string values")
		return
	}

	cfg, err := r.store.GetConfig(req.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	// nothing is written unless every key is valid
	for key, value := range values {
		if err := cfg.Set(key, value); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	if err := r.store.StoreConfig(req.Context(), id, cfg); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := r.manager.ReloadConfig(req.Context(), id); err != nil {
		r.log.Warn("failed to apply config", "server_id", id, "error", err)
	}
	writeJSON(w, http.StatusOK, cfg)
}

// RotationResponse describes the active custom rotation
type RotationResponse struct {
	Document  string         `json:"document"`
	Maps      []string       `json:"maps"`
	Cooldowns map[string]int `json:"cooldowns,omitempty"`
}

func (r *Router) handleGetRotation(w http.ResponseWriter, req *http.Request) {
	id, _ := parseID(req, "id")
	doc, err := r.store.GetRotation(req.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no custom rotation")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	rot, err := rotation.Parse(doc)
	if err != nil {
		writeManagerError(w, err)
		return
	}

	resp := RotationResponse{Document: string(doc), Maps: rot.Names()}
	if p, err := r.manager.Poller(id); err == nil {
		resp.Cooldowns = p.Cooldowns()
	}
	writeJSON(w, http.StatusOK, resp)
}

// handlePutRotation validates a YAML or JSON rotation document and activates it
func (r *Router) handlePutRotation(w http.ResponseWriter, req *http.Request) {
	id, _ := parseID(req, "id")
	doc, err := io.ReadAll(io.LimitReader(req.Body, maxRotationSize+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	if len(doc) > maxRotationSize {
		writeError(w, http.StatusRequestEntityTooLarge, "rotation document too large")
		return
	}

	rot, err := r.manager.SetRotation(req.Context(), id, doc)
	if err != nil {
		writeManagerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, RotationResponse{Document: string(doc), Maps: rot.Names()})
}

func (r *Router) handleDeleteRotation(w http.ResponseWriter, req *http.Request) {
	id, _ := parseID(req, "id")
	if err := r.manager.ClearRotation(req.Context(), id); err != nil {
		writeManagerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "custom rotation disabled"})
}

// PermissionsResponse is a resolved permission set
type PermissionsResponse struct {
	Perms int64    `json:"perms"`
	Names []string `json:"names"`
}

// handleResolvePermissions resolves the permissions of the user named in the
// query (user_id, guild_id, role_ids)
func (r *Router) handleResolvePermissions(w http.ResponseWriter, req *http.Request) {
	id, err := parseID(req, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid server id")
		return
	}
	q := req.URL.Query()
	userID, err := strconv.ParseInt(q.Get("user_id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	var guildID int64
	if g := q.Get("guild_id"); g != "" {
		if guildID, err = strconv.ParseInt(g, 10, 64); err != nil {
			writeError(w, http.StatusBadRequest, "invalid guild_id")
			return
		}
	}
	roles, err := parseIDList(q.Get("role_ids"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid role_ids")
		return
	}

	perms, err := r.manager.Permissions(req.Context(), id, guildID, userID, roles)
	if err != nil {
		writeManagerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, PermissionsResponse{Perms: perms.Int(), Names: perms.Names()})
}

func (r *Router) handleListGrants(w http.ResponseWriter, req *http.Request) {
	id, _ := parseID(req, "id")
	grants, err := r.store.ListPermissionGrants(req.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if grants == nil {
		grants = []domain.PermissionGrant{}
	}
	writeJSON(w, http.StatusOK, grants)
}

// GrantRequest is the request body for setting a user or role grant
type GrantRequest struct {
	Type  string `json:"type"`  // user or role
	Perms string `json:"perms"` // integer or permission names; empty removes the grant
}

func (r *Router) handleSetGrant(w http.ResponseWriter, req *http.Request) {
	id, _ := parseID(req, "id")
	target, err := parseID(req, "target")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid target id")
		return
	}
	var body GrantRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.Type == "" {
		body.Type = domain.GrantUser
	}
	if !validGrantType(body.Type) {
		writeError(w, http.StatusBadRequest, "type must be user or role")
		return
	}
	perms, err := domain.ParsePermissions(body.Perms)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	grant := domain.PermissionGrant{ServerID: id, TargetID: target, Type: body.Type, Perms: perms}
	if err := r.store.SetPermissions(req.Context(), grant); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, grant)
}

func (r *Router) handleDeleteGrant(w http.ResponseWriter, req *http.Request) {
	id, _ := parseID(req, "id")
	target, err := parseID(req, "target")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid target id")
		return
	}
	grantType := req.URL.Query().Get("type")
	if grantType == "" {
		grantType = domain.GrantUser
	}
	if !validGrantType(grantType) {
		writeError(w, http.StatusBadRequest, "type must be user or role")
		return
	}
	if err := r.store.DeletePermissions(req.Context(), id, target, grantType); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "grant removed"})
}

// handleGetSelection returns the server the user in the actor headers works on
func (r *Router) handleGetSelection(w http.ResponseWriter, req *http.Request) {
	actor, err := parseActor(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if actor.UserID == 0 {
		writeError(w, http.StatusBadRequest, headerUser+" header required")
		return
	}
	id, err := r.manager.SelectedServer(req.Context(), actor.UserID, actor.GuildID, actor.RoleIDs)
	if err != nil {
		writeManagerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"server_id": id})
}

func (r *Router) handlePutSelection(w http.ResponseWriter, req *http.Request) {
	actor, err := parseActor(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if actor.UserID == 0 {
		writeError(w, http.StatusBadRequest, headerUser+" header required")
		return
	}
	var body struct {
		ServerID int64 `json:"server_id"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := r.manager.Select(req.Context(), actor.UserID, body.ServerID); err != nil {
		writeManagerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"server_id": body.ServerID})
}

// handleHealth returns server health status
func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"connected": len(r.manager.ServerIDs()),
		"ws":        r.wsHub.ClientCount(),
		"log_ws":    r.logStream.ClientCount(),
	})
}
