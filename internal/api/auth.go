package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/ernie/warden/internal/auth"
	"github.com/ernie/warden/internal/domain"
)

// A chat front end acts for its users; these headers name the user whose
// permissions apply to a request.
const (
	headerUser  = "X-Warden-User"
	headerGuild = "X-Warden-Guild"
	headerRoles = "X-Warden-Roles" // comma separated role ids
)

type ctxKey int

const (
	claimsKey ctxKey = iota
	actorKey
)

// Actor is the chat user a request is made for
type Actor struct {
	UserID  int64
	GuildID int64
	RoleIDs []int64
	Perms   domain.PermissionSet
	Client  string
}

// Name identifies the actor in the rcon log
func (a *Actor) Name() string {
	if a.UserID == 0 {
		return a.Client
	}
	return fmt.Sprintf("%s (user %d)", a.Client, a.UserID)
}

// LoginRequest is the request body for login
type LoginRequest struct {
	Name   string `json:"name"`
	Secret string `json:"secret"`
}

// LoginResponse is the response body for successful login
type LoginResponse struct {
	Token   string `json:"token"`
	Name    string `json:"name"`
	IsAdmin bool   `json:"is_admin"`
}

// handleLogin authenticates an API client and returns a JWT token
func (r *Router) handleLogin(w http.ResponseWriter, req *http.Request) {
	var login LoginRequest
	if err := json.NewDecoder(req.Body).Decode(&login); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if login.Name == "" || login.Secret == "" {
		writeError(w, http.StatusBadRequest, "name and secret are required")
		return
	}

	client, err := r.store.GetClientByName(req.Context(), login.Name)
	if err != nil || !auth.CheckSecret(login.Secret, client.SecretHash) {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, err := r.auth.GenerateToken(client.ID, client.Name, client.IsAdmin)
	if err != nil {
		r.log.Error("failed to generate token", "client", client.Name, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to generate token")
		return
	}

	if err := r.store.UpdateClientLastLogin(req.Context(), client.ID); err != nil {
		r.log.Warn("failed to record login", "client", client.Name, "error", err)
	}

	writeJSON(w, http.StatusOK, LoginResponse{
		Token:   token,
		Name:    client.Name,
		IsAdmin: client.IsAdmin,
	})
}

// handleAuthCheck checks if the current token is valid
func (r *Router) handleAuthCheck(w http.ResponseWriter, req *http.Request) {
	claims := r.getAuthClaims(req)
	if claims == nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"authenticated": false,
		})
		return
	}

	// tokens outlive deleted clients
	client, err := r.store.GetClientByID(req.Context(), claims.ClientID)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"authenticated": false,
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"authenticated": true,
		"name":          client.Name,
		"is_admin":      client.IsAdmin,
		"last_login":    client.LastLogin,
	})
}

// requireAuth is middleware that validates JWT before calling the handler
func (r *Router) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		claims := r.getAuthClaims(req)
		if claims == nil {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		next(w, req.WithContext(context.WithValue(req.Context(), claimsKey, claims)))
	}
}

// requireAdmin is middleware that validates JWT and checks admin status
func (r *Router) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return r.requireAuth(func(w http.ResponseWriter, req *http.Request) {
		if !claimsFrom(req).IsAdmin {
			writeError(w, http.StatusForbidden, "admin access required")
			return
		}
		next(w, req)
	})
}

// requirePerm resolves the actor's permissions on the server in the path and
// rejects the request unless they include perm. A zero perm only resolves.
// Admin clients calling without a user header hold every permission.
func (r *Router) requirePerm(perm domain.Permission, next http.HandlerFunc) http.HandlerFunc {
	return r.requireAuth(func(w http.ResponseWriter, req *http.Request) {
		serverID, err := parseID(req, "id")
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid server id")
			return
		}

		claims := claimsFrom(req)
		actor, err := parseActor(req)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		actor.Client = claims.ClientName

		switch {
		case actor.UserID == 0 && claims.IsAdmin:
			actor.Perms = domain.AllPermissions
		case actor.UserID == 0:
			writeError(w, http.StatusForbidden, headerUser+" header required")
			return
		default:
			actor.Perms, err = r.manager.Permissions(req.Context(), serverID, actor.GuildID, actor.UserID, actor.RoleIDs)
			if err != nil {
				writeManagerError(w, err)
				return
			}
		}

		if perm != 0 && !actor.Perms.Has(perm) {
			writeError(w, http.StatusForbidden, fmt.Sprintf("missing permission %s", perm))
			return
		}
		next(w, req.WithContext(context.WithValue(req.Context(), actorKey, actor)))
	})
}

// parseActor reads the acting user from the request headers
func parseActor(req *http.Request) (*Actor, error) {
	a := &Actor{}
	var err error
	if v := req.Header.Get(headerUser); v != "" {
		if a.UserID, err = strconv.ParseInt(v, 10, 64); err != nil {
			return nil, fmt.Errorf("invalid %s header", headerUser)
		}
	}
	if v := req.Header.Get(headerGuild); v != "" {
		if a.GuildID, err = strconv.ParseInt(v, 10, 64); err != nil {
			return nil, fmt.Errorf("invalid %s header", headerGuild)
		}
	}
	if v := req.Header.Get(headerRoles); v != "" {
		if a.RoleIDs, err = parseIDList(v); err != nil {
			return nil, fmt.Errorf("invalid %s header", headerRoles)
		}
	}
	return a, nil
}

func claimsFrom(req *http.Request) *auth.Claims {
	claims, _ := req.Context().Value(claimsKey).(*auth.Claims)
	return claims
}

func actorFrom(req *http.Request) *Actor {
	actor, _ := req.Context().Value(actorKey).(*Actor)
	return actor
}

// getAuthClaims extracts and validates JWT from Authorization header
func (r *Router) getAuthClaims(req *http.Request) *auth.Claims {
	authHeader := req.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return nil
	}

	token := strings.TrimPrefix(authHeader, "Bearer ")
	claims, err := r.auth.ValidateToken(token)
	if err != nil {
		return nil
	}

	return claims
}
