package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/ernie/warden/internal/collector"
	"github.com/ernie/warden/internal/domain"
	"github.com/ernie/warden/internal/rcon"
)

// RconRequest is the request body for RCON commands
type RconRequest struct {
	Command string `json:"command"`
}

// RconResponse is the response body for RCON commands
type RconResponse struct {
	Output string               `json:"output"`
	Player *domain.OnlinePlayer `json:"player,omitempty"`
}

// handleRconCommand executes a raw RCON command on a server
func (r *Router) handleRconCommand(w http.ResponseWriter, req *http.Request) {
	serverID, _ := parseID(req, "id")

	var rconReq RconRequest
	if err := json.NewDecoder(req.Body).Decode(&rconReq); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if rconReq.Command == "" {
		writeError(w, http.StatusBadRequest, "command is required")
		return
	}

	output, err := r.manager.ExecuteRcon(req.Context(), serverID, actorFrom(req).Name(), rconReq.Command)
	if err != nil {
		writeManagerError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, RconResponse{Output: output})
}

// CommandRequest carries the arguments of a typed command; each command
// reads the fields it needs
type CommandRequest struct {
	Target  string `json:"target"` // steam id, in-game id or name
	Reason  string `json:"reason"`
	Length  string `json:"length"`
	Map     string `json:"map"`
	Message string `json:"message"`
	Team    int    `json:"team"`
	Squad   int    `json:"squad"`
	Value   int    `json:"value"`
}

type commandCall struct {
	client *rcon.Client
	poller *collector.Poller
	args   CommandRequest
	player *domain.OnlinePlayer
}

type commandSpec struct {
	perm      domain.Permission
	needsUser bool // resolve args.Target to an online player first
	run       func(ctx context.Context, c *commandCall) (string, error)
}

var errBadArgs = errors.New("invalid arguments")

func requireField(value, name string) error {
	if value == "" {
		return fmt.Errorf("%w: %s is required", errBadArgs, name)
	}
	return nil
}

func steamTarget(p *domain.OnlinePlayer) string {
	return strconv.FormatInt(p.Key(), 10)
}

var commands = map[string]commandSpec{
	"broadcast": {perm: domain.PermMessage, run: func(ctx context.Context, c *commandCall) (string, error) {
		if err := requireField(c.args.Message, "message"); err != nil {
			return "", err
		}
		return c.client.Broadcast(ctx, c.args.Message)
	}},
	"warn": {perm: domain.PermMessage, needsUser: true, run: func(ctx context.Context, c *commandCall) (string, error) {
		if err := requireField(c.args.Message, "message"); err != nil {
			return "", err
		}
		return c.client.Warn(ctx, steamTarget(c.player), c.args.Message)
	}},
	"kick": {perm: domain.PermKick, needsUser: true, run: func(ctx context.Context, c *commandCall) (string, error) {
		out, err := c.client.Kick(ctx, steamTarget(c.player), c.args.Reason)
		if err == nil {
			c.poller.DisconnectPlayer(ctx, c.player.Key())
		}
		return out, err
	}},
	"ban": {perm: domain.PermBan, needsUser: true, run: func(ctx context.Context, c *commandCall) (string, error) {
		if !validBanLength(c.args.Length) {
			return "", fmt.Errorf("%w: length must be a day count, 0 or perm", errBadArgs)
		}
		out, err := c.client.Ban(ctx, steamTarget(c.player), c.args.Length, c.args.Reason)
		if err == nil {
			c.poller.DisconnectPlayer(ctx, c.player.Key())
		}
		return out, err
	}},
	"change_map": {perm: domain.PermChangeMap, run: func(ctx context.Context, c *commandCall) (string, error) {
		if err := requireField(c.args.Map, "map"); err != nil {
			return "", err
		}
		return c.client.ChangeMap(ctx, c.args.Map)
	}},
	"change_layer": {perm: domain.PermChangeMap, run: func(ctx context.Context, c *commandCall) (string, error) {
		if err := requireField(c.args.Map, "map"); err != nil {
			return "", err
		}
		return c.client.ChangeLayer(ctx, c.args.Map)
	}},
	"set_next_map": {perm: domain.PermChangeMap, run: func(ctx context.Context, c *commandCall) (string, error) {
		if err := requireField(c.args.Map, "map"); err != nil {
			return "", err
		}
		return c.client.SetNextMap(ctx, c.args.Map)
	}},
	"set_next_layer": {perm: domain.PermChangeMap, run: func(ctx context.Context, c *commandCall) (string, error) {
		if err := requireField(c.args.Map, "map"); err != nil {
			return "", err
		}
		return c.client.SetNextLayer(ctx, c.args.Map)
	}},
	"restart_match": {perm: domain.PermChangeMap, run: func(ctx context.Context, c *commandCall) (string, error) {
		return c.client.RestartMatch(ctx)
	}},
	"end_match": {perm: domain.PermChangeMap, run: func(ctx context.Context, c *commandCall) (string, error) {
		return c.client.EndMatch(ctx)
	}},
	"force_team_change": {perm: domain.PermTeamChange, needsUser: true, run: func(ctx context.Context, c *commandCall) (string, error) {
		return c.client.ForceTeamChangeByID(ctx, c.player.PlayerID)
	}},
	"remove_from_squad": {perm: domain.PermDisband, needsUser: true, run: func(ctx context.Context, c *commandCall) (string, error) {
		return c.client.RemoveFromSquadByID(ctx, c.player.PlayerID)
	}},
	"demote_commander": {perm: domain.PermDisband, needsUser: true, run: func(ctx context.Context, c *commandCall) (string, error) {
		return c.client.DemoteCommanderByID(ctx, c.player.PlayerID)
	}},
	"disband_squad": {perm: domain.PermDisband, run: func(ctx context.Context, c *commandCall) (string, error) {
		if c.args.Team < 1 || c.args.Squad < 1 {
			return "", fmt.Errorf("%w: team and squad are required", errBadArgs)
		}
		return c.client.DisbandSquad(ctx, c.args.Team, c.args.Squad)
	}},
	"set_password": {perm: domain.PermPassword, run: func(ctx context.Context, c *commandCall) (string, error) {
		// an empty password opens the server
		return c.client.SetPassword(ctx, c.args.Message)
	}},
	"set_max_players": {perm: domain.PermConfig, run: func(ctx context.Context, c *commandCall) (string, error) {
		if c.args.Value < 1 {
			return "", fmt.Errorf("%w: value must be positive", errBadArgs)
		}
		return c.client.SetMaxPlayers(ctx, c.args.Value)
	}},
	"slomo": {perm: domain.PermCheat, run: func(ctx context.Context, c *commandCall) (string, error) {
		if c.args.Value < 1 {
			return "", fmt.Errorf("%w: value must be a positive percentage", errBadArgs)
		}
		return c.client.SetClockSpeed(ctx, c.args.Value)
	}},
	"list_disconnected": {perm: domain.PermPlayers, run: func(ctx context.Context, c *commandCall) (string, error) {
		return c.client.ListDisconnectedPlayers(ctx)
	}},
}

// handleCommand runs one of the typed commands, checking the permission that
// command needs
func (r *Router) handleCommand(w http.ResponseWriter, req *http.Request) {
	serverID, _ := parseID(req, "id")
	name := req.PathValue("name")
	command, ok := commands[name]
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown command %q", name))
		return
	}
	actor := actorFrom(req)
	if !actor.Perms.Has(command.perm) {
		writeError(w, http.StatusForbidden, fmt.Sprintf("missing permission %s", command.perm))
		return
	}

	cc := &commandCall{}
	// commands without arguments may omit the body
	if err := json.NewDecoder(req.Body).Decode(&cc.args); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	p, err := r.manager.Poller(serverID)
	if err != nil {
		writeManagerError(w, err)
		return
	}
	cc.poller = p
	cc.client = p.Client()

	if command.needsUser {
		if cc.args.Target == "" {
			writeError(w, http.StatusBadRequest, "target is required")
			return
		}
		player, err := p.FindPlayer(cc.args.Target)
		if err != nil {
			writeManagerError(w, err)
			return
		}
		cc.player = &player
	}

	output, err := command.run(req.Context(), cc)
	if err != nil {
		if errors.Is(err, errBadArgs) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeManagerError(w, err)
		return
	}

	entry := fmt.Sprintf("%s used %s", actor.Name(), name)
	if cc.player != nil {
		entry += fmt.Sprintf(" on %s (%d)", cc.player.Name, cc.player.Key())
	}
	if err := r.store.AddLogs(req.Context(), serverID, domain.LogRCON, entry); err != nil {
		r.log.Warn("failed to log command", "server_id", serverID, "error", err)
	}

	writeJSON(w, http.StatusOK, RconResponse{Output: output, Player: cc.player})
}
