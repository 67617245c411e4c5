package rcon

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// Executor sends one raw command and returns the server's response text
type Executor interface {
	Execute(ctx context.Context, command string) (string, error)
}

const errorPrefix = "ERROR: "

// Client wraps an Executor with typed admin commands
type Client struct {
	exec Executor
}

// NewClient returns a Client sending its commands through exec
func NewClient(exec Executor) *Client {
	return &Client{exec: exec}
}

// Raw runs command verbatim. A response that starts with the server's error
// marker is returned as a *CommandError; an empty response is not an error.
func (c *Client) Raw(ctx context.Context, command string) (string, error) {
	res, err := c.exec.Execute(ctx, command)
	if err != nil {
		return "", err
	}
	res = strings.ToValidUTF8(strings.Trim(res, "\x00\x01"), "")
	if msg, ok := strings.CutPrefix(res, errorPrefix); ok {
		return "", &CommandError{Command: command, Message: strings.TrimSpace(msg)}
	}
	return res, nil
}

func (c *Client) run(ctx context.Context, format string, args ...any) (string, error) {
	return c.Raw(ctx, strings.TrimSpace(fmt.Sprintf(format, args...)))
}

// Players

func (c *Client) ListPlayers(ctx context.Context) (string, error) {
	return c.Raw(ctx, "ListPlayers")
}

func (c *Client) ListDisconnectedPlayers(ctx context.Context) (string, error) {
	return c.Raw(ctx, "AdminListDisconnectedPlayers")
}

func (c *Client) ListSquads(ctx context.Context) (string, error) {
	return c.Raw(ctx, "ListSquads")
}

// Maps

// ShowNextMap returns "Current map is X, Next map is Y" on legacy builds and
// "Next level is X, layer is Y" on newer ones.
func (c *Client) ShowNextMap(ctx context.Context) (string, error) {
	return c.Raw(ctx, "ShowNextMap")
}

func (c *Client) ShowCurrentMap(ctx context.Context) (string, error) {
	return c.Raw(ctx, "ShowCurrentMap")
}

func (c *Client) ChangeMap(ctx context.Context, name string) (string, error) {
	return c.run(ctx, "AdminChangeMap %s", name)
}

func (c *Client) ChangeLayer(ctx context.Context, name string) (string, error) {
	return c.run(ctx, "AdminChangeLayer %s", name)
}

func (c *Client) SetNextMap(ctx context.Context, name string) (string, error) {
	return c.run(ctx, "AdminSetNextMap %s", name)
}

func (c *Client) SetNextLayer(ctx context.Context, name string) (string, error) {
	return c.run(ctx, "AdminSetNextLayer %s", name)
}

func (c *Client) RestartMatch(ctx context.Context) (string, error) {
	return c.Raw(ctx, "AdminRestartMatch")
}

func (c *Client) EndMatch(ctx context.Context) (string, error) {
	return c.Raw(ctx, "AdminEndMatch")
}

// Moderation. Target is a player name or 17-digit steam id; the ById variants
// take the in-game session id.

func (c *Client) Warn(ctx context.Context, target, reason string) (string, error) {
	return c.run(ctx, "AdminWarn %s %s", quoteTarget(target), reason)
}

func (c *Client) WarnByID(ctx context.Context, playerID int, reason string) (string, error) {
	return c.run(ctx, "AdminWarnById %d %s", playerID, reason)
}

func (c *Client) Kick(ctx context.Context, target, reason string) (string, error) {
	return c.run(ctx, "AdminKick %s %s", quoteTarget(target), reason)
}

func (c *Client) KickByID(ctx context.Context, playerID int, reason string) (string, error) {
	return c.run(ctx, "AdminKickById %d %s", playerID, reason)
}

// Ban takes a length such as "1d", "2h" or "0" for permanent
func (c *Client) Ban(ctx context.Context, target, length, reason string) (string, error) {
	return c.run(ctx, "AdminBan %s %s %s", quoteTarget(target), length, reason)
}

func (c *Client) BanByID(ctx context.Context, playerID int, length, reason string) (string, error) {
	return c.run(ctx, "AdminBanById %d %s %s", playerID, length, reason)
}

func (c *Client) Broadcast(ctx context.Context, message string) (string, error) {
	return c.run(ctx, "AdminBroadcast %s", message)
}

// Teams

func (c *Client) DemoteCommander(ctx context.Context, target string) (string, error) {
	return c.run(ctx, "AdminDemoteCommander %s", quoteTarget(target))
}

func (c *Client) DemoteCommanderByID(ctx context.Context, playerID int) (string, error) {
	return c.run(ctx, "AdminDemoteCommanderById %d", playerID)
}

func (c *Client) RemoveFromSquad(ctx context.Context, target string) (string, error) {
	return c.run(ctx, "AdminRemovePlayerFromSquad %s", quoteTarget(target))
}

func (c *Client) RemoveFromSquadByID(ctx context.Context, playerID int) (string, error) {
	return c.run(ctx, "AdminRemovePlayerFromSquadById %d", playerID)
}

func (c *Client) ForceTeamChange(ctx context.Context, target string) (string, error) {
	return c.run(ctx, "AdminForceTeamChange %s", quoteTarget(target))
}

func (c *Client) ForceTeamChangeByID(ctx context.Context, playerID int) (string, error) {
	return c.run(ctx, "AdminForceTeamChangeById %d", playerID)
}

func (c *Client) DisbandSquad(ctx context.Context, teamID, squadID int) (string, error) {
	if teamID != 1 && teamID != 2 {
		return "", fmt.Errorf("invalid team id %d", teamID)
	}
	return c.run(ctx, "AdminDisbandSquad %d %d", teamID, squadID)
}

// Administration

func (c *Client) SetPassword(ctx context.Context, password string) (string, error) {
	return c.run(ctx, "AdminSetServerPassword %s", password)
}

func (c *Client) SetMaxPlayers(ctx context.Context, limit int) (string, error) {
	if limit < 0 {
		return "", fmt.Errorf("invalid player limit %d", limit)
	}
	return c.run(ctx, "AdminSetMaxNumPlayers %d", limit)
}

// SetClockSpeed sets the slow-motion percentage; 100 is normal speed
func (c *Client) SetClockSpeed(ctx context.Context, percent int) (string, error) {
	if percent <= 0 {
		return "", fmt.Errorf("invalid clock speed %d%%", percent)
	}
	return c.run(ctx, "AdminSlomo %s", strconv.FormatFloat(float64(percent)/100, 'f', -1, 64))
}

// quoteTarget wraps names containing spaces so the server reads them as one argument
func quoteTarget(target string) string {
	if strings.ContainsAny(target, " \t") && !strings.HasPrefix(target, `"`) {
		return `"` + target + `"`
	}
	return target
}
