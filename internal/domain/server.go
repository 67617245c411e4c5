package domain

import (
	"net"
	"strconv"
	"strings"
	"time"
)

// Game is the title a server runs
type Game string

const (
	GameSquad Game = "squad"
	GamePS    Game = "ps"
	GameBTW   Game = "btw"
)

// ParseGame validates a game name
func ParseGame(s string) (Game, bool) {
	switch g := Game(strings.ToLower(strings.TrimSpace(s))); g {
	case GameSquad, GamePS, GameBTW:
		return g, true
	}
	return "", false
}

// Instance is a managed game server and its RCON credentials
type Instance struct {
	ID                 int64         `json:"id"`
	Name               string        `json:"name"`
	Address            string        `json:"address"`
	Port               int           `json:"port"`
	QueryPort          int           `json:"query_port,omitempty"`
	Password           string        `json:"-"`
	OwnerID            int64         `json:"owner_id"`
	GuildID            int64         `json:"guild_id,omitempty"`
	Game               Game          `json:"game"`
	DefaultPerms       PermissionSet `json:"default_perms"`
	UsesCustomRotation bool          `json:"uses_custom_rotation"`
	CreatedAt          time.Time     `json:"created_at"`
}

// RCONAddr returns host:port of the RCON listener
func (i *Instance) RCONAddr() string {
	return net.JoinHostPort(i.Address, strconv.Itoa(i.Port))
}

// QueryAddr returns host:port of the A2S listener, or "" when none is set
func (i *Instance) QueryAddr() string {
	if i.QueryPort == 0 {
		return ""
	}
	return net.JoinHostPort(i.Address, strconv.Itoa(i.QueryPort))
}

// ServerStatus is a read-only copy of a poller's snapshot
type ServerStatus struct {
	ServerID      int64          `json:"server_id"`
	Name          string         `json:"name"`
	Game          Game           `json:"game"`
	Online        bool           `json:"online"`
	CurrentMap    string         `json:"current_map"`
	NextMap       string         `json:"next_map"`
	LastMapChange *time.Time     `json:"last_map_change,omitempty"`
	Transitioning bool           `json:"transitioning"`
	PlayerCount   int            `json:"player_count"`
	MaxPlayers    int            `json:"max_players,omitempty"`
	Players       []OnlinePlayer `json:"players"`
	Teams         []*Team        `json:"teams"`
	LastUpdated   time.Time      `json:"last_updated"`
}
