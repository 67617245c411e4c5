package domain

import "time"

// Event types for WebSocket and NATS notifications
const (
	EventPlayerJoin     = "player_join"
	EventPlayerLeave    = "player_leave"
	EventMapChange      = "map_change"
	EventNextMap        = "next_map"
	EventChat           = "chat"
	EventChatTrigger    = "chat_trigger"
	EventServerUpdate   = "server_update"
	EventConnectionLost = "connection_lost"
)

// Event represents a real-time event for WebSocket broadcast
type Event struct {
	ID        string    `json:"id"`
	Type      string    `json:"event"`
	ServerID  int64     `json:"server_id"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
}

// PlayerJoinEvent is sent when a player connects
type PlayerJoinEvent struct {
	Player OnlinePlayer `json:"player"`
}

// PlayerLeaveEvent is sent when a player disconnects
type PlayerLeaveEvent struct {
	Player        OnlinePlayer `json:"player"`
	OnlineMinutes int          `json:"online_minutes"`
}

// MapChangeEvent is sent when a new match starts on a different map
type MapChangeEvent struct {
	PreviousMap string `json:"previous_map"`
	Map         string `json:"map"`
	// MatchMinutes is nil when the previous change time is unknown
	MatchMinutes *int `json:"match_minutes,omitempty"`
}

// NextMapEvent is sent when the rotation queues a new next map
type NextMapEvent struct {
	Map    string `json:"map"`
	Reason string `json:"reason"`
}

// ChatEvent is sent for every player chat line
type ChatEvent struct {
	Channel string `json:"channel"`
	SteamID int64  `json:"steam_id"`
	Name    string `json:"name"`
	Message string `json:"message"`
}

// ChatTriggerEvent is sent when a player uses a configured trigger word
type ChatTriggerEvent struct {
	ChatEvent
	Trigger   string `json:"trigger"`
	Mentions  string `json:"mentions,omitempty"`
	ChannelID int64  `json:"channel_id,omitempty"`
}

// ConnectionLostEvent is sent when a refresh fails; Dropped is set once the
// session has been removed from the registry.
type ConnectionLostEvent struct {
	Error   string `json:"error"`
	Dropped bool   `json:"dropped"`
}
