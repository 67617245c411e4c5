package domain

import (
	"fmt"
	"strings"
	"time"
)

// Log categories
const (
	LogJoins     = "joins"
	LogMatch     = "match"
	LogChat      = "chat"
	LogRCON      = "rcon"
	LogTeamkills = "teamkills"
	LogTrigger   = "trigger"
)

// LogCategories lists every category in display order
var LogCategories = []string{LogJoins, LogMatch, LogChat, LogRCON, LogTeamkills, LogTrigger}

// IsLogCategory reports whether c names a known category
func IsLogCategory(c string) bool {
	for _, known := range LogCategories {
		if c == known {
			return true
		}
	}
	return false
}

// LogEntry is one line of a server's activity log. IDs increase per server.
type LogEntry struct {
	ServerID  int64     `json:"server_id"`
	ID        int64     `json:"id"`
	Category  string    `json:"category"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Format renders the entry as "[dd-mm] [HH:MM] [CATEGORY] message"
func (e LogEntry) Format() string {
	return fmt.Sprintf("[%s] [%s] [%s] %s",
		e.Timestamp.Format("02-01"),
		e.Timestamp.Format("15:04"),
		strings.ToUpper(e.Category),
		e.Message)
}
