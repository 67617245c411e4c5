package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// Per-server configuration keys
const (
	ConfigGuildID                  = "guild_id"
	ConfigChatTriggerWords         = "chat_trigger_words"
	ConfigChatTriggerChannelID     = "chat_trigger_channel_id"
	ConfigChatTriggerMentions      = "chat_trigger_mentions"
	ConfigChatTriggerConfirmation  = "chat_trigger_confirmation"
	ConfigChatTriggerCooldown      = "chat_trigger_cooldown"
	ConfigChatTriggerRequireReason = "chat_trigger_require_reason"
	ConfigChannelLogChat           = "channel_log_chat"
	ConfigChannelLogJoins          = "channel_log_joins"
	ConfigChannelLogMatch          = "channel_log_match"
	ConfigChannelLogRcon           = "channel_log_rcon"
	ConfigChannelLogTeamkills      = "channel_log_teamkills"
)

// ConfigKeys lists every key in storage order
var ConfigKeys = []string{
	ConfigGuildID,
	ConfigChatTriggerWords,
	ConfigChatTriggerChannelID,
	ConfigChatTriggerMentions,
	ConfigChatTriggerConfirmation,
	ConfigChatTriggerCooldown,
	ConfigChatTriggerRequireReason,
	ConfigChannelLogChat,
	ConfigChannelLogJoins,
	ConfigChannelLogMatch,
	ConfigChannelLogRcon,
	ConfigChannelLogTeamkills,
}

// InstanceConfig holds the chat trigger and log channel settings of a server
type InstanceConfig struct {
	GuildID              int64  `json:"guild_id"`
	ChatTriggerWords     string `json:"chat_trigger_words"`
	ChatTriggerChannelID int64  `json:"chat_trigger_channel_id"`
	ChatTriggerMentions  string `json:"chat_trigger_mentions"`
	// whispered back to the reporting player when set
	ChatTriggerConfirmation  string `json:"chat_trigger_confirmation"`
	ChatTriggerCooldown      int    `json:"chat_trigger_cooldown"` // seconds
	ChatTriggerRequireReason bool   `json:"chat_trigger_require_reason"`

	ChannelLogChat      int64 `json:"channel_log_chat"`
	ChannelLogJoins     int64 `json:"channel_log_joins"`
	ChannelLogMatch     int64 `json:"channel_log_match"`
	ChannelLogRcon      int64 `json:"channel_log_rcon"`
	ChannelLogTeamkills int64 `json:"channel_log_teamkills"`
}

// DefaultInstanceConfig is the configuration a new server starts with
func DefaultInstanceConfig() InstanceConfig {
	return InstanceConfig{ChatTriggerWords: "!admin"}
}

// TriggerWords splits the comma separated trigger list
func (c InstanceConfig) TriggerWords() []string {
	var words []string
	for _, w := range strings.Split(c.ChatTriggerWords, ",") {
		if w = strings.TrimSpace(w); w != "" {
			words = append(words, w)
		}
	}
	return words
}

// Values renders the configuration as key/value strings
func (c InstanceConfig) Values() map[string]string {
	i64 := func(v int64) string { return strconv.FormatInt(v, 10) }
	return map[string]string{
		ConfigGuildID:                  i64(c.GuildID),
		ConfigChatTriggerWords:         c.ChatTriggerWords,
		ConfigChatTriggerChannelID:     i64(c.ChatTriggerChannelID),
		ConfigChatTriggerMentions:      c.ChatTriggerMentions,
		ConfigChatTriggerConfirmation:  c.ChatTriggerConfirmation,
		ConfigChatTriggerCooldown:      strconv.Itoa(c.ChatTriggerCooldown),
		ConfigChatTriggerRequireReason: strconv.FormatBool(c.ChatTriggerRequireReason),
		ConfigChannelLogChat:           i64(c.ChannelLogChat),
		ConfigChannelLogJoins:          i64(c.ChannelLogJoins),
		ConfigChannelLogMatch:          i64(c.ChannelLogMatch),
		ConfigChannelLogRcon:           i64(c.ChannelLogRcon),
		ConfigChannelLogTeamkills:      i64(c.ChannelLogTeamkills),
	}
}

// Set parses value into the field named by key
func (c *InstanceConfig) Set(key, value string) error {
	value = strings.TrimSpace(value)
	parseID := func(dst *int64) error {
		if value == "" {
			*dst = 0
			return nil
		}
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("%s: expected an integer, got %q", key, value)
		}
		*dst = n
		return nil
	}

	switch key {
	case ConfigGuildID:
		return parseID(&c.GuildID)
	case ConfigChatTriggerWords:
		c.ChatTriggerWords = value
	case ConfigChatTriggerChannelID:
		return parseID(&c.ChatTriggerChannelID)
	case ConfigChatTriggerMentions:
		c.ChatTriggerMentions = value
	case ConfigChatTriggerConfirmation:
		c.ChatTriggerConfirmation = value
	case ConfigChatTriggerCooldown:
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			return fmt.Errorf("%s: expected a non-negative number of seconds, got %q", key, value)
		}
		c.ChatTriggerCooldown = n
	case ConfigChatTriggerRequireReason:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("%s: expected a boolean, got %q", key, value)
		}
		c.ChatTriggerRequireReason = b
	case ConfigChannelLogChat:
		return parseID(&c.ChannelLogChat)
	case ConfigChannelLogJoins:
		return parseID(&c.ChannelLogJoins)
	case ConfigChannelLogMatch:
		return parseID(&c.ChannelLogMatch)
	case ConfigChannelLogRcon:
		return parseID(&c.ChannelLogRcon)
	case ConfigChannelLogTeamkills:
		return parseID(&c.ChannelLogTeamkills)
	default:
		return fmt.Errorf("unknown config key %q", key)
	}
	return nil
}
