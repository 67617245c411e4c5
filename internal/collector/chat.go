package collector

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/ernie/warden/internal/domain"
)

// Chat stream channel names as the server prints them
const (
	chatAll   = "ChatAll"
	chatTeam  = "ChatTeam"
	chatSquad = "ChatSquad"
	chatAdmin = "ChatAdmin"
)

// chatChannel renders the log channel of a chat line: "All", the faction
// short code for team chat, "<faction>/Squad<n>" for squad chat and "Unknown"
// for players not in the snapshot. Admin chat is not logged.
func chatChannel(line ChatLine, player *domain.OnlinePlayer, teams []*domain.Team) (string, bool) {
	if player == nil {
		return "Unknown", true
	}
	faction := ""
	for _, t := range teams {
		if t != nil && t.ID == player.TeamID {
			faction = t.FactionShort
		}
	}
	if faction == "" && player.TeamID > 0 {
		faction = fmt.Sprintf("Team%d", player.TeamID)
	}

	switch line.Channel {
	case chatAdmin:
		return "", false
	case chatAll:
		return "All", true
	case chatTeam:
		return faction, true
	case chatSquad:
		return fmt.Sprintf("%s/Squad%d", faction, player.SquadID), true
	default:
		return line.Channel, true
	}
}

// triggerState matches chat lines against the configured trigger words and
// rate limits alerts per player
type triggerState struct {
	mu       sync.Mutex
	cfg      domain.InstanceConfig
	words    []string
	limiters map[int64]*rate.Limiter
}

func newTriggerState(cfg domain.InstanceConfig) *triggerState {
	t := &triggerState{}
	t.setConfig(cfg)
	return t
}

func (t *triggerState) setConfig(cfg domain.InstanceConfig) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cfg = cfg
	t.words = nil
	for _, w := range cfg.TriggerWords() {
		t.words = append(t.words, strings.ToLower(w))
	}
	// cooldowns restart with the new settings
	t.limiters = make(map[int64]*rate.Limiter)
}

func (t *triggerState) config() domain.InstanceConfig {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cfg
}

// match returns the trigger event for line, or false when no trigger word is
// present, the player is cooling down, or a required reason is missing.
func (t *triggerState) match(line ChatLine, channel string, at time.Time) (domain.ChatTriggerEvent, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	lower := strings.ToLower(line.Text)
	for _, word := range t.words {
		idx := strings.Index(lower, word)
		if idx < 0 {
			continue
		}
		if t.cfg.ChatTriggerRequireReason {
			reason := strings.TrimSpace(lower[:idx] + lower[idx+len(word):])
			if reason == "" {
				return domain.ChatTriggerEvent{}, false
			}
		}
		if !t.allow(line.SteamID, at) {
			return domain.ChatTriggerEvent{}, false
		}
		return domain.ChatTriggerEvent{
			ChatEvent: domain.ChatEvent{
				Channel: channel,
				SteamID: line.SteamID,
				Name:    line.Name,
				Message: line.Text,
			},
			Trigger:   word,
			Mentions:  t.cfg.ChatTriggerMentions,
			ChannelID: t.cfg.ChatTriggerChannelID,
		}, true
	}
	return domain.ChatTriggerEvent{}, false
}

func (t *triggerState) allow(steamID int64, at time.Time) bool {
	if t.cfg.ChatTriggerCooldown <= 0 {
		return true
	}
	lim, ok := t.limiters[steamID]
	if !ok {
		lim = rate.NewLimiter(rate.Every(time.Duration(t.cfg.ChatTriggerCooldown)*time.Second), 1)
		t.limiters[steamID] = lim
	}
	return lim.AllowN(at, 1)
}
