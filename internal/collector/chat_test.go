package collector

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ernie/warden/internal/domain"
)

func TestChatChannel(t *testing.T) {
	teams := []*domain.Team{
		domain.NewTeam(1, "British Army"),
		domain.NewTeam(2, "Some Modded Faction"),
	}
	british := &domain.OnlinePlayer{TeamID: 1, SquadID: 3}
	modded := &domain.OnlinePlayer{TeamID: 2, SquadID: domain.NoSquad}
	lost := &domain.OnlinePlayer{TeamID: 2}

	tests := []struct {
		name    string
		channel string
		player  *domain.OnlinePlayer
		teams   []*domain.Team
		want    string
		ok      bool
	}{
		{"all", chatAll, british, teams, "All", true},
		{"team", chatTeam, british, teams, "BA", true},
		{"squad", chatSquad, british, teams, "BA/Squad3", true},
		{"unknown faction", chatTeam, modded, teams, "Some Modded Faction", true},
		{"no team info", chatTeam, lost, nil, "Team2", true},
		{"admin", chatAdmin, british, teams, "", false},
		{"unknown player", chatAll, nil, teams, "Unknown", true},
		{"other channel", "ChatCommander", british, teams, "ChatCommander", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := chatChannel(ChatLine{Channel: tt.channel}, tt.player, tt.teams)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTriggerCooldownPerPlayer(t *testing.T) {
	cfg := domain.DefaultInstanceConfig()
	cfg.ChatTriggerCooldown = 30
	ts := newTriggerState(cfg)
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	line := func(id int64, text string) ChatLine {
		return ChatLine{Channel: chatAll, SteamID: id, Name: "p", Text: text}
	}

	_, ok := ts.match(line(1, "!admin help"), "All", at)
	assert.True(t, ok)
	_, ok = ts.match(line(1, "!admin help"), "All", at.Add(10*time.Second))
	assert.False(t, ok)
	_, ok = ts.match(line(2, "!admin help"), "All", at.Add(10*time.Second))
	assert.True(t, ok)
	_, ok = ts.match(line(1, "!admin help"), "All", at.Add(31*time.Second))
	assert.True(t, ok)

	// new settings reset the cooldowns
	ts.setConfig(cfg)
	_, ok = ts.match(line(1, "!admin help"), "All", at.Add(32*time.Second))
	assert.True(t, ok)

	_, ok = ts.match(line(3, "hello"), "All", at)
	assert.False(t, ok)
}

func TestTriggerWithoutWords(t *testing.T) {
	cfg := domain.DefaultInstanceConfig()
	cfg.ChatTriggerWords = ""
	ts := newTriggerState(cfg)

	_, ok := ts.match(ChatLine{SteamID: 1, Text: "!admin"}, "All", time.Now())
	assert.False(t, ok)
}

func TestClosestMatch(t *testing.T) {
	names := []string{"Alpha", "[FP] Bravo", "Charlie"}

	assert.Equal(t, 2, closestMatch("charli", names, fuzzyCutoff))
	assert.Equal(t, 1, closestMatch("[fp] bravo", names, fuzzyCutoff))
	assert.Equal(t, -1, closestMatch("zzz", names, fuzzyCutoff))
	assert.Equal(t, -1, closestMatch("alpha", nil, fuzzyCutoff))

	// clan tags only dilute the ratio: 2*7/(7+13)
	tagged := []string{"(WTH) Abuser", "(WTH) Abusify", "Zulu"}
	assert.Equal(t, 1, closestMatch("Abusify", tagged, fuzzyCutoff))
	assert.InDelta(t, 0.70, similarity("abusify", "(wth) abusify"), 1e-9)

	assert.InDelta(t, 1.0, similarity("same", "same"), 1e-9)
	assert.InDelta(t, 1.0, similarity("", ""), 1e-9)
}
