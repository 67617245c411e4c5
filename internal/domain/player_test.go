package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTeamSetSquad(t *testing.T) {
	team := NewTeam(1, "Canadian Army")
	assert.Equal(t, "CA", team.FactionShort)

	joined, left := team.SetSquad(Squad{ID: 1, Name: "Infantry", PlayerIDs: []int64{1, 2}})
	assert.Equal(t, []int64{1, 2}, joined)
	assert.Empty(t, left)

	// same squad, members shuffled
	joined, left = team.SetSquad(Squad{ID: 1, Name: "Infantry", Locked: true, PlayerIDs: []int64{2, 3}})
	assert.Equal(t, []int64{3}, joined)
	assert.Equal(t, []int64{1}, left)
	require.Len(t, team.Squads, 1)
	assert.True(t, team.Squads[0].Locked)

	// renamed squad was recreated
	old := team.Squad(1)
	joined, left = team.SetSquad(Squad{ID: 1, Name: "Armor", PlayerIDs: []int64{4}})
	assert.Equal(t, []int64{4}, joined)
	assert.Empty(t, left)
	assert.NotSame(t, old, team.Squad(1))
	assert.Equal(t, "Armor", team.Squad(1).Name)

	// new creator also means a new squad
	team.SetSquad(Squad{ID: 1, Name: "Armor", CreatorID: 99, PlayerIDs: []int64{4}})
	assert.Equal(t, int64(99), team.Squad(1).CreatorID)

	team.SetSquad(Squad{ID: 2, Name: "Recon", PlayerIDs: []int64{5}})
	team.Unassigned = []int64{6}
	assert.Equal(t, 3, team.PlayerCount())

	team.PruneSquads([]int{2})
	assert.Nil(t, team.Squad(1))
	assert.NotNil(t, team.Squad(2))
}

func TestFactionShortName(t *testing.T) {
	assert.Equal(t, "GER", FactionShortName("German Empire"))
	assert.Equal(t, "RGF", FactionShortName("Russian Ground Forces"))
	assert.Equal(t, "Some New Faction", FactionShortName("Some New Faction"))
}

func TestOnlineMinutes(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	p := OnlinePlayer{OnlineSince: now.Add(-90 * time.Second)}
	assert.Equal(t, 1, p.OnlineMinutes(now))
	assert.Equal(t, 0, OnlinePlayer{}.OnlineMinutes(now))
	assert.False(t, OnlinePlayer{SquadID: NoSquad}.InSquad())
}

func TestLogEntryFormat(t *testing.T) {
	e := LogEntry{
		Category:  LogJoins,
		Message:   "Alpha connected",
		Timestamp: time.Date(2024, 3, 7, 9, 5, 0, 0, time.UTC),
	}
	assert.Equal(t, "[07-03] [09:05] [JOINS] Alpha connected", e.Format())
	assert.True(t, IsLogCategory("teamkills"))
	assert.False(t, IsLogCategory("kills"))
}
