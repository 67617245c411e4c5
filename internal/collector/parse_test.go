package collector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ernie/warden/internal/domain"
)

func TestParsePlayerLine(t *testing.T) {
	p, err := ParsePlayerLine("ID: 4 | SteamID: 76561199023367826 | Name: Foo | Team ID: 2 | Squad ID: 1")
	require.NoError(t, err)
	assert.Equal(t, 4, p.PlayerID)
	assert.Equal(t, int64(76561199023367826), p.Key())
	assert.Equal(t, "Foo", p.Name)
	assert.Equal(t, 2, p.TeamID)
	assert.Equal(t, 1, p.SquadID)
	assert.False(t, p.IsLeader)
}

func TestParsePlayerLineVariants(t *testing.T) {
	tests := []struct {
		name   string
		line   string
		player string
		squad  int
		leader bool
		role   string
		eos    string
	}{
		{
			name:   "no squad",
			line:   "ID: 12 | SteamID: 76561198000000001 | Name: (WTH) Abusify | Team ID: 1 | Squad ID: N/A",
			player: "(WTH) Abusify",
			squad:  domain.NoSquad,
		},
		{
			name:   "leader and role",
			line:   "ID: 3 | SteamID: 76561198000000002 | Name: Lead | Team ID: 1 | Squad ID: 2 | Is Leader: True | Role: USA_SL_01",
			player: "Lead",
			squad:  2,
			leader: true,
			role:   "USA_SL_01",
		},
		{
			name:   "online ids",
			line:   "ID: 0 | Online IDs: EOS: 0002f1a2b3c4 steam: 76561198000000003 | Name: Pipe | Name | Team ID: 2 | Squad ID: N/A | Is Leader: False | Role: RGF_Rifleman_01",
			player: "Pipe | Name",
			squad:  domain.NoSquad,
			role:   "RGF_Rifleman_01",
			eos:    "0002f1a2b3c4",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := ParsePlayerLine(tt.line)
			require.NoError(t, err)
			assert.Equal(t, tt.player, p.Name)
			assert.Equal(t, tt.squad, p.SquadID)
			assert.Equal(t, tt.leader, p.IsLeader)
			assert.Equal(t, tt.role, p.Role)
			assert.Equal(t, tt.eos, p.EOSID)
		})
	}
}

func TestParsePlayerLineRejectsGarbage(t *testing.T) {
	for _, line := range []string{
		"",
		"ID: x | SteamID: 76561198000000001 | Name: A | Team ID: 1 | Squad ID: 1",
		"ID: 1 | SteamID: 123 | Name: A | Team ID: 1 | Squad ID: 1",
	} {
		_, err := ParsePlayerLine(line)
		var failure *ParseFailure
		assert.ErrorAs(t, err, &failure, line)
	}
}

func TestParsePlayersStopsAtDisconnected(t *testing.T) {
	players, failures := ParsePlayers(playersResponse)
	assert.Empty(t, failures)
	require.Len(t, players, 3)
	assert.Equal(t, "Charlie", players[2].Name)

	gone, failures := ParseDisconnected(playersResponse)
	assert.Empty(t, failures)
	require.Len(t, gone, 1)
	assert.Equal(t, "Gone", gone[0].Name)
	assert.Equal(t, "02m.30s", gone[0].SinceDisconnect)
	assert.Equal(t, 7, gone[0].PlayerID)
}

func TestParseSquads(t *testing.T) {
	text := `----- Active Squads -----
ID: 9 | Name: ORPHAN | Size: 1 | Locked: False
Team ID: 1 (United States Army - 1st Cavalry [Combined Arms])
ID: 1 | Name: ALPHA | Size: 1 | Locked: False
ID: 2 | Nme: broken
Team ID: 2 (Russian Ground Forces)
ID: 1 | Name: Command | Size: 1 | Locked: True | Creator Name: Charlie | Creator Steam ID: 76561198000000003
`
	teams, failures := ParseSquads(text)
	require.Len(t, teams, 2)
	require.Len(t, failures, 2)
	assert.Equal(t, "squad without team", failures[0].Reason)
	assert.Equal(t, "squad", failures[1].Reason)

	usa := teams[0]
	assert.Equal(t, 1, usa.TeamID)
	assert.Equal(t, "United States Army", usa.Faction)
	assert.Equal(t, "1st Cavalry", usa.Division)
	assert.Equal(t, "Combined Arms", usa.DivisionType)
	require.Len(t, usa.Squads, 1)

	rgf := teams[1]
	assert.Equal(t, "Russian Ground Forces", rgf.Faction)
	assert.Empty(t, rgf.Division)
	require.Len(t, rgf.Squads, 1)
	sq := rgf.Squads[0]
	assert.True(t, sq.Locked)
	assert.Equal(t, "Charlie", sq.CreatorName)
	assert.Equal(t, int64(76561198000000003), sq.CreatorID)
}

func TestParseMaps(t *testing.T) {
	legacy, err := ParseMaps("Current map is Gorodok AAS v2, Next map is Narva RAAS v1")
	require.NoError(t, err)
	assert.Equal(t, "Gorodok AAS v2", legacy.Current)
	assert.Equal(t, "Narva RAAS v1", legacy.Next)
	assert.False(t, legacy.Layers)
	assert.False(t, legacy.Transitioning())

	next, err := ParseMaps("Next level is Narva, layer is Narva RAAS v1")
	require.NoError(t, err)
	assert.False(t, next.HasCurrent)
	assert.True(t, next.HasNext)
	assert.True(t, next.Layers)
	assert.Equal(t, "Narva", next.NextLevel)
	assert.Equal(t, "Narva RAAS v1", next.Next)

	// an empty next map is reported while nothing is queued
	none, err := ParseMaps("Current map is Narva RAAS v1, Next map is ")
	require.NoError(t, err)
	assert.Empty(t, none.Next)

	transition, err := ParseMaps("Current map is /Game/Maps/TransitionMap, Next map is Narva RAAS v1")
	require.NoError(t, err)
	assert.True(t, transition.Transitioning())

	_, err = ParseMaps("nothing useful")
	assert.Error(t, err)
}

func TestParseChatLine(t *testing.T) {
	line, err := ParseChatLine("[ChatAll] [SteamID:76561198000000001] [FP] Clan Member : Hello world! ")
	require.NoError(t, err)
	assert.Equal(t, "ChatAll", line.Channel)
	assert.Equal(t, int64(76561198000000001), line.SteamID)
	assert.Equal(t, "[FP] Clan Member", line.Name)
	assert.Equal(t, "Hello world!", line.Text)

	eos, err := ParseChatLine("[ChatSquad] [Online IDs:EOS: 00aa steam: 76561198000000002] Bob : need ammo")
	require.NoError(t, err)
	assert.Equal(t, int64(76561198000000002), eos.SteamID)
	assert.Equal(t, "need ammo", eos.Text)

	_, err = ParseChatLine("[ChatAll] Bob : no id")
	assert.Error(t, err)
}
