package domain

import (
	"slices"
	"time"

	"github.com/leighmacdonald/steamid/v4/steamid"
)

// NoSquad is the squad id of a player that is not in any squad
const NoSquad = -1

// OnlinePlayer is a player currently connected to a game server
type OnlinePlayer struct {
	SteamID     steamid.SteamID `json:"steam_id"`
	EOSID       string          `json:"eos_id,omitempty"` // newer builds report Epic online ids
	PlayerID    int             `json:"player_id"`        // in-game session id
	Name        string          `json:"name"`
	TeamID      int             `json:"team_id"`
	SquadID     int             `json:"squad_id"` // NoSquad when unassigned
	IsLeader    bool            `json:"is_leader,omitempty"`
	Role        string          `json:"role,omitempty"`
	Score       int             `json:"score"`
	OnlineSince time.Time       `json:"online_since"`
}

// Key identifies the player across polls
func (p OnlinePlayer) Key() int64 {
	return p.SteamID.Int64()
}

// InSquad reports whether the player belongs to a squad
func (p OnlinePlayer) InSquad() bool {
	return p.SquadID != NoSquad
}

// OnlineMinutes returns whole minutes connected as of now
func (p OnlinePlayer) OnlineMinutes(now time.Time) int {
	if p.OnlineSince.IsZero() || now.Before(p.OnlineSince) {
		return 0
	}
	return int(now.Sub(p.OnlineSince) / time.Minute)
}

// DisconnectedPlayer is an entry of the recently disconnected list
type DisconnectedPlayer struct {
	SteamID         steamid.SteamID `json:"steam_id"`
	PlayerID        int             `json:"player_id"`
	Name            string          `json:"name"`
	SinceDisconnect string          `json:"since_disconnect"` // as the server prints it, e.g. 02m.30s
}

// Squad is a squad on one team
type Squad struct {
	ID          int     `json:"id"`
	Name        string  `json:"name"`
	Size        int     `json:"size"`
	Locked      bool    `json:"locked"`
	CreatorName string  `json:"creator_name,omitempty"`
	CreatorID   int64   `json:"creator_id,omitempty"`
	PlayerIDs   []int64 `json:"player_ids"` // steam ids of the members
}

// Update replaces the member list and lock state in place and returns the
// steam ids that joined and left since the previous update.
func (s *Squad) Update(playerIDs []int64, locked bool) (joined, left []int64) {
	for _, id := range playerIDs {
		if !slices.Contains(s.PlayerIDs, id) {
			joined = append(joined, id)
		}
	}
	for _, id := range s.PlayerIDs {
		if !slices.Contains(playerIDs, id) {
			left = append(left, id)
		}
	}
	s.PlayerIDs = playerIDs
	s.Locked = locked
	return joined, left
}

// Team is one side of a match
type Team struct {
	ID           int      `json:"id"`
	Faction      string   `json:"faction"`
	FactionShort string   `json:"faction_short"`
	Division     string   `json:"division,omitempty"`
	DivisionType string   `json:"division_type,omitempty"`
	Squads       []*Squad `json:"squads"`
	Unassigned   []int64  `json:"unassigned"`
}

// NewTeam returns an empty team with the faction short code resolved
func NewTeam(id int, faction string) *Team {
	return &Team{
		ID:           id,
		Faction:      faction,
		FactionShort: FactionShortName(faction),
	}
}

// Squad returns the squad with the given id, or nil
func (t *Team) Squad(id int) *Squad {
	for _, s := range t.Squads {
		if s.ID == id {
			return s
		}
	}
	return nil
}

// SetSquad stores a squad seen in the latest poll. A squad whose name or
// creator changed was disbanded and recreated, so it replaces the cached one;
// otherwise the cached squad is updated and the member diff returned.
func (t *Team) SetSquad(incoming Squad) (joined, left []int64) {
	for i, s := range t.Squads {
		if s.ID != incoming.ID {
			continue
		}
		if s.Name != incoming.Name || s.CreatorID != incoming.CreatorID {
			sq := incoming
			t.Squads[i] = &sq
			return incoming.PlayerIDs, nil
		}
		s.Size = incoming.Size
		s.CreatorName = incoming.CreatorName
		return s.Update(incoming.PlayerIDs, incoming.Locked)
	}
	sq := incoming
	t.Squads = append(t.Squads, &sq)
	return incoming.PlayerIDs, nil
}

// PruneSquads drops squads whose ids are not in keep
func (t *Team) PruneSquads(keep []int) {
	t.Squads = slices.DeleteFunc(t.Squads, func(s *Squad) bool {
		return !slices.Contains(keep, s.ID)
	})
}

// PlayerCount counts squad members and unassigned players
func (t *Team) PlayerCount() int {
	n := len(t.Unassigned)
	for _, s := range t.Squads {
		n += len(s.PlayerIDs)
	}
	return n
}

var factionShortNames = map[string]string{
	// Post Scriptum
	"German Empire":                "GER",
	"French Republic":              "FR",
	"American Expeditionary Force": "AEF",

	// Squad
	"British Army":               "BA",
	"Canadian Army":              "CA",
	"Middle Eastern Alliance":    "MEA",
	"Russian Ground Forces":      "RGF",
	"United States Army":         "USA",
	"United States Marine Corps": "USMC",
	"Insurgent Forces":           "IF",
	"Irregular Militia Forces":   "IM",
	"Australian Defence Force":   "ADF",
	"Turkish Land Forces":        "TLF",
}

// FactionShortName returns the short code for a faction, or the name itself
// when no code is known.
func FactionShortName(faction string) string {
	if short, ok := factionShortNames[faction]; ok {
		return short
	}
	return faction
}

// Clone returns a deep copy of the team
func (t *Team) Clone() *Team {
	if t == nil {
		return nil
	}
	c := *t
	c.Squads = make([]*Squad, len(t.Squads))
	for i, s := range t.Squads {
		sq := *s
		sq.PlayerIDs = slices.Clone(s.PlayerIDs)
		c.Squads[i] = &sq
	}
	c.Unassigned = slices.Clone(t.Unassigned)
	return &c
}
