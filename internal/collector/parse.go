package collector

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/leighmacdonald/steamid/v4/steamid"

	"github.com/ernie/warden/internal/domain"
)

// ParseFailure is a response line that did not match its grammar
type ParseFailure struct {
	Line   string
	Reason string
}

func (f *ParseFailure) Error() string {
	return fmt.Sprintf("unparsed line (%s): %q", f.Reason, f.Line)
}

const (
	disconnectedHeader = "----- Recently Disconnected Players"
	transitionMap      = "TransitionMap"
	notAvailable       = "N/A"
)

// ID: 4 | SteamID: 76561199023367826 | Name: (WTH) Abusify | Team ID: 2 | Squad ID: 1
// ID: 0 | Online IDs: EOS: 0002f1... steam: 7656... | Name: x | Team ID: 1 | Squad ID: N/A | Is Leader: False | Role: USA_Rifleman_01
var playerLineRegex = regexp.MustCompile(
	`^ID: (\d+) \| (?:SteamID: (\d{17})|Online IDs:(?: EOS: ([0-9a-fA-F]+))?(?: steam: (\d{17}))?) \| Name: (.*?) \| Team ID: (\d+|N/A) \| Squad ID: (\d+|N/A)(?: \| Is Leader: (True|False) \| Role: (.*?))?\s*$`)

// ID: 10 | SteamID: 76561198062628191 | Since Disconnect: 02m.30s | Name: [2.FJg]Gh0st
var disconnectedLineRegex = regexp.MustCompile(
	`^ID: (\d+) \| (?:SteamID: (\d{17})|Online IDs:(?: EOS: [0-9a-fA-F]+)?(?: steam: (\d{17}))?) \| Since Disconnect: (\S+) \| Name: (.*?)\s*$`)

// Team ID: 1 (French Republic)
var teamLineRegex = regexp.MustCompile(`^Team ID: ([12]) \((.*)\)\s*$`)

// ID: 1 | Name: LOUTRE | Size: 2 | Locked: False | Creator Name: Bob | Creator Steam ID: 7656...
var squadLineRegex = regexp.MustCompile(
	`^ID: (\d+) \| Name: (.*?) \| Size: (\d+) \| Locked: (True|False)(?: \| Creator Name: (.*?) \| Creator (?:Steam ID: (\d{17})|Online IDs:(?: EOS: [0-9a-fA-F]+)?(?: steam: (\d{17}))?))?\s*$`)

var (
	legacyMapRegex    = regexp.MustCompile(`Current map is (.+), Next map is\s*(.*)`)
	currentLevelRegex = regexp.MustCompile(`Current level is (.*?), layer is (.*)`)
	nextLevelRegex    = regexp.MustCompile(`Next level is (.*?), layer is (.*)`)
)

// [ChatAll] [SteamID:76561198000000001] [FP] Clan Member : Hello world!
var chatLineRegex = regexp.MustCompile(
	`^\[(\w+)\] \[(?:SteamID:(\d{17})|Online IDs:(?:\s*EOS: [0-9a-fA-F]+)?(?:\s*steam: (\d{17}))?)\] (.*?) : (.*)$`)

func parseSteamID(s string) (steamid.SteamID, error) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return steamid.SteamID{}, err
	}
	sid := steamid.New(v)
	if !sid.Valid() {
		return steamid.SteamID{}, fmt.Errorf("invalid steam id %s", s)
	}
	return sid, nil
}

func parseOptionalID(s string) int {
	if s == notAvailable {
		return domain.NoSquad
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return domain.NoSquad
	}
	return n
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// ParsePlayerLine parses one line of the ListPlayers response
func ParsePlayerLine(line string) (domain.OnlinePlayer, error) {
	m := playerLineRegex.FindStringSubmatch(strings.TrimSpace(line))
	if m == nil {
		return domain.OnlinePlayer{}, &ParseFailure{Line: line, Reason: "player"}
	}

	sid, err := parseSteamID(firstNonEmpty(m[2], m[4]))
	if err != nil {
		return domain.OnlinePlayer{}, &ParseFailure{Line: line, Reason: "player steam id"}
	}
	playerID, _ := strconv.Atoi(m[1])

	p := domain.OnlinePlayer{
		SteamID:  sid,
		EOSID:    m[3],
		PlayerID: playerID,
		Name:     m[5],
		TeamID:   parseOptionalID(m[6]),
		SquadID:  parseOptionalID(m[7]),
		IsLeader: m[8] == "True",
		Role:     m[9],
	}
	if p.TeamID == domain.NoSquad {
		p.TeamID = 0
	}
	return p, nil
}

// ParsePlayers parses the active section of a ListPlayers response. Lines
// that do not match are returned as failures and skipped.
func ParsePlayers(text string) ([]domain.OnlinePlayer, []*ParseFailure) {
	var players []domain.OnlinePlayer
	var failures []*ParseFailure
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, disconnectedHeader) {
			break
		}
		if line == "" || strings.HasPrefix(line, "-----") {
			continue
		}
		p, err := ParsePlayerLine(line)
		if err != nil {
			failures = append(failures, err.(*ParseFailure))
			continue
		}
		players = append(players, p)
	}
	return players, failures
}

// ParseDisconnected parses the recently disconnected section of a ListPlayers
// or AdminListDisconnectedPlayers response.
func ParseDisconnected(text string) ([]domain.DisconnectedPlayer, []*ParseFailure) {
	var players []domain.DisconnectedPlayer
	var failures []*ParseFailure

	// A ListPlayers response lists active players first
	if idx := strings.Index(text, disconnectedHeader); idx >= 0 {
		text = text[idx:]
	}
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "-----") {
			continue
		}
		m := disconnectedLineRegex.FindStringSubmatch(line)
		if m == nil {
			failures = append(failures, &ParseFailure{Line: line, Reason: "disconnected player"})
			continue
		}
		sid, err := parseSteamID(firstNonEmpty(m[2], m[3]))
		if err != nil {
			failures = append(failures, &ParseFailure{Line: line, Reason: "disconnected player steam id"})
			continue
		}
		id, _ := strconv.Atoi(m[1])
		players = append(players, domain.DisconnectedPlayer{
			SteamID:         sid,
			PlayerID:        id,
			SinceDisconnect: m[4],
			Name:            m[5],
		})
	}
	return players, failures
}

// SquadList is one team block of a ListSquads response
type SquadList struct {
	TeamID       int
	Faction      string
	Division     string
	DivisionType string
	Squads       []domain.Squad
}

// parseTeamHeader splits "Faction - Division [Type]" as printed by newer builds
func parseTeamHeader(inner string) (faction, division, divisionType string) {
	inner = strings.TrimSpace(inner)
	if open := strings.LastIndex(inner, " ["); open >= 0 && strings.HasSuffix(inner, "]") {
		divisionType = inner[open+2 : len(inner)-1]
		inner = strings.TrimSpace(inner[:open])
	}
	faction, division, _ = strings.Cut(inner, " - ")
	return strings.TrimSpace(faction), strings.TrimSpace(division), divisionType
}

// ParseSquads parses a ListSquads response. Squad lines before any team
// header, and lines that do not match, are returned as failures.
func ParseSquads(text string) ([]SquadList, []*ParseFailure) {
	var teams []SquadList
	var failures []*ParseFailure
	current := -1

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "-----") {
			continue
		}

		if strings.HasPrefix(line, "Team ID") {
			m := teamLineRegex.FindStringSubmatch(line)
			if m == nil {
				failures = append(failures, &ParseFailure{Line: line, Reason: "team header"})
				current = -1
				continue
			}
			id, _ := strconv.Atoi(m[1])
			faction, division, divisionType := parseTeamHeader(m[2])
			teams = append(teams, SquadList{TeamID: id, Faction: faction, Division: division, DivisionType: divisionType})
			current = len(teams) - 1
			continue
		}

		m := squadLineRegex.FindStringSubmatch(line)
		if m == nil {
			failures = append(failures, &ParseFailure{Line: line, Reason: "squad"})
			continue
		}
		if current < 0 {
			failures = append(failures, &ParseFailure{Line: line, Reason: "squad without team"})
			continue
		}
		id, _ := strconv.Atoi(m[1])
		size, _ := strconv.Atoi(m[3])
		sq := domain.Squad{
			ID:          id,
			Name:        m[2],
			Size:        size,
			Locked:      m[4] == "True",
			CreatorName: m[5],
		}
		if creator := firstNonEmpty(m[6], m[7]); creator != "" {
			sq.CreatorID, _ = strconv.ParseInt(creator, 10, 64)
		}
		teams[current].Squads = append(teams[current].Squads, sq)
	}
	return teams, failures
}

// MapInfo is what ShowCurrentMap/ShowNextMap reported. Layers is set when the
// server speaks the level/layer grammar; Current and Next then hold layers.
type MapInfo struct {
	Current      string
	Next         string
	CurrentLevel string
	NextLevel    string
	HasCurrent   bool
	HasNext      bool
	Layers       bool
}

// Transitioning reports whether the server is between matches
func (m MapInfo) Transitioning() bool {
	return strings.Contains(m.Current, transitionMap) || strings.Contains(m.CurrentLevel, transitionMap)
}

// ParseMaps reads the legacy "Current map is X, Next map is Y" line and the
// newer "Current level is X, layer is Y" / "Next level is X, layer is Y" lines.
func ParseMaps(text string) (MapInfo, error) {
	var info MapInfo
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if m := legacyMapRegex.FindStringSubmatch(line); m != nil {
			info.Current, info.Next = strings.TrimSpace(m[1]), strings.TrimSpace(m[2])
			info.HasCurrent, info.HasNext = true, true
			continue
		}
		if m := currentLevelRegex.FindStringSubmatch(line); m != nil {
			info.CurrentLevel, info.Current = strings.TrimSpace(m[1]), strings.TrimSpace(m[2])
			info.HasCurrent, info.Layers = true, true
			continue
		}
		if m := nextLevelRegex.FindStringSubmatch(line); m != nil {
			info.NextLevel, info.Next = strings.TrimSpace(m[1]), strings.TrimSpace(m[2])
			info.HasNext, info.Layers = true, true
			continue
		}
	}
	if !info.HasCurrent && !info.HasNext {
		return info, &ParseFailure{Line: text, Reason: "map"}
	}
	return info, nil
}

// ChatLine is a parsed chat stream message
type ChatLine struct {
	Channel string
	SteamID int64
	Name    string
	Text    string
}

// ParseChatLine parses "[ChatAll] [SteamID:7656...] Name : text"
func ParseChatLine(line string) (ChatLine, error) {
	m := chatLineRegex.FindStringSubmatch(strings.TrimSpace(line))
	if m == nil {
		return ChatLine{}, &ParseFailure{Line: line, Reason: "chat"}
	}
	sid, err := parseSteamID(firstNonEmpty(m[2], m[3]))
	if err != nil {
		return ChatLine{}, &ParseFailure{Line: line, Reason: "chat steam id"}
	}
	return ChatLine{
		Channel: m[1],
		SteamID: sid.Int64(),
		Name:    m[4],
		Text:    strings.TrimSpace(m[5]),
	}, nil
}
