package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ernie/warden/internal/domain"
	"github.com/ernie/warden/internal/query"
	"github.com/ernie/warden/internal/rcon"
	"github.com/ernie/warden/internal/rotation"
)

var (
	ErrConnectionLost = errors.New("connection to server lost")
	ErrNotConnected   = errors.New("server is not connected")
	ErrUnknownServer  = errors.New("unknown server")
	ErrNoSelection    = errors.New("no server selected")
	ErrPlayerNotFound = errors.New("player not found")
)

// ConnectionLostError is returned by Refresh when the server could not be
// reached. Expired is set once failures have outlasted the grace period
// since the last successful update.
type ConnectionLostError struct {
	ServerID   int64
	LastUpdate time.Time
	Expired    bool
	Err        error
}

func (e *ConnectionLostError) Error() string {
	return fmt.Sprintf("server %d: lost connection to RCON: %v", e.ServerID, e.Err)
}

func (e *ConnectionLostError) Unwrap() error { return e.Err }

func (e *ConnectionLostError) Is(target error) bool { return target == ErrConnectionLost }

// Conn is the RCON session a poller drives
type Conn interface {
	rcon.Executor
	DrainChat() []rcon.ChatMessage
	State() rcon.State
	Close() error
}

// LogSink appends server log entries
type LogSink interface {
	AddLogs(ctx context.Context, serverID int64, category string, messages ...string) error
}

// flushCommand is sent when chat must be collected without a full refresh.
// The server answers unknown commands with an empty response.
const flushCommand = "a"

const (
	defaultStaleAfter  = time.Minute
	defaultGracePeriod = 20 * time.Minute
)

// PollerConfig wires a Poller to its collaborators
type PollerConfig struct {
	Instance domain.Instance
	Conn     Conn
	Logs     LogSink
	Querier  query.Querier // nil disables score enrichment
	Config   domain.InstanceConfig
	Emit     func(domain.Event)
	Logger   *slog.Logger

	StaleAfter  time.Duration
	GracePeriod time.Duration
	Now         func() time.Time
}

// snapshot is the poller's cached view of the server
type snapshot struct {
	currentMap    string
	nextMap       string
	layers        bool
	lastMapChange *time.Time
	transitioning bool
	players       []domain.OnlinePlayer
	teams         [2]*domain.Team
	maxPlayers    int
	lastUpdated   time.Time
}

// Poller keeps the live state of one server. Refreshes are serialized; the
// snapshot can be read concurrently through the accessors.
type Poller struct {
	inst    domain.Instance
	conn    Conn
	client  *rcon.Client
	logs    LogSink
	querier query.Querier
	emit    func(domain.Event)
	log     *slog.Logger
	now     func() time.Time

	staleAfter  time.Duration
	gracePeriod time.Duration

	triggers *triggerState

	refreshMu sync.Mutex // serializes snapshot writers and guards engine and healthy
	engine    *rotation.Engine
	healthy   time.Time

	mu   sync.RWMutex
	snap snapshot
}

// NewPoller returns a poller for an already connected session
func NewPoller(cfg PollerConfig) *Poller {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = defaultStaleAfter
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = defaultGracePeriod
	}
	if cfg.Emit == nil {
		cfg.Emit = func(domain.Event) {}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		inst:        cfg.Instance,
		conn:        cfg.Conn,
		client:      rcon.NewClient(cfg.Conn),
		logs:        cfg.Logs,
		querier:     cfg.Querier,
		emit:        cfg.Emit,
		log:         logger.With("server_id", cfg.Instance.ID),
		now:         cfg.Now,
		staleAfter:  cfg.StaleAfter,
		gracePeriod: cfg.GracePeriod,
		triggers:    newTriggerState(cfg.Config),
		healthy:     cfg.Now(),
	}
}

// Instance returns the server this poller watches
func (p *Poller) Instance() domain.Instance { return p.inst }

// Client returns the typed command client bound to this session
func (p *Poller) Client() *rcon.Client { return p.client }

// Close ends the RCON session. An in-flight refresh fails on its own.
func (p *Poller) Close() error { return p.conn.Close() }

// SetConfig replaces the chat trigger settings
func (p *Poller) SetConfig(cfg domain.InstanceConfig) { p.triggers.setConfig(cfg) }

// SetRotation activates a custom rotation; nil disables it
func (p *Poller) SetRotation(e *rotation.Engine) {
	p.refreshMu.Lock()
	defer p.refreshMu.Unlock()
	p.engine = e
}

// Cooldowns returns the remaining map cooldowns of the active rotation
func (p *Poller) Cooldowns() map[string]int {
	p.refreshMu.Lock()
	defer p.refreshMu.Unlock()
	if p.engine == nil {
		return nil
	}
	return p.engine.Cooldowns()
}

// LastUpdated returns the time of the last successful refresh
func (p *Poller) LastUpdated() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.snap.lastUpdated
}

// Stale reports whether the snapshot is older than the stale threshold
func (p *Poller) Stale() bool {
	last := p.LastUpdated()
	return last.IsZero() || p.now().Sub(last) >= p.staleAfter
}

// Sync refreshes the snapshot when it is stale
func (p *Poller) Sync(ctx context.Context) error {
	if !p.Stale() {
		return nil
	}
	return p.Refresh(ctx)
}

// FlushChat collects pending chat without refreshing the snapshot
func (p *Poller) FlushChat(ctx context.Context) error {
	p.refreshMu.Lock()
	defer p.refreshMu.Unlock()

	_, err := p.conn.Execute(ctx, flushCommand)
	p.processChat(ctx)
	if err != nil {
		return p.failed(err)
	}
	return nil
}

// Refresh queries maps, players and squads and updates the snapshot. Player
// and squad phases are skipped while the server is between matches.
func (p *Poller) Refresh(ctx context.Context) error {
	p.refreshMu.Lock()
	defer p.refreshMu.Unlock()

	now := p.now()
	p.mu.RLock()
	s := p.snap
	p.mu.RUnlock()
	s.players = slices.Clone(s.players)
	for i, t := range s.teams {
		s.teams[i] = t.Clone()
	}

	err := p.refresh(ctx, &s, now)
	if err == nil {
		s.lastUpdated = now
		p.healthy = now
	}

	p.mu.Lock()
	p.snap = s
	p.mu.Unlock()

	p.processChat(ctx)

	if err != nil {
		return p.failed(err)
	}
	p.emitEvent(domain.EventServerUpdate, p.Status())
	return nil
}

func (p *Poller) refresh(ctx context.Context, s *snapshot, now time.Time) error {
	if err := p.refreshMaps(ctx, s, now); err != nil {
		return err
	}
	if s.transitioning {
		return nil
	}
	if err := p.refreshPlayers(ctx, s, now); err != nil {
		return err
	}
	if err := p.refreshSquads(ctx, s); err != nil {
		return err
	}
	p.enrich(ctx, s)
	p.validateNext(ctx, s)
	return nil
}

// failed converts transport failures into a *ConnectionLostError
func (p *Poller) failed(err error) error {
	if !rcon.IsTransport(err) && !errors.Is(err, rcon.ErrAuth) && !errors.Is(err, rcon.ErrClosed) {
		return err
	}
	lost := &ConnectionLostError{
		ServerID:   p.inst.ID,
		LastUpdate: p.healthy,
		Expired:    p.now().Sub(p.healthy) > p.gracePeriod,
		Err:        err,
	}
	p.log.Warn("refresh failed", "error", err, "last_update", p.healthy, "expired", lost.Expired)
	p.emitEvent(domain.EventConnectionLost, domain.ConnectionLostEvent{Error: err.Error()})
	return lost
}

func (p *Poller) refreshMaps(ctx context.Context, s *snapshot, now time.Time) error {
	res, err := p.client.ShowNextMap(ctx)
	if err != nil {
		return err
	}
	info, perr := ParseMaps(res)
	if perr != nil {
		p.log.Warn("unrecognized map response", "response", res)
	}
	if !info.HasCurrent {
		res, err := p.client.ShowCurrentMap(ctx)
		if err != nil {
			return err
		}
		cur, perr := ParseMaps(res)
		if perr != nil || !cur.HasCurrent {
			p.log.Warn("unrecognized map response", "response", res)
		} else {
			info.Current, info.CurrentLevel, info.HasCurrent = cur.Current, cur.CurrentLevel, true
			info.Layers = info.Layers || cur.Layers
		}
	}

	current, next := s.currentMap, s.nextMap
	if info.HasCurrent {
		current = info.Current
	}
	if info.HasNext {
		next = info.Next
	}
	if info.HasCurrent || info.HasNext {
		s.layers = info.Layers
	}

	s.transitioning = info.Transitioning()
	if s.transitioning {
		current = s.currentMap
	}

	previous := s.currentMap
	s.currentMap, s.nextMap = current, next
	if previous == "" || current == previous {
		return nil
	}

	msg := fmt.Sprintf("Map changed from %s to %s.", previous, current)
	var minutes *int
	if s.lastMapChange != nil {
		m := int(now.Sub(*s.lastMapChange) / time.Minute)
		minutes = &m
		msg += fmt.Sprintf(" The match lasted %d minutes.", m)
	} else {
		msg += " Match duration is unknown."
	}
	changedAt := now
	s.lastMapChange = &changedAt
	p.addLogs(ctx, domain.LogMatch, msg)
	p.emitEvent(domain.EventMapChange, domain.MapChangeEvent{PreviousMap: previous, Map: current, MatchMinutes: minutes})

	if p.engine != nil {
		replacement, changed, err := p.engine.MapChanged(current, s.nextMap, len(s.players))
		switch {
		case errors.Is(err, rotation.ErrNoSelection):
			p.log.Warn("rotation has no eligible next map", "current", current)
		case err != nil:
			p.log.Warn("rotation failed", "error", err)
		case changed:
			if err := p.pushNextMap(ctx, s, replacement, "map changed"); err != nil {
				p.log.Warn("failed to set next map", "map", replacement, "error", err)
			}
		}
	}
	return nil
}

func (p *Poller) refreshPlayers(ctx context.Context, s *snapshot, now time.Time) error {
	res, err := p.client.ListPlayers(ctx)
	if err != nil {
		return err
	}
	players, failures := ParsePlayers(res)
	for _, f := range failures {
		p.log.Warn("skipping player line", "line", f.Line, "reason", f.Reason)
	}

	previous := make(map[int64]domain.OnlinePlayer, len(s.players))
	for _, pl := range s.players {
		previous[pl.Key()] = pl
	}
	current := make(map[int64]bool, len(players))

	var messages []string
	for i := range players {
		key := players[i].Key()
		current[key] = true
		if old, ok := previous[key]; ok {
			players[i].OnlineSince = old.OnlineSince
			players[i].Score = old.Score
			continue
		}
		players[i].OnlineSince = now
		messages = append(messages, players[i].Name+" connected")
		p.emitEvent(domain.EventPlayerJoin, domain.PlayerJoinEvent{Player: players[i]})
	}
	for _, old := range s.players {
		if current[old.Key()] {
			continue
		}
		minutes := old.OnlineMinutes(now)
		messages = append(messages, fmt.Sprintf("%s disconnected after %d minutes", old.Name, minutes))
		p.emitEvent(domain.EventPlayerLeave, domain.PlayerLeaveEvent{Player: old, OnlineMinutes: minutes})
	}
	p.addLogs(ctx, domain.LogJoins, messages...)

	s.players = players
	return nil
}

func (p *Poller) refreshSquads(ctx context.Context, s *snapshot) error {
	res, err := p.client.ListSquads(ctx)
	if err != nil {
		return err
	}
	lists, failures := ParseSquads(res)
	for _, f := range failures {
		p.log.Warn("skipping squad line", "line", f.Line, "reason", f.Reason)
	}

	for _, list := range lists {
		idx := list.TeamID - 1
		team := s.teams[idx]
		if team == nil || team.Faction != list.Faction {
			team = domain.NewTeam(list.TeamID, list.Faction)
		}
		team.Division, team.DivisionType = list.Division, list.DivisionType

		keep := make([]int, 0, len(list.Squads))
		for _, sq := range list.Squads {
			sq.PlayerIDs = memberIDs(s.players, list.TeamID, sq.ID)
			team.SetSquad(sq)
			keep = append(keep, sq.ID)
		}
		team.PruneSquads(keep)
		s.teams[idx] = team
	}

	for _, team := range s.teams {
		if team != nil {
			team.Unassigned = memberIDs(s.players, team.ID, domain.NoSquad)
		}
	}
	return nil
}

func memberIDs(players []domain.OnlinePlayer, teamID, squadID int) []int64 {
	ids := []int64{}
	for _, pl := range players {
		if pl.TeamID == teamID && pl.SquadID == squadID {
			ids = append(ids, pl.Key())
		}
	}
	return ids
}

// enrich fills scores and the player limit from the A2S query port
func (p *Poller) enrich(ctx context.Context, s *snapshot) {
	addr := p.inst.QueryAddr()
	if p.querier == nil || addr == "" {
		return
	}
	res, err := p.querier.Query(ctx, addr)
	if err != nil {
		p.log.Debug("A2S query failed", "addr", addr, "error", err)
		return
	}
	scores := res.ScoreByName()
	for i := range s.players {
		if score, ok := scores[s.players[i].Name]; ok {
			s.players[i].Score = score
		}
	}
	s.maxPlayers = res.MaxPlayers
}

// validateNext rerolls the queued next map when it no longer satisfies the
// rotation for the live player count
func (p *Poller) validateNext(ctx context.Context, s *snapshot) {
	if p.engine == nil || s.currentMap == "" {
		return
	}
	next, changed, err := p.engine.ValidateNext(s.currentMap, s.nextMap, len(s.players))
	if err != nil {
		if errors.Is(err, rotation.ErrNoSelection) {
			p.log.Debug("rotation has no eligible next map", "current", s.currentMap, "players", len(s.players))
		}
		return
	}
	if changed {
		if err := p.pushNextMap(ctx, s, next, "conditions"); err != nil {
			p.log.Warn("failed to set next map", "map", next, "error", err)
		}
	}
}

func (p *Poller) pushNextMap(ctx context.Context, s *snapshot, name, reason string) error {
	var err error
	if s.layers {
		_, err = p.client.SetNextLayer(ctx, name)
	} else {
		_, err = p.client.SetNextMap(ctx, name)
	}
	if err != nil {
		return err
	}
	s.nextMap = name
	p.log.Info("next map set by rotation", "map", name, "reason", reason)
	p.emitEvent(domain.EventNextMap, domain.NextMapEvent{Map: name, Reason: reason})
	return nil
}

// processChat drains the chat buffer into the chat log and raises trigger alerts
func (p *Poller) processChat(ctx context.Context) {
	messages := p.conn.DrainChat()
	if len(messages) == 0 {
		return
	}

	p.mu.RLock()
	players := p.snap.players
	teams := p.snap.teams
	p.mu.RUnlock()

	cfg := p.triggers.config()
	var lines []string
	for _, msg := range messages {
		line, err := ParseChatLine(msg.Text)
		if err != nil {
			p.log.Debug("skipping chat line", "line", msg.Text)
			continue
		}

		var player *domain.OnlinePlayer
		for i := range players {
			if players[i].Key() == line.SteamID {
				player = &players[i]
				break
			}
		}
		channel, ok := chatChannel(line, player, teams[:])
		if !ok {
			continue
		}

		lines = append(lines, fmt.Sprintf("[%s] %s: %s", channel, line.Name, line.Text))
		chat := domain.ChatEvent{Channel: channel, SteamID: line.SteamID, Name: line.Name, Message: line.Text}
		p.emitEvent(domain.EventChat, chat)

		trigger, ok := p.triggers.match(line, channel, msg.ReceivedAt)
		if !ok {
			continue
		}
		p.addLogs(ctx, domain.LogTrigger, fmt.Sprintf("%s used %q: %s", line.Name, trigger.Trigger, line.Text))
		p.emitEvent(domain.EventChatTrigger, trigger)
		if cfg.ChatTriggerConfirmation != "" {
			target := strconv.FormatInt(line.SteamID, 10)
			if _, err := p.client.Warn(ctx, target, cfg.ChatTriggerConfirmation); err != nil {
				p.log.Warn("failed to confirm trigger", "player", line.Name, "error", err)
			}
		}
	}
	p.addLogs(ctx, domain.LogChat, lines...)
}

func (p *Poller) addLogs(ctx context.Context, category string, messages ...string) {
	if p.logs == nil || len(messages) == 0 {
		return
	}
	if err := p.logs.AddLogs(ctx, p.inst.ID, category, messages...); err != nil {
		p.log.Warn("failed to store logs", "category", category, "error", err)
	}
}

func (p *Poller) emitEvent(eventType string, data any) {
	p.emit(domain.Event{
		Type:      eventType,
		ServerID:  p.inst.ID,
		Timestamp: p.now().UTC(),
		Data:      data,
	})
}

// Status returns a copy of the snapshot
func (p *Poller) Status() domain.ServerStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s := p.snap

	status := domain.ServerStatus{
		ServerID:      p.inst.ID,
		Name:          p.inst.Name,
		Game:          p.inst.Game,
		Online:        p.conn.State() == rcon.StateReady,
		CurrentMap:    s.currentMap,
		NextMap:       s.nextMap,
		Transitioning: s.transitioning,
		PlayerCount:   len(s.players),
		MaxPlayers:    s.maxPlayers,
		Players:       slices.Clone(s.players),
		Teams:         []*domain.Team{},
		LastUpdated:   s.lastUpdated,
	}
	if s.lastMapChange != nil {
		t := *s.lastMapChange
		status.LastMapChange = &t
	}
	for _, t := range s.teams {
		if t != nil {
			status.Teams = append(status.Teams, t.Clone())
		}
	}
	if status.Players == nil {
		status.Players = []domain.OnlinePlayer{}
	}
	return status
}

// Players returns a copy of the online player list
func (p *Poller) Players() []domain.OnlinePlayer {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return slices.Clone(p.snap.players)
}

// FindPlayer looks a player up by 17-digit steam id, by in-game id (up to
// three digits), by exact name, then by closest name.
func (p *Poller) FindPlayer(q string) (domain.OnlinePlayer, error) {
	q = strings.TrimSpace(q)
	players := p.Players()

	if isDigits(q) {
		n, _ := strconv.ParseInt(q, 10, 64)
		for _, pl := range players {
			switch {
			case len(q) == 17 && pl.Key() == n:
				return pl, nil
			case len(q) <= 3 && int64(pl.PlayerID) == n:
				return pl, nil
			}
		}
	}

	for _, pl := range players {
		if pl.Name == q {
			return pl, nil
		}
	}
	for _, pl := range players {
		if strings.EqualFold(pl.Name, q) {
			return pl, nil
		}
	}

	names := make([]string, len(players))
	for i, pl := range players {
		names[i] = pl.Name
	}
	if idx := closestMatch(q, names, fuzzyCutoff); idx >= 0 {
		return players[idx], nil
	}
	return domain.OnlinePlayer{}, fmt.Errorf("%w: %s", ErrPlayerNotFound, q)
}

// DisconnectPlayer drops a player from the snapshot after a kick or ban so
// the leave is logged right away instead of on the next poll
func (p *Poller) DisconnectPlayer(ctx context.Context, steamID int64) bool {
	p.refreshMu.Lock()
	defer p.refreshMu.Unlock()

	p.mu.Lock()
	var removed *domain.OnlinePlayer
	kept := make([]domain.OnlinePlayer, 0, len(p.snap.players))
	for _, pl := range p.snap.players {
		if pl.Key() == steamID {
			removed = &pl
			continue
		}
		kept = append(kept, pl)
	}
	p.snap.players = kept
	p.mu.Unlock()

	if removed == nil {
		return false
	}
	minutes := removed.OnlineMinutes(p.now())
	p.addLogs(ctx, domain.LogJoins, fmt.Sprintf("%s was disconnected after %d minutes", removed.Name, minutes))
	p.emitEvent(domain.EventPlayerLeave, domain.PlayerLeaveEvent{Player: *removed, OnlineMinutes: minutes})
	return true
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
