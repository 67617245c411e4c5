package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ernie/warden/internal/domain"
	"github.com/ernie/warden/internal/query"
	"github.com/ernie/warden/internal/rcon"
	"github.com/ernie/warden/internal/rotation"
	"github.com/ernie/warden/internal/storage"
)

// Store is the persistence the manager needs
type Store interface {
	LogSink
	CreateInstance(ctx context.Context, inst *domain.Instance) error
	GetInstance(ctx context.Context, id int64) (*domain.Instance, error)
	ListInstances(ctx context.Context) ([]domain.Instance, error)
	DeleteInstance(ctx context.Context, id int64) error
	GetConfig(ctx context.Context, id int64) (domain.InstanceConfig, error)
	GetRotation(ctx context.Context, id int64) ([]byte, error)
	SaveRotation(ctx context.Context, id int64, doc []byte) error
	DeleteRotation(ctx context.Context, id int64) error
	ListPermissionGrants(ctx context.Context, id int64) ([]domain.PermissionGrant, error)
	ResolvePermissions(ctx context.Context, id, guildID, userID int64, roleIDs []int64) (domain.PermissionSet, error)
	GetSelection(ctx context.Context, userID int64) (int64, error)
	SetSelection(ctx context.Context, userID, instanceID int64) error
	PurgeLogs(ctx context.Context, before time.Time) (int64, error)
}

// DialFunc opens an authenticated session to an instance
type DialFunc func(ctx context.Context, inst domain.Instance) (Conn, error)

// Options configure a ServerManager. Zero durations fall back to defaults.
type Options struct {
	PollInterval  time.Duration
	ChatInterval  time.Duration
	StaleAfter    time.Duration
	GracePeriod   time.Duration
	LogRetention  time.Duration
	RCON          rcon.Options
	Querier       query.Querier
	Dial          DialFunc
	Logger        *slog.Logger
	EventBuffer   int
	PurgeInterval time.Duration
}

const (
	defaultPollInterval  = 15 * time.Second
	defaultChatInterval  = 5 * time.Second
	defaultLogRetention  = 5 * 24 * time.Hour
	defaultPurgeInterval = time.Hour
	defaultEventBuffer   = 100
)

// ServerManager is the session registry: one poller and poll loop per
// connected server
type ServerManager struct {
	opts  Options
	store Store
	log   *slog.Logger

	mu      sync.RWMutex
	servers map[int64]*serverState
	ctx     context.Context // parent of the poll loops, set by Start

	subMu   sync.Mutex
	subs    map[int]chan domain.Event
	nextSub int

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup // track goroutine completion for graceful shutdown
}

// serverState is one connected server
type serverState struct {
	poller *Poller
	cancel context.CancelFunc
}

// NewServerManager creates a new manager
func NewServerManager(store Store, opts Options) *ServerManager {
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.ChatInterval <= 0 {
		opts.ChatInterval = defaultChatInterval
	}
	if opts.LogRetention <= 0 {
		opts.LogRetention = defaultLogRetention
	}
	if opts.PurgeInterval <= 0 {
		opts.PurgeInterval = defaultPurgeInterval
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = defaultEventBuffer
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	m := &ServerManager{
		opts:    opts,
		store:   store,
		log:     logger,
		servers: make(map[int64]*serverState),
		ctx:     context.Background(),
		subs:    make(map[int]chan domain.Event),
		done:    make(chan struct{}),
	}
	if m.opts.Dial == nil {
		m.opts.Dial = m.dialRCON
	}
	return m
}

func (m *ServerManager) dialRCON(ctx context.Context, inst domain.Instance) (Conn, error) {
	opts := m.opts.RCON
	if opts.Logger == nil {
		opts.Logger = m.log
	}
	conn, err := rcon.Dial(ctx, inst.RCONAddr(), inst.Password, opts)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Subscribe returns a channel receiving every event and a function that
// ends the subscription. Events are dropped for subscribers that fall behind.
func (m *ServerManager) Subscribe() (<-chan domain.Event, func()) {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	id := m.nextSub
	m.nextSub++
	ch := make(chan domain.Event, m.opts.EventBuffer)
	m.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.subMu.Lock()
			defer m.subMu.Unlock()
			delete(m.subs, id)
			close(ch)
		})
	}
}

func (m *ServerManager) emitEvent(event domain.Event) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for _, ch := range m.subs {
		select {
		case ch <- event:
		default:
			// Subscriber full, drop event
		}
	}
}

// Start connects every stored instance and begins polling. Servers that
// cannot be reached are logged and left disconnected.
func (m *ServerManager) Start(ctx context.Context) error {
	m.mu.Lock()
	m.ctx = ctx
	m.mu.Unlock()

	instances, err := m.store.ListInstances(ctx)
	if err != nil {
		return fmt.Errorf("loading instances: %w", err)
	}
	for _, inst := range instances {
		if err := m.Connect(ctx, inst.ID); err != nil {
			m.log.Error("failed to connect", "server_id", inst.ID, "name", inst.Name, "error", err)
		}
	}

	m.wg.Add(1)
	go m.purgeLoop(ctx)

	m.log.Info("server manager started", "servers", len(instances), "connected", len(m.ServerIDs()))
	return nil
}

// Stop ends every poll loop and closes every session
func (m *ServerManager) Stop() {
	m.stopOnce.Do(func() {
		m.log.Info("server manager stopping")
		close(m.done)

		m.mu.Lock()
		servers := m.servers
		m.servers = make(map[int64]*serverState)
		m.mu.Unlock()

		for _, state := range servers {
			state.cancel()
			state.poller.Close()
		}
		m.wg.Wait()
		m.log.Info("server manager shutdown complete")
	})
}

// AddInstance verifies the credentials by opening and closing a session,
// then stores the instance and connects it
func (m *ServerManager) AddInstance(ctx context.Context, inst *domain.Instance) error {
	conn, err := m.opts.Dial(ctx, *inst)
	if err != nil {
		return err
	}
	conn.Close()

	if err := m.store.CreateInstance(ctx, inst); err != nil {
		return err
	}
	return m.Connect(ctx, inst.ID)
}

// Connect opens a session to a stored instance, runs a first refresh and
// starts its poll loop. Connecting a connected server is a no-op.
func (m *ServerManager) Connect(ctx context.Context, serverID int64) error {
	if m.connected(serverID) {
		return nil
	}

	inst, err := m.store.GetInstance(ctx, serverID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%w: %d", ErrUnknownServer, serverID)
		}
		return err
	}
	cfg, err := m.store.GetConfig(ctx, serverID)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	conn, err := m.opts.Dial(ctx, *inst)
	if err != nil {
		return err
	}

	poller := NewPoller(PollerConfig{
		Instance:    *inst,
		Conn:        conn,
		Logs:        m.store,
		Querier:     m.opts.Querier,
		Config:      cfg,
		Emit:        m.emitEvent,
		Logger:      m.log,
		StaleAfter:  m.opts.StaleAfter,
		GracePeriod: m.opts.GracePeriod,
	})
	if inst.UsesCustomRotation {
		if err := m.loadRotation(ctx, poller); err != nil {
			m.log.Warn("custom rotation disabled", "server_id", serverID, "error", err)
		}
	}

	if err := poller.Refresh(ctx); err != nil {
		conn.Close()
		return err
	}

	m.mu.Lock()
	if _, ok := m.servers[serverID]; ok {
		// lost a race with another Connect
		m.mu.Unlock()
		conn.Close()
		return nil
	}
	loopCtx, cancel := context.WithCancel(m.ctx)
	state := &serverState{poller: poller, cancel: cancel}
	m.servers[serverID] = state
	m.mu.Unlock()

	m.wg.Add(1)
	go m.pollLoop(loopCtx, serverID, state)

	m.log.Info("server connected", "server_id", serverID, "name", inst.Name, "addr", inst.RCONAddr())
	return nil
}

func (m *ServerManager) loadRotation(ctx context.Context, p *Poller) error {
	doc, err := m.store.GetRotation(ctx, p.Instance().ID)
	if err != nil {
		return err
	}
	r, err := rotation.Parse(doc)
	if err != nil {
		return err
	}
	p.SetRotation(rotation.NewEngine(r, nil))
	return nil
}

// Disconnect stops polling a server and closes its session. A refresh in
// progress fails on its own.
func (m *ServerManager) Disconnect(serverID int64) error {
	m.mu.Lock()
	state, ok := m.servers[serverID]
	delete(m.servers, serverID)
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %d", ErrNotConnected, serverID)
	}
	state.cancel()
	state.poller.Close()
	m.log.Info("server disconnected", "server_id", serverID)
	return nil
}

// Delete disconnects a server and removes it with all its data
func (m *ServerManager) Delete(ctx context.Context, serverID int64) error {
	if err := m.Disconnect(serverID); err != nil && !errors.Is(err, ErrNotConnected) {
		return err
	}
	if err := m.store.DeleteInstance(ctx, serverID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%w: %d", ErrUnknownServer, serverID)
		}
		return err
	}
	return nil
}

func (m *ServerManager) connected(serverID int64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.servers[serverID]
	return ok
}

// ServerIDs returns the connected servers in ID order
func (m *ServerManager) ServerIDs() []int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]int64, 0, len(m.servers))
	for id := range m.servers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Poller returns the poller of a connected server
func (m *ServerManager) Poller(serverID int64) (*Poller, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, ok := m.servers[serverID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrNotConnected, serverID)
	}
	return state.poller, nil
}

// GetServerStatus refreshes a stale snapshot and returns it. When the server
// cannot be reached but the grace period has not run out, the cached
// snapshot is returned.
func (m *ServerManager) GetServerStatus(ctx context.Context, serverID int64) (domain.ServerStatus, error) {
	p, err := m.Poller(serverID)
	if err != nil {
		return domain.ServerStatus{}, err
	}
	if err := p.Sync(ctx); err != nil {
		if !m.handleRefreshError(serverID, p, err) {
			return domain.ServerStatus{}, err
		}
	}
	return p.Status(), nil
}

// Refresh forces a refresh of one server
func (m *ServerManager) Refresh(ctx context.Context, serverID int64) error {
	p, err := m.Poller(serverID)
	if err != nil {
		return err
	}
	if err := p.Refresh(ctx); err != nil {
		m.handleRefreshError(serverID, p, err)
		return err
	}
	return nil
}

// GetAllStatuses returns the cached status of every connected server
func (m *ServerManager) GetAllStatuses() []domain.ServerStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	statuses := make([]domain.ServerStatus, 0, len(m.servers))
	for _, state := range m.servers {
		statuses = append(statuses, state.poller.Status())
	}

	// Sort by server ID for consistent ordering
	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].ServerID < statuses[j].ServerID
	})
	return statuses
}

// ExecuteRcon sends a raw command and records it in the rcon log
func (m *ServerManager) ExecuteRcon(ctx context.Context, serverID int64, actor, command string) (string, error) {
	p, err := m.Poller(serverID)
	if err != nil {
		return "", err
	}
	res, err := p.Client().Raw(ctx, command)
	if err != nil {
		return "", err
	}
	if err := m.store.AddLogs(ctx, serverID, domain.LogRCON, fmt.Sprintf("%s executed %q", actor, command)); err != nil {
		m.log.Warn("failed to store logs", "server_id", serverID, "error", err)
	}
	return res, nil
}

// ReloadConfig applies stored configuration changes to a connected server
func (m *ServerManager) ReloadConfig(ctx context.Context, serverID int64) error {
	p, err := m.Poller(serverID)
	if err != nil {
		if errors.Is(err, ErrNotConnected) {
			return nil
		}
		return err
	}
	cfg, err := m.store.GetConfig(ctx, serverID)
	if err != nil {
		return err
	}
	p.SetConfig(cfg)
	return nil
}

// SetRotation validates and stores a rotation document and activates it
func (m *ServerManager) SetRotation(ctx context.Context, serverID int64, doc []byte) (*rotation.Rotation, error) {
	r, err := rotation.Parse(doc)
	if err != nil {
		return nil, err
	}
	if err := m.store.SaveRotation(ctx, serverID, doc); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %d", ErrUnknownServer, serverID)
		}
		return nil, err
	}
	if p, err := m.Poller(serverID); err == nil {
		p.SetRotation(rotation.NewEngine(r, nil))
	}
	return r, nil
}

// ClearRotation disables the custom rotation
func (m *ServerManager) ClearRotation(ctx context.Context, serverID int64) error {
	if err := m.store.DeleteRotation(ctx, serverID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%w: %d", ErrUnknownServer, serverID)
		}
		return err
	}
	if p, err := m.Poller(serverID); err == nil {
		p.SetRotation(nil)
	}
	return nil
}

// Permissions resolves what a chat user may do on a server
func (m *ServerManager) Permissions(ctx context.Context, serverID, guildID, userID int64, roleIDs []int64) (domain.PermissionSet, error) {
	perms, err := m.store.ResolvePermissions(ctx, serverID, guildID, userID, roleIDs)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, fmt.Errorf("%w: %d", ErrUnknownServer, serverID)
	}
	return perms, err
}

// SelectedServer returns the server a chat user works on. Without a valid
// selection it falls back to the first server the user has any permission
// on, and returns ErrNoSelection when there is none.
func (m *ServerManager) SelectedServer(ctx context.Context, userID, guildID int64, roleIDs []int64) (int64, error) {
	selected, err := m.store.GetSelection(ctx, userID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return 0, err
	}

	instances, err := m.store.ListInstances(ctx)
	if err != nil {
		return 0, err
	}
	for _, inst := range instances {
		if inst.ID == selected {
			return selected, nil
		}
	}

	for i := range instances {
		grants, err := m.store.ListPermissionGrants(ctx, instances[i].ID)
		if err != nil {
			return 0, err
		}
		if domain.ResolvePermissions(&instances[i], guildID, userID, roleIDs, grants) != 0 {
			return instances[i].ID, nil
		}
	}
	return 0, ErrNoSelection
}

// Select stores the server a chat user works on
func (m *ServerManager) Select(ctx context.Context, userID, serverID int64) error {
	if _, err := m.store.GetInstance(ctx, serverID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%w: %d", ErrUnknownServer, serverID)
		}
		return err
	}
	return m.store.SetSelection(ctx, userID, serverID)
}

// pollLoop refreshes one server on the poll interval and flushes chat in between
func (m *ServerManager) pollLoop(ctx context.Context, serverID int64, state *serverState) {
	defer m.wg.Done()
	poll := time.NewTicker(m.opts.PollInterval)
	defer poll.Stop()
	chat := time.NewTicker(m.opts.ChatInterval)
	defer chat.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ctx.Done():
			return
		case <-poll.C:
			if err := state.poller.Refresh(ctx); err != nil {
				m.handleRefreshError(serverID, state.poller, err)
			}
		case <-chat.C:
			if err := state.poller.FlushChat(ctx); err != nil {
				m.handleRefreshError(serverID, state.poller, err)
			}
		}
	}
}

// handleRefreshError drops the session once its grace period has expired.
// It reports whether the cached snapshot is still usable.
func (m *ServerManager) handleRefreshError(serverID int64, p *Poller, err error) bool {
	var lost *ConnectionLostError
	if !errors.As(err, &lost) {
		m.log.Warn("refresh failed", "server_id", serverID, "error", err)
		return false
	}
	if !lost.Expired {
		return true
	}

	m.mu.Lock()
	state, ok := m.servers[serverID]
	if ok && state.poller == p {
		delete(m.servers, serverID)
	}
	m.mu.Unlock()
	if !ok || state.poller != p {
		return false
	}

	state.cancel()
	p.Close()
	m.log.Error("dropping server after grace period", "server_id", serverID,
		"last_update", lost.LastUpdate, "error", lost.Err)
	m.emitEvent(domain.Event{
		Type:      domain.EventConnectionLost,
		ServerID:  serverID,
		Timestamp: time.Now().UTC(),
		Data:      domain.ConnectionLostEvent{Error: lost.Err.Error(), Dropped: true},
	})
	return false
}

// purgeLoop periodically removes logs older than the retention period
func (m *ServerManager) purgeLoop(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.opts.PurgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.purgeLogs(ctx)
		}
	}
}

func (m *ServerManager) purgeLogs(ctx context.Context) {
	count, err := m.store.PurgeLogs(ctx, time.Now().Add(-m.opts.LogRetention))
	if err != nil {
		m.log.Error("failed to purge logs", "error", err)
	} else if count > 0 {
		m.log.Info("purged old logs", "count", count)
	}
}
