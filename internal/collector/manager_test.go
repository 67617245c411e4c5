package collector

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ernie/warden/internal/domain"
	"github.com/ernie/warden/internal/rcon"
	"github.com/ernie/warden/internal/storage"
)

type managerFixture struct {
	*ServerManager
	store *storage.Store

	mu      sync.Mutex
	conns   map[int]*fakeConn // by RCON port
	dialErr error
}

func newManagerFixture(t *testing.T, opts Options) *managerFixture {
	t.Helper()
	store, err := storage.New(filepath.Join(t.TempDir(), "warden.db"))
	require.NoError(t, err)

	f := &managerFixture{store: store, conns: map[int]*fakeConn{}}
	if opts.PollInterval == 0 {
		opts.PollInterval = time.Hour
	}
	if opts.ChatInterval == 0 {
		opts.ChatInterval = time.Hour
	}
	opts.Dial = f.dial
	f.ServerManager = NewServerManager(store, opts)

	t.Cleanup(func() {
		f.Stop()
		store.Close()
	})
	return f
}

func (f *managerFixture) dial(_ context.Context, inst domain.Instance) (Conn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dialErr != nil {
		return nil, f.dialErr
	}
	conn := newFakeConn()
	f.conns[inst.Port] = conn
	return conn, nil
}

func (f *managerFixture) conn(port int) *fakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conns[port]
}

func (f *managerFixture) add(t *testing.T, port int, perms domain.PermissionSet) *domain.Instance {
	t.Helper()
	inst := &domain.Instance{
		Name:         "Server",
		Address:      "127.0.0.1",
		Port:         port,
		Password:     "secret",
		OwnerID:      1000,
		GuildID:      555,
		DefaultPerms: perms,
	}
	require.NoError(t, f.AddInstance(context.Background(), inst))
	return inst
}

func waitForEvent(t *testing.T, events <-chan domain.Event, match func(domain.Event) bool) domain.Event {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-events:
			if match(ev) {
				return ev
			}
		case <-timeout:
			t.Fatal("timed out waiting for event")
			return domain.Event{}
		}
	}
}

func TestAddInstanceConnects(t *testing.T) {
	f := newManagerFixture(t, Options{})
	events, unsubscribe := f.Subscribe()
	defer unsubscribe()

	inst := f.add(t, 21114, 0)

	assert.Equal(t, []int64{inst.ID}, f.ServerIDs())
	status, err := f.GetServerStatus(context.Background(), inst.ID)
	require.NoError(t, err)
	assert.Equal(t, "Gorodok AAS v2", status.CurrentMap)
	assert.Equal(t, 3, status.PlayerCount)

	ev := waitForEvent(t, events, func(e domain.Event) bool { return e.Type == domain.EventServerUpdate })
	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, inst.ID, ev.ServerID)

	logs, err := f.store.ListLogs(context.Background(), inst.ID, storage.LogFilter{Category: domain.LogJoins})
	require.NoError(t, err)
	assert.Len(t, logs, 3)

	all := f.GetAllStatuses()
	require.Len(t, all, 1)
	assert.Equal(t, inst.ID, all[0].ServerID)
}

func TestAddInstanceRejectsBadCredentials(t *testing.T) {
	f := newManagerFixture(t, Options{})
	f.dialErr = &rcon.AuthError{Reason: "bad password"}

	inst := &domain.Instance{Name: "Bad", Address: "127.0.0.1", Port: 21114, Password: "wrong"}
	err := f.AddInstance(context.Background(), inst)
	assert.ErrorIs(t, err, rcon.ErrAuth)

	instances, err := f.store.ListInstances(context.Background())
	require.NoError(t, err)
	assert.Empty(t, instances)
}

func TestConnectUnknownServer(t *testing.T) {
	f := newManagerFixture(t, Options{})
	assert.ErrorIs(t, f.Connect(context.Background(), 99), ErrUnknownServer)
}

func TestDisconnectAndDelete(t *testing.T) {
	f := newManagerFixture(t, Options{})
	ctx := context.Background()
	inst := f.add(t, 21114, 0)

	require.NoError(t, f.Disconnect(inst.ID))
	assert.ErrorIs(t, f.Disconnect(inst.ID), ErrNotConnected)
	assert.Equal(t, rcon.StateDisconnected, f.conn(21114).State())

	_, err := f.GetServerStatus(ctx, inst.ID)
	assert.ErrorIs(t, err, ErrNotConnected)

	require.NoError(t, f.Connect(ctx, inst.ID))
	require.NoError(t, f.Delete(ctx, inst.ID))
	assert.Empty(t, f.ServerIDs())
	assert.ErrorIs(t, f.Delete(ctx, inst.ID), ErrUnknownServer)
}

func TestExecuteRconLogsCommand(t *testing.T) {
	f := newManagerFixture(t, Options{})
	ctx := context.Background()
	inst := f.add(t, 21114, 0)
	f.conn(21114).set("AdminBroadcast hello", "Message broadcasted")

	res, err := f.ExecuteRcon(ctx, inst.ID, "admin", "AdminBroadcast hello")
	require.NoError(t, err)
	assert.Equal(t, "Message broadcasted", res)

	logs, err := f.store.ListLogs(ctx, inst.ID, storage.LogFilter{Category: domain.LogRCON})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, `admin executed "AdminBroadcast hello"`, logs[0].Message)
}

func TestDropAfterGracePeriod(t *testing.T) {
	f := newManagerFixture(t, Options{GracePeriod: time.Millisecond})
	ctx := context.Background()
	inst := f.add(t, 21114, 0)
	events, unsubscribe := f.Subscribe()
	defer unsubscribe()

	f.conn(21114).fail("ShowNextMap", &rcon.TransportError{Op: "read", Err: io.ErrUnexpectedEOF})
	time.Sleep(5 * time.Millisecond)

	err := f.Refresh(ctx, inst.ID)
	require.ErrorIs(t, err, ErrConnectionLost)

	ev := waitForEvent(t, events, func(e domain.Event) bool {
		if e.Type != domain.EventConnectionLost {
			return false
		}
		return e.Data.(domain.ConnectionLostEvent).Dropped
	})
	assert.Equal(t, inst.ID, ev.ServerID)

	_, err = f.Poller(inst.ID)
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Equal(t, rcon.StateDisconnected, f.conn(21114).State())
}

func TestCachedStatusWithinGracePeriod(t *testing.T) {
	f := newManagerFixture(t, Options{StaleAfter: time.Nanosecond})
	ctx := context.Background()
	inst := f.add(t, 21114, 0)

	f.conn(21114).fail("ShowNextMap", &rcon.TransportError{Op: "write", Err: errors.New("broken pipe")})
	time.Sleep(time.Millisecond)

	status, err := f.GetServerStatus(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, status.PlayerCount)
	assert.Equal(t, []int64{inst.ID}, f.ServerIDs())
}

func TestRotationLifecycle(t *testing.T) {
	f := newManagerFixture(t, Options{})
	ctx := context.Background()
	inst := f.add(t, 21114, 0)

	_, err := f.SetRotation(ctx, inst.ID, []byte("maps: []"))
	assert.Error(t, err)

	r, err := f.SetRotation(ctx, inst.ID, []byte("maps: [Gorodok AAS v2, Yehorivka RAAS v1]"))
	require.NoError(t, err)
	assert.Len(t, r.Entries(), 2)

	stored, err := f.store.GetInstance(ctx, inst.ID)
	require.NoError(t, err)
	assert.True(t, stored.UsesCustomRotation)

	p, err := f.Poller(inst.ID)
	require.NoError(t, err)
	assert.NotNil(t, p.Cooldowns())

	require.NoError(t, f.ClearRotation(ctx, inst.ID))
	assert.Nil(t, p.Cooldowns())

	_, err = f.SetRotation(ctx, 99, []byte("maps: [A]"))
	assert.ErrorIs(t, err, ErrUnknownServer)
}

func TestConnectLoadsStoredRotation(t *testing.T) {
	f := newManagerFixture(t, Options{})
	ctx := context.Background()
	inst := f.add(t, 21114, 0)
	_, err := f.SetRotation(ctx, inst.ID, []byte("maps: [Gorodok AAS v2, Yehorivka RAAS v1]"))
	require.NoError(t, err)

	require.NoError(t, f.Disconnect(inst.ID))
	require.NoError(t, f.Connect(ctx, inst.ID))

	assert.Contains(t, f.conn(21114).sent(), "AdminSetNextMap Yehorivka RAAS v1")
}

func TestSelectedServer(t *testing.T) {
	f := newManagerFixture(t, Options{})
	ctx := context.Background()
	closed := f.add(t, 21114, 0)
	open := f.add(t, 21115, domain.NewPermissionSet(domain.PermPublic))

	// falls back to the first server with any permission
	id, err := f.SelectedServer(ctx, 42, 555, nil)
	require.NoError(t, err)
	assert.Equal(t, open.ID, id)

	// the owner has permissions everywhere
	id, err = f.SelectedServer(ctx, 1000, 555, nil)
	require.NoError(t, err)
	assert.Equal(t, closed.ID, id)

	_, err = f.SelectedServer(ctx, 42, 999, nil)
	assert.ErrorIs(t, err, ErrNoSelection)

	require.NoError(t, f.Select(ctx, 42, closed.ID))
	id, err = f.SelectedServer(ctx, 42, 555, nil)
	require.NoError(t, err)
	assert.Equal(t, closed.ID, id)

	assert.ErrorIs(t, f.Select(ctx, 42, 99), ErrUnknownServer)

	perms, err := f.Permissions(ctx, open.ID, 555, 42, nil)
	require.NoError(t, err)
	assert.True(t, perms.Has(domain.PermPublic))
	assert.False(t, perms.Has(domain.PermKick))
}

func TestReloadConfigAppliesTriggers(t *testing.T) {
	f := newManagerFixture(t, Options{})
	ctx := context.Background()
	inst := f.add(t, 21114, 0)
	events, unsubscribe := f.Subscribe()
	defer unsubscribe()

	require.NoError(t, f.store.SetConfigValue(ctx, inst.ID, domain.ConfigChatTriggerWords, "!help"))
	require.NoError(t, f.ReloadConfig(ctx, inst.ID))

	conn := f.conn(21114)
	conn.pushChat(time.Now(), "[ChatAll] [SteamID:76561198000000001] Alpha : !help me")
	p, err := f.Poller(inst.ID)
	require.NoError(t, err)
	require.NoError(t, p.FlushChat(ctx))

	ev := waitForEvent(t, events, func(e domain.Event) bool { return e.Type == domain.EventChatTrigger })
	assert.Equal(t, "!help", ev.Data.(domain.ChatTriggerEvent).Trigger)
}

func TestStartConnectsStoredInstances(t *testing.T) {
	f := newManagerFixture(t, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for _, port := range []int{21114, 21115} {
		inst := &domain.Instance{Name: "S", Address: "127.0.0.1", Port: port, Password: "x", OwnerID: 1}
		require.NoError(t, f.store.CreateInstance(ctx, inst))
	}
	require.NoError(t, f.Start(ctx))
	assert.Len(t, f.ServerIDs(), 2)
}
