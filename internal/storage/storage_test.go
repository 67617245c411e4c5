package storage

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ernie/warden/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "warden.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func createInstance(t *testing.T, s *Store, port int) *domain.Instance {
	t.Helper()
	inst := &domain.Instance{
		Name:         "Server " + string(rune('A'+port%26)),
		Address:      "127.0.0.1",
		Port:         port,
		Password:     "secret",
		OwnerID:      1000,
		GuildID:      555,
		Game:         domain.GameSquad,
		DefaultPerms: 5,
	}
	require.NoError(t, s.CreateInstance(context.Background(), inst))
	require.NotZero(t, inst.ID)
	return inst
}

func TestInstances(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := createInstance(t, s, 21114)
	createInstance(t, s, 21115)

	dup := &domain.Instance{Name: "dup", Address: "127.0.0.1", Port: 21114, Password: "x", OwnerID: 1}
	assert.ErrorIs(t, s.CreateInstance(ctx, dup), ErrDuplicateAddress)

	got, err := s.GetInstance(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.Name, got.Name)
	assert.Equal(t, "secret", got.Password)
	assert.Equal(t, int64(555), got.GuildID)
	assert.Equal(t, domain.PermissionSet(5), got.DefaultPerms)
	assert.False(t, got.UsesCustomRotation)

	got.Name = "Renamed"
	got.QueryPort = 27165
	require.NoError(t, s.UpdateInstance(ctx, got))

	list, err := s.ListInstances(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "Renamed", list[0].Name)
	assert.Equal(t, 27165, list[0].QueryPort)

	_, err = s.GetInstance(ctx, 999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteInstanceCascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	inst := createInstance(t, s, 21114)

	require.NoError(t, s.AddLogs(ctx, inst.ID, domain.LogJoins, "Bob connected"))
	require.NoError(t, s.SaveRotation(ctx, inst.ID, []byte("maps: [A]")))
	require.NoError(t, s.SetPermissions(ctx, domain.PermissionGrant{ServerID: inst.ID, TargetID: 7, Type: domain.GrantUser, Perms: 1}))
	require.NoError(t, s.SetSelection(ctx, 7, inst.ID))

	require.NoError(t, s.DeleteInstance(ctx, inst.ID))
	assert.ErrorIs(t, s.DeleteInstance(ctx, inst.ID), ErrNotFound)

	logs, err := s.ListLogs(ctx, inst.ID, LogFilter{})
	require.NoError(t, err)
	assert.Empty(t, logs)
	_, err = s.GetRotation(ctx, inst.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	grants, err := s.ListPermissionGrants(ctx, inst.ID)
	require.NoError(t, err)
	assert.Empty(t, grants)
	_, err = s.GetSelection(ctx, 7)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestConfig(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	inst := createInstance(t, s, 21114)

	cfg, err := s.GetConfig(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, "!admin", cfg.ChatTriggerWords)
	assert.Equal(t, int64(555), cfg.GuildID)

	require.NoError(t, s.SetConfigValue(ctx, inst.ID, domain.ConfigChatTriggerCooldown, "30"))
	assert.Error(t, s.SetConfigValue(ctx, inst.ID, domain.ConfigChatTriggerCooldown, "soon"))
	assert.Error(t, s.SetConfigValue(ctx, inst.ID, "weather", "rain"))

	cfg, err = s.GetConfig(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, 30, cfg.ChatTriggerCooldown)

	cfg.ChatTriggerWords = "!admin,!help"
	cfg.ChatTriggerRequireReason = true
	cfg.ChannelLogChat = 42
	require.NoError(t, s.StoreConfig(ctx, inst.ID, cfg))

	got, err := s.GetConfig(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, cfg, got)
	assert.Equal(t, []string{"!admin", "!help"}, got.TriggerWords())
}

func TestResolvePermissions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	inst := createInstance(t, s, 21114)

	perms, err := s.ResolvePermissions(ctx, inst.ID, 555, 7, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.NewPermissionSet(domain.PermPublic, domain.PermChangeMap), perms)

	// another guild does not get the default
	perms, err = s.ResolvePermissions(ctx, inst.ID, 1, 7, nil)
	require.NoError(t, err)
	assert.Zero(t, perms)

	require.NoError(t, s.SetPermissions(ctx, domain.PermissionGrant{
		ServerID: inst.ID, TargetID: 7, Type: domain.GrantUser, Perms: domain.NewPermissionSet(domain.PermBan),
	}))
	perms, err = s.ResolvePermissions(ctx, inst.ID, 555, 7, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.NewPermissionSet(domain.PermBan), perms)

	perms, err = s.ResolvePermissions(ctx, inst.ID, 555, inst.OwnerID, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.AllPermissions, perms)

	// a zero grant removes the row
	require.NoError(t, s.SetPermissions(ctx, domain.PermissionGrant{ServerID: inst.ID, TargetID: 7, Type: domain.GrantUser}))
	grants, err := s.ListPermissionGrants(ctx, inst.ID)
	require.NoError(t, err)
	assert.Empty(t, grants)

	assert.Error(t, s.SetPermissions(ctx, domain.PermissionGrant{ServerID: inst.ID, TargetID: 7, Type: "channel", Perms: 1}))
}

func TestLogs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	inst := createInstance(t, s, 21114)
	other := createInstance(t, s, 21115)

	s.now = func() time.Time { return time.Date(2024, 3, 1, 9, 5, 0, 0, time.UTC) }
	require.NoError(t, s.AddLogs(ctx, inst.ID, domain.LogJoins, "Alpha connected", "Bravo connected"))
	require.NoError(t, s.AddLogs(ctx, other.ID, domain.LogJoins, "Charlie connected"))
	s.now = func() time.Time { return time.Date(2024, 3, 8, 21, 30, 0, 0, time.UTC) }
	require.NoError(t, s.AddLogs(ctx, inst.ID, domain.LogMatch, "Map changed from A to B. Match duration is unknown."))
	assert.Error(t, s.AddLogs(ctx, inst.ID, "gossip", "nope"))

	logs, err := s.ListLogs(ctx, inst.ID, LogFilter{})
	require.NoError(t, err)
	require.Len(t, logs, 3)
	assert.Equal(t, int64(3), logs[0].ID)
	assert.Equal(t, domain.LogMatch, logs[0].Category)

	logs, err = s.ListLogs(ctx, inst.ID, LogFilter{Category: domain.LogJoins, Limit: 1})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "Bravo connected", logs[0].Message)

	logs, err = s.ListLogs(ctx, inst.ID, LogFilter{AfterID: 1})
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, int64(2), logs[0].ID)
	assert.Equal(t, int64(3), logs[1].ID)

	logs, err = s.ListLogs(ctx, other.ID, LogFilter{})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, int64(1), logs[0].ID)

	var out strings.Builder
	n, err := s.ExportLogs(ctx, inst.ID, &out)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t,
		"[01-03] [09:05] [JOINS] Alpha connected\n"+
			"[01-03] [09:05] [JOINS] Bravo connected\n"+
			"[08-03] [21:30] [MATCH] Map changed from A to B. Match duration is unknown.\n",
		out.String())

	purged, err := s.PurgeLogs(ctx, time.Date(2024, 3, 3, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, int64(3), purged)

	logs, err = s.ListLogs(ctx, inst.ID, LogFilter{})
	require.NoError(t, err)
	require.Len(t, logs, 1)

	// ids keep increasing after a purge
	require.NoError(t, s.AddLogs(ctx, inst.ID, domain.LogChat, "[All] Alpha: hi"))
	logs, err = s.ListLogs(ctx, inst.ID, LogFilter{Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(4), logs[0].ID)
}

func TestRotationTogglesCustomFlag(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	inst := createInstance(t, s, 21114)

	require.NoError(t, s.SaveRotation(ctx, inst.ID, []byte("maps: [A, B]")))
	doc, err := s.GetRotation(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, "maps: [A, B]", string(doc))
	got, err := s.GetInstance(ctx, inst.ID)
	require.NoError(t, err)
	assert.True(t, got.UsesCustomRotation)

	require.NoError(t, s.DeleteRotation(ctx, inst.ID))
	got, err = s.GetInstance(ctx, inst.ID)
	require.NoError(t, err)
	assert.False(t, got.UsesCustomRotation)

	assert.ErrorIs(t, s.SaveRotation(ctx, 999, []byte("maps: [A]")), ErrNotFound)
}

func TestSelectionsAndClients(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := createInstance(t, s, 21114)
	b := createInstance(t, s, 21115)

	require.NoError(t, s.SetSelection(ctx, 7, a.ID))
	require.NoError(t, s.SetSelection(ctx, 7, b.ID))
	id, err := s.GetSelection(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, b.ID, id)

	require.NoError(t, s.CreateClient(ctx, "discord-bot", "hash", true))
	assert.Error(t, s.CreateClient(ctx, "discord-bot", "hash", false))

	c, err := s.GetClientByName(ctx, "discord-bot")
	require.NoError(t, err)
	assert.True(t, c.IsAdmin)
	assert.Nil(t, c.LastLogin)

	require.NoError(t, s.UpdateClientLastLogin(ctx, c.ID))
	c, err = s.GetClientByID(ctx, c.ID)
	require.NoError(t, err)
	assert.NotNil(t, c.LastLogin)

	clients, err := s.ListClients(ctx)
	require.NoError(t, err)
	assert.Len(t, clients, 1)

	require.NoError(t, s.DeleteClient(ctx, "discord-bot"))
	assert.ErrorIs(t, s.DeleteClient(ctx, "discord-bot"), ErrNotFound)
}
