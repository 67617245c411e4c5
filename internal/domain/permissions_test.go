package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPermissionBits(t *testing.T) {
	assert.Equal(t, Permission(1), PermPublic)
	assert.Equal(t, Permission(4), PermChangeMap)
	assert.Equal(t, Permission(1024), PermBan)
	assert.Equal(t, Permission(32768), PermInstance)
	assert.Equal(t, "teamchange", PermTeamChange.String())

	set := PermissionSet(5)
	assert.Equal(t, []string{"public", "changemap"}, set.Names())
	assert.Equal(t, "public, changemap", set.String())
	assert.Equal(t, "None", PermissionSet(0).String())
	assert.True(t, set.Has(PermPublic, PermChangeMap))
	assert.False(t, set.Has(PermPublic, PermBan))
	assert.Equal(t, PermissionSet(1), set.Without(PermChangeMap))
	assert.Equal(t, PermissionSet(1029), set.With(PermBan))
	assert.Len(t, AllPermissions.Names(), 16)
}

func TestParsePermissions(t *testing.T) {
	set, err := ParsePermissions("5")
	require.NoError(t, err)
	assert.Equal(t, NewPermissionSet(PermPublic, PermChangeMap), set)

	set, err = ParsePermissions("kick, Ban")
	require.NoError(t, err)
	assert.Equal(t, NewPermissionSet(PermKick, PermBan), set)

	_, err = ParsePermissions("kick,fly")
	assert.Error(t, err)

	_, err = ParsePermissions("70000")
	assert.Error(t, err)
}

func TestResolvePermissions(t *testing.T) {
	inst := &Instance{ID: 1, OwnerID: 100, GuildID: 500, DefaultPerms: 5}

	t.Run("guild default", func(t *testing.T) {
		perms := ResolvePermissions(inst, 500, 200, nil, nil)
		assert.Equal(t, NewPermissionSet(PermPublic, PermChangeMap), perms)
	})

	t.Run("other guild gets nothing", func(t *testing.T) {
		assert.Equal(t, PermissionSet(0), ResolvePermissions(inst, 501, 200, nil, nil))
	})

	t.Run("user grant replaces default", func(t *testing.T) {
		grants := []PermissionGrant{{ServerID: 1, TargetID: 200, Type: GrantUser, Perms: NewPermissionSet(PermBan)}}
		perms := ResolvePermissions(inst, 500, 200, nil, grants)
		assert.Equal(t, NewPermissionSet(PermBan), perms)
		assert.False(t, perms.Has(PermPublic))
	})

	t.Run("role grant then user grant", func(t *testing.T) {
		grants := []PermissionGrant{
			{ServerID: 1, TargetID: 10, Type: GrantRole, Perms: NewPermissionSet(PermKick)},
			{ServerID: 1, TargetID: 11, Type: GrantRole, Perms: NewPermissionSet(PermLogs)},
		}
		assert.Equal(t, NewPermissionSet(PermLogs), ResolvePermissions(inst, 500, 200, []int64{10, 11}, grants))
		assert.Equal(t, NewPermissionSet(PermKick), ResolvePermissions(inst, 500, 200, []int64{11, 10}, grants))

		grants = append(grants, PermissionGrant{ServerID: 1, TargetID: 200, Type: GrantUser, Perms: NewPermissionSet(PermMessage)})
		assert.Equal(t, NewPermissionSet(PermMessage), ResolvePermissions(inst, 500, 200, []int64{10, 11}, grants))
	})

	t.Run("owner has everything", func(t *testing.T) {
		grants := []PermissionGrant{{ServerID: 1, TargetID: 100, Type: GrantUser, Perms: 1}}
		assert.Equal(t, AllPermissions, ResolvePermissions(inst, 0, 100, nil, grants))
	})
}
