package domain

import (
	"fmt"
	"math/bits"
	"strconv"
	"strings"
)

// Permission is a single capability bit
type Permission uint16

// Bit order is persisted; append new permissions, never reorder.
const (
	PermPublic Permission = 1 << iota
	PermPlayers
	PermChangeMap
	PermCheat
	PermMessage
	PermLogs
	PermPassword
	PermTeamChange
	PermKick
	PermDisband
	PermBan
	PermConfig
	PermExecute
	PermManage
	PermCreds
	PermInstance
)

var permissionNames = []string{
	"public", "players", "changemap", "cheat", "message", "logs", "password", "teamchange",
	"kick", "disband", "ban", "config", "execute", "manage", "creds", "instance",
}

// PermissionSet is a set of permissions, stored as its integer value
type PermissionSet uint16

// AllPermissions is what an instance owner holds
const AllPermissions PermissionSet = 0xffff

// NewPermissionSet builds a set from individual permissions
func NewPermissionSet(perms ...Permission) PermissionSet {
	var s PermissionSet
	for _, p := range perms {
		s |= PermissionSet(p)
	}
	return s
}

// PermissionSetFromInt validates a persisted permissions integer
func PermissionSetFromInt(v int64) (PermissionSet, error) {
	if v < 0 || v > int64(AllPermissions) {
		return 0, fmt.Errorf("permissions value %d out of range 0-%d", v, AllPermissions)
	}
	return PermissionSet(v), nil
}

// ParsePermissions accepts an integer or a comma separated list of names
func ParsePermissions(s string) (PermissionSet, error) {
	s = strings.TrimSpace(s)
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return PermissionSetFromInt(v)
	}

	var set PermissionSet
	for _, name := range strings.Split(s, ",") {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		p, ok := PermissionByName(name)
		if !ok {
			return 0, fmt.Errorf("unknown permission %q", name)
		}
		set |= PermissionSet(p)
	}
	return set, nil
}

// PermissionByName looks up a permission by its lowercase name
func PermissionByName(name string) (Permission, bool) {
	for i, n := range permissionNames {
		if n == name {
			return Permission(1 << i), true
		}
	}
	return 0, false
}

func (p Permission) String() string {
	if p == 0 || bits.OnesCount16(uint16(p)) != 1 {
		return fmt.Sprintf("Permission(%d)", uint16(p))
	}
	return permissionNames[bits.TrailingZeros16(uint16(p))]
}

// Has reports whether every given permission is in the set
func (s PermissionSet) Has(perms ...Permission) bool {
	for _, p := range perms {
		if s&PermissionSet(p) == 0 {
			return false
		}
	}
	return true
}

func (s PermissionSet) With(perms ...Permission) PermissionSet {
	return s | NewPermissionSet(perms...)
}

func (s PermissionSet) Without(perms ...Permission) PermissionSet {
	return s &^ NewPermissionSet(perms...)
}

// Names lists the permission names in bit order
func (s PermissionSet) Names() []string {
	names := []string{}
	for i, n := range permissionNames {
		if s&(1<<i) != 0 {
			names = append(names, n)
		}
	}
	return names
}

func (s PermissionSet) String() string {
	names := s.Names()
	if len(names) == 0 {
		return "None"
	}
	return strings.Join(names, ", ")
}

// Int returns the persisted representation
func (s PermissionSet) Int() int64 {
	return int64(s)
}

// PermissionGrant is an explicit permission row for a user or a role
type PermissionGrant struct {
	ServerID int64         `json:"server_id"`
	TargetID int64         `json:"target_id"`
	Type     string        `json:"type"` // GrantUser or GrantRole
	Perms    PermissionSet `json:"perms"`
}

const (
	GrantUser = "user"
	GrantRole = "role"
)

// ResolvePermissions overlays the guild default, role grants in the order the
// roles are given, and the user's own grant. Each layer replaces the previous
// one. The owner always holds every permission.
func ResolvePermissions(inst *Instance, guildID, userID int64, roleIDs []int64, grants []PermissionGrant) PermissionSet {
	if inst.OwnerID == userID {
		return AllPermissions
	}

	var perms PermissionSet
	if guildID != 0 && inst.GuildID == guildID {
		perms = inst.DefaultPerms
	}

	for _, roleID := range roleIDs {
		for _, g := range grants {
			if g.Type == GrantRole && g.TargetID == roleID && g.Perms != 0 {
				perms = g.Perms
			}
		}
	}
	for _, g := range grants {
		if g.Type == GrantUser && g.TargetID == userID && g.Perms != 0 {
			perms = g.Perms
		}
	}
	return perms
}
