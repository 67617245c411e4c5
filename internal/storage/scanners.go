package storage

import (
	"database/sql"
	"time"

	"github.com/ernie/warden/internal/domain"
)

func scanNullTime(nt sql.NullTime) *time.Time {
	if nt.Valid {
		return &nt.Time
	}
	return nil
}

// scanner is an interface satisfied by both *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...any) error
}

const instanceColumns = `
	i.id, i.name, i.address, i.port, i.query_port, i.password, i.owner_id, i.game,
	i.default_perms, i.uses_custom_rotation, i.created_at,
	COALESCE((SELECT CAST(value AS INTEGER) FROM config c WHERE c.instance_id = i.id AND c.key = 'guild_id'), 0)`

// scanInstance scans an instance row selected with instanceColumns
func scanInstance(s scanner) (*domain.Instance, error) {
	var inst domain.Instance
	var game string
	var perms int64
	err := s.Scan(&inst.ID, &inst.Name, &inst.Address, &inst.Port, &inst.QueryPort, &inst.Password,
		&inst.OwnerID, &game, &perms, &inst.UsesCustomRotation, &inst.CreatedAt, &inst.GuildID)
	if err != nil {
		return nil, err
	}
	inst.Game = domain.Game(game)
	inst.DefaultPerms = domain.PermissionSet(perms)
	return &inst, nil
}

// scanClient scans an API client row
func scanClient(s scanner) (*Client, error) {
	var c Client
	var lastLogin sql.NullTime
	if err := s.Scan(&c.ID, &c.Name, &c.SecretHash, &c.IsAdmin, &c.CreatedAt, &lastLogin); err != nil {
		return nil, err
	}
	c.LastLogin = scanNullTime(lastLogin)
	return &c, nil
}
