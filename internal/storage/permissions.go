package storage

import (
	"context"
	"fmt"

	"github.com/ernie/warden/internal/domain"
)

// SetPermissions stores a grant. A grant without permissions is removed.
func (s *Store) SetPermissions(ctx context.Context, g domain.PermissionGrant) error {
	if g.Type != domain.GrantUser && g.Type != domain.GrantRole {
		return fmt.Errorf("invalid grant type %q", g.Type)
	}
	if g.Perms == 0 {
		return s.DeletePermissions(ctx, g.ServerID, g.TargetID, g.Type)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO permissions (instance_id, target_id, perms_type, perms) VALUES (?, ?, ?, ?)
		ON CONFLICT(instance_id, target_id, perms_type) DO UPDATE SET perms = excluded.perms
	`, g.ServerID, g.TargetID, g.Type, g.Perms.Int())
	return err
}

// DeletePermissions removes the grant of a user or role
func (s *Store) DeletePermissions(ctx context.Context, instanceID, targetID int64, grantType string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM permissions WHERE instance_id = ? AND target_id = ? AND perms_type = ?
	`, instanceID, targetID, grantType)
	return err
}

// ListPermissionGrants returns every grant of an instance
func (s *Store) ListPermissionGrants(ctx context.Context, instanceID int64) ([]domain.PermissionGrant, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT instance_id, target_id, perms_type, perms FROM permissions
		WHERE instance_id = ? ORDER BY perms_type, target_id
	`, instanceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var grants []domain.PermissionGrant
	for rows.Next() {
		var g domain.PermissionGrant
		var perms int64
		if err := rows.Scan(&g.ServerID, &g.TargetID, &g.Type, &perms); err != nil {
			return nil, err
		}
		g.Perms = domain.PermissionSet(perms)
		grants = append(grants, g)
	}
	return grants, rows.Err()
}

// ResolvePermissions overlays guild default, role grants and the user grant
// for one user on one instance
func (s *Store) ResolvePermissions(ctx context.Context, instanceID, guildID, userID int64, roleIDs []int64) (domain.PermissionSet, error) {
	inst, err := s.GetInstance(ctx, instanceID)
	if err != nil {
		return 0, err
	}
	grants, err := s.ListPermissionGrants(ctx, instanceID)
	if err != nil {
		return 0, err
	}
	return domain.ResolvePermissions(inst, guildID, userID, roleIDs, grants), nil
}
