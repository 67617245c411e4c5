package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ernie/warden/internal/domain"
)

// ErrDuplicateAddress is returned when another instance already uses address:port
var ErrDuplicateAddress = errors.New("an instance with this address and port already exists")

// CreateInstance stores a new instance with the default configuration and
// sets inst.ID. inst.GuildID is stored as the guild_id config value.
func (s *Store) CreateInstance(ctx context.Context, inst *domain.Instance) error {
	if inst.Game == "" {
		inst.Game = domain.GameSquad
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		INSERT INTO instances (name, address, port, query_port, password, owner_id, game, default_perms, uses_custom_rotation)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, inst.Name, inst.Address, inst.Port, inst.QueryPort, inst.Password, inst.OwnerID,
		string(inst.Game), inst.DefaultPerms.Int(), inst.UsesCustomRotation)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return ErrDuplicateAddress
		}
		return err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}

	cfg := domain.DefaultInstanceConfig()
	cfg.GuildID = inst.GuildID
	for key, value := range cfg.Values() {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO config (instance_id, key, value) VALUES (?, ?, ?)
		`, id, key, value); err != nil {
			return fmt.Errorf("storing default config: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	inst.ID = id
	return nil
}

// UpdateInstance saves the credentials, name, game and default permissions
func (s *Store) UpdateInstance(ctx context.Context, inst *domain.Instance) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE instances
		SET name = ?, address = ?, port = ?, query_port = ?, password = ?, owner_id = ?, game = ?, default_perms = ?
		WHERE id = ?
	`, inst.Name, inst.Address, inst.Port, inst.QueryPort, inst.Password, inst.OwnerID,
		string(inst.Game), inst.DefaultPerms.Int(), inst.ID)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return ErrDuplicateAddress
		}
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("instance %d: %w", inst.ID, ErrNotFound)
	}
	return nil
}

// GetInstance returns an instance by ID
func (s *Store) GetInstance(ctx context.Context, id int64) (*domain.Instance, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+instanceColumns+` FROM instances i WHERE i.id = ?`, id)
	inst, err := scanInstance(row)
	if err != nil {
		return nil, notFound(err, "instance", id)
	}
	return inst, nil
}

// ListInstances returns all instances ordered by ID
func (s *Store) ListInstances(ctx context.Context) ([]domain.Instance, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+instanceColumns+` FROM instances i ORDER BY i.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var instances []domain.Instance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		instances = append(instances, *inst)
	}
	return instances, rows.Err()
}

// DeleteInstance removes an instance with its config, permissions, logs and rotation
func (s *Store) DeleteInstance(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM instances WHERE id = ?`, id)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("instance %d: %w", id, ErrNotFound)
	}
	return nil
}
