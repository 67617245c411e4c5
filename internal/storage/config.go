package storage

import (
	"context"
	"fmt"

	"github.com/ernie/warden/internal/domain"
)

// GetConfig returns the configuration of an instance. Keys without a stored
// value keep their defaults.
func (s *Store) GetConfig(ctx context.Context, instanceID int64) (domain.InstanceConfig, error) {
	cfg := domain.DefaultInstanceConfig()
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM config WHERE instance_id = ?`, instanceID)
	if err != nil {
		return cfg, err
	}
	defer rows.Close()

	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return cfg, err
		}
		// rows written by older versions may hold keys that no longer exist
		_ = cfg.Set(key, value)
	}
	return cfg, rows.Err()
}

// SetConfigValue validates and stores a single key
func (s *Store) SetConfigValue(ctx context.Context, instanceID int64, key, value string) error {
	var check domain.InstanceConfig
	if err := check.Set(key, value); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO config (instance_id, key, value) VALUES (?, ?, ?)
		ON CONFLICT(instance_id, key) DO UPDATE SET value = excluded.value
	`, instanceID, key, check.Values()[key])
	return err
}

// StoreConfig writes every key of cfg
func (s *Store) StoreConfig(ctx context.Context, instanceID int64, cfg domain.InstanceConfig) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	for key, value := range cfg.Values() {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO config (instance_id, key, value) VALUES (?, ?, ?)
			ON CONFLICT(instance_id, key) DO UPDATE SET value = excluded.value
		`, instanceID, key, value); err != nil {
			return err
		}
	}
	return tx.Commit()
}
