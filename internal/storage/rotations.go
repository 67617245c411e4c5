package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// GetRotation returns the stored rotation document of an instance
func (s *Store) GetRotation(ctx context.Context, instanceID int64) ([]byte, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT document FROM rotations WHERE instance_id = ?`, instanceID).Scan(&doc)
	if err != nil {
		return nil, notFound(err, "rotation for instance", instanceID)
	}
	return []byte(doc), nil
}

// SaveRotation stores a rotation document and enables the custom rotation
func (s *Store) SaveRotation(ctx context.Context, instanceID int64, doc []byte) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO rotations (instance_id, document, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(instance_id) DO UPDATE SET document = excluded.document, updated_at = excluded.updated_at
	`, instanceID, string(doc), formatTimestamp(s.now())); err != nil {
		return err
	}
	if err := setCustomRotation(ctx, tx, instanceID, true); err != nil {
		return err
	}
	return tx.Commit()
}

// DeleteRotation removes the rotation document and disables the custom rotation
func (s *Store) DeleteRotation(ctx context.Context, instanceID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM rotations WHERE instance_id = ?`, instanceID); err != nil {
		return err
	}
	if err := setCustomRotation(ctx, tx, instanceID, false); err != nil {
		return err
	}
	return tx.Commit()
}

func setCustomRotation(ctx context.Context, tx *sql.Tx, instanceID int64, enabled bool) error {
	result, err := tx.ExecContext(ctx, `UPDATE instances SET uses_custom_rotation = ? WHERE id = ?`, enabled, instanceID)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("instance %d: %w", instanceID, ErrNotFound)
	}
	return nil
}
