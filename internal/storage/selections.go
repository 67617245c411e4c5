package storage

import "context"

// GetSelection returns the instance a chat user last selected
func (s *Store) GetSelection(ctx context.Context, userID int64) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `SELECT instance_id FROM selections WHERE user_id = ?`, userID).Scan(&id)
	if err != nil {
		return 0, notFound(err, "selection for user", userID)
	}
	return id, nil
}

// SetSelection remembers the instance a chat user works on
func (s *Store) SetSelection(ctx context.Context, userID, instanceID int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO selections (user_id, instance_id) VALUES (?, ?)
		ON CONFLICT(user_id) DO UPDATE SET instance_id = excluded.instance_id
	`, userID, instanceID)
	return err
}
