package storage

import (
	"context"
	"fmt"
	"time"
)

// Client is a chat front end allowed to call the API
type Client struct {
	ID         int64
	Name       string
	SecretHash string
	IsAdmin    bool
	CreatedAt  time.Time
	LastLogin  *time.Time
}

const clientColumns = `id, name, secret_hash, is_admin, created_at, last_login`

// CreateClient registers an API client
func (s *Store) CreateClient(ctx context.Context, name, secretHash string, isAdmin bool) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO api_clients (name, secret_hash, is_admin) VALUES (?, ?, ?)
	`, name, secretHash, isAdmin)
	return err
}

// GetClientByName retrieves a client by name
func (s *Store) GetClientByName(ctx context.Context, name string) (*Client, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+clientColumns+` FROM api_clients WHERE name = ?`, name)
	c, err := scanClient(row)
	if err != nil {
		return nil, notFound(err, "client", name)
	}
	return c, nil
}

// GetClientByID retrieves a client by ID
func (s *Store) GetClientByID(ctx context.Context, id int64) (*Client, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+clientColumns+` FROM api_clients WHERE id = ?`, id)
	c, err := scanClient(row)
	if err != nil {
		return nil, notFound(err, "client", id)
	}
	return c, nil
}

// ListClients returns all clients ordered by name
func (s *Store) ListClients(ctx context.Context) ([]Client, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+clientColumns+` FROM api_clients ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var clients []Client
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, err
		}
		clients = append(clients, *c)
	}
	return clients, rows.Err()
}

// DeleteClient removes a client by name
func (s *Store) DeleteClient(ctx context.Context, name string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM api_clients WHERE name = ?`, name)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("client %s: %w", name, ErrNotFound)
	}
	return nil
}

// UpdateClientLastLogin updates the last login timestamp
func (s *Store) UpdateClientLastLogin(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE api_clients SET last_login = ? WHERE id = ?`, formatTimestamp(s.now()), id)
	return err
}
