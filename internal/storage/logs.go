package storage

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/ernie/warden/internal/domain"
)

const defaultLogLimit = 50

// LogFilter narrows ListLogs
type LogFilter struct {
	Category string // empty for all
	Limit    int
	BeforeID int64 // 0 for the newest entries
	AfterID  int64 // when set, entries newer than this id, oldest first
}

// AddLogs appends messages to an instance's log with consecutive ids
func (s *Store) AddLogs(ctx context.Context, instanceID int64, category string, messages ...string) error {
	if len(messages) == 0 {
		return nil
	}
	if !domain.IsLogCategory(category) {
		return fmt.Errorf("unknown log category %q", category)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	var last int64
	if err := tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(log_id), 0) FROM logs WHERE instance_id = ?
	`, instanceID).Scan(&last); err != nil {
		return err
	}

	ts := formatTimestamp(s.now())
	for i, msg := range messages {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO logs (instance_id, log_id, category, message, timestamp) VALUES (?, ?, ?, ?, ?)
		`, instanceID, last+int64(i)+1, category, msg, ts); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ListLogs returns entries newest first, or oldest first when f.AfterID is set
func (s *Store) ListLogs(ctx context.Context, instanceID int64, f LogFilter) ([]domain.LogEntry, error) {
	if f.Limit <= 0 {
		f.Limit = defaultLogLimit
	}
	query := `SELECT instance_id, log_id, category, message, timestamp FROM logs WHERE instance_id = ?`
	args := []any{instanceID}
	if f.Category != "" {
		query += ` AND category = ?`
		args = append(args, f.Category)
	}
	if f.BeforeID > 0 {
		query += ` AND log_id < ?`
		args = append(args, f.BeforeID)
	}
	order := "DESC"
	if f.AfterID > 0 {
		query += ` AND log_id > ?`
		args = append(args, f.AfterID)
		order = "ASC"
	}
	query += ` ORDER BY log_id ` + order + ` LIMIT ?`
	args = append(args, f.Limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []domain.LogEntry{}
	for rows.Next() {
		var e domain.LogEntry
		if err := rows.Scan(&e.ServerID, &e.ID, &e.Category, &e.Message, &e.Timestamp); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ExportLogs writes every entry of an instance, oldest first, one formatted
// line per entry
func (s *Store) ExportLogs(ctx context.Context, instanceID int64, w io.Writer) (int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT instance_id, log_id, category, message, timestamp FROM logs
		WHERE instance_id = ? ORDER BY log_id
	`, instanceID)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	n := 0
	for rows.Next() {
		var e domain.LogEntry
		if err := rows.Scan(&e.ServerID, &e.ID, &e.Category, &e.Message, &e.Timestamp); err != nil {
			return n, err
		}
		if _, err := io.WriteString(w, e.Format()+"\n"); err != nil {
			return n, err
		}
		n++
	}
	return n, rows.Err()
}

// PurgeLogs deletes entries older than before and returns how many were removed
func (s *Store) PurgeLogs(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM logs WHERE timestamp < ?`, formatTimestamp(before))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
