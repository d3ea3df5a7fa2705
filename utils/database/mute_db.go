package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/memorial36b/aaravosbot/model"
)

// UpsertMuteRecord writes the mute record, overwriting the end time of an
// existing one.
func (s *Store) UpsertMuteRecord(ctx context.Context, record model.MuteRecord) error {
	query := `INSERT INTO muted (user_id, end_time) VALUES (:user_id, :end_time)
              ON CONFLICT(user_id) DO UPDATE SET end_time = excluded.end_time`
	if _, err := s.db.NamedExecContext(ctx, query, record); err != nil {
		return fmt.Errorf("failed to upsert mute record for user %s: %w", record.UserID, err)
	}
	return nil
}

// GetMuteRecord retrieves the mute record for a user.
func (s *Store) GetMuteRecord(ctx context.Context, userID string) (*model.MuteRecord, error) {
	var record model.MuteRecord
	err := s.db.GetContext(ctx, &record, "SELECT * FROM muted WHERE user_id = ?", userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get mute record for user %s: %w", userID, err)
	}
	return &record, nil
}

// ListMuteRecords returns all mute records.
func (s *Store) ListMuteRecords(ctx context.Context) ([]model.MuteRecord, error) {
	var records []model.MuteRecord
	if err := s.db.SelectContext(ctx, &records, "SELECT * FROM muted ORDER BY end_time"); err != nil {
		return nil, fmt.Errorf("failed to list mute records: %w", err)
	}
	return records, nil
}

// DeleteMuteRecord removes the mute record for a user.
func (s *Store) DeleteMuteRecord(ctx context.Context, userID string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM muted WHERE user_id = ?", userID); err != nil {
		return fmt.Errorf("failed to delete mute record for user %s: %w", userID, err)
	}
	return nil
}
