package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/memorial36b/aaravosbot/model"
)

// CreateContactSession inserts a session row unless one already exists for
// the user, in which case ErrExists is returned.
func (s *Store) CreateContactSession(ctx context.Context, session model.ContactSession) error {
	query := `INSERT OR IGNORE INTO chat_info (user_id, channel_id, start_time, created_at)
              VALUES (:user_id, :channel_id, :start_time, :created_at)`
	result, err := s.db.NamedExecContext(ctx, query, session)
	if err != nil {
		return fmt.Errorf("failed to insert contact session for user %s: %w", session.UserID, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected for user %s: %w", session.UserID, err)
	}
	if rowsAffected == 0 {
		return ErrExists
	}
	return nil
}

// UpsertContactSession writes the session row, replacing any existing one.
func (s *Store) UpsertContactSession(ctx context.Context, session model.ContactSession) error {
	query := `INSERT INTO chat_info (user_id, channel_id, start_time, created_at)
              VALUES (:user_id, :channel_id, :start_time, :created_at)
              ON CONFLICT(user_id) DO UPDATE SET
                  channel_id = excluded.channel_id,
                  start_time = excluded.start_time,
                  created_at = excluded.created_at`
	if _, err := s.db.NamedExecContext(ctx, query, session); err != nil {
		return fmt.Errorf("failed to upsert contact session for user %s: %w", session.UserID, err)
	}
	return nil
}

// GetContactSession retrieves the session for a user.
func (s *Store) GetContactSession(ctx context.Context, userID string) (*model.ContactSession, error) {
	var session model.ContactSession
	err := s.db.GetContext(ctx, &session, "SELECT * FROM chat_info WHERE user_id = ?", userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get contact session for user %s: %w", userID, err)
	}
	return &session, nil
}

// GetContactSessionByChannel retrieves the session relayed through channelID.
func (s *Store) GetContactSessionByChannel(ctx context.Context, channelID string) (*model.ContactSession, error) {
	if channelID == "" {
		return nil, ErrNotFound
	}
	var session model.ContactSession
	err := s.db.GetContext(ctx, &session, "SELECT * FROM chat_info WHERE channel_id = ?", channelID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get contact session for channel %s: %w", channelID, err)
	}
	return &session, nil
}

// ListContactSessions returns every session row.
func (s *Store) ListContactSessions(ctx context.Context) ([]model.ContactSession, error) {
	var sessions []model.ContactSession
	if err := s.db.SelectContext(ctx, &sessions, "SELECT * FROM chat_info ORDER BY created_at"); err != nil {
		return nil, fmt.Errorf("failed to list contact sessions: %w", err)
	}
	return sessions, nil
}

// DeleteContactSession removes the session row for a user. Deleting a
// missing row is not an error.
func (s *Store) DeleteContactSession(ctx context.Context, userID string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM chat_info WHERE user_id = ?", userID); err != nil {
		return fmt.Errorf("failed to delete contact session for user %s: %w", userID, err)
	}
	return nil
}

// AppendChatLog adds one relayed message to the user's log.
func (s *Store) AppendChatLog(ctx context.Context, entry model.ChatLogEntry) error {
	query := `INSERT INTO chat_message_log (user_id, message, timestamp) VALUES (:user_id, :message, :timestamp)`
	if _, err := s.db.NamedExecContext(ctx, query, entry); err != nil {
		return fmt.Errorf("failed to append chat log for user %s: %w", entry.UserID, err)
	}
	return nil
}

// ListChatLog returns the user's log oldest first. Entries with the same
// timestamp keep insertion order.
func (s *Store) ListChatLog(ctx context.Context, userID string) ([]model.ChatLogEntry, error) {
	var entries []model.ChatLogEntry
	query := "SELECT * FROM chat_message_log WHERE user_id = ? ORDER BY timestamp, id"
	if err := s.db.SelectContext(ctx, &entries, query, userID); err != nil {
		return nil, fmt.Errorf("failed to list chat log for user %s: %w", userID, err)
	}
	return entries, nil
}

// DeleteChatLog removes all log entries for a user.
func (s *Store) DeleteChatLog(ctx context.Context, userID string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM chat_message_log WHERE user_id = ?", userID); err != nil {
		return fmt.Errorf("failed to delete chat log for user %s: %w", userID, err)
	}
	return nil
}

// CountContactSessions returns the number of confirmed and pending sessions.
func (s *Store) CountContactSessions(ctx context.Context) (active, pending int, err error) {
	query := `SELECT
                COALESCE(SUM(CASE WHEN channel_id != '' THEN 1 ELSE 0 END), 0),
                COALESCE(SUM(CASE WHEN channel_id = '' THEN 1 ELSE 0 END), 0)
              FROM chat_info`
	if err := s.db.QueryRowxContext(ctx, query).Scan(&active, &pending); err != nil {
		return 0, 0, fmt.Errorf("failed to count contact sessions: %w", err)
	}
	return active, pending, nil
}
