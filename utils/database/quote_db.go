package database

import (
	"context"
	"fmt"

	"github.com/memorial36b/aaravosbot/model"
)

// IsQuoted reports whether the message has already been quoted.
func (s *Store) IsQuoted(ctx context.Context, messageID string) (bool, error) {
	var count int
	if err := s.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM quoted_messages WHERE message_id = ?", messageID); err != nil {
		return false, fmt.Errorf("failed to check quoted message %s: %w", messageID, err)
	}
	return count > 0, nil
}

// AddQuoted records a quoted message.
func (s *Store) AddQuoted(ctx context.Context, quoted model.QuotedMessage) error {
	query := `INSERT OR IGNORE INTO quoted_messages (message_id, channel_id, quoted_at) VALUES (:message_id, :channel_id, :quoted_at)`
	if _, err := s.db.NamedExecContext(ctx, query, quoted); err != nil {
		return fmt.Errorf("failed to insert quoted message %s: %w", quoted.MessageID, err)
	}
	return nil
}
