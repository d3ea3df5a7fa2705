package model

import "time"

// ContactSession is one user's staff contact relay. The table is 'chat_info'.
// An empty ChannelID means the offer has not been confirmed yet.
type ContactSession struct {
	UserID    string `db:"user_id"`
	ChannelID string `db:"channel_id"`
	StartTime int64  `db:"start_time"`
	CreatedAt int64  `db:"created_at"`
}

// Pending reports whether the session is still waiting for confirmation.
func (s *ContactSession) Pending() bool {
	return s.ChannelID == ""
}

// Started returns the confirmation time, or the zero time if unconfirmed.
func (s *ContactSession) Started() time.Time {
	if s.StartTime == 0 {
		return time.Time{}
	}
	return time.Unix(s.StartTime, 0)
}

// ChatLogEntry is one relayed message. The table is 'chat_message_log'.
type ChatLogEntry struct {
	ID        int64  `db:"id"`
	UserID    string `db:"user_id"`
	Message   string `db:"message"`
	Timestamp int64  `db:"timestamp"`
}
