package model

import "time"

// MuteRecord represents a currently muted user. The table is 'muted'.
type MuteRecord struct {
	UserID  string `db:"user_id"`
	EndTime int64  `db:"end_time"` // Unix seconds
}

// Ends returns the end of the mute as a time.
func (r *MuteRecord) Ends() time.Time {
	return time.Unix(r.EndTime, 0)
}
