package model

// QuotedMessage marks a message already posted to the storybook channel.
type QuotedMessage struct {
	ChannelID string `db:"channel_id"`
	MessageID string `db:"message_id"`
	QuotedAt  int64  `db:"quoted_at"`
}
