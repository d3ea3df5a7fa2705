// Package transport defines the chat capabilities the bot core depends on and
// adapts them onto discordgo.
package transport

import (
	"context"
	"errors"
	"io"
	"time"
)

var (
	// ErrTimeout is returned when an awaited event does not arrive in time.
	ErrTimeout = errors.New("timed out waiting for event")
	// ErrCanceled is returned when a wait is abandoned before it resolves.
	ErrCanceled = errors.New("wait canceled")
	// ErrUnknownMember is returned when the user is not in the guild.
	ErrUnknownMember = errors.New("unknown member")
)

type User struct {
	ID            string
	Username      string
	Discriminator string
	AvatarURL     string
	Bot           bool
}

// Mention returns the platform mention markup for the user.
func (u User) Mention() string {
	return "<@" + u.ID + ">"
}

// Distinct returns the username with the legacy discriminator when the
// account still has one.
func (u User) Distinct() string {
	if u.Discriminator == "" || u.Discriminator == "0" {
		return u.Username
	}
	return u.Username + "#" + u.Discriminator
}

type Attachment struct {
	Filename string
	URL      string
}

type ReactionCount struct {
	Emoji string
	Count int
}

type Message struct {
	ID          string
	ChannelID   string
	GuildID     string
	Author      User
	MemberRoles []string
	Content     string
	Attachments []Attachment
	Reactions   []ReactionCount
	Timestamp   time.Time
}

// Private reports whether the message arrived outside a guild.
func (m *Message) Private() bool {
	return m.GuildID == ""
}

// ReactionCount returns how many users reacted with emoji.
func (m *Message) ReactionCount(emoji string) int {
	for _, r := range m.Reactions {
		if r.Emoji == emoji {
			return r.Count
		}
	}
	return 0
}

type Reaction struct {
	MessageID string
	ChannelID string
	GuildID   string
	UserID    string
	Emoji     string
}

type Channel struct {
	ID       string
	GuildID  string
	Name     string
	ParentID string
	Topic    string
	Private  bool
}

type EmbedField struct {
	Name   string
	Value  string
	Inline bool
}

type Embed struct {
	Title         string
	Description   string
	Color         int
	AuthorName    string
	AuthorIconURL string
	ImageURL      string
	Footer        string
	Timestamp     time.Time
	Fields        []EmbedField
}

type (
	MessageFilter  func(*Message) bool
	ReactionFilter func(*Reaction) bool
)

// Chat is everything the bot core needs from the chat platform. Guild scoped
// calls act on the guild the implementation was built for.
type Chat interface {
	Send(ctx context.Context, channelID, content string) (*Message, error)
	SendEmbed(ctx context.Context, channelID string, embed *Embed) (*Message, error)
	SendFile(ctx context.Context, channelID, content, filename string, r io.Reader) (*Message, error)
	Edit(ctx context.Context, channelID, messageID, content string) (*Message, error)
	Delete(ctx context.Context, channelID, messageID string) error
	DeleteBulk(ctx context.Context, channelID string, messageIDs []string) error
	React(ctx context.Context, channelID, messageID, emoji string) error
	DeleteAllReactions(ctx context.Context, channelID, messageID string) error
	Message(ctx context.Context, channelID, messageID string) (*Message, error)
	// History returns up to limit messages, most recent first.
	History(ctx context.Context, channelID string, limit int) ([]*Message, error)

	CreateChannel(ctx context.Context, name, parentID, topic string) (*Channel, error)
	DeleteChannel(ctx context.Context, channelID string) error
	Channel(ctx context.Context, channelID string) (*Channel, error)
	DM(ctx context.Context, userID, content string) (*Message, error)

	User(ctx context.Context, userID string) (*User, error)
	IsMember(ctx context.Context, userID string) (bool, error)
	ModifyRoles(ctx context.Context, userID string, add, remove []string) error

	AwaitReaction(ctx context.Context, filter ReactionFilter, timeout time.Duration) (*Reaction, error)
	AwaitMessage(ctx context.Context, filter MessageFilter, timeout time.Duration) (*Message, error)
}
