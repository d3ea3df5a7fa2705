package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/bwmarrin/discordgo"
)

// maxHistoryPage is the most messages the API returns per history request.
const maxHistoryPage = 100

// Discord implements Chat over a discordgo session bound to one guild.
type Discord struct {
	*Awaiter
	s       *discordgo.Session
	guildID string
}

// NewDiscord adapts s. Events must be fed to the returned adapter's Awaiter
// by the event router.
func NewDiscord(s *discordgo.Session, guildID string) *Discord {
	return &Discord{
		Awaiter: NewAwaiter(),
		s:       s,
		guildID: guildID,
	}
}

// Session exposes the underlying discordgo session.
func (d *Discord) Session() *discordgo.Session {
	return d.s
}

func (d *Discord) Send(ctx context.Context, channelID, content string) (*Message, error) {
	m, err := d.s.ChannelMessageSend(channelID, content, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to send message to channel %s: %w", channelID, mapError(err))
	}
	return FromMessage(m), nil
}

func (d *Discord) SendEmbed(ctx context.Context, channelID string, embed *Embed) (*Message, error) {
	m, err := d.s.ChannelMessageSendEmbed(channelID, toEmbed(embed), discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to send embed to channel %s: %w", channelID, mapError(err))
	}
	return FromMessage(m), nil
}

func (d *Discord) SendFile(ctx context.Context, channelID, content, filename string, r io.Reader) (*Message, error) {
	m, err := d.s.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
		Content: content,
		Files: []*discordgo.File{{
			Name:        filename,
			ContentType: "text/plain",
			Reader:      r,
		}},
	}, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to upload %s to channel %s: %w", filename, channelID, mapError(err))
	}
	return FromMessage(m), nil
}

func (d *Discord) Edit(ctx context.Context, channelID, messageID, content string) (*Message, error) {
	m, err := d.s.ChannelMessageEdit(channelID, messageID, content, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to edit message %s: %w", messageID, mapError(err))
	}
	return FromMessage(m), nil
}

func (d *Discord) Delete(ctx context.Context, channelID, messageID string) error {
	if err := d.s.ChannelMessageDelete(channelID, messageID, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("failed to delete message %s: %w", messageID, mapError(err))
	}
	return nil
}

// DeleteBulk deletes messageIDs, falling back to one request per message when
// the bulk endpoint refuses them (single message or older than two weeks).
func (d *Discord) DeleteBulk(ctx context.Context, channelID string, messageIDs []string) error {
	for start := 0; start < len(messageIDs); start += maxHistoryPage {
		end := min(start+maxHistoryPage, len(messageIDs))
		chunk := messageIDs[start:end]
		if len(chunk) > 1 {
			err := d.s.ChannelMessagesBulkDelete(channelID, chunk, discordgo.WithContext(ctx))
			if err == nil {
				continue
			}
			log.Printf("[Transport] Bulk delete in channel %s failed, deleting one by one: %v", channelID, err)
		}
		for _, id := range chunk {
			if err := d.Delete(ctx, channelID, id); err != nil {
				return err
			}
		}
	}
	return nil
}

func (d *Discord) React(ctx context.Context, channelID, messageID, emoji string) error {
	if err := d.s.MessageReactionAdd(channelID, messageID, emoji, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("failed to add reaction %s to message %s: %w", emoji, messageID, mapError(err))
	}
	return nil
}

func (d *Discord) DeleteAllReactions(ctx context.Context, channelID, messageID string) error {
	if err := d.s.MessageReactionsRemoveAll(channelID, messageID, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("failed to clear reactions on message %s: %w", messageID, mapError(err))
	}
	return nil
}

func (d *Discord) Message(ctx context.Context, channelID, messageID string) (*Message, error) {
	m, err := d.s.ChannelMessage(channelID, messageID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch message %s: %w", messageID, mapError(err))
	}
	if m.GuildID == "" {
		m.GuildID = d.guildIDFor(channelID)
	}
	return FromMessage(m), nil
}

func (d *Discord) History(ctx context.Context, channelID string, limit int) ([]*Message, error) {
	var (
		out    []*Message
		before string
	)
	for len(out) < limit {
		page, err := d.s.ChannelMessages(channelID, min(limit-len(out), maxHistoryPage), before, "", "", discordgo.WithContext(ctx))
		if err != nil {
			return nil, fmt.Errorf("failed to fetch history of channel %s: %w", channelID, mapError(err))
		}
		for _, m := range page {
			out = append(out, FromMessage(m))
		}
		if len(page) < maxHistoryPage {
			break
		}
		before = page[len(page)-1].ID
	}
	return out, nil
}

func (d *Discord) CreateChannel(ctx context.Context, name, parentID, topic string) (*Channel, error) {
	ch, err := d.s.GuildChannelCreateComplex(d.guildID, discordgo.GuildChannelCreateData{
		Name:     name,
		Type:     discordgo.ChannelTypeGuildText,
		Topic:    topic,
		ParentID: parentID,
	}, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to create channel %s: %w", name, mapError(err))
	}
	return fromChannel(ch), nil
}

func (d *Discord) DeleteChannel(ctx context.Context, channelID string) error {
	if _, err := d.s.ChannelDelete(channelID, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("failed to delete channel %s: %w", channelID, mapError(err))
	}
	return nil
}

func (d *Discord) Channel(ctx context.Context, channelID string) (*Channel, error) {
	if ch, err := d.s.State.Channel(channelID); err == nil {
		return fromChannel(ch), nil
	}
	ch, err := d.s.Channel(channelID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch channel %s: %w", channelID, mapError(err))
	}
	return fromChannel(ch), nil
}

func (d *Discord) DM(ctx context.Context, userID, content string) (*Message, error) {
	ch, err := d.s.UserChannelCreate(userID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to open DM with user %s: %w", userID, mapError(err))
	}
	m, err := d.s.ChannelMessageSend(ch.ID, content, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to send DM to user %s: %w", userID, mapError(err))
	}
	return FromMessage(m), nil
}

func (d *Discord) User(ctx context.Context, userID string) (*User, error) {
	u, err := d.s.User(userID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch user %s: %w", userID, mapError(err))
	}
	out := fromUser(u)
	return &out, nil
}

func (d *Discord) IsMember(ctx context.Context, userID string) (bool, error) {
	if _, err := d.s.State.Member(d.guildID, userID); err == nil {
		return true, nil
	}
	_, err := d.s.GuildMember(d.guildID, userID, discordgo.WithContext(ctx))
	if err == nil {
		return true, nil
	}
	if err = mapError(err); errors.Is(err, ErrUnknownMember) {
		return false, nil
	}
	return false, fmt.Errorf("failed to fetch member %s: %w", userID, err)
}

func (d *Discord) ModifyRoles(ctx context.Context, userID string, add, remove []string) error {
	for _, roleID := range add {
		if roleID == "" {
			continue
		}
		if err := d.s.GuildMemberRoleAdd(d.guildID, userID, roleID, discordgo.WithContext(ctx)); err != nil {
			return fmt.Errorf("failed to add role %s to user %s: %w", roleID, userID, mapError(err))
		}
	}
	for _, roleID := range remove {
		if roleID == "" {
			continue
		}
		if err := d.s.GuildMemberRoleRemove(d.guildID, userID, roleID, discordgo.WithContext(ctx)); err != nil {
			return fmt.Errorf("failed to remove role %s from user %s: %w", roleID, userID, mapError(err))
		}
	}
	return nil
}

// guildIDFor looks up a channel's guild from state; REST message fetches
// leave GuildID empty.
func (d *Discord) guildIDFor(channelID string) string {
	if ch, err := d.s.State.Channel(channelID); err == nil {
		return ch.GuildID
	}
	return d.guildID
}

// mapError turns the unknown member and unknown user API codes into
// ErrUnknownMember.
func mapError(err error) error {
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Message != nil {
		switch restErr.Message.Code {
		case discordgo.ErrCodeUnknownMember, discordgo.ErrCodeUnknownUser:
			return fmt.Errorf("%w: %v", ErrUnknownMember, err)
		}
	}
	return err
}

// FromMessage converts a discordgo message.
func FromMessage(m *discordgo.Message) *Message {
	out := &Message{
		ID:        m.ID,
		ChannelID: m.ChannelID,
		GuildID:   m.GuildID,
		Content:   m.Content,
		Timestamp: m.Timestamp,
	}
	if m.Author != nil {
		out.Author = fromUser(m.Author)
	}
	if m.Member != nil {
		out.MemberRoles = m.Member.Roles
	}
	for _, a := range m.Attachments {
		out.Attachments = append(out.Attachments, Attachment{Filename: a.Filename, URL: a.URL})
	}
	for _, r := range m.Reactions {
		if r.Emoji == nil {
			continue
		}
		out.Reactions = append(out.Reactions, ReactionCount{Emoji: r.Emoji.APIName(), Count: r.Count})
	}
	return out
}

// FromReaction converts a discordgo reaction event payload.
func FromReaction(r *discordgo.MessageReaction) *Reaction {
	return &Reaction{
		MessageID: r.MessageID,
		ChannelID: r.ChannelID,
		GuildID:   r.GuildID,
		UserID:    r.UserID,
		Emoji:     r.Emoji.APIName(),
	}
}

// FromUser converts a discordgo user.
func FromUser(u *discordgo.User) User {
	return fromUser(u)
}

func fromUser(u *discordgo.User) User {
	return User{
		ID:            u.ID,
		Username:      u.Username,
		Discriminator: u.Discriminator,
		AvatarURL:     u.AvatarURL(""),
		Bot:           u.Bot,
	}
}

func fromChannel(ch *discordgo.Channel) *Channel {
	return &Channel{
		ID:       ch.ID,
		GuildID:  ch.GuildID,
		Name:     ch.Name,
		ParentID: ch.ParentID,
		Topic:    ch.Topic,
		Private:  ch.Type == discordgo.ChannelTypeDM || ch.Type == discordgo.ChannelTypeGroupDM,
	}
}

func toEmbed(e *Embed) *discordgo.MessageEmbed {
	out := &discordgo.MessageEmbed{
		Title:       e.Title,
		Description: e.Description,
		Color:       e.Color,
	}
	if e.AuthorName != "" {
		out.Author = &discordgo.MessageEmbedAuthor{Name: e.AuthorName, IconURL: e.AuthorIconURL}
	}
	if e.ImageURL != "" {
		out.Image = &discordgo.MessageEmbedImage{URL: e.ImageURL}
	}
	if e.Footer != "" {
		out.Footer = &discordgo.MessageEmbedFooter{Text: e.Footer}
	}
	if !e.Timestamp.IsZero() {
		out.Timestamp = e.Timestamp.Format(time.RFC3339)
	}
	for _, f := range e.Fields {
		out.Fields = append(out.Fields, &discordgo.MessageEmbedField{Name: f.Name, Value: f.Value, Inline: f.Inline})
	}
	return out
}
