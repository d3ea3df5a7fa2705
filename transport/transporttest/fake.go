// Package transporttest provides an in-memory transport.Chat for tests.
package transporttest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/memorial36b/aaravosbot/transport"
)

// BotID is the user ID messages sent through the fake are authored by.
const BotID = "bot"

type SentEmbed struct {
	ChannelID string
	Embed     *transport.Embed
}

type SentFile struct {
	ChannelID string
	Content   string
	Filename  string
	Data      string
}

type Reacted struct {
	ChannelID string
	MessageID string
	Emoji     string
}

// Fake records every call and keeps per-channel history. Errors can be
// injected per method name through Fail.
type Fake struct {
	*transport.Awaiter

	mu       sync.Mutex
	nextID   int
	history  map[string][]*transport.Message
	users    map[string]*transport.User
	absent   map[string]bool
	channels map[string]*transport.Channel
	roles    map[string]map[string]bool
	errs     map[string]error

	embeds          []SentEmbed
	files           []SentFile
	deleted         []string
	deletedChannels []string
	reactions       []Reacted
	cleared         []string

	// OnSend, if set, is called with every message the fake sends or DMs.
	OnSend func(*transport.Message)
}

func New() *Fake {
	return &Fake{
		Awaiter:  transport.NewAwaiter(),
		history:  make(map[string][]*transport.Message),
		users:    make(map[string]*transport.User),
		absent:   make(map[string]bool),
		channels: make(map[string]*transport.Channel),
		roles:    make(map[string]map[string]bool),
		errs:     make(map[string]error),
	}
}

// Fail makes every later call to method return err. A nil err clears it.
func (f *Fake) Fail(method string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.errs, method)
		return
	}
	f.errs[method] = err
}

// AddUser registers a known user who is a guild member.
func (f *Fake) AddUser(u transport.User) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u2 := u
	f.users[u.ID] = &u2
	delete(f.absent, u.ID)
}

// SetAbsent marks a user as having left the guild.
func (f *Fake) SetAbsent(userID string, absent bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.absent[userID] = absent
}

// Post appends a message authored by someone else to a channel's history
// and returns it. It does not route the message anywhere.
func (f *Fake) Post(channelID string, author transport.User, content string, attachments ...transport.Attachment) *transport.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	m := f.newMessage(channelID, author, content)
	m.Attachments = attachments
	cp := *m
	return &cp
}

// Embeds returns every embed sent so far.
func (f *Fake) Embeds() []SentEmbed {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]SentEmbed(nil), f.embeds...)
}

// Files returns every uploaded file.
func (f *Fake) Files() []SentFile {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]SentFile(nil), f.files...)
}

// Deleted returns the IDs of deleted messages.
func (f *Fake) Deleted() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deleted...)
}

// DeletedChannels returns the IDs of deleted channels.
func (f *Fake) DeletedChannels() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deletedChannels...)
}

// Reactions returns the reactions the bot added.
func (f *Fake) Reactions() []Reacted {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Reacted(nil), f.reactions...)
}

// Cleared returns the IDs of messages whose reactions were removed.
func (f *Fake) Cleared() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.cleared...)
}

// Messages returns the contents sent to a channel, oldest first.
func (f *Fake) Messages(channelID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, m := range f.history[channelID] {
		if m.Author.ID == BotID {
			out = append(out, m.Content)
		}
	}
	return out
}

// DMs returns the contents sent to a user's DM channel, oldest first.
func (f *Fake) DMs(userID string) []string {
	return f.Messages(DMChannelID(userID))
}

// DMChannelID is the channel the fake uses for DMs with userID.
func DMChannelID(userID string) string {
	return "dm-" + userID
}

// Roles returns the role IDs a user currently holds.
func (f *Fake) Roles(userID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for role, ok := range f.roles[userID] {
		if ok {
			out = append(out, role)
		}
	}
	return out
}

// HasRole reports whether the user holds roleID.
func (f *Fake) HasRole(userID, roleID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.roles[userID][roleID]
}

// ChannelExists reports whether a created channel still exists.
func (f *Fake) ChannelExists(channelID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.channels[channelID]
	return ok
}

// CreatedChannels returns every channel that currently exists.
func (f *Fake) CreatedChannels() []*transport.Channel {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*transport.Channel
	for _, ch := range f.channels {
		out = append(out, ch)
	}
	return out
}

// SetReactions replaces the reaction counts of a stored message.
func (f *Fake) SetReactions(channelID, messageID string, counts ...transport.ReactionCount) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m := f.find(channelID, messageID); m != nil {
		m.Reactions = counts
	}
}

func (f *Fake) Send(_ context.Context, channelID, content string) (*transport.Message, error) {
	return f.send("Send", channelID, content)
}

func (f *Fake) SendEmbed(_ context.Context, channelID string, embed *transport.Embed) (*transport.Message, error) {
	m, err := f.send("SendEmbed", channelID, "")
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.embeds = append(f.embeds, SentEmbed{ChannelID: channelID, Embed: embed})
	f.mu.Unlock()
	return m, nil
}

func (f *Fake) SendFile(_ context.Context, channelID, content, filename string, r io.Reader) (*transport.Message, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	m, err := f.send("SendFile", channelID, content)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.files = append(f.files, SentFile{ChannelID: channelID, Content: content, Filename: filename, Data: string(data)})
	f.mu.Unlock()
	return m, nil
}

func (f *Fake) Edit(_ context.Context, channelID, messageID, content string) (*transport.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs["Edit"]; err != nil {
		return nil, err
	}
	m := f.find(channelID, messageID)
	if m == nil {
		return nil, fmt.Errorf("unknown message %s", messageID)
	}
	m.Content = content
	cp := *m
	return &cp, nil
}

func (f *Fake) Delete(_ context.Context, channelID, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs["Delete"]; err != nil {
		return err
	}
	f.remove(channelID, messageID)
	return nil
}

func (f *Fake) DeleteBulk(_ context.Context, channelID string, messageIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs["DeleteBulk"]; err != nil {
		return err
	}
	for _, id := range messageIDs {
		f.remove(channelID, id)
	}
	return nil
}

func (f *Fake) React(_ context.Context, channelID, messageID, emoji string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs["React"]; err != nil {
		return err
	}
	f.reactions = append(f.reactions, Reacted{ChannelID: channelID, MessageID: messageID, Emoji: emoji})
	return nil
}

func (f *Fake) DeleteAllReactions(_ context.Context, channelID, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs["DeleteAllReactions"]; err != nil {
		return err
	}
	if m := f.find(channelID, messageID); m != nil {
		m.Reactions = nil
	}
	f.cleared = append(f.cleared, messageID)
	return nil
}

func (f *Fake) Message(_ context.Context, channelID, messageID string) (*transport.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs["Message"]; err != nil {
		return nil, err
	}
	m := f.find(channelID, messageID)
	if m == nil {
		return nil, fmt.Errorf("unknown message %s", messageID)
	}
	cp := *m
	cp.Reactions = append([]transport.ReactionCount(nil), m.Reactions...)
	return &cp, nil
}

func (f *Fake) History(_ context.Context, channelID string, limit int) ([]*transport.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs["History"]; err != nil {
		return nil, err
	}
	msgs := f.history[channelID]
	var out []*transport.Message
	for i := len(msgs) - 1; i >= 0 && len(out) < limit; i-- {
		cp := *msgs[i]
		out = append(out, &cp)
	}
	return out, nil
}

func (f *Fake) CreateChannel(_ context.Context, name, parentID, topic string) (*transport.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs["CreateChannel"]; err != nil {
		return nil, err
	}
	f.nextID++
	ch := &transport.Channel{
		ID:       fmt.Sprintf("channel-%d", f.nextID),
		GuildID:  "guild",
		Name:     name,
		ParentID: parentID,
		Topic:    topic,
	}
	f.channels[ch.ID] = ch
	cp := *ch
	return &cp, nil
}

func (f *Fake) DeleteChannel(_ context.Context, channelID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs["DeleteChannel"]; err != nil {
		return err
	}
	delete(f.channels, channelID)
	f.deletedChannels = append(f.deletedChannels, channelID)
	return nil
}

func (f *Fake) Channel(_ context.Context, channelID string) (*transport.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ch, ok := f.channels[channelID]; ok {
		cp := *ch
		return &cp, nil
	}
	if strings.HasPrefix(channelID, "dm-") {
		return &transport.Channel{ID: channelID, Private: true}, nil
	}
	return &transport.Channel{ID: channelID, GuildID: "guild", Name: channelID}, nil
}

func (f *Fake) DM(_ context.Context, userID, content string) (*transport.Message, error) {
	return f.send("DM", DMChannelID(userID), content)
}

func (f *Fake) User(_ context.Context, userID string) (*transport.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs["User"]; err != nil {
		return nil, err
	}
	u, ok := f.users[userID]
	if !ok {
		return nil, fmt.Errorf("unknown user %s: %w", userID, transport.ErrUnknownMember)
	}
	cp := *u
	return &cp, nil
}

func (f *Fake) IsMember(_ context.Context, userID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs["IsMember"]; err != nil {
		return false, err
	}
	return !f.absent[userID], nil
}

func (f *Fake) ModifyRoles(_ context.Context, userID string, add, remove []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs["ModifyRoles"]; err != nil {
		return err
	}
	if f.absent[userID] {
		return fmt.Errorf("failed to modify roles of %s: %w", userID, transport.ErrUnknownMember)
	}
	roles := f.roles[userID]
	if roles == nil {
		roles = make(map[string]bool)
		f.roles[userID] = roles
	}
	for _, r := range add {
		roles[r] = true
	}
	for _, r := range remove {
		delete(roles, r)
	}
	return nil
}

// WaitForWaiters blocks until at least n waiters are registered.
func (f *Fake) WaitForWaiters(n int, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for f.Waiting() < n {
		if time.Now().After(deadline) {
			return errors.New("timed out waiting for waiters")
		}
		time.Sleep(time.Millisecond)
	}
	return nil
}

func (f *Fake) send(method, channelID, content string) (*transport.Message, error) {
	f.mu.Lock()
	if err := f.errs[method]; err != nil {
		f.mu.Unlock()
		return nil, err
	}
	m := f.newMessage(channelID, transport.User{ID: BotID, Username: "Aaravos", Bot: true}, content)
	hook := f.OnSend
	cp := *m
	f.mu.Unlock()

	if hook != nil {
		hook(&cp)
	}
	return &cp, nil
}

func (f *Fake) newMessage(channelID string, author transport.User, content string) *transport.Message {
	f.nextID++
	m := &transport.Message{
		ID:        fmt.Sprintf("msg-%d", f.nextID),
		ChannelID: channelID,
		Author:    author,
		Content:   content,
		Timestamp: time.Now(),
	}
	if !strings.HasPrefix(channelID, "dm-") {
		m.GuildID = "guild"
	}
	f.history[channelID] = append(f.history[channelID], m)
	return m
}

func (f *Fake) find(channelID, messageID string) *transport.Message {
	for _, m := range f.history[channelID] {
		if m.ID == messageID {
			return m
		}
	}
	return nil
}

func (f *Fake) remove(channelID, messageID string) {
	msgs := f.history[channelID]
	for i, m := range msgs {
		if m.ID == messageID {
			f.history[channelID] = append(msgs[:i:i], msgs[i+1:]...)
			break
		}
	}
	f.deleted = append(f.deleted, messageID)
}

var _ transport.Chat = (*Fake)(nil)
