// Package contact relays private messages between a user and a dedicated
// staff channel.
package contact

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/memorial36b/aaravosbot/model"
	"github.com/memorial36b/aaravosbot/tasks"
	"github.com/memorial36b/aaravosbot/telemetry"
	"github.com/memorial36b/aaravosbot/transport"
	"github.com/memorial36b/aaravosbot/utils"
	"github.com/memorial36b/aaravosbot/utils/database"
)

const (
	confirmEmoji = "✅"
	callTimeout  = 30 * time.Second
)

// ErrNotContactChannel is returned by End outside a contact channel.
var ErrNotContactChannel = errors.New("not a contact channel")

// Store is the persistence the manager needs.
type Store interface {
	CreateContactSession(ctx context.Context, session model.ContactSession) error
	UpsertContactSession(ctx context.Context, session model.ContactSession) error
	GetContactSession(ctx context.Context, userID string) (*model.ContactSession, error)
	GetContactSessionByChannel(ctx context.Context, channelID string) (*model.ContactSession, error)
	ListContactSessions(ctx context.Context) ([]model.ContactSession, error)
	DeleteContactSession(ctx context.Context, userID string) error
	AppendChatLog(ctx context.Context, entry model.ChatLogEntry) error
	ListChatLog(ctx context.Context, userID string) ([]model.ChatLogEntry, error)
	DeleteChatLog(ctx context.Context, userID string) error
}

// Scheduler runs deferred work.
type Scheduler interface {
	After(d time.Duration, fn func()) tasks.Handle
}

type Config struct {
	StaffCategoryID  string
	ChatLogChannelID string
	// EndCommand is the literal message that ends a session, e.g. "+end".
	EndCommand     string
	ConfirmTimeout time.Duration
	DeleteGrace    time.Duration
}

// Manager runs staff contact sessions. A user moves from no session to a
// pending offer, then to an active relay, until staff end it. All work on
// one user is serialized; different users never wait on each other.
type Manager struct {
	store  Store
	chat   transport.Chat
	timers Scheduler
	cfg    Config
	botID  atomic.Value // string

	locks *utils.KeyedMutex

	mu     sync.RWMutex
	relays map[string]string // channel ID -> user ID

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	now    func() time.Time
}

func NewManager(store Store, chat transport.Chat, timers Scheduler, cfg Config) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		store:  store,
		chat:   chat,
		timers: timers,
		cfg:    cfg,
		locks:  utils.NewKeyedMutex(),
		relays: make(map[string]string),
		ctx:    ctx,
		cancel: cancel,
		now:    time.Now,
	}
	m.botID.Store("")
	return m
}

// SetBotID tells the manager which author is the bot itself.
func (m *Manager) SetBotID(id string) {
	m.botID.Store(id)
}

func (m *Manager) isSelf(u transport.User) bool {
	id, _ := m.botID.Load().(string)
	return id != "" && u.ID == id
}

// IsContactChannel reports whether channelID relays a session.
func (m *Manager) IsContactChannel(channelID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.relays[channelID]
	return ok
}

// Relays returns the number of relay subscriptions.
func (m *Manager) Relays() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.relays)
}

func (m *Manager) subscribe(channelID, userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.relays[channelID] = userID
}

func (m *Manager) unsubscribe(channelID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.relays, channelID)
}

// OnPrivateMessage handles a DM to the bot. A user without a session gets a
// confirmation offer, a pending offer swallows the message, and an active
// session relays it to the staff channel.
func (m *Manager) OnPrivateMessage(ctx context.Context, msg *transport.Message) error {
	if m.isSelf(msg.Author) || msg.Author.Bot {
		return nil
	}
	user := msg.Author

	unlock := m.locks.Lock(user.ID)
	session, err := m.store.GetContactSession(ctx, user.ID)
	switch {
	case errors.Is(err, database.ErrNotFound):
		// No session yet, offer one and wait for the reaction off-lock.
		prompt, err := m.offer(ctx, user)
		unlock()
		if err != nil || prompt == nil {
			return err
		}
		m.wg.Add(1)
		go m.awaitConfirmation(user, prompt)
		return nil
	case err != nil:
		unlock()
		return err
	case session.Pending():
		unlock()
		log.Printf("[Contact] Ignoring DM from user %s while their offer is pending", user.ID)
		return nil
	}
	defer unlock()

	text := FormatRelay(user, msg.Content, msg.Attachments)
	return m.relay(ctx, session.UserID, "to_staff", text, func(ctx context.Context) error {
		_, err := m.chat.Send(ctx, session.ChannelID, text)
		return err
	})
}

// offer creates the pending session row and sends the prompt. The caller
// holds the user lock.
func (m *Manager) offer(ctx context.Context, user transport.User) (*transport.Message, error) {
	session := model.ContactSession{UserID: user.ID, CreatedAt: m.now().Unix()}
	if err := m.store.CreateContactSession(ctx, session); err != nil {
		if errors.Is(err, database.ErrExists) {
			return nil, nil
		}
		return nil, err
	}

	// The row goes away again if the prompt cannot be delivered.
	prompt, err := m.chat.DM(ctx, user.ID, fmt.Sprintf(promptText, utils.FormatDuration(m.cfg.ConfirmTimeout)))
	if err != nil {
		if delErr := m.store.DeleteContactSession(ctx, user.ID); delErr != nil {
			log.Printf("[Contact] Failed to delete offer for user %s: %v", user.ID, delErr)
		}
		return nil, fmt.Errorf("failed to send contact offer to user %s: %w", user.ID, err)
	}
	if err := m.chat.React(ctx, prompt.ChannelID, prompt.ID, confirmEmoji); err != nil {
		log.Printf("[Contact] Failed to add confirm reaction for user %s: %v", user.ID, err)
	}
	log.Printf("[Contact] Offered staff contact to user %s", user.ID)
	return prompt, nil
}

func (m *Manager) awaitConfirmation(user transport.User, prompt *transport.Message) {
	defer m.wg.Done()

	_, err := m.chat.AwaitReaction(m.ctx, func(r *transport.Reaction) bool {
		return r.MessageID == prompt.ID && r.UserID == user.ID && r.Emoji == confirmEmoji
	}, m.cfg.ConfirmTimeout)
	if errors.Is(err, transport.ErrCanceled) {
		// Shutting down; Restore discards the stale offer next start.
		return
	}
	if err != nil {
		m.expireOffer(user.ID)
		return
	}

	ctx, cancel := context.WithTimeout(m.ctx, callTimeout)
	defer cancel()
	if err := m.confirm(ctx, user); err != nil {
		log.Printf("[Contact] Failed to start session for user %s: %v", user.ID, err)
		utils.SendPrivateMessage(ctx, m.chat, user.ID, startFailedText)
	}
}

// expireOffer deletes the user's session row if it is still an unconfirmed
// offer.
func (m *Manager) expireOffer(userID string) {
	unlock := m.locks.Lock(userID)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()

	session, err := m.store.GetContactSession(ctx, userID)
	if err != nil || !session.Pending() {
		return
	}
	if err := m.store.DeleteContactSession(ctx, userID); err != nil {
		log.Printf("[Contact] Failed to delete expired offer for user %s: %v", userID, err)
		return
	}
	telemetry.Inc(telemetry.ContactTimeouts)
	log.Printf("[Contact] Offer for user %s expired", userID)
}

// confirm turns a pending offer into an active session.
func (m *Manager) confirm(ctx context.Context, user transport.User) error {
	unlock := m.locks.Lock(user.ID)
	defer unlock()

	session, err := m.store.GetContactSession(ctx, user.ID)
	if err != nil {
		return err
	}
	if !session.Pending() {
		return nil
	}

	// Open the staff channel, then persist it.
	session.StartTime = m.now().Unix()
	channel, err := m.chat.CreateChannel(ctx, ChannelName(user), m.cfg.StaffCategoryID, "Chat with user "+user.Mention())
	if err != nil {
		m.discard(ctx, user.ID)
		return err
	}

	session.ChannelID = channel.ID
	if err := m.store.UpsertContactSession(ctx, *session); err != nil {
		if delErr := m.chat.DeleteChannel(ctx, channel.ID); delErr != nil {
			log.Printf("[Contact] Failed to delete orphaned channel %s: %v", channel.ID, delErr)
		}
		m.discard(ctx, user.ID)
		return err
	}
	m.subscribe(channel.ID, user.ID)

	if _, err := m.chat.Send(ctx, channel.ID, fmt.Sprintf(staffAlertText, user.Distinct())); err != nil {
		log.Printf("[Contact] Failed to alert staff in channel %s: %v", channel.ID, err)
	}
	utils.SendPrivateMessage(ctx, m.chat, user.ID, sessionStartedText)
	log.Printf("[Contact] Started session for user %s in channel %s", user.ID, channel.ID)
	return nil
}

func (m *Manager) discard(ctx context.Context, userID string) {
	if err := m.store.DeleteContactSession(ctx, userID); err != nil {
		log.Printf("[Contact] Failed to delete session for user %s: %v", userID, err)
	}
}

// OnGroupMessage relays a message sent in a contact channel to the user. It
// reports whether the channel belongs to a session.
func (m *Manager) OnGroupMessage(ctx context.Context, msg *transport.Message) (bool, error) {
	m.mu.RLock()
	userID, ok := m.relays[msg.ChannelID]
	m.mu.RUnlock()
	if !ok {
		return false, nil
	}
	// Our own notices and the end command stay in the channel.
	if m.isSelf(msg.Author) || m.isEndCommand(msg.Content) {
		return true, nil
	}

	unlock := m.locks.Lock(userID)
	defer unlock()

	session, err := m.store.GetContactSession(ctx, userID)
	if err != nil {
		return true, err
	}
	if session.ChannelID != msg.ChannelID {
		return true, nil
	}

	text := FormatRelay(msg.Author, msg.Content, msg.Attachments)
	return true, m.relay(ctx, userID, "to_user", text, func(ctx context.Context) error {
		_, err := m.chat.DM(ctx, userID, text)
		return err
	})
}

func (m *Manager) isEndCommand(content string) bool {
	return m.cfg.EndCommand != "" && strings.EqualFold(strings.TrimSpace(content), m.cfg.EndCommand)
}

// relay sends text and logs it once the send succeeded. The caller holds the
// user lock.
func (m *Manager) relay(ctx context.Context, userID, direction, text string, send func(context.Context) error) error {
	var err error
	telemetry.TimeFunc(telemetry.RelayDuration, func() { err = send(ctx) })
	if err != nil {
		telemetry.Inc(telemetry.RelayFailures)
		return fmt.Errorf("failed to relay message for user %s: %w", userID, err)
	}
	telemetry.RecordRelay(direction)

	entry := model.ChatLogEntry{UserID: userID, Message: text, Timestamp: m.now().Unix()}
	if err := m.store.AppendChatLog(ctx, entry); err != nil {
		return err
	}
	return nil
}

// End closes the session relayed through channelID. The transcript is
// uploaded first; if that fails the session stays intact and the error is
// returned. The channel is deleted after the configured grace period.
func (m *Manager) End(ctx context.Context, channelID string, endedBy transport.User) error {
	found, err := m.store.GetContactSessionByChannel(ctx, channelID)
	if errors.Is(err, database.ErrNotFound) {
		return ErrNotContactChannel
	}
	if err != nil {
		return err
	}

	unlock := m.locks.Lock(found.UserID)
	defer unlock()

	// Re-read under the lock in case another End got here first.
	session, err := m.store.GetContactSession(ctx, found.UserID)
	if errors.Is(err, database.ErrNotFound) || (err == nil && session.ChannelID != channelID) {
		return ErrNotContactChannel
	}
	if err != nil {
		return err
	}

	user, err := m.chat.User(ctx, session.UserID)
	if err != nil {
		log.Printf("[Contact] Failed to fetch user %s for transcript: %v", session.UserID, err)
		user = &transport.User{ID: session.UserID, Username: session.UserID}
	}

	// Upload the transcript before touching any session state.
	entries, err := m.store.ListChatLog(ctx, session.UserID)
	if err != nil {
		return err
	}
	transcript := BuildTranscript(*user, session.StartTime, entries, endedBy)
	caption := fmt.Sprintf(transcriptCaption, user.Distinct())
	if _, err := m.chat.SendFile(ctx, m.cfg.ChatLogChannelID, caption, "log.txt", strings.NewReader(transcript)); err != nil {
		return fmt.Errorf("failed to upload transcript for user %s: %w", session.UserID, err)
	}

	// Stop relaying, then clean up.
	utils.SendPrivateMessage(ctx, m.chat, session.UserID, sessionEndedText)
	m.unsubscribe(channelID)

	if _, err := m.chat.Send(ctx, channelID, fmt.Sprintf(channelLoggedText, utils.FormatDuration(m.cfg.DeleteGrace))); err != nil {
		log.Printf("[Contact] Failed to post end notice in channel %s: %v", channelID, err)
	}
	m.timers.After(m.cfg.DeleteGrace, func() {
		ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
		defer cancel()
		if err := m.chat.DeleteChannel(ctx, channelID); err != nil {
			log.Printf("[Contact] Failed to delete channel %s: %v", channelID, err)
		}
	})

	if err := m.store.DeleteChatLog(ctx, session.UserID); err != nil {
		return err
	}
	if err := m.store.DeleteContactSession(ctx, session.UserID); err != nil {
		return err
	}
	log.Printf("[Contact] Session for user %s ended by %s", session.UserID, endedBy.ID)
	return nil
}

// Restore re-subscribes every persisted session with a channel. Offers
// cannot survive a restart: those older than the confirm timeout are
// deleted, younger ones are deleted when their timeout would have expired.
func (m *Manager) Restore(ctx context.Context) (restored, discarded int, err error) {
	sessions, err := m.store.ListContactSessions(ctx)
	if err != nil {
		return 0, 0, err
	}

	now := m.now()
	for _, session := range sessions {
		if !session.Pending() {
			m.subscribe(session.ChannelID, session.UserID)
			restored++
			continue
		}

		// Pending offer: drop it now or when its timeout would have run out.
		remaining := m.cfg.ConfirmTimeout - now.Sub(time.Unix(session.CreatedAt, 0))
		if remaining <= 0 {
			if err := m.store.DeleteContactSession(ctx, session.UserID); err != nil {
				return restored, discarded, err
			}
			discarded++
			continue
		}
		userID := session.UserID
		m.timers.After(remaining, func() { m.expireOffer(userID) })
	}

	log.Printf("[Contact] Restored %d sessions, discarded %d stale offers", restored, discarded)
	return restored, discarded, nil
}

// Stop abandons pending confirmation waits and waits for them to return.
func (m *Manager) Stop() {
	m.cancel()
	m.wg.Wait()
}
