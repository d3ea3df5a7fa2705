package moderation

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/memorial36b/aaravosbot/limiter"
	"github.com/memorial36b/aaravosbot/model"
	"github.com/memorial36b/aaravosbot/tasks"
	"github.com/memorial36b/aaravosbot/transport"
	"github.com/memorial36b/aaravosbot/transport/transporttest"
	"github.com/memorial36b/aaravosbot/utils/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testRoles = Roles{MemberRoleID: "member", MutedRoleID: "muted"}

type memMuteStore struct {
	mu      sync.Mutex
	records map[string]model.MuteRecord
}

func newMemMuteStore(records ...model.MuteRecord) *memMuteStore {
	s := &memMuteStore{records: make(map[string]model.MuteRecord)}
	for _, r := range records {
		s.records[r.UserID] = r
	}
	return s
}

func (s *memMuteStore) UpsertMuteRecord(_ context.Context, r model.MuteRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[r.UserID] = r
	return nil
}

func (s *memMuteStore) GetMuteRecord(_ context.Context, userID string) (*model.MuteRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[userID]
	if !ok {
		return nil, database.ErrNotFound
	}
	return &r, nil
}

func (s *memMuteStore) ListMuteRecords(context.Context) ([]model.MuteRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.MuteRecord
	for _, r := range s.records {
		out = append(out, r)
	}
	return out, nil
}

func (s *memMuteStore) DeleteMuteRecord(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, userID)
	return nil
}

func (s *memMuteStore) has(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.records[userID]
	return ok
}

func newTestMuteManager(t *testing.T, records ...model.MuteRecord) (*MuteManager, *memMuteStore, *transporttest.Fake, *tasks.TimerService) {
	t.Helper()
	store := newMemMuteStore(records...)
	chat := transporttest.New()
	timers := tasks.NewTimerService()
	t.Cleanup(timers.Stop)
	return NewMuteManager(store, chat, timers, testRoles, 0), store, chat, timers
}

func TestMuteRequiresRestore(t *testing.T) {
	m, _, _, _ := newTestMuteManager(t)
	_, err := m.Mute(context.Background(), "u1", time.Minute)
	assert.ErrorIs(t, err, ErrNotReady)
	assert.ErrorIs(t, m.Unmute(context.Background(), "u1"), ErrNotReady)
}

func TestMuteRejectsShortDuration(t *testing.T) {
	ctx := context.Background()
	m, store, chat, _ := newTestMuteManager(t)
	_, _, err := m.Restore(ctx)
	require.NoError(t, err)

	_, err = m.Mute(ctx, "u1", 5*time.Second)
	assert.ErrorIs(t, err, ErrInvalidDuration)
	assert.False(t, store.has("u1"))
	assert.Empty(t, chat.Roles("u1"))
}

func TestMuteOverwriteKeepsSingleTimer(t *testing.T) {
	ctx := context.Background()
	m, store, chat, timers := newTestMuteManager(t)
	_, _, err := m.Restore(ctx)
	require.NoError(t, err)

	begin := time.Now()
	_, err = m.Mute(ctx, "u1", 60*time.Second)
	require.NoError(t, err)
	record, err := m.Mute(ctx, "u1", 120*time.Second)
	require.NoError(t, err)

	assert.Equal(t, 1, timers.Pending())
	assert.Equal(t, 1, m.Scheduled())
	assert.InDelta(t, begin.Add(120*time.Second).Unix(), record.EndTime, 1)

	stored, err := store.GetMuteRecord(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, record.EndTime, stored.EndTime)
	assert.True(t, chat.HasRole("u1", "muted"))
	assert.False(t, chat.HasRole("u1", "member"))
}

func TestConcurrentMutesKeepSingleTimer(t *testing.T) {
	ctx := context.Background()
	m, _, _, timers := newTestMuteManager(t)
	_, _, err := m.Restore(ctx)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := m.Mute(ctx, "u1", time.Duration(60+i)*time.Second)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, timers.Pending())
	assert.Equal(t, 1, m.Scheduled())
}

func TestMuteExpiryUnmutes(t *testing.T) {
	ctx := context.Background()
	m, store, chat, timers := newTestMuteManager(t)
	_, _, err := m.Restore(ctx)
	require.NoError(t, err)

	// Shift the manager's clock back so the minimum mute is already over.
	m.now = func() time.Time { return time.Now().Add(-MinMuteDuration) }
	_, err = m.Mute(ctx, "u1", MinMuteDuration)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return !store.has("u1") }, time.Second, 5*time.Millisecond)
	assert.True(t, chat.HasRole("u1", "member"))
	assert.False(t, chat.HasRole("u1", "muted"))
	assert.Equal(t, 0, m.Scheduled())
	assert.Equal(t, 0, timers.Pending())
}

func TestMuteExpiryDeletesRecordWhenUserLeft(t *testing.T) {
	ctx := context.Background()
	m, store, chat, _ := newTestMuteManager(t)
	_, _, err := m.Restore(ctx)
	require.NoError(t, err)

	m.now = func() time.Time { return time.Now().Add(-MinMuteDuration + 50*time.Millisecond) }
	_, err = m.Mute(ctx, "u1", MinMuteDuration)
	require.NoError(t, err)
	chat.SetAbsent("u1", true)

	require.Eventually(t, func() bool { return !store.has("u1") }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, m.Scheduled())
}

func TestUnmute(t *testing.T) {
	ctx := context.Background()
	m, store, chat, timers := newTestMuteManager(t)
	_, _, err := m.Restore(ctx)
	require.NoError(t, err)

	assert.ErrorIs(t, m.Unmute(ctx, "u1"), ErrNotMuted)

	_, err = m.Mute(ctx, "u1", time.Hour)
	require.NoError(t, err)
	require.NoError(t, m.Unmute(ctx, "u1"))

	assert.False(t, store.has("u1"))
	assert.Equal(t, 0, timers.Pending())
	assert.True(t, chat.HasRole("u1", "member"))
	assert.ErrorIs(t, m.Unmute(ctx, "u1"), ErrNotMuted)
}

func TestRestoreSchedulesEveryRecord(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	m, store, chat, timers := newTestMuteManager(t,
		model.MuteRecord{UserID: "future1", EndTime: now.Add(time.Hour).Unix()},
		model.MuteRecord{UserID: "future2", EndTime: now.Add(2 * time.Hour).Unix()},
		model.MuteRecord{UserID: "future3", EndTime: now.Add(3 * time.Hour).Unix()},
		model.MuteRecord{UserID: "past1", EndTime: now.Add(-time.Hour).Unix()},
		model.MuteRecord{UserID: "past2", EndTime: now.Add(-time.Minute).Unix()},
	)

	scheduled, expired, err := m.Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, scheduled)
	assert.Equal(t, 2, expired)
	assert.True(t, m.Ready())

	// Past-due records are gone before Restore returns.
	assert.False(t, store.has("past1"))
	assert.False(t, store.has("past2"))
	assert.True(t, chat.HasRole("past1", "member"))
	assert.True(t, store.has("future1"))

	assert.Equal(t, 3, m.Scheduled())
	assert.Equal(t, 3, timers.Pending())
}

func TestOnMemberJoinReappliesMute(t *testing.T) {
	ctx := context.Background()
	m, _, chat, timers := newTestMuteManager(t)
	_, _, err := m.Restore(ctx)
	require.NoError(t, err)

	_, err = m.Mute(ctx, "u1", time.Hour)
	require.NoError(t, err)
	// Another bot hands out the member role on join.
	require.NoError(t, chat.ModifyRoles(ctx, "u1", []string{"member"}, []string{"muted"}))

	muted, err := m.OnMemberJoin(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, muted)
	assert.Eventually(t, func() bool { return chat.HasRole("u1", "muted") }, time.Second, 5*time.Millisecond)
	assert.False(t, chat.HasRole("u1", "member"))

	// The unmute timer is untouched.
	assert.Equal(t, 1, m.Scheduled())
	assert.Equal(t, 1, timers.Pending())

	muted, err = m.OnMemberJoin(ctx, "u2")
	require.NoError(t, err)
	assert.False(t, muted)
}

func TestOnMemberJoinSkipsUnmutedDuringDelay(t *testing.T) {
	ctx := context.Background()
	store := newMemMuteStore()
	chat := transporttest.New()
	timers := tasks.NewTimerService()
	t.Cleanup(timers.Stop)
	m := NewMuteManager(store, chat, timers, testRoles, 50*time.Millisecond)
	_, _, err := m.Restore(ctx)
	require.NoError(t, err)

	_, err = m.Mute(ctx, "u1", time.Hour)
	require.NoError(t, err)
	muted, err := m.OnMemberJoin(ctx, "u1")
	require.NoError(t, err)
	require.True(t, muted)

	require.NoError(t, m.Unmute(ctx, "u1"))

	assert.Never(t, func() bool { return chat.HasRole("u1", "muted") }, 150*time.Millisecond, 5*time.Millisecond)
	assert.True(t, chat.HasRole("u1", "member"))
	assert.Equal(t, 0, m.Scheduled())
}

func newTestRaidGuard(t *testing.T, s model.RaidSettings) (*RaidGuard, *transporttest.Fake) {
	t.Helper()
	capacity, window := RaidCapacity(s)
	chat := transporttest.New()
	timers := tasks.NewTimerService()
	t.Cleanup(timers.Stop)
	return NewRaidGuard(limiter.NewBucket("raid", capacity, window), chat, timers, testRoles, 0), chat
}

func TestRaidActivatesOnce(t *testing.T) {
	ctx := context.Background()
	g, chat := newTestRaidGuard(t, model.RaidSettings{Users: 5, Seconds: 30})

	activations := 0
	g.OnActivate = func() { activations++ }

	for i := 0; i < 4; i++ {
		assert.False(t, g.OnJoin(ctx, "early"+string(rune('a'+i))))
	}
	assert.False(t, g.Active())

	assert.True(t, g.OnJoin(ctx, "fifth"))
	assert.True(t, g.Active())

	for _, u := range []string{"r1", "r2", "r3"} {
		assert.False(t, g.OnJoin(ctx, u))
	}
	assert.Equal(t, 1, activations)
	assert.Equal(t, []string{"r1", "r2", "r3"}, g.Roster())
	for _, u := range []string{"r1", "r2", "r3"} {
		assert.True(t, chat.HasRole(u, "muted"), u)
	}
	assert.False(t, chat.HasRole("fifth", "muted"))
}

func TestRaidDisable(t *testing.T) {
	ctx := context.Background()
	g, chat := newTestRaidGuard(t, model.RaidSettings{Users: 1, Seconds: 30})

	_, err := g.Disable(ctx)
	assert.ErrorIs(t, err, ErrRaidInactive)

	require.True(t, g.OnJoin(ctx, "trigger"))
	g.OnJoin(ctx, "stayed")
	g.OnJoin(ctx, "left")
	chat.SetAbsent("left", true)

	unmuted, err := g.Disable(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, unmuted)
	assert.False(t, g.Active())
	assert.Empty(t, g.Roster())
	assert.True(t, chat.HasRole("stayed", "member"))
	assert.False(t, chat.HasRole("stayed", "muted"))

	// The limiter was reset on activation, so the guard can trigger again.
	assert.True(t, g.OnJoin(ctx, "again"))
}

func TestRaidDelayedMuteSkippedAfterDisable(t *testing.T) {
	ctx := context.Background()
	capacity, window := RaidCapacity(model.RaidSettings{Users: 1, Seconds: 30})
	chat := transporttest.New()
	timers := tasks.NewTimerService()
	defer timers.Stop()
	g := NewRaidGuard(limiter.NewBucket("raid", capacity, window), chat, timers, testRoles, 50*time.Millisecond)

	require.True(t, g.OnJoin(ctx, "trigger"))
	g.OnJoin(ctx, "late")
	_, err := g.Disable(ctx)
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)
	assert.False(t, chat.HasRole("late", "muted"))
}

// gatedChat blocks role changes for one user once armed.
type gatedChat struct {
	*transporttest.Fake
	armed   atomic.Bool
	user    string
	entered chan struct{}
	release chan struct{}
}

func (c *gatedChat) ModifyRoles(ctx context.Context, userID string, add, remove []string) error {
	if userID == c.user && c.armed.CompareAndSwap(true, false) {
		close(c.entered)
		<-c.release
	}
	return c.Fake.ModifyRoles(ctx, userID, add, remove)
}

func TestRaidJoinsNotBlockedByDisable(t *testing.T) {
	ctx := context.Background()
	capacity, window := RaidCapacity(model.RaidSettings{Users: 1, Seconds: 30})
	chat := &gatedChat{
		Fake:    transporttest.New(),
		user:    "slow",
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	timers := tasks.NewTimerService()
	defer timers.Stop()
	g := NewRaidGuard(limiter.NewBucket("raid", capacity, window), chat, timers, testRoles, 0)

	require.True(t, g.OnJoin(ctx, "trigger"))
	g.OnJoin(ctx, "slow")
	require.True(t, chat.HasRole("slow", "muted"))

	chat.armed.Store(true)
	result := make(chan int, 1)
	go func() {
		n, _ := g.Disable(ctx)
		result <- n
	}()
	<-chat.entered

	joined := make(chan bool, 1)
	go func() { joined <- g.OnJoin(ctx, "next") }()
	select {
	case activated := <-joined:
		assert.True(t, activated)
	case <-time.After(time.Second):
		t.Fatal("join blocked behind disable")
	}
	assert.True(t, g.Active())
	assert.Empty(t, g.Roster())

	close(chat.release)
	assert.Equal(t, 1, <-result)
	assert.False(t, chat.HasRole("slow", "muted"))
}

func TestRaidMuteUndoneWhenDisabledMidCall(t *testing.T) {
	ctx := context.Background()
	capacity, window := RaidCapacity(model.RaidSettings{Users: 1, Seconds: 30})
	chat := &gatedChat{
		Fake:    transporttest.New(),
		user:    "racer",
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	chat.armed.Store(true)
	timers := tasks.NewTimerService()
	defer timers.Stop()
	g := NewRaidGuard(limiter.NewBucket("raid", capacity, window), chat, timers, testRoles, 0)

	require.True(t, g.OnJoin(ctx, "trigger"))
	done := make(chan struct{})
	go func() {
		g.OnJoin(ctx, "racer")
		close(done)
	}()
	<-chat.entered

	_, err := g.Disable(ctx)
	require.NoError(t, err)
	close(chat.release)
	<-done

	assert.False(t, chat.HasRole("racer", "muted"))
	assert.True(t, chat.HasRole("racer", "member"))
}

func TestRaidReconfigure(t *testing.T) {
	ctx := context.Background()
	g, _ := newTestRaidGuard(t, model.RaidSettings{Users: 2, Seconds: 30})

	g.OnJoin(ctx, "a")
	g.Reconfigure(model.RaidSettings{Users: 3, Seconds: 30})
	assert.False(t, g.OnJoin(ctx, "b"))
	assert.False(t, g.OnJoin(ctx, "c"))
	assert.True(t, g.OnJoin(ctx, "d"))
}

func TestFloodDeletesCappedRecentMessages(t *testing.T) {
	ctx := context.Background()
	settings := model.FloodSettings{Messages: 3, Seconds: 10}
	capacity, window := FloodCapacity(settings)
	chat := transporttest.New()
	g := NewFloodGuard(limiter.NewBucket("flood", capacity, window), chat, settings)

	spammer := transport.User{ID: "spammer", Username: "spam"}
	other := transport.User{ID: "other", Username: "other"}

	chat.Post("c1", spammer, "old spam")
	chat.Post("c1", other, "hello")

	var last *transport.Message
	for i := 0; i < 3; i++ {
		last = chat.Post("c1", spammer, "spam")
		if i < 2 {
			n, err := g.OnMessage(ctx, last)
			require.NoError(t, err)
			assert.Equal(t, 0, n)
		}
	}

	n, err := g.OnMessage(ctx, last)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	deleted := chat.Deleted()
	assert.Len(t, deleted, 3)
	assert.Contains(t, deleted, last.ID)

	history, err := chat.History(ctx, "c1", 50)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "hello", history[0].Content)
	assert.Equal(t, "old spam", history[1].Content)

	// The window was reset, so the next message is not treated as flood.
	n, err = g.OnMessage(ctx, chat.Post("c1", spammer, "sorry"))
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestFloodIgnoresBotsAndDMs(t *testing.T) {
	ctx := context.Background()
	settings := model.FloodSettings{Messages: 1, Seconds: 10}
	capacity, window := FloodCapacity(settings)
	chat := transporttest.New()
	g := NewFloodGuard(limiter.NewBucket("flood", capacity, window), chat, settings)

	n, err := g.OnMessage(ctx, &transport.Message{ID: "m", ChannelID: "c1", GuildID: "guild", Author: transport.User{ID: "b", Bot: true}})
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = g.OnMessage(ctx, &transport.Message{ID: "m", ChannelID: "dm-u", Author: transport.User{ID: "u"}})
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestPurge(t *testing.T) {
	ctx := context.Background()
	chat := transporttest.New()
	alice := transport.User{ID: "alice"}
	bob := transport.User{ID: "bob"}

	chat.Post("c1", alice, "Buy CHEAP stuff")
	chat.Post("c1", bob, "hi")
	chat.Post("c1", alice, "normal")
	chat.Post("c1", bob, "cheap again")

	n, err := Purge(ctx, chat, "c1", 10, PurgeFilter{Text: "cheap"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = Purge(ctx, chat, "c1", 10, PurgeFilter{UserID: "bob"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = Purge(ctx, chat, "c1", 10, PurgeFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = Purge(ctx, chat, "c1", 101, PurgeFilter{})
	assert.Error(t, err)
}

func TestWarn(t *testing.T) {
	ctx := context.Background()
	moderator := transport.User{ID: "mod", Username: "mod"}
	target := transport.User{ID: "target", Username: "target"}

	t.Run("reply", func(t *testing.T) {
		chat := transporttest.New()
		req := WarnRequest{ChannelID: "c1", Moderator: moderator, Target: target, ModLogChannelID: "modlog", Timeout: time.Second}

		done := make(chan struct{})
		var reason string
		var err error
		go func() {
			defer close(done)
			reason, err = Warn(ctx, chat, req)
		}()

		require.NoError(t, chat.WaitForWaiters(2, time.Second))
		chat.HandleMessage(chat.Post("c1", moderator, "please stop"))
		<-done

		require.NoError(t, err)
		assert.Equal(t, "please stop", reason)
		require.Len(t, chat.DMs("target"), 1)
		assert.Contains(t, chat.DMs("target")[0], "please stop")
		require.Len(t, chat.Embeds(), 1)
		assert.Equal(t, "modlog", chat.Embeds()[0].ChannelID)
		// Prompt and reply are cleaned up.
		assert.Len(t, chat.Deleted(), 2)
	})

	t.Run("cancel", func(t *testing.T) {
		chat := transporttest.New()
		var prompt *transport.Message
		chat.OnSend = func(m *transport.Message) {
			if prompt == nil {
				prompt = m
			}
		}
		req := WarnRequest{ChannelID: "c1", Moderator: moderator, Target: target, Timeout: time.Second}

		done := make(chan struct{})
		var err error
		go func() {
			defer close(done)
			_, err = Warn(ctx, chat, req)
		}()

		require.NoError(t, chat.WaitForWaiters(2, time.Second))
		chat.HandleReaction(&transport.Reaction{MessageID: prompt.ID, UserID: moderator.ID, Emoji: cancelEmoji})
		<-done

		assert.ErrorIs(t, err, transport.ErrCanceled)
		assert.Empty(t, chat.DMs("target"))
		assert.Empty(t, chat.Embeds())
	})
}
