package database

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/memorial36b/aaravosbot/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "data.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestContactSessionLifecycle(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	_, err := store.GetContactSession(ctx, "u1")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.CreateContactSession(ctx, model.ContactSession{UserID: "u1", CreatedAt: 100}))
	assert.ErrorIs(t, store.CreateContactSession(ctx, model.ContactSession{UserID: "u1", CreatedAt: 200}), ErrExists)

	session, err := store.GetContactSession(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, session.Pending())
	assert.Equal(t, int64(100), session.CreatedAt)

	session.ChannelID = "c1"
	session.StartTime = 150
	require.NoError(t, store.UpsertContactSession(ctx, *session))

	byChannel, err := store.GetContactSessionByChannel(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "u1", byChannel.UserID)
	assert.False(t, byChannel.Pending())

	_, err = store.GetContactSessionByChannel(ctx, "")
	assert.ErrorIs(t, err, ErrNotFound)

	active, pending, err := store.CountContactSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, active)
	assert.Equal(t, 0, pending)

	require.NoError(t, store.DeleteContactSession(ctx, "u1"))
	_, err = store.GetContactSession(ctx, "u1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, store.DeleteContactSession(ctx, "u1"))
}

func TestCreateContactSessionConcurrent(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	var wg sync.WaitGroup
	var mu sync.Mutex
	created := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := store.CreateContactSession(ctx, model.ContactSession{UserID: "u1"}); err == nil {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, created)
}

func TestChatLogOrdering(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	require.NoError(t, store.AppendChatLog(ctx, model.ChatLogEntry{UserID: "u1", Message: "second", Timestamp: 20}))
	require.NoError(t, store.AppendChatLog(ctx, model.ChatLogEntry{UserID: "u1", Message: "first", Timestamp: 10}))
	require.NoError(t, store.AppendChatLog(ctx, model.ChatLogEntry{UserID: "u1", Message: "third", Timestamp: 20}))
	require.NoError(t, store.AppendChatLog(ctx, model.ChatLogEntry{UserID: "u2", Message: "other", Timestamp: 5}))

	entries, err := store.ListChatLog(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "first", entries[0].Message)
	assert.Equal(t, "second", entries[1].Message)
	assert.Equal(t, "third", entries[2].Message)

	require.NoError(t, store.DeleteChatLog(ctx, "u1"))
	entries, err = store.ListChatLog(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, entries)

	others, err := store.ListChatLog(ctx, "u2")
	require.NoError(t, err)
	assert.Len(t, others, 1)
}

func TestMuteRecords(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	require.NoError(t, store.UpsertMuteRecord(ctx, model.MuteRecord{UserID: "u1", EndTime: 60}))
	require.NoError(t, store.UpsertMuteRecord(ctx, model.MuteRecord{UserID: "u1", EndTime: 120}))
	require.NoError(t, store.UpsertMuteRecord(ctx, model.MuteRecord{UserID: "u2", EndTime: 30}))

	record, err := store.GetMuteRecord(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(120), record.EndTime)

	records, err := store.ListMuteRecords(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "u2", records[0].UserID)

	require.NoError(t, store.DeleteMuteRecord(ctx, "u1"))
	_, err = store.GetMuteRecord(ctx, "u1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestQuotedMessages(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	quoted, err := store.IsQuoted(ctx, "m1")
	require.NoError(t, err)
	assert.False(t, quoted)

	require.NoError(t, store.AddQuoted(ctx, model.QuotedMessage{ChannelID: "c1", MessageID: "m1", QuotedAt: 1}))
	require.NoError(t, store.AddQuoted(ctx, model.QuotedMessage{ChannelID: "c1", MessageID: "m1", QuotedAt: 2}))

	quoted, err = store.IsQuoted(ctx, "m1")
	require.NoError(t, err)
	assert.True(t, quoted)
}
