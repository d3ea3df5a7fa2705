package utils

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDuration(t *testing.T) {
	cases := map[string]time.Duration{
		"5d2h15m45s": 5*24*time.Hour + 2*time.Hour + 15*time.Minute + 45*time.Second,
		"10s":        10 * time.Second,
		"1H":         time.Hour,
		"30m 30m":    time.Hour,
		"2 d":        48 * time.Hour,
	}
	for in, want := range cases {
		got, err := ParseDuration(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseDuration("soon")
	assert.Error(t, err)
	_, err = ParseDuration("")
	assert.Error(t, err)

	for _, in := range []string{"213504d", "106752d", "106751d 1d", "99999999999999999999s"} {
		_, err := ParseDuration(in)
		assert.Error(t, err, in)
	}
	got, err := ParseDuration("106751d")
	require.NoError(t, err)
	assert.Equal(t, 106751*24*time.Hour, got)
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "3 hours, 4 minutes and 5 seconds", FormatDuration(3*time.Hour+4*time.Minute+5*time.Second))
	assert.Equal(t, "1 day", FormatDuration(24*time.Hour))
	assert.Equal(t, "1 minute and 1 second", FormatDuration(61*time.Second))
	assert.Equal(t, "2 days and 30 seconds", FormatDuration(48*time.Hour+30*time.Second))
	assert.Equal(t, "0 seconds", FormatDuration(0))
}

func TestPlural(t *testing.T) {
	assert.Equal(t, "1 squid", Plural(1, "squid"))
	assert.Equal(t, "8 squids", Plural(8, "squid"))
	assert.Equal(t, "0 squids", Plural(0, "squid"))
}

func TestParseUserID(t *testing.T) {
	for in, want := range map[string]string{
		"<@220509153985167360>":  "220509153985167360",
		"<@!220509153985167360>": "220509153985167360",
		"220509153985167360":     "220509153985167360",
	} {
		got, ok := ParseUserID(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got)
	}
	_, ok := ParseUserID("alice")
	assert.False(t, ok)
	_, ok = ParseUserID("12")
	assert.False(t, ok)
}

func TestSplitArgs(t *testing.T) {
	assert.Equal(t, []string{"50", "bad words here"}, SplitArgs(`50 "bad words here"`))
	assert.Equal(t, []string{"a", "b"}, SplitArgs("  a \t b  "))
	assert.Equal(t, []string{""}, SplitArgs(`""`))
	assert.Nil(t, SplitArgs(""))
}

func TestPermissions(t *testing.T) {
	p := Permissions{
		OwnerID:              "owner",
		OwnerLevel:           ModeratorLevel,
		ModeratorRoleIDs:     []string{"mod"},
		AdministratorRoleIDs: []string{"admin"},
	}

	assert.True(t, p.Has("anyone", nil, UserLevel))
	assert.False(t, p.Has("anyone", nil, ModeratorLevel))
	assert.True(t, p.Has("m", []string{"mod"}, ModeratorLevel))
	assert.False(t, p.Has("m", []string{"mod"}, AdministratorLevel))
	assert.True(t, p.Has("a", []string{"member", "admin"}, ModeratorLevel))
	assert.True(t, p.Has("a", []string{"admin"}, AdministratorLevel))

	// The owner's level comes from config, not roles.
	assert.True(t, p.Has("owner", nil, ModeratorLevel))
	assert.False(t, p.Has("owner", []string{"admin"}, AdministratorLevel))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, ModeratorLevel, ParseLevel("Moderator"))
	assert.Equal(t, AdministratorLevel, ParseLevel("administrator"))
	assert.Equal(t, UserLevel, ParseLevel("nonsense"))
	assert.Equal(t, "moderator", ModeratorLevel.String())
}

func TestKeyedMutexSerializesPerKey(t *testing.T) {
	k := NewKeyedMutex()

	var inside atomic.Int32
	var maxInside atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock("user")
			defer unlock()
			n := inside.Add(1)
			if n > maxInside.Load() {
				maxInside.Store(n)
			}
			time.Sleep(time.Millisecond)
			inside.Add(-1)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside.Load())
	assert.Equal(t, 0, k.Len())
}

func TestKeyedMutexIndependentKeys(t *testing.T) {
	k := NewKeyedMutex()
	unlockA := k.Lock("a")
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlock := k.Lock("b")
		unlock()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on b blocked behind a")
	}
}
