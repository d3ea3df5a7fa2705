package transport

import (
	"context"
	"errors"
	"sync"
	"time"
)

type messageWaiter struct {
	filter MessageFilter
	ch     chan *Message
}

type reactionWaiter struct {
	filter ReactionFilter
	ch     chan *Reaction
}

// Awaiter holds one-shot waiters fed by the event router. Each waiter is
// resolved exactly once, by the first matching event, its timeout or its
// context, and whichever path loses does nothing.
type Awaiter struct {
	mu        sync.Mutex
	nextID    uint64
	messages  map[uint64]*messageWaiter
	reactions map[uint64]*reactionWaiter
}

func NewAwaiter() *Awaiter {
	return &Awaiter{
		messages:  make(map[uint64]*messageWaiter),
		reactions: make(map[uint64]*reactionWaiter),
	}
}

// HandleMessage delivers m to every waiter whose filter matches and reports
// whether any did.
func (a *Awaiter) HandleMessage(m *Message) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	matched := false
	for id, w := range a.messages {
		if w.filter(m) {
			delete(a.messages, id)
			w.ch <- m
			matched = true
		}
	}
	return matched
}

// HandleReaction delivers r to every waiter whose filter matches.
func (a *Awaiter) HandleReaction(r *Reaction) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	matched := false
	for id, w := range a.reactions {
		if w.filter(r) {
			delete(a.reactions, id)
			w.ch <- r
			matched = true
		}
	}
	return matched
}

// Waiting returns the number of unresolved waiters.
func (a *Awaiter) Waiting() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.messages) + len(a.reactions)
}

// AwaitMessage blocks until a message matching filter arrives. A timeout of
// zero waits on ctx alone.
func (a *Awaiter) AwaitMessage(ctx context.Context, filter MessageFilter, timeout time.Duration) (*Message, error) {
	w := &messageWaiter{filter: filter, ch: make(chan *Message, 1)}
	a.mu.Lock()
	a.nextID++
	id := a.nextID
	a.messages[id] = w
	a.mu.Unlock()

	return await(ctx, timeout, w.ch, func() bool {
		a.mu.Lock()
		defer a.mu.Unlock()
		_, pending := a.messages[id]
		delete(a.messages, id)
		return pending
	})
}

// AwaitReaction blocks until a reaction matching filter arrives.
func (a *Awaiter) AwaitReaction(ctx context.Context, filter ReactionFilter, timeout time.Duration) (*Reaction, error) {
	w := &reactionWaiter{filter: filter, ch: make(chan *Reaction, 1)}
	a.mu.Lock()
	a.nextID++
	id := a.nextID
	a.reactions[id] = w
	a.mu.Unlock()

	return await(ctx, timeout, w.ch, func() bool {
		a.mu.Lock()
		defer a.mu.Unlock()
		_, pending := a.reactions[id]
		delete(a.reactions, id)
		return pending
	})
}

// await receives from ch until timeout or ctx ends. remove unregisters the
// waiter and reports whether it was still pending; if not, a delivery won the
// race and its value is already buffered in ch.
func await[T any](ctx context.Context, timeout time.Duration, ch chan T, remove func() bool) (T, error) {
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	var err error
	select {
	case v := <-ch:
		return v, nil
	case <-expired:
		err = ErrTimeout
	case <-ctx.Done():
		err = ctxError(ctx)
	}

	if !remove() {
		return <-ch, nil
	}
	var zero T
	return zero, err
}

func ctxError(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrTimeout
	}
	return ErrCanceled
}

type replyResult struct {
	msg *Message
	err error
}

// AwaitReply waits for userID to answer prompt in its channel, racing the
// reply against cancelEmoji being added to the prompt. The reply wins with
// the message; the reaction wins with ErrCanceled; neither within timeout
// yields ErrTimeout. Both waits share one context, so the loser is released.
func AwaitReply(ctx context.Context, chat Chat, prompt *Message, userID, cancelEmoji string, timeout time.Duration) (*Message, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	replies := make(chan replyResult, 1)
	cancels := make(chan error, 1)

	go func() {
		m, err := chat.AwaitMessage(ctx, func(m *Message) bool {
			return m.ChannelID == prompt.ChannelID && m.Author.ID == userID
		}, 0)
		replies <- replyResult{msg: m, err: err}
	}()
	go func() {
		_, err := chat.AwaitReaction(ctx, func(r *Reaction) bool {
			return r.MessageID == prompt.ID && r.UserID == userID && r.Emoji == cancelEmoji
		}, 0)
		if err == nil {
			err = ErrCanceled
		}
		cancels <- err
	}()

	select {
	case res := <-replies:
		cancel()
		<-cancels
		return res.msg, res.err
	case err := <-cancels:
		cancel()
		res := <-replies
		if res.err == nil && err != ErrCanceled {
			return res.msg, nil
		}
		return nil, err
	}
}
