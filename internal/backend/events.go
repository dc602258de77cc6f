package backend

import (
	"log/slog"
	"sync"
)

// EventKind names an auth state transition.
type EventKind string

const (
	SignedIn       EventKind = "signed_in"
	SignedOut      EventKind = "signed_out"
	TokenRefreshed EventKind = "token_refreshed"
)

// AuthEvent is published whenever a session changes state.
type AuthEvent struct {
	Kind        EventKind
	SessionID   string
	UserID      string
	AccessToken string
}

// subscriberBuffer bounds how far a slow subscriber may fall behind before
// its events are dropped.
const subscriberBuffer = 64

// broker fans auth events out to subscribers.
//
// Each subscriber gets its own channel and goroutine, so events reach a
// subscriber in publish order and a handler is free to call back into the
// backend (which may itself publish) without deadlocking the publisher.
// Publishing never blocks: a subscriber whose buffer is full misses the event.
type broker struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan AuthEvent
	wg     sync.WaitGroup
	logger *slog.Logger
}

func newBroker(logger *slog.Logger) *broker {
	return &broker{subs: make(map[int]chan AuthEvent), logger: logger}
}

// Subscription is returned by OnAuthStateChange.
type Subscription struct {
	once  sync.Once
	unsub func()
}

// Unsubscribe stops delivery. Events already queued are still delivered.
// Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.once.Do(s.unsub)
}

func (b *broker) subscribe(fn func(AuthEvent)) *Subscription {
	ch := make(chan AuthEvent, subscriberBuffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for ev := range ch {
			fn(ev)
		}
	}()

	return &Subscription{unsub: func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if c, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(c)
		}
	}}
}

func (b *broker) publish(ev AuthEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.logger.Warn("auth event dropped, subscriber buffer full",
				slog.Int("subscriber", id),
				slog.String("event", string(ev.Kind)),
				slog.String("sessionID", ev.SessionID),
			)
		}
	}
}

// close unsubscribes everyone and waits for queued events to drain.
func (b *broker) close() {
	b.mu.Lock()
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
	b.mu.Unlock()
	b.wg.Wait()
}
