// Package events provides the synchronous in-process event bus used to report sign-in,
// refresh, sign-out and storage lifecycle events.
package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	domainauth "github.com/target/mmk-auth/internal/domain/auth"
)

// Name identifies an event type.
type Name string

const (
	SignInStarted   Name = "sign_in_started"
	SignInSuccess   Name = "sign_in_success"
	SignInError     Name = "sign_in_error"
	TokenRefreshed  Name = "token_refreshed"
	RefreshError    Name = "refresh_error"
	SessionExpired  Name = "session_expired"
	SignedOut       Name = "signed_out"
	StorageMigrated Name = "storage_migrated"
)

// Event is delivered to handlers. Payload fields are set per event type and never
// carry token values.
type Event struct {
	Name   Name
	At     time.Time
	Method domainauth.AuthMethod
	User   *domainauth.User
	// Error is a human-readable message for error events.
	Error string
	// Data holds event-specific details such as storage types on StorageMigrated.
	Data map[string]any
}

// Handler receives events.
type Handler func(Event)

type subscription struct {
	id int
	fn Handler
}

// BusOptions groups dependencies for Bus.
type BusOptions struct {
	Logger *slog.Logger
	Now    func() time.Time
}

// Bus dispatches events to handlers synchronously in registration order.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Name][]subscription
	nextID   int
	logger   *slog.Logger
	now      func() time.Time
}

// NewBus creates an empty Bus.
func NewBus(opts BusOptions) *Bus {
	b := &Bus{
		handlers: make(map[Name][]subscription),
		logger:   opts.Logger,
		now:      opts.Now,
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}
	b.logger = b.logger.With("component", "events")
	if b.now == nil {
		b.now = time.Now
	}
	return b
}

// On registers fn for events named name and returns a function that removes it.
func (b *Bus) On(name Name, fn Handler) func() {
	if fn == nil {
		return func() {}
	}
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.handlers[name] = append(b.handlers[name], subscription{id: id, fn: fn})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.off(name, id) })
	}
}

func (b *Bus) off(name Name, id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.handlers[name]
	for i, s := range subs {
		if s.id == id {
			b.handlers[name] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

// Emit delivers ev to every handler registered for ev.Name. A panicking handler is
// logged and does not stop delivery to the others.
func (b *Bus) Emit(ev Event) {
	if ev.At.IsZero() {
		ev.At = b.now()
	}

	b.mu.RLock()
	subs := append([]subscription(nil), b.handlers[ev.Name]...)
	b.mu.RUnlock()

	for _, s := range subs {
		b.deliver(s.fn, ev)
	}
}

func (b *Bus) deliver(fn Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.LogAttrs(context.Background(), slog.LevelError, "event handler panicked",
				slog.String("event", string(ev.Name)),
				slog.Any("panic", r))
		}
	}()
	fn(ev)
}
