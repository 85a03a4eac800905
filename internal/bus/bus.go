// Package bus is the in-process event bus between the voice session and its
// subscribers (gateway clients, the console, metrics).
package bus

import (
	"context"
	"fmt"
	"sync"

	"github.com/soyeahso/voxlink/internal/logging"
)

// Kind is the closed set of event kinds.
type Kind int

const (
	KindStatusChanged Kind = iota
	KindConnected
	KindDisconnected
	KindError
	KindAgentHandoff
	KindItemAdded
	KindItemUpdated
	KindSpeechStarted
	KindSpeechStopped
	KindMuteChanged
	KindUpstream
	numKinds
)

var topics = [numKinds]string{
	KindStatusChanged: "session:status",
	KindConnected:     "session:connected",
	KindDisconnected:  "session:disconnected",
	KindError:         "session:error",
	KindAgentHandoff:  "session:agent_handoff",
	KindItemAdded:     "transcript:item_added",
	KindItemUpdated:   "transcript:item_updated",
	KindSpeechStarted: "input:speech_started",
	KindSpeechStopped: "input:speech_stopped",
	KindMuteChanged:   "audio:mute_changed",
	KindUpstream:      "upstream:event",
}

// String returns the topic name.
func (k Kind) String() string {
	if k < 0 || k >= numKinds {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return topics[k]
}

// Kinds lists every event kind.
func Kinds() []Kind {
	out := make([]Kind, numKinds)
	for i := range out {
		out[i] = Kind(i)
	}
	return out
}

// ParseKind maps a topic name back to its Kind.
func ParseKind(topic string) (Kind, bool) {
	for i, t := range topics {
		if t == topic {
			return Kind(i), true
		}
	}
	return 0, false
}

// Handler receives an event. Returning an error logs the failure but does
// not stop delivery to other handlers.
type Handler func(ctx context.Context, ev Event) error

type subscription struct {
	id      uint64
	name    string
	handler Handler
}

// Bus fans events out to subscribers in registration order.
type Bus struct {
	mu     sync.RWMutex
	subs   [numKinds][]subscription
	nextID uint64
	log    *logging.Logger
}

// New creates an empty bus.
func New(log *logging.Logger) *Bus {
	return &Bus{log: log.Sub("bus")}
}

// Subscribe registers a handler for one kind. The name is used in logs.
// The returned func removes the subscription and is safe to call twice.
func (b *Bus) Subscribe(kind Kind, name string, h Handler) (unsubscribe func()) {
	if kind < 0 || kind >= numKinds {
		panic(fmt.Sprintf("bus: unknown kind %d", int(kind)))
	}
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[kind] = append(b.subs[kind], subscription{id: id, name: name, handler: h})
	b.mu.Unlock()

	b.log.Debug().Str("kind", kind.String()).Str("handler", name).Msg("subscribed")

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(kind, id) })
	}
}

// SubscribeAll registers one handler for every kind.
func (b *Bus) SubscribeAll(name string, h Handler) (unsubscribe func()) {
	unsubs := make([]func(), 0, numKinds)
	for _, k := range Kinds() {
		unsubs = append(unsubs, b.Subscribe(k, name, h))
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

func (b *Bus) remove(kind Kind, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[kind]
	filtered := make([]subscription, 0, len(subs))
	for _, s := range subs {
		if s.id != id {
			filtered = append(filtered, s)
		}
	}
	b.subs[kind] = filtered
}

// Emit delivers ev synchronously to every handler of ev.Kind. Handler
// errors and panics are logged and never reach the publisher.
func (b *Bus) Emit(ctx context.Context, ev Event) {
	if ev.Kind < 0 || ev.Kind >= numKinds {
		b.log.Error().Int("kind", int(ev.Kind)).Msg("emit of unknown kind dropped")
		return
	}
	if ev.At.IsZero() {
		ev.At = now()
	}

	b.mu.RLock()
	subs := make([]subscription, len(b.subs[ev.Kind]))
	copy(subs, b.subs[ev.Kind])
	b.mu.RUnlock()

	for _, s := range subs {
		b.deliver(ctx, s, ev)
	}
}

func (b *Bus) deliver(ctx context.Context, s subscription, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error().
				Str("kind", ev.Kind.String()).
				Str("handler", s.name).
				Interface("panic", r).
				Msg("subscriber panicked")
		}
	}()
	if err := s.handler(ctx, ev); err != nil {
		b.log.Warn().
			Err(err).
			Str("kind", ev.Kind.String()).
			Str("handler", s.name).
			Msg("subscriber error")
	}
}

// Count returns the number of handlers registered for a kind.
func (b *Bus) Count(kind Kind) int {
	if kind < 0 || kind >= numKinds {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[kind])
}
