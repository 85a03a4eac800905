package bus

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/voxlink/internal/domain"
	"github.com/soyeahso/voxlink/internal/logging"
	"github.com/soyeahso/voxlink/internal/transcript"
)

func testBus() *Bus {
	return New(logging.New(nil, "silent"))
}

func TestSubscribeAndEmit(t *testing.T) {
	b := testBus()

	var got Event
	b.Subscribe(KindConnected, "test", func(_ context.Context, ev Event) error {
		got = ev
		return nil
	})

	b.Emit(context.Background(), Event{Kind: KindConnected, SessionID: "s1"})
	assert.Equal(t, KindConnected, got.Kind)
	assert.Equal(t, "s1", got.SessionID)
	assert.False(t, got.At.IsZero())
}

func TestEmitOnlyReachesMatchingKind(t *testing.T) {
	b := testBus()

	calls := 0
	b.Subscribe(KindDisconnected, "test", func(_ context.Context, _ Event) error {
		calls++
		return nil
	})
	b.Emit(context.Background(), Event{Kind: KindConnected})
	assert.Equal(t, 0, calls)
}

func TestEmitOrderAndErrorIsolation(t *testing.T) {
	b := testBus()

	var order []string
	b.Subscribe(KindError, "failing", func(_ context.Context, _ Event) error {
		order = append(order, "failing")
		return errors.New("boom")
	})
	b.Subscribe(KindError, "panicking", func(_ context.Context, _ Event) error {
		order = append(order, "panicking")
		panic("bad subscriber")
	})
	b.Subscribe(KindError, "last", func(_ context.Context, _ Event) error {
		order = append(order, "last")
		return nil
	})

	assert.NotPanics(t, func() {
		b.Emit(context.Background(), Event{Kind: KindError})
	})
	assert.Equal(t, []string{"failing", "panicking", "last"}, order)
}

func TestUnsubscribe(t *testing.T) {
	b := testBus()

	calls := 0
	unsub := b.Subscribe(KindItemAdded, "ui", func(_ context.Context, _ Event) error {
		calls++
		return nil
	})
	b.Subscribe(KindItemAdded, "ui", func(_ context.Context, _ Event) error { return nil })
	assert.Equal(t, 2, b.Count(KindItemAdded))

	unsub()
	unsub()
	assert.Equal(t, 1, b.Count(KindItemAdded), "only the returned subscription is removed")

	b.Emit(context.Background(), Event{Kind: KindItemAdded})
	assert.Equal(t, 0, calls)
}

func TestSubscribeAll(t *testing.T) {
	b := testBus()

	var kinds []Kind
	unsub := b.SubscribeAll("gateway", func(_ context.Context, ev Event) error {
		kinds = append(kinds, ev.Kind)
		return nil
	})
	for _, k := range Kinds() {
		assert.Equal(t, 1, b.Count(k))
	}

	b.Emit(context.Background(), Event{Kind: KindAgentHandoff})
	b.Emit(context.Background(), Event{Kind: KindMuteChanged})
	assert.Equal(t, []Kind{KindAgentHandoff, KindMuteChanged}, kinds)

	unsub()
	for _, k := range Kinds() {
		assert.Equal(t, 0, b.Count(k))
	}
}

func TestUnknownKind(t *testing.T) {
	b := testBus()
	assert.Panics(t, func() {
		b.Subscribe(Kind(99), "x", func(context.Context, Event) error { return nil })
	})
	assert.NotPanics(t, func() { b.Emit(context.Background(), Event{Kind: Kind(99)}) })
	assert.Equal(t, 0, b.Count(Kind(-1)))
	assert.Equal(t, "Kind(99)", Kind(99).String())
}

func TestKindTopics(t *testing.T) {
	assert.Equal(t, "session:connected", KindConnected.String())
	assert.Equal(t, "session:agent_handoff", KindAgentHandoff.String())
	assert.Len(t, Kinds(), int(numKinds))

	seen := map[string]bool{}
	for _, k := range Kinds() {
		topic := k.String()
		assert.NotEmpty(t, topic)
		assert.False(t, seen[topic], "duplicate topic %s", topic)
		seen[topic] = true

		parsed, ok := ParseKind(topic)
		require.True(t, ok)
		assert.Equal(t, k, parsed)
	}
	_, ok := ParseKind("session:exploded")
	assert.False(t, ok)
}

func TestEventJSON(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	item := transcript.Item{ItemID: "x1", Type: transcript.TypeBreadcrumb, Title: "Agent: zahra"}

	data, err := json.Marshal(Event{
		Kind:    KindAgentHandoff,
		At:      at,
		Status:  domain.StatusConnected,
		Handoff: &Handoff{From: "bayaan", To: "zahra"},
		Item:    &item,
		Err:     errors.New("ignored"),
	})
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "session:agent_handoff", decoded["kind"])
	assert.Equal(t, "CONNECTED", decoded["status"])
	assert.Equal(t, "ignored", decoded["error"])
	assert.Equal(t, map[string]any{"from": "bayaan", "to": "zahra"}, decoded["handoff"])
	assert.NotContains(t, decoded, "muted")

	data, err = json.Marshal(Event{Kind: KindMuteChanged, Muted: false})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"muted":false`)
}
