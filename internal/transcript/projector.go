package transcript

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"github.com/soyeahso/voxlink/internal/logging"
	"github.com/soyeahso/voxlink/internal/realtime"
)

// inaudible replaces an empty final user transcript.
const inaudible = "[inaudible]"

// Change reports one item affected by a projector operation.
type Change struct {
	Item  Item
	Added bool
}

// Projector owns the transcript sequence. It is safe for concurrent use;
// readers only ever receive copies.
type Projector struct {
	mu     sync.RWMutex
	items  []*Item
	index  map[string]int
	once   map[string]struct{} // itemID + event type for items without their own entry
	calls  map[string]call     // call_id of function calls seen this session
	replay *cache.Cache        // upstream event ids already applied
	now    func() time.Time
	lastMs int64
	log    *logging.Logger
}

// Option configures a Projector.
type Option func(*Projector)

// WithClock overrides the time source for createdAtMs.
func WithClock(now func() time.Time) Option {
	return func(p *Projector) { p.now = now }
}

// WithReplayWindow sets how long applied event ids are remembered.
func WithReplayWindow(d time.Duration) Option {
	return func(p *Projector) { p.replay = cache.New(d, 2*d) }
}

// NewProjector creates an empty transcript.
func NewProjector(log *logging.Logger, opts ...Option) *Projector {
	p := &Projector{
		index:  make(map[string]int),
		once:   make(map[string]struct{}),
		calls:  make(map[string]call),
		replay: cache.New(10*time.Minute, 20*time.Minute),
		now:    time.Now,
		log:    log.Sub("transcript"),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// nextMs returns a createdAtMs that never goes backwards. Caller holds mu.
func (p *Projector) nextMs() int64 {
	ms := p.now().UnixMilli()
	if ms < p.lastMs {
		ms = p.lastMs
	}
	p.lastMs = ms
	return ms
}

// appendLocked adds a new item. Caller holds mu.
func (p *Projector) appendLocked(it Item) *Item {
	it.CreatedAtMs = p.nextMs()
	ptr := &it
	p.index[it.ItemID] = len(p.items)
	p.items = append(p.items, ptr)
	return ptr
}

func (p *Projector) lookup(itemID string) *Item {
	if i, ok := p.index[itemID]; ok {
		return p.items[i]
	}
	return nil
}

// firstTime records key and reports whether it was new. Caller holds mu.
func (p *Projector) firstTime(itemID, eventType string) bool {
	key := itemID + "|" + eventType
	if _, seen := p.once[key]; seen {
		return false
	}
	p.once[key] = struct{}{}
	return true
}

// AddMessage records a created message. A second creation for the same id
// (replay, or the upstream echo of a locally added item) does not duplicate
// it; an existing placeholder is filled in instead.
func (p *Projector) AddMessage(itemID string, role Role, text string, hidden bool) Change {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.addMessageLocked(itemID, role, text, hidden)
}

func (p *Projector) addMessageLocked(itemID string, role Role, text string, hidden bool) Change {
	if it := p.lookup(itemID); it != nil {
		if it.Title == "" && text != "" {
			it.Title = text
		}
		if it.Role == "" {
			it.Role = role
		}
		return Change{Item: it.Clone()}
	}
	status := StatusInProgress
	if text != "" && role == RoleUser {
		status = StatusDone
	}
	it := p.appendLocked(Item{
		ItemID:   itemID,
		Type:     TypeMessage,
		Role:     role,
		Title:    text,
		IsHidden: hidden,
		Status:   status,
	})
	return Change{Item: it.Clone(), Added: true}
}

// AppendDelta appends streaming text to an item, creating a placeholder
// first if the delta beat its creation event.
func (p *Projector) AppendDelta(itemID string, role Role, delta string) Change {
	p.mu.Lock()
	defer p.mu.Unlock()

	added := false
	it := p.lookup(itemID)
	if it == nil {
		it = p.appendLocked(Item{ItemID: itemID, Type: TypeMessage, Role: role, Status: StatusInProgress})
		added = true
	}
	it.Title += delta
	return Change{Item: it.Clone(), Added: added}
}

// Complete replaces accumulated delta text with the final text.
func (p *Projector) Complete(itemID string, role Role, text string) Change {
	p.mu.Lock()
	defer p.mu.Unlock()

	if text == "" && role == RoleUser {
		text = inaudible
	}
	added := false
	it := p.lookup(itemID)
	if it == nil {
		it = p.appendLocked(Item{ItemID: itemID, Type: TypeMessage, Role: role})
		added = true
	}
	it.Title = text
	it.Status = StatusDone
	return Change{Item: it.Clone(), Added: added}
}

// AttachGuardrail annotates an existing item. Unknown ids are ignored.
func (p *Projector) AttachGuardrail(itemID string, res GuardrailResult) (Change, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	it := p.lookup(itemID)
	if it == nil {
		return Change{}, false
	}
	it.GuardrailResult = &res
	return Change{Item: it.Clone()}, true
}

// AddBreadcrumb appends a breadcrumb with a generated id.
func (p *Projector) AddBreadcrumb(title string, data map[string]any) Change {
	p.mu.Lock()
	defer p.mu.Unlock()

	it := Item{
		ItemID: "crumb_" + uuid.NewString(),
		Type:   TypeBreadcrumb,
		Title:  title,
		Status: StatusDone,
	}
	if data != nil {
		it.Data = cloneMap(data)
	}
	ptr := p.appendLocked(it)
	return Change{Item: ptr.Clone(), Added: true}
}

// ToggleExpanded flips the expanded flag of an item.
func (p *Projector) ToggleExpanded(itemID string) (Change, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	it := p.lookup(itemID)
	if it == nil {
		return Change{}, false
	}
	it.Expanded = !it.Expanded
	return Change{Item: it.Clone()}, true
}

// Get returns a copy of one item.
func (p *Projector) Get(itemID string) (Item, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	it := p.lookup(itemID)
	if it == nil {
		return Item{}, false
	}
	return it.Clone(), true
}

// Snapshot returns copies of all items in transcript order.
func (p *Projector) Snapshot() []Item {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]Item, len(p.items))
	for i, it := range p.items {
		out[i] = it.Clone()
	}
	return out
}

// Len returns the number of items.
func (p *Projector) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.items)
}

// Reset clears the transcript.
func (p *Projector) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.items = nil
	p.index = make(map[string]int)
	p.once = make(map[string]struct{})
	p.calls = make(map[string]call)
	p.replay.Flush()
}

// Seen reports whether an upstream event id was already handled and
// remembers it otherwise. Events without an id are never seen.
func (p *Projector) Seen(eventID string) bool {
	if eventID == "" {
		return false
	}
	return p.replay.Add(eventID, struct{}{}, cache.DefaultExpiration) != nil
}

type call struct {
	name  string
	quiet bool
}

// NoteCall records the tool name behind callID so its output item can be
// titled. Output of a quiet call produces no breadcrumb. It reports false
// when callID was already noted.
func (p *Projector) NoteCall(callID, name string, quiet bool) bool {
	if callID == "" {
		return true
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.calls[callID]; ok {
		return false
	}
	p.calls[callID] = call{name: name, quiet: quiet}
	return true
}

// Apply folds one transcript or guardrail class event into the sequence.
// Other event classes, malformed payloads and replayed event ids produce
// no changes.
func (p *Projector) Apply(ev realtime.ServerEvent) []Change {
	if p.Seen(ev.EventID) {
		p.log.Debug().Str("event", ev.Type).Str("event_id", ev.EventID).Msg("replayed event dropped")
		return nil
	}
	return p.Fold(ev)
}

// Fold is Apply for an event whose id the caller already checked with Seen.
func (p *Projector) Fold(ev realtime.ServerEvent) []Change {
	switch ev.Type {
	case realtime.EventItemCreated, realtime.EventItemAdded:
		var ie realtime.ItemEvent
		if !p.decode(ev, &ie) {
			return nil
		}
		return p.applyItem(ie.Item)

	case realtime.EventInputTranscriptionDelta:
		return p.applyDelta(ev, RoleUser)
	case realtime.EventAudioTranscriptDelta, realtime.EventOutputTranscriptDelta, realtime.EventTextDelta:
		return p.applyDelta(ev, RoleAssistant)

	case realtime.EventInputTranscriptionCompleted:
		return p.applyDone(ev, RoleUser)
	case realtime.EventAudioTranscriptDone, realtime.EventOutputTranscriptDone, realtime.EventTextDone:
		return p.applyDone(ev, RoleAssistant)

	case realtime.EventGuardrailTripped:
		var ge realtime.GuardrailEvent
		if !p.decode(ev, &ge) {
			return nil
		}
		c, ok := p.AttachGuardrail(ge.ItemID, GuardrailResult(ge.Guardrail))
		if !ok {
			p.log.Warn().Str("item_id", ge.ItemID).Msg("guardrail for unknown item")
			return nil
		}
		return []Change{c}
	}
	return nil
}

func (p *Projector) applyItem(item realtime.Item) []Change {
	switch item.Type {
	case "message":
		if item.ID == "" {
			return nil
		}
		role := Role(item.Role)
		if role == "" {
			role = RoleAssistant
		}
		p.mu.Lock()
		c := p.addMessageLocked(item.ID, role, item.Text(), false)
		p.mu.Unlock()
		return []Change{c}

	case "function_call_output":
		p.mu.Lock()
		fresh := item.ID == "" || p.firstTime(item.ID, "output")
		c, known := p.calls[item.CallID]
		p.mu.Unlock()
		if !fresh || c.quiet {
			return nil
		}
		data := map[string]any{"call_id": item.CallID}
		var parsed any
		if json.Unmarshal([]byte(item.Output), &parsed) == nil {
			data["output"] = parsed
		} else {
			data["output"] = item.Output
		}
		name := item.Name
		if known {
			name = c.name
		}
		title := "function call result"
		if name != "" {
			title += ": " + name
		}
		return []Change{p.AddBreadcrumb(title, data)}
	}
	return nil
}

func (p *Projector) applyDelta(ev realtime.ServerEvent, role Role) []Change {
	var te realtime.TranscriptEvent
	if !p.decode(ev, &te) || te.ItemID == "" {
		return nil
	}
	return []Change{p.AppendDelta(te.ItemID, role, te.Delta)}
}

func (p *Projector) applyDone(ev realtime.ServerEvent, role Role) []Change {
	var te realtime.TranscriptEvent
	if !p.decode(ev, &te) || te.ItemID == "" {
		return nil
	}
	return []Change{p.Complete(te.ItemID, role, te.Final())}
}

func (p *Projector) decode(ev realtime.ServerEvent, v any) bool {
	if err := ev.Into(v); err != nil {
		p.log.Warn().Err(err).Str("event", ev.Type).Msg("malformed transcript event")
		return false
	}
	return true
}
