// Package transcript folds the upstream event stream into an ordered,
// read-only transcript of messages and breadcrumbs.
package transcript

// ItemType distinguishes conversation messages from breadcrumbs.
type ItemType string

const (
	TypeMessage    ItemType = "MESSAGE"
	TypeBreadcrumb ItemType = "BREADCRUMB"
)

// Role is the speaker of a message item.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Item status values.
const (
	StatusInProgress = "IN_PROGRESS"
	StatusDone       = "DONE"
)

// GuardrailResult is a moderation verdict attached after the fact.
type GuardrailResult struct {
	Name      string `json:"name,omitempty"`
	Category  string `json:"category,omitempty"`
	Rationale string `json:"rationale,omitempty"`
	Tripped   bool   `json:"tripped"`
}

// Item is one transcript entry. Values handed out by the projector are
// copies; mutating them has no effect on the transcript.
type Item struct {
	ItemID          string           `json:"itemId"`
	Type            ItemType         `json:"type"`
	Role            Role             `json:"role,omitempty"`
	CreatedAtMs     int64            `json:"createdAtMs"`
	Title           string           `json:"title"`
	Data            map[string]any   `json:"data,omitempty"`
	Expanded        bool             `json:"expanded"`
	IsHidden        bool             `json:"isHidden"`
	Status          string           `json:"status"`
	GuardrailResult *GuardrailResult `json:"guardrailResult,omitempty"`
}

// Clone returns a deep copy of the item.
func (it Item) Clone() Item {
	out := it
	if it.Data != nil {
		out.Data = cloneMap(it.Data)
	}
	if it.GuardrailResult != nil {
		g := *it.GuardrailResult
		out.GuardrailResult = &g
	}
	return out
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		s := make([]any, len(t))
		for i, e := range t {
			s[i] = cloneValue(e)
		}
		return s
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}
