package domain

// Tool is a function tool schema exposed to an agent.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// Agent is a voice persona. Only Name and list order matter to the session
// core; the rest is forwarded to the upstream service.
type Agent struct {
	Name         string   `json:"name"`
	Voice        string   `json:"voice,omitempty"`
	Instructions string   `json:"instructions,omitempty"`
	Tools        []Tool   `json:"tools,omitempty"`
	Handoffs     []string `json:"handoffs,omitempty"`
}

// AgentSet is an ordered list of agents. The first entry is root.
type AgentSet []Agent

// Root returns the first agent, or false for an empty set.
func (s AgentSet) Root() (Agent, bool) {
	if len(s) == 0 {
		return Agent{}, false
	}
	return s[0], true
}

// Find looks up an agent by exact name.
func (s AgentSet) Find(name string) (Agent, bool) {
	for _, a := range s {
		if a.Name == name {
			return a, true
		}
	}
	return Agent{}, false
}

// Names returns agent names in order.
func (s AgentSet) Names() []string {
	names := make([]string, len(s))
	for i, a := range s {
		names[i] = a.Name
	}
	return names
}

// WithRoot returns a copy with the named agent moved to the front. The
// relative order of the others is kept. Unknown names return an unchanged copy.
func (s AgentSet) WithRoot(name string) AgentSet {
	out := make(AgentSet, 0, len(s))
	idx := -1
	for i, a := range s {
		if a.Name == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		return append(out, s...)
	}
	out = append(out, s[idx])
	out = append(out, s[:idx]...)
	return append(out, s[idx+1:]...)
}
