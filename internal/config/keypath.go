package config

import (
	"reflect"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

var segmentRE = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// KeyPath addresses a value in the raw config document, e.g.
// turnDetection.mode.
type KeyPath []string

// ParseKeyPath splits a dotted key. The first segment must name a config
// section.
func ParseKeyPath(raw string) (KeyPath, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, &ConfigError{Message: "empty config key"}
	}
	parts := strings.Split(raw, ".")
	for _, p := range parts {
		if !segmentRE.MatchString(p) {
			return nil, &ConfigError{Message: "invalid config key segment: " + strconv.Quote(p)}
		}
	}
	if !slices.Contains(Sections(), parts[0]) {
		return nil, &ConfigError{Message: "unknown config section: " + parts[0]}
	}
	return KeyPath(parts), nil
}

func (k KeyPath) String() string {
	return strings.Join(k, ".")
}

// Get walks the nested maps of root.
func (k KeyPath) Get(root map[string]any) (any, bool) {
	var cur any = root
	for _, key := range k {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = m[key]; !ok {
			return nil, false
		}
	}
	return cur, true
}

// Set stores value, replacing anything in the way with maps.
func (k KeyPath) Set(root map[string]any, value any) {
	parent := k.parent(root, true)
	parent[k[len(k)-1]] = value
}

// Unset removes the value and reports whether it was there.
func (k KeyPath) Unset(root map[string]any) bool {
	parent := k.parent(root, false)
	if parent == nil {
		return false
	}
	last := k[len(k)-1]
	if _, ok := parent[last]; !ok {
		return false
	}
	delete(parent, last)
	return true
}

func (k KeyPath) parent(root map[string]any, create bool) map[string]any {
	cur := root
	for _, key := range k[:len(k)-1] {
		next, ok := cur[key].(map[string]any)
		if !ok {
			if !create {
				return nil
			}
			next = map[string]any{}
			cur[key] = next
		}
		cur = next
	}
	return cur
}

// Sections lists the top-level keys of the config file.
func Sections() []string {
	t := reflect.TypeOf(Config{})
	out := make([]string, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		name, _, _ := strings.Cut(t.Field(i).Tag.Get("yaml"), ",")
		if name != "" && name != "-" {
			out = append(out, name)
		}
	}
	return out
}
