package store

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/soyeahso/voxlink/internal/domain"
	"github.com/soyeahso/voxlink/internal/transcript"
)

// MemoryStore is a process-local Store. Nothing survives a restart.
type MemoryStore struct {
	mu       sync.RWMutex
	prefs    map[string]string
	sessions map[string]archived
}

type archived struct {
	rec   domain.SessionRecord
	items []transcript.Item
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		prefs:    make(map[string]string),
		sessions: make(map[string]archived),
	}
}

func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) GetPref(_ context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.prefs[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (m *MemoryStore) SetPref(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prefs[key] = value
	return nil
}

func (m *MemoryStore) DeletePref(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.prefs, key)
	return nil
}

func (m *MemoryStore) ListPrefs(context.Context) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string, len(m.prefs))
	for k, v := range m.prefs {
		out[k] = v
	}
	return out, nil
}

func (m *MemoryStore) SaveTranscript(_ context.Context, rec domain.SessionRecord, items []transcript.Item) error {
	cp := make([]transcript.Item, len(items))
	for i, it := range items {
		cp[i] = it.Clone()
	}
	rec.Items = len(items)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[rec.ID] = archived{rec: rec, items: cp}
	return nil
}

func (m *MemoryStore) ListSessions(_ context.Context, limit int) ([]domain.SessionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	m.mu.RLock()
	out := make([]domain.SessionRecord, 0, len(m.sessions))
	for _, a := range m.sessions {
		out = append(out, a.rec)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) Transcript(_ context.Context, sessionID string) (domain.SessionRecord, []transcript.Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.sessions[sessionID]
	if !ok {
		return domain.SessionRecord{}, nil, ErrNotFound
	}
	items := make([]transcript.Item, len(a.items))
	for i, it := range a.items {
		items[i] = it.Clone()
	}
	return a.rec, items, nil
}

func (m *MemoryStore) DeleteSession(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[sessionID]; !ok {
		return ErrNotFound
	}
	delete(m.sessions, sessionID)
	return nil
}

// Search does a case-insensitive substring match over item titles.
func (m *MemoryStore) Search(_ context.Context, query string, limit int) ([]Hit, error) {
	if limit <= 0 {
		limit = 20
	}
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil, nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var hits []Hit
	for _, id := range ids {
		for _, it := range m.sessions[id].items {
			if !strings.Contains(strings.ToLower(it.Title), q) {
				continue
			}
			hits = append(hits, Hit{SessionID: id, ItemID: it.ItemID, Role: string(it.Role), Title: it.Title})
			if len(hits) == limit {
				return hits, nil
			}
		}
	}
	return hits, nil
}
