// Package store persists preferences and archived session transcripts.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/soyeahso/voxlink/internal/domain"
	"github.com/soyeahso/voxlink/internal/logging"
	"github.com/soyeahso/voxlink/internal/transcript"
)

// ErrNotFound is returned when a key or session does not exist.
var ErrNotFound = errors.New("store: not found")

// Prefs is a plain string key-value store.
type Prefs interface {
	GetPref(ctx context.Context, key string) (string, error)
	SetPref(ctx context.Context, key, value string) error
	DeletePref(ctx context.Context, key string) error
	ListPrefs(ctx context.Context) (map[string]string, error)
}

// Archive keeps the transcripts of finished sessions.
type Archive interface {
	SaveTranscript(ctx context.Context, rec domain.SessionRecord, items []transcript.Item) error
	ListSessions(ctx context.Context, limit int) ([]domain.SessionRecord, error)
	Transcript(ctx context.Context, sessionID string) (domain.SessionRecord, []transcript.Item, error)
	DeleteSession(ctx context.Context, sessionID string) error
	Search(ctx context.Context, query string, limit int) ([]Hit, error)
}

// Store is the full persistence surface.
type Store interface {
	Prefs
	Archive
	Close() error
}

// Hit is one transcript search result.
type Hit struct {
	SessionID string  `json:"sessionId"`
	ItemID    string  `json:"itemId"`
	Role      string  `json:"role,omitempty"`
	Title     string  `json:"title"`
	Rank      float64 `json:"rank"`
}

// New opens the store selected by driver: "sqlite" at path, or "memory".
func New(driver, path string, log *logging.Logger) (Store, error) {
	switch driver {
	case "", "sqlite":
		db, err := Open(path, log)
		if err != nil {
			return nil, err
		}
		return NewSQLiteStore(db), nil
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("store: unknown driver %q", driver)
	}
}
