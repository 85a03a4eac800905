package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/voxlink/internal/domain"
	"github.com/soyeahso/voxlink/internal/logging"
	"github.com/soyeahso/voxlink/internal/transcript"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	log := logging.New(nil, "silent")
	db, err := Open(":memory:", log)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

// eachStore runs fn against both implementations.
func eachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Run("sqlite", func(t *testing.T) { fn(t, NewSQLiteStore(testDB(t))) })
	t.Run("memory", func(t *testing.T) { fn(t, NewMemoryStore()) })
}

// --- DB/Migration tests ---

func TestOpen_InMemory(t *testing.T) {
	db := testDB(t)
	assert.NotNil(t, db)
	assert.NotNil(t, db.SQL())
}

func TestMigrations_Applied(t *testing.T) {
	db := testDB(t)

	var count int
	err := db.sql.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, len(migrations), count)
}

func TestMigrations_Idempotent(t *testing.T) {
	db := testDB(t)

	require.NoError(t, db.migrate(context.Background()))

	v, err := db.SchemaVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, migrations[len(migrations)-1].Version, v)

	var count int
	err = db.sql.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, len(migrations), count)
}

func TestForeignKeysEnabled(t *testing.T) {
	db := testDB(t)
	var on int
	require.NoError(t, db.sql.QueryRow("PRAGMA foreign_keys").Scan(&on))
	assert.Equal(t, 1, on)
}

func TestSchema_TablesExist(t *testing.T) {
	db := testDB(t)

	for _, table := range []string{"preferences", "sessions", "transcript_items", "transcript_fts"} {
		var name string
		err := db.sql.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		require.NoError(t, err, "table %s should exist", table)
	}
}

func TestOpen_FileCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "voxlink.db")
	s, err := New("sqlite", path, logging.New(nil, "silent"))
	require.NoError(t, err)
	require.NoError(t, s.SetPref(context.Background(), "voice", "sage"))
	require.NoError(t, s.Close())

	s, err = New("sqlite", path, logging.New(nil, "silent"))
	require.NoError(t, err)
	defer s.Close()
	v, err := s.GetPref(context.Background(), "voice")
	require.NoError(t, err)
	assert.Equal(t, "sage", v)
}

func TestNew_Drivers(t *testing.T) {
	s, err := New("memory", "", logging.New(nil, "silent"))
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	_, err = New("postgres", "", logging.New(nil, "silent"))
	assert.Error(t, err)
}

// --- Preferences ---

func TestPrefs(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		_, err := s.GetPref(ctx, "voice")
		assert.ErrorIs(t, err, ErrNotFound)

		require.NoError(t, s.SetPref(ctx, "voice", "sage"))
		require.NoError(t, s.SetPref(ctx, "voice", "verse"))
		require.NoError(t, s.SetPref(ctx, "ptt_enabled", "true"))

		v, err := s.GetPref(ctx, "voice")
		require.NoError(t, err)
		assert.Equal(t, "verse", v)

		all, err := s.ListPrefs(ctx)
		require.NoError(t, err)
		assert.Equal(t, map[string]string{"voice": "verse", "ptt_enabled": "true"}, all)

		require.NoError(t, s.DeletePref(ctx, "voice"))
		require.NoError(t, s.DeletePref(ctx, "voice"))
		_, err = s.GetPref(ctx, "voice")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

// --- Archive ---

func sampleItems() []transcript.Item {
	return []transcript.Item{
		{ItemID: "u1", Type: transcript.TypeMessage, Role: transcript.RoleUser, CreatedAtMs: 100, Title: "what's the weather in Lisbon", Status: transcript.StatusDone},
		{ItemID: "crumb_1", Type: transcript.TypeBreadcrumb, CreatedAtMs: 101, Title: "Agent: weather", Data: map[string]any{"from": "greeter"}},
		{ItemID: "a1", Type: transcript.TypeMessage, Role: transcript.RoleAssistant, CreatedAtMs: 102, Title: "Sunny in Lisbon today",
			GuardrailResult: &transcript.GuardrailResult{Name: "moderation", Category: "NONE", Tripped: false}},
		{ItemID: "h1", Type: transcript.TypeMessage, Role: transcript.RoleUser, CreatedAtMs: 103, Title: "hi", IsHidden: true},
	}
}

func TestArchive_SaveAndLoad(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
		rec := domain.SessionRecord{ID: "s1", Scenario: "default", RootAgent: "greeter", StartedAt: started, EndedAt: started.Add(time.Minute)}

		require.NoError(t, s.SaveTranscript(ctx, rec, sampleItems()))

		got, items, err := s.Transcript(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, "greeter", got.RootAgent)
		assert.Equal(t, 4, got.Items)
		assert.True(t, got.StartedAt.Equal(started))
		assert.True(t, got.EndedAt.Equal(started.Add(time.Minute)))

		require.Len(t, items, 4)
		assert.Equal(t, []string{"u1", "crumb_1", "a1", "h1"}, []string{items[0].ItemID, items[1].ItemID, items[2].ItemID, items[3].ItemID})
		assert.Equal(t, "greeter", items[1].Data["from"])
		require.NotNil(t, items[2].GuardrailResult)
		assert.Equal(t, "moderation", items[2].GuardrailResult.Name)
		assert.True(t, items[3].IsHidden)
		assert.Equal(t, transcript.RoleUser, items[0].Role)

		_, _, err = s.Transcript(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestArchive_SaveReplaces(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		rec := domain.SessionRecord{ID: "s1", StartedAt: time.Now()}

		require.NoError(t, s.SaveTranscript(ctx, rec, sampleItems()))
		require.NoError(t, s.SaveTranscript(ctx, rec, sampleItems()[:1]))

		_, items, err := s.Transcript(ctx, "s1")
		require.NoError(t, err)
		assert.Len(t, items, 1)

		hits, err := s.Search(ctx, "Sunny", 10)
		require.NoError(t, err)
		assert.Empty(t, hits)
	})
}

func TestArchive_ListNewestFirst(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
		for i, id := range []string{"old", "mid", "new"} {
			rec := domain.SessionRecord{ID: id, StartedAt: base.Add(time.Duration(i) * time.Hour)}
			require.NoError(t, s.SaveTranscript(ctx, rec, nil))
		}

		list, err := s.ListSessions(ctx, 0)
		require.NoError(t, err)
		require.Len(t, list, 3)
		assert.Equal(t, "new", list[0].ID)
		assert.Equal(t, "old", list[2].ID)

		list, err = s.ListSessions(ctx, 2)
		require.NoError(t, err)
		assert.Len(t, list, 2)
	})
}

func TestArchive_Delete(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.SaveTranscript(ctx, domain.SessionRecord{ID: "s1", StartedAt: time.Now()}, sampleItems()))

		require.NoError(t, s.DeleteSession(ctx, "s1"))
		assert.ErrorIs(t, s.DeleteSession(ctx, "s1"), ErrNotFound)
		_, _, err := s.Transcript(ctx, "s1")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestArchive_Search(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.SaveTranscript(ctx, domain.SessionRecord{ID: "s1", StartedAt: time.Now()}, sampleItems()))

		hits, err := s.Search(ctx, "lisbon", 10)
		require.NoError(t, err)
		require.Len(t, hits, 2)
		ids := []string{hits[0].ItemID, hits[1].ItemID}
		assert.ElementsMatch(t, []string{"u1", "a1"}, ids)
		assert.Equal(t, "s1", hits[0].SessionID)

		hits, err = s.Search(ctx, "lisbon", 1)
		require.NoError(t, err)
		assert.Len(t, hits, 1)
	})
}

func TestArchive_ItemsAreCopied(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	items := sampleItems()
	require.NoError(t, s.SaveTranscript(ctx, domain.SessionRecord{ID: "s1"}, items))

	items[1].Data["from"] = "mutated"
	_, got, err := s.Transcript(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "greeter", got[1].Data["from"])
}
