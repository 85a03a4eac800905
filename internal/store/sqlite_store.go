package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/soyeahso/voxlink/internal/domain"
	"github.com/soyeahso/voxlink/internal/transcript"
)

// SQLiteStore implements Store on a DB.
type SQLiteStore struct {
	db *DB
}

// NewSQLiteStore creates a store using the given database.
func NewSQLiteStore(db *DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// GetPref returns the value of key, or ErrNotFound.
func (s *SQLiteStore) GetPref(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.sql.QueryRowContext(ctx, `SELECT value FROM preferences WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("reading preference %s: %w", key, err)
	}
	return value, nil
}

// SetPref inserts or replaces key.
func (s *SQLiteStore) SetPref(ctx context.Context, key, value string) error {
	_, err := s.db.sql.ExecContext(ctx,
		`INSERT INTO preferences (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC().Format(time.DateTime),
	)
	if err != nil {
		return fmt.Errorf("writing preference %s: %w", key, err)
	}
	return nil
}

// DeletePref removes key. Deleting a missing key is not an error.
func (s *SQLiteStore) DeletePref(ctx context.Context, key string) error {
	_, err := s.db.sql.ExecContext(ctx, `DELETE FROM preferences WHERE key = ?`, key)
	return err
}

// ListPrefs returns every stored preference.
func (s *SQLiteStore) ListPrefs(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.sql.QueryContext(ctx, `SELECT key, value FROM preferences`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}

// SaveTranscript archives a session and its items, replacing any earlier
// copy of the same session.
func (s *SQLiteStore) SaveTranscript(ctx context.Context, rec domain.SessionRecord, items []transcript.Item) error {
	tx, err := s.db.sql.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin archive: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM transcript_items WHERE session_id = ?`, rec.ID); err != nil {
		return fmt.Errorf("clearing items of %s: %w", rec.ID, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, rec.ID); err != nil {
		return fmt.Errorf("clearing session %s: %w", rec.ID, err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO sessions (id, scenario, root_agent, started_at, ended_at, item_count)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Scenario, rec.RootAgent, formatTime(rec.StartedAt), formatTime(rec.EndedAt), len(items),
	); err != nil {
		return fmt.Errorf("inserting session %s: %w", rec.ID, err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO transcript_items
		   (session_id, seq, item_id, type, role, created_at_ms, title, data, hidden, status, guardrail)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, it := range items {
		data, err := nullJSON(it.Data, it.Data == nil)
		if err != nil {
			return fmt.Errorf("encoding data of %s: %w", it.ItemID, err)
		}
		guard, err := nullJSON(it.GuardrailResult, it.GuardrailResult == nil)
		if err != nil {
			return fmt.Errorf("encoding guardrail of %s: %w", it.ItemID, err)
		}
		if _, err := stmt.ExecContext(ctx,
			rec.ID, i, it.ItemID, string(it.Type), string(it.Role), it.CreatedAtMs,
			it.Title, data, it.IsHidden, it.Status, guard,
		); err != nil {
			return fmt.Errorf("inserting item %s: %w", it.ItemID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit archive: %w", err)
	}
	s.db.log.Debug().Str("session", rec.ID).Int("items", len(items)).Msg("transcript archived")
	return nil
}

// ListSessions returns archived sessions, newest first. Limit of 0 defaults to 50.
func (s *SQLiteStore) ListSessions(ctx context.Context, limit int) ([]domain.SessionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.sql.QueryContext(ctx,
		`SELECT id, scenario, root_agent, started_at, ended_at, item_count
		 FROM sessions ORDER BY started_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.SessionRecord
	for rows.Next() {
		rec, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Transcript returns one archived session with its items in order.
func (s *SQLiteStore) Transcript(ctx context.Context, sessionID string) (domain.SessionRecord, []transcript.Item, error) {
	rec, err := scanSession(s.db.sql.QueryRowContext(ctx,
		`SELECT id, scenario, root_agent, started_at, ended_at, item_count
		 FROM sessions WHERE id = ?`, sessionID))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.SessionRecord{}, nil, ErrNotFound
	}
	if err != nil {
		return domain.SessionRecord{}, nil, err
	}

	rows, err := s.db.sql.QueryContext(ctx,
		`SELECT item_id, type, role, created_at_ms, title, data, hidden, status, guardrail
		 FROM transcript_items WHERE session_id = ? ORDER BY seq`, sessionID)
	if err != nil {
		return rec, nil, err
	}
	defer rows.Close()

	var items []transcript.Item
	for rows.Next() {
		var it transcript.Item
		var typ, role string
		var data, guard sql.NullString
		if err := rows.Scan(&it.ItemID, &typ, &role, &it.CreatedAtMs, &it.Title, &data, &it.IsHidden, &it.Status, &guard); err != nil {
			return rec, nil, err
		}
		it.Type = transcript.ItemType(typ)
		it.Role = transcript.Role(role)
		if data.Valid {
			if err := json.Unmarshal([]byte(data.String), &it.Data); err != nil {
				s.db.log.Warn().Err(err).Str("item", it.ItemID).Msg("undecodable item data")
			}
		}
		if guard.Valid {
			var g transcript.GuardrailResult
			if json.Unmarshal([]byte(guard.String), &g) == nil {
				it.GuardrailResult = &g
			}
		}
		items = append(items, it)
	}
	return rec, items, rows.Err()
}

// DeleteSession removes an archived session.
func (s *SQLiteStore) DeleteSession(ctx context.Context, sessionID string) error {
	tx, err := s.db.sql.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM transcript_items WHERE session_id = ?`, sessionID); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, sessionID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

// Search finds archived items whose text matches query using FTS5.
// Results are ranked by relevance. Limit of 0 defaults to 20.
func (s *SQLiteStore) Search(ctx context.Context, query string, limit int) ([]Hit, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.sql.QueryContext(ctx,
		`SELECT ti.session_id, ti.item_id, ti.role, ti.title, rank
		 FROM transcript_fts
		 JOIN transcript_items ti ON ti.rowid = transcript_fts.rowid
		 WHERE transcript_fts MATCH ?
		 ORDER BY rank
		 LIMIT ?`,
		query, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("searching transcripts: %w", err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var h Hit
		if err := rows.Scan(&h.SessionID, &h.ItemID, &h.Role, &h.Title, &h.Rank); err != nil {
			return nil, err
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(r rowScanner) (domain.SessionRecord, error) {
	var rec domain.SessionRecord
	var started, ended string
	if err := r.Scan(&rec.ID, &rec.Scenario, &rec.RootAgent, &started, &ended, &rec.Items); err != nil {
		return rec, err
	}
	rec.StartedAt = parseTime(started)
	rec.EndedAt = parseTime(ended)
	return rec, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func nullJSON(v any, isNil bool) (sql.NullString, error) {
	if isNil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}
