package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// SQLiteEventRepository implements EventRepository for SQLite.
type SQLiteEventRepository struct {
	db *sql.DB
}

func NewSQLiteEventRepository(db *sql.DB) *SQLiteEventRepository {
	return &SQLiteEventRepository{db: db}
}

func (r *SQLiteEventRepository) Append(ctx context.Context, event GameEvent) error {
	payloadBytes, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	query := `
		INSERT INTO events (id, session_id, timestamp, event_type, actor_id, target_id, payload, game_day, elapsed_hours)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = r.db.ExecContext(ctx, query,
		event.ID, event.SessionID, event.Timestamp.UnixMilli(), event.EventType, event.ActorID,
		event.TargetID, string(payloadBytes), event.GameDay, event.ElapsedHours,
	)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

const selectEvents = `SELECT id, session_id, timestamp, event_type, actor_id, target_id, payload, game_day, elapsed_hours FROM events`

func (r *SQLiteEventRepository) getMany(ctx context.Context, query string, args ...interface{}) ([]GameEvent, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []GameEvent
	for rows.Next() {
		var e GameEvent
		var payloadStr string
		var millis int64
		err := rows.Scan(
			&e.ID, &e.SessionID, &millis, &e.EventType, &e.ActorID,
			&e.TargetID, &payloadStr, &e.GameDay, &e.ElapsedHours,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.Timestamp = time.UnixMilli(millis)
		if err := json.Unmarshal([]byte(payloadStr), &e.Payload); err != nil {
			return nil, fmt.Errorf("failed to decode payload of %s: %w", e.ID, err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (r *SQLiteEventRepository) GetBySessionID(ctx context.Context, sessionID string) ([]GameEvent, error) {
	return r.getMany(ctx, selectEvents+` WHERE session_id = ? ORDER BY seq ASC`, sessionID)
}

func (r *SQLiteEventRepository) GetBySessionDay(ctx context.Context, sessionID string, day int) ([]GameEvent, error) {
	return r.getMany(ctx, selectEvents+` WHERE session_id = ? AND game_day = ? ORDER BY seq ASC`, sessionID, day)
}

func (r *SQLiteEventRepository) GetByEventType(ctx context.Context, sessionID string, eventType string) ([]GameEvent, error) {
	return r.getMany(ctx, selectEvents+` WHERE session_id = ? AND event_type = ? ORDER BY seq ASC`, sessionID, eventType)
}

// ---------------------------------------------------------
// SQLiteSessionRepository
// ---------------------------------------------------------

type SQLiteSessionRepository struct {
	db *sql.DB
}

func NewSQLiteSessionRepository(db *sql.DB) *SQLiteSessionRepository {
	return &SQLiteSessionRepository{db: db}
}

func (r *SQLiteSessionRepository) Create(ctx context.Context, rec SessionRecord) error {
	query := `INSERT INTO sessions (session_id, started_at, time_scale) VALUES (?, ?, ?)`
	if _, err := r.db.ExecContext(ctx, query, rec.ID, rec.StartedAt.UnixMilli(), rec.TimeScale); err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

func (r *SQLiteSessionRepository) MarkEnded(ctx context.Context, sessionID string, endedAt time.Time, itemsSaved int, percentageSaved float64) error {
	query := `UPDATE sessions SET ended_at = ?, items_saved = ?, percentage_saved = ? WHERE session_id = ?`
	res, err := r.db.ExecContext(ctx, query, endedAt.UnixMilli(), itemsSaved, percentageSaved, sessionID)
	if err != nil {
		return fmt.Errorf("failed to end session: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	return nil
}

func (r *SQLiteSessionRepository) Get(ctx context.Context, sessionID string) (*SessionRecord, error) {
	query := `SELECT session_id, started_at, time_scale, ended_at, items_saved, percentage_saved FROM sessions WHERE session_id = ?`
	var rec SessionRecord
	var started int64
	var ended sql.NullInt64
	err := r.db.QueryRowContext(ctx, query, sessionID).Scan(
		&rec.ID, &started, &rec.TimeScale, &ended, &rec.ItemsSaved, &rec.PercentageSaved,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
		}
		return nil, err
	}
	rec.StartedAt = time.UnixMilli(started)
	if ended.Valid {
		t := time.UnixMilli(ended.Int64)
		rec.EndedAt = &t
	}
	return &rec, nil
}

// ---------------------------------------------------------
// SQLiteCustomizationStore
// ---------------------------------------------------------

type SQLiteCustomizationStore struct {
	db *sql.DB
}

func NewSQLiteCustomizationStore(db *sql.DB) *SQLiteCustomizationStore {
	return &SQLiteCustomizationStore{db: db}
}

func (s *SQLiteCustomizationStore) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM customization WHERE key = ?`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return value, nil
}

func (s *SQLiteCustomizationStore) Set(ctx context.Context, key string, value []byte) error {
	query := `
		INSERT INTO customization (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at
	`
	if _, err := s.db.ExecContext(ctx, query, key, value, time.Now().UnixMilli()); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteCustomizationStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM customization WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}
