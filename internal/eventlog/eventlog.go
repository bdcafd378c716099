// Package eventlog records an append-only audit trail of state transitions.
package eventlog

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Event struct {
	ID        int64
	EventType string
	EntityID  *uuid.UUID
	Payload   []byte
	CreatedAt time.Time
}

type Store interface {
	InsertEvent(ctx context.Context, ev Event) error
}

// Recorder writes events on a best-effort basis. A failed insert is logged and
// never fails the caller's operation.
type Recorder struct {
	store Store
}

func NewRecorder(store Store) *Recorder {
	return &Recorder{store: store}
}

func (r *Recorder) Record(ctx context.Context, entityID uuid.UUID, eventType string, payload map[string]any) {
	if r == nil || r.store == nil {
		return
	}

	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("failed to marshal event payload for %s: %v", eventType, err)
		data = nil
	}

	id := entityID
	ev := Event{
		EventType: eventType,
		EntityID:  &id,
		Payload:   data,
		CreatedAt: time.Now(),
	}

	if err := r.store.InsertEvent(ctx, ev); err != nil {
		log.Printf("failed to insert event log %s for %s: %v", eventType, entityID, err)
	}
}

type PgStore struct {
	pool *pgxpool.Pool
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

func (s *PgStore) InsertEvent(ctx context.Context, ev Event) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO event_logs (event_type, entity_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.EntityID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}
	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
