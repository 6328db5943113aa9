// Package buffer implements the offline response queue: answer submissions
// that cannot reach the persistence collaborator are parked in a local sqlite
// queue and replayed in order once connectivity returns. A response leaves
// the queue if and only if the store accepted it.
package buffer

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"

	"slidelive/internal/room"
)

const schema = `
CREATE TABLE IF NOT EXISTS pending_responses (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	payload TEXT NOT NULL,
	queued_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);`

// Queue wraps a room.Store as a room.ResponseSink with durable retry.
type Queue struct {
	mu    sync.Mutex
	db    *sql.DB
	store room.Store
}

// Open initializes the queue database at path, creating directories and the
// schema as needed.
func Open(path string, store room.Store) (*Queue, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create buffer directory: %w", err)
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open buffer database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping buffer database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create buffer schema: %w", err)
	}
	return &Queue{db: db, store: store}, nil
}

func (q *Queue) Close() error {
	return q.db.Close()
}

// Submit attempts the direct write and falls back to the queue. The caller
// always sees success: from the participant's point of view the answer is
// recorded, and the queued copy is replayed later. A response is never
// dropped silently.
func (q *Queue) Submit(ctx context.Context, r *room.Response) error {
	if err := q.store.PersistResponse(ctx, r); err == nil {
		return nil
	} else {
		log.Warn().Err(err).Str("question", r.QuestionID).Msg("store unreachable, queueing response")
	}
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to encode response: %w", err)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, err := q.db.ExecContext(ctx, `INSERT INTO pending_responses (payload) VALUES (?)`, string(payload)); err != nil {
		return fmt.Errorf("failed to queue response: %w", err)
	}
	return nil
}

// Flush replays queued responses in FIFO order. Items are deleted only after
// the store accepts them; failures stay queued for the next attempt. Order is
// preserved because scoring tie-breaks on submission timestamps.
func (q *Queue) Flush(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	rows, err := q.db.QueryContext(ctx, `SELECT id, payload FROM pending_responses ORDER BY id`)
	if err != nil {
		return fmt.Errorf("failed to read queue: %w", err)
	}
	type item struct {
		id      int64
		payload string
	}
	var items []item
	for rows.Next() {
		var it item
		if err := rows.Scan(&it.id, &it.payload); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan queue row: %w", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("failed to iterate queue: %w", err)
	}
	rows.Close()

	flushed := 0
	for _, it := range items {
		var r room.Response
		if err := json.Unmarshal([]byte(it.payload), &r); err != nil {
			// A row we can no longer decode would wedge the queue forever.
			log.Error().Err(err).Int64("id", it.id).Msg("dropping undecodable queued response")
			q.deleteRow(ctx, it.id)
			continue
		}
		if err := q.store.PersistResponse(ctx, &r); err != nil {
			log.Warn().Err(err).Int64("id", it.id).Msg("replay failed, keeping queued")
			continue
		}
		q.deleteRow(ctx, it.id)
		flushed++
	}
	if flushed > 0 {
		log.Info().Int("count", flushed).Msg("flushed queued responses")
	}
	return nil
}

// Len reports how many responses are waiting.
func (q *Queue) Len(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var n int
	err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pending_responses`).Scan(&n)
	return n, err
}

func (q *Queue) deleteRow(ctx context.Context, id int64) {
	if _, err := q.db.ExecContext(ctx, `DELETE FROM pending_responses WHERE id = ?`, id); err != nil {
		log.Error().Err(err).Int64("id", id).Msg("failed to delete queued response")
	}
}
