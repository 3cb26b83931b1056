// Package outbox is the durable local log of pending remote mutations.
// Entries are appended synchronously with every local commit and drained
// asynchronously with at-least-once delivery; the remote store applies
// them idempotently by record id.
package outbox

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/claude/liftlog/internal/models"
)

// Queue is a user-scoped SQLite outbox.
type Queue struct {
	db     *sql.DB
	userID int
}

// Open opens (or creates) the outbox database at dir/outbox.db, scoped
// to the given user.
func Open(dir string, userID int) (*Queue, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating outbox dir %s: %w", dir, err)
	}

	dbPath := filepath.Join(dir, "outbox.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening outbox db: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS outbox_entries (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id     INTEGER NOT NULL,
		operation   TEXT NOT NULL,
		entity_type TEXT NOT NULL,
		record_id   TEXT NOT NULL,
		lineage     TEXT NOT NULL,
		payload     BLOB NOT NULL,
		retry_count INTEGER NOT NULL DEFAULT 0,
		created_at  INTEGER NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating outbox table: %w", err)
	}

	return &Queue{db: db, userID: userID}, nil
}

// Enqueue appends one mutation. The payload is marshaled as a full
// snapshot of the target record; entries are never merged or coalesced,
// so every local edit remains individually replayable.
func (q *Queue) Enqueue(op models.Operation, entityType, recordID, lineage string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling %s payload: %w", entityType, err)
	}
	_, err = q.db.Exec(
		`INSERT INTO outbox_entries (user_id, operation, entity_type, record_id, lineage, payload, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		q.userID, string(op), entityType, recordID, lineage, data, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("enqueueing %s %s: %w", op, entityType, err)
	}
	return nil
}

// Pending returns all queued entries in enqueue order.
func (q *Queue) Pending() ([]models.OutboxEntry, error) {
	rows, err := q.db.Query(
		`SELECT id, operation, entity_type, record_id, lineage, payload, retry_count, created_at
		 FROM outbox_entries WHERE user_id = ? ORDER BY id ASC`,
		q.userID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing outbox entries: %w", err)
	}
	defer rows.Close()

	var result []models.OutboxEntry
	for rows.Next() {
		var (
			e         models.OutboxEntry
			op        string
			createdAt int64
		)
		if err := rows.Scan(&e.ID, &op, &e.EntityType, &e.RecordID, &e.Lineage,
			&e.Payload, &e.RetryCount, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning outbox entry: %w", err)
		}
		e.Operation = models.Operation(op)
		e.CreatedAt = time.Unix(createdAt, 0)
		result = append(result, e)
	}
	return result, rows.Err()
}

// Remove deletes an entry after confirmed remote application.
func (q *Queue) Remove(id int64) error {
	_, err := q.db.Exec(`DELETE FROM outbox_entries WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("removing outbox entry %d: %w", id, err)
	}
	return nil
}

// RecordFailure increments an entry's retry count. The entry stays
// queued for the next drain.
func (q *Queue) RecordFailure(id int64) error {
	_, err := q.db.Exec(`UPDATE outbox_entries SET retry_count = retry_count + 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("recording outbox failure %d: %w", id, err)
	}
	return nil
}

// Len returns the number of queued entries.
func (q *Queue) Len() (int, error) {
	var n int
	err := q.db.QueryRow(`SELECT COUNT(*) FROM outbox_entries WHERE user_id = ?`, q.userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting outbox entries: %w", err)
	}
	return n, nil
}

// ClearAll wipes the queue for the user. Called by the auth collaborator
// on sign-out or account switch.
func (q *Queue) ClearAll() error {
	_, err := q.db.Exec(`DELETE FROM outbox_entries WHERE user_id = ?`, q.userID)
	if err != nil {
		return fmt.Errorf("clearing outbox: %w", err)
	}
	return nil
}

// Close closes the outbox database.
func (q *Queue) Close() error {
	return q.db.Close()
}
