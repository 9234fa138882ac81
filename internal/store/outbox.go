package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// enqueueTx appends an outbox record describing an entity mutation, inside
// the same transaction as the mutation itself (write-ahead: the entity
// change and its sync record commit or roll back together).
func enqueueTx(tx *sql.Tx, table, entityID, op string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal outbox payload: %w", err)
	}
	_, err = tx.Exec(
		`INSERT INTO outbox (tbl, entity_id, op, payload, created_at) VALUES (?, ?, ?, ?, ?)`,
		table, entityID, op, string(raw), nowRFC3339(),
	)
	if err != nil {
		return fmt.Errorf("enqueue outbox: %w", err)
	}
	return nil
}

// PendingOutbox returns records due for transmission (next_retry_at unset or
// in the past), in creation order.
func (s *Store) PendingOutbox(limit int) ([]OutboxItem, error) {
	now := nowRFC3339()
	query := `SELECT id, tbl, entity_id, op, payload, created_at, attempts, next_retry_at, last_error
		FROM outbox
		WHERE next_retry_at IS NULL OR next_retry_at <= ?
		ORDER BY id`
	args := []any{now}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list outbox: %w", err)
	}
	defer rows.Close()

	var items []OutboxItem
	for rows.Next() {
		var it OutboxItem
		var payload, createdAt string
		var nextRetry sql.NullString
		if err := rows.Scan(&it.ID, &it.Table, &it.EntityID, &it.Op, &payload, &createdAt, &it.Attempts, &nextRetry, &it.LastError); err != nil {
			return nil, err
		}
		it.Payload = json.RawMessage(payload)
		it.CreatedAt = parseTime(createdAt)
		it.NextRetryAt = parseNullTime(nextRetry)
		items = append(items, it)
	}
	return items, rows.Err()
}

// OutboxBlockedEntities returns the (table, entity id) pairs of records not
// yet due for retry. A drain pass must hold back later operations on these
// entities to keep per-entity ordering.
func (s *Store) OutboxBlockedEntities() (map[[2]string]bool, error) {
	rows, err := s.db.Query(
		`SELECT DISTINCT tbl, entity_id FROM outbox WHERE next_retry_at > ?`, nowRFC3339(),
	)
	if err != nil {
		return nil, fmt.Errorf("list blocked entities: %w", err)
	}
	defer rows.Close()

	blocked := make(map[[2]string]bool)
	for rows.Next() {
		var tbl, id string
		if err := rows.Scan(&tbl, &id); err != nil {
			return nil, err
		}
		blocked[[2]string{tbl, id}] = true
	}
	return blocked, rows.Err()
}

// DeleteOutboxItem removes a record after confirmed remote acknowledgment
// (or after a permanent failure was surfaced).
func (s *Store) DeleteOutboxItem(id int64) error {
	_, err := s.db.Exec(`DELETE FROM outbox WHERE id = ?`, id)
	return err
}

// RescheduleOutboxItem records a transient failure and pushes the record's
// next attempt out to retryAt.
func (s *Store) RescheduleOutboxItem(id int64, retryAt time.Time, lastError string) error {
	_, err := s.db.Exec(
		`UPDATE outbox SET attempts = attempts + 1, next_retry_at = ?, last_error = ? WHERE id = ?`,
		retryAt.UTC().Format(time.RFC3339), lastError, id,
	)
	return err
}

// OutboxCount returns the number of pending records, due or not.
func (s *Store) OutboxCount() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM outbox`).Scan(&n)
	return n, err
}
