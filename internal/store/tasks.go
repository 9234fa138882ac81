package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

const tableTasks = "tasks"

// CreateTask inserts a manually authored task at the end of its
// bucket/section ordering.
func (s *Store) CreateTask(ownerID, bucketID string, section Section, title, description string) (*Task, error) {
	id := uuid.NewString()
	err := s.withTx(func(tx *sql.Tx) error {
		var position int
		if err := tx.QueryRow(
			`SELECT COUNT(*) FROM tasks WHERE bucket_id = ? AND section = ?`, bucketID, section,
		).Scan(&position); err != nil {
			return fmt.Errorf("count tasks: %w", err)
		}
		now := nowRFC3339()
		_, err := tx.Exec(
			`INSERT INTO tasks (id, owner_id, bucket_id, section, status, title, description, source, position, created_at, updated_at)
			 VALUES (?, ?, ?, ?, 'open', ?, ?, 'manual', ?, ?, ?)`,
			id, ownerID, bucketID, section, title, description, position, now, now,
		)
		if err != nil {
			return fmt.Errorf("insert task: %w", err)
		}
		return enqueueTx(tx, tableTasks, id, OpInsert, map[string]any{
			"id": id, "ownerId": ownerID, "bucketId": bucketID,
			"section": section, "status": StatusOpen, "title": title,
			"description": description, "source": SourceManual, "position": position,
		})
	})
	if err != nil {
		return nil, err
	}
	return s.GetTask(id)
}

// InsertImported inserts a batch of provider-sourced tasks in a single
// transaction, each with its outbox record. Intermediate states are never
// observable to readers.
func (s *Store) InsertImported(tasks []Task) error {
	if len(tasks) == 0 {
		return nil
	}
	return s.withTx(func(tx *sql.Tx) error {
		now := nowRFC3339()
		for i := range tasks {
			t := &tasks[i]
			meta, err := json.Marshal(t.SourceMetadata)
			if err != nil {
				return fmt.Errorf("marshal source metadata: %w", err)
			}
			_, err = tx.Exec(
				`INSERT INTO tasks (id, owner_id, bucket_id, section, status, title, description, source_description,
					source, source_id, connection_id, source_metadata, url, position, created_at, updated_at)
				 VALUES (?, ?, ?, ?, 'open', ?, '', ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				t.ID, t.OwnerID, t.BucketID, t.Section, t.Title, t.SourceDescription,
				t.Source, nullStr(t.SourceID), nullStr(t.ConnectionID), string(meta), t.URL, t.Position, now, now,
			)
			if err != nil {
				return fmt.Errorf("insert imported task: %w", err)
			}
			if err := enqueueTx(tx, tableTasks, t.ID, OpInsert, t); err != nil {
				return err
			}
		}
		return nil
	})
}

const taskColumns = `id, owner_id, bucket_id, section, status, title, description, source_description,
	source, source_id, connection_id, source_metadata, url, position, created_at, updated_at`

func (s *Store) GetTask(id string) (*Task, error) {
	row := s.db.QueryRow(`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

// TaskBySourceID is the import dedup lookup: a non-manual task already
// carrying this external id for the owner.
func (s *Store) TaskBySourceID(ownerID, sourceID string) (*Task, error) {
	row := s.db.QueryRow(
		`SELECT `+taskColumns+` FROM tasks
		 WHERE owner_id = ? AND source_id = ? AND source != 'manual'`, ownerID, sourceID,
	)
	t, err := scanTask(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("task by source id: %w", err)
	}
	return t, nil
}

func scanTask(scan func(...any) error) (*Task, error) {
	t := &Task{}
	var sourceID, connectionID sql.NullString
	var meta, createdAt, updatedAt string
	err := scan(&t.ID, &t.OwnerID, &t.BucketID, &t.Section, &t.Status, &t.Title, &t.Description,
		&t.SourceDescription, &t.Source, &sourceID, &connectionID, &meta, &t.URL, &t.Position,
		&createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	t.SourceID = strPtr(sourceID)
	t.ConnectionID = strPtr(connectionID)
	if meta != "" {
		if err := json.Unmarshal([]byte(meta), &t.SourceMetadata); err != nil {
			return nil, fmt.Errorf("decode source metadata: %w", err)
		}
	}
	t.CreatedAt = parseTime(createdAt)
	t.UpdatedAt = parseTime(updatedAt)
	return t, nil
}

// ListTasks returns a bucket's tasks ordered by section then position.
func (s *Store) ListTasks(bucketID string, includeDone bool) ([]Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE bucket_id = ?`
	if !includeDone {
		query += ` AND status = 'open'`
	}
	query += ` ORDER BY section, position`

	rows, err := s.db.Query(query, bucketID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

// ListOpenTasks returns every open task for the owner, in bucket order.
func (s *Store) ListOpenTasks(ownerID string) ([]Task, error) {
	rows, err := s.db.Query(
		`SELECT `+taskColumns+` FROM tasks t
		 WHERE t.owner_id = ? AND t.status = 'open'
		 ORDER BY (SELECT b.position FROM buckets b WHERE b.id = t.bucket_id), t.section, t.position`,
		ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("list open tasks: %w", err)
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

// CountTasks returns how many tasks sit in a bucket/section, used for
// append-at-end positioning.
func (s *Store) CountTasks(bucketID string, section Section) (int, error) {
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM tasks WHERE bucket_id = ? AND section = ?`, bucketID, section,
	).Scan(&n)
	return n, err
}

func (s *Store) UpdateTask(id, title, description string) error {
	return s.withTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(
			`UPDATE tasks SET title = ?, description = ?, updated_at = ? WHERE id = ?`,
			title, description, nowRFC3339(), id,
		)
		if err != nil {
			return fmt.Errorf("update task: %w", err)
		}
		return enqueueTx(tx, tableTasks, id, OpUpdate, map[string]any{
			"id": id, "title": title, "description": description,
		})
	})
}

// SetTaskStatus applies a soft status change (done, dismissed, reopened).
func (s *Store) SetTaskStatus(id, status string) error {
	return s.withTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(
			`UPDATE tasks SET status = ?, updated_at = ? WHERE id = ?`, status, nowRFC3339(), id,
		)
		if err != nil {
			return fmt.Errorf("set task status: %w", err)
		}
		return enqueueTx(tx, tableTasks, id, OpUpdate, map[string]any{"id": id, "status": status})
	})
}

// MoveTask places a task into a bucket/section at the end of its ordering.
func (s *Store) MoveTask(id, bucketID string, section Section) error {
	return s.withTx(func(tx *sql.Tx) error {
		var position int
		if err := tx.QueryRow(
			`SELECT COUNT(*) FROM tasks WHERE bucket_id = ? AND section = ? AND id != ?`,
			bucketID, section, id,
		).Scan(&position); err != nil {
			return fmt.Errorf("count tasks: %w", err)
		}
		_, err := tx.Exec(
			`UPDATE tasks SET bucket_id = ?, section = ?, position = ?, updated_at = ? WHERE id = ?`,
			bucketID, section, position, nowRFC3339(), id,
		)
		if err != nil {
			return fmt.Errorf("move task: %w", err)
		}
		return enqueueTx(tx, tableTasks, id, OpUpdate, map[string]any{
			"id": id, "bucketId": bucketID, "section": section, "position": position,
		})
	})
}

// PurgeTask hard-deletes a local-only task. Synced tasks should use
// SetTaskStatus instead; deletion still propagates for completeness.
func (s *Store) PurgeTask(id string) error {
	return s.withTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`DELETE FROM tasks WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("purge task: %w", err)
		}
		return enqueueTx(tx, tableTasks, id, OpDelete, map[string]any{"id": id})
	})
}
