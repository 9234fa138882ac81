package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	tableSessions    = "sessions"
	tableTimeEntries = "time_entries"
)

// StartSession creates a session and its first open time entry atomically.
func (s *Store) StartSession(ownerID, taskID, deviceID string, at time.Time) (*Session, *TimeEntry, error) {
	sess := &Session{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		TaskID:    taskID,
		DeviceID:  deviceID,
		StartedAt: at.UTC().Truncate(time.Second),
		IsActive:  true,
	}
	entry := &TimeEntry{
		ID:        uuid.NewString(),
		SessionID: sess.ID,
		TaskID:    taskID,
		OwnerID:   ownerID,
		DeviceID:  deviceID,
		StartedAt: sess.StartedAt,
	}

	err := s.withTx(func(tx *sql.Tx) error {
		started := sess.StartedAt.Format(time.RFC3339)
		if _, err := tx.Exec(
			`INSERT INTO sessions (id, owner_id, task_id, device_id, started_at, is_active)
			 VALUES (?, ?, ?, ?, ?, 1)`,
			sess.ID, ownerID, taskID, deviceID, started,
		); err != nil {
			return fmt.Errorf("insert session: %w", err)
		}
		if err := enqueueTx(tx, tableSessions, sess.ID, OpInsert, sess); err != nil {
			return err
		}
		if _, err := tx.Exec(
			`INSERT INTO time_entries (id, session_id, task_id, owner_id, device_id, started_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			entry.ID, sess.ID, taskID, ownerID, deviceID, started,
		); err != nil {
			return fmt.Errorf("insert time entry: %w", err)
		}
		return enqueueTx(tx, tableTimeEntries, entry.ID, OpInsert, entry)
	})
	if err != nil {
		return nil, nil, err
	}
	return sess, entry, nil
}

// SwitchEntry closes the session's open entry and opens a new one for
// newTaskID, atomically. The session row itself is unchanged.
func (s *Store) SwitchEntry(sess *Session, openEntry *TimeEntry, newTaskID string, at time.Time) (*TimeEntry, error) {
	at = at.UTC()
	next := &TimeEntry{
		ID:        uuid.NewString(),
		SessionID: sess.ID,
		TaskID:    newTaskID,
		OwnerID:   sess.OwnerID,
		DeviceID:  sess.DeviceID,
		StartedAt: at.Truncate(time.Second),
	}

	err := s.withTx(func(tx *sql.Tx) error {
		if err := closeEntryTx(tx, openEntry, at); err != nil {
			return err
		}
		if _, err := tx.Exec(
			`INSERT INTO time_entries (id, session_id, task_id, owner_id, device_id, started_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			next.ID, sess.ID, newTaskID, sess.OwnerID, sess.DeviceID, next.StartedAt.Format(time.RFC3339),
		); err != nil {
			return fmt.Errorf("insert time entry: %w", err)
		}
		return enqueueTx(tx, tableTimeEntries, next.ID, OpInsert, next)
	})
	if err != nil {
		return nil, err
	}
	return next, nil
}

// AppendEntry opens a fresh entry under an existing session without closing
// anything, used when recovery finds a session whose open entry is missing.
func (s *Store) AppendEntry(sess *Session, taskID string, at time.Time) (*TimeEntry, error) {
	entry := &TimeEntry{
		ID:        uuid.NewString(),
		SessionID: sess.ID,
		TaskID:    taskID,
		OwnerID:   sess.OwnerID,
		DeviceID:  sess.DeviceID,
		StartedAt: at.UTC().Truncate(time.Second),
	}
	err := s.withTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(
			`INSERT INTO time_entries (id, session_id, task_id, owner_id, device_id, started_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			entry.ID, sess.ID, taskID, sess.OwnerID, sess.DeviceID, entry.StartedAt.Format(time.RFC3339),
		); err != nil {
			return fmt.Errorf("insert time entry: %w", err)
		}
		return enqueueTx(tx, tableTimeEntries, entry.ID, OpInsert, entry)
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// CloseSession closes the open entry (if any) and the session atomically.
// Closed sessions are never mutated again.
func (s *Store) CloseSession(sess *Session, openEntry *TimeEntry, at time.Time) error {
	at = at.UTC()
	return s.withTx(func(tx *sql.Tx) error {
		if openEntry != nil {
			if err := closeEntryTx(tx, openEntry, at); err != nil {
				return err
			}
		}
		if _, err := tx.Exec(
			`UPDATE sessions SET ended_at = ?, is_active = 0 WHERE id = ?`,
			at.Format(time.RFC3339), sess.ID,
		); err != nil {
			return fmt.Errorf("close session: %w", err)
		}
		return enqueueTx(tx, tableSessions, sess.ID, OpUpdate, map[string]any{
			"id": sess.ID, "endedAt": at.Format(time.RFC3339), "isActive": false,
		})
	})
}

// closeEntryTx stamps the entry's end and its rounded duration.
func closeEntryTx(tx *sql.Tx, entry *TimeEntry, at time.Time) error {
	duration := int64(at.Sub(entry.StartedAt).Round(time.Second) / time.Second)
	if duration < 0 {
		duration = 0
	}
	if _, err := tx.Exec(
		`UPDATE time_entries SET ended_at = ?, duration_seconds = ? WHERE id = ?`,
		at.Format(time.RFC3339), duration, entry.ID,
	); err != nil {
		return fmt.Errorf("close time entry: %w", err)
	}
	return enqueueTx(tx, tableTimeEntries, entry.ID, OpUpdate, map[string]any{
		"id": entry.ID, "endedAt": at.Format(time.RFC3339), "durationSeconds": duration,
	})
}

// ActiveSession returns the owner's newest session that is still marked
// active with no end, started at or after since. ErrNotFound when none.
func (s *Store) ActiveSession(ownerID string, since time.Time) (*Session, error) {
	row := s.db.QueryRow(
		`SELECT id, owner_id, task_id, device_id, started_at, ended_at, is_active
		 FROM sessions
		 WHERE owner_id = ? AND is_active = 1 AND ended_at IS NULL AND started_at >= ?
		 ORDER BY started_at DESC LIMIT 1`,
		ownerID, since.UTC().Format(time.RFC3339),
	)
	return scanSession(row)
}

func (s *Store) GetSession(id string) (*Session, error) {
	row := s.db.QueryRow(
		`SELECT id, owner_id, task_id, device_id, started_at, ended_at, is_active
		 FROM sessions WHERE id = ?`, id,
	)
	return scanSession(row)
}

func scanSession(row *sql.Row) (*Session, error) {
	sess := &Session{}
	var startedAt string
	var endedAt sql.NullString
	var isActive int
	err := row.Scan(&sess.ID, &sess.OwnerID, &sess.TaskID, &sess.DeviceID, &startedAt, &endedAt, &isActive)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	sess.StartedAt = parseTime(startedAt)
	sess.EndedAt = parseNullTime(endedAt)
	sess.IsActive = isActive == 1
	return sess, nil
}

// OpenEntry returns the session's most recent entry with no end, or
// ErrNotFound.
func (s *Store) OpenEntry(sessionID string) (*TimeEntry, error) {
	e := &TimeEntry{}
	var startedAt string
	var endedAt sql.NullString
	var duration sql.NullInt64
	err := s.db.QueryRow(
		`SELECT id, session_id, task_id, owner_id, device_id, started_at, ended_at, duration_seconds
		 FROM time_entries
		 WHERE session_id = ? AND ended_at IS NULL
		 ORDER BY started_at DESC LIMIT 1`, sessionID,
	).Scan(&e.ID, &e.SessionID, &e.TaskID, &e.OwnerID, &e.DeviceID, &startedAt, &endedAt, &duration)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("open entry: %w", err)
	}
	e.StartedAt = parseTime(startedAt)
	e.EndedAt = parseNullTime(endedAt)
	if duration.Valid {
		e.DurationSeconds = &duration.Int64
	}
	return e, nil
}

// EntryFilter narrows ListEntries.
type EntryFilter struct {
	OwnerID   string
	TaskID    *string
	SessionID *string
	From      *time.Time
	To        *time.Time
	Limit     int
}

func (s *Store) ListEntries(f EntryFilter) ([]TimeEntry, error) {
	query := `SELECT id, session_id, task_id, owner_id, device_id, started_at, ended_at, duration_seconds
		FROM time_entries WHERE 1=1`
	var args []any

	if f.OwnerID != "" {
		query += ` AND owner_id = ?`
		args = append(args, f.OwnerID)
	}
	if f.TaskID != nil {
		query += ` AND task_id = ?`
		args = append(args, *f.TaskID)
	}
	if f.SessionID != nil {
		query += ` AND session_id = ?`
		args = append(args, *f.SessionID)
	}
	if f.From != nil {
		query += ` AND started_at >= ?`
		args = append(args, f.From.UTC().Format(time.RFC3339))
	}
	if f.To != nil {
		query += ` AND started_at < ?`
		args = append(args, f.To.UTC().Format(time.RFC3339))
	}
	query += ` ORDER BY started_at DESC`
	if f.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, f.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()

	var entries []TimeEntry
	for rows.Next() {
		var e TimeEntry
		var startedAt string
		var endedAt sql.NullString
		var duration sql.NullInt64
		if err := rows.Scan(&e.ID, &e.SessionID, &e.TaskID, &e.OwnerID, &e.DeviceID, &startedAt, &endedAt, &duration); err != nil {
			return nil, err
		}
		e.StartedAt = parseTime(startedAt)
		e.EndedAt = parseNullTime(endedAt)
		if duration.Valid {
			e.DurationSeconds = &duration.Int64
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// RecentTaskDurations returns up to limit most recent closed, positive
// durations for one task, newest first.
func (s *Store) RecentTaskDurations(taskID string, limit int) ([]int64, error) {
	return s.recentDurations(
		`SELECT duration_seconds FROM time_entries
		 WHERE task_id = ? AND ended_at IS NOT NULL AND duration_seconds > 0
		 ORDER BY started_at DESC LIMIT ?`, taskID, limit,
	)
}

// RecentBucketDurations is the same sample widened to every task in a
// bucket, the fallback when one task has too little history.
func (s *Store) RecentBucketDurations(bucketID string, limit int) ([]int64, error) {
	return s.recentDurations(
		`SELECT e.duration_seconds FROM time_entries e
		 JOIN tasks t ON t.id = e.task_id
		 WHERE t.bucket_id = ? AND e.ended_at IS NOT NULL AND e.duration_seconds > 0
		 ORDER BY e.started_at DESC LIMIT ?`, bucketID, limit,
	)
}

func (s *Store) recentDurations(query string, key string, limit int) ([]int64, error) {
	rows, err := s.db.Query(query, key, limit)
	if err != nil {
		return nil, fmt.Errorf("recent durations: %w", err)
	}
	defer rows.Close()

	var durations []int64
	for rows.Next() {
		var d int64
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		durations = append(durations, d)
	}
	return durations, rows.Err()
}

// BucketFocusSummary aggregates closed focus time per bucket in [from, to).
type BucketFocusSummary struct {
	BucketID     string
	BucketName   string
	BucketColor  string
	TotalSeconds int64
	EntryCount   int
}

func (s *Store) GetBucketFocusSummary(ownerID string, from, to time.Time) ([]BucketFocusSummary, error) {
	rows, err := s.db.Query(`
		SELECT b.id, b.name, b.color, COALESCE(SUM(e.duration_seconds), 0), COUNT(e.id)
		FROM time_entries e
		JOIN tasks t ON t.id = e.task_id
		JOIN buckets b ON b.id = t.bucket_id
		WHERE e.owner_id = ? AND e.ended_at IS NOT NULL
		  AND e.started_at >= ? AND e.started_at < ?
		GROUP BY b.id
		ORDER BY b.position`,
		ownerID, from.UTC().Format(time.RFC3339), to.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return nil, fmt.Errorf("bucket focus summary: %w", err)
	}
	defer rows.Close()

	var summaries []BucketFocusSummary
	for rows.Next() {
		var bs BucketFocusSummary
		if err := rows.Scan(&bs.BucketID, &bs.BucketName, &bs.BucketColor, &bs.TotalSeconds, &bs.EntryCount); err != nil {
			return nil, err
		}
		summaries = append(summaries, bs)
	}
	return summaries, rows.Err()
}

// DailyFocusSummary aggregates closed focus time per day, per bucket.
type DailyFocusSummary struct {
	Date         string // YYYY-MM-DD (UTC)
	BucketID     string
	BucketName   string
	BucketColor  string
	TotalSeconds int64
	EntryCount   int
}

func (s *Store) GetDailyFocusSummary(ownerID string, from, to time.Time) ([]DailyFocusSummary, error) {
	rows, err := s.db.Query(`
		SELECT date(e.started_at), b.id, b.name, b.color, COALESCE(SUM(e.duration_seconds), 0), COUNT(e.id)
		FROM time_entries e
		JOIN tasks t ON t.id = e.task_id
		JOIN buckets b ON b.id = t.bucket_id
		WHERE e.owner_id = ? AND e.ended_at IS NOT NULL
		  AND e.started_at >= ? AND e.started_at < ?
		GROUP BY date(e.started_at), b.id
		ORDER BY date(e.started_at), b.position`,
		ownerID, from.UTC().Format(time.RFC3339), to.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return nil, fmt.Errorf("daily focus summary: %w", err)
	}
	defer rows.Close()

	var summaries []DailyFocusSummary
	for rows.Next() {
		var ds DailyFocusSummary
		if err := rows.Scan(&ds.Date, &ds.BucketID, &ds.BucketName, &ds.BucketColor, &ds.TotalSeconds, &ds.EntryCount); err != nil {
			return nil, err
		}
		summaries = append(summaries, ds)
	}
	return summaries, rows.Err()
}
