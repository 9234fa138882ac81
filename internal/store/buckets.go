package store

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

const tableBuckets = "buckets"

// EnsureDefaultBucket creates the owner's default "Inbox" bucket on first
// launch. Exactly one bucket per owner is the default and it is never
// deleted.
func (s *Store) EnsureDefaultBucket(ownerID string) (*Bucket, error) {
	existing, err := s.DefaultBucket(ownerID)
	if err == nil {
		return existing, nil
	}
	if err != ErrNotFound {
		return nil, err
	}

	b := &Bucket{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Name:      "Inbox",
		Icon:      "inbox",
		Position:  0,
		IsDefault: true,
	}
	err = s.withTx(func(tx *sql.Tx) error {
		now := nowRFC3339()
		_, err := tx.Exec(
			`INSERT INTO buckets (id, owner_id, name, icon, color, position, is_default, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, 1, ?, ?)`,
			b.ID, b.OwnerID, b.Name, b.Icon, "#6C63FF", b.Position, now, now,
		)
		if err != nil {
			return fmt.Errorf("insert default bucket: %w", err)
		}
		return enqueueTx(tx, tableBuckets, b.ID, OpInsert, b)
	})
	if err != nil {
		return nil, err
	}
	return s.GetBucket(b.ID)
}

// CreateBucket appends a bucket at the end of the owner's ordering.
func (s *Store) CreateBucket(ownerID, name, icon, color string) (*Bucket, error) {
	id := uuid.NewString()
	err := s.withTx(func(tx *sql.Tx) error {
		var position int
		if err := tx.QueryRow(
			`SELECT COUNT(*) FROM buckets WHERE owner_id = ?`, ownerID,
		).Scan(&position); err != nil {
			return fmt.Errorf("count buckets: %w", err)
		}
		now := nowRFC3339()
		_, err := tx.Exec(
			`INSERT INTO buckets (id, owner_id, name, icon, color, position, is_default, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?)`,
			id, ownerID, name, icon, color, position, now, now,
		)
		if err != nil {
			return fmt.Errorf("insert bucket: %w", err)
		}
		return enqueueTx(tx, tableBuckets, id, OpInsert, map[string]any{
			"id": id, "ownerId": ownerID, "name": name, "icon": icon,
			"color": color, "position": position, "isDefault": false,
		})
	})
	if err != nil {
		return nil, err
	}
	return s.GetBucket(id)
}

func (s *Store) GetBucket(id string) (*Bucket, error) {
	return scanBucket(s.db.QueryRow(
		`SELECT id, owner_id, name, icon, color, position, is_default, created_at, updated_at
		 FROM buckets WHERE id = ?`, id,
	))
}

// DefaultBucket returns the owner's default bucket.
func (s *Store) DefaultBucket(ownerID string) (*Bucket, error) {
	return scanBucket(s.db.QueryRow(
		`SELECT id, owner_id, name, icon, color, position, is_default, created_at, updated_at
		 FROM buckets WHERE owner_id = ? AND is_default = 1`, ownerID,
	))
}

func scanBucket(row *sql.Row) (*Bucket, error) {
	b := &Bucket{}
	var isDefault int
	var createdAt, updatedAt string
	err := row.Scan(&b.ID, &b.OwnerID, &b.Name, &b.Icon, &b.Color, &b.Position, &isDefault, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get bucket: %w", err)
	}
	b.IsDefault = isDefault == 1
	b.CreatedAt = parseTime(createdAt)
	b.UpdatedAt = parseTime(updatedAt)
	return b, nil
}

func (s *Store) ListBuckets(ownerID string) ([]Bucket, error) {
	rows, err := s.db.Query(
		`SELECT id, owner_id, name, icon, color, position, is_default, created_at, updated_at
		 FROM buckets WHERE owner_id = ? ORDER BY position`, ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("list buckets: %w", err)
	}
	defer rows.Close()

	var buckets []Bucket
	for rows.Next() {
		var b Bucket
		var isDefault int
		var createdAt, updatedAt string
		if err := rows.Scan(&b.ID, &b.OwnerID, &b.Name, &b.Icon, &b.Color, &b.Position, &isDefault, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		b.IsDefault = isDefault == 1
		b.CreatedAt = parseTime(createdAt)
		b.UpdatedAt = parseTime(updatedAt)
		buckets = append(buckets, b)
	}
	return buckets, rows.Err()
}

func (s *Store) UpdateBucket(id, name, icon, color string) error {
	return s.withTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(
			`UPDATE buckets SET name = ?, icon = ?, color = ?, updated_at = ? WHERE id = ?`,
			name, icon, color, nowRFC3339(), id,
		)
		if err != nil {
			return fmt.Errorf("update bucket: %w", err)
		}
		return enqueueTx(tx, tableBuckets, id, OpUpdate, map[string]any{
			"id": id, "name": name, "icon": icon, "color": color,
		})
	})
}

// MoveBucket moves a bucket to newPosition and renumbers the owner's
// buckets densely. The whole reposition is one transaction so readers never
// observe a gap or duplicate position.
func (s *Store) MoveBucket(id string, newPosition int) error {
	b, err := s.GetBucket(id)
	if err != nil {
		return err
	}
	buckets, err := s.ListBuckets(b.OwnerID)
	if err != nil {
		return err
	}
	if newPosition < 0 {
		newPosition = 0
	}
	if newPosition >= len(buckets) {
		newPosition = len(buckets) - 1
	}

	ordered := make([]Bucket, 0, len(buckets))
	for _, other := range buckets {
		if other.ID != id {
			ordered = append(ordered, other)
		}
	}
	ordered = append(ordered[:newPosition], append([]Bucket{*b}, ordered[newPosition:]...)...)

	return s.withTx(func(tx *sql.Tx) error {
		now := nowRFC3339()
		for i, ob := range ordered {
			if ob.Position == i {
				continue
			}
			if _, err := tx.Exec(
				`UPDATE buckets SET position = ?, updated_at = ? WHERE id = ?`, i, now, ob.ID,
			); err != nil {
				return fmt.Errorf("renumber bucket: %w", err)
			}
			if err := enqueueTx(tx, tableBuckets, ob.ID, OpUpdate, map[string]any{
				"id": ob.ID, "position": i,
			}); err != nil {
				return err
			}
		}
		return nil
	})
}

// DeleteBucket removes a bucket after migrating its tasks to the owner's
// default bucket. Deleting the default bucket is a silent no-op. Remaining
// buckets are renumbered densely in the same transaction.
func (s *Store) DeleteBucket(id string) error {
	b, err := s.GetBucket(id)
	if err != nil {
		return err
	}
	if b.IsDefault {
		return nil
	}
	def, err := s.DefaultBucket(b.OwnerID)
	if err != nil {
		return err
	}

	return s.withTx(func(tx *sql.Tx) error {
		now := nowRFC3339()

		rows, err := tx.Query(`SELECT id FROM tasks WHERE bucket_id = ?`, id)
		if err != nil {
			return fmt.Errorf("list bucket tasks: %w", err)
		}
		var taskIDs []string
		for rows.Next() {
			var tid string
			if err := rows.Scan(&tid); err != nil {
				rows.Close()
				return err
			}
			taskIDs = append(taskIDs, tid)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for _, tid := range taskIDs {
			if _, err := tx.Exec(
				`UPDATE tasks SET bucket_id = ?, updated_at = ? WHERE id = ?`, def.ID, now, tid,
			); err != nil {
				return fmt.Errorf("migrate task to default bucket: %w", err)
			}
			if err := enqueueTx(tx, tableTasks, tid, OpUpdate, map[string]any{
				"id": tid, "bucketId": def.ID,
			}); err != nil {
				return err
			}
		}

		if _, err := tx.Exec(`DELETE FROM buckets WHERE id = ?`, id); err != nil {
			return fmt.Errorf("delete bucket: %w", err)
		}
		if err := enqueueTx(tx, tableBuckets, id, OpDelete, map[string]any{"id": id}); err != nil {
			return err
		}

		// Renumber the survivors densely.
		rows, err = tx.Query(
			`SELECT id, position FROM buckets WHERE owner_id = ? ORDER BY position`, b.OwnerID,
		)
		if err != nil {
			return fmt.Errorf("list surviving buckets: %w", err)
		}
		type bpos struct {
			id  string
			pos int
		}
		var survivors []bpos
		for rows.Next() {
			var bp bpos
			if err := rows.Scan(&bp.id, &bp.pos); err != nil {
				rows.Close()
				return err
			}
			survivors = append(survivors, bp)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		for i, bp := range survivors {
			if bp.pos == i {
				continue
			}
			if _, err := tx.Exec(
				`UPDATE buckets SET position = ?, updated_at = ? WHERE id = ?`, i, now, bp.id,
			); err != nil {
				return fmt.Errorf("renumber bucket: %w", err)
			}
			if err := enqueueTx(tx, tableBuckets, bp.id, OpUpdate, map[string]any{
				"id": bp.id, "position": i,
			}); err != nil {
				return err
			}
		}
		return nil
	})
}
