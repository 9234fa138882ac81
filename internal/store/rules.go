package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

const (
	tableImportRules = "import_rules"
	tableConnections = "connections"
)

// CreateImportRule stores a routing rule. Rules apply only to future
// imports; already-imported tasks are never re-routed.
func (s *Store) CreateImportRule(ownerID string, filter SourceFilter, targetBucketID string, targetSection Section) (*ImportRule, error) {
	raw, err := encodeFilter(filter)
	if err != nil {
		return nil, fmt.Errorf("encode source filter: %w", err)
	}
	id := uuid.NewString()
	integrationType := filter.filterTag()

	err = s.withTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(
			`INSERT INTO import_rules (id, owner_id, integration_type, source_filter, target_bucket_id, target_section, is_active, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, 1, ?)`,
			id, ownerID, integrationType, string(raw), targetBucketID, targetSection, nowRFC3339(),
		)
		if err != nil {
			return fmt.Errorf("insert import rule: %w", err)
		}
		return enqueueTx(tx, tableImportRules, id, OpInsert, map[string]any{
			"id": id, "ownerId": ownerID, "integrationType": integrationType,
			"sourceFilter": json.RawMessage(raw), "targetBucketId": targetBucketID,
			"targetSection": targetSection, "isActive": true,
		})
	})
	if err != nil {
		return nil, err
	}
	return s.GetImportRule(id)
}

func (s *Store) GetImportRule(id string) (*ImportRule, error) {
	row := s.db.QueryRow(
		`SELECT id, owner_id, integration_type, source_filter, target_bucket_id, target_section, is_active, created_at
		 FROM import_rules WHERE id = ?`, id,
	)
	return scanRule(row.Scan)
}

// ListImportRules returns the owner's rules in creation order, which is the
// first-match tie-break order (there is no priority field).
func (s *Store) ListImportRules(ownerID string, activeOnly bool) ([]ImportRule, error) {
	query := `SELECT id, owner_id, integration_type, source_filter, target_bucket_id, target_section, is_active, created_at
		FROM import_rules WHERE owner_id = ?`
	if activeOnly {
		query += ` AND is_active = 1`
	}
	query += ` ORDER BY created_at, rowid`

	rows, err := s.db.Query(query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list import rules: %w", err)
	}
	defer rows.Close()

	var rules []ImportRule
	for rows.Next() {
		r, err := scanRule(rows.Scan)
		if err != nil {
			return nil, err
		}
		rules = append(rules, *r)
	}
	return rules, rows.Err()
}

func scanRule(scan func(...any) error) (*ImportRule, error) {
	r := &ImportRule{}
	var rawFilter, createdAt string
	var isActive int
	err := scan(&r.ID, &r.OwnerID, &r.IntegrationType, &rawFilter, &r.TargetBucketID, &r.TargetSection, &isActive, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get import rule: %w", err)
	}
	r.Filter, err = decodeFilter(r.IntegrationType, []byte(rawFilter))
	if err != nil {
		return nil, fmt.Errorf("decode source filter: %w", err)
	}
	r.IsActive = isActive == 1
	r.CreatedAt = parseTime(createdAt)
	return r, nil
}

// SetImportRuleActive toggles a rule. Deactivation stops future auto-routing
// without touching already-imported tasks.
func (s *Store) SetImportRuleActive(id string, active bool) error {
	return s.withTx(func(tx *sql.Tx) error {
		v := 0
		if active {
			v = 1
		}
		if _, err := tx.Exec(`UPDATE import_rules SET is_active = ? WHERE id = ?`, v, id); err != nil {
			return fmt.Errorf("toggle import rule: %w", err)
		}
		return enqueueTx(tx, tableImportRules, id, OpUpdate, map[string]any{"id": id, "isActive": active})
	})
}

func (s *Store) DeleteImportRule(id string) error {
	return s.withTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM import_rules WHERE id = ?`, id); err != nil {
			return fmt.Errorf("delete import rule: %w", err)
		}
		return enqueueTx(tx, tableImportRules, id, OpDelete, map[string]any{"id": id})
	})
}

// CreateConnection records an external account/workspace connection.
// Connections are local-only rows: they carry credentials and are never
// enqueued to the outbox.
func (s *Store) CreateConnection(connType, label, credential string, metadata map[string]string) (*Connection, error) {
	meta, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("marshal connection metadata: %w", err)
	}
	id := uuid.NewString()
	_, err = s.db.Exec(
		`INSERT INTO connections (id, type, label, credential, metadata, is_active, created_at)
		 VALUES (?, ?, ?, ?, ?, 1, ?)`,
		id, connType, label, credential, string(meta), nowRFC3339(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert connection: %w", err)
	}
	return s.GetConnection(id)
}

func (s *Store) GetConnection(id string) (*Connection, error) {
	c := &Connection{}
	var meta, createdAt string
	var isActive int
	err := s.db.QueryRow(
		`SELECT id, type, label, credential, metadata, is_active, created_at
		 FROM connections WHERE id = ?`, id,
	).Scan(&c.ID, &c.Type, &c.Label, &c.Credential, &meta, &isActive, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get connection: %w", err)
	}
	if err := json.Unmarshal([]byte(meta), &c.Metadata); err != nil {
		return nil, fmt.Errorf("decode connection metadata: %w", err)
	}
	c.IsActive = isActive == 1
	c.CreatedAt = parseTime(createdAt)
	return c, nil
}

func (s *Store) ListConnections(activeOnly bool) ([]Connection, error) {
	query := `SELECT id, type, label, credential, metadata, is_active, created_at FROM connections`
	if activeOnly {
		query += ` WHERE is_active = 1`
	}
	query += ` ORDER BY created_at`

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}
	defer rows.Close()

	var conns []Connection
	for rows.Next() {
		var c Connection
		var meta, createdAt string
		var isActive int
		if err := rows.Scan(&c.ID, &c.Type, &c.Label, &c.Credential, &meta, &isActive, &createdAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(meta), &c.Metadata); err != nil {
			return nil, fmt.Errorf("decode connection metadata: %w", err)
		}
		c.IsActive = isActive == 1
		c.CreatedAt = parseTime(createdAt)
		conns = append(conns, c)
	}
	return conns, rows.Err()
}

// DisconnectConnection deactivates a connection. The credential is cleared
// when clearCredential is set (per-provider policy).
func (s *Store) DisconnectConnection(id string, clearCredential bool) error {
	if clearCredential {
		_, err := s.db.Exec(`UPDATE connections SET is_active = 0, credential = '' WHERE id = ?`, id)
		return err
	}
	_, err := s.db.Exec(`UPDATE connections SET is_active = 0 WHERE id = ?`, id)
	return err
}
