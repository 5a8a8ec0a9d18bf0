// Package store provides the flash-backed non-volatile storage layer:
// a namespaced key-value store and the checksummed persistence regions
// for plant state, calibration, and thresholds.
package store

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/floralink/plant-companion/internal/hal"
)

// NVS is a sqlite-backed implementation of hal.KeyValue. Each namespace
// maps to rows in one table; Commit flushes the WAL.
type NVS struct {
	conn *sql.DB
}

// OpenNVS opens or creates the key-value store at path.
func OpenNVS(path string) (*NVS, error) {
	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open nvs: %w", err)
	}

	nvs := &NVS{conn: conn}
	if err := nvs.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to migrate nvs: %w", err)
	}

	return nvs, nil
}

// Close closes the underlying database.
func (n *NVS) Close() error {
	return n.conn.Close()
}

func (n *NVS) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS kv (
		namespace TEXT NOT NULL,
		key TEXT NOT NULL,
		value BLOB NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (namespace, key)
	);
	CREATE INDEX IF NOT EXISTS idx_kv_namespace ON kv(namespace);
	`
	_, err := n.conn.Exec(schema)
	return err
}

// Get returns the value stored under namespace/key, or hal.ErrNotFound.
func (n *NVS) Get(namespace, key string) ([]byte, error) {
	var value []byte
	err := n.conn.QueryRow(
		"SELECT value FROM kv WHERE namespace = ? AND key = ?",
		namespace, key,
	).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, hal.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("nvs get %s/%s: %w", namespace, key, err)
	}
	return value, nil
}

// Put stores value under namespace/key, replacing any previous value.
func (n *NVS) Put(namespace, key string, value []byte) error {
	_, err := n.conn.Exec(
		`INSERT INTO kv (namespace, key, value, updated_at)
		 VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(namespace, key) DO UPDATE SET
		 value = excluded.value, updated_at = CURRENT_TIMESTAMP`,
		namespace, key, value,
	)
	if err != nil {
		return fmt.Errorf("nvs put %s/%s: %w", namespace, key, err)
	}
	return nil
}

// Delete removes namespace/key. Deleting an absent key is not an error.
func (n *NVS) Delete(namespace, key string) error {
	_, err := n.conn.Exec("DELETE FROM kv WHERE namespace = ? AND key = ?", namespace, key)
	if err != nil {
		return fmt.Errorf("nvs delete %s/%s: %w", namespace, key, err)
	}
	return nil
}

// Clear removes every key in a namespace.
func (n *NVS) Clear(namespace string) error {
	_, err := n.conn.Exec("DELETE FROM kv WHERE namespace = ?", namespace)
	if err != nil {
		return fmt.Errorf("nvs clear %s: %w", namespace, err)
	}
	return nil
}

// Commit checkpoints the WAL so that committed writes survive power loss.
func (n *NVS) Commit() error {
	_, err := n.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	if err != nil {
		return fmt.Errorf("nvs commit: %w", err)
	}
	return nil
}

// MemoryNVS is an in-memory hal.KeyValue for tests.
type MemoryNVS struct {
	data map[string][]byte
}

// NewMemoryNVS returns an empty in-memory store.
func NewMemoryNVS() *MemoryNVS {
	return &MemoryNVS{data: make(map[string][]byte)}
}

func (m *MemoryNVS) Get(namespace, key string) ([]byte, error) {
	v, ok := m.data[namespace+"\x00"+key]
	if !ok {
		return nil, hal.ErrNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (m *MemoryNVS) Put(namespace, key string, value []byte) error {
	v := make([]byte, len(value))
	copy(v, value)
	m.data[namespace+"\x00"+key] = v
	return nil
}

func (m *MemoryNVS) Delete(namespace, key string) error {
	delete(m.data, namespace+"\x00"+key)
	return nil
}

func (m *MemoryNVS) Clear(namespace string) error {
	prefix := namespace + "\x00"
	for k := range m.data {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			delete(m.data, k)
		}
	}
	return nil
}

func (m *MemoryNVS) Commit() error {
	return nil
}
