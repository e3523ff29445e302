package am

import (
	"database/sql"

	"github.com/meshgate/gateway/errors"
)

// KVStore persists small namespaced key/value blobs into the shared
// kv_store table (db/sqlite/migrations/001_create_kv_store.sql), so a
// caller that just needs a durable map doesn't need its own migration and
// Store type the way cron_jobs/transfers/heartbeat_state do.
type KVStore struct {
	db *sql.DB
}

func NewKVStore(db *sql.DB) *KVStore {
	return &KVStore{db: db}
}

// Put upserts value under (namespace, key).
func (k *KVStore) Put(namespace, key string, value []byte) error {
	_, err := k.db.Exec(`
		INSERT INTO kv_store (namespace, key, value, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(namespace, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, namespace, key, value)
	if err != nil {
		return errors.Wrapf(err, "failed to put kv_store[%s/%s]", namespace, key)
	}
	return nil
}

// Get returns (nil, nil) for a missing key rather than an error, since a
// cache-miss is the expected outcome for most callers' first lookup.
func (k *KVStore) Get(namespace, key string) ([]byte, error) {
	var value []byte
	err := k.db.QueryRow(`SELECT value FROM kv_store WHERE namespace = ? AND key = ?`, namespace, key).Scan(&value)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "failed to get kv_store[%s/%s]", namespace, key)
	}
	return value, nil
}

// Delete removes (namespace, key); a no-op if it doesn't exist.
func (k *KVStore) Delete(namespace, key string) error {
	_, err := k.db.Exec(`DELETE FROM kv_store WHERE namespace = ? AND key = ?`, namespace, key)
	if err != nil {
		return errors.Wrapf(err, "failed to delete kv_store[%s/%s]", namespace, key)
	}
	return nil
}

// List returns every key/value pair under namespace, for startup
// rehydration of an in-memory registry.
func (k *KVStore) List(namespace string) (map[string][]byte, error) {
	rows, err := k.db.Query(`SELECT key, value FROM kv_store WHERE namespace = ?`, namespace)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list kv_store[%s]", namespace)
	}
	defer rows.Close()

	out := make(map[string][]byte)
	for rows.Next() {
		var key string
		var value []byte
		if err := rows.Scan(&key, &value); err != nil {
			return nil, errors.Wrap(err, "failed to scan kv_store row")
		}
		out[key] = value
	}
	return out, rows.Err()
}
