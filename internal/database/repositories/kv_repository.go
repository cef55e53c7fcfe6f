package repositories

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

// KVRepository persists small pieces of process state, most importantly the
// chat-channel update offset that guarantees exactly-once reply handling
// across restarts.
type KVRepository struct {
	*BaseRepository
}

// NewKVRepository creates a new key-value repository
func NewKVRepository(db *sql.DB, log zerolog.Logger) *KVRepository {
	return &KVRepository{
		BaseRepository: NewBase(db, log.With().Str("repo", "kv").Logger()),
	}
}

// Get returns the stored value for key; found=false when the key is absent
func (r *KVRepository) Get(key string) (string, bool, error) {
	var value string
	err := r.db.QueryRow("SELECT value FROM kv_store WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get key %s: %w", key, err)
	}
	return value, true, nil
}

// Set stores value under key, replacing any previous value
func (r *KVRepository) Set(key, value string) error {
	query := `
		INSERT INTO kv_store (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`
	_, err := r.db.Exec(query, key, value, time.Now().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to set key %s: %w", key, err)
	}
	return nil
}

// GetInt64 reads a numeric value; found=false when absent or unparseable
func (r *KVRepository) GetInt64(key string) (int64, bool, error) {
	raw, found, err := r.Get(key)
	if err != nil || !found {
		return 0, false, err
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		r.log.Warn().Str("key", key).Str("value", raw).Msg("Stored value is not numeric")
		return 0, false, nil
	}
	return v, true, nil
}

// SetInt64 stores a numeric value under key
func (r *KVRepository) SetInt64(key string, value int64) error {
	return r.Set(key, strconv.FormatInt(value, 10))
}
