// Package cache implements the gateway's embedded KV store (C1): three
// logical namespaces (config, urls, base64) with TTL and byte-budget
// eviction, grounded on _examples/original_source/src/cache.rs's sled-backed
// design. Go has no example-pack precedent for an embedded KV crate, so the
// trees are modeled as tables in an embedded modernc.org/sqlite database
// (the pack's own precedent for an embedded store, used by vanducng-goclaw
// and vellankikoti-kubilitics-ai) instead of translating sled literally.
package cache

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Record is one cache entry as described by spec.md §3/§4.1.
type Record struct {
	ExpiresAt int64
	URL       string
	Size      int64
}

// Store wraps the embedded database with the get/put/evict contract from
// spec.md §4.1. All methods are safe for concurrent use.
type Store struct {
	db       *sql.DB
	logger   *slog.Logger
	maxBytes int64
	ttl      time.Duration

	mu         sync.RWMutex
	configMemo map[string][]byte // single-entry memo cache in front of the `config` table
}

// Open creates (or opens) the sqlite-backed store at path. path may be
// ":memory:" for tests.
func Open(path string, ttl time.Duration, maxBytes int64, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers; avoid pool contention

	schema := []string{
		`CREATE TABLE IF NOT EXISTS config (key TEXT PRIMARY KEY, value BLOB NOT NULL)`,
		`CREATE TABLE IF NOT EXISTS urls (key TEXT PRIMARY KEY, expires_at INTEGER NOT NULL, url TEXT NOT NULL, size INTEGER NOT NULL)`,
		`CREATE TABLE IF NOT EXISTS base64 (key TEXT PRIMARY KEY, expires_at INTEGER NOT NULL, url TEXT NOT NULL, size INTEGER NOT NULL)`,
		`CREATE TABLE IF NOT EXISTS models (key TEXT PRIMARY KEY, value BLOB NOT NULL, updated_at INTEGER NOT NULL)`,
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("create cache schema: %w", err)
		}
	}

	return &Store{
		db:         db,
		logger:     logger,
		maxBytes:   maxBytes,
		ttl:        ttl,
		configMemo: make(map[string][]byte),
	}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// namespace selects the `urls` or `base64` table. Callers must pass one of
// those two literal strings; anything else is a programmer error.
func (s *Store) table(namespace string) string {
	switch namespace {
	case "urls", "base64":
		return namespace
	default:
		panic("cache: unknown namespace " + namespace)
	}
}

// Get looks up key in namespace ("urls" or "base64"). On a hit that has not
// expired it refreshes the TTL (sliding expiry) and returns the decoded
// value. On a miss, an expired hit, or any I/O error it returns ok=false —
// cache failures are never fatal to the caller (spec.md §4.1).
func (s *Store) Get(ctx context.Context, namespace, key string) (url string, size int64, ok bool) {
	table := s.table(namespace)

	var expiresAt int64
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT expires_at, url, size FROM %s WHERE key = ?`, table), key)
	if err := row.Scan(&expiresAt, &url, &size); err != nil {
		if err != sql.ErrNoRows {
			s.logger.Warn("cache get failed", "namespace", namespace, "error", err)
		}
		return "", 0, false
	}

	now := time.Now().Unix()
	if now >= expiresAt {
		if _, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE key = ?`, table), key); err != nil {
			s.logger.Warn("cache evict-expired failed", "namespace", namespace, "error", err)
		}
		return "", 0, false
	}

	// Sliding TTL refresh on hit.
	newExpiry := now + int64(s.ttl.Seconds())
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(`UPDATE %s SET expires_at = ? WHERE key = ?`, table), newExpiry, key); err != nil {
		s.logger.Warn("cache ttl refresh failed", "namespace", namespace, "error", err)
	}

	return url, size, true
}

// Put stores key→(url, size) in namespace with a fresh TTL, then runs size
// maintenance over urls+base64 jointly (spec.md §4.1).
func (s *Store) Put(ctx context.Context, namespace, key, url string, size int64) {
	table := s.table(namespace)
	expiresAt := time.Now().Unix() + int64(s.ttl.Seconds())

	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %s (key, expires_at, url, size) VALUES (?, ?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET expires_at = excluded.expires_at, url = excluded.url, size = excluded.size`, table),
		key, expiresAt, url, size)
	if err != nil {
		s.logger.Warn("cache put failed", "namespace", namespace, "error", err)
		return
	}

	s.evictOverBudget(ctx)
}

// evictOverBudget sums size across urls+base64; if over maxBytes, deletes
// the smallest-expires_at entries first until the sum is <= 90% of budget
// (spec.md §4.1 / §8 law 8).
func (s *Store) evictOverBudget(ctx context.Context) {
	type entry = struct {
		table     string
		key       string
		expiresAt int64
		size      int64
	}

	var total int64
	var entries []entry

	for _, table := range []string{"urls", "base64"} {
		rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT key, expires_at, size FROM %s`, table))
		if err != nil {
			s.logger.Warn("cache size scan failed", "table", table, "error", err)
			continue
		}
		func() {
			defer rows.Close()
			for rows.Next() {
				var e entry
				e.table = table
				if err := rows.Scan(&e.key, &e.expiresAt, &e.size); err != nil {
					continue
				}
				total += e.size
				entries = append(entries, e)
			}
		}()
	}

	if total <= s.maxBytes {
		return
	}

	target := int64(float64(s.maxBytes) * 0.9)
	sortEntriesByExpiry(entries)

	for _, e := range entries {
		if total <= target {
			break
		}
		if _, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE key = ?`, e.table), e.key); err != nil {
			s.logger.Warn("cache eviction delete failed", "error", err)
			continue
		}
		total -= e.size
	}
}

func sortEntriesByExpiry(entries []struct {
	table     string
	key       string
	expiresAt int64
	size      int64
}) {
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0 && entries[j].expiresAt < entries[j-1].expiresAt; j-- {
			entries[j], entries[j-1] = entries[j-1], entries[j]
		}
	}
}

// EncodeValue renders (expiresAt, url, size) as the colon-delimited
// "<expires_at>:<poe_url>:<size>" wire format spec.md §4.1 describes. Not
// needed for the sqlite-table storage above, but kept for any external
// export/import path and for parity with the original's on-disk value
// format, exercised by tests that probe colon-tolerant parsing.
func EncodeValue(expiresAt int64, url string, size int64) string {
	return fmt.Sprintf("%d:%s:%d", expiresAt, url, size)
}

// DecodeValue parses a "<expires_at>:<poe_url>:<size>" string, tolerating
// colons embedded in the URL field by taking the first and last segments as
// the bounded fields and rejoining the interior (spec.md §4.1, §9 open
// question 2).
func DecodeValue(v string) (expiresAt int64, url string, size int64, err error) {
	parts := strings.Split(v, ":")
	if len(parts) < 3 {
		return 0, "", 0, fmt.Errorf("malformed cache value %q", v)
	}

	expiresAt, err = strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, "", 0, fmt.Errorf("parse expires_at: %w", err)
	}

	size, err = strconv.ParseInt(parts[len(parts)-1], 10, 64)
	if err != nil {
		return 0, "", 0, fmt.Errorf("parse size: %w", err)
	}

	url = strings.Join(parts[1:len(parts)-1], ":")
	return expiresAt, url, size, nil
}

// GetConfig returns the cached serialized config, if any.
func (s *Store) GetConfig(ctx context.Context, key string) ([]byte, bool) {
	s.mu.RLock()
	if v, ok := s.configMemo[key]; ok {
		s.mu.RUnlock()
		return v, true
	}
	s.mu.RUnlock()

	var value []byte
	row := s.db.QueryRowContext(ctx, `SELECT value FROM config WHERE key = ?`, key)
	if err := row.Scan(&value); err != nil {
		if err != sql.ErrNoRows {
			s.logger.Warn("config cache get failed", "error", err)
		}
		return nil, false
	}

	s.mu.Lock()
	s.configMemo[key] = value
	s.mu.Unlock()
	return value, true
}

// PutConfig writes-through the serialized config blob.
func (s *Store) PutConfig(ctx context.Context, key string, value []byte) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO config (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value)
	if err != nil {
		s.logger.Warn("config cache put failed", "error", err)
		return
	}
	s.mu.Lock()
	s.configMemo[key] = value
	s.mu.Unlock()
}

// InvalidateConfig removes the cached config entry, forcing the next read
// to repopulate from disk (spec.md §4.2).
func (s *Store) InvalidateConfig(ctx context.Context, key string) {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM config WHERE key = ?`, key); err != nil {
		s.logger.Warn("config cache invalidate failed", "error", err)
	}
	s.mu.Lock()
	delete(s.configMemo, key)
	s.mu.Unlock()
}

// GetModelList / PutModelList implement the process-wide upstream-model
// cache that C8 populates on first request and never invalidates
// automatically (spec.md §9).
func (s *Store) GetModelList(ctx context.Context, key string) ([]byte, bool) {
	var value []byte
	row := s.db.QueryRowContext(ctx, `SELECT value FROM models WHERE key = ?`, key)
	if err := row.Scan(&value); err != nil {
		return nil, false
	}
	return value, true
}

func (s *Store) PutModelList(ctx context.Context, key string, value []byte) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO models (key, value, updated_at) VALUES (?, ?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().Unix())
	if err != nil {
		s.logger.Warn("model list cache put failed", "error", err)
	}
}
