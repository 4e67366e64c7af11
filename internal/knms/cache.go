package knms

import (
	"context"
	"crypto/sha256"
	"database/sql"
	_ "embed"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"

	"taxonmatch/internal/logging"
	"taxonmatch/internal/services"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is bumped when schema.sql changes. Older caches must be
// cleared with `taxonmatch cache clear`.
const schemaVersion = 1

// ErrSchemaMismatch indicates the cache was written by another schema version.
var ErrSchemaMismatch = errors.New("knms cache schema version mismatch")

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
	lockRetryDelay          = 250 * time.Millisecond
	lookupChunk             = 500

	// Fixed width so created_at orders correctly as text.
	createdAtLayout = "2006-01-02T15:04:05.000000000Z"
)

// Cache persists match responses in SQLite.
type Cache struct {
	db     *sql.DB
	path   string
	lock   *flock.Flock
	logger *slog.Logger
}

// Stats summarises cache contents.
type Stats struct {
	Path    string
	Batches int
	Names   int
	Rows    int
	Oldest  time.Time
	Newest  time.Time
}

// OpenCache opens or creates the cache database at path.
func OpenCache(ctx context.Context, path string, logger *slog.Logger) (*Cache, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, services.Wrap(services.ErrConfiguration, "knms cache", "open", "cache path required", nil)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open knms cache: %w", err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.ExecContext(ctx, pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	cache := &Cache{
		db:     db,
		path:   path,
		lock:   flock.New(path + ".lock"),
		logger: logging.NewComponentLogger(logger, "knms_cache"),
	}
	if err := cache.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return cache, nil
}

// Path returns the database location.
func (c *Cache) Path() string { return c.path }

// Close releases the database handle.
func (c *Cache) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

func (c *Cache) initSchema(ctx context.Context) error {
	var tableExists int
	err := c.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}
	if tableExists == 0 {
		return c.createSchema(ctx)
	}

	var version int
	if err := c.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: cache has version %d, expected %d (run 'taxonmatch cache clear' or delete %s)",
			ErrSchemaMismatch, version, schemaVersion, c.path)
	}
	return nil
}

func (c *Cache) createSchema(ctx context.Context) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	return tx.Commit()
}

// BatchHash returns the content key for a batch: the SHA-256 of its sorted
// unique names.
func BatchHash(names []string) string {
	unique := slices.Clone(names)
	slices.Sort(unique)
	unique = slices.Compact(unique)
	sum := sha256.New()
	for _, name := range unique {
		sum.Write([]byte(name))
		sum.Write([]byte{0})
	}
	return hex.EncodeToString(sum.Sum(nil))
}

// Lookup returns cached rows for each of names that has any. A name cached
// by several batches answers with the rows of the newest batch only.
func (c *Cache) Lookup(ctx context.Context, names []string) (map[string][]Row, error) {
	found := make(map[string][]Row)
	batchOf := make(map[string]string)
	for start := 0; start < len(names); start += lookupChunk {
		chunk := names[start:min(start+lookupChunk, len(names))]
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(chunk)), ",")
		args := make([]any, len(chunk))
		for i, name := range chunk {
			args[i] = name
		}
		query := `SELECT m.submitted, m.match_state, COALESCE(m.ipni_id, ''), COALESCE(m.matched_name, ''), m.batch_hash
            FROM matches m JOIN batches b ON b.hash = m.batch_hash
            WHERE m.submitted IN (` + placeholders + `)
            ORDER BY m.submitted, b.created_at DESC, b.rowid DESC, m.ordinal`

		var rows *sql.Rows
		if err := retryOnBusy(ctx, func() error {
			var queryErr error
			rows, queryErr = c.db.QueryContext(ctx, query, args...)
			return queryErr
		}); err != nil {
			return nil, fmt.Errorf("query knms cache: %w", err)
		}
		err := func() error {
			defer rows.Close()
			for rows.Next() {
				var row Row
				var state, batch string
				if err := rows.Scan(&row.Submitted, &state, &row.IPNIID, &row.MatchedName, &batch); err != nil {
					return err
				}
				if newest, ok := batchOf[row.Submitted]; !ok {
					batchOf[row.Submitted] = batch
				} else if newest != batch {
					continue
				}
				row.MatchState = MatchState(state)
				found[row.Submitted] = append(found[row.Submitted], row)
			}
			return rows.Err()
		}()
		if err != nil {
			return nil, fmt.Errorf("scan knms cache: %w", err)
		}
	}
	return found, nil
}

// Store saves the rows of one batch. Responses in which every row is a
// no-match are skipped and Store reports false.
func (c *Cache) Store(ctx context.Context, names []string, rows []Row) (bool, error) {
	if len(rows) == 0 || AllNoMatch(rows) {
		return false, nil
	}
	hash := BatchHash(names)
	err := retryOnBusy(ctx, func() error {
		tx, err := c.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx, "DELETE FROM matches WHERE batch_hash = ?", hash); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO batches (hash, name_count, created_at) VALUES (?, ?, ?)
             ON CONFLICT(hash) DO UPDATE SET name_count = excluded.name_count, created_at = excluded.created_at`,
			hash, len(names), time.Now().UTC().Format(createdAtLayout),
		); err != nil {
			return err
		}
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO matches (submitted, match_state, ipni_id, matched_name, batch_hash, ordinal)
             VALUES (?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for i, row := range rows {
			if _, err := stmt.ExecContext(ctx, row.Submitted, string(row.MatchState),
				nullableString(row.IPNIID), nullableString(row.MatchedName), hash, i); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
	if err != nil {
		return false, fmt.Errorf("store knms batch %s: %w", hash[:12], err)
	}
	c.logger.Debug("cached knms batch",
		logging.String("batch_hash", hash[:12]),
		logging.Int("names", len(names)),
		logging.Int("rows", len(rows)),
	)
	return true, nil
}

// Stats reports what the cache holds.
func (c *Cache) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{Path: c.path}
	var oldest, newest sql.NullString
	err := c.db.QueryRowContext(ctx,
		"SELECT COUNT(1), MIN(created_at), MAX(created_at) FROM batches",
	).Scan(&stats.Batches, &oldest, &newest)
	if err != nil {
		return stats, fmt.Errorf("count knms batches: %w", err)
	}
	err = c.db.QueryRowContext(ctx,
		"SELECT COUNT(1), COUNT(DISTINCT submitted) FROM matches",
	).Scan(&stats.Rows, &stats.Names)
	if err != nil {
		return stats, fmt.Errorf("count knms matches: %w", err)
	}
	stats.Oldest = parseTimestamp(oldest)
	stats.Newest = parseTimestamp(newest)
	return stats, nil
}

// Clear removes every cached batch.
func (c *Cache) Clear(ctx context.Context) error {
	return retryOnBusy(ctx, func() error {
		tx, err := c.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()
		if _, err := tx.ExecContext(ctx, "DELETE FROM matches"); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM batches"); err != nil {
			return err
		}
		return tx.Commit()
	})
}

// Lock takes the cache file lock so only one process fills the cache at a
// time. The returned function releases it.
func (c *Cache) Lock(ctx context.Context) (func(), error) {
	locked, err := c.lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return nil, fmt.Errorf("acquire knms cache lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("acquire knms cache lock: %s is held by another process", c.lock.Path())
	}
	return func() {
		if err := c.lock.Unlock(); err != nil {
			c.logger.Warn("failed to release knms cache lock",
				logging.String(logging.FieldEventType, "knms_cache_unlock_failed"),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "remove the .lock file if no other run is active"),
				logging.String(logging.FieldImpact, "later runs may wait on the lock"),
			)
		}
	}, nil
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func parseTimestamp(value sql.NullString) time.Time {
	if !value.Valid {
		return time.Time{}
	}
	parsed, err := time.Parse(createdAtLayout, value.String)
	if err != nil {
		return time.Time{}
	}
	return parsed
}
