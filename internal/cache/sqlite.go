package cache

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// PruneInterval is how often RunPruner deletes expired rows.
const PruneInterval = time.Hour

// SQLiteCache is a Cache persisted in a local SQLite database. It survives
// restarts, which makes it the default home for LLM responses.
type SQLiteCache struct {
	db  *sql.DB
	mu  sync.RWMutex
	now func() time.Time
}

// NewSQLiteCache opens (or creates) the database at dbPath.
func NewSQLiteCache(dbPath string) (*SQLiteCache, error) {
	// WAL mode and busy timeout let concurrent runs share the file
	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := os.Chmod(dbPath, 0600); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Str("dbPath", dbPath).Msg("failed to restrict cache database permissions")
	}

	c := &SQLiteCache{db: db, now: time.Now}
	if err := c.init(); err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

func (c *SQLiteCache) init() error {
	query := `
	CREATE TABLE IF NOT EXISTS response_cache (
		cache_key TEXT PRIMARY KEY,
		value BLOB NOT NULL,
		expires_at INTEGER NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`
	if _, err := c.db.Exec(query); err != nil {
		return fmt.Errorf("failed to create response_cache table: %w", err)
	}
	return nil
}

// WithClock replaces the time source (for tests).
func (c *SQLiteCache) WithClock(now func() time.Time) *SQLiteCache {
	c.now = now
	return c
}

func (c *SQLiteCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var value []byte
	var expiresAt int64
	err := c.db.QueryRowContext(ctx,
		"SELECT value, expires_at FROM response_cache WHERE cache_key = ?",
		key,
	).Scan(&value, &expiresAt)

	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to query response cache: %w", err)
	}
	if expiresAt > 0 && c.now().Unix() > expiresAt {
		return nil, false, nil
	}
	return value, true, nil
}

func (c *SQLiteCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expiresAt int64
	if ttl > 0 {
		expiresAt = c.now().Add(ttl).Unix()
	}

	_, err := c.db.ExecContext(ctx, `
		INSERT INTO response_cache (cache_key, value, expires_at)
		VALUES (?, ?, ?)
		ON CONFLICT(cache_key) DO UPDATE SET
			value = excluded.value,
			expires_at = excluded.expires_at,
			created_at = CURRENT_TIMESTAMP
	`, key, value, expiresAt)
	if err != nil {
		return fmt.Errorf("failed to write response cache: %w", err)
	}
	return nil
}

func (c *SQLiteCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.db.ExecContext(ctx, "DELETE FROM response_cache WHERE cache_key = ?", key); err != nil {
		return fmt.Errorf("failed to delete from response cache: %w", err)
	}
	return nil
}

// Prune deletes expired rows and returns how many were removed.
func (c *SQLiteCache) Prune(ctx context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	res, err := c.db.ExecContext(ctx,
		"DELETE FROM response_cache WHERE expires_at > 0 AND expires_at < ?",
		c.now().Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to prune response cache: %w", err)
	}
	return res.RowsAffected()
}

// RunPruner prunes expired rows every interval until ctx is cancelled.
func (c *SQLiteCache) RunPruner(ctx context.Context, interval time.Duration) {
	runPruner(ctx, "sqlite", interval, c.Prune)
}

func runPruner(ctx context.Context, backend string, interval time.Duration, prune func(context.Context) (int64, error)) {
	log.Info().Str("backend", backend).Dur("interval", interval).Msg("starting cache pruner")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("backend", backend).Msg("cache pruner stopped")
			return
		case <-ticker.C:
			n, err := prune(ctx)
			if err != nil {
				log.Error().Err(err).Str("backend", backend).Msg("failed to prune cache")
				continue
			}
			if n > 0 {
				log.Debug().Str("backend", backend).Int64("entries", n).Msg("pruned expired cache entries")
			}
		}
	}
}

// Close closes the underlying database.
func (c *SQLiteCache) Close() error {
	return c.db.Close()
}
