package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

// SQLiteFileName 是 sqlite 驱动在 StoragePath 下使用的数据库文件名。
const SQLiteFileName = "offcache.db"

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS caches (
		name TEXT PRIMARY KEY,
		sealed INTEGER NOT NULL DEFAULT 0,
		manifest TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS entries (
		cache TEXT NOT NULL,
		key TEXT NOT NULL,
		bytes BLOB NOT NULL,
		PRIMARY KEY (cache, key)
	)`,
	`CREATE INDEX IF NOT EXISTS entries_key_idx ON entries (key)`,
}

// NewSQLiteStorage 在 basePath/offcache.db 中保存全部命名缓存。
func NewSQLiteStorage(basePath string) (Storage, error) {
	if basePath == "" {
		return nil, errors.New("storage path required")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}

	db, err := sql.Open("sqlite", filepath.Join(basePath, SQLiteFileName))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// sqlite 单写者，串行化连接避免 SQLITE_BUSY。
	db.SetMaxOpenConns(1)

	for _, stmt := range sqliteSchema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("init sqlite schema: %w", err)
		}
	}
	return &sqliteStorage{db: db}, nil
}

type sqliteStorage struct {
	db *sql.DB
}

type sqliteCache struct {
	db   *sql.DB
	name string
}

func (s *sqliteStorage) Open(ctx context.Context, name string) (Cache, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO caches (name, created_at) VALUES (?, ?)",
		name, time.Now().Unix())
	if err != nil {
		return nil, fmt.Errorf("create cache %s: %w", name, err)
	}
	return &sqliteCache{db: s.db, name: name}, nil
}

func (s *sqliteStorage) Has(ctx context.Context, name string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM caches WHERE name = ?", name).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *sqliteStorage) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT name FROM caches ORDER BY name ASC")
	if err != nil {
		return nil, err
	}
	return scanStrings(rows)
}

func (s *sqliteStorage) Delete(ctx context.Context, name string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM entries WHERE cache = ?", name); err != nil {
		return false, err
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM caches WHERE name = ?", name)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (s *sqliteStorage) Match(ctx context.Context, key string) (*MatchResult, error) {
	var (
		name string
		data []byte
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT e.cache, e.bytes FROM entries e
		JOIN caches c ON c.name = e.cache
		WHERE e.key = ? AND c.sealed = 1
		ORDER BY e.cache ASC
		LIMIT 1`, key).Scan(&name, &data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &MatchResult{CacheName: name, Key: key, Data: data}, nil
}

func (s *sqliteStorage) Close() error {
	return s.db.Close()
}

func (c *sqliteCache) Name() string {
	return c.name
}

func (c *sqliteCache) Put(ctx context.Context, key string, data []byte) error {
	_, err := c.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO entries (cache, key, bytes) VALUES (?, ?, ?)",
		c.name, key, data)
	return err
}

func (c *sqliteCache) Match(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := c.db.QueryRowContext(ctx,
		"SELECT bytes FROM entries WHERE cache = ? AND key = ?", c.name, key).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return data, nil
}

func (c *sqliteCache) Keys(ctx context.Context) ([]string, error) {
	rows, err := c.db.QueryContext(ctx,
		"SELECT key FROM entries WHERE cache = ? ORDER BY key ASC", c.name)
	if err != nil {
		return nil, err
	}
	return scanStrings(rows)
}

func (c *sqliteCache) Seal(ctx context.Context, manifest string) error {
	return c.setSeal(ctx, true, manifest)
}

func (c *sqliteCache) Unseal(ctx context.Context) error {
	return c.setSeal(ctx, false, "")
}

func (c *sqliteCache) setSeal(ctx context.Context, sealed bool, manifest string) error {
	flag := 0
	if sealed {
		flag = 1
	}
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO caches (name, sealed, manifest, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET sealed = excluded.sealed, manifest = excluded.manifest`,
		c.name, flag, manifest, time.Now().Unix())
	return err
}

func (c *sqliteCache) Manifest(ctx context.Context) (string, bool, error) {
	var (
		sealed   int
		manifest string
	)
	err := c.db.QueryRowContext(ctx,
		"SELECT sealed, manifest FROM caches WHERE name = ?", c.name).Scan(&sealed, &manifest)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	if sealed == 0 {
		return "", false, nil
	}
	return manifest, true, nil
}

func scanStrings(rows *sql.Rows) ([]string, error) {
	defer rows.Close()
	var out []string
	for rows.Next() {
		var value string
		if err := rows.Scan(&value); err != nil {
			return nil, err
		}
		out = append(out, value)
	}
	return out, rows.Err()
}
