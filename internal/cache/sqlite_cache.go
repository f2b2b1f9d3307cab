package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"offlinetiles/internal/tile"
)

// LatestSchemaVersion is the newest schema this binary knows how to create.
const LatestSchemaVersion = 2

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidTableName reports whether name can be used as the tile table.
func ValidTableName(name string) bool {
	return tableNamePattern.MatchString(name)
}

// SQLiteCache stores tiles in one table of a SQLite file.
// The applied schema version lives in PRAGMA user_version.
type SQLiteCache struct {
	*readiness

	path          string
	table         string
	schemaVersion int
	logger        *zap.Logger

	db *sql.DB
	// hasMeta is false for version 1 tables, which only carry key and data.
	hasMeta bool
}

// NewSQLiteCache prepares a store at path. Nothing is touched until Open.
func NewSQLiteCache(path, table string, schemaVersion int, log *zap.Logger) *SQLiteCache {
	return &SQLiteCache{
		readiness:     newReadiness(),
		path:          path,
		table:         table,
		schemaVersion: schemaVersion,
		logger:        log,
	}
}

type migration struct {
	version int
	apply   func(ctx context.Context, tx *sql.Tx, table string) error
}

var migrations = []migration{
	{
		version: 1,
		apply: func(ctx context.Context, tx *sql.Tx, table string) error {
			_, err := tx.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS `+table+` (
				key TEXT PRIMARY KEY,
				data BLOB NOT NULL
			)`)
			return err
		},
	},
	{
		version: 2,
		apply: func(ctx context.Context, tx *sql.Tx, table string) error {
			if err := addColumn(ctx, tx, table, "content_type", `TEXT NOT NULL DEFAULT 'image/png'`); err != nil {
				return err
			}
			return addColumn(ctx, tx, table, "updated_at", `INTEGER NOT NULL DEFAULT 0`)
		},
	},
}

// addColumn adds a column unless it already exists.
// SQLite has no ADD COLUMN IF NOT EXISTS, so check pragma_table_info first.
func addColumn(ctx context.Context, tx *sql.Tx, table, column, definition string) error {
	var found int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM pragma_table_info(?) WHERE name = ?`, table, column).Scan(&found)
	if err == nil {
		return nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return err
	}

	_, err = tx.ExecContext(ctx, `ALTER TABLE `+table+` ADD COLUMN `+column+` `+definition)
	return err
}

func (c *SQLiteCache) Open(ctx context.Context) error {
	return c.resolve(func() error {
		if !tableNamePattern.MatchString(c.table) {
			return fmt.Errorf("invalid table name %q", c.table)
		}
		if c.schemaVersion < 1 || c.schemaVersion > LatestSchemaVersion {
			return fmt.Errorf("unsupported schema version %d (supported: 1..%d)", c.schemaVersion, LatestSchemaVersion)
		}

		if err := os.MkdirAll(filepath.Dir(c.path), 0755); err != nil {
			return fmt.Errorf("failed to create database directory: %w", err)
		}

		dsn := "file:" + c.path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
		db, err := sql.Open("sqlite", dsn)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return fmt.Errorf("failed to ping database: %w", err)
		}

		version, err := c.migrate(ctx, db)
		if err != nil {
			db.Close()
			return err
		}

		c.db = db
		c.hasMeta = version >= 2

		if c.logger != nil {
			c.logger.Info("SQLite tile store opened",
				zap.String("path", c.path),
				zap.String("table", c.table),
				zap.Int("schema_version", version),
			)
		}
		return nil
	})
}

// migrate brings the schema up to c.schemaVersion, one transaction per step,
// and returns the resulting version. Existing rows are kept.
func (c *SQLiteCache) migrate(ctx context.Context, db *sql.DB) (int, error) {
	var current int
	if err := db.QueryRowContext(ctx, `PRAGMA user_version`).Scan(&current); err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}

	if current > c.schemaVersion {
		return 0, fmt.Errorf("database schema version %d is newer than configured version %d", current, c.schemaVersion)
	}

	for _, m := range migrations {
		if m.version <= current || m.version > c.schemaVersion {
			continue
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return 0, fmt.Errorf("failed to begin migration %d: %w", m.version, err)
		}
		if err := m.apply(ctx, tx, c.table); err != nil {
			_ = tx.Rollback()
			return 0, fmt.Errorf("failed to apply migration %d: %w", m.version, err)
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`PRAGMA user_version = %d`, m.version)); err != nil {
			_ = tx.Rollback()
			return 0, fmt.Errorf("failed to record migration %d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return 0, fmt.Errorf("failed to commit migration %d: %w", m.version, err)
		}

		if c.logger != nil {
			c.logger.Info("Applied tile store migration", zap.Int("version", m.version), zap.String("table", c.table))
		}
		current = m.version
	}

	return current, nil
}

func (c *SQLiteCache) Get(ctx context.Context, coord tile.Coord) (*StoredTile, bool, error) {
	if err := c.wait(ctx); err != nil {
		return nil, false, err
	}

	key := tile.Key(coord)
	t := &StoredTile{ContentType: "image/png"}

	var err error
	if c.hasMeta {
		var updatedAt int64
		err = c.db.QueryRowContext(ctx,
			`SELECT content_type, data, updated_at FROM `+c.table+` WHERE key = ?`, key,
		).Scan(&t.ContentType, &t.Data, &updatedAt)
		if updatedAt > 0 {
			t.UpdatedAt = time.UnixMilli(updatedAt).UTC()
		}
	} else {
		err = c.db.QueryRowContext(ctx, `SELECT data FROM `+c.table+` WHERE key = ?`, key).Scan(&t.Data)
	}

	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, ioError(err, "get", key)
	}

	return t, true, nil
}

func (c *SQLiteCache) Put(ctx context.Context, coord tile.Coord, t StoredTile) error {
	if err := c.wait(ctx); err != nil {
		return err
	}

	key := tile.Key(coord)
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = time.Now().UTC()
	}
	if t.Data == nil {
		t.Data = []byte{}
	}

	var err error
	if c.hasMeta {
		_, err = c.db.ExecContext(ctx,
			`INSERT INTO `+c.table+` (key, data, content_type, updated_at) VALUES (?, ?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET
				data = excluded.data,
				content_type = excluded.content_type,
				updated_at = excluded.updated_at`,
			key, t.Data, t.ContentType, t.UpdatedAt.UnixMilli(),
		)
	} else {
		_, err = c.db.ExecContext(ctx, `INSERT OR REPLACE INTO `+c.table+` (key, data) VALUES (?, ?)`, key, t.Data)
	}
	if err != nil {
		return ioError(err, "put", key)
	}

	return nil
}

func (c *SQLiteCache) Clear(ctx context.Context) error {
	if err := c.wait(ctx); err != nil {
		return err
	}

	if _, err := c.db.ExecContext(ctx, `DELETE FROM `+c.table); err != nil {
		return ioError(err, "clear", "")
	}
	return nil
}

func (c *SQLiteCache) SizeBytes(ctx context.Context) (int64, error) {
	if err := c.wait(ctx); err != nil {
		return 0, err
	}

	var total int64
	if err := c.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(LENGTH(data)), 0) FROM `+c.table).Scan(&total); err != nil {
		return 0, ioError(err, "size", "")
	}
	return total, nil
}

// Count returns the number of stored tiles.
func (c *SQLiteCache) Count(ctx context.Context) (int, error) {
	if err := c.wait(ctx); err != nil {
		return 0, err
	}

	var n int
	if err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+c.table).Scan(&n); err != nil {
		return 0, ioError(err, "count", "")
	}
	return n, nil
}

// Close closes the database handle. Safe on a store that never opened.
func (c *SQLiteCache) Close() error {
	c.abandon()
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}
