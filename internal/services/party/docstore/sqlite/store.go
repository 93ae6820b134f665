// Package sqlite provides a SQLite docstore backend. Each root document is
// one row holding its JSON body and version; writes are conditional updates
// on the version column.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/louisbranch/questparty/internal/platform/storage/sqlitemigrate"
	"github.com/louisbranch/questparty/internal/services/party/docstore"
	"github.com/louisbranch/questparty/internal/services/party/docstore/sqlite/migrations"
)

// Backend stores root documents in SQLite.
type Backend struct {
	sqlDB *sql.DB
	now   func() time.Time
}

// Open opens (creating if needed) a SQLite document database at path and
// applies embedded migrations.
func Open(path string) (*Backend, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One connection keeps conditional writes from racing on SQLITE_BUSY.
	sqlDB.SetMaxOpenConns(1)
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := sqlitemigrate.ApplyMigrations(context.Background(), sqlDB, migrations.DocumentsFS, "documents"); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Backend{sqlDB: sqlDB, now: time.Now}, nil
}

// Close closes the underlying database. It is nil-safe.
func (b *Backend) Close() error {
	if b == nil || b.sqlDB == nil {
		return nil
	}
	return b.sqlDB.Close()
}

// Load implements docstore.Backend.
func (b *Backend) Load(ctx context.Context, root string) (any, int64, error) {
	var (
		body    string
		version int64
	)
	err := b.sqlDB.QueryRowContext(ctx, "SELECT body, version FROM documents WHERE root = ?", root).Scan(&body, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("load document: %w", err)
	}
	var doc any
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return nil, 0, fmt.Errorf("decode document %s: %w", root, err)
	}
	return doc, version, nil
}

// Save implements docstore.Backend.
func (b *Backend) Save(ctx context.Context, root string, doc any, expectVersion int64) (int64, error) {
	body, err := json.Marshal(doc)
	if err != nil {
		return 0, fmt.Errorf("encode document %s: %w", root, err)
	}
	next := expectVersion + 1
	updatedAt := b.now().UTC().UnixMilli()

	var result sql.Result
	if expectVersion == 0 {
		result, err = b.sqlDB.ExecContext(ctx,
			"INSERT INTO documents (root, body, version, updated_at) VALUES (?, ?, ?, ?) ON CONFLICT(root) DO NOTHING",
			root, string(body), next, updatedAt,
		)
	} else {
		result, err = b.sqlDB.ExecContext(ctx,
			"UPDATE documents SET body = ?, version = ?, updated_at = ? WHERE root = ? AND version = ?",
			string(body), next, updatedAt, root, expectVersion,
		)
	}
	if err != nil {
		return 0, fmt.Errorf("save document: %w", err)
	}
	if err := requireOneRow(result); err != nil {
		return 0, err
	}
	return next, nil
}

// Remove implements docstore.Backend.
func (b *Backend) Remove(ctx context.Context, root string, expectVersion int64) error {
	result, err := b.sqlDB.ExecContext(ctx, "DELETE FROM documents WHERE root = ? AND version = ?", root, expectVersion)
	if err != nil {
		return fmt.Errorf("remove document: %w", err)
	}
	return requireOneRow(result)
}

func requireOneRow(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected != 1 {
		return docstore.ErrVersionConflict
	}
	return nil
}
