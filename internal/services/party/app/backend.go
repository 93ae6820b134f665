package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/louisbranch/questparty/internal/services/party/docstore"
	"github.com/louisbranch/questparty/internal/services/party/docstore/memory"
	docredis "github.com/louisbranch/questparty/internal/services/party/docstore/redis"
	docsqlite "github.com/louisbranch/questparty/internal/services/party/docstore/sqlite"
)

// Backend names accepted by Config.Backend.
const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// openBackend opens the configured backend and returns its close function.
func openBackend(ctx context.Context, cfg Config) (docstore.Backend, func() error, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", BackendSQLite:
		path := strings.TrimSpace(cfg.DBPath)
		if path == "" {
			path = filepath.Join("data", "party.db")
		}
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, nil, fmt.Errorf("create storage dir: %w", err)
			}
		}
		backend, err := docsqlite.Open(path)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite document store: %w", err)
		}
		return backend, backend.Close, nil
	case BackendRedis:
		backend, err := docredis.Open(ctx, docredis.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("open redis document store: %w", err)
		}
		return backend, backend.Close, nil
	case BackendMemory:
		return memory.NewBackend(), func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}
