// Package partystore parses store command flags and composes the store server.
package partystore

import (
	"context"
	"flag"
	"fmt"

	entrypoint "github.com/louisbranch/questparty/internal/platform/cmd"
	server "github.com/louisbranch/questparty/internal/services/party/app"
)

// Config holds store command configuration.
type Config struct {
	HTTPAddr       string `env:"QUESTPARTY_STORE_HTTP_ADDR"      envDefault:":8090"`
	GRPCPort       int    `env:"QUESTPARTY_STORE_GRPC_PORT"      envDefault:"8091"`
	Backend        string `env:"QUESTPARTY_STORE_BACKEND"        envDefault:"sqlite"`
	DBPath         string `env:"QUESTPARTY_STORE_DB_PATH"        envDefault:"data/party.db"`
	RedisAddr      string `env:"QUESTPARTY_STORE_REDIS_ADDR"     envDefault:"localhost:6379"`
	RedisPassword  string `env:"QUESTPARTY_STORE_REDIS_PASSWORD"`
	RedisDB        int    `env:"QUESTPARTY_STORE_REDIS_DB"       envDefault:"0"`
	IdentitySecret string `env:"QUESTPARTY_IDENTITY_SECRET"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "store HTTP and WebSocket listen address")
	fs.IntVar(&cfg.GRPCPort, "grpc-port", cfg.GRPCPort, "store gRPC health port")
	fs.StringVar(&cfg.Backend, "backend", cfg.Backend, "storage backend: sqlite, redis or memory")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "SQLite database path")
	fs.StringVar(&cfg.RedisAddr, "redis-addr", cfg.RedisAddr, "Redis address")
	fs.IntVar(&cfg.RedisDB, "redis-db", cfg.RedisDB, "Redis database number")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	if cfg.GRPCPort <= 0 || cfg.GRPCPort > 65535 {
		return Config{}, fmt.Errorf("invalid grpc port %d", cfg.GRPCPort)
	}
	return cfg, nil
}

// Run builds the store server and serves it until ctx ends.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceStore, func(context.Context) error {
		if err := server.Run(ctx, serverConfig(cfg)); err != nil {
			return fmt.Errorf("serve store: %w", err)
		}
		return nil
	})
}

func serverConfig(cfg Config) server.Config {
	return server.Config{
		HTTPAddr:       cfg.HTTPAddr,
		GRPCAddr:       fmt.Sprintf(":%d", cfg.GRPCPort),
		Backend:        cfg.Backend,
		DBPath:         cfg.DBPath,
		RedisAddr:      cfg.RedisAddr,
		RedisPassword:  cfg.RedisPassword,
		RedisDB:        cfg.RedisDB,
		IdentitySecret: cfg.IdentitySecret,
	}
}
