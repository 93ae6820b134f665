// Package partyhost parses headless host flags and runs the host duties of
// one session against a remote store.
package partyhost

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	entrypoint "github.com/louisbranch/questparty/internal/platform/cmd"
	apperrors "github.com/louisbranch/questparty/internal/platform/errors"
	platformgrpc "github.com/louisbranch/questparty/internal/platform/grpc"
	"github.com/louisbranch/questparty/internal/platform/id"
	"github.com/louisbranch/questparty/internal/services/party/client"
	"github.com/louisbranch/questparty/internal/services/party/docstore"
	"github.com/louisbranch/questparty/internal/services/party/docstore/remote"
	"github.com/louisbranch/questparty/internal/services/party/domain"
	"github.com/louisbranch/questparty/internal/services/party/events"
	"github.com/louisbranch/questparty/internal/services/party/ledger"
	"github.com/louisbranch/questparty/internal/services/party/lifecycle"
	"github.com/louisbranch/questparty/internal/services/party/roles"
	"github.com/louisbranch/questparty/internal/services/party/turns"
)

// Config holds headless host configuration.
type Config struct {
	StoreURL      string        `env:"QUESTPARTY_STORE_URL"            envDefault:"ws://localhost:8090/ws"`
	StoreGRPCAddr string        `env:"QUESTPARTY_STORE_GRPC_ADDR"      envDefault:"localhost:8091"`
	HealthTimeout time.Duration `env:"QUESTPARTY_STORE_HEALTH_TIMEOUT" envDefault:"30s"`
	IdentityToken string        `env:"QUESTPARTY_IDENTITY_TOKEN"`

	HostUID     string   `env:"QUESTPARTY_HOST_UID"`
	HostName    string   `env:"QUESTPARTY_HOST_NAME"    envDefault:"Host"`
	SessionCode string   `env:"QUESTPARTY_SESSION_CODE"`
	MinPlayers  int      `env:"QUESTPARTY_MIN_PLAYERS"  envDefault:"2"`
	EventPath   string   `env:"QUESTPARTY_EVENT_CATALOG"`
	Roles       []string `env:"QUESTPARTY_ROLE_CATALOG" envDefault:"knight,wizard,rogue,bard" envSeparator:","`

	EventMinInterval time.Duration `env:"QUESTPARTY_EVENT_MIN_INTERVAL" envDefault:"60s"`
	EventMaxInterval time.Duration `env:"QUESTPARTY_EVENT_MAX_INTERVAL" envDefault:"120s"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.StoreURL, "store-url", cfg.StoreURL, "store WebSocket URL")
	fs.StringVar(&cfg.StoreGRPCAddr, "store-grpc-addr", cfg.StoreGRPCAddr, "store gRPC health address")
	fs.DurationVar(&cfg.HealthTimeout, "health-timeout", cfg.HealthTimeout, "how long to wait for the store to report healthy")
	fs.StringVar(&cfg.HostUID, "uid", cfg.HostUID, "host uid; generated when empty")
	fs.StringVar(&cfg.HostName, "name", cfg.HostName, "host display name")
	fs.StringVar(&cfg.SessionCode, "code", cfg.SessionCode, "adopt an existing session instead of creating one")
	fs.IntVar(&cfg.MinPlayers, "min-players", cfg.MinPlayers, "start automatically once this many players joined; 0 disables")
	fs.StringVar(&cfg.EventPath, "events", cfg.EventPath, "path to a JSON event catalog")
	fs.Func("roles", "comma-separated role catalog", func(value string) error {
		cfg.Roles = splitList(value)
		return nil
	})
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	if len(cfg.Roles) == 0 {
		return Config{}, fmt.Errorf("role catalog is required")
	}
	return cfg, nil
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Run waits for the store, connects to it and hosts one session until ctx
// ends or the session finishes.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceHost, func(context.Context) error {
		conn, err := platformgrpc.DialWithHealth(ctx, cfg.StoreGRPCAddr, cfg.HealthTimeout, log.Printf)
		if err != nil {
			return fmt.Errorf("wait for store: %w", err)
		}
		_ = conn.Close()

		store, err := remote.Dial(ctx, remote.Config{URL: cfg.StoreURL, Token: cfg.IdentityToken})
		if err != nil {
			return fmt.Errorf("connect store: %w", err)
		}
		defer store.Close()

		return Host(ctx, store, cfg)
	})
}

// Host creates or adopts a session on store and drives it from the host
// device: it auto-starts once enough players joined, runs the event loop
// while the session is in progress, and logs the ranking when it finishes.
func Host(ctx context.Context, store docstore.Store, cfg Config) error {
	catalog, err := loadEvents(cfg.EventPath)
	if err != nil {
		return err
	}
	roleSvc, err := roles.NewService(store, cfg.Roles)
	if err != nil {
		return fmt.Errorf("roles: %w", err)
	}
	turnSvc := turns.NewCoordinator(store, roleSvc)
	sessions, err := lifecycle.NewService(lifecycle.Config{Store: store, Roles: roleSvc, Turns: turnSvc})
	if err != nil {
		return fmt.Errorf("lifecycle: %w", err)
	}
	scheduler, err := events.NewScheduler(events.Config{
		Store:       store,
		Ledger:      ledger.New(store),
		Overruns:    turnSvc,
		Selector:    events.NewRandomSelector(nil),
		Catalog:     catalog,
		MinInterval: cfg.EventMinInterval,
		MaxInterval: cfg.EventMaxInterval,
	})
	if err != nil {
		return fmt.Errorf("event scheduler: %w", err)
	}
	defer scheduler.Close()

	h, err := openSession(ctx, sessions, cfg)
	if err != nil {
		return err
	}
	log.Printf("host: session %s ready, join code %s, qr /qr/%s", h.Code, h.Code, h.Code)

	runtime, err := client.Open(ctx, store, h, scheduler)
	if err != nil {
		return fmt.Errorf("open session: %w", err)
	}
	defer runtime.Close()

	starting := false
	for {
		select {
		case <-ctx.Done():
			return nil
		case notice := <-runtime.Notices():
			log.Printf("host: session %s: %s", h.Code, notice.Message)
			if notice.Code == apperrors.CodeNotFound {
				return nil
			}
		case view := <-runtime.Views():
			switch view.Status {
			case domain.StatusWaiting:
				if starting || cfg.MinPlayers <= 0 || len(view.Players) < cfg.MinPlayers {
					continue
				}
				starting = true
				if err := sessions.Start(ctx, h); err != nil && !apperrors.IsCode(err, apperrors.CodeInvalidStatusTransition) {
					log.Printf("host: start session %s: %v", h.Code, err)
					starting = false
					continue
				}
				log.Printf("host: session %s started with %d players", h.Code, len(view.Players))
			case domain.StatusFinished:
				logResults(h.Code, view.Results)
				return nil
			}
		}
	}
}

func openSession(ctx context.Context, sessions *lifecycle.Service, cfg Config) (domain.Handle, error) {
	uid := strings.TrimSpace(cfg.HostUID)
	if uid == "" {
		generated, err := id.NewID()
		if err != nil {
			return domain.Handle{}, fmt.Errorf("generate host uid: %w", err)
		}
		uid = generated
	}
	if strings.TrimSpace(cfg.SessionCode) == "" {
		h, err := sessions.Create(ctx, uid, cfg.HostName)
		if err != nil {
			return domain.Handle{}, fmt.Errorf("create session: %w", err)
		}
		return h, nil
	}

	h, err := sessions.Join(ctx, cfg.SessionCode, uid, cfg.HostName)
	if err != nil {
		return domain.Handle{}, fmt.Errorf("adopt session: %w", err)
	}
	session, err := sessions.Get(ctx, h.Code)
	if err != nil {
		return domain.Handle{}, fmt.Errorf("adopt session: %w", err)
	}
	if !session.IsHost(uid) {
		return domain.Handle{}, apperrors.WithMetadata(apperrors.CodePermissionDenied, "uid is not the session host", map[string]string{"Session": h.Code})
	}
	return h, nil
}

func loadEvents(path string) ([]domain.GameEvent, error) {
	if strings.TrimSpace(path) == "" {
		return events.DefaultCatalog(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open event catalog: %w", err)
	}
	defer f.Close()
	catalog, err := events.LoadCatalog(f)
	if err != nil {
		return nil, fmt.Errorf("load event catalog %s: %w", path, err)
	}
	return catalog, nil
}

func logResults(code string, results *domain.Results) {
	if results == nil {
		log.Printf("host: session %s finished", code)
		return
	}
	log.Printf("host: session %s finished", code)
	for _, entry := range results.Ranking {
		log.Printf("host:   #%d %s (%s) %d", entry.Rank, entry.DisplayName, entry.Role, entry.SessionScore)
	}
}
