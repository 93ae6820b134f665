// Package partytoken generates identity secrets and issues device tokens
// for the store server.
package partytoken

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	entrypoint "github.com/louisbranch/questparty/internal/platform/cmd"
	"github.com/louisbranch/questparty/internal/platform/config"
	"github.com/louisbranch/questparty/internal/services/party/identity"
)

const envPrefix = "QUESTPARTY_"

// Config holds configuration for the token tool. With no UID it prints a
// fresh secret; with a UID it signs a token using Secret.
type Config struct {
	Secret string `env:"IDENTITY_SECRET"`
	Bytes  int
	UID    string
	Name   string
	TTL    time.Duration
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	cfg := Config{Bytes: 32, TTL: identity.DefaultTTL}
	if err := config.ParseEnvPrefixed(&cfg, envPrefix); err != nil {
		return Config{}, err
	}
	fs.IntVar(&cfg.Bytes, "bytes", cfg.Bytes, "number of random secret bytes")
	fs.StringVar(&cfg.UID, "uid", cfg.UID, "issue a token for this uid instead of generating a secret")
	fs.StringVar(&cfg.Name, "name", cfg.Name, "display name claim")
	fs.DurationVar(&cfg.TTL, "ttl", cfg.TTL, "token lifetime")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run writes either a secret or a token to out.
func Run(cfg Config, out io.Writer, reader io.Reader) error {
	if out == nil {
		return errors.New("output is required")
	}
	if strings.TrimSpace(cfg.UID) != "" {
		signer, err := identity.NewSigner(cfg.Secret, nil)
		if err != nil {
			return fmt.Errorf("QUESTPARTY_IDENTITY_SECRET: %w", err)
		}
		token, err := signer.Issue(cfg.UID, cfg.Name, cfg.TTL)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(out, "QUESTPARTY_IDENTITY_TOKEN=%s\n", token)
		return err
	}

	if cfg.Bytes <= 0 {
		return errors.New("bytes must be greater than zero")
	}
	if reader == nil {
		reader = rand.Reader
	}
	buf := make([]byte, cfg.Bytes)
	if _, err := io.ReadFull(reader, buf); err != nil {
		return fmt.Errorf("generate random bytes: %w", err)
	}
	_, err := fmt.Fprintf(out, "QUESTPARTY_IDENTITY_SECRET=%s\n", hex.EncodeToString(buf))
	return err
}
