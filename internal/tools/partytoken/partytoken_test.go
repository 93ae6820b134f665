package partytoken

import (
	"bytes"
	"flag"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/louisbranch/questparty/internal/services/party/identity"
)

func TestParseConfigDefaults(t *testing.T) {
	t.Setenv("QUESTPARTY_IDENTITY_SECRET", "")
	fs := flag.NewFlagSet("partytoken", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, nil)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.Bytes != 32 || cfg.TTL != identity.DefaultTTL || cfg.UID != "" {
		t.Fatalf("config = %+v", cfg)
	}
}

func TestParseConfigOverrides(t *testing.T) {
	t.Setenv("QUESTPARTY_IDENTITY_SECRET", "env-secret")
	fs := flag.NewFlagSet("partytoken", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, []string{"-uid", "u1", "-name", "Ada", "-ttl", "1h", "-bytes", "16"})
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.Secret != "env-secret" || cfg.UID != "u1" || cfg.Name != "Ada" || cfg.TTL != time.Hour || cfg.Bytes != 16 {
		t.Fatalf("config = %+v", cfg)
	}
}

func TestRunWritesSecret(t *testing.T) {
	buf := &bytes.Buffer{}
	if err := Run(Config{Bytes: 4}, buf, bytes.NewReader([]byte{0x01, 0x02, 0x03, 0x04})); err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := strings.TrimSpace(buf.String()); got != "QUESTPARTY_IDENTITY_SECRET=01020304" {
		t.Fatalf("output = %q", got)
	}
}

func TestRunIssuesVerifiableToken(t *testing.T) {
	buf := &bytes.Buffer{}
	if err := Run(Config{Secret: "s", UID: "u1", Name: "Ada", TTL: time.Hour}, buf, nil); err != nil {
		t.Fatalf("run: %v", err)
	}
	token, ok := strings.CutPrefix(strings.TrimSpace(buf.String()), "QUESTPARTY_IDENTITY_TOKEN=")
	if !ok {
		t.Fatalf("output = %q", buf.String())
	}
	verifier, err := identity.NewVerifier("s", nil)
	if err != nil {
		t.Fatalf("verifier: %v", err)
	}
	claims, err := verifier.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.UID != "u1" || claims.DisplayName != "Ada" {
		t.Fatalf("claims = %+v", claims)
	}
}

type errReader struct{}

func (errReader) Read([]byte) (int, error) { return 0, fmt.Errorf("read error") }

func TestRunErrors(t *testing.T) {
	if err := Run(Config{Bytes: 0}, &bytes.Buffer{}, nil); err == nil {
		t.Fatal("expected error for non-positive bytes")
	}
	if err := Run(Config{Bytes: 4}, nil, nil); err == nil {
		t.Fatal("expected error for nil output")
	}
	if err := Run(Config{Bytes: 4}, &bytes.Buffer{}, errReader{}); err == nil {
		t.Fatal("expected error from failing reader")
	}
	if err := Run(Config{UID: "u1"}, &bytes.Buffer{}, nil); err == nil {
		t.Fatal("expected error without a secret")
	}
}
