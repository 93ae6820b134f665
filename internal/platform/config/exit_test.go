package config_test

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/louisbranch/questparty/internal/platform/config"
)

// os.Exit cannot be intercepted in-process, so the test re-runs itself.
func TestExitfPrefixesProgramAndExits(t *testing.T) {
	if os.Getenv("QUESTPARTY_EXITF_CHILD") == "1" {
		config.Exitf("identity secret is %s", "missing")
		return
	}

	cmd := exec.Command(os.Args[0], "-test.run=^TestExitfPrefixesProgramAndExits$")
	cmd.Env = append(os.Environ(), "QUESTPARTY_EXITF_CHILD=1")
	out, err := cmd.CombinedOutput()

	exitErr, ok := err.(*exec.ExitError)
	if !ok {
		t.Fatalf("expected *exec.ExitError, got %T: %v", err, err)
	}
	if exitErr.ExitCode() != 1 {
		t.Fatalf("exit code = %d, want 1", exitErr.ExitCode())
	}
	want := filepath.Base(os.Args[0]) + ": identity secret is missing"
	if !strings.Contains(string(out), want) {
		t.Fatalf("output = %q, want it to contain %q", string(out), want)
	}
}
