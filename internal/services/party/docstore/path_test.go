package docstore

import (
	"testing"

	apperrors "github.com/louisbranch/questparty/internal/platform/errors"
)

func TestParsePath(t *testing.T) {
	ref, err := ParsePath("/sessions/ABCD/turnState/turnNumber/")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if ref.Root != "sessions/ABCD" {
		t.Fatalf("root = %q, want sessions/ABCD", ref.Root)
	}
	if len(ref.Rest) != 2 || ref.Rest[0] != "turnState" || ref.Rest[1] != "turnNumber" {
		t.Fatalf("rest = %v", ref.Rest)
	}
	if got := ref.String(); got != "sessions/ABCD/turnState/turnNumber" {
		t.Fatalf("string = %q", got)
	}
}

func TestParsePathRejects(t *testing.T) {
	for _, path := range []string{"", "  ", "sessions", "sessions//x", "sessions/../x", "sessions/./x"} {
		_, err := ParsePath(path)
		if !apperrors.IsCode(err, apperrors.CodeInvalidArgument) {
			t.Fatalf("ParsePath(%q) err = %v, want INVALID_ARGUMENT", path, err)
		}
	}
}

func TestAssignCreatesAndDeletes(t *testing.T) {
	doc := assign(nil, []string{"a", "b"}, "x")
	value, ok := lookup(doc, []string{"a", "b"})
	if !ok || value != "x" {
		t.Fatalf("lookup = %v %v", value, ok)
	}
	doc = assign(doc, []string{"a", "b"}, nil)
	if _, ok := lookup(doc, []string{"a", "b"}); ok {
		t.Fatal("expected value removed")
	}
}

func TestMergeFieldsLeavesOtherKeys(t *testing.T) {
	current := map[string]any{"keep": "yes", "drop": "soon", "change": 1.0}
	merged := mergeFields(current, map[string]any{"drop": nil, "change": 2.0})
	if merged["keep"] != "yes" {
		t.Fatalf("keep = %v", merged["keep"])
	}
	if _, ok := merged["drop"]; ok {
		t.Fatal("drop should be removed")
	}
	if merged["change"] != 2.0 {
		t.Fatalf("change = %v", merged["change"])
	}
}

func TestInt64(t *testing.T) {
	if got := Int64(float64(12)); got != 12 {
		t.Fatalf("got %d, want 12", got)
	}
	if got := Int64("12"); got != 0 {
		t.Fatalf("got %d, want 0", got)
	}
}
