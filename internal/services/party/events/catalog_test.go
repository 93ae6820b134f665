package events

import (
	"context"
	"math/rand"
	"strings"
	"testing"

	"github.com/louisbranch/questparty/internal/services/party/domain"
)

func TestDefaultCatalogIsValid(t *testing.T) {
	catalog := DefaultCatalog()
	seen := map[string]bool{}
	var hasOverrun bool
	for _, event := range catalog {
		if err := event.Validate(); err != nil {
			t.Fatalf("validate %s: %v", event.ID, err)
		}
		if seen[event.ID] {
			t.Fatalf("duplicate id %s", event.ID)
		}
		seen[event.ID] = true
		hasOverrun = hasOverrun || event.Kind == domain.KindDetrimental
	}
	if !hasOverrun {
		t.Fatal("default catalog has no detrimental event for overruns")
	}
}

func TestLoadCatalog(t *testing.T) {
	catalog, err := LoadCatalog(strings.NewReader(`[{"id":"a","kind":"beneficial","magnitude":2,"description":"x"}]`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(catalog) != 1 || catalog[0].Magnitude != 2 {
		t.Fatalf("catalog = %+v", catalog)
	}

	bad := []string{
		`[]`,
		`{"id":"a"}`,
		`[{"id":"a","kind":"weird"}]`,
		`[{"id":"a","kind":"action"},{"id":"a","kind":"action"}]`,
	}
	for _, raw := range bad {
		if _, err := LoadCatalog(strings.NewReader(raw)); err == nil {
			t.Fatalf("LoadCatalog(%s): expected error", raw)
		}
	}
}

func TestRandomSelector(t *testing.T) {
	selector := NewRandomSelector(rand.New(rand.NewSource(9)))
	session := domain.Session{Players: map[string]domain.Player{
		"a": {UID: "a", JoinedAt: 1},
		"b": {UID: "b", JoinedAt: 2},
	}}
	for i := 0; i < 20; i++ {
		uid, err := selector.SelectPlayer(context.Background(), session, domain.PublishedEvent{})
		if err != nil {
			t.Fatalf("select: %v", err)
		}
		if _, ok := session.Players[uid]; !ok {
			t.Fatalf("selected unknown player %q", uid)
		}
	}
	if _, err := selector.SelectPlayer(context.Background(), domain.Session{}, domain.PublishedEvent{}); err == nil {
		t.Fatal("expected error for empty session")
	}
}
