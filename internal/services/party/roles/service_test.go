package roles

import (
	"context"
	"sync"
	"testing"

	apperrors "github.com/louisbranch/questparty/internal/platform/errors"
	"github.com/louisbranch/questparty/internal/services/party/docstore"
	"github.com/louisbranch/questparty/internal/services/party/docstore/memory"
	"github.com/louisbranch/questparty/internal/services/party/domain"
)

const testCode = "ROLE"

func setup(t *testing.T, uids ...string) (*Service, *docstore.Tree) {
	t.Helper()
	store := memory.NewStore()
	t.Cleanup(func() { _ = store.Close() })
	svc, err := NewService(store, []string{"medic", "scout", "pilot"})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	ctx := context.Background()
	for i, uid := range uids {
		if err := store.Merge(ctx, domain.PlayerPath(testCode, uid), map[string]any{
			"uid": uid, "displayName": "P-" + uid, "joinedAt": i,
		}); err != nil {
			t.Fatalf("seed player: %v", err)
		}
	}
	if err := svc.InitSlots(ctx, testCode); err != nil {
		t.Fatalf("init slots: %v", err)
	}
	return svc, store
}

func handle(uid string) domain.Handle {
	return domain.Handle{Code: testCode, UID: uid, DisplayName: "P-" + uid}
}

func TestClaimExclusivity(t *testing.T) {
	uids := []string{"u0", "u1", "u2", "u3", "u4", "u5", "u6", "u7"}
	svc, _ := setup(t, uids...)
	ctx := context.Background()

	results := make([]ClaimResult, len(uids))
	var wg sync.WaitGroup
	for i, uid := range uids {
		wg.Add(1)
		go func(i int, uid string) {
			defer wg.Done()
			result, err := svc.Claim(ctx, handle(uid), "medic")
			if err != nil {
				t.Errorf("claim %s: %v", uid, err)
				return
			}
			results[i] = result
		}(i, uid)
	}
	wg.Wait()

	winners := 0
	winner := ""
	for i, result := range results {
		switch result.Outcome {
		case ClaimTaken:
			winners++
			winner = uids[i]
		case ClaimConflict:
		default:
			t.Fatalf("unexpected outcome %q for %s", result.Outcome, uids[i])
		}
	}
	if winners != 1 {
		t.Fatalf("winners = %d, want 1", winners)
	}
	slots, err := svc.Slots(ctx, testCode)
	if err != nil {
		t.Fatalf("slots: %v", err)
	}
	if slots["medic"].Status != domain.SlotTaken || slots["medic"].UID != winner {
		t.Fatalf("medic slot = %#v, want taken by %s", slots["medic"], winner)
	}
}

func TestClaimSwitchesRole(t *testing.T) {
	svc, store := setup(t, "u1")
	ctx := context.Background()

	if result, err := svc.Claim(ctx, handle("u1"), "medic"); err != nil || result.Outcome != ClaimTaken {
		t.Fatalf("claim medic = %v %v", result, err)
	}
	if result, err := svc.Claim(ctx, handle("u1"), "scout"); err != nil || result.Outcome != ClaimTaken {
		t.Fatalf("claim scout = %v %v", result, err)
	}

	slots, err := svc.Slots(ctx, testCode)
	if err != nil {
		t.Fatalf("slots: %v", err)
	}
	if !slots["medic"].Available() {
		t.Fatalf("medic slot = %#v, want available", slots["medic"])
	}
	if slots["scout"].UID != "u1" {
		t.Fatalf("scout slot = %#v", slots["scout"])
	}
	role, err := store.Get(ctx, domain.PlayerRolePath(testCode, "u1"))
	if err != nil {
		t.Fatalf("get role: %v", err)
	}
	if role.Value != "scout" {
		t.Fatalf("player role = %v, want scout", role.Value)
	}
}

func TestClaimSwitchLostClearsOldRole(t *testing.T) {
	svc, store := setup(t, "u1", "u2", "u3")
	ctx := context.Background()

	if result, err := svc.Claim(ctx, handle("u1"), "medic"); err != nil || result.Outcome != ClaimTaken {
		t.Fatalf("u1 claim medic = %v %v", result, err)
	}
	if result, err := svc.Claim(ctx, handle("u2"), "pilot"); err != nil || result.Outcome != ClaimTaken {
		t.Fatalf("u2 claim pilot = %v %v", result, err)
	}
	if result, err := svc.Claim(ctx, handle("u1"), "pilot"); err != nil || result.Outcome != ClaimConflict {
		t.Fatalf("u1 claim pilot = %v %v, want conflict", result, err)
	}
	if result, err := svc.Claim(ctx, handle("u3"), "medic"); err != nil || result.Outcome != ClaimTaken {
		t.Fatalf("u3 claim medic = %v %v", result, err)
	}

	role, err := store.Get(ctx, domain.PlayerRolePath(testCode, "u1"))
	if err != nil {
		t.Fatalf("get u1 role: %v", err)
	}
	if role.Exists && role.Value != "" {
		t.Fatalf("u1 role = %v, want none after losing the switch", role.Value)
	}
	role, err = store.Get(ctx, domain.PlayerRolePath(testCode, "u3"))
	if err != nil {
		t.Fatalf("get u3 role: %v", err)
	}
	if role.Value != "medic" {
		t.Fatalf("u3 role = %v, want medic", role.Value)
	}
}

func TestClaimSameRoleIsIdempotent(t *testing.T) {
	svc, _ := setup(t, "u1")
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		result, err := svc.Claim(ctx, handle("u1"), "pilot")
		if err != nil {
			t.Fatalf("claim: %v", err)
		}
		if result.Outcome != ClaimTaken {
			t.Fatalf("attempt %d outcome = %s, want taken", i, result.Outcome)
		}
	}
}

func TestClaimConflictReportsHolder(t *testing.T) {
	svc, _ := setup(t, "u1", "u2")
	ctx := context.Background()
	if _, err := svc.Claim(ctx, handle("u1"), "pilot"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	result, err := svc.Claim(ctx, handle("u2"), "pilot")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if result.Outcome != ClaimConflict || result.Slot.UID != "u1" {
		t.Fatalf("result = %#v, want conflict held by u1", result)
	}
}

func TestClaimRejectsUnknownRoleAndStranger(t *testing.T) {
	svc, _ := setup(t, "u1")
	ctx := context.Background()
	if _, err := svc.Claim(ctx, handle("u1"), "wizard"); !apperrors.IsCode(err, apperrors.CodeInvalidArgument) {
		t.Fatalf("unknown role err = %v, want INVALID_ARGUMENT", err)
	}
	if _, err := svc.Claim(ctx, handle("ghost"), "medic"); !apperrors.IsCode(err, apperrors.CodeNotFound) {
		t.Fatalf("stranger err = %v, want NOT_FOUND", err)
	}
}

func TestReleaseOnlyByHolder(t *testing.T) {
	svc, store := setup(t, "u1", "u2")
	ctx := context.Background()
	if _, err := svc.Claim(ctx, handle("u1"), "medic"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := svc.Release(ctx, testCode, "u2", "medic"); err != nil {
		t.Fatalf("release by other: %v", err)
	}
	slots, _ := svc.Slots(ctx, testCode)
	if slots["medic"].UID != "u1" {
		t.Fatalf("slot released by non-holder: %#v", slots["medic"])
	}
	if err := svc.Release(ctx, testCode, "u1", "medic"); err != nil {
		t.Fatalf("release: %v", err)
	}
	slots, _ = svc.Slots(ctx, testCode)
	if !slots["medic"].Available() {
		t.Fatalf("slot = %#v, want available", slots["medic"])
	}
	role, _ := store.Get(ctx, domain.PlayerRolePath(testCode, "u1"))
	if role.Exists {
		t.Fatalf("player role = %v, want cleared", role.Value)
	}
}

func TestReleaseDoesNotRecreateRemovedPlayer(t *testing.T) {
	svc, store := setup(t, "u1")
	ctx := context.Background()
	if _, err := svc.Claim(ctx, handle("u1"), "medic"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := store.Delete(ctx, domain.PlayerPath(testCode, "u1")); err != nil {
		t.Fatalf("delete player: %v", err)
	}
	if err := svc.Release(ctx, testCode, "u1", "medic"); err != nil {
		t.Fatalf("release: %v", err)
	}
	player, _ := store.Get(ctx, domain.PlayerPath(testCode, "u1"))
	if player.Exists {
		t.Fatalf("player recreated: %#v", player.Value)
	}
}

func TestNewServiceValidatesCatalog(t *testing.T) {
	store := memory.NewStore()
	defer store.Close()
	for _, catalog := range [][]string{nil, {""}, {"a/b"}, {"x", "x"}} {
		if _, err := NewService(store, catalog); err == nil {
			t.Fatalf("catalog %v accepted", catalog)
		}
	}
}
