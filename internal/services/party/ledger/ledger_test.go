package ledger

import (
	"context"
	"sync"
	"testing"

	"github.com/cenkalti/backoff/v5"

	apperrors "github.com/louisbranch/questparty/internal/platform/errors"
	"github.com/louisbranch/questparty/internal/services/party/docstore"
	"github.com/louisbranch/questparty/internal/services/party/docstore/memory"
	"github.com/louisbranch/questparty/internal/services/party/domain"
)

func zeroBackOff() backoff.BackOff {
	return &backoff.ZeroBackOff{}
}

func newTestLedger(t *testing.T) (*Ledger, *docstore.Tree) {
	t.Helper()
	store := memory.NewStore()
	t.Cleanup(func() { _ = store.Close() })
	return New(store, WithBackOff(zeroBackOff)), store
}

func TestApplyDeltaCommutes(t *testing.T) {
	ledger, store := newTestLedger(t)
	ctx := context.Background()
	path := domain.TotalScorePath("u1")

	if _, err := ledger.ApplyDelta(ctx, path, 100); err != nil {
		t.Fatalf("seed: %v", err)
	}
	deltas := []int64{5, -3, 12, -40, 7, 1, -1, 9, 0, -8}
	var want int64 = 100
	for _, d := range deltas {
		want += d
	}

	var wg sync.WaitGroup
	for _, delta := range deltas {
		wg.Add(1)
		go func(delta int64) {
			defer wg.Done()
			if _, err := ledger.ApplyDelta(ctx, path, delta); err != nil {
				t.Errorf("apply %d: %v", delta, err)
			}
		}(delta)
	}
	wg.Wait()

	snap, err := store.Get(ctx, path)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got := docstore.Int64(snap.Value); got != want {
		t.Fatalf("total = %d, want %d", got, want)
	}
}

func TestApplyDeltaAllowsNegativeTotals(t *testing.T) {
	ledger, _ := newTestLedger(t)
	got, err := ledger.ApplyTotalDelta(context.Background(), "u1", -7)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if got != -7 {
		t.Fatalf("total = %d, want -7", got)
	}
}

func TestApplySessionDelta(t *testing.T) {
	ledger, store := newTestLedger(t)
	ctx := context.Background()
	if err := store.Merge(ctx, domain.PlayerPath("ABCD", "u1"), map[string]any{"uid": "u1", "sessionScore": 10}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	got, err := ledger.ApplySessionDelta(ctx, "ABCD", "u1", -5)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if got != 5 {
		t.Fatalf("score = %d, want 5", got)
	}
}

func TestApplySessionDeltaMissingPlayer(t *testing.T) {
	ledger, store := newTestLedger(t)
	ctx := context.Background()
	_, err := ledger.ApplySessionDelta(ctx, "ABCD", "ghost", 3)
	if !apperrors.IsCode(err, apperrors.CodeNotFound) {
		t.Fatalf("err = %v, want NOT_FOUND", err)
	}
	snap, _ := store.Get(ctx, domain.PlayerPath("ABCD", "ghost"))
	if snap.Exists {
		t.Fatal("ledger must not create players")
	}
}

func TestCreditUpdatesBothScopes(t *testing.T) {
	ledger, store := newTestLedger(t)
	ctx := context.Background()
	if err := store.Merge(ctx, domain.PlayerPath("ABCD", "u1"), map[string]any{"uid": "u1", "sessionScore": 0}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := ledger.Credit(ctx, "ABCD", "u1", 4); err != nil {
		t.Fatalf("credit: %v", err)
	}
	session, _ := store.Get(ctx, domain.SessionScorePath("ABCD", "u1"))
	total, _ := store.Get(ctx, domain.TotalScorePath("u1"))
	if docstore.Int64(session.Value) != 4 || docstore.Int64(total.Value) != 4 {
		t.Fatalf("session = %v total = %v, want 4/4", session.Value, total.Value)
	}
}

type contendedStore struct {
	docstore.Store
	mu    sync.Mutex
	calls int
}

func (s *contendedStore) Transaction(context.Context, string, docstore.UpdateFunc) (docstore.TxnResult, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return docstore.TxnResult{}, apperrors.New(apperrors.CodeTransactionContention, "lost")
}

func TestApplyDeltaSurfacesContentionAfterRetries(t *testing.T) {
	store := &contendedStore{}
	ledger := New(store, WithBackOff(zeroBackOff), WithMaxRetries(3))

	_, err := ledger.ApplyDelta(context.Background(), "users/u1/totalScore", 1)
	if !apperrors.IsCode(err, apperrors.CodeTransactionContention) {
		t.Fatalf("err = %v, want TRANSACTION_CONTENTION", err)
	}
	if store.calls != 3 {
		t.Fatalf("calls = %d, want 3", store.calls)
	}
}
