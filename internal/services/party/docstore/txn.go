package docstore

import (
	"context"

	apperrors "github.com/louisbranch/questparty/internal/platform/errors"
)

// RunTransaction runs fn against s with optimistic retries: read, compute,
// compare-and-set on the version read, and start over from the newer
// snapshot when another writer got there first.
func RunTransaction(ctx context.Context, s Versioned, path string, maxAttempts int, fn UpdateFunc) (TxnResult, error) {
	if fn == nil {
		return TxnResult{}, apperrors.New(apperrors.CodeInvalidArgument, "transaction function is required")
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxTxnAttempts
	}
	snap, err := s.Get(ctx, path)
	if err != nil {
		return TxnResult{}, err
	}
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return TxnResult{}, err
		}
		next, commit := fn(Clone(snap.Value), snap.Exists)
		if !commit {
			return TxnResult{Committed: false, Value: snap.Value}, nil
		}
		ok, latest, err := s.CompareAndSet(ctx, path, snap.Version, next)
		if err != nil {
			return TxnResult{}, err
		}
		if ok {
			return TxnResult{Committed: true, Value: latest.Value}, nil
		}
		snap = latest
	}
	return TxnResult{Value: snap.Value}, apperrors.WithMetadata(
		apperrors.CodeTransactionContention,
		"transaction lost too many races",
		map[string]string{"Path": path},
	)
}

// MergeVia implements Merge on top of a Versioned store.
func MergeVia(ctx context.Context, s Versioned, path string, maxAttempts int, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}
	_, err := RunTransaction(ctx, s, path, maxAttempts, func(current any, _ bool) (any, bool) {
		return mergeFields(current, fields), true
	})
	return err
}

// DeleteVia implements Delete on top of a Versioned store.
func DeleteVia(ctx context.Context, s Versioned, path string, maxAttempts int) error {
	_, err := RunTransaction(ctx, s, path, maxAttempts, func(_ any, exists bool) (any, bool) {
		return nil, exists
	})
	return err
}
