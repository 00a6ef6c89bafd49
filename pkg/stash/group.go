package stash

import (
	"context"
	"fmt"

	"github.com/dyluth/stash/pkg/store"
)

// Group operations act on every key sharing a prefix namespace - the thin
// scan-and-filter layer over the store that bulk admin tasks need. They
// take the full storage prefix (e.g. DefaultKeyPrefix, or
// DefaultKeyPrefix+"checkout-") and do not interpret stored values.

// GroupKeys lists every stored key under the prefix.
func GroupKeys(ctx context.Context, s store.Store, prefix string) ([]string, error) {
	keys, err := s.Keys(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list keys under %q: %w", prefix, err)
	}
	return keys, nil
}

// HasGroup reports whether any key exists under the prefix.
func HasGroup(ctx context.Context, s store.Store, prefix string) (bool, error) {
	keys, err := GroupKeys(ctx, s, prefix)
	if err != nil {
		return false, err
	}
	return len(keys) > 0, nil
}

// ClearGroup removes every key under the prefix and returns how many were
// removed. A failed removal stops the sweep and reports the partial count.
func ClearGroup(ctx context.Context, s store.Store, prefix string) (int, error) {
	keys, err := GroupKeys(ctx, s, prefix)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, key := range keys {
		if err := s.Remove(ctx, key); err != nil {
			return removed, fmt.Errorf("failed to remove key %q: %w", key, err)
		}
		removed++
	}
	return removed, nil
}

// GroupSize returns the total byte size of all stored values under the
// prefix.
func GroupSize(ctx context.Context, s store.Store, prefix string) (int64, error) {
	keys, err := GroupKeys(ctx, s, prefix)
	if err != nil {
		return 0, err
	}

	var total int64
	for _, key := range keys {
		v, err := s.Get(ctx, key)
		if store.IsNotFound(err) {
			continue // removed between scan and read; races are expected
		}
		if err != nil {
			return total, fmt.Errorf("failed to read key %q: %w", key, err)
		}
		total += int64(len(v))
	}
	return total, nil
}
