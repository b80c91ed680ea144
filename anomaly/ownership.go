package anomaly

import (
	"context"
	"fmt"
	"time"
)

// OwnershipTTL is how long the last-seen author identity is remembered
// before it's considered stale and simply overwritten rather than compared
// against.
const OwnershipTTL = 30 * 24 * time.Hour

// OwnershipStore is the keyed string store the ownership-change detector
// reads and writes. It is satisfied by [github.com/quay/slopguard/internal/diskcache.Cache]'s
// string-keyed convenience methods; it's named here, rather than depending
// on that concrete type, to keep the coupling this detector has on a cache
// explicit rather than hidden behind the adapter boundary (per the design
// note that this is the one detector with side effects).
type OwnershipStore interface {
	GetString(ctx context.Context, key string, ttl time.Duration) (string, bool, error)
	SetString(ctx context.Context, key string, value string, ttl time.Duration) error
}

// OwnershipChange compares the current author against the last author this
// store recorded for (ecosystem, name), flags a finding when they differ,
// and always writes the current author back.
//
// Severity scales with downloads: 100M+ is treated the same as 10M+ (HIGH)
// since [Severity] has no fourth tier above HIGH. The scan orchestrator's
// flat per-severity penalty table is the one actually applied to the
// score, so a would-be "CRITICAL" tier collapses to HIGH rather than
// carrying its own penalty.
func OwnershipChange(ctx context.Context, store OwnershipStore, ecosystem, name, author string, downloads int64) (*Anomaly, error) {
	key := fmt.Sprintf("owner:%s:%s", ecosystem, name)
	prev, ok, err := store.GetString(ctx, key, OwnershipTTL)
	if err != nil {
		return nil, err
	}
	if err := store.SetString(ctx, key, author, OwnershipTTL); err != nil {
		return nil, err
	}
	if !ok || prev == author || author == "" {
		return nil, nil
	}

	sev := Medium
	switch {
	case downloads >= 10_000_000:
		sev = High
	}
	return &Anomaly{
		Type:     OwnershipChangeType,
		Severity: sev,
		Description: fmt.Sprintf(
			"owner changed from %q to %q for a package with %d downloads", prev, author, downloads),
	}, nil
}
