// Package diskcache implements the content-addressed, TTL-bounded on-disk
// cache every registry lookup is read through.
//
// Keys are hashed into a two-level directory fan-out (grounded on the
// sharding scheme common to content-addressed stores in the pack) so a
// single directory never accumulates enough entries to slow down lookups.
// Writes land in a temp file in the same shard directory and are renamed
// into place, so a concurrent reader never observes a partially written
// entry. A small in-memory hot tier avoids re-reading and re-unmarshaling
// the same few hot keys (popular packages referenced from many scans) on
// every call.
package diskcache

import (
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/quay/slopguard/internal/errs"
	"github.com/quay/slopguard/internal/metrics"
)

// Tiered TTLs for cached registry lookups. The adapters cache version lists,
// dependents counts, aggregator and source-host facts and popular-package
// lists under LongTTL; ShortTTL is the tier for faster-changing entries.
const (
	ShortTTL = 24 * time.Hour
	LongTTL  = 7 * 24 * time.Hour
)

const defaultHotCapacity = 1000

// entry is the on-disk envelope: a raw JSON payload plus its write time and
// TTL, so a reader can decide staleness without a second stat call. The
// field names and the <digest>.cache path layout are a durable format
// shared across processes; do not change them.
type entry struct {
	Val json.RawMessage `json:"val"`
	TS  time.Time       `json:"ts"`
	TTL time.Duration   `json:"ttl"`
}

func (e entry) expired(now time.Time) bool {
	return now.Sub(e.TS) >= e.TTL
}

// Cache is a content-addressed on-disk key/value store with per-key TTL.
//
// The zero value is not usable; construct with [New]. A Cache is safe for
// concurrent use, including from multiple scan-orchestrator workers
// sharing one instance (the intended, process-wide singleton usage, per
// the design note against re-creating transport/cache state per request).
type Cache struct {
	root string

	mu  sync.Mutex
	hot map[string]*list.Element
	lru *list.List
	cap int

	group singleflight.Group
}

type hotEntry struct {
	key   string
	value entry
}

// New constructs a Cache rooted at dir, creating it if necessary.
func New(dir string) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, &errs.Error{Op: "diskcache.New", Kind: errs.ErrInternal, Message: dir, Inner: err}
	}
	return &Cache{
		root: dir,
		hot:  make(map[string]*list.Element),
		lru:  list.New(),
		cap:  defaultHotCapacity,
	}, nil
}

func (c *Cache) pathFor(key string) string {
	sum := sha256.Sum256([]byte(key))
	hexSum := hex.EncodeToString(sum[:])
	return filepath.Join(c.root, hexSum[0:2], hexSum[2:4], hexSum+".cache")
}

// Get decodes the cached value for key into out, reporting false if the key
// is absent, expired, or corrupt (corrupt entries are removed on a
// best-effort basis so they don't repeatedly fail).
func (c *Cache) Get(ctx context.Context, key string, out any) (bool, error) {
	e, ok, err := c.load(ctx, key)
	if err != nil || !ok {
		metrics.CacheResult.WithLabelValues("miss").Inc()
		return false, err
	}
	if err := json.Unmarshal(e.Val, out); err != nil {
		slog.WarnContext(ctx, "corrupt cache entry, discarding", "key", key, "error", err)
		c.remove(key)
		metrics.CacheResult.WithLabelValues("miss").Inc()
		return false, nil
	}
	metrics.CacheResult.WithLabelValues("hit").Inc()
	return true, nil
}

// Set writes value under key with the given TTL.
func (c *Cache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return &errs.Error{Op: "diskcache.Set", Kind: errs.ErrInternal, Message: key, Inner: err}
	}
	e := entry{Val: raw, TS: time.Now(), TTL: ttl}
	if err := c.store(key, e); err != nil {
		return err
	}
	c.promote(key, e)
	return nil
}

// GetString is a convenience wrapper for callers that only ever cache a
// single string per key (e.g. the ownership-change detector's last-seen
// author), avoiding a JSON envelope around a bare string at call sites.
func (c *Cache) GetString(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	var s string
	ok, err := c.Get(ctx, key, &s)
	return s, ok, err
}

// SetString is the write counterpart of [Cache.GetString].
func (c *Cache) SetString(ctx context.Context, key string, value string, ttl time.Duration) error {
	return c.Set(ctx, key, value, ttl)
}

// Fetch returns the cached value for key if present and fresh, otherwise
// calls fill, caches its result with ttl, and returns that. Concurrent
// calls for the same key within one process are collapsed into a single
// fill invocation via singleflight, so a burst of workers asking about the
// same popular package doesn't fan out into redundant upstream requests.
// Across processes, the actual fill+write is additionally guarded by an
// exclusive-create lock file sibling to the cache entry, so two separate
// slopguard invocations racing on the same cold key don't both hit the
// upstream registry.
func (c *Cache) Fetch(ctx context.Context, key string, ttl time.Duration, out any, fill func(ctx context.Context) (any, error)) (bool, error) {
	if ok, err := c.Get(ctx, key, out); err != nil {
		return false, err
	} else if ok {
		return true, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		release, err := c.lock(ctx, key)
		if err != nil {
			return nil, err
		}
		defer release()

		// Another process may have filled and written this key while we
		// waited for the lock; re-check before calling fill again.
		if ok, err := c.Get(ctx, key, out); err != nil {
			return nil, err
		} else if ok {
			raw, err := json.Marshal(out)
			if err != nil {
				return nil, err
			}
			return raw, nil
		}

		val, err := fill(ctx)
		if err != nil {
			return nil, err
		}
		if err := c.Set(ctx, key, val, ttl); err != nil {
			slog.WarnContext(ctx, "cache write failed", "key", key, "error", err)
		}
		raw, err := json.Marshal(val)
		if err != nil {
			return nil, err
		}
		return raw, nil
	})
	if err != nil {
		return false, err
	}
	raw, ok := v.([]byte)
	if !ok {
		return false, &errs.Error{Op: "diskcache.Fetch", Kind: errs.ErrInternal, Message: key, Inner: errors.New("unexpected fill result type")}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, &errs.Error{Op: "diskcache.Fetch", Kind: errs.ErrBadPayload, Message: key, Inner: err}
	}
	return false, nil
}

// lockPollInterval is how often a waiter re-attempts an exclusive-create
// lock file while another process (or goroutine) holds it.
const lockPollInterval = 50 * time.Millisecond

// lockStaleAfter bounds how long a lock file is honored after its mtime;
// past this a holder is assumed to have died without releasing it, and the
// next waiter reclaims the lock rather than blocking forever.
const lockStaleAfter = 30 * time.Second

// lock acquires the cross-process lock file guarding key's fill path,
// blocking (subject to ctx) until it can create the lock exclusively. The
// returned release func must be called to drop the lock.
func (c *Cache) lock(ctx context.Context, key string) (release func(), err error) {
	path := c.pathFor(key) + ".lock"
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, &errs.Error{Op: "diskcache.lock", Kind: errs.ErrInternal, Message: key, Inner: fmt.Errorf("creating shard dir: %w", err)}
	}

	for {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err == nil {
			f.Close()
			return func() { os.Remove(path) }, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, &errs.Error{Op: "diskcache.lock", Kind: errs.ErrInternal, Message: key, Inner: fmt.Errorf("creating lock file: %w", err)}
		}

		if info, statErr := os.Stat(path); statErr == nil && time.Since(info.ModTime()) > lockStaleAfter {
			os.Remove(path)
			continue
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockPollInterval):
		}
	}
}

func (c *Cache) load(ctx context.Context, key string) (entry, bool, error) {
	if e, ok := c.fromHot(key); ok {
		if e.expired(time.Now()) {
			c.remove(key)
			return entry{}, false, nil
		}
		return e, true, nil
	}

	f, err := os.Open(c.pathFor(key))
	switch {
	case err == nil:
	case errors.Is(err, os.ErrNotExist):
		return entry{}, false, nil
	default:
		return entry{}, false, &errs.Error{Op: "diskcache.load", Kind: errs.ErrInternal, Message: key, Inner: err}
	}
	defer f.Close()

	var e entry
	if err := json.NewDecoder(io.LimitReader(f, 8<<20)).Decode(&e); err != nil {
		slog.WarnContext(ctx, "corrupt cache file, discarding", "key", key, "error", err)
		c.remove(key)
		return entry{}, false, nil
	}
	if e.expired(time.Now()) {
		c.remove(key)
		return entry{}, false, nil
	}
	c.promote(key, e)
	return e, true, nil
}

// store performs the temp-file-then-rename write, using O_CREATE|O_EXCL on
// the temp name so two writers racing on the same key never corrupt each
// other's output (one simply retries under a different temp name via
// os.CreateTemp).
func (c *Cache) store(key string, e entry) error {
	path := c.pathFor(key)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return &errs.Error{Op: "diskcache.store", Kind: errs.ErrInternal, Message: key, Inner: fmt.Errorf("creating shard dir: %w", err)}
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return &errs.Error{Op: "diskcache.store", Kind: errs.ErrInternal, Message: key, Inner: fmt.Errorf("creating temp file: %w", err)}
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once renamed

	enc := json.NewEncoder(tmp)
	if err := enc.Encode(e); err != nil {
		tmp.Close()
		return &errs.Error{Op: "diskcache.store", Kind: errs.ErrInternal, Message: key, Inner: fmt.Errorf("encoding entry: %w", err)}
	}
	if err := tmp.Close(); err != nil {
		return &errs.Error{Op: "diskcache.store", Kind: errs.ErrInternal, Message: key, Inner: fmt.Errorf("closing temp file: %w", err)}
	}
	if err := os.Rename(tmpName, path); err != nil {
		return &errs.Error{Op: "diskcache.store", Kind: errs.ErrInternal, Message: key, Inner: fmt.Errorf("renaming into place: %w", err)}
	}
	return nil
}

func (c *Cache) remove(key string) {
	c.mu.Lock()
	if el, ok := c.hot[key]; ok {
		c.lru.Remove(el)
		delete(c.hot, key)
	}
	c.mu.Unlock()
	os.Remove(c.pathFor(key))
}

func (c *Cache) fromHot(key string) (entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.hot[key]
	if !ok {
		return entry{}, false
	}
	c.lru.MoveToFront(el)
	return el.Value.(*hotEntry).value, true
}

func (c *Cache) promote(key string, e entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.hot[key]; ok {
		el.Value.(*hotEntry).value = e
		c.lru.MoveToFront(el)
		return
	}
	el := c.lru.PushFront(&hotEntry{key: key, value: e})
	c.hot[key] = el
	for c.lru.Len() > c.cap {
		oldest := c.lru.Back()
		if oldest == nil {
			break
		}
		c.lru.Remove(oldest)
		delete(c.hot, oldest.Value.(*hotEntry).key)
	}
}
