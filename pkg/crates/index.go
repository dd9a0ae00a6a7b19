// Package crates reports which packages from a Cargo.lock have been yanked
// from their registry.
//
// Index lookups are slow relative to how many packages a lockfile holds, so
// a CachedIndex looks each crate up at most once and keeps the result in
// memory for the life of the process. Lookups for many packages should go
// through FindYanked in one call: against a sparse remote index it resolves
// every crate concurrently, orders of magnitude faster than asking one at a
// time.
package crates

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/yankcheck/yankcheck/internal/index"
)

// ErrNotFound marks a crate or version that the registry index does not
// know. It is a semantic fact about the registry, never retried.
var ErrNotFound = errors.New("not found in registry index")

// Sentinels shared with the backend, re-exported so callers only deal with
// this package.
var (
	ErrLockTimeout         = index.ErrLockTimeout
	ErrUnsupportedRegistry = index.ErrUnsupportedRegistry
	ErrRegistry            = index.ErrRegistry
)

// perItemTimeout bounds one crate's lookup within a batch, including any
// retries of transient failures.
const perItemTimeout = 10 * time.Second

// Options configures how the registry index is opened.
type Options struct {
	// Location overrides the index to query. Defaults to the crates.io
	// sparse index; a git URL selects the clone-based index instead.
	Location string

	// CacheDir overrides where index clones and sparse caches live.
	CacheDir string

	// LockTimeout bounds the wait for the filesystem lock on a local index
	// clone. Zero fails immediately when the lock is held by another
	// process.
	LockTimeout time.Duration

	// Client is used for sparse index requests, letting callers tune
	// timeouts and transport negotiation. Ignored for git indexes.
	Client *http.Client
}

// cacheEntry is the remembered outcome of one crate lookup: a version to
// yanked map when the crate exists, found=false when the registry has no
// such crate, or the error the lookup failed with. Stored errors are not
// retried by the cache; retry happens inside the batch fetch before the
// entry is written.
type cacheEntry struct {
	versions map[string]bool
	found    bool
	err      error
}

// CachedIndex answers yank queries from an in-memory cache over a registry
// index backend.
//
// A CachedIndex is owned by whoever created it and is not safe for
// concurrent use without external synchronization. The cache only grows;
// entries live until the process exits.
type CachedIndex struct {
	backend index.Backend
	cache   map[string]cacheEntry
}

// Fetch opens the registry index with network access: a git index is cloned
// or updated immediately, and a sparse index downloads entries on demand.
//
// Opening a git index waits up to opts.LockTimeout for the filesystem lock
// on the clone, failing with ErrLockTimeout once that elapses. A zero
// timeout does not wait at all.
func Fetch(ctx context.Context, opts Options) (*CachedIndex, error) {
	return open(ctx, opts, true)
}

// Open opens the registry index without any network access: a git index
// reads its existing clone, and a sparse index serves only entries already
// cached on disk. Locking behaves as in Fetch.
func Open(ctx context.Context, opts Options) (*CachedIndex, error) {
	return open(ctx, opts, false)
}

func open(ctx context.Context, opts Options, refresh bool) (*CachedIndex, error) {
	backend, err := index.Open(ctx, index.Options{
		Location:    opts.Location,
		Root:        opts.CacheDir,
		LockTimeout: opts.LockTimeout,
		Client:      opts.Client,
		Refresh:     refresh,
	})
	if err != nil {
		return nil, err
	}

	return newCachedIndex(backend), nil
}

func newCachedIndex(backend index.Backend) *CachedIndex {
	return &CachedIndex{
		backend: backend,
		cache:   make(map[string]cacheEntry),
	}
}

// Result is one finding from FindYanked: either a yanked package, or the
// error that kept a package from being resolved.
type Result struct {
	Package Package
	Err     error
}

// FindYanked reports which of the given packages have been yanked.
//
// The input is deduplicated by exact name and version before resolution,
// and results come back in that deduplicated order. Packages that resolve
// as not yanked produce no result at all; every other outcome produces
// exactly one: a Result with a nil Err for a yanked package, or one
// carrying an ErrNotFound or ErrRegistry based error for a package that
// could not be resolved. One package's failure never suppresses another's
// result.
//
// If the index cannot be populated at all, a single synthetic ErrRegistry
// result is emitted first and resolution continues against whatever is
// already cached.
func (c *CachedIndex) FindYanked(ctx context.Context, pkgs []Package) []Result {
	var results []Result

	deduped := dedup(pkgs)

	if err := c.populate(ctx, distinctNames(deduped)); err != nil {
		results = append(results, Result{
			Err: fmt.Errorf("%w: failed to download registry index: %w (yank data may be missing or stale)", ErrRegistry, err),
		})
	}

	for _, pkg := range deduped {
		yanked, err := c.isYanked(ctx, pkg)
		switch {
		case err != nil:
			results = append(results, Result{Package: pkg, Err: err})
		case yanked:
			results = append(results, Result{Package: pkg})
		}
	}

	return results
}

// populate fills the cache for every name that is not already present.
// Names that resolved earlier are never refetched, so a stored error stays
// until the process exits.
func (c *CachedIndex) populate(ctx context.Context, names []string) error {
	missing := make([]string, 0, len(names))
	for _, name := range names {
		if _, ok := c.cache[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	batch, ok := c.backend.(index.BatchBackend)
	if !ok {
		// Clone-based and cache-only indexes resolve locally; one query at
		// a time is cheap and each failure is recorded on its own.
		for _, name := range missing {
			crate, err := c.backend.Krate(ctx, name)
			c.insert(name, crate, err)
		}

		return nil
	}

	results, err := batch.KratesBatch(ctx, missing, perItemTimeout)
	if err != nil {
		return err
	}

	for name, res := range results {
		c.insert(name, res.Crate, res.Err)
	}

	return nil
}

// insert records one crate lookup outcome, replacing any prior entry. The
// crate's versions collapse to a version to yanked map; a nil crate means
// the registry has no such crate.
func (c *CachedIndex) insert(name string, crate *index.Crate, err error) {
	entry := cacheEntry{err: err}

	if err == nil && crate != nil {
		entry.found = true
		entry.versions = make(map[string]bool, len(crate.Versions))
		for _, v := range crate.Versions {
			entry.versions[v.Num] = v.Yanked
		}
	}

	c.cache[name] = entry
}

// isYanked resolves one package against the cache, falling back to a single
// synchronous lookup if population somehow missed its name.
func (c *CachedIndex) isYanked(ctx context.Context, pkg Package) (bool, error) {
	entry, ok := c.cache[pkg.Name]
	if !ok {
		crate, err := c.backend.Krate(ctx, pkg.Name)
		c.insert(pkg.Name, crate, err)
		entry = c.cache[pkg.Name]
	}

	switch {
	case entry.err != nil:
		return false, fmt.Errorf("%w: failed to retrieve %s from registry index: %w", ErrRegistry, pkg.Name, entry.err)
	case !entry.found:
		return false, fmt.Errorf("%w: no such crate: %s", ErrNotFound, pkg.Name)
	}

	yanked, ok := entry.versions[pkg.Version]
	if !ok {
		return false, fmt.Errorf("%w: no such version: %s", ErrNotFound, pkg)
	}

	return yanked, nil
}
