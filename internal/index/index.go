// Package index reads crate metadata from a crates.io-style registry index.
//
// Two index forms are supported: a full git clone of the index repository,
// and the sparse HTTP index served one crate file at a time. The form is
// discovered from the index location rather than chosen by the caller.
package index

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	// CratesIOSparse is the default location of the crates.io sparse index.
	CratesIOSparse = "sparse+https://index.crates.io/"

	// CratesIOGit is the location of the legacy crates.io git index.
	CratesIOGit = "https://github.com/rust-lang/crates.io-index"
)

var (
	// ErrLockTimeout is returned when the filesystem lock guarding a local
	// index clone could not be acquired within the configured wait.
	ErrLockTimeout = errors.New("timed out waiting for the registry index lock")

	// ErrUnsupportedRegistry is returned when an index location is neither a
	// sparse index URL nor a git repository URL. This is a configuration
	// error and retrying will not help.
	ErrUnsupportedRegistry = errors.New("unsupported registry index location")

	// ErrRegistry is returned when the index itself could not be reached or
	// gave an unusable response.
	ErrRegistry = errors.New("registry index request failed")
)

// Version is one published version of a crate as recorded in the index.
type Version struct {
	Num    string
	Yanked bool
}

// Crate is the full metadata the index holds for one crate. The index
// publishes all versions of a crate as a single unit, so a Crate is always
// complete when returned.
type Crate struct {
	Name     string
	Versions []Version
}

// Backend reads crate metadata from one concrete index form.
type Backend interface {
	// Krate returns the metadata for a single crate, or nil if the index
	// has no such crate.
	Krate(ctx context.Context, name string) (*Crate, error)
}

// KrateResult is the outcome of one crate lookup within a batch.
type KrateResult struct {
	Crate *Crate
	Err   error
}

// BatchBackend is implemented by backends that can resolve many crates
// concurrently. Items succeed or fail independently; the returned map has
// an entry for every requested name.
type BatchBackend interface {
	Backend

	KratesBatch(ctx context.Context, names []string, perItemTimeout time.Duration) (map[string]KrateResult, error)
}

// Options configures how the index is opened.
type Options struct {
	// Location of the index. Defaults to the crates.io sparse index, with
	// the YANKCHECK_INDEX environment variable taking precedence.
	Location string

	// Root is the directory holding index clones and sparse caches.
	// Defaults to a yankcheck directory under the user cache dir.
	Root string

	// LockTimeout bounds the wait for the filesystem lock on a git index
	// clone. Zero means fail immediately if the lock is held elsewhere.
	LockTimeout time.Duration

	// Client is used for sparse index requests. A default client with
	// HTTP/2 enabled is constructed when nil.
	Client *http.Client

	// Refresh allows network access: a git index is cloned or fetched, and
	// a sparse index may issue requests rather than serving only what is
	// already cached on disk.
	Refresh bool
}

func (o *Options) location() string {
	if o.Location != "" {
		return o.Location
	}
	if loc := os.Getenv("YANKCHECK_INDEX"); loc != "" {
		return loc
	}

	return CratesIOSparse
}

func (o *Options) root() (string, error) {
	if o.Root != "" {
		return o.Root, nil
	}

	dir, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine cache directory: %w", err)
	}

	return filepath.Join(dir, "yankcheck", "index"), nil
}

// Open discovers the index form from the configured location and opens the
// matching backend. Locations of the form "sparse+https://..." open the
// sparse index; http(s), git and ssh URLs open a git clone; anything else
// fails with ErrUnsupportedRegistry.
func Open(ctx context.Context, opts Options) (Backend, error) {
	loc := opts.location()
	root, err := opts.root()
	if err != nil {
		return nil, err
	}

	if sparse, ok := strings.CutPrefix(loc, "sparse+"); ok {
		u, err := url.Parse(sparse)
		if err != nil || (u.Scheme != "https" && u.Scheme != "http") {
			return nil, fmt.Errorf("%w: %q", ErrUnsupportedRegistry, loc)
		}

		return openSparse(ctx, u, filepath.Join(root, "sparse", locationSlug(loc)), opts)
	}

	if isGitLocation(loc) {
		return openGit(ctx, loc, filepath.Join(root, "git", locationSlug(loc)), opts)
	}

	return nil, fmt.Errorf("%w: %q", ErrUnsupportedRegistry, loc)
}

func isGitLocation(loc string) bool {
	for _, scheme := range []string{"https://", "http://", "git://", "ssh://", "file://"} {
		if strings.HasPrefix(loc, scheme) {
			return true
		}
	}

	// <user>@<host>:<path> scp-style remotes, and local paths for clones of
	// the index that already exist on disk.
	if strings.Contains(loc, "@") && strings.Contains(loc, ":") {
		return true
	}

	return filepath.IsAbs(loc)
}

// locationSlug turns an index location into a directory name that is stable
// across runs and safe on every filesystem.
func locationSlug(loc string) string {
	slug := strings.TrimRight(loc, "/")
	for _, c := range []string{"://", ":", "/", "\\", "@", "+"} {
		slug = strings.ReplaceAll(slug, c, "-")
	}

	return strings.Trim(slug, "-")
}
