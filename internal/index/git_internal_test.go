package index

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// initUpstream creates a git registry index with the given crate files,
// keyed by index path.
func initUpstream(t *testing.T, entries map[string]string) string {
	t.Helper()

	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	if err != nil {
		t.Fatalf("initialising fixture index: %v", err)
	}

	wt, err := repo.Worktree()
	if err != nil {
		t.Fatal(err)
	}

	for path, contents := range entries {
		full := filepath.Join(dir, filepath.FromSlash(path))
		if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, []byte(contents), 0644); err != nil {
			t.Fatal(err)
		}
		if _, err := wt.Add(path); err != nil {
			t.Fatal(err)
		}
	}

	_, err = wt.Commit("update index", &git.CommitOptions{
		Author: &object.Signature{Name: "index", Email: "index@example.com", When: time.Now()},
	})
	if err != nil {
		t.Fatalf("committing fixture index: %v", err)
	}

	return dir
}

func TestGitIndex_Krate(t *testing.T) {
	t.Parallel()

	upstream := initUpstream(t, map[string]string{
		"3/f/foo": `{"name":"foo","vers":"1.0.0","yanked":true}` + "\n",
	})

	backend, err := Open(t.Context(), Options{
		Location: upstream,
		Root:     t.TempDir(),
		Refresh:  true,
	})
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}

	crate, err := backend.Krate(t.Context(), "foo")
	if err != nil {
		t.Fatalf("Krate() error: %v", err)
	}
	if crate == nil || len(crate.Versions) != 1 || !crate.Versions[0].Yanked {
		t.Errorf("Krate() = %+v, want foo with a yanked 1.0.0", crate)
	}

	crate, err = backend.Krate(t.Context(), "bar")
	if err != nil || crate != nil {
		t.Errorf("Krate() = %v, %v, want nil, nil for an unknown crate", crate, err)
	}
}

func TestGitIndex_OpenWithoutCloneFails(t *testing.T) {
	t.Parallel()

	upstream := initUpstream(t, map[string]string{
		"3/f/foo": `{"name":"foo","vers":"1.0.0","yanked":false}` + "\n",
	})

	// A local-only open has nothing to read before the first fetch.
	_, err := Open(t.Context(), Options{
		Location: upstream,
		Root:     t.TempDir(),
		Refresh:  false,
	})
	if !errors.Is(err, ErrRegistry) {
		t.Errorf("Open() error = %v, want ErrRegistry for a missing clone", err)
	}
}

func TestGitIndex_ReopensExistingClone(t *testing.T) {
	t.Parallel()

	upstream := initUpstream(t, map[string]string{
		"3/f/foo": `{"name":"foo","vers":"1.0.0","yanked":true}` + "\n",
	})

	root := t.TempDir()

	first, err := Open(t.Context(), Options{Location: upstream, Root: root, Refresh: true})
	if err != nil {
		t.Fatalf("initial Open() error: %v", err)
	}
	// Drop the first backend's lifetime lock so the reopen can take it.
	if err := first.(*gitIndex).lock.Unlock(); err != nil {
		t.Fatal(err)
	}

	backend, err := Open(t.Context(), Options{Location: upstream, Root: root, Refresh: false})
	if err != nil {
		t.Fatalf("reopening existing clone: %v", err)
	}

	crate, err := backend.Krate(t.Context(), "foo")
	if err != nil || crate == nil {
		t.Errorf("Krate() = %v, %v, want the clone readable without network", crate, err)
	}
}

func TestGitIndex_LockHeldElsewhere(t *testing.T) {
	t.Parallel()

	upstream := initUpstream(t, map[string]string{
		"3/f/foo": `{"name":"foo","vers":"1.0.0","yanked":false}` + "\n",
	})

	root := t.TempDir()
	dir := filepath.Join(root, "git", locationSlug(upstream))

	held, err := acquireLock(t.Context(), dir+".lock", 0)
	if err != nil {
		t.Fatal(err)
	}
	defer held.Unlock()

	_, err = Open(t.Context(), Options{Location: upstream, Root: root, Refresh: true})
	if !errors.Is(err, ErrLockTimeout) {
		t.Errorf("Open() error = %v, want ErrLockTimeout while the lock is held", err)
	}
}

func TestOpen_UnsupportedLocation(t *testing.T) {
	t.Parallel()

	for _, loc := range []string{"ftp://registry.example.com", "sparse+ftp://nope", "not a location"} {
		_, err := Open(t.Context(), Options{Location: loc, Root: t.TempDir()})
		if !errors.Is(err, ErrUnsupportedRegistry) {
			t.Errorf("Open(%q) error = %v, want ErrUnsupportedRegistry", loc, err)
		}
	}
}
