package index

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/gofrs/flock"
)

// gitIndex reads crate metadata out of a local clone of a git registry
// index, cloning or updating it over the network when opened with Refresh.
type gitIndex struct {
	repo *git.Repository

	// Held for the lifetime of the backend to keep other processes from
	// mutating the clone underneath us; released by the OS on exit.
	lock *flock.Flock
}

func openGit(ctx context.Context, location, dir string, opts Options) (*gitIndex, error) {
	lock, err := acquireLock(ctx, dir+".lock", opts.LockTimeout)
	if err != nil {
		return nil, err
	}

	// The lock is held for the backend's lifetime on success; if
	// construction fails there is no backend to scope it to.
	opened := false
	defer func() {
		if !opened {
			_ = lock.Unlock()
		}
	}()

	repo, err := git.PlainOpen(dir)
	switch {
	case errors.Is(err, git.ErrRepositoryNotExists):
		if !opts.Refresh {
			return nil, fmt.Errorf("%w: no local clone of %s (run a network-enabled fetch first)", ErrRegistry, location)
		}

		repo, err = git.PlainCloneContext(ctx, dir, false, &git.CloneOptions{
			URL:          location,
			SingleBranch: true,
			Tags:         git.NoTags,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: cloning %s: %w", ErrRegistry, location, err)
		}

		opened = true

		return &gitIndex{repo: repo, lock: lock}, nil
	case err != nil:
		return nil, fmt.Errorf("opening index clone %s: %w", dir, err)
	}

	gi := &gitIndex{repo: repo, lock: lock}
	if opts.Refresh {
		if err := gi.fetchLatest(ctx); err != nil {
			return nil, err
		}
	}

	opened = true

	return gi, nil
}

// fetchLatest updates the clone from its origin remote.
func (gi *gitIndex) fetchLatest(ctx context.Context) error {
	wt, err := gi.repo.Worktree()
	if err != nil {
		return fmt.Errorf("reading index worktree: %w", err)
	}

	err = wt.PullContext(ctx, &git.PullOptions{
		RemoteName:   "origin",
		SingleBranch: true,
		Force:        true,
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return fmt.Errorf("%w: updating index clone: %w", ErrRegistry, err)
	}

	return nil
}

func (gi *gitIndex) Krate(_ context.Context, name string) (*Crate, error) {
	head, err := gi.repo.Head()
	if err != nil {
		return nil, fmt.Errorf("resolving index HEAD: %w", err)
	}

	commit, err := gi.repo.CommitObject(head.Hash())
	if err != nil {
		return nil, fmt.Errorf("reading index commit: %w", err)
	}

	tree, err := commit.Tree()
	if err != nil {
		return nil, fmt.Errorf("reading index tree: %w", err)
	}

	file, err := tree.File(cratePath(name))
	if errors.Is(err, object.ErrFileNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading index entry for %q: %w", name, err)
	}

	contents, err := file.Contents()
	if err != nil {
		return nil, fmt.Errorf("reading index entry for %q: %w", name, err)
	}

	return parseCrate(name, []byte(contents))
}
