package index

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// acquireLock takes the advisory filesystem lock guarding a local index
// clone against other processes. A zero timeout makes a single attempt and
// fails immediately if the lock is held; a positive timeout retries with a
// growing backoff until the deadline.
//
// The lock is advisory and tied to the process: the operating system
// releases it on any exit, including interruption, so no explicit unlock
// is required.
func acquireLock(ctx context.Context, path string, timeout time.Duration) (*flock.Flock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}

	fl := flock.New(path)

	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("locking %s: %w", path, err)
	}
	if locked {
		return fl, nil
	}
	if timeout == 0 {
		return nil, fmt.Errorf("%w: %s is held by another process", ErrLockTimeout, path)
	}

	deadline := time.Now().Add(timeout)
	backoff := 50 * time.Millisecond

	for {
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: %s is still held after %s", ErrLockTimeout, path, timeout)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}

		locked, err := fl.TryLock()
		if err != nil {
			return nil, fmt.Errorf("locking %s: %w", path, err)
		}
		if locked {
			return fl, nil
		}

		if backoff < time.Second {
			backoff *= 2
		}
	}
}
