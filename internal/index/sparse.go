package index

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/sync/errgroup"
)

// maxConcurrentRequests bounds the in-flight requests of one batch call.
const maxConcurrentRequests = 64

// sparseIndex reads crate metadata from the local on-disk cache of a sparse
// HTTP index. It never touches the network.
type sparseIndex struct {
	base     *url.URL
	cacheDir string
}

// remoteSparseIndex extends sparseIndex with networked reads, writing every
// response through to the on-disk cache.
type remoteSparseIndex struct {
	sparseIndex

	client *http.Client
}

func openSparse(_ context.Context, base *url.URL, cacheDir string, opts Options) (Backend, error) {
	si := sparseIndex{base: base, cacheDir: cacheDir}

	if !opts.Refresh {
		return &si, nil
	}

	client := opts.Client
	if client == nil {
		client = defaultHTTPClient()
	}

	return &remoteSparseIndex{sparseIndex: si, client: client}, nil
}

func defaultHTTPClient() *http.Client {
	// The batch path issues many small requests to one host; HTTP/2
	// multiplexing keeps that to a single connection.
	return &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			Proxy:             http.ProxyFromEnvironment,
			ForceAttemptHTTP2: true,
		},
	}
}

func (si *sparseIndex) Krate(_ context.Context, name string) (*Crate, error) {
	body, err := os.ReadFile(filepath.Join(si.cacheDir, filepath.FromSlash(cratePath(name))))
	if os.IsNotExist(err) {
		// Not cached locally is indistinguishable from not published, and
		// this mode promises no network access.
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading cached index entry for %q: %w", name, err)
	}

	return parseCrate(name, body)
}

func (rsi *remoteSparseIndex) Krate(ctx context.Context, name string) (*Crate, error) {
	crate, err := rsi.sparseIndex.Krate(ctx, name)
	if err == nil && crate != nil {
		return crate, nil
	}

	return rsi.fetch(ctx, name, rsi.client)
}

// KratesBatch requests every named crate concurrently. Transient failures
// are retried until the per-item timeout elapses; each item's outcome is
// recorded independently so one bad crate never hides the rest. The whole
// batch only fails when no request can be issued at all.
func (rsi *remoteSparseIndex) KratesBatch(ctx context.Context, names []string, perItemTimeout time.Duration) (map[string]KrateResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRegistry, err)
	}

	// The retrying client only lives for this one call; retryablehttp
	// backs off on 429s, 5xx responses and transport errors, and gives up
	// once the per-item context deadline passes.
	rc := retryablehttp.NewClient()
	rc.HTTPClient = rsi.client
	rc.RetryMax = 16
	rc.Logger = nil
	client := rc.StandardClient()

	var mu sync.Mutex
	results := make(map[string]KrateResult, len(names))

	var g errgroup.Group
	g.SetLimit(maxConcurrentRequests)

	for _, name := range names {
		g.Go(func() error {
			ictx, cancel := context.WithTimeout(ctx, perItemTimeout)
			defer cancel()

			crate, err := rsi.fetch(ictx, name, client)

			mu.Lock()
			results[name] = KrateResult{Crate: crate, Err: err}
			mu.Unlock()

			return nil
		})
	}

	_ = g.Wait()

	return results, nil
}

func (rsi *remoteSparseIndex) fetch(ctx context.Context, name string, client *http.Client) (*Crate, error) {
	u := rsi.base.JoinPath(cratePath(name))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRegistry, err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: fetching index entry for %q: %w", ErrRegistry, name, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound, http.StatusGone:
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: fetching index entry for %q: %s", ErrRegistry, name, resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading index entry for %q: %w", ErrRegistry, name, err)
	}

	crate, err := parseCrate(name, body)
	if err != nil {
		return nil, err
	}

	rsi.writeCache(name, body)

	return crate, nil
}

// writeCache stores a fetched entry for later cache-only opens. Failures
// are swallowed: a cold cache on the next run costs a refetch, nothing more.
func (rsi *remoteSparseIndex) writeCache(name string, body []byte) {
	path := filepath.Join(rsi.cacheDir, filepath.FromSlash(cratePath(name)))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return
	}

	_ = os.WriteFile(path, body, 0644)
}
