package index

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

const fooEntry = `{"name":"foo","vers":"1.0.0","yanked":true}
{"name":"foo","vers":"1.0.1","yanked":false}
`

func sparseTestServer(t *testing.T, handler http.HandlerFunc) *url.URL {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	u, err := url.Parse(server.URL)
	if err != nil {
		t.Fatalf("parsing test server URL: %v", err)
	}

	return u
}

func TestSparseIndex_CachedOnly(t *testing.T) {
	t.Parallel()

	cacheDir := t.TempDir()
	path := filepath.Join(cacheDir, "3", "f", "foo")
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(fooEntry), 0644); err != nil {
		t.Fatal(err)
	}

	si := &sparseIndex{cacheDir: cacheDir}

	crate, err := si.Krate(t.Context(), "foo")
	if err != nil {
		t.Fatalf("Krate() error: %v", err)
	}
	if crate == nil || len(crate.Versions) != 2 || !crate.Versions[0].Yanked {
		t.Errorf("Krate() = %+v, want foo with a yanked 1.0.0", crate)
	}

	// A crate that is not cached is reported as unknown, never fetched.
	crate, err = si.Krate(t.Context(), "bar")
	if err != nil || crate != nil {
		t.Errorf("Krate() = %v, %v, want nil, nil for an uncached crate", crate, err)
	}
}

func TestRemoteSparseIndex_FetchWritesCache(t *testing.T) {
	t.Parallel()

	base := sparseTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/3/f/foo" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, fooEntry)
	})

	cacheDir := t.TempDir()
	rsi := &remoteSparseIndex{
		sparseIndex: sparseIndex{base: base, cacheDir: cacheDir},
		client:      http.DefaultClient,
	}

	crate, err := rsi.Krate(t.Context(), "foo")
	if err != nil {
		t.Fatalf("Krate() error: %v", err)
	}
	if crate == nil || len(crate.Versions) != 2 {
		t.Fatalf("Krate() = %+v, want foo with 2 versions", crate)
	}

	// The response should now be available to a cache-only open.
	si := &sparseIndex{cacheDir: cacheDir}
	crate, err = si.Krate(t.Context(), "foo")
	if err != nil || crate == nil {
		t.Errorf("cache-only Krate() = %v, %v, want the entry written by the fetch", crate, err)
	}
}

func TestRemoteSparseIndex_NotFound(t *testing.T) {
	t.Parallel()

	base := sparseTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	rsi := &remoteSparseIndex{
		sparseIndex: sparseIndex{base: base, cacheDir: t.TempDir()},
		client:      http.DefaultClient,
	}

	crate, err := rsi.Krate(t.Context(), "nope")
	if err != nil || crate != nil {
		t.Errorf("Krate() = %v, %v, want nil, nil for a 404", crate, err)
	}
}

func TestKratesBatch_RetriesTransientFailures(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	base := sparseTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			http.Error(w, "tea break", http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, fooEntry)
	})

	rsi := &remoteSparseIndex{
		sparseIndex: sparseIndex{base: base, cacheDir: t.TempDir()},
		client:      http.DefaultClient,
	}

	results, err := rsi.KratesBatch(t.Context(), []string{"foo"}, 30*time.Second)
	if err != nil {
		t.Fatalf("KratesBatch() error: %v", err)
	}

	res := results["foo"]
	if res.Err != nil {
		t.Fatalf("KratesBatch() item error: %v", res.Err)
	}
	if res.Crate == nil || len(res.Crate.Versions) != 2 {
		t.Errorf("KratesBatch() = %+v, want foo resolved after a retry", res.Crate)
	}
	if hits.Load() < 2 {
		t.Errorf("server saw %d requests, want the failed request retried", hits.Load())
	}
}

func TestKratesBatch_ItemsFailIndependently(t *testing.T) {
	t.Parallel()

	base := sparseTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/3/g/gud":
			fmt.Fprint(w, `{"name":"gud","vers":"1.0.0","yanked":false}`+"\n")
		case "/3/b/bad":
			http.Error(w, "broken", http.StatusInternalServerError)
		default:
			http.NotFound(w, r)
		}
	})

	rsi := &remoteSparseIndex{
		sparseIndex: sparseIndex{base: base, cacheDir: t.TempDir()},
		client:      http.DefaultClient,
	}

	results, err := rsi.KratesBatch(t.Context(), []string{"bad", "gud", "gone"}, 3*time.Second)
	if err != nil {
		t.Fatalf("KratesBatch() error: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("KratesBatch() returned %d results, want one per name", len(results))
	}

	if results["bad"].Err == nil {
		t.Errorf("KratesBatch() bad = %+v, want an error once retries are exhausted", results["bad"])
	}
	if res := results["gud"]; res.Err != nil || res.Crate == nil {
		t.Errorf("KratesBatch() gud = %+v, want it resolved despite bad failing", res)
	}
	if res := results["gone"]; res.Err != nil || res.Crate != nil {
		t.Errorf("KratesBatch() gone = %+v, want nil, nil for an unpublished crate", res)
	}
}

func TestKratesBatch_CancelledContext(t *testing.T) {
	t.Parallel()

	rsi := &remoteSparseIndex{
		sparseIndex: sparseIndex{base: &url.URL{Scheme: "https", Host: "localhost"}, cacheDir: t.TempDir()},
		client:      http.DefaultClient,
	}

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	if _, err := rsi.KratesBatch(ctx, []string{"foo"}, time.Second); err == nil {
		t.Error("KratesBatch() with a cancelled context should fail wholesale")
	}
}
