package output_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/yankcheck/yankcheck/internal/output"
	"github.com/yankcheck/yankcheck/pkg/crates"
)

func testResults() []crates.Result {
	return []crates.Result{
		{Package: crates.Package{Name: "foo", Version: "1.0.0"}},
		{
			Package: crates.Package{Name: "gone", Version: "2.0.0"},
			Err:     errors.New("not found in registry index: no such crate: gone"),
		},
	}
}

func TestPrintTableResults(t *testing.T) {
	var buf bytes.Buffer
	output.PrintTableResults(testResults(), &buf, 0)

	got := buf.String()
	for _, want := range []string{"foo", "1.0.0", "yanked", "no such crate: gone"} {
		if !strings.Contains(got, want) {
			t.Errorf("PrintTableResults() output missing %q:\n%s", want, got)
		}
	}
}

func TestPrintJSONResults(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	if err := output.PrintJSONResults(testResults(), &buf); err != nil {
		t.Fatalf("PrintJSONResults() error: %v", err)
	}

	var got []map[string]string
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("PrintJSONResults() wrote invalid JSON: %v", err)
	}

	want := []map[string]string{
		{"name": "foo", "version": "1.0.0", "status": "yanked"},
		{
			"name":    "gone",
			"version": "2.0.0",
			"status":  "error",
			"error":   "not found in registry index: no such crate: gone",
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("PrintJSONResults() (-want +got):\n%s", diff)
	}
}

func TestPrintJSONResults_Empty(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	if err := output.PrintJSONResults(nil, &buf); err != nil {
		t.Fatalf("PrintJSONResults() error: %v", err)
	}

	if strings.TrimSpace(buf.String()) != "[]" {
		t.Errorf("PrintJSONResults() = %q, want an empty array", buf.String())
	}
}
