package output

import (
	"encoding/json"
	"io"

	"github.com/yankcheck/yankcheck/pkg/crates"
)

type jsonResult struct {
	Name    string `json:"name,omitempty"`
	Version string `json:"version,omitempty"`
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
}

// PrintJSONResults writes the results as a JSON array, one element per
// yanked package or error.
func PrintJSONResults(results []crates.Result, outputWriter io.Writer) error {
	out := make([]jsonResult, 0, len(results))
	for _, res := range results {
		jr := jsonResult{
			Name:    res.Package.Name,
			Version: res.Package.Version,
			Status:  "yanked",
		}
		if res.Err != nil {
			jr.Status = "error"
			jr.Error = res.Err.Error()
		}

		out = append(out, jr)
	}

	encoder := json.NewEncoder(outputWriter)
	encoder.SetIndent("", "  ")

	return encoder.Encode(out)
}
