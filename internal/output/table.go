// Package output renders yank-check results for terminal and machine use.
package output

import (
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/yankcheck/yankcheck/pkg/crates"
)

// PrintTableResults prints the yanked packages and per-package errors as a
// human friendly table. A terminalWidth of zero or less means output is not
// going to a terminal, which disables colors and fancy borders.
func PrintTableResults(results []crates.Result, outputWriter io.Writer, terminalWidth int) {
	if terminalWidth <= 0 {
		text.DisableColors()
	}

	outputTable := newTable(outputWriter, terminalWidth)
	outputTable.AppendHeader(table.Row{"Package", "Version", "Status"})

	for _, res := range results {
		switch {
		case res.Err != nil && res.Package.Name == "":
			// Whole-batch failure has no package attached.
			outputTable.AppendRow(table.Row{"", "", res.Err.Error()})
		case res.Err != nil:
			outputTable.AppendRow(table.Row{res.Package.Name, res.Package.Version, res.Err.Error()})
		default:
			outputTable.AppendRow(table.Row{res.Package.Name, res.Package.Version, "yanked"})
		}
	}

	if outputTable.Length() != 0 {
		outputTable.Render()
	}
}

func newTable(outputWriter io.Writer, terminalWidth int) table.Writer {
	outputTable := table.NewWriter()
	outputTable.SetOutputMirror(outputWriter)

	// use fancy characters if we're outputting to a terminal
	if terminalWidth > 0 {
		outputTable.SetStyle(table.StyleRounded)
		outputTable.SetAllowedRowLength(terminalWidth)
	}

	outputTable.Style().Options.DoNotColorBordersAndSeparators = true

	return outputTable
}
