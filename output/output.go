// Package output writes command results as JSON or as aligned tables.
package output

import (
	"fmt"
	"io"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.Config{
	EscapeHTML:             false,
	SortMapKeys:            true,
	ValidateJsonRawMessage: true,
}.Froze()

// Formats.
const (
	FormatTable = "table"
	FormatJSON  = "json"
)

// Tabular is implemented by results that know how to lay themselves out
// as a table.
type Tabular interface {
	Headers() []string
	Rows() [][]string
}

// Writer formats output as JSON lines or tables.
type Writer struct {
	Format string
	W      io.Writer
}

// New creates a Writer on stdout. Use "json" for machine-readable output.
func New(format string) *Writer {
	return &Writer{Format: format, W: os.Stdout}
}

// JSON writes v as a single JSON line.
func (w *Writer) JSON(v any) error {
	enc := json.NewEncoder(w.W)
	return enc.Encode(v)
}

// Table writes headers and rows as a table.
func (w *Writer) Table(headers []string, rows [][]string) {
	t := table.NewWriter()
	t.SetOutputMirror(w.W)
	t.SetStyle(table.StyleLight)

	hdr := make(table.Row, len(headers))
	for i, h := range headers {
		hdr[i] = h
	}
	t.AppendHeader(hdr)
	for _, r := range rows {
		row := make(table.Row, len(r))
		for i, c := range r {
			row[i] = c
		}
		t.AppendRow(row)
	}
	t.Render()
}

// Write renders v in the writer's format. Values that are not Tabular are
// written as JSON regardless.
func (w *Writer) Write(v any) error {
	if tv, ok := v.(Tabular); ok && w.Format != FormatJSON {
		w.Table(tv.Headers(), tv.Rows())
		return nil
	}
	return w.JSON(v)
}

// Error writes an error message to stderr.
func Error(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
}
