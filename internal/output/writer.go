// Package output renders run reports and source listings in the formats
// the CLI accepts.
package output

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"
)

// Format represents output format types.
type Format string

const (
	FormatJSON  Format = "json"
	FormatJSONL Format = "jsonl"
	FormatYAML  Format = "yaml"
	FormatTable Format = "table"
)

// Formats lists every supported format, in flag-help order.
var Formats = []Format{FormatTable, FormatJSON, FormatJSONL, FormatYAML}

// ParseFormat converts a flag value into a Format.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Formats {
		if f == known {
			return f, nil
		}
	}
	return "", fmt.Errorf("unsupported output format: %s", s)
}

// FormatFromPath guesses the format from a file extension, falling back to
// def when the extension is unknown.
func FormatFromPath(path string, def Format) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON
	case ".jsonl", ".ndjson":
		return FormatJSONL
	case ".yaml", ".yml":
		return FormatYAML
	case ".txt":
		return FormatTable
	}
	return def
}

// Writer handles output serialization.
type Writer interface {
	// Write outputs a single record.
	Write(data any) error

	// Flush ensures all buffered records are written.
	Flush() error

	// Close flushes and releases resources.
	Close() error
}

// Row is implemented by records that can be rendered as a table.
type Row interface {
	Header() []string
	Cells() []string
}

// NewWriter creates a writer for the specified format.
func NewWriter(w io.Writer, format Format) (Writer, error) {
	switch format {
	case FormatJSON:
		return NewJSONWriter(w, true, "  "), nil
	case FormatJSONL:
		return NewJSONLWriter(w), nil
	case FormatYAML:
		return NewYAMLWriter(w), nil
	case FormatTable:
		return NewTableWriter(w), nil
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}
}

// WriteAll writes every record and closes the writer.
func WriteAll[T any](w Writer, records []T) error {
	for _, r := range records {
		if err := w.Write(r); err != nil {
			return err
		}
	}
	return w.Close()
}
