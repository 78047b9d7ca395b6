package output

import (
	"bufio"
	"io"

	"gopkg.in/yaml.v3"
)

// YAMLWriter buffers records and writes them as one YAML document.
type YAMLWriter struct {
	w       *bufio.Writer
	records []any
	flushed bool
}

// NewYAMLWriter creates a YAML writer.
func NewYAMLWriter(w io.Writer) *YAMLWriter {
	return &YAMLWriter{w: bufio.NewWriter(w)}
}

// Write buffers a single record.
func (w *YAMLWriter) Write(data any) error {
	w.records = append(w.records, data)
	return nil
}

// Flush writes the buffered records. It only writes once.
func (w *YAMLWriter) Flush() error {
	if w.flushed || len(w.records) == 0 {
		return w.w.Flush()
	}
	w.flushed = true

	var doc any = w.records
	if len(w.records) == 1 {
		doc = w.records[0]
	}

	enc := yaml.NewEncoder(w.w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	return w.w.Flush()
}

// Close flushes the writer.
func (w *YAMLWriter) Close() error {
	return w.Flush()
}
