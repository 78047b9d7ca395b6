package output

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
)

// TableWriter renders Row records as aligned columns. The header is taken
// from the first record.
type TableWriter struct {
	tw     *tabwriter.Writer
	header bool
}

// NewTableWriter creates a table writer.
func NewTableWriter(w io.Writer) *TableWriter {
	return &TableWriter{tw: tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)}
}

// Write adds one row. Records that do not implement Row are printed with %v.
func (w *TableWriter) Write(data any) error {
	row, ok := data.(Row)
	if !ok {
		_, err := fmt.Fprintf(w.tw, "%v\n", data)
		return err
	}
	if !w.header {
		w.header = true
		if _, err := fmt.Fprintln(w.tw, strings.Join(row.Header(), "\t")); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintln(w.tw, strings.Join(row.Cells(), "\t"))
	return err
}

// Flush aligns and writes the buffered rows.
func (w *TableWriter) Flush() error {
	return w.tw.Flush()
}

// Close flushes the writer.
func (w *TableWriter) Close() error {
	return w.Flush()
}
