package record

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/mchmarny/mathscore/pkg/stage"
)

const (
	dirMode  = 0700
	fileMode = 0600
)

// missingValues are cell contents treated as absent.
var missingValues = map[string]bool{
	"":     true,
	"na":   true,
	"nan":  true,
	"n/a":  true,
	"null": true,
}

// IsMissing reports whether a cell holds no value.
func IsMissing(cell string) bool {
	return missingValues[strings.ToLower(strings.TrimSpace(cell))]
}

// Frame is a header plus string rows, as read from a CSV partition.
type Frame struct {
	Header []string
	Rows   [][]string
}

// Len returns the number of rows.
func (f *Frame) Len() int {
	if f == nil {
		return 0
	}
	return len(f.Rows)
}

// Index returns the position of col in the header or -1.
func (f *Frame) Index(col string) int {
	for i, h := range f.Header {
		if h == col {
			return i
		}
	}
	return -1
}

// Has reports whether the header contains col.
func (f *Frame) Has(col string) bool {
	return f.Index(col) >= 0
}

// Column returns a copy of the named column.
func (f *Frame) Column(col string) ([]string, error) {
	i := f.Index(col)
	if i < 0 {
		return nil, stage.New(stage.Transform, stage.KindSchemaMismatch, "column not found", "column", col)
	}
	out := make([]string, len(f.Rows))
	for r, row := range f.Rows {
		if i < len(row) {
			out[r] = row[i]
		}
	}
	return out, nil
}

// Select returns a new frame with the rows at the given positions, in order.
func (f *Frame) Select(rows []int) *Frame {
	out := &Frame{Header: append([]string(nil), f.Header...), Rows: make([][]string, len(rows))}
	for i, r := range rows {
		out.Rows[i] = append([]string(nil), f.Rows[r]...)
	}
	return out
}

// Drop returns a new frame without col. Dropping a missing column is a no-op copy.
func (f *Frame) Drop(col string) *Frame {
	idx := f.Index(col)
	out := &Frame{Rows: make([][]string, len(f.Rows))}
	for i, h := range f.Header {
		if i != idx {
			out.Header = append(out.Header, h)
		}
	}
	for r, row := range f.Rows {
		nr := make([]string, 0, len(out.Header))
		for i, v := range row {
			if i != idx {
				nr = append(nr, v)
			}
		}
		out.Rows[r] = nr
	}
	return out
}

// ReadCSV loads a frame from a CSV file with a header row. Callers classify
// the error for the stage they run in.
func ReadCSV(path string) (*Frame, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "error opening csv: %s", path)
	}
	defer f.Close()

	fr, err := ParseCSV(f)
	if err != nil {
		return nil, errors.Wrapf(err, "error reading csv: %s", path)
	}
	return fr, nil
}

// ParseCSV decodes a frame from r. An input without a header row yields an empty frame.
func ParseCSV(r io.Reader) (*Frame, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	records, err := cr.ReadAll()
	if err != nil {
		return nil, errors.Wrap(err, "error parsing csv")
	}
	if len(records) == 0 {
		return &Frame{}, nil
	}

	header := make([]string, len(records[0]))
	for i, h := range records[0] {
		header[i] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
	}
	return &Frame{Header: header, Rows: records[1:]}, nil
}

// WriteCSV writes the frame with its header to path, creating parent dirs.
func (f *Frame) WriteCSV(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), dirMode); err != nil {
		return errors.Wrapf(err, "failed to create dir for: %s", path)
	}
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, fileMode)
	if err != nil {
		return errors.Wrapf(err, "failed to create file: %s", path)
	}
	defer file.Close()

	if err := f.Write(file); err != nil {
		return errors.Wrapf(err, "failed to write file: %s", path)
	}
	return file.Sync()
}

// Write encodes the frame as CSV.
func (f *Frame) Write(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(f.Header); err != nil {
		return errors.Wrap(err, "error writing header")
	}
	if err := cw.WriteAll(f.Rows); err != nil {
		return errors.Wrap(err, "error writing rows")
	}
	return nil
}
