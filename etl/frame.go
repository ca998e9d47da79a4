package etl

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// Frame is a CSV snapshot split into its header and raw records. It says nothing about
// whether the values are valid; see ParseCourts and ParseAvailability.
type Frame struct {
	Header  []string
	Records [][]string
	col     map[string]int
}

func NewFrame(header []string, records [][]string) *Frame {
	f := &Frame{Header: header, Records: records, col: make(map[string]int, len(header))}
	for i, h := range header {
		h = strings.TrimSpace(h)
		if i == 0 {
			h = strings.TrimPrefix(h, "\ufeff")
		}
		f.Header[i] = h
		if _, dup := f.col[h]; !dup {
			f.col[h] = i
		}
	}
	return f
}

func ReadFrame(r io.Reader) (*Frame, error) {
	cr := csv.NewReader(bufio.NewReader(r))
	cr.FieldsPerRecord = -1

	records, err := cr.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, errors.New("csv has no header row")
	}
	return NewFrame(records[0], records[1:]), nil
}

func ReadFrameFile(path string) (*Frame, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	frame, err := ReadFrame(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return frame, nil
}

func (f *Frame) Has(name string) bool {
	_, ok := f.col[name]
	return ok
}

// Value returns the trimmed cell for column name, or "" when the column or cell is absent.
func (f *Frame) Value(rec []string, name string) string {
	i, ok := f.col[name]
	if !ok || i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}

func (f *Frame) Len() int { return len(f.Records) }
