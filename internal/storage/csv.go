package storage

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Read parses a table from CSV. The first row is the header. Columns that
// Record does not model are kept in Record.Extra.
//
// The line ending style is taken from the header line. encoding/csv folds
// \r\n inside quoted fields to \n, so a file that mixes \n record endings
// with \r\n inside fields is written back with \n throughout.
func Read(r io.Reader) (*Table, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading table: %w", err)
	}
	data = bytes.TrimPrefix(data, utf8BOM)

	cr := csv.NewReader(bytes.NewReader(data))
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, errors.New("reading table: empty file")
	}
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	t := &Table{Columns: header, CRLF: crlfHeader(data)}

	for line := 2; ; line++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading row: %w", err)
		}
		if len(row) != len(header) {
			return nil, fmt.Errorf("line %d: expected %d fields, got %d", line, len(header), len(row))
		}
		rec, err := decodeRecord(header, row)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		t.Records = append(t.Records, rec)
	}
	return t, nil
}

// Write serialises the table as CSV using t.Columns as the header.
func (t *Table) Write(w io.Writer) error {
	cw := csv.NewWriter(w)
	cw.UseCRLF = t.CRLF
	if err := cw.Write(t.Columns); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	row := make([]string, len(t.Columns))
	for i := range t.Records {
		encodeRecord(t.Columns, &t.Records[i], row)
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("writing row %d: %w", i, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func crlfHeader(data []byte) bool {
	i := bytes.IndexByte(data, '\n')
	return i > 0 && data[i-1] == '\r'
}

func decodeRecord(header, row []string) (Record, error) {
	var rec Record
	for i, col := range header {
		v := row[i]
		var err error
		switch col {
		case ColGUID:
			rec.GUID = v
		case ColPath:
			rec.Path = v
		case ColTimePoint:
			rec.TimePoint, err = parseMillis(v)
			rec.rawTimePoint = v
		case ColSceneLabel:
			rec.SceneLabel = v
		case ColConfidence:
			rec.Confidence, err = parseFloat(v)
			rec.rawConfidence = v
		case ColTextDocument:
			rec.TextDocument = v
		case ColOCRAccepted:
			rec.OCRAccepted, err = parseBool(v)
		case ColDeleted:
			rec.Deleted, err = parseBool(v)
		case ColAnnotated:
			rec.Annotated, err = parseBool(v)
		case ColLabelAdjusted:
			rec.LabelAdjusted, err = parseBool(v)
		default:
			if rec.Extra == nil {
				rec.Extra = make(map[string]string)
			}
			rec.Extra[col] = v
		}
		if err != nil {
			return Record{}, fmt.Errorf("column %q: %w", col, err)
		}
	}
	return rec, nil
}

// Field returns the cell for col exactly as Write would encode it.
func (r Record) Field(col string) string {
	row := make([]string, 1)
	encodeRecord([]string{col}, &r, row)
	return row[0]
}

func encodeRecord(columns []string, rec *Record, row []string) {
	for i, col := range columns {
		switch col {
		case ColGUID:
			row[i] = rec.GUID
		case ColPath:
			row[i] = rec.Path
		case ColTimePoint:
			row[i] = formatMillis(rec.TimePoint, rec.rawTimePoint)
		case ColSceneLabel:
			row[i] = rec.SceneLabel
		case ColConfidence:
			row[i] = formatFloat(rec.Confidence, rec.rawConfidence)
		case ColTextDocument:
			row[i] = rec.TextDocument
		case ColOCRAccepted:
			row[i] = formatBool(rec.OCRAccepted)
		case ColDeleted:
			row[i] = formatBool(rec.Deleted)
		case ColAnnotated:
			row[i] = formatBool(rec.Annotated)
		case ColLabelAdjusted:
			row[i] = formatBool(rec.LabelAdjusted)
		default:
			row[i] = rec.Extra[col]
		}
	}
}

// parseBool accepts the spellings pandas and hand-edited files produce.
// An empty cell is false.
func parseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "false", "0", "no":
		return false, nil
	case "true", "1", "yes":
		return true, nil
	}
	return false, fmt.Errorf("invalid boolean %q", s)
}

func formatBool(b bool) string {
	if b {
		return "True"
	}
	return "False"
}

// parseMillis accepts integer or float text; pandas writes "1500.0" for
// integer columns that contain a missing value.
func parseMillis(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("invalid millisecond offset %q", s)
	}
	return int64(f), nil
}

func formatMillis(n int64, raw string) string {
	if raw != "" {
		if v, err := parseMillis(raw); err == nil && v == n {
			return raw
		}
	}
	return strconv.FormatInt(n, 10)
}

func parseFloat(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q", s)
	}
	return f, nil
}

func formatFloat(f float64, raw string) string {
	if raw != "" {
		if v, err := parseFloat(raw); err == nil && v == f {
			return raw
		}
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}
