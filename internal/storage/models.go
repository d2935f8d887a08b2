package storage

import (
	"errors"
	"fmt"
	"slices"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrMissingColumn is returned when a table lacks a column a caller requires.
var ErrMissingColumn = errors.New("missing column")

// Column names as they appear in the table file header.
const (
	ColGUID          = "guid"
	ColPath          = "path"
	ColTimePoint     = "timePoint"
	ColSceneLabel    = "scene_label"
	ColConfidence    = "confidence"
	ColTextDocument  = "textdocument"
	ColOCRAccepted   = "ocr_accepted"
	ColDeleted       = "deleted"
	ColAnnotated     = "annotated"
	ColLabelAdjusted = "label_adjusted"
)

// ReviewColumns are the decision columns added by the preparer.
var ReviewColumns = []string{ColOCRAccepted, ColDeleted, ColAnnotated, ColLabelAdjusted}

// AnnotatorColumns must be present before a table can be reviewed.
var AnnotatorColumns = []string{ColPath, ColTimePoint, ColSceneLabel, ColConfidence, ColTextDocument}

// Record is one prediction row.
type Record struct {
	GUID          string  `json:"guid"`
	Path          string  `json:"path"`
	TimePoint     int64   `json:"timePoint"`
	SceneLabel    string  `json:"scene_label"`
	Confidence    float64 `json:"confidence"`
	TextDocument  string  `json:"textdocument"`
	OCRAccepted   bool    `json:"ocr_accepted"`
	Deleted       bool    `json:"deleted"`
	Annotated     bool    `json:"annotated"`
	LabelAdjusted bool    `json:"label_adjusted"`

	// Extra holds cells of columns this package does not model, keyed by
	// header name. They are written back unchanged.
	Extra map[string]string `json:"extra,omitempty"`

	rawTimePoint  string
	rawConfidence string
}

// Table is an ordered sequence of records plus the header they were read
// with. Columns fixes the order of columns on write. CRLF records that the
// file used \r\n line endings; Write reproduces them, including inside
// quoted fields.
type Table struct {
	Columns []string
	Records []Record
	CRLF    bool
}

// HasColumn reports whether name is part of the table header.
func (t *Table) HasColumn(name string) bool {
	return slices.Contains(t.Columns, name)
}

// EnsureColumns appends any of names missing from the header.
func (t *Table) EnsureColumns(names ...string) {
	for _, n := range names {
		if !t.HasColumn(n) {
			t.Columns = append(t.Columns, n)
		}
	}
}

// Require returns a *ColumnError (matching ErrMissingColumn) naming the
// first absent column.
func (t *Table) Require(names ...string) error {
	for _, n := range names {
		if !t.HasColumn(n) {
			return &ColumnError{Column: n}
		}
	}
	return nil
}

// At returns a copy of record i, or ErrNotFound when i is out of range.
func (t *Table) At(i int) (Record, error) {
	if i < 0 || i >= len(t.Records) {
		return Record{}, ErrNotFound
	}
	return t.Records[i].clone(), nil
}

// FirstUnannotated returns the index of the first record not yet annotated,
// or len(Records) when every record has been reviewed.
func (t *Table) FirstUnannotated() int {
	for i, r := range t.Records {
		if !r.Annotated {
			return i
		}
	}
	return len(t.Records)
}

// CountAnnotated returns the number of records with annotated=true.
func (t *Table) CountAnnotated() int {
	n := 0
	for _, r := range t.Records {
		if r.Annotated {
			n++
		}
	}
	return n
}

// Clone returns a deep copy of the table.
func (t *Table) Clone() *Table {
	out := &Table{
		Columns: slices.Clone(t.Columns),
		Records: make([]Record, len(t.Records)),
		CRLF:    t.CRLF,
	}
	for i, r := range t.Records {
		out.Records[i] = r.clone()
	}
	return out
}

func (r Record) clone() Record {
	if r.Extra != nil {
		extra := make(map[string]string, len(r.Extra))
		for k, v := range r.Extra {
			extra[k] = v
		}
		r.Extra = extra
	}
	return r
}

// ColumnError reports a required column missing from a table.
type ColumnError struct {
	Column string
}

func (e *ColumnError) Error() string {
	return fmt.Sprintf("missing column %q", e.Column)
}

func (e *ColumnError) Unwrap() error { return ErrMissingColumn }
