package annotate

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/kalambet/swtanno/internal/storage"
)

// Scene labels that Swap toggles between.
const (
	LabelChyron  = "chyron"
	LabelCredits = "credits"
)

var (
	// ErrDone is returned by review actions once every record is annotated.
	ErrDone = errors.New("all records annotated")
	// ErrLabelNotSwappable is returned by Swap when the current label is
	// neither chyron nor credits.
	ErrLabelNotSwappable = errors.New("scene label cannot be swapped")
)

// Action names an operator action.
type Action string

const (
	ActionContinue Action = "continue"
	ActionReject   Action = "reject"
	ActionSwap     Action = "swap"
	ActionDelete   Action = "delete"
	ActionUndo     Action = "undo"
)

// Actions lists every action in display order.
var Actions = []Action{ActionContinue, ActionReject, ActionSwap, ActionDelete, ActionUndo}

// ParseAction validates an action name.
func ParseAction(s string) (Action, error) {
	a := Action(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Actions {
		if a == known {
			return a, nil
		}
	}
	return "", fmt.Errorf("unknown action %q", s)
}

// Saver persists the full table.
type Saver interface {
	Save(t *storage.Table) error
}

// Session is the review state machine: the table, the index of the current
// record, and the transient flags mirroring that record. All methods are
// safe for concurrent use; each action holds the session lock until it has
// finished, including the write to the backing store.
type Session struct {
	id     string
	saver  Saver
	logger *slog.Logger

	mu            sync.Mutex
	table         *storage.Table
	index         int
	ocrRejected   bool
	labelAdjusted bool
	sceneLabel    string
}

// NewSession starts a review over t at its first unannotated record. The
// transient label flags mirror that record as loaded; ocr_rejected always
// starts false.
func NewSession(t *storage.Table, saver Saver, logger *slog.Logger) (*Session, error) {
	if err := t.Require(storage.AnnotatorColumns...); err != nil {
		return nil, err
	}
	t.EnsureColumns(storage.ReviewColumns...)
	if logger == nil {
		logger = slog.Default()
	}

	s := &Session{
		id:     uuid.New().String(),
		saver:  saver,
		logger: logger,
		table:  t,
		index:  t.FirstUnannotated(),
	}
	if !s.done() {
		rec := &s.table.Records[s.index]
		s.sceneLabel = rec.SceneLabel
		s.labelAdjusted = rec.LabelAdjusted
	}
	return s, nil
}

// ID identifies this session. A new ID means the server was restarted.
func (s *Session) ID() string { return s.id }

// Apply dispatches a named action.
func (s *Session) Apply(a Action) error {
	switch a {
	case ActionContinue:
		return s.Continue()
	case ActionReject:
		return s.Reject()
	case ActionSwap:
		return s.Swap()
	case ActionDelete:
		return s.Delete()
	case ActionUndo:
		return s.Undo()
	}
	return fmt.Errorf("unknown action %q", a)
}

// Continue records the OCR decision for the current record, marks it
// annotated, persists the table and moves to the next record.
func (s *Session) Continue() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done() {
		return ErrDone
	}
	return s.advance(ActionContinue, false)
}

// Delete marks the current record invalid and then behaves like Continue.
func (s *Session) Delete() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done() {
		return ErrDone
	}
	return s.advance(ActionDelete, true)
}

// Reject toggles the transient OCR rejection flag. Nothing is persisted.
func (s *Session) Reject() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done() {
		return ErrDone
	}
	s.ocrRejected = !s.ocrRejected
	s.logger.Debug("ocr rejection toggled", "session", s.id, "index", s.index, "rejected", s.ocrRejected)
	return nil
}

// Swap toggles the current record's scene label between chyron and credits
// and flips its label_adjusted column. Nothing is persisted until the index
// next changes.
func (s *Session) Swap() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done() {
		return ErrDone
	}

	var next string
	switch s.sceneLabel {
	case LabelChyron:
		next = LabelCredits
	case LabelCredits:
		next = LabelChyron
	default:
		return fmt.Errorf("%w: %q", ErrLabelNotSwappable, s.sceneLabel)
	}

	rec := &s.table.Records[s.index]
	rec.SceneLabel = next
	rec.LabelAdjusted = !s.labelAdjusted
	s.sceneLabel = next
	s.labelAdjusted = rec.LabelAdjusted
	s.logger.Debug("scene label swapped", "session", s.id, "index", s.index, "label", next, "adjusted", s.labelAdjusted)
	return nil
}

// Undo reopens the previous record for review. Its decision columns are
// cleared, not restored. Undo at index 0 does nothing; from the done state
// it reopens the last record.
func (s *Session) Undo() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.index == 0 {
		return nil
	}

	cp := s.checkpoint(s.index-1, s.index)
	if !s.done() {
		s.refreshCurrent()
	}
	s.index--
	s.table.Records[s.index].Annotated = false
	s.refreshCurrent()

	if err := s.persist(); err != nil {
		s.rollback(cp)
		return err
	}
	s.logger.Info("undo", "session", s.id, "index", s.index, "guid", s.table.Records[s.index].GUID)
	return nil
}

func (s *Session) advance(a Action, deleted bool) error {
	cp := s.checkpoint(s.index)
	rec := &s.table.Records[s.index]
	if deleted {
		rec.Deleted = true
	}
	rec.OCRAccepted = !s.ocrRejected
	rec.Annotated = true

	if err := s.persist(); err != nil {
		s.rollback(cp)
		return err
	}
	s.logger.Info("record annotated",
		"session", s.id,
		"action", string(a),
		"index", s.index,
		"guid", rec.GUID,
		"ocr_accepted", rec.OCRAccepted,
		"deleted", rec.Deleted,
		"scene_label", rec.SceneLabel,
	)

	s.index++
	if !s.done() {
		s.refreshCurrent()
	} else {
		s.logger.Info("all records annotated", "session", s.id, "total", len(s.table.Records))
	}
	return nil
}

// refreshCurrent clears the decision columns of the current record and
// re-mirrors the transient flags from it.
func (s *Session) refreshCurrent() {
	rec := &s.table.Records[s.index]
	rec.Deleted = false
	rec.LabelAdjusted = false
	rec.OCRAccepted = false
	s.ocrRejected = false
	s.sceneLabel = rec.SceneLabel
	s.labelAdjusted = rec.LabelAdjusted
}

func (s *Session) persist() error {
	if err := s.saver.Save(s.table); err != nil {
		s.logger.Error("saving table failed", "session", s.id, "index", s.index, "error", err)
		return fmt.Errorf("saving table: %w", err)
	}
	return nil
}

func (s *Session) done() bool {
	return s.index >= len(s.table.Records)
}

// checkpoint captures what an index-changing action may touch so a failed
// write can be undone in memory.
type checkpoint struct {
	index         int
	ocrRejected   bool
	labelAdjusted bool
	sceneLabel    string
	rows          map[int]storage.Record
}

func (s *Session) checkpoint(rows ...int) checkpoint {
	cp := checkpoint{
		index:         s.index,
		ocrRejected:   s.ocrRejected,
		labelAdjusted: s.labelAdjusted,
		sceneLabel:    s.sceneLabel,
		rows:          make(map[int]storage.Record, len(rows)),
	}
	for _, i := range rows {
		if rec, err := s.table.At(i); err == nil {
			cp.rows[i] = rec
		}
	}
	return cp
}

func (s *Session) rollback(cp checkpoint) {
	s.index = cp.index
	s.ocrRejected = cp.ocrRejected
	s.labelAdjusted = cp.labelAdjusted
	s.sceneLabel = cp.sceneLabel
	for i, rec := range cp.rows {
		s.table.Records[i] = rec
	}
}
