package annotate

import (
	"slices"

	"github.com/kalambet/swtanno/internal/storage"
)

// State is a point-in-time view of a session for rendering.
type State struct {
	SessionID     string          `json:"session_id"`
	Index         int             `json:"index"`
	Total         int             `json:"total"`
	Annotated     int             `json:"annotated"`
	Done          bool            `json:"done"`
	OCRRejected   bool            `json:"ocr_rejected"`
	LabelAdjusted bool            `json:"label_adjusted"`
	SceneLabel    string          `json:"scene_label,omitempty"`
	Current       *storage.Record `json:"current,omitempty"`
}

// State returns a snapshot of the session.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := State{
		SessionID:     s.id,
		Index:         s.index,
		Total:         len(s.table.Records),
		Annotated:     s.table.CountAnnotated(),
		Done:          s.done(),
		OCRRejected:   s.ocrRejected,
		LabelAdjusted: s.labelAdjusted,
		SceneLabel:    s.sceneLabel,
	}
	if rec, err := s.table.At(s.index); err == nil {
		st.Current = &rec
	}
	return st
}

// Records returns a copy of every record in table order.
func (s *Session) Records() []storage.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.table.Clone().Records
}

// Columns returns the table header in file order.
func (s *Session) Columns() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.table.Columns)
}
