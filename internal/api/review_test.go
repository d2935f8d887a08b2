package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/swtanno/internal/annotate"
	"github.com/kalambet/swtanno/internal/config"
	"github.com/kalambet/swtanno/internal/storage"
)

// --- mocks ---

type mockSaver struct {
	mu    sync.Mutex
	saves int
	err   error
}

func (m *mockSaver) Save(*storage.Table) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.saves++
	return nil
}

type mockFrames struct {
	data  []byte
	err   error
	path  string
	at    time.Duration
	calls int
}

func (m *mockFrames) Frame(_ context.Context, path string, at time.Duration) ([]byte, error) {
	m.calls++
	m.path, m.at = path, at
	return m.data, m.err
}

// --- helpers ---

const reviewCSV = `guid,path,timePoint,scene_label,confidence,textdocument,ocr_accepted,deleted,annotated,label_adjusted
g0,/v/0.mp4,1500,chyron,0.914,"JANE DOE
Reporter",False,False,False,False
g1,/v/1.mp4,2000,credits,0.72,<b>Directed by</b>,False,False,False,False
`

var testKeys = config.KeysConfig{Continue: "Enter", Reject: "x", Swap: "s", Delete: "Ctrl+Shift+X"}

func newTestSession(t *testing.T, csv string) (*annotate.Session, *mockSaver) {
	t.Helper()
	tbl, err := storage.Read(strings.NewReader(csv))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	saver := &mockSaver{}
	s, err := annotate.NewSession(tbl, saver, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	return s, saver
}

func setupReviewHandler(t *testing.T) (http.Handler, *annotate.Session, *mockSaver, *mockFrames) {
	t.Helper()
	session, saver := newTestSession(t, reviewCSV)
	fr := &mockFrames{data: []byte("\xff\xd8jpeg")}
	h := NewReviewHandler(ReviewDeps{
		Session:   session,
		Frames:    fr,
		Keys:      testKeys,
		TablePath: "/data/table.csv",
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return h, session, saver, fr
}

func do(h http.Handler, method, target, accept string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

// --- tests ---

func TestReviewPage_RendersCurrentRecord(t *testing.T) {
	h, _, _, _ := setupReviewHandler(t)

	w := do(h, http.MethodGet, "/", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	body := w.Body.String()
	for _, want := range []string{
		"SWT OCR Annotator (0/2)",
		"chyron (confidence 0.91)",
		"JANE DOE<br>Reporter",
		"Oops (Undo last annotation)",
		`action="/actions/continue"`,
		"Ctrl&#43;Shift&#43;X",
		"&lt;b&gt;Directed by&lt;/b&gt;",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("page missing %q", want)
		}
	}
	if strings.Contains(body, "big-font rejected") {
		t.Error("OCR text styled as rejected before Reject")
	}
}

func TestReviewPage_TableShowsEveryColumn(t *testing.T) {
	session, _ := newTestSession(t, `guid,model,path,timePoint,scene_label,confidence,textdocument,ocr_accepted,deleted,annotated,label_adjusted
g0,doctr,/v/0.mp4,1500.0,chyron,0.914,JANE DOE,False,False,False,False
`)
	h := NewReviewHandler(ReviewDeps{
		Session: session,
		Frames:  &mockFrames{},
		Keys:    testKeys,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	body := do(h, http.MethodGet, "/", "").Body.String()
	for _, want := range []string{
		"<th>model</th>",
		"<th>path</th>",
		"<td>doctr</td>",
		"<td>/v/0.mp4</td>",
		"<td>1500.0</td>",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("table missing %q", want)
		}
	}
}

func TestReviewPage_KeyHandlerGuardsRepeats(t *testing.T) {
	h, _, _, _ := setupReviewHandler(t)

	body := do(h, http.MethodGet, "/", "").Body.String()
	for _, want := range []string{
		"ev.repeat || submitting",
		`tag === "button"`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("key handler missing %q", want)
		}
	}
}

func TestReviewPage_ReflectsTransientState(t *testing.T) {
	h, session, _, _ := setupReviewHandler(t)
	if err := session.Reject(); err != nil {
		t.Fatal(err)
	}
	if err := session.Swap(); err != nil {
		t.Fatal(err)
	}

	body := do(h, http.MethodGet, "/", "").Body.String()
	if !strings.Contains(body, "big-font rejected") {
		t.Error("rejected OCR text not styled")
	}
	if !strings.Contains(body, `<span class="adjusted">credits</span>`) {
		t.Error("adjusted label not highlighted")
	}
	if strings.Contains(body, "(confidence") {
		t.Error("confidence shown for adjusted label")
	}
}

func TestReviewPage_Done(t *testing.T) {
	h, session, _, _ := setupReviewHandler(t)
	for i := 0; i < 2; i++ {
		if err := session.Continue(); err != nil {
			t.Fatal(err)
		}
	}

	body := do(h, http.MethodGet, "/", "").Body.String()
	if !strings.Contains(body, "All images annotated!") {
		t.Error("done page missing completion header")
	}
	if strings.Contains(body, "SWT OCR Annotator (") {
		t.Error("done page still shows progress header")
	}
}

func TestAction_FormPostRedirects(t *testing.T) {
	h, session, saver, _ := setupReviewHandler(t)

	w := do(h, http.MethodPost, "/actions/continue", "text/html")
	if w.Code != http.StatusSeeOther {
		t.Fatalf("status = %d, want 303", w.Code)
	}
	if loc := w.Header().Get("Location"); loc != "/" {
		t.Errorf("Location = %q, want /", loc)
	}
	if st := session.State(); st.Index != 1 {
		t.Errorf("Index = %d, want 1", st.Index)
	}
	if saver.saves != 1 {
		t.Errorf("saves = %d, want 1", saver.saves)
	}
}

func TestAction_JSONReturnsState(t *testing.T) {
	h, _, _, _ := setupReviewHandler(t)

	w := do(h, http.MethodPost, "/actions/swap", "application/json")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	var st annotate.State
	if err := json.NewDecoder(w.Body).Decode(&st); err != nil {
		t.Fatalf("decoding state: %v", err)
	}
	if st.SceneLabel != "credits" || !st.LabelAdjusted {
		t.Errorf("state = %+v", st)
	}
}

func TestAction_Errors(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(*annotate.Session, *mockSaver)
		action   string
		wantCode int
		wantType string
	}{
		{
			name:     "unknown action",
			action:   "skip",
			wantCode: http.StatusNotFound,
			wantType: "invalid_request_error",
		},
		{
			name: "done",
			setup: func(s *annotate.Session, _ *mockSaver) {
				s.Continue()
				s.Continue()
			},
			action:   "continue",
			wantCode: http.StatusConflict,
			wantType: "conflict_error",
		},
		{
			name:     "save failure",
			setup:    func(_ *annotate.Session, m *mockSaver) { m.err = errors.New("read-only file system") },
			action:   "delete",
			wantCode: http.StatusInternalServerError,
			wantType: "storage_error",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, session, saver, _ := setupReviewHandler(t)
			if tt.setup != nil {
				tt.setup(session, saver)
			}

			w := do(h, http.MethodPost, "/actions/"+tt.action, "application/json")
			if w.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantCode)
			}
			var body struct {
				Error struct {
					Message string `json:"message"`
					Type    string `json:"type"`
				} `json:"error"`
			}
			if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
				t.Fatalf("decoding error: %v", err)
			}
			if body.Error.Type != tt.wantType {
				t.Errorf("type = %q, want %q", body.Error.Type, tt.wantType)
			}
		})
	}
}

func TestAction_FormErrorShownOnPage(t *testing.T) {
	h, _, saver, _ := setupReviewHandler(t)
	saver.err = errors.New("read-only file system")

	w := do(h, http.MethodPost, "/actions/continue", "")
	if w.Code != http.StatusSeeOther {
		t.Fatalf("status = %d, want 303", w.Code)
	}
	loc := w.Header().Get("Location")
	if !strings.HasPrefix(loc, "/?error=") {
		t.Fatalf("Location = %q", loc)
	}

	body := do(h, http.MethodGet, loc, "").Body.String()
	if !strings.Contains(body, "read-only file system") {
		t.Error("page does not show the save error")
	}
}

func TestFrame_ServesJPEG(t *testing.T) {
	h, _, _, fr := setupReviewHandler(t)

	w := do(h, http.MethodGet, "/frame", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "image/jpeg" {
		t.Errorf("Content-Type = %q", ct)
	}
	if fr.path != "/v/0.mp4" || fr.at != 1500*time.Millisecond {
		t.Errorf("frame requested for %q at %s", fr.path, fr.at)
	}
}

func TestFrame_FailureFallsBack(t *testing.T) {
	h, session, _, fr := setupReviewHandler(t)
	fr.err = errors.New("ffmpeg exploded")

	w := do(h, http.MethodGet, "/frame", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
	if !strings.Contains(w.Body.String(), FrameFallback) {
		t.Errorf("body = %q", w.Body.String())
	}

	// Actions stay available.
	if w := do(h, http.MethodPost, "/actions/continue", "application/json"); w.Code != http.StatusOK {
		t.Errorf("continue after frame failure: status %d", w.Code)
	}
	if session.State().Index != 1 {
		t.Error("continue did not advance")
	}
}

func TestFrame_DoneIsNotFound(t *testing.T) {
	h, session, _, fr := setupReviewHandler(t)
	session.Continue()
	session.Continue()

	if w := do(h, http.MethodGet, "/frame", ""); w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
	if fr.calls != 0 {
		t.Error("frame source called in done state")
	}
}

func TestStateAndRecords(t *testing.T) {
	h, session, _, _ := setupReviewHandler(t)

	w := do(h, http.MethodGet, "/api/state", "")
	var st annotate.State
	if err := json.NewDecoder(w.Body).Decode(&st); err != nil {
		t.Fatal(err)
	}
	if st.SessionID != session.ID() || st.Total != 2 || st.Current == nil || st.Current.GUID != "g0" {
		t.Errorf("state = %+v", st)
	}

	w = do(h, http.MethodGet, "/api/records", "")
	var recs []storage.Record
	if err := json.NewDecoder(w.Body).Decode(&recs); err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 || recs[1].SceneLabel != "credits" {
		t.Errorf("records = %+v", recs)
	}
}

func TestHealth(t *testing.T) {
	h, _, _, _ := setupReviewHandler(t)
	w := do(h, http.MethodGet, "/health", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"ok"`) {
		t.Errorf("health = %d %s", w.Code, w.Body.String())
	}
}
