package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kalambet/swtanno/internal/annotate"
	"github.com/kalambet/swtanno/internal/config"
	"github.com/kalambet/swtanno/internal/frames"
	"github.com/kalambet/swtanno/internal/storage"
)

// FrameFallback is shown in place of the frame when extraction fails.
const FrameFallback = "Failed to retrieve frame from the specified timepoint."

// Reviewer is the review session as seen by the HTTP and MCP layers.
type Reviewer interface {
	State() annotate.State
	Records() []storage.Record
	Columns() []string
	Apply(a annotate.Action) error
}

// ReviewDeps holds dependencies for the review UI.
type ReviewDeps struct {
	Session   Reviewer
	Frames    frames.Source
	Keys      config.KeysConfig
	TablePath string
	Logger    *slog.Logger // optional; slog.Default() when nil
}

// NewReviewHandler returns the review UI and its JSON endpoints.
func NewReviewHandler(deps ReviewDeps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger(deps.Logger))
	r.Use(middleware.Recoverer)

	r.Get("/", handlePage(deps))
	r.Get("/frame", handleFrame(deps))
	r.Post("/actions/{action}", handleAction(deps))
	r.Get("/api/state", handleState(deps))
	r.Get("/api/records", handleRecords(deps))
	r.Get("/health", handleHealth)

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handlePage(deps ReviewDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data := pageData{
			State:     deps.Session.State(),
			Records:   deps.Session.Records(),
			Columns:   deps.Session.Columns(),
			Bindings:  bindings(deps.Keys),
			TablePath: deps.TablePath,
			Error:     r.URL.Query().Get("error"),
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		if err := reviewPage.Execute(w, data); err != nil {
			deps.Logger.Error("rendering review page", "error", err)
		}
	}
}

func handleFrame(deps ReviewDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st := deps.Session.State()
		if st.Current == nil {
			http.Error(w, FrameFallback, http.StatusNotFound)
			return
		}

		at := time.Duration(st.Current.TimePoint) * time.Millisecond
		data, err := deps.Frames.Frame(r.Context(), st.Current.Path, at)
		if err != nil {
			deps.Logger.Warn("frame extraction failed",
				"guid", st.Current.GUID,
				"path", st.Current.Path,
				"timepoint_ms", st.Current.TimePoint,
				"error", err,
			)
			http.Error(w, FrameFallback, http.StatusNotFound)
			return
		}

		w.Header().Set("Content-Type", "image/jpeg")
		w.Header().Set("Cache-Control", "no-store")
		w.Write(data)
	}
}

func handleAction(deps ReviewDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, err := annotate.ParseAction(chi.URLParam(r, "action"))
		if err != nil {
			httpError(w, http.StatusNotFound, "invalid_request_error", "%v", err)
			return
		}

		applyErr := deps.Session.Apply(a)
		if applyErr != nil {
			deps.Logger.Warn("action failed", "action", string(a), "error", applyErr)
		}

		if !wantsJSON(r) {
			target := "/"
			if applyErr != nil {
				target += "?error=" + url.QueryEscape(applyErr.Error())
			}
			http.Redirect(w, r, target, http.StatusSeeOther)
			return
		}

		if applyErr != nil {
			code, errType := actionErrorStatus(applyErr)
			httpError(w, code, errType, "%s: %v", a, applyErr)
			return
		}
		writeJSON(w, deps.Session.State())
	}
}

func handleState(deps ReviewDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, deps.Session.State())
	}
}

func handleRecords(deps ReviewDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, deps.Session.Records())
	}
}

func actionErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, annotate.ErrDone), errors.Is(err, annotate.ErrLabelNotSwappable):
		return http.StatusConflict, "conflict_error"
	default:
		return http.StatusInternalServerError, "storage_error"
	}
}

func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// requestLogger logs one line per request at debug level, or warn for
// server errors.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)

			level := slog.LevelDebug
			if ww.Status() >= http.StatusInternalServerError {
				level = slog.LevelWarn
			}
			logger.Log(r.Context(), level, "http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}
