package prepare

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/swtanno/internal/storage"
)

// Resolver maps a GUID to the path of its video file.
type Resolver interface {
	Resolve(ctx context.Context, guid string) (string, error)
}

// Policy decides what happens to a row whose GUID cannot be resolved.
type Policy string

const (
	// PolicyAbort stops at the first failure.
	PolicyAbort Policy = "abort"
	// PolicySkip drops failed rows from the output.
	PolicySkip Policy = "skip"
)

// ParsePolicy validates a policy name.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case PolicyAbort, PolicySkip:
		return p, nil
	case "":
		return PolicyAbort, nil
	}
	return "", fmt.Errorf("unknown failure policy %q (want abort or skip)", s)
}

// ErrMissingGUID marks a row with an empty guid cell.
var ErrMissingGUID = errors.New("empty guid")

// Options tunes a Preparer.
type Options struct {
	// Concurrency bounds in-flight resolver calls. Values <= 0 mean 4.
	Concurrency int
	OnError     Policy
	// Force re-resolves rows that already carry a path.
	Force bool
	// ProgressEvery logs progress after this many resolved GUIDs. Values <= 0 mean 100.
	ProgressEvery int
	Logger        *slog.Logger
}

// Failure describes one row that could not be resolved.
type Failure struct {
	Row  int
	GUID string
	Err  error
}

func (f Failure) Error() string {
	return fmt.Sprintf("row %d (guid %q): %v", f.Row, f.GUID, f.Err)
}

func (f Failure) Unwrap() error { return f.Err }

// Result summarises a preparation run.
type Result struct {
	Rows     int // rows in the output table
	Resolved int // distinct GUIDs looked up
	Kept     int // rows whose existing path was reused
	Skipped  int // rows dropped under PolicySkip
	Failures []Failure
}

// Preparer adds resolved paths and default review columns to a prediction table.
type Preparer struct {
	resolver Resolver
	opts     Options
	logger   *slog.Logger
}

// New creates a Preparer.
func New(r Resolver, opts Options) *Preparer {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.OnError == "" {
		opts.OnError = PolicyAbort
	}
	if opts.ProgressEvery <= 0 {
		opts.ProgressEvery = 100
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Preparer{resolver: r, opts: opts, logger: logger}
}

// Prepare resolves every row's path and resets the review columns to false.
// The table is modified in place. Under PolicyAbort an error leaves t
// untouched.
func (p *Preparer) Prepare(ctx context.Context, t *storage.Table) (Result, error) {
	if err := t.Require(storage.ColGUID); err != nil {
		return Result{}, err
	}
	hadPath := t.HasColumn(storage.ColPath)

	// Collect distinct GUIDs that need a lookup.
	var guids []string
	seen := make(map[string]bool)
	kept := 0
	for _, r := range t.Records {
		if hadPath && !p.opts.Force && r.Path != "" {
			kept++
			continue
		}
		if r.GUID == "" || seen[r.GUID] {
			continue
		}
		seen[r.GUID] = true
		guids = append(guids, r.GUID)
	}

	p.logger.Info("resolving paths", "rows", len(t.Records), "lookups", len(guids), "concurrency", p.opts.Concurrency)

	paths, lookupErrs, err := p.resolveAll(ctx, guids)
	if err != nil {
		return Result{}, err
	}

	res := Result{Resolved: len(paths), Kept: kept}
	out := make([]storage.Record, 0, len(t.Records))
	for i, r := range t.Records {
		if !(hadPath && !p.opts.Force && r.Path != "") {
			var ferr error
			switch {
			case r.GUID == "":
				ferr = ErrMissingGUID
			case lookupErrs[r.GUID] != nil:
				ferr = lookupErrs[r.GUID]
			default:
				r.Path = paths[r.GUID]
			}
			if ferr != nil {
				f := Failure{Row: i, GUID: r.GUID, Err: ferr}
				if p.opts.OnError == PolicyAbort {
					return Result{}, fmt.Errorf("resolving paths: %w", f)
				}
				p.logger.Warn("skipping row", "row", i, "guid", r.GUID, "error", ferr)
				res.Failures = append(res.Failures, f)
				res.Skipped++
				continue
			}
		}
		r.OCRAccepted = false
		r.Deleted = false
		r.Annotated = false
		r.LabelAdjusted = false
		out = append(out, r)
	}

	t.EnsureColumns(storage.ColPath)
	t.EnsureColumns(storage.ReviewColumns...)
	t.Records = out
	res.Rows = len(out)

	p.logger.Info("paths resolved", "rows", res.Rows, "resolved", res.Resolved, "kept", res.Kept, "skipped", res.Skipped)
	return res, nil
}

// resolveAll looks up guids with bounded concurrency. Under PolicyAbort the
// first failure cancels the rest and is returned as err; under PolicySkip
// per-GUID failures are collected in errs.
func (p *Preparer) resolveAll(ctx context.Context, guids []string) (paths map[string]string, errs map[string]error, err error) {
	paths = make(map[string]string, len(guids))
	errs = make(map[string]error)
	var mu sync.Mutex
	var done atomic.Int64

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Concurrency)

	for _, guid := range guids {
		g.Go(func() error {
			path, rerr := p.resolver.Resolve(gCtx, guid)

			n := done.Add(1)
			if n%int64(p.opts.ProgressEvery) == 0 {
				p.logger.Info("resolve progress", "done", n, "total", len(guids))
			}

			mu.Lock()
			defer mu.Unlock()
			if rerr != nil {
				if p.opts.OnError == PolicyAbort {
					return fmt.Errorf("resolving guid %q: %w", guid, rerr)
				}
				errs[guid] = rerr
				return nil
			}
			paths[guid] = path
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	return paths, errs, nil
}
