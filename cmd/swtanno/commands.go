package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/swtanno/internal/annotate"
	"github.com/kalambet/swtanno/internal/config"
	"github.com/kalambet/swtanno/internal/prepare"
	"github.com/kalambet/swtanno/internal/resolver"
	"github.com/kalambet/swtanno/internal/storage"
)

// --- prepare ---

var prepareCmd = &cobra.Command{
	Use:   "prepare <predictions.csv>",
	Short: "Resolve video paths and add review columns to a prediction table",
	Long: `Resolve the video path of every row through the resolver service and add
the review columns (ocr_accepted, deleted, annotated, label_adjusted), all
set to False. The result is written next to the input as
<name>-with-paths.csv unless --output is given.

Examples:
  swtanno prepare preds.csv
  swtanno prepare preds.csv -o review.csv --on-error skip --concurrency 8`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		opts := prepareOptions{input: args[0]}
		opts.output, _ = cmd.Flags().GetString("output")
		opts.force, _ = cmd.Flags().GetBool("force")
		opts.overwrite, _ = cmd.Flags().GetBool("overwrite")
		onError, _ := cmd.Flags().GetString("on-error")
		if opts.policy, err = prepare.ParsePolicy(onError); err != nil {
			return err
		}

		opts.resolverURL = cfg.Resolver.BaseURL
		if cmd.Flags().Changed("resolver") {
			opts.resolverURL, _ = cmd.Flags().GetString("resolver")
		}
		opts.timeout = cfg.Resolver.Timeout
		if cmd.Flags().Changed("timeout") {
			opts.timeout, _ = cmd.Flags().GetDuration("timeout")
		}
		opts.concurrency = cfg.Resolver.Concurrency
		if cmd.Flags().Changed("concurrency") {
			opts.concurrency, _ = cmd.Flags().GetInt("concurrency")
		}

		res, out, err := runPrepare(cmd.Context(), opts)
		if err != nil {
			return err
		}

		for _, f := range res.Failures {
			printWarning("skipped %v", f)
		}
		printSuccess("Wrote %d rows to %s", res.Rows, out)
		printStatus("Resolved", "%d GUIDs", res.Resolved)
		if res.Kept > 0 {
			printStatus("Kept", "%d existing paths", res.Kept)
		}
		if res.Skipped > 0 {
			printStatus("Skipped", "%d rows", res.Skipped)
		}
		return nil
	},
}

func init() {
	prepareCmd.Flags().StringP("output", "o", "", "output table (default <input>-with-paths.csv)")
	prepareCmd.Flags().String("on-error", string(prepare.PolicyAbort), "what to do with rows whose guid cannot be resolved: abort or skip")
	prepareCmd.Flags().Bool("force", false, "re-resolve rows that already have a path")
	prepareCmd.Flags().Bool("overwrite", false, "replace the output table if it exists")
	prepareCmd.Flags().String("resolver", "", "resolver base URL (overrides resolver.base_url)")
	prepareCmd.Flags().Duration("timeout", 0, "per-lookup timeout (overrides resolver.timeout)")
	prepareCmd.Flags().Int("concurrency", 0, "concurrent lookups (overrides resolver.concurrency)")
}

type prepareOptions struct {
	input       string
	output      string
	policy      prepare.Policy
	force       bool
	overwrite   bool
	resolverURL string
	timeout     time.Duration
	concurrency int
}

func runPrepare(ctx context.Context, opts prepareOptions) (prepare.Result, string, error) {
	out := opts.output
	if out == "" {
		out = defaultOutputPath(opts.input)
	}
	if !opts.overwrite {
		if _, err := os.Stat(out); err == nil {
			return prepare.Result{}, "", fmt.Errorf("output %s already exists (use --overwrite to replace it)", out)
		}
	}

	in, err := storage.Open(opts.input)
	if err != nil {
		return prepare.Result{}, "", err
	}
	table, err := in.Load()
	if err != nil {
		return prepare.Result{}, "", err
	}

	printStep("Resolving %d rows via %s", len(table.Records), opts.resolverURL)
	p := prepare.New(resolver.New(opts.resolverURL, opts.timeout), prepare.Options{
		Concurrency: opts.concurrency,
		OnError:     opts.policy,
		Force:       opts.force,
	})
	res, err := p.Prepare(ctx, table)
	if err != nil {
		return prepare.Result{}, "", err
	}

	dst, err := storage.Open(out)
	if err != nil {
		return prepare.Result{}, "", err
	}
	if err := dst.Save(table); err != nil {
		return prepare.Result{}, "", fmt.Errorf("writing %s: %w", out, err)
	}
	return res, dst.Path(), nil
}

// defaultOutputPath maps preds.csv to preds-with-paths.csv.
func defaultOutputPath(input string) string {
	ext := filepath.Ext(input)
	base := strings.TrimSuffix(input, ext)
	if ext == "" {
		ext = ".csv"
	}
	return base + "-with-paths" + ext
}

// --- status ---

var statusCmd = &cobra.Command{
	Use:   "status <table.csv>",
	Short: "Show review progress of a table",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		store, err := storage.Open(args[0])
		if err != nil {
			return err
		}
		table, err := store.Load()
		if err != nil {
			return err
		}
		s := summarize(table)

		printStatus("Table", "%s", store.Path())
		printStatus("Progress", "%s %d/%d", progressBar(s.Annotated, s.Total, 30), s.Annotated, s.Total)
		printStatus("Deleted", "%d", s.Deleted)
		printStatus("OCR rejected", "%d", s.OCRRejected)
		printStatus("Label adjusted", "%d", s.LabelAdjusted)
		if s.Next >= 0 {
			printStatus("Next", "row %d", s.Next)
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Second)
		defer cancel()
		st, err := fetchState(ctx, newAPIClient(cfg))
		if err != nil {
			printStatus("Server", "not running")
			return nil
		}
		if st.Done {
			printStatus("Server", "running, all records annotated (session %s)", st.SessionID)
		} else {
			printStatus("Server", "running, reviewing row %d (session %s)", st.Index, st.SessionID)
		}
		return nil
	},
}

type tableSummary struct {
	Total         int
	Annotated     int
	Deleted       int
	OCRRejected   int
	LabelAdjusted int
	Next          int // first unannotated row, -1 when done
}

func summarize(t *storage.Table) tableSummary {
	s := tableSummary{Total: len(t.Records), Next: -1}
	for _, r := range t.Records {
		if !r.Annotated {
			continue
		}
		s.Annotated++
		if r.Deleted {
			s.Deleted++
		}
		if !r.OCRAccepted {
			s.OCRRejected++
		}
		if r.LabelAdjusted {
			s.LabelAdjusted++
		}
	}
	if i := t.FirstUnannotated(); i < len(t.Records) {
		s.Next = i
	}
	return s
}

func fetchState(ctx context.Context, c *apiClient) (annotate.State, error) {
	resp, err := c.get(ctx, "/api/state")
	if err != nil {
		return annotate.State{}, err
	}
	var st annotate.State
	if err := decodeJSON(resp, &st); err != nil {
		return annotate.State{}, err
	}
	if st.SessionID == "" {
		return annotate.State{}, errors.New("server did not report a session")
	}
	return st, nil
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "# %s\n", config.FilePath())
		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(out, "  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long:  "Set a configuration value. Valid keys:\n  " + strings.Join(config.ValidKeys(), "\n  "),
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configUnsetCmd = &cobra.Command{
	Use:   "unset <key>",
	Short: "Remove a configuration value so its default applies",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.UnsetKey(args[0]); err != nil {
			return err
		}
		printSuccess("Unset %s", args[0])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configUnsetCmd)
}
