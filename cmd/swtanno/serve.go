package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/swtanno/internal/annotate"
	"github.com/kalambet/swtanno/internal/api"
	"github.com/kalambet/swtanno/internal/config"
	"github.com/kalambet/swtanno/internal/frames"
	"github.com/kalambet/swtanno/internal/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve <table.csv>",
	Short: "Start the review UI for a prepared table (foreground)",
	Long: `Start the review UI for a prepared table. Review resumes at the first
record that is not yet annotated; every completed record is written back to
the table immediately.

With --mcp the same session is also served as MCP tools over stdio.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("host") {
			cfg.Server.Host, _ = cmd.Flags().GetString("host")
		}
		if cmd.Flags().Changed("port") {
			cfg.Server.Port, _ = cmd.Flags().GetInt("port")
		}
		if cmd.Flags().Changed("ffmpeg") {
			cfg.Frames.FFmpegPath, _ = cmd.Flags().GetString("ffmpeg")
		}
		if cmd.Flags().Changed("frame-width") {
			cfg.Frames.Width, _ = cmd.Flags().GetInt("frame-width")
		}
		withMCP, _ := cmd.Flags().GetBool("mcp")
		return runServer(cfg, args[0], withMCP)
	},
}

func init() {
	serveCmd.Flags().String("host", "", "listen host (overrides server.host)")
	serveCmd.Flags().Int("port", 0, "listen port (overrides server.port)")
	serveCmd.Flags().String("ffmpeg", "", "ffmpeg binary (overrides frames.ffmpeg_path)")
	serveCmd.Flags().Int("frame-width", 0, "scale frames to this width (overrides frames.width)")
	serveCmd.Flags().Bool("mcp", false, "also serve the session as MCP tools over stdio")
}

// newReviewServer loads the table and wires the session into an HTTP server.
func newReviewServer(cfg config.Config, tablePath string, fr frames.Source) (*http.Server, *annotate.Session, error) {
	store, err := storage.Open(tablePath)
	if err != nil {
		return nil, nil, err
	}
	table, err := store.Load()
	if err != nil {
		return nil, nil, err
	}
	session, err := annotate.NewSession(table, store, slog.Default())
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", store.Path(), err)
	}

	handler := api.NewReviewHandler(api.ReviewDeps{
		Session:   session,
		Frames:    fr,
		Keys:      cfg.Keys,
		TablePath: store.Path(),
		Logger:    slog.Default(),
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return srv, session, nil
}

func runServer(cfg config.Config, tablePath string, withMCP bool) error {
	fmt.Fprintf(stderr, "swtanno version %s\n", version)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fr := frames.NewFFmpeg(cfg.Frames.FFmpegPath, cfg.Frames.Width)
	if err := fr.EnsureReady(ctx, stderr); err != nil {
		printWarning("frames unavailable, review continues without images: %v", err)
	}

	srv, session, err := newReviewServer(cfg, tablePath, fr)
	if err != nil {
		return err
	}
	srv.BaseContext = func(_ net.Listener) context.Context { return ctx }

	st := session.State()
	slog.Info("review session started",
		"session", st.SessionID,
		"table", tablePath,
		"records", st.Total,
		"annotated", st.Annotated,
		"index", st.Index,
	)
	if st.Done {
		printWarning("all %d records are already annotated", st.Total)
	}

	if withMCP {
		mcpSrv := api.NewMCPServer(api.MCPDeps{Session: session, Version: version})
		stdioSrv := server.NewStdioServer(mcpSrv)
		go func() {
			if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
		}()
		slog.Info("MCP server started (stdio transport)")
	}

	// Start server in a goroutine.
	errCh := make(chan error, 1)
	go func() {
		printSuccess("Review UI at http://%s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for signal or server error.
	select {
	case <-ctx.Done():
		fmt.Fprintln(stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	// Graceful shutdown with timeout.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
