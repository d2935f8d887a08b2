package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/swtanno/internal/annotate"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Session Reviewer
	Version string
}

// NewMCPServer creates an MCP server exposing the review session as tools.
// It shares the session with the web UI, so both see the same record.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	version := deps.Version
	if version == "" {
		version = "dev"
	}
	s := server.NewMCPServer(
		"swtanno",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("swtanno: review OCR text and scene labels of video frames one record at a time."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("review_state",
			mcp.WithDescription("Return the current record under review and the progress through the table."),
		),
		mcpReviewState(deps),
	)

	actions := []struct {
		action annotate.Action
		desc   string
	}{
		{annotate.ActionContinue, "Accept the current record (OCR accepted unless rejected) and move to the next one."},
		{annotate.ActionReject, "Toggle rejection of the current record's OCR text. Nothing is saved until the record is completed."},
		{annotate.ActionSwap, "Swap the current scene label between chyron and credits."},
		{annotate.ActionDelete, "Mark the current record as invalid and move to the next one."},
		{annotate.ActionUndo, "Reopen the previous record for review, clearing its decisions."},
	}
	for _, a := range actions {
		s.AddTool(
			mcp.NewTool("review_"+string(a.action), mcp.WithDescription(a.desc)),
			mcpReviewAction(deps, a.action),
		)
	}

	s.AddResource(
		mcp.NewResource(
			"review://progress",
			"Review Progress",
			mcp.WithResourceDescription("Index, total and annotated counts of the review session"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceProgress(deps),
	)

	return s
}

func mcpReviewState(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		b, err := json.Marshal(deps.Session.State())
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal state: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpReviewAction(deps MCPDeps, a annotate.Action) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if err := deps.Session.Apply(a); err != nil {
			if errors.Is(err, annotate.ErrDone) {
				return mcpError("all records annotated"), nil
			}
			return mcpError(fmt.Sprintf("%s failed: %v", a, err)), nil
		}
		b, err := json.Marshal(deps.Session.State())
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal state: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceProgress(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		st := deps.Session.State()
		progress := struct {
			SessionID string `json:"session_id"`
			Index     int    `json:"index"`
			Total     int    `json:"total"`
			Annotated int    `json:"annotated"`
			Done      bool   `json:"done"`
		}{st.SessionID, st.Index, st.Total, st.Annotated, st.Done}

		b, err := json.Marshal(progress)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal progress: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
