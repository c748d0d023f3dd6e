// Package mcpserver exposes the sync engine to MCP clients over stdio.
//
// The server is a thin adapter: each tool maps one-to-one onto an
// engine operation, and the engine's error policy applies unchanged —
// an unknown config name is the only tool error a caller sees beyond
// malformed arguments.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/resyncd/resyncd/internal/engine"
	"github.com/resyncd/resyncd/internal/logging"
)

// Version is reported to MCP clients during initialization.
const Version = "0.3.0"

// Server wraps an MCP stdio server around the engine.
type Server struct {
	engine *engine.Engine
	logger *logging.Logger
	mcp    *server.MCPServer
}

// New creates the server and registers its tools.
func New(eng *engine.Engine, logger *logging.Logger) *Server {
	s := &Server{
		engine: eng,
		logger: logger,
		mcp:    server.NewMCPServer("resyncd", Version, server.WithToolCapabilities(false)),
	}
	s.registerTools()
	return s
}

// ServeStdio runs the server over stdin/stdout until the client
// disconnects or ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	s.logger.Info("MCP server starting", "version", Version)
	return server.ServeStdio(s.mcp, server.WithStdioContextFunc(
		func(context.Context) context.Context { return ctx },
	))
}

func (s *Server) registerTools() {
	s.mcp.AddTool(mcp.NewTool("sync_resources",
		mcp.WithDescription("Reconcile cached resource tables with the filesystem. "+
			"Without a config name, every registered config is synced."),
		mcp.WithString("config",
			mcp.Description("Scan config to sync; omit to sync all")),
	), s.handleSync)

	s.mcp.AddTool(mcp.NewTool("get_cached_data",
		mcp.WithDescription("Query a config's cached resource records. Filters are ANDed: "+
			"a scalar means equality, a list means membership, "+
			"{\"contains\": s} means substring match."),
		mcp.WithString("config", mcp.Required(),
			mcp.Description("Scan config whose table to query")),
		mcp.WithObject("filters",
			mcp.Description("Optional field filters")),
	), s.handleGetCachedData)

	s.mcp.AddTool(mcp.NewTool("get_file_by_path",
		mcp.WithDescription("Look up a single cached record by its file_path."),
		mcp.WithString("config", mcp.Required(),
			mcp.Description("Scan config whose table to query")),
		mcp.WithString("path", mcp.Required(),
			mcp.Description("Relative file path, e.g. models/model1.yaml")),
	), s.handleGetFileByPath)

	s.mcp.AddTool(mcp.NewTool("watch_resources",
		mcp.WithDescription("Start or stop live filesystem watching for configs marked watchable."),
		mcp.WithString("action", mcp.Required(),
			mcp.Description("\"start\" or \"stop\""),
			mcp.Enum("start", "stop")),
	), s.handleWatch)
}

func (s *Server) handleSync(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name := req.GetString("config", "")
	if name == "" {
		return jsonResult(s.engine.SyncAll(ctx))
	}

	stats, err := s.engine.SyncConfig(ctx, name)
	if err != nil {
		if errors.Is(err, engine.ErrConfigNotFound) {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return nil, err
	}
	return jsonResult(map[string]*engine.SyncStats{name: stats})
}

func (s *Server) handleGetCachedData(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("config")
	if err != nil {
		return mcp.NewToolResultError("config is required"), nil
	}

	var filters map[string]any
	if raw, ok := req.GetArguments()["filters"]; ok {
		filters, ok = raw.(map[string]any)
		if !ok {
			return mcp.NewToolResultError("filters must be an object"), nil
		}
	}

	records, err := s.engine.GetCachedData(ctx, name, filters)
	if err != nil {
		if errors.Is(err, engine.ErrConfigNotFound) {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return nil, err
	}
	return jsonResult(records)
}

func (s *Server) handleGetFileByPath(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("config")
	if err != nil {
		return mcp.NewToolResultError("config is required"), nil
	}
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError("path is required"), nil
	}

	rec, err := s.engine.GetFileByPath(ctx, name, path)
	if err != nil {
		if errors.Is(err, engine.ErrConfigNotFound) {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return nil, err
	}
	if rec == nil {
		return mcp.NewToolResultText("null"), nil
	}
	return jsonResult(rec)
}

func (s *Server) handleWatch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	action, err := req.RequireString("action")
	if err != nil {
		return mcp.NewToolResultError("action is required"), nil
	}

	var changed bool
	switch action {
	case "start":
		changed = s.engine.StartWatching()
	case "stop":
		changed = s.engine.StopWatching()
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown action %q", action)), nil
	}

	return jsonResult(map[string]any{
		"action":   action,
		"changed":  changed,
		"watching": s.engine.IsWatching(),
	})
}

// jsonResult marshals v as indented JSON tool output.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}
