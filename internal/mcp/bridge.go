package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"strings"

	"github.com/nugget/hive-nexus/internal/config"
	"github.com/nugget/hive-nexus/internal/tools"
)

var unsafeChars = regexp.MustCompile(`[^a-z0-9_]+`)

// ToolName namespaces a remote tool as mcp_<server>_<tool>, lowercased
// with anything outside [a-z0-9_] collapsed to one underscore.
func ToolName(server, tool string) string {
	return "mcp_" + sanitize(server) + "_" + sanitize(tool)
}

func sanitize(s string) string {
	return strings.Trim(unsafeChars.ReplaceAllString(strings.ToLower(s), "_"), "_")
}

// remoteTool proxies a registry tool to an MCP server.
type remoteTool struct {
	client *Client
	name   string
	remote string
	desc   string
	schema map[string]any
}

func (t *remoteTool) Name() string               { return t.name }
func (t *remoteTool) Description() string        { return t.desc }
func (t *remoteTool) Parameters() map[string]any { return t.schema }

func (t *remoteTool) Invoke(ctx context.Context, args map[string]any) (any, error) {
	return t.client.CallTool(ctx, t.remote, args)
}

// Bridge lists the server's tools and registers the ones cfg selects.
// A tool whose schema the registry rejects is skipped with a warning.
// It returns the registered names.
func Bridge(ctx context.Context, c *Client, cfg config.MCPServerConfig, reg *tools.Registry, logger *slog.Logger) ([]string, error) {
	if logger == nil {
		logger = slog.Default()
	}
	defs, err := c.ListTools(ctx)
	if err != nil {
		return nil, fmt.Errorf("mcp server %s: %w", c.Name(), err)
	}

	var names []string
	for _, d := range defs {
		if !selected(d.Name, cfg.Include, cfg.Exclude) {
			continue
		}
		schema := d.InputSchema
		if len(schema) == 0 {
			schema = map[string]any{"type": "object"}
		}
		desc := d.Description
		if desc == "" {
			desc = d.Name + " (via " + c.Name() + ")"
		}
		t := &remoteTool{client: c, name: ToolName(c.Name(), d.Name), remote: d.Name, desc: desc, schema: schema}
		if err := reg.Register(t); err != nil {
			logger.Warn("mcp tool not bridged", "server", c.Name(), "tool", d.Name, "error", err)
			continue
		}
		names = append(names, t.name)
	}
	logger.Info("mcp tools bridged", "server", c.Name(), "offered", len(defs), "registered", len(names))
	return names, nil
}

func selected(name string, include, exclude []string) bool {
	if len(include) > 0 {
		return slices.Contains(include, name)
	}
	return !slices.Contains(exclude, name)
}
