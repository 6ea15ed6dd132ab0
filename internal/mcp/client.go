package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/nugget/hive-nexus/internal/buildinfo"
	"github.com/nugget/hive-nexus/internal/config"
)

// ToolDefinition is one tool a server offers, with its input schema as
// a plain JSON Schema object.
type ToolDefinition struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// Client speaks to a single MCP server.
type Client struct {
	name   string
	c      *mcpclient.Client
	logger *slog.Logger
}

// Open starts the configured transport and performs the initialize
// handshake. The caller must Close the client.
func Open(ctx context.Context, cfg config.MCPServerConfig, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("mcp_server", cfg.Name)

	var (
		c   *mcpclient.Client
		err error
	)
	switch cfg.Transport {
	case "stdio":
		// The subprocess starts here.
		c, err = mcpclient.NewStdioMCPClient(cfg.Command, cfg.Env, cfg.Args...)
	case "http":
		c, err = mcpclient.NewStreamableHttpClient(cfg.URL, transport.WithHTTPHeaders(cfg.Headers))
		if err == nil {
			err = c.Start(ctx)
		}
	default:
		err = fmt.Errorf("unknown transport %q", cfg.Transport)
	}
	if err != nil {
		if c != nil {
			c.Close()
		}
		return nil, fmt.Errorf("mcp server %s: %w", cfg.Name, err)
	}

	req := mcp.InitializeRequest{}
	req.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	req.Params.ClientInfo = mcp.Implementation{Name: "nexus", Version: buildinfo.Version}
	res, err := c.Initialize(ctx, req)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("mcp server %s: initialize: %w", cfg.Name, err)
	}
	logger.Info("mcp server initialized",
		"server_name", res.ServerInfo.Name,
		"server_version", res.ServerInfo.Version,
		"protocol_version", res.ProtocolVersion,
	)
	return &Client{name: cfg.Name, c: c, logger: logger}, nil
}

// Name returns the configured server name.
func (c *Client) Name() string { return c.name }

// ListTools returns every tool the server offers, following pagination.
func (c *Client) ListTools(ctx context.Context) ([]ToolDefinition, error) {
	var out []ToolDefinition
	var cursor mcp.Cursor
	for {
		req := mcp.ListToolsRequest{}
		req.Params.Cursor = cursor
		page, err := c.c.ListTools(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("tools/list: %w", err)
		}
		for _, t := range page.Tools {
			out = append(out, ToolDefinition{
				Name:        t.Name,
				Description: t.Description,
				InputSchema: inputSchema(t),
			})
		}
		if page.NextCursor == "" || page.NextCursor == cursor {
			return out, nil
		}
		cursor = page.NextCursor
	}
}

// inputSchema returns the tool's schema as a generic object. A missing
// or typeless schema becomes {"type": "object"}.
func inputSchema(t mcp.Tool) map[string]any {
	var wire struct {
		InputSchema map[string]any `json:"inputSchema"`
	}
	if raw, err := json.Marshal(t); err == nil {
		_ = json.Unmarshal(raw, &wire)
	}
	s := wire.InputSchema
	if s == nil {
		s = map[string]any{}
	}
	if typ, _ := s["type"].(string); typ == "" {
		s["type"] = "object"
	}
	return s
}

// CallTool invokes a tool and returns its flattened content: text
// blocks joined by newlines, anything else as a [type] marker. A result
// flagged isError comes back as an error carrying that text.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	if args == nil {
		args = map[string]any{}
	}
	res, err := c.c.CallTool(ctx, mcp.CallToolRequest{
		Params: mcp.CallToolParams{Name: name, Arguments: args},
	})
	if err != nil {
		return "", fmt.Errorf("tools/call %s: %w", name, err)
	}

	parts := make([]string, 0, len(res.Content))
	for _, block := range res.Content {
		switch b := block.(type) {
		case mcp.TextContent:
			parts = append(parts, b.Text)
		default:
			parts = append(parts, "["+contentType(block)+"]")
		}
	}
	text := strings.Join(parts, "\n")
	if res.IsError {
		return "", fmt.Errorf("%s: %s", name, text)
	}
	return text, nil
}

func contentType(block mcp.Content) string {
	var wire struct {
		Type string `json:"type"`
	}
	if raw, err := json.Marshal(block); err == nil {
		_ = json.Unmarshal(raw, &wire)
	}
	if wire.Type == "" {
		return "content"
	}
	return wire.Type
}

// Ping checks that the server still answers.
func (c *Client) Ping(ctx context.Context) error {
	return c.c.Ping(ctx)
}

// Close shuts the connection; a stdio server is terminated.
func (c *Client) Close() error {
	return c.c.Close()
}
