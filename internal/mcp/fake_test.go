package mcp

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"
)

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeTools is the catalog every fake server offers, in wire form.
var fakeTools = []map[string]any{
	{
		"name":        "echo",
		"description": "Echo the text back.",
		"inputSchema": map[string]any{
			"type":       "object",
			"properties": map[string]any{"text": map[string]any{"type": "string"}},
			"required":   []any{"text"},
		},
	},
	{"name": "fail", "description": "Always reports an error.", "inputSchema": map[string]any{"type": "object"}},
	{"name": "Slow-Tool", "description": "Sleeps for args.ms milliseconds.", "inputSchema": map[string]any{"type": "object"}},
}

// handle answers one decoded JSON-RPC call the way a small MCP server
// would. Notifications return ok=false.
func handle(raw []byte) (resp []byte, ok bool) {
	var req struct {
		ID     *int64         `json:"id"`
		Method string         `json:"method"`
		Params map[string]any `json:"params"`
	}
	if err := json.Unmarshal(raw, &req); err != nil || req.ID == nil {
		return nil, false
	}

	out := map[string]any{"jsonrpc": "2.0", "id": *req.ID}
	switch req.Method {
	case "initialize":
		out["result"] = map[string]any{
			"protocolVersion": "2024-11-05",
			"serverInfo":      map[string]any{"name": "fake", "version": "0.1"},
			"capabilities":    map[string]any{"tools": map[string]any{}},
		}
	case "ping":
		out["result"] = map[string]any{}
	case "tools/list":
		// Two pages to exercise the cursor.
		if req.Params["cursor"] == "page2" {
			out["result"] = map[string]any{"tools": fakeTools[2:]}
		} else {
			out["result"] = map[string]any{"tools": fakeTools[:2], "nextCursor": "page2"}
		}
	case "tools/call":
		args, _ := req.Params["arguments"].(map[string]any)
		switch req.Params["name"] {
		case "echo":
			out["result"] = map[string]any{"content": []any{
				map[string]any{"type": "text", "text": fmt.Sprint(args["text"])},
				map[string]any{"type": "image", "data": "AAAA", "mimeType": "image/png"},
			}}
		case "fail":
			out["result"] = map[string]any{"isError": true, "content": []any{
				map[string]any{"type": "text", "text": "backend unavailable"},
			}}
		case "Slow-Tool":
			ms, _ := args["ms"].(float64)
			time.Sleep(time.Duration(ms) * time.Millisecond)
			out["result"] = map[string]any{"content": []any{map[string]any{"type": "text", "text": "slept"}}}
		default:
			out["error"] = map[string]any{"code": -32602, "message": "unknown tool"}
		}
	default:
		out["error"] = map[string]any{"code": -32601, "message": "method not found"}
	}
	b, _ := json.Marshal(out)
	return b, true
}
