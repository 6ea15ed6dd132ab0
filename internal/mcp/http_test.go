package mcp

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/mark3labs/mcp-go/client/transport"

	"github.com/nugget/hive-nexus/internal/config"
	"github.com/nugget/hive-nexus/internal/tools"
)

type fakeHTTPServer struct {
	*httptest.Server
	sse bool

	mu       sync.Mutex
	sessions []string // Mcp-Session-Id seen on each request
	notified bool
}

func newFakeHTTPServer(t *testing.T, sse bool) *fakeHTTPServer {
	t.Helper()
	f := &fakeHTTPServer{sse: sse}
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		body, _ := io.ReadAll(r.Body)

		f.mu.Lock()
		f.sessions = append(f.sessions, r.Header.Get(transport.HeaderKeySessionID))
		f.mu.Unlock()

		resp, ok := handle(body)
		if !ok {
			f.mu.Lock()
			f.notified = true
			f.mu.Unlock()
			w.WriteHeader(http.StatusAccepted)
			return
		}
		w.Header().Set(transport.HeaderKeySessionID, "sess-1")
		if f.sse {
			w.Header().Set("Content-Type", "text/event-stream")
			fmt.Fprintf(w, "event: message\ndata: {\"jsonrpc\":\"2.0\",\"method\":\"notifications/progress\"}\n\n")
			fmt.Fprintf(w, "event: message\ndata: %s\n\n", resp)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(resp)
	}))
	t.Cleanup(f.Close)
	return f
}

func openHTTP(t *testing.T, f *fakeHTTPServer) (*Client, config.MCPServerConfig) {
	t.Helper()
	cfg := config.MCPServerConfig{
		Name:      "remote-box",
		Transport: "http",
		URL:       f.URL,
		Headers:   map[string]string{"Authorization": "Bearer secret"},
	}
	c, err := Open(context.Background(), cfg, quiet())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c, cfg
}

func TestHTTP_BridgeAndInvoke(t *testing.T) {
	for _, sse := range []bool{false, true} {
		t.Run(fmt.Sprintf("sse=%v", sse), func(t *testing.T) {
			f := newFakeHTTPServer(t, sse)
			c, cfg := openHTTP(t, f)

			reg := tools.NewRegistry()
			names, err := Bridge(context.Background(), c, cfg, reg, quiet())
			if err != nil {
				t.Fatalf("Bridge: %v", err)
			}
			want := []string{"mcp_remote_box_echo", "mcp_remote_box_fail", "mcp_remote_box_slow_tool"}
			if strings.Join(names, ",") != strings.Join(want, ",") {
				t.Fatalf("names = %v, want %v", names, want)
			}

			echo, ok := reg.Get("mcp_remote_box_echo")
			if !ok {
				t.Fatal("echo not registered")
			}
			if err := reg.Validate("mcp_remote_box_echo", map[string]any{}); err == nil {
				t.Error("remote schema not enforced: missing text accepted")
			}
			out, err := echo.Invoke(context.Background(), map[string]any{"text": "hello"})
			if err != nil {
				t.Fatalf("Invoke: %v", err)
			}
			if out != "hello\n[image]" {
				t.Errorf("out = %q", out)
			}

			fail, _ := reg.Get("mcp_remote_box_fail")
			if _, err := fail.Invoke(context.Background(), nil); err == nil || !strings.Contains(err.Error(), "backend unavailable") {
				t.Errorf("fail err = %v", err)
			}
		})
	}
}

func TestHTTP_SessionAndHandshake(t *testing.T) {
	f := newFakeHTTPServer(t, false)
	c, _ := openHTTP(t, f)
	if err := c.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.notified {
		t.Error("initialized notification not sent")
	}
	if f.sessions[0] != "" {
		t.Errorf("first request carried session %q", f.sessions[0])
	}
	if last := f.sessions[len(f.sessions)-1]; last != "sess-1" {
		t.Errorf("later request session = %q, want sess-1", last)
	}
}

func TestHTTP_RPCError(t *testing.T) {
	f := newFakeHTTPServer(t, false)
	c, _ := openHTTP(t, f)

	_, err := c.CallTool(context.Background(), "nope", nil)
	if err == nil || !strings.Contains(err.Error(), "unknown tool") {
		t.Fatalf("err = %v, want the server's error message", err)
	}
}

func TestHTTP_Unauthorized(t *testing.T) {
	f := newFakeHTTPServer(t, false)
	_, err := Open(context.Background(), config.MCPServerConfig{Name: "x", Transport: "http", URL: f.URL}, quiet())
	if err == nil || !strings.Contains(err.Error(), "mcp server x") {
		t.Fatalf("err = %v, want a wrapped initialize failure", err)
	}
}

func TestBridge_IncludeExclude(t *testing.T) {
	tests := []struct {
		name    string
		include []string
		exclude []string
		want    []string
	}{
		{"all", nil, nil, []string{"mcp_remote_box_echo", "mcp_remote_box_fail", "mcp_remote_box_slow_tool"}},
		{"include", []string{"echo"}, nil, []string{"mcp_remote_box_echo"}},
		{"exclude", nil, []string{"fail", "Slow-Tool"}, []string{"mcp_remote_box_echo"}},
		{"include wins", []string{"fail"}, []string{"fail"}, []string{"mcp_remote_box_fail"}},
	}
	f := newFakeHTTPServer(t, false)
	c, cfg := openHTTP(t, f)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := cfg
			cfg.Include, cfg.Exclude = tt.include, tt.exclude
			names, err := Bridge(context.Background(), c, cfg, tools.NewRegistry(), quiet())
			if err != nil {
				t.Fatal(err)
			}
			if strings.Join(names, ",") != strings.Join(tt.want, ",") {
				t.Errorf("names = %v, want %v", names, tt.want)
			}
		})
	}
}

func TestBridge_SkipsCollisions(t *testing.T) {
	f := newFakeHTTPServer(t, false)
	c, cfg := openHTTP(t, f)

	reg := tools.NewRegistry()
	taken := tools.NewFunc("mcp_remote_box_echo", "already here", nil, func(context.Context, map[string]any) (any, error) { return nil, nil })
	if err := reg.Register(taken); err != nil {
		t.Fatal(err)
	}
	names, err := Bridge(context.Background(), c, cfg, reg, quiet())
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 2 {
		t.Errorf("names = %v, want the two non-colliding tools", names)
	}
	if got, _ := reg.Get("mcp_remote_box_echo"); got != taken {
		t.Error("existing tool was replaced")
	}
}

func TestToolName(t *testing.T) {
	tests := []struct{ server, tool, want string }{
		{"home-assistant", "get_entities", "mcp_home_assistant_get_entities"},
		{"My Server", "Do Thing", "mcp_my_server_do_thing"},
		{"a--b", "c--d", "mcp_a_b_c_d"},
		{"special!@#", "chars$%^", "mcp_special_chars"},
		{"_x_", "UPPER", "mcp_x_upper"},
	}
	for _, tt := range tests {
		if got := ToolName(tt.server, tt.tool); got != tt.want {
			t.Errorf("ToolName(%q, %q) = %q, want %q", tt.server, tt.tool, got, tt.want)
		}
	}
}
