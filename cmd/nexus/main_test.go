package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nugget/hive-nexus/internal/config"
)

func TestRun_Usage(t *testing.T) {
	for _, args := range [][]string{nil, {"-h"}, {"--help"}} {
		var out bytes.Buffer
		if err := run(context.Background(), &out, &out, args); err != nil {
			t.Fatalf("run(%v): %v", args, err)
		}
		if !strings.Contains(out.String(), "Usage: nexus") {
			t.Errorf("run(%v) output = %q, want usage", args, out.String())
		}
	}
}

func TestRun_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"unknown command", []string{"frobnicate"}, "unknown command: frobnicate"},
		{"unknown flag", []string{"--frob", "version"}, "unknown flag: --frob"},
		{"bad output format", []string{"-o", "xml", "version"}, "unknown output format"},
		{"ask without question", []string{"ask"}, "usage: nexus ask"},
		{"missing config", []string{"-config", "/nonexistent/nexus.yaml", "tools"}, "nexus.yaml"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			err := run(context.Background(), &out, &out, tt.args)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want it to contain %q", err, tt.want)
			}
		})
	}
}

func TestRun_Version(t *testing.T) {
	var out bytes.Buffer
	if err := run(context.Background(), &out, &out, []string{"version"}); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out.String(), "Nexus ") {
		t.Errorf("version output = %q", out.String())
	}
	if !strings.Contains(out.String(), "go_version:") {
		t.Errorf("version output missing go_version: %q", out.String())
	}
}

func TestRun_VersionJSON(t *testing.T) {
	var out bytes.Buffer
	if err := run(context.Background(), &out, &out, []string{"-o", "json", "version"}); err != nil {
		t.Fatal(err)
	}
	var info map[string]string
	if err := json.Unmarshal(out.Bytes(), &info); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out.String())
	}
	for _, k := range []string{"version", "git_commit", "go_version"} {
		if info[k] == "" {
			t.Errorf("missing %q in %v", k, info)
		}
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRun_Tools(t *testing.T) {
	ws := t.TempDir()
	cfg := writeConfig(t, `
models:
  heavyweight:
    provider: ollama
    model: llama3.2
  lightweight_local:
    provider: ollama
    model: llama3.2
  lightweight_api:
    provider: openai
    model: gpt-4o-mini
  default_lightweight_tier: lightweight_local
workspace:
  path: `+ws+`
`)

	var out bytes.Buffer
	if err := run(context.Background(), &out, &out, []string{"-config", cfg, "-o", "json", "tools"}); err != nil {
		t.Fatal(err)
	}
	var catalog []struct {
		Name        string         `json:"name"`
		Description string         `json:"description"`
		Parameters  map[string]any `json:"parameters"`
	}
	if err := json.Unmarshal(out.Bytes(), &catalog); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out.String())
	}

	got := map[string]bool{}
	for _, e := range catalog {
		got[e.Name] = true
		if e.Description == "" || e.Parameters == nil {
			t.Errorf("tool %s has empty description or schema", e.Name)
		}
	}
	for _, want := range []string{"abacus", "get", "fetch", "steward"} {
		if !got[want] {
			t.Errorf("tool %q not registered; catalog = %v", want, got)
		}
	}
	if got["seeker"] {
		t.Error("seeker registered without a search provider")
	}
}

func TestRun_ToolsRejectsUnknownProvider(t *testing.T) {
	cfg := writeConfig(t, `
models:
  heavyweight:
    provider: anthropic
    model: claude
`)
	var out bytes.Buffer
	err := run(context.Background(), &out, &out, []string{"-config", cfg, "tools"})
	if err == nil || !strings.Contains(err.Error(), "unsupported provider") {
		t.Fatalf("err = %v, want unsupported provider", err)
	}
}

func TestNewLogger_ColorFallsBackWhenRedirected(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, config.LevelTrace, "color")
	logger.Log(context.Background(), config.LevelTrace, "probe", "tool", "abacus")

	out := buf.String()
	if strings.Contains(out, "\x1b[") {
		t.Errorf("escape codes written to a non-terminal: %q", out)
	}
	if !strings.Contains(out, "probe") || !strings.Contains(out, "tool=abacus") {
		t.Errorf("output = %q", out)
	}
}
