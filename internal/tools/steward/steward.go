// Package steward provides workspace-scoped file access: read a file,
// write a file, or list a directory.
package steward

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/nugget/hive-nexus/internal/tools"
)

// Name is the registered tool name.
const Name = "steward"

// Operations understood by the tool.
const (
	OpReadFile      = "read_file"
	OpWriteFile     = "write_file"
	OpListDirectory = "list_directory"
)

// maxReadBytes bounds a single read. Larger files are cut and marked;
// the reflection stage condenses whatever still exceeds its limit.
const maxReadBytes = 256 * 1024

// Args is the steward argument object.
type Args struct {
	Operation  string `json:"operation" jsonschema:"enum=read_file,enum=write_file,enum=list_directory,description=File operation to perform"`
	Parameters Params `json:"parameters" jsonschema:"description=Operation parameters"`
}

// Params holds the per-operation parameters.
type Params struct {
	Path    string `json:"path" jsonschema:"description=Path relative to the workspace. ~ refers to the workspace root."`
	Content string `json:"content,omitempty" jsonschema:"description=Content to write (write_file only)"`
}

// Steward performs file operations confined to a workspace directory.
type Steward struct {
	workspace string
}

// New creates a Steward rooted at workspace. The directory is created
// if it does not exist.
func New(workspace string) (*Steward, error) {
	if workspace == "" {
		return nil, errors.New("workspace not configured")
	}
	abs, err := filepath.Abs(workspace)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	return &Steward{workspace: abs}, nil
}

func (s *Steward) Name() string { return Name }

func (s *Steward) Description() string {
	return "Read a file, write a file, or list a directory inside the workspace. " +
		"Use operation read_file, write_file or list_directory with parameters.path; " +
		"write_file also takes parameters.content."
}

func (s *Steward) Parameters() map[string]any { return tools.SchemaFor[Args]() }

// Invoke dispatches on the requested operation.
func (s *Steward) Invoke(ctx context.Context, raw map[string]any) (any, error) {
	args, err := tools.Decode[Args](raw)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch args.Operation {
	case OpReadFile:
		content, err := s.Read(args.Parameters.Path)
		if err != nil {
			return nil, err
		}
		return map[string]any{"file_content": content}, nil

	case OpWriteFile:
		path, err := s.Write(args.Parameters.Path, args.Parameters.Content)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"write_status":   "success",
			"path":           path,
			"content_length": len(args.Parameters.Content),
		}, nil

	case OpListDirectory:
		entries, err := s.List(args.Parameters.Path)
		if err != nil {
			return nil, err
		}
		return map[string]any{"directory_listing": entries}, nil
	}
	return nil, fmt.Errorf("unsupported operation %q", args.Operation)
}

// resolvePath maps a caller path into the workspace. It returns the
// absolute path and the workspace-relative path, or an error if the
// result would escape the workspace.
func (s *Steward) resolvePath(path string) (string, string, error) {
	if path == "" {
		return "", "", errors.New("path is required")
	}
	switch {
	case path == "~":
		path = "."
	case strings.HasPrefix(path, "~/"):
		path = path[2:]
	}

	var abs string
	if filepath.IsAbs(path) {
		abs = filepath.Clean(path)
	} else {
		abs = filepath.Join(s.workspace, path)
	}

	rel, err := filepath.Rel(s.workspace, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", "", fmt.Errorf("path escapes workspace: %s", path)
	}
	return abs, rel, nil
}

// Read returns the contents of a file.
func (s *Steward) Read(path string) (string, error) {
	abs, _, err := s.resolvePath(path)
	if err != nil {
		return "", err
	}

	f, err := os.Open(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("file not found: %s", path)
		}
		return "", fmt.Errorf("read file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("stat file: %w", err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%s is a directory", path)
	}

	data, err := io.ReadAll(io.LimitReader(f, maxReadBytes+1))
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	if len(data) > maxReadBytes {
		return string(data[:maxReadBytes]) + "\n\n[... truncated ...]", nil
	}
	return string(data), nil
}

// Write writes content to a file, creating parent directories as
// needed, and returns the workspace-relative path written.
func (s *Steward) Write(path, content string) (string, error) {
	abs, rel, err := s.resolvePath(path)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", fmt.Errorf("create directory: %w", err)
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	return filepath.ToSlash(rel), nil
}

// List returns the entries of a directory, sorted, with a trailing
// slash on subdirectories.
func (s *Steward) List(path string) ([]string, error) {
	if path == "" {
		path = "."
	}
	abs, _, err := s.resolvePath(path)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("directory not found: %s", path)
		}
		return nil, fmt.Errorf("read directory: %w", err)
	}

	result := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		result = append(result, name)
	}
	sort.Strings(result)
	return result, nil
}
