package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
)

// ListDirTool lists directory entries (sorted) confined to the session cwd.
type ListDirTool struct{}

func (t *ListDirTool) Name() string        { return "list_dir" }
func (t *ListDirTool) Description() string { return "List entries in a directory relative to the session's working directory." }
func (t *ListDirTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"path":{"type":"string"}},"required":["path"]}`)
}

func (t *ListDirTool) Call(ctx context.Context, cwd string, raw json.RawMessage) Result {
	var args struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return Result{Error: fmt.Errorf("list_dir: invalid arguments: %w", err)}
	}

	resolved, err := ResolveConfined(cwd, args.Path)
	if err != nil {
		return Result{Error: err}
	}

	entries, err := os.ReadDir(resolved)
	if err != nil {
		return Result{Data: map[string]any{"path": args.Path, "error": err.Error()}}
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)

	return Result{Data: map[string]any{"path": args.Path, "entries": names}}
}

// ReadFileTool reads a file's content as UTF-8, replacing invalid bytes.
type ReadFileTool struct{}

func (t *ReadFileTool) Name() string        { return "read_file" }
func (t *ReadFileTool) Description() string { return "Read a file's content, relative to the session's working directory." }
func (t *ReadFileTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"path":{"type":"string"}},"required":["path"]}`)
}

func (t *ReadFileTool) Call(ctx context.Context, cwd string, raw json.RawMessage) Result {
	var args struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return Result{Error: fmt.Errorf("read_file: invalid arguments: %w", err)}
	}

	resolved, err := ResolveConfined(cwd, args.Path)
	if err != nil {
		return Result{Error: err}
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return Result{Data: map[string]any{"path": args.Path, "error": err.Error()}}
	}

	content := strings.ToValidUTF8(string(data), "�")
	return Result{Data: map[string]any{"path": args.Path, "content": content}}
}

// WriteFileTool creates or overwrites a file, confined to the session cwd.
type WriteFileTool struct{}

func (t *WriteFileTool) Name() string        { return "write_file" }
func (t *WriteFileTool) Description() string { return "Write (overwrite) a file's content, relative to the session's working directory." }
func (t *WriteFileTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"path":{"type":"string"},"content":{"type":"string"}},"required":["path","content"]}`)
}

func (t *WriteFileTool) Call(ctx context.Context, cwd string, raw json.RawMessage) Result {
	var args struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return Result{Error: fmt.Errorf("write_file: invalid arguments: %w", err)}
	}

	resolved, err := ResolveConfined(cwd, args.Path)
	if err != nil {
		return Result{Error: err}
	}

	if err := os.WriteFile(resolved, []byte(args.Content), 0o644); err != nil {
		return Result{Data: map[string]any{"path": args.Path, "error": err.Error()}}
	}

	return Result{Data: map[string]any{"path": args.Path, "bytes_written": len(args.Content)}}
}

// AppendFileTool appends content to a file, creating it if absent.
type AppendFileTool struct{}

func (t *AppendFileTool) Name() string        { return "append_file" }
func (t *AppendFileTool) Description() string { return "Append content to a file, relative to the session's working directory." }
func (t *AppendFileTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"path":{"type":"string"},"content":{"type":"string"}},"required":["path","content"]}`)
}

func (t *AppendFileTool) Call(ctx context.Context, cwd string, raw json.RawMessage) Result {
	var args struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return Result{Error: fmt.Errorf("append_file: invalid arguments: %w", err)}
	}

	resolved, err := ResolveConfined(cwd, args.Path)
	if err != nil {
		return Result{Error: err}
	}

	f, err := os.OpenFile(resolved, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return Result{Data: map[string]any{"path": args.Path, "error": err.Error()}}
	}
	defer f.Close()

	n, err := f.WriteString(args.Content)
	if err != nil {
		return Result{Data: map[string]any{"path": args.Path, "error": err.Error()}}
	}

	return Result{Data: map[string]any{"path": args.Path, "bytes_written": n}}
}
