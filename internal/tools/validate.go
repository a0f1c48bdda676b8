package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"go/parser"
	"go/scanner"
	"go/token"

	"gopkg.in/yaml.v3"
)

// ValidateSyntaxTool checks syntax for a small set of known languages,
// treating an unrecognized language as valid-with-warning rather than an
// error (SPEC_FULL.md §4.1).
type ValidateSyntaxTool struct{}

type syntaxError struct {
	Line    int    `json:"line"`
	Column  int    `json:"column"`
	Message string `json:"message"`
}

func (t *ValidateSyntaxTool) Name() string { return "validate_syntax" }
func (t *ValidateSyntaxTool) Description() string {
	return "Check a source snippet for syntax errors in a given language."
}
func (t *ValidateSyntaxTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"language":{"type":"string"},"content":{"type":"string"}},"required":["language","content"]}`)
}

func (t *ValidateSyntaxTool) Call(ctx context.Context, cwd string, raw json.RawMessage) Result {
	var args struct {
		Language string `json:"language"`
		Content  string `json:"content"`
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return Result{Error: fmt.Errorf("validate_syntax: invalid arguments: %w", err)}
	}

	switch args.Language {
	case "go":
		return validateGo(args.Content)
	case "json":
		return validateJSON(args.Content)
	case "yaml":
		return validateYAML(args.Content)
	default:
		return Result{Data: map[string]any{
			"valid":  true,
			"errors": []syntaxError{{Message: fmt.Sprintf("no syntax checker for language %q; skipped", args.Language)}},
		}}
	}
}

func validateGo(content string) Result {
	fset := token.NewFileSet()
	_, err := parser.ParseFile(fset, "snippet.go", content, parser.AllErrors)
	if err == nil {
		return Result{Data: map[string]any{"valid": true, "errors": []syntaxError{}}}
	}

	var errs []syntaxError
	if list, ok := err.(scanner.ErrorList); ok {
		for _, e := range list {
			errs = append(errs, syntaxError{Line: e.Pos.Line, Column: e.Pos.Column, Message: e.Msg})
		}
	} else {
		errs = append(errs, syntaxError{Message: err.Error()})
	}
	return Result{Data: map[string]any{"valid": false, "errors": errs}}
}

func validateJSON(content string) Result {
	var v any
	if err := json.Unmarshal([]byte(content), &v); err != nil {
		return Result{Data: map[string]any{"valid": false, "errors": []syntaxError{{Message: err.Error()}}}}
	}
	return Result{Data: map[string]any{"valid": true, "errors": []syntaxError{}}}
}

func validateYAML(content string) Result {
	var v any
	if err := yaml.Unmarshal([]byte(content), &v); err != nil {
		msg := err.Error()
		line := 0
		if te, ok := err.(*yaml.TypeError); ok && len(te.Errors) > 0 {
			msg = te.Errors[0]
		}
		return Result{Data: map[string]any{"valid": false, "errors": []syntaxError{{Line: line, Message: msg}}}}
	}
	return Result{Data: map[string]any{"valid": true, "errors": []syntaxError{}}}
}
