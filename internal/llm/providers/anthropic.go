// Package providers implements concrete llm.Provider adapters: Anthropic,
// an OpenAI-compatible adapter (also used for Venice), and AWS Bedrock.
package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/ocotilloai/kestrel/internal/llm"
	"github.com/ocotilloai/kestrel/internal/retry"
)

// AnthropicConfig configures an AnthropicProvider.
type AnthropicConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	MaxRetries   int
	RetryDelay   time.Duration
}

// AnthropicProvider implements llm.Provider against Anthropic's Messages
// API, using the native SDK's tool-use support.
type AnthropicProvider struct {
	client       anthropic.Client
	defaultModel string
	retryConfig  retry.Config
}

// NewAnthropicProvider builds an AnthropicProvider, applying defaults for
// unset config fields.
func NewAnthropicProvider(cfg AnthropicConfig) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "claude-sonnet-4-20250514"
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &AnthropicProvider{
		client:       anthropic.NewClient(opts...),
		defaultModel: cfg.DefaultModel,
		retryConfig: retry.Config{
			MaxAttempts:  cfg.MaxRetries,
			InitialDelay: cfg.RetryDelay,
			MaxDelay:     30 * time.Second,
			Factor:       2.0,
			Jitter:       true,
		},
	}, nil
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

func (p *AnthropicProvider) Models() []llm.Model {
	return []llm.Model{
		{ID: "claude-sonnet-4-20250514", Name: "Claude Sonnet 4", ContextSize: 200000},
		{ID: "claude-opus-4-20250514", Name: "Claude Opus 4", ContextSize: 200000},
		{ID: "claude-3-5-sonnet-20241022", Name: "Claude 3.5 Sonnet", ContextSize: 200000},
		{ID: "claude-3-haiku-20240307", Name: "Claude 3 Haiku", ContextSize: 200000},
	}
}

func (p *AnthropicProvider) SupportsToolCallMessages() bool { return true }

// Complete issues a streaming Messages request. Stream creation runs inside
// retry.Do, but its operation always reports success, so a failed request
// is not retried here. It never blocks the caller past stream setup: once a
// stream is open, chunks are pushed to the returned channel as they arrive.
func (p *AnthropicProvider) Complete(ctx context.Context, req *llm.CompletionRequest) (<-chan *llm.CompletionChunk, error) {
	chunks := make(chan *llm.CompletionChunk)

	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	params, err := p.buildParams(req, model, maxTokens)
	if err != nil {
		return nil, fmt.Errorf("anthropic: %w", err)
	}

	go func() {
		defer close(chunks)

		var stream *ssestream.Stream[anthropic.MessageStreamEventUnion]
		result := retry.Do(ctx, p.retryConfig, func() error {
			stream = p.client.Messages.NewStreaming(ctx, params)
			return nil
		})
		if result.Err != nil {
			chunks <- &llm.CompletionChunk{Error: fmt.Errorf("anthropic: %w", result.Err)}
			return
		}

		p.processStream(stream, chunks)
	}()

	return chunks, nil
}

func (p *AnthropicProvider) buildParams(req *llm.CompletionRequest, model string, maxTokens int) (anthropic.MessageNewParams, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	for _, msg := range req.Messages {
		switch msg.Role {
		case "user":
			params.Messages = append(params.Messages, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		case "assistant":
			blocks := []anthropic.ContentBlockParamUnion{}
			if msg.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				var input any
				_ = json.Unmarshal(tc.Input, &input)
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
			}
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(blocks...))
		case "tool":
			blocks := []anthropic.ContentBlockParamUnion{}
			for _, tr := range msg.ToolResults {
				blocks = append(blocks, anthropic.NewToolResultBlock(tr.ToolCallID, tr.Content, tr.IsError))
			}
			params.Messages = append(params.Messages, anthropic.NewUserMessage(blocks...))
		case "system":
			params.Messages = append(params.Messages, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}

	for _, t := range req.Tools {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(t.Schema, &schema); err != nil {
			return params, fmt.Errorf("invalid schema for tool %s: %w", t.Name, err)
		}
		toolParam := anthropic.ToolUnionParamOfTool(schema, t.Name)
		toolParam.OfTool.Description = anthropic.String(t.Description)
		params.Tools = append(params.Tools, toolParam)
	}

	return params, nil
}

func (p *AnthropicProvider) processStream(stream *ssestream.Stream[anthropic.MessageStreamEventUnion], chunks chan<- *llm.CompletionChunk) {
	message := anthropic.Message{}
	toolInputBuf := map[int]string{}
	toolMeta := map[int]llm.ToolCall{}

	for stream.Next() {
		event := stream.Current()
		if err := message.Accumulate(event); err != nil {
			chunks <- &llm.CompletionChunk{Error: fmt.Errorf("anthropic: accumulate: %w", err)}
			return
		}

		switch variant := event.AsAny().(type) {
		case anthropic.ContentBlockStartEvent:
			if tu := variant.ContentBlock.AsAny(); tu != nil {
				if block, ok := tu.(anthropic.ToolUseBlock); ok {
					toolMeta[int(variant.Index)] = llm.ToolCall{ID: block.ID, Name: block.Name}
				}
			}
		case anthropic.ContentBlockDeltaEvent:
			switch delta := variant.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				chunks <- &llm.CompletionChunk{Text: delta.Text}
			case anthropic.InputJSONDelta:
				toolInputBuf[int(variant.Index)] += delta.PartialJSON
			}
		case anthropic.ContentBlockStopEvent:
			if tc, ok := toolMeta[int(variant.Index)]; ok {
				tc.Input = json.RawMessage(toolInputBuf[int(variant.Index)])
				if len(tc.Input) == 0 {
					tc.Input = json.RawMessage("{}")
				}
				chunks <- &llm.CompletionChunk{ToolCall: &tc}
			}
		}
	}

	if err := stream.Err(); err != nil {
		chunks <- &llm.CompletionChunk{Error: fmt.Errorf("anthropic: stream: %w", err)}
		return
	}
	chunks <- &llm.CompletionChunk{Done: true}
}
