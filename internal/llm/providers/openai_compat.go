package providers

import (
	"context"
	"encoding/json"
	"errors"
	"io"

	openai "github.com/sashabaranov/go-openai"

	"github.com/ocotilloai/kestrel/internal/llm"
)

// OpenAICompatConfig configures an OpenAI-compatible provider. Setting
// BaseURL to Venice's endpoint and Label to "venice" turns this into the
// Venice adapter described in SPEC_FULL.md §4.2 — Venice's API is a
// straight OpenAI-schema proxy, so no separate wire protocol is needed.
type OpenAICompatConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	Label        string
}

const veniceBaseURL = "https://api.venice.ai/api/v1"

// NewVeniceConfig returns the OpenAICompatConfig for Venice AI with its
// documented base URL.
func NewVeniceConfig(apiKey, defaultModel string) OpenAICompatConfig {
	if defaultModel == "" {
		defaultModel = "llama-3.3-70b"
	}
	return OpenAICompatConfig{APIKey: apiKey, BaseURL: veniceBaseURL, DefaultModel: defaultModel, Label: "venice"}
}

// OpenAICompatProvider implements llm.Provider against any endpoint that
// speaks the OpenAI chat-completions wire format.
type OpenAICompatProvider struct {
	client       *openai.Client
	defaultModel string
	label        string
}

// NewOpenAICompatProvider builds a provider. When cfg.BaseURL is empty the
// default OpenAI endpoint is used.
func NewOpenAICompatProvider(cfg OpenAICompatConfig) (*OpenAICompatProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai: API key is required")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "gpt-4o"
	}
	if cfg.Label == "" {
		cfg.Label = "openai"
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &OpenAICompatProvider{
		client:       openai.NewClientWithConfig(clientCfg),
		defaultModel: cfg.DefaultModel,
		label:        cfg.Label,
	}, nil
}

func (p *OpenAICompatProvider) Name() string { return p.label }

func (p *OpenAICompatProvider) Models() []llm.Model {
	return []llm.Model{{ID: p.defaultModel, Name: p.defaultModel, ContextSize: 128000}}
}

func (p *OpenAICompatProvider) SupportsToolCallMessages() bool { return true }

func (p *OpenAICompatProvider) Complete(ctx context.Context, req *llm.CompletionRequest) (<-chan *llm.CompletionChunk, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	messages := p.convertMessages(req.Messages, req.System)
	chatReq := openai.ChatCompletionRequest{
		Model:    model,
		Messages: messages,
		Stream:   true,
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = p.convertTools(req.Tools)
	}
	if req.ResponseFormat == "json" {
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}

	stream, err := p.client.CreateChatCompletionStream(ctx, chatReq)
	if err != nil {
		return nil, err
	}

	chunks := make(chan *llm.CompletionChunk)
	go p.processStream(ctx, stream, chunks)
	return chunks, nil
}

func (p *OpenAICompatProvider) processStream(ctx context.Context, stream *openai.ChatCompletionStream, chunks chan<- *llm.CompletionChunk) {
	defer close(chunks)
	defer stream.Close()

	type pendingCall struct {
		id, name, args string
	}
	pending := map[int]*pendingCall{}

	flush := func() {
		for i := 0; i < len(pending); i++ {
			pc, ok := pending[i]
			if !ok || pc.id == "" || pc.name == "" {
				continue
			}
			chunks <- &llm.CompletionChunk{ToolCall: &llm.ToolCall{ID: pc.id, Name: pc.name, Input: json.RawMessage(pc.args)}}
		}
		pending = map[int]*pendingCall{}
	}

	for {
		select {
		case <-ctx.Done():
			chunks <- &llm.CompletionChunk{Error: ctx.Err()}
			return
		default:
		}

		resp, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				flush()
				chunks <- &llm.CompletionChunk{Done: true}
				return
			}
			chunks <- &llm.CompletionChunk{Error: err}
			return
		}
		if len(resp.Choices) == 0 {
			continue
		}
		delta := resp.Choices[0].Delta
		if delta.Content != "" {
			chunks <- &llm.CompletionChunk{Text: delta.Content}
		}
		for _, tc := range delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			pc, ok := pending[idx]
			if !ok {
				pc = &pendingCall{}
				pending[idx] = pc
			}
			if tc.ID != "" {
				pc.id = tc.ID
			}
			if tc.Function.Name != "" {
				pc.name = tc.Function.Name
			}
			pc.args += tc.Function.Arguments
		}
		if resp.Choices[0].FinishReason == openai.FinishReasonToolCalls {
			flush()
		}
	}
}

func (p *OpenAICompatProvider) convertMessages(messages []llm.CompletionMessage, system string) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if system != "" {
		result = append(result, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}
	for _, msg := range messages {
		switch msg.Role {
		case "tool":
			for _, tr := range msg.ToolResults {
				result = append(result, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    tr.Content,
					ToolCallID: tr.ToolCallID,
				})
			}
		case "assistant":
			oaiMsg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: msg.Content}
			for _, tc := range msg.ToolCalls {
				oaiMsg.ToolCalls = append(oaiMsg.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: string(tc.Input),
					},
				})
			}
			result = append(result, oaiMsg)
		default:
			result = append(result, openai.ChatCompletionMessage{Role: msg.Role, Content: msg.Content})
		}
	}
	return result
}

func (p *OpenAICompatProvider) convertTools(tools []llm.Tool) []openai.Tool {
	result := make([]openai.Tool, len(tools))
	for i, t := range tools {
		var schema map[string]any
		if err := json.Unmarshal(t.Schema, &schema); err != nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  schema,
			},
		}
	}
	return result
}
