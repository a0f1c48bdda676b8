package providers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/ocotilloai/kestrel/internal/llm"
	"github.com/ocotilloai/kestrel/internal/providers/bedrock"
)

// BedrockConfig configures a BedrockProvider. Credentials are resolved
// through the standard AWS SDK chain unless AccessKeyID/SecretAccessKey are
// supplied explicitly.
type BedrockConfig struct {
	Region          string
	DefaultModel    string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
}

// BedrockProvider implements llm.Provider via the Bedrock Converse API,
// which presents a single message/tool-use shape across foundation model
// families (Anthropic, Llama, Mistral, Titan, …).
type BedrockProvider struct {
	client       *bedrockruntime.Client
	defaultModel string
	region       string
}

// NewBedrockProvider builds a BedrockProvider for the given region.
func NewBedrockProvider(ctx context.Context, cfg BedrockConfig) (*BedrockProvider, error) {
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "anthropic.claude-3-5-sonnet-20241022-v2:0"
	}

	var optFns []func(*awsconfig.LoadOptions) error
	optFns = append(optFns, awsconfig.WithRegion(cfg.Region))
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		optFns = append(optFns, awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken,
		)))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, fmt.Errorf("bedrock: load aws config: %w", err)
	}

	return &BedrockProvider{
		client:       bedrockruntime.NewFromConfig(awsCfg),
		defaultModel: cfg.DefaultModel,
		region:       cfg.Region,
	}, nil
}

func (p *BedrockProvider) Name() string { return "bedrock" }

// Models delegates to the bedrock package's cached foundation-model
// discovery; on discovery failure it falls back to just the configured
// default model so the provider remains usable offline.
func (p *BedrockProvider) Models() []llm.Model {
	defs, err := bedrock.DiscoverModels(context.Background(), &bedrock.DiscoveryConfig{Region: p.region})
	if err != nil || len(defs) == 0 {
		return []llm.Model{{ID: p.defaultModel, Name: p.defaultModel, ContextSize: 200000}}
	}
	models := make([]llm.Model, 0, len(defs))
	for _, d := range defs {
		models = append(models, llm.Model{ID: d.ID, Name: d.Name, ContextSize: d.ContextWindow})
	}
	return models
}

// SupportsToolCallMessages is conservatively true: the Converse API models
// tool results as a user-turn ToolResultBlock for every foundation model
// that declares tool-use support, which covers the families this provider
// targets.
func (p *BedrockProvider) SupportsToolCallMessages() bool { return true }

func (p *BedrockProvider) Complete(ctx context.Context, req *llm.CompletionRequest) (<-chan *llm.CompletionChunk, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	input := &bedrockruntime.ConverseStreamInput{
		ModelId:  aws.String(model),
		Messages: p.convertMessages(req.Messages),
	}
	if req.System != "" {
		input.System = []brtypes.SystemContentBlock{&brtypes.SystemContentBlockMemberText{Value: req.System}}
	}
	if req.MaxTokens > 0 {
		mt := int32(req.MaxTokens)
		input.InferenceConfig = &brtypes.InferenceConfiguration{MaxTokens: &mt}
	}
	if len(req.Tools) > 0 {
		toolCfg, err := p.convertTools(req.Tools)
		if err != nil {
			return nil, fmt.Errorf("bedrock: %w", err)
		}
		input.ToolConfig = toolCfg
	}

	out, err := p.client.ConverseStream(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("bedrock: %w", err)
	}

	chunks := make(chan *llm.CompletionChunk)
	go p.processStream(out, chunks)
	return chunks, nil
}

func (p *BedrockProvider) convertMessages(messages []llm.CompletionMessage) []brtypes.Message {
	result := make([]brtypes.Message, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case "user", "system":
			result = append(result, brtypes.Message{
				Role:    brtypes.ConversationRoleUser,
				Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: msg.Content}},
			})
		case "assistant":
			var blocks []brtypes.ContentBlock
			if msg.Content != "" {
				blocks = append(blocks, &brtypes.ContentBlockMemberText{Value: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				var input map[string]any
				_ = json.Unmarshal(tc.Input, &input)
				doc := documentFromMap(input)
				blocks = append(blocks, &brtypes.ContentBlockMemberToolUse{
					Value: brtypes.ToolUseBlock{ToolUseId: aws.String(tc.ID), Name: aws.String(tc.Name), Input: doc},
				})
			}
			result = append(result, brtypes.Message{Role: brtypes.ConversationRoleAssistant, Content: blocks})
		case "tool":
			var blocks []brtypes.ContentBlock
			for _, tr := range msg.ToolResults {
				status := brtypes.ToolResultStatusSuccess
				if tr.IsError {
					status = brtypes.ToolResultStatusError
				}
				blocks = append(blocks, &brtypes.ContentBlockMemberToolResult{
					Value: brtypes.ToolResultBlock{
						ToolUseId: aws.String(tr.ToolCallID),
						Status:    status,
						Content:   []brtypes.ToolResultContentBlock{&brtypes.ToolResultContentBlockMemberText{Value: tr.Content}},
					},
				})
			}
			result = append(result, brtypes.Message{Role: brtypes.ConversationRoleUser, Content: blocks})
		}
	}
	return result
}

func (p *BedrockProvider) convertTools(tools []llm.Tool) (*brtypes.ToolConfiguration, error) {
	specs := make([]brtypes.Tool, 0, len(tools))
	for _, t := range tools {
		var schema map[string]any
		if err := json.Unmarshal(t.Schema, &schema); err != nil {
			return nil, fmt.Errorf("invalid schema for tool %s: %w", t.Name, err)
		}
		specs = append(specs, &brtypes.ToolMemberToolSpec{
			Value: brtypes.ToolSpec{
				Name:        aws.String(t.Name),
				Description: aws.String(t.Description),
				InputSchema: &brtypes.ToolInputSchemaMemberJson{Value: documentFromMap(schema)},
			},
		})
	}
	return &brtypes.ToolConfiguration{Tools: specs}, nil
}

func (p *BedrockProvider) processStream(out *bedrockruntime.ConverseStreamOutput, chunks chan<- *llm.CompletionChunk) {
	defer close(chunks)

	stream := out.GetStream()
	defer stream.Close()

	var toolID, toolName string
	var toolInput string
	inToolBlock := false

	for event := range stream.Events() {
		switch v := event.(type) {
		case *brtypes.ConverseStreamOutputMemberContentBlockStart:
			if start, ok := v.Value.Start.(*brtypes.ContentBlockStartMemberToolUse); ok {
				inToolBlock = true
				toolID = aws.ToString(start.Value.ToolUseId)
				toolName = aws.ToString(start.Value.Name)
				toolInput = ""
			}
		case *brtypes.ConverseStreamOutputMemberContentBlockDelta:
			switch d := v.Value.Delta.(type) {
			case *brtypes.ContentBlockDeltaMemberText:
				chunks <- &llm.CompletionChunk{Text: d.Value}
			case *brtypes.ContentBlockDeltaMemberToolUse:
				toolInput += aws.ToString(d.Value.Input)
			}
		case *brtypes.ConverseStreamOutputMemberContentBlockStop:
			if inToolBlock {
				if toolInput == "" {
					toolInput = "{}"
				}
				chunks <- &llm.CompletionChunk{ToolCall: &llm.ToolCall{ID: toolID, Name: toolName, Input: json.RawMessage(toolInput)}}
				inToolBlock = false
			}
		case *brtypes.ConverseStreamOutputMemberMessageStop:
			// handled by channel close below
		}
	}
	if err := stream.Err(); err != nil {
		chunks <- &llm.CompletionChunk{Error: fmt.Errorf("bedrock: stream: %w", err)}
		return
	}
	chunks <- &llm.CompletionChunk{Done: true}
}

// documentFromMap adapts a decoded JSON object into the Bedrock runtime's
// smithy Document type, used for free-form tool-use input/schema payloads.
func documentFromMap(m map[string]any) brtypes.Document {
	if m == nil {
		m = map[string]any{}
	}
	return bedrockDocument{v: m}
}

// bedrockDocument is a minimal smithydocument.Marshaler/Unmarshaler wrapping
// an already-decoded JSON value, avoiding a second JSON round trip through
// the SDK's document codec.
type bedrockDocument struct {
	v any
}

func (d bedrockDocument) MarshalSmithyDocument() ([]byte, error) {
	return json.Marshal(d.v)
}

func (d bedrockDocument) UnmarshalSmithyDocument(b []byte) error {
	return json.Unmarshal(b, &d.v)
}
