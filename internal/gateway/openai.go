package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// NewOpenAIClient builds a client, pointing it at baseURL when set.
func NewOpenAIClient(apiKey, baseURL string) *openai.Client {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return openai.NewClientWithConfig(config)
}

type OpenAIGateway struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float64
	logger      *zap.Logger
}

func NewOpenAIGateway(client *openai.Client, model string, maxTokens int, temperature float64, logger *zap.Logger) *OpenAIGateway {
	return &OpenAIGateway{
		client:      client,
		model:       model,
		maxTokens:   maxTokens,
		temperature: temperature,
		logger:      logger,
	}
}

func (g *OpenAIGateway) Decide(ctx context.Context, transcript []Message, tools []ToolDeclaration) (*Decision, error) {
	req := openai.ChatCompletionRequest{
		Model:       g.model,
		Messages:    toChatMessages(transcript),
		Tools:       toChatTools(tools),
		MaxTokens:   g.maxTokens,
		Temperature: float32(g.temperature),
	}

	resp, err := g.client.CreateChatCompletion(ctx, req)
	if err != nil {
		g.logger.Error("Failed to get model response", zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrGateway, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: response has no choices", ErrGateway)
	}

	msg := resp.Choices[0].Message
	if len(msg.ToolCalls) == 0 {
		return &Decision{Reply: strings.TrimSpace(msg.Content)}, nil
	}

	requests := make([]ToolRequest, len(msg.ToolCalls))
	for i, tc := range msg.ToolCalls {
		requests[i] = ToolRequest{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: json.RawMessage(tc.Function.Arguments),
		}
	}

	g.logger.Debug("Model requested tools",
		zap.Int("count", len(requests)),
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int("completion_tokens", resp.Usage.CompletionTokens))
	return &Decision{ToolRequests: requests}, nil
}

// Ping checks that the provider is reachable and serves the configured model.
func (g *OpenAIGateway) Ping(ctx context.Context) error {
	if _, err := g.client.GetModel(ctx, g.model); err != nil {
		return fmt.Errorf("%w: model %s: %w", ErrGateway, g.model, err)
	}
	return nil
}

func toChatMessages(transcript []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(transcript))
	for _, m := range transcript {
		switch m.Role {
		case RoleSystem:
			out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: m.Content})
		case RoleHuman:
			out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: m.Content})
		case RoleTool:
			out = append(out, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    m.Content,
				ToolCallID: m.ToolCallID,
			})
		case RoleAssistant:
			msg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: m.Content}
			for _, r := range m.ToolRequests {
				msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
					ID:   r.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      r.Name,
						Arguments: string(r.Arguments),
					},
				})
			}
			out = append(out, msg)
		}
	}
	return out
}

func toChatTools(tools []ToolDeclaration) []openai.Tool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]openai.Tool, len(tools))
	for i, t := range tools {
		out[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		}
	}
	return out
}
