package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	gopenai "github.com/sashabaranov/go-openai"
)

// Chat talks to any OpenAI-compatible chat-completions endpoint. Self-hosted servers
// differ in what they accept, so the capabilities are supplied by the caller.
type Chat struct {
	client *gopenai.Client
	model  string
	caps   Capabilities
}

func NewChat(apiKey, baseURL, model string, caps Capabilities) *Chat {
	cfg := gopenai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &Chat{client: gopenai.NewClientWithConfig(cfg), model: model, caps: caps}
}

func (c *Chat) Model() string { return c.model }

func (c *Chat) Capabilities() Capabilities { return c.caps }

func (c *Chat) Generate(ctx context.Context, req Request) (Generation, error) {
	if c.model == "" {
		return Generation{}, errors.New("chat: model is empty")
	}

	creq := gopenai.ChatCompletionRequest{Model: c.model}
	for _, m := range req.Messages {
		role := gopenai.ChatMessageRoleUser
		if m.Role == RoleSystem {
			role = gopenai.ChatMessageRoleSystem
		}
		creq.Messages = append(creq.Messages, gopenai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	if req.N > 1 {
		if !c.caps.N {
			return Generation{}, fmt.Errorf("chat: n=%d: %w", req.N, ErrUnsupported)
		}
		creq.N = req.N
	}
	if req.MaxTokens > 0 && c.caps.MaxTokens {
		creq.MaxTokens = req.MaxTokens
	}
	if req.Temperature != nil {
		creq.Temperature = float32(*req.Temperature)
	}
	if req.Schema != nil {
		format, err := jsonSchemaFormat(req.Schema)
		if err != nil {
			return Generation{}, fmt.Errorf("chat %s: %w", c.model, err)
		}
		creq.ResponseFormat = format
	}

	resp, err := c.client.CreateChatCompletion(ctx, creq)
	if err != nil {
		return Generation{}, classify(err)
	}
	if len(resp.Choices) == 0 {
		return Generation{}, fmt.Errorf("chat %s: %w", c.model, ErrEmptyOutput)
	}

	gen := Generation{
		PromptTokens:     int64(resp.Usage.PromptTokens),
		CompletionTokens: int64(resp.Usage.CompletionTokens),
	}
	for _, choice := range resp.Choices {
		gen.Texts = append(gen.Texts, choice.Message.Content)
		gen.FinishReasons = append(gen.FinishReasons, string(choice.FinishReason))
	}
	return gen, nil
}

func jsonSchemaFormat(s *Schema) (*gopenai.ChatCompletionResponseFormat, error) {
	raw, err := json.Marshal(s.Definition)
	if err != nil {
		return nil, fmt.Errorf("marshal schema %s: %w", s.Name, err)
	}
	return &gopenai.ChatCompletionResponseFormat{
		Type: gopenai.ChatCompletionResponseFormatTypeJSONSchema,
		JSONSchema: &gopenai.ChatCompletionResponseFormatJSONSchema{
			Name:        s.Name,
			Description: s.Description,
			Schema:      json.RawMessage(raw),
			Strict:      true,
		},
	}, nil
}
