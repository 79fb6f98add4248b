package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/responses"
)

// minOutputTokens is the smallest max_output_tokens the Responses API accepts.
const minOutputTokens = 16

// Responses calls the OpenAI Responses API. It never returns more than one completion
// per call, so callers that need several samples fan out instead.
type Responses struct {
	client *openai.Client
	model  string
}

func NewResponses(client *openai.Client, model string) *Responses {
	return &Responses{client: client, model: model}
}

func (r *Responses) Model() string { return r.model }

func (r *Responses) Capabilities() Capabilities {
	return Capabilities{N: false, MaxTokens: true}
}

func (r *Responses) Generate(ctx context.Context, req Request) (Generation, error) {
	if r.client == nil {
		return Generation{}, errors.New("responses: client is nil")
	}
	if r.model == "" {
		return Generation{}, errors.New("responses: model is empty")
	}
	if req.N > 1 {
		return Generation{}, fmt.Errorf("responses: n=%d: %w", req.N, ErrUnsupported)
	}

	var instructions []string
	var items []responses.ResponseInputItemUnionParam
	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			instructions = append(instructions, m.Content)
		default:
			items = append(items, responses.ResponseInputItemParamOfMessage(m.Content, responses.EasyInputMessageRoleUser))
		}
	}
	if len(items) == 0 {
		return Generation{}, errors.New("responses: request has no user message")
	}

	params := responses.ResponseNewParams{
		Model: r.model,
		Input: responses.ResponseNewParamsInputUnion{
			OfInputItemList: items,
		},
	}
	if len(instructions) > 0 {
		params.Instructions = openai.String(strings.Join(instructions, "\n\n"))
	}
	if req.MaxTokens > 0 {
		params.MaxOutputTokens = openai.Int(int64(max(req.MaxTokens, minOutputTokens)))
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}
	if req.Schema != nil {
		params.Text = responses.ResponseTextConfigParam{
			Format: responses.ResponseFormatTextConfigUnionParam{
				OfJSONSchema: &responses.ResponseFormatTextJSONSchemaConfigParam{
					Name:        req.Schema.Name,
					Schema:      req.Schema.Definition,
					Strict:      openai.Bool(true),
					Description: openai.String(req.Schema.Description),
					Type:        "json_schema",
				},
			},
		}
	}

	resp, err := r.client.Responses.New(ctx, params)
	if err != nil {
		return Generation{}, classify(err)
	}

	return Generation{
		Texts:            []string{resp.OutputText()},
		FinishReasons:    []string{finishReasonFromStatus(string(resp.Status))},
		PromptTokens:     resp.Usage.InputTokens,
		CompletionTokens: resp.Usage.OutputTokens,
	}, nil
}

// finishReasonFromStatus maps a response status onto chat-completion finish reasons.
func finishReasonFromStatus(status string) string {
	switch status {
	case "completed":
		return FinishStop
	case "incomplete":
		return "length"
	case "":
		return "unknown"
	default:
		return status
	}
}
