// Package openai voices the reader through the OpenAI chat completions API
// or any server that speaks it.
package openai

import (
	"context"
	"errors"
	"fmt"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/MrWong99/cartomancer/pkg/provider/llm"
	"github.com/MrWong99/cartomancer/pkg/provider/openaiclient"
)

var _ llm.Provider = (*Provider)(nil)

// Provider is an llm.Provider for one chat model.
type Provider struct {
	client oai.Client
	model  string
}

// New returns a provider for model, authenticated with apiKey.
func New(apiKey, model string, opts ...openaiclient.Option) (*Provider, error) {
	if model == "" {
		return nil, errors.New("openai: model must not be empty")
	}
	client, err := openaiclient.New(apiKey, opts...)
	if err != nil {
		return nil, err
	}
	return &Provider{client: client, model: model}, nil
}

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	params, err := p.params(req)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai: %s completion: %w", p.model, err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("openai: response has no choices")
	}

	msg := resp.Choices[0].Message
	out := &llm.CompletionResponse{
		Content: msg.Content,
		Usage: llm.Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}
	for _, tc := range msg.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, llm.ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: tc.Function.Arguments})
	}
	return out, nil
}

// Capabilities implements llm.Provider.
func (p *Provider) Capabilities() llm.ModelCapabilities {
	return llm.CapabilitiesFor(p.model)
}

func (p *Provider) params(req llm.CompletionRequest) (oai.ChatCompletionNewParams, error) {
	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(p.model),
		Messages: make([]oai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1),
	}
	if req.SystemPrompt != "" {
		params.Messages = append(params.Messages, oai.SystemMessage(req.SystemPrompt))
	}
	for i, m := range req.Messages {
		mp, err := toParam(m)
		if err != nil {
			return oai.ChatCompletionNewParams{}, fmt.Errorf("openai: message %d: %w", i, err)
		}
		params.Messages = append(params.Messages, mp)
	}

	if req.Temperature != 0 {
		params.Temperature = param.NewOpt(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(req.MaxTokens))
	}
	for _, td := range req.Tools {
		fn := shared.FunctionDefinitionParam{Name: td.Name, Parameters: shared.FunctionParameters(td.Parameters)}
		if td.Description != "" {
			fn.Description = param.NewOpt(td.Description)
		}
		params.Tools = append(params.Tools, oai.ChatCompletionToolParam{Function: fn})
	}
	return params, nil
}

func toParam(m llm.Message) (oai.ChatCompletionMessageParamUnion, error) {
	switch m.Role {
	case llm.RoleSystem:
		return oai.SystemMessage(m.Content), nil
	case llm.RoleUser:
		return oai.UserMessage(m.Content), nil
	case llm.RoleTool:
		return oai.ToolMessage(m.Content, m.ToolCallID), nil
	case llm.RoleAssistant:
		var asst oai.ChatCompletionAssistantMessageParam
		if m.Content != "" {
			asst.Content.OfString = oai.String(m.Content)
		}
		for _, tc := range m.ToolCalls {
			asst.ToolCalls = append(asst.ToolCalls, oai.ChatCompletionMessageToolCallParam{
				ID:       tc.ID,
				Function: oai.ChatCompletionMessageToolCallFunctionParam{Name: tc.Name, Arguments: tc.Arguments},
			})
		}
		return oai.ChatCompletionMessageParamUnion{OfAssistant: &asst}, nil
	}
	return oai.ChatCompletionMessageParamUnion{}, fmt.Errorf("unknown role %q", m.Role)
}
