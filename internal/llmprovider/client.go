package llmprovider

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"golang.org/x/oauth2/clientcredentials"
)

// OAuthConfig configures client-credentials OAuth2 token refresh for a
// provider client whose backend requires a Bearer token rather than a
// static API key. A zero-value OAuthConfig (empty TokenURL) is not used;
// newClient falls back to the static API key in that case.
type OAuthConfig struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
}

// client is the shared OpenAI-compatible implementation behind both sealed
// variants. It is unexported: callers only ever see the ChatClient
// interface, constructed via NewMistral or NewChocolatine.
type client struct {
	api     openai.Client
	model   string
	variant string
}

func newClient(variant, baseURL, apiKey, model string, oauth *OAuthConfig) *client {
	var opts []option.RequestOption
	if oauth != nil && oauth.TokenURL != "" {
		httpClient := (&clientcredentials.Config{
			ClientID:     oauth.ClientID,
			ClientSecret: oauth.ClientSecret,
			TokenURL:     oauth.TokenURL,
		}).Client(context.Background())
		opts = []option.RequestOption{option.WithHTTPClient(httpClient)}
	} else {
		opts = []option.RequestOption{option.WithAPIKey(apiKey)}
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &client{
		api:     openai.NewClient(opts...),
		model:   model,
		variant: variant,
	}
}

// NewMistral builds a ChatClient for the Mistral-compatible chat backend.
// oauth is optional; pass nil to authenticate with apiKey instead.
func NewMistral(baseURL, apiKey, model string, oauth *OAuthConfig) ChatClient {
	if baseURL == "" {
		baseURL = "https://api.mistral.ai/v1"
	}
	return newClient("mistral", baseURL, apiKey, model, oauth)
}

// NewChocolatine builds a ChatClient for a self-hosted Chocolatine
// deployment, speaking the same OpenAI-compatible protocol on a private
// base URL. oauth is optional; pass nil to authenticate with apiKey instead.
func NewChocolatine(baseURL, apiKey, model string, oauth *OAuthConfig) ChatClient {
	return newClient("chocolatine", baseURL, apiKey, model, oauth)
}

func (c *client) ChatComplete(ctx context.Context, messages []Message) (CompletionResult, error) {
	return c.complete(ctx, messages, nil)
}

func (c *client) ChatCompleteWithTools(ctx context.Context, messages []Message, tools []ToolDefinition) (CompletionResult, error) {
	return c.complete(ctx, messages, tools)
}

func (c *client) complete(ctx context.Context, messages []Message, tools []ToolDefinition) (CompletionResult, error) {
	params := openai.ChatCompletionNewParams{
		Model:    c.model,
		Messages: buildMessages(messages),
	}

	if len(tools) > 0 {
		params.Tools = buildTools(tools)
	}

	start := time.Now()
	resp, err := c.api.Chat.Completions.New(ctx, params)
	if err != nil {
		return CompletionResult{}, fmt.Errorf("llmprovider.%s: chat completion: %w", c.variant, err)
	}

	slog.Debug("llmprovider: completion", "variant", c.variant, "model", c.model,
		"latency_ms", time.Since(start).Milliseconds())

	if len(resp.Choices) == 0 {
		return CompletionResult{}, fmt.Errorf("llmprovider.%s: empty choices", c.variant)
	}

	choice := resp.Choices[0]
	result := CompletionResult{
		Content:          choice.Message.Content,
		PromptTokens:     int(resp.Usage.PromptTokens),
		CompletionTokens: int(resp.Usage.CompletionTokens),
	}

	for _, tc := range choice.Message.ToolCalls {
		result.ToolCalls = append(result.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}

	return result, nil
}

func buildMessages(messages []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case "system":
			out = append(out, openai.SystemMessage(m.Content))
		case "user":
			out = append(out, openai.UserMessage(m.Content))
		case "tool":
			out = append(out, openai.ToolMessage(m.Content, m.ToolCallID))
		case "assistant":
			msg := openai.AssistantMessage(m.Content)
			for _, tc := range m.ToolCalls {
				msg.OfAssistant.ToolCalls = append(msg.OfAssistant.ToolCalls, openai.ChatCompletionMessageToolCallUnionParam{
					OfFunction: &openai.ChatCompletionMessageFunctionToolCallParam{
						ID: tc.ID,
						Function: openai.ChatCompletionMessageFunctionToolCallFunctionParam{
							Name:      tc.Name,
							Arguments: tc.Arguments,
						},
					},
				})
			}
			out = append(out, msg)
		}
	}
	return out
}

func buildTools(tools []ToolDefinition) []openai.ChatCompletionToolUnionParam {
	out := make([]openai.ChatCompletionToolUnionParam, 0, len(tools))
	for _, t := range tools {
		params, _ := json.Marshal(t.Parameters)
		var schema map[string]any
		_ = json.Unmarshal(params, &schema)

		out = append(out, openai.ChatCompletionToolUnionParam{
			OfFunction: &openai.ChatCompletionFunctionToolParam{
				Function: openai.FunctionDefinitionParam{
					Name:        t.Name,
					Description: openai.String(t.Description),
					Parameters:  schema,
				},
			},
		})
	}
	return out
}
