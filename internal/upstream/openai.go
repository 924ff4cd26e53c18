package upstream

import (
	"context"
	"encoding/json"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

const defaultModel = openai.GPT3Dot5Turbo

// OpenAIClient calls OpenAI-compatible chat endpoints with the
// credential's decrypted secret as the API key.
type OpenAIClient struct {
	// BaseURL overrides the API endpoint, for compatible providers and
	// test servers. Empty means the official endpoint.
	BaseURL string
}

// openAIPayload is the slice of the caller payload this client
// understands. Everything else passes through untouched.
type openAIPayload struct {
	Model     string `json:"model,omitempty"`
	Prompt    string `json:"prompt,omitempty"`
	MaxTokens int    `json:"max_tokens,omitempty"`
}

func (c *OpenAIClient) Invoke(ctx context.Context, template, secret string, payload json.RawMessage) (*Result, error) {
	var p openAIPayload
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &p); err != nil {
			return &Result{Success: false, Error: fmt.Sprintf("invalid payload: %v", err)}, nil
		}
	}
	if p.Model == "" {
		p.Model = defaultModel
	}
	if p.Prompt == "" {
		return &Result{Success: false, Error: "payload is missing a prompt"}, nil
	}

	cfg := openai.DefaultConfig(secret)
	if c.BaseURL != "" {
		cfg.BaseURL = c.BaseURL
	}
	client := openai.NewClientWithConfig(cfg)

	resp, err := client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     p.Model,
		MaxTokens: p.MaxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: p.Prompt},
		},
	})
	if err != nil {
		return &Result{Success: false, Error: err.Error()}, nil
	}
	if len(resp.Choices) == 0 {
		return &Result{Success: false, Error: "upstream returned no choices"}, nil
	}

	data, err := json.Marshal(map[string]string{"text": resp.Choices[0].Message.Content})
	if err != nil {
		return nil, err
	}
	return &Result{
		Success:    true,
		Data:       data,
		TokensUsed: resp.Usage.TotalTokens,
	}, nil
}
