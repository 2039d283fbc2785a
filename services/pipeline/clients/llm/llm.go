// Package llm is a thin wrapper over the OpenAI chat-completion API used by
// the advisory pipeline stages (speaker identification and summarization).
package llm

import (
	"context"
	"fmt"
	"log/slog"

	openai "github.com/sashabaranov/go-openai"
)

type Client struct {
	client *openai.Client
	model  string
	log    *slog.Logger
}

func New(apiKey string, log *slog.Logger) *Client {
	return &Client{
		client: openai.NewClient(apiKey),
		model:  openai.GPT4oMini,
		log:    log,
	}
}

// Complete runs one chat completion and returns the raw message content.
// Temperature is kept low: both callers want factual extraction, not prose.
func (c *Client) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	c.log.Debug("calling chat completion",
		slog.String("model", c.model),
		slog.Int("system_prompt_length", len(systemPrompt)),
		slog.Int("user_prompt_length", len(userPrompt)))

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
		Temperature: 0.3,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}

	c.log.Debug("chat completion finished",
		slog.Int("prompt_tokens", resp.Usage.PromptTokens),
		slog.Int("completion_tokens", resp.Usage.CompletionTokens))

	return resp.Choices[0].Message.Content, nil
}
