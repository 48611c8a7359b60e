package providers

import (
	"context"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

const draftSystemPrompt = `You draft answers for a personal assistant.
Use the numbered evidence excerpts when they are relevant and cite them
inline with [n] markers matching their numbers. Do not invent citations.
Keep the draft plain; another layer handles tone and formatting.`

// OpenAIComposer drafts replies through an OpenAI-compatible chat API.
type OpenAIComposer struct {
	client  *openai.Client
	model   string
	timeout time.Duration
}

func NewOpenAIComposer(apiKey, apiBase, model string, timeout time.Duration) *OpenAIComposer {
	cfg := openai.DefaultConfig(apiKey)
	if strings.TrimSpace(apiBase) != "" {
		cfg.BaseURL = apiBase
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAIComposer{
		client:  openai.NewClientWithConfig(cfg),
		model:   model,
		timeout: timeout,
	}
}

func (c *OpenAIComposer) Draft(ctx context.Context, req DraftRequest) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: draftSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: buildDraftPrompt(req)},
		},
	})
	if err != nil {
		return "", fmt.Errorf("draft completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("draft completion: empty response")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func buildDraftPrompt(req DraftRequest) string {
	var b strings.Builder
	if req.ContextSummary != "" {
		b.WriteString("Conversation summary:\n")
		b.WriteString(req.ContextSummary)
		b.WriteString("\n\n")
	}
	if len(req.RecentTurns) > 0 {
		b.WriteString("Recent exchanges:\n")
		for _, t := range req.RecentTurns {
			b.WriteString(t)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	if len(req.Evidence) > 0 {
		b.WriteString("Evidence:\n")
		for i, item := range req.Evidence {
			b.WriteString(fmt.Sprintf("[%d] %s: %s\n", i+1, item.Title, item.Excerpt))
		}
		b.WriteString("\n")
	}
	b.WriteString("User message:\n")
	b.WriteString(req.Query)
	return b.String()
}
