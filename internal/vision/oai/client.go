package oai

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/putuastawa/visioncap/internal/vision"
	"github.com/putuastawa/visioncap/internal/vision/prompt"
)

const maxTokens = 512

// Engine talks to an OpenAI-compatible model runtime (a locally hosted
// vision-language model server) over its chat completions API.
type Engine struct {
	*openai.Client
	Model string

	opts vision.LoadOptions
}

func NewEngine(baseURL, apiKey, model string) *Engine {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &Engine{Client: openai.NewClientWithConfig(cfg), Model: model}
}

// Load records the device options and fires a warm-up completion so the
// runtime pulls the weights in now rather than on the first user request.
func (e *Engine) Load(ctx context.Context, opts vision.LoadOptions) error {
	e.opts = opts
	req := openai.ChatCompletionRequest{
		Model:     e.Model,
		MaxTokens: 1,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: "ping"},
		},
	}
	if _, err := e.CreateChatCompletion(ctx, req); err != nil {
		return fmt.Errorf("model warm-up: %w", err)
	}
	return nil
}

// ReleaseCache is a no-op here: the runtime owns device memory and frees
// cache between requests itself.
func (e *Engine) ReleaseCache(ctx context.Context) error { return nil }

func (e *Engine) Caption(ctx context.Context, jpegData []byte, length vision.CaptionLength) (string, error) {
	p := prompt.GetShortCaptionPrompt()
	if length == vision.CaptionNormal {
		p = prompt.GetNormalCaptionPrompt()
	}
	return e.complete(ctx, jpegData, p)
}

func (e *Engine) Query(ctx context.Context, jpegData []byte, question string) (string, error) {
	return e.complete(ctx, jpegData, prompt.GetQueryPrompt(question))
}

func (e *Engine) complete(ctx context.Context, jpegData []byte, userPrompt string) (string, error) {
	dataURL := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(jpegData)
	req := openai.ChatCompletionRequest{
		Model:     e.Model,
		MaxTokens: maxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: prompt.GetSystemPrompt()},
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: userPrompt},
					{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL:    dataURL,
							Detail: openai.ImageURLDetailAuto,
						},
					},
				},
			},
		},
	}

	resp, err := e.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("failed to create chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty completion response")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
