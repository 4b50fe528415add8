package stt

import (
	"bytes"
	"context"
	"fmt"

	"github.com/sashabaranov/go-openai"
)

// WhisperTranscriber sends recordings to the configured runtime's
// transcription endpoint.
type WhisperTranscriber struct {
	client *openai.Client
	model  string
}

func NewWhisperTranscriber(baseURL, apiKey, model string) *WhisperTranscriber {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if model == "" {
		model = openai.Whisper1
	}
	return &WhisperTranscriber{client: openai.NewClientWithConfig(cfg), model: model}
}

func (t *WhisperTranscriber) Transcribe(ctx context.Context, wavData []byte) (string, error) {
	resp, err := t.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    t.model,
		FilePath: "recording.wav",
		Reader:   bytes.NewReader(wavData),
	})
	if err != nil {
		return "", fmt.Errorf("transcription request: %w", err)
	}
	return resp.Text, nil
}
