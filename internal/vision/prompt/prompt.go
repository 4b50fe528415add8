package prompt

import "fmt"

// GetSystemPrompt keeps the runtime's answers plain: one response, no markup.
func GetSystemPrompt() string {
	return `You are an image understanding assistant. Answer with plain text only: no markdown, no code fences, no preamble. Describe only what is visible in the image and keep the answer self-contained.`
}

// GetShortCaptionPrompt asks for a one-sentence caption.
func GetShortCaptionPrompt() string {
	return "Write a short caption for this image, one brief sentence."
}

// GetNormalCaptionPrompt asks for a fuller description.
func GetNormalCaptionPrompt() string {
	return "Describe this image in a few sentences, covering the main subjects and the setting."
}

// GetQueryPrompt wraps a user question about the image.
func GetQueryPrompt(question string) string {
	return fmt.Sprintf("Answer the following question about this image: %s", question)
}
