package llm

import (
	"context"
	"strings"

	"github.com/teilomillet/sumchat/providers"
)

// Summarizer folds conversation lines into a running summary by prompting
// the endpoint with SummaryTemplate.
type Summarizer struct {
	client       *Client
	maxNewTokens int
}

// NewSummarizer returns a Summarizer generating at most maxNewTokens per fold.
func NewSummarizer(client *Client, maxNewTokens int) *Summarizer {
	if maxNewTokens < 1 {
		maxNewTokens = 256
	}
	return &Summarizer{client: client, maxNewTokens: maxNewTokens}
}

// Summarize returns the new cumulative summary for summary plus newLines.
func (s *Summarizer) Summarize(ctx context.Context, summary, newLines string) (string, error) {
	prompt, err := SummaryTemplate.Execute(map[string]any{
		"summary":   summary,
		"new_lines": newLines,
	})
	if err != nil {
		return "", NewLLMError(ErrorTypeRequest, "failed to render summary prompt", err)
	}

	fullText := false
	text, err := s.client.Generate(ctx, prompt, providers.Parameters{
		MaxNewTokens:   s.maxNewTokens,
		Stop:           []string{providers.StopEOS},
		ReturnFullText: &fullText,
	})
	if err != nil {
		return "", err
	}

	// Some endpoints ignore return_full_text and echo the prompt.
	text = strings.TrimSpace(strings.TrimPrefix(text, prompt))
	if text == "" {
		return "", NewLLMError(ErrorTypeMalformedResponse, "empty summary", nil)
	}
	return text, nil
}
