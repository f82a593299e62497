package llm

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/Veraticus/receipt-sentinel/internal/model"
)

var idToken = regexp.MustCompile(`[A-Z0-9]{4,}`)

// Extractor asks a vision model for the transaction id on one image.
type Extractor struct {
	client    VisionClient
	maxTokens int
}

// NewExtractor wraps client.
func NewExtractor(client VisionClient) *Extractor {
	return &Extractor{client: client, maxTokens: 64}
}

// Extract returns the candidate id, or NoMatch when the model reports none.
// The prompt is rebuilt from banks and sent with temperature 0.
func (e *Extractor) Extract(ctx context.Context, apiKey string, img model.Image, banks model.BankSpecs) (string, error) {
	answer, err := e.client.Complete(ctx, apiKey, VisionRequest{
		Prompt:      BuildExtractionPrompt(banks),
		Image:       img.Data,
		MIMEType:    img.MIMEType,
		Temperature: 0,
		MaxTokens:   e.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("vision extraction: %w", err)
	}
	return ParseAnswer(answer), nil
}

// ParseAnswer normalises a raw model answer to an id or NoMatch.
func ParseAnswer(answer string) string {
	cleaned := strings.ToUpper(cleanMarkdownWrapper(answer))
	if cleaned == "" || strings.Contains(cleaned, NoMatch) {
		return NoMatch
	}
	if i := strings.LastIndex(cleaned, ":"); i >= 0 {
		cleaned = cleaned[i+1:]
	}
	cleaned = strings.NewReplacer(" ", "", "-", "", "\"", "", "'", "").Replace(cleaned)
	for _, tok := range idToken.FindAllString(cleaned, -1) {
		if strings.ContainsAny(tok, "0123456789") {
			return tok
		}
	}
	return NoMatch
}

func cleanMarkdownWrapper(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```text")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(strings.Trim(s, "`"))
}
