package llm

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/Veraticus/receipt-sentinel/internal/common"
)

// VisionClient sends one image and an instruction to a vision model and
// returns the model's raw text answer.
type VisionClient interface {
	Complete(ctx context.Context, apiKey string, req VisionRequest) (string, error)
}

// VisionRequest is a single image prompt.
type VisionRequest struct {
	Prompt      string
	MIMEType    string
	Image       []byte
	Temperature float64
	MaxTokens   int
}

// APIError is a non-200 response from a provider.
type APIError struct {
	Provider   string
	Body       string
	StatusCode int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s API error (status %d): %s", e.Provider, e.StatusCode, truncate(e.Body, 300))
}

// Unwrap exposes common.ErrRateLimit for 429 responses.
func (e *APIError) Unwrap() error {
	if e.StatusCode == http.StatusTooManyRequests {
		return common.ErrRateLimit
	}
	return nil
}

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
