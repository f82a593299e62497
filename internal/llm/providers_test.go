package llm

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/receipt-sentinel/internal/common"
)

var testImage = []byte{0x89, 'P', 'N', 'G', 1, 2, 3}

func TestNewVisionClient(t *testing.T) {
	tests := []struct {
		provider string
		wantErr  bool
	}{
		{provider: "gemini"},
		{provider: ""},
		{provider: "OpenAI"},
		{provider: "anthropic"},
		{provider: "ollama", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			client, err := NewVisionClient(Config{Provider: tt.provider})
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, client)
		})
	}
}

func TestProviderRequests(t *testing.T) {
	encoded := base64.StdEncoding.EncodeToString(testImage)

	tests := []struct {
		check    func(t *testing.T, r *http.Request, body map[string]any)
		name     string
		provider string
		path     string
		response string
	}{
		{
			name:     "gemini",
			provider: "gemini",
			path:     "/v1beta/models/gemini-2.0-flash:generateContent",
			response: `{"candidates":[{"content":{"parts":[{"text":"801457901704"}]}}]}`,
			check: func(t *testing.T, r *http.Request, body map[string]any) {
				t.Helper()
				assert.Equal(t, "k1", r.Header.Get("x-goog-api-key"))
				parts := body["contents"].([]any)[0].(map[string]any)["parts"].([]any)
				inline := parts[1].(map[string]any)["inline_data"].(map[string]any)
				assert.Equal(t, encoded, inline["data"])
				assert.Equal(t, "image/png", inline["mime_type"])
				assert.InDelta(t, 0.0, body["generationConfig"].(map[string]any)["temperature"], 0.0001)
			},
		},
		{
			name:     "openai",
			provider: "openai",
			path:     "/v1/chat/completions",
			response: `{"choices":[{"message":{"role":"assistant","content":"801457901704"}}]}`,
			check: func(t *testing.T, r *http.Request, body map[string]any) {
				t.Helper()
				assert.Equal(t, "Bearer k1", r.Header.Get("Authorization"))
				content := body["messages"].([]any)[0].(map[string]any)["content"].([]any)
				url := content[1].(map[string]any)["image_url"].(map[string]any)["url"]
				assert.Equal(t, "data:image/png;base64,"+encoded, url)
			},
		},
		{
			name:     "anthropic",
			provider: "anthropic",
			path:     "/v1/messages",
			response: `{"content":[{"type":"text","text":"801457901704"}]}`,
			check: func(t *testing.T, r *http.Request, body map[string]any) {
				t.Helper()
				assert.Equal(t, "k1", r.Header.Get("x-api-key"))
				assert.Equal(t, "2023-06-01", r.Header.Get("anthropic-version"))
				content := body["messages"].([]any)[0].(map[string]any)["content"].([]any)
				source := content[0].(map[string]any)["source"].(map[string]any)
				assert.Equal(t, encoded, source["data"])
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, tt.path, r.URL.Path)
				raw, err := io.ReadAll(r.Body)
				require.NoError(t, err)
				var body map[string]any
				require.NoError(t, json.Unmarshal(raw, &body))
				tt.check(t, r, body)
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(tt.response))
			}))
			defer server.Close()

			client, err := NewVisionClient(Config{Provider: tt.provider, BaseURL: server.URL})
			require.NoError(t, err)

			text, err := client.Complete(context.Background(), "k1", VisionRequest{
				Prompt:   "find the id",
				Image:    testImage,
				MIMEType: "image/png",
			})
			require.NoError(t, err)
			assert.Equal(t, "801457901704", text)
		})
	}
}

func TestProviderRateLimitIsDistinguished(t *testing.T) {
	for _, provider := range []string{"gemini", "openai", "anthropic"} {
		t.Run(provider, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"error":"quota"}`))
			}))
			defer server.Close()

			client, err := NewVisionClient(Config{Provider: provider, BaseURL: server.URL})
			require.NoError(t, err)

			_, err = client.Complete(context.Background(), "k", VisionRequest{Image: testImage, MIMEType: "image/png"})
			require.ErrorIs(t, err, common.ErrRateLimit)

			var apiErr *APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
		})
	}
}

func TestProviderServerErrorIsNotRateLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client, err := NewVisionClient(Config{Provider: "gemini", BaseURL: server.URL})
	require.NoError(t, err)

	_, err = client.Complete(context.Background(), "k", VisionRequest{})
	require.Error(t, err)
	assert.NotErrorIs(t, err, common.ErrRateLimit)
}
