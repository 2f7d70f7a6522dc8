// Package completion implements ports.TextCompletionService on top of a
// local Ollama server, with an optional Redis-backed cache in front.
package completion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Divas-Gupta30/helix/helix-agent/internal/ports"
)

const (
	DefaultOllamaURL = "http://localhost:11434"
	DefaultModel     = "llama3"
)

type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Stream  bool            `json:"stream"`
	Options generateOptions `json:"options"`
}

type generateOptions struct {
	NumPredict  int     `json:"num_predict,omitempty"`
	Temperature float64 `json:"temperature"`
}

// Streaming chunks look like {"response": "...", "done": false}.
type generateChunk struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}

// Ollama calls /api/generate and concatenates the streamed chunks.
type Ollama struct {
	baseURL string
	model   string
	client  *http.Client
}

// NewOllama returns a client for the server at baseURL. Empty arguments take
// the defaults; a non-positive timeout means no client-side timeout.
func NewOllama(baseURL, model string, timeout time.Duration) *Ollama {
	if baseURL == "" {
		baseURL = DefaultOllamaURL
	}
	if model == "" {
		model = DefaultModel
	}
	return &Ollama{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client:  &http.Client{Timeout: timeout},
	}
}

// Model returns the model name sent with every request.
func (o *Ollama) Model() string {
	return o.model
}

// Complete sends prompt and returns the generated text.
//
// Transport failures, 5xx and 429 wrap ports.ErrServiceUnavailable. Other
// statuses, undecodable streams and empty output wrap
// ports.ErrInvalidResponse.
func (o *Ollama) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	body, err := json.Marshal(generateRequest{
		Model:   o.model,
		Prompt:  prompt,
		Stream:  true,
		Options: generateOptions{NumPredict: maxTokens},
	})
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating ollama request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", fmt.Errorf("%w: calling ollama: %v", ports.ErrServiceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		kind := ports.ErrInvalidResponse
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			kind = ports.ErrServiceUnavailable
		}
		return "", fmt.Errorf("%w: ollama returned status %d: %s", kind, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out strings.Builder
	decoder := json.NewDecoder(resp.Body)
	for {
		var chunk generateChunk
		err := decoder.Decode(&chunk)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return "", ctxErr
			}
			return "", fmt.Errorf("%w: decoding ollama response: %v", ports.ErrInvalidResponse, err)
		}
		if chunk.Error != "" {
			return "", fmt.Errorf("%w: ollama: %s", ports.ErrInvalidResponse, chunk.Error)
		}
		out.WriteString(chunk.Response)
		if chunk.Done {
			break
		}
	}

	text := strings.TrimSpace(out.String())
	if text == "" {
		return "", fmt.Errorf("%w: empty completion", ports.ErrInvalidResponse)
	}
	return text, nil
}

var _ ports.TextCompletionService = (*Ollama)(nil)
