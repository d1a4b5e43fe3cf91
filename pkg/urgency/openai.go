package urgency

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

const (
	defaultEndpoint = "https://api.openai.com/v1"
	defaultModel    = "gpt-4o-mini"
	maxErrorBody    = 512
)

const systemPrompt = `You assess the urgency of issues reported by members of a local community.
Decide whether the issue is low, medium or high urgency. Weigh the impact on the
community and the risk to people or property if nobody acts soon.
Answer with a single JSON object: {"urgencyLevel": "low" | "medium" | "high", "reason": "<one or two sentences>"}.`

// OpenAIClassifier classifies reports through an OpenAI-compatible
// chat-completions endpoint.
type OpenAIClassifier struct {
	apiKey   string
	endpoint string
	model    string
	client   *http.Client
}

// NewOpenAIClassifier builds a classifier. Empty endpoint and model fall back
// to the public OpenAI API and a small chat model.
func NewOpenAIClassifier(apiKey, endpoint, model string, timeout time.Duration) *OpenAIClassifier {
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	if model == "" {
		model = defaultModel
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &OpenAIClassifier{
		apiKey:   apiKey,
		endpoint: strings.TrimSuffix(endpoint, "/"),
		model:    model,
		client:   &http.Client{Timeout: timeout},
	}
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
	MaxTokens      int             `json:"max_tokens"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// userPrompt renders the fixed prompt contract for one report.
func userPrompt(r Report) string {
	return fmt.Sprintf("Category: %s\nTitle: %s\nDescription: %s", r.Category, r.Title, r.Description)
}

// Classify sends the report to the chat-completions endpoint and parses the
// answer. It makes exactly one request.
func (c *OpenAIClassifier) Classify(ctx context.Context, report Report) (Classification, error) {
	if c.apiKey == "" {
		return Classification{}, newError(ErrUnavailable, errors.New("api key not configured"))
	}

	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt(report)},
		},
		ResponseFormat: &responseFormat{Type: "json_object"},
		MaxTokens:      300,
	})
	if err != nil {
		return Classification{}, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return Classification{}, newError(ErrUnavailable, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		if isTimeout(ctx, err) {
			return Classification{}, newError(ErrTimeout, err)
		}
		return Classification{}, newError(ErrUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		if isTimeout(ctx, err) {
			return Classification{}, newError(ErrTimeout, err)
		}
		return Classification{}, newError(ErrUnavailable, fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		statusErr := fmt.Errorf("status %d: %s", resp.StatusCode, truncate(string(respBody), maxErrorBody))
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return Classification{}, newError(ErrUnavailable, statusErr)
		}
		return Classification{}, newError(ErrMalformed, statusErr)
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return Classification{}, newError(ErrMalformed, fmt.Errorf("decode response: %w", err))
	}
	if parsed.Error != nil {
		return Classification{}, newError(ErrMalformed, fmt.Errorf("api error: %s", parsed.Error.Message))
	}
	if len(parsed.Choices) == 0 {
		return Classification{}, newError(ErrMalformed, errors.New("no choices returned"))
	}

	return ParseClassification(parsed.Choices[0].Message.Content)
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
