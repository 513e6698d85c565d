// Copyright 2025 PennyFlow
// SPDX-License-Identifier: BUSL-1.1
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package openai implements the chat provider for OpenAI-compatible
// chat-completions APIs. One client type serves OpenAI itself plus the
// compatible vendors (OpenRouter, Groq) differing only in base URL and key.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"pennyflow/platform/assistant/llm"
)

const (
	// DefaultBaseURL is the direct OpenAI API endpoint.
	DefaultBaseURL = "https://api.openai.com/v1"

	// OpenRouterBaseURL is the OpenRouter aggregator endpoint.
	OpenRouterBaseURL = "https://openrouter.ai/api/v1"

	// GroqBaseURL is the Groq fast-inference endpoint.
	GroqBaseURL = "https://api.groq.com/openai/v1"

	// DefaultTimeout is the default HTTP timeout.
	DefaultTimeout = 120 * time.Second
)

// HTTPClient is an interface for HTTP client operations (enables testing).
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client implements llm.ChatProvider against an OpenAI-compatible
// chat-completions endpoint.
type Client struct {
	name    string
	baseURL string
	apiKey  string
	client  HTTPClient
}

// Config contains configuration for an OpenAI-compatible client.
type Config struct {
	Name    string        // Required: provider name used for routing
	BaseURL string        // Optional: API base URL (default: OpenAI)
	APIKey  string        // Required: API key
	Timeout time.Duration // Optional: HTTP timeout (default: 120s)
}

// New creates a client for an OpenAI-compatible endpoint.
func New(cfg Config) (*Client, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("provider name is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%s API key is required", cfg.Name)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}

	return &Client{
		name:    cfg.Name,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// NewOpenAI creates a client for the direct OpenAI API.
func NewOpenAI(apiKey string) (*Client, error) {
	return New(Config{Name: llm.ProviderOpenAI, APIKey: apiKey})
}

// NewOpenRouter creates a client for the OpenRouter aggregator.
func NewOpenRouter(apiKey string) (*Client, error) {
	return New(Config{Name: llm.ProviderOpenRouter, BaseURL: OpenRouterBaseURL, APIKey: apiKey})
}

// NewGroq creates a client for the Groq API.
func NewGroq(apiKey string) (*Client, error) {
	return New(Config{Name: llm.ProviderGroq, BaseURL: GroqBaseURL, APIKey: apiKey})
}

// Name returns the provider name.
func (c *Client) Name() string {
	return c.name
}

// SetHTTPClient sets a custom HTTP client for testing.
func (c *Client) SetHTTPClient(client HTTPClient) {
	c.client = client
}

// Complete generates a chat completion, including tool calls when the
// request declares tools.
func (c *Client) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	start := time.Now()

	if len(req.Messages) == 0 {
		return nil, llm.NewProviderError(c.name, llm.ErrorKindValidation, "messages must not be empty")
	}
	if req.Model == "" {
		return nil, llm.NewProviderError(c.name, llm.ErrorKindValidation, "model must be resolved before the provider call")
	}

	apiReq := chatRequest{
		Model:       req.Model,
		Messages:    toWireMessages(req.Messages),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	for _, tool := range req.Tools {
		apiReq.Tools = append(apiReq.Tools, wireTool{
			Type: "function",
			Function: wireToolFunction{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.Parameters,
			},
		})
	}

	reqBody, err := json.Marshal(apiReq)
	if err != nil {
		return nil, llm.NewProviderError(c.name, llm.ErrorKindValidation, fmt.Sprintf("marshal request: %v", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, llm.NewProviderError(c.name, llm.ErrorKindValidation, fmt.Sprintf("build request: %v", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, &llm.ProviderError{
			Provider: c.name,
			Kind:     llm.ErrorKindTransport,
			Message:  err.Error(),
			Cause:    err,
		}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, c.parseAPIError(resp.StatusCode, body)
	}

	var apiResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, &llm.ProviderError{
			Provider: c.name,
			Kind:     llm.ErrorKindUnknown,
			Message:  fmt.Sprintf("decode response: %v", err),
			Cause:    err,
		}
	}
	if len(apiResp.Choices) == 0 {
		return nil, llm.NewProviderError(c.name, llm.ErrorKindUnknown, "response contained no choices")
	}

	choice := apiResp.Choices[0]
	out := &llm.CompletionResponse{
		Content:      choice.Message.Content,
		FinishReason: choice.FinishReason,
		Model:        apiResp.Model,
		Provider:     c.name,
		Usage: llm.UsageStats{
			PromptTokens:     apiResp.Usage.PromptTokens,
			CompletionTokens: apiResp.Usage.CompletionTokens,
			TotalTokens:      apiResp.Usage.TotalTokens,
		},
		Latency: time.Since(start),
	}
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, llm.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return out, nil
}

// parseAPIError converts a non-2xx response into a tagged provider error.
// 400 means the request itself was rejected; everything else is an upstream
// status failure eligible for fallback.
func (c *Client) parseAPIError(statusCode int, body []byte) error {
	var errResp struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}

	message := strings.TrimSpace(string(body))
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		message = errResp.Error.Message
	}

	kind := llm.ErrorKindHTTPStatus
	if statusCode == http.StatusBadRequest {
		kind = llm.ErrorKindValidation
	}

	return &llm.ProviderError{
		Provider:   c.name,
		Kind:       kind,
		StatusCode: statusCode,
		Message:    message,
	}
}

// Wire types for the OpenAI chat-completions format.

type wireMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type wireToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type wireTool struct {
	Type     string           `json:"type"`
	Function wireToolFunction `json:"function"`
}

type wireToolFunction struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []wireMessage `json:"messages"`
	Tools       []wireTool    `json:"tools,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index        int         `json:"index"`
		Message      wireMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

func toWireMessages(messages []llm.Message) []wireMessage {
	out := make([]wireMessage, 0, len(messages))
	for _, m := range messages {
		wm := wireMessage{
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			wtc := wireToolCall{ID: tc.ID, Type: "function"}
			wtc.Function.Name = tc.Name
			wtc.Function.Arguments = tc.Arguments
			wm.ToolCalls = append(wm.ToolCalls, wtc)
		}
		out = append(out, wm)
	}
	return out
}
