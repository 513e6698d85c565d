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

// Package gemini provides the text provider for Google's Gemini API. Its
// request shape is not OpenAI-compatible, so it participates in routing
// through the plain text-generation path only.
package gemini

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
	// DefaultBaseURL is the default Gemini API endpoint.
	DefaultBaseURL = "https://generativelanguage.googleapis.com"

	// DefaultAPIVersion is the Gemini API version.
	DefaultAPIVersion = "v1beta"

	// DefaultTimeout is the default HTTP timeout.
	DefaultTimeout = 120 * time.Second

	// DefaultModel is used when the gateway resolves no other model.
	DefaultModel = "gemini-2.0-flash"
)

// HTTPClient is an interface for HTTP client operations (enables testing).
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Provider implements llm.TextProvider for Google Gemini.
type Provider struct {
	apiKey     string
	baseURL    string
	apiVersion string
	client     HTTPClient
}

// Config contains configuration for the Gemini provider.
type Config struct {
	APIKey     string        // Required: Google API key
	BaseURL    string        // Optional: API base URL
	APIVersion string        // Optional: API version (default: v1beta)
	Timeout    time.Duration // Optional: HTTP timeout (default: 120s)
}

// NewProvider creates a new Gemini provider instance.
func NewProvider(cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = DefaultAPIVersion
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}

	return &Provider{
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiVersion: cfg.APIVersion,
		client:     &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return llm.ProviderGemini
}

// SetHTTPClient sets a custom HTTP client for testing.
func (p *Provider) SetHTTPClient(client HTTPClient) {
	p.client = client
}

// GenerateText generates plain text via the generateContent endpoint.
func (p *Provider) GenerateText(ctx context.Context, input llm.TextInput, model string) (*llm.TextResult, error) {
	if input.Prompt == "" {
		return nil, llm.NewProviderError(p.Name(), llm.ErrorKindValidation, "prompt must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}

	apiReq := map[string]any{
		"contents": []map[string]any{
			{
				"role":  "user",
				"parts": []map[string]any{{"text": input.Prompt}},
			},
		},
	}
	if input.System != "" {
		apiReq["systemInstruction"] = map[string]any{
			"parts": []map[string]any{{"text": input.System}},
		}
	}
	generationConfig := map[string]any{}
	if input.Temperature > 0 {
		generationConfig["temperature"] = input.Temperature
	}
	if input.MaxTokens > 0 {
		generationConfig["maxOutputTokens"] = input.MaxTokens
	}
	if len(generationConfig) > 0 {
		apiReq["generationConfig"] = generationConfig
	}

	reqBody, err := json.Marshal(apiReq)
	if err != nil {
		return nil, llm.NewProviderError(p.Name(), llm.ErrorKindValidation, fmt.Sprintf("marshal request: %v", err))
	}

	url := fmt.Sprintf("%s/%s/models/%s:generateContent?key=%s",
		p.baseURL, p.apiVersion, model, p.apiKey)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, llm.NewProviderError(p.Name(), llm.ErrorKindValidation, fmt.Sprintf("build request: %v", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, &llm.ProviderError{
			Provider: p.Name(),
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
		return nil, p.parseAPIError(resp.StatusCode, body)
	}

	var apiResp geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, &llm.ProviderError{
			Provider: p.Name(),
			Kind:     llm.ErrorKindUnknown,
			Message:  fmt.Sprintf("decode response: %v", err),
			Cause:    err,
		}
	}
	if len(apiResp.Candidates) == 0 || len(apiResp.Candidates[0].Content.Parts) == 0 {
		return nil, llm.NewProviderError(p.Name(), llm.ErrorKindUnknown, "response contained no candidates")
	}

	var text strings.Builder
	for _, part := range apiResp.Candidates[0].Content.Parts {
		text.WriteString(part.Text)
	}

	return &llm.TextResult{
		Text:     text.String(),
		Provider: p.Name(),
		Model:    model,
	}, nil
}

// parseAPIError converts a non-2xx response into a tagged provider error.
func (p *Provider) parseAPIError(statusCode int, body []byte) error {
	var errResp struct {
		Error struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
			Status  string `json:"status"`
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
		Provider:   p.Name(),
		Kind:       kind,
		StatusCode: statusCode,
		Message:    message,
	}
}

// Gemini API response shape.
type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Role  string `json:"role"`
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata *struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
}
