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

// Package llm provides the multi-provider completion gateway used by the
// PennyFlow AI core: provider registry, fallback policy, and the unified
// request/response types shared by all provider integrations.
package llm

import (
	"fmt"
	"time"
)

// Standard provider names supported out of the box.
const (
	// ProviderOpenAI is the direct OpenAI chat-completions API.
	ProviderOpenAI = "openai"

	// ProviderOpenRouter is the OpenAI-compatible aggregator.
	ProviderOpenRouter = "openrouter"

	// ProviderGroq is the OpenAI-compatible fast-inference vendor.
	ProviderGroq = "groq"

	// ProviderGemini is Google's generative AI API. Its request shape is not
	// OpenAI-compatible; it is reached through the native text path only.
	ProviderGemini = "gemini"

	// ProviderBedrock is AWS Bedrock (anthropic model family). Text path only.
	ProviderBedrock = "bedrock"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one entry in a chat-completion conversation.
type Message struct {
	// Role is one of system, user, assistant, tool.
	Role string `json:"role"`

	// Content is the message text. May be empty for assistant messages that
	// only carry tool calls.
	Content string `json:"content"`

	// ToolCalls carries the tool invocations an assistant message requested.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID links a tool-role message back to the call it answers.
	ToolCallID string `json:"tool_call_id,omitempty"`
}

// ToolSpec declares a tool the model may invoke.
type ToolSpec struct {
	// Name is the function name the model uses to invoke the tool.
	Name string `json:"name"`

	// Description tells the model when to use the tool.
	Description string `json:"description"`

	// Parameters is the JSON-schema object describing the tool's arguments.
	Parameters map[string]interface{} `json:"parameters"`
}

// ToolCall is one tool invocation requested by the model.
type ToolCall struct {
	// ID is the provider-assigned call identifier.
	ID string `json:"id"`

	// Name is the tool being invoked.
	Name string `json:"name"`

	// Arguments is the raw JSON argument payload. May be malformed; callers
	// must parse defensively.
	Arguments string `json:"arguments"`
}

// CompletionRequest encapsulates one logical chat-completion request.
// It is transient, created per call, never persisted.
type CompletionRequest struct {
	// Messages is the ordered conversation.
	Messages []Message `json:"messages"`

	// Tools optionally declares the tools available to the model.
	Tools []ToolSpec `json:"tools,omitempty"`

	// Temperature controls randomness. Zero means provider default.
	Temperature float64 `json:"temperature,omitempty"`

	// MaxTokens limits the response length. Zero means provider default.
	MaxTokens int `json:"max_tokens,omitempty"`

	// Model overrides the resolved model for this request. Normally left
	// empty; the gateway resolves the model per provider.
	Model string `json:"model,omitempty"`
}

// CompletionResponse contains the first successful provider's answer,
// returned verbatim by the gateway.
type CompletionResponse struct {
	// Content is the generated text. Empty when the model only requested
	// tool calls.
	Content string `json:"content"`

	// ToolCalls lists tool invocations requested by the model, in call order.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// FinishReason indicates why generation stopped.
	// Common values: "stop", "tool_calls", "length", "content_filter".
	FinishReason string `json:"finish_reason,omitempty"`

	// Model is the model that actually answered.
	Model string `json:"model"`

	// Provider is the provider that actually answered.
	Provider string `json:"provider"`

	// Usage contains token usage statistics.
	Usage UsageStats `json:"usage"`

	// Latency is the time the winning provider call took.
	Latency time.Duration `json:"latency"`
}

// UsageStats tracks token usage for quota accounting and monitoring.
type UsageStats struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// TextInput is the input to the plain text-generation convenience path.
type TextInput struct {
	// Prompt is the user-facing prompt text.
	Prompt string `json:"prompt"`

	// System is an optional system instruction. Providers without a native
	// system-role concept receive it concatenated into the prompt.
	System string `json:"system,omitempty"`

	// Temperature controls randomness. Zero means provider default.
	Temperature float64 `json:"temperature,omitempty"`

	// MaxTokens limits the response length. Zero means provider default.
	MaxTokens int `json:"max_tokens,omitempty"`
}

// TextResult is the plain text-generation result, attributed to the provider
// and model that actually answered.
type TextResult struct {
	Text     string `json:"text"`
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

// ErrorKind is the closed set of failure classes a provider adapter can
// produce. The fallback policy pattern-matches on this set instead of
// duck-typing provider-specific error shapes.
type ErrorKind string

const (
	// ErrorKindTransport covers network failures, timeouts, and cancellations.
	ErrorKindTransport ErrorKind = "transport"

	// ErrorKindHTTPStatus covers non-2xx responses from the provider API.
	ErrorKindHTTPStatus ErrorKind = "http_status"

	// ErrorKindValidation covers requests the provider (or the adapter)
	// rejected as malformed. Retrying another provider cannot fix these.
	ErrorKindValidation ErrorKind = "validation"

	// ErrorKindUnknown covers everything else.
	ErrorKindUnknown ErrorKind = "unknown"
)

// ProviderError is the tagged error type produced by provider adapters.
type ProviderError struct {
	// Provider is the name of the provider that failed.
	Provider string `json:"provider"`

	// Kind classifies the failure.
	Kind ErrorKind `json:"kind"`

	// StatusCode is the HTTP status code when Kind is http_status.
	StatusCode int `json:"status_code,omitempty"`

	// Message is a human-readable summary.
	Message string `json:"message"`

	// Cause is the underlying error, if any.
	Cause error `json:"-"`
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s error (status %d): %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s error (%s): %s", e.Provider, e.Kind, e.Message)
}

// Unwrap returns the underlying error.
func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// NewProviderError creates a ProviderError with the given kind.
func NewProviderError(provider string, kind ErrorKind, message string) *ProviderError {
	return &ProviderError{Provider: provider, Kind: kind, Message: message}
}
