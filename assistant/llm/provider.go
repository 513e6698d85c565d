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

package llm

import (
	"context"
	"os"
)

// ChatProvider executes full chat completions with optional tool calling.
// Implementations must be safe for concurrent use.
type ChatProvider interface {
	// Name returns the provider identifier used for routing and logging.
	Name() string

	// Complete generates a completion for the given request. The model field
	// of the request is always resolved by the gateway before the call.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}

// TextProvider generates plain text through a provider whose request shape is
// not OpenAI-compatible. Implementations must be safe for concurrent use.
type TextProvider interface {
	// Name returns the provider identifier used for routing and logging.
	Name() string

	// GenerateText generates plain text for the given input with the
	// resolved model.
	GenerateText(ctx context.Context, input TextInput, model string) (*TextResult, error)
}

// Clients holds the provider client handles, constructed once at process
// start and passed by reference into the gateway. No ambient globals: tests
// substitute fakes per gateway instance.
type Clients struct {
	chat map[string]ChatProvider
	text map[string]TextProvider
}

// NewClients creates an empty client set.
func NewClients() *Clients {
	return &Clients{
		chat: make(map[string]ChatProvider),
		text: make(map[string]TextProvider),
	}
}

// RegisterChat adds an OpenAI-compatible chat provider.
func (c *Clients) RegisterChat(p ChatProvider) {
	c.chat[p.Name()] = p
}

// RegisterText adds a native text provider.
func (c *Clients) RegisterText(p TextProvider) {
	c.text[p.Name()] = p
}

// Chat returns the chat provider with the given name.
func (c *Clients) Chat(name string) (ChatProvider, bool) {
	p, ok := c.chat[name]
	return p, ok
}

// Text returns the text provider with the given name.
func (c *Clients) Text(name string) (TextProvider, bool) {
	p, ok := c.text[name]
	return p, ok
}

// Configured reports whether a client exists for the provider. Providers
// without credentials are never constructed, so absence here means the
// provider is excluded from routing upfront rather than attempted and failed.
func (c *Clients) Configured(name string) bool {
	if _, ok := c.chat[name]; ok {
		return true
	}
	_, ok := c.text[name]
	return ok
}

// EnvKeys maps each provider to the environment variable holding its API key.
var EnvKeys = map[string]string{
	ProviderOpenAI:     "OPENAI_API_KEY",
	ProviderOpenRouter: "OPENROUTER_API_KEY",
	ProviderGroq:       "GROQ_API_KEY",
	ProviderGemini:     "GEMINI_API_KEY",
}

// APIKeyFromEnv returns the configured API key for a provider, if any.
func APIKeyFromEnv(provider string) string {
	env, ok := EnvKeys[provider]
	if !ok {
		return ""
	}
	return os.Getenv(env)
}
