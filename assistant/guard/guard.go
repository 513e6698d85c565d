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

// Package guard pre-screens user-supplied text for prompt-injection risk
// before it is used to build any prompt. The classifier is best-effort: an
// unconfigured or failing guard provider must never take the chat or digest
// path down with it, so every failure mode resolves to "safe".
package guard

import (
	"context"
	"strconv"
	"strings"

	"pennyflow/platform/assistant/llm"
	"pennyflow/platform/shared/logger"
)

const (
	// Model is the prompt-guard classifier served by groq. It answers with a
	// single token: the probability that the input is a jailbreak attempt.
	Model = "meta-llama/llama-prompt-guard-2-86m"

	// SafeThreshold is the score at or below which input is considered safe.
	SafeThreshold = 0.93
)

// Result is the outcome of one guard check.
type Result struct {
	IsSafe bool    `json:"is_safe"`
	Score  float64 `json:"score"`
}

// completer is the slice of the gateway the guard needs.
type completer interface {
	CreateChatCompletion(ctx context.Context, req llm.CompletionRequest, opts llm.CompletionOptions) (*llm.CompletionResponse, error)
}

// Guard screens text through the classifier model.
type Guard struct {
	gateway    completer
	configured bool
	log        *logger.Logger
}

// New creates a guard. configured reports whether the classifier provider
// has credentials; when false every check short-circuits to safe.
func New(gateway completer, configured bool) *Guard {
	return &Guard{
		gateway:    gateway,
		configured: configured,
		log:        logger.New("prompt-guard"),
	}
}

// CheckPrompt scores the given text. Fail-open: an unconfigured provider,
// a failed classifier call, or an unparseable score all yield {true, 0}.
func (g *Guard) CheckPrompt(ctx context.Context, text string) Result {
	if !g.configured || strings.TrimSpace(text) == "" {
		return Result{IsSafe: true, Score: 0}
	}

	resp, err := g.gateway.CreateChatCompletion(ctx, llm.CompletionRequest{
		Messages:  []llm.Message{{Role: llm.RoleUser, Content: text}},
		MaxTokens: 1,
	}, llm.CompletionOptions{
		Providers: []string{llm.ProviderGroq},
		Models:    map[string]string{llm.ProviderGroq: Model},
		Purpose:   "prompt_guard",
	})
	if err != nil {
		g.log.Warn("", "", "guard call failed, failing open", map[string]interface{}{
			"error": err.Error(),
		})
		return Result{IsSafe: true, Score: 0}
	}

	score, err := strconv.ParseFloat(strings.TrimSpace(resp.Content), 64)
	if err != nil {
		g.log.Warn("", "", "guard returned non-numeric score, failing open", map[string]interface{}{
			"content": resp.Content,
		})
		return Result{IsSafe: true, Score: 0}
	}

	return Result{IsSafe: score <= SafeThreshold, Score: score}
}
