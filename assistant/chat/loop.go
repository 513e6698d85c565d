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

// Package chat answers a user's natural-language message with a bounded
// agentic loop: the model may invoke finance tools, their results are fed
// back, and the loop exits with the final answer or after the turn budget.
package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"pennyflow/platform/assistant/guard"
	"pennyflow/platform/assistant/llm"
	"pennyflow/platform/cache"
	"pennyflow/platform/common/usage"
	"pennyflow/platform/shared/logger"
	"pennyflow/platform/store"
)

const (
	// MaxTurns is the round-trip budget per user message. Exhausting it is
	// not an error; the loop exits with whatever text was last produced.
	MaxTurns = 5

	// historyLimit caps the prior session messages read per turn.
	historyLimit = 30

	// BlockedMessage is the fixed response for guard-blocked input.
	BlockedMessage = "I can't help with that. Let's keep the conversation about your finances."
)

// ErrNotSessionOwner rejects a chat request against someone else's session.
var ErrNotSessionOwner = errors.New("chat: session does not belong to user")

// TurnResult is the outcome of one user message.
type TurnResult struct {
	Response     string        `json:"response"`
	SessionID    string        `json:"session_id"`
	ClientAction *ClientAction `json:"client_action,omitempty"`
	Trace        []TraceStep   `json:"trace"`
	Blocked      bool          `json:"blocked,omitempty"`
}

// completer is the slice of the completion gateway the loop needs.
type completer interface {
	CreateChatCompletion(ctx context.Context, req llm.CompletionRequest, opts llm.CompletionOptions) (*llm.CompletionResponse, error)
}

// guardChecker screens the incoming message.
type guardChecker interface {
	CheckPrompt(ctx context.Context, text string) guard.Result
}

// usageRecorder counts user-visible responses.
type usageRecorder interface {
	RecordResponse(ctx context.Context, event usage.ResponseEvent) error
}

// Loop runs chat turns. Safe for concurrent use; per-request state lives in
// a runState, never on the Loop itself.
type Loop struct {
	gateway completer
	store   store.Store
	cache   cache.Cache
	guard   guardChecker
	usage   usageRecorder
	log     *logger.Logger
}

// NewLoop creates a chat loop.
func NewLoop(gw completer, st store.Store, c cache.Cache, g guardChecker, u usageRecorder) *Loop {
	return &Loop{
		gateway: gw,
		store:   st,
		cache:   c,
		guard:   g,
		usage:   u,
		log:     logger.New("chat"),
	}
}

// runState is one request's mutable state.
type runState struct {
	action *ClientAction
}

// Run answers one user message.
//
// Usage accounting happens exactly once per user-visible response,
// including the navigation fast path, and never when the guard blocked the
// message or the gateway failed outright.
func (l *Loop) Run(ctx context.Context, userID, message, sessionID, traceID string) (*TurnResult, error) {
	start := time.Now()
	trace := newTraceRecorder(l.cache, userID, traceID)

	check := l.guard.CheckPrompt(ctx, message)
	if !check.IsSafe {
		l.log.Warn(userID, traceID, "message blocked by prompt guard", map[string]interface{}{
			"score": check.Score,
		})
		trace.Finish(ctx)
		return &TurnResult{
			Response:  BlockedMessage,
			SessionID: sessionID,
			Trace:     trace.Steps(),
			Blocked:   true,
		}, nil
	}

	if sessionID == "" {
		sessionID = uuid.NewString()
		if err := l.store.CreateSession(ctx, sessionID, userID); err != nil {
			trace.Finish(ctx)
			return nil, fmt.Errorf("create session: %w", err)
		}
	} else {
		owner, err := l.store.SessionOwner(ctx, sessionID)
		if err != nil {
			trace.Finish(ctx)
			return nil, fmt.Errorf("load session: %w", err)
		}
		if owner != userID {
			trace.Finish(ctx)
			return nil, ErrNotSessionOwner
		}
	}

	// Navigation fast path: deterministic intent, zero model calls.
	if IsNavigationIntent(message) {
		if path, label, ok := ResolvePath(message); ok {
			trace.Upsert(ctx, "navigate", "Opening "+label, path, StepDone)
			trace.Finish(ctx)

			response := fmt.Sprintf("Taking you to %s.", label)
			l.persistExchange(ctx, sessionID, userID, message, response)
			l.recordUsage(ctx, userID, "", "", 0, time.Since(start))

			return &TurnResult{
				Response:     response,
				SessionID:    sessionID,
				ClientAction: &ClientAction{Type: "navigate", Path: path},
				Trace:        trace.Steps(),
			}, nil
		}
	}

	messages, err := l.assembleMessages(ctx, sessionID, userID, message)
	if err != nil {
		trace.Finish(ctx)
		return nil, err
	}

	tools := catalogFor(message)
	rs := &runState{}
	var (
		finalText   string
		provider    string
		model       string
		totalTokens int
	)

	for turn := 0; turn < MaxTurns; turn++ {
		turnKey := fmt.Sprintf("turn-%d", turn+1)
		trace.Upsert(ctx, turnKey, "Thinking", "", StepRunning)

		resp, err := l.gateway.CreateChatCompletion(ctx, llm.CompletionRequest{
			Messages: messages,
			Tools:    tools,
		}, llm.CompletionOptions{Purpose: "chat_turn"})
		if err != nil {
			trace.Upsert(ctx, turnKey, "Thinking", "failed", StepDone)
			trace.Finish(ctx)
			return nil, err
		}
		trace.Upsert(ctx, turnKey, "Thinking", "", StepDone)

		provider = resp.Provider
		model = resp.Model
		totalTokens += resp.Usage.TotalTokens
		if resp.Content != "" {
			finalText = resp.Content
		}

		if len(resp.ToolCalls) == 0 {
			break
		}

		messages = append(messages, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		// Tools run sequentially within a turn: results are appended in
		// call order and the mutating tool assumes prior state is visible.
		for _, call := range resp.ToolCalls {
			stepKey := "tool-" + call.ID
			trace.Upsert(ctx, stepKey, call.Name, "", StepRunning)

			result := l.execTool(ctx, userID, call.Name, parseArgs(call.Arguments), rs)
			messages = append(messages, llm.Message{
				Role:       llm.RoleTool,
				Content:    result,
				ToolCallID: call.ID,
			})

			trace.Upsert(ctx, stepKey, call.Name, "", StepDone)
		}
	}

	trace.Finish(ctx)

	l.persistExchange(ctx, sessionID, userID, message, finalText)
	l.recordUsage(ctx, userID, provider, model, totalTokens, time.Since(start))

	return &TurnResult{
		Response:     finalText,
		SessionID:    sessionID,
		ClientAction: rs.action,
		Trace:        trace.Steps(),
	}, nil
}

// catalogFor picks the tool set by finance intent. Non-finance messages get
// navigation and doc search only.
func catalogFor(message string) []llm.ToolSpec {
	defs := reducedCatalog()
	if IsFinanceIntent(message) {
		defs = fullCatalog()
	}
	specs := make([]llm.ToolSpec, 0, len(defs))
	for _, d := range defs {
		specs = append(specs, llm.ToolSpec{Name: d.name, Description: d.description, Parameters: d.parameters})
	}
	return specs
}

// assembleMessages builds system prompt + recent history + current message.
func (l *Loop) assembleMessages(ctx context.Context, sessionID, userID, message string) ([]llm.Message, error) {
	system, err := l.buildSystemPrompt(ctx, userID, message)
	if err != nil {
		return nil, err
	}

	history, err := l.store.RecentMessages(ctx, sessionID, historyLimit)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	messages := make([]llm.Message, 0, len(history)+2)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: system})
	for _, m := range history {
		messages = append(messages, llm.Message{Role: m.Role, Content: m.Content})
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: message})
	return messages, nil
}

// buildSystemPrompt embeds the user's financial context. FX rates are
// included only when the message needs currency conversion.
func (l *Loop) buildSystemPrompt(ctx context.Context, userID, message string) (string, error) {
	accounts, err := l.store.AccountsWithBalances(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("load accounts: %w", err)
	}

	prompt := "You are PennyFlow's financial assistant. Answer using the user's " +
		"data, calling tools when you need fresh numbers. Be concise and never " +
		"invent amounts.\n\nThe user's accounts:\n"
	for _, a := range accounts {
		prompt += fmt.Sprintf("- %s / %s (id %d): %.2f %s\n", a.BankName, a.Name, a.ID, a.Balance, a.Currency)
	}

	if NeedsCurrencyContext(message) {
		seen := map[string]bool{}
		for _, a := range accounts {
			if a.Currency == "USD" || seen[a.Currency] {
				continue
			}
			seen[a.Currency] = true
			if rate, err := l.store.FXRate(ctx, a.Currency, "USD"); err == nil {
				prompt += fmt.Sprintf("Exchange rate %s to USD: %.4f\n", a.Currency, rate)
			}
		}
	}
	return prompt, nil
}

// persistExchange appends the user message and the assistant reply to the
// session. Persistence failures are logged, not surfaced; the user already
// has their answer.
func (l *Loop) persistExchange(ctx context.Context, sessionID, userID, userMsg, reply string) {
	if err := l.store.AppendMessage(ctx, sessionID, userID, llm.RoleUser, userMsg); err != nil {
		l.log.Error(userID, "", "user message persist failed", map[string]interface{}{
			"session_id": sessionID, "error": err.Error(),
		})
	}
	if reply == "" {
		return
	}
	if err := l.store.AppendMessage(ctx, sessionID, userID, llm.RoleAssistant, reply); err != nil {
		l.log.Error(userID, "", "assistant message persist failed", map[string]interface{}{
			"session_id": sessionID, "error": err.Error(),
		})
	}
}

// recordUsage increments the per-user counters exactly once per
// user-visible response. The navigation fast path passes an empty provider.
func (l *Loop) recordUsage(ctx context.Context, userID, provider, model string, tokens int, latency time.Duration) {
	if l.usage == nil {
		return
	}
	err := l.usage.RecordResponse(ctx, usage.ResponseEvent{
		UserID:     userID,
		Date:       time.Now().UTC().Format("2006-01-02"),
		Provider:   provider,
		Model:      model,
		TokensUsed: tokens,
		LatencyMs:  latency.Milliseconds(),
	})
	if err != nil {
		l.log.Error(userID, "", "usage recording failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
}
