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
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"pennyflow/platform/shared/logger"
)

// Prometheus metrics for gateway observability.
var (
	promProviderAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pennyflow_llm_provider_attempts_total",
			Help: "Provider attempts by the completion gateway",
		},
		[]string{"provider", "outcome"},
	)
	promRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pennyflow_llm_request_duration_milliseconds",
			Help:    "Cumulative gateway request duration in milliseconds",
			Buckets: []float64{100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000},
		},
		[]string{"purpose", "outcome"},
	)
	registerMetricsOnce sync.Once
)

// RegisterMetrics registers the gateway metrics on the given registerer.
// Safe to call from any number of goroutines; only the first call registers.
func RegisterMetrics(reg prometheus.Registerer) {
	registerMetricsOnce.Do(func() {
		reg.MustRegister(promProviderAttempts, promRequestDuration)
	})
}

// CompletionOptions configure one gateway call.
type CompletionOptions struct {
	// Providers is an explicit provider order override.
	Providers []string

	// Models maps provider name to a per-provider model override.
	Models map[string]string

	// Purpose tags the request for observability ("daily_digest",
	// "chat_turn", "prompt_guard", ...).
	Purpose string

	// Config is a pre-fetched configuration. Nil means the gateway's own.
	Config *Config
}

// ProviderFailure records one failed provider attempt.
type ProviderFailure struct {
	Provider string
	Err      error
}

// ExhaustedError is the aggregate error raised when every provider in the
// resolved order fails (or fallback is disabled after the first failure).
type ExhaustedError struct {
	Purpose  string
	Failures []ProviderFailure
}

// Error concatenates each provider's failure summary.
func (e *ExhaustedError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s: %v", f.Provider, f.Err))
	}
	msg := "all providers failed: " + strings.Join(parts, "; ")
	if e.Purpose != "" {
		msg = fmt.Sprintf("[%s] %s", e.Purpose, msg)
	}
	return msg
}

// Unwrap exposes the per-provider errors so errors.Is/As reach the
// underlying ProviderError values through the aggregate.
func (e *ExhaustedError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}

// Gateway executes completion requests against an ordered provider list,
// trying each in turn until one succeeds or the list is exhausted.
type Gateway struct {
	clients *Clients
	cfg     *Config
	log     *logger.Logger
}

// NewGateway creates a gateway over the given client handles and default
// configuration.
func NewGateway(clients *Clients, cfg *Config) *Gateway {
	if cfg == nil {
		cfg = &Config{}
	}
	return &Gateway{
		clients: clients,
		cfg:     cfg,
		log:     logger.New("llm-gateway"),
	}
}

// config returns the effective configuration for one call.
func (g *Gateway) config(opts CompletionOptions) *Config {
	if opts.Config != nil {
		return opts.Config
	}
	return g.cfg
}

// CreateChatCompletion executes one chat-completion request against the
// resolved provider order and returns the first successful response verbatim,
// with Provider and Model reflecting who actually answered.
func (g *Gateway) CreateChatCompletion(ctx context.Context, req CompletionRequest, opts CompletionOptions) (*CompletionResponse, error) {
	cfg := g.config(opts)
	providers := EnabledProviders(opts.Providers, cfg, g.clients)

	start := time.Now()
	g.log.Info("", "", "completion start", map[string]interface{}{
		"purpose":   opts.Purpose,
		"providers": providers,
		"messages":  len(req.Messages),
		"tools":     len(req.Tools),
	})

	if len(providers) == 0 {
		promRequestDuration.WithLabelValues(opts.Purpose, "no_providers").
			Observe(float64(time.Since(start).Milliseconds()))
		return nil, NewProviderError("", ErrorKindValidation, "no providers configured and enabled")
	}

	var failures []ProviderFailure
	for _, name := range providers {
		provider, ok := g.clients.Chat(name)
		if !ok {
			// Text-only provider in a chat order; it cannot serve tool
			// calling, skip without recording a failure.
			g.log.Debug("", "", "skipping non-chat provider", map[string]interface{}{
				"provider": name, "purpose": opts.Purpose,
			})
			continue
		}

		attemptReq := req
		attemptReq.Model = ResolveModel(name, opts.Models[name], cfg)

		attemptStart := time.Now()
		resp, err := provider.Complete(ctx, attemptReq)
		attemptMs := float64(time.Since(attemptStart).Milliseconds())

		if err == nil {
			resp.Provider = name
			if resp.Model == "" {
				resp.Model = attemptReq.Model
			}
			promProviderAttempts.WithLabelValues(name, "success").Inc()
			promRequestDuration.WithLabelValues(opts.Purpose, "success").
				Observe(float64(time.Since(start).Milliseconds()))
			g.log.InfoWithDuration("", "", "completion success", attemptMs, map[string]interface{}{
				"purpose":  opts.Purpose,
				"provider": name,
				"model":    resp.Model,
				"tokens":   resp.Usage.TotalTokens,
				"total_ms": time.Since(start).Milliseconds(),
			})
			return resp, nil
		}

		classified := Classify(name, err)
		failures = append(failures, ProviderFailure{Provider: name, Err: classified})
		promProviderAttempts.WithLabelValues(name, "failure").Inc()
		g.log.Warn("", "", "provider attempt failed", map[string]interface{}{
			"purpose":    opts.Purpose,
			"provider":   name,
			"error":      classified.Error(),
			"error_kind": string(classified.Kind),
			"attempt_ms": attemptMs,
		})

		if cfg.DisableFallback {
			g.log.Warn("", "", "fallback disabled, stopping after first failure", map[string]interface{}{
				"purpose": opts.Purpose, "provider": name,
			})
			break
		}
		if !ShouldFallback(classified) {
			g.log.Warn("", "", "non-retryable failure, stopping", map[string]interface{}{
				"purpose": opts.Purpose, "provider": name,
			})
			break
		}
	}

	promRequestDuration.WithLabelValues(opts.Purpose, "exhausted").
		Observe(float64(time.Since(start).Milliseconds()))
	return nil, &ExhaustedError{Purpose: opts.Purpose, Failures: failures}
}

// GenerateText produces plain text rather than a full chat-completion
// object. OpenAI-compatible providers are reached through
// CreateChatCompletion with a single-provider order; native text providers
// (gemini, bedrock) are called directly. Returns who actually answered so
// callers can attribute the result.
func (g *Gateway) GenerateText(ctx context.Context, input TextInput, opts CompletionOptions) (*TextResult, error) {
	cfg := g.config(opts)
	providers := EnabledProviders(opts.Providers, cfg, g.clients)
	if len(providers) == 0 {
		return nil, NewProviderError("", ErrorKindValidation, "no providers configured and enabled")
	}

	var failures []ProviderFailure
	for _, name := range providers {
		if provider, ok := g.clients.Text(name); ok {
			model := ResolveModel(name, opts.Models[name], cfg)
			result, err := provider.GenerateText(ctx, input, model)
			if err == nil {
				promProviderAttempts.WithLabelValues(name, "success").Inc()
				return result, nil
			}

			classified := Classify(name, err)
			failures = append(failures, ProviderFailure{Provider: name, Err: classified})
			promProviderAttempts.WithLabelValues(name, "failure").Inc()
			g.log.Warn("", "", "text generation attempt failed", map[string]interface{}{
				"purpose":  opts.Purpose,
				"provider": name,
				"error":    classified.Error(),
			})
			if cfg.DisableFallback || !ShouldFallback(classified) {
				break
			}
			continue
		}

		// OpenAI-compatible path: delegate to the chat gateway with a
		// single-provider order.
		messages := make([]Message, 0, 2)
		if input.System != "" {
			messages = append(messages, Message{Role: RoleSystem, Content: input.System})
		}
		messages = append(messages, Message{Role: RoleUser, Content: input.Prompt})

		resp, err := g.CreateChatCompletion(ctx, CompletionRequest{
			Messages:    messages,
			Temperature: input.Temperature,
			MaxTokens:   input.MaxTokens,
		}, CompletionOptions{
			Providers: []string{name},
			Models:    opts.Models,
			Purpose:   opts.Purpose,
			Config:    cfg,
		})
		if err == nil {
			return &TextResult{Text: resp.Content, Provider: resp.Provider, Model: resp.Model}, nil
		}

		// the single-provider delegation wraps its one failure in an
		// aggregate; classify the inner error so validation still fails fast
		// and the outer aggregate stays flat.
		if ee, ok := err.(*ExhaustedError); ok && len(ee.Failures) == 1 {
			err = ee.Failures[0].Err
		}
		failures = append(failures, ProviderFailure{Provider: name, Err: err})
		if cfg.DisableFallback || !ShouldFallback(err) {
			break
		}
	}

	return nil, &ExhaustedError{Purpose: opts.Purpose, Failures: failures}
}
