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

// DefaultOrder is the hard-coded provider priority used when neither the
// caller nor the configuration supplies an order.
var DefaultOrder = []string{ProviderOpenRouter, ProviderOpenAI, ProviderGroq, ProviderGemini}

// hard-coded default models per provider, used when the configuration does
// not name one.
var defaultModels = map[string]string{
	ProviderOpenAI:     "gpt-4o-mini",
	ProviderOpenRouter: "openai/gpt-4o-mini",
	ProviderGroq:       "llama-3.3-70b-versatile",
	ProviderGemini:     "gemini-2.0-flash",
	ProviderBedrock:    "anthropic.claude-3-5-sonnet-20240620-v1:0",
}

// EnabledProviders resolves the ordered provider list for one request.
//
// Resolution: the candidate order is the explicit override if non-empty,
// else the configuration's default order, else DefaultOrder. The result is
// deduplicated preserving first-seen position, and excludes providers that
// are not configured (no client handle, i.e. no API key) or explicitly
// disabled in the configuration. Unconfigured providers are never attempted
// and never logged as failures.
func EnabledProviders(order []string, cfg *Config, clients *Clients) []string {
	candidates := order
	if len(candidates) == 0 && cfg != nil {
		candidates = cfg.DefaultOrder
	}
	if len(candidates) == 0 {
		candidates = DefaultOrder
	}

	seen := make(map[string]bool, len(candidates))
	resolved := make([]string, 0, len(candidates))
	for _, name := range candidates {
		if seen[name] {
			continue
		}
		seen[name] = true

		if !clients.Configured(name) {
			continue
		}
		if !cfg.Enabled(name) {
			continue
		}
		resolved = append(resolved, name)
	}
	return resolved
}

// ResolveModel picks the model for one provider attempt:
// explicit override, then the configured model, then the hard default.
func ResolveModel(provider string, override string, cfg *Config) string {
	if override != "" {
		return override
	}
	if m := cfg.Model(provider); m != "" {
		return m
	}
	return defaultModels[provider]
}
