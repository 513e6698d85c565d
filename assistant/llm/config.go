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
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ModelSetting is the per-provider configuration stored in the settings file.
type ModelSetting struct {
	// Enabled controls whether the provider participates in routing.
	// Providers absent from the settings map default to enabled.
	Enabled *bool `yaml:"enabled" json:"enabled"`

	// Model is the default model for the provider. Empty means the
	// hard-coded default.
	Model string `yaml:"model" json:"model"`
}

// Config is the gateway configuration. It is loaded once per request from
// the configuration store (or pre-fetched by the caller) and never mutated
// in-memory during a request.
type Config struct {
	// ModelSettings maps provider name to its setting.
	ModelSettings map[string]ModelSetting `yaml:"model_settings" json:"model_settings"`

	// DefaultOrder is the provider priority order used when the caller does
	// not override it. Empty means the hard-coded default order.
	DefaultOrder []string `yaml:"default_order" json:"default_order"`

	// DisableFallback stops the gateway after the first provider failure
	// regardless of error kind.
	DisableFallback bool `yaml:"disable_fallback" json:"disable_fallback"`
}

// Enabled reports whether a provider is enabled by this config.
// Providers without an explicit setting are enabled.
func (c *Config) Enabled(provider string) bool {
	if c == nil {
		return true
	}
	setting, ok := c.ModelSettings[provider]
	if !ok || setting.Enabled == nil {
		return true
	}
	return *setting.Enabled
}

// Model returns the configured model for a provider, or empty.
func (c *Config) Model(provider string) string {
	if c == nil {
		return ""
	}
	return c.ModelSettings[provider].Model
}

// LoadConfig reads the gateway configuration from a YAML file. A missing
// path returns an empty config rather than an error so deployments without
// a settings file fall back to defaults.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return &Config{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, fmt.Errorf("read llm config %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse llm config %s: %w", path, err)
	}

	for _, name := range cfg.DefaultOrder {
		if strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("parse llm config %s: empty provider name in default_order", path)
		}
	}

	return &cfg, nil
}
