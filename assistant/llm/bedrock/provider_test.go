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

package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"pennyflow/platform/assistant/llm"
)

type mockInvokeClient struct {
	lastInput *bedrockruntime.InvokeModelInput
	output    *bedrockruntime.InvokeModelOutput
	err       error
}

func (m *mockInvokeClient) InvokeModel(_ context.Context, params *bedrockruntime.InvokeModelInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error) {
	m.lastInput = params
	if m.err != nil {
		return nil, m.err
	}
	return m.output, nil
}

func TestGenerateText(t *testing.T) {
	mock := &mockInvokeClient{
		output: &bedrockruntime.InvokeModelOutput{
			Body: []byte(`{
				"content": [{"type": "text", "text": "Your balance trend looks healthy."}],
				"stop_reason": "end_turn",
				"usage": {"input_tokens": 50, "output_tokens": 12}
			}`),
		},
	}
	p := NewProviderFromClient(mock, "us-east-1")

	result, err := p.GenerateText(context.Background(), llm.TextInput{
		Prompt: "summarize my balances",
		System: "You are a financial assistant.",
	}, DefaultModel)
	if err != nil {
		t.Fatalf("GenerateText() error = %v", err)
	}
	if result.Text != "Your balance trend looks healthy." {
		t.Errorf("Text = %q", result.Text)
	}
	if result.Provider != llm.ProviderBedrock || result.Model != DefaultModel {
		t.Errorf("attribution = %s/%s", result.Provider, result.Model)
	}

	if got := *mock.lastInput.ModelId; got != DefaultModel {
		t.Errorf("ModelId = %q", got)
	}
	var sent map[string]interface{}
	if err := json.Unmarshal(mock.lastInput.Body, &sent); err != nil {
		t.Fatal(err)
	}
	if sent["anthropic_version"] != "bedrock-2023-05-31" {
		t.Errorf("anthropic_version = %v", sent["anthropic_version"])
	}
	if sent["system"] != "You are a financial assistant." {
		t.Errorf("system = %v", sent["system"])
	}
}

func TestGenerateTextValidation(t *testing.T) {
	p := NewProviderFromClient(&mockInvokeClient{}, "")

	tests := []struct {
		name   string
		prompt string
		model  string
	}{
		{"empty prompt", "", DefaultModel},
		{"non-anthropic family", "hi", "amazon.titan-text-express-v1"},
		{"malformed model id", "hi", "claude"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.GenerateText(context.Background(), llm.TextInput{Prompt: tt.prompt}, tt.model)
			var pe *llm.ProviderError
			if !errors.As(err, &pe) || pe.Kind != llm.ErrorKindValidation {
				t.Errorf("error = %v, want validation ProviderError", err)
			}
		})
	}
}

func TestGenerateTextInvokeError(t *testing.T) {
	p := NewProviderFromClient(&mockInvokeClient{err: errors.New("AccessDeniedException")}, "")

	_, err := p.GenerateText(context.Background(), llm.TextInput{Prompt: "hi"}, DefaultModel)
	var pe *llm.ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("error = %T, want *llm.ProviderError", err)
	}
	if pe.Provider != llm.ProviderBedrock {
		t.Errorf("Provider = %q", pe.Provider)
	}
}

func TestIsAnthropicModel(t *testing.T) {
	tests := []struct {
		modelID string
		want    bool
	}{
		{"anthropic.claude-3-5-sonnet-20240620-v1:0", true},
		{"us.anthropic.claude-sonnet-4-5-20250929-v1:0", true},
		{"eu.anthropic.claude-sonnet-4-5-20250929-v1:0", true},
		{"global.anthropic.claude-sonnet-4-5-20250929-v1:0", true},
		{"amazon.titan-text-express-v1", false},
		{"meta.llama3-70b-instruct-v1:0", false},
		{"claude", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.modelID, func(t *testing.T) {
			if got := isAnthropicModel(tt.modelID); got != tt.want {
				t.Errorf("isAnthropicModel(%q) = %v, want %v", tt.modelID, got, tt.want)
			}
		})
	}
}
