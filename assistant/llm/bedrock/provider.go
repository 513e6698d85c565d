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

// Package bedrock provides the text provider for AWS Bedrock. Requests are
// signed with AWS Signature V4 via IAM credentials, so deployments inside
// AWS need no API key. Anthropic-family models only; it participates in
// routing through the plain text-generation path.
package bedrock

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"pennyflow/platform/assistant/llm"
)

const (
	// DefaultRegion is used when no AWS region is configured.
	DefaultRegion = "us-east-1"

	// DefaultModel is used when the gateway resolves no other model.
	DefaultModel = "anthropic.claude-3-5-sonnet-20240620-v1:0"

	// DefaultMaxTokens bounds output when the caller sets none; the
	// anthropic request format requires max_tokens.
	DefaultMaxTokens = 4096
)

// InvokeClient is the subset of the bedrockruntime client the provider
// uses (enables testing).
type InvokeClient interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// Provider implements llm.TextProvider for AWS Bedrock.
type Provider struct {
	client InvokeClient
	region string
}

// NewProvider creates a Bedrock provider using the AWS SDK v2 default
// credential chain. Returns an error if AWS config loading fails rather
// than deferring the failure to the first call.
func NewProvider(ctx context.Context, region string) (*Provider, error) {
	if region == "" {
		region = DefaultRegion
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	return &Provider{
		client: bedrockruntime.NewFromConfig(awsCfg),
		region: region,
	}, nil
}

// NewProviderFromClient creates a provider over an existing client (tests).
func NewProviderFromClient(client InvokeClient, region string) *Provider {
	if region == "" {
		region = DefaultRegion
	}
	return &Provider{client: client, region: region}
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return llm.ProviderBedrock
}

// GenerateText generates plain text through InvokeModel.
func (p *Provider) GenerateText(ctx context.Context, input llm.TextInput, model string) (*llm.TextResult, error) {
	if input.Prompt == "" {
		return nil, llm.NewProviderError(p.Name(), llm.ErrorKindValidation, "prompt must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}
	if !isAnthropicModel(model) {
		return nil, llm.NewProviderError(p.Name(), llm.ErrorKindValidation,
			fmt.Sprintf("unsupported model family for %s", model))
	}

	maxTokens := input.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	body := map[string]interface{}{
		"anthropic_version": "bedrock-2023-05-31",
		"max_tokens":        maxTokens,
		"messages": []map[string]string{
			{"role": "user", "content": input.Prompt},
		},
	}
	if input.System != "" {
		body["system"] = input.System
	}
	if input.Temperature > 0 {
		body["temperature"] = input.Temperature
	}

	requestJSON, err := json.Marshal(body)
	if err != nil {
		return nil, llm.NewProviderError(p.Name(), llm.ErrorKindValidation, fmt.Sprintf("marshal request: %v", err))
	}

	output, err := p.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(model),
		Body:        requestJSON,
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
	})
	if err != nil {
		return nil, llm.Classify(p.Name(), err)
	}

	var resp struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
		StopReason string `json:"stop_reason"`
		Usage      struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(output.Body, &resp); err != nil {
		return nil, &llm.ProviderError{
			Provider: p.Name(),
			Kind:     llm.ErrorKindUnknown,
			Message:  fmt.Sprintf("decode response: %v", err),
			Cause:    err,
		}
	}
	if len(resp.Content) == 0 {
		return nil, llm.NewProviderError(p.Name(), llm.ErrorKindUnknown, "response contained no content")
	}

	var text strings.Builder
	for _, block := range resp.Content {
		text.WriteString(block.Text)
	}

	return &llm.TextResult{
		Text:     text.String(),
		Provider: p.Name(),
		Model:    model,
	}, nil
}

// isAnthropicModel reports whether the model ID belongs to the anthropic
// family. Model IDs follow provider.model-name-version; inference profile
// IDs carry a regional prefix (us., eu., apac., global.).
func isAnthropicModel(modelID string) bool {
	segments := strings.Split(modelID, ".")
	switch {
	case len(segments) >= 2 && segments[0] == "anthropic":
		return true
	case len(segments) >= 3 && segments[1] == "anthropic":
		switch segments[0] {
		case "us", "eu", "apac", "global":
			return true
		}
	}
	return false
}
