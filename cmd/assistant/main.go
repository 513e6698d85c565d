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

// Package main is the entry point for the PennyFlow Assistant service.
//
// The Assistant is the AI core of PennyFlow:
// - Routes completion requests across LLM providers with ordered fallback
// - Generates the daily financial digest under a distributed single-flight lock
// - Runs a bounded agentic chat loop over the user's financial data
// - Screens incoming prompts with a fail-open safety guard
//
// Usage:
//
//	./assistant
//
// Environment Variables:
//
//	PORT - HTTP server port (default: 8082)
//	DATABASE_URL - PostgreSQL connection string
//	REDIS_URL - Redis connection string
//	OPENAI_API_KEY - OpenAI API key (optional)
//	OPENROUTER_API_KEY - OpenRouter API key (optional)
//	GROQ_API_KEY - Groq API key (optional)
//	GEMINI_API_KEY - Gemini API key (optional)
//	BEDROCK_REGION - AWS Bedrock region (optional)
package main

import (
	"pennyflow/platform/assistant"
)

func main() {
	assistant.Run()
}
