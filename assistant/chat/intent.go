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

package chat

import "regexp"

// Intent classification is a fixed regex heuristic over the raw message
// text, not a model call. Cheap and deterministic, evaluated before every
// turn to pick the tool catalog and the fast path.

var financeIntentRe = regexp.MustCompile(`(?i)\b(balance|spend|spending|spent|transaction|account|bank|subscription|debt|credit|invest|investing|portfolio|stock|holding|net\s*worth|budget|money|payment|mortgage|saving|income|expense|cost|salary|owe|due)\b`)

// IsFinanceIntent reports whether the message asks about the user's
// financial data. It selects the full tool catalog.
func IsFinanceIntent(message string) bool {
	return financeIntentRe.MatchString(message)
}

var navigationIntentRe = regexp.MustCompile(`(?i)\b(how\s+do\s+i\s+(get|go)\s+to|open(\s+(my|the))?|navigate\s+to|go\s+to|take\s+me\s+to|show\s+me\s+the)\b.*\b(page|screen|tab|section|dashboard|investing|transactions?|subscriptions?|debts?|credits?|accounts?|banks?|settings|digest|mortgages?)\b`)

// IsNavigationIntent reports whether the message is a pure "take me there"
// request, eligible for the deterministic fast path.
func IsNavigationIntent(message string) bool {
	return navigationIntentRe.MatchString(message)
}

var currencyContextRe = regexp.MustCompile(`(?i)\b(convert|exchange\s+rate|fx|in\s+(usd|eur|gbp|jpy|chf|kzt)|usd|eur|gbp|jpy|chf|kzt)\b`)

// NeedsCurrencyContext reports whether the message involves currency
// conversion, so the system prompt includes FX rates.
func NeedsCurrencyContext(message string) bool {
	return currencyContextRe.MatchString(message)
}
