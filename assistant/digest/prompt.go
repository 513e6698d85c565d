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

package digest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"pennyflow/platform/store"
)

const digestSystemPrompt = "You are PennyFlow's financial assistant. " +
	"Write a digest of the user's finances based only on the data provided. " +
	"Be concrete, mention amounts with currencies, and never invent numbers."

// baseCurrency is the currency balances are normalized to for the total.
const baseCurrency = "USD"

func transactionWindow(now time.Time) store.TransactionQuery {
	return store.TransactionQuery{From: now.AddDate(0, 0, -7), To: now, Limit: 50}
}

func maxTokensFor(length string) int {
	if length == "detailed" {
		return 1200
	}
	return 400
}

// buildPrompt assembles the data section of the digest prompt: accounts
// with balances, the last week of transactions, upcoming payments, and
// tracked subscriptions. Partial data is acceptable; a failed section is
// skipped rather than failing the digest.
func (s *Service) buildPrompt(ctx context.Context, userID, length, specs string) (string, error) {
	var b strings.Builder

	accounts, err := s.store.AccountsWithBalances(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("load accounts: %w", err)
	}

	b.WriteString("Accounts:\n")
	total := 0.0
	for _, a := range accounts {
		fmt.Fprintf(&b, "- %s / %s: %.2f %s\n", a.BankName, a.Name, a.Balance, a.Currency)
		rate := 1.0
		if a.Currency != baseCurrency {
			if r, err := s.store.FXRate(ctx, a.Currency, baseCurrency); err == nil {
				rate = r
			} else {
				continue
			}
		}
		total += a.Balance * rate
	}
	fmt.Fprintf(&b, "Approximate total balance: %.2f %s\n", total, baseCurrency)

	now := time.Now().UTC()
	txs, err := s.store.SearchTransactions(ctx, userID, transactionWindow(now))
	if err == nil && len(txs) > 0 {
		b.WriteString("\nTransactions from the last 7 days:\n")
		for _, tx := range txs {
			fmt.Fprintf(&b, "- %s: %.2f %s (%s) %s\n",
				tx.Date.Format("2006-01-02"), tx.Amount, tx.Currency, tx.Category, tx.Description)
		}
	}

	payments, err := s.store.UpcomingPayments(ctx, userID, 14)
	if err == nil && len(payments) > 0 {
		b.WriteString("\nPayments due in the next 14 days:\n")
		for _, p := range payments {
			fmt.Fprintf(&b, "- %s %s: %.2f %s due %s\n",
				p.Source, p.Name, p.Amount, p.Currency, p.DueDate.Format("2006-01-02"))
		}
	}

	subs, err := s.store.Subscriptions(ctx, userID)
	if err == nil && len(subs) > 0 {
		b.WriteString("\nSubscriptions:\n")
		for _, sub := range subs {
			fmt.Fprintf(&b, "- %s: %.2f %s %s\n", sub.Name, sub.Amount, sub.Currency, sub.Interval)
		}
	}

	b.WriteString("\n")
	if specs != "" {
		fmt.Fprintf(&b, "Answer this follow-up question about the data above: %s\n", specs)
	} else if length == "detailed" {
		b.WriteString("Write a detailed daily digest: balance overview, notable spending, upcoming obligations, and one actionable suggestion.\n")
	} else {
		b.WriteString("Write a short daily digest (3-4 sentences) highlighting what changed and what is due soon.\n")
	}

	return b.String(), nil
}
