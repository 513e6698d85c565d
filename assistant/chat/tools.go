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

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"pennyflow/platform/store"
)

// Tool names exposed to the model.
const (
	toolSearchTransactions  = "search_transactions"
	toolGetBankBalance      = "get_bank_balance"
	toolGetSpendingAnalysis = "get_spending_analysis"
	toolGetSubscriptions    = "get_subscriptions"
	toolGetPortfolio        = "get_portfolio"
	toolGetInvestingValue   = "get_investing_value"
	toolCreateTransaction   = "create_transaction"
	toolGetDebtsCredits     = "get_debts_credits"
	toolGetUpcomingPayments = "get_upcoming_payments"
	toolGetNetWorth         = "get_net_worth"
	toolNavigateTo          = "navigate_to"
	toolSearchDocs          = "search_docs"
)

func objectSchema(props map[string]interface{}, required ...string) map[string]interface{} {
	schema := map[string]interface{}{"type": "object", "properties": props}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func stringProp(desc string) map[string]interface{} {
	return map[string]interface{}{"type": "string", "description": desc}
}

func numberProp(desc string) map[string]interface{} {
	return map[string]interface{}{"type": "number", "description": desc}
}

// reducedCatalog is exposed for messages without finance-data intent:
// navigation and doc search only, reducing token cost and unnecessary data
// fetches.
func reducedCatalog() []toolDef {
	return []toolDef{
		{
			name:        toolNavigateTo,
			description: "Navigate the user to a page of the app. Use when the user asks to open or see a specific page.",
			parameters:  objectSchema(map[string]interface{}{"page": stringProp("Page name, e.g. dashboard, investing, transactions")}, "page"),
		},
		{
			name:        toolSearchDocs,
			description: "Search PennyFlow's help documentation.",
			parameters:  objectSchema(map[string]interface{}{"query": stringProp("Search query")}, "query"),
		},
	}
}

// fullCatalog is the complete finance tool set.
func fullCatalog() []toolDef {
	return append([]toolDef{
		{
			name:        toolSearchTransactions,
			description: "Search the user's transactions by text, category, or time range.",
			parameters: objectSchema(map[string]interface{}{
				"query":    stringProp("Free-text search over descriptions"),
				"category": stringProp("Category filter"),
				"days":     numberProp("Look back this many days (default 30)"),
				"limit":    numberProp("Maximum results (default 20)"),
			}),
		},
		{
			name:        toolGetBankBalance,
			description: "Get account balances, optionally for one bank by name.",
			parameters:  objectSchema(map[string]interface{}{"bank_name": stringProp("Bank name to match")}),
		},
		{
			name:        toolGetSpendingAnalysis,
			description: "Aggregate the user's spending by category over a date range.",
			parameters: objectSchema(map[string]interface{}{
				"from": stringProp("Start date YYYY-MM-DD (default 30 days ago)"),
				"to":   stringProp("End date YYYY-MM-DD (default today)"),
			}),
		},
		{
			name:        toolGetSubscriptions,
			description: "List the user's tracked subscriptions.",
			parameters:  objectSchema(map[string]interface{}{}),
		},
		{
			name:        toolGetPortfolio,
			description: "List the user's investment holdings.",
			parameters:  objectSchema(map[string]interface{}{}),
		},
		{
			name:        toolGetInvestingValue,
			description: "Get the total value of the user's investment portfolio.",
			parameters:  objectSchema(map[string]interface{}{}),
		},
		{
			name:        toolCreateTransaction,
			description: "Record a new transaction on one of the user's accounts. Amount is negative for spending.",
			parameters: objectSchema(map[string]interface{}{
				"account_id":  numberProp("Target account id"),
				"amount":      numberProp("Amount, negative for spending"),
				"currency":    stringProp("Currency code"),
				"category":    stringProp("Category"),
				"description": stringProp("Description"),
			}, "account_id", "amount"),
		},
		{
			name:        toolGetDebtsCredits,
			description: "List money the user owes and money owed to the user.",
			parameters:  objectSchema(map[string]interface{}{}),
		},
		{
			name:        toolGetUpcomingPayments,
			description: "List payments due soon (subscriptions, debts, mortgages).",
			parameters:  objectSchema(map[string]interface{}{"days": numberProp("Lookahead window in days (default 30)")}),
		},
		{
			name:        toolGetNetWorth,
			description: "Break down the user's net worth: balances plus holdings plus credits minus debts.",
			parameters:  objectSchema(map[string]interface{}{}),
		},
	}, reducedCatalog()...)
}

type toolDef struct {
	name        string
	description string
	parameters  map[string]interface{}
}

// toolArgs is the defensively parsed argument payload. Malformed JSON from
// the model is treated as empty arguments rather than aborting the turn.
type toolArgs map[string]interface{}

func parseArgs(raw string) toolArgs {
	var args toolArgs
	if err := json.Unmarshal([]byte(raw), &args); err != nil || args == nil {
		return toolArgs{}
	}
	return args
}

func (a toolArgs) str(key string) string {
	s, _ := a[key].(string)
	return s
}

func (a toolArgs) num(key string, def float64) float64 {
	if n, ok := a[key].(float64); ok {
		return n
	}
	return def
}

// toolResult marshals a tool payload for the model. Marshal failures become
// structured error payloads, never transport errors.
func toolResult(payload interface{}) string {
	data, err := json.Marshal(payload)
	if err != nil {
		return `{"error": "internal serialization failure"}`
	}
	return string(data)
}

func toolError(format string, args ...interface{}) string {
	return toolResult(map[string]string{"error": fmt.Sprintf(format, args...)})
}

// execTool executes one tool call against the data layer and returns the
// serialized result. Failures are structured payloads the model relays to
// the user; the conversation stays alive.
func (l *Loop) execTool(ctx context.Context, userID, name string, args toolArgs, rs *runState) string {
	switch name {
	case toolSearchTransactions:
		days := int(args.num("days", 30))
		limit := int(args.num("limit", 20))
		now := time.Now().UTC()
		txs, err := l.store.SearchTransactions(ctx, userID, store.TransactionQuery{
			Text:     args.str("query"),
			Category: args.str("category"),
			From:     now.AddDate(0, 0, -days),
			To:       now,
			Limit:    limit,
		})
		if err != nil {
			return toolError("transaction search failed: %v", err)
		}
		return toolResult(map[string]interface{}{"transactions": txs, "count": len(txs)})

	case toolGetBankBalance:
		return l.execBankBalance(ctx, userID, args.str("bank_name"))

	case toolGetSpendingAnalysis:
		now := time.Now().UTC()
		from := args.str("from")
		if from == "" {
			from = now.AddDate(0, 0, -30).Format("2006-01-02")
		}
		to := args.str("to")
		if to == "" {
			to = now.Format("2006-01-02")
		}
		spend, err := l.store.SpendingByCategory(ctx, userID, from, to)
		if err != nil {
			return toolError("spending analysis failed: %v", err)
		}
		return toolResult(map[string]interface{}{"from": from, "to": to, "categories": spend})

	case toolGetSubscriptions:
		subs, err := l.store.Subscriptions(ctx, userID)
		if err != nil {
			return toolError("subscription lookup failed: %v", err)
		}
		return toolResult(map[string]interface{}{"subscriptions": subs})

	case toolGetPortfolio:
		holdings, err := l.store.Holdings(ctx, userID)
		if err != nil {
			return toolError("portfolio lookup failed: %v", err)
		}
		return toolResult(map[string]interface{}{"holdings": holdings})

	case toolGetInvestingValue:
		holdings, err := l.store.Holdings(ctx, userID)
		if err != nil {
			return toolError("portfolio lookup failed: %v", err)
		}
		total := 0.0
		for _, h := range holdings {
			total += h.Value
		}
		return toolResult(map[string]interface{}{"total_value": total, "positions": len(holdings)})

	case toolCreateTransaction:
		return l.execCreateTransaction(ctx, userID, args)

	case toolGetDebtsCredits:
		debts, err := l.store.Debts(ctx, userID)
		if err != nil {
			return toolError("debt lookup failed: %v", err)
		}
		credits, err := l.store.Credits(ctx, userID)
		if err != nil {
			return toolError("credit lookup failed: %v", err)
		}
		return toolResult(map[string]interface{}{"debts": debts, "credits": credits})

	case toolGetUpcomingPayments:
		days := int(args.num("days", 30))
		payments, err := l.store.UpcomingPayments(ctx, userID, days)
		if err != nil {
			return toolError("payment lookup failed: %v", err)
		}
		return toolResult(map[string]interface{}{"payments": payments, "days": days})

	case toolGetNetWorth:
		return l.execNetWorth(ctx, userID)

	case toolNavigateTo:
		page := args.str("page")
		path, label, ok := ResolvePath(page)
		if !ok {
			return toolError("unknown page %q", page)
		}
		rs.action = &ClientAction{Type: "navigate", Path: path}
		return toolResult(map[string]string{"navigated_to": path, "label": label})

	case toolSearchDocs:
		return toolResult(map[string]interface{}{"results": searchDocs(args.str("query"))})

	default:
		return toolError("unknown tool %q", name)
	}
}

// execBankBalance lists accounts, optionally narrowed to one bank by
// case-insensitive substring match. primaryMatch is the first matching bank
// so the model can answer "how much is in my X bank" directly.
func (l *Loop) execBankBalance(ctx context.Context, userID, bankName string) string {
	accounts, err := l.store.AccountsWithBalances(ctx, userID)
	if err != nil {
		return toolError("account lookup failed: %v", err)
	}

	type accountView struct {
		AccountID int64   `json:"account_id"`
		Bank      string  `json:"bank"`
		Name      string  `json:"name"`
		Balance   float64 `json:"balance"`
		Currency  string  `json:"currency"`
	}
	payload := map[string]interface{}{}
	views := make([]accountView, 0, len(accounts))
	var primaryMatch *accountView
	needle := strings.ToLower(strings.TrimSpace(bankName))

	for _, a := range accounts {
		view := accountView{AccountID: a.ID, Bank: a.BankName, Name: a.Name, Balance: a.Balance, Currency: a.Currency}
		views = append(views, view)
		if needle != "" && primaryMatch == nil && strings.Contains(strings.ToLower(a.BankName), needle) {
			v := view
			primaryMatch = &v
		}
	}

	payload["accounts"] = views
	if primaryMatch != nil {
		payload["primaryMatch"] = *primaryMatch
	} else if needle != "" {
		payload["note"] = fmt.Sprintf("no bank matching %q", bankName)
	}
	return toolResult(payload)
}

// execCreateTransaction re-verifies account ownership before writing. The
// one mutating tool: every failure is a structured payload for the model.
func (l *Loop) execCreateTransaction(ctx context.Context, userID string, args toolArgs) string {
	accountID := int64(args.num("account_id", 0))
	if accountID == 0 {
		return toolError("account_id is required")
	}
	amount := args.num("amount", 0)
	if amount == 0 {
		return toolError("amount is required and must be non-zero")
	}

	owner, err := l.store.AccountOwner(ctx, accountID)
	if err != nil {
		return toolError("account %d not found", accountID)
	}
	if owner != userID {
		l.log.Warn(userID, "", "transaction creation on foreign account rejected", map[string]interface{}{
			"account_id": accountID,
		})
		return toolError("account %d does not belong to you", accountID)
	}

	id, err := l.store.CreateTransaction(ctx, store.Transaction{
		AccountID:   accountID,
		UserID:      userID,
		Amount:      amount,
		Currency:    args.str("currency"),
		Category:    args.str("category"),
		Description: args.str("description"),
		Date:        time.Now().UTC(),
	})
	if err != nil {
		return toolError("transaction creation failed: %v", err)
	}
	return toolResult(map[string]interface{}{"created": true, "transaction_id": id})
}

// execNetWorth sums balances, holdings, and credits, minus debts.
func (l *Loop) execNetWorth(ctx context.Context, userID string) string {
	accounts, err := l.store.AccountsWithBalances(ctx, userID)
	if err != nil {
		return toolError("account lookup failed: %v", err)
	}
	holdings, err := l.store.Holdings(ctx, userID)
	if err != nil {
		return toolError("portfolio lookup failed: %v", err)
	}
	debts, err := l.store.Debts(ctx, userID)
	if err != nil {
		return toolError("debt lookup failed: %v", err)
	}
	credits, err := l.store.Credits(ctx, userID)
	if err != nil {
		return toolError("credit lookup failed: %v", err)
	}

	var cash, invested, owed, receivable float64
	for _, a := range accounts {
		cash += a.Balance
	}
	for _, h := range holdings {
		invested += h.Value
	}
	for _, d := range debts {
		owed += d.Amount
	}
	for _, c := range credits {
		receivable += c.Amount
	}

	return toolResult(map[string]interface{}{
		"cash":      cash,
		"invested":  invested,
		"debts":     owed,
		"credits":   receivable,
		"net_worth": cash + invested + receivable - owed,
	})
}

// docEntry is a help-documentation snippet served by doc search.
type docEntry struct {
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
}

var docIndex = []docEntry{
	{"Connecting a bank", "Go to Accounts, press Add bank, and follow the linking flow for your institution."},
	{"Daily digest", "The digest summarizes balances, recent spending, and upcoming payments. It refreshes once per day; follow-up digests are limited to 5 per day."},
	{"Tracking subscriptions", "Add recurring charges under Subscriptions to see them in upcoming payments and the digest."},
	{"Recording a transaction", "Ask the assistant to record a transaction, or add one manually from the Transactions page."},
	{"Investing overview", "The Investing page lists holdings with live value. Ask the assistant for your total portfolio value."},
	{"Net worth", "Net worth combines account balances, investments, and credits minus debts."},
}

// searchDocs is a keyword match over the static doc index.
func searchDocs(query string) []docEntry {
	words := strings.Fields(strings.ToLower(query))
	if len(words) == 0 {
		return nil
	}
	var results []docEntry
	for _, entry := range docIndex {
		haystack := strings.ToLower(entry.Title + " " + entry.Snippet)
		for _, w := range words {
			if strings.Contains(haystack, w) {
				results = append(results, entry)
				break
			}
		}
	}
	return results
}
