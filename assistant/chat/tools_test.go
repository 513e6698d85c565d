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
	"strings"
	"testing"
	"time"

	"pennyflow/platform/store"
)

func newToolLoop(st *fakeChatStore) *Loop {
	return NewLoop(nil, st, nil, nil, nil)
}

func decodePayload(t *testing.T, raw string) map[string]interface{} {
	t.Helper()
	var payload map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		t.Fatalf("tool result is not JSON: %q", raw)
	}
	return payload
}

func TestExecBankBalance(t *testing.T) {
	st := newFakeChatStore()
	loop := newToolLoop(st)
	ctx := context.Background()

	t.Run("no filter lists all accounts", func(t *testing.T) {
		payload := decodePayload(t, loop.execTool(ctx, "u1", toolGetBankBalance, toolArgs{}, &runState{}))
		accounts := payload["accounts"].([]interface{})
		if len(accounts) != 2 {
			t.Errorf("accounts = %d, want 2", len(accounts))
		}
		if _, ok := payload["primaryMatch"]; ok {
			t.Error("primaryMatch should be absent without a filter")
		}
	})

	t.Run("case-insensitive bank match", func(t *testing.T) {
		payload := decodePayload(t, loop.execTool(ctx, "u1", toolGetBankBalance, toolArgs{"bank_name": "bcc"}, &runState{}))
		match := payload["primaryMatch"].(map[string]interface{})
		if match["bank"] != "BCC" {
			t.Errorf("primaryMatch.bank = %v", match["bank"])
		}
	})

	t.Run("no match carries a note", func(t *testing.T) {
		payload := decodePayload(t, loop.execTool(ctx, "u1", toolGetBankBalance, toolArgs{"bank_name": "Kaspi"}, &runState{}))
		note, _ := payload["note"].(string)
		if !strings.Contains(note, "Kaspi") {
			t.Errorf("note = %q", note)
		}
		if len(payload["accounts"].([]interface{})) != 2 {
			t.Error("all accounts should still be listed for an unmatched bank")
		}
	})
}

func TestExecCreateTransaction(t *testing.T) {
	ctx := context.Background()

	t.Run("success adjusts the ledger", func(t *testing.T) {
		st := newFakeChatStore()
		loop := newToolLoop(st)
		payload := decodePayload(t, loop.execTool(ctx, "u1", toolCreateTransaction, toolArgs{
			"account_id":  float64(1),
			"amount":      float64(-42.5),
			"category":    "groceries",
			"description": "market run",
		}, &runState{}))
		if payload["created"] != true {
			t.Fatalf("payload = %v", payload)
		}
		if len(st.createdTx) != 1 || st.createdTx[0].Amount != -42.5 || st.createdTx[0].Category != "groceries" {
			t.Errorf("created transaction = %+v", st.createdTx)
		}
	})

	t.Run("missing required fields", func(t *testing.T) {
		st := newFakeChatStore()
		loop := newToolLoop(st)
		for _, args := range []toolArgs{
			{},
			{"account_id": float64(1)},
			{"amount": float64(-5)},
		} {
			payload := decodePayload(t, loop.execTool(ctx, "u1", toolCreateTransaction, args, &runState{}))
			if _, ok := payload["error"]; !ok {
				t.Errorf("args %v: expected error payload, got %v", args, payload)
			}
		}
		if len(st.createdTx) != 0 {
			t.Errorf("transactions created = %d, want 0", len(st.createdTx))
		}
	})

	t.Run("foreign account rejected", func(t *testing.T) {
		st := newFakeChatStore()
		st.accounts = append(st.accounts, store.Account{ID: 7, BankName: "Other", UserID: "u2", Currency: "USD"})
		loop := newToolLoop(st)
		payload := decodePayload(t, loop.execTool(ctx, "u1", toolCreateTransaction, toolArgs{
			"account_id": float64(7),
			"amount":     float64(-5),
		}, &runState{}))
		errMsg, _ := payload["error"].(string)
		if !strings.Contains(errMsg, "does not belong") {
			t.Errorf("error = %q", errMsg)
		}
		if len(st.createdTx) != 0 {
			t.Error("no transaction may be written on an ownership failure")
		}
	})
}

func TestExecNetWorth(t *testing.T) {
	loop := NewLoop(nil, &richStore{newFakeChatStore()}, nil, nil, nil)

	payload := decodePayload(t, loop.execTool(context.Background(), "u1", toolGetNetWorth, toolArgs{}, &runState{}))
	// cash 1540.50 + invested 2000 + credits 100 - debts 400
	if payload["net_worth"] != 3240.5 {
		t.Errorf("net_worth = %v, want 3240.5", payload["net_worth"])
	}
	if payload["cash"] != 1540.5 || payload["invested"] != 2000.0 {
		t.Errorf("payload = %v", payload)
	}
}

// richStore layers holdings, debts, and credits over the base fake.
type richStore struct {
	*fakeChatStore
}

func (r *richStore) Holdings(context.Context, string) ([]store.Holding, error) {
	return []store.Holding{
		{Symbol: "VTI", Value: 1500},
		{Symbol: "BND", Value: 500},
	}, nil
}

func (r *richStore) Debts(context.Context, string) ([]store.Debt, error) {
	return []store.Debt{{Name: "car loan", Amount: 400}}, nil
}

func (r *richStore) Credits(context.Context, string) ([]store.Credit, error) {
	return []store.Credit{{Name: "loan to Sam", Amount: 100}}, nil
}

func TestExecSearchTransactionsDefaults(t *testing.T) {
	st := newFakeChatStore()
	st.transactions = []store.Transaction{
		{ID: 1, Description: "coffee", Amount: -4.5, Date: time.Now()},
	}
	loop := newToolLoop(st)

	payload := decodePayload(t, loop.execTool(context.Background(), "u1", toolSearchTransactions, toolArgs{"query": "coffee"}, &runState{}))
	if payload["count"] != 1.0 {
		t.Errorf("count = %v, want 1", payload["count"])
	}
}

func TestExecNavigateTo(t *testing.T) {
	loop := newToolLoop(newFakeChatStore())

	rs := &runState{}
	payload := decodePayload(t, loop.execTool(context.Background(), "u1", toolNavigateTo, toolArgs{"page": "transactions"}, rs))
	if payload["navigated_to"] != "/transactions" {
		t.Errorf("navigated_to = %v", payload["navigated_to"])
	}
	if rs.action == nil || rs.action.Path != "/transactions" || rs.action.Type != "navigate" {
		t.Errorf("runState action = %+v", rs.action)
	}

	rs = &runState{}
	payload = decodePayload(t, loop.execTool(context.Background(), "u1", toolNavigateTo, toolArgs{"page": "horoscope"}, rs))
	if _, ok := payload["error"]; !ok {
		t.Errorf("unknown page should error, got %v", payload)
	}
	if rs.action != nil {
		t.Error("no action for an unresolvable page")
	}
}

func TestExecSearchDocs(t *testing.T) {
	loop := newToolLoop(newFakeChatStore())

	payload := decodePayload(t, loop.execTool(context.Background(), "u1", toolSearchDocs, toolArgs{"query": "digest limit"}, &runState{}))
	results := payload["results"].([]interface{})
	if len(results) == 0 {
		t.Fatal("expected doc results for digest query")
	}
	first := results[0].(map[string]interface{})
	if !strings.Contains(strings.ToLower(first["title"].(string)), "digest") {
		t.Errorf("first result = %v", first)
	}
}

func TestExecUnknownTool(t *testing.T) {
	loop := newToolLoop(newFakeChatStore())
	payload := decodePayload(t, loop.execTool(context.Background(), "u1", "delete_everything", toolArgs{}, &runState{}))
	errMsg, _ := payload["error"].(string)
	if !strings.Contains(errMsg, "delete_everything") {
		t.Errorf("error = %q", errMsg)
	}
}

func TestCatalogFor(t *testing.T) {
	finance := catalogFor("what's my account balance")
	general := catalogFor("how do I change my password")

	if len(finance) != 12 {
		t.Errorf("finance catalog = %d tools, want 12", len(finance))
	}
	if len(general) != 2 {
		t.Errorf("general catalog = %d tools, want 2", len(general))
	}
	for _, spec := range finance {
		if spec.Name == "" || spec.Description == "" || spec.Parameters == nil {
			t.Errorf("incomplete tool spec: %+v", spec)
		}
	}
}

func TestParseArgs(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want int
	}{
		{"valid", `{"a": 1, "b": "x"}`, 2},
		{"malformed", `{not json`, 0},
		{"empty string", ``, 0},
		{"null", `null`, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := parseArgs(tt.raw)
			if args == nil {
				t.Fatal("parseArgs must never return nil")
			}
			if len(args) != tt.want {
				t.Errorf("len = %d, want %d", len(args), tt.want)
			}
		})
	}
}
