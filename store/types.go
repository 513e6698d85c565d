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

package store

import "time"

// DigestKind distinguishes the scheduled daily digest from user-requested
// follow-up digests.
type DigestKind string

const (
	// DigestKindDaily is the scheduled daily digest. At most one row exists
	// per (user, date).
	DigestKindDaily DigestKind = "daily"

	// DigestKindCustom is a user-requested follow-up digest. Multiple rows
	// per day are allowed, bounded by a per-day quota.
	DigestKindCustom DigestKind = "custom"
)

// Digest is a generated financial summary persisted for history endpoints.
type Digest struct {
	ID         int64
	UserID     string
	DigestDate string // YYYY-MM-DD
	Kind       DigestKind
	Content    string
	Specs      string // free-text follow-up question for custom digests
	CreatedAt  time.Time
}

// ChatMessage is one message in a chat session, ordered by creation time.
type ChatMessage struct {
	ID         int64
	SessionID  string
	UserID     string
	Role       string // user, assistant, tool
	Content    string
	CreatedAt  time.Time
}

// Bank groups a user's accounts under a financial institution.
type Bank struct {
	ID     int64
	UserID string
	Name   string
}

// Account is a bank account with its current balance.
type Account struct {
	ID       int64
	BankID   int64
	BankName string
	UserID   string
	Name     string
	Balance  float64
	Currency string
}

// Transaction is a single ledger entry. Amount is negative for spending.
type Transaction struct {
	ID          int64
	AccountID   int64
	UserID      string
	Amount      float64
	Currency    string
	Category    string
	Description string
	Date        time.Time
}

// TransactionQuery filters transaction searches issued by chat tools.
type TransactionQuery struct {
	Text     string
	Category string
	From     time.Time
	To       time.Time
	Limit    int
}

// CategorySpend aggregates spending for one category over a period.
type CategorySpend struct {
	Category string
	Total    float64
	Count    int
}

// Subscription is a recurring charge tracked for the user.
type Subscription struct {
	ID          int64
	UserID      string
	Name        string
	Amount      float64
	Currency    string
	Interval    string // monthly, yearly
	NextCharge  time.Time
}

// Debt is money the user owes.
type Debt struct {
	ID       int64
	UserID   string
	Name     string
	Amount   float64
	Currency string
	DueDate  time.Time
}

// Credit is money owed to the user.
type Credit struct {
	ID       int64
	UserID   string
	Name     string
	Amount   float64
	Currency string
	DueDate  time.Time
}

// Holding is one position in the user's investment portfolio.
type Holding struct {
	ID       int64
	UserID   string
	Symbol   string
	Quantity float64
	Value    float64
	Currency string
}

// Payment is an upcoming outflow (subscription charge, debt installment,
// mortgage payment) within a lookahead window.
type Payment struct {
	Source   string // subscription, debt, mortgage
	Name     string
	Amount   float64
	Currency string
	DueDate  time.Time
}
