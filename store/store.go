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

// Package store defines the relational data access consumed by the AI core.
//
// Persistence (schema migrations, the full CRUD surface used by the routers)
// is owned elsewhere; the core only reads and writes through this interface.
// The Postgres implementation covers exactly the operations the core needs
// and assumes single-row inserts and updates are atomic. It does not demand
// multi-row transactions.
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("store: not found")

// Store is the data-access interface the AI core consumes.
// Implementations must be safe for concurrent use.
type Store interface {
	DigestStore
	ChatStore
	FinanceStore
}

// DigestStore persists generated digests.
type DigestStore interface {
	// GetDigest returns the digest for (user, date, kind), or ErrNotFound.
	// For kind=custom with specs set, the row matching that specs text is
	// returned.
	GetDigest(ctx context.Context, userID, date string, kind DigestKind, specs string) (*Digest, error)

	// UpsertDailyDigest inserts the daily digest for (user, date) or replaces
	// its content if a row already exists. The unique (user, date, kind=daily)
	// constraint is enforced by the database.
	UpsertDailyDigest(ctx context.Context, userID, date, content string) error

	// InsertCustomDigest appends a custom digest row.
	InsertCustomDigest(ctx context.Context, userID, date, content, specs string) error

	// CountCustomDigests returns the number of custom digest rows for
	// (user, date). Used to enforce the per-day quota.
	CountCustomDigests(ctx context.Context, userID, date string) (int, error)
}

// ChatStore persists chat sessions and messages.
type ChatStore interface {
	// CreateSession inserts a new chat session row.
	CreateSession(ctx context.Context, sessionID, userID string) error

	// SessionOwner returns the owning user of a session, or ErrNotFound.
	SessionOwner(ctx context.Context, sessionID string) (string, error)

	// RecentMessages returns the most recent limit messages of a session in
	// chronological order.
	RecentMessages(ctx context.Context, sessionID string, limit int) ([]ChatMessage, error)

	// AppendMessage appends one message to a session.
	AppendMessage(ctx context.Context, sessionID, userID, role, content string) error
}

// FinanceStore reads the user's financial data for prompts and chat tools,
// and supports the one mutating tool (transaction creation).
type FinanceStore interface {
	// AccountsWithBalances returns the user's accounts with bank names and
	// current balances eagerly loaded.
	AccountsWithBalances(ctx context.Context, userID string) ([]Account, error)

	// AccountOwner returns the owning user of an account, or ErrNotFound.
	AccountOwner(ctx context.Context, accountID int64) (string, error)

	// SearchTransactions returns transactions matching the query, most
	// recent first.
	SearchTransactions(ctx context.Context, userID string, q TransactionQuery) ([]Transaction, error)

	// CreateTransaction inserts a transaction and returns its id, adjusting
	// the account balance by the transaction amount.
	CreateTransaction(ctx context.Context, tx Transaction) (int64, error)

	// SpendingByCategory aggregates spending per category between from and to
	// (inclusive), largest total first.
	SpendingByCategory(ctx context.Context, userID, from, to string) ([]CategorySpend, error)

	// Subscriptions returns the user's tracked subscriptions.
	Subscriptions(ctx context.Context, userID string) ([]Subscription, error)

	// Debts returns money the user owes.
	Debts(ctx context.Context, userID string) ([]Debt, error)

	// Credits returns money owed to the user.
	Credits(ctx context.Context, userID string) ([]Credit, error)

	// Holdings returns the user's portfolio positions.
	Holdings(ctx context.Context, userID string) ([]Holding, error)

	// UpcomingPayments returns outflows due within the next days, soonest
	// first.
	UpcomingPayments(ctx context.Context, userID string, days int) ([]Payment, error)

	// FXRate returns the conversion rate from one currency to another.
	// Same-currency requests return 1.
	FXRate(ctx context.Context, from, to string) (float64, error)
}
