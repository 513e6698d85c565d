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

import (
	"context"
	"database/sql"
	"fmt"
)

// Postgres implements Store over a PostgreSQL connection pool.
type Postgres struct {
	db *sql.DB
}

// NewPostgres wraps an open *sql.DB.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// compile-time interface compliance check
var _ Store = (*Postgres)(nil)

// GetDigest returns the digest for (user, date, kind), or ErrNotFound.
func (s *Postgres) GetDigest(ctx context.Context, userID, date string, kind DigestKind, specs string) (*Digest, error) {
	query := `
		SELECT id, user_id, digest_date, kind, content, COALESCE(specs, ''), created_at
		FROM digests
		WHERE user_id = $1 AND digest_date = $2 AND kind = $3`
	args := []interface{}{userID, date, string(kind)}

	if kind == DigestKindCustom && specs != "" {
		query += ` AND specs = $4`
		args = append(args, specs)
	}
	query += ` ORDER BY created_at DESC LIMIT 1`

	var d Digest
	var k string
	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&d.ID, &d.UserID, &d.DigestDate, &k, &d.Content, &d.Specs, &d.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get digest: %w", err)
	}
	d.Kind = DigestKind(k)
	return &d, nil
}

// UpsertDailyDigest inserts or replaces the daily digest for (user, date).
func (s *Postgres) UpsertDailyDigest(ctx context.Context, userID, date, content string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO digests (user_id, digest_date, kind, content)
		VALUES ($1, $2, 'daily', $3)
		ON CONFLICT (user_id, digest_date, kind) WHERE kind = 'daily'
		DO UPDATE SET content = EXCLUDED.content
	`, userID, date, content)
	if err != nil {
		return fmt.Errorf("upsert daily digest: %w", err)
	}
	return nil
}

// InsertCustomDigest appends a custom digest row.
func (s *Postgres) InsertCustomDigest(ctx context.Context, userID, date, content, specs string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO digests (user_id, digest_date, kind, content, specs)
		VALUES ($1, $2, 'custom', $3, $4)
	`, userID, date, content, specs)
	if err != nil {
		return fmt.Errorf("insert custom digest: %w", err)
	}
	return nil
}

// CountCustomDigests returns the number of custom digest rows for (user, date).
func (s *Postgres) CountCustomDigests(ctx context.Context, userID, date string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM digests
		WHERE user_id = $1 AND digest_date = $2 AND kind = 'custom'
	`, userID, date).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count custom digests: %w", err)
	}
	return count, nil
}

// CreateSession inserts a new chat session row.
func (s *Postgres) CreateSession(ctx context.Context, sessionID, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_sessions (id, user_id) VALUES ($1, $2)
	`, sessionID, userID)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// SessionOwner returns the owning user of a session, or ErrNotFound.
func (s *Postgres) SessionOwner(ctx context.Context, sessionID string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id FROM chat_sessions WHERE id = $1
	`, sessionID).Scan(&userID)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("session owner: %w", err)
	}
	return userID, nil
}

// RecentMessages returns the most recent limit messages in chronological order.
func (s *Postgres) RecentMessages(ctx context.Context, sessionID string, limit int) ([]ChatMessage, error) {
	// Fetch newest-first with LIMIT, then re-sort ascending in the outer query
	// so callers receive chronological order.
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, user_id, role, content, created_at FROM (
			SELECT id, session_id, user_id, role, content, created_at
			FROM chat_messages
			WHERE session_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2
		) recent
		ORDER BY created_at ASC, id ASC
	`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var messages []ChatMessage
	for rows.Next() {
		var m ChatMessage
		if err := rows.Scan(&m.ID, &m.SessionID, &m.UserID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// AppendMessage appends one message to a session.
func (s *Postgres) AppendMessage(ctx context.Context, sessionID, userID, role, content string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_messages (session_id, user_id, role, content)
		VALUES ($1, $2, $3, $4)
	`, sessionID, userID, role, content)
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

// AccountsWithBalances returns the user's accounts with bank names loaded.
func (s *Postgres) AccountsWithBalances(ctx context.Context, userID string) ([]Account, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT a.id, a.bank_id, b.name, a.user_id, a.name, a.balance, a.currency
		FROM accounts a
		JOIN banks b ON b.id = a.bank_id
		WHERE a.user_id = $1
		ORDER BY b.name, a.name
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("accounts with balances: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var accounts []Account
	for rows.Next() {
		var a Account
		if err := rows.Scan(&a.ID, &a.BankID, &a.BankName, &a.UserID, &a.Name, &a.Balance, &a.Currency); err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// AccountOwner returns the owning user of an account, or ErrNotFound.
func (s *Postgres) AccountOwner(ctx context.Context, accountID int64) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id FROM accounts WHERE id = $1
	`, accountID).Scan(&userID)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("account owner: %w", err)
	}
	return userID, nil
}

// SearchTransactions returns transactions matching the query, most recent first.
func (s *Postgres) SearchTransactions(ctx context.Context, userID string, q TransactionQuery) ([]Transaction, error) {
	query := `
		SELECT id, account_id, user_id, amount, currency, COALESCE(category, ''), description, date
		FROM transactions
		WHERE user_id = $1`
	args := []interface{}{userID}
	n := 1

	if q.Text != "" {
		n++
		query += fmt.Sprintf(" AND description ILIKE $%d", n)
		args = append(args, "%"+q.Text+"%")
	}
	if q.Category != "" {
		n++
		query += fmt.Sprintf(" AND category = $%d", n)
		args = append(args, q.Category)
	}
	if !q.From.IsZero() {
		n++
		query += fmt.Sprintf(" AND date >= $%d", n)
		args = append(args, q.From)
	}
	if !q.To.IsZero() {
		n++
		query += fmt.Sprintf(" AND date <= $%d", n)
		args = append(args, q.To)
	}

	limit := q.Limit
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	n++
	query += fmt.Sprintf(" ORDER BY date DESC, id DESC LIMIT $%d", n)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search transactions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var txs []Transaction
	for rows.Next() {
		var t Transaction
		if err := rows.Scan(&t.ID, &t.AccountID, &t.UserID, &t.Amount, &t.Currency, &t.Category, &t.Description, &t.Date); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}

// CreateTransaction inserts a transaction and adjusts the account balance.
func (s *Postgres) CreateTransaction(ctx context.Context, tx Transaction) (int64, error) {
	dbTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin create transaction: %w", err)
	}
	defer func() { _ = dbTx.Rollback() }()

	var id int64
	err = dbTx.QueryRowContext(ctx, `
		INSERT INTO transactions (account_id, user_id, amount, currency, category, description, date)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`, tx.AccountID, tx.UserID, tx.Amount, tx.Currency, tx.Category, tx.Description, tx.Date).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert transaction: %w", err)
	}

	_, err = dbTx.ExecContext(ctx, `
		UPDATE accounts SET balance = balance + $1 WHERE id = $2
	`, tx.Amount, tx.AccountID)
	if err != nil {
		return 0, fmt.Errorf("adjust balance: %w", err)
	}

	if err := dbTx.Commit(); err != nil {
		return 0, fmt.Errorf("commit create transaction: %w", err)
	}
	return id, nil
}

// SpendingByCategory aggregates spending per category, largest total first.
func (s *Postgres) SpendingByCategory(ctx context.Context, userID, from, to string) ([]CategorySpend, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT COALESCE(category, 'uncategorized'), SUM(-amount), COUNT(*)
		FROM transactions
		WHERE user_id = $1 AND amount < 0 AND date >= $2 AND date <= $3
		GROUP BY category
		ORDER BY SUM(-amount) DESC
	`, userID, from, to)
	if err != nil {
		return nil, fmt.Errorf("spending by category: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var spends []CategorySpend
	for rows.Next() {
		var c CategorySpend
		if err := rows.Scan(&c.Category, &c.Total, &c.Count); err != nil {
			return nil, fmt.Errorf("scan category spend: %w", err)
		}
		spends = append(spends, c)
	}
	return spends, rows.Err()
}

// Subscriptions returns the user's tracked subscriptions.
func (s *Postgres) Subscriptions(ctx context.Context, userID string) ([]Subscription, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, name, amount, currency, interval, next_charge
		FROM subscriptions
		WHERE user_id = $1
		ORDER BY next_charge ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("subscriptions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var subs []Subscription
	for rows.Next() {
		var sub Subscription
		if err := rows.Scan(&sub.ID, &sub.UserID, &sub.Name, &sub.Amount, &sub.Currency, &sub.Interval, &sub.NextCharge); err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// Debts returns money the user owes.
func (s *Postgres) Debts(ctx context.Context, userID string) ([]Debt, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, name, amount, currency, due_date
		FROM debts
		WHERE user_id = $1
		ORDER BY due_date ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("debts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var debts []Debt
	for rows.Next() {
		var d Debt
		if err := rows.Scan(&d.ID, &d.UserID, &d.Name, &d.Amount, &d.Currency, &d.DueDate); err != nil {
			return nil, fmt.Errorf("scan debt: %w", err)
		}
		debts = append(debts, d)
	}
	return debts, rows.Err()
}

// Credits returns money owed to the user.
func (s *Postgres) Credits(ctx context.Context, userID string) ([]Credit, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, name, amount, currency, due_date
		FROM credits
		WHERE user_id = $1
		ORDER BY due_date ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("credits: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var credits []Credit
	for rows.Next() {
		var c Credit
		if err := rows.Scan(&c.ID, &c.UserID, &c.Name, &c.Amount, &c.Currency, &c.DueDate); err != nil {
			return nil, fmt.Errorf("scan credit: %w", err)
		}
		credits = append(credits, c)
	}
	return credits, rows.Err()
}

// Holdings returns the user's portfolio positions.
func (s *Postgres) Holdings(ctx context.Context, userID string) ([]Holding, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, symbol, quantity, value, currency
		FROM holdings
		WHERE user_id = $1
		ORDER BY value DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("holdings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var holdings []Holding
	for rows.Next() {
		var h Holding
		if err := rows.Scan(&h.ID, &h.UserID, &h.Symbol, &h.Quantity, &h.Value, &h.Currency); err != nil {
			return nil, fmt.Errorf("scan holding: %w", err)
		}
		holdings = append(holdings, h)
	}
	return holdings, rows.Err()
}

// UpcomingPayments returns outflows due within the next days, soonest first.
func (s *Postgres) UpcomingPayments(ctx context.Context, userID string, days int) ([]Payment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT 'subscription' AS source, name, amount, currency, next_charge AS due_date
		FROM subscriptions
		WHERE user_id = $1 AND next_charge <= NOW() + ($2 || ' days')::interval
		UNION ALL
		SELECT 'debt' AS source, name, amount, currency, due_date
		FROM debts
		WHERE user_id = $1 AND due_date <= NOW() + ($2 || ' days')::interval
		UNION ALL
		SELECT 'mortgage' AS source, name, installment_amount, currency, next_installment AS due_date
		FROM mortgages
		WHERE user_id = $1 AND next_installment <= NOW() + ($2 || ' days')::interval
		ORDER BY due_date ASC
	`, userID, days)
	if err != nil {
		return nil, fmt.Errorf("upcoming payments: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var payments []Payment
	for rows.Next() {
		var p Payment
		if err := rows.Scan(&p.Source, &p.Name, &p.Amount, &p.Currency, &p.DueDate); err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

// FXRate returns the conversion rate from one currency to another.
func (s *Postgres) FXRate(ctx context.Context, from, to string) (float64, error) {
	if from == to {
		return 1, nil
	}

	var rate float64
	err := s.db.QueryRowContext(ctx, `
		SELECT rate FROM fx_rates WHERE base = $1 AND quote = $2
		ORDER BY updated_at DESC LIMIT 1
	`, from, to).Scan(&rate)
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("fx rate: %w", err)
	}
	return rate, nil
}
