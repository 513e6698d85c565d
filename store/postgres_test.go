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
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupMockStore(t *testing.T) (*Postgres, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return NewPostgres(db), mock
}

func TestGetDigestNotFound(t *testing.T) {
	s, mock := setupMockStore(t)

	mock.ExpectQuery(`SELECT id, user_id, digest_date, kind`).
		WithArgs("u1", "2024-01-01", "daily").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := s.GetDigest(context.Background(), "u1", "2024-01-01", DigestKindDaily, "")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetDigestDaily(t *testing.T) {
	s, mock := setupMockStore(t)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "user_id", "digest_date", "kind", "content", "specs", "created_at"}).
		AddRow(int64(7), "u1", "2024-01-01", "daily", "your digest", "", now)

	mock.ExpectQuery(`SELECT id, user_id, digest_date, kind`).
		WithArgs("u1", "2024-01-01", "daily").
		WillReturnRows(rows)

	d, err := s.GetDigest(context.Background(), "u1", "2024-01-01", DigestKindDaily, "")
	require.NoError(t, err)
	assert.Equal(t, "your digest", d.Content)
	assert.Equal(t, DigestKindDaily, d.Kind)
}

func TestGetDigestCustomFiltersBySpecs(t *testing.T) {
	s, mock := setupMockStore(t)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "user_id", "digest_date", "kind", "content", "specs", "created_at"}).
		AddRow(int64(9), "u1", "2024-01-01", "custom", "answer", "how did I spend", now)

	mock.ExpectQuery(`SELECT id, user_id, digest_date, kind`).
		WithArgs("u1", "2024-01-01", "custom", "how did I spend").
		WillReturnRows(rows)

	d, err := s.GetDigest(context.Background(), "u1", "2024-01-01", DigestKindCustom, "how did I spend")
	require.NoError(t, err)
	assert.Equal(t, "how did I spend", d.Specs)
}

func TestUpsertDailyDigest(t *testing.T) {
	s, mock := setupMockStore(t)

	mock.ExpectExec(`INSERT INTO digests`).
		WithArgs("u1", "2024-01-01", "generated content").
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := s.UpsertDailyDigest(context.Background(), "u1", "2024-01-01", "generated content")
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCountCustomDigests(t *testing.T) {
	s, mock := setupMockStore(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM digests`).
		WithArgs("u1", "2024-01-01").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	count, err := s.CountCustomDigests(context.Background(), "u1", "2024-01-01")
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestRecentMessagesChronological(t *testing.T) {
	s, mock := setupMockStore(t)

	t0 := time.Now().Add(-2 * time.Minute)
	t1 := time.Now().Add(-1 * time.Minute)
	rows := sqlmock.NewRows([]string{"id", "session_id", "user_id", "role", "content", "created_at"}).
		AddRow(int64(1), "s1", "u1", "user", "first", t0).
		AddRow(int64(2), "s1", "u1", "assistant", "second", t1)

	mock.ExpectQuery(`FROM chat_messages`).
		WithArgs("s1", 30).
		WillReturnRows(rows)

	msgs, err := s.RecentMessages(context.Background(), "s1", 30)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "first", msgs[0].Content)
	assert.Equal(t, "second", msgs[1].Content)
}

func TestAccountOwner(t *testing.T) {
	s, mock := setupMockStore(t)

	mock.ExpectQuery(`SELECT user_id FROM accounts`).
		WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow("u1"))

	owner, err := s.AccountOwner(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, "u1", owner)

	mock.ExpectQuery(`SELECT user_id FROM accounts`).
		WithArgs(int64(43)).
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}))

	_, err = s.AccountOwner(context.Background(), 43)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateTransactionAdjustsBalance(t *testing.T) {
	s, mock := setupMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO transactions`).
		WithArgs(int64(42), "u1", -25.0, "EUR", "groceries", "weekly shop", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(100)))
	mock.ExpectExec(`UPDATE accounts SET balance`).
		WithArgs(-25.0, int64(42)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	id, err := s.CreateTransaction(context.Background(), Transaction{
		AccountID:   42,
		UserID:      "u1",
		Amount:      -25.0,
		Currency:    "EUR",
		Category:    "groceries",
		Description: "weekly shop",
		Date:        time.Now(),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(100), id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSearchTransactionsFilters(t *testing.T) {
	s, mock := setupMockStore(t)

	rows := sqlmock.NewRows([]string{"id", "account_id", "user_id", "amount", "currency", "category", "description", "date"}).
		AddRow(int64(1), int64(42), "u1", -12.5, "EUR", "food", "lunch", time.Now())

	mock.ExpectQuery(`FROM transactions`).
		WithArgs("u1", "%lunch%", 50).
		WillReturnRows(rows)

	txs, err := s.SearchTransactions(context.Background(), "u1", TransactionQuery{Text: "lunch"})
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, "lunch", txs[0].Description)
}

func TestFXRateSameCurrency(t *testing.T) {
	s, _ := setupMockStore(t)

	rate, err := s.FXRate(context.Background(), "EUR", "EUR")
	require.NoError(t, err)
	assert.Equal(t, 1.0, rate)
}
