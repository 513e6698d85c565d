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

package usage

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRecorder(t *testing.T) (*Recorder, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return NewRecorder(db), mock
}

func TestRecordResponse(t *testing.T) {
	r, mock := setupRecorder(t)

	mock.ExpectExec(`INSERT INTO ai_usage `).
		WithArgs("u1", "2024-01-01", 250).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`INSERT INTO ai_usage_events`).
		WithArgs("u1", "2024-01-01", "openai", "gpt-4o-mini", 250, int64(900)).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := r.RecordResponse(context.Background(), ResponseEvent{
		UserID:     "u1",
		Date:       "2024-01-01",
		Provider:   "openai",
		Model:      "gpt-4o-mini",
		TokensUsed: 250,
		LatencyMs:  900,
	})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordResponseFastPathSkipsEventRow(t *testing.T) {
	r, mock := setupRecorder(t)

	// No provider means the navigation fast path answered; only the counter
	// row is written.
	mock.ExpectExec(`INSERT INTO ai_usage `).
		WithArgs("u1", "2024-01-01", 0).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := r.RecordResponse(context.Background(), ResponseEvent{
		UserID: "u1",
		Date:   "2024-01-01",
	})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDailyCountNoRows(t *testing.T) {
	r, mock := setupRecorder(t)

	mock.ExpectQuery(`SELECT COALESCE\(daily_count, 0\) FROM ai_usage`).
		WithArgs("u1", "2024-01-01").
		WillReturnRows(sqlmock.NewRows([]string{"daily_count"}))

	count, err := r.DailyCount(context.Background(), "u1", "2024-01-01")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestCheckDailyLimit(t *testing.T) {
	tests := []struct {
		name      string
		count     int
		limit     int
		wantQuota bool
	}{
		{name: "under limit", count: 3, limit: 10, wantQuota: false},
		{name: "at limit", count: 10, limit: 10, wantQuota: true},
		{name: "unlimited", count: 1000, limit: 0, wantQuota: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, mock := setupRecorder(t)

			if tt.limit > 0 {
				mock.ExpectQuery(`SELECT COALESCE\(daily_count, 0\) FROM ai_usage`).
					WithArgs("u1", "2024-01-01").
					WillReturnRows(sqlmock.NewRows([]string{"daily_count"}).AddRow(tt.count))
			}

			err := r.CheckDailyLimit(context.Background(), "u1", "2024-01-01", tt.limit)
			if tt.wantQuota {
				var qe *QuotaError
				require.ErrorAs(t, err, &qe)
				assert.Equal(t, tt.limit, qe.Limit)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
