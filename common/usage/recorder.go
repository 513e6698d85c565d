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

// Package usage records per-user AI usage counters for quota enforcement
// and billing attribution.
package usage

import (
	"context"
	"database/sql"
	"fmt"
	"log"
)

// Recorder handles recording usage events to the database.
type Recorder struct {
	db *sql.DB
}

// NewRecorder creates a usage recorder with a database connection.
func NewRecorder(db *sql.DB) *Recorder {
	return &Recorder{db: db}
}

// ResponseEvent represents one completed, user-visible assistant response.
type ResponseEvent struct {
	UserID     string
	Date       string // YYYY-MM-DD
	Provider   string // provider that answered, empty for the navigation fast path
	Model      string
	TokensUsed int
	LatencyMs  int64
}

// RecordResponse increments the user's daily and lifetime counters.
// Must be called exactly once per user-visible response; callers invoke it
// asynchronously, so errors are logged rather than surfaced.
func (r *Recorder) RecordResponse(ctx context.Context, event ResponseEvent) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO ai_usage (user_id, usage_date, daily_count, lifetime_count, tokens_used)
		VALUES ($1, $2, 1, 1, $3)
		ON CONFLICT (user_id, usage_date)
		DO UPDATE SET daily_count = ai_usage.daily_count + 1,
		              lifetime_count = ai_usage.lifetime_count + 1,
		              tokens_used = ai_usage.tokens_used + EXCLUDED.tokens_used
	`, event.UserID, event.Date, event.TokensUsed)
	if err != nil {
		log.Printf("[USAGE] Failed to record assistant response: %v", err)
		return err
	}

	if event.Provider != "" {
		_, err = r.db.ExecContext(ctx, `
			INSERT INTO ai_usage_events (user_id, usage_date, provider, model, tokens_used, latency_ms)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, event.UserID, event.Date, event.Provider, event.Model, event.TokensUsed, event.LatencyMs)
		if err != nil {
			log.Printf("[USAGE] Failed to record usage event: %v", err)
			return err
		}
	}

	return nil
}

// DailyCount returns the user's response count for the given date.
func (r *Recorder) DailyCount(ctx context.Context, userID, date string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
		SELECT COALESCE(daily_count, 0) FROM ai_usage
		WHERE user_id = $1 AND usage_date = $2
	`, userID, date).Scan(&count)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("daily usage count: %w", err)
	}
	return count, nil
}

// QuotaError is the explicit, non-retryable rejection raised when a user
// exhausts their daily allowance. It is never silently degraded.
type QuotaError struct {
	UserID string
	Limit  int
}

// Error implements the error interface.
func (e *QuotaError) Error() string {
	return fmt.Sprintf("daily AI usage limit reached (%d requests) - upgrade your plan for more", e.Limit)
}

// CheckDailyLimit returns a QuotaError if the user has reached the limit.
// A limit of 0 means unlimited.
func (r *Recorder) CheckDailyLimit(ctx context.Context, userID, date string, limit int) error {
	if limit <= 0 {
		return nil
	}
	count, err := r.DailyCount(ctx, userID, date)
	if err != nil {
		return err
	}
	if count >= limit {
		return &QuotaError{UserID: userID, Limit: limit}
	}
	return nil
}
