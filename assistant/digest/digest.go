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

// Package digest generates financial digests: the scheduled daily digest,
// guarded by a distributed single-flight lock so at most one generation
// runs per (user, date) across all processes, and quota-bounded custom
// follow-up digests keyed by the question text.
package digest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"pennyflow/platform/assistant/llm"
	"pennyflow/platform/cache"
	"pennyflow/platform/shared/logger"
	"pennyflow/platform/shared/report"
	"pennyflow/platform/store"
)

const (
	// LockTTL bounds a stuck or crashed generation. After it elapses a new
	// caller may re-attempt even if the original never released the lock.
	LockTTL = 180 * time.Second

	// generationTimeout bounds the background generation itself, kept under
	// LockTTL so the work cannot outlive its own lock.
	generationTimeout = 170 * time.Second

	// CustomDailyLimit is the per-day quota of custom digests per user.
	CustomDailyLimit = 5
)

// ErrRetry is returned on the lock-expiry race: the lock acquisition failed
// but its TTL read back non-positive, so the generation state is unknown.
// Distinct from "still generating"; callers should retry the request.
var ErrRetry = errors.New("digest: generation state unknown, retry")

// QuotaError rejects a custom digest request over the daily cap.
type QuotaError struct {
	UserID string
	Limit  int
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("daily custom digest limit of %d reached for user %s", e.Limit, e.UserID)
}

// Result is the outcome of a digest request. Pending means a generation is
// in flight and the caller should poll.
type Result struct {
	Pending bool   `json:"pending"`
	Content string `json:"content,omitempty"`
}

// textGenerator is the slice of the completion gateway the service needs.
type textGenerator interface {
	GenerateText(ctx context.Context, input llm.TextInput, opts llm.CompletionOptions) (*llm.TextResult, error)
}

// dataStore is the store surface the service needs.
type dataStore interface {
	store.DigestStore
	store.FinanceStore
}

// Service orchestrates digest generation.
type Service struct {
	store  dataStore
	cache  cache.Cache
	gw     textGenerator
	report report.Reporter
	log    *logger.Logger

	// background registers generation goroutines so tests can wait for them.
	background func(func())

	// genTimeout bounds one background generation. Defaults to
	// generationTimeout; tests shrink it.
	genTimeout time.Duration
}

// NewService creates a digest service.
func NewService(st dataStore, c cache.Cache, gw textGenerator, rep report.Reporter) *Service {
	if rep == nil {
		rep = report.Nop{}
	}
	return &Service{
		store:      st,
		cache:      c,
		gw:         gw,
		report:     rep,
		log:        logger.New("digest"),
		background: func(fn func()) { go fn() },
		genTimeout: generationTimeout,
	}
}

// cleanupContext returns a short context independent of the generation
// context. Lock release and pending clears must still reach redis when the
// generation failed by hitting its own deadline.
func cleanupContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}

func dailyKey(userID, date string) string {
	return fmt.Sprintf("digest:daily:%s:%s", userID, date)
}

func customKey(userID, date, specs string) string {
	sum := sha256.Sum256([]byte(specs))
	return fmt.Sprintf("digest:custom:%s:%s:%s", userID, date, hex.EncodeToString(sum[:8]))
}

// endOfDayTTL returns the time remaining until the next UTC midnight, so
// cached digests roll over with the date they describe.
func endOfDayTTL(now time.Time) time.Duration {
	next := now.UTC().Truncate(24 * time.Hour).Add(24 * time.Hour)
	return next.Sub(now.UTC())
}

// GetDailyDigest returns the daily digest for (user, date), generating it
// when needed. The expensive generation runs in the background under the
// single-flight lock; callers observing an in-flight generation get a
// pending result immediately instead of blocking on the model call.
func (s *Service) GetDailyDigest(ctx context.Context, userID, length, date string) (*Result, error) {
	if date == "" {
		date = time.Now().UTC().Format("2006-01-02")
	}
	cell := NewCell(s.cache, dailyKey(userID, date))

	state, value, err := cell.Peek(ctx)
	if err != nil {
		return nil, err
	}
	switch state {
	case StateReady:
		return &Result{Content: value}, nil
	case StatePending:
		return &Result{Pending: true}, nil
	}

	// Cache absent: durable storage may still hold the digest.
	if row, err := s.store.GetDigest(ctx, userID, date, store.DigestKindDaily, ""); err == nil {
		if err := cell.Publish(ctx, row.Content, endOfDayTTL(time.Now())); err != nil {
			s.log.Warn(userID, "", "daily digest cache backfill failed", map[string]interface{}{
				"date": date, "error": err.Error(),
			})
		}
		return &Result{Content: row.Content}, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	acquired, err := cell.TryLock(ctx, LockTTL)
	if err != nil {
		return nil, err
	}
	if !acquired {
		ttl, err := cell.LockTTL(ctx)
		if err != nil {
			return nil, err
		}
		if ttl > 0 {
			// Another process is legitimately generating.
			return &Result{Pending: true}, nil
		}

		// The lock expired between the failed acquire and the TTL check.
		// One more acquisition attempt before declaring the anomaly.
		acquired, err = cell.TryLock(ctx, LockTTL)
		if err != nil {
			return nil, err
		}
		if !acquired {
			s.report.CaptureMessage("digest lock TTL race",
				map[string]string{"user_id": userID},
				map[string]interface{}{"date": date})
			return nil, ErrRetry
		}
	}

	// Lock held: mark pending for concurrent readers, then generate without
	// blocking this call.
	if err := cell.MarkPending(ctx, LockTTL); err != nil {
		_ = cell.Unlock(ctx)
		return nil, err
	}
	s.background(func() { s.generateDaily(cell, userID, length, date) })

	return &Result{Pending: true}, nil
}

// generateDaily runs one daily generation under an already-held lock. The
// lock is always released, and a failed generation actively clears the
// pending entry so the next caller re-attempts immediately.
func (s *Service) generateDaily(cell *Cell, userID, length, date string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.genTimeout)
	defer cancel()
	defer func() {
		unlockCtx, cancelUnlock := cleanupContext()
		defer cancelUnlock()
		if err := cell.Unlock(unlockCtx); err != nil {
			s.log.Error(userID, "", "digest lock release failed", map[string]interface{}{
				"date": date, "error": err.Error(),
			})
		}
	}()

	start := time.Now()
	content, err := s.generate(ctx, userID, length, "", "daily_digest")
	if err != nil {
		s.log.Error(userID, "", "daily digest generation failed", map[string]interface{}{
			"date": date, "error": err.Error(),
		})
		s.report.CaptureException(err,
			map[string]string{"user_id": userID, "kind": "daily"},
			map[string]interface{}{"date": date})
		clearCtx, cancelClear := cleanupContext()
		defer cancelClear()
		if clearErr := cell.ClearPending(clearCtx); clearErr != nil {
			s.log.Error(userID, "", "pending entry clear failed", map[string]interface{}{
				"date": date, "error": clearErr.Error(),
			})
		}
		return
	}

	if err := s.store.UpsertDailyDigest(ctx, userID, date, content); err != nil {
		s.log.Error(userID, "", "daily digest persist failed", map[string]interface{}{
			"date": date, "error": err.Error(),
		})
		s.report.CaptureException(err,
			map[string]string{"user_id": userID, "kind": "daily"},
			map[string]interface{}{"date": date})
		clearCtx, cancelClear := cleanupContext()
		defer cancelClear()
		_ = cell.ClearPending(clearCtx)
		return
	}
	if err := cell.Publish(ctx, content, endOfDayTTL(time.Now())); err != nil {
		s.log.Error(userID, "", "daily digest cache publish failed", map[string]interface{}{
			"date": date, "error": err.Error(),
		})
	}

	s.log.InfoWithDuration(userID, "", "daily digest generated",
		float64(time.Since(start).Milliseconds()), map[string]interface{}{"date": date})
}

// RegenerateDigest generates a custom follow-up digest. Custom digests use
// a content-addressed cache key (hash of the question) instead of the lock:
// only one requester triggers generation per unique question text, and the
// per-day quota bounds the total. Generation runs synchronously.
func (s *Service) RegenerateDigest(ctx context.Context, userID, length, specs, date string) (string, error) {
	if date == "" {
		date = time.Now().UTC().Format("2006-01-02")
	}
	key := customKey(userID, date, specs)

	if value, err := s.cache.Get(ctx, key); err == nil {
		return value, nil
	} else if err != cache.ErrMiss {
		return "", err
	}

	if row, err := s.store.GetDigest(ctx, userID, date, store.DigestKindCustom, specs); err == nil {
		_ = s.cache.Set(ctx, key, row.Content, endOfDayTTL(time.Now()))
		return row.Content, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return "", err
	}

	count, err := s.store.CountCustomDigests(ctx, userID, date)
	if err != nil {
		return "", err
	}
	if count >= CustomDailyLimit {
		return "", &QuotaError{UserID: userID, Limit: CustomDailyLimit}
	}

	content, err := s.generate(ctx, userID, length, specs, "custom_digest")
	if err != nil {
		return "", err
	}

	if err := s.store.InsertCustomDigest(ctx, userID, date, content, specs); err != nil {
		return "", err
	}
	if err := s.cache.Set(ctx, key, content, endOfDayTTL(time.Now())); err != nil {
		s.log.Warn(userID, "", "custom digest cache set failed", map[string]interface{}{
			"date": date, "error": err.Error(),
		})
	}
	return content, nil
}

// RemainingCustomCount returns how many custom digests the user may still
// request today.
func (s *Service) RemainingCustomCount(ctx context.Context, userID, date string) (int, error) {
	if date == "" {
		date = time.Now().UTC().Format("2006-01-02")
	}
	count, err := s.store.CountCustomDigests(ctx, userID, date)
	if err != nil {
		return 0, err
	}
	remaining := CustomDailyLimit - count
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// CacheForDate writes externally produced digest content into the daily
// cache slot, expiring at end of day.
func (s *Service) CacheForDate(ctx context.Context, userID, date, content string) error {
	cell := NewCell(s.cache, dailyKey(userID, date))
	return cell.Publish(ctx, content, endOfDayTTL(time.Now()))
}

// generate builds the prompt from the user's financial data and calls the
// gateway.
func (s *Service) generate(ctx context.Context, userID, length, specs, purpose string) (string, error) {
	prompt, err := s.buildPrompt(ctx, userID, length, specs)
	if err != nil {
		return "", fmt.Errorf("build digest prompt: %w", err)
	}

	result, err := s.gw.GenerateText(ctx, llm.TextInput{
		Prompt:    prompt,
		System:    digestSystemPrompt,
		MaxTokens: maxTokensFor(length),
	}, llm.CompletionOptions{Purpose: purpose})
	if err != nil {
		return "", err
	}

	s.log.Info(userID, "", "digest text generated", map[string]interface{}{
		"provider": result.Provider,
		"model":    result.Model,
		"purpose":  purpose,
	})
	return result.Text, nil
}
