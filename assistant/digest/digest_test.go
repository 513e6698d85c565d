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
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"

	"pennyflow/platform/assistant/llm"
	"pennyflow/platform/cache"
	"pennyflow/platform/store"
)

// fakeStore is an in-memory dataStore for digest tests.
type fakeStore struct {
	mu            sync.Mutex
	dailyDigests  map[string]string // user:date -> content
	customDigests []store.Digest
	accounts      []store.Account
	upsertCalls   int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		dailyDigests: make(map[string]string),
		accounts: []store.Account{
			{ID: 1, BankName: "Chase", Name: "Checking", UserID: "u1", Balance: 1200, Currency: "USD"},
			{ID: 2, BankName: "BCC", Name: "Savings", UserID: "u1", Balance: 800, Currency: "EUR"},
		},
	}
}

func (f *fakeStore) GetDigest(_ context.Context, userID, date string, kind store.DigestKind, specs string) (*store.Digest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if kind == store.DigestKindDaily {
		if content, ok := f.dailyDigests[userID+":"+date]; ok {
			return &store.Digest{UserID: userID, DigestDate: date, Kind: kind, Content: content}, nil
		}
		return nil, store.ErrNotFound
	}
	for _, d := range f.customDigests {
		if d.UserID == userID && d.DigestDate == date && d.Specs == specs {
			row := d
			return &row, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeStore) UpsertDailyDigest(_ context.Context, userID, date, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upsertCalls++
	f.dailyDigests[userID+":"+date] = content
	return nil
}

func (f *fakeStore) InsertCustomDigest(_ context.Context, userID, date, content, specs string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.customDigests = append(f.customDigests, store.Digest{
		UserID: userID, DigestDate: date, Kind: store.DigestKindCustom, Content: content, Specs: specs,
	})
	return nil
}

func (f *fakeStore) CountCustomDigests(_ context.Context, userID, date string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, d := range f.customDigests {
		if d.UserID == userID && d.DigestDate == date {
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) AccountsWithBalances(_ context.Context, userID string) ([]store.Account, error) {
	return f.accounts, nil
}

func (f *fakeStore) AccountOwner(context.Context, int64) (string, error) { return "u1", nil }
func (f *fakeStore) SearchTransactions(context.Context, string, store.TransactionQuery) ([]store.Transaction, error) {
	return nil, nil
}
func (f *fakeStore) CreateTransaction(context.Context, store.Transaction) (int64, error) {
	return 0, nil
}
func (f *fakeStore) SpendingByCategory(context.Context, string, string, string) ([]store.CategorySpend, error) {
	return nil, nil
}
func (f *fakeStore) Subscriptions(context.Context, string) ([]store.Subscription, error) {
	return nil, nil
}
func (f *fakeStore) Debts(context.Context, string) ([]store.Debt, error)       { return nil, nil }
func (f *fakeStore) Credits(context.Context, string) ([]store.Credit, error)   { return nil, nil }
func (f *fakeStore) Holdings(context.Context, string) ([]store.Holding, error) { return nil, nil }
func (f *fakeStore) UpcomingPayments(context.Context, string, int) ([]store.Payment, error) {
	return nil, nil
}
func (f *fakeStore) FXRate(_ context.Context, from, to string) (float64, error) {
	if from == to {
		return 1, nil
	}
	return 1.1, nil
}

// fakeGenerator counts generation calls.
type fakeGenerator struct {
	mu    sync.Mutex
	text  string
	err   error
	calls int
}

func (f *fakeGenerator) GenerateText(_ context.Context, _ llm.TextInput, _ llm.CompletionOptions) (*llm.TextResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &llm.TextResult{Text: f.text, Provider: llm.ProviderOpenAI, Model: "gpt-4o-mini"}, nil
}

func (f *fakeGenerator) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// testService wires a service over miniredis with deferred background tasks
// the test runs explicitly.
func testService(t *testing.T, st *fakeStore, gen textGenerator) (*Service, *[]func(), *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c := cache.NewRedisCacheFromClient(client)

	svc := NewService(st, c, gen, nil)
	tasks := &[]func(){}
	svc.background = func(fn func()) { *tasks = append(*tasks, fn) }
	return svc, tasks, mr
}

func runTasks(tasks *[]func()) {
	for _, fn := range *tasks {
		fn()
	}
	*tasks = nil
}

func TestGetDailyDigestSingleFlight(t *testing.T) {
	st := newFakeStore()
	gen := &fakeGenerator{text: "Your finances look stable."}
	svc, tasks, _ := testService(t, st, gen)
	ctx := context.Background()

	// first caller acquires the lock and gets pending
	res, err := svc.GetDailyDigest(ctx, "u1", "short", "2024-01-01")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Pending {
		t.Fatalf("first call = %+v, want pending", res)
	}

	// second caller while the lock is held also gets pending, no new task
	res, err = svc.GetDailyDigest(ctx, "u1", "short", "2024-01-01")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Pending {
		t.Fatalf("second call = %+v, want pending", res)
	}
	if len(*tasks) != 1 {
		t.Fatalf("background tasks = %d, want 1", len(*tasks))
	}

	runTasks(tasks)

	// third caller gets the generated content
	res, err = svc.GetDailyDigest(ctx, "u1", "short", "2024-01-01")
	if err != nil {
		t.Fatal(err)
	}
	if res.Pending || res.Content != "Your finances look stable." {
		t.Errorf("third call = %+v", res)
	}

	if gen.callCount() != 1 {
		t.Errorf("generation calls = %d, want 1", gen.callCount())
	}
	if st.upsertCalls != 1 {
		t.Errorf("daily digest rows written = %d, want 1", st.upsertCalls)
	}
}

func TestGetDailyDigestBackfillsFromStore(t *testing.T) {
	st := newFakeStore()
	st.dailyDigests["u1:2024-01-01"] = "persisted digest"
	gen := &fakeGenerator{text: "should not be called"}
	svc, _, _ := testService(t, st, gen)

	res, err := svc.GetDailyDigest(context.Background(), "u1", "short", "2024-01-01")
	if err != nil {
		t.Fatal(err)
	}
	if res.Pending || res.Content != "persisted digest" {
		t.Errorf("result = %+v", res)
	}
	if gen.callCount() != 0 {
		t.Errorf("generation calls = %d, want 0", gen.callCount())
	}

	// second call is served from cache
	res, err = svc.GetDailyDigest(context.Background(), "u1", "short", "2024-01-01")
	if err != nil {
		t.Fatal(err)
	}
	if res.Content != "persisted digest" {
		t.Errorf("cached result = %+v", res)
	}
}

func TestGetDailyDigestFailureClearsPending(t *testing.T) {
	st := newFakeStore()
	gen := &fakeGenerator{err: errors.New("all providers failed")}
	svc, tasks, _ := testService(t, st, gen)
	ctx := context.Background()

	res, err := svc.GetDailyDigest(ctx, "u1", "short", "2024-01-01")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Pending {
		t.Fatalf("result = %+v, want pending", res)
	}

	runTasks(tasks)

	// the pending entry and lock are gone, so the next caller re-attempts
	gen.mu.Lock()
	gen.err = nil
	gen.text = "recovered"
	gen.mu.Unlock()

	res, err = svc.GetDailyDigest(ctx, "u1", "short", "2024-01-01")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Pending {
		t.Fatalf("retry = %+v, want pending (new generation)", res)
	}
	runTasks(tasks)

	res, err = svc.GetDailyDigest(ctx, "u1", "short", "2024-01-01")
	if err != nil {
		t.Fatal(err)
	}
	if res.Content != "recovered" {
		t.Errorf("result = %+v", res)
	}
}

// stallingGenerator blocks until the generation context expires, the way a
// stuck provider does.
type stallingGenerator struct{}

func (stallingGenerator) GenerateText(ctx context.Context, _ llm.TextInput, _ llm.CompletionOptions) (*llm.TextResult, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestGetDailyDigestTimeoutReleasesLock(t *testing.T) {
	// when generation dies by hitting its own deadline, the cleanup path
	// must still release the lock and clear the pending entry - it cannot
	// run on the context that just expired.
	st := newFakeStore()
	svc, tasks, mr := testService(t, st, stallingGenerator{})
	svc.genTimeout = 10 * time.Millisecond
	ctx := context.Background()

	res, err := svc.GetDailyDigest(ctx, "u1", "short", "2024-01-01")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Pending {
		t.Fatalf("result = %+v, want pending", res)
	}

	runTasks(tasks)

	if mr.Exists(dailyKey("u1", "2024-01-01") + ":lock") {
		t.Error("lock still held after a timed-out generation")
	}
	if mr.Exists(dailyKey("u1", "2024-01-01")) {
		t.Error("pending entry still set after a timed-out generation")
	}

	// the next caller re-acquires immediately instead of waiting out the TTL
	res, err = svc.GetDailyDigest(ctx, "u1", "short", "2024-01-01")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Pending {
		t.Fatalf("retry = %+v, want pending (new generation)", res)
	}
	if len(*tasks) != 1 {
		t.Errorf("queued generations = %d, want 1", len(*tasks))
	}
}

func TestGetDailyDigestLockTTLRace(t *testing.T) {
	st := newFakeStore()
	gen := &fakeGenerator{text: "x"}
	svc, _, mr := testService(t, st, gen)

	// a lock key with no expiry makes SetNX fail while TTL reads
	// non-positive, and the retry acquisition fails the same way
	mr.Set(dailyKey("u1", "2024-01-01")+":lock", "1")

	_, err := svc.GetDailyDigest(context.Background(), "u1", "short", "2024-01-01")
	if !errors.Is(err, ErrRetry) {
		t.Fatalf("error = %v, want ErrRetry", err)
	}
	if gen.callCount() != 0 {
		t.Errorf("generation calls = %d, want 0", gen.callCount())
	}
}

func TestRegenerateDigestQuota(t *testing.T) {
	st := newFakeStore()
	gen := &fakeGenerator{text: "custom answer"}
	svc, _, _ := testService(t, st, gen)
	ctx := context.Background()

	for i := 0; i < CustomDailyLimit; i++ {
		specs := string(rune('a' + i))
		if _, err := svc.RegenerateDigest(ctx, "u1", "short", specs, "2024-01-01"); err != nil {
			t.Fatalf("generation %d: %v", i+1, err)
		}
	}
	if gen.callCount() != CustomDailyLimit {
		t.Fatalf("generation calls = %d, want %d", gen.callCount(), CustomDailyLimit)
	}

	_, err := svc.RegenerateDigest(ctx, "u1", "short", "one more", "2024-01-01")
	var qe *QuotaError
	if !errors.As(err, &qe) {
		t.Fatalf("error = %v, want *QuotaError", err)
	}
	if qe.Limit != CustomDailyLimit {
		t.Errorf("Limit = %d", qe.Limit)
	}
	if gen.callCount() != CustomDailyLimit {
		t.Errorf("quota rejection must not generate, calls = %d", gen.callCount())
	}

	remaining, err := svc.RemainingCustomCount(ctx, "u1", "2024-01-01")
	if err != nil {
		t.Fatal(err)
	}
	if remaining != 0 {
		t.Errorf("remaining = %d, want 0", remaining)
	}
}

func TestRegenerateDigestContentAddressed(t *testing.T) {
	st := newFakeStore()
	gen := &fakeGenerator{text: "custom answer"}
	svc, _, _ := testService(t, st, gen)
	ctx := context.Background()

	first, err := svc.RegenerateDigest(ctx, "u1", "short", "how did I do on groceries?", "2024-01-01")
	if err != nil {
		t.Fatal(err)
	}

	// same question again: cache hit, no second generation
	second, err := svc.RegenerateDigest(ctx, "u1", "short", "how did I do on groceries?", "2024-01-01")
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Errorf("answers differ: %q vs %q", first, second)
	}
	if gen.callCount() != 1 {
		t.Errorf("generation calls = %d, want 1", gen.callCount())
	}
}

func TestCacheForDate(t *testing.T) {
	st := newFakeStore()
	svc, _, _ := testService(t, st, &fakeGenerator{})
	ctx := context.Background()

	if err := svc.CacheForDate(ctx, "u1", "2024-01-01", "precomputed"); err != nil {
		t.Fatal(err)
	}
	res, err := svc.GetDailyDigest(ctx, "u1", "short", "2024-01-01")
	if err != nil {
		t.Fatal(err)
	}
	if res.Pending || res.Content != "precomputed" {
		t.Errorf("result = %+v", res)
	}
}

func TestEndOfDayTTL(t *testing.T) {
	now := time.Date(2024, 1, 1, 23, 0, 0, 0, time.UTC)
	if got := endOfDayTTL(now); got != time.Hour {
		t.Errorf("endOfDayTTL = %v, want 1h", got)
	}
}
