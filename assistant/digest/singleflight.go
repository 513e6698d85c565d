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
	"fmt"
	"time"

	"pennyflow/platform/cache"
)

// CellState is the observable state of a single-flight cell.
type CellState int

const (
	// StateAbsent means no value and no generation in flight.
	StateAbsent CellState = iota

	// StatePending means a generation is in flight; readers should poll.
	StatePending

	// StateReady means the cell holds a finished value.
	StateReady
)

func (s CellState) String() string {
	switch s {
	case StateAbsent:
		return "absent"
	case StatePending:
		return "pending"
	case StateReady:
		return "ready"
	}
	return fmt.Sprintf("CellState(%d)", int(s))
}

// pendingSentinel is the reserved cache value marking a generation in
// flight. It never leaks out of this package: Peek maps it to StatePending.
const pendingSentinel = "\x00pending\x00"

// Cell is a single-flight cell over the shared cache: one value key that is
// absent, pending, or ready, plus a paired lock key whose atomic SetNX is
// the cluster-wide synchronization primitive. Correctness depends on all
// processes sharing one cache backend.
type Cell struct {
	cache   cache.Cache
	key     string
	lockKey string
}

// NewCell creates a cell for one logical generation key.
func NewCell(c cache.Cache, key string) *Cell {
	return &Cell{cache: c, key: key, lockKey: key + ":lock"}
}

// Peek returns the cell's state and, for StateReady, its value.
func (c *Cell) Peek(ctx context.Context) (CellState, string, error) {
	value, err := c.cache.Get(ctx, c.key)
	if err == cache.ErrMiss {
		return StateAbsent, "", nil
	}
	if err != nil {
		return StateAbsent, "", err
	}
	if value == pendingSentinel {
		return StatePending, "", nil
	}
	return StateReady, value, nil
}

// TryLock attempts to acquire the generation lock for ttl.
func (c *Cell) TryLock(ctx context.Context, ttl time.Duration) (bool, error) {
	return c.cache.SetNX(ctx, c.lockKey, "1", ttl)
}

// LockTTL returns the remaining TTL of the generation lock. Non-positive
// means the lock is gone or has no expiry.
func (c *Cell) LockTTL(ctx context.Context) (time.Duration, error) {
	return c.cache.TTL(ctx, c.lockKey)
}

// MarkPending writes the pending sentinel so concurrent readers observe an
// in-flight generation instead of re-attempting one.
func (c *Cell) MarkPending(ctx context.Context, ttl time.Duration) error {
	return c.cache.Set(ctx, c.key, pendingSentinel, ttl)
}

// Publish writes the finished value.
func (c *Cell) Publish(ctx context.Context, value string, ttl time.Duration) error {
	return c.cache.Set(ctx, c.key, value, ttl)
}

// ClearPending removes the pending sentinel after a failed generation so
// the next caller re-attempts immediately instead of waiting out the TTL.
// Only clears when the cell is still pending; a published value stays.
func (c *Cell) ClearPending(ctx context.Context) error {
	state, _, err := c.Peek(ctx)
	if err != nil {
		return err
	}
	if state != StatePending {
		return nil
	}
	return c.cache.Del(ctx, c.key)
}

// Unlock releases the generation lock.
func (c *Cell) Unlock(ctx context.Context) error {
	return c.cache.Del(ctx, c.lockKey)
}
