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
	"fmt"
	"time"

	"pennyflow/platform/cache"
)

// traceTTL bounds how long a live trace survives in the cache. Traces are
// progress indicators for one in-flight request, not history.
const traceTTL = 2 * time.Minute

// StepStatus is the lifecycle of one trace step.
type StepStatus string

const (
	StepPending StepStatus = "pending"
	StepRunning StepStatus = "running"
	StepDone    StepStatus = "done"
)

// TraceStep is one unit of observable progress in a chat turn: a tool call
// or a milestone. Steps are ordered by first insertion but keyed, so a
// step's status can be upserted in place as it advances.
type TraceStep struct {
	Key    string     `json:"key"`
	Label  string     `json:"label"`
	Detail string     `json:"detail,omitempty"`
	Status StepStatus `json:"status"`
}

// LiveTrace is the cache-persisted snapshot a client polls for progress.
type LiveTrace struct {
	Steps     []TraceStep `json:"steps"`
	Done      bool        `json:"done"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// traceRecorder accumulates steps for one request and mirrors every change
// into the cache. Cache failures are swallowed: progress display is
// best-effort and must never fail the chat turn.
type traceRecorder struct {
	cache     cache.Cache
	userID    string
	requestID string
	steps     []TraceStep
	index     map[string]int
	done      bool
}

func traceKey(userID, requestID string) string {
	return fmt.Sprintf("chat:trace:%s:%s", userID, requestID)
}

func newTraceRecorder(c cache.Cache, userID, requestID string) *traceRecorder {
	return &traceRecorder{
		cache:     c,
		userID:    userID,
		requestID: requestID,
		index:     make(map[string]int),
	}
}

// Upsert inserts the step or updates it in place, preserving first-seen
// order, then flushes the snapshot.
func (t *traceRecorder) Upsert(ctx context.Context, key, label, detail string, status StepStatus) {
	if i, ok := t.index[key]; ok {
		t.steps[i].Status = status
		if label != "" {
			t.steps[i].Label = label
		}
		if detail != "" {
			t.steps[i].Detail = detail
		}
	} else {
		t.index[key] = len(t.steps)
		t.steps = append(t.steps, TraceStep{Key: key, Label: label, Detail: detail, Status: status})
	}
	t.flush(ctx)
}

// Finish marks the trace done. Called on every exit path, success or not.
func (t *traceRecorder) Finish(ctx context.Context) {
	t.done = true
	t.flush(ctx)
}

func (t *traceRecorder) Steps() []TraceStep {
	return t.steps
}

func (t *traceRecorder) flush(ctx context.Context) {
	if t.cache == nil || t.requestID == "" {
		return
	}
	snapshot := LiveTrace{Steps: t.steps, Done: t.done, UpdatedAt: time.Now().UTC()}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return
	}
	_ = t.cache.Set(ctx, traceKey(t.userID, t.requestID), string(data), traceTTL)
}

// GetLiveTrace returns the current trace snapshot for a request id, or an
// empty done trace when none exists (expired or never started).
func GetLiveTrace(ctx context.Context, c cache.Cache, userID, requestID string) (*LiveTrace, error) {
	value, err := c.Get(ctx, traceKey(userID, requestID))
	if err == cache.ErrMiss {
		return &LiveTrace{Steps: []TraceStep{}, Done: true, UpdatedAt: time.Now().UTC()}, nil
	}
	if err != nil {
		return nil, err
	}
	var trace LiveTrace
	if err := json.Unmarshal([]byte(value), &trace); err != nil {
		return nil, fmt.Errorf("decode trace: %w", err)
	}
	return &trace, nil
}
