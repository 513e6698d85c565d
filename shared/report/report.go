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

// Package report provides a fire-and-forget error-reporting sink.
//
// Callers use it for anomalies that should page or alert without affecting
// the request path. Implementations must never block and must never panic
// back into the caller.
package report

import (
	"pennyflow/platform/shared/logger"
)

// Reporter is the error-reporting sink consumed by the AI core.
// Implementations must be safe for concurrent use.
type Reporter interface {
	// CaptureException reports an error with optional tags and structured extras.
	CaptureException(err error, tags map[string]string, extras map[string]interface{})

	// CaptureMessage reports a plain message at warning severity.
	CaptureMessage(message string, tags map[string]string, extras map[string]interface{})
}

// LogReporter is the default Reporter backed by the structured logger.
// Deployments with an external error tracker swap in their own Reporter.
type LogReporter struct {
	log *logger.Logger
}

// NewLogReporter creates a Reporter that writes to the structured logger.
func NewLogReporter(component string) *LogReporter {
	return &LogReporter{log: logger.New(component)}
}

// CaptureException logs the error with its tags and extras.
func (r *LogReporter) CaptureException(err error, tags map[string]string, extras map[string]interface{}) {
	defer func() { _ = recover() }()

	fields := make(map[string]interface{}, len(tags)+len(extras)+1)
	for k, v := range tags {
		fields["tag_"+k] = v
	}
	for k, v := range extras {
		fields[k] = v
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	r.log.Error("", "", "captured exception", fields)
}

// CaptureMessage logs the message with its tags and extras.
func (r *LogReporter) CaptureMessage(message string, tags map[string]string, extras map[string]interface{}) {
	defer func() { _ = recover() }()

	fields := make(map[string]interface{}, len(tags)+len(extras))
	for k, v := range tags {
		fields["tag_"+k] = v
	}
	for k, v := range extras {
		fields[k] = v
	}
	r.log.Warn("", "", message, fields)
}

// Nop is a Reporter that discards everything. Used in tests.
type Nop struct{}

// CaptureException discards the report.
func (Nop) CaptureException(error, map[string]string, map[string]interface{}) {}

// CaptureMessage discards the report.
func (Nop) CaptureMessage(string, map[string]string, map[string]interface{}) {}
