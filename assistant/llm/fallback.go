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

package llm

import (
	"context"
	"errors"
	"net"
)

// ShouldFallback decides whether the next provider in the resolved order
// should be tried after a failure.
//
// Contract: validation failures fail fast - the request itself is broken and
// retrying it against another provider only adds latency and cost. Every
// other kind (transport, HTTP status including 4xx/5xx, unknown) falls
// through to the next provider. Under a sustained provider outage this
// means every request walks the full provider list before surfacing an
// aggregate error.
func ShouldFallback(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind != ErrorKindValidation
	}
	return true
}

// Classify wraps an arbitrary provider failure into the closed ProviderError
// set. Adapters call it on errors they have not already tagged.
func Classify(provider string, err error) *ProviderError {
	if err == nil {
		return nil
	}

	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe
	}

	kind := ErrorKindUnknown
	var netErr net.Error
	switch {
	case errors.As(err, &netErr),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		kind = ErrorKindTransport
	}

	return &ProviderError{
		Provider: provider,
		Kind:     kind,
		Message:  err.Error(),
		Cause:    err,
	}
}
