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

import "strings"

// ClientAction is a side-channel instruction for the client, currently only
// navigation.
type ClientAction struct {
	Type string `json:"type"`
	Path string `json:"path"`
}

// destination maps a spoken keyword to a canonical app path.
type destination struct {
	keyword string
	path    string
	label   string
}

// destinations are checked in order; more specific keywords come first so
// "bank accounts" resolves to accounts, not banks.
var destinations = []destination{
	{"net worth", "/net-worth", "Net worth"},
	{"bank account", "/accounts", "Accounts"},
	{"account", "/accounts", "Accounts"},
	{"bank", "/accounts", "Accounts"},
	{"invest", "/investing", "Investing"},
	{"portfolio", "/investing", "Investing"},
	{"transaction", "/transactions", "Transactions"},
	{"subscription", "/subscriptions", "Subscriptions"},
	{"debt", "/debts", "Debts"},
	{"credit", "/credits", "Credits"},
	{"mortgage", "/mortgages", "Mortgages"},
	{"digest", "/digest", "Digest"},
	{"setting", "/settings", "Settings"},
	{"dashboard", "/dashboard", "Dashboard"},
	{"home", "/dashboard", "Dashboard"},
}

// ResolvePath resolves a navigation-intent message to a canonical app path
// by keyword matching. Deterministic, zero model calls.
func ResolvePath(message string) (path, label string, ok bool) {
	lower := strings.ToLower(message)
	for _, d := range destinations {
		if strings.Contains(lower, d.keyword) {
			return d.path, d.label, true
		}
	}
	return "", "", false
}
