/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package lease

import (
	"time"

	"github.com/4sarathbabu/blazar/pkg/errs"
)

// DateLayout is the wire format for start_date/end_date/before_end_date
// (spec §6), always interpreted as UTC.
const DateLayout = "2006-01-02 15:04"

// ParseDate parses s as DateLayout, or returns now if s is the literal
// "now" (spec §4.1).
func ParseDate(s string, now time.Time) (time.Time, error) {
	if s == "now" {
		return now, nil
	}
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, errs.Wrap(errs.InvalidDate, err, "value", s)
	}
	return t.UTC(), nil
}
