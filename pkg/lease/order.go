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
	"sort"

	v1 "github.com/4sarathbabu/blazar/pkg/apis/v1"
)

// resourceTypeWeight gives the teardown/bring-up ordering weight for a
// resource type (spec §4.2). Default weight is 0; "network" runs last
// on teardown because network reservations depend on compute resources
// still being live when torn down cleanly.
var resourceTypeWeight = map[string]int{
	"network": 1,
}

func weightOf(resourceType string) int {
	return resourceTypeWeight[resourceType]
}

// ExecutionOrder returns reservations in the stable order the engine
// processes them in for a single lease: ascending weight, ties broken
// by original (insertion) order.
func ExecutionOrder(reservations []v1.Reservation) []v1.Reservation {
	out := make([]v1.Reservation, len(reservations))
	copy(out, reservations)
	sort.SliceStable(out, func(i, j int) bool {
		return weightOf(out[i].ResourceType) < weightOf(out[j].ResourceType)
	})
	return out
}
