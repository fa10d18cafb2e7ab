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

package maxduration_test

import (
	"context"
	"testing"
	"time"

	. "github.com/onsi/gomega"

	v1 "github.com/4sarathbabu/blazar/pkg/apis/v1"
	"github.com/4sarathbabu/blazar/pkg/enforcement/maxduration"
	"github.com/4sarathbabu/blazar/pkg/errs"
)

func TestCheckCreateAllowsLeaseWithinMax(t *testing.T) {
	g := NewWithT(t)
	f := maxduration.Filter{Max: 2 * time.Hour}
	now := time.Now().UTC()
	err := f.CheckCreate(context.Background(), v1.Lease{StartDate: now, EndDate: now.Add(time.Hour)}, nil, nil)
	g.Expect(err).NotTo(HaveOccurred())
}

func TestCheckCreateDeniesLeaseExceedingMax(t *testing.T) {
	g := NewWithT(t)
	f := maxduration.Filter{Max: 2 * time.Hour}
	now := time.Now().UTC()
	err := f.CheckCreate(context.Background(), v1.Lease{StartDate: now, EndDate: now.Add(3 * time.Hour)}, nil, nil)
	g.Expect(err).To(HaveOccurred())
	g.Expect(errs.Is(err, errs.NotAuthorized)).To(BeTrue())
}

func TestCheckCreateZeroMaxMeansUnbounded(t *testing.T) {
	g := NewWithT(t)
	f := maxduration.Filter{}
	now := time.Now().UTC()
	err := f.CheckCreate(context.Background(), v1.Lease{StartDate: now, EndDate: now.Add(365 * 24 * time.Hour)}, nil, nil)
	g.Expect(err).NotTo(HaveOccurred())
}

func TestCheckUpdateUsesProposedEndDateOverOldOne(t *testing.T) {
	g := NewWithT(t)
	f := maxduration.Filter{Max: time.Hour}
	now := time.Now().UTC()
	old := v1.Lease{StartDate: now, EndDate: now.Add(30 * time.Minute)}

	// Old lease is within bounds, but the proposed new end_date pushes
	// it over Max.
	err := f.CheckUpdate(context.Background(), old, map[string]any{
		"end_date": now.Add(2 * time.Hour),
	}, nil, nil, nil, nil)
	g.Expect(err).To(HaveOccurred())
	g.Expect(errs.Is(err, errs.NotAuthorized)).To(BeTrue())
}

func TestCheckUpdateFallsBackToOldDatesWhenNotProposed(t *testing.T) {
	g := NewWithT(t)
	f := maxduration.Filter{Max: time.Hour}
	now := time.Now().UTC()
	old := v1.Lease{StartDate: now, EndDate: now.Add(30 * time.Minute)}

	err := f.CheckUpdate(context.Background(), old, map[string]any{"name": "renamed"}, nil, nil, nil, nil)
	g.Expect(err).NotTo(HaveOccurred())
}
