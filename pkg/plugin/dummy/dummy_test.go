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

package dummy_test

import (
	"context"
	"testing"

	. "github.com/onsi/gomega"

	v1 "github.com/4sarathbabu/blazar/pkg/apis/v1"
	"github.com/4sarathbabu/blazar/pkg/errs"
	"github.com/4sarathbabu/blazar/pkg/plugin/dummy"
)

func TestAllocationCandidatesFiltersByProperty(t *testing.T) {
	g := NewWithT(t)
	p := dummy.New(
		dummy.Host{ID: "host-1", Properties: map[string]string{"az": "az1"}},
		dummy.Host{ID: "host-2", Properties: map[string]string{"az": "az2"}},
	)
	candidates, err := p.AllocationCandidates(context.Background(), map[string]any{"az": "az1"})
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(candidates).To(ConsistOf("host-1"))
}

func TestAllocationCandidatesIgnoresReservedHosts(t *testing.T) {
	g := NewWithT(t)
	p := dummy.New(dummy.Host{ID: "host-1"})
	ctx := context.Background()

	candidates, err := p.AllocationCandidates(ctx, map[string]any{})
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(candidates).To(ConsistOf("host-1"))

	_, err = p.ReserveResource(ctx, "r1", map[string]any{"candidates": candidates})
	g.Expect(err).NotTo(HaveOccurred())

	_, err = p.AllocationCandidates(ctx, map[string]any{})
	g.Expect(err).To(HaveOccurred())
	g.Expect(errs.Is(err, errs.NotEnoughResourcesAvailable)).To(BeTrue())
}

func TestReserveResourceRacesForTheSameCandidateSet(t *testing.T) {
	g := NewWithT(t)
	p := dummy.New(dummy.Host{ID: "host-1"})
	ctx := context.Background()

	_, err := p.ReserveResource(ctx, "r1", map[string]any{"candidates": []string{"host-1"}})
	g.Expect(err).NotTo(HaveOccurred())

	_, err = p.ReserveResource(ctx, "r2", map[string]any{"candidates": []string{"host-1"}})
	g.Expect(err).To(HaveOccurred())
	g.Expect(errs.Is(err, errs.NotEnoughResourcesAvailable)).To(BeTrue())
}

func TestOnEndReleasesTheHostForReuse(t *testing.T) {
	g := NewWithT(t)
	p := dummy.New(dummy.Host{ID: "host-1"})
	ctx := context.Background()

	_, err := p.ReserveResource(ctx, "r1", map[string]any{"candidates": []string{"host-1"}})
	g.Expect(err).NotTo(HaveOccurred())

	g.Expect(p.OnEnd(ctx, "host-1", v1.Lease{})).To(Succeed())

	candidates, err := p.AllocationCandidates(ctx, map[string]any{})
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(candidates).To(ConsistOf("host-1"))
}

func TestHealReservationsFlagsAndIsStaleReportsIt(t *testing.T) {
	g := NewWithT(t)
	p := dummy.New(dummy.Host{ID: "host-1"})
	g.Expect(p.IsStale("r1")).To(BeFalse())

	g.Expect(p.HealReservations(context.Background(), []string{"r1"})).To(Succeed())
	g.Expect(p.IsStale("r1")).To(BeTrue())
	g.Expect(p.IsStale("r2")).To(BeFalse())
}

func TestGetUnknownHostReturnsInvalidInput(t *testing.T) {
	g := NewWithT(t)
	p := dummy.New()
	_, err := p.Get(context.Background(), "ghost")
	g.Expect(err).To(HaveOccurred())
	g.Expect(errs.Is(err, errs.InvalidInput)).To(BeTrue())
}
