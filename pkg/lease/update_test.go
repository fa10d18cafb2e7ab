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

package lease_test

import (
	"context"
	"testing"
	"time"

	. "github.com/onsi/gomega"

	v1 "github.com/4sarathbabu/blazar/pkg/apis/v1"
	"github.com/4sarathbabu/blazar/pkg/errs"
	"github.com/4sarathbabu/blazar/pkg/lease"
	"github.com/4sarathbabu/blazar/pkg/plugin/dummy"
)

func createTestLease(t *testing.T, svc *lease.Service, now time.Time) v1.Lease {
	t.Helper()
	l, err := svc.Create(context.Background(), lease.CreateValues{
		Name:      "l1",
		ProjectID: "p1",
		TrustID:   "t1",
		StartDate: fmtDate(now.Add(time.Hour)),
		EndDate:   fmtDate(now.Add(2 * time.Hour)),
		Reservations: []lease.ReservationValues{
			{ResourceType: "compute_host"},
		},
	})
	if err != nil {
		t.Fatalf("create test lease: %v", err)
	}
	return l
}

func TestUpdateNameOnlyTakesFastPathRegardlessOfStatus(t *testing.T) {
	g := NewWithT(t)
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	svc, _ := newTestService(t, now, dummy.Host{ID: "host-1"})
	l := createTestLease(t, svc, now)

	newName := "renamed"
	updated, err := svc.Update(context.Background(), l.ID, lease.UpdateValues{Name: &newName})
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(updated.Name).To(Equal(newName))
	g.Expect(updated.Status).To(Equal(v1.LeasePending), "name-only update must not touch status")
}

func TestUpdateExtendsEndDateAndRetimesEndEvent(t *testing.T) {
	g := NewWithT(t)
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	svc, _ := newTestService(t, now, dummy.Host{ID: "host-1"})
	l := createTestLease(t, svc, now)

	newEnd := fmtDate(now.Add(3 * time.Hour))
	updated, err := svc.Update(context.Background(), l.ID, lease.UpdateValues{EndDate: &newEnd})
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(updated.EndDate).To(BeTemporally("==", now.Add(3*time.Hour)))
	g.Expect(updated.Status).To(Equal(v1.LeasePending))
	g.Expect(findEvent(updated, v1.EndLease).Time).To(BeTemporally("==", now.Add(3*time.Hour)))
}

func TestUpdateRejectsEndDateBeforeNow(t *testing.T) {
	g := NewWithT(t)
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	svc, clk := newTestService(t, now, dummy.Host{ID: "host-1"})
	l := createTestLease(t, svc, now)

	// Advance past the lease's new proposed end_date.
	clk.SetTime(now.Add(5 * time.Hour))
	newEnd := fmtDate(now.Add(2 * time.Hour))
	_, err := svc.Update(context.Background(), l.ID, lease.UpdateValues{EndDate: &newEnd})
	g.Expect(err).To(HaveOccurred())
	g.Expect(errs.Is(err, errs.InvalidPeriod)).To(BeTrue())

	// Non-fatal failure reverts to the pre-call stable status.
	got, err := svc.Get(context.Background(), l.ID)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(got.Status).To(Equal(v1.LeasePending))
}

func TestUpdateShiftsUnstartedLeaseStartDateEarlierButStillFuture(t *testing.T) {
	g := NewWithT(t)
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	svc, _ := newTestService(t, now, dummy.Host{ID: "host-1"})
	l := createTestLease(t, svc, now) // start_date = now+1h

	newStart := fmtDate(now.Add(30 * time.Minute))
	updated, err := svc.Update(context.Background(), l.ID, lease.UpdateValues{StartDate: &newStart})
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(updated.StartDate).To(BeTemporally("==", now.Add(30*time.Minute)))
	g.Expect(updated.Status).To(Equal(v1.LeasePending))
}

func TestUpdateRejectsResourceTypeChange(t *testing.T) {
	g := NewWithT(t)
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	svc, _ := newTestService(t, now, dummy.Host{ID: "host-1"})
	l := createTestLease(t, svc, now)

	_, err := svc.Update(context.Background(), l.ID, lease.UpdateValues{
		Reservations: []lease.ReservationValues{
			{ID: l.Reservations[0].ID, ResourceType: "network"},
		},
	})
	g.Expect(err).To(HaveOccurred())
	g.Expect(errs.Is(err, errs.CantUpdateParameter)).To(BeTrue())
}

func TestUpdateOnTerminatedLeaseOnlyAllowsRename(t *testing.T) {
	g := NewWithT(t)
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	svc, clk := newTestService(t, now, dummy.Host{ID: "host-1"})
	l := createTestLease(t, svc, now)

	startEvt := findEvent(l, v1.StartLease)
	endEvt := findEvent(l, v1.EndLease)
	g.Expect(svc.StartLease(context.Background(), l.ID, startEvt.ID)).To(Succeed())
	clk.SetTime(now.Add(3 * time.Hour))
	g.Expect(svc.EndLease(context.Background(), l.ID, endEvt.ID)).To(Succeed())

	terminated, err := svc.Get(context.Background(), l.ID)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(terminated.Status).To(Equal(v1.LeaseTerminated))

	_, err = svc.Update(context.Background(), l.ID, lease.UpdateValues{
		StartDate: strPtr(fmtDate(now.Add(4 * time.Hour))),
	})
	g.Expect(err).To(HaveOccurred())
	g.Expect(errs.Is(err, errs.CantUpdateParameter)).To(BeTrue())

	newName := "renamed-after-end"
	updated, err := svc.Update(context.Background(), l.ID, lease.UpdateValues{Name: &newName})
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(updated.Name).To(Equal(newName))
}

func findEvent(l v1.Lease, t v1.EventType) v1.Event {
	for _, e := range l.Events {
		if e.Type == t {
			return e
		}
	}
	return v1.Event{}
}

func strPtr(s string) *string { return &s }
