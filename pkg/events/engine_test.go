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

package events

import (
	"context"
	"testing"
	"time"

	. "github.com/onsi/gomega"
	"go.uber.org/zap"
	faketime "k8s.io/utils/clock/testing"

	v1 "github.com/4sarathbabu/blazar/pkg/apis/v1"
	"github.com/4sarathbabu/blazar/pkg/errs"
	"github.com/4sarathbabu/blazar/pkg/notify"
	"github.com/4sarathbabu/blazar/pkg/repository"
	"github.com/4sarathbabu/blazar/pkg/repository/memstore"
)

// stubHandlers implements Handlers with a fixed, overridable response
// per event type so the engine can be exercised without pkg/lease.
type stubHandlers struct {
	repo  repository.Repository
	reply map[v1.EventType]error
}

func (h *stubHandlers) Handler(t v1.EventType) (func(ctx context.Context, leaseID, eventID string) error, error) {
	return func(context.Context, string, string) error { return h.reply[t] }, nil
}

func (h *stubHandlers) Get(ctx context.Context, id string) (v1.Lease, error) {
	return h.repo.LeaseGet(ctx, id)
}

func newTestEngine(t *testing.T, repo repository.Repository, handlers *stubHandlers, clk *faketime.FakeClock) *Engine {
	t.Helper()
	return NewEngine(repo, handlers, notify.NewLoggingNotifier(zap.NewNop().Sugar()), clk, Options{
		TickInterval: time.Second,
		MaxRetries:   2,
	}, zap.NewNop().Sugar())
}

func seedActiveLeaseWithEvent(t *testing.T, repo repository.Repository, at time.Time) (leaseID string, eventID string) {
	t.Helper()
	ctx := context.Background()
	l, err := repo.LeaseCreate(ctx, v1.Lease{Status: v1.LeasePending})
	if err != nil {
		t.Fatalf("seed lease: %v", err)
	}
	if err := repo.LeaseSetStatusUnconditional(ctx, l.ID, v1.LeaseActive); err != nil {
		t.Fatalf("seed lease status: %v", err)
	}
	e, err := repo.EventCreate(ctx, v1.Event{LeaseID: l.ID, Type: v1.EndLease, Time: at, Status: v1.EventUndone})
	if err != nil {
		t.Fatalf("seed event: %v", err)
	}
	return l.ID, e.ID
}

func TestTickRunsDueEventAndMarksDone(t *testing.T) {
	g := NewWithT(t)
	ctx := context.Background()
	clk := faketime.NewFakeClock(time.Now().UTC())
	repo := memstore.New()
	handlers := &stubHandlers{repo: repo, reply: map[v1.EventType]error{}}
	engine := newTestEngine(t, repo, handlers, clk)

	leaseID, eventID := seedActiveLeaseWithEvent(t, repo, clk.Now())
	engine.tick(ctx)

	evt, found, err := repo.EventGetFirstSortedByFilters(ctx, repository.EventFilter{LeaseID: leaseID, Type: v1.EndLease})
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(found).To(BeTrue())
	g.Expect(evt.ID).To(Equal(eventID))
	g.Expect(evt.Status).To(Equal(v1.EventDone))
}

func TestTickSkipsEventsWhoseLeaseIsNotStable(t *testing.T) {
	g := NewWithT(t)
	ctx := context.Background()
	clk := faketime.NewFakeClock(time.Now().UTC())
	repo := memstore.New()
	handlers := &stubHandlers{repo: repo, reply: map[v1.EventType]error{}}
	engine := newTestEngine(t, repo, handlers, clk)

	l, err := repo.LeaseCreate(ctx, v1.Lease{Status: v1.LeaseTerminating})
	g.Expect(err).NotTo(HaveOccurred())
	e, err := repo.EventCreate(ctx, v1.Event{LeaseID: l.ID, Type: v1.EndLease, Time: clk.Now(), Status: v1.EventUndone})
	g.Expect(err).NotTo(HaveOccurred())

	engine.tick(ctx)

	evt, found, err := repo.EventGetFirstSortedByFilters(ctx, repository.EventFilter{LeaseID: l.ID, Type: v1.EndLease})
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(found).To(BeTrue())
	g.Expect(evt.ID).To(Equal(e.ID))
	g.Expect(evt.Status).To(Equal(v1.EventUndone)) // untouched: the lease wasn't stable
}

func TestFinishRevertsToUndoneWithinRetryWindow(t *testing.T) {
	g := NewWithT(t)
	ctx := context.Background()
	clk := faketime.NewFakeClock(time.Now().UTC())
	repo := memstore.New()
	handlers := &stubHandlers{repo: repo, reply: map[v1.EventType]error{
		v1.EndLease: errs.New(errs.InvalidStatus, "transient status mismatch"),
	}}
	engine := newTestEngine(t, repo, handlers, clk)

	leaseID, eventID := seedActiveLeaseWithEvent(t, repo, clk.Now())
	engine.tick(ctx)

	evt, found, err := repo.EventGetFirstSortedByFilters(ctx, repository.EventFilter{LeaseID: leaseID, Type: v1.EndLease})
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(found).To(BeTrue())
	g.Expect(evt.ID).To(Equal(eventID))
	g.Expect(evt.Status).To(Equal(v1.EventUndone))
}

func TestFinishLandsOnErrorPastRetryWindow(t *testing.T) {
	g := NewWithT(t)
	ctx := context.Background()
	clk := faketime.NewFakeClock(time.Now().UTC())
	repo := memstore.New()
	handlers := &stubHandlers{repo: repo, reply: map[v1.EventType]error{
		v1.EndLease: errs.New(errs.InvalidStatus, "transient status mismatch"),
	}}
	engine := newTestEngine(t, repo, handlers, clk)

	leaseID, _ := seedActiveLeaseWithEvent(t, repo, clk.Now())
	// MaxRetries=2, TickInterval=1s: past the 2s window the event lands
	// on ERROR instead of retrying.
	clk.Step(3 * time.Second)
	engine.tick(ctx)

	evt, found, err := repo.EventGetFirstSortedByFilters(ctx, repository.EventFilter{LeaseID: leaseID, Type: v1.EndLease})
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(found).To(BeTrue())
	g.Expect(evt.Status).To(Equal(v1.EventError))
}

func TestFinishLandsOnErrorForNonRetryableFailure(t *testing.T) {
	g := NewWithT(t)
	ctx := context.Background()
	clk := faketime.NewFakeClock(time.Now().UTC())
	repo := memstore.New()
	handlers := &stubHandlers{repo: repo, reply: map[v1.EventType]error{
		v1.EndLease: errs.New(errs.RepositoryError, "boom"),
	}}
	engine := newTestEngine(t, repo, handlers, clk)

	leaseID, _ := seedActiveLeaseWithEvent(t, repo, clk.Now())
	engine.tick(ctx)

	evt, _, err := repo.EventGetFirstSortedByFilters(ctx, repository.EventFilter{LeaseID: leaseID, Type: v1.EndLease})
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(evt.Status).To(Equal(v1.EventError))
}

func TestRecoverInProgressRevertsStuckEventsToUndone(t *testing.T) {
	g := NewWithT(t)
	ctx := context.Background()
	clk := faketime.NewFakeClock(time.Now().UTC())
	repo := memstore.New()
	handlers := &stubHandlers{repo: repo, reply: map[v1.EventType]error{}}
	engine := newTestEngine(t, repo, handlers, clk)

	l, err := repo.LeaseCreate(ctx, v1.Lease{Status: v1.LeaseActive})
	g.Expect(err).NotTo(HaveOccurred())
	stuck, err := repo.EventCreate(ctx, v1.Event{LeaseID: l.ID, Type: v1.EndLease, Time: clk.Now(), Status: v1.EventInProgress})
	g.Expect(err).NotTo(HaveOccurred())

	engine.recoverInProgress(ctx)
	go engine.drainRecovery(ctx)

	g.Eventually(func() v1.EventStatus {
		evt, found, err := repo.EventGetFirstSortedByFilters(ctx, repository.EventFilter{LeaseID: l.ID, Type: v1.EndLease})
		if err != nil || !found {
			return ""
		}
		return evt.Status
	}, 3*time.Second, 50*time.Millisecond).Should(Equal(v1.EventUndone))

	engine.recoveryQueue.ShutDown()
	_ = stuck
}
