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
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"k8s.io/client-go/util/workqueue"
	"k8s.io/utils/clock"

	v1 "github.com/4sarathbabu/blazar/pkg/apis/v1"
	"github.com/4sarathbabu/blazar/pkg/errs"
	"github.com/4sarathbabu/blazar/pkg/metrics"
	"github.com/4sarathbabu/blazar/pkg/notify"
	"github.com/4sarathbabu/blazar/pkg/repository"
)

// Handlers is the subset of LeaseService the engine dispatches
// through. Declared as an interface so the engine can be tested
// without a full Service.
type Handlers interface {
	Handler(t v1.EventType) (func(ctx context.Context, leaseID, eventID string) error, error)
	Get(ctx context.Context, id string) (v1.Lease, error)
}

// Options configures the engine's tick behavior (spec §4.3, §6).
type Options struct {
	TickInterval time.Duration
	MaxRetries   int
}

// Engine is the EventEngine: a single active scheduler process polling
// on a fixed tick, grounded on the teacher's
// disruption.Controller (fixed pollingPeriod, injected clock.Clock,
// pluggable per-event dispatch).
type Engine struct {
	repo     repository.Repository
	handlers Handlers
	notifier notify.Notifier
	clock    clock.Clock
	opts     Options
	logger   *zap.SugaredLogger

	// recoveryQueue replays events this process found IN_PROGRESS at
	// startup (a prior process crashed mid-batch) after a short delay,
	// the way the teacher's controllers requeue a reconcile that was
	// interrupted, instead of leaving the event stuck forever. The
	// delay gives any still-running owner of the event a chance to
	// land its own final status before this process reclaims it.
	recoveryQueue workqueue.TypedDelayingInterface[v1.Event]
}

// NewEngine constructs an Engine. logger may be nil.
func NewEngine(repo repository.Repository, handlers Handlers, notifier notify.Notifier, clk clock.Clock, opts Options, logger *zap.SugaredLogger) *Engine {
	if opts.TickInterval <= 0 {
		opts.TickInterval = 10 * time.Second
	}
	return &Engine{
		repo:          repo,
		handlers:      handlers,
		notifier:      notifier,
		clock:         clk,
		opts:          opts,
		logger:        logger,
		recoveryQueue: workqueue.NewTypedDelayingQueue[v1.Event](),
	}
}

// Run drives the tick loop until ctx is canceled. It first sweeps for
// events left IN_PROGRESS by a prior, crashed process and queues them
// to be reset to UNDONE after one tick interval.
func (e *Engine) Run(ctx context.Context) {
	e.recoverInProgress(ctx)
	go e.drainRecovery(ctx)

	ticker := e.clock.NewTicker(e.opts.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			e.recoveryQueue.ShutDown()
			return
		case <-ticker.C():
			e.tick(ctx)
		}
	}
}

// recoverInProgress finds events stuck IN_PROGRESS (the process that
// started them never finished) and pushes them onto recoveryQueue for
// a single re-evaluation pass instead of waiting on them forever.
func (e *Engine) recoverInProgress(ctx context.Context) {
	stuck, err := e.repo.EventGetAllSortedByFilters(ctx, repository.EventFilter{Status: v1.EventInProgress})
	if err != nil {
		if e.logger != nil {
			e.logger.Warnw("could not sweep in-progress events at startup", "error", err)
		}
		return
	}
	for _, evt := range stuck {
		e.recoveryQueue.AddAfter(evt, e.opts.TickInterval)
	}
}

func (e *Engine) drainRecovery(ctx context.Context) {
	for {
		evt, shutdown := e.recoveryQueue.Get()
		if shutdown {
			return
		}
		e.recoveryQueue.Done(evt)

		current, found, err := e.repo.EventGetFirstSortedByFilters(ctx, repository.EventFilter{LeaseID: evt.LeaseID, Type: evt.Type})
		if err != nil || !found || current.ID != evt.ID || current.Status != v1.EventInProgress {
			continue
		}
		current.Status = v1.EventUndone
		if _, err := e.repo.EventUpdate(ctx, current); err != nil {
			if e.logger != nil {
				e.logger.Warnw("could not recover stuck in-progress event", "event_id", evt.ID, "error", err)
			}
			continue
		}
		if e.logger != nil {
			e.logger.Infow("recovered stuck in-progress event to UNDONE", "event_id", evt.ID)
		}
	}
}

// tick fetches all due events and processes them batch by batch,
// recursing over SelectForExecution's remaining set until no due
// events are left — this is the "recursion in practice" spec §4.3
// describes for the time > T carry-over batch.
func (e *Engine) tick(ctx context.Context) {
	now := e.clock.Now().UTC()
	due, err := e.repo.EventGetAllSortedByFilters(ctx, repository.EventFilter{
		Status: v1.EventUndone,
		Time:   &repository.Comparison{Op: repository.Lte, Border: now},
	})
	if err != nil {
		if e.logger != nil {
			e.logger.Errorw("could not fetch due events", "error", err)
		}
		return
	}

	for len(due) > 0 {
		var batches [][]v1.Event
		batches, due = SelectForExecution(due)
		for _, batch := range batches {
			e.runBatch(ctx, batch)
		}
	}
}

// runBatch launches every event in batch concurrently and waits for
// all to finish, the way the teacher's disruption loop runs a batch of
// Methods across candidate nodes.
func (e *Engine) runBatch(ctx context.Context, batch []v1.Event) {
	metrics.BatchSize.WithLabelValues().Observe(float64(len(batch)))
	var wg sync.WaitGroup
	for _, evt := range batch {
		evt := evt
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					e.finish(ctx, evt, errs.Newf(errs.EventErrorKind, "event handler panicked: %v", r))
				}
			}()
			e.runEvent(ctx, evt)
		}()
	}
	wg.Wait()
}

func (e *Engine) runEvent(ctx context.Context, evt v1.Event) {
	lease, err := e.repo.LeaseGet(ctx, evt.LeaseID)
	if err != nil {
		if e.logger != nil {
			e.logger.Warnw("skipping event, could not load owning lease", "event_id", evt.ID, "lease_id", evt.LeaseID, "error", err)
		}
		return
	}
	if !lease.Status.IsStable() {
		// The next tick will retry; the owning lease is mid-operation.
		return
	}

	evt.Status = v1.EventInProgress
	if _, err := e.repo.EventUpdate(ctx, evt); err != nil {
		if e.logger != nil {
			e.logger.Warnw("could not mark event in-progress", "event_id", evt.ID, "error", err)
		}
		return
	}

	handler, err := e.handlers.Handler(evt.Type)
	if err != nil {
		e.finish(ctx, evt, err)
		return
	}

	err = handler(ctx, evt.LeaseID, evt.ID)
	e.finish(ctx, evt, err)
}

// finish applies spec §4.3 step 5/6: an InvalidStatus failure within
// the retry window reverts to UNDONE for the next tick; otherwise, or
// past the window, the event lands on ERROR. A nil err lands on DONE
// and publishes event.<event_type>.
func (e *Engine) finish(ctx context.Context, evt v1.Event, runErr error) {
	if runErr == nil {
		evt.Status = v1.EventDone
		if _, err := e.repo.EventUpdate(ctx, evt); err != nil && e.logger != nil {
			e.logger.Warnw("could not mark event done", "event_id", evt.ID, "error", err)
		}
		metrics.EventOutcomesTotal.WithLabelValues(string(evt.Type), "done").Inc()
		e.notifier.Publish(notify.EventTopic(evt.Type), mustLease(ctx, e.repo, evt.LeaseID))
		return
	}

	outcome := "error"
	if errs.Is(runErr, errs.InvalidStatus) && e.withinRetryWindow(evt) {
		evt.Status = v1.EventUndone
		outcome = "retry"
	} else {
		evt.Status = v1.EventError
	}
	metrics.EventOutcomesTotal.WithLabelValues(string(evt.Type), outcome).Inc()
	if _, err := e.repo.EventUpdate(ctx, evt); err != nil && e.logger != nil {
		e.logger.Warnw("could not land event status after failure", "event_id", evt.ID, "final_status", evt.Status, "error", multierr.Append(runErr, err))
	}
}

// withinRetryWindow reports whether evt is still within
// event_max_retries*tick_interval of its scheduled time.
func (e *Engine) withinRetryWindow(evt v1.Event) bool {
	if e.opts.MaxRetries <= 0 {
		return false
	}
	window := time.Duration(e.opts.MaxRetries) * e.opts.TickInterval
	return e.clock.Now().UTC().Before(evt.Time.Add(window))
}

func mustLease(ctx context.Context, repo repository.Repository, id string) v1.Lease {
	l, _ := repo.LeaseGet(ctx, id)
	return l
}
