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
	"context"

	"go.uber.org/multierr"

	v1 "github.com/4sarathbabu/blazar/pkg/apis/v1"
	"github.com/4sarathbabu/blazar/pkg/errs"
	"github.com/4sarathbabu/blazar/pkg/notify"
	"github.com/4sarathbabu/blazar/pkg/repository"
	"github.com/4sarathbabu/blazar/pkg/statemachine"
)

// StartLease is the start_lease event handler (spec §4.4): guards
// PENDING -> STARTING -> {ACTIVE, ERROR}, then calls OnStart on every
// reservation's plugin. A single reservation failure marks that
// reservation and the event ERROR; the rest still run.
func (s *Service) StartLease(ctx context.Context, leaseID, eventID string) error {
	return statemachine.Run(ctx, s.repo, leaseID, statemachine.OperationSpec{
		From:       []v1.LeaseStatus{v1.LeasePending},
		Transition: v1.LeaseStarting,
		ResultIn:   []v1.LeaseStatus{v1.LeaseActive, v1.LeaseError},
	}, func(ctx context.Context) (v1.LeaseStatus, error) {
		return s.doStartLease(ctx, leaseID, eventID)
	})
}

func (s *Service) doStartLease(ctx context.Context, leaseID, eventID string) (v1.LeaseStatus, error) {
	lease, err := s.repo.LeaseGet(ctx, leaseID)
	if err != nil {
		return "", errs.Wrap(errs.RepositoryError, err)
	}
	reservations, err := s.repo.ReservationListByLease(ctx, leaseID)
	if err != nil {
		return "", errs.Wrap(errs.RepositoryError, err)
	}

	var failures error
	for _, r := range ExecutionOrder(reservations) {
		p, err := s.plugins.Get(r.ResourceType)
		if err != nil {
			failures = multierr.Append(failures, err)
			r.Status = v1.ReservationError
			_, _ = s.repo.ReservationUpdate(ctx, r)
			continue
		}
		if err := p.OnStart(ctx, r.ResourceID, lease); err != nil {
			failures = multierr.Append(failures, errs.Wrap(errs.RepositoryError, err, "reservation_id", r.ID))
			r.Status = v1.ReservationError
			_, _ = s.repo.ReservationUpdate(ctx, r)
			continue
		}
		r.Status = v1.ReservationActive
		_, _ = s.repo.ReservationUpdate(ctx, r)
	}

	s.markEvent(ctx, leaseID, v1.StartLease, eventID, failures == nil)

	if failures != nil {
		s.notifier.Publish(notify.LeaseTopic("start_error"), lease)
		return v1.LeaseError, errs.Wrap(errs.EventErrorKind, failures, "lease_id", leaseID)
	}

	result, err := s.repo.LeaseGet(ctx, leaseID)
	if err == nil {
		s.notifier.Publish(notify.LeaseTopic("start"), result)
	}
	return v1.LeaseActive, nil
}

// EndLease is the end_lease event handler (spec §4.4): guards
// ACTIVE -> TERMINATING -> {TERMINATED, ERROR}, runs the enforcement
// on_end hook once, then tears down every reservation in execution
// order.
func (s *Service) EndLease(ctx context.Context, leaseID, eventID string) error {
	return statemachine.Run(ctx, s.repo, leaseID, statemachine.OperationSpec{
		From:       []v1.LeaseStatus{v1.LeaseActive},
		Transition: v1.LeaseTerminating,
		ResultIn:   []v1.LeaseStatus{v1.LeaseTerminated, v1.LeaseError},
	}, func(ctx context.Context) (v1.LeaseStatus, error) {
		return s.doEndLease(ctx, leaseID, eventID)
	})
}

func (s *Service) doEndLease(ctx context.Context, leaseID, eventID string) (v1.LeaseStatus, error) {
	lease, err := s.repo.LeaseGet(ctx, leaseID)
	if err != nil {
		return "", errs.Wrap(errs.RepositoryError, err)
	}
	reservations, err := s.repo.ReservationListByLease(ctx, leaseID)
	if err != nil {
		return "", errs.Wrap(errs.RepositoryError, err)
	}

	var allocations []v1.Allocation
	for _, r := range reservations {
		allocs, _ := s.repo.AllocationsByReservation(ctx, r.ID)
		allocations = append(allocations, allocs...)
	}
	s.enforcement.OnEnd(ctx, lease, allocations)

	var failures error
	for _, r := range ExecutionOrder(reservations) {
		p, err := s.plugins.Get(r.ResourceType)
		if err != nil {
			failures = multierr.Append(failures, err)
			continue
		}
		if err := p.OnEnd(ctx, r.ResourceID, lease); err != nil {
			failures = multierr.Append(failures, errs.Wrap(errs.RepositoryError, err, "reservation_id", r.ID))
			r.Status = v1.ReservationError
			_, _ = s.repo.ReservationUpdate(ctx, r)
			continue
		}
		r.Status = v1.ReservationDeleted
		_, _ = s.repo.ReservationUpdate(ctx, r)
		_ = s.repo.AllocationsClear(ctx, r.ID)
	}

	s.markEvent(ctx, leaseID, v1.EndLease, eventID, failures == nil)

	if failures != nil {
		s.notifier.Publish(notify.LeaseTopic("end_error"), lease)
		return v1.LeaseError, errs.Wrap(errs.EventErrorKind, failures, "lease_id", leaseID)
	}

	result, err := s.repo.LeaseGet(ctx, leaseID)
	if err == nil {
		s.notifier.Publish(notify.LeaseTopic("end"), result)
	}
	return v1.LeaseTerminated, nil
}

// BeforeEndLease is the before_end_lease event handler (spec §4.4). It
// makes no lease status transition: it only calls the plugin's
// BeforeEnd hook for every reservation, in execution order.
func (s *Service) BeforeEndLease(ctx context.Context, leaseID, eventID string) error {
	lease, err := s.repo.LeaseGet(ctx, leaseID)
	if err != nil {
		return errs.Wrap(errs.RepositoryError, err)
	}
	reservations, err := s.repo.ReservationListByLease(ctx, leaseID)
	if err != nil {
		return errs.Wrap(errs.RepositoryError, err)
	}

	var failures error
	for _, r := range ExecutionOrder(reservations) {
		p, err := s.plugins.Get(r.ResourceType)
		if err != nil {
			failures = multierr.Append(failures, err)
			continue
		}
		if err := p.BeforeEnd(ctx, r.ResourceID, lease); err != nil {
			failures = multierr.Append(failures, errs.Wrap(errs.RepositoryError, err, "reservation_id", r.ID))
		}
	}

	s.markEvent(ctx, leaseID, v1.BeforeEndLease, eventID, failures == nil)

	if failures != nil {
		return errs.Wrap(errs.EventErrorKind, failures, "lease_id", leaseID)
	}
	s.notifier.Publish(notify.EventTopic(v1.BeforeEndLease), lease)
	return nil
}

// markEvent lands the lease's event of type t on DONE or ERROR. The
// eventID argument identifies which event the engine dispatched for
// logging purposes only: the data model holds at most one event of
// each type per lease, so the type alone is sufficient to find it.
func (s *Service) markEvent(ctx context.Context, leaseID string, t v1.EventType, eventID string, ok bool) {
	evt, found, err := s.repo.EventGetFirstSortedByFilters(ctx, repository.EventFilter{LeaseID: leaseID, Type: t})
	if err != nil || !found {
		if s.logger != nil {
			s.logger.Warnw("could not locate event to mark", "lease_id", leaseID, "event_id", eventID, "type", t)
		}
		return
	}
	if ok {
		evt.Status = v1.EventDone
	} else {
		evt.Status = v1.EventError
	}
	_, _ = s.repo.EventUpdate(ctx, evt)
}
