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

// Delete tears down a lease's reservations and removes it (spec
// §4.1). Once the lease has entered DELETING, lease.delete is
// published whether or not teardown succeeds; if the lease cannot be
// loaded or the status compare-and-set fails, nothing is published. Delete
// does not use statemachine.Run: a successful teardown destroys the
// lease row outright rather than landing on a terminal status.
func (s *Service) Delete(ctx context.Context, leaseID string) error {
	lease, getErr := s.repo.LeaseGet(ctx, leaseID)
	if getErr != nil {
		return getErr
	}

	if _, err := s.repo.LeaseCompareAndSetStatus(ctx, leaseID, statemachine.Stable, v1.LeaseDeleting); err != nil {
		return err
	}

	err := s.doDelete(ctx, leaseID)
	if err != nil {
		_ = s.repo.LeaseSetStatusUnconditional(ctx, leaseID, v1.LeaseError)
	}

	s.notifier.Publish(notify.LeaseTopic("delete"), lease)
	return err
}

func (s *Service) doDelete(ctx context.Context, leaseID string) error {
	startEvt, hasStart, err := s.repo.EventGetFirstSortedByFilters(ctx, repository.EventFilter{LeaseID: leaseID, Type: v1.StartLease})
	if err != nil {
		return errs.Wrap(errs.RepositoryError, err)
	}
	endEvt, hasEnd, err := s.repo.EventGetFirstSortedByFilters(ctx, repository.EventFilter{LeaseID: leaseID, Type: v1.EndLease})
	if err != nil {
		return errs.Wrap(errs.RepositoryError, err)
	}
	if !hasStart || !hasEnd {
		return errs.Newf(errs.RepositoryError, "lease %s is missing its start/end events", leaseID)
	}

	alreadyStarted := startEvt.Status != v1.EventUndone
	alreadyEnded := endEvt.Status != v1.EventUndone
	inFlight := alreadyStarted && !alreadyEnded

	if inFlight {
		endEvt.Status = v1.EventInProgress
		if _, err := s.repo.EventUpdate(ctx, endEvt); err != nil {
			return errs.Wrap(errs.RepositoryError, err)
		}
	}

	lease, err := s.repo.LeaseGet(ctx, leaseID)
	if err != nil {
		return errs.Wrap(errs.RepositoryError, err)
	}
	reservations, err := s.repo.ReservationListByLease(ctx, leaseID)
	if err != nil {
		return errs.Wrap(errs.RepositoryError, err)
	}

	runOnEnd := !alreadyEnded
	if runOnEnd {
		var allocations []v1.Allocation
		for _, r := range reservations {
			allocs, _ := s.repo.AllocationsByReservation(ctx, r.ID)
			allocations = append(allocations, allocs...)
		}
		s.enforcement.OnEnd(ctx, lease, allocations)
	}

	var teardownErr error
	for _, r := range ExecutionOrder(reservations) {
		p, err := s.plugins.Get(r.ResourceType)
		if err != nil {
			teardownErr = multierr.Append(teardownErr, err)
			continue
		}
		if err := p.OnEnd(ctx, r.ResourceID, lease); err != nil {
			teardownErr = multierr.Append(teardownErr, err)
			r.Status = v1.ReservationError
			_, _ = s.repo.ReservationUpdate(ctx, r)
			continue
		}
		r.Status = v1.ReservationDeleted
		_, _ = s.repo.ReservationUpdate(ctx, r)
		_ = s.repo.AllocationsClear(ctx, r.ID)
	}

	if teardownErr != nil {
		endEvt.Status = v1.EventError
		_, _ = s.repo.EventUpdate(ctx, endEvt)
		return errs.Wrap(errs.EventErrorKind, teardownErr, "lease_id", leaseID)
	}

	endEvt.Status = v1.EventDone
	if _, err := s.repo.EventUpdate(ctx, endEvt); err != nil {
		return errs.Wrap(errs.RepositoryError, err)
	}
	return s.repo.LeaseDestroy(ctx, leaseID)
}
