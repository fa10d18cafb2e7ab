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
	"time"

	v1 "github.com/4sarathbabu/blazar/pkg/apis/v1"
	"github.com/4sarathbabu/blazar/pkg/errs"
	"github.com/4sarathbabu/blazar/pkg/notify"
	"github.com/4sarathbabu/blazar/pkg/repository"
	"github.com/4sarathbabu/blazar/pkg/statemachine"
)

// UpdateValues is the set of fields a caller may change; nil/empty
// means "leave unchanged" (spec §4.1 update()).
type UpdateValues struct {
	Name          *string
	StartDate     *string
	EndDate       *string
	BeforeEndDate *string
	Reservations  []ReservationValues
}

// nonFatalUpdateKinds are the error kinds that leave the lease in its
// pre-call stable state instead of ERROR (spec §4.1).
func nonFatalUpdateKinds(err error) bool {
	switch errs.KindOf(err) {
	case errs.InvalidDate, errs.InvalidPeriod, errs.InvalidRange, errs.InvalidInput,
		errs.MissingParameter, errs.MalformedParameter, errs.CantUpdateParameter,
		errs.NotEnoughResourcesAvailable, errs.NotAuthorized:
		return true
	default:
		return false
	}
}

// Update applies values to an existing lease under the status machine
// guard (spec §4.1). Name-only updates take a fast path that never
// touches dates, reservations, or events.
func (s *Service) Update(ctx context.Context, leaseID string, values UpdateValues) (v1.Lease, error) {
	if isNameOnly(values) {
		old, err := s.repo.LeaseGet(ctx, leaseID)
		if err != nil {
			return v1.Lease{}, err
		}
		old.Name = *values.Name
		return s.repo.LeaseUpdate(ctx, old)
	}

	prior, err := s.repo.LeaseGet(ctx, leaseID)
	if err != nil {
		return v1.Lease{}, err
	}
	if !prior.Status.IsStable() {
		return v1.Lease{}, errs.Newf(errs.InvalidStatus, "lease %s is in transitional status %s", leaseID, prior.Status)
	}
	err = statemachine.Run(ctx, s.repo, leaseID, statemachine.OperationSpec{
		From:       []v1.LeaseStatus{prior.Status},
		Transition: v1.LeaseUpdating,
		ResultIn:   statemachine.Stable,
		NonFatal:   nonFatalUpdateKinds,
	}, func(ctx context.Context) (v1.LeaseStatus, error) {
		return s.doUpdate(ctx, leaseID, prior.Status, values)
	})
	if err != nil {
		return v1.Lease{}, err
	}
	return s.repo.LeaseGet(ctx, leaseID)
}

func isNameOnly(v UpdateValues) bool {
	return v.Name != nil && v.StartDate == nil && v.EndDate == nil && v.BeforeEndDate == nil && len(v.Reservations) == 0
}

func (s *Service) doUpdate(ctx context.Context, leaseID string, prior v1.LeaseStatus, values UpdateValues) (v1.LeaseStatus, error) {
	now := s.clock.Now().UTC()
	old, err := s.repo.LeaseGet(ctx, leaseID)
	if err != nil {
		return "", errs.Wrap(errs.RepositoryError, err)
	}

	if prior == v1.LeaseTerminated {
		if values.StartDate != nil || values.EndDate != nil || len(values.Reservations) > 0 {
			return "", errs.New(errs.CantUpdateParameter, "only name may change on a terminated lease")
		}
	}

	start := old.StartDate
	if values.StartDate != nil {
		t, err := ParseDate(*values.StartDate, now)
		if err != nil {
			return "", err
		}
		start = t
	}
	if !start.Equal(old.StartDate) && (old.StartDate.Before(now) || start.Before(now)) {
		return "", errs.New(errs.InvalidInput, "an already-started lease's start_date may not be shifted")
	}

	end := old.EndDate
	if values.EndDate != nil {
		t, err := ParseDate(*values.EndDate, now)
		if err != nil {
			return "", err
		}
		end = t
	}
	if !end.After(now) {
		return "", errs.New(errs.InvalidPeriod, "end_date must be in the future")
	}
	if !end.After(start) {
		return "", errs.New(errs.InvalidPeriod, "end_date must be after start_date")
	}

	reservations, err := s.repo.ReservationListByLease(ctx, leaseID)
	if err != nil {
		return "", errs.Wrap(errs.RepositoryError, err)
	}
	byID := map[string]v1.Reservation{}
	for _, r := range reservations {
		byID[r.ID] = r
	}
	for _, rv := range values.Reservations {
		existing, ok := byID[rv.ID]
		if !ok {
			return "", errs.Newf(errs.InvalidInput, "reservation %s does not belong to lease %s", rv.ID, leaseID)
		}
		if rv.ResourceType != "" && rv.ResourceType != existing.ResourceType {
			return "", errs.New(errs.CantUpdateParameter, "resource_type may not change on update")
		}
	}

	var oldAllocs, newAllocs []v1.Allocation
	for _, r := range reservations {
		allocs, err := s.repo.AllocationsByReservation(ctx, r.ID)
		if err != nil {
			return "", errs.Wrap(errs.RepositoryError, err)
		}
		oldAllocs = append(oldAllocs, allocs...)
	}
	newAllocs = oldAllocs // no re-planning beyond per-reservation updates in this pass

	if err := s.enforcement.CheckUpdate(ctx, old, map[string]any{"start_date": start, "end_date": end}, oldAllocs, newAllocs, reservations, reservations); err != nil {
		return "", err
	}

	for _, rv := range values.Reservations {
		p, err := s.plugins.Get(byID[rv.ID].ResourceType)
		if err != nil {
			return "", err
		}
		if err := p.UpdateReservation(ctx, rv.ID, rv.Values); err != nil {
			return "", errs.Wrap(errs.RepositoryError, err, "reservation_id", rv.ID)
		}
	}

	if err := s.retimeEvents(ctx, leaseID, old, start, end, values.BeforeEndDate); err != nil {
		return "", err
	}

	old.Name = derefOr(values.Name, old.Name)
	old.StartDate = start
	old.EndDate = end
	if _, err := s.repo.LeaseUpdate(ctx, old); err != nil {
		return "", errs.Wrap(errs.RepositoryError, err)
	}

	updated, err := s.repo.LeaseGet(ctx, leaseID)
	if err != nil {
		return "", errs.Wrap(errs.RepositoryError, err)
	}
	s.notifier.Publish(notify.LeaseTopic("update"), updated)
	return prior, nil
}

// retimeEvents updates start_lease/end_lease event times and recomputes
// the before_end event per spec §4.1.
func (s *Service) retimeEvents(ctx context.Context, leaseID string, old v1.Lease, newStart, newEnd time.Time, suppliedBeforeEnd *string) error {
	startEvt, found, err := s.repo.EventGetFirstSortedByFilters(ctx, repository.EventFilter{LeaseID: leaseID, Type: v1.StartLease})
	if err != nil {
		return errs.Wrap(errs.RepositoryError, err)
	}
	if found {
		startEvt.Time = newStart
		if _, err := s.repo.EventUpdate(ctx, startEvt); err != nil {
			return errs.Wrap(errs.RepositoryError, err)
		}
	}

	endEvt, found, err := s.repo.EventGetFirstSortedByFilters(ctx, repository.EventFilter{LeaseID: leaseID, Type: v1.EndLease})
	if err != nil {
		return errs.Wrap(errs.RepositoryError, err)
	}
	if found {
		endEvt.Time = newEnd
		if _, err := s.repo.EventUpdate(ctx, endEvt); err != nil {
			return errs.Wrap(errs.RepositoryError, err)
		}
	}

	beforeEvt, found, err := s.repo.EventGetFirstSortedByFilters(ctx, repository.EventFilter{LeaseID: leaseID, Type: v1.BeforeEndLease})
	if err != nil {
		return errs.Wrap(errs.RepositoryError, err)
	}

	var newBeforeEnd time.Time
	haveNewBeforeEnd := false
	if suppliedBeforeEnd != nil {
		t, err := ParseDate(*suppliedBeforeEnd, time.Time{})
		if err != nil {
			return err
		}
		if !t.After(newStart) || !t.Before(newEnd) {
			return errs.New(errs.InvalidRange, "before_end_date must be strictly between start_date and end_date")
		}
		newBeforeEnd = t
		haveNewBeforeEnd = true
	} else if found {
		delta := old.EndDate.Sub(beforeEvt.Time)
		newBeforeEnd = newEnd.Add(-delta)
		haveNewBeforeEnd = true
	}

	if !found || !haveNewBeforeEnd {
		return nil
	}

	// A previously completed before_end event that is shifted back
	// into the future is reset to UNDONE so the engine fires it again
	// (spec §4.1).
	reschedule := beforeEvt.Status == v1.EventDone && newBeforeEnd.After(s.clock.Now().UTC())
	beforeEvt.Time = newBeforeEnd
	if reschedule {
		beforeEvt.Status = v1.EventUndone
	}
	if _, err := s.repo.EventUpdate(ctx, beforeEvt); err != nil {
		return errs.Wrap(errs.RepositoryError, err)
	}
	if reschedule {
		s.notifier.Publish(notify.BeforeEndStopTopic, old)
	}
	return nil
}

func derefOr(p *string, fallback string) string {
	if p != nil {
		return *p
	}
	return fallback
}
