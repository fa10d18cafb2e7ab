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

// Package memstore is an in-memory reference implementation of
// repository.Repository, guarded by a single RWMutex the way the
// teacher's in-memory cluster state bookkeeping is guarded.
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/samber/lo"

	v1 "github.com/4sarathbabu/blazar/pkg/apis/v1"
	"github.com/4sarathbabu/blazar/pkg/errs"
	"github.com/4sarathbabu/blazar/pkg/repository"
)

// Store is an in-memory repository.Repository.
type Store struct {
	mu sync.RWMutex

	leases       map[string]v1.Lease
	reservations map[string]v1.Reservation
	events       map[string]v1.Event
	allocations  map[string][]v1.Allocation // keyed by reservation id
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		leases:       map[string]v1.Lease{},
		reservations: map[string]v1.Reservation{},
		events:       map[string]v1.Event{},
		allocations:  map[string][]v1.Allocation{},
	}
}

var _ repository.Repository = (*Store)(nil)

func (s *Store) LeaseCreate(_ context.Context, l v1.Lease) (v1.Lease, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	if _, ok := s.leases[l.ID]; ok {
		return v1.Lease{}, errs.New(errs.RepositoryError, "lease id already exists")
	}
	s.leases[l.ID] = l
	return l, nil
}

func (s *Store) LeaseGet(_ context.Context, id string) (v1.Lease, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.leases[id]
	if !ok {
		return v1.Lease{}, errs.Newf(errs.RepositoryError, "lease %s not found", id)
	}
	return s.hydrateLocked(l), nil
}

func (s *Store) LeaseGetByName(_ context.Context, projectID, name string) (v1.Lease, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, l := range s.leases {
		if l.ProjectID == projectID && l.Name == name {
			return s.hydrateLocked(l), true, nil
		}
	}
	return v1.Lease{}, false, nil
}

func (s *Store) LeaseList(_ context.Context, projectID string) ([]v1.Lease, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := lo.FilterMap(lo.Values(s.leases), func(l v1.Lease, _ int) (v1.Lease, bool) {
		return s.hydrateLocked(l), projectID == "" || l.ProjectID == projectID
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) LeaseUpdate(_ context.Context, l v1.Lease) (v1.Lease, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.leases[l.ID]; !ok {
		return v1.Lease{}, errs.Newf(errs.RepositoryError, "lease %s not found", l.ID)
	}
	s.leases[l.ID] = l
	return s.hydrateLocked(l), nil
}

func (s *Store) LeaseDestroy(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.reservations {
		if r.LeaseID == id {
			delete(s.allocations, r.ID)
			delete(s.reservations, r.ID)
		}
	}
	for _, e := range s.events {
		if e.LeaseID == id {
			delete(s.events, e.ID)
		}
	}
	delete(s.leases, id)
	return nil
}

func (s *Store) LeaseCompareAndSetStatus(_ context.Context, id string, from []v1.LeaseStatus, to v1.LeaseStatus) (v1.LeaseStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.leases[id]
	if !ok {
		return "", errs.Newf(errs.RepositoryError, "lease %s not found", id)
	}
	if !lo.Contains(from, l.Status) {
		return "", errs.Newf(errs.InvalidStatus, "lease %s is in status %s, not one of %v", id, l.Status, from)
	}
	prev := l.Status
	l.Status = to
	s.leases[id] = l
	return prev, nil
}

func (s *Store) LeaseSetStatusUnconditional(_ context.Context, id string, to v1.LeaseStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.leases[id]
	if !ok {
		return errs.Newf(errs.RepositoryError, "lease %s not found", id)
	}
	l.Status = to
	s.leases[id] = l
	return nil
}

func (s *Store) ReservationCreate(_ context.Context, r v1.Reservation) (v1.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	s.reservations[r.ID] = r
	return r, nil
}

func (s *Store) ReservationGet(_ context.Context, id string) (v1.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.reservations[id]
	if !ok {
		return v1.Reservation{}, errs.Newf(errs.RepositoryError, "reservation %s not found", id)
	}
	return r, nil
}

func (s *Store) ReservationUpdate(_ context.Context, r v1.Reservation) (v1.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.reservations[r.ID]; !ok {
		return v1.Reservation{}, errs.Newf(errs.RepositoryError, "reservation %s not found", r.ID)
	}
	s.reservations[r.ID] = r
	return r, nil
}

func (s *Store) ReservationListByLease(_ context.Context, leaseID string) ([]v1.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := lo.Filter(lo.Values(s.reservations), func(r v1.Reservation, _ int) bool { return r.LeaseID == leaseID })
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) EventCreate(_ context.Context, e v1.Event) (v1.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	s.events[e.ID] = e
	return e, nil
}

func (s *Store) EventUpdate(_ context.Context, e v1.Event) (v1.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[e.ID]; !ok {
		return v1.Event{}, errs.Newf(errs.RepositoryError, "event %s not found", e.ID)
	}
	s.events[e.ID] = e
	return e, nil
}

func (s *Store) EventGetAllSortedByFilters(_ context.Context, f repository.EventFilter) ([]v1.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := lo.Filter(lo.Values(s.events), func(e v1.Event, _ int) bool { return matches(e, f) })
	sort.Slice(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out, nil
}

func (s *Store) EventGetFirstSortedByFilters(ctx context.Context, f repository.EventFilter) (v1.Event, bool, error) {
	all, err := s.EventGetAllSortedByFilters(ctx, f)
	if err != nil || len(all) == 0 {
		return v1.Event{}, false, err
	}
	return all[0], true, nil
}

func (s *Store) AllocationCreate(_ context.Context, a v1.Allocation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.allocations[a.ReservationID] = append(s.allocations[a.ReservationID], a)
	return nil
}

func (s *Store) AllocationsByReservation(_ context.Context, reservationID string) ([]v1.Allocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]v1.Allocation{}, s.allocations[reservationID]...), nil
}

func (s *Store) AllocationsClear(_ context.Context, reservationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.allocations, reservationID)
	return nil
}

// hydrateLocked attaches a lease's reservations and events. Callers
// must hold at least a read lock.
func (s *Store) hydrateLocked(l v1.Lease) v1.Lease {
	l.Reservations = lo.Filter(lo.Values(s.reservations), func(r v1.Reservation, _ int) bool { return r.LeaseID == l.ID })
	sort.Slice(l.Reservations, func(i, j int) bool { return l.Reservations[i].ID < l.Reservations[j].ID })
	l.Events = lo.Filter(lo.Values(s.events), func(e v1.Event, _ int) bool { return e.LeaseID == l.ID })
	sort.Slice(l.Events, func(i, j int) bool { return l.Events[i].Time.Before(l.Events[j].Time) })
	return l
}

func matches(e v1.Event, f repository.EventFilter) bool {
	if f.LeaseID != "" && e.LeaseID != f.LeaseID {
		return false
	}
	if f.Status != "" && e.Status != f.Status {
		return false
	}
	if f.Type != "" && e.Type != f.Type {
		return false
	}
	if f.Time != nil {
		switch f.Time.Op {
		case repository.Lt:
			return e.Time.Before(f.Time.Border)
		case repository.Lte:
			return e.Time.Before(f.Time.Border) || e.Time.Equal(f.Time.Border)
		case repository.Gt:
			return e.Time.After(f.Time.Border)
		case repository.Gte:
			return e.Time.After(f.Time.Border) || e.Time.Equal(f.Time.Border)
		case repository.Eq:
			return e.Time.Equal(f.Time.Border)
		}
	}
	return true
}
