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

// Package repository declares the abstract persistence contract the
// core depends on. The concrete storage engine is an external
// collaborator (spec §1); memstore provides a reference, in-memory
// implementation used for tests and the local-mode binary.
package repository

import (
	"context"
	"time"

	v1 "github.com/4sarathbabu/blazar/pkg/apis/v1"
)

// Op is a timestamp comparison operator for filtered queries.
type Op string

const (
	Eq  Op = "eq"
	Lt  Op = "lt"
	Lte Op = "lte"
	Gt  Op = "gt"
	Gte Op = "gte"
)

// Comparison filters a timestamp field against a border using Op.
type Comparison struct {
	Op     Op
	Border time.Time
}

// EventFilter selects a subset of events for a query. Zero-valued
// fields are not applied.
type EventFilter struct {
	LeaseID string
	Status  v1.EventStatus
	Type    v1.EventType
	Time    *Comparison
}

// Repository is the storage contract the core depends on. Every method
// is independent: implementations must not assume a caller can observe
// writes made by other in-flight calls except through a fresh read
// (spec §9 open question).
type Repository interface {
	LeaseCreate(ctx context.Context, l v1.Lease) (v1.Lease, error)
	LeaseGet(ctx context.Context, id string) (v1.Lease, error)
	LeaseGetByName(ctx context.Context, projectID, name string) (v1.Lease, bool, error)
	LeaseList(ctx context.Context, projectID string) ([]v1.Lease, error)
	LeaseUpdate(ctx context.Context, l v1.Lease) (v1.Lease, error)
	LeaseDestroy(ctx context.Context, id string) error

	// LeaseCompareAndSetStatus atomically moves a lease from one of
	// `from` to `to`, returning the status observed prior to the
	// transition. It returns an InvalidStatus-kind error on mismatch.
	LeaseCompareAndSetStatus(ctx context.Context, id string, from []v1.LeaseStatus, to v1.LeaseStatus) (v1.LeaseStatus, error)

	// LeaseSetStatusUnconditional writes to unconditionally, with no
	// CAS check. Used to land on a guarded operation's final status.
	LeaseSetStatusUnconditional(ctx context.Context, id string, to v1.LeaseStatus) error

	ReservationCreate(ctx context.Context, r v1.Reservation) (v1.Reservation, error)
	ReservationGet(ctx context.Context, id string) (v1.Reservation, error)
	ReservationUpdate(ctx context.Context, r v1.Reservation) (v1.Reservation, error)
	ReservationListByLease(ctx context.Context, leaseID string) ([]v1.Reservation, error)

	EventCreate(ctx context.Context, e v1.Event) (v1.Event, error)
	EventUpdate(ctx context.Context, e v1.Event) (v1.Event, error)
	EventGetAllSortedByFilters(ctx context.Context, f EventFilter) ([]v1.Event, error)
	EventGetFirstSortedByFilters(ctx context.Context, f EventFilter) (v1.Event, bool, error)

	AllocationCreate(ctx context.Context, a v1.Allocation) error
	AllocationsByReservation(ctx context.Context, reservationID string) ([]v1.Allocation, error)
	AllocationsClear(ctx context.Context, reservationID string) error
}
