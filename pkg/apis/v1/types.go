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

// Package v1 holds the reservation manager's data model: leases,
// reservations, events and allocations.
package v1

import "time"

// LeaseStatus is the authoritative status of a Lease.
type LeaseStatus string

const (
	LeaseCreating    LeaseStatus = "CREATING"
	LeasePending     LeaseStatus = "PENDING"
	LeaseStarting    LeaseStatus = "STARTING"
	LeaseActive      LeaseStatus = "ACTIVE"
	LeaseUpdating    LeaseStatus = "UPDATING"
	LeaseTerminating LeaseStatus = "TERMINATING"
	LeaseTerminated  LeaseStatus = "TERMINATED"
	LeaseDeleting    LeaseStatus = "DELETING"
	LeaseError       LeaseStatus = "ERROR"
)

// stableLeaseStatuses are the statuses an externally initiated operation
// may begin from. Every other status is transitional.
var stableLeaseStatuses = map[LeaseStatus]bool{
	LeasePending:    true,
	LeaseActive:     true,
	LeaseTerminated: true,
	LeaseError:      true,
}

// IsStable reports whether s is a stable lease status.
func (s LeaseStatus) IsStable() bool {
	return stableLeaseStatuses[s]
}

// ReservationStatus is the authoritative status of a Reservation.
type ReservationStatus string

const (
	ReservationPending ReservationStatus = "PENDING"
	ReservationActive  ReservationStatus = "ACTIVE"
	ReservationDeleted ReservationStatus = "DELETED"
	ReservationError   ReservationStatus = "ERROR"
)

// EventType identifies which lifecycle action an Event carries out.
type EventType string

const (
	StartLease     EventType = "start_lease"
	EndLease       EventType = "end_lease"
	BeforeEndLease EventType = "before_end_lease"
)

// EventStatus is the authoritative status of an Event.
type EventStatus string

const (
	EventUndone     EventStatus = "UNDONE"
	EventInProgress EventStatus = "IN_PROGRESS"
	EventDone       EventStatus = "DONE"
	EventError      EventStatus = "ERROR"
)

// Lease is a time-bounded container of reservations belonging to a project.
type Lease struct {
	ID        string
	Name      string
	ProjectID string
	UserID    string
	TrustID   string

	StartDate time.Time
	EndDate   time.Time

	Status   LeaseStatus
	Degraded bool

	Reservations []Reservation
	Events       []Event
}

// Reservation is a lease's claim on a specific resource type.
type Reservation struct {
	ID               string
	LeaseID          string
	ResourceType     string
	ResourceID       string
	Status           ReservationStatus
	MissingResources bool
	ResourcesChanged bool

	// Attributes carries the type-specific parameters the owning plugin
	// interprets; the core never inspects its contents.
	Attributes map[string]any
}

// Event is a scheduled lifecycle action belonging to a Lease.
type Event struct {
	ID      string
	LeaseID string
	Type    EventType
	Time    time.Time
	Status  EventStatus
}

// Allocation is the concrete resource unit chosen for a reservation.
type Allocation struct {
	ReservationID string
	ResourceID    string
}
