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

// Package lease implements LeaseService: create/update/delete/get of
// leases, guarded by the status machine and backed by the plugin
// registry, enforcement pipeline and repository.
package lease

import (
	"context"
	"fmt"
	"time"

	"github.com/avast/retry-go"
	"go.uber.org/zap"
	"k8s.io/utils/clock"

	v1 "github.com/4sarathbabu/blazar/pkg/apis/v1"
	"github.com/4sarathbabu/blazar/pkg/enforcement"
	"github.com/4sarathbabu/blazar/pkg/errs"
	"github.com/4sarathbabu/blazar/pkg/notify"
	"github.com/4sarathbabu/blazar/pkg/plugin"
	"github.com/4sarathbabu/blazar/pkg/repository"
	"github.com/4sarathbabu/blazar/pkg/statemachine"
)

// Options carries the manager.* config keys relevant to LeaseService
// (spec §6).
type Options struct {
	MinutesBeforeEndLease int
	EventMaxRetries       int
}

// Service implements the lease lifecycle operations in spec §4.1.
type Service struct {
	repo        repository.Repository
	plugins     *plugin.Registry
	enforcement *enforcement.Pipeline
	notifier    notify.Notifier
	clock       clock.Clock
	opts        Options
	logger      *zap.SugaredLogger

	// handlers is the fixed event_type -> handler mapping built once,
	// replacing dynamic dispatch by event_type string (spec §9).
	handlers map[v1.EventType]func(ctx context.Context, leaseID, eventID string) error
}

// NewService constructs a Service and wires its fixed event-type
// dispatch table.
func NewService(repo repository.Repository, plugins *plugin.Registry, enf *enforcement.Pipeline, notifier notify.Notifier, clk clock.Clock, opts Options, logger *zap.SugaredLogger) *Service {
	s := &Service{repo: repo, plugins: plugins, enforcement: enf, notifier: notifier, clock: clk, opts: opts, logger: logger}
	s.handlers = map[v1.EventType]func(context.Context, string, string) error{
		v1.StartLease:     s.StartLease,
		v1.EndLease:       s.EndLease,
		v1.BeforeEndLease: s.BeforeEndLease,
	}
	return s
}

// Handler resolves the fixed handler for an event type, or an
// EventError if t is unrecognized (spec §9).
func (s *Service) Handler(t v1.EventType) (func(ctx context.Context, leaseID, eventID string) error, error) {
	h, ok := s.handlers[t]
	if !ok {
		return nil, errs.Newf(errs.EventErrorKind, "no handler registered for event type %q", t)
	}
	return h, nil
}

// Get returns the lease identified by id.
func (s *Service) Get(ctx context.Context, id string) (v1.Lease, error) {
	return s.repo.LeaseGet(ctx, id)
}

// ReservationValues describes one requested reservation in a create or
// update call.
type ReservationValues struct {
	ID           string // set on update to reference an existing reservation
	ResourceType string
	Values       map[string]any
}

// CreateValues is the lease representation accepted by Create (spec
// §6).
type CreateValues struct {
	Name          string
	ProjectID     string
	UserID        string
	TrustID       string
	StartDate     string
	EndDate       string
	BeforeEndDate string
	Reservations  []ReservationValues
}

// Create validates values, resolves allocation candidates, runs
// check_create, persists the lease/reservations/events, and returns
// the lease in PENDING status (spec §4.1).
func (s *Service) Create(ctx context.Context, values CreateValues) (v1.Lease, error) {
	now := s.clock.Now().UTC()

	if values.Name == "" {
		return v1.Lease{}, errs.New(errs.MissingParameter, "name is required")
	}
	if values.TrustID == "" {
		return v1.Lease{}, errs.New(errs.MissingTrustID, "trust_id is required")
	}
	if len(values.Reservations) == 0 {
		return v1.Lease{}, errs.New(errs.MissingParameter, "at least one reservation is required")
	}

	start, err := ParseDate(values.StartDate, now)
	if err != nil {
		return v1.Lease{}, err
	}
	end, err := ParseDate(values.EndDate, now)
	if err != nil {
		return v1.Lease{}, err
	}
	if start.Before(now.Truncate(time.Minute)) {
		return v1.Lease{}, errs.New(errs.InvalidInput, "start_date may not be in the past")
	}
	if !end.After(start) {
		return v1.Lease{}, errs.New(errs.InvalidPeriod, "end_date must be after start_date")
	}
	if _, found, err := s.repo.LeaseGetByName(ctx, values.ProjectID, values.Name); err != nil {
		return v1.Lease{}, err
	} else if found {
		return v1.Lease{}, errs.Newf(errs.LeaseNameAlreadyExists, "lease %q already exists in project %q", values.Name, values.ProjectID)
	}

	beforeEnd, hasBeforeEnd, err := s.resolveBeforeEndDate(values.BeforeEndDate, start, end)
	if err != nil {
		return v1.Lease{}, err
	}

	// Step 1: resolve allocation candidates for every reservation
	// before persisting anything.
	type planned struct {
		resType    string
		values     map[string]any
		candidates []string
		plugin     plugin.Plugin
	}
	plans := make([]planned, 0, len(values.Reservations))
	for _, rv := range values.Reservations {
		p, err := s.plugins.Get(rv.ResourceType)
		if err != nil {
			return v1.Lease{}, err
		}
		candidates, err := s.allocationCandidatesWithRetry(ctx, p, rv.Values)
		if err != nil {
			return v1.Lease{}, err
		}
		plans = append(plans, planned{resType: rv.ResourceType, values: rv.Values, candidates: candidates, plugin: p})
	}

	// Step 2: enforcement check_create, before any write.
	draftLease := v1.Lease{Name: values.Name, ProjectID: values.ProjectID, UserID: values.UserID, TrustID: values.TrustID, StartDate: start, EndDate: end, Status: v1.LeaseCreating}
	draftReservations := make([]v1.Reservation, 0, len(plans))
	draftAllocations := make([]v1.Allocation, 0, len(plans))
	for _, p := range plans {
		draftReservations = append(draftReservations, v1.Reservation{ResourceType: p.resType, Attributes: p.values, Status: v1.ReservationPending})
		for _, c := range p.candidates {
			draftAllocations = append(draftAllocations, v1.Allocation{ResourceID: c})
		}
	}
	if err := s.enforcement.CheckCreate(ctx, draftLease, draftReservations, draftAllocations); err != nil {
		return v1.Lease{}, err
	}

	// Step 3: persist, in order, rolling back all earlier writes on
	// any failure.
	createdLease, err := s.repo.LeaseCreate(ctx, draftLease)
	if err != nil {
		return v1.Lease{}, errs.Wrap(errs.RepositoryError, err)
	}
	var releases []func()
	rollback := func() {
		for _, release := range releases {
			release()
		}
		_ = s.repo.LeaseDestroy(ctx, createdLease.ID)
	}

	for i, p := range plans {
		vals := map[string]any{"candidates": p.candidates}
		for k, v := range p.values {
			vals[k] = v
		}
		resourceID, err := p.plugin.ReserveResource(ctx, fmt.Sprintf("%s-%d", createdLease.ID, i), vals)
		if err != nil {
			rollback()
			return v1.Lease{}, errs.Wrap(errs.NotEnoughResourcesAvailable, err, "resource_type", p.resType)
		}
		claimedBy := p.plugin
		releases = append(releases, func() { _ = claimedBy.OnEnd(ctx, resourceID, createdLease) })
		createdReservation, err := s.repo.ReservationCreate(ctx, v1.Reservation{
			LeaseID:      createdLease.ID,
			ResourceType: p.resType,
			ResourceID:   resourceID,
			Status:       v1.ReservationPending,
			Attributes:   p.values,
		})
		if err != nil {
			rollback()
			return v1.Lease{}, errs.Wrap(errs.RepositoryError, err)
		}
		if err := s.repo.AllocationCreate(ctx, v1.Allocation{
			ReservationID: createdReservation.ID,
			ResourceID:    resourceID,
		}); err != nil {
			rollback()
			return v1.Lease{}, errs.Wrap(errs.RepositoryError, err)
		}
	}

	if _, err := s.repo.EventCreate(ctx, v1.Event{LeaseID: createdLease.ID, Type: v1.StartLease, Time: start, Status: v1.EventUndone}); err != nil {
		rollback()
		return v1.Lease{}, errs.Wrap(errs.RepositoryError, err)
	}
	if _, err := s.repo.EventCreate(ctx, v1.Event{LeaseID: createdLease.ID, Type: v1.EndLease, Time: end, Status: v1.EventUndone}); err != nil {
		rollback()
		return v1.Lease{}, errs.Wrap(errs.RepositoryError, err)
	}
	if hasBeforeEnd {
		if _, err := s.repo.EventCreate(ctx, v1.Event{LeaseID: createdLease.ID, Type: v1.BeforeEndLease, Time: beforeEnd, Status: v1.EventUndone}); err != nil {
			rollback()
			return v1.Lease{}, errs.Wrap(errs.RepositoryError, err)
		}
	}

	if err := s.repo.LeaseSetStatusUnconditional(ctx, createdLease.ID, v1.LeasePending); err != nil {
		rollback()
		return v1.Lease{}, errs.Wrap(errs.RepositoryError, err)
	}

	result, err := s.repo.LeaseGet(ctx, createdLease.ID)
	if err != nil {
		return v1.Lease{}, errs.Wrap(errs.RepositoryError, err)
	}
	s.notifier.Publish(notify.LeaseTopic("create"), result)
	return result, nil
}

// allocationCandidatesWithRetry implements spec §4.1 step 1: if the
// plugin exposes retry_allocation_without_defaults and the first
// attempt fails with NotEnoughResourcesAvailable, retry once with
// default properties stripped.
func (s *Service) allocationCandidatesWithRetry(ctx context.Context, p plugin.Plugin, values map[string]any) ([]string, error) {
	opts := p.GetPluginOpts()
	attempt := 0
	var candidates []string
	err := retry.Do(
		func() error {
			attempt++
			tryValues := values
			if attempt == 2 {
				tryValues = stripDefaults(values, opts.DefaultResourceProperties)
			}
			c, err := p.AllocationCandidates(ctx, tryValues)
			if err != nil {
				return err
			}
			candidates = c
			return nil
		},
		retry.Attempts(retryAttempts(opts)),
		retry.RetryIf(func(err error) bool { return opts.RetryAllocationWithoutDefaults && errs.Is(err, errs.NotEnoughResourcesAvailable) }),
		retry.LastErrorOnly(true),
		retry.Delay(0),
	)
	return candidates, err
}

func retryAttempts(opts plugin.Opts) uint {
	if opts.RetryAllocationWithoutDefaults {
		return 2
	}
	return 1
}

func stripDefaults(values map[string]any, defaults map[string]string) map[string]any {
	out := make(map[string]any, len(values))
	for k, v := range values {
		if _, isDefault := defaults[k]; isDefault {
			continue
		}
		out[k] = v
	}
	return out
}

// resolveBeforeEndDate implements spec §4.1 step 3.
func (s *Service) resolveBeforeEndDate(supplied string, start, end time.Time) (time.Time, bool, error) {
	if supplied != "" {
		t, err := ParseDate(supplied, time.Time{})
		if err != nil {
			return time.Time{}, false, err
		}
		if !t.After(start) || !t.Before(end) {
			return time.Time{}, false, errs.New(errs.InvalidRange, "before_end_date must be strictly between start_date and end_date")
		}
		return t, true, nil
	}
	if s.opts.MinutesBeforeEndLease <= 0 {
		return time.Time{}, false, nil
	}
	t := end.Add(-time.Duration(s.opts.MinutesBeforeEndLease) * time.Minute)
	if t.Before(start) {
		if s.logger != nil {
			s.logger.Warnw("computed before_end_date precedes start_date, clamping", "start_date", start, "computed", t)
		}
		t = start
	}
	return t, true, nil
}
