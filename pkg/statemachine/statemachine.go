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

// Package statemachine guards lease-mutating operations with the
// declarative protocol in spec §4.6: enter a transitional status via a
// compare-and-set, run the operation, then land on the declared result
// status (or revert / error).
package statemachine

import (
	"context"

	v1 "github.com/4sarathbabu/blazar/pkg/apis/v1"
	"github.com/4sarathbabu/blazar/pkg/errs"
	"github.com/4sarathbabu/blazar/pkg/metrics"
)

// StatusSetter is the minimal repository surface the guard needs: an
// atomic CAS on lease status that reports the status it found, and an
// unconditional set used to land on the final result or ERROR.
type StatusSetter interface {
	LeaseCompareAndSetStatus(ctx context.Context, id string, from []v1.LeaseStatus, to v1.LeaseStatus) (v1.LeaseStatus, error)
	LeaseSetStatusUnconditional(ctx context.Context, id string, to v1.LeaseStatus) error
}

// Stable is the set of statuses an operation may begin from, unless an
// OperationSpec narrows it with From.
var Stable = []v1.LeaseStatus{v1.LeasePending, v1.LeaseActive, v1.LeaseTerminated, v1.LeaseError}

// OperationSpec declares one status-guarded operation.
type OperationSpec struct {
	// From restricts which stable statuses may start this operation;
	// nil means any of Stable.
	From []v1.LeaseStatus
	// Transition is the transitional status entered for the duration
	// of the operation.
	Transition v1.LeaseStatus
	// ResultIn are the permitted terminal statuses on success; fn's
	// return value is validated against this set.
	ResultIn []v1.LeaseStatus
	// NonFatal classifies an error returned by fn as non-fatal: the
	// lease reverts to its pre-call status instead of ERROR.
	NonFatal func(error) bool
}

// Run executes fn under the guard of spec. On success fn must return
// one of spec.ResultIn. On a non-fatal error the lease is reverted to
// its pre-call stable status and the error is returned unchanged. On
// any other error the lease is set to ERROR and the error is returned.
// Concurrent attempts against a lease not currently in one of
// spec.From fail immediately with an InvalidStatus-kind error from the
// CAS, never entering fn.
func Run(ctx context.Context, repo StatusSetter, leaseID string, spec OperationSpec, fn func(ctx context.Context) (v1.LeaseStatus, error)) error {
	from := spec.From
	if from == nil {
		from = Stable
	}

	preCallStatus, err := repo.LeaseCompareAndSetStatus(ctx, leaseID, from, spec.Transition)
	if err != nil {
		return err
	}
	metrics.LeasesByStatus.WithLabelValues(string(spec.Transition)).Inc()

	result, err := fn(ctx)
	if err != nil {
		if spec.NonFatal != nil && spec.NonFatal(err) {
			_ = landOn(ctx, repo, leaseID, preCallStatus)
			return err
		}
		_ = landOn(ctx, repo, leaseID, v1.LeaseError)
		return err
	}

	if len(spec.ResultIn) > 0 && !contains(spec.ResultIn, result) {
		_ = landOn(ctx, repo, leaseID, v1.LeaseError)
		return errs.Newf(errs.InvalidStatus, "operation returned disallowed result status %s for lease %s", result, leaseID)
	}
	return landOn(ctx, repo, leaseID, result)
}

// landOn sets the lease's final status and, only once that write
// succeeds, reflects it in the LeasesByStatus gauge.
func landOn(ctx context.Context, repo StatusSetter, leaseID string, status v1.LeaseStatus) error {
	if err := repo.LeaseSetStatusUnconditional(ctx, leaseID, status); err != nil {
		return err
	}
	metrics.LeasesByStatus.WithLabelValues(string(status)).Inc()
	return nil
}

func contains(set []v1.LeaseStatus, v v1.LeaseStatus) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}
