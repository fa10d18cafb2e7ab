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

// Package errs defines the manager's error-kind catalogue. Every
// constructor attaches structured key/values via operatorpkg/serrors so
// errors log with full context, and a Kind so callers can classify a
// failure (fatal vs. non-fatal, retryable vs. terminal) without string
// matching on the message.
package errs

import (
	"errors"
	"fmt"

	"github.com/awslabs/operatorpkg/serrors"
)

// Kind identifies which of the catalogued failure modes an error
// represents.
type Kind string

const (
	InvalidInput                Kind = "InvalidInput"
	InvalidStatus                Kind = "InvalidStatus"
	InvalidDate                  Kind = "InvalidDate"
	InvalidPeriod                Kind = "InvalidPeriod"
	InvalidRange                 Kind = "InvalidRange"
	MissingParameter              Kind = "MissingParameter"
	MalformedParameter            Kind = "MalformedParameter"
	MalformedRequirements         Kind = "MalformedRequirements"
	MissingTrustID                Kind = "MissingTrustId"
	LeaseNameAlreadyExists         Kind = "LeaseNameAlreadyExists"
	UnsupportedResourceType       Kind = "UnsupportedResourceType"
	DuplicateResourceType         Kind = "DuplicateResourceType"
	NotEnoughResourcesAvailable  Kind = "NotEnoughResourcesAvailable"
	CantUpdateParameter           Kind = "CantUpdateParameter"
	PluginConfigurationError      Kind = "PluginConfigurationError"
	NotAuthorized                 Kind = "NotAuthorized"
	EventErrorKind                Kind = "EventError"
	RepositoryError               Kind = "RepositoryError"
)

// kindError pairs a Kind with the structured, loggable error it wraps.
type kindError struct {
	error
	kind Kind
}

func (e *kindError) Unwrap() error { return e.error }

// New returns an error of the given kind carrying msg.
func New(kind Kind, msg string) error {
	return &kindError{error: serrors.Wrap(errors.New(msg), "kind", string(kind)), kind: kind}
}

// Newf is New with fmt-style formatting.
func Newf(kind Kind, format string, args ...any) error {
	return &kindError{error: serrors.Wrap(fmt.Errorf(format, args...), "kind", string(kind)), kind: kind}
}

// Wrap attaches kind to an existing error, adding any extra structured
// key/values.
func Wrap(kind Kind, err error, keysAndValues ...any) error {
	if err == nil {
		return nil
	}
	return &kindError{
		error: serrors.Wrap(err, append([]any{"kind", string(kind)}, keysAndValues...)...),
		kind:  kind,
	}
}

// KindOf extracts the Kind attached to err, if any. An error with no
// attached kind (e.g. a bare error from an external collaborator)
// reports "".
func KindOf(err error) Kind {
	var ke *kindError
	if errors.As(err, &ke) {
		return ke.kind
	}
	return ""
}

// Is reports whether err (or anything it wraps) carries kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
