// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"errors"
	"fmt"
	"time"

	"github.com/bicesterbug/bbug-planning-reporter-sub001/services/registry/datatypes"
)

// Sentinel targets for errors.Is checks. Each typed error below unwraps to
// its sentinel, so callers can branch without caring about the payload.
var (
	// ErrPolicyExists is returned when registering an already-known source.
	ErrPolicyExists = errors.New("policy already exists")

	// ErrPolicyNotFound is returned for operations on unregistered sources.
	ErrPolicyNotFound = errors.New("policy not found")

	// ErrRevisionNotFound is returned for operations on unknown revisions.
	ErrRevisionNotFound = errors.New("revision not found")

	// ErrRevisionOverlap is returned when a new revision's effective
	// interval conflicts with an existing one and the conflict cannot be
	// resolved by auto-supersession. The caller must correct the input.
	ErrRevisionOverlap = errors.New("revision interval overlap")

	// ErrSoleActiveRevision protects the current-revision guarantee: a
	// policy with an active revision must always retain at least one.
	ErrSoleActiveRevision = errors.New("cannot delete the sole active revision")

	// ErrRevisionExists is returned when creating a revision whose ID is
	// already registered for the same source.
	ErrRevisionExists = errors.New("revision already exists")

	// ErrInvalidInput marks caller mistakes in the request itself - bad
	// slugs, inverted intervals, unknown categories or statuses - as
	// distinct from conflicts with stored state.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNoCurrentRevision is returned when no active revision covers the
	// present day for the requested policy.
	ErrNoCurrentRevision = errors.New("no current revision")
)

// PolicyExistsError reports a duplicate source registration.
type PolicyExistsError struct {
	Source string
}

func (e *PolicyExistsError) Error() string {
	return fmt.Sprintf("policy %q already exists", e.Source)
}

func (e *PolicyExistsError) Unwrap() error { return ErrPolicyExists }

// PolicyNotFoundError reports an unregistered source.
type PolicyNotFoundError struct {
	Source string
}

func (e *PolicyNotFoundError) Error() string {
	return fmt.Sprintf("policy %q not found", e.Source)
}

func (e *PolicyNotFoundError) Unwrap() error { return ErrPolicyNotFound }

// RevisionNotFoundError reports an unknown (source, revision_id) pair.
type RevisionNotFoundError struct {
	Source     string
	RevisionID string
}

func (e *RevisionNotFoundError) Error() string {
	return fmt.Sprintf("revision %q of policy %q not found", e.RevisionID, e.Source)
}

func (e *RevisionNotFoundError) Unwrap() error { return ErrRevisionNotFound }

// RevisionOverlapError reports an unresolvable temporal conflict between the
// attempted interval and an existing non-failed revision.
type RevisionOverlapError struct {
	Source        string
	From          time.Time
	To            *time.Time
	ConflictingID string
}

func (e *RevisionOverlapError) Error() string {
	interval := fmt.Sprintf("[%s, open)", datatypes.FormatDay(e.From))
	if e.To != nil {
		interval = fmt.Sprintf("[%s, %s]", datatypes.FormatDay(e.From), datatypes.FormatDay(*e.To))
	}
	return fmt.Sprintf("policy %q: interval %s overlaps revision %q", e.Source, interval, e.ConflictingID)
}

func (e *RevisionOverlapError) Unwrap() error { return ErrRevisionOverlap }

// SoleActiveRevisionError reports a forbidden deletion of the only active
// revision of a policy.
type SoleActiveRevisionError struct {
	Source     string
	RevisionID string
}

func (e *SoleActiveRevisionError) Error() string {
	return fmt.Sprintf("revision %q is the sole active revision of policy %q and cannot be deleted", e.RevisionID, e.Source)
}

func (e *SoleActiveRevisionError) Unwrap() error { return ErrSoleActiveRevision }

// RevisionExistsError reports a duplicate revision ID for a source.
type RevisionExistsError struct {
	Source     string
	RevisionID string
}

func (e *RevisionExistsError) Error() string {
	return fmt.Sprintf("revision %q of policy %q already exists", e.RevisionID, e.Source)
}

func (e *RevisionExistsError) Unwrap() error { return ErrRevisionExists }

// NoCurrentRevisionError reports that no active revision covers today for
// the given source.
type NoCurrentRevisionError struct {
	Source string
	AsOf   time.Time
}

func (e *NoCurrentRevisionError) Error() string {
	return fmt.Sprintf("policy %q has no active revision in force on %s", e.Source, datatypes.FormatDay(e.AsOf))
}

func (e *NoCurrentRevisionError) Unwrap() error { return ErrNoCurrentRevision }
