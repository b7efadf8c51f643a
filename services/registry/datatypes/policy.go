// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes defines the data model shared across the planning-policy
// registry: policy documents, their temporally-versioned revisions, the
// chunk records projected into the vector index, and the date encodings that
// bind the two stores together.
package datatypes

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// PolicyCategory classifies a registered policy document.
type PolicyCategory string

const (
	// CategoryNationalPolicy covers national planning policy (e.g. the NPPF).
	CategoryNationalPolicy PolicyCategory = "national_policy"
	// CategoryLocalPlan covers adopted local plans and their reviews.
	CategoryLocalPlan PolicyCategory = "local_plan"
	// CategoryGuidance covers planning practice guidance and circulars.
	CategoryGuidance PolicyCategory = "guidance"
	// CategoryRegulation covers statutory instruments and regulations.
	CategoryRegulation PolicyCategory = "regulation"
)

// ValidCategory reports whether c is a known policy category.
func ValidCategory(c PolicyCategory) bool {
	switch c {
	case CategoryNationalPolicy, CategoryLocalPlan, CategoryGuidance, CategoryRegulation:
		return true
	default:
		return false
	}
}

// RevisionStatus is the explicit lifecycle state of a policy revision.
//
// Status is independent mutable state, never derived from interval position.
// Historical date resolution treats both active and superseded revisions as
// eligible; only failed revisions are invisible to resolution.
type RevisionStatus string

const (
	// StatusProcessing is the initial state of a newly created revision,
	// before ingestion has populated the vector index.
	StatusProcessing RevisionStatus = "processing"
	// StatusActive marks a successfully ingested revision.
	StatusActive RevisionStatus = "active"
	// StatusFailed marks a revision whose ingestion failed. Failed revisions
	// never participate in overlap checks or date resolution.
	StatusFailed RevisionStatus = "failed"
	// StatusSuperseded marks a revision replaced by a newer one. It remains
	// the correct answer for dates inside its effective interval.
	StatusSuperseded RevisionStatus = "superseded"
)

// ValidStatus reports whether s is a known revision status.
func ValidStatus(s RevisionStatus) bool {
	switch s {
	case StatusProcessing, StatusActive, StatusFailed, StatusSuperseded:
		return true
	default:
		return false
	}
}

// PolicyDocument is the registration record for one policy. The source slug
// is immutable and unique; a document is created exactly once and never
// implicitly mutated.
type PolicyDocument struct {
	Source      string         `json:"source"`
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Category    PolicyCategory `json:"category"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   *time.Time     `json:"updated_at,omitempty"`
}

// PolicyRevision is one dated revision of a policy document.
//
// The effective interval is the closed day range [EffectiveFrom, EffectiveTo];
// a nil EffectiveTo means open-ended (currently in force). For a fixed source
// the intervals of all non-failed revisions are pairwise disjoint, and at
// most one non-failed revision is open-ended.
type PolicyRevision struct {
	RevisionID    string         `json:"revision_id"`
	Source        string         `json:"source"`
	VersionLabel  string         `json:"version_label"`
	EffectiveFrom time.Time      `json:"effective_from"`
	EffectiveTo   *time.Time     `json:"effective_to,omitempty"`
	Status        RevisionStatus `json:"status"`
	FilePath      string         `json:"file_path,omitempty"`
	ChunkCount    int            `json:"chunk_count,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	IngestedAt    *time.Time     `json:"ingested_at,omitempty"`
	Error         string         `json:"error,omitempty"`
}

// Covers reports whether date falls inside the revision's effective interval.
// An open-ended revision covers every date from EffectiveFrom onward.
func (r *PolicyRevision) Covers(date time.Time) bool {
	d := TruncateToDay(date)
	if d.Before(TruncateToDay(r.EffectiveFrom)) {
		return false
	}
	if r.EffectiveTo == nil {
		return true
	}
	return !d.After(TruncateToDay(*r.EffectiveTo))
}

// OpenEnded reports whether the revision has no end date.
func (r *PolicyRevision) OpenEnded() bool {
	return r.EffectiveTo == nil
}

// IntervalString renders the effective interval for error messages and logs.
func (r *PolicyRevision) IntervalString() string {
	if r.EffectiveTo == nil {
		return fmt.Sprintf("[%s, open)", FormatDay(r.EffectiveFrom))
	}
	return fmt.Sprintf("[%s, %s]", FormatDay(r.EffectiveFrom), FormatDay(*r.EffectiveTo))
}

// RevisionPatch is a partial update to a revision. Nil fields are untouched.
// ClearEffectiveTo removes the end date (reopening the interval); it takes
// precedence over EffectiveTo.
type RevisionPatch struct {
	VersionLabel     *string
	EffectiveFrom    *time.Time
	EffectiveTo      *time.Time
	ClearEffectiveTo bool
	Status           *RevisionStatus
	FilePath         *string
	ChunkCount       *int
	IngestedAt       *time.Time
	Error            *string
}

var sourceSlugPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

// ValidateSource checks that a policy source slug is well formed: lowercase
// alphanumerics, hyphens and underscores, at most 64 characters. Slugs are
// embedded in store keys and chunk IDs, so the alphabet is deliberately
// narrow.
func ValidateSource(source string) error {
	if !sourceSlugPattern.MatchString(source) {
		return fmt.Errorf("invalid source slug %q: must match %s", source, sourceSlugPattern.String())
	}
	return nil
}

// NormalizeSource lowercases and trims a user-supplied source slug before
// validation.
func NormalizeSource(source string) string {
	return strings.ToLower(strings.TrimSpace(source))
}
