// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package resolver answers the registry's defining question: which revision
// of a policy was in force on a given date.
//
// Resolution is a pure function over the revision list; the Resolver type
// adds the store plumbing. Only active and superseded revisions are
// eligible - a processing revision has not earned visibility yet and a
// failed one never will.
package resolver

import (
	"context"
	"sort"
	"time"

	"github.com/bicesterbug/bbug-planning-reporter-sub001/services/registry/datatypes"
)

// NotFoundReason classifies why no revision covers a date.
type NotFoundReason string

const (
	// ReasonBeforeFirstRevision: the date precedes the earliest eligible
	// revision's effective_from.
	ReasonBeforeFirstRevision NotFoundReason = "before_first_revision"
	// ReasonInGap: the date falls between two eligible revisions' intervals.
	ReasonInGap NotFoundReason = "in_gap"
	// ReasonNoRevisions: the policy has no eligible revisions at all.
	ReasonNoRevisions NotFoundReason = "no_revisions"
)

// Resolution is the outcome of resolving one policy for one date. Exactly
// one of Revision and Reason is set.
type Resolution struct {
	Source   string                    `json:"source"`
	Date     string                    `json:"date"`
	Revision *datatypes.PolicyRevision `json:"revision,omitempty"`
	Reason   NotFoundReason            `json:"reason,omitempty"`
}

// Found reports whether the resolution identified an in-force revision.
func (r *Resolution) Found() bool { return r.Revision != nil }

// Snapshot is a point-in-time view of the whole registry: every policy
// partitioned by what resolving the date yielded.
type Snapshot struct {
	Date        string                               `json:"date"`
	InForce     map[string]*datatypes.PolicyRevision `json:"in_force"`
	BeforeFirst []string                             `json:"before_first_revision"`
	InGap       []string                             `json:"in_gap"`
	NoRevisions []string                             `json:"no_revisions"`
}

// RevisionSource is the slice of the store the resolver reads. Satisfied by
// *store.RevisionStore.
type RevisionSource interface {
	ListPolicies(ctx context.Context, category datatypes.PolicyCategory) ([]*datatypes.PolicyDocument, error)
	ListRevisions(ctx context.Context, source string) ([]*datatypes.PolicyRevision, error)
	GetRevision(ctx context.Context, source, revisionID string) (*datatypes.PolicyRevision, error)
}

// Resolver performs date-based revision lookups against a revision source.
type Resolver struct {
	store RevisionSource
}

// New creates a Resolver over the given revision source.
func New(store RevisionSource) *Resolver {
	return &Resolver{store: store}
}

// eligible reports whether a revision participates in date resolution.
func eligible(rev *datatypes.PolicyRevision) bool {
	return rev.Status == datatypes.StatusActive || rev.Status == datatypes.StatusSuperseded
}

// Resolve classifies a date against a revision list. Pure; revs may be in
// any order. The interval invariants guarantee at most one eligible
// revision covers any date.
func Resolve(source string, revs []*datatypes.PolicyRevision, date time.Time) Resolution {
	d := datatypes.TruncateToDay(date)
	res := Resolution{Source: source, Date: datatypes.FormatDay(d)}

	var earliest *time.Time
	for _, rev := range revs {
		if !eligible(rev) {
			continue
		}
		if rev.Covers(d) {
			r := *rev
			res.Revision = &r
			return res
		}
		from := datatypes.TruncateToDay(rev.EffectiveFrom)
		if earliest == nil || from.Before(*earliest) {
			earliest = &from
		}
	}

	switch {
	case earliest == nil:
		res.Reason = ReasonNoRevisions
	case d.Before(*earliest):
		res.Reason = ReasonBeforeFirstRevision
	default:
		res.Reason = ReasonInGap
	}
	return res
}

// ResolveForPolicy resolves one policy for one date. Returns the store's
// not-found error when the source is unregistered.
func (r *Resolver) ResolveForPolicy(ctx context.Context, source string, date time.Time) (*Resolution, error) {
	revs, err := r.store.ListRevisions(ctx, source)
	if err != nil {
		return nil, err
	}
	res := Resolve(source, revs, date)
	return &res, nil
}

// ResolveSnapshot resolves every registered policy for one date and
// partitions the results.
func (r *Resolver) ResolveSnapshot(ctx context.Context, date time.Time) (*Snapshot, error) {
	docs, err := r.store.ListPolicies(ctx, "")
	if err != nil {
		return nil, err
	}

	d := datatypes.TruncateToDay(date)
	snap := &Snapshot{
		Date:        datatypes.FormatDay(d),
		InForce:     make(map[string]*datatypes.PolicyRevision),
		BeforeFirst: []string{},
		InGap:       []string{},
		NoRevisions: []string{},
	}
	for _, doc := range docs {
		revs, err := r.store.ListRevisions(ctx, doc.Source)
		if err != nil {
			return nil, err
		}
		res := Resolve(doc.Source, revs, d)
		switch {
		case res.Found():
			snap.InForce[doc.Source] = res.Revision
		case res.Reason == ReasonBeforeFirstRevision:
			snap.BeforeFirst = append(snap.BeforeFirst, doc.Source)
		case res.Reason == ReasonInGap:
			snap.InGap = append(snap.InGap, doc.Source)
		default:
			snap.NoRevisions = append(snap.NoRevisions, doc.Source)
		}
	}
	sort.Strings(snap.BeforeFirst)
	sort.Strings(snap.InGap)
	sort.Strings(snap.NoRevisions)
	return snap, nil
}

// ValidateRevisionForDate reports whether the named revision's effective
// interval contains the date. The test is pure interval membership, so a
// still-processing revision validates for the dates it will cover. Errors
// with the store's not-found error for an unknown revision. The full
// resolution is returned alongside so callers can say what was actually in
// force when the answer is no.
func (r *Resolver) ValidateRevisionForDate(ctx context.Context, source, revisionID string, date time.Time) (bool, *Resolution, error) {
	rev, err := r.store.GetRevision(ctx, source, revisionID)
	if err != nil {
		return false, nil, err
	}
	res, err := r.ResolveForPolicy(ctx, source, date)
	if err != nil {
		return false, nil, err
	}
	return rev.Covers(datatypes.TruncateToDay(date)), res, nil
}

// RevisionIDsForDate resolves each listed source for the date and collects
// the in-force revision IDs. Sources that resolve to nothing are skipped;
// an empty source list means all registered policies.
func (r *Resolver) RevisionIDsForDate(ctx context.Context, sources []string, date time.Time) (map[string]string, error) {
	if len(sources) == 0 {
		docs, err := r.store.ListPolicies(ctx, "")
		if err != nil {
			return nil, err
		}
		for _, doc := range docs {
			sources = append(sources, doc.Source)
		}
	}

	ids := make(map[string]string, len(sources))
	for _, source := range sources {
		res, err := r.ResolveForPolicy(ctx, source, date)
		if err != nil {
			return nil, err
		}
		if res.Found() {
			ids[source] = res.Revision.RevisionID
		}
	}
	return ids, nil
}
