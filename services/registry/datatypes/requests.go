// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import "time"

// CreatePolicyRequest registers a new policy document.
type CreatePolicyRequest struct {
	Source      string `json:"source" binding:"required"`
	Title       string `json:"title" binding:"required"`
	Category    string `json:"category" binding:"required"`
	Description string `json:"description,omitempty"`
}

// CreateRevisionRequest creates a new revision of a registered policy.
// Dates are "YYYY-MM-DD"; an empty effective_to means open-ended.
type CreateRevisionRequest struct {
	RevisionID    string `json:"revision_id,omitempty"`
	VersionLabel  string `json:"version_label" binding:"required"`
	EffectiveFrom string `json:"effective_from" binding:"required"`
	EffectiveTo   string `json:"effective_to,omitempty"`
	FilePath      string `json:"file_path,omitempty"`
}

// UpdateRevisionRequest patches an existing revision. Omitted fields are
// untouched; clear_effective_to reopens the interval.
type UpdateRevisionRequest struct {
	VersionLabel     *string `json:"version_label,omitempty"`
	EffectiveFrom    *string `json:"effective_from,omitempty"`
	EffectiveTo      *string `json:"effective_to,omitempty"`
	ClearEffectiveTo bool    `json:"clear_effective_to,omitempty"`
	Status           *string `json:"status,omitempty"`
}

// IngestRevisionRequest triggers ingestion of a revision's document content.
// Content is fetched from the revision's file path unless inline content is
// supplied. Reindex deletes the revision's existing chunks first.
type IngestRevisionRequest struct {
	Content []byte `json:"content,omitempty"`
	Reindex bool   `json:"reindex,omitempty"`
}

// SearchRequest is a temporal similarity search over the chunk index.
type SearchRequest struct {
	Query         string   `json:"query" binding:"required"`
	Limit         int      `json:"limit,omitempty"`
	EffectiveDate string   `json:"effective_date,omitempty"`
	Sources       []string `json:"sources,omitempty"`
	RevisionID    string   `json:"revision_id,omitempty"`
}

// RevisionView is the HTTP shape of a PolicyRevision, with day-granular
// date strings instead of RFC3339 timestamps for the effective interval.
type RevisionView struct {
	RevisionID    string     `json:"revision_id"`
	Source        string     `json:"source"`
	VersionLabel  string     `json:"version_label"`
	EffectiveFrom string     `json:"effective_from"`
	EffectiveTo   *string    `json:"effective_to,omitempty"`
	Status        string     `json:"status"`
	FilePath      string     `json:"file_path,omitempty"`
	ChunkCount    int        `json:"chunk_count"`
	CreatedAt     time.Time  `json:"created_at"`
	IngestedAt    *time.Time `json:"ingested_at,omitempty"`
	Error         string     `json:"error,omitempty"`
}

// NewRevisionView converts a PolicyRevision for the HTTP surface.
func NewRevisionView(r *PolicyRevision) RevisionView {
	v := RevisionView{
		RevisionID:    r.RevisionID,
		Source:        r.Source,
		VersionLabel:  r.VersionLabel,
		EffectiveFrom: FormatDay(r.EffectiveFrom),
		Status:        string(r.Status),
		FilePath:      r.FilePath,
		ChunkCount:    r.ChunkCount,
		CreatedAt:     r.CreatedAt,
		IngestedAt:    r.IngestedAt,
		Error:         r.Error,
	}
	if r.EffectiveTo != nil {
		s := FormatDay(*r.EffectiveTo)
		v.EffectiveTo = &s
	}
	return v
}

// NewRevisionViews converts a slice of revisions, preserving order.
func NewRevisionViews(revs []*PolicyRevision) []RevisionView {
	views := make([]RevisionView, 0, len(revs))
	for _, r := range revs {
		views = append(views, NewRevisionView(r))
	}
	return views
}
