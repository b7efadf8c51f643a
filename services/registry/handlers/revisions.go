// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/bicesterbug/bbug-planning-reporter-sub001/services/registry/datatypes"
	"github.com/bicesterbug/bbug-planning-reporter-sub001/services/registry/observability"
	"github.com/bicesterbug/bbug-planning-reporter-sub001/services/registry/store"
)

// CreateRevision registers a new revision of a policy. The revision ID is
// generated when omitted. The response includes any revisions whose
// open-ended interval was truncated to make room.
func CreateRevision(s *store.RevisionStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		source := c.Param("source")

		var req datatypes.CreateRevisionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
			return
		}
		from, err := datatypes.ParseDay(req.EffectiveFrom)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid effective_from: " + err.Error()})
			return
		}
		rev := &datatypes.PolicyRevision{
			RevisionID:    req.RevisionID,
			Source:        source,
			VersionLabel:  req.VersionLabel,
			EffectiveFrom: from,
			FilePath:      req.FilePath,
		}
		if req.EffectiveTo != "" {
			to, err := datatypes.ParseDay(req.EffectiveTo)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid effective_to: " + err.Error()})
				return
			}
			rev.EffectiveTo = &to
		}
		if rev.RevisionID == "" {
			rev.RevisionID = fmt.Sprintf("%s-%s", source, uuid.NewString()[:8])
		}

		created, superseded, err := s.CreateRevision(c.Request.Context(), rev)
		if err != nil {
			slog.Error("failed to create revision",
				"source", source, "revision_id", rev.RevisionID, "error", err)
			if m := observability.DefaultMetrics; m != nil && errors.Is(err, store.ErrRevisionOverlap) {
				m.OverlapRejectionsTotal.WithLabelValues(source).Inc()
			}
			writeStoreError(c, err)
			return
		}
		if m := observability.DefaultMetrics; m != nil {
			m.RevisionsCreatedTotal.WithLabelValues(source).Inc()
			if len(superseded) > 0 {
				m.AutoSupersessionsTotal.WithLabelValues(source).Add(float64(len(superseded)))
			}
		}

		c.JSON(http.StatusCreated, gin.H{
			"revision":   datatypes.NewRevisionView(created),
			"superseded": datatypes.NewRevisionViews(superseded),
		})
	}
}

// ListRevisions returns a policy's revisions, most recent first.
func ListRevisions(s *store.RevisionStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		revs, err := s.ListRevisions(c.Request.Context(), c.Param("source"))
		if err != nil {
			writeStoreError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"revisions": datatypes.NewRevisionViews(revs),
			"count":     len(revs),
		})
	}
}

// GetRevision returns one revision.
func GetRevision(s *store.RevisionStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		rev, err := s.GetRevision(c.Request.Context(), c.Param("source"), c.Param("revisionId"))
		if err != nil {
			writeStoreError(c, err)
			return
		}
		c.JSON(http.StatusOK, datatypes.NewRevisionView(rev))
	}
}

// GetCurrentRevision returns the active revision in force today.
func GetCurrentRevision(s *store.RevisionStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		rev, err := s.GetCurrentRevision(c.Request.Context(), c.Param("source"))
		if err != nil {
			writeStoreError(c, err)
			return
		}
		c.JSON(http.StatusOK, datatypes.NewRevisionView(rev))
	}
}

// UpdateRevision applies a partial update to a revision.
func UpdateRevision(s *store.RevisionStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		source := c.Param("source")
		revisionID := c.Param("revisionId")

		var req datatypes.UpdateRevisionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
			return
		}

		patch := datatypes.RevisionPatch{
			VersionLabel:     req.VersionLabel,
			ClearEffectiveTo: req.ClearEffectiveTo,
		}
		var parseErr error
		if req.EffectiveFrom != nil {
			patch.EffectiveFrom, parseErr = parseDayPtr(*req.EffectiveFrom)
		}
		if parseErr == nil && req.EffectiveTo != nil {
			patch.EffectiveTo, parseErr = parseDayPtr(*req.EffectiveTo)
		}
		if parseErr != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": parseErr.Error()})
			return
		}
		if req.Status != nil {
			status := datatypes.RevisionStatus(*req.Status)
			if !datatypes.ValidStatus(status) {
				c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status: " + *req.Status})
				return
			}
			patch.Status = &status
		}

		rev, err := s.UpdateRevision(c.Request.Context(), source, revisionID, patch)
		if err != nil {
			slog.Error("failed to update revision",
				"source", source, "revision_id", revisionID, "error", err)
			writeStoreError(c, err)
			return
		}
		c.JSON(http.StatusOK, datatypes.NewRevisionView(rev))
	}
}

// DeleteRevision removes a revision's registry record and its chunk
// projection. The registry delete runs first; when the sole-active guard
// rejects it, the chunks are untouched.
func DeleteRevision(s *store.RevisionStore, chunks ChunkDeleter) gin.HandlerFunc {
	return func(c *gin.Context) {
		source := c.Param("source")
		revisionID := c.Param("revisionId")

		if err := s.DeleteRevision(c.Request.Context(), source, revisionID); err != nil {
			writeStoreError(c, err)
			return
		}

		deleted, err := chunks.DeleteRevisionChunks(c.Request.Context(), source, revisionID)
		if err != nil {
			// The registry record is gone; report success with a warning
			// rather than resurrecting it. Orphaned chunks are cleaned by
			// the verify endpoint or a reindex.
			slog.Warn("revision deleted but chunk cleanup failed",
				"source", source, "revision_id", revisionID, "error", err)
			c.JSON(http.StatusOK, gin.H{
				"deleted_revision": revisionID,
				"deleted_chunks":   deleted,
				"warning":          "chunk cleanup incomplete: " + err.Error(),
			})
			return
		}
		if m := observability.DefaultMetrics; m != nil && deleted > 0 {
			m.ChunksDeletedTotal.Add(float64(deleted))
		}

		c.JSON(http.StatusOK, gin.H{
			"deleted_revision": revisionID,
			"deleted_chunks":   deleted,
		})
	}
}

func parseDayPtr(s string) (*time.Time, error) {
	d, err := datatypes.ParseDay(s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
