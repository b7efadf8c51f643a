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
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/bicesterbug/bbug-planning-reporter-sub001/services/registry/chunkindex"
	"github.com/bicesterbug/bbug-planning-reporter-sub001/services/registry/datatypes"
	"github.com/bicesterbug/bbug-planning-reporter-sub001/services/registry/embedding"
	"github.com/bicesterbug/bbug-planning-reporter-sub001/services/registry/observability"
	"github.com/bicesterbug/bbug-planning-reporter-sub001/services/registry/resolver"
)

const (
	defaultSearchLimit = 10
	maxSearchLimit     = 100
)

// Search embeds the query text and runs a similarity search over the chunk
// index. An effective_date constrains results to chunks whose revision was
// in force on that date; without one the search spans every revision.
func Search(embedder embedding.Provider, searcher ChunkSearcher) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.SearchRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
			return
		}
		limit := req.Limit
		if limit <= 0 {
			limit = defaultSearchLimit
		}
		if limit > maxSearchLimit {
			limit = maxSearchLimit
		}

		query := chunkindex.SearchQuery{
			Limit:      limit,
			Sources:    req.Sources,
			RevisionID: req.RevisionID,
		}
		if req.EffectiveDate != "" {
			d, err := datatypes.ParseDay(req.EffectiveDate)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid effective_date: " + err.Error()})
				return
			}
			query.EffectiveDate = &d
		}

		vectors, err := embedder.EmbedBatch(c.Request.Context(), []string{req.Query})
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": "embedding query failed: " + err.Error()})
			return
		}
		query.Vector = vectors[0]

		results, err := searcher.Search(c.Request.Context(), query)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		if m := observability.DefaultMetrics; m != nil {
			dated := "false"
			if query.EffectiveDate != nil {
				dated = "true"
			}
			m.SearchesTotal.WithLabelValues(dated).Inc()
		}

		c.JSON(http.StatusOK, gin.H{
			"results": searchResultViews(results),
			"count":   len(results),
		})
	}
}

type searchResultView struct {
	ChunkID      string  `json:"chunk_id"`
	Text         string  `json:"text"`
	Source       string  `json:"source"`
	RevisionID   string  `json:"revision_id"`
	VersionLabel string  `json:"version_label"`
	SectionRef   string  `json:"section_ref,omitempty"`
	PageNumber   int     `json:"page_number"`
	Score        float64 `json:"score"`
	Distance     float64 `json:"distance"`
}

func searchResultViews(results []chunkindex.SearchResult) []searchResultView {
	views := make([]searchResultView, 0, len(results))
	for _, r := range results {
		views = append(views, searchResultView{
			ChunkID:      r.Chunk.ChunkID,
			Text:         r.Chunk.Text,
			Source:       r.Chunk.Source,
			RevisionID:   r.Chunk.RevisionID,
			VersionLabel: r.Chunk.VersionLabel,
			SectionRef:   r.Chunk.SectionRef,
			PageNumber:   r.Chunk.PageNumber,
			Score:        r.Score,
			Distance:     r.Distance,
		})
	}
	return views
}

// GetRevisionChunks returns a revision's indexed chunks ordered by chunk
// index, optionally filtered to one normalized section reference.
func GetRevisionChunks(reader ChunkReader) gin.HandlerFunc {
	return func(c *gin.Context) {
		source := c.Param("source")
		revisionID := c.Param("revisionId")

		chunks, err := reader.GetRevisionChunks(c.Request.Context(), source, revisionID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		if ref := c.Query("section_ref"); ref != "" {
			want := datatypes.NormalizeSectionRef(ref)
			filtered := chunks[:0]
			for _, ch := range chunks {
				if datatypes.NormalizeSectionRef(ch.SectionRef) == want {
					filtered = append(filtered, ch)
				}
			}
			chunks = filtered
		}

		c.JSON(http.StatusOK, gin.H{
			"source":      source,
			"revision_id": revisionID,
			"chunks":      chunks,
			"count":       len(chunks),
		})
	}
}

// GetPolicySection returns the concatenated text of one section of a
// policy. The revision is taken from the revision_id query parameter or,
// absent that, resolved from the date parameter (default today). Chunks
// arrive ordered by chunk index, so the concatenation follows document
// order.
func GetPolicySection(r *resolver.Resolver, reader ChunkReader) gin.HandlerFunc {
	return func(c *gin.Context) {
		source := c.Param("source")
		want := datatypes.NormalizeSectionRef(c.Param("sectionRef"))
		if want == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid section ref"})
			return
		}

		revisionID := c.Query("revision_id")
		if revisionID == "" {
			date, ok := parseDateParam(c)
			if !ok {
				return
			}
			res, err := r.ResolveForPolicy(c.Request.Context(), source, date)
			if err != nil {
				writeStoreError(c, err)
				return
			}
			if !res.Found() {
				c.JSON(http.StatusNotFound, gin.H{
					"error":  "no revision in force",
					"source": source,
					"date":   res.Date,
					"reason": res.Reason,
				})
				return
			}
			revisionID = res.Revision.RevisionID
		}

		chunks, err := reader.GetRevisionChunks(c.Request.Context(), source, revisionID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		var parts []string
		for _, ch := range chunks {
			if datatypes.NormalizeSectionRef(ch.SectionRef) == want {
				parts = append(parts, ch.Text)
			}
		}
		if len(parts) == 0 {
			c.JSON(http.StatusNotFound, gin.H{
				"error":       "section not found in revision",
				"source":      source,
				"revision_id": revisionID,
				"section_ref": want,
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"source":      source,
			"revision_id": revisionID,
			"section_ref": want,
			"chunk_count": len(parts),
			"text":        strings.Join(parts, "\n\n"),
		})
	}
}
