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

	"github.com/gin-gonic/gin"

	"github.com/bicesterbug/bbug-planning-reporter-sub001/services/registry/store"
)

// VerifyRevisionChunks cross-checks a revision's index projection against
// the registry record: chunk count and the temporal metadata stamped on
// every chunk. Mismatches indicate a drifted projection that needs a
// reindex, not a corrupted registry.
func VerifyRevisionChunks(s *store.RevisionStore, reader ChunkReader) gin.HandlerFunc {
	return func(c *gin.Context) {
		rev, err := s.GetRevision(c.Request.Context(), c.Param("source"), c.Param("revisionId"))
		if err != nil {
			writeStoreError(c, err)
			return
		}

		result, err := reader.VerifyRevisionChunks(c.Request.Context(), rev)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, result)
	}
}
