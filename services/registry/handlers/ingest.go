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
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/bicesterbug/bbug-planning-reporter-sub001/services/registry/datatypes"
)

// maxUploadBytes caps one document upload. Large local plans run to a few
// hundred MB of scanned pages; beyond that something is wrong.
const maxUploadBytes = 512 << 20

// IngestRevision accepts a document upload for a revision and runs the
// ingest pipeline. Accepts either a multipart form with a "file" field
// (plus optional "reindex") or a JSON IngestRevisionRequest with inline
// base64 content.
//
// A pipeline failure is a 200 with status failed in the body: the upload
// was accepted and processed, the revision records the outcome. Only an
// unknown revision or a transport problem is an HTTP error.
func IngestRevision(ing Ingestor) gin.HandlerFunc {
	return func(c *gin.Context) {
		source := c.Param("source")
		revisionID := c.Param("revisionId")

		content, filename, reindex, err := readIngestPayload(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if len(content) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "no document content supplied"})
			return
		}

		result, err := ing.IngestRevision(c.Request.Context(), source, revisionID, content, filename, reindex)
		if err != nil {
			slog.Error("ingest rejected",
				"source", source, "revision_id", revisionID, "error", err)
			writeStoreError(c, err)
			return
		}

		status := http.StatusOK
		if result.Status == datatypes.StatusFailed {
			// Accepted and processed; the outcome lives in the body.
			slog.Warn("ingest completed with failure",
				"source", source, "revision_id", revisionID,
				"reason", string(result.FailureReason))
		}
		c.JSON(status, result)
	}
}

func readIngestPayload(c *gin.Context) (content []byte, filename string, reindex bool, err error) {
	contentType := c.ContentType()
	if strings.HasPrefix(contentType, "multipart/form-data") {
		file, header, err := c.Request.FormFile("file")
		if err != nil {
			return nil, "", false, err
		}
		defer file.Close()

		content, err := io.ReadAll(io.LimitReader(file, maxUploadBytes))
		if err != nil {
			return nil, "", false, err
		}
		reindex := c.PostForm("reindex") == "true"
		return content, header.Filename, reindex, nil
	}

	var req datatypes.IngestRevisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		return nil, "", false, err
	}
	return req.Content, c.Param("revisionId") + ".pdf", req.Reindex, nil
}
