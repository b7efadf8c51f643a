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
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/bicesterbug/bbug-planning-reporter-sub001/services/registry/datatypes"
	"github.com/bicesterbug/bbug-planning-reporter-sub001/services/registry/store"
)

// CreatePolicy registers a new policy document.
func CreatePolicy(s *store.RevisionStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.CreatePolicyRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
			return
		}
		if !datatypes.ValidCategory(datatypes.PolicyCategory(req.Category)) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown category: " + req.Category})
			return
		}

		doc, err := s.CreatePolicy(c.Request.Context(), &datatypes.PolicyDocument{
			Source:      req.Source,
			Title:       req.Title,
			Description: req.Description,
			Category:    datatypes.PolicyCategory(req.Category),
		})
		if err != nil {
			slog.Error("failed to create policy", "source", req.Source, "error", err)
			writeStoreError(c, err)
			return
		}
		c.JSON(http.StatusCreated, doc)
	}
}

// ListPolicies returns all registered policies, optionally filtered by the
// category query parameter.
func ListPolicies(s *store.RevisionStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		category := datatypes.PolicyCategory(c.Query("category"))
		if category != "" && !datatypes.ValidCategory(category) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown category: " + string(category)})
			return
		}

		docs, err := s.ListPolicies(c.Request.Context(), category)
		if err != nil {
			slog.Error("failed to list policies", "error", err)
			writeStoreError(c, err)
			return
		}
		if docs == nil {
			docs = []*datatypes.PolicyDocument{}
		}
		c.JSON(http.StatusOK, gin.H{"policies": docs, "count": len(docs)})
	}
}

// GetPolicy returns one policy by source slug.
func GetPolicy(s *store.RevisionStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		doc, err := s.GetPolicy(c.Request.Context(), c.Param("source"))
		if err != nil {
			writeStoreError(c, err)
			return
		}
		c.JSON(http.StatusOK, doc)
	}
}
