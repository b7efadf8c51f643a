// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers implements the registry's HTTP surface as gin handlers.
// Each handler is a closure over its dependencies, bound to routes in the
// routes package.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/bicesterbug/bbug-planning-reporter-sub001/services/registry/store"
)

// writeStoreError maps store errors onto HTTP statuses: malformed input is
// 400, absent things are 404, conflicts over identity or intervals are 409,
// the rest is 500.
func writeStoreError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, store.ErrPolicyNotFound),
		errors.Is(err, store.ErrRevisionNotFound),
		errors.Is(err, store.ErrNoCurrentRevision):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, store.ErrPolicyExists),
		errors.Is(err, store.ErrRevisionExists),
		errors.Is(err, store.ErrRevisionOverlap),
		errors.Is(err, store.ErrSoleActiveRevision):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
