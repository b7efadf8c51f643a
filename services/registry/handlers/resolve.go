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
	"time"

	"github.com/gin-gonic/gin"

	"github.com/bicesterbug/bbug-planning-reporter-sub001/services/registry/datatypes"
	"github.com/bicesterbug/bbug-planning-reporter-sub001/services/registry/resolver"
)

// parseDateParam reads the "date" query parameter, defaulting to today.
func parseDateParam(c *gin.Context) (time.Time, bool) {
	raw := c.Query("date")
	if raw == "" {
		return datatypes.TruncateToDay(time.Now().UTC()), true
	}
	d, err := datatypes.ParseDay(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid date: " + err.Error()})
		return time.Time{}, false
	}
	return d, true
}

// ResolveDate answers which revision of a policy was in force on a date.
// A resolvable date returns the revision; an unresolvable one is still a
// 200 carrying the reason - "nothing was in force" is an answer, not an
// error.
func ResolveDate(r *resolver.Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		date, ok := parseDateParam(c)
		if !ok {
			return
		}

		res, err := r.ResolveForPolicy(c.Request.Context(), c.Param("source"), date)
		if err != nil {
			writeStoreError(c, err)
			return
		}

		body := gin.H{"source": res.Source, "date": res.Date, "found": res.Found()}
		if res.Found() {
			body["revision"] = datatypes.NewRevisionView(res.Revision)
		} else {
			body["reason"] = res.Reason
		}
		c.JSON(http.StatusOK, body)
	}
}

// ResolveSnapshot resolves every registered policy for one date.
func ResolveSnapshot(r *resolver.Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		date, ok := parseDateParam(c)
		if !ok {
			return
		}

		snap, err := r.ResolveSnapshot(c.Request.Context(), date)
		if err != nil {
			writeStoreError(c, err)
			return
		}

		inForce := make(map[string]datatypes.RevisionView, len(snap.InForce))
		for source, rev := range snap.InForce {
			inForce[source] = datatypes.NewRevisionView(rev)
		}
		c.JSON(http.StatusOK, gin.H{
			"date":                  snap.Date,
			"in_force":              inForce,
			"before_first_revision": snap.BeforeFirst,
			"in_gap":                snap.InGap,
			"no_revisions":          snap.NoRevisions,
		})
	}
}

// ResolveRevisionIDs maps sources to the revision ID in force on a date.
// Sources that do not resolve are omitted. An empty "sources" parameter
// means every registered policy.
func ResolveRevisionIDs(r *resolver.Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		date, ok := parseDateParam(c)
		if !ok {
			return
		}

		ids, err := r.RevisionIDsForDate(c.Request.Context(), c.QueryArray("source"), date)
		if err != nil {
			writeStoreError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"date":         datatypes.FormatDay(date),
			"revision_ids": ids,
		})
	}
}

// ValidateRevision reports whether the named revision's interval contains a
// date, and what was actually in force when it does not. 404 when the
// revision does not exist.
func ValidateRevision(r *resolver.Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		date, ok := parseDateParam(c)
		if !ok {
			return
		}

		valid, res, err := r.ValidateRevisionForDate(
			c.Request.Context(), c.Param("source"), c.Param("revisionId"), date)
		if err != nil {
			writeStoreError(c, err)
			return
		}

		body := gin.H{
			"source":      c.Param("source"),
			"revision_id": c.Param("revisionId"),
			"date":        res.Date,
			"valid":       valid,
		}
		if !valid {
			if res.Found() {
				body["in_force"] = datatypes.NewRevisionView(res.Revision)
			} else {
				body["reason"] = res.Reason
			}
		}
		c.JSON(http.StatusOK, body)
	}
}
