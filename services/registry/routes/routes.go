// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bicesterbug/bbug-planning-reporter-sub001/services/registry/chunkindex"
	"github.com/bicesterbug/bbug-planning-reporter-sub001/services/registry/embedding"
	"github.com/bicesterbug/bbug-planning-reporter-sub001/services/registry/handlers"
	"github.com/bicesterbug/bbug-planning-reporter-sub001/services/registry/ingest"
	"github.com/bicesterbug/bbug-planning-reporter-sub001/services/registry/resolver"
	"github.com/bicesterbug/bbug-planning-reporter-sub001/services/registry/store"
)

func SetupRoutes(router *gin.Engine, s *store.RevisionStore, index *chunkindex.Index,
	embedder embedding.Provider, coordinator *ingest.Coordinator) {

	res := resolver.New(s)

	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API version 1 group
	v1 := router.Group("/v1")
	{
		v1.POST("/search", handlers.Search(embedder, index))
		v1.GET("/resolve", handlers.ResolveSnapshot(res))
		v1.GET("/resolve/ids", handlers.ResolveRevisionIDs(res))

		policies := v1.Group("/policies")
		{
			policies.POST("", handlers.CreatePolicy(s))
			policies.GET("", handlers.ListPolicies(s))
			policies.GET("/:source", handlers.GetPolicy(s))
			policies.GET("/:source/resolve", handlers.ResolveDate(res))
			policies.GET("/:source/sections/:sectionRef", handlers.GetPolicySection(res, index))

			revisions := policies.Group("/:source/revisions")
			{
				revisions.POST("", handlers.CreateRevision(s))
				revisions.GET("", handlers.ListRevisions(s))
				revisions.GET("/current", handlers.GetCurrentRevision(s))
				revisions.GET("/:revisionId", handlers.GetRevision(s))
				revisions.PATCH("/:revisionId", handlers.UpdateRevision(s))
				revisions.DELETE("/:revisionId", handlers.DeleteRevision(s, index))
				revisions.POST("/:revisionId/ingest", handlers.IngestRevision(coordinator))
				revisions.GET("/:revisionId/validate", handlers.ValidateRevision(res))
				revisions.GET("/:revisionId/chunks", handlers.GetRevisionChunks(index))
				revisions.GET("/:revisionId/verify", handlers.VerifyRevisionChunks(s, index))
			}
		}
	}
}
