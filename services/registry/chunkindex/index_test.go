// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package chunkindex

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/bicesterbug/bbug-planning-reporter-sub001/services/registry/datatypes"
)

func TestScoreFromDistance(t *testing.T) {
	cases := []struct {
		distance float64
		want     float64
	}{
		{0, 1},    // identical vectors
		{1, 0.5},  // orthogonal
		{2, 0},    // opposite
		{2.5, 0},  // clamped below
		{-0.1, 1}, // clamped above (float noise from the server)
	}
	for _, tc := range cases {
		assert.InDelta(t, tc.want, ScoreFromDistance(tc.distance), 1e-9,
			"distance %v", tc.distance)
	}
}

func TestBuildSearchFilter_Unconstrained(t *testing.T) {
	assert.Nil(t, buildSearchFilter(SearchQuery{Vector: []float32{1}, Limit: 5}))
}

func TestBuildSearchFilter_EffectiveDate(t *testing.T) {
	date := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	f := buildSearchFilter(SearchQuery{EffectiveDate: &date})
	require.NotNil(t, f)

	s := f.String()
	assert.Contains(t, s, "effective_from")
	assert.Contains(t, s, "effective_to")
	assert.Contains(t, s, "20240315", "date must be encoded as YYYYMMDD")
	assert.Contains(t, s, "LessThanEqual")
	assert.Contains(t, s, "GreaterThanEqual")
	assert.Contains(t, s, "And")
}

func TestBuildSearchFilter_SourcesAndRevision(t *testing.T) {
	f := buildSearchFilter(SearchQuery{
		Sources:    []string{"nppf", "cherwell-local-plan"},
		RevisionID: "nppf-2023",
	})
	require.NotNil(t, f)

	s := f.String()
	assert.Contains(t, s, "ContainsAny")
	assert.Contains(t, s, "nppf")
	assert.Contains(t, s, "cherwell-local-plan")
	assert.Contains(t, s, "revision_id")
	assert.Contains(t, s, "nppf-2023")
}

func TestBuildSearchFilter_SingleConstraintIsNotWrapped(t *testing.T) {
	f := buildSearchFilter(SearchQuery{RevisionID: "nppf-2023"})
	require.NotNil(t, f)

	s := f.String()
	assert.Contains(t, s, "revision_id")
	assert.NotContains(t, s, "operands", "single filter should not be nested under And")
}

func TestDeleteBatchOutcome(t *testing.T) {
	results := func(matches, successful, failed int64) *models.BatchDeleteResponse {
		return &models.BatchDeleteResponse{Results: &models.BatchDeleteResponseResults{
			Matches: matches, Successful: successful, Failed: failed,
		}}
	}

	n, done, err := deleteBatchOutcome(nil)
	assert.Zero(t, n)
	assert.True(t, done)
	assert.NoError(t, err)

	// Nothing matched: empty revision, done immediately.
	n, done, err = deleteBatchOutcome(results(0, 0, 0))
	assert.Zero(t, n)
	assert.True(t, done)
	assert.NoError(t, err)

	// Everything matched was deleted in one pass.
	n, done, err = deleteBatchOutcome(results(42, 42, 0))
	assert.Equal(t, int64(42), n)
	assert.True(t, done)
	assert.NoError(t, err)

	// The per-call cap left matched work behind: another pass is due.
	n, done, err = deleteBatchOutcome(results(500, 100, 0))
	assert.Equal(t, int64(100), n)
	assert.False(t, done)
	assert.NoError(t, err)

	// Matches but zero deletions must error out, not loop forever.
	_, done, err = deleteBatchOutcome(results(500, 0, 0))
	assert.True(t, done)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no progress")

	// Per-object failures surface as an error with the partial count.
	n, done, err = deleteBatchOutcome(results(10, 4, 6))
	assert.Equal(t, int64(4), n)
	assert.True(t, done)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "6 of 10")
}

func TestRevisionFilter(t *testing.T) {
	s := revisionFilter("nppf", "nppf-2024").String()
	assert.Contains(t, s, "source")
	assert.Contains(t, s, "nppf")
	assert.Contains(t, s, "revision_id")
	assert.Contains(t, s, "nppf-2024")
	assert.Contains(t, s, "And")
}

// graphQLFixture builds a models.GraphQLResponse from raw JSON, the way the
// server would deliver it.
func graphQLFixture(t *testing.T, raw string) *models.GraphQLResponse {
	t.Helper()
	var data map[string]models.JSONObject
	require.NoError(t, json.Unmarshal([]byte(raw), &data))
	return &models.GraphQLResponse{Data: data}
}

func TestParsePolicyChunkQueryResponse(t *testing.T) {
	resp := graphQLFixture(t, `{
		"Get": {
			"PolicyChunk": [
				{
					"chunk_id": "nppf:nppf-2023:para-11:0007",
					"text": "Plans and decisions should apply a presumption in favour of sustainable development.",
					"source": "nppf",
					"revision_id": "nppf-2023",
					"version_label": "September 2023",
					"effective_from": 20230905,
					"effective_to": 20241211,
					"section_ref": "para-11",
					"page_number": 6,
					"chunk_index": 7,
					"_additional": {"id": "8c2e...", "distance": 0.42}
				}
			]
		}
	}`)

	parsed, err := datatypes.ParseGraphQLResponse[datatypes.PolicyChunkQueryResponse](resp)
	require.NoError(t, err)
	require.Len(t, parsed.Get.PolicyChunk, 1)

	hit := parsed.Get.PolicyChunk[0]
	assert.Equal(t, "nppf:nppf-2023:para-11:0007", hit.ChunkID)
	assert.Equal(t, 20230905, hit.EffectiveFrom)
	assert.Equal(t, 20241211, hit.EffectiveTo)
	assert.InDelta(t, 0.42, hit.Additional.Distance, 1e-9)

	rec := hit.Record()
	assert.Equal(t, "nppf-2023", rec.RevisionID)
	assert.Equal(t, 7, rec.ChunkIndex)
	assert.Nil(t, rec.Embedding, "queries do not return vectors")
}

func TestParsePolicyChunkAggregateResponse(t *testing.T) {
	resp := graphQLFixture(t, `{
		"Aggregate": {
			"PolicyChunk": [
				{"meta": {"count": 412}}
			]
		}
	}`)

	parsed, err := datatypes.ParseGraphQLResponse[datatypes.PolicyChunkAggregateResponse](resp)
	require.NoError(t, err)
	require.Len(t, parsed.Aggregate.PolicyChunk, 1)
	assert.Equal(t, 412, parsed.Aggregate.PolicyChunk[0].Meta.Count)
}

func TestParseGraphQLResponse_Errors(t *testing.T) {
	_, err := datatypes.ParseGraphQLResponse[datatypes.PolicyChunkQueryResponse](nil)
	assert.Error(t, err)

	resp := &models.GraphQLResponse{
		Errors: []*models.GraphQLError{{Message: "class PolicyChunk not found"}},
	}
	_, err = datatypes.ParseGraphQLResponse[datatypes.PolicyChunkQueryResponse](resp)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PolicyChunk not found")
}
