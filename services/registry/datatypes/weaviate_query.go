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

import (
	"encoding/json"
	"fmt"

	"github.com/weaviate/weaviate/entities/models"
)

// ParseGraphQLResponse unmarshals a Weaviate GraphQL response into a typed
// structure. GraphQL responses arrive as nested map[string]interface{}; this
// round-trips through JSON into T so call sites stay free of type
// assertions.
//
// Field mismatches produce zero values, not errors, so response types must
// carry correct json tags.
func ParseGraphQLResponse[T any](resp *models.GraphQLResponse) (*T, error) {
	if resp == nil {
		return nil, fmt.Errorf("nil GraphQL response")
	}
	if len(resp.Errors) > 0 {
		msgs := make([]string, 0, len(resp.Errors))
		for _, e := range resp.Errors {
			if e != nil {
				msgs = append(msgs, e.Message)
			}
		}
		return nil, fmt.Errorf("graphql errors: %v", msgs)
	}

	respBytes, err := json.Marshal(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal GraphQL response data: %w", err)
	}

	var result T
	if err := json.Unmarshal(respBytes, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal into target type: %w", err)
	}
	return &result, nil
}

// PolicyChunkResult is a single chunk object returned from a PolicyChunk
// query, mirroring the class schema plus Weaviate's _additional block.
type PolicyChunkResult struct {
	ChunkID       string `json:"chunk_id"`
	Text          string `json:"text"`
	Source        string `json:"source"`
	RevisionID    string `json:"revision_id"`
	VersionLabel  string `json:"version_label"`
	EffectiveFrom int    `json:"effective_from"`
	EffectiveTo   int    `json:"effective_to"`
	SectionRef    string `json:"section_ref"`
	PageNumber    int    `json:"page_number"`
	ChunkIndex    int    `json:"chunk_index"`
	Additional    struct {
		ID       string  `json:"id"`
		Distance float64 `json:"distance"`
	} `json:"_additional"`
}

// Record converts a query result back into a ChunkRecord. The embedding is
// not returned by queries and stays nil.
func (r *PolicyChunkResult) Record() ChunkRecord {
	return ChunkRecord{
		ChunkID:       r.ChunkID,
		Text:          r.Text,
		Source:        r.Source,
		RevisionID:    r.RevisionID,
		VersionLabel:  r.VersionLabel,
		EffectiveFrom: r.EffectiveFrom,
		EffectiveTo:   r.EffectiveTo,
		SectionRef:    r.SectionRef,
		PageNumber:    r.PageNumber,
		ChunkIndex:    r.ChunkIndex,
	}
}

// PolicyChunkQueryResponse is the typed shape of a Get query on the
// PolicyChunk class.
type PolicyChunkQueryResponse struct {
	Get struct {
		PolicyChunk []PolicyChunkResult `json:"PolicyChunk"`
	} `json:"Get"`
}

// PolicyChunkAggregateResponse is the typed shape of an Aggregate meta-count
// query on the PolicyChunk class.
type PolicyChunkAggregateResponse struct {
	Aggregate struct {
		PolicyChunk []struct {
			Meta struct {
				Count int `json:"count"`
			} `json:"meta"`
		} `json:"PolicyChunk"`
	} `json:"Aggregate"`
}
