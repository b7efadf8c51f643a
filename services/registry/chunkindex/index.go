// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package chunkindex maintains the vector-search projection of ingested
// policy text in Weaviate.
//
// Every chunk carries its revision's temporal metadata as integer YYYYMMDD
// encodings, so "search as of a date" compiles to two range filters instead
// of a join back to the registry. The projection is derived state: it can
// always be rebuilt from the revision store plus the source documents, and
// consistency with the store is checked, not assumed.
package chunkindex

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/go-openapi/strfmt"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/bicesterbug/bbug-planning-reporter-sub001/services/registry/datatypes"
)

var tracer = otel.Tracer("bbug.registry.chunkindex")

// upsertBatchSize bounds one ObjectsBatcher call.
const upsertBatchSize = 100

// maxRevisionChunks caps the fetch when reading a whole revision back out.
const maxRevisionChunks = 10000

// SearchQuery describes one similarity search against the chunk index.
type SearchQuery struct {
	// Vector is the embedded query text. Required.
	Vector []float32

	// Limit is the maximum number of results. Required, positive.
	Limit int

	// EffectiveDate restricts results to chunks whose revision was in force
	// on this day. Nil searches across all revisions.
	EffectiveDate *time.Time

	// Sources restricts results to the named policy sources. Empty means
	// all sources.
	Sources []string

	// RevisionID restricts results to one revision.
	RevisionID string
}

// SearchResult is one chunk hit with its normalized relevance score.
type SearchResult struct {
	Chunk datatypes.ChunkRecord `json:"chunk"`
	// Score maps cosine distance [0,2] onto [0,1], 1 meaning identical.
	Score float64 `json:"score"`
	// Distance is Weaviate's raw cosine distance.
	Distance float64 `json:"distance"`
}

// VerifyResult reports a consistency check of one revision's chunks against
// the registry's expectations.
type VerifyResult struct {
	Source        string   `json:"source"`
	RevisionID    string   `json:"revision_id"`
	ExpectedCount int      `json:"expected_count"`
	IndexedCount  int      `json:"indexed_count"`
	CountMatch    bool     `json:"count_match"`
	Mismatches    []string `json:"mismatches,omitempty"`
}

// Index is the Weaviate-backed chunk projection. Safe for concurrent use.
type Index struct {
	client *weaviate.Client
	logger *slog.Logger
}

// New creates an Index over a connected Weaviate client.
func New(client *weaviate.Client, logger *slog.Logger) *Index {
	if logger == nil {
		logger = slog.Default()
	}
	return &Index{client: client, logger: logger}
}

// EnsureSchema creates the PolicyChunk class if it does not exist.
func (ix *Index) EnsureSchema(ctx context.Context) error {
	return datatypes.EnsureWeaviateSchema(ctx, ix.client)
}

// UpsertChunks writes chunk records to the index in batches. Object IDs are
// deterministic, so re-writing the same chunks replaces them in place.
// Returns the number of objects successfully written.
func (ix *Index) UpsertChunks(ctx context.Context, chunks []datatypes.ChunkRecord) (int, error) {
	ctx, span := tracer.Start(ctx, "chunkindex.UpsertChunks",
		trace.WithAttributes(attribute.Int("chunks.count", len(chunks))))
	defer span.End()

	if len(chunks) == 0 {
		return 0, nil
	}

	written := 0
	for start := 0; start < len(chunks); start += upsertBatchSize {
		end := start + upsertBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}

		objects := make([]*models.Object, 0, end-start)
		for i := start; i < end; i++ {
			c := &chunks[i]
			if len(c.Embedding) == 0 {
				err := fmt.Errorf("chunk %s has no embedding", c.ChunkID)
				span.RecordError(err)
				span.SetStatus(codes.Error, "missing embedding")
				return written, err
			}
			objects = append(objects, &models.Object{
				Class: datatypes.PolicyChunkClassName,
				ID:    strfmt.UUID(c.ObjectID().String()),
				Properties: map[string]interface{}{
					"chunk_id":       c.ChunkID,
					"text":           c.Text,
					"source":         c.Source,
					"revision_id":    c.RevisionID,
					"version_label":  c.VersionLabel,
					"effective_from": c.EffectiveFrom,
					"effective_to":   c.EffectiveTo,
					"section_ref":    c.SectionRef,
					"page_number":    c.PageNumber,
					"chunk_index":    c.ChunkIndex,
				},
				Vector: models.C11yVector(c.Embedding),
			})
		}

		resp, err := ix.client.Batch().ObjectsBatcher().
			WithObjects(objects...).
			Do(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "batch insert failed")
			return written, fmt.Errorf("batch insert chunks: %w", err)
		}
		for _, obj := range resp {
			if obj.Result != nil && obj.Result.Errors != nil && len(obj.Result.Errors.Error) > 0 {
				err := fmt.Errorf("chunk object %s rejected: %s", obj.ID, obj.Result.Errors.Error[0].Message)
				span.RecordError(err)
				span.SetStatus(codes.Error, "object rejected")
				return written, err
			}
			written++
		}
	}

	ix.logger.Debug("chunks upserted", slog.Int("count", written))
	return written, nil
}

// Search runs a nearVector query with the conjunctive filters implied by
// the query's temporal and provenance constraints.
func (ix *Index) Search(ctx context.Context, q SearchQuery) ([]SearchResult, error) {
	ctx, span := tracer.Start(ctx, "chunkindex.Search",
		trace.WithAttributes(
			attribute.Int("search.limit", q.Limit),
			attribute.Bool("search.dated", q.EffectiveDate != nil),
		))
	defer span.End()

	if len(q.Vector) == 0 {
		return nil, fmt.Errorf("search vector is empty")
	}
	if q.Limit <= 0 {
		return nil, fmt.Errorf("search limit must be positive, got %d", q.Limit)
	}

	nearVector := ix.client.GraphQL().NearVectorArgBuilder().
		WithVector(q.Vector)

	fields := []graphql.Field{
		{Name: "chunk_id"},
		{Name: "text"},
		{Name: "source"},
		{Name: "revision_id"},
		{Name: "version_label"},
		{Name: "effective_from"},
		{Name: "effective_to"},
		{Name: "section_ref"},
		{Name: "page_number"},
		{Name: "chunk_index"},
		{Name: "_additional", Fields: []graphql.Field{
			{Name: "id"},
			{Name: "distance"},
		}},
	}

	query := ix.client.GraphQL().Get().
		WithClassName(datatypes.PolicyChunkClassName).
		WithFields(fields...).
		WithNearVector(nearVector).
		WithLimit(q.Limit)
	if filter := buildSearchFilter(q); filter != nil {
		query = query.WithWhere(filter)
	}

	result, err := query.Do(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "search failed")
		return nil, fmt.Errorf("weaviate search failed: %w", err)
	}

	parsed, err := datatypes.ParseGraphQLResponse[datatypes.PolicyChunkQueryResponse](result)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "parse failed")
		return nil, fmt.Errorf("failed to parse search results: %w", err)
	}

	hits := make([]SearchResult, 0, len(parsed.Get.PolicyChunk))
	for i := range parsed.Get.PolicyChunk {
		r := &parsed.Get.PolicyChunk[i]
		hits = append(hits, SearchResult{
			Chunk:    r.Record(),
			Score:    ScoreFromDistance(r.Additional.Distance),
			Distance: r.Additional.Distance,
		})
	}
	span.SetAttributes(attribute.Int("search.hits", len(hits)))
	return hits, nil
}

// buildSearchFilter compiles the query constraints into one Weaviate where
// filter, nil when unconstrained. A dated query becomes two integer range
// comparisons over the encoded effective interval; the open-ended sentinel
// 99991231 makes in-force chunks satisfy the upper bound for any real date.
func buildSearchFilter(q SearchQuery) *filters.WhereBuilder {
	var operands []*filters.WhereBuilder

	if q.EffectiveDate != nil {
		encoded := datatypes.EncodeDate(*q.EffectiveDate)
		operands = append(operands,
			filters.Where().
				WithPath([]string{"effective_from"}).
				WithOperator(filters.LessThanEqual).
				WithValueInt(int64(encoded)),
			filters.Where().
				WithPath([]string{"effective_to"}).
				WithOperator(filters.GreaterThanEqual).
				WithValueInt(int64(encoded)),
		)
	}
	if len(q.Sources) > 0 {
		operands = append(operands, filters.Where().
			WithPath([]string{"source"}).
			WithOperator(filters.ContainsAny).
			WithValueString(q.Sources...))
	}
	if q.RevisionID != "" {
		operands = append(operands, filters.Where().
			WithPath([]string{"revision_id"}).
			WithOperator(filters.Equal).
			WithValueString(q.RevisionID))
	}

	switch len(operands) {
	case 0:
		return nil
	case 1:
		return operands[0]
	default:
		return filters.Where().
			WithOperator(filters.And).
			WithOperands(operands)
	}
}

// ScoreFromDistance maps cosine distance onto a [0,1] relevance score.
func ScoreFromDistance(distance float64) float64 {
	score := 1 - distance/2
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// revisionFilter matches all chunks of one revision.
func revisionFilter(source, revisionID string) *filters.WhereBuilder {
	return filters.Where().
		WithOperator(filters.And).
		WithOperands([]*filters.WhereBuilder{
			filters.Where().
				WithPath([]string{"source"}).
				WithOperator(filters.Equal).
				WithValueString(source),
			filters.Where().
				WithPath([]string{"revision_id"}).
				WithOperator(filters.Equal).
				WithValueString(revisionID),
		})
}

// DeleteRevisionChunks removes every chunk of a revision, looping batch
// deletes until nothing matches. Idempotent: deleting an absent revision
// returns zero. Returns the number of objects deleted.
func (ix *Index) DeleteRevisionChunks(ctx context.Context, source, revisionID string) (int64, error) {
	ctx, span := tracer.Start(ctx, "chunkindex.DeleteRevisionChunks",
		trace.WithAttributes(
			attribute.String("policy.source", source),
			attribute.String("revision.id", revisionID),
		))
	defer span.End()

	filter := revisionFilter(source, revisionID)

	var deleted int64
	for {
		resp, err := ix.client.Batch().ObjectsBatchDeleter().
			WithClassName(datatypes.PolicyChunkClassName).
			WithOutput("minimal").
			WithWhere(filter).
			Do(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "batch delete failed")
			return deleted, fmt.Errorf("batch delete chunks: %w", err)
		}
		n, done, err := deleteBatchOutcome(resp)
		deleted += n
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "batch delete stalled")
			return deleted, err
		}
		if done {
			break
		}
	}

	span.SetAttributes(attribute.Int64("chunks.deleted", deleted))
	ix.logger.Debug("revision chunks deleted",
		slog.String("source", source),
		slog.String("revision_id", revisionID),
		slog.Int64("count", deleted))
	return deleted, nil
}

// deleteBatchOutcome inspects one batch-delete response and decides whether
// another pass is needed. The server caps deletions per call, so matched
// work may remain; a pass that matches objects but deletes none must stop
// with an error rather than loop forever, and per-object failures surface
// the same way.
func deleteBatchOutcome(resp *models.BatchDeleteResponse) (successful int64, done bool, err error) {
	if resp == nil || resp.Results == nil {
		return 0, true, nil
	}
	res := resp.Results
	if res.Failed > 0 {
		return res.Successful, true, fmt.Errorf("batch delete: %d of %d matched objects failed", res.Failed, res.Matches)
	}
	if res.Matches > 0 && res.Successful == 0 {
		return 0, true, fmt.Errorf("batch delete made no progress: %d objects still match", res.Matches)
	}
	return res.Successful, res.Matches <= res.Successful, nil
}

// GetRevisionChunks reads a revision's chunks back, ordered by chunk index.
// Used by the section retrieval endpoint and consistency checks.
func (ix *Index) GetRevisionChunks(ctx context.Context, source, revisionID string) ([]datatypes.ChunkRecord, error) {
	fields := []graphql.Field{
		{Name: "chunk_id"},
		{Name: "text"},
		{Name: "source"},
		{Name: "revision_id"},
		{Name: "version_label"},
		{Name: "effective_from"},
		{Name: "effective_to"},
		{Name: "section_ref"},
		{Name: "page_number"},
		{Name: "chunk_index"},
	}

	result, err := ix.client.GraphQL().Get().
		WithClassName(datatypes.PolicyChunkClassName).
		WithFields(fields...).
		WithWhere(revisionFilter(source, revisionID)).
		WithLimit(maxRevisionChunks).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("weaviate query failed: %w", err)
	}

	parsed, err := datatypes.ParseGraphQLResponse[datatypes.PolicyChunkQueryResponse](result)
	if err != nil {
		return nil, fmt.Errorf("failed to parse chunk results: %w", err)
	}

	records := make([]datatypes.ChunkRecord, 0, len(parsed.Get.PolicyChunk))
	for i := range parsed.Get.PolicyChunk {
		records = append(records, parsed.Get.PolicyChunk[i].Record())
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].ChunkIndex < records[j].ChunkIndex
	})
	return records, nil
}

// CountRevisionChunks returns the number of indexed chunks for a revision.
func (ix *Index) CountRevisionChunks(ctx context.Context, source, revisionID string) (int, error) {
	result, err := ix.client.GraphQL().Aggregate().
		WithClassName(datatypes.PolicyChunkClassName).
		WithWhere(revisionFilter(source, revisionID)).
		WithFields(graphql.Field{
			Name: "meta",
			Fields: []graphql.Field{
				{Name: "count"},
			},
		}).
		Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("aggregate query failed: %w", err)
	}

	parsed, err := datatypes.ParseGraphQLResponse[datatypes.PolicyChunkAggregateResponse](result)
	if err != nil {
		return 0, fmt.Errorf("failed to parse aggregate results: %w", err)
	}
	if len(parsed.Aggregate.PolicyChunk) == 0 {
		return 0, nil
	}
	return parsed.Aggregate.PolicyChunk[0].Meta.Count, nil
}

// VerifyRevisionChunks checks one revision's projection against the
// registry record: the indexed count must equal the recorded chunk count
// and every chunk's encoded interval must match the revision's.
func (ix *Index) VerifyRevisionChunks(ctx context.Context, rev *datatypes.PolicyRevision) (*VerifyResult, error) {
	ctx, span := tracer.Start(ctx, "chunkindex.VerifyRevisionChunks",
		trace.WithAttributes(
			attribute.String("policy.source", rev.Source),
			attribute.String("revision.id", rev.RevisionID),
		))
	defer span.End()

	chunks, err := ix.GetRevisionChunks(ctx, rev.Source, rev.RevisionID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		return nil, err
	}

	wantFrom := datatypes.EncodeDate(rev.EffectiveFrom)
	wantTo := datatypes.EncodeEndDate(rev.EffectiveTo)

	res := &VerifyResult{
		Source:        rev.Source,
		RevisionID:    rev.RevisionID,
		ExpectedCount: rev.ChunkCount,
		IndexedCount:  len(chunks),
		CountMatch:    rev.ChunkCount == len(chunks),
	}
	for i := range chunks {
		c := &chunks[i]
		if c.EffectiveFrom != wantFrom || c.EffectiveTo != wantTo {
			res.Mismatches = append(res.Mismatches, fmt.Sprintf(
				"chunk %s carries interval [%d, %d], revision has [%d, %d]",
				c.ChunkID, c.EffectiveFrom, c.EffectiveTo, wantFrom, wantTo))
		}
	}
	return res, nil
}
