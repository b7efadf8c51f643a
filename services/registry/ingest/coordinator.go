// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/bicesterbug/bbug-planning-reporter-sub001/services/registry/datatypes"
	"github.com/bicesterbug/bbug-planning-reporter-sub001/services/registry/embedding"
	"github.com/bicesterbug/bbug-planning-reporter-sub001/services/registry/observability"
)

var tracer = otel.Tracer("bbug.registry.ingest")

// FailureReason classifies why an ingest left its revision failed.
type FailureReason string

const (
	// ReasonExtractionError: the document processor could not extract text.
	ReasonExtractionError FailureReason = "extraction_error"
	// ReasonNoContent: extraction succeeded but chunking produced nothing.
	ReasonNoContent FailureReason = "no_content"
	// ReasonEmbeddingError: the embedding provider failed.
	ReasonEmbeddingError FailureReason = "embedding_error"
	// ReasonUnexpected: index writes, status writes, or a panic.
	ReasonUnexpected FailureReason = "unexpected"
)

// IngestResult is the outcome of one ingest run. Status is the revision's
// terminal state: active on success, failed otherwise.
type IngestResult struct {
	Source        string                   `json:"source"`
	RevisionID    string                   `json:"revision_id"`
	Status        datatypes.RevisionStatus `json:"status"`
	ChunkCount    int                      `json:"chunk_count"`
	PageCount     int                      `json:"page_count,omitempty"`
	DeletedChunks int64                    `json:"deleted_chunks,omitempty"`
	FailureReason FailureReason            `json:"failure_reason,omitempty"`
	Error         string                   `json:"error,omitempty"`
	Duration      time.Duration            `json:"-"`
}

// Coordinator drives the ingest pipeline for one revision at a time:
// extract, chunk, embed, optionally clear stale chunks, project into the
// index, then promote the revision to active.
type Coordinator struct {
	revisions RevisionUpdater
	chunks    ChunkStore
	extractor ContentExtractor
	chunker   TextChunker
	embedder  embedding.Provider
	logger    *slog.Logger
	now       func() time.Time
}

// NewCoordinator wires an ingest pipeline. A nil chunker selects the
// default paragraph chunker.
func NewCoordinator(revisions RevisionUpdater, chunks ChunkStore, extractor ContentExtractor, chunker TextChunker, embedder embedding.Provider, logger *slog.Logger) *Coordinator {
	if chunker == nil {
		chunker = NewParagraphChunker(0)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		revisions: revisions,
		chunks:    chunks,
		extractor: extractor,
		chunker:   chunker,
		embedder:  embedder,
		logger:    logger,
		now:       time.Now,
	}
}

// IngestRevision runs the pipeline for one revision.
//
// An unknown (source, revisionID) returns an error and touches nothing.
// Once the pipeline starts, failures are terminal states of the revision,
// not errors: the revision is marked failed with a reason and the returned
// IngestResult describes the outcome with a nil error.
//
// With reindex set, existing chunks for the revision are deleted before the
// new ones are written. The delete is best-effort; deterministic chunk IDs
// make re-writes replace matching chunks either way, the pre-delete only
// clears orphans from an older chunking scheme.
func (co *Coordinator) IngestRevision(ctx context.Context, source, revisionID string, content []byte, filename string, reindex bool) (result *IngestResult, err error) {
	ctx, span := tracer.Start(ctx, "ingest.IngestRevision",
		trace.WithAttributes(
			attribute.String("policy.source", source),
			attribute.String("revision.id", revisionID),
			attribute.Bool("ingest.reindex", reindex),
		))
	defer span.End()

	started := co.now()

	rev, err := co.revisions.GetRevision(ctx, source, revisionID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "revision lookup failed")
		return nil, err
	}

	res := &IngestResult{
		Source:     source,
		RevisionID: revisionID,
		Status:     datatypes.StatusProcessing,
	}

	defer func() {
		if r := recover(); r != nil {
			co.logger.Error("ingest panicked",
				slog.String("source", source),
				slog.String("revision_id", revisionID),
				slog.Any("panic", r))
			co.markFailed(ctx, res, ReasonUnexpected, fmt.Errorf("panic: %v", r))
			result, err = res, nil
		}
		res.Duration = co.now().Sub(started)
		co.observe(res)
	}()

	if err := co.markProcessing(ctx, filename, res); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "status write failed")
		return nil, err
	}

	pages, err := co.extractor.Extract(ctx, content, filename)
	if err != nil {
		co.markFailed(ctx, res, ReasonExtractionError, err)
		return res, nil
	}
	res.PageCount = len(pages)

	textChunks := co.chunker.Chunk(pages)
	if len(textChunks) == 0 {
		co.markFailed(ctx, res, ReasonNoContent, fmt.Errorf("document produced no text chunks"))
		return res, nil
	}
	span.SetAttributes(attribute.Int("ingest.chunks", len(textChunks)))

	texts := make([]string, len(textChunks))
	for i, c := range textChunks {
		texts[i] = c.Text
	}
	vectors, err := co.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		co.markFailed(ctx, res, ReasonEmbeddingError, err)
		return res, nil
	}
	if len(vectors) != len(textChunks) {
		co.markFailed(ctx, res, ReasonEmbeddingError,
			fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(textChunks)))
		return res, nil
	}

	records := co.buildRecords(rev, textChunks, vectors)

	if reindex {
		deleted, err := co.chunks.DeleteRevisionChunks(ctx, source, revisionID)
		if err != nil {
			co.logger.Warn("reindex pre-delete failed, continuing",
				slog.String("source", source),
				slog.String("revision_id", revisionID),
				slog.String("error", err.Error()))
		}
		res.DeletedChunks = deleted
	}

	written, err := co.chunks.UpsertChunks(ctx, records)
	if err != nil {
		co.markFailed(ctx, res, ReasonUnexpected, fmt.Errorf("index write: %w", err))
		return res, nil
	}

	if err := co.markActive(ctx, res, written); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "status write failed")
		return nil, err
	}

	co.logger.Info("revision ingested",
		slog.String("source", source),
		slog.String("revision_id", revisionID),
		slog.Int("pages", res.PageCount),
		slog.Int("chunks", written))
	return res, nil
}

// buildRecords stamps each chunk with the revision's identity and encoded
// effective interval. The chunk index is global across the revision so IDs
// stay unique even when many chunks share a section ref.
func (co *Coordinator) buildRecords(rev *datatypes.PolicyRevision, textChunks []Chunk, vectors [][]float32) []datatypes.ChunkRecord {
	from := datatypes.EncodeDate(rev.EffectiveFrom)
	to := datatypes.EncodeEndDate(rev.EffectiveTo)

	records := make([]datatypes.ChunkRecord, len(textChunks))
	for i, c := range textChunks {
		sectionRef := ExtractSectionRef(c.Text)
		records[i] = datatypes.ChunkRecord{
			ChunkID:       datatypes.BuildChunkID(rev.Source, rev.RevisionID, sectionRef, i),
			Text:          c.Text,
			Embedding:     vectors[i],
			Source:        rev.Source,
			RevisionID:    rev.RevisionID,
			VersionLabel:  rev.VersionLabel,
			EffectiveFrom: from,
			EffectiveTo:   to,
			SectionRef:    datatypes.NormalizeSectionRef(sectionRef),
			PageNumber:    c.PageNumber,
			ChunkIndex:    i,
		}
	}
	return records
}

func (co *Coordinator) markProcessing(ctx context.Context, filename string, result *IngestResult) error {
	processing := datatypes.StatusProcessing
	clearErr := ""
	patch := datatypes.RevisionPatch{Status: &processing, Error: &clearErr}
	if filename != "" {
		patch.FilePath = &filename
	}
	_, err := co.revisions.UpdateRevision(ctx, result.Source, result.RevisionID, patch)
	return err
}

func (co *Coordinator) markActive(ctx context.Context, result *IngestResult, chunkCount int) error {
	active := datatypes.StatusActive
	clearErr := ""
	ingestedAt := co.now().UTC()
	_, err := co.revisions.UpdateRevision(ctx, result.Source, result.RevisionID, datatypes.RevisionPatch{
		Status:     &active,
		ChunkCount: &chunkCount,
		IngestedAt: &ingestedAt,
		Error:      &clearErr,
	})
	if err != nil {
		return err
	}
	result.Status = datatypes.StatusActive
	result.ChunkCount = chunkCount
	return nil
}

// markFailed records the terminal failed state on both the revision and the
// result. A failure writing the status itself is logged, not escalated;
// the result still tells the caller what happened.
func (co *Coordinator) markFailed(ctx context.Context, result *IngestResult, reason FailureReason, cause error) {
	result.Status = datatypes.StatusFailed
	result.FailureReason = reason
	result.Error = cause.Error()

	failed := datatypes.StatusFailed
	msg := fmt.Sprintf("%s: %s", reason, cause.Error())
	if _, err := co.revisions.UpdateRevision(ctx, result.Source, result.RevisionID, datatypes.RevisionPatch{
		Status: &failed,
		Error:  &msg,
	}); err != nil {
		co.logger.Error("failed to record ingest failure",
			slog.String("source", result.Source),
			slog.String("revision_id", result.RevisionID),
			slog.String("cause", msg),
			slog.String("error", err.Error()))
	}

	co.logger.Warn("revision ingest failed",
		slog.String("source", result.Source),
		slog.String("revision_id", result.RevisionID),
		slog.String("reason", string(reason)),
		slog.String("error", cause.Error()))
}

func (co *Coordinator) observe(result *IngestResult) {
	m := observability.DefaultMetrics
	if m == nil {
		return
	}
	if result.Status != datatypes.StatusActive && result.Status != datatypes.StatusFailed {
		return
	}
	m.IngestsTotal.WithLabelValues(string(result.Status)).Inc()
	m.IngestDurationSeconds.Observe(result.Duration.Seconds())
	if result.ChunkCount > 0 {
		m.ChunksUpsertedTotal.Add(float64(result.ChunkCount))
	}
	if result.DeletedChunks > 0 {
		m.ChunksDeletedTotal.Add(float64(result.DeletedChunks))
	}
}
