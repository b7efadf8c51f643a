// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ingest runs the pipeline that turns an uploaded policy document
// into indexed, temporally-tagged chunks: extract, chunk, embed, project.
//
// The coordinator distinguishes two failure surfaces. A missing revision is
// the caller's error and comes back as a normal error return; everything
// after the pipeline starts is recorded on the revision itself - the
// revision ends up failed with a reason, and the coordinator reports that
// outcome without erroring.
package ingest

import (
	"context"

	"github.com/bicesterbug/bbug-planning-reporter-sub001/services/registry/datatypes"
)

// Page is one page of extracted document text.
type Page struct {
	Number int    `json:"number"`
	Text   string `json:"text"`
}

// Chunk is one bounded span of text ready for embedding.
type Chunk struct {
	Text       string
	PageNumber int
}

// ContentExtractor turns raw document bytes into page text. Implemented by
// the document-processor HTTP client; tests substitute fakes.
type ContentExtractor interface {
	Extract(ctx context.Context, content []byte, filename string) ([]Page, error)
}

// TextChunker splits extracted pages into embedding-sized chunks.
type TextChunker interface {
	Chunk(pages []Page) []Chunk
}

// ChunkStore is the slice of the vector index the pipeline writes to.
// Satisfied by *chunkindex.Index.
type ChunkStore interface {
	UpsertChunks(ctx context.Context, chunks []datatypes.ChunkRecord) (int, error)
	DeleteRevisionChunks(ctx context.Context, source, revisionID string) (int64, error)
}

// RevisionUpdater is the slice of the registry the pipeline reads and
// drives through the lifecycle. Satisfied by *store.RevisionStore.
type RevisionUpdater interface {
	GetRevision(ctx context.Context, source, revisionID string) (*datatypes.PolicyRevision, error)
	UpdateRevision(ctx context.Context, source, revisionID string, patch datatypes.RevisionPatch) (*datatypes.PolicyRevision, error)
}
