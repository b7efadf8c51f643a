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
	"context"

	"github.com/bicesterbug/bbug-planning-reporter-sub001/services/registry/chunkindex"
	"github.com/bicesterbug/bbug-planning-reporter-sub001/services/registry/datatypes"
	"github.com/bicesterbug/bbug-planning-reporter-sub001/services/registry/ingest"
)

// ChunkDeleter removes a revision's chunks from the vector index.
// Satisfied by *chunkindex.Index.
type ChunkDeleter interface {
	DeleteRevisionChunks(ctx context.Context, source, revisionID string) (int64, error)
}

// ChunkSearcher runs similarity searches. Satisfied by *chunkindex.Index.
type ChunkSearcher interface {
	Search(ctx context.Context, q chunkindex.SearchQuery) ([]chunkindex.SearchResult, error)
}

// ChunkReader reads a revision's projection back out for section retrieval
// and consistency checks. Satisfied by *chunkindex.Index.
type ChunkReader interface {
	GetRevisionChunks(ctx context.Context, source, revisionID string) ([]datatypes.ChunkRecord, error)
	VerifyRevisionChunks(ctx context.Context, rev *datatypes.PolicyRevision) (*chunkindex.VerifyResult, error)
}

// Ingestor runs the ingest pipeline. Satisfied by *ingest.Coordinator.
type Ingestor interface {
	IngestRevision(ctx context.Context, source, revisionID string, content []byte, filename string, reindex bool) (*ingest.IngestResult, error)
}
