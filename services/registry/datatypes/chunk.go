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
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// chunkNamespace is the UUIDv5 namespace for chunk object IDs. Fixed so that
// the same logical chunk always maps to the same Weaviate object, making
// bulk upserts idempotent replacements.
var chunkNamespace = uuid.MustParse("8f2b5c44-1d11-4c6f-9a0e-6b7d2f3a9c01")

// ChunkRecord is one unit of vector-search retrieval: a bounded span of
// extracted policy text, its embedding, and the identity plus temporal
// metadata burned in at ingest time.
//
// Chunks reference their revision by (Source, RevisionID) but the reference
// is not transactional. The vector index is an eventually-synchronized
// derived projection; the revision store remains the source of truth for
// temporal validity.
type ChunkRecord struct {
	ChunkID      string     `json:"chunk_id"`
	Text         string     `json:"text"`
	Embedding    []float32  `json:"embedding,omitempty"`
	Source       string     `json:"source"`
	RevisionID   string     `json:"revision_id"`
	VersionLabel string     `json:"version_label"`
	// EffectiveFrom and EffectiveTo are integer YYYYMMDD encodings; see
	// EncodeDate. EffectiveTo uses OpenEndedSentinel for open-ended.
	EffectiveFrom int    `json:"effective_from"`
	EffectiveTo   int    `json:"effective_to"`
	SectionRef    string `json:"section_ref"`
	PageNumber    int    `json:"page_number"`
	ChunkIndex    int    `json:"chunk_index"`
}

// ObjectID derives the deterministic Weaviate object UUID for this chunk.
func (c *ChunkRecord) ObjectID() uuid.UUID {
	return uuid.NewSHA1(chunkNamespace, []byte(c.ChunkID))
}

// BuildChunkID composes the deterministic chunk identifier from the chunk's
// provenance. Re-ingesting identical content yields identical IDs, so
// writes replace rather than duplicate. Re-chunking with different
// boundaries changes indices and can orphan IDs under the old scheme, which
// is why reindex deletes by revision before writing.
func BuildChunkID(source, revisionID, sectionRef string, chunkIndex int) string {
	return fmt.Sprintf("%s:%s:%s:%04d", source, revisionID, NormalizeSectionRef(sectionRef), chunkIndex)
}

// NormalizeSectionRef canonicalizes a heuristically extracted section
// reference for use inside chunk IDs: lowercase, internal whitespace
// collapsed to single hyphens, everything outside [a-z0-9.-] dropped.
func NormalizeSectionRef(ref string) string {
	var b strings.Builder
	lastHyphen := true // suppress leading hyphen
	for _, r := range strings.ToLower(strings.TrimSpace(ref)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.':
			b.WriteRune(r)
			lastHyphen = false
		case r == ' ' || r == '-' || r == '\t':
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

// EffectiveToDate decodes the chunk's end date, nil for open-ended.
func (c *ChunkRecord) EffectiveToDate() (*time.Time, error) {
	return DecodeEndDate(c.EffectiveTo)
}

// EffectiveFromDate decodes the chunk's start date.
func (c *ChunkRecord) EffectiveFromDate() (time.Time, error) {
	return DecodeDate(c.EffectiveFrom)
}
