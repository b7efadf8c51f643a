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

import "strings"

// DefaultMaxChunkChars is the default chunk size bound. Sized so typical
// chunks stay within embedding model token limits with headroom.
const DefaultMaxChunkChars = 1400

// ParagraphChunker splits page text on blank-line paragraph boundaries and
// packs consecutive paragraphs into chunks up to a character bound. A
// paragraph longer than the bound becomes a chunk on its own rather than
// being split mid-sentence.
type ParagraphChunker struct {
	maxChars int
}

// NewParagraphChunker creates a chunker with the given size bound;
// non-positive selects DefaultMaxChunkChars.
func NewParagraphChunker(maxChars int) *ParagraphChunker {
	if maxChars <= 0 {
		maxChars = DefaultMaxChunkChars
	}
	return &ParagraphChunker{maxChars: maxChars}
}

// Chunk splits the pages into chunks. Chunks never span pages, so every
// chunk carries an unambiguous page number for citation.
func (c *ParagraphChunker) Chunk(pages []Page) []Chunk {
	var chunks []Chunk
	for _, page := range pages {
		for _, text := range c.packParagraphs(page.Text) {
			chunks = append(chunks, Chunk{Text: text, PageNumber: page.Number})
		}
	}
	return chunks
}

func (c *ParagraphChunker) packParagraphs(text string) []string {
	var out []string
	var current strings.Builder

	flush := func() {
		if current.Len() > 0 {
			out = append(out, current.String())
			current.Reset()
		}
	}

	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		// +2 accounts for the paragraph separator being re-added.
		if current.Len() > 0 && current.Len()+len(para)+2 > c.maxChars {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(para)
		if current.Len() >= c.maxChars {
			flush()
		}
	}
	flush()
	return out
}
