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
	"context"
	"fmt"
	"log/slog"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate/entities/models"
)

// PolicyChunkClassName is the Weaviate class holding the chunk projection.
const PolicyChunkClassName = "PolicyChunk"

// GetPolicyChunkSchema returns the schema for the PolicyChunk class.
//
// Temporal fields are stored as filterable ints (YYYYMMDD) because
// Weaviate's where predicates are pure numeric comparisons with no null
// semantics; open-ended intervals carry the sentinel 99991231. Vectors are
// supplied explicitly at write time (Vectorizer "none").
func GetPolicyChunkSchema() *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	return &models.Class{
		Class:       PolicyChunkClassName,
		Description: "A chunk of planning-policy text with revision identity and effective-interval metadata.",
		Vectorizer:  "none",
		InvertedIndexConfig: &models.InvertedIndexConfig{
			IndexNullState:  true,
			IndexTimestamps: true,
		},
		Properties: []*models.Property{
			{
				Name:            "chunk_id",
				DataType:        []string{"text"},
				Description:     "Deterministic composite id: source, revision, section ref, chunk index.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:         "text",
				DataType:     []string{"text"},
				Description:  "The chunk's extracted policy text.",
				Tokenization: "word",
			},
			{
				Name:            "source",
				DataType:        []string{"text"},
				Description:     "Owning policy document slug (e.g. 'nppf').",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "revision_id",
				DataType:        []string{"text"},
				Description:     "Owning revision id within the source.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "version_label",
				DataType:        []string{"text"},
				Description:     "Human-readable revision label (e.g. 'December 2024').",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "effective_from",
				DataType:        []string{"int"},
				Description:     "Interval start, encoded YYYYMMDD.",
				IndexFilterable: indexFilterable,
			},
			{
				Name:            "effective_to",
				DataType:        []string{"int"},
				Description:     "Interval end, encoded YYYYMMDD. 99991231 = open-ended.",
				IndexFilterable: indexFilterable,
			},
			{
				Name:            "section_ref",
				DataType:        []string{"text"},
				Description:     "Heuristic section reference (e.g. 'Chapter 5'), empty if none found.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "page_number",
				DataType:        []string{"int"},
				Description:     "1-based page the chunk was extracted from.",
				IndexFilterable: indexFilterable,
			},
			{
				Name:            "chunk_index",
				DataType:        []string{"int"},
				Description:     "Position of the chunk within its revision.",
				IndexFilterable: indexFilterable,
			},
		},
	}
}

// EnsureWeaviateSchema creates the registry's Weaviate classes if missing.
// Existing classes are left untouched.
func EnsureWeaviateSchema(ctx context.Context, client *weaviate.Client) error {
	schemaGetters := []func() *models.Class{
		GetPolicyChunkSchema,
	}

	for _, getSchema := range schemaGetters {
		class := getSchema()
		slog.Info("Checking schema", "class", class.Class)

		_, err := client.Schema().ClassGetter().WithClassName(class.Class).Do(ctx)
		if err != nil {
			// The client errors when the class does not exist; create it.
			slog.Info("Schema not found, creating it...", "class", class.Class)
			if err := client.Schema().ClassCreator().WithClass(class).Do(ctx); err != nil {
				return fmt.Errorf("create schema for class %s: %w", class.Class, err)
			}
			slog.Info("Successfully created schema", "class", class.Class)
		} else {
			slog.Info("Schema already exists", "class", class.Class)
		}
	}
	return nil
}
