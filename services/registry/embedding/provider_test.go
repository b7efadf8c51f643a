// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPProvider_EmbedBatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/batch_embed", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)

		var req batchEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		resp := batchEmbedResponse{
			Model: "bge-small-en",
			Dim:   3,
		}
		for i := range req.Texts {
			v := float32(i + 1)
			resp.Vectors = append(resp.Vectors, []float32{v, v, v})
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL)
	vectors, err := p.EmbedBatch(context.Background(), []string{"para 11", "para 12"})
	require.NoError(t, err)
	require.Len(t, vectors, 2)
	assert.Equal(t, []float32{1, 1, 1}, vectors[0])
	assert.Equal(t, []float32{2, 2, 2}, vectors[1])
}

func TestHTTPProvider_EmbedBatch_EmptyInput(t *testing.T) {
	p := NewHTTPProvider("http://unused")
	_, err := p.EmbedBatch(context.Background(), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestHTTPProvider_EmbedBatch_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL)
	_, err := p.EmbedBatch(context.Background(), []string{"text"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestHTTPProvider_EmbedBatch_CountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(batchEmbedResponse{
			Vectors: [][]float32{{1, 2, 3}},
		})
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL)
	_, err := p.EmbedBatch(context.Background(), []string{"a", "b"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 vectors for 2 texts")
}

func TestHTTPProvider_Health(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/health", r.URL.Path)
		_ = json.NewEncoder(w).Encode(embedHealthResponse{Status: "ok", Model: "bge-small-en"})
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL)
	assert.NoError(t, p.Health(context.Background()))
}

func TestHTTPProvider_Health_NotReady(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(embedHealthResponse{Status: "loading"})
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL)
	err := p.Health(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "loading")
}
