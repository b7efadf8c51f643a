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
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocProcessorClient_Extract(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/extract", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)

		var req extractRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "nppf.pdf", req.Filename)
		assert.Equal(t, []byte("%PDF-1.7 fake"), req.Content)

		_ = json.NewEncoder(w).Encode(extractResponse{Pages: []Page{
			{Number: 1, Text: "Ministerial foreword"},
			{Number: 2, Text: "Chapter 1 Introduction"},
		}})
	}))
	defer srv.Close()

	c := NewDocProcessorClient(srv.URL)
	pages, err := c.Extract(context.Background(), []byte("%PDF-1.7 fake"), "nppf.pdf")
	require.NoError(t, err)
	require.Len(t, pages, 2)
	assert.Equal(t, 2, pages[1].Number)
	assert.Equal(t, "Chapter 1 Introduction", pages[1].Text)
}

func TestDocProcessorClient_Extract_EmptyContent(t *testing.T) {
	c := NewDocProcessorClient("http://unused")
	_, err := c.Extract(context.Background(), nil, "x.pdf")
	assert.Error(t, err)
}

func TestDocProcessorClient_Extract_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unsupported format", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	c := NewDocProcessorClient(srv.URL)
	_, err := c.Extract(context.Background(), []byte("not a pdf"), "x.bin")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "422")
}
