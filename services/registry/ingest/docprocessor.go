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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultExtractTimeout bounds one extraction request. PDF extraction on
// large local plans can take a while.
const DefaultExtractTimeout = 5 * time.Minute

// DocProcessorClient calls the document-processor service, which extracts
// per-page text from PDFs and other document formats. Implements
// ContentExtractor. Safe for concurrent use.
type DocProcessorClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewDocProcessorClient creates a client for a document processor reachable
// at baseURL (e.g. "http://localhost:8100").
func NewDocProcessorClient(baseURL string) *DocProcessorClient {
	return &DocProcessorClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: DefaultExtractTimeout,
		},
	}
}

// WithTimeout sets a custom timeout for extraction requests.
func (c *DocProcessorClient) WithTimeout(timeout time.Duration) *DocProcessorClient {
	c.httpClient.Timeout = timeout
	return c
}

// extractRequest is the body for the /extract endpoint. Content is
// base64-encoded by the JSON marshaller.
type extractRequest struct {
	Filename string `json:"filename"`
	Content  []byte `json:"content"`
}

type extractResponse struct {
	Pages []Page `json:"pages"`
}

// Extract sends the document to the processor and returns its page text.
func (c *DocProcessorClient) Extract(ctx context.Context, content []byte, filename string) ([]Page, error) {
	if len(content) == 0 {
		return nil, fmt.Errorf("document content is empty")
	}

	bodyBytes, err := json.Marshal(extractRequest{Filename: filename, Content: content})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := c.baseURL + "/extract"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("document processor returned status %d: %s", resp.StatusCode, string(body))
	}

	var extracted extractResponse
	if err := json.NewDecoder(resp.Body).Decode(&extracted); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return extracted.Pages, nil
}
