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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bicesterbug/bbug-planning-reporter-sub001/services/registry/chunkindex"
	"github.com/bicesterbug/bbug-planning-reporter-sub001/services/registry/datatypes"
	"github.com/bicesterbug/bbug-planning-reporter-sub001/services/registry/ingest"
	"github.com/bicesterbug/bbug-planning-reporter-sub001/services/registry/observability"
	"github.com/bicesterbug/bbug-planning-reporter-sub001/services/registry/resolver"
	"github.com/bicesterbug/bbug-planning-reporter-sub001/services/registry/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// Prometheus collectors register globally, so metrics are initialized at
// most once per test binary.
var metricsOnce sync.Once

func testMetrics() *observability.RegistryMetrics {
	metricsOnce.Do(func() { observability.InitMetrics() })
	return observability.DefaultMetrics
}

func newTestStore(t *testing.T) *store.RevisionStore {
	t.Helper()
	kv, err := store.OpenKV(store.InMemoryKVConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = kv.Close() })
	return store.NewRevisionStore(kv, slog.Default())
}

func seedPolicy(t *testing.T, s *store.RevisionStore, source string) {
	t.Helper()
	_, err := s.CreatePolicy(context.Background(), &datatypes.PolicyDocument{
		Source:   source,
		Title:    "Test Policy",
		Category: datatypes.CategoryNationalPolicy,
	})
	require.NoError(t, err)
}

func seedRevision(t *testing.T, s *store.RevisionStore, source, revisionID, from string, to string) *datatypes.PolicyRevision {
	t.Helper()
	fromDay, err := datatypes.ParseDay(from)
	require.NoError(t, err)
	rev := &datatypes.PolicyRevision{
		RevisionID:    revisionID,
		Source:        source,
		VersionLabel:  revisionID,
		EffectiveFrom: fromDay,
	}
	if to != "" {
		toDay, err := datatypes.ParseDay(to)
		require.NoError(t, err)
		rev.EffectiveTo = &toDay
	}
	created, _, err := s.CreateRevision(context.Background(), rev)
	require.NoError(t, err)
	return created
}

func markActive(t *testing.T, s *store.RevisionStore, source, revisionID string) {
	t.Helper()
	status := datatypes.StatusActive
	_, err := s.UpdateRevision(context.Background(), source, revisionID,
		datatypes.RevisionPatch{Status: &status})
	require.NoError(t, err)
}

func doJSON(router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

// ----------------------------------------------------------------------
// Fakes
// ----------------------------------------------------------------------

type fakeDeleter struct {
	deleted int64
	err     error
	calls   int
}

func (f *fakeDeleter) DeleteRevisionChunks(_ context.Context, _, _ string) (int64, error) {
	f.calls++
	return f.deleted, f.err
}

type fakeSearcher struct {
	results []chunkindex.SearchResult
	err     error
	lastQ   chunkindex.SearchQuery
}

func (f *fakeSearcher) Search(_ context.Context, q chunkindex.SearchQuery) ([]chunkindex.SearchResult, error) {
	f.lastQ = q
	return f.results, f.err
}

type fakeReader struct {
	chunks []datatypes.ChunkRecord
	verify *chunkindex.VerifyResult
	err    error
}

func (f *fakeReader) GetRevisionChunks(_ context.Context, _, _ string) ([]datatypes.ChunkRecord, error) {
	return f.chunks, f.err
}

func (f *fakeReader) VerifyRevisionChunks(_ context.Context, _ *datatypes.PolicyRevision) (*chunkindex.VerifyResult, error) {
	return f.verify, f.err
}

type fakeIngestor struct {
	result *ingest.IngestResult
	err    error

	gotContent  []byte
	gotFilename string
	gotReindex  bool
}

func (f *fakeIngestor) IngestRevision(_ context.Context, source, revisionID string, content []byte, filename string, reindex bool) (*ingest.IngestResult, error) {
	f.gotContent = content
	f.gotFilename = filename
	f.gotReindex = reindex
	if f.err != nil {
		return nil, f.err
	}
	if f.result != nil {
		return f.result, nil
	}
	return &ingest.IngestResult{
		Source:     source,
		RevisionID: revisionID,
		Status:     datatypes.StatusActive,
		ChunkCount: 4,
	}, nil
}

type fakeEmbedder struct {
	err   error
	texts []string
}

func (f *fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	f.texts = texts
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{0.1, 0.2, 0.3}
	}
	return out, nil
}

// ----------------------------------------------------------------------
// Health
// ----------------------------------------------------------------------

func TestHealthCheck(t *testing.T) {
	router := gin.New()
	router.GET("/health", HealthCheck)

	w := doJSON(router, http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decodeBody(t, w)["status"])
}

// ----------------------------------------------------------------------
// Policies
// ----------------------------------------------------------------------

func policyRouter(s *store.RevisionStore) *gin.Engine {
	router := gin.New()
	router.POST("/v1/policies", CreatePolicy(s))
	router.GET("/v1/policies", ListPolicies(s))
	router.GET("/v1/policies/:source", GetPolicy(s))
	return router
}

func TestCreatePolicy_Created(t *testing.T) {
	s := newTestStore(t)
	router := policyRouter(s)

	w := doJSON(router, http.MethodPost, "/v1/policies", datatypes.CreatePolicyRequest{
		Source:   "nppf",
		Title:    "National Planning Policy Framework",
		Category: "national_policy",
	})

	require.Equal(t, http.StatusCreated, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "nppf", body["source"])
	assert.Equal(t, "national_policy", body["category"])
}

func TestCreatePolicy_Duplicate409(t *testing.T) {
	s := newTestStore(t)
	seedPolicy(t, s, "nppf")
	router := policyRouter(s)

	w := doJSON(router, http.MethodPost, "/v1/policies", datatypes.CreatePolicyRequest{
		Source:   "nppf",
		Title:    "NPPF",
		Category: "national_policy",
	})

	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestCreatePolicy_MissingFields400(t *testing.T) {
	s := newTestStore(t)
	router := policyRouter(s)

	w := doJSON(router, http.MethodPost, "/v1/policies", datatypes.CreatePolicyRequest{
		Source: "nppf",
	})

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreatePolicy_InvalidSlug400(t *testing.T) {
	s := newTestStore(t)
	router := policyRouter(s)

	w := doJSON(router, http.MethodPost, "/v1/policies", datatypes.CreatePolicyRequest{
		Source:   "NPPF Framework!",
		Title:    "National Planning Policy Framework",
		Category: "national_policy",
	})

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreatePolicy_UnknownCategory400(t *testing.T) {
	s := newTestStore(t)
	router := policyRouter(s)

	w := doJSON(router, http.MethodPost, "/v1/policies", datatypes.CreatePolicyRequest{
		Source:   "nppf",
		Title:    "NPPF",
		Category: "zoning",
	})

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetPolicy_NotFound404(t *testing.T) {
	s := newTestStore(t)
	router := policyRouter(s)

	w := doJSON(router, http.MethodGet, "/v1/policies/missing", nil)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListPolicies_FilterByCategory(t *testing.T) {
	s := newTestStore(t)
	seedPolicy(t, s, "nppf")
	_, err := s.CreatePolicy(context.Background(), &datatypes.PolicyDocument{
		Source:   "cherwell-local-plan",
		Title:    "Cherwell Local Plan",
		Category: datatypes.CategoryLocalPlan,
	})
	require.NoError(t, err)
	router := policyRouter(s)

	w := doJSON(router, http.MethodGet, "/v1/policies?category=local_plan", nil)

	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, float64(1), body["count"])
}

// ----------------------------------------------------------------------
// Revisions
// ----------------------------------------------------------------------

func revisionRouter(s *store.RevisionStore, deleter ChunkDeleter) *gin.Engine {
	router := gin.New()
	g := router.Group("/v1/policies/:source/revisions")
	g.POST("", CreateRevision(s))
	g.GET("", ListRevisions(s))
	g.GET("/current", GetCurrentRevision(s))
	g.GET("/:revisionId", GetRevision(s))
	g.PATCH("/:revisionId", UpdateRevision(s))
	g.DELETE("/:revisionId", DeleteRevision(s, deleter))
	return router
}

func TestCreateRevision_Created(t *testing.T) {
	s := newTestStore(t)
	seedPolicy(t, s, "nppf")
	router := revisionRouter(s, &fakeDeleter{})

	w := doJSON(router, http.MethodPost, "/v1/policies/nppf/revisions", datatypes.CreateRevisionRequest{
		RevisionID:    "nppf-2024",
		VersionLabel:  "December 2024",
		EffectiveFrom: "2024-12-12",
	})

	require.Equal(t, http.StatusCreated, w.Code)
	body := decodeBody(t, w)
	rev := body["revision"].(map[string]any)
	assert.Equal(t, "nppf-2024", rev["revision_id"])
	assert.Equal(t, "processing", rev["status"])
	assert.Empty(t, body["superseded"])
}

func TestCreateRevision_GeneratesID(t *testing.T) {
	s := newTestStore(t)
	seedPolicy(t, s, "nppf")
	router := revisionRouter(s, &fakeDeleter{})

	w := doJSON(router, http.MethodPost, "/v1/policies/nppf/revisions", datatypes.CreateRevisionRequest{
		VersionLabel:  "July 2021",
		EffectiveFrom: "2021-07-20",
	})

	require.Equal(t, http.StatusCreated, w.Code)
	rev := decodeBody(t, w)["revision"].(map[string]any)
	assert.Contains(t, rev["revision_id"], "nppf-")
}

func TestCreateRevision_SupersededInResponse(t *testing.T) {
	s := newTestStore(t)
	seedPolicy(t, s, "nppf")
	seedRevision(t, s, "nppf", "nppf-2023", "2023-09-05", "")
	router := revisionRouter(s, &fakeDeleter{})

	w := doJSON(router, http.MethodPost, "/v1/policies/nppf/revisions", datatypes.CreateRevisionRequest{
		RevisionID:    "nppf-2024",
		VersionLabel:  "December 2024",
		EffectiveFrom: "2024-12-12",
	})

	require.Equal(t, http.StatusCreated, w.Code)
	body := decodeBody(t, w)
	superseded := body["superseded"].([]any)
	require.Len(t, superseded, 1)
	prior := superseded[0].(map[string]any)
	assert.Equal(t, "nppf-2023", prior["revision_id"])
	assert.Equal(t, "2024-12-11", prior["effective_to"])
}

func TestCreateRevision_Overlap409(t *testing.T) {
	s := newTestStore(t)
	seedPolicy(t, s, "nppf")
	seedRevision(t, s, "nppf", "nppf-2023", "2023-09-05", "")
	router := revisionRouter(s, &fakeDeleter{})

	w := doJSON(router, http.MethodPost, "/v1/policies/nppf/revisions", datatypes.CreateRevisionRequest{
		RevisionID:    "nppf-old",
		VersionLabel:  "Earlier",
		EffectiveFrom: "2023-01-01",
	})

	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestCreateRevision_OverlapMetricCountsOnlyOverlaps(t *testing.T) {
	m := testMetrics()
	s := newTestStore(t)
	seedPolicy(t, s, "nppf")
	seedRevision(t, s, "nppf", "nppf-2023", "2023-09-05", "")
	router := revisionRouter(s, &fakeDeleter{})
	counter := m.OverlapRejectionsTotal.WithLabelValues("nppf")
	before := testutil.ToFloat64(counter)

	w := doJSON(router, http.MethodPost, "/v1/policies/nppf/revisions", datatypes.CreateRevisionRequest{
		RevisionID:    "nppf-bad",
		VersionLabel:  "Inverted",
		EffectiveFrom: "2025-06-01",
		EffectiveTo:   "2025-01-01",
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, before, testutil.ToFloat64(counter),
		"non-overlap rejections must not move the overlap counter")

	w = doJSON(router, http.MethodPost, "/v1/policies/nppf/revisions", datatypes.CreateRevisionRequest{
		RevisionID:    "nppf-old",
		VersionLabel:  "Earlier",
		EffectiveFrom: "2023-01-01",
	})
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, before+1, testutil.ToFloat64(counter))
}

func TestCreateRevision_UnknownPolicy404(t *testing.T) {
	s := newTestStore(t)
	router := revisionRouter(s, &fakeDeleter{})

	w := doJSON(router, http.MethodPost, "/v1/policies/missing/revisions", datatypes.CreateRevisionRequest{
		VersionLabel:  "v1",
		EffectiveFrom: "2024-01-01",
	})

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateRevision_BadDate400(t *testing.T) {
	s := newTestStore(t)
	seedPolicy(t, s, "nppf")
	router := revisionRouter(s, &fakeDeleter{})

	w := doJSON(router, http.MethodPost, "/v1/policies/nppf/revisions", datatypes.CreateRevisionRequest{
		VersionLabel:  "v1",
		EffectiveFrom: "12/12/2024",
	})

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateRevision_MissingVersionLabel400(t *testing.T) {
	s := newTestStore(t)
	seedPolicy(t, s, "nppf")
	router := revisionRouter(s, &fakeDeleter{})

	w := doJSON(router, http.MethodPost, "/v1/policies/nppf/revisions", datatypes.CreateRevisionRequest{
		EffectiveFrom: "2024-12-12",
	})

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUpdateRevision_Status(t *testing.T) {
	s := newTestStore(t)
	seedPolicy(t, s, "nppf")
	seedRevision(t, s, "nppf", "nppf-2024", "2024-12-12", "")
	router := revisionRouter(s, &fakeDeleter{})

	status := "active"
	w := doJSON(router, http.MethodPatch, "/v1/policies/nppf/revisions/nppf-2024", datatypes.UpdateRevisionRequest{
		Status: &status,
	})

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "active", decodeBody(t, w)["status"])
}

func TestUpdateRevision_UnknownStatus400(t *testing.T) {
	s := newTestStore(t)
	seedPolicy(t, s, "nppf")
	seedRevision(t, s, "nppf", "nppf-2024", "2024-12-12", "")
	router := revisionRouter(s, &fakeDeleter{})

	status := "archived"
	w := doJSON(router, http.MethodPatch, "/v1/policies/nppf/revisions/nppf-2024", datatypes.UpdateRevisionRequest{
		Status: &status,
	})

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDeleteRevision_RemovesChunks(t *testing.T) {
	s := newTestStore(t)
	seedPolicy(t, s, "nppf")
	seedRevision(t, s, "nppf", "nppf-2024", "2024-12-12", "")
	deleter := &fakeDeleter{deleted: 12}
	router := revisionRouter(s, deleter)

	w := doJSON(router, http.MethodDelete, "/v1/policies/nppf/revisions/nppf-2024", nil)

	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, float64(12), body["deleted_chunks"])
	assert.Equal(t, 1, deleter.calls)
	assert.NotContains(t, body, "warning")
}

func TestDeleteRevision_SoleActiveGuard409(t *testing.T) {
	s := newTestStore(t)
	seedPolicy(t, s, "nppf")
	seedRevision(t, s, "nppf", "nppf-2024", "2024-12-12", "")
	markActive(t, s, "nppf", "nppf-2024")
	deleter := &fakeDeleter{}
	router := revisionRouter(s, deleter)

	w := doJSON(router, http.MethodDelete, "/v1/policies/nppf/revisions/nppf-2024", nil)

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Zero(t, deleter.calls, "chunks must be untouched when the guard rejects")
}

func TestDeleteRevision_ChunkCleanupFailureWarns(t *testing.T) {
	s := newTestStore(t)
	seedPolicy(t, s, "nppf")
	seedRevision(t, s, "nppf", "nppf-2024", "2024-12-12", "")
	deleter := &fakeDeleter{err: errors.New("weaviate unreachable")}
	router := revisionRouter(s, deleter)

	w := doJSON(router, http.MethodDelete, "/v1/policies/nppf/revisions/nppf-2024", nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, decodeBody(t, w)["warning"], "chunk cleanup incomplete")
}

func TestGetCurrentRevision_NoneInForce404(t *testing.T) {
	s := newTestStore(t)
	seedPolicy(t, s, "nppf")
	router := revisionRouter(s, &fakeDeleter{})

	w := doJSON(router, http.MethodGet, "/v1/policies/nppf/revisions/current", nil)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

// ----------------------------------------------------------------------
// Resolve
// ----------------------------------------------------------------------

func resolveRouter(s *store.RevisionStore) *gin.Engine {
	r := resolver.New(s)
	router := gin.New()
	router.GET("/v1/resolve", ResolveSnapshot(r))
	router.GET("/v1/resolve/ids", ResolveRevisionIDs(r))
	router.GET("/v1/policies/:source/resolve", ResolveDate(r))
	router.GET("/v1/policies/:source/revisions/:revisionId/validate", ValidateRevision(r))
	return router
}

func seedNPPFHistory(t *testing.T, s *store.RevisionStore) {
	t.Helper()
	seedPolicy(t, s, "nppf")
	seedRevision(t, s, "nppf", "nppf-2023", "2023-09-05", "2024-12-11")
	markActive(t, s, "nppf", "nppf-2023")
	seedRevision(t, s, "nppf", "nppf-2024", "2024-12-12", "")
	markActive(t, s, "nppf", "nppf-2024")
}

func TestResolveDate_Found(t *testing.T) {
	s := newTestStore(t)
	seedNPPFHistory(t, s)
	router := resolveRouter(s)

	w := doJSON(router, http.MethodGet, "/v1/policies/nppf/resolve?date=2024-03-15", nil)

	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, true, body["found"])
	rev := body["revision"].(map[string]any)
	assert.Equal(t, "nppf-2023", rev["revision_id"])
}

func TestResolveDate_BeforeFirstRevision(t *testing.T) {
	s := newTestStore(t)
	seedNPPFHistory(t, s)
	router := resolveRouter(s)

	w := doJSON(router, http.MethodGet, "/v1/policies/nppf/resolve?date=2020-01-01", nil)

	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, false, body["found"])
	assert.Equal(t, "before_first_revision", body["reason"])
}

func TestResolveDate_UnknownPolicy404(t *testing.T) {
	s := newTestStore(t)
	router := resolveRouter(s)

	w := doJSON(router, http.MethodGet, "/v1/policies/missing/resolve?date=2024-03-15", nil)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestResolveDate_BadDate400(t *testing.T) {
	s := newTestStore(t)
	seedNPPFHistory(t, s)
	router := resolveRouter(s)

	w := doJSON(router, http.MethodGet, "/v1/policies/nppf/resolve?date=15-03-2024", nil)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestResolveSnapshot_Partitions(t *testing.T) {
	s := newTestStore(t)
	seedNPPFHistory(t, s)
	_, err := s.CreatePolicy(context.Background(), &datatypes.PolicyDocument{
		Source:   "ppg-flood",
		Title:    "PPG Flood Risk",
		Category: datatypes.CategoryGuidance,
	})
	require.NoError(t, err)
	router := resolveRouter(s)

	w := doJSON(router, http.MethodGet, "/v1/resolve?date=2025-01-01", nil)

	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	inForce := body["in_force"].(map[string]any)
	require.Contains(t, inForce, "nppf")
	assert.Equal(t, "nppf-2024", inForce["nppf"].(map[string]any)["revision_id"])
	noRevs := body["no_revisions"].([]any)
	assert.Contains(t, noRevs, "ppg-flood")
}

func TestResolveRevisionIDs(t *testing.T) {
	s := newTestStore(t)
	seedNPPFHistory(t, s)
	router := resolveRouter(s)

	w := doJSON(router, http.MethodGet, "/v1/resolve/ids?date=2024-03-15&source=nppf", nil)

	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	ids := body["revision_ids"].(map[string]any)
	assert.Equal(t, "nppf-2023", ids["nppf"])
	assert.Equal(t, "2024-03-15", body["date"])
}

func TestValidateRevision_Valid(t *testing.T) {
	s := newTestStore(t)
	seedNPPFHistory(t, s)
	router := resolveRouter(s)

	w := doJSON(router, http.MethodGet, "/v1/policies/nppf/revisions/nppf-2023/validate?date=2024-03-15", nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decodeBody(t, w)["valid"])
}

func TestValidateRevision_WrongRevisionReportsInForce(t *testing.T) {
	s := newTestStore(t)
	seedNPPFHistory(t, s)
	router := resolveRouter(s)

	w := doJSON(router, http.MethodGet, "/v1/policies/nppf/revisions/nppf-2024/validate?date=2024-03-15", nil)

	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, false, body["valid"])
	inForce := body["in_force"].(map[string]any)
	assert.Equal(t, "nppf-2023", inForce["revision_id"])
}

func TestValidateRevision_UnknownRevision404(t *testing.T) {
	s := newTestStore(t)
	seedNPPFHistory(t, s)
	router := resolveRouter(s)

	w := doJSON(router, http.MethodGet, "/v1/policies/nppf/revisions/nppf-1991/validate?date=2024-03-15", nil)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

// ----------------------------------------------------------------------
// Search
// ----------------------------------------------------------------------

func searchRouter(embedder *fakeEmbedder, searcher *fakeSearcher) *gin.Engine {
	router := gin.New()
	router.POST("/v1/search", Search(embedder, searcher))
	return router
}

func TestSearch_DatedQuery(t *testing.T) {
	searcher := &fakeSearcher{results: []chunkindex.SearchResult{
		{
			Chunk: datatypes.ChunkRecord{
				ChunkID:    "nppf:nppf-2023:chapter-5:0001",
				Text:       "Significant weight should be given to the benefits",
				Source:     "nppf",
				RevisionID: "nppf-2023",
				SectionRef: "chapter 5",
				PageNumber: 17,
			},
			Score:    0.91,
			Distance: 0.18,
		},
	}}
	embedder := &fakeEmbedder{}
	router := searchRouter(embedder, searcher)

	w := doJSON(router, http.MethodPost, "/v1/search", datatypes.SearchRequest{
		Query:         "housing land supply",
		EffectiveDate: "2024-03-15",
		Sources:       []string{"nppf"},
	})

	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, float64(1), body["count"])
	results := body["results"].([]any)
	first := results[0].(map[string]any)
	assert.Equal(t, "nppf-2023", first["revision_id"])
	assert.InDelta(t, 0.91, first["score"].(float64), 1e-9)

	assert.Equal(t, []string{"housing land supply"}, embedder.texts)
	require.NotNil(t, searcher.lastQ.EffectiveDate)
	assert.Equal(t, datatypes.Day(2024, time.March, 15), *searcher.lastQ.EffectiveDate)
	assert.Equal(t, []string{"nppf"}, searcher.lastQ.Sources)
	assert.Equal(t, defaultSearchLimit, searcher.lastQ.Limit)
}

func TestSearch_MissingQuery400(t *testing.T) {
	router := searchRouter(&fakeEmbedder{}, &fakeSearcher{})

	w := doJSON(router, http.MethodPost, "/v1/search", datatypes.SearchRequest{})

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSearch_BadDate400(t *testing.T) {
	router := searchRouter(&fakeEmbedder{}, &fakeSearcher{})

	w := doJSON(router, http.MethodPost, "/v1/search", datatypes.SearchRequest{
		Query:         "green belt",
		EffectiveDate: "March 2024",
	})

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSearch_LimitCapped(t *testing.T) {
	searcher := &fakeSearcher{}
	router := searchRouter(&fakeEmbedder{}, searcher)

	w := doJSON(router, http.MethodPost, "/v1/search", datatypes.SearchRequest{
		Query: "green belt",
		Limit: 5000,
	})

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, maxSearchLimit, searcher.lastQ.Limit)
}

func TestSearch_EmbedderFailure502(t *testing.T) {
	router := searchRouter(&fakeEmbedder{err: errors.New("model offline")}, &fakeSearcher{})

	w := doJSON(router, http.MethodPost, "/v1/search", datatypes.SearchRequest{Query: "green belt"})

	assert.Equal(t, http.StatusBadGateway, w.Code)
}

// ----------------------------------------------------------------------
// Chunk retrieval and verification
// ----------------------------------------------------------------------

func TestGetRevisionChunks_SectionFilter(t *testing.T) {
	reader := &fakeReader{chunks: []datatypes.ChunkRecord{
		{ChunkID: "a", SectionRef: "chapter 5", ChunkIndex: 0},
		{ChunkID: "b", SectionRef: "chapter 11", ChunkIndex: 1},
		{ChunkID: "c", SectionRef: "Chapter 5", ChunkIndex: 2},
	}}
	router := gin.New()
	router.GET("/v1/policies/:source/revisions/:revisionId/chunks", GetRevisionChunks(reader))

	w := doJSON(router, http.MethodGet, "/v1/policies/nppf/revisions/nppf-2023/chunks?section_ref=chapter+5", nil)

	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, float64(2), body["count"])
}

func sectionRouter(s *store.RevisionStore, reader ChunkReader) *gin.Engine {
	router := gin.New()
	router.GET("/v1/policies/:source/sections/:sectionRef", GetPolicySection(resolver.New(s), reader))
	return router
}

func TestGetPolicySection_ByRevisionID(t *testing.T) {
	reader := &fakeReader{chunks: []datatypes.ChunkRecord{
		{ChunkID: "a", SectionRef: "chapter 5", Text: "Plans should meet housing need.", ChunkIndex: 0},
		{ChunkID: "b", SectionRef: "chapter 11", Text: "Other chapter.", ChunkIndex: 1},
		{ChunkID: "c", SectionRef: "Chapter 5", Text: "Land supply is assessed annually.", ChunkIndex: 2},
	}}
	s := newTestStore(t)
	router := sectionRouter(s, reader)

	w := doJSON(router, http.MethodGet, "/v1/policies/nppf/sections/chapter-5?revision_id=nppf-2023", nil)

	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "nppf-2023", body["revision_id"])
	assert.Equal(t, "chapter-5", body["section_ref"])
	assert.Equal(t, float64(2), body["chunk_count"])
	assert.Equal(t, "Plans should meet housing need.\n\nLand supply is assessed annually.", body["text"])
}

func TestGetPolicySection_ResolvesDate(t *testing.T) {
	reader := &fakeReader{chunks: []datatypes.ChunkRecord{
		{ChunkID: "a", SectionRef: "chapter 13", Text: "Green belt boundaries.", ChunkIndex: 0},
	}}
	s := newTestStore(t)
	seedNPPFHistory(t, s)
	router := sectionRouter(s, reader)

	w := doJSON(router, http.MethodGet, "/v1/policies/nppf/sections/chapter-13?date=2024-03-15", nil)

	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "nppf-2023", body["revision_id"])
	assert.Equal(t, "Green belt boundaries.", body["text"])
}

func TestGetPolicySection_NotInRevision404(t *testing.T) {
	reader := &fakeReader{chunks: []datatypes.ChunkRecord{
		{ChunkID: "a", SectionRef: "chapter 5", Text: "Housing.", ChunkIndex: 0},
	}}
	s := newTestStore(t)
	router := sectionRouter(s, reader)

	w := doJSON(router, http.MethodGet, "/v1/policies/nppf/sections/chapter-99?revision_id=nppf-2023", nil)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "chapter-99", decodeBody(t, w)["section_ref"])
}

func TestGetPolicySection_NothingInForce404(t *testing.T) {
	s := newTestStore(t)
	seedPolicy(t, s, "nppf")
	router := sectionRouter(s, &fakeReader{})

	w := doJSON(router, http.MethodGet, "/v1/policies/nppf/sections/chapter-5?date=2024-03-15", nil)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, decodeBody(t, w)["error"], "no revision in force")
}

func TestVerifyRevisionChunks(t *testing.T) {
	s := newTestStore(t)
	seedPolicy(t, s, "nppf")
	seedRevision(t, s, "nppf", "nppf-2024", "2024-12-12", "")
	reader := &fakeReader{verify: &chunkindex.VerifyResult{
		Source:        "nppf",
		RevisionID:    "nppf-2024",
		ExpectedCount: 4,
		IndexedCount:  3,
		CountMatch:    false,
		Mismatches:    []string{"chunk count mismatch: registry 4, index 3"},
	}}
	router := gin.New()
	router.GET("/v1/policies/:source/revisions/:revisionId/verify", VerifyRevisionChunks(s, reader))

	w := doJSON(router, http.MethodGet, "/v1/policies/nppf/revisions/nppf-2024/verify", nil)

	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, false, body["count_match"])
}

func TestVerifyRevisionChunks_UnknownRevision404(t *testing.T) {
	s := newTestStore(t)
	seedPolicy(t, s, "nppf")
	router := gin.New()
	router.GET("/v1/policies/:source/revisions/:revisionId/verify", VerifyRevisionChunks(s, &fakeReader{}))

	w := doJSON(router, http.MethodGet, "/v1/policies/nppf/revisions/missing/verify", nil)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

// ----------------------------------------------------------------------
// Ingest
// ----------------------------------------------------------------------

func ingestRouter(ing Ingestor) *gin.Engine {
	router := gin.New()
	router.POST("/v1/policies/:source/revisions/:revisionId/ingest", IngestRevision(ing))
	return router
}

func TestIngestRevision_MultipartUpload(t *testing.T) {
	ing := &fakeIngestor{}
	router := ingestRouter(ing)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "nppf-dec-2024.pdf")
	require.NoError(t, err)
	_, err = fw.Write([]byte("%PDF-1.7 content"))
	require.NoError(t, err)
	require.NoError(t, mw.WriteField("reindex", "true"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/v1/policies/nppf/revisions/nppf-2024/ingest", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []byte("%PDF-1.7 content"), ing.gotContent)
	assert.Equal(t, "nppf-dec-2024.pdf", ing.gotFilename)
	assert.True(t, ing.gotReindex)
	assert.Equal(t, "active", decodeBody(t, w)["status"])
}

func TestIngestRevision_JSONBody(t *testing.T) {
	ing := &fakeIngestor{}
	router := ingestRouter(ing)

	w := doJSON(router, http.MethodPost, "/v1/policies/nppf/revisions/nppf-2024/ingest",
		datatypes.IngestRevisionRequest{Content: []byte("%PDF-1.7 content")})

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "nppf-2024.pdf", ing.gotFilename)
	assert.False(t, ing.gotReindex)
}

func TestIngestRevision_EmptyContent400(t *testing.T) {
	router := ingestRouter(&fakeIngestor{})

	w := doJSON(router, http.MethodPost, "/v1/policies/nppf/revisions/nppf-2024/ingest",
		datatypes.IngestRevisionRequest{})

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestIngestRevision_UnknownRevision404(t *testing.T) {
	ing := &fakeIngestor{err: &store.RevisionNotFoundError{Source: "nppf", RevisionID: "missing"}}
	router := ingestRouter(ing)

	w := doJSON(router, http.MethodPost, "/v1/policies/nppf/revisions/missing/ingest",
		datatypes.IngestRevisionRequest{Content: []byte("x")})

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestIngestRevision_PipelineFailureIs200(t *testing.T) {
	ing := &fakeIngestor{result: &ingest.IngestResult{
		Source:        "nppf",
		RevisionID:    "nppf-2024",
		Status:        datatypes.StatusFailed,
		FailureReason: ingest.ReasonExtractionError,
		Error:         "extraction_error: doc-processor returned 503",
	}}
	router := ingestRouter(ing)

	w := doJSON(router, http.MethodPost, "/v1/policies/nppf/revisions/nppf-2024/ingest",
		datatypes.IngestRevisionRequest{Content: []byte("x")})

	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "failed", body["status"])
	assert.Equal(t, "extraction_error", body["failure_reason"])
}
