// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"log"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/bicesterbug/bbug-planning-reporter-sub001/pkg/logging"
	"github.com/bicesterbug/bbug-planning-reporter-sub001/services/registry/chunkindex"
	"github.com/bicesterbug/bbug-planning-reporter-sub001/services/registry/embedding"
	"github.com/bicesterbug/bbug-planning-reporter-sub001/services/registry/ingest"
	"github.com/bicesterbug/bbug-planning-reporter-sub001/services/registry/observability"
	"github.com/bicesterbug/bbug-planning-reporter-sub001/services/registry/routes"
	"github.com/bicesterbug/bbug-planning-reporter-sub001/services/registry/store"

	// --- OpenTelemetry imports ---
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
)

const serviceName = "policy-registry"

func initTracer() (func(context.Context), error) {
	ctx := context.Background()

	otelEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if otelEndpoint == "" {
		otelEndpoint = "bbug-otel-collector:4317"
	}
	conn, err := grpc.NewClient(otelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String(serviceName)))
	if err != nil {
		return nil, err
	}
	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))
	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.
		TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}, nil
}

func newWeaviateClient() *weaviate.Client {
	weaviateURL := strings.Trim(os.Getenv("WEAVIATE_SERVICE_URL"), "\"' ")
	if weaviateURL == "" {
		weaviateURL = "http://bbug-weaviate:8080"
		slog.Warn("WEAVIATE_SERVICE_URL not set, using default", "url", weaviateURL)
	}
	parsedURL, err := url.Parse(weaviateURL)
	if err != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
		log.Fatalf("WEAVIATE_SERVICE_URL is invalid: %q", weaviateURL)
	}
	client, err := weaviate.NewClient(weaviate.Config{
		Host:   parsedURL.Host,
		Scheme: parsedURL.Scheme,
	})
	if err != nil {
		log.Fatalf("Failed to create Weaviate client: %v", err)
	}
	return client
}

func newEmbeddingProvider() embedding.Provider {
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		model := os.Getenv("OPENAI_EMBEDDING_MODEL")
		if model == "" {
			model = embedding.DefaultOpenAIModel
		}
		slog.Info("Using OpenAI embedding backend", "model", model)
		return embedding.NewOpenAIProvider(apiKey, model)
	}

	embedURL := os.Getenv("EMBEDDING_SERVICE_URL")
	if embedURL == "" {
		embedURL = "http://bbug-embedding:8000"
		slog.Warn("EMBEDDING_SERVICE_URL not set, using default", "url", embedURL)
	}
	slog.Info("Using local embedding service backend", "url", embedURL)
	return embedding.NewHTTPProvider(embedURL)
}

func main() {
	port := os.Getenv("REGISTRY_PORT")
	if port == "" {
		port = "12310"
	}

	logger, closeLogs, err := logging.New(logging.Config{
		Level:   os.Getenv("LOG_LEVEL"),
		Service: "registry",
		LogDir:  os.Getenv("LOG_DIR"),
		JSON:    true,
	})
	if err != nil {
		log.Fatalf("failed to set up logging: %v", err)
	}
	defer closeLogs()
	slog.SetDefault(logger)

	// --- Init the tracer ---
	cleanup, err := initTracer()
	if err != nil {
		log.Fatalf("failed to setup the OTLP tracer: %v", err)
	}
	defer cleanup(context.Background())

	observability.InitMetrics()

	dbPath := os.Getenv("REGISTRY_DB_PATH")
	if dbPath == "" {
		dbPath = "/var/lib/bbug/registry"
		slog.Warn("REGISTRY_DB_PATH not set, using default", "path", dbPath)
	}
	kvConfig := store.DefaultKVConfig()
	kvConfig.Path = dbPath
	kvConfig.Logger = logger
	kv, err := store.OpenKV(kvConfig)
	if err != nil {
		log.Fatalf("FATAL: could not open the revision store at %s: %v", dbPath, err)
	}
	defer kv.Close()
	revisionStore := store.NewRevisionStore(kv, logger)

	weaviateClient := newWeaviateClient()
	index := chunkindex.New(weaviateClient, logger)
	if err := index.EnsureSchema(context.Background()); err != nil {
		log.Fatalf("FATAL: could not ensure the Weaviate schema: %v", err)
	}

	embedder := newEmbeddingProvider()

	docProcessorURL := os.Getenv("DOC_PROCESSOR_URL")
	if docProcessorURL == "" {
		docProcessorURL = "http://bbug-doc-processor:8070"
		slog.Warn("DOC_PROCESSOR_URL not set, using default", "url", docProcessorURL)
	}
	extractor := ingest.NewDocProcessorClient(docProcessorURL)

	coordinator := ingest.NewCoordinator(revisionStore, index, extractor, nil, embedder, logger)

	router := gin.Default()
	router.Use(otelgin.Middleware(serviceName))

	routes.SetupRoutes(router, revisionStore, index, embedder, coordinator)

	slog.Info("Starting the policy registry server", "port", port)
	if err := router.Run(":" + port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
