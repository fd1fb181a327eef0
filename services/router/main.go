// Copyright (C) 2025 Tidewater AI (dev@tidewater.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"log"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/TidewaterAI/TidewaterFOSS/services/llm"
	"github.com/TidewaterAI/TidewaterFOSS/services/policy_engine"
	"github.com/TidewaterAI/TidewaterFOSS/services/router/classifier"
	"github.com/TidewaterAI/TidewaterFOSS/services/router/datatypes"
	"github.com/TidewaterAI/TidewaterFOSS/services/router/fallback"
	"github.com/TidewaterAI/TidewaterFOSS/services/router/handlers"
	"github.com/TidewaterAI/TidewaterFOSS/services/router/memory"
	"github.com/TidewaterAI/TidewaterFOSS/services/router/middleware"
	"github.com/TidewaterAI/TidewaterFOSS/services/router/mux"
	"github.com/TidewaterAI/TidewaterFOSS/services/router/routes"
	"github.com/gin-gonic/gin"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"google.golang.org/grpc/credentials/insecure"

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

func initTracer() (func(context.Context), error) {
	ctx := context.Background()

	otelEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if otelEndpoint == "" {
		otelEndpoint = "tidewater-otel-collector:4317"
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
		resource.WithAttributes(semconv.ServiceNameKey.String("router-service")))
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

// buildProviderRegistry maps model names to provider clients. Model lists
// come from comma-separated env vars; a backend with no configured models
// contributes nothing.
func buildProviderRegistry() map[string]llm.LLMClient {
	providers := make(map[string]llm.LLMClient)

	register := func(envVar, fallbackModel string, build func() (llm.LLMClient, error)) {
		models := strings.TrimSpace(os.Getenv(envVar))
		if models == "" {
			models = fallbackModel
		}
		if models == "" {
			return
		}
		client, err := build()
		if err != nil {
			slog.Warn("Skipping provider backend", "models_env", envVar, "error", err)
			return
		}
		for _, model := range strings.Split(models, ",") {
			model = strings.TrimSpace(model)
			if model != "" {
				providers[model] = client
			}
		}
	}

	register("OLLAMA_MODELS", "llama3.1", func() (llm.LLMClient, error) {
		return llm.NewOllamaClient()
	})
	register("OPENAI_MODELS", "", func() (llm.LLMClient, error) {
		return llm.NewOpenAIClient()
	})
	register("ANTHROPIC_MODELS", "", func() (llm.LLMClient, error) {
		return llm.NewAnthropicClient()
	})

	return providers
}

func main() {
	port := os.Getenv("ROUTER_PORT")
	if port == "" {
		port = "12300"
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// --- Init the tracer ---
	cleanup, err := initTracer()
	if err != nil {
		log.Fatalf("failed to setup the OTLP tracer: %v", err)
	}
	defer cleanup(context.Background())

	weaviateURL := os.Getenv("WEAVIATE_SERVICE_URL")
	// Trim quotes and whitespace in case the container runtime passes them literally
	weaviateURL = strings.Trim(weaviateURL, "\"' ")

	var weaviateClient *weaviate.Client

	if weaviateURL != "" && strings.Contains(weaviateURL, "http") {
		parsedURL, err := url.Parse(weaviateURL)
		if err != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
			slog.Warn("WEAVIATE_SERVICE_URL is invalid. Running without memory.",
				"url", weaviateURL, "error", err)
		} else {
			clientConf := weaviate.Config{
				Host:   parsedURL.Host,
				Scheme: parsedURL.Scheme,
			}
			weaviateClient, err = weaviate.NewClient(clientConf)
			if err != nil {
				slog.Error("Failed to create Weaviate client", "error", err)
				weaviateClient = nil
			} else {
				datatypes.EnsureWeaviateSchema(weaviateClient)
			}
		}
	} else {
		slog.Info("WEAVIATE_SERVICE_URL not set or empty. Running without memory retrieval or persistence.")
	}

	policyEngine, err := policy_engine.NewPolicyEngine()
	if err != nil {
		log.Fatalf("FATAL: Could not initialize the Policy Engine %v", err)
	}

	log.Println("Configuring the provider registry")
	providers := buildProviderRegistry()
	if len(providers) == 0 {
		log.Fatal("No provider models configured; set OLLAMA_MODELS, OPENAI_MODELS or ANTHROPIC_MODELS")
	}
	multiplexer := mux.NewMultiplexer(providers)
	slog.Info("Provider registry ready", "models", multiplexer.Models())

	defaultModel := os.Getenv("ROUTER_DEFAULT_MODEL")
	if defaultModel == "" {
		defaultModel = multiplexer.Models()[0]
		slog.Warn("ROUTER_DEFAULT_MODEL not set, using first registered model", "model", defaultModel)
	}

	// The classifier runs on its own small model so routing stays cheap.
	classifierBackend := os.Getenv("ROUTER_CLASSIFIER_BACKEND")
	var classifierClient llm.LLMClient
	switch classifierBackend {
	case "openai":
		classifierClient, err = llm.NewOpenAIClient()
	case "claude", "anthropic":
		classifierClient, err = llm.NewAnthropicClient()
	default:
		classifierClient, err = llm.NewOllamaClient()
	}
	if err != nil {
		log.Fatalf("Failed to initialize the classifier client: %v", err)
	}
	routeClassifier := classifier.NewLLMClassifier(classifierClient, defaultModel)

	// Memory wiring is optional: no Weaviate, no retrieval, no persistence.
	var retriever handlers.MemoryRetriever
	var store handlers.TurnPersister
	if weaviateClient != nil {
		openaiClient, embErr := llm.NewOpenAIClient()
		if embErr != nil {
			slog.Warn("Embeddings unavailable, memory disabled", "error", embErr)
		} else {
			embedder := memory.NewOpenAIEmbedder(openaiClient)
			retriever = memory.NewRetriever(embedder, memory.NewWeaviateMemorySearcher(weaviateClient))
			store = memory.NewStore(weaviateClient, embedder)
		}
	}

	chainsPath := os.Getenv("FALLBACK_CHAINS_PATH")
	if chainsPath == "" {
		chainsPath = "configs/fallback_chains.yaml"
	}
	chains, err := fallback.LoadChainConfig(chainsPath)
	if err != nil {
		slog.Warn("No fallback chain config loaded; every model runs without alternates",
			"path", chainsPath, "error", err)
		chains = nil
	}
	orchestrator := fallback.NewOrchestrator(multiplexer, chains)

	credits := middleware.NopCreditProvider{}
	finalizer := handlers.NewFinalizer(store, credits, policyEngine)
	chatStream := handlers.NewChatStreamHandler(routeClassifier, retriever, orchestrator, finalizer)

	router := gin.Default()
	router.Use(otelgin.Middleware("router-service"))

	routes.SetupRoutes(router, routes.Options{
		ChatStream:  chatStream,
		Auth:        middleware.NopAuthProvider{},
		Credits:     credits,
		RateLimiter: middleware.NewRateLimiter(5, 10),
	})

	log.Println("Starting the router server on port ", port)
	if err := router.Run(":" + port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
