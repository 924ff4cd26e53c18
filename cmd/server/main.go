package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/intentgate/intentgate/internal/analytics"
	"github.com/intentgate/intentgate/internal/api"
	"github.com/intentgate/intentgate/internal/cache"
	"github.com/intentgate/intentgate/internal/config"
	"github.com/intentgate/intentgate/internal/credential"
	"github.com/intentgate/intentgate/internal/events"
	"github.com/intentgate/intentgate/internal/gateway"
	"github.com/intentgate/intentgate/internal/match"
	"github.com/intentgate/intentgate/internal/session"
	"github.com/intentgate/intentgate/internal/store"
	"github.com/intentgate/intentgate/internal/upstream"
)

func main() {
	ctx := context.Background()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	// Connect the shared store
	kv, err := store.NewRedis(ctx, cfg.RedisURL)
	if err != nil {
		log.Fatal("Failed to connect to redis:", err)
	}
	defer kv.Close()

	// Optional analytics sink
	var recorder gateway.Recorder
	if cfg.DatabaseURL != "" {
		sink, err := analytics.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatal("Failed to connect to database:", err)
		}
		defer sink.Close()
		recorder = sink
	} else {
		log.Printf("DATABASE_URL not set, request logging disabled")
	}

	// Core services
	sessions := session.NewManager(kv, cfg.JWTSecret, cfg.SessionTTL)
	creds := credential.NewService(kv, sessions, cfg.ConflictThreshold)
	semCache := cache.New(kv, cfg.CacheSimilarity, cfg.MaxCacheEntries, cfg.CacheBucketTTL)
	matcher := match.New(creds, cfg.MatchThreshold, cfg.ConflictThreshold)
	ev := events.NewService(kv)
	up := &upstream.OpenAIClient{BaseURL: cfg.OpenAIBaseURL}

	gw := gateway.New(sessions, creds, semCache, matcher, up, ev, recorder)

	// Router
	router := mux.NewRouter()
	router.HandleFunc("/health", healthHandler).Methods("GET")

	handler := api.NewHandler(sessions, creds, matcher, gw, ev)
	handler.RegisterRoutes(router)

	log.Printf("Server starting on port %s", cfg.ServerPort)
	if err := http.ListenAndServe(":"+cfg.ServerPort, router); err != nil {
		log.Fatal("Server failed:", err)
	}
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "healthy",
		"version": "1.0.0",
	})
}
