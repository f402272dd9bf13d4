package main

import (
	"net/http"

	"github.com/gorilla/mux"
)

// publicPaths skip the API key gate
var publicPaths = []string{"/", "/health"}

// setupRoutes configures all HTTP routes for the API
func setupRoutes(router *mux.Router) {
	// Link resolution, lyrics and downloads
	router.HandleFunc("/resolve-and-fetch", resolveAndFetch).Methods(http.MethodPost)
	router.HandleFunc("/lyrics", getLyrics).Methods(http.MethodGet)
	router.HandleFunc("/download", downloadLyrics).Methods(http.MethodPost)

	// Cache management endpoints
	router.HandleFunc("/cache", getCacheDump).Methods(http.MethodGet)
	router.HandleFunc("/cache/backup", backupCache).Methods(http.MethodPost)
	router.HandleFunc("/cache/backups", listBackups).Methods(http.MethodGet)
	router.HandleFunc("/cache/restore", restoreCache).Methods(http.MethodPost)
	router.HandleFunc("/cache/clear", clearCache).Methods(http.MethodPost)

	// Health and stats endpoints
	router.HandleFunc("/health", getHealthStatus)
	router.HandleFunc("/stats", getStats)

	// Circuit breaker endpoints
	router.HandleFunc("/circuit-breaker", getCircuitBreakerStatus).Methods(http.MethodGet)
	router.HandleFunc("/circuit-breaker/reset", resetCircuitBreaker).Methods(http.MethodPost)

	// Test/debug endpoints
	router.HandleFunc("/test-notifications", testNotifications)

	// Help endpoint
	router.HandleFunc("/", helpHandler)
}
