package middleware

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"spotify-lyrics-api-go/logcolors"
	"strings"

	log "github.com/sirupsen/logrus"
)

// APIKeyMiddleware requires a matching X-API-Key header when required is true.
// A required gate with an empty apiKey is treated as misconfiguration and lets
// everything through with a warning. Public paths always pass; a trailing "*"
// makes a path a prefix match.
func APIKeyMiddleware(apiKey string, required bool, publicPaths []string) func(http.Handler) http.Handler {
	exact := make(map[string]bool)
	var prefixes []string
	for _, p := range publicPaths {
		if strings.HasSuffix(p, "*") {
			prefixes = append(prefixes, strings.TrimSuffix(p, "*"))
		} else {
			exact[p] = true
		}
	}

	isPublic := func(path string) bool {
		if exact[path] {
			return true
		}
		for _, prefix := range prefixes {
			if strings.HasPrefix(path, prefix) {
				return true
			}
		}
		return false
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !required {
				next.ServeHTTP(w, r)
				return
			}

			if apiKey == "" {
				log.Warnf("%s API key required but not configured, allowing request", logcolors.LogAPIKey)
				next.ServeHTTP(w, r)
				return
			}

			path := r.URL.Path
			if isPublic(path) {
				next.ServeHTTP(w, r)
				return
			}

			providedKey := r.Header.Get("X-API-Key")
			if providedKey == "" {
				log.Warnf("%s Missing API key from %s for %s", logcolors.LogAPIKey, ClientIP(r), path)
				writeUnauthorized(w, "API key required", "Provide a valid API key via X-API-Key header")
				return
			}

			if !KeysMatch(providedKey, apiKey) {
				log.Warnf("%s Invalid API key from %s for %s", logcolors.LogAPIKey, ClientIP(r), path)
				writeUnauthorized(w, "Invalid API key", "The provided API key is not valid")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// KeysMatch compares two secrets in constant time
func KeysMatch(provided, expected string) bool {
	return expected != "" && subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) == 1
}

func writeUnauthorized(w http.ResponseWriter, errMsg, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{"error": errMsg, "message": message})
}
