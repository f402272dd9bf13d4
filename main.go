package main

import (
	"net/http"
	"os"
	"spotify-lyrics-api-go/cache"
	"spotify-lyrics-api-go/circuitbreaker"
	"spotify-lyrics-api-go/config"
	"spotify-lyrics-api-go/logcolors"
	"spotify-lyrics-api-go/middleware"
	"spotify-lyrics-api-go/services/lyrics"
	"spotify-lyrics-api-go/services/notifier"
	"spotify-lyrics-api-go/services/spotify"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/rs/cors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

var conf = config.Get()

var (
	persistentCache *cache.PersistentCache
	tokenCache      *spotify.TokenCache
	lyricsBreaker   *circuitbreaker.CircuitBreaker
	rateLimiter     *middleware.IPRateLimiter

	resolver      entityResolver
	catalog       entityCatalog
	lyricsFetcher lyricsSource
)

func init() {
	log.SetFormatter(&log.JSONFormatter{})
	log.SetOutput(os.Stdout)
	log.SetLevel(log.InfoLevel) // Set to InfoLevel (change to DebugLevel for detailed logs)

	err := godotenv.Load()
	if err != nil {
		log.Warn("Error loading .env file, using environment variables")
	}
}

func main() {
	startAlerting()

	var err error
	persistentCache, err = cache.NewPersistentCache(
		conf.Configuration.CacheDBPath,
		conf.Configuration.CacheBackupPath,
		conf.FeatureFlags.CacheCompression,
	)
	if err != nil {
		notifier.PublishServerStartupFailed("cache", err)
		log.Fatalf("%s Failed to open cache: %v", logcolors.LogCacheInit, err)
	}
	defer persistentCache.Close()

	setupServices()

	if !conf.HasSpotifyCredentials() {
		log.Warnf("%s SPOTIFY_CLIENT_ID / SPOTIFY_CLIENT_SECRET not set, /resolve-and-fetch and /download will fail", logcolors.LogConfig)
	}

	rateLimiter = middleware.NewIPRateLimiter(
		rate.Limit(conf.Configuration.RateLimitPerSecond), conf.Configuration.RateLimitBurstLimit,
		rate.Limit(conf.Configuration.CachedRateLimitPerSecond), conf.Configuration.CachedRateLimitBurstLimit,
	)
	go startJanitor(5 * time.Minute)

	router := mux.NewRouter()
	setupRoutes(router)

	c := cors.New(cors.Options{
		AllowedOrigins:   conf.AllowedOriginList(),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-API-Key"},
		ExposedHeaders:   []string{"X-Cache-Status", "X-RateLimit-Type", "X-Batch-Successful", "X-Batch-Total", "X-Batch-No-Lyrics", "Content-Disposition", "Retry-After"},
		AllowCredentials: true,
	})

	// logging middleware
	loggedRouter := middleware.LoggingMiddleware(router)
	// chain cors middleware
	corsHandler := c.Handler(loggedRouter)
	// chain api key gate
	keyedHandler := middleware.APIKeyMiddleware(conf.Configuration.APIKey, conf.Configuration.APIKeyRequired, publicPaths)(corsHandler)
	// chain rate limiter
	handler := limitMiddleware(keyedHandler, rateLimiter)

	port := conf.Configuration.Port
	notifier.PublishServerStarted(port, conf.HasSpotifyCredentials())
	log.Infof("%s Server listening on port %s", logcolors.LogServer, port)
	if err := http.ListenAndServe(":"+port, handler); err != nil {
		notifier.PublishServerStartupFailed("http", err)
		log.Fatalf("%s %v", logcolors.LogServer, err)
	}
}

// setupServices wires the resolver, catalog and lyrics fetcher from config
func setupServices() {
	httpClient := &http.Client{Timeout: conf.HTTPTimeout()}

	lyricsBreaker = circuitbreaker.New(circuitbreaker.Config{
		Name:      "Lyrics",
		Threshold: conf.Configuration.CircuitBreakerThreshold,
		Cooldown:  time.Duration(conf.Configuration.CircuitBreakerCooldownSecs) * time.Second,
		IsFailure: lyrics.BreakerIsFailure,
	})

	lyricsFetcher = lyrics.NewFetcher(lyrics.FetcherOptions{
		BaseURL:     conf.Configuration.LyricsAPIURL,
		HTTPClient:  httpClient,
		Breaker:     lyricsBreaker,
		Store:       persistentCache,
		CacheTTL:    conf.LyricsCacheTTL(),
		NegativeTTL: conf.NegativeCacheTTL(),
		MaxRetries:  conf.Configuration.LyricsMaxRetries,
	})

	tokenCache = spotify.NewTokenCache(
		conf.Configuration.SpotifyClientID,
		conf.Configuration.SpotifyClientSecret,
		conf.Configuration.SpotifyTokenURL,
		httpClient,
	)
	catalog = spotify.NewCatalog(tokenCache, spotify.CatalogOptions{
		BaseURL: conf.Configuration.SpotifyAPIBaseURL,
		Market:  conf.Configuration.SpotifyMarket,
	})

	steps := spotify.DefaultSteps(spotify.StepOptions{
		HTTPClient:      httpClient,
		ShortLinkHosts:  conf.ShortLinkHostList(),
		SongwhipURL:     conf.Configuration.SongwhipAPIURL,
		SongwhipCountry: conf.Configuration.SongwhipCountry,
		EnableSongwhip:  conf.FeatureFlags.SongwhipFallback,
	})
	r := spotify.NewResolver(steps, conf.ResolveCacheTTL())
	resolver = r

	log.Infof("%s Resolver steps: %v", logcolors.LogResolve, r.Steps())
}
