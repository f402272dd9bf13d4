package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	log "github.com/sirupsen/logrus"
)

var conf = mustLoad()

type Config struct {
	Configuration struct {
		Port                      string `envconfig:"PORT" default:"8080"`
		AllowedOrigins            string `envconfig:"ALLOWED_ORIGINS" default:"http://localhost:3000"`
		RateLimitPerSecond        int    `envconfig:"RATE_LIMIT_PER_SECOND" default:"2"`
		RateLimitBurstLimit       int    `envconfig:"RATE_LIMIT_BURST_LIMIT" default:"5"`
		CachedRateLimitPerSecond  int    `envconfig:"CACHED_RATE_LIMIT_PER_SECOND" default:"10"`
		CachedRateLimitBurstLimit int    `envconfig:"CACHED_RATE_LIMIT_BURST_LIMIT" default:"20"`
		CacheAccessToken          string `envconfig:"CACHE_ACCESS_TOKEN" default:""`
		APIKey                    string `envconfig:"API_KEY" default:""`
		APIKeyRequired            bool   `envconfig:"API_KEY_REQUIRED" default:"false"`
		HTTPTimeoutInSeconds      int    `envconfig:"HTTP_TIMEOUT_IN_SECONDS" default:"10"`

		// Spotify Web API
		SpotifyClientID     string `envconfig:"SPOTIFY_CLIENT_ID" default:""`
		SpotifyClientSecret string `envconfig:"SPOTIFY_CLIENT_SECRET" default:""`
		SpotifyTokenURL     string `envconfig:"SPOTIFY_TOKEN_URL" default:"https://accounts.spotify.com/api/token"`
		SpotifyAPIBaseURL   string `envconfig:"SPOTIFY_API_BASE_URL" default:"https://api.spotify.com/v1/"`
		SpotifyMarket       string `envconfig:"SPOTIFY_MARKET" default:"US"`

		// Link resolution
		SongwhipAPIURL           string `envconfig:"SONGWHIP_API_URL" default:"https://songwhip.com/api/songwhip/create"`
		SongwhipCountry          string `envconfig:"SONGWHIP_COUNTRY" default:"US"`
		ShortLinkHosts           string `envconfig:"SHORT_LINK_HOSTS" default:"spotify.link,spotify.app.link"`
		ResolveCacheTTLInSeconds int    `envconfig:"RESOLVE_CACHE_TTL_IN_SECONDS" default:"3600"`

		// Lyrics upstream
		LyricsAPIURL              string `envconfig:"LYRICS_API_URL" default:"https://spotify-lyrics-api-pi.vercel.app/"`
		LyricsCacheTTLInSeconds   int    `envconfig:"LYRICS_CACHE_TTL_IN_SECONDS" default:"86400"`
		NegativeCacheTTLInSeconds int    `envconfig:"NEGATIVE_CACHE_TTL_IN_SECONDS" default:"21600"` // "no lyrics" answers are retried after 6h
		LyricsMaxRetries          uint64 `envconfig:"LYRICS_MAX_RETRIES" default:"2"`
		CacheDBPath               string `envconfig:"CACHE_DB_PATH" default:"./data/cache.db"`
		CacheBackupPath           string `envconfig:"CACHE_BACKUP_PATH" default:"./data/backups"`

		CircuitBreakerThreshold    int `envconfig:"CIRCUIT_BREAKER_THRESHOLD" default:"5"`      // Consecutive failures before circuit opens
		CircuitBreakerCooldownSecs int `envconfig:"CIRCUIT_BREAKER_COOLDOWN_SECS" default:"120"` // Seconds to wait before retrying
	}

	FeatureFlags struct {
		CacheCompression bool `envconfig:"FF_CACHE_COMPRESSION" default:"true"`
		SongwhipFallback bool `envconfig:"FF_SONGWHIP_FALLBACK" default:"true"`
	}
}

// load loads the configuration from the environment.
func load() (Config, error) {
	err := godotenv.Load()
	if err != nil {
		log.Warnf("Error loading env config: %v", err)
	}

	cfg := Config{}
	err = envconfig.Process("", &cfg)
	return cfg, err
}

func mustLoad() Config {
	c, err := load()
	if err != nil {
		log.WithError(err).Warnf("Unable to load configuration")
	}

	return c
}

func Get() Config {
	return conf
}

// HasSpotifyCredentials reports whether both client credentials are set
func (c Config) HasSpotifyCredentials() bool {
	return c.Configuration.SpotifyClientID != "" && c.Configuration.SpotifyClientSecret != ""
}

// ShortLinkHostList returns the configured short-link domains
func (c Config) ShortLinkHostList() []string {
	return splitList(c.Configuration.ShortLinkHosts)
}

// AllowedOriginList returns the CORS origins
func (c Config) AllowedOriginList() []string {
	return splitList(c.Configuration.AllowedOrigins)
}

func (c Config) HTTPTimeout() time.Duration {
	return time.Duration(c.Configuration.HTTPTimeoutInSeconds) * time.Second
}

func (c Config) ResolveCacheTTL() time.Duration {
	return time.Duration(c.Configuration.ResolveCacheTTLInSeconds) * time.Second
}

func (c Config) LyricsCacheTTL() time.Duration {
	return time.Duration(c.Configuration.LyricsCacheTTLInSeconds) * time.Second
}

func (c Config) NegativeCacheTTL() time.Duration {
	return time.Duration(c.Configuration.NegativeCacheTTLInSeconds) * time.Second
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
