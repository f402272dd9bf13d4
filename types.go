package main

import (
	"context"
	"spotify-lyrics-api-go/cache"
	"spotify-lyrics-api-go/services/lyrics"
	"spotify-lyrics-api-go/services/spotify"
)

type contextKey string

const (
	cacheOnlyModeKey contextKey = "cacheOnlyMode"
	rateLimitTypeKey contextKey = "rateLimitType"
)

// entityResolver turns any supported link into a Spotify reference
type entityResolver interface {
	Resolve(ctx context.Context, rawURL string) (*spotify.Reference, error)
}

// entityCatalog reads entities from the Spotify Web API
type entityCatalog interface {
	Fetch(ctx context.Context, ref spotify.Reference) (any, error)
	Collection(ctx context.Context, ref spotify.Reference) (*spotify.Collection, error)
}

// lyricsSource fetches lyrics documents, or peeks at the cache only
type lyricsSource interface {
	Fetch(ctx context.Context, trackID string, format lyrics.Format) (*lyrics.Result, error)
	Peek(trackID string, format lyrics.Format) (*lyrics.Result, error)
}

// ResolveRequest is the body of POST /resolve-and-fetch
type ResolveRequest struct {
	URL string `json:"url"`
}

// ResolveResponse wraps the fetched entity with its type
type ResolveResponse struct {
	Type spotify.Kind `json:"type"`
	Data any          `json:"data"`
}

// DownloadRequest is the body of POST /download. Empty settings fall back
// to the defaults. Tracks, when present, are packaged under AlbumName
// instead of resolving URL.
type DownloadRequest struct {
	URL            string           `json:"url"`
	LyricsType     string           `json:"lyricsType,omitempty"`
	FileNameFormat []string         `json:"fileNameFormat,omitempty"`
	Tracks         []map[string]any `json:"tracks,omitempty"`
	AlbumName      string           `json:"albumName,omitempty"`
}

// CacheDump represents the full cache contents
type CacheDump map[string]cache.CacheEntry

// CachePerformance contains cache hit/miss statistics
type CachePerformance struct {
	Hits         int64   `json:"hits"`
	Misses       int64   `json:"misses"`
	NegativeHits int64   `json:"negative_hits"`
	HitRate      float64 `json:"hit_rate_percent"`
}

// CacheDumpResponse is the response format for /cache endpoint
type CacheDumpResponse struct {
	NumberOfKeys int              `json:"number_of_keys"`
	SizeInKB     int              `json:"size_kb"`
	SizeInMB     float64          `json:"size_mb"`
	Performance  CachePerformance `json:"performance"`
	Cache        CacheDump        `json:"cache"`
}
