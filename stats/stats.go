package stats

import (
	"sync"
	"sync/atomic"
	"time"
)

// Stats holds all server statistics with atomic counters
type Stats struct {
	StartTime time.Time

	// Request counters
	TotalRequests    atomic.Int64
	ResolveRequests  atomic.Int64
	LyricsRequests   atomic.Int64
	DownloadRequests atomic.Int64
	AdminRequests    atomic.Int64
	OtherRequests    atomic.Int64

	// Lyrics cache performance
	CacheHits         atomic.Int64
	CacheMisses       atomic.Int64
	NegativeCacheHits atomic.Int64

	// Resolver
	resolveSteps    sync.Map // step name -> *atomic.Int64
	ResolveFailures atomic.Int64
	ResolveMemoHits atomic.Int64

	// Spotify
	TokenExchanges atomic.Int64
	CatalogErrors  atomic.Int64

	// Batch downloads
	BatchTracks    atomic.Int64
	BatchSucceeded atomic.Int64
	BatchNoLyrics  atomic.Int64
	BatchFailed    atomic.Int64

	// Rate limiting
	RateLimitNormal   atomic.Int64
	RateLimitCached   atomic.Int64
	RateLimitExceeded atomic.Int64

	// Response status codes
	Status2xx atomic.Int64
	Status4xx atomic.Int64
	Status5xx atomic.Int64

	// Response times in microseconds
	totalResponseTime atomic.Int64
	responseCount     atomic.Int64
	minResponseTime   atomic.Int64
	maxResponseTime   atomic.Int64

	lyricsResponseTime  atomic.Int64
	lyricsResponseCount atomic.Int64
}

const noMin = int64(^uint64(0) >> 1)

var global = New()

// New returns a zeroed Stats starting now
func New() *Stats {
	s := &Stats{StartTime: time.Now()}
	s.minResponseTime.Store(noMin)
	return s
}

// Get returns the global stats instance
func Get() *Stats {
	return global
}

// RecordRequest counts a request by route
func (s *Stats) RecordRequest(endpoint string) {
	s.TotalRequests.Add(1)
	switch endpoint {
	case "/resolve-and-fetch":
		s.ResolveRequests.Add(1)
	case "/lyrics":
		s.LyricsRequests.Add(1)
	case "/download":
		s.DownloadRequests.Add(1)
	case "/cache", "/cache/clear", "/cache/backup", "/cache/backups", "/cache/restore",
		"/stats", "/health", "/circuit-breaker", "/circuit-breaker/reset", "/test-notifications":
		s.AdminRequests.Add(1)
	default:
		s.OtherRequests.Add(1)
	}
}

func (s *Stats) RecordCacheHit()         { s.CacheHits.Add(1) }
func (s *Stats) RecordCacheMiss()        { s.CacheMisses.Add(1) }
func (s *Stats) RecordNegativeCacheHit() { s.NegativeCacheHits.Add(1) }

// RecordResolveStep counts which resolver step produced a reference
func (s *Stats) RecordResolveStep(step string) {
	v, _ := s.resolveSteps.LoadOrStore(step, new(atomic.Int64))
	v.(*atomic.Int64).Add(1)
}

// ResolveStepCounts returns a copy of the per-step hit counters
func (s *Stats) ResolveStepCounts() map[string]int64 {
	out := make(map[string]int64)
	s.resolveSteps.Range(func(k, v any) bool {
		out[k.(string)] = v.(*atomic.Int64).Load()
		return true
	})
	return out
}

// RecordBatch adds one finished batch to the counters
func (s *Stats) RecordBatch(total, succeeded, noLyrics int) {
	s.BatchTracks.Add(int64(total))
	s.BatchSucceeded.Add(int64(succeeded))
	s.BatchNoLyrics.Add(int64(noLyrics))
	s.BatchFailed.Add(int64(total - succeeded - noLyrics))
}

// RecordRateLimit records rate limit tier usage
func (s *Stats) RecordRateLimit(tier string) {
	switch tier {
	case "normal":
		s.RateLimitNormal.Add(1)
	case "cached":
		s.RateLimitCached.Add(1)
	case "exceeded":
		s.RateLimitExceeded.Add(1)
	}
}

// RecordStatusCode records a response status code
func (s *Stats) RecordStatusCode(code int) {
	switch {
	case code >= 200 && code < 300:
		s.Status2xx.Add(1)
	case code >= 400 && code < 500:
		s.Status4xx.Add(1)
	case code >= 500:
		s.Status5xx.Add(1)
	}
}

// RecordResponseTime records a response time
func (s *Stats) RecordResponseTime(duration time.Duration, endpoint string) {
	us := duration.Microseconds()

	s.totalResponseTime.Add(us)
	s.responseCount.Add(1)

	for {
		current := s.minResponseTime.Load()
		if us >= current || s.minResponseTime.CompareAndSwap(current, us) {
			break
		}
	}
	for {
		current := s.maxResponseTime.Load()
		if us <= current || s.maxResponseTime.CompareAndSwap(current, us) {
			break
		}
	}

	if endpoint == "/lyrics" {
		s.lyricsResponseTime.Add(us)
		s.lyricsResponseCount.Add(1)
	}
}

// Uptime returns the server uptime
func (s *Stats) Uptime() time.Duration {
	return time.Since(s.StartTime)
}

// CacheHitRate returns the lyrics cache hit rate as a percentage
func (s *Stats) CacheHitRate() float64 {
	hits := s.CacheHits.Load()
	total := hits + s.CacheMisses.Load()
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total) * 100
}

// AvgResponseTime returns the average response time
func (s *Stats) AvgResponseTime() time.Duration {
	count := s.responseCount.Load()
	if count == 0 {
		return 0
	}
	return time.Duration(s.totalResponseTime.Load()/count) * time.Microsecond
}

// MinResponseTime returns the minimum response time
func (s *Stats) MinResponseTime() time.Duration {
	min := s.minResponseTime.Load()
	if min == noMin {
		return 0
	}
	return time.Duration(min) * time.Microsecond
}

// MaxResponseTime returns the maximum response time
func (s *Stats) MaxResponseTime() time.Duration {
	return time.Duration(s.maxResponseTime.Load()) * time.Microsecond
}

// AvgLyricsResponseTime returns the average response time for /lyrics
func (s *Stats) AvgLyricsResponseTime() time.Duration {
	count := s.lyricsResponseCount.Load()
	if count == 0 {
		return 0
	}
	return time.Duration(s.lyricsResponseTime.Load()/count) * time.Microsecond
}

// Snapshot returns a point-in-time snapshot of all stats
func (s *Stats) Snapshot() map[string]interface{} {
	uptime := s.Uptime()

	return map[string]interface{}{
		"server": map[string]interface{}{
			"start_time":     s.StartTime.Format(time.RFC3339),
			"uptime":         uptime.String(),
			"uptime_seconds": int64(uptime.Seconds()),
		},
		"requests": map[string]interface{}{
			"total":    s.TotalRequests.Load(),
			"resolve":  s.ResolveRequests.Load(),
			"lyrics":   s.LyricsRequests.Load(),
			"download": s.DownloadRequests.Load(),
			"admin":    s.AdminRequests.Load(),
			"other":    s.OtherRequests.Load(),
		},
		"cache": map[string]interface{}{
			"hits":          s.CacheHits.Load(),
			"misses":        s.CacheMisses.Load(),
			"negative_hits": s.NegativeCacheHits.Load(),
			"hit_rate":      s.CacheHitRate(),
		},
		"resolver": map[string]interface{}{
			"steps":     s.ResolveStepCounts(),
			"memo_hits": s.ResolveMemoHits.Load(),
			"failures":  s.ResolveFailures.Load(),
		},
		"spotify": map[string]interface{}{
			"token_exchanges": s.TokenExchanges.Load(),
			"catalog_errors":  s.CatalogErrors.Load(),
		},
		"batch": map[string]interface{}{
			"tracks":    s.BatchTracks.Load(),
			"succeeded": s.BatchSucceeded.Load(),
			"no_lyrics": s.BatchNoLyrics.Load(),
			"failed":    s.BatchFailed.Load(),
		},
		"rate_limiting": map[string]interface{}{
			"normal_tier": s.RateLimitNormal.Load(),
			"cached_tier": s.RateLimitCached.Load(),
			"exceeded":    s.RateLimitExceeded.Load(),
		},
		"responses": map[string]interface{}{
			"2xx": s.Status2xx.Load(),
			"4xx": s.Status4xx.Load(),
			"5xx": s.Status5xx.Load(),
		},
		"response_times": map[string]interface{}{
			"avg":        s.AvgResponseTime().String(),
			"min":        s.MinResponseTime().String(),
			"max":        s.MaxResponseTime().String(),
			"avg_lyrics": s.AvgLyricsResponseTime().String(),
		},
	}
}
