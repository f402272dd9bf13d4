package lyrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"spotify-lyrics-api-go/circuitbreaker"
	"spotify-lyrics-api-go/logcolors"
	"spotify-lyrics-api-go/stats"
	"strings"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
	log "github.com/sirupsen/logrus"
)

// DefaultBaseURL is the public lyrics upstream
const DefaultBaseURL = "https://spotify-lyrics-api-pi.vercel.app/"

// Values for the X-Cache-Status header
const (
	CacheHit         = "HIT"
	CacheMiss        = "MISS"
	CacheNegativeHit = "NEGATIVE-HIT"
)

// Store is the subset of the persistent cache the fetcher needs
type Store interface {
	Get(key string) (string, bool)
	Set(key, value string, ttl time.Duration) error
}

// Result is a fetched payload and where it came from
type Result struct {
	Payload     *Payload
	CacheStatus string
}

// negativeEntry records why a track has no lyrics
type negativeEntry struct {
	Reason    string `json:"reason"`
	Timestamp int64  `json:"timestamp"`
}

// inFlight lets concurrent requests for the same key share one upstream call
type inFlight struct {
	done   chan struct{}
	result *Result
	err    error
}

// Fetcher retrieves lyrics documents from the upstream
type Fetcher struct {
	baseURL string
	client  *http.Client
	breaker *circuitbreaker.CircuitBreaker
	store   Store
	ttl     time.Duration
	negTTL  time.Duration

	maxRetries uint64
	retryBase  time.Duration

	inFlight sync.Map
	now      func() time.Time
}

// FetcherOptions configures NewFetcher. Store and Breaker are optional.
type FetcherOptions struct {
	BaseURL     string
	HTTPClient  *http.Client
	Breaker     *circuitbreaker.CircuitBreaker
	Store       Store
	CacheTTL    time.Duration
	NegativeTTL time.Duration

	// MaxRetries bounds retries of transient upstream failures (transport
	// errors, 502/503/504). RetryBase is the first Fibonacci backoff step.
	MaxRetries uint64
	RetryBase  time.Duration
}

func NewFetcher(opts FetcherOptions) *Fetcher {
	base := opts.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	retryBase := opts.RetryBase
	if retryBase <= 0 {
		retryBase = 500 * time.Millisecond
	}
	return &Fetcher{
		baseURL:    base,
		client:     client,
		breaker:    opts.Breaker,
		store:      opts.Store,
		ttl:        opts.CacheTTL,
		negTTL:     opts.NegativeTTL,
		maxRetries: opts.MaxRetries,
		retryBase:  retryBase,
		now:        time.Now,
	}
}

// BreakerIsFailure classifies errors for the upstream circuit breaker.
// Missing lyrics and caller cancellation say nothing about upstream health.
func BreakerIsFailure(err error) bool {
	if err == nil || IsNotFound(err) {
		return false
	}
	return !errors.Is(err, context.Canceled)
}

// isTransient reports whether a retry has a chance of succeeding
func isTransient(err error) bool {
	var fe *FetchError
	if !errors.As(err, &fe) || errors.Is(err, context.Canceled) {
		return false
	}
	switch fe.Status {
	case 0, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func cacheKey(trackID string, format Format) string {
	return fmt.Sprintf("lyrics:%s:%s", format, trackID)
}

func negativeKey(trackID string, format Format) string {
	return "no_lyrics:" + cacheKey(trackID, format)
}

// Fetch returns the lyrics document for a track. It returns *NotFoundError
// when the upstream has none and *FetchError for every other failure.
func (f *Fetcher) Fetch(ctx context.Context, trackID string, format Format) (*Result, error) {
	key := cacheKey(trackID, format)

	if res, ok := f.fromCache(trackID, format); ok {
		return res, nil
	}
	if reason, ok := f.negativeCached(trackID, format); ok {
		stats.Get().RecordNegativeCacheHit()
		log.Debugf("%s %s: %s", logcolors.LogCacheNegative, trackID, reason)
		return &Result{CacheStatus: CacheNegativeHit}, &NotFoundError{TrackID: trackID, Reason: reason}
	}
	stats.Get().RecordCacheMiss()

	v, loaded := f.inFlight.LoadOrStore(key, &inFlight{done: make(chan struct{})})
	req := v.(*inFlight)
	if loaded {
		log.Debugf("%s Waiting for in-flight request for %s", logcolors.LogLyrics, trackID)
		select {
		case <-req.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		// The leader's caller went away. Its cancellation is not ours.
		if isContextErr(req.err) && ctx.Err() == nil {
			return f.Fetch(ctx, trackID, format)
		}
		return req.result, req.err
	}

	defer func() {
		f.inFlight.Delete(key)
		close(req.done)
	}()

	req.result, req.err = f.fetchUpstream(ctx, trackID, format)
	return req.result, req.err
}

// Peek answers from the cache only. It returns a nil result when nothing
// is cached for the track, and never contacts the upstream.
func (f *Fetcher) Peek(trackID string, format Format) (*Result, error) {
	if res, ok := f.fromCache(trackID, format); ok {
		return res, nil
	}
	if reason, ok := f.negativeCached(trackID, format); ok {
		stats.Get().RecordNegativeCacheHit()
		return &Result{CacheStatus: CacheNegativeHit}, &NotFoundError{TrackID: trackID, Reason: reason}
	}
	return nil, nil
}

func (f *Fetcher) fetchUpstream(ctx context.Context, trackID string, format Format) (*Result, error) {
	var payload *Payload
	call := func() error {
		return retry.Do(ctx, retry.WithMaxRetries(f.maxRetries, retry.NewFibonacci(f.retryBase)), func(ctx context.Context) error {
			p, err := f.get(ctx, trackID, format)
			if err != nil && isTransient(err) {
				log.Warnf("%s Transient failure for %s, retrying: %v", logcolors.LogLyrics, trackID, err)
				return retry.RetryableError(err)
			}
			payload = p
			return err
		})
	}

	var err error
	if f.breaker != nil {
		err = f.breaker.Execute(call)
	} else {
		err = call()
	}

	if errors.Is(err, circuitbreaker.ErrCircuitOpen) {
		log.Warnf("%s Upstream circuit open, failing fast for %s", logcolors.LogLyrics, trackID)
		return nil, &FetchError{Status: http.StatusServiceUnavailable, Detail: "lyrics service temporarily unavailable", Err: err}
	}

	var nf *NotFoundError
	if errors.As(err, &nf) {
		f.storeNegative(trackID, format, nf.Reason)
		return &Result{CacheStatus: CacheMiss}, err
	}
	if err != nil {
		return nil, err
	}

	f.storePayload(trackID, format, payload)
	return &Result{Payload: payload, CacheStatus: CacheMiss}, nil
}

func (f *Fetcher) get(ctx context.Context, trackID string, format Format) (*Payload, error) {
	u, err := url.Parse(f.baseURL)
	if err != nil {
		return nil, &FetchError{Detail: "invalid lyrics API URL", Err: err}
	}
	q := u.Query()
	q.Set("trackid", trackID)
	q.Set("format", string(format))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, &FetchError{Detail: err.Error(), Err: err}
	}

	start := f.now()
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &FetchError{Detail: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, &FetchError{Status: resp.StatusCode, Detail: "failed to read response", Err: err}
	}
	log.Debugf("%s %s (%s) -> %d in %v", logcolors.LogLyrics, trackID, format, resp.StatusCode, f.now().Sub(start))

	if resp.StatusCode == http.StatusNotFound {
		return nil, &NotFoundError{TrackID: trackID, Reason: ReasonUpstream404}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		log.Errorf("%s External lyrics API error: %d %s", logcolors.LogLyrics, resp.StatusCode, truncate(string(body), 200))
		return nil, &FetchError{Status: resp.StatusCode, Detail: truncate(string(body), 200)}
	}

	payload, err := ParsePayload(body)
	if err != nil {
		return nil, &FetchError{Status: resp.StatusCode, Detail: "invalid JSON from lyrics API", Err: err}
	}
	if payload.signalsNoLyrics() {
		return nil, &NotFoundError{TrackID: trackID, Reason: ReasonEmpty}
	}
	return payload, nil
}

func (f *Fetcher) fromCache(trackID string, format Format) (*Result, bool) {
	if f.store == nil {
		return nil, false
	}
	raw, ok := f.store.Get(cacheKey(trackID, format))
	if !ok {
		return nil, false
	}
	payload, err := ParsePayload([]byte(raw))
	if err != nil {
		log.Warnf("%s Discarding unreadable entry for %s: %v", logcolors.LogCacheLyrics, trackID, err)
		return nil, false
	}
	stats.Get().RecordCacheHit()
	log.Infof("%s Serving %s (%s) from cache", logcolors.LogCacheLyrics, trackID, format)
	return &Result{Payload: payload, CacheStatus: CacheHit}, true
}

func (f *Fetcher) negativeCached(trackID string, format Format) (string, bool) {
	if f.store == nil || f.negTTL <= 0 {
		return "", false
	}
	raw, ok := f.store.Get(negativeKey(trackID, format))
	if !ok {
		return "", false
	}
	var entry negativeEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return "", false
	}
	return entry.Reason, true
}

func (f *Fetcher) storePayload(trackID string, format Format, p *Payload) {
	if f.store == nil {
		return
	}
	if err := f.store.Set(cacheKey(trackID, format), string(p.Raw), f.ttl); err != nil {
		log.Errorf("%s Error caching lyrics for %s: %v", logcolors.LogCacheLyrics, trackID, err)
	}
}

func (f *Fetcher) storeNegative(trackID string, format Format, reason string) {
	if f.store == nil || f.negTTL <= 0 {
		return
	}
	data, err := json.Marshal(negativeEntry{Reason: reason, Timestamp: f.now().Unix()})
	if err != nil {
		return
	}
	if err := f.store.Set(negativeKey(trackID, format), string(data), f.negTTL); err != nil {
		log.Errorf("%s Error setting negative cache: %v", logcolors.LogCacheNegative, err)
		return
	}
	log.Infof("%s Cached 'no lyrics' for %s (reason: %s)", logcolors.LogCacheNegative, trackID, reason)
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
