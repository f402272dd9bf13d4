package main

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"spotify-lyrics-api-go/cache"
	"spotify-lyrics-api-go/circuitbreaker"
	"spotify-lyrics-api-go/middleware"
	"spotify-lyrics-api-go/services/lyrics"
	"spotify-lyrics-api-go/services/spotify"
	"spotify-lyrics-api-go/services/track"

	"github.com/gorilla/mux"
	"golang.org/x/time/rate"
)

type fakeResolver struct {
	ref *spotify.Reference
	err error
}

func (f *fakeResolver) Resolve(context.Context, string) (*spotify.Reference, error) {
	return f.ref, f.err
}

type fakeCatalog struct {
	collection *spotify.Collection
	err        error
}

func (f *fakeCatalog) Fetch(_ context.Context, ref spotify.Reference) (any, error) {
	if f.err != nil {
		return nil, f.err
	}
	return map[string]string{"id": ref.ID, "name": "Song"}, nil
}

func (f *fakeCatalog) Collection(context.Context, spotify.Reference) (*spotify.Collection, error) {
	return f.collection, f.err
}

// fakeLyrics answers Fetch from results/errs and Peek from cached
type fakeLyrics struct {
	results map[string]*lyrics.Result
	errs    map[string]error
	cached  map[string]*lyrics.Result
}

func (f *fakeLyrics) Fetch(_ context.Context, trackID string, _ lyrics.Format) (*lyrics.Result, error) {
	if err, ok := f.errs[trackID]; ok {
		return nil, err
	}
	if res, ok := f.results[trackID]; ok {
		return res, nil
	}
	return &lyrics.Result{CacheStatus: lyrics.CacheMiss}, &lyrics.NotFoundError{TrackID: trackID, Reason: lyrics.ReasonUpstream404}
}

func (f *fakeLyrics) Peek(trackID string, _ lyrics.Format) (*lyrics.Result, error) {
	return f.cached[trackID], nil
}

const lineSynced = `{"error":false,"syncType":"LINE_SYNCED","lines":[{"timeTag":"00:01.00","words":"Hello"}]}`

func payloadResult(status string) *lyrics.Result {
	p, _ := lyrics.ParsePayload([]byte(lineSynced))
	return &lyrics.Result{Payload: p, CacheStatus: status}
}

// setupTestEnvironment wires a temporary cache, breaker and limiter plus
// the given fakes into the package globals
func setupTestEnvironment(t *testing.T, res entityResolver, cat entityCatalog, src lyricsSource) {
	t.Helper()

	tmpDir := t.TempDir()
	var err error
	persistentCache, err = cache.NewPersistentCache(filepath.Join(tmpDir, "test_cache.db"), filepath.Join(tmpDir, "backups"), false)
	if err != nil {
		t.Fatalf("Failed to create test cache: %v", err)
	}

	lyricsBreaker = circuitbreaker.New(circuitbreaker.Config{Name: "Test", Threshold: 3, Cooldown: time.Minute})
	rateLimiter = middleware.NewIPRateLimiter(rate.Limit(100), 100, rate.Limit(100), 100)
	tokenCache = nil
	resolver, catalog, lyricsFetcher = res, cat, src

	saved := conf
	conf.Configuration.CacheAccessToken = "secret"
	conf.Configuration.APIKey = "key"

	t.Cleanup(func() {
		persistentCache.Close()
		conf = saved
	})
}

func newRouter() *mux.Router {
	router := mux.NewRouter()
	setupRoutes(router)
	return router
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("Expected JSON error body, got %q", w.Body.String())
	}
	msg, _ := body["error"].(string)
	return msg
}

func TestResolveAndFetch_StatusMapping(t *testing.T) {
	trackRef := &spotify.Reference{Kind: spotify.KindTrack, ID: "abc"}

	tests := []struct {
		name       string
		body       string
		resolveErr error
		catalogErr error
		wantStatus int
		wantError  string
	}{
		{"Missing url", `{}`, nil, nil, http.StatusBadRequest, msgInvalidURL},
		{"Malformed body", `not json`, nil, nil, http.StatusBadRequest, msgInvalidURL},
		{"Unresolvable", `{"url":"https://example.com"}`, spotify.ErrUnresolvable, nil, http.StatusBadRequest, msgUnresolvable},
		{"Missing credentials", `{"url":"x"}`, nil, &spotify.ConfigError{Missing: []string{"SPOTIFY_CLIENT_ID"}}, http.StatusInternalServerError, msgServerConfig},
		{"Token exchange failed", `{"url":"x"}`, nil, &spotify.AuthError{Status: 401, Body: "invalid_client"}, http.StatusBadGateway, msgSpotifyUnavailable},
		{"Catalog error", `{"url":"x"}`, nil, &spotify.APIError{Status: 404, Resource: "track abc"}, http.StatusBadGateway, msgSpotifyUnavailable},
		{"Unexpected error", `{"url":"x"}`, nil, errors.New("boom"), http.StatusInternalServerError, msgUnexpected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := &fakeResolver{ref: trackRef, err: tt.resolveErr}
			if tt.resolveErr != nil {
				res.ref = nil
			}
			setupTestEnvironment(t, res, &fakeCatalog{err: tt.catalogErr}, &fakeLyrics{})

			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodPost, "/resolve-and-fetch", strings.NewReader(tt.body))
			newRouter().ServeHTTP(w, r)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if got := decodeError(t, w); got != tt.wantError {
				t.Errorf("error = %q, want %q", got, tt.wantError)
			}
		})
	}
}

func TestResolveAndFetch_Success(t *testing.T) {
	setupTestEnvironment(t,
		&fakeResolver{ref: &spotify.Reference{Kind: spotify.KindAlbum, ID: "alb"}},
		&fakeCatalog{}, &fakeLyrics{})

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/resolve-and-fetch", strings.NewReader(`{"url":"https://open.spotify.com/album/alb"}`))
	newRouter().ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var body struct {
		Type string            `json:"type"`
		Data map[string]string `json:"data"`
	}
	json.NewDecoder(w.Body).Decode(&body)
	if body.Type != "album" || body.Data["id"] != "alb" {
		t.Errorf("Unexpected body %+v", body)
	}
}

func TestResolveAndFetch_RejectsGet(t *testing.T) {
	setupTestEnvironment(t, &fakeResolver{}, &fakeCatalog{}, &fakeLyrics{})

	w := httptest.NewRecorder()
	newRouter().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/resolve-and-fetch", nil))

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", w.Code)
	}
}

func TestGetLyrics_StatusMapping(t *testing.T) {
	src := &fakeLyrics{
		results: map[string]*lyrics.Result{"ok": payloadResult(lyrics.CacheHit)},
		errs: map[string]error{
			"empty":  &lyrics.NotFoundError{TrackID: "empty", Reason: lyrics.ReasonEmpty},
			"broken": &lyrics.FetchError{Status: 500},
			"open":   &lyrics.FetchError{Status: 503, Err: circuitbreaker.ErrCircuitOpen},
		},
	}

	tests := []struct {
		name        string
		query       string
		wantStatus  int
		wantError   string
		wantRetry   bool
		wantCacheHd string
	}{
		{"Missing track ID", "", http.StatusBadRequest, msgTrackIDRequired, false, ""},
		{"Invalid format", "?trackId=ok&format=txt", http.StatusBadRequest, lyrics.ErrInvalidFormat.Error(), false, ""},
		{"Format is case sensitive", "?trackId=ok&format=LRC", http.StatusBadRequest, lyrics.ErrInvalidFormat.Error(), false, ""},
		{"Upstream 404", "?trackId=missing", http.StatusNotFound, msgNoLyrics, false, lyrics.CacheMiss},
		{"Empty lyrics", "?trackId=empty", http.StatusNotFound, msgNoLyricsEmpty, false, ""},
		{"Upstream failure", "?trackId=broken&format=srt", http.StatusBadGateway, "Failed to fetch lyrics: 500", false, ""},
		{"Circuit open", "?trackId=open", http.StatusServiceUnavailable, msgLyricsUnavailable, true, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setupTestEnvironment(t, &fakeResolver{}, &fakeCatalog{}, src)

			w := httptest.NewRecorder()
			newRouter().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/lyrics"+tt.query, nil))

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if got := decodeError(t, w); got != tt.wantError {
				t.Errorf("error = %q, want %q", got, tt.wantError)
			}
			if tt.wantRetry && w.Header().Get("Retry-After") == "" {
				t.Error("Expected Retry-After header while the breaker is open")
			}
			if got := w.Header().Get("X-Cache-Status"); got != tt.wantCacheHd {
				t.Errorf("X-Cache-Status = %q, want %q", got, tt.wantCacheHd)
			}
		})
	}
}

func TestGetLyrics_PassesPayloadThrough(t *testing.T) {
	setupTestEnvironment(t, &fakeResolver{}, &fakeCatalog{},
		&fakeLyrics{results: map[string]*lyrics.Result{"ok": payloadResult(lyrics.CacheHit)}})

	w := httptest.NewRecorder()
	newRouter().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/lyrics?trackId=ok&format=lrc", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if w.Body.String() != lineSynced {
		t.Errorf("Expected upstream body untouched, got %q", w.Body.String())
	}
	if got := w.Header().Get("X-Cache-Status"); got != lyrics.CacheHit {
		t.Errorf("X-Cache-Status = %q, want HIT", got)
	}
}

func TestCacheOnlyMode(t *testing.T) {
	src := &fakeLyrics{
		results: map[string]*lyrics.Result{"fresh": payloadResult(lyrics.CacheMiss)},
		cached:  map[string]*lyrics.Result{"cached": payloadResult(lyrics.CacheHit)},
	}

	tests := []struct {
		name       string
		method     string
		target     string
		body       string
		wantStatus int
	}{
		{"Cached lyrics served", http.MethodGet, "/lyrics?trackId=cached", "", http.StatusOK},
		{"Uncached lyrics refused", http.MethodGet, "/lyrics?trackId=fresh", "", http.StatusTooManyRequests},
		{"Resolve refused", http.MethodPost, "/resolve-and-fetch", `{"url":"x"}`, http.StatusTooManyRequests},
		{"Download refused", http.MethodPost, "/download", `{"url":"x"}`, http.StatusTooManyRequests},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setupTestEnvironment(t, &fakeResolver{}, &fakeCatalog{}, src)

			r := httptest.NewRequest(tt.method, tt.target, strings.NewReader(tt.body))
			r = r.WithContext(context.WithValue(r.Context(), cacheOnlyModeKey, true))
			w := httptest.NewRecorder()
			newRouter().ServeHTTP(w, r)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}
}

func TestDownload_SingleTrack(t *testing.T) {
	meta := track.Meta{ID: "t1", Name: "Song", Number: 3}
	setupTestEnvironment(t,
		&fakeResolver{ref: &spotify.Reference{Kind: spotify.KindTrack, ID: "t1"}},
		&fakeCatalog{collection: &spotify.Collection{Kind: spotify.KindTrack, Name: "Song", Tracks: []track.Meta{meta}}},
		&fakeLyrics{results: map[string]*lyrics.Result{"t1": payloadResult(lyrics.CacheMiss)}})

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/download", strings.NewReader(`{"url":"x","lyricsType":"lrc"}`))
	newRouter().ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	if got := w.Header().Get("Content-Disposition"); got != `attachment; filename="3. Song.lrc"` {
		t.Errorf("Content-Disposition = %q", got)
	}
	if !strings.Contains(w.Body.String(), "[00:01.00] Hello") {
		t.Errorf("Expected LRC line in body, got %q", w.Body.String())
	}
}

func TestDownload_Collection(t *testing.T) {
	tracks := []track.Meta{
		{ID: "t1", Name: "One", Number: 1},
		{ID: "t2", Name: "Two", Number: 2},
		{ID: "t3", Name: "Three", Number: 3},
	}
	collection := &spotify.Collection{Kind: spotify.KindPlaylist, Name: "Road: Trip", Tracks: tracks}

	tests := []struct {
		name       string
		src        *fakeLyrics
		wantStatus int
		wantOK     string
	}{
		{
			name:       "Partial success",
			src:        &fakeLyrics{results: map[string]*lyrics.Result{"t1": payloadResult(lyrics.CacheMiss), "t3": payloadResult(lyrics.CacheHit)}},
			wantStatus: http.StatusOK,
			wantOK:     "2",
		},
		{
			name:       "No lyrics anywhere",
			src:        &fakeLyrics{},
			wantStatus: http.StatusNotFound,
			wantOK:     "0",
		},
		{
			name:       "Every fetch failed",
			src:        &fakeLyrics{errs: map[string]error{"t1": &lyrics.FetchError{Status: 500}, "t2": &lyrics.FetchError{Status: 500}, "t3": &lyrics.FetchError{Status: 500}}},
			wantStatus: http.StatusBadGateway,
			wantOK:     "0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setupTestEnvironment(t,
				&fakeResolver{ref: &spotify.Reference{Kind: spotify.KindPlaylist, ID: "pl"}},
				&fakeCatalog{collection: collection}, tt.src)

			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodPost, "/download", strings.NewReader(`{"url":"x","lyricsType":"srt"}`))
			newRouter().ServeHTTP(w, r)

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if got := w.Header().Get("X-Batch-Successful"); got != tt.wantOK {
				t.Errorf("X-Batch-Successful = %q, want %q", got, tt.wantOK)
			}
			if got := w.Header().Get("X-Batch-Total"); got != "3" {
				t.Errorf("X-Batch-Total = %q, want 3", got)
			}
			if tt.wantStatus != http.StatusOK {
				return
			}

			if got := w.Header().Get("Content-Disposition"); got != `attachment; filename="Road_ Trip.zip"` {
				t.Errorf("Content-Disposition = %q", got)
			}
			data := w.Body.Bytes()
			zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
			if err != nil {
				t.Fatalf("Invalid archive: %v", err)
			}
			if len(zr.File) != 2 || zr.File[0].Name != "1. One.srt" {
				t.Errorf("Unexpected archive entries %v", zr.File)
			}
		})
	}
}

func TestDownload_ClientSuppliedTracks(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		wantStatus  int
		wantArchive string
		wantEntries []string
	}{
		{
			name: "Alias fields normalized",
			body: `{"lyricsType":"lrc","albumName":"Mixtape","tracks":[
				{"id":"t1","name":"One","track_number":1,"album":{"name":"Road Trip"}},
				{"track_id":"t2","track_name":"Two","trackNumber":2},
				{"name":"Local file"}]}`,
			wantStatus:  http.StatusOK,
			wantArchive: "attachment; filename=Mixtape.zip",
			wantEntries: []string{"1. One.lrc", "2. Two.lrc"},
		},
		{
			name:        "Default archive name",
			body:        `{"tracks":[{"id":"t1","name":"One","track_number":1}]}`,
			wantStatus:  http.StatusOK,
			wantArchive: "attachment; filename=lyrics.zip",
			wantEntries: []string{"1. One.lrc"},
		},
		{
			name:       "No usable track ids",
			body:       `{"tracks":[{"name":"Local file"}]}`,
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setupTestEnvironment(t,
				&fakeResolver{err: spotify.ErrUnresolvable},
				&fakeCatalog{err: errors.New("catalog must not be called")},
				&fakeLyrics{results: map[string]*lyrics.Result{"t1": payloadResult(lyrics.CacheMiss), "t2": payloadResult(lyrics.CacheMiss)}})

			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodPost, "/download", strings.NewReader(tt.body))
			newRouter().ServeHTTP(w, r)

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d: %s", w.Code, tt.wantStatus, w.Body.String())
			}
			if tt.wantStatus != http.StatusOK {
				return
			}
			if got := w.Header().Get("Content-Disposition"); got != tt.wantArchive {
				t.Errorf("Content-Disposition = %q, want %q", got, tt.wantArchive)
			}
			if got := w.Header().Get("X-Batch-Total"); got != strconv.Itoa(len(tt.wantEntries)) {
				t.Errorf("X-Batch-Total = %q, want %d", got, len(tt.wantEntries))
			}

			data := w.Body.Bytes()
			zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
			if err != nil {
				t.Fatalf("Invalid archive: %v", err)
			}
			if len(zr.File) != len(tt.wantEntries) {
				t.Fatalf("archive has %d entries, want %d", len(zr.File), len(tt.wantEntries))
			}
			for i, f := range zr.File {
				if f.Name != tt.wantEntries[i] {
					t.Errorf("entry %d = %q, want %q", i, f.Name, tt.wantEntries[i])
				}
			}
		})
	}
}

func TestDownload_InvalidLyricsType(t *testing.T) {
	setupTestEnvironment(t, &fakeResolver{}, &fakeCatalog{}, &fakeLyrics{})

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/download", strings.NewReader(`{"url":"x","lyricsType":"txt"}`))
	newRouter().ServeHTTP(w, r)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestAdminRoutesRequireToken(t *testing.T) {
	routes := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/stats"},
		{http.MethodGet, "/cache"},
		{http.MethodGet, "/cache/backups"},
		{http.MethodPost, "/cache/backup"},
		{http.MethodPost, "/cache/clear"},
		{http.MethodGet, "/circuit-breaker"},
		{http.MethodPost, "/circuit-breaker/reset"},
	}

	for _, rt := range routes {
		t.Run(rt.path, func(t *testing.T) {
			setupTestEnvironment(t, &fakeResolver{}, &fakeCatalog{}, &fakeLyrics{})
			router := newRouter()

			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(rt.method, rt.path, nil))
			if w.Code != http.StatusUnauthorized {
				t.Errorf("Without token: status = %d, want 401", w.Code)
			}

			r := httptest.NewRequest(rt.method, rt.path, nil)
			r.Header.Set("Authorization", "secret")
			w = httptest.NewRecorder()
			router.ServeHTTP(w, r)
			if w.Code != http.StatusOK {
				t.Errorf("With token: status = %d, want 200: %s", w.Code, w.Body.String())
			}
		})
	}
}

func TestAuthorized_EmptyTokenDeniesEverything(t *testing.T) {
	setupTestEnvironment(t, &fakeResolver{}, &fakeCatalog{}, &fakeLyrics{})
	conf.Configuration.CacheAccessToken = ""

	r := httptest.NewRequest(http.MethodGet, "/stats", nil)
	if authorized(r) {
		t.Error("An unset access token must not authorize an empty header")
	}
}

func TestHealth(t *testing.T) {
	setupTestEnvironment(t, &fakeResolver{}, &fakeCatalog{}, &fakeLyrics{})
	conf.Configuration.SpotifyClientID = "id"
	conf.Configuration.SpotifyClientSecret = "secret"

	check := func() map[string]interface{} {
		w := httptest.NewRecorder()
		newRouter().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
		var body map[string]interface{}
		json.NewDecoder(w.Body).Decode(&body)
		return body
	}

	if got := check()["status"]; got != "ok" {
		t.Errorf("status = %v, want ok", got)
	}

	for i := 0; i < 3; i++ {
		lyricsBreaker.RecordFailure()
	}
	body := check()
	if body["status"] != "degraded" || body["circuit_breaker"] != "OPEN" {
		t.Errorf("Expected degraded with open breaker, got %v", body)
	}

	lyricsBreaker.Reset()
	conf.Configuration.SpotifyClientSecret = ""
	if got := check()["status"]; got != "degraded" {
		t.Errorf("Expected degraded without credentials, got %v", got)
	}
}

func TestLimitMiddleware(t *testing.T) {
	setupTestEnvironment(t, &fakeResolver{}, &fakeCatalog{}, &fakeLyrics{})
	limiter := middleware.NewIPRateLimiter(rate.Limit(0.001), 1, rate.Limit(0.001), 1)

	var seenCacheOnly []bool
	handler := limitMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenCacheOnly = append(seenCacheOnly, isCacheOnly(r))
		w.WriteHeader(http.StatusOK)
	}), limiter)

	call := func(apiKey string) *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodGet, "/lyrics", nil)
		r.RemoteAddr = "10.0.0.1:1234"
		if apiKey != "" {
			r.Header.Set("X-API-Key", apiKey)
		}
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		return w
	}

	tiers := []struct {
		wantType   string
		wantStatus int
	}{
		{"normal", http.StatusOK},
		{"cached", http.StatusOK},
		{"exceeded", http.StatusTooManyRequests},
	}
	for _, tier := range tiers {
		w := call("")
		if got := w.Header().Get("X-RateLimit-Type"); got != tier.wantType {
			t.Errorf("X-RateLimit-Type = %q, want %q", got, tier.wantType)
		}
		if w.Code != tier.wantStatus {
			t.Errorf("%s tier: status = %d, want %d", tier.wantType, w.Code, tier.wantStatus)
		}
	}

	if len(seenCacheOnly) != 2 || seenCacheOnly[0] || !seenCacheOnly[1] {
		t.Errorf("Expected only the cached tier to be cache-only, got %v", seenCacheOnly)
	}

	if w := call("key"); w.Code != http.StatusOK || w.Header().Get("X-RateLimit-Bypass") != "true" {
		t.Errorf("Expected API key to bypass limits, got %d", w.Code)
	}
	if w := call("wrong"); w.Code != http.StatusTooManyRequests {
		t.Errorf("Expected wrong API key to be limited, got %d", w.Code)
	}
}
