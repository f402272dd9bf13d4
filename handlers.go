package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"spotify-lyrics-api-go/cache"
	"spotify-lyrics-api-go/circuitbreaker"
	"spotify-lyrics-api-go/logcolors"
	"spotify-lyrics-api-go/middleware"
	"spotify-lyrics-api-go/services/batch"
	"spotify-lyrics-api-go/services/lyrics"
	"spotify-lyrics-api-go/services/notifier"
	"spotify-lyrics-api-go/services/spotify"
	"spotify-lyrics-api-go/services/track"
	"spotify-lyrics-api-go/stats"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

// User-facing messages. Upstream bodies are never echoed for credential failures.
const (
	msgInvalidURL         = "Invalid URL provided"
	msgUnresolvable       = "Could not parse Spotify URL or unsupported link provider."
	msgServerConfig       = "Server configuration error. Please contact support."
	msgSpotifyUnavailable = "Could not connect to Spotify. Please try again later."
	msgUnexpected         = "An unexpected error occurred."
	msgTrackIDRequired    = "Track ID is required"
	msgNoLyrics           = "No lyrics found for this track."
	msgNoLyricsEmpty      = "No lyrics found for this track (or lyrics are empty)."
	msgLyricsUnavailable  = "Lyrics service temporarily unavailable. Please try again later."
	msgLyricsUnexpected   = "An unexpected error occurred while fetching lyrics."
	msgCacheOnly          = "Rate limit exceeded. Only cached lyrics can be served right now."
	msgNoTracks           = "No tracks found to download"
)

// maxBodyBytes leaves room for client-supplied track lists
const maxBodyBytes = 1 << 20

// defaultCollectionName names archives of client-supplied tracks without an albumName
const defaultCollectionName = "lyrics"

func authorized(r *http.Request) bool {
	return middleware.KeysMatch(r.Header.Get("Authorization"), conf.Configuration.CacheAccessToken)
}

func decodeBody(r *http.Request, v interface{}) error {
	return json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v)
}

// resolveAndFetch resolves any supported link and returns the catalog entity
func resolveAndFetch(w http.ResponseWriter, r *http.Request) {
	resp := Respond(w, r)

	if isCacheOnly(r) {
		resp.Error(http.StatusTooManyRequests, map[string]interface{}{"error": msgCacheOnly})
		return
	}

	var req ResolveRequest
	if err := decodeBody(r, &req); err != nil || strings.TrimSpace(req.URL) == "" {
		resp.Error(http.StatusBadRequest, map[string]interface{}{"error": msgInvalidURL})
		return
	}

	ref, err := resolver.Resolve(r.Context(), req.URL)
	if err != nil {
		writeSpotifyError(resp, err)
		return
	}

	data, err := catalog.Fetch(r.Context(), *ref)
	if err != nil {
		writeSpotifyError(resp, err)
		return
	}

	log.Infof("%s Served %s", logcolors.LogCatalog, ref)
	resp.JSON(ResolveResponse{Type: ref.Kind, Data: data})
}

// getLyrics passes the upstream lyrics document through untouched
func getLyrics(w http.ResponseWriter, r *http.Request) {
	resp := Respond(w, r)

	trackID := strings.TrimSpace(r.URL.Query().Get("trackId"))
	if trackID == "" {
		resp.Error(http.StatusBadRequest, map[string]interface{}{"error": msgTrackIDRequired})
		return
	}

	format, err := lyrics.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		resp.Error(http.StatusBadRequest, map[string]interface{}{"error": err.Error()})
		return
	}

	var res *lyrics.Result
	if isCacheOnly(r) {
		res, err = lyricsFetcher.Peek(trackID, format)
		if res == nil && err == nil {
			log.Infof("%s Cache-only request for %s missed", logcolors.LogRateLimit, trackID)
			resp.Error(http.StatusTooManyRequests, map[string]interface{}{"error": msgCacheOnly})
			return
		}
	} else {
		res, err = lyricsFetcher.Fetch(r.Context(), trackID, format)
	}

	if res != nil {
		resp.SetCacheStatus(res.CacheStatus)
	}
	if err != nil {
		writeLyricsError(w, resp, err)
		return
	}

	resp.Raw(res.Payload.Raw)
}

// downloadLyrics serves a single lyrics file for a track, or a ZIP archive
// for an album or playlist
// requestedCollection returns the client-supplied track list, or resolves
// the URL and looks up its tracks
func requestedCollection(ctx context.Context, req DownloadRequest) (*spotify.Collection, error) {
	if len(req.Tracks) == 0 {
		ref, err := resolver.Resolve(ctx, req.URL)
		if err != nil {
			return nil, err
		}
		return catalog.Collection(ctx, *ref)
	}

	name := strings.TrimSpace(req.AlbumName)
	if name == "" {
		name = defaultCollectionName
	}
	metas := make([]track.Meta, 0, len(req.Tracks))
	for _, m := range req.Tracks {
		if meta := track.FromMap(m); meta.ID != "" {
			metas = append(metas, meta)
		}
	}
	return &spotify.Collection{Name: name, Tracks: metas}, nil
}

func downloadLyrics(w http.ResponseWriter, r *http.Request) {
	resp := Respond(w, r)

	if isCacheOnly(r) {
		resp.Error(http.StatusTooManyRequests, map[string]interface{}{"error": msgCacheOnly})
		return
	}

	var req DownloadRequest
	if err := decodeBody(r, &req); err != nil || (strings.TrimSpace(req.URL) == "" && len(req.Tracks) == 0) {
		resp.Error(http.StatusBadRequest, map[string]interface{}{"error": msgInvalidURL})
		return
	}

	format, err := lyrics.ParseFormat(req.LyricsType)
	if err != nil {
		resp.Error(http.StatusBadRequest, map[string]interface{}{"error": err.Error()})
		return
	}
	settings := batch.Settings{LyricsType: format, FileNameFormat: req.FileNameFormat}.WithDefaults()

	collection, err := requestedCollection(r.Context(), req)
	if err != nil {
		writeSpotifyError(resp, err)
		return
	}
	if len(collection.Tracks) == 0 {
		resp.Error(http.StatusBadRequest, map[string]interface{}{"error": msgNoTracks})
		return
	}

	downloader := batch.NewDownloader(lyricsFetcher, settings)
	var buf bytes.Buffer

	if collection.Kind == spotify.KindTrack {
		name, err := downloader.DownloadOne(r.Context(), collection.Tracks[0], &buf)
		if err != nil {
			writeLyricsError(w, resp, err)
			return
		}
		resp.Attachment(name, "text/plain; charset=utf-8", buf.Bytes())
		return
	}

	result, err := downloader.DownloadMany(r.Context(), collection.Tracks, collection.Name, &buf, nil)
	w.Header().Set("X-Batch-Successful", strconv.Itoa(result.Successful))
	w.Header().Set("X-Batch-Total", strconv.Itoa(result.Total))
	w.Header().Set("X-Batch-No-Lyrics", strconv.Itoa(result.NoLyricsCount))

	if failed, ok := batch.IsAllFailed(err); ok {
		status := http.StatusBadGateway
		if failed.NoLyrics() {
			status = http.StatusNotFound
		} else {
			notifier.PublishBatchFailed(collection.Name, result.Total)
		}
		resp.Error(status, map[string]interface{}{
			"error":     failed.Error(),
			"total":     result.Total,
			"no_lyrics": result.NoLyricsCount,
		})
		return
	}
	if errors.Is(err, context.Canceled) {
		log.Infof("%s Client went away during %q", logcolors.LogBatch, collection.Name)
		return
	}
	if err != nil {
		log.Errorf("%s Failed to package %q: %v", logcolors.LogBatch, collection.Name, err)
		resp.Error(http.StatusInternalServerError, map[string]interface{}{"error": msgUnexpected})
		return
	}

	resp.Attachment(batch.ArchiveName(collection.Name), "application/zip", buf.Bytes())
}

// writeSpotifyError maps resolver and catalog failures onto status codes
func writeSpotifyError(resp *APIResponse, err error) {
	var cfgErr *spotify.ConfigError
	var authErr *spotify.AuthError
	var apiErr *spotify.APIError

	switch {
	case errors.Is(err, context.Canceled):
		log.Debugf("%s Request canceled: %v", logcolors.LogHTTP, err)
	case errors.Is(err, spotify.ErrUnresolvable):
		resp.Error(http.StatusBadRequest, map[string]interface{}{"error": msgUnresolvable})
	case errors.As(err, &cfgErr):
		log.Errorf("%s %v", logcolors.LogConfig, cfgErr)
		resp.Error(http.StatusInternalServerError, map[string]interface{}{"error": msgServerConfig})
	case errors.As(err, &authErr):
		log.Errorf("%s %v", logcolors.LogToken, authErr)
		resp.Error(http.StatusBadGateway, map[string]interface{}{"error": msgSpotifyUnavailable})
	case errors.As(err, &apiErr):
		body := map[string]interface{}{"error": msgSpotifyUnavailable}
		if apiErr.Status != 0 {
			body["upstream_status"] = apiErr.Status
		}
		resp.Error(http.StatusBadGateway, body)
	default:
		log.Errorf("%s Unexpected error: %v", logcolors.LogHTTP, err)
		resp.Error(http.StatusInternalServerError, map[string]interface{}{"error": msgUnexpected})
	}
}

// writeLyricsError maps lyrics fetch and formatting failures onto status codes
func writeLyricsError(w http.ResponseWriter, resp *APIResponse, err error) {
	var nf *lyrics.NotFoundError
	var fe *lyrics.FetchError

	switch {
	case errors.Is(err, context.Canceled):
		log.Debugf("%s Request canceled: %v", logcolors.LogHTTP, err)
	case errors.As(err, &nf):
		msg := msgNoLyrics
		if nf.Reason == lyrics.ReasonEmpty {
			msg = msgNoLyricsEmpty
		}
		resp.Error(http.StatusNotFound, map[string]interface{}{"error": msg})
	case errors.Is(err, lyrics.ErrEmptyLyrics):
		resp.Error(http.StatusNotFound, map[string]interface{}{"error": err.Error()})
	case errors.Is(err, circuitbreaker.ErrCircuitOpen):
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds()))
		resp.Error(http.StatusServiceUnavailable, map[string]interface{}{"error": msgLyricsUnavailable})
	case errors.As(err, &fe):
		resp.Error(http.StatusBadGateway, map[string]interface{}{"error": fe.Error()})
	default:
		log.Errorf("%s Unexpected error: %v", logcolors.LogLyrics, err)
		resp.Error(http.StatusInternalServerError, map[string]interface{}{"error": msgLyricsUnexpected})
	}
}

func retryAfterSeconds() int {
	if lyricsBreaker == nil {
		return 1
	}
	secs := int(math.Ceil(lyricsBreaker.TimeUntilRetry().Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}

func getStats(w http.ResponseWriter, r *http.Request) {
	if !authorized(r) {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	snapshot := stats.Get().Snapshot()

	// Add cache storage info
	numKeys, sizeInKB := persistentCache.Stats()
	snapshot["cache_storage"] = map[string]interface{}{
		"keys":    numKeys,
		"size_kb": sizeInKB,
		"size_mb": float64(sizeInKB) / 1024,
	}

	snapshot["circuit_breaker"] = lyricsBreaker.Status()
	snapshot["rate_limiter"] = map[string]interface{}{
		"tracked_ips": rateLimiter.Len(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(snapshot)
}

func getCacheDump(w http.ResponseWriter, r *http.Request) {
	if !authorized(r) {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	cacheDump := CacheDump{}
	persistentCache.Range(func(key string, entry cache.CacheEntry) bool {
		cacheDump[key] = entry
		return true
	})

	numKeys, sizeInKB := persistentCache.Stats()
	s := stats.Get()

	cacheDumpResponse := CacheDumpResponse{
		NumberOfKeys: numKeys,
		SizeInKB:     sizeInKB,
		SizeInMB:     float64(sizeInKB) / 1024,
		Performance: CachePerformance{
			Hits:         s.CacheHits.Load(),
			Misses:       s.CacheMisses.Load(),
			NegativeHits: s.NegativeCacheHits.Load(),
			HitRate:      s.CacheHitRate(),
		},
		Cache: cacheDump,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(cacheDumpResponse)
}

func backupCache(w http.ResponseWriter, r *http.Request) {
	if !authorized(r) {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	backupPath, err := persistentCache.Backup()
	if err != nil {
		log.Errorf("%s Failed to create backup: %v", logcolors.LogCacheBackup, err)
		notifier.PublishCacheBackupFailed(err)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error": fmt.Sprintf("Failed to create backup: %v", err),
		})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"message":     "Backup created successfully",
		"backup_path": backupPath,
	})
}

func clearCache(w http.ResponseWriter, r *http.Request) {
	if !authorized(r) {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	backupPath, err := persistentCache.Backup()
	if err == nil {
		err = persistentCache.Clear()
	}
	if err != nil {
		log.Errorf("%s Failed to backup and clear cache: %v", logcolors.LogCacheClear, err)
		notifier.PublishCacheBackupFailed(err)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error": fmt.Sprintf("Failed to backup and clear cache: %v", err),
		})
		return
	}

	log.Infof("%s Cache cleared successfully, backup at: %s", logcolors.LogCacheClear, backupPath)
	notifier.PublishCacheCleared(backupPath)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"message":     "Cache cleared successfully",
		"backup_path": backupPath,
	})
}

func listBackups(w http.ResponseWriter, r *http.Request) {
	if !authorized(r) {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	backups, err := persistentCache.ListBackups()
	if err != nil {
		log.Errorf("%s Failed to list backups: %v", logcolors.LogCacheBackup, err)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error": fmt.Sprintf("Failed to list backups: %v", err),
		})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"count":   len(backups),
		"backups": backups,
	})
}

func restoreCache(w http.ResponseWriter, r *http.Request) {
	if !authorized(r) {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	backupFileName := r.URL.Query().Get("backup")
	if backupFileName == "" {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error": "Missing 'backup' query parameter. Use /cache/backups to list available backups.",
		})
		return
	}

	if err := persistentCache.RestoreFromBackup(backupFileName); err != nil {
		log.Errorf("%s Failed to restore from backup %s: %v", logcolors.LogCacheBackup, backupFileName, err)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error": fmt.Sprintf("Failed to restore from backup: %v", err),
		})
		return
	}

	numKeys, sizeKB := persistentCache.Stats()

	log.Infof("%s Cache restored from backup: %s", logcolors.LogCacheBackup, backupFileName)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"message":       "Cache restored successfully",
		"restored_from": backupFileName,
		"keys_restored": numKeys,
		"size_kb":       sizeKB,
	})
}

func getHealthStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	cbStatus := lyricsBreaker.Status()
	credentials := conf.HasSpotifyCredentials()

	health := map[string]interface{}{
		"status":              "ok",
		"spotify_credentials": credentials,
		"circuit_breaker":     cbStatus.State,
	}

	// Lyrics still work without credentials, link resolution does not
	if !credentials {
		health["status"] = "degraded"
		health["error"] = "Spotify credentials not configured"
	}

	if lyricsBreaker.State() == circuitbreaker.StateOpen {
		health["status"] = "degraded"
		health["circuit_breaker_retry_in"] = lyricsBreaker.TimeUntilRetry().Round(time.Second).String()
	}

	if authorized(r) {
		health["circuit_breaker_failures"] = cbStatus.Failures
		if tokenCache != nil {
			token := map[string]interface{}{
				"exchanges": tokenCache.Exchanges(),
			}
			if expiry := tokenCache.Expiry(); !expiry.IsZero() {
				token["expires"] = expiry.Format(time.RFC3339)
				token["valid"] = time.Now().Before(expiry)
			}
			health["token"] = token
		}
	}

	json.NewEncoder(w).Encode(health)
}

func getCircuitBreakerStatus(w http.ResponseWriter, r *http.Request) {
	if !authorized(r) {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"lyrics": lyricsBreaker.Status(),
		"config": map[string]interface{}{
			"threshold":    conf.Configuration.CircuitBreakerThreshold,
			"cooldown_sec": conf.Configuration.CircuitBreakerCooldownSecs,
		},
	})
}

func resetCircuitBreaker(w http.ResponseWriter, r *http.Request) {
	if !authorized(r) {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	lyricsBreaker.Reset()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"message": "Circuit breaker reset to CLOSED state",
	})
}

func testNotifications(w http.ResponseWriter, r *http.Request) {
	if !authorized(r) {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	w.Header().Set("Content-Type", "application/json")

	notifiers := setupNotifiers()

	if len(notifiers) == 0 {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error": "No notifiers configured. Please configure at least one notifier in your .env file.",
			"help": map[string]string{
				"telegram": "Set NOTIFIER_TELEGRAM_BOT_TOKEN and NOTIFIER_TELEGRAM_CHAT_ID",
				"email":    "Set NOTIFIER_SMTP_HOST, NOTIFIER_SMTP_USERNAME, NOTIFIER_SMTP_PASSWORD, etc.",
				"ntfy":     "Set NOTIFIER_NTFY_TOPIC",
			},
		})
		return
	}

	subject := "Test: spotify-lyrics-api alerts"
	message := fmt.Sprintf(
		"Your notification setup is working correctly.\n\n"+
			"Spotify credentials:  %t\n"+
			"Lyrics breaker:       %s\n"+
			"Sent at:              %s",
		conf.HasSpotifyCredentials(),
		lyricsBreaker.State(),
		time.Now().Format("2006-01-02 15:04:05"),
	)

	results := make(map[string]interface{})
	successCount := 0
	failCount := 0

	for _, n := range notifiers {
		notifierType := getNotifierTypeName(n)
		if err := n.Send(subject, message); err != nil {
			results[notifierType] = map[string]string{
				"status": "failed",
				"error":  err.Error(),
			}
			failCount++
			log.Errorf("%s %s failed: %v", logcolors.LogNotifier, notifierType, err)
		} else {
			results[notifierType] = map[string]string{
				"status": "success",
			}
			successCount++
			log.Infof("%s %s sent successfully", logcolors.LogNotifier, notifierType)
		}
	}

	if failCount > 0 {
		w.WriteHeader(http.StatusPartialContent)
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"message":    "Test notifications sent",
		"total":      len(notifiers),
		"successful": successCount,
		"failed":     failCount,
		"results":    results,
	})
}

func helpHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"help": "POST a Spotify, short or third-party music link to /resolve-and-fetch, then fetch lyrics with /lyrics?trackId=...&format=lrc|srt",
		"endpoints": map[string]string{
			"POST /resolve-and-fetch": `{"url": "..."} -> {"type": "track|album|playlist", "data": {...}}`,
			"GET /lyrics":             "trackId (required), format lrc|srt (default lrc)",
			"POST /download":          `{"url": "...", "lyricsType": "lrc|srt", "fileNameFormat": ["{track_number}", ". ", "{track_name}"]}`,
			"GET /health":             "service health",
		},
		"filename_tokens": []string{
			"{track_name}", "{track_artist}", "{track_album}", "{track_number}", "{track_id}",
			"{track_explicit}", "{track_release_date}", "{track_popularity}", "{track_duration}",
		},
	})
}
