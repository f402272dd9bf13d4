package batch

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"spotify-lyrics-api-go/logcolors"
	"spotify-lyrics-api-go/services/lyrics"
	"spotify-lyrics-api-go/services/track"
	"spotify-lyrics-api-go/stats"
	"strings"

	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"
)

// LyricsSource fetches lyrics documents; *lyrics.Fetcher satisfies it
type LyricsSource interface {
	Fetch(ctx context.Context, trackID string, format lyrics.Format) (*lyrics.Result, error)
}

// Progress is emitted after every track, whatever its outcome
type Progress struct {
	Completed int     `json:"completed"`
	Total     int     `json:"total"`
	Percent   float64 `json:"percent"`
	TrackID   string  `json:"track_id"`
	OK        bool    `json:"ok"`
}

// Result summarizes a batch
type Result struct {
	Successful    int `json:"successful"`
	Total         int `json:"total"`
	NoLyricsCount int `json:"no_lyrics_count"`
}

// AllFailedError is returned when a batch produced no files
type AllFailedError struct {
	Result Result
}

// NoLyrics reports whether every track simply had no lyrics
func (e *AllFailedError) NoLyrics() bool {
	return e.Result.NoLyricsCount == e.Result.Total
}

func (e *AllFailedError) Error() string {
	if e.NoLyrics() {
		return "No lyrics found for any tracks in this collection."
	}
	return "Failed to download lyrics for any tracks."
}

// Downloader fetches and formats lyrics for one or many tracks
type Downloader struct {
	source   LyricsSource
	settings Settings
}

func NewDownloader(source LyricsSource, settings Settings) *Downloader {
	return &Downloader{source: source, settings: settings.WithDefaults()}
}

// Settings returns the effective settings
func (d *Downloader) Settings() Settings {
	return d.settings
}

// Render fetches and formats one track. It returns the file name and body.
func (d *Downloader) Render(ctx context.Context, meta track.Meta) (string, string, error) {
	format := d.settings.LyricsType

	res, err := d.source.Fetch(ctx, meta.ID, format)
	if err != nil {
		return "", "", err
	}
	parts, err := lyrics.Process(res.Payload, meta, format)
	if err != nil {
		return "", "", err
	}
	return EntryName(d.settings.FileNameFormat, meta, format.Ext()), strings.Join(parts, ""), nil
}

// DownloadOne writes a single track's lyrics file to w and returns its name
func (d *Downloader) DownloadOne(ctx context.Context, meta track.Meta, w io.Writer) (string, error) {
	name, body, err := d.Render(ctx, meta)
	if err != nil {
		return "", err
	}
	if _, err := io.WriteString(w, body); err != nil {
		return "", fmt.Errorf("failed to write lyrics: %w", err)
	}
	log.Infof("%s %s (%s)", logcolors.LogDownload, name, meta.ID)
	return name, nil
}

type entry struct {
	name string
	body string
}

// DownloadMany processes tracks one at a time and writes a ZIP of every
// successful file to w. Failures are skipped. When nothing succeeds it
// returns *AllFailedError and writes nothing. events may be nil; the
// context is checked between tracks.
func (d *Downloader) DownloadMany(ctx context.Context, tracks []track.Meta, collectionName string, w io.Writer, events chan<- Progress) (Result, error) {
	result := Result{Total: len(tracks)}
	var entries []entry
	index := map[string]int{}

	log.Infof("%s Starting %q: %d tracks", logcolors.LogBatch, collectionName, len(tracks))

	for i, meta := range tracks {
		if err := ctx.Err(); err != nil {
			log.Warnf("%s %q abandoned after %d/%d tracks", logcolors.LogBatch, collectionName, i, len(tracks))
			return result, err
		}

		name, body, err := d.Render(ctx, meta)
		switch {
		case err == nil:
			result.Successful++
			// later entries with the same name replace earlier ones
			if at, dup := index[name]; dup {
				log.Debugf("%s Duplicate entry %q, keeping the later track", logcolors.LogBatch, name)
				entries[at].body = body
			} else {
				index[name] = len(entries)
				entries = append(entries, entry{name: name, body: body})
			}
		case lyrics.IsNotFound(err):
			result.NoLyricsCount++
			log.Debugf("%s No lyrics for %s (%s)", logcolors.LogBatch, meta.Name, meta.ID)
		default:
			log.Warnf("%s Skipping %s (%s): %v", logcolors.LogBatch, meta.Name, meta.ID, err)
		}

		d.emit(ctx, events, Progress{
			Completed: i + 1,
			Total:     len(tracks),
			Percent:   float64(i+1) / float64(len(tracks)) * 100,
			TrackID:   meta.ID,
			OK:        err == nil,
		})
	}

	stats.Get().RecordBatch(result.Total, result.Successful, result.NoLyricsCount)

	if result.Successful == 0 {
		failErr := &AllFailedError{Result: result}
		log.Warnf("%s %q: %v", logcolors.LogBatch, collectionName, failErr)
		return result, failErr
	}

	if err := writeArchive(w, entries); err != nil {
		return result, err
	}

	log.Infof("%s %q done: %d/%d (%d without lyrics)", logcolors.LogBatch, collectionName,
		result.Successful, result.Total, result.NoLyricsCount)
	return result, nil
}

func (d *Downloader) emit(ctx context.Context, events chan<- Progress, p Progress) {
	if events == nil {
		return
	}
	select {
	case events <- p:
	case <-ctx.Done():
	}
}

func writeArchive(w io.Writer, entries []entry) error {
	zw := zip.NewWriter(w)
	for _, e := range entries {
		f, err := zw.Create(e.name)
		if err != nil {
			return fmt.Errorf("failed to add %s to archive: %w", e.name, err)
		}
		if _, err := io.WriteString(f, e.body); err != nil {
			return fmt.Errorf("failed to write %s: %w", e.name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to finalize archive: %w", err)
	}
	return nil
}

// EntryNames lists the file names an archive for these tracks would hold,
// in order and without duplicates.
func EntryNames(template []string, tracks []track.Meta, format lyrics.Format) []string {
	return lo.Uniq(lo.Map(tracks, func(m track.Meta, _ int) string {
		return EntryName(template, m, format.Ext())
	}))
}

// IsAllFailed unwraps an *AllFailedError
func IsAllFailed(err error) (*AllFailedError, bool) {
	var af *AllFailedError
	ok := errors.As(err, &af)
	return af, ok
}
