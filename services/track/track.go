// Package track holds the canonical per-track metadata used by the lyrics
// formatter and the batch downloader. Everything that looks like a track
// (catalog payloads, client-supplied JSON) is normalized into Meta once, at
// the edge, so nothing downstream has to know about alias fields.
package track

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/samber/lo"
	"github.com/zmb3/spotify/v2"
)

// Meta is the canonical track metadata
type Meta struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Number      int    `json:"track_number,omitempty"`
	Artist      string `json:"artist"`
	Album       string `json:"album"`
	Explicit    bool   `json:"explicit"`
	ReleaseDate string `json:"release_date,omitempty"`
	Popularity  *int   `json:"popularity,omitempty"`
	Duration    string `json:"duration"`
}

// FormatDuration renders milliseconds as mm:ss.hh
func FormatDuration(ms int) string {
	if ms < 0 {
		ms = 0
	}
	minutes := ms / 60000
	seconds := (ms % 60000) / 1000
	hundredths := (ms % 1000) / 10
	return fmt.Sprintf("%02d:%02d.%02d", minutes, seconds, hundredths)
}

// ArtistString joins artist names with ", "
func ArtistString(artists []spotify.SimpleArtist) string {
	return strings.Join(lo.Map(artists, func(a spotify.SimpleArtist, _ int) string { return a.Name }), ", ")
}

// FromFullTrack builds Meta from a catalog track
func FromFullTrack(ft *spotify.FullTrack) Meta {
	popularity := int(ft.Popularity)
	return Meta{
		ID:          string(ft.ID),
		Name:        ft.Name,
		Number:      int(ft.TrackNumber),
		Artist:      ArtistString(ft.Artists),
		Album:       ft.Album.Name,
		Explicit:    ft.Explicit,
		ReleaseDate: ft.Album.ReleaseDate,
		Popularity:  &popularity,
		Duration:    FormatDuration(int(ft.Duration)),
	}
}

// FromSimpleTrack builds Meta from an album track listing, which carries
// neither the album nor popularity.
func FromSimpleTrack(st spotify.SimpleTrack, albumName, releaseDate string) Meta {
	return Meta{
		ID:          string(st.ID),
		Name:        st.Name,
		Number:      int(st.TrackNumber),
		Artist:      ArtistString(st.Artists),
		Album:       albumName,
		Explicit:    st.Explicit,
		ReleaseDate: releaseDate,
		Duration:    FormatDuration(int(st.Duration)),
	}
}

// FromMap normalizes a loosely-typed track object. Each field is taken from
// the first alias that holds a non-empty value.
func FromMap(m map[string]any) Meta {
	meta := Meta{
		ID:          firstString(m, "track_id", "id"),
		Name:        firstString(m, "track_name", "name"),
		Artist:      firstString(m, "track_artist", "artist_string", "artists", "artist"),
		Album:       firstString(m, "track_album", "album.name", "albumName", "album"),
		ReleaseDate: firstString(m, "track_release_date", "album.release_date", "releaseDate"),
		Duration:    firstString(m, "formatted_duration", "duration"),
		Explicit:    truthy(m["explicit"]),
	}

	if n, ok := firstInt(m, "track_number", "trackNumber"); ok {
		meta.Number = n
	}
	if p, ok := firstInt(m, "popularity", "track_popularity"); ok {
		meta.Popularity = &p
	}
	if meta.Duration == "" {
		if ms, ok := firstInt(m, "duration_ms", "durationMs"); ok {
			meta.Duration = FormatDuration(ms)
		}
	}
	return meta
}

// lookup resolves a dotted path such as "album.name"
func lookup(m map[string]any, path string) (any, bool) {
	var cur any = m
	for _, part := range strings.Split(path, ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = obj[part]; !ok || cur == nil {
			return nil, false
		}
	}
	return cur, true
}

func firstString(m map[string]any, keys ...string) string {
	for _, key := range keys {
		v, ok := lookup(m, key)
		if !ok {
			continue
		}
		if s := stringify(v); s != "" {
			return s
		}
	}
	return ""
}

func stringify(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	case []any:
		// artists as [{name: ...}] or ["..."]
		names := lo.FilterMap(val, func(item any, _ int) (string, bool) {
			if obj, ok := item.(map[string]any); ok {
				item = obj["name"]
			}
			s, ok := item.(string)
			return s, ok && s != ""
		})
		return strings.Join(names, ", ")
	default:
		return ""
	}
}

func firstInt(m map[string]any, keys ...string) (int, bool) {
	for _, key := range keys {
		v, ok := lookup(m, key)
		if !ok {
			continue
		}
		switch n := v.(type) {
		case float64:
			return int(n), true
		case int:
			return n, true
		case string:
			if i, err := strconv.Atoi(n); err == nil {
				return i, true
			}
		}
	}
	return 0, false
}

func truthy(v any) bool {
	switch val := v.(type) {
	case bool:
		return val
	case string:
		b, _ := strconv.ParseBool(val)
		return b
	default:
		return false
	}
}
