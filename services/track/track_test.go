package track

import (
	"encoding/json"
	"testing"

	"github.com/zmb3/spotify/v2"
)

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		ms       int
		expected string
	}{
		{0, "00:00.00"},
		{1000, "00:01.00"},
		{61010, "01:01.01"},
		{215999, "03:35.99"},
		{3600000, "60:00.00"},
		{-5, "00:00.00"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := FormatDuration(tt.ms); got != tt.expected {
				t.Errorf("FormatDuration(%d) = %q, want %q", tt.ms, got, tt.expected)
			}
		})
	}
}

func TestArtistString(t *testing.T) {
	artists := []spotify.SimpleArtist{{Name: "Daft Punk"}, {Name: "Pharrell Williams"}}
	if got := ArtistString(artists); got != "Daft Punk, Pharrell Williams" {
		t.Errorf("Expected joined artists, got %q", got)
	}
	if got := ArtistString(nil); got != "" {
		t.Errorf("Expected empty string for no artists, got %q", got)
	}
}

func TestFromFullTrack(t *testing.T) {
	ft := &spotify.FullTrack{}
	ft.ID = "4uLU6hMCjMI75M1A2tKUQC"
	ft.Name = "Get Lucky"
	ft.Artists = []spotify.SimpleArtist{{Name: "Daft Punk"}}
	ft.TrackNumber = 8
	ft.Duration = 369626
	ft.Explicit = true
	ft.Popularity = 80
	ft.Album.Name = "Random Access Memories"
	ft.Album.ReleaseDate = "2013-05-17"

	meta := FromFullTrack(ft)

	if meta.ID != "4uLU6hMCjMI75M1A2tKUQC" || meta.Name != "Get Lucky" || meta.Number != 8 {
		t.Errorf("Unexpected identity fields: %+v", meta)
	}
	if meta.Album != "Random Access Memories" || meta.ReleaseDate != "2013-05-17" {
		t.Errorf("Unexpected album fields: %+v", meta)
	}
	if meta.Duration != "06:09.62" {
		t.Errorf("Expected duration 06:09.62, got %q", meta.Duration)
	}
	if meta.Popularity == nil || *meta.Popularity != 80 {
		t.Errorf("Expected popularity 80, got %v", meta.Popularity)
	}
	if !meta.Explicit {
		t.Error("Expected explicit flag")
	}
}

func TestFromSimpleTrack(t *testing.T) {
	st := spotify.SimpleTrack{Name: "Intro", TrackNumber: 1, Duration: 90000}
	meta := FromSimpleTrack(st, "Album", "2020")

	if meta.Album != "Album" || meta.ReleaseDate != "2020" {
		t.Errorf("Expected album context to be applied, got %+v", meta)
	}
	if meta.Popularity != nil {
		t.Errorf("Expected no popularity for album listings, got %v", *meta.Popularity)
	}
	if meta.Duration != "01:30.00" {
		t.Errorf("Expected 01:30.00, got %q", meta.Duration)
	}
}

func TestFromMap(t *testing.T) {
	tests := []struct {
		name  string
		input string
		check func(t *testing.T, m Meta)
	}{
		{
			name:  "Canonical track_ aliases win",
			input: `{"track_name":"A","name":"B","track_artist":"X","artist_string":"Y","track_album":"Al","album":{"name":"Other"}}`,
			check: func(t *testing.T, m Meta) {
				if m.Name != "A" || m.Artist != "X" || m.Album != "Al" {
					t.Errorf("Expected first aliases to win, got %+v", m)
				}
			},
		},
		{
			name:  "Catalog shaped object",
			input: `{"id":"abc","name":"Song","track_number":3,"artists":[{"name":"P"},{"name":"Q"}],"album":{"name":"LP","release_date":"1999"},"explicit":true,"popularity":42,"formatted_duration":"03:00.00"}`,
			check: func(t *testing.T, m Meta) {
				if m.ID != "abc" || m.Name != "Song" || m.Number != 3 {
					t.Errorf("Unexpected identity: %+v", m)
				}
				if m.Artist != "P, Q" {
					t.Errorf("Expected artist list to be joined, got %q", m.Artist)
				}
				if m.Album != "LP" || m.ReleaseDate != "1999" {
					t.Errorf("Expected nested album fields, got %+v", m)
				}
				if !m.Explicit || m.Popularity == nil || *m.Popularity != 42 {
					t.Errorf("Unexpected explicit/popularity: %+v", m)
				}
				if m.Duration != "03:00.00" {
					t.Errorf("Expected formatted duration, got %q", m.Duration)
				}
			},
		},
		{
			name:  "Simplified details shape",
			input: `{"id":"x","name":"N","artists":"A, B","albumName":"Alb","trackNumber":7,"durationMs":61000,"releaseDate":"2001"}`,
			check: func(t *testing.T, m Meta) {
				if m.Artist != "A, B" || m.Album != "Alb" || m.Number != 7 || m.ReleaseDate != "2001" {
					t.Errorf("Unexpected fields: %+v", m)
				}
				if m.Duration != "01:01.00" {
					t.Errorf("Expected duration from durationMs, got %q", m.Duration)
				}
			},
		},
		{
			name:  "Empty values fall through",
			input: `{"track_name":"","name":"Fallback"}`,
			check: func(t *testing.T, m Meta) {
				if m.Name != "Fallback" {
					t.Errorf("Expected empty alias to be skipped, got %q", m.Name)
				}
				if m.Popularity != nil {
					t.Error("Expected nil popularity when absent")
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var m map[string]any
			if err := json.Unmarshal([]byte(tt.input), &m); err != nil {
				t.Fatalf("bad fixture: %v", err)
			}
			tt.check(t, FromMap(m))
		})
	}
}
