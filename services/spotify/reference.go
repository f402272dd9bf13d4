package spotify

import (
	"fmt"
	"regexp"
)

// Kind is the entity type a link points at
type Kind string

const (
	KindTrack    Kind = "track"
	KindAlbum    Kind = "album"
	KindPlaylist Kind = "playlist"
)

// Reference identifies a catalog entity
type Reference struct {
	Kind Kind   `json:"type"`
	ID   string `json:"id"`
}

func (r Reference) String() string {
	return fmt.Sprintf("spotify:%s:%s", r.Kind, r.ID)
}

// URL returns the open.spotify.com link for the reference
func (r Reference) URL() string {
	return fmt.Sprintf("https://open.spotify.com/%s/%s", r.Kind, r.ID)
}

var linkPattern = regexp.MustCompile(`^(?:spotify:(track|album|playlist):|https?://[a-z]+\.spotify\.com/(track|playlist|album)/)([a-zA-Z0-9]{22})`)

// Match parses a URI-scheme or web Spotify link. The id must be exactly 22
// alphanumeric characters; trailing query strings are ignored.
func Match(link string) (*Reference, bool) {
	m := linkPattern.FindStringSubmatch(link)
	if m == nil {
		return nil, false
	}
	kind := m[1]
	if kind == "" {
		kind = m[2]
	}
	return &Reference{Kind: Kind(kind), ID: m[3]}, true
}
