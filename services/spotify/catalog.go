package spotify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"spotify-lyrics-api-go/logcolors"
	"spotify-lyrics-api-go/services/track"
	"spotify-lyrics-api-go/stats"
	"strings"

	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"
	"github.com/zmb3/spotify/v2"
)

// DefaultMarket is the market albums and playlists are requested in
const DefaultMarket = "US"

const albumPageSize = 50

// bearerTransport adds the cached access token to every request
type bearerTransport struct {
	base   http.RoundTripper
	tokens TokenSource
}

func (t *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	token, err := t.tokens.Token(req.Context())
	if err != nil {
		return nil, err
	}

	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}

	req = req.Clone(req.Context())
	req.Header.Set("Authorization", "Bearer "+token)
	return base.RoundTrip(req)
}

// CatalogOptions configures NewCatalog
type CatalogOptions struct {
	// BaseURL overrides the Web API root, mostly for tests
	BaseURL string
	Market  string
	// Transport is the underlying round tripper; nil uses http.DefaultTransport
	Transport http.RoundTripper
}

// Catalog reads tracks, albums and playlists from the Spotify Web API
type Catalog struct {
	client *spotify.Client
	market string
}

func NewCatalog(tokens TokenSource, opts CatalogOptions) *Catalog {
	hc := &http.Client{Transport: &bearerTransport{base: opts.Transport, tokens: tokens}}

	var clientOpts []spotify.ClientOption
	if opts.BaseURL != "" {
		base := opts.BaseURL
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		clientOpts = append(clientOpts, spotify.WithBaseURL(base))
	}

	market := opts.Market
	if market == "" {
		market = DefaultMarket
	}

	return &Catalog{client: spotify.New(hc, clientOpts...), market: market}
}

// Track is a catalog track with its derived display fields
type Track struct {
	*spotify.FullTrack
	FormattedDuration string `json:"formatted_duration"`
	ArtistString      string `json:"artist_string"`
}

// AlbumTrack is one entry of an album listing
type AlbumTrack struct {
	spotify.SimpleTrack
	FormattedDuration string `json:"formatted_duration"`
	ArtistString      string `json:"artist_string"`
}

type AlbumTracks struct {
	Items []AlbumTrack `json:"items"`
	Total int          `json:"total"`
}

// Album shadows the embedded track page with decorated entries
type Album struct {
	*spotify.FullAlbum
	ArtistString string      `json:"artist_string"`
	Tracks       AlbumTracks `json:"tracks"`
}

type PlaylistItem struct {
	AddedAt string `json:"added_at"`
	IsLocal bool   `json:"is_local"`
	Track   Track  `json:"track"`
}

type PlaylistTracks struct {
	Items []PlaylistItem `json:"items"`
	Total int            `json:"total"`
}

// Playlist holds every non-null track across all pages
type Playlist struct {
	*spotify.FullPlaylist
	Tracks PlaylistTracks `json:"tracks"`
}

func decorateTrack(ft *spotify.FullTrack) Track {
	return Track{
		FullTrack:         ft,
		FormattedDuration: track.FormatDuration(int(ft.Duration)),
		ArtistString:      track.ArtistString(ft.Artists),
	}
}

// decorateAlbumTracks drops entries without an id
func decorateAlbumTracks(items []spotify.SimpleTrack) []AlbumTrack {
	return lo.FilterMap(items, func(st spotify.SimpleTrack, _ int) (AlbumTrack, bool) {
		return AlbumTrack{
			SimpleTrack:       st,
			FormattedDuration: track.FormatDuration(int(st.Duration)),
			ArtistString:      track.ArtistString(st.Artists),
		}, st.ID != ""
	})
}

// playlistItems drops null (removed or unavailable) entries
func playlistItems(items []spotify.PlaylistTrack) []PlaylistItem {
	return lo.FilterMap(items, func(pt spotify.PlaylistTrack, _ int) (PlaylistItem, bool) {
		if pt.Track.ID == "" {
			return PlaylistItem{}, false
		}
		ft := pt.Track
		return PlaylistItem{AddedAt: pt.AddedAt, IsLocal: pt.IsLocal, Track: decorateTrack(&ft)}, true
	})
}

// GetTrack fetches a single track
func (c *Catalog) GetTrack(ctx context.Context, id string) (*Track, error) {
	log.Infof("%s Fetching track %s", logcolors.LogCatalog, id)

	ft, err := c.client.GetTrack(ctx, spotify.ID(id))
	if err != nil {
		return nil, c.wrapError(err, "track "+id)
	}

	t := decorateTrack(ft)
	return &t, nil
}

// GetAlbum fetches an album with its first page of tracks
func (c *Catalog) GetAlbum(ctx context.Context, id string) (*Album, error) {
	log.Infof("%s Fetching album %s", logcolors.LogCatalog, id)

	fa, err := c.client.GetAlbum(ctx, spotify.ID(id), spotify.Market(c.market))
	if err != nil {
		return nil, c.wrapError(err, "album "+id)
	}

	return &Album{
		FullAlbum:    fa,
		ArtistString: track.ArtistString(fa.Artists),
		Tracks: AlbumTracks{
			Items: decorateAlbumTracks(fa.Tracks.Tracks),
			Total: int(fa.Tracks.Total),
		},
	}, nil
}

// GetPlaylist fetches a playlist and follows its next cursors. A failing
// page ends pagination and the tracks collected so far are returned.
func (c *Catalog) GetPlaylist(ctx context.Context, id string) (*Playlist, error) {
	log.Infof("%s Fetching playlist %s", logcolors.LogCatalog, id)

	fp, err := c.client.GetPlaylist(ctx, spotify.ID(id), spotify.Market(c.market))
	if err != nil {
		return nil, c.wrapError(err, "playlist "+id)
	}

	items := playlistItems(fp.Tracks.Tracks)
	pages := 1
	for {
		err := c.client.NextPage(ctx, &fp.Tracks)
		if errors.Is(err, spotify.ErrNoMorePages) {
			break
		}
		if err != nil {
			log.Warnf("%s Stopping after page %d of playlist %s: %v", logcolors.LogPagination, pages, id, err)
			break
		}
		pages++
		items = append(items, playlistItems(fp.Tracks.Tracks)...)
	}

	log.Debugf("%s Playlist %s: %d tracks over %d pages", logcolors.LogPagination, id, len(items), pages)

	return &Playlist{
		FullPlaylist: fp,
		Tracks:       PlaylistTracks{Items: items, Total: len(items)},
	}, nil
}

// AlbumTrackDetails lists every track on an album as track metadata
func (c *Catalog) AlbumTrackDetails(ctx context.Context, id string) ([]track.Meta, error) {
	_, metas, err := c.albumTracks(ctx, id)
	return metas, err
}

// albumTracks pages the album's listing while offset < total, dropping
// entries without an id
func (c *Catalog) albumTracks(ctx context.Context, id string) (*spotify.FullAlbum, []track.Meta, error) {
	fa, err := c.client.GetAlbum(ctx, spotify.ID(id), spotify.Market(c.market))
	if err != nil {
		return nil, nil, c.wrapError(err, "album "+id)
	}

	toMetas := func(items []spotify.SimpleTrack) []track.Meta {
		return lo.FilterMap(items, func(st spotify.SimpleTrack, _ int) (track.Meta, bool) {
			return track.FromSimpleTrack(st, fa.Name, fa.ReleaseDate), st.ID != ""
		})
	}

	// GetAlbum already carries the first page
	metas := toMetas(fa.Tracks.Tracks)
	offset, total := len(fa.Tracks.Tracks), int(fa.Tracks.Total)
	for offset < total {
		page, err := c.client.GetAlbumTracks(ctx, spotify.ID(id),
			spotify.Limit(albumPageSize), spotify.Offset(offset), spotify.Market(c.market))
		if err != nil {
			return nil, nil, c.wrapError(err, "album tracks "+id)
		}
		if len(page.Tracks) == 0 {
			break
		}

		metas = append(metas, toMetas(page.Tracks)...)
		offset += len(page.Tracks)
		total = int(page.Total)
	}

	log.Debugf("%s Album %s: %d tracks", logcolors.LogPagination, id, len(metas))
	return fa, metas, nil
}

// PlaylistTrackDetails flattens a playlist into track metadata
func (c *Catalog) PlaylistTrackDetails(ctx context.Context, id string) ([]track.Meta, error) {
	pl, err := c.GetPlaylist(ctx, id)
	if err != nil {
		return nil, err
	}
	return pl.metas(), nil
}

func (pl *Playlist) metas() []track.Meta {
	return lo.Map(pl.Tracks.Items, func(item PlaylistItem, _ int) track.Meta {
		return track.FromFullTrack(item.Track.FullTrack)
	})
}

// Fetch returns the entity a reference points at
func (c *Catalog) Fetch(ctx context.Context, ref Reference) (any, error) {
	switch ref.Kind {
	case KindTrack:
		return c.GetTrack(ctx, ref.ID)
	case KindAlbum:
		return c.GetAlbum(ctx, ref.ID)
	case KindPlaylist:
		return c.GetPlaylist(ctx, ref.ID)
	}
	return nil, fmt.Errorf("unsupported entity type %q", ref.Kind)
}

// Collection is the flat track list behind a reference. A single track is
// a collection of one named after the track.
type Collection struct {
	Kind   Kind
	Name   string
	Tracks []track.Meta
}

// Collection resolves a reference into its tracks
func (c *Catalog) Collection(ctx context.Context, ref Reference) (*Collection, error) {
	switch ref.Kind {
	case KindTrack:
		t, err := c.GetTrack(ctx, ref.ID)
		if err != nil {
			return nil, err
		}
		return &Collection{Kind: ref.Kind, Name: t.Name, Tracks: []track.Meta{track.FromFullTrack(t.FullTrack)}}, nil
	case KindAlbum:
		fa, metas, err := c.albumTracks(ctx, ref.ID)
		if err != nil {
			return nil, err
		}
		return &Collection{Kind: ref.Kind, Name: fa.Name, Tracks: metas}, nil
	case KindPlaylist:
		pl, err := c.GetPlaylist(ctx, ref.ID)
		if err != nil {
			return nil, err
		}
		return &Collection{Kind: ref.Kind, Name: pl.Name, Tracks: pl.metas()}, nil
	}
	return nil, fmt.Errorf("unsupported entity type %q", ref.Kind)
}

// wrapError passes credential errors through and maps everything else to APIError
func (c *Catalog) wrapError(err error, resource string) error {
	var cfgErr *ConfigError
	if errors.As(err, &cfgErr) {
		return cfgErr
	}
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return authErr
	}

	stats.Get().CatalogErrors.Add(1)

	apiErr := &APIError{Resource: resource, Err: err}
	var se spotify.Error
	if errors.As(err, &se) {
		apiErr.Status = se.Status
	}
	log.Errorf("%s %v", logcolors.LogCatalog, apiErr)
	return apiErr
}
