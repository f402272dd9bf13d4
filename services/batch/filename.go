package batch

import (
	"strconv"
	"strings"

	"spotify-lyrics-api-go/services/track"
)

var unsafeChars = strings.NewReplacer(
	"/", "_", `\`, "_", ":", "_", "*", "_", "?", "_",
	`"`, "_", "<", "_", ">", "_", "|", "_",
)

// Sanitize replaces characters that are unsafe in file names with "_"
func Sanitize(name string) string {
	return unsafeChars.Replace(name)
}

// FormatFilename joins the template parts and substitutes the track tokens.
// Unknown tokens are left as-is.
func FormatFilename(template []string, meta track.Meta) string {
	number := ""
	if meta.Number > 0 {
		number = strconv.Itoa(meta.Number)
	}
	explicit := ""
	if meta.Explicit {
		explicit = "[E]"
	}
	popularity := ""
	if meta.Popularity != nil {
		popularity = strconv.Itoa(*meta.Popularity)
	}

	r := strings.NewReplacer(
		"{track_name}", meta.Name,
		"{track_number}", number,
		"{track_artist}", meta.Artist,
		"{track_album}", meta.Album,
		"{track_id}", meta.ID,
		"{track_explicit}", explicit,
		"{track_release_date}", meta.ReleaseDate,
		"{track_popularity}", popularity,
		"{track_duration}", meta.Duration,
	)
	return r.Replace(strings.Join(template, ""))
}

// ArchiveName is the download name for a collection's archive
func ArchiveName(collection string) string {
	return Sanitize(collection) + ".zip"
}

// EntryName is the file name for one track inside an archive or as a
// single download.
func EntryName(template []string, meta track.Meta, ext string) string {
	return Sanitize(FormatFilename(template, meta)) + "." + ext
}
