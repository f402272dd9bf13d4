package lyrics

import (
	"fmt"
	"spotify-lyrics-api-go/services/track"
)

// Process renders a payload as text fragments in the requested format.
// Concatenating the fragments gives the file body. LRC output always opens
// with the ar/al/ti/length header, even for unsynced lyrics.
func Process(p *Payload, meta track.Meta, format Format) ([]string, error) {
	if p == nil || len(p.Lines) == 0 {
		return nil, ErrEmptyLyrics
	}

	out := make([]string, 0, len(p.Lines)+4)

	if format == FormatLRC {
		out = append(out,
			fmt.Sprintf("[ar:%s]\n", meta.Artist),
			fmt.Sprintf("[al:%s]\n", meta.Album),
			fmt.Sprintf("[ti:%s]\n", meta.Name),
			fmt.Sprintf("[length:%s]\n\n", meta.Duration),
		)
	}

	switch {
	case !p.Synced():
		for _, line := range p.Lines {
			out = append(out, line.Words+"\n")
		}
	case format == FormatSRT:
		for _, line := range p.Lines {
			out = append(out, fmt.Sprintf("%d\n%s --> %s\n%s\n\n", line.Index, line.StartTime, line.EndTime, line.Words))
		}
	default:
		for _, line := range p.Lines {
			out = append(out, fmt.Sprintf("[%s] %s\n", line.TimeTag, line.Words))
		}
	}

	return out, nil
}
