package lyrics

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Format is an output lyrics format
type Format string

const (
	FormatLRC Format = "lrc"
	FormatSRT Format = "srt"
)

// ParseFormat accepts "lrc" or "srt"; an empty string means LRC
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case "", FormatLRC:
		return FormatLRC, nil
	case FormatSRT:
		return FormatSRT, nil
	}
	return "", ErrInvalidFormat
}

// Ext is the file extension for the format
func (f Format) Ext() string { return string(f) }

const (
	SyncTypeSynced     = "SYNCED"
	SyncTypeLineSynced = "LINE_SYNCED"
	SyncTypeUnsynced   = "UNSYNCED"
)

// Line is one lyric line as returned by the upstream. Which timing fields
// are set depends on the requested format.
type Line struct {
	Words     string `json:"words"`
	TimeTag   string `json:"timeTag,omitempty"`
	StartTime string `json:"startTime,omitempty"`
	EndTime   string `json:"endTime,omitempty"`
	Index     int    `json:"index,omitempty"`
}

// Payload is the upstream lyrics document. Raw keeps the exact bytes so the
// HTTP boundary can pass them through untouched.
type Payload struct {
	Error    any    `json:"error,omitempty"`
	SyncType string `json:"syncType"`
	Lines    []Line `json:"lines"`

	Raw json.RawMessage `json:"-"`
}

// ParsePayload decodes an upstream body and keeps a copy of it
func ParsePayload(body []byte) (*Payload, error) {
	var p Payload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("invalid lyrics payload: %w", err)
	}
	p.Raw = append(json.RawMessage(nil), body...)
	return &p, nil
}

// Synced reports whether the lines carry timing
func (p *Payload) Synced() bool {
	return p.SyncType != SyncTypeUnsynced
}

// signalsNoLyrics is the upstream's way of saying "nothing here" with a 200:
// an explicit error flag, or a synced document without lines.
func (p *Payload) signalsNoLyrics() bool {
	if flag, ok := p.Error.(bool); ok && flag {
		return true
	}
	return p.SyncType != SyncTypeUnsynced && len(p.Lines) == 0
}

var (
	ErrInvalidFormat = errors.New("Invalid format specified. Must be 'lrc' or 'srt'.")
	ErrEmptyLyrics   = errors.New("No lyrics content available.")
)

// Reasons recorded with a NotFoundError
const (
	ReasonUpstream404 = "upstream returned 404"
	ReasonEmpty       = "lyrics are empty"
)

// NotFoundError means the upstream has no lyrics for the track
type NotFoundError struct {
	TrackID string
	Reason  string
}

func (e *NotFoundError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("No lyrics found for this track. (%s)", e.Reason)
	}
	return "No lyrics found for this track."
}

// FetchError is any other failure talking to the lyrics upstream. Status is
// the upstream HTTP status, 503 while the circuit breaker is open, or 0 for
// transport failures.
type FetchError struct {
	Status int
	Detail string
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("Failed to fetch lyrics: %s", e.Detail)
	}
	return fmt.Sprintf("Failed to fetch lyrics: %d", e.Status)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err means "no lyrics" rather than a failure
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}
