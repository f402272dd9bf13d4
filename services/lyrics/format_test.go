package lyrics

import (
	"errors"
	"strings"
	"testing"

	"spotify-lyrics-api-go/services/track"
)

var testMeta = track.Meta{
	Name:     "Song",
	Artist:   "Artist",
	Album:    "Album",
	Duration: "03:00.00",
}

func TestProcess(t *testing.T) {
	tests := []struct {
		name    string
		payload *Payload
		format  Format
		want    string
	}{
		{
			name: "Synced LRC",
			payload: &Payload{SyncType: SyncTypeLineSynced, Lines: []Line{
				{TimeTag: "00:01.00", Words: "Hello"},
				{TimeTag: "00:02.50", Words: "World"},
			}},
			format: FormatLRC,
			want: "[ar:Artist]\n[al:Album]\n[ti:Song]\n[length:03:00.00]\n\n" +
				"[00:01.00] Hello\n[00:02.50] World\n",
		},
		{
			name: "Synced SRT",
			payload: &Payload{SyncType: SyncTypeLineSynced, Lines: []Line{
				{Index: 1, StartTime: "00:00:01,000", EndTime: "00:00:02,500", Words: "Hello"},
				{Index: 2, StartTime: "00:00:02,500", EndTime: "00:00:04,000", Words: "World"},
			}},
			format: FormatSRT,
			want: "1\n00:00:01,000 --> 00:00:02,500\nHello\n\n" +
				"2\n00:00:02,500 --> 00:00:04,000\nWorld\n\n",
		},
		{
			name:    "Unsynced LRC keeps header",
			payload: &Payload{SyncType: SyncTypeUnsynced, Lines: []Line{{Words: "a"}, {Words: "b"}}},
			format:  FormatLRC,
			want:    "[ar:Artist]\n[al:Album]\n[ti:Song]\n[length:03:00.00]\n\na\nb\n",
		},
		{
			name:    "Unsynced SRT is plain text",
			payload: &Payload{SyncType: SyncTypeUnsynced, Lines: []Line{{Words: "a"}, {Words: "b"}}},
			format:  FormatSRT,
			want:    "a\nb\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parts, err := Process(tt.payload, testMeta, tt.format)
			if err != nil {
				t.Fatalf("Expected no error, got: %v", err)
			}
			if got := strings.Join(parts, ""); got != tt.want {
				t.Errorf("Unexpected output:\n%q\nwant:\n%q", got, tt.want)
			}
		})
	}
}

func TestProcess_LineCounts(t *testing.T) {
	lines := make([]Line, 7)
	for i := range lines {
		lines[i] = Line{Index: i + 1, Words: "w", TimeTag: "00:00.00"}
	}
	payload := &Payload{SyncType: SyncTypeSynced, Lines: lines}

	lrc, _ := Process(payload, testMeta, FormatLRC)
	if len(lrc) != 4+len(lines) {
		t.Errorf("Expected header plus one fragment per line, got %d", len(lrc))
	}
	if !strings.HasPrefix(lrc[0], "[ar:") || !strings.HasPrefix(lrc[3], "[length:") || !strings.HasSuffix(lrc[3], "\n\n") {
		t.Errorf("Unexpected LRC header %q", lrc[:4])
	}

	srt, _ := Process(payload, testMeta, FormatSRT)
	if len(srt) != len(lines) {
		t.Errorf("Expected one SRT block per line, got %d", len(srt))
	}
}

func TestProcess_Empty(t *testing.T) {
	tests := []struct {
		name    string
		payload *Payload
	}{
		{"Nil payload", nil},
		{"No lines", &Payload{SyncType: SyncTypeUnsynced}},
		{"Empty lines", &Payload{SyncType: SyncTypeSynced, Lines: []Line{}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Process(tt.payload, testMeta, FormatLRC)
			if !errors.Is(err, ErrEmptyLyrics) {
				t.Errorf("Expected ErrEmptyLyrics, got %v", err)
			}
		})
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"", FormatLRC, false},
		{"lrc", FormatLRC, false},
		{"srt", FormatSRT, false},
		{"SRT", "", true},
		{"LRC", "", true},
		{" lrc", "", true},
		{"txt", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFormat(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseFormat(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseFormat(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestPayload_SignalsNoLyrics(t *testing.T) {
	tests := []struct {
		name string
		body string
		want bool
	}{
		{"Error flag", `{"error":true,"syncType":"LINE_SYNCED","lines":[{"words":"x"}]}`, true},
		{"Error message string", `{"error":"oops","syncType":"UNSYNCED","lines":[{"words":"x"}]}`, false},
		{"Synced without lines", `{"error":false,"syncType":"LINE_SYNCED","lines":[]}`, true},
		{"Unsynced without lines", `{"error":false,"syncType":"UNSYNCED","lines":[]}`, false},
		{"Normal", `{"error":false,"syncType":"LINE_SYNCED","lines":[{"words":"x"}]}`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := ParsePayload([]byte(tt.body))
			if err != nil {
				t.Fatalf("Expected no error, got: %v", err)
			}
			if got := p.signalsNoLyrics(); got != tt.want {
				t.Errorf("signalsNoLyrics() = %v, want %v", got, tt.want)
			}
		})
	}
}
