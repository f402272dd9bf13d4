package batch

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"spotify-lyrics-api-go/services/lyrics"
)

// Settings are the user's download preferences. The blob is stored as-is
// with no schema version.
type Settings struct {
	LyricsType     lyrics.Format `json:"lyricsType"`
	FileNameFormat []string      `json:"fileNameFormat"`
}

func DefaultSettings() Settings {
	return Settings{
		LyricsType:     lyrics.FormatLRC,
		FileNameFormat: []string{"{track_number}", ". ", "{track_name}"},
	}
}

// WithDefaults fills empty fields from DefaultSettings
func (s Settings) WithDefaults() Settings {
	def := DefaultSettings()
	if s.LyricsType == "" {
		s.LyricsType = def.LyricsType
	}
	if len(s.FileNameFormat) == 0 {
		s.FileNameFormat = def.FileNameFormat
	}
	return s
}

// Validate rejects unknown lyrics types
func (s Settings) Validate() error {
	if _, err := lyrics.ParseFormat(string(s.LyricsType)); err != nil {
		return err
	}
	return nil
}

// LoadSettings reads the settings blob. A missing file yields the defaults.
func LoadSettings(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return DefaultSettings(), nil
	}
	if err != nil {
		return Settings{}, fmt.Errorf("failed to read settings: %w", err)
	}

	var s Settings
	if err := json.Unmarshal(data, &s); err != nil {
		return Settings{}, fmt.Errorf("failed to parse settings %s: %w", path, err)
	}
	return s.WithDefaults(), nil
}

// SaveSettings writes the settings blob, creating its directory if needed
func SaveSettings(path string, s Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
