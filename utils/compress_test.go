package utils

import (
	"bytes"
	"strings"
	"testing"
)

func TestCompressAndDecompressString(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{name: "Short string", text: "Hello, world!"},
		{name: "Empty string", text: ""},
		{
			name: "Lyrics payload",
			text: `{"error":false,"syncType":"LINE_SYNCED","lines":[{"timeTag":"00:01.00","words":"Hello"}]}`,
		},
		{name: "Unicode", text: "こんにちは 世界 — ñandú"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			compressed, err := CompressString(tt.text)
			if err != nil {
				t.Fatalf("CompressString() error: %v", err)
			}

			decompressed, err := DecompressString(compressed)
			if err != nil {
				t.Fatalf("DecompressString() error: %v", err)
			}

			if decompressed != tt.text {
				t.Errorf("Round trip mismatch: got %q, want %q", decompressed, tt.text)
			}
		})
	}
}

func TestCompressReducesRepetitiveData(t *testing.T) {
	data := []byte(strings.Repeat(`{"timeTag":"00:01.00","words":"la la la"},`, 500))

	compressed, err := Compress(data)
	if err != nil {
		t.Fatalf("Compress() error: %v", err)
	}
	if len(compressed) >= len(data) {
		t.Errorf("Expected compressed size < %d, got %d", len(data), len(compressed))
	}

	out, err := Decompress(compressed)
	if err != nil {
		t.Fatalf("Decompress() error: %v", err)
	}
	if !bytes.Equal(out, data) {
		t.Error("Decompressed bytes do not match input")
	}
}

func TestDecompressInvalidInput(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{name: "Not base64", input: "%%%not-base64%%%"},
		{name: "Base64 but not gzip", input: "aGVsbG8gd29ybGQ="},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecompressString(tt.input); err == nil {
				t.Error("Expected error for invalid input, got nil")
			}
		})
	}
}
