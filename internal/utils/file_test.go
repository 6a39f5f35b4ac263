package utils

import (
	"os"
	"path/filepath"
	"testing"
)

func TestOutputPath(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		target string
		want   string
	}{
		{"", "album-cover.webp"},
		{dir, filepath.Join(dir, "album-cover.webp")},
		{"out/", filepath.Join("out", "album-cover.webp")},
		{"covers/mine.webp", "covers/mine.webp"},
	}
	for _, tt := range tests {
		if got := OutputPath(tt.target, "album-cover.webp"); got != tt.want {
			t.Errorf("OutputPath(%q): expected %s, got %s", tt.target, tt.want, got)
		}
	}
}

func TestWriteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a", "b", "cover.png")
	if err := WriteFile(path, []byte("data")); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if !FileExists(path) || DirExists(path) {
		t.Error("Expected a regular file")
	}
	data, _ := os.ReadFile(path)
	if string(data) != "data" {
		t.Errorf("Unexpected content %q", data)
	}
	if !DirExists(filepath.Dir(path)) {
		t.Error("Expected parent directory")
	}
}

func TestGetFileExtension(t *testing.T) {
	if got := GetFileExtension("Photo.JPG"); got != "jpg" {
		t.Errorf("Expected jpg, got %s", got)
	}
	if got := GetFileExtension("README"); got != "" {
		t.Errorf("Expected empty extension, got %s", got)
	}
}

func TestFormatFileSize(t *testing.T) {
	tests := map[int64]string{
		512:             "512 B",
		2048:            "2.0 KB",
		3 * 1024 * 1024: "3.0 MB",
	}
	for size, want := range tests {
		if got := FormatFileSize(size); got != want {
			t.Errorf("FormatFileSize(%d): expected %s, got %s", size, want, got)
		}
	}
}
