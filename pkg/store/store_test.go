package store

import "testing"

func TestJoin(t *testing.T) {
	tests := []struct {
		folder, name, want string
	}{
		{"", "album_1.webp", "album_1.webp"},
		{"covers", "album_1.webp", "covers/album_1.webp"},
		{"covers/", "album_1.webp", "covers/album_1.webp"},
		{"/2024/covers/", "a.png", "2024/covers/a.png"},
	}
	for _, tt := range tests {
		if got := Join(tt.folder, tt.name); got != tt.want {
			t.Errorf("Join(%q, %q): expected %s, got %s", tt.folder, tt.name, tt.want, got)
		}
	}
}

func TestIsPlaceholder(t *testing.T) {
	for _, name := range []string{"", "folder/", PlaceholderName} {
		if !IsPlaceholder(name) {
			t.Errorf("Expected %q to be a placeholder", name)
		}
	}
	if IsPlaceholder("album_1.webp") {
		t.Error("Expected a real object")
	}
}
