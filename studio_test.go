package coverstudio

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"

	"github.com/disintegration/imaging"

	"github.com/menta2k/cover-studio/internal/config"
	"github.com/menta2k/cover-studio/pkg/detection"
	"github.com/menta2k/cover-studio/pkg/filter"
	"github.com/menta2k/cover-studio/pkg/source"
	"github.com/menta2k/cover-studio/pkg/vision"
)

// createTestImage creates a simple test image
func createTestImage(width, height int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if x > width/3 && x < 2*width/3 && y > height/3 && y < 2*height/3 {
				img.Set(x, y, color.RGBA{255, 255, 255, 255})
			} else {
				img.Set(x, y, color.RGBA{64, 64, 64, 255})
			}
		}
	}
	return img
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Store.SQLitePath = filepath.Join(t.TempDir(), "covers.db")
	cfg.Store.PublicBaseURL = "http://localhost:8090/covers"
	cfg.Upload.BackoffMS = 1
	return cfg
}

func newTestStudio(t *testing.T) *Studio {
	t.Helper()
	studio, err := New(testConfig(t))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { studio.Close() })
	return studio
}

func pngBytes(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store.Backend = "ftp"
	if _, err := New(cfg); err == nil || !strings.Contains(err.Error(), "invalid configuration") {
		t.Errorf("Expected invalid configuration error, got %v", err)
	}
}

func TestPublishAndServe(t *testing.T) {
	studio := newTestStudio(t)
	ctx := context.Background()
	ed := studio.Editor

	ed.Open()
	if err := ed.Load("photo.png", bytes.NewReader(pngBytes(t, createTestImage(1200, 800)))); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if err := ed.ApplyCrop(ctx); err != nil {
		t.Fatalf("ApplyCrop failed: %v", err)
	}
	ed.SetFilter(filter.Vintage)

	coverURL, err := ed.Publish(ctx)
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if !strings.HasPrefix(coverURL, "http://localhost:8090/covers/album_") || !strings.HasSuffix(coverURL, ".webp") {
		t.Errorf("Unexpected URL %s", coverURL)
	}
	if studio.Gallery.Len() != 1 || ed.View().Open {
		t.Error("Expected the cover in the gallery and the editor closed")
	}

	toasts := studio.Toasts.Toasts()
	if len(toasts) != 1 || toasts[0].Message != "Album cover uploaded successfully!" {
		t.Errorf("Unexpected toasts %+v", toasts)
	}

	handler := studio.Handler()
	u, _ := url.Parse(coverURL)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, u.Path, nil))
	if rec.Code != http.StatusOK || rec.Header().Get("Content-Type") != "image/webp" {
		t.Fatalf("Expected the stored cover, got %d %s", rec.Code, rec.Header().Get("Content-Type"))
	}
	served, err := imaging.Decode(rec.Body)
	if err != nil {
		t.Fatalf("Served cover does not decode: %v", err)
	}
	if served.Bounds().Dx() != 800 || served.Bounds().Dy() != 800 {
		t.Errorf("Expected 800x800 cover, got %v", served.Bounds())
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/covers?limit=5", nil))
	var page coversPage
	if err := json.NewDecoder(rec.Body).Decode(&page); err != nil {
		t.Fatalf("Failed to decode page: %v", err)
	}
	if len(page.Covers) != 1 || page.Covers[0] != coverURL || page.HasMore {
		t.Errorf("Unexpected page %+v", page)
	}
}

func TestFeedLoadsPublishedCovers(t *testing.T) {
	studio := newTestStudio(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		studio.Editor.Select(mustLoad(t, studio, createTestImage(500, 500)))
		if err := studio.Editor.ApplyCrop(ctx); err != nil {
			t.Fatal(err)
		}
		if _, err := studio.Editor.Publish(ctx); err != nil {
			t.Fatalf("Publish %d failed: %v", i, err)
		}
	}
	published := studio.Gallery.Entries()

	studio.Gallery.Reset()
	added, err := studio.Feed.LoadMore(ctx)
	if err != nil {
		t.Fatalf("LoadMore failed: %v", err)
	}
	if added != 3 {
		t.Fatalf("Expected 3 covers, got %d", added)
	}
	got := studio.Gallery.Entries()
	for i := range published {
		if got[i] != published[i] {
			t.Errorf("Expected newest-first order %v, got %v", published, got)
			break
		}
	}
	if studio.Gallery.HasMore() {
		t.Error("Expected no more pages")
	}
}

func TestPrefixedGalleryListsPublishedCovers(t *testing.T) {
	cfg := testConfig(t)
	cfg.Gallery.Prefix = "covers"
	studio, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { studio.Close() })
	ctx := context.Background()

	studio.Editor.Select(mustLoad(t, studio, createTestImage(400, 400)))
	if err := studio.Editor.ApplyCrop(ctx); err != nil {
		t.Fatal(err)
	}
	coverURL, err := studio.Editor.Publish(ctx)
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if !strings.HasPrefix(coverURL, "http://localhost:8090/covers/covers/album_") {
		t.Errorf("Expected the cover inside the folder, got %s", coverURL)
	}

	studio.Gallery.Reset()
	if _, err := studio.Feed.LoadMore(ctx); err != nil {
		t.Fatalf("LoadMore failed: %v", err)
	}
	if got := studio.Gallery.Entries(); len(got) != 1 || got[0] != coverURL {
		t.Errorf("Expected [%s], got %v", coverURL, got)
	}

	u, _ := url.Parse(coverURL)
	rec := httptest.NewRecorder()
	studio.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, u.Path, nil))
	if rec.Code != http.StatusOK {
		t.Errorf("Expected the cover served, got %d", rec.Code)
	}
}

func mustLoad(t *testing.T, s *Studio, img image.Image) *source.Image {
	t.Helper()
	loaded, err := s.Loader.Decode("photo.png", pngBytes(t, img))
	if err != nil {
		t.Fatal(err)
	}
	return loaded
}

func TestSuggestCrop(t *testing.T) {
	studio := newTestStudio(t)
	if err := studio.Editor.Load("photo.png", bytes.NewReader(pngBytes(t, createTestImage(600, 400)))); err != nil {
		t.Fatal(err)
	}
	area, err := studio.SuggestCrop(context.Background())
	if err != nil {
		t.Fatalf("SuggestCrop failed: %v", err)
	}
	v := studio.Editor.View()
	if area.Size != 200 {
		t.Errorf("Expected the size kept, got %f", area.Size)
	}
	if area.X < v.Fit.OffsetX || area.Y < v.Fit.OffsetY {
		t.Errorf("Suggested crop outside the image: %+v", area)
	}
}

func TestNewSuggester(t *testing.T) {
	base := config.Default().Vision

	s, err := NewSuggester(base)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := s.(*vision.SubjectDetector); !ok {
		t.Errorf("Expected saliency suggester, got %T", s)
	}

	for _, provider := range []string{"ollama", "llamacpp"} {
		cfg := base
		cfg.Provider = provider
		s, err := NewSuggester(cfg)
		if err != nil {
			t.Fatalf("%s: %v", provider, err)
		}
		if _, ok := s.(*detection.Detector); !ok {
			t.Errorf("%s: expected a model detector, got %T", provider, s)
		}
	}

	cfg := base
	cfg.Provider = "magic"
	if _, err := NewSuggester(cfg); err == nil {
		t.Error("Expected error for unknown provider")
	}
}

func TestOpenStore(t *testing.T) {
	cfg := config.Default().Store
	cfg.Backend = "supabase"
	cfg.SupabaseURL = "https://abc.supabase.co"
	cfg.SupabaseKey = "anon"
	s, closer, err := OpenStore(cfg)
	if err != nil {
		t.Fatalf("OpenStore failed: %v", err)
	}
	if closer != nil {
		t.Error("Expected no closer for supabase")
	}
	want := "https://abc.supabase.co/storage/v1/object/public/public_album_covers/a.webp"
	if got := s.PublicURL("a.webp"); got != want {
		t.Errorf("Expected %s, got %s", want, got)
	}
}

func TestGetVersion(t *testing.T) {
	if GetVersion() != Version {
		t.Errorf("Expected %s, got %s", Version, GetVersion())
	}
}
