package encoder

import (
	"bytes"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"testing"
	"time"

	"github.com/chai2010/webp"
	"github.com/google/go-cmp/cmp"
)

func createTestImage(width, height int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x % 256), G: uint8(y % 256), B: 128, A: 255})
		}
	}
	return img
}

// sizedEncoder writes bytesAt(quality) bytes for lossy formats and records
// every quality it was asked for.
type sizedEncoder struct {
	bytesAt   func(quality int) int
	qualities []int
}

func (s *sizedEncoder) encode(w io.Writer, img image.Image, format Format, quality int) error {
	if format == PNG {
		_, err := w.Write([]byte("png"))
		return err
	}
	s.qualities = append(s.qualities, quality)
	_, err := w.Write(make([]byte, s.bytesAt(quality)))
	return err
}

func TestParseFormat(t *testing.T) {
	tests := map[string]Format{"webp": WebP, "": WebP, "JPG": JPEG, "jpeg": JPEG, "png": PNG}
	for in, want := range tests {
		got, err := ParseFormat(in)
		if err != nil {
			t.Errorf("ParseFormat(%q) failed: %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("ParseFormat(%q): expected %s, got %s", in, want, got)
		}
	}
	if _, err := ParseFormat("gif"); err == nil {
		t.Error("Expected error for gif")
	}
}

func TestNames(t *testing.T) {
	now := time.UnixMilli(1700000000123)
	if got := ObjectName(now, WebP); got != "album_1700000000123.webp" {
		t.Errorf("Unexpected object name %q", got)
	}
	if got := ObjectName(now, JPEG); got != "album_1700000000123.jpg" {
		t.Errorf("Unexpected object name %q", got)
	}
	if got := DownloadName(PNG); got != "album-cover.png" {
		t.Errorf("Unexpected download name %q", got)
	}
}

func TestEncodeWebP(t *testing.T) {
	res, err := New(DefaultOptions()).Encode(createTestImage(64, 64))
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if res.Format != WebP || res.Quality != 92 {
		t.Errorf("Expected webp at 92, got %s at %d", res.Format, res.Quality)
	}
	img, err := webp.Decode(bytes.NewReader(res.Data))
	if err != nil {
		t.Fatalf("Output is not webp: %v", err)
	}
	if img.Bounds().Dx() != 64 {
		t.Errorf("Expected width 64, got %d", img.Bounds().Dx())
	}
}

func TestEncodeDeterministic(t *testing.T) {
	enc := New(Options{Format: PNG})
	img := createTestImage(32, 32)
	a, err := enc.Encode(img)
	if err != nil {
		t.Fatal(err)
	}
	b, err := enc.Encode(img)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(a.Data, b.Data) {
		t.Error("Expected identical bytes for identical input")
	}
	if _, err := png.Decode(bytes.NewReader(a.Data)); err != nil {
		t.Errorf("Output is not png: %v", err)
	}
}

func TestEncodeFallsBackToPNG(t *testing.T) {
	tests := map[string]EncodeFunc{
		"error": func(w io.Writer, img image.Image, f Format, q int) error {
			if f == PNG {
				return WriteImage(w, img, f, q)
			}
			return errors.New("no webp support")
		},
		"empty": func(w io.Writer, img image.Image, f Format, q int) error {
			if f == PNG {
				return WriteImage(w, img, f, q)
			}
			return nil
		},
	}
	for name, fn := range tests {
		t.Run(name, func(t *testing.T) {
			res, err := New(DefaultOptions()).WithEncodeFunc(fn).Encode(createTestImage(8, 8))
			if err != nil {
				t.Fatalf("Encode failed: %v", err)
			}
			if res.Format != PNG || res.ContentType() != "image/png" {
				t.Errorf("Expected png fallback, got %s", res.Format)
			}
		})
	}
}

func TestEncodeFailsWhenFallbackFails(t *testing.T) {
	fn := func(w io.Writer, img image.Image, f Format, q int) error {
		return errors.New("broken")
	}
	if _, err := New(DefaultOptions()).WithEncodeFunc(fn).Encode(createTestImage(8, 8)); err == nil {
		t.Error("Expected error")
	}
}

// 3 MB at the default quality against a 2 MB ceiling: quality drops at
// least once, and when nothing fits the last attempt is returned.
func TestEncodeWithinReducesQuality(t *testing.T) {
	s := &sizedEncoder{bytesAt: func(q int) int { return 3 << 20 }}
	opts := DefaultOptions()
	opts.MaxBytes = 2 << 20

	res, err := New(opts).WithEncodeFunc(s.encode).EncodeWithin(createTestImage(4, 4))
	if err != nil {
		t.Fatalf("EncodeWithin failed: %v", err)
	}
	if diff := cmp.Diff([]int{92, 82, 72, 62, 52}, s.qualities); diff != "" {
		t.Errorf("Quality sequence mismatch (-want +got):\n%s", diff)
	}
	if res.Attempts != 5 || res.Quality != 52 {
		t.Errorf("Expected last attempt at 52, got attempt %d at %d", res.Attempts, res.Quality)
	}
	if res.Size() != 3<<20 {
		t.Errorf("Expected oversized payload to be returned, got %d bytes", res.Size())
	}
}

func TestEncodeWithinStopsWhenUnderCeiling(t *testing.T) {
	s := &sizedEncoder{bytesAt: func(q int) int { return q * 40000 }}
	opts := DefaultOptions()
	opts.MaxBytes = 3000000

	res, err := New(opts).WithEncodeFunc(s.encode).EncodeWithin(createTestImage(4, 4))
	if err != nil {
		t.Fatal(err)
	}
	if res.Quality != 72 || res.Attempts != 3 {
		t.Errorf("Expected quality 72 after 3 attempts, got %d after %d", res.Quality, res.Attempts)
	}
}

func TestEncodeWithinRespectsFloor(t *testing.T) {
	s := &sizedEncoder{bytesAt: func(q int) int { return 100 }}
	opts := Options{Format: JPEG, Quality: 55, MaxBytes: 10, QualityStep: 10, MinQuality: 40, MaxAttempts: 10}

	res, err := New(opts).WithEncodeFunc(s.encode).EncodeWithin(createTestImage(4, 4))
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]int{55, 45, 40}, s.qualities); diff != "" {
		t.Errorf("Quality sequence mismatch (-want +got):\n%s", diff)
	}
	if res.Quality != 40 {
		t.Errorf("Expected floor quality 40, got %d", res.Quality)
	}
}

func TestEncodeWithinFitsFirstTry(t *testing.T) {
	res, err := New(DefaultOptions()).EncodeWithin(createTestImage(32, 32))
	if err != nil {
		t.Fatal(err)
	}
	if res.Attempts != 1 || res.Quality != 92 {
		t.Errorf("Expected a single attempt at 92, got %d at %d", res.Attempts, res.Quality)
	}
}

func TestPrepareForModel(t *testing.T) {
	encoded, err := PrepareForModel(createTestImage(400, 200), WebP, 100, 80)
	if err != nil {
		t.Fatalf("PrepareForModel failed: %v", err)
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		t.Fatalf("Invalid base64: %v", err)
	}
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("Invalid image: %v", err)
	}
	if img.Bounds().Dx() != 100 || img.Bounds().Dy() != 50 {
		t.Errorf("Expected 100x50, got %v", img.Bounds().Size())
	}
}
