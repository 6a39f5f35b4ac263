// Package source loads and validates the photo a cover is made from.
package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/menta2k/cover-studio/pkg/geometry"
)

var (
	// ErrUnsupportedFormat is returned before decoding when the data is not
	// an accepted image container.
	ErrUnsupportedFormat = errors.New("unsupported image format")
	// ErrDecode is returned when a supported container fails to decode.
	ErrDecode = errors.New("failed to decode image")
	// ErrTooLarge is returned when the input exceeds MaxBytes.
	ErrTooLarge = errors.New("image file too large")
	// ErrTooSmall is returned when either dimension is below MinImageSize.
	ErrTooSmall = errors.New("image too small")
)

// Image is a decoded source photo. It is never modified after loading.
type Image struct {
	Name   string
	Format string
	Width  int
	Height int
	Pixels image.Image
}

// Size returns the pixel dimensions as a geometry.Size.
func (i *Image) Size() geometry.Size {
	return geometry.Size{W: float64(i.Width), H: float64(i.Height)}
}

// AspectRatio returns Width/Height.
func (i *Image) AspectRatio() float64 {
	if i.Height == 0 {
		return 0
	}
	return float64(i.Width) / float64(i.Height)
}

// Config holds loader limits.
type Config struct {
	SupportedFormats []string `json:"supported_formats" yaml:"supported_formats"`
	MaxBytes         int64    `json:"max_bytes" yaml:"max_bytes"`
	MinImageSize     int      `json:"min_image_size" yaml:"min_image_size"`
}

// DefaultConfig accepts every format we can decode, up to 25 MiB.
func DefaultConfig() Config {
	return Config{
		SupportedFormats: []string{"jpeg", "png", "gif", "webp", "bmp", "tiff"},
		MaxBytes:         25 << 20,
		MinImageSize:     1,
	}
}

// Loader reads source images from files, readers and URLs.
type Loader struct {
	config     Config
	httpClient *http.Client
}

// New creates a loader with the default configuration.
func New() *Loader {
	return NewWithConfig(DefaultConfig())
}

// NewWithConfig creates a loader with custom limits.
func NewWithConfig(config Config) *Loader {
	if len(config.SupportedFormats) == 0 {
		config.SupportedFormats = DefaultConfig().SupportedFormats
	}
	return &Loader{
		config:     config,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Config returns the loader limits.
func (l *Loader) Config() Config {
	return l.config
}

// Supported reports whether format is accepted.
func (l *Loader) Supported(format string) bool {
	for _, f := range l.config.SupportedFormats {
		if strings.EqualFold(f, format) || (strings.EqualFold(f, "jpeg") && strings.EqualFold(format, "jpg")) {
			return true
		}
	}
	return false
}

// Load reads, sniffs, validates and decodes an image from r.
func (l *Loader) Load(name string, r io.Reader) (*Image, error) {
	data, err := l.readAll(r)
	if err != nil {
		return nil, err
	}
	return l.Decode(name, data)
}

// Decode validates and decodes data. The container is detected from its
// leading bytes, never from the name.
func (l *Loader) Decode(name string, data []byte) (*Image, error) {
	format := Sniff(data)
	if format == "" || !l.Supported(format) {
		kind := format
		if kind == "" {
			kind = "unknown"
		}
		return nil, fmt.Errorf("%s (%s): %w", name, kind, ErrUnsupportedFormat)
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil && format == "webp" {
		img, err = webp.Decode(bytes.NewReader(data))
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", name, ErrDecode, err)
	}

	b := img.Bounds()
	if b.Dx() < l.config.MinImageSize || b.Dy() < l.config.MinImageSize || b.Empty() {
		return nil, fmt.Errorf("%s: %w: %dx%d (minimum: %d)", name, ErrTooSmall, b.Dx(), b.Dy(), l.config.MinImageSize)
	}

	return &Image{
		Name:   name,
		Format: format,
		Width:  b.Dx(),
		Height: b.Dy(),
		Pixels: img,
	}, nil
}

// LoadFile loads an image from path.
func (l *Loader) LoadFile(path string) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image file: %w", err)
	}
	defer f.Close()
	return l.Load(filepath.Base(path), f)
}

// LoadURL downloads an image over http or https.
func (l *Loader) LoadURL(ctx context.Context, imageURL string) (*Image, error) {
	parsed, err := url.Parse(imageURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("unsupported URL scheme: %s (only http and https are supported)", parsed.Scheme)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "Cover-Studio/1.0")

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download image: HTTP %d %s", resp.StatusCode, resp.Status)
	}

	name := filepath.Base(parsed.Path)
	if name == "." || name == "/" {
		name = parsed.Host
	}
	return l.Load(name, resp.Body)
}

// LoadAny loads from a URL when src looks like one, otherwise from a file.
func (l *Loader) LoadAny(ctx context.Context, src string) (*Image, error) {
	if strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://") {
		return l.LoadURL(ctx, src)
	}
	return l.LoadFile(src)
}

func (l *Loader) readAll(r io.Reader) ([]byte, error) {
	if l.config.MaxBytes <= 0 {
		data, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("failed to read image data: %w", err)
		}
		return data, nil
	}
	data, err := io.ReadAll(io.LimitReader(r, l.config.MaxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read image data: %w", err)
	}
	if int64(len(data)) > l.config.MaxBytes {
		return nil, fmt.Errorf("%w (limit %d bytes)", ErrTooLarge, l.config.MaxBytes)
	}
	return data, nil
}

// Sniff identifies an image container from its magic bytes. It returns ""
// for anything it does not recognise.
func Sniff(data []byte) string {
	switch {
	case bytes.HasPrefix(data, []byte{0xFF, 0xD8, 0xFF}):
		return "jpeg"
	case bytes.HasPrefix(data, []byte("\x89PNG\r\n\x1a\n")):
		return "png"
	case bytes.HasPrefix(data, []byte("GIF87a")), bytes.HasPrefix(data, []byte("GIF89a")):
		return "gif"
	case len(data) >= 12 && bytes.Equal(data[0:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WEBP")):
		return "webp"
	case bytes.HasPrefix(data, []byte("BM")):
		return "bmp"
	case bytes.HasPrefix(data, []byte("II*\x00")), bytes.HasPrefix(data, []byte("MM\x00*")):
		return "tiff"
	}
	return ""
}
