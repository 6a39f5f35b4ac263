// Package encoder serializes composited covers for download and upload.
package encoder

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"strings"
	"time"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
)

// Format is an output image format.
type Format string

const (
	WebP Format = "webp"
	JPEG Format = "jpeg"
	PNG  Format = "png"
)

// ParseFormat accepts the usual spellings of the supported formats.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "webp", "":
		return WebP, nil
	case "jpeg", "jpg":
		return JPEG, nil
	case "png":
		return PNG, nil
	}
	return "", fmt.Errorf("unsupported output format: %s", s)
}

// Ext returns the file extension without the dot.
func (f Format) Ext() string {
	if f == JPEG {
		return "jpg"
	}
	return string(f)
}

// ContentType returns the MIME type of f.
func (f Format) ContentType() string {
	switch f {
	case WebP:
		return "image/webp"
	case JPEG:
		return "image/jpeg"
	default:
		return "image/png"
	}
}

// Lossy reports whether quality applies to f.
func (f Format) Lossy() bool {
	return f == WebP || f == JPEG
}

// Options control encoding and the size-reduction loop.
type Options struct {
	Format      Format `json:"format" yaml:"format"`
	Quality     int    `json:"quality" yaml:"quality"`
	MaxBytes    int    `json:"max_bytes" yaml:"max_bytes"`
	QualityStep int    `json:"quality_step" yaml:"quality_step"`
	MinQuality  int    `json:"min_quality" yaml:"min_quality"`
	MaxAttempts int    `json:"max_attempts" yaml:"max_attempts"`
}

// DefaultOptions returns WebP at quality 92 with a 2 MiB ceiling.
func DefaultOptions() Options {
	return Options{
		Format:      WebP,
		Quality:     92,
		MaxBytes:    2 * 1024 * 1024,
		QualityStep: 10,
		MinQuality:  40,
		MaxAttempts: 5,
	}
}

// Result is one encoded image.
type Result struct {
	Data    []byte
	Format  Format
	Quality int
	// Attempts is the number of encodings tried by EncodeWithin.
	Attempts int
}

// ContentType of the encoded data.
func (r *Result) ContentType() string {
	return r.Format.ContentType()
}

// Size in bytes.
func (r *Result) Size() int {
	return len(r.Data)
}

// EncodeFunc writes img in format at quality.
type EncodeFunc func(w io.Writer, img image.Image, format Format, quality int) error

// ErrEmptyOutput is returned by an encoder that wrote nothing.
var ErrEmptyOutput = errors.New("encoder produced no data")

// Encoder turns rasters into bytes. The zero value is not usable; use New.
type Encoder struct {
	opts   Options
	encode EncodeFunc
}

// New creates an encoder. Unset options take their defaults.
func New(opts Options) *Encoder {
	def := DefaultOptions()
	if opts.Format == "" {
		opts.Format = def.Format
	}
	if opts.Quality <= 0 || opts.Quality > 100 {
		opts.Quality = def.Quality
	}
	if opts.QualityStep <= 0 {
		opts.QualityStep = def.QualityStep
	}
	if opts.MinQuality <= 0 {
		opts.MinQuality = def.MinQuality
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = def.MaxAttempts
	}
	return &Encoder{opts: opts, encode: WriteImage}
}

// WithEncodeFunc replaces the low-level encoder, mainly for tests.
func (e *Encoder) WithEncodeFunc(fn EncodeFunc) *Encoder {
	e.encode = fn
	return e
}

// Options returns the effective options.
func (e *Encoder) Options() Options {
	return e.opts
}

// Encode encodes img once at the configured quality. A lossy encoder that
// fails or writes nothing falls back to PNG.
func (e *Encoder) Encode(img image.Image) (*Result, error) {
	return e.encodeAt(img, e.opts.Quality)
}

// EncodeWithin lowers quality step by step until the output fits MaxBytes,
// the quality floor is reached or MaxAttempts encodings were made. The last
// encoding is returned even if it is still too large. MaxBytes <= 0
// disables the loop.
func (e *Encoder) EncodeWithin(img image.Image) (*Result, error) {
	quality := e.opts.Quality
	var res *Result
	for attempt := 1; attempt <= e.opts.MaxAttempts; attempt++ {
		var err error
		res, err = e.encodeAt(img, quality)
		if err != nil {
			return nil, err
		}
		res.Attempts = attempt
		if e.opts.MaxBytes <= 0 || res.Size() <= e.opts.MaxBytes || !res.Format.Lossy() {
			return res, nil
		}
		if quality <= e.opts.MinQuality {
			break
		}
		quality -= e.opts.QualityStep
		if quality < e.opts.MinQuality {
			quality = e.opts.MinQuality
		}
	}
	return res, nil
}

func (e *Encoder) encodeAt(img image.Image, quality int) (*Result, error) {
	format := e.opts.Format
	var buf bytes.Buffer
	err := e.encode(&buf, img, format, quality)
	if err == nil && buf.Len() == 0 {
		err = ErrEmptyOutput
	}
	if err != nil {
		if format == PNG {
			return nil, fmt.Errorf("failed to encode png: %w", err)
		}
		buf.Reset()
		if perr := e.encode(&buf, img, PNG, 0); perr != nil {
			return nil, fmt.Errorf("failed to encode %s (%v) and png fallback: %w", format, err, perr)
		}
		if buf.Len() == 0 {
			return nil, fmt.Errorf("failed to encode png fallback: %w", ErrEmptyOutput)
		}
		return &Result{Data: buf.Bytes(), Format: PNG}, nil
	}
	return &Result{Data: buf.Bytes(), Format: format, Quality: quality}, nil
}

// WriteImage is the default EncodeFunc.
func WriteImage(w io.Writer, img image.Image, format Format, quality int) error {
	switch format {
	case WebP:
		return webp.Encode(w, img, &webp.Options{Quality: float32(quality)})
	case JPEG:
		return imaging.Encode(w, img, imaging.JPEG, imaging.JPEGQuality(quality))
	case PNG:
		enc := png.Encoder{CompressionLevel: png.BestCompression}
		return enc.Encode(w, img)
	}
	return fmt.Errorf("unsupported output format: %s", format)
}

// ObjectName is the storage name for an upload made at now.
func ObjectName(now time.Time, f Format) string {
	return fmt.Sprintf("album_%d.%s", now.UnixMilli(), f.Ext())
}

// DownloadName is the local file name offered for downloads.
func DownloadName(f Format) string {
	return "album-cover." + f.Ext()
}

// PrepareForModel shrinks img to fit maxDim and returns it base64 encoded,
// ready to be sent to a vision model.
func PrepareForModel(img image.Image, format Format, maxDim int, quality int) (string, error) {
	if maxDim > 0 {
		b := img.Bounds()
		w, h := b.Dx(), b.Dy()
		if w > maxDim || h > maxDim {
			if w >= h {
				img = imaging.Resize(img, maxDim, 0, imaging.Lanczos)
			} else {
				img = imaging.Resize(img, 0, maxDim, imaging.Lanczos)
			}
		}
	}
	if format == WebP {
		format = JPEG
	}

	var buf bytes.Buffer
	if err := WriteImage(&buf, img, format, quality); err != nil {
		return "", fmt.Errorf("failed to encode image for model: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
