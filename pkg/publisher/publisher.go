// Package publisher renders, encodes and delivers finished covers, either
// as a local download or as an upload to the shared gallery.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log"
	"net"
	"os"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/menta2k/cover-studio/pkg/compositor"
	"github.com/menta2k/cover-studio/pkg/encoder"
	"github.com/menta2k/cover-studio/pkg/filter"
	"github.com/menta2k/cover-studio/pkg/gallery"
	"github.com/menta2k/cover-studio/pkg/notify"
	"github.com/menta2k/cover-studio/pkg/store"
)

// ErrBusy is returned by Publish while another upload is in flight.
var ErrBusy = errors.New("an upload is already in progress")

// ErrNoImage is returned when there is no cropped image to publish.
var ErrNoImage = errors.New("no cropped image")

// Renderer runs the filter+stamp pass.
type Renderer interface {
	ApplyFilterAndStamp(ctx context.Context, base *compositor.Asset, f filter.Filter) (*image.NRGBA, error)
}

// RetryConfig controls upload retries. Attempt n waits n*Backoff before the
// next try.
type RetryConfig struct {
	Attempts int           `json:"attempts" yaml:"attempts"`
	Backoff  time.Duration `json:"backoff" yaml:"backoff"`
}

// DefaultRetry is three attempts with 500ms linear backoff.
func DefaultRetry() RetryConfig {
	return RetryConfig{Attempts: 3, Backoff: 500 * time.Millisecond}
}

// Publisher delivers covers.
type Publisher struct {
	renderer Renderer
	encoder  *encoder.Encoder
	store    store.ObjectStore
	gallery  *gallery.Gallery
	notifier notify.Notifier
	logger   *log.Logger
	retry    RetryConfig
	folder   string

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	uploading atomic.Bool
}

// New creates a publisher. store and gallery may be nil when only downloads
// are needed.
func New(r Renderer, enc *encoder.Encoder, s store.ObjectStore, g *gallery.Gallery, n notify.Notifier) *Publisher {
	if n == nil {
		n = notify.Discard{}
	}
	return &Publisher{
		renderer: r,
		encoder:  enc,
		store:    s,
		gallery:  g,
		notifier: n,
		logger:   log.Default(),
		retry:    DefaultRetry(),
		now:      time.Now,
		sleep:    sleepContext,
	}
}

// WithRetry replaces the retry policy.
func (p *Publisher) WithRetry(rc RetryConfig) *Publisher {
	if rc.Attempts <= 0 {
		rc.Attempts = 1
	}
	p.retry = rc
	return p
}

// WithFolder uploads covers into folder, the one the gallery feed lists.
func (p *Publisher) WithFolder(folder string) *Publisher {
	p.folder = folder
	return p
}

// WithLogger replaces the logger.
func (p *Publisher) WithLogger(l *log.Logger) *Publisher {
	p.logger = l
	return p
}

// WithSleep replaces the backoff sleep, mainly for tests.
func (p *Publisher) WithSleep(fn func(ctx context.Context, d time.Duration) error) *Publisher {
	p.sleep = fn
	return p
}

// WithClock replaces the clock used for object names.
func (p *Publisher) WithClock(now func() time.Time) *Publisher {
	p.now = now
	return p
}

// Uploading reports whether a Publish is in flight.
func (p *Publisher) Uploading() bool {
	return p.uploading.Load()
}

// Render runs the filter+stamp pass and encodes the result once at the
// default quality.
func (p *Publisher) Render(ctx context.Context, base *compositor.Asset, f filter.Filter) (*encoder.Result, error) {
	if base == nil {
		return nil, ErrNoImage
	}
	img, err := p.renderer.ApplyFilterAndStamp(ctx, base, f)
	if err != nil {
		return nil, fmt.Errorf("failed to render cover: %w", err)
	}
	res, err := p.encoder.Encode(img)
	if err != nil {
		return nil, fmt.Errorf("failed to encode cover: %w", err)
	}
	return res, nil
}

// Download renders the cover and writes the encoded bytes to w.
func (p *Publisher) Download(ctx context.Context, base *compositor.Asset, f filter.Filter, w io.Writer) (*encoder.Result, error) {
	res, err := p.Render(ctx, base, f)
	if err != nil {
		p.notifier.Notify(notify.Error, "Failed to prepare the download. Please try again.")
		return nil, err
	}
	if _, err := w.Write(res.Data); err != nil {
		p.notifier.Notify(notify.Error, "Failed to save the download.")
		return nil, fmt.Errorf("failed to write download: %w", err)
	}
	return res, nil
}

// Publish renders, encodes within the size ceiling and uploads the cover.
// On success the public URL is prepended to the gallery and returned. No
// gallery entry is created on failure.
func (p *Publisher) Publish(ctx context.Context, base *compositor.Asset, f filter.Filter) (string, error) {
	if base == nil {
		return "", ErrNoImage
	}
	if p.store == nil {
		return "", errors.New("no object store configured")
	}
	if !p.uploading.CompareAndSwap(false, true) {
		return "", ErrBusy
	}
	defer p.uploading.Store(false)

	img, err := p.renderer.ApplyFilterAndStamp(ctx, base, f)
	if err != nil {
		p.notifier.Notify(notify.Error, "Failed to render the album cover. Please try again.")
		return "", fmt.Errorf("failed to render cover: %w", err)
	}

	res, err := p.encoder.EncodeWithin(img)
	if err != nil {
		p.notifier.Notify(notify.Error, "Failed to encode the album cover. Please try again.")
		return "", fmt.Errorf("failed to encode cover: %w", err)
	}
	if max := p.encoder.Options().MaxBytes; max > 0 && res.Size() > max {
		p.logger.Printf("Cover is still %d bytes after %d attempts (limit %d), uploading anyway", res.Size(), res.Attempts, max)
	}

	name := store.Join(p.folder, encoder.ObjectName(p.now(), res.Format))
	if err := p.upload(ctx, name, res); err != nil {
		if IsNetworkError(err) {
			p.notifier.Notify(notify.Error, "Network error while uploading. You can still download your cover locally.")
		} else {
			p.notifier.Notify(notify.Error, "Failed to upload album cover. You can still download it locally.")
		}
		return "", err
	}

	url := p.store.PublicURL(name)
	if url == "" {
		p.notifier.Notify(notify.Error, "Upload finished but no public URL was returned.")
		return "", fmt.Errorf("no public URL for %s", name)
	}
	if p.gallery != nil {
		p.gallery.Prepend(url)
	}
	p.notifier.Notify(notify.Success, "Album cover uploaded successfully!")
	p.logger.Printf("Published %s (%s, %d bytes, quality %d)", name, res.Format, res.Size(), res.Quality)
	return url, nil
}

func (p *Publisher) upload(ctx context.Context, name string, res *encoder.Result) error {
	var lastErr error
	for attempt := 1; attempt <= p.retry.Attempts; attempt++ {
		err := p.store.Upload(ctx, name, res.Data, store.UploadOptions{
			ContentType: res.ContentType(),
			Upsert:      false,
		})
		if err == nil {
			return nil
		}
		// an earlier attempt may have landed even though it reported an error
		if attempt > 1 && errors.Is(err, store.ErrExists) {
			return nil
		}
		lastErr = err
		p.logger.Printf("Upload attempt %d/%d for %s failed: %v", attempt, p.retry.Attempts, name, err)
		if errors.Is(err, store.ErrExists) || ctx.Err() != nil {
			break
		}
		if attempt < p.retry.Attempts {
			if err := p.sleep(ctx, time.Duration(attempt)*p.retry.Backoff); err != nil {
				break
			}
		}
	}
	return fmt.Errorf("failed to upload %s: %w", name, lastErr)
}

// IsNetworkError reports whether err came from the transport rather than
// from the store rejecting the request.
func IsNetworkError(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, os.ErrDeadlineExceeded) ||
		errors.Is(err, context.DeadlineExceeded)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
