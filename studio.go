// Package coverstudio assembles the album cover editor from its parts.
//
// A cover is made in three steps: a photo is loaded and a square region is
// selected on a letterboxed preview, the region is rendered onto an 800x800
// canvas, and a filter plus a branded stamp are applied before the result
// is encoded and either downloaded or published to a shared bucket.
//
// Basic usage:
//
//	cfg := config.Default()
//	studio, err := coverstudio.New(cfg)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer studio.Close()
//
//	ed := studio.Editor
//	if err := ed.LoadFile(ctx, "photo.jpg"); err != nil {
//		log.Fatal(err)
//	}
//	if err := ed.ApplyCrop(ctx); err != nil {
//		log.Fatal(err)
//	}
//	ed.SetFilter(filter.Sepia)
//	url, err := ed.Publish(ctx)
//
// The package consists of these components:
//
//  1. Source (pkg/source): sniffing, validation and decoding of photos
//  2. Geometry and interaction (pkg/geometry, pkg/interaction): the crop
//     selection, its gestures and the display to source mapping
//  3. Compositor (pkg/compositor): the crop pass and the filter+stamp pass
//  4. Encoder (pkg/encoder): WebP output with size-bounded quality
//  5. Publisher, store and gallery (pkg/publisher, pkg/store, pkg/gallery):
//     uploads with retry and the paged, newest-first cover feed
//  6. Suggestion (pkg/vision, pkg/detection): optional subject-centered crops
package coverstudio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/menta2k/cover-studio/assets"
	"github.com/menta2k/cover-studio/internal/config"
	"github.com/menta2k/cover-studio/pkg/compositor"
	"github.com/menta2k/cover-studio/pkg/detection"
	"github.com/menta2k/cover-studio/pkg/editor"
	"github.com/menta2k/cover-studio/pkg/encoder"
	"github.com/menta2k/cover-studio/pkg/gallery"
	"github.com/menta2k/cover-studio/pkg/geometry"
	"github.com/menta2k/cover-studio/pkg/interaction"
	"github.com/menta2k/cover-studio/pkg/llamacpp"
	"github.com/menta2k/cover-studio/pkg/notify"
	"github.com/menta2k/cover-studio/pkg/ollama"
	"github.com/menta2k/cover-studio/pkg/publisher"
	"github.com/menta2k/cover-studio/pkg/source"
	"github.com/menta2k/cover-studio/pkg/store"
	"github.com/menta2k/cover-studio/pkg/store/sqlite"
	"github.com/menta2k/cover-studio/pkg/store/supabase"
	"github.com/menta2k/cover-studio/pkg/vision"
)

// Version of the cover studio
const Version = "1.0.0"

// Studio holds one fully wired editor and gallery.
type Studio struct {
	Config     *config.Config
	Toasts     *notify.Center
	Loader     *source.Loader
	Compositor *compositor.Compositor
	Encoder    *encoder.Encoder
	Store      store.ObjectStore
	Gallery    *gallery.Gallery
	Feed       *gallery.Feed
	Publisher  *publisher.Publisher
	Editor     *editor.Editor
	Suggester  editor.Suggester

	logger  *log.Logger
	closers []io.Closer
}

// New validates cfg and builds a studio with the configured store.
func New(cfg *config.Config) (*Studio, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	s, closer, err := OpenStore(cfg.Store)
	if err != nil {
		return nil, err
	}
	studio, err := NewWithStore(cfg, s)
	if err != nil {
		if closer != nil {
			closer.Close()
		}
		return nil, err
	}
	if closer != nil {
		studio.closers = append(studio.closers, closer)
	}
	return studio, nil
}

// NewWithStore builds a studio around an existing object store.
func NewWithStore(cfg *config.Config, s store.ObjectStore) (*Studio, error) {
	suggester, err := NewSuggester(cfg.Vision)
	if err != nil {
		return nil, err
	}

	logger := log.Default()
	toasts := notify.NewCenter(time.Duration(cfg.Notify.DurationMS) * time.Millisecond)
	notifier := notify.Multi{toasts, notify.LogNotifier{Logger: logger}}

	stamp := compositor.Ready(assets.Stamp())
	if cfg.Canvas.StampPath != "" {
		path := cfg.Canvas.StampPath
		stamp = compositor.Load(func() (image.Image, error) { return assets.LoadStamp(path) })
	}
	comp := compositor.New(compositor.Config{
		CanvasSize:   cfg.Canvas.Size,
		StampRatio:   cfg.Canvas.StampRatio,
		StampPadding: cfg.Canvas.StampPadding,
		StampAspect:  cfg.Canvas.StampAspect,
	}, stamp)

	loader := source.NewWithConfig(cfg.Source)
	enc := encoder.New(cfg.Encoder)
	g := gallery.New()

	feed := gallery.NewFeed(g, s, notifier, gallery.FeedConfig{
		PageSize: cfg.Gallery.PageSize,
		Prefix:   cfg.Gallery.Prefix,
	}).WithLogger(logger).WithTrigger(gallery.NewScrollTrigger(
		cfg.Gallery.ScrollThreshold,
		time.Duration(cfg.Gallery.ScrollIntervalMS)*time.Millisecond,
	))

	pub := publisher.New(comp, enc, s, g, notifier).
		WithFolder(cfg.Gallery.Prefix).
		WithLogger(logger).
		WithRetry(publisher.RetryConfig{
			Attempts: cfg.Upload.Attempts,
			Backoff:  time.Duration(cfg.Upload.BackoffMS) * time.Millisecond,
		})

	ed := editor.New(editor.Config{
		Container:       geometry.Size{W: cfg.Editor.ContainerWidth, H: cfg.Editor.ContainerHeight},
		DefaultCropSize: cfg.Editor.DefaultCropSize,
		ResizeStep:      cfg.Editor.ResizeStep,
		Limits: interaction.Limits{
			MinSize:    cfg.Editor.MinCropSize,
			HandleSize: cfg.Editor.HandleSize,
		},
	}, loader, comp, pub, notifier)

	return &Studio{
		Config:     cfg,
		Toasts:     toasts,
		Loader:     loader,
		Compositor: comp,
		Encoder:    enc,
		Store:      s,
		Gallery:    g,
		Feed:       feed,
		Publisher:  pub,
		Editor:     ed,
		Suggester:  suggester,
		logger:     logger,
	}, nil
}

// OpenStore creates the object store named by cfg.Backend. The closer is nil
// for stores that hold no resources.
func OpenStore(cfg config.StoreConfig) (store.ObjectStore, io.Closer, error) {
	switch cfg.Backend {
	case "supabase":
		c, err := supabase.NewClient(cfg.SupabaseURL, cfg.SupabaseKey, cfg.Bucket)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create supabase client: %w", err)
		}
		return c, nil, nil
	case "sqlite", "":
		b, err := sqlite.Open(cfg.SQLitePath, cfg.PublicBaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open sqlite bucket: %w", err)
		}
		return b, b, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

// NewSuggester builds the crop suggester for cfg.Provider. Model-backed
// suggesters fall back to local saliency.
func NewSuggester(cfg config.VisionConfig) (editor.Suggester, error) {
	local := vision.NewWithConfig(cfg.Saliency)
	detCfg := detection.Config{
		Model:         cfg.Model,
		MaxDimension:  cfg.MaxDimension,
		Quality:       cfg.Quality,
		MinConfidence: cfg.MinConfidence,
	}

	switch cfg.Provider {
	case "saliency", "":
		return local, nil
	case "ollama":
		endpoint := cfg.Endpoint
		if endpoint == "" {
			endpoint = "http://localhost:11434"
		}
		c, err := ollama.NewClient(endpoint)
		if err != nil {
			return nil, fmt.Errorf("failed to create ollama client: %w", err)
		}
		return detection.NewDetector(c, detCfg).WithFallback(local), nil
	case "llamacpp":
		c, err := llamacpp.NewClient(cfg.Endpoint)
		if err != nil {
			return nil, fmt.Errorf("failed to create llama.cpp client: %w", err)
		}
		return detection.NewDetector(c, detCfg).WithFallback(local), nil
	default:
		return nil, fmt.Errorf("unknown vision provider %q", cfg.Provider)
	}
}

// SuggestCrop recenters the editor's selection with the configured suggester.
func (s *Studio) SuggestCrop(ctx context.Context) (geometry.CropArea, error) {
	return s.Editor.SuggestCrop(ctx, s.Suggester)
}

// Close releases the store and stops toast timers.
func (s *Studio) Close() error {
	s.Toasts.Close()
	var errs []error
	for _, c := range s.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

// Handler serves the gallery API at /api/covers and, for the sqlite
// backend, the stored objects under the path of the public base URL.
func (s *Studio) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/covers", s.handleCovers)
	if b, ok := s.Store.(*sqlite.Bucket); ok {
		prefix := "/covers"
		if u, err := url.Parse(s.Config.Store.PublicBaseURL); err == nil && u.Path != "" && u.Path != "/" {
			prefix = strings.TrimSuffix(u.Path, "/")
		}
		mux.Handle(prefix+"/", http.StripPrefix(prefix, b))
	}
	return mux
}

type coversPage struct {
	Covers  []string `json:"covers"`
	Offset  int      `json:"offset"`
	HasMore bool     `json:"has_more"`
}

// handleCovers returns one newest-first page of public cover URLs.
func (s *Studio) handleCovers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	limit := s.Config.Gallery.PageSize
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 && v <= 100 {
		limit = v
	}
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if offset < 0 {
		offset = 0
	}

	entries, err := s.Store.List(r.Context(), s.Config.Gallery.Prefix, store.ListOptions{
		Limit:  limit,
		Offset: offset,
		SortBy: store.NewestFirst,
	})
	if err != nil {
		s.logger.Printf("Failed to list covers: %v", err)
		http.Error(w, "failed to list covers", http.StatusBadGateway)
		return
	}

	page := coversPage{Covers: []string{}, Offset: offset + len(entries), HasMore: len(entries) >= limit}
	for _, e := range entries {
		if store.IsPlaceholder(e.Name) {
			continue
		}
		page.Covers = append(page.Covers, s.Store.PublicURL(store.Join(s.Config.Gallery.Prefix, e.Name)))
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(page)
}

// GetVersion returns the library version
func GetVersion() string {
	return Version
}
