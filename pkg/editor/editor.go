// Package editor is the cover editor's view-model. It owns the selection,
// the crop gesture state, the cropped base image and the active filter,
// and drives the compositor and publisher from UI events.
package editor

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"sync"

	"github.com/menta2k/cover-studio/pkg/compositor"
	"github.com/menta2k/cover-studio/pkg/encoder"
	"github.com/menta2k/cover-studio/pkg/filter"
	"github.com/menta2k/cover-studio/pkg/geometry"
	"github.com/menta2k/cover-studio/pkg/interaction"
	"github.com/menta2k/cover-studio/pkg/notify"
	"github.com/menta2k/cover-studio/pkg/publisher"
	"github.com/menta2k/cover-studio/pkg/source"
)

var (
	// ErrNoSource is returned by operations that need a selected image.
	ErrNoSource = errors.New("no image selected")
	// ErrNotCropped is returned by operations that need a confirmed crop.
	ErrNotCropped = errors.New("image has not been cropped yet")
	// ErrNotCropping is returned when the crop has already been confirmed.
	ErrNotCropping = errors.New("not in crop mode")
)

// Config holds the editor layout.
type Config struct {
	Container       geometry.Size
	DefaultCropSize float64
	ResizeStep      float64
	Limits          interaction.Limits
}

// DefaultConfig is a 400x400 crop surface with a 200px initial selection.
func DefaultConfig() Config {
	return Config{
		Container:       geometry.Size{W: 400, H: 400},
		DefaultCropSize: 200,
		ResizeStep:      20,
		Limits:          interaction.DefaultLimits(),
	}
}

// Suggester proposes where the subject of an image is, as a point in
// normalized [0,1] image coordinates.
type Suggester interface {
	SuggestCenter(ctx context.Context, img image.Image) (x, y float64, err error)
}

// View is a read-only snapshot for rendering.
type View struct {
	Open       bool
	HasSource  bool
	Source     geometry.Size
	Fit        geometry.Fit
	Crop       geometry.CropArea
	CropMode   bool
	Gesture    interaction.Mode
	HasCropped bool
	Filter     filter.Filter
	FilterCSS  string
	Uploading  bool
}

// Editor is safe for concurrent use, but UI events are expected to arrive
// from one goroutine.
type Editor struct {
	config     Config
	loader     *source.Loader
	compositor *compositor.Compositor
	publisher  *publisher.Publisher
	notifier   notify.Notifier

	mu       sync.Mutex
	open     bool
	source   *source.Image
	fit      geometry.Fit
	crop     geometry.CropArea
	cropMode bool
	gesture  interaction.State
	cropped  *compositor.Asset
	filter   filter.Filter
}

// New creates an editor.
func New(config Config, loader *source.Loader, comp *compositor.Compositor, pub *publisher.Publisher, n notify.Notifier) *Editor {
	def := DefaultConfig()
	if !config.Container.Valid() {
		config.Container = def.Container
	}
	if config.DefaultCropSize <= 0 {
		config.DefaultCropSize = def.DefaultCropSize
	}
	if config.ResizeStep <= 0 {
		config.ResizeStep = def.ResizeStep
	}
	if config.Limits.MinSize <= 0 {
		config.Limits.MinSize = def.Limits.MinSize
	}
	if config.Limits.HandleSize <= 0 {
		config.Limits.HandleSize = def.Limits.HandleSize
	}
	if loader == nil {
		loader = source.New()
	}
	if n == nil {
		n = notify.Discard{}
	}
	return &Editor{
		config:     config,
		loader:     loader,
		compositor: comp,
		publisher:  pub,
		notifier:   n,
		crop:       geometry.CropArea{Size: config.DefaultCropSize},
		filter:     filter.None,
	}
}

// Open shows the editor.
func (e *Editor) Open() {
	e.mu.Lock()
	e.open = true
	e.mu.Unlock()
}

// Close hides the editor without clearing its state.
func (e *Editor) Close() {
	e.mu.Lock()
	e.open = false
	e.gesture = interaction.PointerUp(e.gesture)
	e.mu.Unlock()
}

// View returns the current state.
func (e *Editor) View() View {
	e.mu.Lock()
	defer e.mu.Unlock()
	v := View{
		Open:       e.open,
		HasSource:  e.source != nil,
		Fit:        e.fit,
		Crop:       e.crop,
		CropMode:   e.cropMode,
		Gesture:    e.gesture.Mode,
		HasCropped: e.cropped != nil,
		Filter:     e.filter,
		FilterCSS:  e.filter.CSS(),
	}
	if e.source != nil {
		v.Source = e.source.Size()
	}
	if e.publisher != nil {
		v.Uploading = e.publisher.Uploading()
	}
	return v
}

// Load decodes r and selects it. Unsupported or undecodable input is
// reported to the user and leaves the editor untouched.
func (e *Editor) Load(name string, r io.Reader) error {
	img, err := e.loader.Load(name, r)
	if err != nil {
		e.reportLoadError(err)
		return err
	}
	e.Select(img)
	return nil
}

// LoadFile is Load for a file path or URL.
func (e *Editor) LoadFile(ctx context.Context, path string) error {
	img, err := e.loader.LoadAny(ctx, path)
	if err != nil {
		e.reportLoadError(err)
		return err
	}
	e.Select(img)
	return nil
}

func (e *Editor) reportLoadError(err error) {
	switch {
	case errors.Is(err, source.ErrUnsupportedFormat):
		e.notifier.Notify(notify.Error, "Please select a valid image file (JPEG, PNG, GIF, WebP, BMP or TIFF).")
	case errors.Is(err, source.ErrTooLarge):
		e.notifier.Notify(notify.Error, "That image is too large.")
	default:
		e.notifier.Notify(notify.Error, "Failed to load the image.")
	}
}

// Select makes img the source: any pending composition is discarded, the
// crop selection is centered on the displayed image and crop mode starts.
func (e *Editor) Select(img *source.Image) {
	if img == nil {
		return
	}
	e.compositor.Invalidate()

	e.mu.Lock()
	defer e.mu.Unlock()
	e.source = img
	e.fit = geometry.FitContain(img.Size(), e.config.Container)
	e.crop = geometry.InitialCrop(e.fit, e.config.DefaultCropSize, e.config.Limits.MinSize)
	e.cropMode = true
	e.gesture = interaction.State{}
	e.cropped = nil
	e.filter = filter.None
}

// SetContainer updates the crop surface size. The fit is recomputed and
// the selection is constrained to it.
func (e *Editor) SetContainer(size geometry.Size) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !size.Valid() {
		return
	}
	e.config.Container = size
	if e.source == nil {
		return
	}
	e.fit = geometry.FitContain(e.source.Size(), size)
	e.crop = geometry.Constrain(e.crop, e.config.Limits.MinSize, e.fit)
}

// PointerDown starts a drag or resize depending on where p lands.
func (e *Editor) PointerDown(p geometry.Point) {
	e.mu.Lock()
	defer e.mu.Unlock()
	target := interaction.HitTest(e.crop, p, e.config.Limits.HandleSize)
	e.gesture = interaction.PointerDown(e.gesture, e.crop, p, target, e.cropMode)
}

// PointerMove advances the active gesture.
func (e *Editor) PointerMove(p geometry.Point) geometry.CropArea {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.gesture, e.crop = interaction.PointerMove(e.gesture, e.crop, e.fit, p, e.config.Limits, e.cropMode)
	return e.crop
}

// PointerUp ends the active gesture.
func (e *Editor) PointerUp() {
	e.mu.Lock()
	e.gesture = interaction.PointerUp(e.gesture)
	e.mu.Unlock()
}

// PointerLeave ends the active gesture when the pointer leaves the surface.
func (e *Editor) PointerLeave() {
	e.mu.Lock()
	e.gesture = interaction.PointerLeave(e.gesture)
	e.mu.Unlock()
}

// ResizeBy changes the selection size by delta with the gesture clamps.
func (e *Editor) ResizeBy(delta float64) geometry.CropArea {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.cropMode || e.source == nil {
		return e.crop
	}
	e.crop = interaction.Resize(e.crop, e.fit, delta, e.config.Limits)
	return e.crop
}

// Grow enlarges the selection by one step.
func (e *Editor) Grow() geometry.CropArea {
	return e.ResizeBy(e.config.ResizeStep)
}

// Shrink reduces the selection by one step.
func (e *Editor) Shrink() geometry.CropArea {
	return e.ResizeBy(-e.config.ResizeStep)
}

// SetCrop places the selection explicitly, constrained to the image.
func (e *Editor) SetCrop(area geometry.CropArea) geometry.CropArea {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.source == nil {
		return e.crop
	}
	e.crop = geometry.Constrain(area, e.config.Limits.MinSize, e.fit)
	return e.crop
}

// SourceRect is the region of the source the current selection covers.
func (e *Editor) SourceRect() (geometry.Rect, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.source == nil {
		return geometry.Rect{}, ErrNoSource
	}
	return geometry.DisplayToSource(e.crop, e.fit, e.source.Size()), nil
}

// SuggestCrop recenters the selection on the subject s finds. The size is
// kept and the result is clamped to the displayed image.
func (e *Editor) SuggestCrop(ctx context.Context, s Suggester) (geometry.CropArea, error) {
	e.mu.Lock()
	img := e.source
	cropMode := e.cropMode
	e.mu.Unlock()
	if img == nil {
		return geometry.CropArea{}, ErrNoSource
	}
	if !cropMode {
		return geometry.CropArea{}, ErrNotCropping
	}

	nx, ny, err := s.SuggestCenter(ctx, img.Pixels)
	if err != nil {
		return geometry.CropArea{}, fmt.Errorf("failed to suggest crop: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.source != img {
		return e.crop, compositor.ErrStale
	}
	size := img.Size()
	center := geometry.SourceToDisplay(geometry.Point{X: nx * size.W, Y: ny * size.H}, e.fit, size)
	e.crop = geometry.CenterOn(center, e.crop.Size, e.config.Limits.MinSize, e.fit)
	return e.crop, nil
}

// ApplyCrop confirms the selection: the crop pass renders the base image,
// crop mode ends and the filter resets to none.
func (e *Editor) ApplyCrop(ctx context.Context) error {
	e.mu.Lock()
	img, area, fit := e.source, e.crop, e.fit
	e.mu.Unlock()
	if img == nil {
		return ErrNoSource
	}

	cropped, err := e.compositor.ApplyCrop(ctx, img.Pixels, area, fit)
	if err != nil {
		if !errors.Is(err, compositor.ErrStale) {
			e.notifier.Notify(notify.Error, "Failed to crop the image.")
		}
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.source != img {
		return compositor.ErrStale
	}
	e.cropped = cropped
	e.cropMode = false
	e.gesture = interaction.State{}
	e.filter = filter.None
	return nil
}

// Recrop returns to crop mode keeping the current selection. The confirmed
// crop stays available until ApplyCrop replaces it.
func (e *Editor) Recrop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.source == nil {
		return ErrNoSource
	}
	e.cropMode = true
	return nil
}

// SetFilter chooses the active filter. The cropped image is not modified.
func (e *Editor) SetFilter(f filter.Filter) {
	if !f.Known() {
		f = filter.None
	}
	e.mu.Lock()
	e.filter = f
	e.mu.Unlock()
}

// Cropped returns the confirmed base image, or nil.
func (e *Editor) Cropped() *compositor.Asset {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cropped
}

// Preview runs the filter+stamp pass for the active filter.
func (e *Editor) Preview(ctx context.Context) (*image.NRGBA, error) {
	base, f := e.current()
	if base == nil {
		return nil, ErrNotCropped
	}
	return e.compositor.ApplyFilterAndStamp(ctx, base, f)
}

// Download writes the encoded cover to w.
func (e *Editor) Download(ctx context.Context, w io.Writer) (*encoder.Result, error) {
	base, f := e.current()
	if base == nil {
		return nil, ErrNotCropped
	}
	return e.publisher.Download(ctx, base, f, w)
}

// Publish uploads the cover. On success the editor resets and closes,
// unless another image was selected or cropped while the upload ran; on
// failure everything is kept so the user can retry or download.
func (e *Editor) Publish(ctx context.Context) (string, error) {
	base, f := e.current()
	if base == nil {
		return "", ErrNotCropped
	}
	url, err := e.publisher.Publish(ctx, base, f)
	if err != nil {
		return "", err
	}

	e.mu.Lock()
	current := e.cropped == base
	if current {
		e.reset()
		e.open = false
	}
	e.mu.Unlock()
	if current {
		e.compositor.Invalidate()
	}
	return url, nil
}

// Cancel closes the editor and discards its state.
func (e *Editor) Cancel() {
	e.Close()
	e.Reset()
}

// Reset discards the selection, crop and filter.
func (e *Editor) Reset() {
	e.compositor.Invalidate()

	e.mu.Lock()
	defer e.mu.Unlock()
	e.reset()
}

// reset must be called with mu held.
func (e *Editor) reset() {
	e.source = nil
	e.fit = geometry.Fit{}
	e.crop = geometry.CropArea{Size: e.config.DefaultCropSize}
	e.cropMode = false
	e.gesture = interaction.State{}
	e.cropped = nil
	e.filter = filter.None
}

func (e *Editor) current() (*compositor.Asset, filter.Filter) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cropped, e.filter
}
