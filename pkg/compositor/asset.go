package compositor

import (
	"context"
	"errors"
	"image"
)

// ErrNoImage is returned by an asset whose loader produced neither an image
// nor an error.
var ErrNoImage = errors.New("asset produced no image")

// Asset is a decoded image that may still be loading. It becomes ready
// exactly once, either with an image or with an error.
type Asset struct {
	done chan struct{}
	img  image.Image
	err  error
}

// Load starts fn in its own goroutine and returns an Asset that becomes
// ready when fn returns.
func Load(fn func() (image.Image, error)) *Asset {
	a := &Asset{done: make(chan struct{})}
	go func() {
		defer close(a.done)
		img, err := fn()
		if err == nil && img == nil {
			err = ErrNoImage
		}
		a.img, a.err = img, err
	}()
	return a
}

// Ready wraps an already decoded image.
func Ready(img image.Image) *Asset {
	a := &Asset{done: make(chan struct{}), img: img}
	if img == nil {
		a.err = ErrNoImage
	}
	close(a.done)
	return a
}

// Done is closed once the asset has finished loading.
func (a *Asset) Done() <-chan struct{} {
	return a.done
}

// Wait blocks until the asset is ready or ctx is done.
func (a *Asset) Wait(ctx context.Context) (image.Image, error) {
	select {
	case <-a.done:
		return a.img, a.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Image returns the decoded image if ready, or nil.
func (a *Asset) Image() image.Image {
	select {
	case <-a.done:
		return a.img
	default:
		return nil
	}
}

// Join waits for all assets, in whatever order they finish, and returns
// their images in argument order. The first asset to fail aborts the join.
func Join(ctx context.Context, assets ...*Asset) ([]image.Image, error) {
	for _, a := range assets {
		if a == nil {
			return nil, ErrNoImage
		}
	}

	type result struct {
		index int
		err   error
	}
	results := make(chan result, len(assets))
	for i, a := range assets {
		go func(i int, a *Asset) {
			select {
			case <-a.done:
				results <- result{index: i, err: a.err}
			case <-ctx.Done():
				results <- result{index: i, err: ctx.Err()}
			}
		}(i, a)
	}

	images := make([]image.Image, len(assets))
	for range assets {
		r := <-results
		if r.err != nil {
			return nil, r.err
		}
		images[r.index] = assets[r.index].img
	}
	return images, nil
}
