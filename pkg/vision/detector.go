// Package vision finds visually busy regions of a photo without a model.
// It backs the local crop suggestion.
package vision

import (
	"context"
	"errors"
	"image"
	"math"
	"sort"

	"github.com/disintegration/imaging"
)

// ErrEmptyImage is returned for images without pixels.
var ErrEmptyImage = errors.New("empty image")

// SubjectDetector scores regions by local contrast and brightness.
type SubjectDetector struct {
	config DetectionConfig
}

// DetectionConfig holds configuration for subject detection
type DetectionConfig struct {
	EdgeThreshold   float64 `json:"edge_threshold" yaml:"edge_threshold"`
	ContrastWeight  float64 `json:"contrast_weight" yaml:"contrast_weight"`
	ColorWeight     float64 `json:"color_weight" yaml:"color_weight"`
	MinSubjectRatio float64 `json:"min_subject_ratio" yaml:"min_subject_ratio"`
	// AnalysisSize bounds the longest side of the copy the saliency map is
	// computed on. Zero analyses the image at full size.
	AnalysisSize int `json:"analysis_size" yaml:"analysis_size"`
	MaxRegions   int `json:"max_regions" yaml:"max_regions"`
}

// DefaultConfig returns the detector defaults.
func DefaultConfig() DetectionConfig {
	return DetectionConfig{
		EdgeThreshold:   0.01,
		ContrastWeight:  0.7,
		ColorWeight:     0.3,
		MinSubjectRatio: 0.05,
		AnalysisSize:    256,
		MaxRegions:      10,
	}
}

// New creates a new SubjectDetector with default configuration
func New() *SubjectDetector {
	return &SubjectDetector{config: DefaultConfig()}
}

// NewWithConfig creates a new SubjectDetector with custom configuration
func NewWithConfig(config DetectionConfig) *SubjectDetector {
	if config.MaxRegions <= 0 {
		config.MaxRegions = DefaultConfig().MaxRegions
	}
	return &SubjectDetector{config: config}
}

// Region represents a rectangular region of interest in image pixels.
type Region struct {
	X      int
	Y      int
	Width  int
	Height int
	Score  float64
}

// Center returns the center point of the region
func (r Region) Center() (int, int) {
	return r.X + r.Width/2, r.Y + r.Height/2
}

// Area returns the area of the region
func (r Region) Area() int {
	return r.Width * r.Height
}

type saliencyMap struct {
	width, height int
	values        []float64
}

func (m *saliencyMap) at(x, y int) float64 {
	return m.values[y*m.width+x]
}

// SuggestCenter picks the square window of the image that covers the most
// salient regions and returns the centroid of the pixels inside it whose
// saliency exceeds the mean by more than EdgeThreshold, in normalized [0,1]
// coordinates. Without such a window the whole image is used; images with
// no distinct subject yield the center.
func (d *SubjectDetector) SuggestCenter(ctx context.Context, img image.Image) (float64, float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}
	if img == nil || img.Bounds().Empty() {
		return 0, 0, ErrEmptyImage
	}

	small, _ := d.downsample(img)
	m := d.calculateSaliencyMap(small)

	var mean float64
	for _, v := range m.values {
		mean += v
	}
	mean /= float64(len(m.values))
	cutoff := mean + d.config.EdgeThreshold

	full := image.Rect(0, 0, m.width, m.height)
	side := min(m.width, m.height)
	best := d.findOptimalCropPosition(d.subjects(m), side, side, m.width, m.height)
	if best.Score > 0 {
		window := image.Rect(best.X, best.Y, best.X+best.Width, best.Y+best.Height).Intersect(full)
		if x, y, ok := m.centroid(window, cutoff); ok {
			return x, y, nil
		}
	}
	if x, y, ok := m.centroid(full, cutoff); ok {
		return x, y, nil
	}
	return 0.5, 0.5, nil
}

// centroid weights each pixel of r by how far it rises above cutoff.
func (m *saliencyMap) centroid(r image.Rectangle, cutoff float64) (float64, float64, bool) {
	var total, sx, sy float64
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			w := m.at(x, y) - cutoff
			if w <= 0 {
				continue
			}
			total += w
			sx += w * (float64(x) + 0.5)
			sy += w * (float64(y) + 0.5)
		}
	}
	if total == 0 {
		return 0, 0, false
	}
	return sx / total / float64(m.width), sy / total / float64(m.height), true
}

// subjects returns the best scoring regions of m in map coordinates.
func (d *SubjectDetector) subjects(m *saliencyMap) []Region {
	regions := d.findImportantRegions(m)
	regions = d.filterAndScoreRegions(regions, m.width, m.height)
	if len(regions) > d.config.MaxRegions {
		regions = regions[:d.config.MaxRegions]
	}
	return regions
}

func (d *SubjectDetector) downsample(img image.Image) (image.Image, float64) {
	b := img.Bounds()
	longest := b.Dx()
	if b.Dy() > longest {
		longest = b.Dy()
	}
	if d.config.AnalysisSize <= 0 || longest <= d.config.AnalysisSize {
		return img, 1
	}
	small := imaging.Fit(img, d.config.AnalysisSize, d.config.AnalysisSize, imaging.Box)
	return small, float64(b.Dx()) / float64(small.Bounds().Dx())
}

func (d *SubjectDetector) calculateSaliencyMap(img image.Image) *saliencyMap {
	src := imaging.Clone(img)
	width, height := src.Rect.Dx(), src.Rect.Dy()
	m := &saliencyMap{width: width, height: height, values: make([]float64, width*height)}

	maxDiff := 8 * 255 * math.Sqrt(3)
	neighbors := [8][2]int{{-1, -1}, {-1, 0}, {-1, 1}, {0, -1}, {0, 1}, {1, -1}, {1, 0}, {1, 1}}

	for y := 1; y < height-1; y++ {
		for x := 1; x < width-1; x++ {
			i := src.PixOffset(x, y)
			r1, g1, b1 := float64(src.Pix[i]), float64(src.Pix[i+1]), float64(src.Pix[i+2])

			var edge float64
			for _, off := range neighbors {
				j := src.PixOffset(x+off[0], y+off[1])
				dr := r1 - float64(src.Pix[j])
				dg := g1 - float64(src.Pix[j+1])
				db := b1 - float64(src.Pix[j+2])
				edge += math.Sqrt(dr*dr + dg*dg + db*db)
			}
			edge /= maxDiff

			brightness := (r1 + g1 + b1) / (3 * 255)
			m.values[y*width+x] = d.config.ContrastWeight*edge + d.config.ColorWeight*brightness
		}
	}
	return m
}

func (d *SubjectDetector) findImportantRegions(m *saliencyMap) []Region {
	var regions []Region
	width, height := m.width, m.height

	for _, windowSize := range []int{width / 20, width / 16, width / 12, width / 8, width / 4} {
		if windowSize < 10 || windowSize > height {
			continue
		}
		step := windowSize / 8
		for y := 0; y <= height-windowSize; y += step {
			for x := 0; x <= width-windowSize; x += step {
				score := m.regionScore(x, y, windowSize, windowSize)
				if score > d.config.EdgeThreshold {
					regions = append(regions, Region{X: x, Y: y, Width: windowSize, Height: windowSize, Score: score})
				}
			}
		}
	}
	return regions
}

func (m *saliencyMap) regionScore(x, y, width, height int) float64 {
	var total float64
	count := 0
	for ry := y; ry < y+height && ry < m.height; ry++ {
		for rx := x; rx < x+width && rx < m.width; rx++ {
			total += m.at(rx, ry)
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return total / float64(count)
}

func (d *SubjectDetector) filterAndScoreRegions(regions []Region, imageWidth, imageHeight int) []Region {
	minArea := int(float64(imageWidth*imageHeight) * d.config.MinSubjectRatio)
	filtered := regions[:0]
	for _, r := range regions {
		if r.Area() >= minArea {
			filtered = append(filtered, r)
		}
	}
	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].Score > filtered[j].Score
	})
	return filtered
}

func (d *SubjectDetector) findOptimalCropPosition(subjects []Region, cropWidth, cropHeight, imageWidth, imageHeight int) Region {
	best := Region{
		X:      (imageWidth - cropWidth) / 2,
		Y:      (imageHeight - cropHeight) / 2,
		Width:  cropWidth,
		Height: cropHeight,
	}
	if len(subjects) == 0 {
		return best
	}

	stepSize := int(math.Max(float64(cropWidth)/20, float64(cropHeight)/20))
	if stepSize < 10 {
		stepSize = 10
	}

	for y := 0; y <= imageHeight-cropHeight; y += stepSize {
		for x := 0; x <= imageWidth-cropWidth; x += stepSize {
			score := scoreCropPosition(subjects, x, y, cropWidth, cropHeight)
			if score > best.Score {
				best = Region{X: x, Y: y, Width: cropWidth, Height: cropHeight, Score: score}
			}
		}
	}
	return best
}

// scoreCropPosition sums each subject's covered fraction weighted by its score.
func scoreCropPosition(subjects []Region, cropX, cropY, cropWidth, cropHeight int) float64 {
	score := 0.0
	for _, s := range subjects {
		x1 := max(cropX, s.X)
		y1 := max(cropY, s.Y)
		x2 := min(cropX+cropWidth, s.X+s.Width)
		y2 := min(cropY+cropHeight, s.Y+s.Height)
		if x2 > x1 && y2 > y1 && s.Area() > 0 {
			score += float64((x2-x1)*(y2-y1)) / float64(s.Area()) * s.Score
		}
	}
	return score
}
