// Package detection asks a multimodal model where the subject of a photo
// is and turns the answer into a crop center.
package detection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"regexp"
	"strings"

	"github.com/menta2k/cover-studio/pkg/client"
	"github.com/menta2k/cover-studio/pkg/encoder"
)

// ErrNoSubject is returned when the reply names no usable subject.
var ErrNoSubject = errors.New("no subject detected")

// ErrUnparseable is returned when no JSON object can be recovered from the
// model reply.
var ErrUnparseable = errors.New("model returned no usable JSON")

// DefaultPrompt is the default prompt for subject detection
const DefaultPrompt = `You are an image subject locator for square album covers.

Return JSON only:
{
  "primary": {
    "label": "string",
    "confidence": 0.0,
    "box": {"x": 0.0, "y": 0.0, "w": 0.0, "h": 0.0},
    "cx": 0.0,
    "cy": 0.0
  },
  "tags": ["tag1", "tag2", "tag3"]
}

RULES
- All coordinates are normalized to [0,1] (NOT pixels), origin top-left.
- The box tightly includes the visually dominant subject (prefer faces, people, animals, vehicles; else the most salient object).
- cx and cy are the center of the part of the subject that should stay in a square crop.
- Tags: lowercase, concise, no punctuation or duplicates.
- If no subject is found, use label "none" and confidence 0.
- JSON only. No markdown, no code fences, no comments, no trailing commas.`

// Box represents a normalized bounding box with coordinates in [0,1] range
type Box struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Subject is the primary subject reported by the model.
type Subject struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	Box        Box     `json:"box"`
	Cx         float64 `json:"cx"`
	Cy         float64 `json:"cy"`
}

// Result is the parsed model reply.
type Result struct {
	Primary Subject  `json:"primary"`
	Tags    []string `json:"tags"`
}

// Center returns the normalized point the crop should be centered on.
func (r *Result) Center() (float64, float64) {
	p := r.Primary
	if p.Cx == 0 && p.Cy == 0 && p.Box.W > 0 && p.Box.H > 0 {
		return clamp(p.Box.X+p.Box.W/2, 0, 1), clamp(p.Box.Y+p.Box.H/2, 0, 1)
	}
	return clamp(p.Cx, 0, 1), clamp(p.Cy, 0, 1)
}

// Config holds model request settings.
type Config struct {
	Model         string  `json:"model" yaml:"model"`
	Prompt        string  `json:"prompt,omitempty" yaml:"prompt,omitempty"`
	MaxDimension  int     `json:"max_dimension" yaml:"max_dimension"`
	Quality       int     `json:"quality" yaml:"quality"`
	MinConfidence float64 `json:"min_confidence" yaml:"min_confidence"`
}

// DefaultConfig returns the request defaults.
func DefaultConfig() Config {
	return Config{
		Model:         "qwen2.5vl:7b",
		MaxDimension:  768,
		Quality:       85,
		MinConfidence: 0.2,
	}
}

// Suggester is the local fallback used when the model cannot answer.
type Suggester interface {
	SuggestCenter(ctx context.Context, img image.Image) (x, y float64, err error)
}

// Detector handles image subject detection using vision models
type Detector struct {
	client   client.VisionClient
	config   Config
	fallback Suggester
}

// NewDetector creates a new detector with a vision client
func NewDetector(c client.VisionClient, config Config) *Detector {
	def := DefaultConfig()
	if config.Model == "" {
		config.Model = def.Model
	}
	if config.Prompt == "" {
		config.Prompt = DefaultPrompt
	}
	if config.MaxDimension <= 0 {
		config.MaxDimension = def.MaxDimension
	}
	if config.Quality <= 0 {
		config.Quality = def.Quality
	}
	if config.MinConfidence <= 0 {
		config.MinConfidence = def.MinConfidence
	}
	return &Detector{client: c, config: config}
}

// WithFallback sets the suggester used when the model fails or is unsure.
func (d *Detector) WithFallback(s Suggester) *Detector {
	d.fallback = s
	return d
}

// DetectSubject sends a downscaled JPEG of img to the model and parses the
// reply.
func (d *Detector) DetectSubject(ctx context.Context, img image.Image) (*Result, error) {
	imgB64, err := encoder.PrepareForModel(img, encoder.JPEG, d.config.MaxDimension, d.config.Quality)
	if err != nil {
		return nil, err
	}
	raw, err := d.client.Query(ctx, d.config.Model, d.config.Prompt, imgB64)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", d.config.Model, err)
	}
	result, err := ParseResult(raw)
	if err != nil {
		return nil, err
	}
	result.Primary.Box = normalizeBox(result.Primary.Box)
	result.Tags = normalizeTags(result.Tags)
	return result, nil
}

// SuggestCenter returns the subject center in normalized coordinates. When
// the model fails, reports no subject, or is below MinConfidence, the
// fallback decides; without one the error is returned.
func (d *Detector) SuggestCenter(ctx context.Context, img image.Image) (float64, float64, error) {
	result, err := d.DetectSubject(ctx, img)
	if err == nil && !usable(result, d.config.MinConfidence) {
		err = fmt.Errorf("%w (label %q, confidence %.2f)", ErrNoSubject, result.Primary.Label, result.Primary.Confidence)
	}
	if err != nil {
		if d.fallback != nil && ctx.Err() == nil {
			return d.fallback.SuggestCenter(ctx, img)
		}
		return 0, 0, err
	}
	x, y := result.Center()
	return x, y, nil
}

func usable(r *Result, minConfidence float64) bool {
	label := strings.ToLower(strings.TrimSpace(r.Primary.Label))
	if label == "" || label == "none" {
		return false
	}
	return r.Primary.Confidence >= minConfidence
}

var (
	reBlockComment  = regexp.MustCompile(`(?s)/\*.*?\*/`)
	reLineComment   = regexp.MustCompile(`(?m)^\s*//.*$`)
	reInlineComment = regexp.MustCompile(`(?m)//.*$`)
	reTrailingComma = regexp.MustCompile(`,(\s*[}\]])`)
)

// ParseResult recovers a Result from a model reply that may be wrapped in
// code fences, carry comments or trailing commas, or surround the object
// with prose.
func ParseResult(raw string) (*Result, error) {
	cleaned := sanitizeModelJSON(raw)
	if !strings.HasPrefix(cleaned, "{") {
		return nil, fmt.Errorf("%w: %.60q", ErrUnparseable, raw)
	}
	var result Result
	if err := json.Unmarshal([]byte(cleaned), &result); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnparseable, err)
	}
	return &result, nil
}

// sanitizeModelJSON removes code fences, comments, and trailing commas from JSON response
func sanitizeModelJSON(raw string) string {
	raw = strings.TrimSpace(raw)

	if strings.HasPrefix(raw, "```") {
		if i := strings.Index(raw, "\n"); i >= 0 {
			raw = raw[i+1:]
		}
		if j := strings.LastIndex(raw, "```"); j >= 0 {
			raw = raw[:j]
		}
	}
	raw = strings.Trim(strings.TrimSpace(raw), "`")

	raw = reBlockComment.ReplaceAllString(raw, "")
	raw = reLineComment.ReplaceAllString(raw, "")
	raw = reInlineComment.ReplaceAllString(raw, "")
	raw = reTrailingComma.ReplaceAllString(raw, "$1")

	// keep only the outermost {...}
	if start := strings.Index(raw, "{"); start >= 0 {
		if end := strings.LastIndex(raw, "}"); end > start {
			raw = raw[start : end+1]
		}
	}
	return strings.TrimSpace(raw)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// normalizeBox clamps box coordinates into [0,1]
func normalizeBox(b Box) Box {
	return Box{
		X: clamp(b.X, 0, 1),
		Y: clamp(b.Y, 0, 1),
		W: clamp(b.W, 0, 1),
		H: clamp(b.H, 0, 1),
	}
}

// normalizeTags ensures tags are cleaned and limited to 5 entries
func normalizeTags(tags []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, 5)
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
		if len(out) == 5 {
			break
		}
	}
	return out
}
