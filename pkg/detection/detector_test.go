package detection

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"math"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/google/go-cmp/cmp"
)

type fakeClient struct {
	reply string
	err   error

	model  string
	prompt string
	image  string
}

func (f *fakeClient) Query(ctx context.Context, model, prompt, imgB64 string) (string, error) {
	f.model, f.prompt, f.image = model, prompt, imgB64
	return f.reply, f.err
}

type fixedSuggester struct{ x, y float64 }

func (s fixedSuggester) SuggestCenter(ctx context.Context, img image.Image) (float64, float64, error) {
	return s.x, s.y, nil
}

func createTestImage(width, height int) image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetNRGBA(x, y, color.NRGBA{uint8(x % 256), uint8(y % 256), 128, 255})
		}
	}
	return img
}

func TestSanitizeModelJSON(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"plain", `{"a":1}`, `{"a":1}`},
		{"fenced", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"comments", "{\n// note\n\"a\":1 /* inline */\n}", "{\n\n\"a\":1 \n}"},
		{"trailing comma", `{"a":[1,2,],}`, `{"a":[1,2]}`},
		{"prose", `Sure! Here it is: {"a":1} Hope that helps.`, `{"a":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sanitizeModelJSON(tt.raw); got != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestParseResult(t *testing.T) {
	raw := "```json\n{\"primary\":{\"label\":\"dog\",\"confidence\":0.9,\"box\":{\"x\":0.6,\"y\":0.2,\"w\":0.3,\"h\":0.4},\"cx\":0.75,\"cy\":0.4},\"tags\":[\"dog\",],}\n```"
	result, err := ParseResult(raw)
	if err != nil {
		t.Fatalf("ParseResult failed: %v", err)
	}
	want := &Result{
		Primary: Subject{Label: "dog", Confidence: 0.9, Box: Box{X: 0.6, Y: 0.2, W: 0.3, H: 0.4}, Cx: 0.75, Cy: 0.4},
		Tags:    []string{"dog"},
	}
	if diff := cmp.Diff(want, result); diff != "" {
		t.Errorf("ParseResult mismatch (-want +got):\n%s", diff)
	}

	for _, bad := range []string{"I see a dog.", `{"primary": nope}`, ""} {
		if _, err := ParseResult(bad); !errors.Is(err, ErrUnparseable) {
			t.Errorf("ParseResult(%q): expected ErrUnparseable, got %v", bad, err)
		}
	}
}

func TestResultCenter(t *testing.T) {
	r := &Result{Primary: Subject{Box: Box{X: 0.1, Y: 0.2, W: 0.4, H: 0.2}}}
	x, y := r.Center()
	if math.Abs(x-0.3) > 1e-9 || math.Abs(y-0.3) > 1e-9 {
		t.Errorf("Expected box center (0.3, 0.3), got (%f, %f)", x, y)
	}

	r = &Result{Primary: Subject{Cx: 1.4, Cy: -0.2}}
	x, y = r.Center()
	if x != 1 || y != 0 {
		t.Errorf("Expected clamped (1, 0), got (%f, %f)", x, y)
	}
}

func TestDetectSubjectSendsDownscaledJPEG(t *testing.T) {
	fc := &fakeClient{reply: `{"primary":{"label":"Car","confidence":0.8,"box":{"x":-0.1,"y":0,"w":1.3,"h":0.5},"cx":0.4,"cy":0.3},"tags":["Car"," car ","road"]}`}
	d := NewDetector(fc, Config{Model: "llava", MaxDimension: 64})

	result, err := d.DetectSubject(context.Background(), createTestImage(256, 128))
	if err != nil {
		t.Fatalf("DetectSubject failed: %v", err)
	}
	if fc.model != "llava" || fc.prompt != DefaultPrompt {
		t.Errorf("Unexpected request model=%q", fc.model)
	}
	data, err := base64.StdEncoding.DecodeString(fc.image)
	if err != nil {
		t.Fatalf("Image is not base64: %v", err)
	}
	if len(data) < 3 || data[0] != 0xFF || data[1] != 0xD8 {
		t.Error("Expected a JPEG payload")
	}
	sent, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	if sent.Bounds().Dx() != 64 || sent.Bounds().Dy() != 32 {
		t.Errorf("Expected 64x32, got %v", sent.Bounds())
	}

	if diff := cmp.Diff([]string{"car", "road"}, result.Tags); diff != "" {
		t.Errorf("Tags mismatch (-want +got):\n%s", diff)
	}
	if result.Primary.Box != (Box{X: 0, Y: 0, W: 1, H: 0.5}) {
		t.Errorf("Expected clamped box, got %+v", result.Primary.Box)
	}
}

func TestSuggestCenter(t *testing.T) {
	fc := &fakeClient{reply: `{"primary":{"label":"face","confidence":0.7,"cx":0.8,"cy":0.25}}`}
	x, y, err := NewDetector(fc, Config{}).SuggestCenter(context.Background(), createTestImage(40, 40))
	if err != nil {
		t.Fatalf("SuggestCenter failed: %v", err)
	}
	if x != 0.8 || y != 0.25 {
		t.Errorf("Expected (0.8, 0.25), got (%f, %f)", x, y)
	}
}

func TestNewDetectorDefaults(t *testing.T) {
	d := NewDetector(&fakeClient{}, Config{})
	if diff := cmp.Diff(DefaultConfig().MinConfidence, d.config.MinConfidence); diff != "" {
		t.Errorf("MinConfidence mismatch (-want +got):\n%s", diff)
	}
	if d.config.Model != DefaultConfig().Model || d.config.Prompt != DefaultPrompt {
		t.Errorf("Expected default model and prompt, got %+v", d.config)
	}

	d = NewDetector(&fakeClient{}, Config{MinConfidence: 0.6})
	if d.config.MinConfidence != 0.6 {
		t.Errorf("Expected 0.6, got %f", d.config.MinConfidence)
	}
}

func TestSuggestCenterFallback(t *testing.T) {
	tests := []struct {
		name string
		fc   *fakeClient
	}{
		{"query error", &fakeClient{err: errors.New("connection refused")}},
		{"no subject", &fakeClient{reply: `{"primary":{"label":"none","confidence":0}}`}},
		{"low confidence", &fakeClient{reply: `{"primary":{"label":"tree","confidence":0.05,"cx":0.1,"cy":0.1}}`}},
		{"prose", &fakeClient{reply: "A landscape at sunset."}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDetector(tt.fc, Config{})
			if _, _, err := d.SuggestCenter(context.Background(), createTestImage(20, 20)); err == nil {
				t.Error("Expected error without fallback")
			}

			d.WithFallback(fixedSuggester{x: 0.3, y: 0.6})
			x, y, err := d.SuggestCenter(context.Background(), createTestImage(20, 20))
			if err != nil {
				t.Fatalf("Expected fallback, got %v", err)
			}
			if x != 0.3 || y != 0.6 {
				t.Errorf("Expected fallback center, got (%f, %f)", x, y)
			}
		})
	}
}

func TestNoFallbackAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d := NewDetector(&fakeClient{err: context.Canceled}, Config{}).WithFallback(fixedSuggester{x: 0.1, y: 0.1})
	if _, _, err := d.SuggestCenter(ctx, createTestImage(10, 10)); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}
