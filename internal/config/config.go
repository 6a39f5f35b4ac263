package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/menta2k/cover-studio/pkg/encoder"
	"github.com/menta2k/cover-studio/pkg/source"
	"github.com/menta2k/cover-studio/pkg/store"
	"github.com/menta2k/cover-studio/pkg/vision"
)

// Config holds the application configuration
type Config struct {
	Editor  EditorConfig    `json:"editor" yaml:"editor"`
	Canvas  CanvasConfig    `json:"canvas" yaml:"canvas"`
	Source  source.Config   `json:"source" yaml:"source"`
	Encoder encoder.Options `json:"encoder" yaml:"encoder"`
	Upload  UploadConfig    `json:"upload" yaml:"upload"`
	Gallery GalleryConfig   `json:"gallery" yaml:"gallery"`
	Store   StoreConfig     `json:"store" yaml:"store"`
	Vision  VisionConfig    `json:"vision" yaml:"vision"`
	Notify  NotifyConfig    `json:"notify" yaml:"notify"`
}

// EditorConfig holds the crop surface layout
type EditorConfig struct {
	ContainerWidth  float64 `json:"container_width" yaml:"container_width"`
	ContainerHeight float64 `json:"container_height" yaml:"container_height"`
	DefaultCropSize float64 `json:"default_crop_size" yaml:"default_crop_size"`
	MinCropSize     float64 `json:"min_crop_size" yaml:"min_crop_size"`
	ResizeStep      float64 `json:"resize_step" yaml:"resize_step"`
	HandleSize      float64 `json:"handle_size" yaml:"handle_size"`
}

// CanvasConfig holds the output layout
type CanvasConfig struct {
	Size         int     `json:"size" yaml:"size"`
	StampRatio   float64 `json:"stamp_ratio" yaml:"stamp_ratio"`
	StampPadding int     `json:"stamp_padding" yaml:"stamp_padding"`
	StampAspect  float64 `json:"stamp_aspect" yaml:"stamp_aspect"`
	// StampPath replaces the built-in stamp when set.
	StampPath string `json:"stamp_path,omitempty" yaml:"stamp_path,omitempty"`
}

// UploadConfig holds the publish retry policy
type UploadConfig struct {
	Attempts  int `json:"attempts" yaml:"attempts"`
	BackoffMS int `json:"backoff_ms" yaml:"backoff_ms"`
}

// GalleryConfig holds paging and scroll settings
type GalleryConfig struct {
	PageSize         int     `json:"page_size" yaml:"page_size"`
	Prefix           string  `json:"prefix" yaml:"prefix"`
	ScrollThreshold  float64 `json:"scroll_threshold" yaml:"scroll_threshold"`
	ScrollIntervalMS int     `json:"scroll_interval_ms" yaml:"scroll_interval_ms"`
}

// StoreConfig selects and configures the object store
type StoreConfig struct {
	// Backend is "supabase" or "sqlite".
	Backend     string `json:"backend" yaml:"backend"`
	Bucket      string `json:"bucket" yaml:"bucket"`
	SupabaseURL string `json:"supabase_url,omitempty" yaml:"supabase_url,omitempty"`
	SupabaseKey string `json:"supabase_key,omitempty" yaml:"supabase_key,omitempty"`
	SQLitePath  string `json:"sqlite_path,omitempty" yaml:"sqlite_path,omitempty"`
	// PublicBaseURL prefixes object names for the sqlite backend.
	PublicBaseURL string `json:"public_base_url,omitempty" yaml:"public_base_url,omitempty"`
}

// VisionConfig holds configuration for crop suggestion
type VisionConfig struct {
	// Provider is "saliency", "ollama" or "llamacpp".
	Provider      string                 `json:"provider" yaml:"provider"`
	Endpoint      string                 `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	Model         string                 `json:"model,omitempty" yaml:"model,omitempty"`
	MaxDimension  int                    `json:"max_dimension" yaml:"max_dimension"`
	Quality       int                    `json:"quality" yaml:"quality"`
	MinConfidence float64                `json:"min_confidence" yaml:"min_confidence"`
	Saliency      vision.DetectionConfig `json:"saliency" yaml:"saliency"`
}

// NotifyConfig holds toast settings
type NotifyConfig struct {
	DurationMS int `json:"duration_ms" yaml:"duration_ms"`
}

// Default returns a configuration with default values
func Default() *Config {
	return &Config{
		Editor: EditorConfig{
			ContainerWidth:  400,
			ContainerHeight: 400,
			DefaultCropSize: 200,
			MinCropSize:     100,
			ResizeStep:      20,
			HandleSize:      16,
		},
		Canvas: CanvasConfig{
			Size:         800,
			StampRatio:   0.28,
			StampPadding: 20,
			StampAspect:  1.6,
		},
		Source:  source.DefaultConfig(),
		Encoder: encoder.DefaultOptions(),
		Upload: UploadConfig{
			Attempts:  3,
			BackoffMS: 500,
		},
		Gallery: GalleryConfig{
			PageSize:         20,
			ScrollThreshold:  300,
			ScrollIntervalMS: 200,
		},
		Store: StoreConfig{
			Backend:       "sqlite",
			Bucket:        store.DefaultBucket,
			SQLitePath:    "./covers.db",
			PublicBaseURL: "http://localhost:8090/covers",
		},
		Vision: VisionConfig{
			Provider:      "saliency",
			Model:         "qwen2.5vl:7b",
			MaxDimension:  768,
			Quality:       85,
			MinConfidence: 0.2,
			Saliency:      vision.DefaultConfig(),
		},
		Notify: NotifyConfig{
			DurationMS: 5000,
		},
	}
}

// LoadFromFile loads configuration from a JSON or YAML file. Values missing
// from the file keep their defaults.
func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if isYAML(filename) {
		err = yaml.Unmarshal(data, config)
	} else {
		err = json.Unmarshal(data, config)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a JSON or YAML file, chosen by extension
func (c *Config) SaveToFile(filename string) error {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var data []byte
	var err error
	if isYAML(filename) {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ApplyEnv overrides store credentials from SUPABASE_URL and
// SUPABASE_ANON_KEY when they are set.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("SUPABASE_URL"); v != "" {
		c.Store.SupabaseURL = v
	}
	if v := os.Getenv("SUPABASE_ANON_KEY"); v != "" {
		c.Store.SupabaseKey = v
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Editor.ContainerWidth <= 0 || c.Editor.ContainerHeight <= 0 {
		return fmt.Errorf("editor container size must be positive")
	}
	if c.Editor.MinCropSize <= 0 || c.Editor.DefaultCropSize < c.Editor.MinCropSize {
		return fmt.Errorf("editor.default_crop_size must be at least editor.min_crop_size (> 0)")
	}
	if c.Editor.ResizeStep <= 0 {
		return fmt.Errorf("editor.resize_step must be positive")
	}

	if c.Canvas.Size < 1 {
		return fmt.Errorf("canvas.size must be positive")
	}
	if c.Canvas.StampRatio <= 0 || c.Canvas.StampRatio > 1 {
		return fmt.Errorf("canvas.stamp_ratio must be between 0 and 1")
	}
	if c.Canvas.StampPadding < 0 {
		return fmt.Errorf("canvas.stamp_padding cannot be negative")
	}

	if len(c.Source.SupportedFormats) == 0 {
		return fmt.Errorf("source.supported_formats cannot be empty")
	}

	if _, err := encoder.ParseFormat(string(c.Encoder.Format)); err != nil {
		return fmt.Errorf("encoder.format: %w", err)
	}
	if c.Encoder.Quality < 1 || c.Encoder.Quality > 100 {
		return fmt.Errorf("encoder.quality must be between 1 and 100")
	}
	if c.Encoder.MinQuality < 1 || c.Encoder.MinQuality > c.Encoder.Quality {
		return fmt.Errorf("encoder.min_quality must be between 1 and encoder.quality")
	}

	if c.Upload.Attempts < 1 {
		return fmt.Errorf("upload.attempts must be at least 1")
	}
	if c.Upload.BackoffMS < 0 {
		return fmt.Errorf("upload.backoff_ms cannot be negative")
	}

	if c.Gallery.PageSize < 1 {
		return fmt.Errorf("gallery.page_size must be positive")
	}

	switch c.Store.Backend {
	case "supabase":
		if c.Store.SupabaseURL == "" || c.Store.SupabaseKey == "" {
			return fmt.Errorf("store.supabase_url and store.supabase_key are required for the supabase backend")
		}
	case "sqlite":
		if c.Store.SQLitePath == "" {
			return fmt.Errorf("store.sqlite_path is required for the sqlite backend")
		}
	default:
		return fmt.Errorf("unknown store.backend %q (supabase or sqlite)", c.Store.Backend)
	}

	switch c.Vision.Provider {
	case "saliency", "ollama", "llamacpp":
	default:
		return fmt.Errorf("unknown vision.provider %q (saliency, ollama or llamacpp)", c.Vision.Provider)
	}
	if c.Vision.MinConfidence < 0 || c.Vision.MinConfidence > 1 {
		return fmt.Errorf("vision.min_confidence must be between 0 and 1")
	}
	if c.Vision.Saliency.EdgeThreshold < 0 || c.Vision.Saliency.EdgeThreshold > 1 {
		return fmt.Errorf("vision.saliency.edge_threshold must be between 0 and 1")
	}
	if c.Vision.Saliency.MinSubjectRatio < 0 || c.Vision.Saliency.MinSubjectRatio > 1 {
		return fmt.Errorf("vision.saliency.min_subject_ratio must be between 0 and 1")
	}

	return nil
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./config.yaml"
	}
	return filepath.Join(home, ".config", "cover-studio", "config.yaml")
}

func isYAML(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	return ext == ".yaml" || ext == ".yml"
}
