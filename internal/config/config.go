package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Inference backends.
const (
	BackendDlib       = "dlib"
	BackendCompreFace = "compreface"
	BackendWorker     = "worker"
)

// Capture drivers.
const (
	CaptureGocv   = "gocv"
	CaptureFFmpeg = "ffmpeg"
)

// Match strategies.
const (
	StrategyMean    = "mean"
	StrategyNearest = "nearest"
)

type Config struct {
	Models     ModelsConfig
	CompreFace CompreFaceConfig
	Worker     WorkerConfig
	Capture    CaptureConfig
	Enroll     EnrollConfig
	Match      MatchConfig
	Loop       LoopConfig
	Database   DatabaseConfig
	Log        LogConfig
}

type ModelsConfig struct {
	Backend string // dlib, compreface or worker
	Dir     string // local directory holding the dlib .dat files
	URI     string // optional http(s) base URI to download missing models from
	CNN     bool   // use the dlib CNN detector instead of HOG
}

type CompreFaceConfig struct {
	URL    string
	APIKey string // detection service key
}

type WorkerConfig struct {
	Command string // full command line, split on whitespace
}

type CaptureConfig struct {
	Driver string // gocv or ffmpeg
	Device string // device index for gocv, input for ffmpeg
	Format string // optional ffmpeg input format (e.g. v4l2)
	Width  int    // requested width, 0 keeps the device default
	Height int
}

type EnrollConfig struct {
	Labels         []string
	ImagesPerLabel int
	Pattern        string // e.g. ./labels/{label}/{index}.jpg
	Manifest       string // optional YAML roster, overrides Labels/Pattern
	MaxImageSide   int
	Concurrency    int
}

type MatchConfig struct {
	MinConfidence float64
	Threshold     float64
	Strategy      string
}

type LoopConfig struct {
	Interval time.Duration
}

type DatabaseConfig struct {
	URL string
}

type LogConfig struct {
	Level       string
	Development bool
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	return defaultVal
}

func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

func envBool(key string) bool {
	b, _ := strconv.ParseBool(os.Getenv(key))
	return b
}

// databaseURL prefers DATABASE_URL and falls back to the POSTGRES_* variables.
// It returns an empty string when no database is configured.
func databaseURL() string {
	if u := os.Getenv("DATABASE_URL"); u != "" {
		return u
	}
	host := os.Getenv("POSTGRES_HOST")
	if host == "" {
		return ""
	}
	port := envString("POSTGRES_PORT", "5432")
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s",
		os.Getenv("POSTGRES_USER"), os.Getenv("POSTGRES_PASSWORD"), host, port, os.Getenv("POSTGRES_DB"))
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Load builds the configuration from the environment. Values not set fall back to the defaults of
// the reference setup: two identities with two images each, a 0.5 detection confidence, a 0.6
// match threshold and a 100ms detection interval.
func Load() *Config {
	return &Config{
		Models: ModelsConfig{
			Backend: envString("FACECAM_BACKEND", BackendDlib),
			Dir:     envString("FACECAM_MODELS_DIR", "./models"),
			URI:     os.Getenv("FACECAM_MODELS_URI"),
			CNN:     envBool("FACECAM_MODELS_CNN"),
		},
		CompreFace: CompreFaceConfig{
			URL:    envString("COMPREFACE_URL", "http://localhost:8000"),
			APIKey: os.Getenv("COMPREFACE_API_KEY"),
		},
		Worker: WorkerConfig{
			Command: envString("FACECAM_WORKER_CMD", "python3 -u python/worker.py"),
		},
		Capture: CaptureConfig{
			Driver: envString("FACECAM_CAPTURE", CaptureGocv),
			Device: envString("FACECAM_DEVICE", "0"),
			Format: os.Getenv("FACECAM_CAPTURE_FORMAT"),
			Width:  envInt("FACECAM_CAPTURE_WIDTH", 0),
			Height: envInt("FACECAM_CAPTURE_HEIGHT", 0),
		},
		Enroll: EnrollConfig{
			Labels:         splitList(envString("FACECAM_LABELS", "Felipe,Nithin")),
			ImagesPerLabel: envInt("FACECAM_IMAGES_PER_LABEL", 2),
			Pattern:        envString("FACECAM_LABEL_PATTERN", "./labels/{label}/{index}.jpg"),
			Manifest:       os.Getenv("FACECAM_ROSTER"),
			MaxImageSide:   envInt("FACECAM_MAX_IMAGE_SIDE", 1024),
			Concurrency:    envInt("FACECAM_ENROLL_CONCURRENCY", 2),
		},
		Match: MatchConfig{
			MinConfidence: envFloat("FACECAM_MIN_CONFIDENCE", 0.5),
			Threshold:     envFloat("FACECAM_MATCH_THRESHOLD", 0.6),
			Strategy:      envString("FACECAM_MATCH_STRATEGY", StrategyMean),
		},
		Loop: LoopConfig{
			Interval: envDuration("FACECAM_INTERVAL", 100*time.Millisecond),
		},
		Database: DatabaseConfig{
			URL: databaseURL(),
		},
		Log: LogConfig{
			Level:       envString("FACECAM_LOG_LEVEL", "info"),
			Development: envBool("FACECAM_LOG_DEV"),
		},
	}
}

// Validate checks the values that cannot be defaulted silently.
func (c *Config) Validate() error {
	switch c.Models.Backend {
	case BackendDlib, BackendCompreFace, BackendWorker:
	default:
		return fmt.Errorf("unknown backend %q", c.Models.Backend)
	}
	switch c.Capture.Driver {
	case CaptureGocv, CaptureFFmpeg:
	default:
		return fmt.Errorf("unknown capture driver %q", c.Capture.Driver)
	}
	switch c.Match.Strategy {
	case StrategyMean, StrategyNearest:
	default:
		return fmt.Errorf("unknown match strategy %q", c.Match.Strategy)
	}
	if c.Match.MinConfidence < 0 || c.Match.MinConfidence > 1 {
		return fmt.Errorf("min confidence must be between 0.0 and 1.0, got %f", c.Match.MinConfidence)
	}
	if c.Match.Threshold <= 0 {
		return fmt.Errorf("match threshold must be positive, got %f", c.Match.Threshold)
	}
	if c.Loop.Interval <= 0 {
		return fmt.Errorf("detection interval must be positive, got %s", c.Loop.Interval)
	}
	if c.Enroll.Manifest == "" {
		if len(c.Enroll.Labels) == 0 {
			return fmt.Errorf("at least one label is required")
		}
		if err := ValidateLabels(c.Enroll.Labels); err != nil {
			return err
		}
		if c.Enroll.ImagesPerLabel < 1 {
			return fmt.Errorf("images per label must be >= 1, got %d", c.Enroll.ImagesPerLabel)
		}
	}
	if c.Models.Backend == BackendCompreFace && c.CompreFace.APIKey == "" {
		return fmt.Errorf("compreface backend requires COMPREFACE_API_KEY")
	}
	return nil
}
