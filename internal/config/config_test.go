package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var configEnv = []string{
	"FACECAM_BACKEND", "FACECAM_MODELS_DIR", "FACECAM_LABELS", "FACECAM_IMAGES_PER_LABEL",
	"FACECAM_MIN_CONFIDENCE", "FACECAM_MATCH_THRESHOLD", "FACECAM_INTERVAL", "FACECAM_ROSTER",
	"DATABASE_URL", "POSTGRES_HOST", "POSTGRES_PORT", "POSTGRES_USER", "POSTGRES_PASSWORD", "POSTGRES_DB",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range configEnv {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg := Load()
	assert.Equal(t, BackendDlib, cfg.Models.Backend)
	assert.Equal(t, "./models", cfg.Models.Dir)
	assert.Equal(t, []string{"Felipe", "Nithin"}, cfg.Enroll.Labels)
	assert.Equal(t, 2, cfg.Enroll.ImagesPerLabel)
	assert.Equal(t, 0.5, cfg.Match.MinConfidence)
	assert.Equal(t, 0.6, cfg.Match.Threshold)
	assert.Equal(t, 100*time.Millisecond, cfg.Loop.Interval)
	assert.Empty(t, cfg.Database.URL)
	require.NoError(t, cfg.Validate())
}

func TestLoadOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("FACECAM_LABELS", " Ana , ,Bo")
	t.Setenv("FACECAM_IMAGES_PER_LABEL", "3")
	t.Setenv("FACECAM_MATCH_THRESHOLD", "0.45")
	t.Setenv("FACECAM_INTERVAL", "250ms")

	cfg := Load()
	assert.Equal(t, []string{"Ana", "Bo"}, cfg.Enroll.Labels)
	assert.Equal(t, 3, cfg.Enroll.ImagesPerLabel)
	assert.Equal(t, 0.45, cfg.Match.Threshold)
	assert.Equal(t, 250*time.Millisecond, cfg.Loop.Interval)
}

func TestLoadInvalidValuesFallBack(t *testing.T) {
	clearEnv(t)
	t.Setenv("FACECAM_IMAGES_PER_LABEL", "-4")
	t.Setenv("FACECAM_INTERVAL", "soon")
	t.Setenv("FACECAM_MIN_CONFIDENCE", "high")

	cfg := Load()
	assert.Equal(t, 2, cfg.Enroll.ImagesPerLabel)
	assert.Equal(t, 100*time.Millisecond, cfg.Loop.Interval)
	assert.Equal(t, 0.5, cfg.Match.MinConfidence)
}

func TestDatabaseURL(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{
			name: "nothing configured",
			want: "",
		},
		{
			name: "explicit url wins",
			env:  map[string]string{"DATABASE_URL": "postgres://db/x", "POSTGRES_HOST": "other"},
			want: "postgres://db/x",
		},
		{
			name: "postgres variables with default port",
			env: map[string]string{
				"POSTGRES_HOST": "pg", "POSTGRES_USER": "u", "POSTGRES_PASSWORD": "p", "POSTGRES_DB": "facecam",
			},
			want: "postgres://u:p@pg:5432/facecam",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			assert.Equal(t, tt.want, Load().Database.URL)
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown backend", func(c *Config) { c.Models.Backend = "tensorflow" }},
		{"unknown capture", func(c *Config) { c.Capture.Driver = "screen" }},
		{"unknown strategy", func(c *Config) { c.Match.Strategy = "vote" }},
		{"confidence above one", func(c *Config) { c.Match.MinConfidence = 1.5 }},
		{"zero threshold", func(c *Config) { c.Match.Threshold = 0 }},
		{"zero interval", func(c *Config) { c.Loop.Interval = 0 }},
		{"no labels", func(c *Config) { c.Enroll.Labels = nil }},
		{"duplicate label", func(c *Config) { c.Enroll.Labels = []string{"Felipe", "Nithin", "Felipe"} }},
		{"reserved label", func(c *Config) { c.Enroll.Labels = []string{"Felipe", "unknown"} }},
		{"blank label", func(c *Config) { c.Enroll.Labels = []string{"Felipe", "  "} }},
		{"compreface without key", func(c *Config) { c.Models.Backend = BackendCompreFace }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv("COMPREFACE_API_KEY", "")
			cfg := Load()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestPatternRoster(t *testing.T) {
	r := PatternRoster([]string{"Felipe", "Nithin"}, 2, "./labels/{label}/{index}.jpg")

	require.Len(t, r.Identities, 2)
	assert.Equal(t, "Felipe", r.Identities[0].Label)
	assert.Equal(t, []string{"./labels/Felipe/1.jpg", "./labels/Felipe/2.jpg"}, r.Identities[0].Images)
	assert.Equal(t, []string{"./labels/Nithin/1.jpg", "./labels/Nithin/2.jpg"}, r.Identities[1].Images)
	assert.Equal(t, 4, r.Count())
}

func TestParseRoster(t *testing.T) {
	r, err := ParseRoster([]byte(`
identities:
  - label: Felipe
    images: [a.jpg, b.jpg]
  - label: Nithin
    images:
      - https://example.com/n.jpg
`))
	require.NoError(t, err)
	require.Len(t, r.Identities, 2)
	assert.Equal(t, []string{"https://example.com/n.jpg"}, r.Identities[1].Images)

	invalid := []struct {
		name     string
		manifest string
		want     string
	}{
		{"duplicate", "identities:\n  - label: A\n  - label: A\n", "duplicate"},
		{"missing label", "identities:\n  - images: [x.jpg]\n", "empty"},
		{"reserved label", "identities:\n  - label: unknown\n    images: [x.jpg]\n", "reserved"},
	}
	for _, tt := range invalid {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRoster([]byte(tt.manifest))
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestEnrollConfigRosterRejectsRepeatedLabels(t *testing.T) {
	c := EnrollConfig{Labels: []string{"Felipe", "Felipe", "unknown"}, ImagesPerLabel: 2, Pattern: "{label}/{index}.jpg"}
	_, err := c.Roster()
	assert.ErrorContains(t, err, "duplicate")
}

func TestEnrollConfigRosterFromManifest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roster.yaml")
	require.NoError(t, os.WriteFile(path, []byte("identities:\n  - label: Ana\n    images: [ana.jpg]\n"), 0o644))

	c := EnrollConfig{Manifest: path, Labels: []string{"ignored"}, ImagesPerLabel: 5}
	r, err := c.Roster()
	require.NoError(t, err)
	require.Len(t, r.Identities, 1)
	assert.Equal(t, "Ana", r.Identities[0].Label)
}
