package cmd

import (
	"bufio"
	"bytes"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andresmejia3/facecam/internal/config"
	"github.com/andresmejia3/facecam/internal/store"
	"github.com/andresmejia3/facecam/internal/types"
)

func TestOverridesApplyOnlyChangedFlags(t *testing.T) {
	var o overrides
	c := &cobra.Command{Use: "test"}
	c.Flags().StringVar(&o.DBURL, "db", "", "")
	c.Flags().Float64Var(&o.Threshold, "threshold", 0.6, "")
	c.Flags().DurationVar(&o.Interval, "interval", 100*time.Millisecond, "")
	c.Flags().StringVar(&o.Device, "device", "0", "")
	require.NoError(t, c.ParseFlags([]string{"--threshold", "0.45", "--interval", "250ms"}))

	conf := &config.Config{
		Database: config.DatabaseConfig{URL: "postgres://env/facecam"},
		Capture:  config.CaptureConfig{Device: "/dev/video2"},
	}
	o.apply(c, conf)

	assert.Equal(t, 0.45, conf.Match.Threshold)
	assert.Equal(t, 250*time.Millisecond, conf.Loop.Interval)
	assert.Equal(t, "postgres://env/facecam", conf.Database.URL, "unset flags keep the environment value")
	assert.Equal(t, "/dev/video2", conf.Capture.Device)
}

func TestRequireDB(t *testing.T) {
	prev := DB
	DB = nil
	defer func() { DB = prev }()
	assert.ErrorIs(t, requireDB(), errNoDatabase)
}

func TestConfirm(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"y\n", true},
		{"YES\n", true},
		{"n\n", false},
		{"\n", false},
		{"", false},
	}
	for _, tt := range tests {
		var out bytes.Buffer
		got := confirm(bufio.NewReader(strings.NewReader(tt.input)), &out, "Drop?")
		assert.Equal(t, tt.want, got, "input %q", tt.input)
		assert.Equal(t, "Drop? [y/N]: ", out.String())
	}
}

func TestPrintItems(t *testing.T) {
	var out bytes.Buffer
	printItems(&out, []types.EnrollItem{
		{Label: "Felipe", Path: "labels/Felipe/1.jpg", Status: types.ItemEnrolled},
		{Label: "Nithin", Path: "labels/Nithin/2.jpg", Status: types.ItemSkipped, Reason: types.ReasonNoFace, Err: errors.New("no face detected")},
	})

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 4)
	assert.Contains(t, lines[2], "enrolled")
	assert.Contains(t, lines[3], "no-face: no face detected")
}

func TestPrintIdentities(t *testing.T) {
	var out bytes.Buffer
	printIdentities(&out, []types.Identity{
		{Label: "Felipe", Descriptors: make([]types.Descriptor, 2)},
		{Label: "Ghost"},
	})
	assert.Regexp(t, `Felipe\s+2\s+yes`, out.String())
	assert.Regexp(t, `Ghost\s+0\s+no`, out.String())
}

func TestPrintSummariesAndSightings(t *testing.T) {
	now := time.Now()
	var out bytes.Buffer
	printSummaries(&out, []store.IdentitySummary{
		{ID: 1, Label: "Felipe", Descriptors: 2, Sightings: 3, LastSeen: &now, CreatedAt: now},
		{ID: 2, Label: "Nithin", Descriptors: 1, CreatedAt: now},
	})
	assert.Regexp(t, `2\s+Nithin\s+1\s+0\s+never`, out.String())

	out.Reset()
	id := uuid.MustParse("0f8fad5b-d9cb-469f-a165-70867728950e")
	printSightings(&out, []store.Sighting{{SessionID: id, Label: "Felipe", Distance: 0.314, SeenAt: now}})
	assert.Regexp(t, `Felipe\s+0\.31\s+0f8fad5b`, out.String())
}

func TestStoredResult(t *testing.T) {
	det := types.Detection{Confidence: 1}
	tests := []struct {
		name    string
		label   string
		dist    float64
		ok      bool
		want    string
		outcome types.Outcome
	}{
		{"close match", "Felipe", 0.31, true, "Felipe", types.OutcomeMatched},
		{"at threshold", "Felipe", 0.6, true, types.UnknownLabel, types.OutcomeUnknown},
		{"empty store", "", 0, false, types.UnknownLabel, types.OutcomeUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := storedResult(det, tt.label, tt.dist, tt.ok, 0.6)
			assert.Equal(t, tt.want, r.Label)
			assert.Equal(t, tt.outcome, r.Outcome)
			if !tt.ok {
				assert.True(t, math.IsInf(r.Distance, 1))
			}
		})
	}
}
