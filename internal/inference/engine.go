// Package inference adapts external face detection and recognition backends to a single Engine
// interface. Detection, landmark localization and descriptor extraction are never computed here.
package inference

import (
	"context"
	"errors"

	"github.com/andresmejia3/facecam/internal/types"
)

// ErrNotLoaded is returned when detection is requested before Load succeeded.
var ErrNotLoaded = errors.New("inference models not loaded")

// Engine detects faces in JPEG encoded images and extracts their descriptors.
type Engine interface {
	// Load prepares the models. It must succeed before any detection call.
	Load(ctx context.Context) error
	// DetectSingle returns the most confident face, or nil when no face reaches minConfidence.
	DetectSingle(ctx context.Context, img []byte, minConfidence float64) (*types.Detection, error)
	// DetectAll returns every face reaching minConfidence.
	DetectAll(ctx context.Context, img []byte, minConfidence float64) ([]types.Detection, error)
	Close() error
}

// FilterConfidence drops detections scored below minConfidence.
func FilterConfidence(dets []types.Detection, minConfidence float64) []types.Detection {
	out := dets[:0]
	for _, d := range dets {
		if d.Confidence >= minConfidence {
			out = append(out, d)
		}
	}
	return out
}

// Best picks the highest scoring detection, preferring the larger box on ties.
// It returns nil for an empty slice.
func Best(dets []types.Detection) *types.Detection {
	if len(dets) == 0 {
		return nil
	}
	best := 0
	for i := 1; i < len(dets); i++ {
		d, b := dets[i], dets[best]
		switch {
		case d.Confidence > b.Confidence:
			best = i
		case d.Confidence == b.Confidence && area(d) > area(b):
			best = i
		}
	}
	d := dets[best]
	return &d
}

func area(d types.Detection) int {
	return d.Box.Dx() * d.Box.Dy()
}
