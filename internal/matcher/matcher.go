// Package matcher assigns enrolled labels to live face descriptors.
//
// Two strategies are available. The mean strategy averages the distance from the query to every
// reference descriptor of an identity and picks the identity with the smallest average. The
// nearest strategy searches an HNSW graph of all reference descriptors and takes the label of the
// single closest one. Either way a best distance at or above the threshold yields the unknown
// outcome; it is never left implicit.
package matcher

import (
	"fmt"
	"math"

	"github.com/andresmejia3/facecam/internal/types"
)

// DefaultThreshold is the distance at which a face stops being considered a match.
const DefaultThreshold = 0.6

// Matcher finds the nearest enrolled identity for a descriptor.
// It is immutable once built.
type Matcher interface {
	Match(d types.Descriptor) (label string, distance float64, outcome types.Outcome)
	// Labels lists identities that can be matched, in enrollment order.
	Labels() []string
	Threshold() float64
}

// EuclideanDistance returns the L2 distance between two descriptors.
func EuclideanDistance(a, b types.Descriptor) float64 {
	var sum float64
	for i := range a {
		diff := float64(a[i]) - float64(b[i])
		sum += diff * diff
	}
	return math.Sqrt(sum)
}

// decide turns the best candidate into a named outcome.
func decide(label string, distance, threshold float64) (string, float64, types.Outcome) {
	if label == "" || distance >= threshold {
		return types.UnknownLabel, distance, types.OutcomeUnknown
	}
	return label, distance, types.OutcomeMatched
}

// candidates keeps identities with at least one descriptor, copying them so later changes to the
// caller's slices cannot leak into the matcher.
func candidates(identities []types.Identity) []types.Identity {
	out := make([]types.Identity, 0, len(identities))
	for _, id := range identities {
		if len(id.Descriptors) == 0 {
			continue
		}
		out = append(out, types.Identity{
			Label:       id.Label,
			Descriptors: append([]types.Descriptor(nil), id.Descriptors...),
		})
	}
	return out
}

// Mean matches by the mean distance to each identity's reference descriptors.
type Mean struct {
	identities []types.Identity
	threshold  float64
}

// NewMean builds a mean-distance matcher. Identities without descriptors are never matched.
func NewMean(identities []types.Identity, threshold float64) *Mean {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Mean{identities: candidates(identities), threshold: threshold}
}

func (m *Mean) Match(d types.Descriptor) (string, float64, types.Outcome) {
	bestLabel := ""
	bestDist := math.Inf(1)
	for _, id := range m.identities {
		var sum float64
		for _, ref := range id.Descriptors {
			sum += EuclideanDistance(d, ref)
		}
		if mean := sum / float64(len(id.Descriptors)); mean < bestDist {
			bestDist = mean
			bestLabel = id.Label
		}
	}
	return decide(bestLabel, bestDist, m.threshold)
}

func (m *Mean) Labels() []string {
	labels := make([]string, len(m.identities))
	for i, id := range m.identities {
		labels[i] = id.Label
	}
	return labels
}

func (m *Mean) Threshold() float64 {
	return m.threshold
}

// Match runs the matcher over every detection of a tick.
func Match(m Matcher, dets []types.Detection) []types.MatchResult {
	results := make([]types.MatchResult, len(dets))
	for i, det := range dets {
		label, dist, outcome := m.Match(det.Descriptor)
		results[i] = types.MatchResult{
			Detection: det,
			Label:     label,
			Distance:  dist,
			Outcome:   outcome,
		}
	}
	return results
}

// Strategy names accepted by New.
const (
	StrategyMean    = "mean"
	StrategyNearest = "nearest"
)

// New builds the matcher for the named strategy.
func New(identities []types.Identity, threshold float64, strategy string) (Matcher, error) {
	switch strategy {
	case StrategyMean, "":
		return NewMean(identities, threshold), nil
	case StrategyNearest:
		return NewIndex(identities, threshold), nil
	default:
		return nil, fmt.Errorf("unknown match strategy %q", strategy)
	}
}
