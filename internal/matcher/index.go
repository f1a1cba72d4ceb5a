package matcher

import (
	"math"

	"github.com/coder/hnsw"

	"github.com/andresmejia3/facecam/internal/types"
)

// indexMaxNeighbors is the HNSW M parameter; enrollment galleries are small so a modest
// connectivity keeps the graph accurate.
const indexMaxNeighbors = 16

// Index matches by the single closest reference descriptor, found through an HNSW graph.
type Index struct {
	graph     *hnsw.Graph[int]
	labels    []string // node key -> label
	order     []string // distinct labels in enrollment order
	threshold float64
}

// NewIndex builds the graph over every reference descriptor.
func NewIndex(identities []types.Identity, threshold float64) *Index {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}

	g := hnsw.NewGraph[int]()
	g.M = indexMaxNeighbors
	g.Ml = 1.0 / float64(indexMaxNeighbors)
	g.Distance = hnsw.EuclideanDistance

	idx := &Index{graph: g, threshold: threshold}
	for _, id := range candidates(identities) {
		idx.order = append(idx.order, id.Label)
		for _, d := range id.Descriptors {
			vec := make([]float32, types.DescriptorSize)
			copy(vec, d[:])
			g.Add(hnsw.MakeNode(len(idx.labels), vec))
			idx.labels = append(idx.labels, id.Label)
		}
	}
	return idx
}

func (x *Index) Match(d types.Descriptor) (string, float64, types.Outcome) {
	if len(x.labels) == 0 {
		return decide("", math.Inf(1), x.threshold)
	}

	neighbors := x.graph.Search(d[:], 1)
	if len(neighbors) == 0 {
		return decide("", math.Inf(1), x.threshold)
	}

	n := neighbors[0]
	var ref types.Descriptor
	copy(ref[:], n.Value)
	return decide(x.labels[n.Key], EuclideanDistance(d, ref), x.threshold)
}

func (x *Index) Labels() []string {
	return append([]string(nil), x.order...)
}

func (x *Index) Threshold() float64 {
	return x.threshold
}
