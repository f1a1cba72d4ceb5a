package types

import (
	"errors"
	"image"
)

// DescriptorSize is the width of a face descriptor produced by the dlib recognition net.
const DescriptorSize = 128

// UnknownLabel is reported for faces that do not match any enrolled identity.
const UnknownLabel = "unknown"

// ErrDescriptorSize is returned when a backend produces a descriptor of a different width.
var ErrDescriptorSize = errors.New("descriptor has unexpected dimensionality")

// Descriptor is a face descriptor.
type Descriptor [DescriptorSize]float32

// DescriptorFrom copies a backend vector into a Descriptor.
func DescriptorFrom(vec []float64) (Descriptor, error) {
	var d Descriptor
	if len(vec) != DescriptorSize {
		return d, ErrDescriptorSize
	}
	for i, v := range vec {
		d[i] = float32(v)
	}
	return d, nil
}

// Identity is a labeled person and the descriptors of their reference images.
type Identity struct {
	Label       string
	Descriptors []Descriptor
}

// Detection is one face found in an image.
type Detection struct {
	Box        image.Rectangle
	Confidence float64
	Landmarks  []image.Point
	Descriptor Descriptor
}

// Outcome tells whether a detection was matched to an enrolled identity.
type Outcome int

const (
	OutcomeUnknown Outcome = iota
	OutcomeMatched
)

func (o Outcome) String() string {
	if o == OutcomeMatched {
		return "matched"
	}
	return "unknown"
}

// MatchResult pairs a detection with the nearest enrolled label.
type MatchResult struct {
	Detection Detection
	Label     string
	Distance  float64
	Outcome   Outcome
}

// Frame is a single JPEG encoded video frame.
type Frame struct {
	Seq    uint64
	Width  int
	Height int
	Data   []byte
}

// Size returns the intrinsic pixel dimensions of the frame.
func (f Frame) Size() image.Point {
	return image.Pt(f.Width, f.Height)
}

// ItemStatus is the result of enrolling one reference image.
type ItemStatus int

const (
	ItemEnrolled ItemStatus = iota
	ItemSkipped
)

// SkipReason explains why a reference image did not contribute a descriptor.
type SkipReason string

const (
	ReasonNone   SkipReason = ""
	ReasonFetch  SkipReason = "fetch"
	ReasonNoFace SkipReason = "no-face"
	ReasonDetect SkipReason = "detect"
)

// EnrollItem records what happened to a single reference image.
type EnrollItem struct {
	Label  string
	Path   string
	Status ItemStatus
	Reason SkipReason
	Err    error
}

// WorkerFace matches the JSON structure returned by an external inference worker.
type WorkerFace struct {
	Box   []int     `json:"box"` // [x1, y1, x2, y2]
	Score float64   `json:"score"`
	Marks [][2]int  `json:"landmarks,omitempty"`
	Vec   []float64 `json:"vec"`
}

// ErrorResult captures the error object returned by a worker on failure.
type ErrorResult struct {
	Error string `json:"error"`
}
