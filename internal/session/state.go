package session

// State is a phase of the pipeline.
type State int

const (
	Idle State = iota
	ModelsLoading
	WebcamRequesting
	Enrolling
	Detecting
	// Halted is terminal: a camera or model failure stopped the pipeline before detection.
	Halted
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case ModelsLoading:
		return "models-loading"
	case WebcamRequesting:
		return "webcam-requesting"
	case Enrolling:
		return "enrolling"
	case Detecting:
		return "detecting"
	case Halted:
		return "halted"
	default:
		return "invalid"
	}
}

// MarshalText renders the state by name in JSON and logs.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
