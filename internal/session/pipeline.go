package session

import (
	"context"
	"fmt"
	"image"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/andresmejia3/facecam/internal/capture"
	"github.com/andresmejia3/facecam/internal/inference"
	"github.com/andresmejia3/facecam/internal/matcher"
	"github.com/andresmejia3/facecam/internal/render"
	"github.com/andresmejia3/facecam/internal/types"
)

// EnrollFunc produces the labeled descriptor collections once the camera is live.
type EnrollFunc func(ctx context.Context) ([]types.Identity, error)

// Pipeline sequences model loading, camera acquisition, enrollment and the detection loop.
type Pipeline struct {
	Engine inference.Engine
	Source capture.Source
	Canvas render.Factory
	Enroll EnrollFunc

	Threshold     float64
	Strategy      string
	MinConfidence float64
	Interval      time.Duration
	// Display is the overlay size. Zero uses the intrinsic video size.
	Display image.Point

	Sink    Sink
	Logger  *zap.Logger
	OnState func(from, to State)

	mu         sync.RWMutex
	state      State
	session    *Session
	identities []types.Identity
}

// State returns the current phase.
func (p *Pipeline) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// Session returns the live session, or nil before detection starts.
func (p *Pipeline) Session() *Session {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.session
}

// Identities returns the enrolled identities, including those without descriptors.
func (p *Pipeline) Identities() []types.Identity {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.identities
}

func (p *Pipeline) transition(to State) {
	p.mu.Lock()
	from := p.state
	p.state = to
	p.mu.Unlock()

	p.Logger.Debug("state", zap.Stringer("from", from), zap.Stringer("to", to))
	if p.OnState != nil {
		p.OnState(from, to)
	}
}

func (p *Pipeline) halt(msg string, err error) error {
	p.Logger.Error(msg, zap.Error(err))
	p.transition(Halted)
	return err
}

// Run blocks until ctx is cancelled or a phase before detection fails. A camera failure halts the
// pipeline without creating a canvas and without retrying.
func (p *Pipeline) Run(ctx context.Context) error {
	if p.Logger == nil {
		p.Logger = zap.NewNop()
	}
	defer p.Engine.Close()

	p.transition(ModelsLoading)
	if err := p.Engine.Load(ctx); err != nil {
		return p.halt("failed to load models", fmt.Errorf("failed to load models: %w", err))
	}

	p.transition(WebcamRequesting)
	if err := p.Source.Open(ctx); err != nil {
		return p.halt("failed to access the camera", err)
	}
	defer p.Source.Close()

	video := p.Source.Size()
	p.Logger.Info("camera ready", zap.Int("width", video.X), zap.Int("height", video.Y))

	p.transition(Enrolling)
	identities, err := p.Enroll(ctx)
	if err != nil {
		return p.halt("enrollment failed", fmt.Errorf("enrollment failed: %w", err))
	}
	m, err := matcher.New(identities, p.Threshold, p.Strategy)
	if err != nil {
		return p.halt("failed to build matcher", err)
	}

	display := p.Display
	if display == (image.Point{}) {
		display = video
	}
	canvas, err := p.Canvas(display)
	if err != nil {
		return p.halt("failed to create canvas", fmt.Errorf("failed to create canvas: %w", err))
	}
	defer canvas.Close()

	s := New(Params{
		Engine:        p.Engine,
		Source:        p.Source,
		Matcher:       m,
		Canvas:        canvas,
		Display:       display,
		MinConfidence: p.MinConfidence,
		Logger:        p.Logger,
		Sink:          p.Sink,
	})
	sched, err := NewScheduler(s, p.Interval, p.Logger)
	if err != nil {
		return p.halt("failed to create scheduler", err)
	}

	p.mu.Lock()
	p.identities = identities
	p.session = s
	p.mu.Unlock()

	p.Logger.Info("enrolled identities", zap.Strings("labels", m.Labels()), zap.Float64("threshold", m.Threshold()))
	p.transition(Detecting)
	return sched.Run(ctx)
}
