// Package session runs the live detection loop: read a frame, detect, match, redraw.
package session

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/andresmejia3/facecam/internal/capture"
	"github.com/andresmejia3/facecam/internal/inference"
	"github.com/andresmejia3/facecam/internal/matcher"
	"github.com/andresmejia3/facecam/internal/render"
	"github.com/andresmejia3/facecam/internal/types"
)

// ErrTickInProgress is returned when Tick is called while another tick is still running.
var ErrTickInProgress = errors.New("detection tick already in progress")

// Sink persists recognized faces.
type Sink interface {
	RecordSightings(ctx context.Context, sessionID uuid.UUID, results []types.MatchResult) error
}

// TickReport describes one detection tick.
type TickReport struct {
	Seq     uint64
	Results []types.MatchResult
	Elapsed time.Duration
	At      time.Time
}

// Params holds the collaborators of a Session.
type Params struct {
	Engine        inference.Engine
	Source        capture.Source
	Matcher       matcher.Matcher
	Canvas        render.Canvas
	Display       image.Point
	MinConfidence float64
	Logger        *zap.Logger
	Sink          Sink
}

// Session is the state owned by the detection loop. Enrollment data reaches it only through the
// read-only Matcher.
type Session struct {
	ID uuid.UUID

	p    Params
	busy atomic.Bool

	skipped atomic.Uint64
	ticks   atomic.Uint64

	mu     sync.RWMutex
	latest *TickReport
}

// New creates a session with a fresh ID.
func New(p Params) *Session {
	if p.Logger == nil {
		p.Logger = zap.NewNop()
	}
	return &Session{ID: uuid.New(), p: p}
}

// Tick runs one detection pass over the current frame and redraws the overlay.
func (s *Session) Tick(ctx context.Context) (TickReport, error) {
	if !s.busy.CompareAndSwap(false, true) {
		s.skipped.Add(1)
		return TickReport{}, ErrTickInProgress
	}
	defer s.busy.Store(false)

	start := time.Now()
	frame, err := s.p.Source.Frame(ctx)
	if err != nil {
		return TickReport{}, fmt.Errorf("failed to read frame: %w", err)
	}

	dets, err := s.p.Engine.DetectAll(ctx, frame.Data, s.p.MinConfidence)
	if err != nil {
		return TickReport{}, fmt.Errorf("detection failed on frame %d: %w", frame.Seq, err)
	}
	for i := range dets {
		dets[i] = render.ResizeDetection(dets[i], frame.Size(), s.p.Display)
	}
	results := matcher.Match(s.p.Matcher, dets)

	s.p.Canvas.Clear()
	for _, r := range results {
		s.p.Canvas.DrawBox(r.Detection.Box, render.Caption(r))
	}
	if err := s.p.Canvas.Flush(frame); err != nil {
		return TickReport{}, fmt.Errorf("failed to present frame %d: %w", frame.Seq, err)
	}

	report := TickReport{Seq: frame.Seq, Results: results, Elapsed: time.Since(start), At: time.Now()}
	s.ticks.Add(1)
	s.mu.Lock()
	s.latest = &report
	s.mu.Unlock()

	if s.p.Sink != nil {
		if err := s.record(ctx, results); err != nil {
			s.p.Logger.Warn("failed to record sightings", zap.Uint64("seq", frame.Seq), zap.Error(err))
		}
	}
	return report, nil
}

func (s *Session) record(ctx context.Context, results []types.MatchResult) error {
	var matched []types.MatchResult
	for _, r := range results {
		if r.Outcome == types.OutcomeMatched {
			matched = append(matched, r)
		}
	}
	if len(matched) == 0 {
		return nil
	}
	return s.p.Sink.RecordSightings(ctx, s.ID, matched)
}

// Latest returns the report of the last completed tick.
func (s *Session) Latest() (TickReport, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.latest == nil {
		return TickReport{}, false
	}
	return *s.latest, true
}

// Skipped counts ticks rejected because the previous one had not finished.
func (s *Session) Skipped() uint64 {
	return s.skipped.Load()
}

// Ticks counts completed ticks.
func (s *Session) Ticks() uint64 {
	return s.ticks.Load()
}

// Labels returns the identities that can be matched.
func (s *Session) Labels() []string {
	return s.p.Matcher.Labels()
}
