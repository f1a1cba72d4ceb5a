package api

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/andresmejia3/facecam/internal/matcher"
	"github.com/andresmejia3/facecam/internal/session"
	"github.com/andresmejia3/facecam/internal/store"
	"github.com/andresmejia3/facecam/internal/types"
)

type stubStatus struct {
	state      session.State
	session    *session.Session
	identities []types.Identity
}

func (s *stubStatus) State() session.State         { return s.state }
func (s *stubStatus) Session() *session.Session    { return s.session }
func (s *stubStatus) Identities() []types.Identity { return s.identities }

type stubEngine struct{ dets []types.Detection }

func (e *stubEngine) Load(ctx context.Context) error { return nil }
func (e *stubEngine) Close() error                   { return nil }
func (e *stubEngine) DetectSingle(ctx context.Context, img []byte, minConfidence float64) (*types.Detection, error) {
	return nil, nil
}
func (e *stubEngine) DetectAll(ctx context.Context, img []byte, minConfidence float64) ([]types.Detection, error) {
	return e.dets, nil
}

type stubSource struct{}

func (stubSource) Open(ctx context.Context) error { return nil }
func (stubSource) Size() image.Point              { return image.Pt(100, 100) }
func (stubSource) Close() error                   { return nil }
func (stubSource) Frame(ctx context.Context) (types.Frame, error) {
	return types.Frame{Seq: 42, Width: 100, Height: 100}, nil
}

type stubCanvas struct{}

func (stubCanvas) Clear()                          {}
func (stubCanvas) DrawBox(image.Rectangle, string) {}
func (stubCanvas) Flush(types.Frame) error         { return nil }
func (stubCanvas) Close() error                    { return nil }

type stubSightings struct {
	out []store.Sighting
	err error
	got int
}

func (s *stubSightings) RecentSightings(ctx context.Context, limit int) ([]store.Sighting, error) {
	s.got = limit
	return s.out, s.err
}

func descriptor(v float32) types.Descriptor {
	var d types.Descriptor
	d[0] = v
	return d
}

func liveStatus(t *testing.T, tick bool) *stubStatus {
	t.Helper()
	ids := []types.Identity{
		{Label: "Felipe", Descriptors: []types.Descriptor{descriptor(0)}},
		{Label: "Nithin"},
	}
	m, err := matcher.New(ids, matcher.DefaultThreshold, matcher.StrategyMean)
	require.NoError(t, err)

	sess := session.New(session.Params{
		Engine: &stubEngine{dets: []types.Detection{
			{Box: image.Rect(1, 2, 3, 4), Confidence: 0.9, Descriptor: descriptor(0.1)},
			{Box: image.Rect(5, 6, 7, 8), Confidence: 0.8, Descriptor: descriptor(9)},
		}},
		Source:  stubSource{},
		Matcher: m,
		Canvas:  stubCanvas{},
		Display: image.Pt(100, 100),
	})
	if tick {
		_, err := sess.Tick(context.Background())
		require.NoError(t, err)
	}
	return &stubStatus{state: session.Detecting, session: sess, identities: ids}
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthAndState(t *testing.T) {
	status := liveStatus(t, true)
	srv := NewServer(":0", status, nil, zap.NewNop())

	rec := get(t, srv.Handler(), "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = get(t, srv.Handler(), "/state")
	require.Equal(t, http.StatusOK, rec.Code)
	var state struct {
		State   string `json:"state"`
		Session string `json:"session"`
		Ticks   uint64 `json:"ticks"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	assert.Equal(t, "detecting", state.State)
	assert.Equal(t, status.session.ID.String(), state.Session)
	assert.Equal(t, uint64(1), state.Ticks)
}

func TestStateBeforeDetection(t *testing.T) {
	srv := NewServer(":0", &stubStatus{state: session.WebcamRequesting}, nil, zap.NewNop())

	rec := get(t, srv.Handler(), "/state")
	assert.JSONEq(t, `{"state":"webcam-requesting","ticks":0,"skipped":0}`, rec.Body.String())

	rec = get(t, srv.Handler(), "/results")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestIdentities(t *testing.T) {
	srv := NewServer(":0", liveStatus(t, false), nil, zap.NewNop())

	rec := get(t, srv.Handler(), "/identities")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[
		{"label":"Felipe","descriptors":1,"matchable":true},
		{"label":"Nithin","descriptors":0,"matchable":false}
	]`, rec.Body.String())
}

func TestResults(t *testing.T) {
	srv := NewServer(":0", liveStatus(t, false), nil, zap.NewNop())
	assert.Equal(t, http.StatusNoContent, get(t, srv.Handler(), "/results").Code)

	srv = NewServer(":0", liveStatus(t, true), nil, zap.NewNop())
	rec := get(t, srv.Handler(), "/results")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp resultsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, uint64(42), resp.Seq)
	require.Len(t, resp.Faces, 2)
	assert.Equal(t, "Felipe", resp.Faces[0].Label)
	assert.Equal(t, "matched", resp.Faces[0].Outcome)
	assert.Equal(t, [4]int{1, 2, 3, 4}, resp.Faces[0].Box)
	assert.Equal(t, types.UnknownLabel, resp.Faces[1].Label)
	assert.Equal(t, "unknown", resp.Faces[1].Outcome)
}

func TestSightings(t *testing.T) {
	srv := NewServer(":0", liveStatus(t, false), nil, zap.NewNop())
	assert.Equal(t, http.StatusNotFound, get(t, srv.Handler(), "/sightings").Code)

	src := &stubSightings{out: []store.Sighting{{ID: 1, Label: "Felipe", Distance: 0.2}}}
	srv = NewServer(":0", liveStatus(t, false), src, zap.NewNop())

	rec := get(t, srv.Handler(), "/sightings?limit=5")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, src.got)
	assert.Contains(t, rec.Body.String(), `"label":"Felipe"`)

	assert.Equal(t, http.StatusBadRequest, get(t, srv.Handler(), "/sightings?limit=abc").Code)

	src.err = errors.New("connection refused")
	assert.Equal(t, http.StatusInternalServerError, get(t, srv.Handler(), "/sightings").Code)
}
