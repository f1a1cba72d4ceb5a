package store

import (
	"context"
	"image"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/andresmejia3/facecam/internal/types"
)

func descriptor(v float32) types.Descriptor {
	var d types.Descriptor
	d[0] = v
	return d
}

// TestStoreIntegration runs a full integration test against a real Postgres container.
// It requires Docker to be running.
func TestStoreIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()

	// Start Postgres Container with pgvector
	pgContainer, err := postgres.Run(ctx, "pgvector/pgvector:pg16",
		postgres.WithDatabase("facecam_test"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
		testcontainers.WithLogger(noopLogger{}),
	)
	require.NoError(t, err, "failed to start postgres container")
	t.Cleanup(func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Errorf("Failed to terminate container: %v", err)
		}
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	// Initialize Store (runs migrations)
	s, err := New(ctx, connStr)
	require.NoError(t, err)
	defer s.Close()

	// --- Test Scenarios ---

	identities := []types.Identity{
		{Label: "Felipe", Descriptors: []types.Descriptor{descriptor(0), descriptor(0.1)}},
		{Label: "Nithin", Descriptors: []types.Descriptor{descriptor(1)}},
		{Label: "Ghost"},
	}
	items := []types.EnrollItem{
		{Label: "Felipe", Path: "labels/Felipe/1.jpg", Status: types.ItemEnrolled},
		{Label: "Felipe", Path: "labels/Felipe/2.jpg", Status: types.ItemEnrolled},
		{Label: "Nithin", Path: "labels/Nithin/1.jpg", Status: types.ItemEnrolled},
		{Label: "Nithin", Path: "labels/Nithin/2.jpg", Status: types.ItemSkipped, Reason: types.ReasonNoFace},
	}
	require.NoError(t, s.SaveEnrollment(ctx, identities, items))

	loaded, err := s.LoadEnrollment(ctx)
	require.NoError(t, err)
	assert.Equal(t, identities, loaded, "enrollment round trips in order, identities without descriptors included")

	// Saving again replaces descriptors instead of appending
	require.NoError(t, s.SaveEnrollment(ctx, identities[:1], items[:2]))
	loaded, err = s.LoadEnrollment(ctx)
	require.NoError(t, err)
	assert.Len(t, loaded[0].Descriptors, 2)

	t.Run("nearest", func(t *testing.T) {
		label, dist, ok, err := s.Nearest(ctx, descriptor(0.9))
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "Nithin", label)
		assert.InDelta(t, 0.1, dist, 1e-6)
	})

	sessionID := uuid.New()
	results := []types.MatchResult{
		{Detection: types.Detection{Box: image.Rect(1, 2, 30, 40)}, Label: "Felipe", Distance: 0.31, Outcome: types.OutcomeMatched},
		{Detection: types.Detection{Box: image.Rect(50, 60, 70, 80)}, Label: "Nithin", Distance: 0.12, Outcome: types.OutcomeMatched},
	}
	require.NoError(t, s.RecordSightings(ctx, sessionID, results))
	require.NoError(t, s.RecordSightings(ctx, sessionID, nil))

	sightings, err := s.RecentSightings(ctx, 10)
	require.NoError(t, err)
	require.Len(t, sightings, 2)
	assert.Equal(t, sessionID, sightings[0].SessionID)
	byLabel := map[string]Sighting{}
	for _, sg := range sightings {
		byLabel[sg.Label] = sg
	}
	assert.Equal(t, image.Rect(1, 2, 30, 40), byLabel["Felipe"].Box)
	assert.InDelta(t, 0.12, byLabel["Nithin"].Distance, 1e-9)

	list, err := s.ListIdentities(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "Felipe", list[0].Label)
	assert.Equal(t, 2, list[0].Descriptors)
	assert.Equal(t, 1, list[0].Sightings)
	assert.NotNil(t, list[0].LastSeen)
	assert.Equal(t, 0, list[2].Descriptors)
	assert.Nil(t, list[2].LastSeen)

	require.NoError(t, s.RenameIdentity(ctx, list[1].ID, "Nithin K"))
	sightings, err = s.RecentSightings(ctx, 10)
	require.NoError(t, err)
	labels := []string{sightings[0].Label, sightings[1].Label}
	assert.Contains(t, labels, "Nithin K", "past sightings follow the rename")
	assert.ErrorIs(t, s.RenameIdentity(ctx, math.MaxInt32, "nobody"), ErrNotFound)

	require.NoError(t, s.Reset(ctx))
	_, err = s.LoadEnrollment(ctx)
	assert.Error(t, err, "tables are gone after reset")
}

type noopLogger struct{}

func (n noopLogger) Printf(format string, v ...interface{}) {}
