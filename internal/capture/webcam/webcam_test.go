package webcam

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/andresmejia3/facecam/internal/capture"
	"github.com/andresmejia3/facecam/internal/config"
)

func TestFrameBeforeOpen(t *testing.T) {
	c := New("0", 0, 0)
	_, err := c.Frame(context.Background())
	assert.ErrorIs(t, err, capture.ErrNoFrame)
	assert.NoError(t, c.Close())
}

func TestRegistersGocvDriver(t *testing.T) {
	src, err := capture.New(config.CaptureConfig{Driver: config.CaptureGocv, Device: "1"}, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &Camera{}, src)
}
