package dlib

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/andresmejia3/facecam/internal/config"
	"github.com/andresmejia3/facecam/internal/inference"
)

func TestRegistersDlibBackend(t *testing.T) {
	cfg := &config.Config{}
	cfg.Models.Backend = config.BackendDlib
	cfg.Models.Dir = t.TempDir()

	e, err := inference.New(cfg, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &Engine{}, e)
}

func TestDetectBeforeLoad(t *testing.T) {
	e := New(inference.NewModelLoader(t.TempDir(), "", zap.NewNop()), false, zap.NewNop())
	_, err := e.DetectAll(context.Background(), []byte{0xFF, 0xD8}, 0.5)
	assert.ErrorIs(t, err, inference.ErrNotLoaded)
	assert.NoError(t, e.Close())
}
