// Package capture acquires video frames from a camera or any ffmpeg readable stream.
package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"

	"go.uber.org/zap"

	"github.com/andresmejia3/facecam/internal/config"
	"github.com/andresmejia3/facecam/internal/types"
)

// ErrCameraUnavailable wraps every failure to open a capture source: permission denied, missing
// device, unreachable stream.
var ErrCameraUnavailable = errors.New("camera unavailable")

// ErrNoFrame is returned when a source has not produced a frame yet.
var ErrNoFrame = errors.New("no frame available")

// Source is a live video-only stream.
type Source interface {
	// Open acquires the device and blocks until its intrinsic size is known.
	Open(ctx context.Context) error
	// Size returns the intrinsic pixel dimensions. Valid after Open.
	Size() image.Point
	// Frame returns the current frame.
	Frame(ctx context.Context) (types.Frame, error)
	Close() error
}

// Constructor builds a source for a capture configuration.
type Constructor func(cfg config.CaptureConfig, logger *zap.Logger) Source

var (
	driversMu sync.RWMutex
	drivers   = map[string]Constructor{
		config.CaptureFFmpeg: func(cfg config.CaptureConfig, logger *zap.Logger) Source {
			return NewFFmpeg(cfg.Device, cfg.Format, cfg.Width, cfg.Height, logger)
		},
	}
)

// Register makes a capture driver available to New. Drivers that need native libraries register
// themselves from their own package.
func Register(driver string, c Constructor) {
	driversMu.Lock()
	defer driversMu.Unlock()
	drivers[driver] = c
}

// New builds the source selected by the capture driver.
func New(cfg config.CaptureConfig, logger *zap.Logger) (Source, error) {
	driversMu.RLock()
	c, ok := drivers[cfg.Driver]
	driversMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("capture driver %q is not available in this build", cfg.Driver)
	}
	return c(cfg, logger), nil
}
