// Package webcam reads frames from local capture devices through OpenCV. Importing it registers
// the gocv capture driver.
package webcam

import (
	"context"
	"fmt"
	"image"
	"strconv"
	"sync"

	"gocv.io/x/gocv"
	"go.uber.org/zap"

	"github.com/andresmejia3/facecam/internal/capture"
	"github.com/andresmejia3/facecam/internal/config"
	"github.com/andresmejia3/facecam/internal/types"
)

func init() {
	capture.Register(config.CaptureGocv, func(cfg config.CaptureConfig, logger *zap.Logger) capture.Source {
		return New(cfg.Device, cfg.Width, cfg.Height)
	})
}

// Camera reads frames from a local capture device.
type Camera struct {
	device        string
	width, height int

	mu   sync.Mutex
	cap  *gocv.VideoCapture
	mat  gocv.Mat
	size image.Point
	seq  uint64
}

// New returns a source for device, either a numeric index or a device path / stream URL.
// A non-zero width and height are requested from the driver.
func New(device string, width, height int) *Camera {
	return &Camera{device: device, width: width, height: height}
}

func (c *Camera) Open(ctx context.Context) error {
	var dev interface{} = c.device
	if id, err := strconv.Atoi(c.device); err == nil {
		dev = id
	}

	vc, err := gocv.OpenVideoCapture(dev)
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", capture.ErrCameraUnavailable, c.device, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return fmt.Errorf("%w: device %s did not open", capture.ErrCameraUnavailable, c.device)
	}
	if c.width > 0 && c.height > 0 {
		vc.Set(gocv.VideoCaptureFrameWidth, float64(c.width))
		vc.Set(gocv.VideoCaptureFrameHeight, float64(c.height))
	}

	// The first frame plays the role of the loaded metadata: it fixes the intrinsic size.
	mat := gocv.NewMat()
	if ok := vc.Read(&mat); !ok || mat.Empty() {
		mat.Close()
		vc.Close()
		return fmt.Errorf("%w: device %s produced no frame", capture.ErrCameraUnavailable, c.device)
	}
	if err := ctx.Err(); err != nil {
		mat.Close()
		vc.Close()
		return err
	}

	c.mu.Lock()
	c.cap = vc
	c.mat = mat
	c.size = image.Pt(mat.Cols(), mat.Rows())
	c.mu.Unlock()
	return nil
}

func (c *Camera) Size() image.Point {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

func (c *Camera) Frame(ctx context.Context) (types.Frame, error) {
	if err := ctx.Err(); err != nil {
		return types.Frame{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cap == nil {
		return types.Frame{}, capture.ErrNoFrame
	}
	if ok := c.cap.Read(&c.mat); !ok || c.mat.Empty() {
		return types.Frame{}, capture.ErrNoFrame
	}

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, c.mat)
	if err != nil {
		return types.Frame{}, fmt.Errorf("failed to encode frame: %w", err)
	}
	defer buf.Close()

	c.seq++
	return types.Frame{
		Seq:    c.seq,
		Width:  c.mat.Cols(),
		Height: c.mat.Rows(),
		Data:   append([]byte(nil), buf.GetBytes()...),
	}, nil
}

func (c *Camera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cap == nil {
		return nil
	}
	c.mat.Close()
	err := c.cap.Close()
	c.cap = nil
	return err
}
