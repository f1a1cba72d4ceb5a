package capture

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	"io"
	"os/exec"
	"sync"

	"go.uber.org/zap"

	"github.com/andresmejia3/facecam/internal/types"
	"github.com/andresmejia3/facecam/internal/utils"
)

const megabyte = 1024 * 1024

// ErrStreamEnded is returned by Frame once the decoder has exited.
var ErrStreamEnded = errors.New("video stream ended")

// FFmpeg decodes any ffmpeg input (a v4l2 device, a file, an RTSP URL) into MJPEG frames and keeps
// the most recent one.
type FFmpeg struct {
	Input  string
	Format string
	Width  int
	Height int
	Logger *zap.Logger

	// start launches the decoder and returns its stdout. Replaced in tests.
	start func(ctx context.Context) (io.ReadCloser, error)

	mu      sync.Mutex
	cancel  context.CancelFunc
	cmd     *exec.Cmd
	stderr  bytes.Buffer
	latest  types.Frame
	size    image.Point
	ready   chan struct{}
	done    chan struct{}
	readErr error
}

// NewFFmpeg returns a source reading input through the ffmpeg binary.
func NewFFmpeg(input, format string, width, height int, logger *zap.Logger) *FFmpeg {
	f := &FFmpeg{Input: input, Format: format, Width: width, Height: height, Logger: logger}
	f.start = f.startProcess
	return f
}

func (f *FFmpeg) startProcess(ctx context.Context) (io.ReadCloser, error) {
	cmd := utils.NewFFmpegCmd(ctx, f.Input, f.Format, f.Width, f.Height)
	cmd.Stderr = &f.stderr

	out, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create ffmpeg stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}
	f.cmd = cmd
	return out, nil
}

// Open starts the decoder and waits for the first complete frame.
func (f *FFmpeg) Open(ctx context.Context) error {
	streamCtx, cancel := context.WithCancel(context.Background())
	out, err := f.start(streamCtx)
	if err != nil {
		cancel()
		return fmt.Errorf("%w: %v", ErrCameraUnavailable, err)
	}

	f.cancel = cancel
	f.ready = make(chan struct{})
	f.done = make(chan struct{})
	go f.read(out)

	select {
	case <-f.ready:
		return nil
	case <-f.done:
		select {
		case <-f.ready:
			return nil
		default:
		}
		f.Close()
		if f.readErr != nil {
			return fmt.Errorf("%w: %s: %v", ErrCameraUnavailable, f.Input, f.readErr)
		}
		return fmt.Errorf("%w: %s produced no frame", ErrCameraUnavailable, f.Input)
	case <-ctx.Done():
		f.Close()
		return ctx.Err()
	}
}

func (f *FFmpeg) read(out io.ReadCloser) {
	defer close(f.done)
	defer out.Close()

	scanner := bufio.NewScanner(out)
	scanner.Buffer(make([]byte, megabyte), 64*megabyte)
	scanner.Split(utils.SplitJpeg)

	var seq uint64
	for scanner.Scan() {
		data := append([]byte(nil), scanner.Bytes()...)
		cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
		if err != nil {
			if f.Logger != nil {
				f.Logger.Debug("dropping undecodable frame", zap.Error(err))
			}
			continue
		}

		seq++
		f.mu.Lock()
		f.latest = types.Frame{Seq: seq, Width: cfg.Width, Height: cfg.Height, Data: data}
		if seq == 1 {
			f.size = image.Pt(cfg.Width, cfg.Height)
			close(f.ready)
		}
		f.mu.Unlock()
	}

	err := scanner.Err()
	if f.cmd != nil {
		if waitErr := f.cmd.Wait(); err == nil && waitErr != nil {
			err = fmt.Errorf("%w: %s", waitErr, bytes.TrimSpace(f.stderr.Bytes()))
		}
	}
	f.mu.Lock()
	f.readErr = err
	f.mu.Unlock()
}

func (f *FFmpeg) Size() image.Point {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.size
}

// Frame returns the most recent decoded frame.
func (f *FFmpeg) Frame(ctx context.Context) (types.Frame, error) {
	if err := ctx.Err(); err != nil {
		return types.Frame{}, err
	}
	if f.done != nil {
		select {
		case <-f.done:
			f.mu.Lock()
			defer f.mu.Unlock()
			if f.readErr != nil {
				return types.Frame{}, fmt.Errorf("%w: %v", ErrStreamEnded, f.readErr)
			}
			return types.Frame{}, ErrStreamEnded
		default:
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.latest.Seq == 0 {
		return types.Frame{}, ErrNoFrame
	}
	return f.latest, nil
}

func (f *FFmpeg) Close() error {
	if f.cancel != nil {
		f.cancel()
	}
	if f.done != nil {
		<-f.done
	}
	return nil
}
