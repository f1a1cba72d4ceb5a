package capture

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/jpeg"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/andresmejia3/facecam/internal/config"
)

func encodeJpeg(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, image.NewGray(image.Rect(0, 0, w, h)), nil))
	return buf.Bytes()
}

// streamSource returns an FFmpeg source whose decoder output is r.
func streamSource(r io.Reader) *FFmpeg {
	f := NewFFmpeg("test", "", 0, 0, zap.NewNop())
	f.start = func(ctx context.Context) (io.ReadCloser, error) {
		return io.NopCloser(r), nil
	}
	return f
}

func TestFFmpegOpenReportsFirstFrameSize(t *testing.T) {
	var stream bytes.Buffer
	stream.Write([]byte{0x00, 0x01}) // leading garbage
	stream.Write(encodeJpeg(t, 64, 48))

	// the pipe stays open so the stream is still live after Open
	pr, pw := io.Pipe()
	go func() {
		pw.Write(stream.Bytes())
	}()

	f := streamSource(pr)
	require.NoError(t, f.Open(context.Background()))
	assert.Equal(t, image.Pt(64, 48), f.Size())

	frame, err := f.Frame(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), frame.Seq)
	assert.Equal(t, 64, frame.Width)
	assert.Equal(t, 48, frame.Height)

	pw.Close()
	require.NoError(t, f.Close())
	_, err = f.Frame(context.Background())
	assert.ErrorIs(t, err, ErrStreamEnded)
}

func TestFFmpegKeepsLatestFrame(t *testing.T) {
	pr, pw := io.Pipe()
	f := streamSource(pr)

	go func() {
		pw.Write(encodeJpeg(t, 32, 32))
	}()
	require.NoError(t, f.Open(context.Background()))

	second := encodeJpeg(t, 16, 8)
	_, err := pw.Write(second)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		frame, err := f.Frame(context.Background())
		return err == nil && frame.Seq == 2
	}, time.Second, 5*time.Millisecond)

	frame, err := f.Frame(context.Background())
	require.NoError(t, err)
	assert.Equal(t, second, frame.Data)
	assert.Equal(t, image.Pt(32, 32), f.Size(), "intrinsic size is fixed by the first frame")

	pw.Close()
	require.NoError(t, f.Close())
}

func TestFFmpegOpenFailsWithoutFrames(t *testing.T) {
	f := streamSource(bytes.NewReader([]byte("no jpeg here")))
	err := f.Open(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCameraUnavailable)
}

func TestFFmpegOpenStartFailure(t *testing.T) {
	f := NewFFmpeg("test", "", 0, 0, zap.NewNop())
	f.start = func(ctx context.Context) (io.ReadCloser, error) {
		return nil, errors.New("exec: ffmpeg not found")
	}
	err := f.Open(context.Background())
	assert.ErrorIs(t, err, ErrCameraUnavailable)
	assert.Contains(t, err.Error(), "ffmpeg not found")
}

func TestFFmpegOpenCancelled(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	f := streamSource(pr)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	go func() {
		// unblock the reader once Open has given up
		time.Sleep(10 * time.Millisecond)
		pw.Close()
	}()
	assert.ErrorIs(t, f.Open(ctx), context.Canceled)
}

func TestFrameBeforeOpen(t *testing.T) {
	f := NewFFmpeg("test", "", 0, 0, zap.NewNop())
	_, err := f.Frame(context.Background())
	assert.ErrorIs(t, err, ErrNoFrame)
}

func TestNew(t *testing.T) {
	src, err := New(config.CaptureConfig{Driver: config.CaptureFFmpeg, Device: "/dev/video0", Format: "v4l2"}, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &FFmpeg{}, src)

	_, err = New(config.CaptureConfig{Driver: "browser"}, zap.NewNop())
	assert.ErrorContains(t, err, "not available")
}

func TestRegister(t *testing.T) {
	var got config.CaptureConfig
	Register("test-driver", func(cfg config.CaptureConfig, logger *zap.Logger) Source {
		got = cfg
		return NewFFmpeg(cfg.Device, "", 0, 0, logger)
	})

	src, err := New(config.CaptureConfig{Driver: "test-driver", Device: "cam"}, zap.NewNop())
	require.NoError(t, err)
	assert.NotNil(t, src)
	assert.Equal(t, "cam", got.Device)
}
