package inference

import (
	"context"
	"fmt"
	"image"
	"sync"

	"go.uber.org/zap"

	"github.com/andresmejia3/facecam/internal/types"
	"github.com/andresmejia3/facecam/internal/utils"
	"github.com/andresmejia3/facecam/internal/worker"
)

// Worker delegates to an external inference process speaking the pipe protocol.
type Worker struct {
	command string
	logger  *zap.Logger

	mu sync.Mutex
	pw *worker.PipeWorker
	// newPipe adjusts a freshly started worker; tests use it to shorten the read timeout.
	newPipe func(*worker.PipeWorker)
}

// NewWorker returns an engine that starts command on Load.
func NewWorker(command string, logger *zap.Logger) *Worker {
	return &Worker{command: command, logger: logger}
}

func (w *Worker) Load(ctx context.Context) error {
	pw, err := w.start(ctx)
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.pw = pw
	w.mu.Unlock()
	return nil
}

func (w *Worker) start(ctx context.Context) (*worker.PipeWorker, error) {
	name, args, err := utils.SplitCommandLine(w.command)
	if err != nil {
		return nil, err
	}
	pw, err := worker.NewPipeWorker(ctx, name, args...)
	if err != nil {
		return nil, err
	}
	if w.newPipe != nil {
		w.newPipe(pw)
	}
	w.logger.Info("inference worker started", zap.String("command", w.command))
	return pw, nil
}

// Process exposes the child process so crash reports can include its stderr.
func (w *Worker) Process() *utils.SafeCommand {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pw == nil {
		return nil
	}
	return w.pw.Cmd
}

func (w *Worker) detect(ctx context.Context, img []byte, mode string, minConfidence float64) ([]types.Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pw == nil {
		return nil, ErrNotLoaded
	}
	if w.pw.Stalled() {
		w.logger.Warn("restarting stalled inference worker", zap.String("command", w.command))
		w.pw.Close()
		pw, err := w.start(ctx)
		if err != nil {
			w.pw = nil
			return nil, fmt.Errorf("failed to restart worker: %w", err)
		}
		w.pw = pw
	}

	faces, err := w.pw.Detect(img, mode, minConfidence)
	if err != nil {
		return nil, err
	}
	return convertWorkerFaces(faces, minConfidence)
}

func convertWorkerFaces(faces []types.WorkerFace, minConfidence float64) ([]types.Detection, error) {
	dets := make([]types.Detection, 0, len(faces))
	for _, f := range faces {
		if len(f.Box) != 4 {
			return nil, fmt.Errorf("worker returned a box with %d coordinates", len(f.Box))
		}
		desc, err := types.DescriptorFrom(f.Vec)
		if err != nil {
			return nil, fmt.Errorf("worker descriptor of length %d: %w", len(f.Vec), err)
		}
		det := types.Detection{
			Box:        image.Rect(f.Box[0], f.Box[1], f.Box[2], f.Box[3]),
			Confidence: f.Score,
			Descriptor: desc,
		}
		for _, m := range f.Marks {
			det.Landmarks = append(det.Landmarks, image.Pt(m[0], m[1]))
		}
		dets = append(dets, det)
	}
	return FilterConfidence(dets, minConfidence), nil
}

func (w *Worker) DetectAll(ctx context.Context, img []byte, minConfidence float64) ([]types.Detection, error) {
	return w.detect(ctx, img, "all", minConfidence)
}

func (w *Worker) DetectSingle(ctx context.Context, img []byte, minConfidence float64) (*types.Detection, error) {
	dets, err := w.detect(ctx, img, "single", minConfidence)
	if err != nil {
		return nil, err
	}
	return Best(dets), nil
}

func (w *Worker) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pw == nil {
		return nil
	}
	err := w.pw.Close()
	w.pw = nil
	return err
}
