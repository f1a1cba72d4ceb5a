// Package dlib runs detection and recognition in-process through go-face. Importing it registers
// the dlib inference backend.
package dlib

import (
	"context"
	"fmt"
	"sync"

	"github.com/Kagami/go-face"
	"go.uber.org/zap"

	"github.com/andresmejia3/facecam/internal/config"
	"github.com/andresmejia3/facecam/internal/inference"
	"github.com/andresmejia3/facecam/internal/types"
)

func init() {
	inference.Register(config.BackendDlib, func(cfg *config.Config, logger *zap.Logger) inference.Engine {
		loader := inference.NewModelLoader(cfg.Models.Dir, cfg.Models.URI, logger)
		return New(loader, cfg.Models.CNN, logger)
	})
}

// Engine is the go-face backed inference engine.
type Engine struct {
	loader *inference.ModelLoader
	cnn    bool
	logger *zap.Logger

	// go-face recognizers are not safe for concurrent use.
	mu  sync.Mutex
	rec *face.Recognizer
}

// New returns an engine that loads its models through loader. With cnn set the slower but
// more accurate CNN detector is used instead of HOG.
func New(loader *inference.ModelLoader, cnn bool, logger *zap.Logger) *Engine {
	return &Engine{loader: loader, cnn: cnn, logger: logger}
}

func (d *Engine) Load(ctx context.Context) error {
	if err := d.loader.Ensure(ctx); err != nil {
		return err
	}

	rec, err := face.NewRecognizer(d.loader.Dir)
	if err != nil {
		return fmt.Errorf("failed to load dlib models: %w", err)
	}

	d.mu.Lock()
	d.rec = rec
	d.mu.Unlock()

	d.logger.Info("dlib models loaded", zap.String("dir", d.loader.Dir), zap.Bool("cnn", d.cnn))
	return nil
}

func (d *Engine) DetectAll(ctx context.Context, img []byte, minConfidence float64) ([]types.Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.rec == nil {
		return nil, inference.ErrNotLoaded
	}

	var faces []face.Face
	var err error
	if d.cnn {
		faces, err = d.rec.RecognizeCNN(img)
	} else {
		faces, err = d.rec.Recognize(img)
	}
	if err != nil {
		return nil, fmt.Errorf("face detection failed: %w", err)
	}

	dets := make([]types.Detection, 0, len(faces))
	for _, f := range faces {
		dets = append(dets, types.Detection{
			Box: f.Rectangle,
			// go-face doesn't report a detection score; its detectors already apply their own cut-off.
			Confidence: 1.0,
			Landmarks:  f.Shapes,
			Descriptor: types.Descriptor(f.Descriptor),
		})
	}
	return inference.FilterConfidence(dets, minConfidence), nil
}

func (d *Engine) DetectSingle(ctx context.Context, img []byte, minConfidence float64) (*types.Detection, error) {
	dets, err := d.DetectAll(ctx, img, minConfidence)
	if err != nil {
		return nil, err
	}
	return inference.Best(dets), nil
}

func (d *Engine) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.rec != nil {
		d.rec.Close()
		d.rec = nil
	}
	return nil
}
