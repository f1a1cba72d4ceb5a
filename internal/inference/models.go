package inference

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DlibModels are the three pretrained files the dlib backend needs: the CNN face detector, the
// landmark shape predictor and the ResNet recognition net.
var DlibModels = []string{
	"mmod_human_face_detector.dat",
	"shape_predictor_5_face_landmarks.dat",
	"dlib_face_recognition_resnet_model_v1.dat",
}

// ModelLoader makes sure every model file is present in Dir, downloading missing ones from
// BaseURI when it is set.
type ModelLoader struct {
	Dir     string
	BaseURI string
	Files   []string
	Client  *http.Client
	Logger  *zap.Logger
}

// NewModelLoader returns a loader for the dlib model set.
func NewModelLoader(dir, baseURI string, logger *zap.Logger) *ModelLoader {
	return &ModelLoader{
		Dir:     dir,
		BaseURI: baseURI,
		Files:   DlibModels,
		Client:  http.DefaultClient,
		Logger:  logger,
	}
}

// Ensure resolves all model files concurrently.
func (l *ModelLoader) Ensure(ctx context.Context) error {
	if err := os.MkdirAll(l.Dir, 0o755); err != nil {
		return fmt.Errorf("failed to create model directory: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, name := range l.Files {
		name := name
		g.Go(func() error {
			return l.ensureFile(ctx, name)
		})
	}
	return g.Wait()
}

func (l *ModelLoader) ensureFile(ctx context.Context, name string) error {
	path := filepath.Join(l.Dir, name)
	if info, err := os.Stat(path); err == nil && info.Size() > 0 {
		l.Logger.Debug("model present", zap.String("model", name))
		return nil
	}
	if l.BaseURI == "" {
		return fmt.Errorf("model %s not found in %s", name, l.Dir)
	}

	uri := strings.TrimSuffix(l.BaseURI, "/") + "/" + name
	l.Logger.Info("downloading model", zap.String("model", name), zap.String("uri", uri))
	if err := download(ctx, l.Client, uri, path); err != nil {
		return fmt.Errorf("failed to fetch model %s: %w", name, err)
	}
	return nil
}

// download streams uri into a temporary file next to dst and renames it into place,
// so an interrupted download never leaves a truncated model behind.
func download(ctx context.Context, client *http.Client, uri, dst string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), filepath.Base(dst)+".*.part")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dst)
}
