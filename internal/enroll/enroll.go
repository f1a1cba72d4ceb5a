// Package enroll builds the labeled descriptor collections from reference images.
package enroll

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/andresmejia3/facecam/internal/config"
	"github.com/andresmejia3/facecam/internal/inference"
	"github.com/andresmejia3/facecam/internal/types"
)

// ErrNoFace is recorded on items whose image contains no face above the confidence floor.
var ErrNoFace = errors.New("no face detected")

// Enroller computes descriptors for every reference image of a roster.
type Enroller struct {
	Engine        inference.Engine
	MinConfidence float64
	MaxImageSide  int
	Concurrency   int
	Logger        *zap.Logger
	// Progress receives a progress bar when set.
	Progress io.Writer
	Client   *http.Client
}

// Result is the outcome of an enrollment run.
type Result struct {
	// Identities has one entry per roster label, in roster order.
	Identities []types.Identity
	Items      []types.EnrollItem
}

// Skipped returns the items that did not contribute a descriptor.
func (r *Result) Skipped() []types.EnrollItem {
	var out []types.EnrollItem
	for _, it := range r.Items {
		if it.Status == types.ItemSkipped {
			out = append(out, it)
		}
	}
	return out
}

// New creates an Enroller from the enrollment settings.
func New(engine inference.Engine, cfg config.EnrollConfig, minConfidence float64, logger *zap.Logger) *Enroller {
	return &Enroller{
		Engine:        engine,
		MinConfidence: minConfidence,
		MaxImageSide:  cfg.MaxImageSide,
		Concurrency:   cfg.Concurrency,
		Logger:        logger,
		Client:        &http.Client{Timeout: 30 * time.Second},
	}
}

// Enroll processes the roster once. Per image failures become skipped items, only cancellation of
// ctx aborts the run.
func (e *Enroller) Enroll(ctx context.Context, roster *config.Roster) (*Result, error) {
	identities := make([]types.Identity, len(roster.Identities))
	items := make([][]types.EnrollItem, len(roster.Identities))

	var bar *progressbar.ProgressBar
	if e.Progress != nil {
		bar = progressbar.NewOptions(roster.Count(),
			progressbar.OptionSetDescription("📸 Enrolling"),
			progressbar.OptionSetWriter(e.Progress),
			progressbar.OptionShowCount(),
		)
	}

	g, gctx := errgroup.WithContext(ctx)
	if e.Concurrency > 0 {
		g.SetLimit(e.Concurrency)
	}
	for i, entry := range roster.Identities {
		i, entry := i, entry
		g.Go(func() error {
			id, its, err := e.enrollIdentity(gctx, entry, bar)
			identities[i] = id
			items[i] = its
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if bar != nil {
		bar.Finish()
	}

	res := &Result{Identities: identities}
	for _, its := range items {
		res.Items = append(res.Items, its...)
	}
	e.Logger.Info("enrollment complete",
		zap.Int("identities", len(identities)),
		zap.Int("images", len(res.Items)),
		zap.Int("skipped", len(res.Skipped())),
	)
	return res, nil
}

func (e *Enroller) enrollIdentity(ctx context.Context, entry config.RosterEntry, bar *progressbar.ProgressBar) (types.Identity, []types.EnrollItem, error) {
	id := types.Identity{Label: entry.Label}
	items := make([]types.EnrollItem, 0, len(entry.Images))

	for _, path := range entry.Images {
		if err := ctx.Err(); err != nil {
			return id, items, err
		}

		item := e.enrollImage(ctx, entry.Label, path, &id)
		if err := ctx.Err(); err != nil {
			return id, items, err
		}
		items = append(items, item)
		if bar != nil {
			bar.Add(1)
		}
	}

	if len(id.Descriptors) == 0 {
		e.Logger.Warn("identity has no usable reference image and will never be matched", zap.String("label", entry.Label))
	}
	return id, items, nil
}

func (e *Enroller) enrollImage(ctx context.Context, label, path string, id *types.Identity) types.EnrollItem {
	item := types.EnrollItem{Label: label, Path: path, Status: types.ItemSkipped}
	log := e.Logger.With(zap.String("label", label), zap.String("path", path))

	raw, err := Fetch(ctx, e.Client, path)
	if err == nil {
		raw, err = Prepare(raw, e.MaxImageSide)
	}
	if err != nil {
		log.Error("failed to load reference image", zap.Error(err))
		item.Reason, item.Err = types.ReasonFetch, err
		return item
	}

	det, err := e.Engine.DetectSingle(ctx, raw, e.MinConfidence)
	if err != nil {
		log.Error("detection failed on reference image", zap.Error(err))
		item.Reason, item.Err = types.ReasonDetect, err
		return item
	}
	if det == nil {
		log.Warn("no face detected in reference image", zap.Float64("min_confidence", e.MinConfidence))
		item.Reason, item.Err = types.ReasonNoFace, ErrNoFace
		return item
	}

	id.Descriptors = append(id.Descriptors, det.Descriptor)
	item.Status = types.ItemEnrolled
	log.Debug("reference image enrolled", zap.Float64("confidence", det.Confidence))
	return item
}

// Fetch reads a reference image from a local path or an http(s) URL.
func Fetch(ctx context.Context, client *http.Client, path string) ([]byte, error) {
	if !strings.HasPrefix(path, "http://") && !strings.HasPrefix(path, "https://") {
		return os.ReadFile(path)
	}
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: %s", path, resp.Status)
	}
	return io.ReadAll(resp.Body)
}

// Prepare decodes an image honoring its EXIF orientation, shrinks it to fit maxSide and re-encodes
// it as JPEG. A non-positive maxSide keeps the original size.
func Prepare(data []byte, maxSide int) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	if maxSide > 0 {
		img = imaging.Fit(img, maxSide, maxSide, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(95)); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}
	return buf.Bytes(), nil
}
