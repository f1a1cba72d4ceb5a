package cmd

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/andresmejia3/facecam/internal/api"
	"github.com/andresmejia3/facecam/internal/capture"
	"github.com/andresmejia3/facecam/internal/config"
	"github.com/andresmejia3/facecam/internal/enroll"
	"github.com/andresmejia3/facecam/internal/inference"
	"github.com/andresmejia3/facecam/internal/render"
	"github.com/andresmejia3/facecam/internal/session"
	"github.com/andresmejia3/facecam/internal/types"
	"github.com/andresmejia3/facecam/internal/utils"
)

var watchOpts struct {
	Window   bool
	Snapshot string
	Listen   string
	FromDB   bool
	Record   bool
	Width    int
	Height   int
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Recognize faces on the live camera feed",
	Long: "Loads the models, opens the camera, enrolls the reference identities once and then " +
		"detects, matches and labels faces on a fixed interval until interrupted.\n\n" +
		"Without --window or --snapshot it runs headless and logs the recognized labels whenever the " +
		"faces in view change. Use --listen to follow every tick over HTTP.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runWatch(cmd.Context())
	},
}

func init() {
	addMatchFlags(watchCmd)
	watchCmd.Flags().StringVar(&flags.Device, "device", "0", "Camera index or path (gocv) or ffmpeg input")
	watchCmd.Flags().StringVar(&flags.Capture, "capture", config.CaptureGocv, "Capture driver: gocv, ffmpeg")
	watchCmd.Flags().DurationVarP(&flags.Interval, "interval", "n", 100*time.Millisecond, "Detection interval")
	watchCmd.Flags().BoolVarP(&watchOpts.Window, "window", "w", false, "Show the labeled feed in a window")
	watchCmd.Flags().StringVarP(&watchOpts.Snapshot, "snapshot", "o", "", "Write the labeled frame to this JPEG on every tick")
	watchCmd.Flags().StringVar(&watchOpts.Listen, "listen", "", "Serve the status API on this address (e.g. :8080)")
	watchCmd.Flags().BoolVar(&watchOpts.FromDB, "from-db", false, "Use the enrollment stored in the database instead of the reference images")
	watchCmd.Flags().BoolVar(&watchOpts.Record, "record", false, "Record recognized faces in the database")
	watchCmd.Flags().IntVar(&watchOpts.Width, "display-width", 0, "Overlay width (default: video width)")
	watchCmd.Flags().IntVar(&watchOpts.Height, "display-height", 0, "Overlay height (default: video height)")
	rootCmd.AddCommand(watchCmd)
}

func canvasFactory() (render.Factory, error) {
	if watchOpts.Window {
		return render.WindowFactory("facecam")
	}
	return render.ImageFactory(watchOpts.Snapshot), nil
}

func runWatch(ctx context.Context) error {
	if (watchOpts.FromDB || watchOpts.Record) && DB == nil {
		utils.ShowError("Database required", errNoDatabase, nil)
		return errNoDatabase
	}

	engine, err := inference.New(cfg, logger)
	if err != nil {
		utils.ShowError("Invalid inference backend", err, nil)
		return err
	}
	source, err := capture.New(cfg.Capture, logger)
	if err != nil {
		utils.ShowError("Invalid capture driver", err, nil)
		return err
	}
	canvas, err := canvasFactory()
	if err != nil {
		utils.ShowError("Invalid display", err, nil)
		return err
	}

	p := &session.Pipeline{
		Engine:        engine,
		Source:        source,
		Canvas:        canvas,
		Enroll:        watchEnrollment(engine),
		Threshold:     cfg.Match.Threshold,
		Strategy:      cfg.Match.Strategy,
		MinConfidence: cfg.Match.MinConfidence,
		Interval:      cfg.Loop.Interval,
		Display:       image.Pt(watchOpts.Width, watchOpts.Height),
		Logger:        logger,
		OnState: func(from, to session.State) {
			fmt.Fprintf(os.Stderr, "⚙️  %s\n", to)
		},
	}
	if watchOpts.Record {
		p.Sink = DB
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return p.Run(gctx)
	})
	if watchOpts.Listen != "" {
		var sightings api.SightingSource
		if DB != nil {
			sightings = DB
		}
		srv := api.NewServer(watchOpts.Listen, p, sightings, logger)
		g.Go(func() error {
			return srv.Run(gctx)
		})
	}

	err = g.Wait()
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		fmt.Fprintln(os.Stderr, "\n👋 Stopped.")
		return nil
	case errors.Is(err, capture.ErrCameraUnavailable):
		utils.ShowError("Camera unavailable", err, nil)
	default:
		showEngineError("Detection stopped", err, engine)
	}
	return err
}

// watchEnrollment returns the enrollment step of the pipeline: the stored descriptors with
// --from-db, otherwise the reference images.
func watchEnrollment(engine inference.Engine) session.EnrollFunc {
	return func(ctx context.Context) ([]types.Identity, error) {
		if watchOpts.FromDB {
			identities, err := DB.LoadEnrollment(ctx)
			if err != nil {
				return nil, err
			}
			logger.Info("loaded enrollment from database", zap.Int("identities", len(identities)))
			return identities, nil
		}

		res, err := enrollRoster(ctx, engine, os.Stderr)
		if err != nil {
			return nil, err
		}
		logSkipped(res)
		return res.Identities, nil
	}
}

func logSkipped(res *enroll.Result) {
	for _, it := range res.Skipped() {
		fmt.Fprintf(os.Stderr, "⚠️  Skipped %s (%s): %s\n", it.Path, it.Label, it.Reason)
	}
}
