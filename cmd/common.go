package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"go.uber.org/zap"

	"github.com/andresmejia3/facecam/internal/enroll"
	"github.com/andresmejia3/facecam/internal/inference"
	"github.com/andresmejia3/facecam/internal/types"
	"github.com/andresmejia3/facecam/internal/utils"
)

// showEngineError prints a framed error, with the worker logs when the backend is a process.
func showEngineError(context string, err error, engine inference.Engine) {
	if w, ok := engine.(*inference.Worker); ok {
		utils.ShowError(context, err, w.Process())
		return
	}
	utils.ShowError(context, err, nil)
}

// loadEngine builds and loads the configured backend.
func loadEngine(ctx context.Context) (inference.Engine, error) {
	engine, err := inference.New(cfg, logger)
	if err != nil {
		utils.ShowError("Invalid inference backend", err, nil)
		return nil, err
	}

	fmt.Fprintln(os.Stderr, "🚀 Starting AI Engine...")
	if err := engine.Load(ctx); err != nil {
		showEngineError("Failed to load models", err, engine)
		engine.Close()
		return nil, err
	}
	return engine, nil
}

// enrollRoster enrolls the configured roster with engine. When a database is configured the
// result is saved so later runs can start with --from-db.
func enrollRoster(ctx context.Context, engine inference.Engine, progress io.Writer) (*enroll.Result, error) {
	roster, err := cfg.Enroll.Roster()
	if err != nil {
		return nil, fmt.Errorf("failed to load roster: %w", err)
	}

	e := enroll.New(engine, cfg.Enroll, cfg.Match.MinConfidence, logger)
	e.Progress = progress
	res, err := e.Enroll(ctx, roster)
	if err != nil {
		return nil, err
	}

	if DB != nil {
		if err := DB.SaveEnrollment(ctx, res.Identities, res.Items); err != nil {
			return nil, fmt.Errorf("failed to save enrollment: %w", err)
		}
		logger.Info("enrollment saved", zap.Int("identities", len(res.Identities)))
	}
	return res, nil
}

func printItems(w io.Writer, items []types.EnrollItem) {
	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	fmt.Fprintln(tw, "LABEL\tIMAGE\tSTATUS\tREASON")
	fmt.Fprintln(tw, "-----\t-----\t------\t------")
	for _, it := range items {
		status, reason := "✅ enrolled", "-"
		if it.Status == types.ItemSkipped {
			status, reason = "⚠️  skipped", string(it.Reason)
			if it.Err != nil {
				reason += ": " + it.Err.Error()
			}
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", it.Label, it.Path, status, reason)
	}
	tw.Flush()
}

func printIdentities(w io.Writer, identities []types.Identity) {
	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	fmt.Fprintln(tw, "LABEL\tDESCRIPTORS\tMATCHABLE")
	fmt.Fprintln(tw, "-----\t-----------\t---------")
	for _, id := range identities {
		matchable := "yes"
		if len(id.Descriptors) == 0 {
			matchable = "no"
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\n", id.Label, len(id.Descriptors), matchable)
	}
	tw.Flush()
}
