package cmd

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/facecam/internal/enroll"
	"github.com/andresmejia3/facecam/internal/inference"
	"github.com/andresmejia3/facecam/internal/matcher"
	"github.com/andresmejia3/facecam/internal/render"
	"github.com/andresmejia3/facecam/internal/types"
	"github.com/andresmejia3/facecam/internal/utils"
)

var findCmd = &cobra.Command{
	Use:   "find <image_path>",
	Short: "Identify the faces in a still image",
	Long: "Detects every face in the image and labels it against the stored enrollment when a database " +
		"is configured, otherwise against the reference images.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runFind(cmd.Context(), args[0])
	},
}

func init() {
	addMatchFlags(findCmd)
	rootCmd.AddCommand(findCmd)
}

func runFind(ctx context.Context, imagePath string) error {
	raw, err := enroll.Fetch(ctx, http.DefaultClient, imagePath)
	if err == nil {
		raw, err = enroll.Prepare(raw, cfg.Enroll.MaxImageSide)
	}
	if err != nil {
		utils.ShowError("Failed to read image", err, nil)
		return err
	}

	engine, err := loadEngine(ctx)
	if err != nil {
		return err
	}
	defer engine.Close()

	fmt.Fprintln(os.Stderr, "🔍 Analyzing faces...")
	dets, err := engine.DetectAll(ctx, raw, cfg.Match.MinConfidence)
	if err != nil {
		showEngineError("AI processing failed", err, engine)
		return err
	}
	if len(dets) == 0 {
		fmt.Println("❌ No faces detected in the provided image.")
		return nil
	}

	var results []types.MatchResult
	if DB != nil {
		fmt.Fprintln(os.Stderr, "🗄️  Searching database...")
		results, err = matchStored(ctx, dets)
	} else {
		results, err = matchReferences(ctx, dets, engine)
	}
	if err != nil {
		showEngineError("Matching failed", err, engine)
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "\nFACE\tBOX\tRESULT")
	fmt.Fprintln(w, "----\t---\t------")
	for i, r := range results {
		b := r.Detection.Box
		fmt.Fprintf(w, "%d\t(%d,%d)-(%d,%d)\t%s\n", i+1, b.Min.X, b.Min.Y, b.Max.X, b.Max.Y, render.Caption(r))
	}
	w.Flush()
	return nil
}

// matchStored labels detections against the stored enrollment with the configured strategy. The
// nearest strategy runs as a pgvector search; mean needs every descriptor of an identity, so the
// enrollment is loaded and matched in memory as watch --from-db does.
func matchStored(ctx context.Context, dets []types.Detection) ([]types.MatchResult, error) {
	if cfg.Match.Strategy == matcher.StrategyNearest {
		return nearestStored(ctx, dets, cfg.Match.Threshold)
	}
	identities, err := DB.LoadEnrollment(ctx)
	if err != nil {
		return nil, err
	}
	m, err := matcher.New(identities, cfg.Match.Threshold, cfg.Match.Strategy)
	if err != nil {
		return nil, err
	}
	return matcher.Match(m, dets), nil
}

func nearestStored(ctx context.Context, dets []types.Detection, threshold float64) ([]types.MatchResult, error) {
	results := make([]types.MatchResult, 0, len(dets))
	for _, det := range dets {
		label, dist, ok, err := DB.Nearest(ctx, det.Descriptor)
		if err != nil {
			return nil, err
		}
		results = append(results, storedResult(det, label, dist, ok, threshold))
	}
	return results, nil
}

// storedResult applies the matcher's unknown rule to a database nearest-neighbour hit.
func storedResult(det types.Detection, label string, dist float64, ok bool, threshold float64) types.MatchResult {
	r := types.MatchResult{Detection: det, Label: label, Distance: dist, Outcome: types.OutcomeMatched}
	if !ok {
		r.Distance = math.Inf(1)
	}
	if !ok || dist >= threshold {
		r.Label, r.Outcome = types.UnknownLabel, types.OutcomeUnknown
	}
	return r
}

// matchReferences enrolls the reference images and matches with the configured strategy.
func matchReferences(ctx context.Context, dets []types.Detection, engine inference.Engine) ([]types.MatchResult, error) {
	res, err := enrollRoster(ctx, engine, os.Stderr)
	if err != nil {
		return nil, err
	}
	m, err := matcher.New(res.Identities, cfg.Match.Threshold, cfg.Match.Strategy)
	if err != nil {
		return nil, err
	}
	return matcher.Match(m, dets), nil
}
