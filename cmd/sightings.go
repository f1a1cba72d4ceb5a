package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/facecam/internal/store"
	"github.com/andresmejia3/facecam/internal/utils"
)

var sightingsLimit int

var sightingsCmd = &cobra.Command{
	Use:   "sightings",
	Short: "Show the faces recognized by recorded watch sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runSightings(cmd.Context(), sightingsLimit)
	},
}

func init() {
	sightingsCmd.Flags().IntVarP(&sightingsLimit, "limit", "l", 20, "Number of sightings to show")
	rootCmd.AddCommand(sightingsCmd)
}

func runSightings(ctx context.Context, limit int) error {
	if err := requireDB(); err != nil {
		utils.ShowError("Database required", err, nil)
		return err
	}
	if limit <= 0 {
		err := fmt.Errorf("limit must be positive, got %d", limit)
		utils.ShowError("Invalid limit", err, nil)
		return err
	}

	sightings, err := DB.RecentSightings(ctx, limit)
	if err != nil {
		utils.ShowError("Failed to list sightings", err, nil)
		return err
	}
	if len(sightings) == 0 {
		fmt.Println("No sightings recorded. Run `facecam watch --record` first.")
		return nil
	}
	printSightings(os.Stdout, sightings)
	return nil
}

func printSightings(out io.Writer, sightings []store.Sighting) {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "SEEN\tLABEL\tDISTANCE\tSESSION")
	fmt.Fprintln(w, "----\t-----\t--------\t-------")
	for _, s := range sightings {
		fmt.Fprintf(w, "%s\t%s\t%.2f\t%s\n", s.SeenAt.Local().Format("2006-01-02 15:04:05"), s.Label, s.Distance, s.SessionID.String()[:8])
	}
	w.Flush()
}
