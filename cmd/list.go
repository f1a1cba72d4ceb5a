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

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all enrolled identities in the database",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runList(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList(ctx context.Context) error {
	if err := requireDB(); err != nil {
		utils.ShowError("Database required", err, nil)
		return err
	}

	identities, err := DB.ListIdentities(ctx)
	if err != nil {
		utils.ShowError("Failed to list identities", err, nil)
		return err
	}

	if len(identities) == 0 {
		fmt.Println("No identities found in database.")
		return nil
	}
	printSummaries(os.Stdout, identities)
	return nil
}

func printSummaries(out io.Writer, identities []store.IdentitySummary) {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "ID\tLABEL\tDESCRIPTORS\tSIGHTINGS\tLAST SEEN\tCREATED")
	fmt.Fprintln(w, "--\t-----\t-----------\t---------\t---------\t-------")

	for _, id := range identities {
		lastSeen := "never"
		if id.LastSeen != nil {
			lastSeen = id.LastSeen.Local().Format("2006-01-02 15:04")
		}
		fmt.Fprintf(w, "%d\t%s\t%d\t%d\t%s\t%s\n", id.ID, id.Label, id.Descriptors, id.Sightings, lastSeen, id.CreatedAt.Local().Format("2006-01-02 15:04"))
	}
	w.Flush()
}
