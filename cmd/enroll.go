package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var enrollCmd = &cobra.Command{
	Use:   "enroll",
	Short: "Compute the labeled descriptors of every reference image",
	Long: "Loads the reference images of each identity (./labels/{label}/{index}.jpg by default, or a YAML roster), " +
		"extracts one descriptor per image and reports the images that were skipped. " +
		"With a database configured the result is stored for `watch --from-db`.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runEnroll(cmd.Context())
	},
}

func init() {
	addMatchFlags(enrollCmd)
	rootCmd.AddCommand(enrollCmd)
}

func runEnroll(ctx context.Context) error {
	engine, err := loadEngine(ctx)
	if err != nil {
		return err
	}
	defer engine.Close()

	res, err := enrollRoster(ctx, engine, os.Stderr)
	if err != nil {
		showEngineError("Enrollment failed", err, engine)
		return err
	}

	fmt.Println()
	printItems(os.Stdout, res.Items)
	fmt.Println()
	printIdentities(os.Stdout, res.Identities)

	if DB == nil {
		fmt.Fprintln(os.Stderr, "ℹ️  No database configured, descriptors were not saved.")
	}
	return nil
}
