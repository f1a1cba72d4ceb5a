package cmd

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/facecam/internal/config"
	"github.com/andresmejia3/facecam/internal/utils"
)

var labelCmd = &cobra.Command{
	Use:   "label <identity_id> <name>",
	Short: "Rename an enrolled identity",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		id, err := strconv.Atoi(args[0])
		if err != nil {
			utils.ShowError("Invalid identity ID", err, nil)
			return err
		}
		return runLabel(cmd.Context(), id, args[1])
	},
}

func init() {
	rootCmd.AddCommand(labelCmd)
}

func runLabel(ctx context.Context, id int, name string) error {
	if err := config.ValidLabel(name); err != nil {
		utils.ShowError("Invalid label", err, nil)
		return err
	}
	if err := requireDB(); err != nil {
		utils.ShowError("Database required", err, nil)
		return err
	}

	if err := DB.RenameIdentity(ctx, id, strings.TrimSpace(name)); err != nil {
		utils.ShowError("Failed to label identity", err, nil)
		return err
	}

	fmt.Printf("✅ Identity %d labeled as '%s'\n", id, strings.TrimSpace(name))
	return nil
}
