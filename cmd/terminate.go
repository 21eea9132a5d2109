package cmd

import (
	"github.com/spf13/cobra"
)

var terminateYes bool

// terminateCmd represents the terminate command
var terminateCmd = &cobra.Command{
	Use:   "terminate",
	Short: "Destroy the GPU instance",
	Long: `Terminate the instance, destroying its disk, and clear the recorded
identity. The accumulated cost record is kept for inspection. A later
deploy starts from a fresh instance.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, _, err := newManager(cmd.Context())
		if err != nil {
			return err
		}

		if err := confirm(cmd, terminateYes, "Terminate the instance? The disk is destroyed and cannot be recovered."); err != nil {
			return err
		}

		res, err := mgr.Terminate(cmd.Context())
		if err != nil {
			return err
		}
		summarize(cmd, res)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(terminateCmd)

	terminateCmd.Flags().BoolVarP(&terminateYes, "yes", "y", false, "Skip the confirmation prompt")
}
