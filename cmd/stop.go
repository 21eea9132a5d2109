package cmd

import (
	"github.com/spf13/cobra"
)

var stopYes bool

// stopCmd represents the stop command
var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running GPU instance",
	Long: `Stop the running instance to pause billing. Disk contents survive a
stop, so a later start resumes with the same image and data. Stopping an
instance that is not running is a no-op.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, _, err := newManager(cmd.Context())
		if err != nil {
			return err
		}

		if err := confirm(cmd, stopYes, "Stop the instance?"); err != nil {
			return err
		}

		res, err := mgr.Stop(cmd.Context())
		if err != nil {
			return err
		}
		summarize(cmd, res)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(stopCmd)

	stopCmd.Flags().BoolVarP(&stopYes, "yes", "y", false, "Skip the confirmation prompt")
}
