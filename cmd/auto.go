package cmd

import (
	"github.com/spf13/cobra"
)

var autoYes bool

// autoCmd represents the auto command
var autoCmd = &cobra.Command{
	Use:   "auto",
	Short: "Make the instance usable with one command",
	Long: `Reconcile, then dispatch to exactly one operation based on what
exists: deploy when nothing does (or the instance was lost), start when
it is stopped, and a plain status report when it is already running.
Transitional states are waited out before deciding.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, _, err := newManager(cmd.Context())
		if err != nil {
			return err
		}

		if err := confirm(cmd, autoYes, "Bring the instance up, provisioning or starting as needed?"); err != nil {
			return err
		}

		res, err := mgr.Auto(cmd.Context())
		if err != nil {
			return err
		}
		summarize(cmd, res)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(autoCmd)

	autoCmd.Flags().BoolVarP(&autoYes, "yes", "y", false, "Skip the confirmation prompt")
}
