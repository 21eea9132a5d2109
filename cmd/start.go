package cmd

import (
	"github.com/spf13/cobra"
)

var (
	startYes    bool
	startStrict bool
)

// startCmd represents the start command
var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the stopped GPU instance",
	Long: `Start the previously stopped instance and wait for it to become
healthy again. Starting an instance that is already running is a no-op
unless --strict is given. If no instance exists, run deploy instead.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, _, err := newManager(cmd.Context())
		if err != nil {
			return err
		}

		if err := confirm(cmd, startYes, "Start the instance? This resumes billing."); err != nil {
			return err
		}

		res, err := mgr.Start(cmd.Context())
		if err != nil {
			return err
		}
		summarize(cmd, res)
		if res.NoOp && startStrict {
			return errAlreadyRunning
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(startCmd)

	startCmd.Flags().BoolVarP(&startYes, "yes", "y", false, "Skip the confirmation prompt")
	startCmd.Flags().BoolVar(&startStrict, "strict", false, "Fail when the instance is already running")
}
