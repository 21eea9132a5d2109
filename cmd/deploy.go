package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var deployYes bool

// deployCmd represents the deploy command
var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Provision a fresh GPU instance",
	Long: `Provision a new GPU instance from the prebuilt inference image, wait
for it to become healthy, and record its identity. Deploy refuses to run
while a live instance exists; stop or terminate it first.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, cfg, err := newManager(cmd.Context())
		if err != nil {
			return err
		}

		prompt := fmt.Sprintf("Provision a new %s instance in %s? This starts billing at $%.3f/h.",
			cfg.InstanceType, cfg.Region(), cfg.HourlyRate)
		if err := confirm(cmd, deployYes, prompt); err != nil {
			return err
		}

		res, err := mgr.Deploy(cmd.Context())
		if err != nil {
			return err
		}
		summarize(cmd, res)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(deployCmd)

	deployCmd.Flags().BoolVarP(&deployYes, "yes", "y", false, "Skip the confirmation prompt")
}
