package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/davidbmar/nvidia-parakeet-ver-5-sub001/internal/state"
)

var (
	statusBrief bool
	statusJSON  bool
)

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report the reconciled instance state",
	Long: `Reconcile the recorded instance identity against provider truth and
report the result: lifecycle state, instance details, health probe
results and the accumulated cost estimate. Read-only with respect to the
cloud provider.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, _, err := newManager(cmd.Context())
		if err != nil {
			return err
		}

		res, err := mgr.Status(cmd.Context())
		if err != nil {
			return err
		}

		switch {
		case statusJSON:
			data, err := json.MarshalIndent(res, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
		case statusBrief:
			fmt.Fprintln(cmd.OutOrStdout(), res.State)
		default:
			summarize(cmd, res)
		}

		if res.State == state.StateNone {
			return errNoInstance
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().BoolVar(&statusBrief, "brief", false, "Print only the lifecycle state")
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Print the full result as JSON")
}
